// Package tools implements the seven Trellis tool handlers: the public
// surface every transport binds to. Each handler wires together the
// lower-level components (security, object, markdown, pathresolver,
// childrencache, scanner, depgraph, lifecycle, kindinfer, scheduler) into
// one request/response operation, accumulating validation errors rather
// than stopping at the first one.
package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/trellis-mcp/trellis-go/internal/audit"
	"github.com/trellis-mcp/trellis-go/internal/childrencache"
	"github.com/trellis-mcp/trellis-go/internal/depgraph"
	"github.com/trellis-mcp/trellis-go/internal/idutil"
	"github.com/trellis-mcp/trellis-go/internal/kindinfer"
	"github.com/trellis-mcp/trellis-go/internal/lifecycle"
	"github.com/trellis-mcp/trellis-go/internal/markdown"
	"github.com/trellis-mcp/trellis-go/internal/object"
	"github.com/trellis-mcp/trellis-go/internal/pathresolver"
	"github.com/trellis-mcp/trellis-go/internal/scanner"
	"github.com/trellis-mcp/trellis-go/internal/scheduler"
	"github.com/trellis-mcp/trellis-go/internal/security"
	"github.com/trellis-mcp/trellis-go/internal/trellerr"
)

// Handlers bundles the dependencies every tool operation needs. None of
// them are process-wide singletons; callers construct one Handlers per
// planning root, so one process can serve more than one plan.
type Handlers struct {
	Root      string // resolution root: directly contains projects/ and tasks-*/
	Resolver  *pathresolver.Resolver
	Cache     *childrencache.Cache
	Validator *security.Validator
	Now       func() time.Time
}

// New constructs a Handlers rooted at resolutionRoot.
func New(resolutionRoot string, cache *childrencache.Cache, sink audit.Sink) *Handlers {
	if cache == nil {
		cache = childrencache.New(childrencache.DefaultMaxEntries)
	}
	return &Handlers{
		Root:      resolutionRoot,
		Resolver:  pathresolver.New(resolutionRoot),
		Cache:     cache,
		Validator: security.New(sink),
		Now:       time.Now,
	}
}

func (h *Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// Result is the common successful-operation payload: the object's clean
// id, its kind, file path, parsed header, and body.
type Result struct {
	CleanID string
	Kind    object.Kind
	Path    string
	Header  object.Header
	Body    string
}

func toResult(cleanID string, path string, f *markdown.File) Result {
	return Result{CleanID: cleanID, Kind: f.Header.Kind, Path: path, Header: f.Header, Body: f.Body}
}

// ---- createObject -----------------------------------------------------

// CreateParams is createObject's input.
type CreateParams struct {
	Kind          object.Kind
	Title         string
	ParentID      string // raw, possibly prefixed; required for epic/feature, optional for task
	Priority      string
	Prerequisites []string
	Body          string
	Extra         map[string]any // additional header fields, screened for privileged keys
}

// CreateObject mints a new object: generates a slugged id with collision
// suffixing, validates the header, checks for a prerequisite cycle before
// and after writing (rolling the file back if the post-write check finds
// one), and writes the new file with its default "### Log" body section.
func (h *Handlers) CreateObject(p CreateParams) (*Result, trellerr.List) {
	var errs trellerr.List

	if p.Title == "" {
		errs = append(errs, trellerr.MissingFields("title"))
	}
	if !containsKind(p.Kind) {
		errs = append(errs, trellerr.InvalidEnum("kind", string(p.Kind), kindNames()))
	}
	if privErrs := h.Validator.ValidatePrivilegedFields(p.Extra); len(privErrs) > 0 {
		errs = append(errs, privErrs...)
	}
	if len(errs) > 0 {
		return nil, errs
	}

	parentClean := idutil.CleanPrereq(p.ParentID)
	var parentDir string
	var parentKind object.Kind
	switch p.Kind {
	case object.KindProject:
		// no parent
	case object.KindEpic:
		parentKind = object.KindProject
		dir, ok := h.Resolver.FindProjectDir(parentClean)
		if !ok {
			return nil, trellerr.List{trellerr.New(trellerr.ParentNotExist, "Parent project does not exist").WithObject(p.ParentID, "project")}
		}
		parentDir = dir
	case object.KindFeature:
		parentKind = object.KindEpic
		dir, ok := h.Resolver.FindEpicDir(parentClean)
		if !ok {
			return nil, trellerr.List{trellerr.New(trellerr.ParentNotExist, "Parent epic does not exist").WithObject(p.ParentID, "epic")}
		}
		parentDir = dir
	case object.KindTask:
		if p.ParentID != "" {
			parentKind = object.KindFeature
			dir, ok := h.Resolver.FindFeatureDir(parentClean)
			if !ok {
				return nil, trellerr.List{trellerr.New(trellerr.ParentNotExist, "Parent feature does not exist").WithObject(p.ParentID, "feature")}
			}
			parentDir = dir
		}
	}

	newID := h.mintID(p.Kind, p.Title, parentDir)

	if secErr := h.Validator.ValidateID(newID); secErr != nil {
		return nil, trellerr.List{secErr}
	}

	var parentPrefixed string
	if parentKind != "" {
		parentPrefixed = idutil.Prefixed(parentClean, string(parentKind))
		if secErr := h.Validator.ValidateParent(parentPrefixed, object.CurrentSchemaVersion); secErr != nil {
			return nil, trellerr.List{secErr}
		}
	}

	now := h.now()
	header := object.Header{
		Kind:          p.Kind,
		ID:            idutil.Prefixed(newID, string(p.Kind)),
		Parent:        parentPrefixed,
		Status:        object.DefaultStatus(p.Kind),
		Title:         p.Title,
		Priority:      object.CanonicalizePriority(p.Priority),
		Prerequisites: scanner.CleanPrerequisites(p.Prerequisites),
		Created:       now,
		Updated:       now,
		SchemaVersion: object.CurrentSchemaVersion,
		Extra:         p.Extra,
	}

	if verrs := header.Validate(nil); len(verrs) > 0 {
		return nil, verrs
	}

	all := scanner.GetAllObjects(h.Root)
	g := depgraph.Build(all)
	hypo := g.WithHypothetical(newID, header.Prerequisites)
	if cycle := hypo.DetectCycle(); cycle != nil {
		return nil, trellerr.List{cycleError(newID, cycle)}
	}

	path := h.pathFor(p.Kind, newID, parentDir)
	if secErr := h.validatePathEscape(path); secErr != nil {
		return nil, trellerr.List{secErr}
	}
	body := p.Body
	if body == "" {
		body = "### Log\n\n"
	}
	if err := markdown.WriteFile(path, &markdown.File{Header: header, Body: body}); err != nil {
		return nil, trellerr.List{trellerr.New(trellerr.InvalidField, "Failed to write object file")}
	}

	all2 := scanner.GetAllObjects(h.Root)
	g2 := depgraph.Build(all2)
	if cycle := g2.DetectCycle(); cycle != nil {
		_ = os.Remove(path)
		return nil, trellerr.List{cycleError(newID, cycle)}
	}

	if parentDir != "" {
		h.Cache.Invalidate(parentDir)
	}

	return &Result{CleanID: newID, Kind: p.Kind, Path: path, Header: header, Body: body}, nil
}

func cycleError(id string, cycle []string) *trellerr.Error {
	return trellerr.New(trellerr.CircularDependency,
		fmt.Sprintf("Creating this dependency would introduce a cycle: %s", strings.Join(cycle, " -> "))).
		WithObject(id, "")
}

func containsKind(k object.Kind) bool {
	for _, v := range object.ValidKinds {
		if v == k {
			return true
		}
	}
	return false
}

func kindNames() []string {
	out := make([]string, len(object.ValidKinds))
	for i, k := range object.ValidKinds {
		out[i] = string(k)
	}
	return out
}

// mintID slugs title and appends a numeric suffix on collision, bounded
// by idutil.MaxNewIDLength.
func (h *Handlers) mintID(kind object.Kind, title, parentDir string) string {
	base := slugify(title)
	if len(base) > idutil.MaxNewIDLength {
		base = base[:idutil.MaxNewIDLength]
		base = strings.TrimRight(base, "-")
	}
	if base == "" {
		base = "object"
	}

	candidate := base
	for n := 2; ; n++ {
		if _, exists := h.Resolver.FindByKind(kind, candidate); !exists {
			return candidate
		}
		suffix := fmt.Sprintf("-%d", n)
		trimmed := base
		if max := idutil.MaxNewIDLength - len(suffix); len(trimmed) > max {
			trimmed = trimmed[:max]
		}
		candidate = trimmed + suffix
	}
}

func slugify(title string) string {
	return idutil.Normalize(title, "")
}

// validatePathEscape resolves path through any symlink and rejects it if
// the resolved target falls outside h.Root.
func (h *Handlers) validatePathEscape(path string) *trellerr.Error {
	return h.Validator.ValidateSymlinkEscape(h.Root, path, os.Readlink)
}

func (h *Handlers) pathFor(kind object.Kind, cleanID, parentDir string) string {
	switch kind {
	case object.KindProject:
		return h.Resolver.ProjectFile(cleanID)
	case object.KindEpic:
		epicDir := h.Resolver.EpicDir(parentDir, cleanID)
		return h.Resolver.EpicFile(epicDir)
	case object.KindFeature:
		featureDir := h.Resolver.FeatureDir(parentDir, cleanID)
		return h.Resolver.FeatureFile(featureDir)
	case object.KindTask:
		dir := parentDir
		if dir == "" {
			dir = h.Resolver.StandaloneTasksRoot()
		}
		return h.Resolver.TaskOpenFile(dir, cleanID)
	default:
		return ""
	}
}

// ---- getObject ----------------------------------------------------------

// GetObject resolves id (optionally kind-qualified) and returns its
// current header and body.
func (h *Handlers) GetObject(rawID string, kindHint object.Kind) (*Result, *trellerr.Error) {
	if secErr := h.Validator.ValidateID(rawID); secErr != nil {
		return nil, secErr
	}

	cleanID := idutil.CleanPrereq(rawID)
	kind := kindHint
	if kind == "" {
		inferred, err := kindinfer.Infer(h.Resolver, rawID, cleanID)
		if err != nil {
			return nil, err
		}
		kind = inferred
	}

	path, ok := h.Resolver.FindByKind(kind, cleanID)
	if !ok {
		return nil, trellerr.New(trellerr.InvalidField, "Object not found").WithObject(rawID, string(kind))
	}
	if secErr := h.validatePathEscape(path); secErr != nil {
		return nil, secErr
	}

	f, err := markdown.ReadFile(path)
	if err != nil {
		return nil, trellerr.New(trellerr.InvalidField, "Object file could not be parsed").WithObject(rawID, string(kind))
	}

	return ptr(toResult(cleanID, path, f)), nil
}

func ptr(r Result) *Result { return &r }

// ---- updateObject ---------------------------------------------------------

// UpdateParams is updateObject's input.
type UpdateParams struct {
	ID          string
	KindHint    object.Kind
	YAMLPatch   map[string]any
	BodyReplace *string
	Force       bool // required to cascade-delete a non-leaf object with active descendants
}

// DeletedResult reports a successful cascade delete.
type DeletedResult struct {
	RemovedFiles []string
}

// UpdateObject applies yamlPatch as a deep merge onto the current header,
// optionally replaces the body, re-validates (including the status
// transition rule and a dependency-cycle check when prerequisites
// changed), and persists the result. A patch setting status to "deleted"
// triggers cascade delete instead of a normal field update. Forbidden:
// setting a task's status directly to "done": that must go through
// CompleteTask.
func (h *Handlers) UpdateObject(p UpdateParams) (*Result, *DeletedResult, trellerr.List) {
	res, getErr := h.GetObject(p.ID, p.KindHint)
	if getErr != nil {
		return nil, nil, trellerr.List{getErr}
	}

	if privErrs := h.Validator.ValidatePrivilegedFields(p.YAMLPatch); len(privErrs) > 0 {
		return nil, nil, privErrs
	}

	if statusRaw, ok := p.YAMLPatch["status"].(string); ok && object.Status(statusRaw) == object.StatusDeleted {
		deleted, err := h.cascadeDelete(res, p.Force)
		if err != nil {
			return nil, nil, trellerr.List{err}
		}
		return nil, deleted, nil
	}

	if statusRaw, ok := p.YAMLPatch["status"].(string); ok && res.Kind == object.KindTask && object.Status(statusRaw) == object.StatusDone {
		return nil, nil, trellerr.List{trellerr.New(trellerr.InvalidStatusTransition,
			"Tasks may only reach 'done' through completeTask").WithObject(res.CleanID, "task")}
	}

	previous := res.Header.Status
	baseMap := headerToMap(res.Header)
	merged := object.DeepMerge(baseMap, p.YAMLPatch)

	newHeader := mapFromMerged(merged, res.Header)
	newHeader.Kind = res.Header.Kind
	newHeader.ID = res.Header.ID
	newHeader.Created = res.Header.Created
	newHeader.Updated = h.now()
	newHeader.SchemaVersion = res.Header.SchemaVersion

	if secErr := h.Validator.ValidateParent(newHeader.Parent, newHeader.SchemaVersion); secErr != nil {
		return nil, nil, trellerr.List{secErr}
	}

	if verrs := newHeader.Validate(&previous); len(verrs) > 0 {
		return nil, nil, verrs
	}

	prereqsChanged := !stringSlicesEqual(res.Header.Prerequisites, newHeader.Prerequisites)

	var preImage []byte
	if prereqsChanged {
		raw, _ := os.ReadFile(res.Path)
		preImage = raw
	}

	body := res.Body
	if p.BodyReplace != nil {
		body = *p.BodyReplace
	}

	if err := markdown.WriteFile(res.Path, &markdown.File{Header: newHeader, Body: body}); err != nil {
		return nil, nil, trellerr.List{trellerr.New(trellerr.InvalidField, "Failed to persist update").WithObject(res.CleanID, string(res.Kind))}
	}

	if prereqsChanged {
		all := scanner.GetAllObjects(h.Root)
		g := depgraph.Build(all)
		if cycle := g.DetectCycle(); cycle != nil {
			if preImage != nil {
				if werr := os.WriteFile(res.Path, preImage, 0o644); werr != nil {
					h.Validator.Sink.Record(audit.New("rollback_failure", "restore_pre_image_failed",
						map[string]string{"id": res.CleanID}, h.now()))
				}
			}
			return nil, nil, trellerr.List{cycleError(res.CleanID, cycle)}
		}
	}

	h.Cache.Invalidate(filepath.Dir(res.Path))

	return &Result{CleanID: res.CleanID, Kind: res.Kind, Path: res.Path, Header: newHeader, Body: body}, nil, nil
}

func (h *Handlers) cascadeDelete(res *Result, force bool) (*DeletedResult, *trellerr.Error) {
	dir := filepath.Dir(res.Path)
	descendants, err := lifecycle.LoadDescendantTasks(h.Resolver, res.Kind, dir, func(path string) (object.Header, error) {
		f, rerr := markdown.ReadFile(path)
		if rerr != nil {
			return object.Header{}, rerr
		}
		return f.Header, nil
	})
	if err != nil {
		return nil, trellerr.New(trellerr.CascadeError, "Failed to enumerate descendants").WithObject(res.CleanID, string(res.Kind))
	}

	if _, perr := lifecycle.PlanCascade(res.Path, res.CleanID, res.Kind, descendants, force); perr != nil {
		return nil, perr
	}

	// The plan covers descendant tasks only; remove every descendant file
	// (epics and features included) plus the object's own file.
	files, err := h.Resolver.Descendants(res.Kind, dir)
	if err != nil {
		return nil, trellerr.New(trellerr.CascadeError, "Failed to enumerate descendants").WithObject(res.CleanID, string(res.Kind))
	}
	files = append(files, res.Path)

	for _, f := range files {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			return nil, trellerr.New(trellerr.CascadeError, "Failed to remove "+f).WithObject(res.CleanID, string(res.Kind))
		}
	}
	h.Cache.Invalidate(dir)

	return &DeletedResult{RemovedFiles: files}, nil
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// headerToMap flattens a Header into the same shape a parsed yamlPatch
// arrives in, so DeepMerge can operate uniformly over both.
func headerToMap(h object.Header) map[string]any {
	m := map[string]any{
		"status":        string(h.Status),
		"title":         h.Title,
		"priority":      string(h.Priority),
		"prerequisites": toAnySlice(h.Prerequisites),
	}
	if h.Parent != "" {
		m["parent"] = h.Parent
	}
	if h.Worktree != "" {
		m["worktree"] = h.Worktree
	}
	for k, v := range h.Extra {
		m[k] = v
	}
	return m
}

// mapFromMerged reconstructs a Header from a merged map, using original
// as the source of any field the map does not mention.
func mapFromMerged(m map[string]any, original object.Header) object.Header {
	h := original
	if v, ok := m["status"].(string); ok {
		h.Status = object.Status(v)
	}
	if v, ok := m["title"].(string); ok {
		h.Title = v
	}
	if v, ok := m["priority"].(string); ok {
		h.Priority = object.CanonicalizePriority(v)
	}
	if v, ok := m["parent"].(string); ok {
		h.Parent = v
	}
	if v, ok := m["worktree"].(string); ok {
		h.Worktree = v
	}
	if v, ok := m["prerequisites"]; ok {
		h.Prerequisites = fromAnySlice(v)
	}

	extra := make(map[string]any)
	known := map[string]bool{
		"status": true, "title": true, "priority": true, "parent": true,
		"worktree": true, "prerequisites": true, "kind": true, "id": true,
		"created": true, "updated": true, "schema_version": true,
	}
	for k, v := range m {
		if !known[k] {
			extra[k] = v
		}
	}
	h.Extra = extra
	return h
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func fromAnySlice(v any) []string {
	switch vv := v.(type) {
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return vv
	default:
		return nil
	}
}

// ---- listBacklog ----------------------------------------------------------

// BacklogFilter narrows listBacklog's result set.
type BacklogFilter struct {
	Status object.Status // empty means any status
	Scope  string        // empty means every task
}

// ListBacklog returns every task matching filter, sorted by priority then
// creation order.
func (h *Handlers) ListBacklog(filter BacklogFilter) ([]Result, *trellerr.Error) {
	if filter.Scope != "" {
		if err := scheduler.ValidateParams(scheduler.Params{Scope: filter.Scope}); err != nil {
			return nil, err
		}
	}

	allMap := scanner.GetAllObjects(h.Root)
	candidates := scheduler.ScopeFilter(h.Resolver, allMap, filter.Scope)

	var out []Result
	for _, obj := range candidates {
		if filter.Status != "" && obj.Header.Status != filter.Status {
			continue
		}
		out = append(out, Result{CleanID: obj.CleanID, Kind: obj.Header.Kind, Path: obj.Path, Header: obj.Header})
	}

	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].Header.Priority.Rank(), out[j].Header.Priority.Rank()
		if ri != rj {
			return ri < rj
		}
		return out[i].Header.Created.Before(out[j].Header.Created)
	})

	return out, nil
}

// ---- claimNextTask ---------------------------------------------------------

// ClaimNextTask wraps the claim scheduler.
func (h *Handlers) ClaimNextTask(p scheduler.Params) (*Result, *trellerr.Error) {
	claimed, err := scheduler.ClaimNext(h.Root, h.Resolver, h.Cache, p, h.now())
	if err != nil {
		return nil, err
	}
	return &Result{CleanID: claimed.CleanID, Kind: object.KindTask, Path: claimed.Path, Header: claimed.Header}, nil
}

// ---- completeTask ---------------------------------------------------------

// CompleteTask marks a task done, appends a log entry (timestamp, summary,
// and a bullet list of changed files) to its body under "### Log", and
// moves it from tasks-open/ to tasks-done/ with a chronological filename
// prefix.
func (h *Handlers) CompleteTask(rawID, summary string, filesChanged []string) (*Result, *trellerr.Error) {
	res, err := h.GetObject(rawID, object.KindTask)
	if err != nil {
		return nil, err
	}
	if !lifecycle.CanComplete(res.Header.Status) {
		return nil, trellerr.New(trellerr.InvalidStatusTransition,
			"Task must be in-progress or review to complete").WithObject(res.CleanID, "task")
	}

	now := h.now()
	newHeader := res.Header
	newHeader.Status = object.StatusDone
	newHeader.Updated = now

	body := res.Body
	if summary != "" || len(filesChanged) > 0 {
		body = appendLogEntry(body, summary, filesChanged, now)
	}

	parentDir := filepath.Dir(filepath.Dir(res.Path)) // .../tasks-open -> parent
	newPath := h.Resolver.TaskDoneFile(parentDir, res.CleanID, now)
	if secErr := h.validatePathEscape(newPath); secErr != nil {
		return nil, secErr
	}

	if err := markdown.WriteFile(newPath, &markdown.File{Header: newHeader, Body: body}); err != nil {
		return nil, trellerr.New(trellerr.InvalidField, "Failed to write completed task").WithObject(res.CleanID, "task")
	}
	if err := os.Remove(res.Path); err != nil && !os.IsNotExist(err) {
		return nil, trellerr.New(trellerr.InvalidField, "Failed to remove open task file").WithObject(res.CleanID, "task")
	}

	h.Cache.Invalidate(parentDir)

	return &Result{CleanID: res.CleanID, Kind: object.KindTask, Path: newPath, Header: newHeader, Body: body}, nil
}

// appendLogEntry renders one completion record: a timestamped summary
// line followed by a bullet for each changed file, and appends it under
// the body's "### Log" heading (creating the heading if absent).
func appendLogEntry(body, summary string, filesChanged []string, at time.Time) string {
	const heading = "### Log"

	var b strings.Builder
	fmt.Fprintf(&b, "- %s: %s", at.Format("2006-01-02T15:04:05"), summary)
	for _, f := range filesChanged {
		fmt.Fprintf(&b, "\n  - %s", f)
	}
	entry := b.String()

	idx := strings.Index(body, heading)
	if idx < 0 {
		if body != "" && !strings.HasSuffix(body, "\n") {
			body += "\n"
		}
		return body + heading + "\n\n" + entry + "\n"
	}

	trimmed := strings.TrimRight(body, "\n")
	return trimmed + "\n" + entry + "\n"
}

// ---- getNextReviewableTask -------------------------------------------------

// GetNextReviewableTask returns the task in review with the oldest
// updated timestamp, breaking ties by priority, or nil if no task is
// awaiting review: an empty review queue is a normal outcome, not an
// error.
func (h *Handlers) GetNextReviewableTask() (*Result, *trellerr.Error) {
	tasks := scanner.ScanTasks(h.Root)

	var reviewing []scanner.Object
	for _, t := range tasks {
		if t.Header.Status == object.StatusReview {
			reviewing = append(reviewing, t)
		}
	}
	if len(reviewing) == 0 {
		return nil, nil
	}

	sort.SliceStable(reviewing, func(i, j int) bool {
		if !reviewing[i].Header.Updated.Equal(reviewing[j].Header.Updated) {
			return reviewing[i].Header.Updated.Before(reviewing[j].Header.Updated)
		}
		return reviewing[i].Header.Priority.Rank() < reviewing[j].Header.Priority.Rank()
	})

	picked := reviewing[0]
	return &Result{CleanID: picked.CleanID, Kind: object.KindTask, Path: picked.Path, Header: picked.Header}, nil
}
