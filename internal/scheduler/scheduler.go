// Package scheduler selects and atomically claims the next eligible
// task, honoring scope filters, a direct task id with optional force,
// and priority plus creation-order sorting.
package scheduler

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/trellis-mcp/trellis-go/internal/childrencache"
	"github.com/trellis-mcp/trellis-go/internal/idutil"
	"github.com/trellis-mcp/trellis-go/internal/markdown"
	"github.com/trellis-mcp/trellis-go/internal/object"
	"github.com/trellis-mcp/trellis-go/internal/pathresolver"
	"github.com/trellis-mcp/trellis-go/internal/scanner"
	"github.com/trellis-mcp/trellis-go/internal/trellerr"
)

// scopePattern validates a scope value: a project, epic, or feature
// prefix followed by a clean id.
var scopePattern = regexp.MustCompile(`^[PEF]-[A-Za-z0-9_-]+$`)

// Params carries claimNextTask's input, already schema-validated at the
// tool-handler boundary.
type Params struct {
	Worktree string
	Scope    string
	TaskID   string
	Force    bool
}

// Claimed describes a successfully claimed task.
type Claimed struct {
	CleanID string
	Path    string
	Header  object.Header
}

// ValidateParams enforces the mutual-exclusion and shape rules on Params
// before any selection work happens.
func ValidateParams(p Params) *trellerr.Error {
	if p.Scope != "" && p.TaskID != "" {
		return trellerr.New(trellerr.InvalidField, "scope and taskId are mutually exclusive")
	}
	if p.Force && p.TaskID == "" {
		return trellerr.New(trellerr.InvalidField, "force requires an explicit taskId")
	}
	if p.Scope != "" && !scopePattern.MatchString(p.Scope) {
		return trellerr.New(trellerr.InvalidField, fmt.Sprintf("Invalid scope '%s'", p.Scope))
	}
	return nil
}

// ClaimNext selects and claims the next eligible task under root,
// honoring p. now is the timestamp written to the claimed task's
// updated field, and, for cache invalidation, the parent directory of
// the claimed file.
func ClaimNext(root string, r *pathresolver.Resolver, cache *childrencache.Cache, p Params, now time.Time) (*Claimed, *trellerr.Error) {
	if err := ValidateParams(p); err != nil {
		return nil, err
	}

	all := scanner.GetAllObjects(root)

	if p.TaskID != "" {
		return claimByID(r, cache, all, p, now)
	}

	return claimByScope(r, cache, all, p, now)
}

func claimByID(r *pathresolver.Resolver, cache *childrencache.Cache, all map[string]scanner.Object, p Params, now time.Time) (*Claimed, *trellerr.Error) {
	cleanID := idutil.CleanPrereq(p.TaskID)
	obj, ok := all[cleanID]
	if !ok || obj.Header.Kind != object.KindTask {
		return nil, trellerr.New(trellerr.NoAvailableTask, "No such task").WithObject(p.TaskID, "task")
	}
	if !p.Force {
		if obj.Header.Status != object.StatusOpen {
			return nil, trellerr.New(trellerr.InvalidStatusTransition, "Task is not open").WithObject(cleanID, "task")
		}
		if incomplete := incompletePrereqs(all, obj.Header.Prerequisites); len(incomplete) > 0 {
			return nil, trellerr.New(trellerr.PrerequisitesIncomplete,
				"Task has incomplete prerequisites: "+strings.Join(incomplete, ", ")).WithObject(cleanID, "task")
		}
	}
	return commitClaim(r, cache, obj, p.Worktree, now)
}

func claimByScope(r *pathresolver.Resolver, cache *childrencache.Cache, all map[string]scanner.Object, p Params, now time.Time) (*Claimed, *trellerr.Error) {
	candidates := ScopeFilter(r, all, p.Scope)

	open := make([]scanner.Object, 0, len(candidates))
	for _, obj := range candidates {
		if obj.Header.Status == object.StatusOpen {
			open = append(open, obj)
		}
	}

	sort.SliceStable(open, func(i, j int) bool {
		ri, rj := open[i].Header.Priority.Rank(), open[j].Header.Priority.Rank()
		if ri != rj {
			return ri < rj
		}
		return open[i].Header.Created.Before(open[j].Header.Created)
	})

	for _, obj := range open {
		if incomplete := incompletePrereqs(all, obj.Header.Prerequisites); len(incomplete) == 0 {
			return commitClaim(r, cache, obj, p.Worktree, now)
		}
	}

	return nil, trellerr.New(trellerr.NoAvailableTask, "No eligible task found")
}

// ScopeFilter returns the candidate task set for scope. An empty scope
// means every task, hierarchical and standalone. A project scope
// includes standalone tasks alongside the project's own subtree, since
// standalone tasks belong to no project and are always fair game from
// a project-scoped claim. Epic and feature scopes are narrower: only
// tasks under that exact subtree qualify. Shared with listBacklog,
// which filters on the same scope semantics.
func ScopeFilter(r *pathresolver.Resolver, all map[string]scanner.Object, scope string) []scanner.Object {
	var tasks []scanner.Object
	for _, obj := range all {
		if obj.Header.Kind == object.KindTask {
			tasks = append(tasks, obj)
		}
	}
	if scope == "" {
		return tasks
	}

	kind, cleanScopeID := ScopeKind(scope)
	dir, ok := ScopeDir(r, kind, cleanScopeID)
	if !ok {
		return nil
	}

	var out []scanner.Object
	prefix := dir + string(filepath.Separator)
	for _, obj := range tasks {
		if strings.HasPrefix(obj.Path, prefix) {
			out = append(out, obj)
			continue
		}
		if kind == object.KindProject && IsStandalone(r, obj.Path) {
			out = append(out, obj)
		}
	}
	return out
}

// ScopeKind splits a scope value into its kind and clean id.
func ScopeKind(scope string) (object.Kind, string) {
	switch scope[0] {
	case 'P':
		return object.KindProject, scope[2:]
	case 'E':
		return object.KindEpic, scope[2:]
	default:
		return object.KindFeature, scope[2:]
	}
}

// ScopeDir resolves the directory a scope value names.
func ScopeDir(r *pathresolver.Resolver, kind object.Kind, cleanID string) (string, bool) {
	switch kind {
	case object.KindProject:
		return r.FindProjectDir(cleanID)
	case object.KindEpic:
		return r.FindEpicDir(cleanID)
	case object.KindFeature:
		return r.FindFeatureDir(cleanID)
	default:
		return "", false
	}
}

// IsStandalone reports whether taskPath sits directly under the
// resolution root's own tasks-*/ directories rather than under a
// project/epic/feature subtree.
func IsStandalone(r *pathresolver.Resolver, taskPath string) bool {
	return strings.HasPrefix(taskPath, r.StandaloneTasksRoot()+string(filepath.Separator)+"tasks-")
}

// incompletePrereqs returns the clean ids among prereqs whose recorded
// object is missing or not done.
func incompletePrereqs(all map[string]scanner.Object, prereqs []string) []string {
	var out []string
	for _, raw := range scanner.CleanPrerequisites(prereqs) {
		obj, ok := all[raw]
		if !ok || obj.Header.Status != object.StatusDone {
			out = append(out, raw)
		}
	}
	return out
}

func commitClaim(r *pathresolver.Resolver, cache *childrencache.Cache, obj scanner.Object, worktree string, now time.Time) (*Claimed, *trellerr.Error) {
	h := obj.Header
	h.Status = object.StatusInProgress
	h.Updated = now
	if worktree != "" {
		h.Worktree = worktree
	}

	if err := markdown.WriteHeaderPreservingBody(obj.Path, h, ""); err != nil {
		return nil, trellerr.New(trellerr.InvalidField, "Failed to persist claim").WithObject(obj.CleanID, "task")
	}
	if cache != nil {
		cache.Invalidate(filepath.Dir(obj.Path))
	}

	return &Claimed{CleanID: obj.CleanID, Path: obj.Path, Header: h}, nil
}
