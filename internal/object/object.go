// Package object defines the Trellis object model: the common header
// shared by every kind, per-kind required fields and status sets, the
// parent-presence rule, priority canonicalization, and the deep-merge
// used to apply a partial update to a header.
package object

import (
	"sort"
	"time"

	"github.com/trellis-mcp/trellis-go/internal/trellerr"
)

// Kind is one of the four object kinds.
type Kind string

const (
	KindProject Kind = "project"
	KindEpic    Kind = "epic"
	KindFeature Kind = "feature"
	KindTask    Kind = "task"
)

// ValidKinds lists every valid Kind, in declaration order, used both for
// enum membership checks and for rendering "Must be one of: [...]".
var ValidKinds = []Kind{KindProject, KindEpic, KindFeature, KindTask}

func (k Kind) valid() bool {
	for _, v := range ValidKinds {
		if v == k {
			return true
		}
	}
	return false
}

// Priority is the task/feature/epic/project priority enum.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// CanonicalizePriority applies the "medium" -> "normal" input
// canonicalization and defaults an empty value to "normal".
func CanonicalizePriority(raw string) Priority {
	switch raw {
	case "":
		return PriorityNormal
	case "medium":
		return PriorityNormal
	default:
		return Priority(raw)
	}
}

func (p Priority) valid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	default:
		return false
	}
}

// Rank returns the sort rank for priority-ordered selection: high=1,
// normal=2, low=3.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 3
	default:
		return 99
	}
}

// Status is a per-kind status value. The legal set depends on Kind; see
// StatusesFor.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusInProgress Status = "in-progress"
	StatusDone       Status = "done"
	StatusOpen       Status = "open"
	StatusReview     Status = "review"
	// StatusDeleted is the sentinel accepted only by an update patch to
	// trigger cascade delete; it is never a resting state.
	StatusDeleted Status = "deleted"
)

// StatusesFor returns the allowed status set for kind, in the canonical
// order used to render "Must be one of: ...".
func StatusesFor(kind Kind) []Status {
	switch kind {
	case KindProject, KindEpic, KindFeature:
		return []Status{StatusDraft, StatusInProgress, StatusDone}
	case KindTask:
		return []Status{StatusOpen, StatusInProgress, StatusReview, StatusDone}
	default:
		return nil
	}
}

func statusMemberOf(kind Kind, status Status) bool {
	for _, s := range StatusesFor(kind) {
		if s == status {
			return true
		}
	}
	return false
}

// DefaultStatus returns the initial status created objects get: "draft"
// for container kinds, "open" for tasks.
func DefaultStatus(kind Kind) Status {
	if kind == KindTask {
		return StatusOpen
	}
	return StatusDraft
}

// CurrentSchemaVersion is the schema_version literal new objects are
// stamped with.
const CurrentSchemaVersion = "1.1"

// Header is the common front-matter header shared by every object kind.
// ID and Parent are stored WITH their kind prefix, matching the on-disk
// encoding; callers wanting the clean id use idutil.Normalize.
type Header struct {
	Kind          Kind           `yaml:"kind"`
	ID            string         `yaml:"id"`
	Parent        string         `yaml:"parent,omitempty"`
	Status        Status         `yaml:"status"`
	Title         string         `yaml:"title"`
	Priority      Priority       `yaml:"priority"`
	Prerequisites []string       `yaml:"prerequisites"`
	Worktree      string         `yaml:"worktree,omitempty"`
	Created       time.Time      `yaml:"created"`
	Updated       time.Time      `yaml:"updated"`
	SchemaVersion string         `yaml:"schema_version"`
	Extra         map[string]any `yaml:"-"`
}

// Validate runs the full layered validation and returns every violation
// found, not just the first.
func (h *Header) Validate(previous *Status) trellerr.List {
	var errs trellerr.List

	var missing []string
	if h.Title == "" {
		missing = append(missing, "title")
	}
	if h.ID == "" {
		missing = append(missing, "id")
	}
	if len(missing) > 0 {
		errs = append(errs, trellerr.MissingFields(missing...))
	}

	if !h.Kind.valid() {
		errs = append(errs, trellerr.InvalidEnum("kind", string(h.Kind), kindStrings()))
		return errs // downstream checks all depend on a valid kind
	}

	if h.Priority != "" && !h.Priority.valid() {
		errs = append(errs, trellerr.InvalidEnum("priority", string(h.Priority), []string{"high", "normal", "low"}))
	}

	if err := h.validateParentRule(); err != nil {
		errs = append(errs, err)
	}

	if h.Status != "" && !statusMemberOf(h.Kind, h.Status) {
		errs = append(errs, trellerr.InvalidEnum(
			"status for "+string(h.Kind), string(h.Status), statusStrings(h.Kind),
		))
	}

	if previous != nil && h.Status != "" && statusMemberOf(h.Kind, h.Status) && statusMemberOf(h.Kind, *previous) {
		if !LegalTransition(h.Kind, *previous, h.Status) {
			errs = append(errs, trellerr.New(
				trellerr.InvalidStatusTransition,
				"Illegal status transition from '"+string(*previous)+"' to '"+string(h.Status)+"' for "+string(h.Kind),
			))
		}
	}

	return errs
}

// validateParentRule enforces the per-kind parent requirement: projects
// never have one, epics and features always do, tasks may or may not.
func (h *Header) validateParentRule() *trellerr.Error {
	switch h.Kind {
	case KindProject:
		if h.Parent != "" {
			return trellerr.New(trellerr.ParentInvalid, "Project objects must not have a parent")
		}
	case KindEpic, KindFeature:
		if h.Parent == "" {
			return trellerr.New(trellerr.ParentInvalid, string(h.Kind)+" objects require a parent")
		}
	case KindTask:
		// optional: absent parent means standalone
	}
	return nil
}

func kindStrings() []string {
	out := make([]string, len(ValidKinds))
	for i, k := range ValidKinds {
		out[i] = string(k)
	}
	return out
}

func statusStrings(kind Kind) []string {
	statuses := StatusesFor(kind)
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// Value is the small sum type used by DeepMerge: a scalar, a list, or a
// nested map. YAML-decoded patches naturally unmarshal into these Go types
// already (string/float64/bool/nil, []any, map[string]any), so Value is a
// documentation alias rather than a distinct wrapper.
type Value = any

// DeepMerge merges patch into base: nested maps merge recursively; any
// other value (scalar or list) in patch replaces the corresponding base
// value outright. base may be mutated; the merged map is returned for
// convenience.
func DeepMerge(base, patch map[string]any) map[string]any {
	if base == nil {
		base = make(map[string]any)
	}
	for k, pv := range patch {
		bv, exists := base[k]
		if !exists {
			base[k] = pv
			continue
		}
		pMap, pIsMap := pv.(map[string]any)
		bMap, bIsMap := bv.(map[string]any)
		if pIsMap && bIsMap {
			base[k] = DeepMerge(bMap, pMap)
			continue
		}
		base[k] = pv
	}
	return base
}

// SortedKeys returns the keys of m in sorted order; used by callers that
// need deterministic iteration over a merged patch map.
func SortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// containerEdges is the legal-transition adjacency for project/epic/feature:
// draft -> in-progress -> done, with draft -> done forbidden.
var containerEdges = map[Status][]Status{
	StatusDraft:      {StatusInProgress},
	StatusInProgress: {StatusDone},
	StatusDone:       {},
}

// taskEdges is the legal-transition adjacency for tasks: open ->
// in-progress -> review -> done, plus the in-progress <-> review
// bounce-back.
var taskEdges = map[Status][]Status{
	StatusOpen:       {StatusInProgress},
	StatusInProgress: {StatusReview},
	StatusReview:     {StatusInProgress, StatusDone},
	StatusDone:       {},
}

// LegalTransition reports whether moving kind's object from old to next is
// a legal single-edge transition. A status transitioning to itself is
// always legal (a no-op write, e.g. refreshing other fields without
// changing status).
func LegalTransition(kind Kind, old, next Status) bool {
	if old == next {
		return true
	}
	edges := taskEdges
	if kind != KindTask {
		edges = containerEdges
	}
	for _, candidate := range edges[old] {
		if candidate == next {
			return true
		}
	}
	return false
}
