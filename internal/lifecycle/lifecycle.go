// Package lifecycle builds higher-level orchestration on top of
// object.LegalTransition: completion eligibility and cascade delete
// with its protected-object policy.
package lifecycle

import (
	"path/filepath"

	"github.com/trellis-mcp/trellis-go/internal/object"
	"github.com/trellis-mcp/trellis-go/internal/pathresolver"
	"github.com/trellis-mcp/trellis-go/internal/trellerr"
)

// CanComplete reports whether a task in status may be completed:
// completeTask only accepts tasks currently in-progress or review.
func CanComplete(status object.Status) bool {
	return status == object.StatusInProgress || status == object.StatusReview
}

// DescendantTask pairs a descendant task file with its parsed status, for
// CascadePlan's protected-object check.
type DescendantTask struct {
	Path   string
	Status object.Status
}

// CascadePlan is the outcome of evaluating a cascade delete: either the
// full list of files to remove, or a blocking error naming the protected
// descendant.
type CascadePlan struct {
	Files []string
}

// isProtectedStatus reports whether a task in this status blocks an
// unforced cascade delete: a descendant task that is in-progress or in
// review is active work in flight.
func isProtectedStatus(s object.Status) bool {
	return s == object.StatusInProgress || s == object.StatusReview
}

// PlanCascade evaluates whether deleting the object whose file is ownFile
// (kind, id) is allowed given its loaded descendant tasks, and if so
// returns the files of those descendants plus the object's own file.
// Non-task descendants are not in descendants and are therefore not in
// the plan. Unless force is true, any descendant task
// that is in-progress or in review blocks the delete with PROTECTED_OBJECT.
func PlanCascade(ownFile string, id string, kind object.Kind, descendants []DescendantTask, force bool) (*CascadePlan, *trellerr.Error) {
	if !force {
		for _, d := range descendants {
			if isProtectedStatus(d.Status) {
				return nil, trellerr.New(
					trellerr.ProtectedObject,
					"Cannot delete: active descendant task in progress or review",
				).WithObject(id, string(kind)).WithContext("blocking_task", d.Path)
			}
		}
	}

	files := make([]string, 0, len(descendants)+1)
	for _, d := range descendants {
		files = append(files, d.Path)
	}
	files = append(files, ownFile)
	return &CascadePlan{Files: files}, nil
}

// LoadDescendantTasks resolves every descendant task file under dir,
// classifying each by the status in its parsed header. Non-task
// descendants (nested epics, features) are walked through but not
// themselves reported; only task leaves matter to the protected-object
// check.
func LoadDescendantTasks(r *pathresolver.Resolver, kind object.Kind, dir string, headerOf func(path string) (object.Header, error)) ([]DescendantTask, error) {
	paths, err := r.Descendants(kind, dir)
	if err != nil {
		return nil, err
	}

	var out []DescendantTask
	for _, p := range paths {
		if filepath.Base(filepath.Dir(p)) != "tasks-open" && filepath.Base(filepath.Dir(p)) != "tasks-done" {
			continue
		}
		h, err := headerOf(p)
		if err != nil {
			continue
		}
		out = append(out, DescendantTask{Path: p, Status: h.Status})
	}
	return out, nil
}
