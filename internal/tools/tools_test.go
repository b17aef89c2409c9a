package tools

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trellis-mcp/trellis-go/internal/object"
	"github.com/trellis-mcp/trellis-go/internal/scheduler"
	"github.com/trellis-mcp/trellis-go/internal/trellerr"
)

func newHandlers(t *testing.T) *Handlers {
	t.Helper()
	tmp := t.TempDir()
	h := New(tmp, nil, nil)
	h.Now = func() time.Time { return time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC) }
	return h
}

func TestCreateObject_Project(t *testing.T) {
	h := newHandlers(t)
	res, errs := h.CreateObject(CreateParams{Kind: object.KindProject, Title: "Web Platform"})
	require.Nil(t, errs)
	assert.Equal(t, "web-platform", res.CleanID)
	assert.Equal(t, object.StatusDraft, res.Header.Status)
	assert.Equal(t, "### Log\n\n", res.Body)
}

func TestCreateObject_CollisionSuffix(t *testing.T) {
	h := newHandlers(t)
	first, errs := h.CreateObject(CreateParams{Kind: object.KindProject, Title: "Web"})
	require.Nil(t, errs)
	second, errs2 := h.CreateObject(CreateParams{Kind: object.KindProject, Title: "Web"})
	require.Nil(t, errs2)
	assert.NotEqual(t, first.CleanID, second.CleanID)
	assert.Equal(t, "web-2", second.CleanID)
}

func TestCreateObject_MissingTitle(t *testing.T) {
	h := newHandlers(t)
	_, errs := h.CreateObject(CreateParams{Kind: object.KindProject})
	require.NotNil(t, errs)
}

func TestCreateObject_RejectsPrivilegedExtraField(t *testing.T) {
	h := newHandlers(t)
	_, errs := h.CreateObject(CreateParams{
		Kind: object.KindProject, Title: "Web",
		Extra: map[string]any{"system_admin": true},
	})
	require.NotNil(t, errs)
	assert.Equal(t, trellerr.InvalidField, errs[0].Code)
}

func TestCreateObject_EpicRequiresExistingParent(t *testing.T) {
	h := newHandlers(t)
	_, errs := h.CreateObject(CreateParams{Kind: object.KindEpic, Title: "Login", ParentID: "P-ghost"})
	require.NotNil(t, errs)
	assert.Equal(t, trellerr.ParentNotExist, errs.First().Code)
}

func TestCreateObject_FullHierarchyAndPrerequisiteCycle(t *testing.T) {
	h := newHandlers(t)
	project, errs := h.CreateObject(CreateParams{Kind: object.KindProject, Title: "Web"})
	require.Nil(t, errs)

	epic, errs := h.CreateObject(CreateParams{Kind: object.KindEpic, Title: "Login", ParentID: project.Header.ID})
	require.Nil(t, errs)

	feature, errs := h.CreateObject(CreateParams{Kind: object.KindFeature, Title: "OAuth", ParentID: epic.Header.ID})
	require.Nil(t, errs)

	taskA, errs := h.CreateObject(CreateParams{Kind: object.KindTask, Title: "Implement", ParentID: feature.Header.ID})
	require.Nil(t, errs)

	taskB, errs := h.CreateObject(CreateParams{
		Kind: object.KindTask, Title: "Review", ParentID: feature.Header.ID,
		Prerequisites: []string{taskA.CleanID},
	})
	require.Nil(t, errs)

	// Introducing a->b would create a cycle (b already depends on a).
	_, updateErrs := h.UpdateObject(UpdateParams{
		ID: taskA.CleanID, KindHint: object.KindTask,
		YAMLPatch: map[string]any{"prerequisites": []any{taskB.CleanID}},
	})
	require.NotNil(t, updateErrs)
	assert.Equal(t, trellerr.CircularDependency, updateErrs.First().Code)
}

func TestGetObject_ByCleanID_Infers(t *testing.T) {
	h := newHandlers(t)
	created, errs := h.CreateObject(CreateParams{Kind: object.KindProject, Title: "Infra"})
	require.Nil(t, errs)

	got, err := h.GetObject(created.CleanID, "")
	require.Nil(t, err)
	assert.Equal(t, object.KindProject, got.Kind)
}

func TestGetObject_NotFound(t *testing.T) {
	h := newHandlers(t)
	_, err := h.GetObject("ghost", object.KindProject)
	require.NotNil(t, err)
}

func TestGetObject_RejectsSymlinkEscapingRoot(t *testing.T) {
	h := newHandlers(t)

	outside := t.TempDir()
	secret := filepath.Join(outside, "secret.md")
	require.NoError(t, os.WriteFile(secret, []byte("kind: project\n"), 0o644))

	projectDir := filepath.Join(h.Root, "projects", "P-escape")
	require.NoError(t, os.MkdirAll(projectDir, 0o755))
	require.NoError(t, os.Symlink(secret, filepath.Join(projectDir, "project.md")))

	_, err := h.GetObject("escape", object.KindProject)
	require.NotNil(t, err)
	assert.Equal(t, trellerr.InvalidField, err.Code)
}

func TestUpdateObject_DeepMergesPatch(t *testing.T) {
	h := newHandlers(t)
	created, errs := h.CreateObject(CreateParams{Kind: object.KindProject, Title: "Infra"})
	require.Nil(t, errs)

	updated, _, updateErrs := h.UpdateObject(UpdateParams{
		ID: created.CleanID, KindHint: object.KindProject,
		YAMLPatch: map[string]any{"priority": "high"},
	})
	require.Nil(t, updateErrs)
	assert.Equal(t, object.PriorityHigh, updated.Header.Priority)
	assert.Equal(t, created.Header.Title, updated.Header.Title)
}

func TestUpdateObject_RejectsPrivilegedPatchField(t *testing.T) {
	h := newHandlers(t)
	created, errs := h.CreateObject(CreateParams{Kind: object.KindProject, Title: "Infra"})
	require.Nil(t, errs)

	_, _, updateErrs := h.UpdateObject(UpdateParams{
		ID: created.CleanID, KindHint: object.KindProject,
		YAMLPatch: map[string]any{"system_admin": true},
	})
	require.NotNil(t, updateErrs)
	assert.Equal(t, trellerr.InvalidField, updateErrs[0].Code)

	reread, getErr := h.GetObject(created.CleanID, object.KindProject)
	require.Nil(t, getErr)
	assert.NotContains(t, reread.Header.Extra, "system_admin")
}

func TestUpdateObject_ForbidsDirectTaskDone(t *testing.T) {
	h := newHandlers(t)
	task, errs := h.CreateObject(CreateParams{Kind: object.KindTask, Title: "Standalone"})
	require.Nil(t, errs)

	_, _, updateErrs := h.UpdateObject(UpdateParams{
		ID: task.CleanID, KindHint: object.KindTask,
		YAMLPatch: map[string]any{"status": "done"},
	})
	require.NotNil(t, updateErrs)
	assert.Equal(t, trellerr.InvalidStatusTransition, updateErrs.First().Code)
}

func TestUpdateObject_IllegalTransitionRejected(t *testing.T) {
	h := newHandlers(t)
	project, errs := h.CreateObject(CreateParams{Kind: object.KindProject, Title: "Infra"})
	require.Nil(t, errs)

	_, _, updateErrs := h.UpdateObject(UpdateParams{
		ID: project.CleanID, KindHint: object.KindProject,
		YAMLPatch: map[string]any{"status": "done"},
	})
	require.NotNil(t, updateErrs)
}

func TestUpdateObject_CascadeDelete_BlockedByActiveTask(t *testing.T) {
	h := newHandlers(t)
	project, errs := h.CreateObject(CreateParams{Kind: object.KindProject, Title: "Infra"})
	require.Nil(t, errs)
	epic, errs := h.CreateObject(CreateParams{Kind: object.KindEpic, Title: "Core", ParentID: project.Header.ID})
	require.Nil(t, errs)
	feature, errs := h.CreateObject(CreateParams{Kind: object.KindFeature, Title: "Build", ParentID: epic.Header.ID})
	require.Nil(t, errs)
	task, errs := h.CreateObject(CreateParams{Kind: object.KindTask, Title: "Work", ParentID: feature.Header.ID})
	require.Nil(t, errs)

	_, _, claimErrs := h.UpdateObject(UpdateParams{
		ID: task.CleanID, KindHint: object.KindTask,
		YAMLPatch: map[string]any{"status": "in-progress"},
	})
	require.Nil(t, claimErrs)

	_, _, delErrs := h.UpdateObject(UpdateParams{ID: feature.CleanID, KindHint: object.KindFeature, YAMLPatch: map[string]any{"status": "deleted"}})
	require.NotNil(t, delErrs)
	assert.Equal(t, trellerr.ProtectedObject, delErrs.First().Code)

	updatedResult, _, delErrs2 := h.UpdateObject(UpdateParams{
		ID: feature.CleanID, KindHint: object.KindFeature,
		YAMLPatch: map[string]any{"status": "deleted"}, Force: true,
	})
	require.Nil(t, delErrs2)
	assert.Nil(t, updatedResult)
}

func TestListBacklog_FiltersByStatusAndScope(t *testing.T) {
	h := newHandlers(t)
	project, errs := h.CreateObject(CreateParams{Kind: object.KindProject, Title: "Infra"})
	require.Nil(t, errs)
	_, errs = h.CreateObject(CreateParams{Kind: object.KindTask, Title: "Loose"})
	require.Nil(t, errs)
	epic, errs := h.CreateObject(CreateParams{Kind: object.KindEpic, Title: "Core", ParentID: project.Header.ID})
	require.Nil(t, errs)
	feature, errs := h.CreateObject(CreateParams{Kind: object.KindFeature, Title: "Build", ParentID: epic.Header.ID})
	require.Nil(t, errs)
	_, errs = h.CreateObject(CreateParams{Kind: object.KindTask, Title: "Scoped", ParentID: feature.Header.ID})
	require.Nil(t, errs)

	all, err := h.ListBacklog(BacklogFilter{})
	require.Nil(t, err)
	assert.Len(t, all, 2)

	scoped, err := h.ListBacklog(BacklogFilter{Scope: project.Header.ID})
	require.Nil(t, err)
	assert.Len(t, scoped, 2) // standalone + hierarchical, project scope includes both

	scopedFeature, err := h.ListBacklog(BacklogFilter{Scope: feature.Header.ID})
	require.Nil(t, err)
	assert.Len(t, scopedFeature, 1)
}

func TestClaimNextTask_WrapsScheduler(t *testing.T) {
	h := newHandlers(t)
	_, errs := h.CreateObject(CreateParams{Kind: object.KindTask, Title: "Pickup"})
	require.Nil(t, errs)

	claimed, err := h.ClaimNextTask(scheduler.Params{})
	require.Nil(t, err)
	assert.Equal(t, object.StatusInProgress, claimed.Header.Status)
}

func TestCompleteTask_MovesToTasksDone(t *testing.T) {
	h := newHandlers(t)
	created, errs := h.CreateObject(CreateParams{Kind: object.KindTask, Title: "Finish Me"})
	require.Nil(t, errs)

	_, err := h.ClaimNextTask(scheduler.Params{TaskID: created.CleanID})
	require.Nil(t, err)

	completed, err := h.CompleteTask(created.CleanID, "shipped it", []string{"main.go", "README.md"})
	require.Nil(t, err)
	assert.Equal(t, object.StatusDone, completed.Header.Status)
	assert.Contains(t, completed.Body, "shipped it")
	assert.Contains(t, completed.Body, "main.go")
	assert.Contains(t, completed.Body, "README.md")

	_, getErr := h.GetObject(created.CleanID, object.KindTask)
	require.Nil(t, getErr)
}

func TestCompleteTask_RejectsOpenTask(t *testing.T) {
	h := newHandlers(t)
	created, errs := h.CreateObject(CreateParams{Kind: object.KindTask, Title: "Untouched"})
	require.Nil(t, errs)

	_, err := h.CompleteTask(created.CleanID, "", nil)
	require.NotNil(t, err)
	assert.Equal(t, trellerr.InvalidStatusTransition, err.Code)
}

func TestGetNextReviewableTask_PicksOldestUpdated(t *testing.T) {
	h := newHandlers(t)
	a, errs := h.CreateObject(CreateParams{Kind: object.KindTask, Title: "A"})
	require.Nil(t, errs)
	b, errs := h.CreateObject(CreateParams{Kind: object.KindTask, Title: "B"})
	require.Nil(t, errs)

	_, err := h.ClaimNextTask(scheduler.Params{TaskID: a.CleanID})
	require.Nil(t, err)
	_, err = h.ClaimNextTask(scheduler.Params{TaskID: b.CleanID})
	require.Nil(t, err)

	h.Now = func() time.Time { return time.Date(2026, 1, 1, 13, 0, 0, 0, time.UTC) }
	_, _, updateErrs := h.UpdateObject(UpdateParams{ID: b.CleanID, KindHint: object.KindTask, YAMLPatch: map[string]any{"status": "review"}})
	require.Nil(t, updateErrs)

	h.Now = func() time.Time { return time.Date(2026, 1, 1, 14, 0, 0, 0, time.UTC) }
	_, _, updateErrs = h.UpdateObject(UpdateParams{ID: a.CleanID, KindHint: object.KindTask, YAMLPatch: map[string]any{"status": "review"}})
	require.Nil(t, updateErrs)

	next, err := h.GetNextReviewableTask()
	require.Nil(t, err)
	assert.Equal(t, b.CleanID, next.CleanID)
}

func TestGetNextReviewableTask_NoneAvailable(t *testing.T) {
	h := newHandlers(t)
	res, err := h.GetNextReviewableTask()
	require.Nil(t, err)
	assert.Nil(t, res)
}
