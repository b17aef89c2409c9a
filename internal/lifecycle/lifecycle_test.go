package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trellis-mcp/trellis-go/internal/object"
	"github.com/trellis-mcp/trellis-go/internal/trellerr"
)

func TestCanComplete(t *testing.T) {
	assert.True(t, CanComplete(object.StatusInProgress))
	assert.True(t, CanComplete(object.StatusReview))
	assert.False(t, CanComplete(object.StatusOpen))
	assert.False(t, CanComplete(object.StatusDone))
}

func TestPlanCascade_BlocksOnProtectedDescendant(t *testing.T) {
	descendants := []DescendantTask{
		{Path: "/f/tasks-open/T-a.md", Status: object.StatusInProgress},
	}
	plan, err := PlanCascade("/f/feature.md", "x", object.KindFeature, descendants, false)
	require.Nil(t, plan)
	require.NotNil(t, err)
	assert.Equal(t, trellerr.ProtectedObject, err.Code)
}

func TestPlanCascade_ForceOverridesProtection(t *testing.T) {
	descendants := []DescendantTask{
		{Path: "/f/tasks-open/T-a.md", Status: object.StatusReview},
	}
	plan, err := PlanCascade("/f/feature.md", "x", object.KindFeature, descendants, true)
	require.Nil(t, err)
	require.NotNil(t, plan)
	assert.ElementsMatch(t, []string{"/f/tasks-open/T-a.md", "/f/feature.md"}, plan.Files)
}

func TestPlanCascade_AllowsWhenNoActiveDescendants(t *testing.T) {
	descendants := []DescendantTask{
		{Path: "/f/tasks-done/1-T-a.md", Status: object.StatusDone},
		{Path: "/f/tasks-open/T-b.md", Status: object.StatusOpen},
	}
	plan, err := PlanCascade("/f/feature.md", "x", object.KindFeature, descendants, false)
	require.Nil(t, err)
	require.NotNil(t, plan)
	assert.Len(t, plan.Files, 3)
}
