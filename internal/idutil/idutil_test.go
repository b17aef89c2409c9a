package idutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanPrereq(t *testing.T) {
	cases := map[string]string{
		"T-T-x":            "T-x",
		"T-implement-auth": "implement-auth",
		"P-web-platform":   "web-platform",
		"no-prefix":        "no-prefix",
		"":                 "",
	}
	for input, want := range cases {
		assert.Equal(t, want, CleanPrereq(input), "CleanPrereq(%q)", input)
	}
}

func TestCleanPrereq_DoublePeelViaNormalize(t *testing.T) {
	assert.Equal(t, "x", Normalize("T-T-x", "task"))
}

func TestNormalize_StripsPrefixAndCleans(t *testing.T) {
	assert.Equal(t, "implement-auth", Normalize("T-implement-auth", "task"))
	assert.Equal(t, "web-platform", Normalize("P-web-platform", "project"))
	assert.Equal(t, "implement-auth", Normalize("implement-auth", "task"))
	assert.Equal(t, "user-management", Normalize("  F-user-management  ", "feature"))
	assert.Equal(t, "", Normalize("", "task"))
}

func TestNormalize_CollapsesWhitespaceAndUnderscores(t *testing.T) {
	assert.Equal(t, "hello-world", Normalize("hello   world", "task"))
	assert.Equal(t, "hello-world", Normalize("hello_world", "task"))
}

func TestNormalize_Idempotent(t *testing.T) {
	for _, kind := range []string{"project", "epic", "feature", "task"} {
		for _, id := range []string{"T-T-x", "E-epic-one", "weird__ID--name"} {
			once := Normalize(id, kind)
			twice := Normalize(once, kind)
			assert.Equal(t, once, twice, "idempotence for %q/%s", id, kind)
		}
	}
}

func TestNormalize_OtherKindPrefixNotPeeled(t *testing.T) {
	// Prefix peeling only targets the kind's own prefix; a different
	// kind's prefix is kept (lowercased) as part of the id.
	assert.Equal(t, "p-web-platform", Normalize("P-web-platform", "task"))
}

func TestValidFormat(t *testing.T) {
	assert.True(t, ValidFormat("implement-auth"))
	assert.False(t, ValidFormat(""))
	assert.False(t, ValidFormat("-leading"))
	assert.False(t, ValidFormat("trailing-"))
	assert.False(t, ValidFormat("double--hyphen"))
	assert.False(t, ValidFormat("Upper-Case"))
}

func TestPrefixed(t *testing.T) {
	assert.Equal(t, "T-x", Prefixed("x", "task"))
	assert.Equal(t, "P-x", Prefixed("x", "project"))
	assert.Equal(t, "x", Prefixed("x", "bogus"))
}

func TestResolvePlanningRoot_PointsAtParentOfPlanning(t *testing.T) {
	tmp := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(tmp, "planning"), 0o755))

	roots, err := ResolvePlanningRoot(tmp)
	require.NoError(t, err)

	assert.Equal(t, tmp, roots.ScanRoot)
	assert.Equal(t, filepath.Join(tmp, "planning"), roots.ResolutionRoot)
}

func TestResolvePlanningRoot_PointsAtPlanningItself(t *testing.T) {
	tmp := t.TempDir()
	planning := filepath.Join(tmp, "planning")
	require.NoError(t, os.MkdirAll(planning, 0o755))

	roots, err := ResolvePlanningRoot(planning)
	require.NoError(t, err)

	assert.Equal(t, tmp, roots.ScanRoot)
	assert.Equal(t, planning, roots.ResolutionRoot)
}

func TestEnsurePlanningSkeleton(t *testing.T) {
	tmp := t.TempDir()
	require.NoError(t, EnsurePlanningSkeleton(tmp))

	info, err := os.Stat(filepath.Join(tmp, "projects"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
