package markdown

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trellis-mcp/trellis-go/internal/object"
)

func sampleHeader() object.Header {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return object.Header{
		Kind:          object.KindTask,
		ID:            "T-implement-auth",
		Parent:        "F-login",
		Status:        object.StatusOpen,
		Title:         "Implement auth",
		Priority:      object.PriorityHigh,
		Prerequisites: []string{},
		Created:       created,
		Updated:       created,
		SchemaVersion: "1.1",
	}
}

func TestDump_MatchesCanonicalShape(t *testing.T) {
	f := &File{Header: sampleHeader(), Body: "Body text.\n"}
	out := string(Dump(f))

	assert.True(t, strings.HasPrefix(out, "---\n"))
	assert.Contains(t, out, "kind: task\n")
	assert.Contains(t, out, "id: T-implement-auth\n")
	assert.Contains(t, out, "parent: F-login\n")
	assert.Contains(t, out, "prerequisites: []\n")
	assert.Contains(t, out, "schema_version: '1.1'\n")
	assert.Contains(t, out, "created: 2025-01-01T00:00:00.000000\n")
	assert.NotContains(t, out, "worktree")

	kindIdx := strings.Index(out, "kind:")
	idIdx := strings.Index(out, "id:")
	parentIdx := strings.Index(out, "parent:")
	statusIdx := strings.Index(out, "status:")
	assert.True(t, kindIdx < idIdx)
	assert.True(t, idIdx < parentIdx)
	assert.True(t, parentIdx < statusIdx)
}

func TestDump_OmitsWorktreeWhenAbsent(t *testing.T) {
	f := &File{Header: sampleHeader(), Body: "x"}
	out := string(Dump(f))
	assert.NotContains(t, out, "worktree:")
}

func TestDump_IncludesWorktreeWhenPresent(t *testing.T) {
	h := sampleHeader()
	h.Worktree = "feature-branch"
	f := &File{Header: h, Body: "x"}
	out := string(Dump(f))
	assert.Contains(t, out, "worktree: feature-branch\n")
}

func TestParseDump_RoundTrips(t *testing.T) {
	f := &File{Header: sampleHeader(), Body: "Some body.\n\nMore text.\n"}
	data := Dump(f)

	parsed, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, f.Header.Kind, parsed.Header.Kind)
	assert.Equal(t, f.Header.ID, parsed.Header.ID)
	assert.Equal(t, f.Header.Parent, parsed.Header.Parent)
	assert.Equal(t, f.Header.Status, parsed.Header.Status)
	assert.Equal(t, f.Header.Title, parsed.Header.Title)
	assert.Equal(t, f.Header.Priority, parsed.Header.Priority)
	assert.Equal(t, f.Body, parsed.Body)
	assert.True(t, f.Header.Created.Equal(parsed.Header.Created))
}

func TestParse_MalformedMissingDelimiters(t *testing.T) {
	_, err := Parse([]byte("no front matter here"))
	assert.Error(t, err)
}

func TestAtomicWrite_CreatesDirAndFile(t *testing.T) {
	tmp := t.TempDir()
	target := filepath.Join(tmp, "nested", "dir", "file.md")

	require.NoError(t, AtomicWrite(target, []byte("hello")))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestAtomicWrite_NoLeftoverTempFile(t *testing.T) {
	tmp := t.TempDir()
	target := filepath.Join(tmp, "file.md")
	require.NoError(t, AtomicWrite(target, []byte("v1")))

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, "file.md", entries[0].Name())
}

func TestWriteHeaderPreservingBody_PreservesExistingBody(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "task.md")

	original := &File{Header: sampleHeader(), Body: "Original body.\n"}
	require.NoError(t, WriteFile(path, original))

	updated := sampleHeader()
	updated.Title = "Renamed"
	require.NoError(t, WriteHeaderPreservingBody(path, updated, "ignored"))

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Original body.\n", got.Body)
	assert.Equal(t, "Renamed", got.Header.Title)
}

func TestWriteHeaderPreservingBody_UsesGivenBodyWhenFileMissing(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "new-task.md")

	require.NoError(t, WriteHeaderPreservingBody(path, sampleHeader(), "### Log\n\n"))

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "### Log\n\n", got.Body)
}

func TestParse_TrailingNewlineEnforced(t *testing.T) {
	f := &File{Header: sampleHeader(), Body: "no trailing newline"}
	out := Dump(f)
	assert.True(t, strings.HasSuffix(string(out), "\n"))
}
