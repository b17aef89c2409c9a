// Package scanner walks the whole planning tree, parses every object,
// and tolerates files that fail to parse (a partially broken tree must
// still scan).
package scanner

import (
	"path/filepath"
	"sort"

	"github.com/trellis-mcp/trellis-go/internal/idutil"
	"github.com/trellis-mcp/trellis-go/internal/markdown"
	"github.com/trellis-mcp/trellis-go/internal/object"
	"github.com/trellis-mcp/trellis-go/internal/pathresolver"
)

// Object pairs a parsed header with the file path and clean id it came
// from, since Header alone only carries the prefixed id.
type Object struct {
	CleanID string
	Path    string
	Header  object.Header
}

var globPatterns = []string{
	"projects/P-*/project.md",
	"projects/P-*/epics/E-*/epic.md",
	"projects/P-*/epics/E-*/features/F-*/feature.md",
	"projects/P-*/epics/E-*/features/F-*/tasks-open/T-*.md",
	"projects/P-*/epics/E-*/features/F-*/tasks-done/*-T-*.md",
	"tasks-open/T-*.md",
	"tasks-done/*-T-*.md",
}

// walk returns every file path matching the fixed set of glob patterns
// that describe the planning tree layout, in sorted order.
func walk(root string) []string {
	var all []string
	for _, pattern := range globPatterns {
		matches, _ := filepath.Glob(filepath.Join(root, pattern))
		all = append(all, matches...)
	}
	sort.Strings(all)
	return all
}

// GetAllObjects walks the planning tree and returns every object keyed by
// its clean id. Files that fail to parse are silently skipped. If two
// files normalize to the same clean id for the same kind (which a
// well-formed tree forbids but a corrupted one might still contain), the
// lexicographically later path wins, matching the deterministic
// sorted-walk order.
func GetAllObjects(root string) map[string]Object {
	out := make(map[string]Object)
	for _, path := range walk(root) {
		_, cleanID, err := pathresolver.PathToID(path)
		if err != nil {
			continue
		}
		f, err := markdown.ReadFile(path)
		if err != nil {
			continue
		}
		out[cleanID] = Object{CleanID: cleanID, Path: path, Header: f.Header}
	}
	return out
}

// ScanTasks returns every task object (hierarchical and standalone) in
// sorted path order.
func ScanTasks(root string) []Object {
	var out []Object
	for _, path := range walk(root) {
		kind, cleanID, err := pathresolver.PathToID(path)
		if err != nil || kind != object.KindTask {
			continue
		}
		f, err := markdown.ReadFile(path)
		if err != nil {
			continue
		}
		out = append(out, Object{CleanID: cleanID, Path: path, Header: f.Header})
	}
	return out
}

// CleanPrerequisites normalizes every entry of prereqs to a bare clean id,
// regardless of whether it arrived prefixed. Used when building the
// dependency graph, which is keyed entirely on clean ids.
func CleanPrerequisites(prereqs []string) []string {
	out := make([]string, len(prereqs))
	for i, p := range prereqs {
		out[i] = idutil.CleanPrereq(p)
	}
	return out
}
