// Package pathresolver maps (kind, id, parent?, status?) to and from
// filesystem paths, enumerates a parent's immediate children, and
// recursively enumerates descendants for cascade delete.
package pathresolver

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/trellis-mcp/trellis-go/internal/idutil"
	"github.com/trellis-mcp/trellis-go/internal/markdown"
	"github.com/trellis-mcp/trellis-go/internal/object"
)

// Resolver builds and locates paths under a single resolution root (the
// directory directly containing projects/ and the standalone tasks-*/
// directories; idutil.Roots.ResolutionRoot).
type Resolver struct {
	Root string
}

// New constructs a Resolver rooted at root.
func New(root string) *Resolver {
	return &Resolver{Root: root}
}

// doneTimestampLayout produces the "YYYYMMDD_HHMMSS" prefix used for done
// task filenames. Stamped in local time intentionally, matching the
// clock a human skimming tasks-done/ would expect.
const doneTimestampLayout = "20060102_150405"

// ChildRef describes one immediate child in a children listing.
type ChildRef struct {
	ID       string
	Title    string
	Status   object.Status
	Kind     object.Kind
	Created  time.Time
	FilePath string
}

// ProjectDir returns the directory for a project given its clean id.
func (r *Resolver) ProjectDir(cleanID string) string {
	return filepath.Join(r.Root, "projects", idutil.Prefixed(cleanID, "project"))
}

// ProjectFile returns the project.md path for a project.
func (r *Resolver) ProjectFile(cleanID string) string {
	return filepath.Join(r.ProjectDir(cleanID), "project.md")
}

// EpicDir returns the directory for an epic given its project's directory
// and the epic's clean id.
func (r *Resolver) EpicDir(projectDir, cleanID string) string {
	return filepath.Join(projectDir, "epics", idutil.Prefixed(cleanID, "epic"))
}

// EpicFile returns the epic.md path given the epic's directory.
func (r *Resolver) EpicFile(epicDir string) string {
	return filepath.Join(epicDir, "epic.md")
}

// FeatureDir returns the directory for a feature given its epic's
// directory and the feature's clean id.
func (r *Resolver) FeatureDir(epicDir, cleanID string) string {
	return filepath.Join(epicDir, "features", idutil.Prefixed(cleanID, "feature"))
}

// FeatureFile returns the feature.md path given the feature's directory.
func (r *Resolver) FeatureFile(featureDir string) string {
	return filepath.Join(featureDir, "feature.md")
}

// TaskOpenFile returns the open-state path for a task under parentDir
// (either a feature directory, or the resolution root for standalone
// tasks).
func (r *Resolver) TaskOpenFile(parentDir, cleanID string) string {
	return filepath.Join(parentDir, "tasks-open", idutil.Prefixed(cleanID, "task")+".md")
}

// TaskDoneFile returns the done-state path for a task under parentDir,
// stamped with at (local time) as the chronological filename prefix.
func (r *Resolver) TaskDoneFile(parentDir, cleanID string, at time.Time) string {
	name := fmt.Sprintf("%s-%s.md", at.Local().Format(doneTimestampLayout), idutil.Prefixed(cleanID, "task"))
	return filepath.Join(parentDir, "tasks-done", name)
}

// StandaloneTasksRoot returns the resolution root, the parentDir for
// standalone tasks.
func (r *Resolver) StandaloneTasksRoot() string {
	return r.Root
}

// FindProjectDir locates a project's directory by id; ok is false if no
// such project exists on disk.
func (r *Resolver) FindProjectDir(cleanID string) (string, bool) {
	dir := r.ProjectDir(cleanID)
	if fileExists(filepath.Join(dir, "project.md")) {
		return dir, true
	}
	return "", false
}

// FindEpicDir searches every project for an epic with the given clean id.
func (r *Resolver) FindEpicDir(cleanID string) (string, bool) {
	pattern := filepath.Join(r.Root, "projects", "P-*", "epics", idutil.Prefixed(cleanID, "epic"), "epic.md")
	matches, _ := filepath.Glob(pattern)
	if len(matches) == 0 {
		return "", false
	}
	sort.Strings(matches)
	return filepath.Dir(matches[0]), true
}

// FindFeatureDir searches every project/epic for a feature with the given
// clean id.
func (r *Resolver) FindFeatureDir(cleanID string) (string, bool) {
	pattern := filepath.Join(r.Root, "projects", "P-*", "epics", "E-*", "features", idutil.Prefixed(cleanID, "feature"), "feature.md")
	matches, _ := filepath.Glob(pattern)
	if len(matches) == 0 {
		return "", false
	}
	sort.Strings(matches)
	return filepath.Dir(matches[0]), true
}

// FindTaskFile locates a task's current file, hierarchical or standalone,
// open or done, by searching the tree. Returns ok=false if no such task
// exists.
func (r *Resolver) FindTaskFile(cleanID string) (string, bool) {
	openName := idutil.Prefixed(cleanID, "task") + ".md"
	doneSuffix := "-" + idutil.Prefixed(cleanID, "task") + ".md"

	patterns := []string{
		filepath.Join(r.Root, "tasks-open", openName),
		filepath.Join(r.Root, "projects", "P-*", "epics", "E-*", "features", "F-*", "tasks-open", openName),
	}
	for _, p := range patterns {
		if matches, _ := filepath.Glob(p); len(matches) > 0 {
			sort.Strings(matches)
			return matches[0], true
		}
	}

	donePatterns := []string{
		filepath.Join(r.Root, "tasks-done", "*"+doneSuffix),
		filepath.Join(r.Root, "projects", "P-*", "epics", "E-*", "features", "F-*", "tasks-done", "*"+doneSuffix),
	}
	for _, p := range donePatterns {
		matches, _ := filepath.Glob(p)
		matches = filterExactDoneMatch(matches, doneSuffix)
		if len(matches) > 0 {
			sort.Strings(matches)
			return matches[0], true
		}
	}

	return "", false
}

// filterExactDoneMatch keeps only matches whose filename ends exactly with
// suffix. The done-file glob already ends in the same suffix (so "x" does
// not match "task-x"'s file); this is a defensive re-check of that.
func filterExactDoneMatch(matches []string, suffix string) []string {
	var out []string
	for _, m := range matches {
		if strings.HasSuffix(filepath.Base(m), suffix) {
			out = append(out, m)
		}
	}
	return out
}

// FindByKind locates an object's file given its kind and clean id.
func (r *Resolver) FindByKind(kind object.Kind, cleanID string) (string, bool) {
	switch kind {
	case object.KindProject:
		if _, ok := r.FindProjectDir(cleanID); !ok {
			return "", false
		}
		return r.ProjectFile(cleanID), true
	case object.KindEpic:
		dir, ok := r.FindEpicDir(cleanID)
		if !ok {
			return "", false
		}
		return r.EpicFile(dir), true
	case object.KindFeature:
		dir, ok := r.FindFeatureDir(cleanID)
		if !ok {
			return "", false
		}
		return r.FeatureFile(dir), true
	case object.KindTask:
		return r.FindTaskFile(cleanID)
	default:
		return "", false
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// PathToID derives the (kind, cleanID) pair a stored file encodes. It is
// the inverse of the resolution functions above.
func PathToID(path string) (object.Kind, string, error) {
	base := filepath.Base(path)
	switch base {
	case "project.md":
		return object.KindProject, idStem(filepath.Base(filepath.Dir(path)), "project"), nil
	case "epic.md":
		return object.KindEpic, idStem(filepath.Base(filepath.Dir(path)), "epic"), nil
	case "feature.md":
		return object.KindFeature, idStem(filepath.Base(filepath.Dir(path)), "feature"), nil
	}

	name := strings.TrimSuffix(base, ".md")
	if idx := strings.Index(name, "-T-"); idx >= 0 {
		// done-state filename: "YYYYMMDD_HHMMSS-T-<id>"
		return object.KindTask, idutil.Normalize(name[idx+1:], "task"), nil
	}
	if strings.HasPrefix(strings.ToUpper(name), "T-") {
		return object.KindTask, idutil.Normalize(name, "task"), nil
	}
	return "", "", fmt.Errorf("cannot derive object identity from path %s", path)
}

func idStem(dirName, kind string) string {
	return idutil.Normalize(dirName, kind)
}

// ProjectChildren lists a project's immediate epics.
func (r *Resolver) ProjectChildren(projectDir string) ([]ChildRef, error) {
	matches, err := filepath.Glob(filepath.Join(projectDir, "epics", "E-*", "epic.md"))
	if err != nil {
		return nil, err
	}
	return buildChildRefs(matches, object.KindEpic)
}

// EpicChildren lists an epic's immediate features.
func (r *Resolver) EpicChildren(epicDir string) ([]ChildRef, error) {
	matches, err := filepath.Glob(filepath.Join(epicDir, "features", "F-*", "feature.md"))
	if err != nil {
		return nil, err
	}
	return buildChildRefs(matches, object.KindFeature)
}

// FeatureChildren lists a feature's immediate tasks, open and done.
func (r *Resolver) FeatureChildren(featureDir string) ([]ChildRef, error) {
	open, err := filepath.Glob(filepath.Join(featureDir, "tasks-open", "T-*.md"))
	if err != nil {
		return nil, err
	}
	done, err := filepath.Glob(filepath.Join(featureDir, "tasks-done", "*-T-*.md"))
	if err != nil {
		return nil, err
	}
	return buildChildRefs(append(open, done...), object.KindTask)
}

// Children dispatches to the right *Children method for kind, given dir,
// the directory containing the parent's own file (NOT the file itself).
// Tasks have no children and always return an empty slice.
func (r *Resolver) Children(kind object.Kind, dir string) ([]ChildRef, error) {
	switch kind {
	case object.KindProject:
		return r.ProjectChildren(dir)
	case object.KindEpic:
		return r.EpicChildren(dir)
	case object.KindFeature:
		return r.FeatureChildren(dir)
	default:
		return nil, nil
	}
}

func buildChildRefs(paths []string, kind object.Kind) ([]ChildRef, error) {
	refs := make([]ChildRef, 0, len(paths))
	for _, p := range paths {
		f, err := markdown.ReadFile(p)
		if err != nil {
			// A child that fails to parse is skipped, matching the
			// scanner's tolerate-partial-trees policy.
			continue
		}
		_, cleanID, derr := PathToID(p)
		if derr != nil {
			continue
		}
		refs = append(refs, ChildRef{
			ID:       cleanID,
			Title:    f.Header.Title,
			Status:   f.Header.Status,
			Kind:     kind,
			Created:  f.Header.Created,
			FilePath: p,
		})
	}
	sort.SliceStable(refs, func(i, j int) bool {
		return refs[i].Created.Before(refs[j].Created)
	})
	return refs, nil
}

// Descendants recursively enumerates every descendant file under an
// object's own directory, in stable sorted order, for cascade delete.
func (r *Resolver) Descendants(kind object.Kind, dir string) ([]string, error) {
	var out []string
	children, err := r.Children(kind, dir)
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		out = append(out, c.FilePath)
		childDir := filepath.Dir(c.FilePath)
		sub, err := r.Descendants(c.Kind, childDir)
		if err != nil {
			return nil, err
		}
		out = append(out, sub...)
	}
	sort.Strings(out)
	return out, nil
}
