// Package markdown parses and writes the "---\n<yaml>\n---\n<body>" file
// format, with insertion-order header keys, microsecond ISO-8601
// timestamps, and atomic replace.
package markdown

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/trellis-mcp/trellis-go/internal/object"
)

// timeLayout renders timestamps as microsecond-precision, timezone-naive
// ISO-8601.
const timeLayout = "2006-01-02T15:04:05.000000"

// File is a parsed Markdown object file: its header and body.
type File struct {
	Header object.Header
	Body   string
}

// frontMatter delimits the YAML block.
const delimiter = "---"

// Parse decodes raw file bytes into a File. The body is everything after
// the closing "---" delimiter, including its leading newline stripped
// exactly once (so Dump(Parse(x)) round-trips x for a well-formed file).
func Parse(data []byte) (*File, error) {
	text := string(data)
	if !strings.HasPrefix(text, delimiter+"\n") {
		return nil, fmt.Errorf("malformed object file: missing opening front-matter delimiter")
	}
	rest := text[len(delimiter)+1:]

	closeIdx := strings.Index(rest, "\n"+delimiter)
	if closeIdx < 0 {
		return nil, fmt.Errorf("malformed object file: missing closing front-matter delimiter")
	}
	yamlBlock := rest[:closeIdx]

	afterClose := rest[closeIdx+len("\n"+delimiter):]
	body := strings.TrimPrefix(afterClose, "\n")

	var raw rawHeader
	if err := yaml.Unmarshal([]byte(yamlBlock), &raw); err != nil {
		return nil, fmt.Errorf("parse front-matter: %w", err)
	}

	header, err := raw.toHeader()
	if err != nil {
		return nil, err
	}

	return &File{Header: header, Body: body}, nil
}

// rawHeader is the loose on-disk shape, decoded permissively so extra
// fields and slightly malformed timestamps can still be scanned (C7 must
// tolerate partially broken trees) while still exposing them via Extra.
type rawHeader struct {
	Kind          string         `yaml:"kind"`
	ID            string         `yaml:"id"`
	Parent        string         `yaml:"parent"`
	Status        string         `yaml:"status"`
	Title         string         `yaml:"title"`
	Priority      string         `yaml:"priority"`
	Prerequisites []string       `yaml:"prerequisites"`
	Worktree      string         `yaml:"worktree"`
	Created       string         `yaml:"created"`
	Updated       string         `yaml:"updated"`
	SchemaVersion string         `yaml:"schema_version"`
	Extra         map[string]any `yaml:",inline"`
}

func (r rawHeader) toHeader() (object.Header, error) {
	created, err := parseTimestamp(r.Created)
	if err != nil {
		return object.Header{}, fmt.Errorf("parse created timestamp: %w", err)
	}
	updated, err := parseTimestamp(r.Updated)
	if err != nil {
		return object.Header{}, fmt.Errorf("parse updated timestamp: %w", err)
	}

	return object.Header{
		Kind:          object.Kind(r.Kind),
		ID:            r.ID,
		Parent:        r.Parent,
		Status:        object.Status(r.Status),
		Title:         r.Title,
		Priority:      object.CanonicalizePriority(r.Priority),
		Prerequisites: r.Prerequisites,
		Worktree:      r.Worktree,
		Created:       created,
		Updated:       updated,
		SchemaVersion: r.SchemaVersion,
		Extra:         r.Extra,
	}, nil
}

// parseTimestamp accepts both the canonical microsecond layout and RFC3339
// (with or without a zone), to tolerate files written by a different
// schema generation.
func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	layouts := []string{timeLayout, time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"}
	var firstErr error
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		} else if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

// Dump renders a File back to bytes in the canonical on-disk form: fixed
// header key order, worktree omitted when absent, schema_version
// string-quoted, timestamps at microsecond ISO-8601 precision, trailing
// newline.
func Dump(f *File) []byte {
	var buf bytes.Buffer
	buf.WriteString(delimiter)
	buf.WriteByte('\n')
	buf.Write(encodeHeader(&f.Header))
	buf.WriteString(delimiter)
	buf.WriteByte('\n')
	buf.WriteString(f.Body)
	if !strings.HasSuffix(f.Body, "\n") {
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// encodeHeader builds the YAML block by hand through a mapping Node so key
// order is exactly the insertion order below, regardless of struct field
// reordering elsewhere in the codebase.
func encodeHeader(h *object.Header) []byte {
	doc := &yaml.Node{Kind: yaml.MappingNode}

	add := func(key string, value *yaml.Node) {
		doc.Content = append(doc.Content, scalarNode(key), value)
	}

	add("kind", scalarNode(string(h.Kind)))
	add("id", scalarNode(h.ID))
	if h.Parent != "" {
		add("parent", scalarNode(h.Parent))
	}
	add("status", scalarNode(string(h.Status)))
	add("title", scalarNode(h.Title))
	add("priority", scalarNode(string(h.Priority)))
	add("prerequisites", sequenceNode(h.Prerequisites))
	if h.Worktree != "" {
		add("worktree", scalarNode(h.Worktree))
	}
	add("created", scalarNode(h.Created.Format(timeLayout)))
	add("updated", scalarNode(h.Updated.Format(timeLayout)))
	add("schema_version", quotedScalarNode(h.SchemaVersion))

	out, err := yaml.Marshal(doc)
	if err != nil {
		// doc is hand-built from known-good scalar kinds; a marshal
		// failure here would be a programming error, not a runtime one.
		panic(fmt.Sprintf("encode header: %v", err))
	}
	return out
}

func scalarNode(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Value: v}
}

func quotedScalarNode(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Value: v, Style: yaml.SingleQuotedStyle}
}

func sequenceNode(items []string) *yaml.Node {
	n := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
	for _, item := range items {
		n.Content = append(n.Content, scalarNode(item))
	}
	return n
}

// AtomicWrite writes data to path by creating a temp file in the same
// directory, writing, fsyncing, and renaming over the target. The
// containing directory is created recursively if needed.
func AtomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*"+filepath.Base(path))
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// ReadFile parses the object file at path.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// WriteFile dumps f and atomically writes it to path.
func WriteFile(path string, f *File) error {
	return AtomicWrite(path, Dump(f))
}

// WriteHeaderPreservingBody loads the existing file at path (if any),
// replaces its header with newHeader while leaving the body untouched, and
// writes the result atomically. If no file exists yet, body is used as the
// initial body instead.
func WriteHeaderPreservingBody(path string, newHeader object.Header, bodyIfNew string) error {
	existing, err := ReadFile(path)
	body := bodyIfNew
	if err == nil {
		body = existing.Body
	} else if !os.IsNotExist(err) {
		return err
	}
	return WriteFile(path, &File{Header: newHeader, Body: body})
}
