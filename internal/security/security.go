// Package security implements traversal, reserved-name,
// control-character, symlink-escape and privileged-field checks applied
// to every externally supplied ID and to every path the core
// constructs, plus the message sanitizer applied to every user-visible
// error.
package security

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/trellis-mcp/trellis-go/internal/audit"
	"github.com/trellis-mcp/trellis-go/internal/trellerr"
)

// exemptSchemaVersion is the one schema_version at which the
// parent-string security checks are skipped: objects stamped "1.0"
// predate the check and are grandfathered in rather than rejected
// outright.
const exemptSchemaVersion = "1.0"

// reservedNames are Windows-reserved device names, checked case
// insensitively regardless of host OS: they protect portability of the
// on-disk tree, not just the host OS it happens to run on.
var reservedNames = map[string]bool{
	"con": true, "prn": true, "aux": true, "nul": true,
	"com1": true, "com2": true, "com3": true, "com4": true, "com5": true,
	"com6": true, "com7": true, "com8": true, "com9": true,
	"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true, "lpt5": true,
	"lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
}

var flaggedExtensions = map[string]bool{
	".exe": true, ".bat": true, ".sh": true, ".py": true, ".js": true,
}

var privilegedFields = []string{
	"system_admin", "root_access", "privileged", "admin",
	"superuser", "elevated", "bypass_validation", "skip_checks",
	"ignore_constraints",
}

var urlEncodedPattern = regexp.MustCompile(`%[0-9A-Fa-f]{2}`)

// Validator applies security checks and records audit events to an
// injected Sink. The zero value uses audit.NopSink{}.
type Validator struct {
	Sink audit.Sink
	Now  func() time.Time
}

// New constructs a Validator recording to sink. A nil sink discards events.
func New(sink audit.Sink) *Validator {
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &Validator{Sink: sink, Now: time.Now}
}

func (v *Validator) record(reason string, context map[string]string) {
	v.Sink.Record(audit.New("security_rejection", reason, context, v.Now()))
}

// ValidateID runs every ID-shaped check (traversal, control chars,
// reserved names, extensions, URL-encoding, leading dot) against a raw
// (possibly prefixed) identifier. It returns a sanitized *trellerr.Error on
// the first violation found, or nil if id is clean.
func (v *Validator) ValidateID(id string) *trellerr.Error {
	ctx := map[string]string{"id": Sanitize(id)}

	if strings.Contains(id, "..") {
		v.record("path_traversal", ctx)
		return trellerr.New(trellerr.InvalidField, "Identifier contains a path traversal sequence")
	}
	if strings.HasPrefix(id, "/") || strings.HasPrefix(id, "\\") {
		v.record("leading_separator", ctx)
		return trellerr.New(trellerr.InvalidField, "Identifier may not begin with a path separator")
	}
	if strings.Contains(id, "\\") {
		v.record("backslash", ctx)
		return trellerr.New(trellerr.InvalidField, "Identifier may not contain a backslash")
	}
	if hasDisallowedControlChar(id) {
		v.record("control_characters", ctx)
		return trellerr.New(trellerr.InvalidField, "Identifier contains a disallowed control character")
	}
	if urlEncodedPattern.MatchString(id) {
		v.record("url_encoded", ctx)
		return trellerr.New(trellerr.InvalidField, "Identifier may not contain URL-encoded sequences")
	}
	base := id
	if idx := strings.LastIndex(base, "/"); idx >= 0 {
		base = base[idx+1:]
	}
	if strings.HasPrefix(base, ".") {
		v.record("dotfile", ctx)
		return trellerr.New(trellerr.InvalidField, "Identifier may not begin with '.'")
	}
	if ext := filepath.Ext(base); ext != "" && ext != ".md" && flaggedExtensions[strings.ToLower(ext)] {
		v.record("disallowed_extension", ctx)
		return trellerr.New(trellerr.InvalidField, fmt.Sprintf("Identifier may not carry the %s extension", ext))
	}
	nameNoExt := strings.TrimSuffix(strings.ToLower(base), filepath.Ext(base))
	if reservedNames[nameNoExt] {
		v.record("reserved_name", ctx)
		return trellerr.New(trellerr.InvalidField, "Identifier uses a reserved system name")
	}
	return nil
}

// hasDisallowedControlChar reports whether s contains a control character
// other than tab, carriage return, or newline.
func hasDisallowedControlChar(s string) bool {
	for _, r := range s {
		if r < 0x20 && r != '\t' && r != '\r' && r != '\n' {
			return true
		}
		if r == 0x7f {
			return true
		}
	}
	return false
}

// suspiciousExact are parent values flagged only on an exact (trimmed,
// lowercased) match, to avoid false positives on substrings.
var suspiciousExact = []string{"null", "none", "undefined", "true", "false", "{}", "[]", "0", "1"}

// ValidateParent applies the suspicious-parent-string checks, gated on
// schemaVersion. An empty parent is always valid (it denotes a
// standalone task or a project, which has no parent at all).
func (v *Validator) ValidateParent(parent, schemaVersion string) *trellerr.Error {
	if parent == "" {
		return nil
	}
	if schemaVersion == exemptSchemaVersion {
		return nil
	}

	ctx := map[string]string{"parent": Sanitize(parent)}
	lower := strings.ToLower(strings.TrimSpace(parent))

	if strings.HasPrefix(lower, "/") {
		v.record("suspicious_pattern", ctx)
		return trellerr.New(trellerr.ParentInvalid, "Parent value looks like an absolute path")
	}
	if strings.Contains(lower, "..") || strings.Contains(lower, "\\") {
		v.record("suspicious_pattern", ctx)
		return trellerr.New(trellerr.ParentInvalid, "Parent value contains a suspicious sequence")
	}
	if parent == " " || parent == "\t" || parent == "\n" || parent == "\r" {
		v.record("suspicious_pattern", ctx)
		return trellerr.New(trellerr.ParentInvalid, "Parent value is a bare whitespace character")
	}
	if strings.TrimSpace(parent) == "" {
		v.record("whitespace_only", ctx)
		return trellerr.New(trellerr.ParentInvalid, "Parent value is whitespace only")
	}
	for _, pattern := range suspiciousExact {
		if lower == pattern {
			v.record("suspicious_pattern", ctx)
			return trellerr.New(trellerr.ParentInvalid, "Parent value is a suspicious sentinel string")
		}
	}
	if len(parent) > 255 {
		v.record("max_length_exceeded", ctx)
		return trellerr.New(trellerr.ParentInvalid, "Parent value exceeds the maximum length of 255")
	}
	if hasDisallowedControlChar(parent) {
		v.record("control_characters", ctx)
		return trellerr.New(trellerr.ParentInvalid, "Parent value contains a disallowed control character")
	}
	return nil
}

// ValidatePrivilegedFields scans a raw header map for keys that could
// indicate a privilege-escalation attempt and returns one Error per match.
func (v *Validator) ValidatePrivilegedFields(header map[string]any) trellerr.List {
	var errs trellerr.List
	for _, field := range privilegedFields {
		if _, present := header[field]; present {
			v.record("privileged_field", map[string]string{"field": field})
			errs = append(errs, trellerr.New(trellerr.InvalidField, fmt.Sprintf("Field '%s' is not permitted", field)))
		}
	}
	return errs
}

// ValidateSymlinkEscape resolves target (a path already joined under root)
// through any symlinks and rejects it if the resolved path escapes root.
// Absolute symlink targets are always rejected.
func (v *Validator) ValidateSymlinkEscape(root, target string, resolve func(string) (string, error)) *trellerr.Error {
	resolved, err := resolve(target)
	if err != nil {
		// Nothing to resolve (e.g. not a symlink, or file does not yet
		// exist); not itself a security violation.
		return nil
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil
	}
	absResolved := resolved
	if !filepath.IsAbs(absResolved) {
		absResolved = filepath.Join(filepath.Dir(target), absResolved)
	}
	absResolved, err = filepath.Abs(absResolved)
	if err != nil {
		return nil
	}

	rel, err := filepath.Rel(absRoot, absResolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		v.record("symlink_escape", map[string]string{"target": Sanitize(target)})
		return trellerr.New(trellerr.InvalidField, "Path resolves outside the planning root")
	}
	return nil
}

var (
	ipPattern    = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}(:\d+)?\b`)
	uuidPattern  = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	tokenPattern = regexp.MustCompile(`(?i)\b(bearer|token|key|secret)[=:]\s*\S+`)
	dsnPattern   = regexp.MustCompile(`(?i)\b\w+://[^\s]+`)
)

// Sanitize strips file paths, stack-frame-like lines, IPs/ports,
// connection strings, tokens, and UUIDs from a message before it is
// allowed to leave the core.
func Sanitize(msg string) string {
	out := msg
	out = dsnPattern.ReplaceAllString(out, "[redacted]")
	out = ipPattern.ReplaceAllString(out, "[redacted]")
	out = uuidPattern.ReplaceAllString(out, "[redacted]")
	out = tokenPattern.ReplaceAllString(out, "[redacted]")

	lines := strings.Split(out, "\n")
	kept := lines[:0]
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "at ") || strings.HasPrefix(trimmed, "File \"") || strings.HasPrefix(trimmed, "goroutine ") {
			continue
		}
		kept = append(kept, line)
	}
	out = strings.Join(kept, "\n")

	// Strip absolute filesystem paths (Unix and Windows drive-letter
	// forms) while leaving the rest of the sentence intact.
	out = regexp.MustCompile(`(?:[A-Za-z]:)?(?:/[^\s]+)+`).ReplaceAllString(out, "[path]")

	return out
}
