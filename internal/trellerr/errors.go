// Package trellerr defines the typed error taxonomy shared by every Trellis
// component. Handlers accumulate Errors rather than stopping at the first
// violation, so a single tool call can report every problem with its input.
package trellerr

import (
	"fmt"
	"strings"
)

// Code identifies the category of a Trellis error. Transport layers map
// codes to wire-level status without parsing message text.
type Code string

// Error codes, as enumerated in the Trellis error taxonomy.
const (
	MissingRequiredField    Code = "MISSING_REQUIRED_FIELD"
	InvalidField            Code = "INVALID_FIELD"
	ParentNotExist          Code = "PARENT_NOT_EXIST"
	ParentInvalid           Code = "PARENT_INVALID"
	InvalidStatusTransition Code = "INVALID_STATUS_TRANSITION"
	PrerequisitesIncomplete Code = "PREREQUISITES_INCOMPLETE"
	CircularDependency      Code = "CIRCULAR_DEPENDENCY"
	ProtectedObject         Code = "PROTECTED_OBJECT"
	NoAvailableTask         Code = "NO_AVAILABLE_TASK"
	CascadeError            Code = "CASCADE_ERROR"
)

// Error is a single typed Trellis error. ObjectID and Kind are populated
// when known; Context carries sanitized diagnostic key/value pairs. Message
// must already be sanitized before it is attached to an Error (see
// internal/security for the sanitizer).
type Error struct {
	Code     Code
	Message  string
	ObjectID string
	Kind     string
	Context  map[string]string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.ObjectID != "" {
		return fmt.Sprintf("%s: %s (id=%s)", e.Code, e.Message, e.ObjectID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New constructs an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithObject attaches object identity to an Error and returns it.
func (e *Error) WithObject(id, kind string) *Error {
	e.ObjectID = id
	e.Kind = kind
	return e
}

// WithContext attaches a context key/value pair and returns the Error.
func (e *Error) WithContext(key, value string) *Error {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// List accumulates multiple Errors produced by a single validation pass.
// A List with no entries is considered no error; callers should check
// len(list) == 0 rather than comparing to nil.
type List []*Error

// Error renders every accumulated error as one message, joined by "; ".
func (l List) Error() string {
	if len(l) == 0 {
		return ""
	}
	msgs := make([]string, len(l))
	for i, e := range l {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// AsError returns the List as an error, or nil if it is empty. Use this at
// the boundary of a validation pass so an empty List compares equal to nil.
func (l List) AsError() error {
	if len(l) == 0 {
		return nil
	}
	return l
}

// First returns the first Error in the list, or nil if the list is empty.
// Handlers that must surface a single typed code (e.g. to a caller that
// only inspects one error) use this rather than range+break.
func (l List) First() *Error {
	if len(l) == 0 {
		return nil
	}
	return l[0]
}

// MissingFields builds a single Error enumerating absent required fields,
// matching the canonical message form "Missing required fields: a, b".
func MissingFields(fields ...string) *Error {
	return New(MissingRequiredField, fmt.Sprintf("Missing required fields: %s", strings.Join(fields, ", ")))
}

// InvalidEnum builds a single Error for a bad enum value, matching the
// canonical message form "Invalid <field> 'X'. Must be one of: [...]".
func InvalidEnum(field, value string, allowed []string) *Error {
	return New(InvalidField, fmt.Sprintf("Invalid %s '%s'. Must be one of: %s", field, value, strings.Join(allowed, ", ")))
}
