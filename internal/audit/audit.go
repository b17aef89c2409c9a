// Package audit defines the structured security-audit event emitted by
// the security validator. The core emits events; it does not own where
// they go: callers inject a Sink.
package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a single structured security-audit record.
type Event struct {
	// ID correlates this event across logs; stamped with a fresh uuid so
	// concurrent rejections from different goroutines never collide.
	ID string

	// At is when the event was recorded.
	At time.Time

	// Kind names the category of event, e.g. "security_rejection".
	Kind string

	// Reason is a short machine-stable label for why the event fired,
	// e.g. "path_traversal", "privileged_field".
	Reason string

	// Context carries a sanitized echo of the offending inputs. Callers
	// must sanitize before populating this map; Event does not scrub it.
	Context map[string]string
}

// Sink receives audit Events. Implementations must be safe for concurrent
// use; Record must not block the caller's read/write path: a slow sink
// should buffer or drop, not stall a handler.
type Sink interface {
	Record(Event)
}

// NopSink discards every event. It is the default when no sink is
// configured, so emitting an audit event is never a prerequisite for a
// handler to function.
type NopSink struct{}

// Record implements Sink.
func (NopSink) Record(Event) {}

// MemorySink accumulates events in memory, for tests and for CLI debug
// output. Safe for concurrent use.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink constructs an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Record implements Sink.
func (s *MemorySink) Record(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

// Events returns a snapshot of every event recorded so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// New builds an Event, stamping a fresh correlation id and the current
// time. now is a parameter rather than time.Now() so callers in tests can
// supply a fixed clock.
func New(kind, reason string, context map[string]string, now time.Time) Event {
	return Event{
		ID:      uuid.NewString(),
		At:      now,
		Kind:    kind,
		Reason:  reason,
		Context: context,
	}
}
