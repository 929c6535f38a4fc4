package events

import "sync"

// Event represents a structured state change emitted by the engine for
// downstream indexers and collaborators.
type Event struct {
	Type       string
	Attributes map[string]string
}

// Record is any typed payload that can render itself as a generic event.
type Record interface {
	Event() Event
}

// Emitter broadcasts events to downstream subscribers.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events. It
// is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// RingEmitter retains the most recent events in a bounded buffer so operators
// can inspect recent activity without an external indexer.
type RingEmitter struct {
	mu     sync.Mutex
	buf    []Event
	next   int
	filled bool
}

// NewRingEmitter constructs a ring emitter holding up to capacity events. A
// non-positive capacity defaults to 256.
func NewRingEmitter(capacity int) *RingEmitter {
	if capacity <= 0 {
		capacity = 256
	}
	return &RingEmitter{buf: make([]Event, capacity)}
}

// Emit stores the event, evicting the oldest entry once full.
func (r *RingEmitter) Emit(evt Event) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = evt
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.filled = true
	}
}

// Recent returns the retained events in emission order.
func (r *RingEmitter) Recent() []Event {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.filled {
		out := make([]Event, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]Event, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	out = append(out, r.buf[:r.next]...)
	return out
}

// MultiEmitter fans a single emission out to several emitters.
type MultiEmitter []Emitter

// Emit implements the Emitter interface.
func (m MultiEmitter) Emit(evt Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(evt)
		}
	}
}
