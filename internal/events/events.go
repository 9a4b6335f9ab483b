// Package events carries domain notifications from the enrollment pipeline,
// the reviewer and the recognition loop to whoever listens (SSE clients, logs, caches).
package events

import (
	"sync"
	"time"

	"github.com/kozaktomas/face-attendance/internal/constants"
)

// Type identifies an event.
type Type string

// Event types.
const (
	EnrollmentCompleted Type = "enrollment.completed"
	EnrollmentFailed    Type = "enrollment.failed"
	PendingSubmitted    Type = "pending.submitted"
	PendingApproved     Type = "pending.approved"
	PendingRejected     Type = "pending.rejected"
	PersonDeleted       Type = "person.deleted"
	PhotoDeleted        Type = "photo.deleted"
	GroupChanged        Type = "group.changed"
	StoreCleared        Type = "store.cleared"
	RecognitionResult   Type = "recognition.result"
)

// Event is one notification.
type Event struct {
	Type     Type      `json:"type"`
	PersonID string    `json:"person_id,omitempty"`
	Message  string    `json:"message,omitempty"`
	Data     any       `json:"data,omitempty"`
	Time     time.Time `json:"time"`
}

// ChangesCandidates reports whether the event alters the set of stored embeddings or groups.
func (e Event) ChangesCandidates() bool {
	switch e.Type {
	case EnrollmentCompleted, PendingApproved, PersonDeleted, PhotoDeleted, GroupChanged, StoreCleared:
		return true
	default:
		return false
	}
}

// Publisher publishes events.
type Publisher interface {
	Publish(Event)
}

// Handler is called inline for every published event. It must not block or publish.
type Handler func(Event)

// Bus fans events out to subscribers and handlers. Publishing never blocks on a
// subscriber: one whose buffer is full misses the event. Handlers see every event.
type Bus struct {
	listeners []chan Event
	handlers  []Handler
	mu        sync.RWMutex
}

var _ Publisher = (*Bus)(nil)

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe adds a listener.
func (b *Bus) Subscribe() chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, constants.EventChannelBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

// Handle registers a handler for the lifetime of the bus.
func (b *Bus) Handle(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Unsubscribe removes a listener and closes its channel.
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// Publish sends an event to all listeners.
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, h := range b.handlers {
		h(event)
	}
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}

// Subscribers returns the number of listeners.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Discard is a publisher that drops everything.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}
