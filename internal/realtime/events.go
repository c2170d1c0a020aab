package realtime

import "sync"

// NoteEventType enumerates the external note events the engine reacts to.
type NoteEventType string

const (
	// NoteEventPermissionChanged signals that a note's permissions changed.
	NoteEventPermissionChanged NoteEventType = "note-permission-changed"
	// NoteEventDeleted signals that a note was deleted.
	NoteEventDeleted NoteEventType = "note-deleted"
	// NoteEventCloseRealtime requests that the live session be closed, e.g.
	// after an out-of-band content change invalidated the shared document.
	NoteEventCloseRealtime NoteEventType = "note-close-realtime"
)

// NoteEvent is one external note notification.
type NoteEvent struct {
	Type   NoteEventType
	NoteID int64
}

// EventBus fans external note events out to subscribers. Publishers outside
// the engine (the notes CRUD layer, admin tooling) hold the bus; the
// orchestrator subscribes to it.
type EventBus struct {
	mu             sync.Mutex
	subscribers    map[int64]func(NoteEvent)
	nextSubscriber int64
}

// NewEventBus builds an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[int64]func(NoteEvent))}
}

// Subscribe registers a handler and returns its unsubscribe function.
func (b *EventBus) Subscribe(handler func(NoteEvent)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSubscriber++
	id := b.nextSubscriber
	b.subscribers[id] = handler
	return func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}
}

// Publish delivers the event to every current subscriber.
func (b *EventBus) Publish(event NoteEvent) {
	b.mu.Lock()
	handlers := make([]func(NoteEvent), 0, len(b.subscribers))
	for _, handler := range b.subscribers {
		handlers = append(handlers, handler)
	}
	b.mu.Unlock()
	for _, handler := range handlers {
		handler(event)
	}
}
