// Package bus carries typed pipeline events between components. It
// replaces string-keyed notification broadcast with a small typed
// publish/subscribe surface: a component publishes an Event and every
// subscriber sees it.
package bus

import (
	"sync"

	"github.com/nextlevelbuilder/glimpse/internal/record"
)

// EventType discriminates pipeline events.
type EventType string

const (
	// EventRecordCreated fires after a record (and its payload, if any)
	// has been durably written.
	EventRecordCreated EventType = "record_created"

	// EventRecordEnriched fires when the enrichment pipeline finishes a
	// record, whether Done or FailedTerminal.
	EventRecordEnriched EventType = "record_enriched"

	// EventRecordDeleted fires after a record has been removed by
	// eviction, retention, or explicit user action.
	EventRecordDeleted EventType = "record_deleted"

	// EventCaptureDenied fires (rate-limited) when the frame source
	// reports a permission failure and the scheduler idles.
	EventCaptureDenied EventType = "capture_denied"
)

// Event is a single pipeline notification. Record is populated for
// record-scoped events and zero-valued for EventCaptureDenied.
type Event struct {
	Type   EventType
	Record record.CaptureRecord
	Err    error
}

// Handler receives events. Handlers must not block; slow consumers
// should hand off to their own goroutine.
type Handler func(Event)

// EventBus broadcasts pipeline events to registered subscribers.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string]Handler
}

func New() *EventBus {
	return &EventBus{subscribers: make(map[string]Handler)}
}

// Subscribe registers a handler under id. Re-subscribing with the same
// id replaces the previous handler.
func (eb *EventBus) Subscribe(id string, h Handler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subscribers[id] = h
}

// Unsubscribe removes a subscriber.
func (eb *EventBus) Unsubscribe(id string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	delete(eb.subscribers, id)
}

// Publish delivers ev to all subscribers on the caller's goroutine.
func (eb *EventBus) Publish(ev Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	for _, h := range eb.subscribers {
		h(ev)
	}
}
