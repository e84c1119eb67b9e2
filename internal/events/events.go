package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"taller/internal/models"
)

const (
	EventConnectivityChanged = "connectivity_changed"
	EventSyncStarted         = "sync_started"
	EventSyncCompleted       = "sync_completed"
	EventEntryEnqueued       = "entry_enqueued"
	EventEntryDiscarded      = "entry_discarded"
)

// ConnectivityPayload is published on every online/offline transition.
type ConnectivityPayload struct {
	Online bool      `json:"online"`
	At     time.Time `json:"at"`
}

// EntryPayload describes the queue entry an event refers to.
type EntryPayload struct {
	EntryID       string            `json:"entry_id"`
	EntityType    models.EntityType `json:"entity_type"`
	Operation     models.Operation  `json:"operation"`
	LocalEntityID string            `json:"local_entity_id"`
	Pending       int               `json:"pending"`
}

// NewEntryPayload builds the payload for e with the queue length after the change.
func NewEntryPayload(e *models.QueueEntry, pending int) EntryPayload {
	return EntryPayload{
		EntryID:       e.ID,
		EntityType:    e.EntityType,
		Operation:     e.Operation,
		LocalEntityID: e.LocalEntityID,
		Pending:       pending,
	}
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

type subscription struct {
	id      uint64
	handler EventHandler
}

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]subscription
	mu          sync.RWMutex
	nextSub     atomic.Uint64
	nextEvent   atomic.Int64
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]subscription)}
}

// Subscribe registers a handler for a given event type and returns a function that
// removes it. The returned function is safe to call more than once.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) (unsubscribe func()) {
	id := b.nextSub.Add(1)

	b.mu.Lock()
	b.subscribers[eventType] = append(b.subscribers[eventType], subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subscribers[eventType]
			for i, s := range subs {
				if s.id == id {
					b.subscribers[eventType] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
			if len(b.subscribers[eventType]) == 0 {
				delete(b.subscribers, eventType)
			}
		})
	}
}

// SubscriberCount returns how many handlers listen for eventType.
func (b *EventBus) SubscriberCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[eventType])
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	if event.ID == 0 {
		event.ID = b.nextEvent.Add(1)
	}

	for _, s := range subs {
		// Handlers run synchronously; caller decides concurrency model.
		_ = s.handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
