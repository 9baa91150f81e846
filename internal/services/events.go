package services

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventSyncStart        EventType = "SYNC_START"
	EventItemSynced       EventType = "ITEM_SYNCED"
	EventItemFailed       EventType = "ITEM_FAILED"
	EventConflictDetected EventType = "CONFLICT_DETECTED"
	EventConflictResolved EventType = "CONFLICT_RESOLVED"
	EventSyncComplete     EventType = "SYNC_COMPLETE"
	EventSyncError        EventType = "SYNC_ERROR"
)

// Event is one sync lifecycle notification. Only the fields relevant to the
// event type are set.
type Event struct {
	Type       EventType
	RunID      uuid.UUID
	ItemID     uuid.UUID
	ConflictID uuid.UUID
	Synced     int
	Failed     int
	Error      string
	At         time.Time
}

type Listener func(Event)

// Bus is a small typed event bus. Subscribe returns an explicit unsubscribe
// handle; listeners are invoked synchronously in publish order.
type Bus struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[int]Listener
}

func NewBus() *Bus {
	return &Bus{listeners: make(map[int]Listener)}
}

func (b *Bus) Subscribe(fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.listeners[id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners, id)
	}
}

func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	listeners := make([]Listener, 0, len(b.listeners))
	for _, fn := range b.listeners {
		listeners = append(listeners, fn)
	}
	b.mu.RUnlock()

	for _, fn := range listeners {
		fn(event)
	}
}
