// Package events provides the synchronous notification stream emitted on
// every successful mutation: item creation and deletion, transfers, listing
// changes, purchases, and policy updates. Observers subscribe in-process and
// handlers run on the mutating call path.
package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Type classifies an engine notification.
type Type string

const (
	CollectionCreated  Type = "collection.created"
	ItemMinted         Type = "asset.minted"
	BatchMinted        Type = "asset.batch_minted"
	ItemBurned         Type = "asset.burned"
	BatchBurned        Type = "asset.batch_burned"
	ItemTransferred    Type = "asset.transferred"
	BatchTransferred   Type = "asset.batch_transferred"
	PriceSet           Type = "asset.price_set"
	ItemPurchased      Type = "asset.purchased"
	RoyaltyChanged     Type = "asset.royalty_changed"
	MarketplaceChanged Type = "asset.marketplace_changed"
	RoleGranted        Type = "role.granted"
	RoleRevoked        Type = "role.revoked"
)

// Event is a structured notification about a successful mutation.
type Event struct {
	ID           uint64    `json:"id"`
	Type         Type      `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
	CollectionID string    `json:"collection_id,omitempty"`
	ItemID       uint64    `json:"item_id,omitempty"`
	FirstID      uint64    `json:"first_id,omitempty"`
	LastID       uint64    `json:"last_id,omitempty"`
	Principal    string    `json:"principal,omitempty"`
	From         string    `json:"from,omitempty"`
	To           string    `json:"to,omitempty"`
	Amount       uint64    `json:"amount,omitempty"`
	Count        int       `json:"count,omitempty"`
	Detail       string    `json:"detail,omitempty"`
}

// String returns the JSON form, which is stable enough for logs.
func (e Event) String() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf("event %d %s", e.ID, e.Type)
	}
	return string(data)
}

// Handler processes events as they occur.
type Handler func(Event)

// Filter decides whether a handler sees an event.
type Filter func(Event) bool

// Emitter is the notification sink used by the services.
type Emitter interface {
	Emit(event Event)
}

type handlerEntry struct {
	id      int64
	filter  Filter
	handler Handler
}

// RingBuffer is a thread-safe circular buffer of recent events that also
// fans events out to subscribed handlers.
type RingBuffer struct {
	mu       sync.RWMutex
	events   []Event
	size     int
	head     int
	count    int
	handlers []handlerEntry
	nextSub  int64

	nextID atomic.Uint64
}

var _ Emitter = (*RingBuffer)(nil)

// NewRingBuffer creates a buffer retaining the most recent size events.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1000
	}
	return &RingBuffer{
		events: make([]Event, size),
		size:   size,
	}
}

// Emit records the event and notifies subscribers synchronously.
func (rb *RingBuffer) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.ID = rb.nextID.Add(1)

	rb.mu.Lock()
	rb.events[rb.head] = event
	rb.head = (rb.head + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}
	handlers := make([]handlerEntry, len(rb.handlers))
	copy(handlers, rb.handlers)
	rb.mu.Unlock()

	// Handlers run outside the lock so they may query the buffer.
	for _, h := range handlers {
		if h.filter == nil || h.filter(event) {
			h.handler(event)
		}
	}
}

// Subscribe registers a handler for all events and returns an unsubscribe
// function.
func (rb *RingBuffer) Subscribe(handler Handler) func() {
	return rb.SubscribeFiltered(nil, handler)
}

// SubscribeFiltered registers a handler that only sees events accepted by
// the filter.
func (rb *RingBuffer) SubscribeFiltered(filter Filter, handler Handler) func() {
	rb.mu.Lock()
	id := rb.nextSub
	rb.nextSub++
	rb.handlers = append(rb.handlers, handlerEntry{id: id, filter: filter, handler: handler})
	rb.mu.Unlock()

	return func() {
		rb.mu.Lock()
		defer rb.mu.Unlock()
		for i, h := range rb.handlers {
			if h.id == id {
				rb.handlers = append(rb.handlers[:i], rb.handlers[i+1:]...)
				return
			}
		}
	}
}

// Recent returns up to n of the most recent events, newest first.
func (rb *RingBuffer) Recent(n int) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || n > rb.count {
		n = rb.count
	}
	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		idx := (rb.head - 1 - i + rb.size*2) % rb.size
		out = append(out, rb.events[idx])
	}
	return out
}

// RecentByType returns up to n recent events of the given type, newest first.
func (rb *RingBuffer) RecentByType(eventType Type, n int) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 {
		n = rb.count
	}
	out := make([]Event, 0, n)
	for i := 0; i < rb.count && len(out) < n; i++ {
		idx := (rb.head - 1 - i + rb.size*2) % rb.size
		if rb.events[idx].Type == eventType {
			out = append(out, rb.events[idx])
		}
	}
	return out
}

// RecentByCollection returns up to n recent events for a collection, newest
// first.
func (rb *RingBuffer) RecentByCollection(collectionID string, n int) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 {
		n = rb.count
	}
	out := make([]Event, 0, n)
	for i := 0; i < rb.count && len(out) < n; i++ {
		idx := (rb.head - 1 - i + rb.size*2) % rb.size
		if rb.events[idx].CollectionID == collectionID {
			out = append(out, rb.events[idx])
		}
	}
	return out
}

// Discard is an Emitter that drops everything. Services fall back to it when
// no buffer is wired.
type Discard struct{}

func (Discard) Emit(Event) {}
