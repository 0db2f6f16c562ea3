// Package events provides the in-process event bus used to fan out
// domain events (indexed transactions, price updates, triggered alerts)
// to interested components such as the SSE stream.
package events

import (
	"sync"
	"time"
)

// EventType identifies a class of domain event
type EventType string

const (
	TxIndexed      EventType = "tx_indexed"
	PriceUpdated   EventType = "price_updated"
	AlertTriggered EventType = "alert_triggered"
	SnapshotSaved  EventType = "snapshot_saved"
	WalletSynced   EventType = "wallet_synced"
)

// Event is a single published event with its payload
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Handler receives published events
type Handler func(*Event)

// Bus is a simple synchronous publish/subscribe event bus.
// Handlers must not block; slow consumers (SSE connections) buffer on
// their own channels and drop when full.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[EventType]map[int]Handler
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType]map[int]Handler),
	}
}

// Subscribe registers a handler for an event type. The returned function
// removes the subscription; long-lived subscribers may discard it.
func (b *Bus) Subscribe(t EventType, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[t] == nil {
		b.handlers[t] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.handlers[t][id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[t], id)
	}
}

// SubscribeAll registers a handler for every listed event type and returns
// a function that removes all of the subscriptions.
func (b *Bus) SubscribeAll(types []EventType, h Handler) func() {
	unsubs := make([]func(), 0, len(types))
	for _, t := range types {
		unsubs = append(unsubs, b.Subscribe(t, h))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Publish delivers an event to all handlers registered for its type
func (b *Bus) Publish(t EventType, data interface{}) {
	event := &Event{
		Type:      t,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[t]))
	for _, h := range b.handlers[t] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}
