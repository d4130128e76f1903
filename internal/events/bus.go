// Package events provides the typed event bus used for telemetry: one event
// per executed, skipped or failed instruction and per detected change.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType represents different event types
type EventType string

const (
	ChangeDetected     EventType = "CHANGE_DETECTED"
	SignalQueued       EventType = "SIGNAL_QUEUED"
	TradeExecuted      EventType = "TRADE_EXECUTED"
	TradeSkipped       EventType = "TRADE_SKIPPED"
	TradeFailed        EventType = "TRADE_FAILED"
	InstructionExpired EventType = "INSTRUCTION_EXPIRED"
	SyncCompleted      EventType = "SYNC_COMPLETED"
	ErrorOccurred      EventType = "ERROR_OCCURRED"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Module    string                 `json:"module"`
	Data      map[string]interface{} `json:"data,omitempty"`

	typed EventData
}

// GetTypedData returns the typed payload, or nil for untyped events
func (e *Event) GetTypedData() EventData {
	return e.typed
}

// Handler is called synchronously for each matching event. Handlers that do
// slow work must hand off to their own goroutine.
type Handler func(event *Event)

// Bus fans events out to subscribers by type
type Bus struct {
	mu          sync.RWMutex
	handlers    map[EventType][]Handler
	allHandlers map[int]Handler
	nextID      int
	log         zerolog.Logger
}

// NewBus creates a new event bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		handlers:    make(map[EventType][]Handler),
		allHandlers: make(map[int]Handler),
		log:         log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers a handler for one event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeAll registers a handler for every event type and returns an
// unsubscribe function. Used by the event stream endpoints and the Kafka
// sink; stream handlers unsubscribe when their client disconnects.
func (b *Bus) SubscribeAll(handler Handler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.allHandlers[id] = handler
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.allHandlers, id)
		b.mu.Unlock()
	}
}

// Publish delivers the event to all matching handlers
func (b *Bus) Publish(event *Event) {
	b.mu.RLock()
	typed := b.handlers[event.Type]
	all := make([]Handler, 0, len(b.allHandlers))
	for _, h := range b.allHandlers {
		all = append(all, h)
	}
	b.mu.RUnlock()

	for _, h := range typed {
		h(event)
	}
	for _, h := range all {
		h(event)
	}
}
