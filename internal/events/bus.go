// Package events provides the in-process event bus used to broadcast
// engine activity to subscribers (websocket stream, logging).
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType represents different event types
type EventType string

const (
	RegimeEvaluated    EventType = "REGIME_EVALUATED"
	RegimeChanged      EventType = "REGIME_CHANGED"
	StrategySelected   EventType = "STRATEGY_SELECTED"
	TargetsBuilt       EventType = "TARGETS_BUILT"
	ConstraintsClipped EventType = "CONSTRAINTS_CLIPPED"
	BatchCreated       EventType = "BATCH_CREATED"
	BatchStatusChanged EventType = "BATCH_STATUS_CHANGED"
	TradeExecuted      EventType = "TRADE_EXECUTED"
	RebalanceStarted   EventType = "REBALANCE_STARTED"
	RebalanceFinished  EventType = "REBALANCE_FINISHED"
	ErrorOccurred      EventType = "ERROR_OCCURRED"
	BackupCompleted    EventType = "BACKUP_COMPLETED"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Module    string                 `json:"module"`
	Data      map[string]interface{} `json:"data"`
}

// Handler is a subscriber callback. Handlers must not block; slow
// consumers should buffer on their own channel.
type Handler func(event *Event)

// Bus is a synchronous in-process publish/subscribe bus
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[EventType]map[int]Handler
	log      zerolog.Logger
}

// NewBus creates a new event bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[EventType]map[int]Handler),
		log:      log.With().Str("service", "events").Logger(),
	}
}

// Subscribe registers a handler for an event type and returns an
// unsubscribe function. Callers with a bounded lifetime (websocket
// connections) must call it on teardown.
func (b *Bus) Subscribe(eventType EventType, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.handlers[eventType][id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[eventType], id)
	}
}

// Emit publishes an event to all subscribers of its type. Delivery is
// synchronous; relative order across subscribers is unspecified.
func (b *Bus) Emit(eventType EventType, module string, data map[string]interface{}) {
	event := &Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Module:    module,
		Data:      data,
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[eventType]))
	for _, handler := range b.handlers[eventType] {
		handlers = append(handlers, handler)
	}
	b.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}

	b.log.Debug().
		Str("event_type", string(eventType)).
		Str("module", module).
		Int("subscribers", len(handlers)).
		Msg("Event emitted")
}

// EmitError emits an error event
func (b *Bus) EmitError(module string, err error, context map[string]interface{}) {
	data := map[string]interface{}{
		"error":   err.Error(),
		"context": context,
	}
	b.Emit(ErrorOccurred, module, data)
}
