package services

import (
	"context"
	"log"
	"sync"

	"github.com/migratehub/backend/internal/domain/ports"
)

// EventType is an alias to the domain type
type EventType = ports.EventType

// EventHandler is a function that handles an event.
// Using the type from ports to ensure interface compatibility.
type EventHandler = ports.EventHandler

// EventBus manages the in-process publish-subscribe system.
// It implements ports.EventPublisher.
type EventBus struct {
	handlers map[EventType][]subscription
	nextID   uint64
	mu       sync.RWMutex
}

type subscription struct {
	id      uint64
	handler EventHandler
}

// Ensure EventBus implements ports.EventPublisher at compile time
var _ ports.EventPublisher = (*EventBus)(nil)

// NewEventBus creates a new EventBus instance
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]subscription),
	}
}

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function.
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.nextID++
	id := eb.nextID
	eb.handlers[eventType] = append(eb.handlers[eventType], subscription{id: id, handler: handler})

	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()

		subs := eb.handlers[eventType]
		for i, s := range subs {
			if s.id == id {
				eb.handlers[eventType] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
}

// Publish delivers an event to all registered handlers in sequence.
// Handler panics are contained so a misbehaving subscriber cannot poison
// the commit path that emitted the event.
func (eb *EventBus) Publish(ctx context.Context, eventType EventType, payload interface{}) {
	eb.mu.RLock()
	subs := make([]subscription, len(eb.handlers[eventType]))
	copy(subs, eb.handlers[eventType])
	eb.mu.RUnlock()

	for _, s := range subs {
		eb.deliver(ctx, s, eventType, payload)
	}
}

func (eb *EventBus) deliver(ctx context.Context, s subscription, eventType EventType, payload interface{}) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("⚠️ EventBus handler panic for %s: %v", eventType, r)
		}
	}()
	s.handler(ctx, eventType, payload)
}

// Clear removes all handlers (useful for testing)
func (eb *EventBus) Clear() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers = make(map[EventType][]subscription)
}
