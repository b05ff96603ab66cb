package ports

import "context"

// EventType identifies a class of platform events
type EventType string

const (
	// EventFlowTransition is emitted for every committed phase transition
	EventFlowTransition EventType = "flow.transition"
	// EventFlowLifecycle is emitted when the whole-flow status changes
	EventFlowLifecycle EventType = "flow.lifecycle"
)

// EventHandler processes a published event. Handlers must not mutate flow
// records directly; delivery to UIs or message relays is their concern.
type EventHandler func(ctx context.Context, eventType EventType, payload interface{})

// EventPublisher decouples the orchestration core from notification
// transport. The core only emits; polling or relaying is external.
// Subscribe returns an unsubscribe function.
type EventPublisher interface {
	Publish(ctx context.Context, eventType EventType, payload interface{})
	Subscribe(eventType EventType, handler EventHandler) func()
}
