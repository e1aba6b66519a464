package events

import (
	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers
// Usage: bus.Publish(FrameRecordedEvent{...})
func (b *Bus) Publish(ev Event) {
	// Use type switch to call the generic Publish with the correct type
	switch e := ev.(type) {
	case FrameRecordedEvent:
		event.Publish(b.dispatcher, e)
	case SessionRecordEvent:
		event.Publish(b.dispatcher, e)
	case RecordDroppedEvent:
		event.Publish(b.dispatcher, e)
	case WriteErrorEvent:
		event.Publish(b.dispatcher, e)
	case SegmentLostEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function
// The handler type determines which events it receives (type inference)
// Returns an unsubscribe function
// Usage: unsub := bus.Subscribe(func(e FrameRecordedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(FrameRecordedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SessionRecordEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(RecordDroppedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(WriteErrorEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SegmentLostEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		// Return a no-op function if handler type is not recognized
		return func() {}
	}
}
