package bus

import "context"

// EventBus carries events from the adapter to the host.
// The dispatcher calls Publish; the host reads via Subscribe.
type EventBus struct {
	ch chan Event
}

func NewEventBus(bufSize int) *EventBus {
	return &EventBus{ch: make(chan Event, bufSize)}
}

// Publish delivers an event to the host. It blocks while the buffer is
// full and gives up with ctx's error once ctx is done.
func (b *EventBus) Publish(ctx context.Context, ev Event) error {
	select {
	case b.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe returns a receive-only view of the event channel.
func (b *EventBus) Subscribe() <-chan Event {
	return b.ch
}

func (b *EventBus) Size() int { return len(b.ch) }
