package bus

import "context"

// OutboundBus carries send requests from the host to the adapter.
// The host calls Publish; the registry reads via Subscribe.
type OutboundBus struct {
	ch chan OutboundRequest
}

func NewOutboundBus(bufSize int) *OutboundBus {
	return &OutboundBus{ch: make(chan OutboundRequest, bufSize)}
}

// Publish delivers a send request to the adapter, giving up once ctx is done.
func (b *OutboundBus) Publish(ctx context.Context, req OutboundRequest) error {
	select {
	case b.ch <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe returns a receive-only view of the request channel.
func (b *OutboundBus) Subscribe() <-chan OutboundRequest {
	return b.ch
}
