package bus

import (
	"github.com/crystaldolphin/qqadapter/internal/schema"
)

// OutboundResult is the outcome of one OutboundRequest.
type OutboundResult struct {
	Result schema.SendResult
	Err    error
}

// OutboundRequest asks the adapter to send elements as botID.
type OutboundRequest struct {
	botID    string
	target   schema.Target
	elements []schema.Element
	done     chan OutboundResult
}

func NewOutboundRequest(botID string, target schema.Target, elements ...schema.Element) OutboundRequest {
	return OutboundRequest{
		botID:    botID,
		target:   target,
		elements: elements,
	}
}

func (r OutboundRequest) BotID() string              { return r.botID }
func (r OutboundRequest) Target() schema.Target      { return r.target }
func (r OutboundRequest) Elements() []schema.Element { return r.elements }

// WithResult returns a copy of r that reports its outcome on a channel,
// and that channel.
func (r OutboundRequest) WithResult() (OutboundRequest, <-chan OutboundResult) {
	r.done = make(chan OutboundResult, 1)
	return r, r.done
}

// Complete reports the outcome to a waiting caller, if any.
func (r OutboundRequest) Complete(res schema.SendResult, err error) {
	if r.done != nil {
		r.done <- OutboundResult{Result: res, Err: err}
	}
}
