// Package bus carries events from the adapter to the host and send
// requests from the host back to the adapter.
package bus

import (
	"encoding/json"
	"time"

	"github.com/crystaldolphin/qqadapter/internal/schema"
	"github.com/crystaldolphin/qqadapter/internal/shared/stringutils"
)

// EventKind groups platform event types.
type EventKind string

const (
	KindMessage EventKind = "message"
	KindNotice  EventKind = "notice"
	KindMeta    EventKind = "meta"
)

// Event is one platform event delivered to the host.
type Event struct {
	botID     string
	kind      EventKind
	typ       string          // platform dispatch type, e.g. GROUP_AT_MESSAGE_CREATE
	id        string          // platform event id
	seq       int64           // gateway sequence number (0 for webhook delivery)
	timestamp time.Time
	data      json.RawMessage // the dispatch payload, verbatim

	// message events only
	target    schema.Target
	senderID  string
	messageID string
	content   string
}

// NewEvent creates an Event with Timestamp set to now.
// Use SetMessage to attach the decoded message fields.
func NewEvent(botID string, kind EventKind, typ, id string, seq int64, data json.RawMessage) Event {
	return Event{
		botID:     botID,
		kind:      kind,
		typ:       typ,
		id:        id,
		seq:       seq,
		timestamp: time.Now(),
		data:      data,
	}
}

func (e Event) BotID() string             { return e.botID }
func (e Event) Kind() EventKind           { return e.kind }
func (e Event) Type() string              { return e.typ }
func (e Event) ID() string                { return e.id }
func (e Event) Seq() int64                { return e.seq }
func (e Event) Timestamp() time.Time      { return e.timestamp }
func (e Event) Data() json.RawMessage     { return e.data }
func (e Event) Target() schema.Target     { return e.target }
func (e Event) SenderID() string          { return e.senderID }
func (e Event) MessageID() string         { return e.messageID }
func (e Event) Content() string           { return e.content }
func (e *Event) SetTimestamp(t time.Time) { e.timestamp = t }

// SetMessage fills the fields of a message event.
func (e *Event) SetMessage(target schema.Target, senderID, messageID, content string) {
	e.target = target
	e.senderID = senderID
	e.messageID = messageID
	e.content = content
}

// RoutingKey names the conversation the event belongs to.
func (e Event) RoutingKey() string { return RoutingKey(e.botID, e.target) }

// Passive returns the element that binds a reply to this event.
func (e Event) Passive() schema.Element {
	if e.messageID != "" {
		return schema.Passive(e.messageID, 0)
	}
	return schema.EventPassive(e.id)
}

// Preview returns a short snippet of the message content for logging.
func (e Event) Preview() string {
	return stringutils.Truncate(e.content, 80)
}
