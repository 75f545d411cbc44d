// Package dispatch routes decoded gateway events to per-type handlers.
package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/crystaldolphin/qqadapter/internal/bus"
	"github.com/crystaldolphin/qqadapter/internal/gateway"
)

const seenWindow = 1000

// Handler consumes one dispatch event of one identity.
type Handler func(ctx context.Context, appID string, ev gateway.Event)

// Dispatcher implements gateway.EventSink. Unknown event types are logged
// and dropped; redelivered event ids are dropped.
type Dispatcher struct {
	events *bus.EventBus

	mu       sync.RWMutex
	handlers map[string]Handler

	seenMu    sync.Mutex
	seen      map[string]struct{}
	seenQueue []string
}

func New(events *bus.EventBus) *Dispatcher {
	d := &Dispatcher{
		events:   events,
		handlers: make(map[string]Handler),
		seen:     make(map[string]struct{}),
	}
	for _, t := range MessageTypes {
		d.handlers[t] = d.handleMessage
	}
	for _, t := range NoticeTypes {
		d.handlers[t] = d.handleNotice
	}
	d.handlers[gateway.EventReady] = d.handleLifecycle
	d.handlers[gateway.EventResumed] = d.handleLifecycle
	return d
}

// Handle replaces the handler of one event type.
func (d *Dispatcher) Handle(typ string, h Handler) {
	d.mu.Lock()
	d.handlers[typ] = h
	d.mu.Unlock()
}

// Emit routes ev to the handler registered for its type.
func (d *Dispatcher) Emit(ctx context.Context, appID string, ev gateway.Event) {
	if ev.ID != "" && d.isDuplicate(appID+"/"+ev.ID) {
		slog.Debug("dispatch: duplicate event dropped", "bot", appID, "type", ev.Type, "id", ev.ID)
		return
	}
	d.mu.RLock()
	h, ok := d.handlers[ev.Type]
	d.mu.RUnlock()
	if !ok {
		slog.Debug("dispatch: unknown event type", "bot", appID, "type", ev.Type)
		return
	}
	h(ctx, appID, ev)
}

func (d *Dispatcher) isDuplicate(key string) bool {
	d.seenMu.Lock()
	defer d.seenMu.Unlock()
	if _, ok := d.seen[key]; ok {
		return true
	}
	d.seen[key] = struct{}{}
	d.seenQueue = append(d.seenQueue, key)
	if len(d.seenQueue) > seenWindow {
		delete(d.seen, d.seenQueue[0])
		d.seenQueue = d.seenQueue[1:]
	}
	return false
}

func (d *Dispatcher) handleMessage(ctx context.Context, appID string, ev gateway.Event) {
	out, err := decodeMessage(appID, ev)
	if err != nil {
		slog.Warn("dispatch: undecodable message", "bot", appID, "type", ev.Type, "err", err)
		return
	}
	slog.Info("dispatch: message",
		"bot", appID,
		"type", ev.Type,
		"target", out.Target().String(),
		"preview", out.Preview(),
	)
	d.publish(ctx, out)
}

func (d *Dispatcher) handleNotice(ctx context.Context, appID string, ev gateway.Event) {
	slog.Debug("dispatch: notice", "bot", appID, "type", ev.Type)
	d.publish(ctx, bus.NewEvent(appID, bus.KindNotice, ev.Type, ev.ID, ev.Seq, ev.Data))
}

func (d *Dispatcher) handleLifecycle(ctx context.Context, appID string, ev gateway.Event) {
	var r struct {
		SessionID string `json:"session_id"`
		User      struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"user"`
	}
	_ = json.Unmarshal(ev.Data, &r)
	slog.Info("dispatch: session "+lifecycleVerb(ev.Type), "bot", appID, "session", r.SessionID, "user", r.User.Username)
	d.publish(ctx, bus.NewEvent(appID, bus.KindMeta, ev.Type, ev.ID, ev.Seq, ev.Data))
}

func (d *Dispatcher) publish(ctx context.Context, ev bus.Event) {
	if err := d.events.Publish(ctx, ev); err != nil {
		slog.Warn("dispatch: event dropped", "bot", ev.BotID(), "type", ev.Type(), "err", err)
	}
}

func lifecycleVerb(typ string) string {
	if typ == gateway.EventResumed {
		return "resumed"
	}
	return "ready"
}
