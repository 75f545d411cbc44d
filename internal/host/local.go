// Package host is an in-process stand-in for the bot framework: it keeps
// the registered clients, logs inbound events and answers a ping command.
package host

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/crystaldolphin/qqadapter/internal/bus"
	"github.com/crystaldolphin/qqadapter/internal/schema"
)

const (
	pingCommand = "/ping"
	pongReply   = "pong"
)

// Local implements schema.Host.
type Local struct {
	events   *bus.EventBus
	outbound *bus.OutboundBus

	mu      sync.RWMutex
	clients map[string]schema.BotClient
}

func NewLocal(events *bus.EventBus, outbound *bus.OutboundBus) *Local {
	return &Local{
		events:   events,
		outbound: outbound,
		clients:  make(map[string]schema.BotClient),
	}
}

func (h *Local) Register(c schema.BotClient) {
	h.mu.Lock()
	h.clients[c.SelfID()] = c
	h.mu.Unlock()
	slog.Info("host: bot online", "bot", c.SelfID())
}

func (h *Local) Unregister(selfID string) {
	h.mu.Lock()
	delete(h.clients, selfID)
	h.mu.Unlock()
	slog.Info("host: bot offline", "bot", selfID)
}

// Bots lists the registered identities in sorted order.
func (h *Local) Bots() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Run consumes the event bus until ctx is cancelled.
func (h *Local) Run(ctx context.Context) error {
	slog.Info("host: started")
	for {
		select {
		case ev := <-h.events.Subscribe():
			h.handle(ctx, ev)
		case <-ctx.Done():
			slog.Info("host: stopping")
			return ctx.Err()
		}
	}
}

func (h *Local) handle(ctx context.Context, ev bus.Event) {
	if ev.Kind() != bus.KindMessage {
		slog.Debug("host: event", "bot", ev.BotID(), "kind", ev.Kind(), "type", ev.Type())
		return
	}
	slog.Info("host: message",
		"conversation", ev.RoutingKey(),
		"sender", ev.SenderID(),
		"preview", ev.Preview(),
	)
	if strings.TrimSpace(ev.Content()) != pingCommand {
		return
	}
	h.mu.RLock()
	_, online := h.clients[ev.BotID()]
	h.mu.RUnlock()
	if !online {
		return
	}
	req := bus.NewOutboundRequest(ev.BotID(), ev.Target(), ev.Passive(), schema.Text(pongReply))
	if err := h.outbound.Publish(ctx, req); err != nil {
		slog.Warn("host: reply dropped", "bot", ev.BotID(), "err", err)
	}
}
