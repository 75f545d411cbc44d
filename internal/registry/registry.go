// Package registry owns one entry per bot identity: its host client, its
// registration state and its event transport.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/crystaldolphin/qqadapter/internal/bus"
	"github.com/crystaldolphin/qqadapter/internal/compose"
	"github.com/crystaldolphin/qqadapter/internal/config"
	"github.com/crystaldolphin/qqadapter/internal/config/channel"
	"github.com/crystaldolphin/qqadapter/internal/gateway"
	"github.com/crystaldolphin/qqadapter/internal/qq"
	"github.com/crystaldolphin/qqadapter/internal/schema"
)

// ErrUnknownBot is reported for outbound requests naming no live identity.
var ErrUnknownBot = errors.New("registry: unknown bot")

// Tokens fetches access tokens.
type Tokens interface {
	AccessToken(ctx context.Context, appID, secret string) (string, error)
	Invalidate(appID string)
}

// Gateway is the WebSocket session manager.
type Gateway interface {
	Open(ctx context.Context, cfg channel.QQConfig, urls gateway.URLSource) bool
	Stop(appID string) bool
}

// Webhooks is the HTTP callback server.
type Webhooks interface {
	Add(appID, secret string) error
	Remove(appID string) bool
}

// TransportFactory builds the REST client of one identity.
type TransportFactory func(cfg channel.QQConfig) Transport

// APITransport returns a factory building *qq.API clients on tokens.
func APITransport(tokens *qq.TokenProvider) TransportFactory {
	return func(cfg channel.QQConfig) Transport {
		return qq.NewAPI(cfg.AppID, cfg.Secret, cfg.Sandbox, tokens)
	}
}

type entry struct {
	client     *Client
	registered bool
	mode       string
}

// Registry applies configuration records to live identities. Apply, Remove
// and Reconcile are serialised; Run may send concurrently with them.
type Registry struct {
	tokens       Tokens
	gateway      Gateway
	webhooks     Webhooks
	host         schema.Host
	outbound     *bus.OutboundBus
	newTransport TransportFactory
	composeOpts  []compose.Option

	applyMu sync.Mutex
	mu      sync.RWMutex
	entries map[string]*entry
}

// Option configures a Registry.
type Option func(*Registry)

// WithComposeOptions passes options to every client's composer.
func WithComposeOptions(opts ...compose.Option) Option {
	return func(r *Registry) { r.composeOpts = opts }
}

func New(
	tokens Tokens,
	gw Gateway,
	webhooks Webhooks,
	host schema.Host,
	outbound *bus.OutboundBus,
	newTransport TransportFactory,
	opts ...Option,
) *Registry {
	r := &Registry{
		tokens:       tokens,
		gateway:      gw,
		webhooks:     webhooks,
		host:         host,
		outbound:     outbound,
		newTransport: newTransport,
		entries:      make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Apply creates or updates cfg's identity and switches it to cfg.Mode.
// Rejected credentials stop and evict the identity and are returned.
// A gateway that does not become ready is logged; the session manager
// keeps ownership of the connection.
func (r *Registry) Apply(ctx context.Context, cfg channel.QQConfig) error {
	r.applyMu.Lock()
	defer r.applyMu.Unlock()

	if cfg.Disable {
		r.remove(cfg.AppID)
		return nil
	}
	log := slog.With("bot", cfg.AppID)

	r.mu.Lock()
	e, ok := r.entries[cfg.AppID]
	transport := r.newTransport(cfg)
	if ok {
		e.client.update(cfg, transport)
	} else {
		e = &entry{client: newClient(cfg, transport, r.composeOpts)}
		r.entries[cfg.AppID] = e
	}
	r.mu.Unlock()

	if _, err := r.tokens.AccessToken(ctx, cfg.AppID, cfg.Secret); err != nil {
		var authErr *qq.AuthError
		if errors.As(err, &authErr) {
			log.Error("registry: credentials rejected, bot evicted", "err", err)
			r.remove(cfg.AppID)
			return err
		}
		return fmt.Errorf("registry: token for %s: %w", cfg.AppID, err)
	}

	if !e.registered {
		r.host.Register(e.client)
		e.registered = true
		log.Info("registry: client registered")
	}

	switch cfg.Mode {
	case channel.ModeWebhook:
		r.gateway.Stop(cfg.AppID)
		if err := r.webhooks.Add(cfg.AppID, cfg.Secret); err != nil {
			return err
		}
	case channel.ModeOff:
		r.gateway.Stop(cfg.AppID)
		r.webhooks.Remove(cfg.AppID)
	default:
		r.webhooks.Remove(cfg.AppID)
		if !r.gateway.Open(ctx, cfg, transport) {
			log.Warn("registry: gateway not ready, session manager will retry")
		}
	}
	r.mu.Lock()
	e.mode = cfg.Mode
	r.mu.Unlock()
	return nil
}

// Remove tears down appID and reports whether it existed.
func (r *Registry) Remove(appID string) bool {
	r.applyMu.Lock()
	defer r.applyMu.Unlock()
	return r.remove(appID)
}

func (r *Registry) remove(appID string) bool {
	r.gateway.Stop(appID)
	r.webhooks.Remove(appID)
	r.tokens.Invalidate(appID)

	r.mu.Lock()
	e, ok := r.entries[appID]
	delete(r.entries, appID)
	r.mu.Unlock()
	if !ok {
		return false
	}
	if e.registered {
		r.host.Unregister(appID)
	}
	slog.Info("registry: bot removed", "bot", appID)
	return true
}

// Reconcile applies a reload diff: removals first, then changed records in
// file order. Every record is attempted; the failures are joined.
func (r *Registry) Reconcile(ctx context.Context, d config.Diff) error {
	var errs []error
	for _, id := range d.Removed {
		r.Remove(id)
	}
	for _, cfg := range d.Changed {
		if err := r.Apply(ctx, cfg); err != nil {
			slog.Warn("registry: apply failed", "bot", cfg.AppID, "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Client returns the live client of appID.
func (r *Registry) Client(appID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[appID]
	if !ok {
		return nil, false
	}
	return e.client, true
}

// Mode returns the transport mode last applied to appID.
func (r *Registry) Mode(appID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[appID]
	if !ok {
		return "", false
	}
	return e.mode, true
}

// Run routes outbound requests to their identity's client until ctx is
// cancelled. Requests are sent one at a time in arrival order.
func (r *Registry) Run(ctx context.Context) error {
	for {
		select {
		case req := <-r.outbound.Subscribe():
			r.send(ctx, req)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Registry) send(ctx context.Context, req bus.OutboundRequest) {
	c, ok := r.Client(req.BotID())
	if !ok {
		slog.Debug("registry: outbound for unknown bot", "bot", req.BotID())
		req.Complete(schema.SendResult{}, fmt.Errorf("%w: %s", ErrUnknownBot, req.BotID()))
		return
	}
	res, err := c.SendMsg(ctx, req.Target(), req.Elements())
	if err != nil {
		slog.Error("registry: send failed", "bot", req.BotID(), "target", req.Target().String(), "err", err)
	}
	req.Complete(res, err)
}

// Shutdown stops every identity.
func (r *Registry) Shutdown() {
	r.applyMu.Lock()
	defer r.applyMu.Unlock()
	r.mu.RLock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	for _, id := range ids {
		r.remove(id)
	}
}
