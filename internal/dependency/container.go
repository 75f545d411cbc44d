// Package dependency wires the adapter's services using go.uber.org/dig.
package dependency

import (
	"fmt"

	"go.uber.org/dig"

	"github.com/crystaldolphin/qqadapter/internal/bus"
	"github.com/crystaldolphin/qqadapter/internal/config"
	"github.com/crystaldolphin/qqadapter/internal/dispatch"
	"github.com/crystaldolphin/qqadapter/internal/gateway"
	"github.com/crystaldolphin/qqadapter/internal/host"
	"github.com/crystaldolphin/qqadapter/internal/qq"
	"github.com/crystaldolphin/qqadapter/internal/registry"
	"github.com/crystaldolphin/qqadapter/internal/webhook"
)

const busSize = 100

// Container holds the resolved service singletons.
// Callers use the typed getter methods; they never need to import dig directly.
type Container struct {
	tokens    *qq.TokenProvider
	refresher *qq.Refresher
	events    *bus.EventBus
	outbound  *bus.OutboundBus
	gateway   *gateway.Manager
	webhooks  *webhook.Server
	host      *host.Local
	registry  *registry.Registry
}

func (c *Container) Tokens() *qq.TokenProvider     { return c.tokens }
func (c *Container) Refresher() *qq.Refresher      { return c.refresher }
func (c *Container) EventBus() *bus.EventBus       { return c.events }
func (c *Container) OutboundBus() *bus.OutboundBus { return c.outbound }
func (c *Container) Gateway() *gateway.Manager     { return c.gateway }
func (c *Container) Webhooks() *webhook.Server     { return c.webhooks }
func (c *Container) Host() *host.Local             { return c.host }
func (c *Container) Registry() *registry.Registry  { return c.registry }

// New builds and wires all services from cfg.
func New(cfg config.AppConfig) (*Container, error) {
	d := dig.New()

	providers := []any{
		func() config.AppConfig { return cfg },
		newTokenProvider,
		qq.NewRefresher,
		newEventBus,
		newOutboundBus,
		dispatch.New,
		newGatewayManager,
		newWebhookServer,
		host.NewLocal,
		newRegistry,
	}
	for _, p := range providers {
		if err := d.Provide(p); err != nil {
			return nil, err
		}
	}

	var result *Container
	err := d.Invoke(func(
		tokens *qq.TokenProvider,
		refresher *qq.Refresher,
		events *bus.EventBus,
		outbound *bus.OutboundBus,
		gw *gateway.Manager,
		webhooks *webhook.Server,
		h *host.Local,
		reg *registry.Registry,
	) {
		result = &Container{
			tokens:    tokens,
			refresher: refresher,
			events:    events,
			outbound:  outbound,
			gateway:   gw,
			webhooks:  webhooks,
			host:      h,
			registry:  reg,
		}
	})
	return result, err
}

func newTokenProvider() *qq.TokenProvider {
	return qq.NewTokenProvider()
}

func newEventBus() *bus.EventBus {
	return bus.NewEventBus(busSize)
}

func newOutboundBus() *bus.OutboundBus {
	return bus.NewOutboundBus(busSize)
}

func newGatewayManager(tokens *qq.TokenProvider, d *dispatch.Dispatcher) *gateway.Manager {
	return gateway.NewManager(tokens, d)
}

func newWebhookServer(cfg config.AppConfig, d *dispatch.Dispatcher) *webhook.Server {
	return webhook.New(fmt.Sprintf("%s:%d", cfg.Webhook.Host, cfg.Webhook.Port), d)
}

func newRegistry(
	tokens *qq.TokenProvider,
	gw *gateway.Manager,
	webhooks *webhook.Server,
	h *host.Local,
	outbound *bus.OutboundBus,
) *registry.Registry {
	return registry.New(tokens, gw, webhooks, h, outbound, registry.APITransport(tokens))
}
