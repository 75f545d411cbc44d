package registry

import (
	"context"
	"sync"

	"github.com/crystaldolphin/qqadapter/internal/compose"
	"github.com/crystaldolphin/qqadapter/internal/config/channel"
	"github.com/crystaldolphin/qqadapter/internal/gateway"
	"github.com/crystaldolphin/qqadapter/internal/logger"
	"github.com/crystaldolphin/qqadapter/internal/schema"
)

// Transport is the REST client of one identity. *qq.API implements it.
type Transport interface {
	compose.Transport
	gateway.URLSource
}

// Client is the schema.BotClient registered with the host for one identity.
// Its configuration is swapped in place on reload.
type Client struct {
	appID string

	mu        sync.RWMutex
	cfg       channel.QQConfig
	transport Transport
	composer  *compose.Composer
	opts      []compose.Option
}

func newClient(cfg channel.QQConfig, transport Transport, opts []compose.Option) *Client {
	c := &Client{appID: cfg.AppID, opts: opts}
	c.update(cfg, transport)
	return c
}

func (c *Client) update(cfg channel.QQConfig, transport Transport) {
	opts := append([]compose.Option{compose.WithLogger(logger.ForBot(cfg.AppID))}, c.opts...)
	composer := compose.New(cfg, transport, opts...)
	c.mu.Lock()
	c.cfg = cfg
	c.transport = transport
	c.composer = composer
	c.mu.Unlock()
}

func (c *Client) SelfID() string { return c.appID }

// Config returns the configuration the client currently sends with.
func (c *Client) Config() channel.QQConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

func (c *Client) Transport() Transport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.transport
}

func (c *Client) SendMsg(ctx context.Context, target schema.Target, elements []schema.Element) (schema.SendResult, error) {
	c.mu.RLock()
	composer := c.composer
	c.mu.RUnlock()
	return composer.Send(ctx, target, elements)
}
