package dependency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crystaldolphin/qqadapter/internal/config"
)

func TestNew_ResolvesEveryService(t *testing.T) {
	c, err := New(config.DefaultAppConfig())
	require.NoError(t, err)
	assert.NotNil(t, c.Tokens())
	assert.NotNil(t, c.Refresher())
	assert.NotNil(t, c.EventBus())
	assert.NotNil(t, c.OutboundBus())
	assert.NotNil(t, c.Gateway())
	assert.NotNil(t, c.Webhooks())
	assert.NotNil(t, c.Host())
	assert.NotNil(t, c.Registry())
}
