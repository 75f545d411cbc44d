package gateway

import "time"

// MaxReconnectAttempts bounds consecutive auto-reconnects of one identity.
const MaxReconnectAttempts = 5

const (
	baseReconnectDelay = time.Second
	maxReconnectDelay  = 16 * time.Second
)

// ReconnectDelay is the wait before auto-reconnect attempt k (0-indexed):
// min(1s * 2^k, 16s).
func ReconnectDelay(k int) time.Duration {
	if k < 0 {
		k = 0
	}
	if k >= 5 {
		return maxReconnectDelay
	}
	return min(baseReconnectDelay<<k, maxReconnectDelay)
}
