package bus

import (
	"strings"

	"github.com/crystaldolphin/qqadapter/internal/schema"
)

// RoutingKey names one conversation of one bot: "botID:scene:id".
func RoutingKey(botID string, t schema.Target) string {
	if t.ID == "" {
		return botID
	}
	return botID + ":" + string(t.Scene) + ":" + t.ID
}

// ParseRoutingKey splits a routing key into bot id and target.
func ParseRoutingKey(key string) (botID string, t schema.Target) {
	parts := strings.SplitN(key, ":", 3)
	botID = parts[0]
	if len(parts) == 3 {
		t = schema.Target{Scene: schema.Scene(parts[1]), ID: parts[2]}
	}
	return botID, t
}
