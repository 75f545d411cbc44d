package schema

import "context"

// BotClient is what the adapter registers with the host for one identity.
type BotClient interface {
	// SelfID returns the bot identity (application id).
	SelfID() string
	// SendMsg delivers elements to target, as one or more platform messages.
	SendMsg(ctx context.Context, target Target, elements []Element) (SendResult, error)
}

// Host is the bot framework the adapter plugs into.
type Host interface {
	Register(client BotClient)
	Unregister(selfID string)
}
