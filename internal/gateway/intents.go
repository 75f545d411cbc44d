package gateway

import (
	"strings"

	"github.com/crystaldolphin/qqadapter/internal/config/channel"
)

// Intent is the capability bitmask sent in Identify.
type Intent uint32

const (
	IntentGuilds                Intent = 1 << 0
	IntentGuildMembers          Intent = 1 << 1
	IntentGuildMessages         Intent = 1 << 9
	IntentGuildMessageReactions Intent = 1 << 10
	IntentDirectMessage         Intent = 1 << 12
	IntentGroupAndC2C           Intent = 1 << 25
	IntentInteraction           Intent = 1 << 26
	IntentPublicGuildMessages   Intent = 1 << 30
)

// IntentBase is requested by every session regardless of configuration.
const IntentBase = IntentGuilds | IntentGuildMembers | IntentDirectMessage | IntentGroupAndC2C

var intentNames = []struct {
	bit  Intent
	name string
}{
	{IntentGuilds, "guilds"},
	{IntentGuildMembers, "guild_members"},
	{IntentGuildMessages, "guild_messages"},
	{IntentGuildMessageReactions, "guild_message_reactions"},
	{IntentDirectMessage, "direct_message"},
	{IntentGroupAndC2C, "group_and_c2c"},
	{IntentInteraction, "interaction"},
	{IntentPublicGuildMessages, "public_guild_messages"},
}

// IntentsFor derives the bitmask for cfg. Exactly one of the two guild
// message bits is set, chosen by the public/private domain flag.
func IntentsFor(cfg channel.QQConfig) Intent {
	i := IntentBase
	if cfg.Public {
		i |= IntentPublicGuildMessages
	} else {
		i |= IntentGuildMessages
	}
	if cfg.Reactions {
		i |= IntentGuildMessageReactions
	}
	if cfg.Interactions {
		i |= IntentInteraction
	}
	return i
}

func (i Intent) Has(bit Intent) bool { return i&bit == bit }

func (i Intent) String() string {
	var names []string
	for _, n := range intentNames {
		if i.Has(n.bit) {
			names = append(names, n.name)
		}
	}
	return strings.Join(names, "|")
}
