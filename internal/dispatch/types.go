package dispatch

// Message event types.
const (
	TypeC2CMessage     = "C2C_MESSAGE_CREATE"
	TypeGroupAtMessage = "GROUP_AT_MESSAGE_CREATE"
	TypeAtMessage      = "AT_MESSAGE_CREATE"
	TypeMessage        = "MESSAGE_CREATE"
	TypeDirectMessage  = "DIRECT_MESSAGE_CREATE"
)

// MessageTypes are decoded into message events.
var MessageTypes = []string{
	TypeC2CMessage,
	TypeGroupAtMessage,
	TypeAtMessage,
	TypeMessage,
	TypeDirectMessage,
}

// NoticeTypes are forwarded to the host as raw notice events.
var NoticeTypes = []string{
	"GUILD_CREATE",
	"GUILD_UPDATE",
	"GUILD_DELETE",
	"CHANNEL_CREATE",
	"CHANNEL_UPDATE",
	"CHANNEL_DELETE",
	"GUILD_MEMBER_ADD",
	"GUILD_MEMBER_UPDATE",
	"GUILD_MEMBER_REMOVE",
	"MESSAGE_REACTION_ADD",
	"MESSAGE_REACTION_REMOVE",
	"MESSAGE_DELETE",
	"PUBLIC_MESSAGE_DELETE",
	"DIRECT_MESSAGE_DELETE",
	"INTERACTION_CREATE",
	"FRIEND_ADD",
	"FRIEND_DEL",
	"C2C_MSG_REJECT",
	"C2C_MSG_RECEIVE",
	"GROUP_ADD_ROBOT",
	"GROUP_DEL_ROBOT",
	"GROUP_MSG_REJECT",
	"GROUP_MSG_RECEIVE",
}
