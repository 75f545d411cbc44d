package schema

import "fmt"

// Scene is the logical kind of a send target.
type Scene string

const (
	SceneFriend Scene = "friend"
	SceneGroup  Scene = "group"
	SceneGuild  Scene = "guild"
	SceneDirect Scene = "direct"
)

// Target addresses one conversation.
//
// For SceneDirect, ID is the direct-message guild id. When GuildID is set
// instead, ID is the member's user id and the session is created on demand.
type Target struct {
	Scene   Scene  `json:"scene"`
	ID      string `json:"id"`
	GuildID string `json:"guild_id,omitempty"`
}

func (t Target) String() string {
	if t.GuildID != "" {
		return fmt.Sprintf("%s:%s@%s", t.Scene, t.ID, t.GuildID)
	}
	return fmt.Sprintf("%s:%s", t.Scene, t.ID)
}

// SendResult lists the platform ids of the messages one send produced.
type SendResult struct {
	MessageIDs []string
}
