package dispatch

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/crystaldolphin/qqadapter/internal/bus"
	"github.com/crystaldolphin/qqadapter/internal/gateway"
	"github.com/crystaldolphin/qqadapter/internal/schema"
)

// leading mention of the bot in guild @-messages
var reLeadingMention = regexp.MustCompile(`^\s*<@!?\w+>\s*`)

type messageData struct {
	ID          string `json:"id"`
	Content     string `json:"content"`
	Timestamp   string `json:"timestamp"`
	GroupOpenID string `json:"group_openid"`
	ChannelID   string `json:"channel_id"`
	GuildID     string `json:"guild_id"`
	Author      struct {
		ID           string `json:"id"`
		UserOpenID   string `json:"user_openid"`
		MemberOpenID string `json:"member_openid"`
	} `json:"author"`
}

func decodeMessage(appID string, ev gateway.Event) (bus.Event, error) {
	var m messageData
	if err := json.Unmarshal(ev.Data, &m); err != nil {
		return bus.Event{}, err
	}

	var target schema.Target
	var sender string
	switch ev.Type {
	case TypeC2CMessage:
		sender = m.Author.UserOpenID
		target = schema.Target{Scene: schema.SceneFriend, ID: sender}
	case TypeGroupAtMessage:
		sender = m.Author.MemberOpenID
		target = schema.Target{Scene: schema.SceneGroup, ID: m.GroupOpenID}
	case TypeAtMessage, TypeMessage:
		sender = m.Author.ID
		target = schema.Target{Scene: schema.SceneGuild, ID: m.ChannelID}
	case TypeDirectMessage:
		sender = m.Author.ID
		target = schema.Target{Scene: schema.SceneDirect, ID: m.GuildID}
	default:
		return bus.Event{}, fmt.Errorf("not a message type: %s", ev.Type)
	}
	if target.ID == "" {
		return bus.Event{}, fmt.Errorf("%s without a reply target", ev.Type)
	}

	content := strings.TrimSpace(m.Content)
	if ev.Type == TypeAtMessage || ev.Type == TypeGroupAtMessage {
		content = reLeadingMention.ReplaceAllString(content, "")
	}

	id := ev.ID
	if id == "" {
		id = m.ID
	}
	out := bus.NewEvent(appID, bus.KindMessage, ev.Type, id, ev.Seq, ev.Data)
	out.SetMessage(target, sender, m.ID, content)
	if ts, err := time.Parse(time.RFC3339, m.Timestamp); err == nil {
		out.SetTimestamp(ts)
	}
	return out, nil
}
