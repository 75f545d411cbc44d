// Package compose turns host message elements into QQ wire payloads for
// the four send surfaces and sends them.
package compose

import (
	"fmt"

	"github.com/crystaldolphin/qqadapter/internal/config/channel"
	"github.com/crystaldolphin/qqadapter/internal/qq"
	"github.com/crystaldolphin/qqadapter/internal/schema"
)

// UnsupportedTargetError is returned, before any network call, for a
// target whose scene is unknown or disabled for the bot.
type UnsupportedTargetError struct {
	Scene  schema.Scene
	Reason string
}

func (e *UnsupportedTargetError) Error() string {
	return fmt.Sprintf("compose: unsupported target scene %q: %s", e.Scene, e.Reason)
}

// surface is one of the four send paths. Friend and group use the v2 API:
// msg_type payloads, rich-media upload and msg_seq. Channel and direct use
// the guild API: image URLs or multipart uploads and no sequencing.
type surface struct {
	scene  schema.Scene
	route  qq.Route
	v2     bool
	c2c    bool
	public bool
}

func surfaceFor(cfg channel.QQConfig, t schema.Target) (surface, error) {
	var s surface
	switch t.Scene {
	case schema.SceneFriend:
		s = surface{scene: t.Scene, route: qq.Route{Kind: qq.RouteC2C, ID: t.ID}, v2: true, c2c: true}
	case schema.SceneGroup:
		s = surface{scene: t.Scene, route: qq.Route{Kind: qq.RouteGroup, ID: t.ID}, v2: true}
	case schema.SceneGuild:
		s = surface{scene: t.Scene, route: qq.Route{Kind: qq.RouteChannel, ID: t.ID}}
	case schema.SceneDirect:
		s = surface{scene: t.Scene, route: qq.Route{Kind: qq.RouteDirect, ID: t.ID}}
	default:
		return surface{}, &UnsupportedTargetError{Scene: t.Scene, Reason: "unknown scene"}
	}
	if !cfg.SceneEnabled(string(t.Scene)) {
		return surface{}, &UnsupportedTargetError{Scene: t.Scene, Reason: "scene disabled for this bot"}
	}
	if t.ID == "" {
		return surface{}, &UnsupportedTargetError{Scene: t.Scene, Reason: "empty target id"}
	}
	s.public = cfg.Public
	return s, nil
}

func (s surface) textPayload(content string) qq.Payload {
	body := map[string]any{"content": content}
	if s.v2 {
		body["msg_type"] = qq.MsgTypeText
	}
	return qq.JSONPayload(body)
}

func (s surface) markdownPayload(md, keyboard map[string]any) qq.Payload {
	body := map[string]any{"markdown": md}
	if s.v2 {
		body["msg_type"] = qq.MsgTypeMarkdown
	}
	if keyboard != nil {
		body["keyboard"] = keyboard
	}
	return qq.JSONPayload(body)
}

func (s surface) keyboardPayload(keyboard map[string]any) qq.Payload {
	body := map[string]any{"keyboard": keyboard}
	if s.v2 {
		body["msg_type"] = qq.MsgTypeMarkdown
	}
	return qq.JSONPayload(body)
}

func (s surface) mention(userID string) string {
	if s.v2 {
		if userID == "all" {
			return "<qqbot-at-everyone />"
		}
		return fmt.Sprintf(`<qqbot-at-user id="%s" />`, userID)
	}
	if userID == "all" {
		return "@everyone"
	}
	if s.public {
		return "<@!" + userID + ">"
	}
	return "<@" + userID + ">"
}

func (s surface) face(id string) string {
	if s.v2 {
		return fmt.Sprintf(`<faceType=1,faceId="%s",ext="">`, id)
	}
	return "<emoji:" + id + ">"
}
