package channel

import "slices"

// Event delivery modes.
const (
	ModeOff     = "off"
	ModeWebhook = "webhook"
	ModeWS      = "ws"
)

// Target scenes a bot may send to.
const (
	SceneFriend = "friend"
	SceneGroup  = "group"
	SceneGuild  = "guild"
	SceneDirect = "direct"
)

// Markdown modes. 2 is unused by the platform.
const (
	MarkdownOff       = 0
	MarkdownNative    = 1
	MarkdownTemplate  = 3
	MarkdownWithImage = 4
	MarkdownLines     = 5
)

// RewriteRule replaces every match of Pattern in outgoing text with Replace.
type RewriteRule struct {
	Pattern string `json:"pattern"`
	Replace string `json:"replace"`
}

// TemplateConfig names the markdown template and the param keys the
// template pipeline fills.
type TemplateConfig struct {
	ID    string   `json:"id"`
	Text  string   `json:"text"`
	Image string   `json:"image"`
	Lines []string `json:"lines"`
}

// QQConfig configures one QQ bot identity.
type QQConfig struct {
	AppID        string         `json:"appId"`
	Secret       string         `json:"secret"`
	Name         string         `json:"name"`
	Disable      bool           `json:"disable"`
	Sandbox      bool           `json:"sandbox"`
	Mode         string         `json:"mode"`
	Public       bool           `json:"public"`
	Scenes       []string       `json:"scenes"`
	Reactions    bool           `json:"reactions"`
	Interactions bool           `json:"interactions"`
	Exclude      []string       `json:"exclude"`
	QRCode       bool           `json:"qrcode"`
	Rewrite      []RewriteRule  `json:"rewrite"`
	Markdown     int            `json:"markdown"`
	Template     TemplateConfig `json:"template"`
	Keyboard     string         `json:"keyboard"`
}

func DefaultQQConfig() QQConfig {
	return QQConfig{
		Mode:    ModeWS,
		Public:  true,
		Scenes:  []string{SceneFriend, SceneGroup, SceneGuild, SceneDirect},
		Exclude: []string{},
		QRCode:  true,
		Rewrite: []RewriteRule{},
		Template: TemplateConfig{
			Text:  "text",
			Image: "image",
			Lines: []string{},
		},
	}
}

// SceneEnabled reports whether scene is listed in Scenes.
func (c *QQConfig) SceneEnabled(scene string) bool {
	return slices.Contains(c.Scenes, scene)
}

// TemplateMode reports whether outbound messages go through the template pipeline.
func (c *QQConfig) TemplateMode() bool {
	return c.Markdown != MarkdownOff
}
