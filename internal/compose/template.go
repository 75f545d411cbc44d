package compose

import (
	"context"
	"slices"
	"strings"

	"github.com/crystaldolphin/qqadapter/internal/config/channel"
	"github.com/crystaldolphin/qqadapter/internal/qq"
)

// SendFunc posts one payload on the surface of the current send.
type SendFunc func(ctx context.Context, p qq.Payload) error

// TemplateStrategy renders a classified draft in markdown mode. It must
// call bind on every payload before send.
type TemplateStrategy interface {
	Render(ctx context.Context, d *Draft, bind Binder, send SendFunc) error
}

// StrategyFor returns the strategy of cfg's markdown mode, or nil for the
// direct pipeline.
func StrategyFor(cfg channel.QQConfig) TemplateStrategy {
	switch cfg.Markdown {
	case channel.MarkdownNative:
		return NativeMarkdown{Keyboard: cfg.Keyboard}
	case channel.MarkdownTemplate, channel.MarkdownWithImage, channel.MarkdownLines:
		return TemplateParams{Mode: cfg.Markdown, Template: cfg.Template, Keyboard: cfg.Keyboard}
	default:
		return nil
	}
}

// NativeMarkdown sends the text as markdown content (mode 1).
type NativeMarkdown struct {
	Keyboard string
}

func (n NativeMarkdown) Render(ctx context.Context, d *Draft, bind Binder, send SendFunc) error {
	var payloads []qq.Payload
	kb := d.keyboard(n.Keyboard)
	if text := d.Text(); text != "" {
		payloads = append(payloads, d.MarkdownPayload(map[string]any{"content": text}, kb))
		kb = nil
	}
	for _, md := range d.Markdown() {
		payloads = append(payloads, d.MarkdownPayload(md, kb))
		kb = nil
	}
	return renderOut(ctx, d, payloads, d.Images(), bind, send)
}

// TemplateParams fills a markdown template's parameters from the draft.
// Mode 3 sets the text parameter, mode 4 also the image parameter from the
// first remote image, mode 5 sets one parameter per text line.
type TemplateParams struct {
	Mode     int
	Template channel.TemplateConfig
	Keyboard string
}

func (t TemplateParams) Render(ctx context.Context, d *Draft, bind Binder, send SendFunc) error {
	images := d.Images()
	var params []map[string]any
	text := d.Text()

	switch t.Mode {
	case channel.MarkdownLines:
		params = lineParams(t.Template.Lines, text)
	default:
		if text != "" {
			params = append(params, param(t.Template.Text, text))
		}
	}
	if t.Mode == channel.MarkdownWithImage {
		for i, m := range images {
			if m.Remote() {
				params = append(params, param(t.Template.Image, m.URL))
				images = append(images[:i:i], images[i+1:]...)
				break
			}
		}
	}

	var payloads []qq.Payload
	kb := d.keyboard(t.Keyboard)
	if len(params) > 0 {
		md := map[string]any{"custom_template_id": t.Template.ID, "params": params}
		payloads = append(payloads, d.MarkdownPayload(md, kb))
		kb = nil
	}
	for _, md := range d.Markdown() {
		payloads = append(payloads, d.MarkdownPayload(md, kb))
		kb = nil
	}
	return renderOut(ctx, d, payloads, images, bind, send)
}

func param(key, value string) map[string]any {
	return map[string]any{"key": key, "values": []string{value}}
}

// lineParams maps text lines onto keys; lines beyond the last key are
// joined into it.
func lineParams(keys []string, text string) []map[string]any {
	if len(keys) == 0 || text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	out := make([]map[string]any, 0, len(keys))
	for i, key := range keys {
		if i >= len(lines) {
			break
		}
		v := lines[i]
		if i == len(keys)-1 && len(lines) > len(keys) {
			v = strings.Join(lines[i:], "\n")
		}
		out = append(out, param(key, v))
	}
	return out
}

// renderOut sends the markdown payloads, then every image and QR code as
// its own attachment.
func renderOut(ctx context.Context, d *Draft, payloads []qq.Payload, images []Media, bind Binder, send SendFunc) error {
	for _, m := range slices.Concat(images, d.QRCodes()) {
		p, err := d.Attachment(ctx, m)
		if err != nil {
			return err
		}
		payloads = append(payloads, p)
	}
	media, err := d.MediaAttachments(ctx)
	if err != nil {
		return err
	}
	payloads = append(payloads, media...)
	if r := d.ReplyTo(); r != "" && len(payloads) > 0 {
		payloads[0].Set("message_reference", map[string]any{"message_id": r})
	}
	for i := range payloads {
		bind(&payloads[i])
		if err := send(ctx, payloads[i]); err != nil {
			return err
		}
	}
	return nil
}
