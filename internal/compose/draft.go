package compose

import (
	"context"
	"log/slog"
	"strings"

	"github.com/crystaldolphin/qqadapter/internal/qq"
	"github.com/crystaldolphin/qqadapter/internal/schema"
)

type queuedMedia struct {
	fileType int
	src      string
}

// Draft accumulates one send call while its elements are classified.
type Draft struct {
	texts    []string
	images   []Media
	qr       []Media
	media    []queuedMedia
	buttons  []map[string]any
	markdown []map[string]any
	passive  *Passive
	replyTo  string
	payloads []qq.Payload

	surf   surface
	attach func(ctx context.Context, fileType int, m Media, caption string) (qq.Payload, error)
	log    *slog.Logger
}

// Text is the concatenated text of the draft.
func (d *Draft) Text() string { return strings.Join(d.texts, "") }

// Images are the image attachments in element order.
func (d *Draft) Images() []Media { return d.images }

// QRCodes are the rendered QR images of rewritten URLs.
func (d *Draft) QRCodes() []Media { return d.qr }

func (d *Draft) Buttons() []map[string]any { return d.buttons }

func (d *Draft) Markdown() []map[string]any { return d.markdown }

func (d *Draft) ReplyTo() string { return d.replyTo }

// Attachment builds the surface's image payload for m.
func (d *Draft) Attachment(ctx context.Context, m Media) (qq.Payload, error) {
	return d.attach(ctx, qq.FileTypeImage, m, "")
}

// MediaAttachments uploads the queued video and audio elements and returns
// their payloads. Sources that cannot be resolved are skipped.
func (d *Draft) MediaAttachments(ctx context.Context) ([]qq.Payload, error) {
	var out []qq.Payload
	for _, q := range d.media {
		m, err := ResolveMedia(q.src)
		if err != nil {
			d.log.Warn("compose: media skipped", "src", q.src, "err", err)
			continue
		}
		p, err := d.attach(ctx, q.fileType, m, "")
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// MarkdownPayload builds the surface's markdown payload.
func (d *Draft) MarkdownPayload(md, keyboard map[string]any) qq.Payload {
	return d.surf.markdownPayload(md, keyboard)
}

// TextPayload builds the surface's plain text payload.
func (d *Draft) TextPayload(content string) qq.Payload {
	return d.surf.textPayload(content)
}

// classify sorts elements into the draft buckets. Unsupported elements are
// skipped with a debug log.
func (c *Composer) classify(d *Draft, elements []schema.Element) {
	for _, el := range elements {
		switch el.Type {
		case schema.ElemText:
			c.addText(d, el.Text)
		case schema.ElemAt:
			d.texts = append(d.texts, d.surf.mention(el.ID))
		case schema.ElemFace:
			d.texts = append(d.texts, d.surf.face(el.ID))
		case schema.ElemImage:
			m, err := ResolveMedia(el.File)
			if err != nil {
				c.log.Warn("compose: image skipped", "src", el.File, "err", err)
				continue
			}
			d.images = append(d.images, m)
		case schema.ElemReply:
			d.replyTo = el.ID
		case schema.ElemPassive:
			p := &Passive{Seq: el.Seq, Wakeup: el.Wakeup}
			if !el.Wakeup {
				if el.Event {
					p.EventID = el.ID
				} else {
					p.MsgID = el.ID
				}
			}
			d.passive = p
		case schema.ElemButton:
			if len(el.Data) > 0 {
				d.buttons = append(d.buttons, el.Data)
			}
		case schema.ElemMarkdown:
			switch {
			case len(el.Data) > 0:
				d.markdown = append(d.markdown, el.Data)
			case el.Text != "":
				d.markdown = append(d.markdown, map[string]any{"content": el.Text})
			}
		case schema.ElemVideo, schema.ElemAudio:
			if !d.surf.v2 {
				c.log.Debug("compose: element unsupported on surface", "type", el.Type, "scene", d.surf.scene)
				continue
			}
			ft := qq.FileTypeVideo
			if el.Type == schema.ElemAudio {
				ft = qq.FileTypeVoice
			}
			d.media = append(d.media, queuedMedia{fileType: ft, src: el.File})
		default:
			c.log.Debug("compose: unsupported element", "type", el.Type, "scene", d.surf.scene)
		}
	}
}

func (c *Composer) addText(d *Draft, text string) {
	for _, r := range c.rewrites {
		text = r.re.ReplaceAllString(text, r.replace)
	}
	if c.urls != nil {
		text = c.urls.Rewrite(text, func(u string) bool {
			png, err := c.qr.Render(u)
			if err != nil {
				c.log.Warn("compose: qr render failed, keeping url", "url", u, "err", err)
				return false
			}
			d.qr = append(d.qr, BytesMedia(png))
			return true
		})
	}
	if text != "" {
		d.texts = append(d.texts, text)
	}
}

// keyboard is the first button payload of the draft, or fallback.
func (d *Draft) keyboard(fallback string) map[string]any {
	if len(d.buttons) > 0 {
		if len(d.buttons) > 1 {
			d.log.Debug("compose: extra keyboards ignored", "count", len(d.buttons)-1)
		}
		return d.buttons[0]
	}
	if fallback != "" {
		return map[string]any{"id": fallback}
	}
	return nil
}
