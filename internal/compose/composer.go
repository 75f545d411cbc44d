package compose

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"time"

	"github.com/crystaldolphin/qqadapter/internal/config/channel"
	"github.com/crystaldolphin/qqadapter/internal/qq"
	"github.com/crystaldolphin/qqadapter/internal/schema"
)

const unsupportedText = "unsupported message type"

// Transport is the REST surface the composer sends through. *qq.API
// implements it.
type Transport interface {
	PostMessage(ctx context.Context, route qq.Route, p qq.Payload) (*qq.MessageResult, error)
	UploadMedia(ctx context.Context, route qq.Route, up qq.MediaUpload) (*qq.MediaInfo, error)
	CreateDirectSession(ctx context.Context, recipientID, sourceGuildID string) (string, error)
}

type rewriteRule struct {
	re      *regexp.Regexp
	replace string
}

// Composer converts element sequences into payloads for one bot.
type Composer struct {
	cfg       channel.QQConfig
	transport Transport
	urls      *URLRewriter
	rewrites  []rewriteRule
	qr        QRRenderer
	merger    QRMerger
	strategy  TemplateStrategy
	now       func() time.Time
	log       *slog.Logger
}

// Option configures a Composer.
type Option func(*Composer)

func WithQRRenderer(r QRRenderer) Option {
	return func(c *Composer) { c.qr = r }
}

// WithQRMerger sets the merger used when a direct send yields several QR
// codes. A nil merger sends them individually.
func WithQRMerger(m QRMerger) Option {
	return func(c *Composer) { c.merger = m }
}

// WithTemplateStrategy overrides the strategy derived from the markdown mode.
func WithTemplateStrategy(s TemplateStrategy) Option {
	return func(c *Composer) { c.strategy = s }
}

func WithClock(now func() time.Time) Option {
	return func(c *Composer) { c.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Composer) { c.log = l }
}

func New(cfg channel.QQConfig, transport Transport, opts ...Option) *Composer {
	c := &Composer{
		cfg:       cfg,
		transport: transport,
		qr:        GoQRCode{Size: 256},
		merger:    VerticalMerger{Gap: 16},
		strategy:  StrategyFor(cfg),
		now:       time.Now,
		log:       slog.Default().With("bot", cfg.AppID),
	}
	for _, opt := range opts {
		opt(c)
	}
	if cfg.QRCode {
		c.urls = NewURLRewriter(cfg.Exclude)
	}
	for _, r := range cfg.Rewrite {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			c.log.Warn("compose: bad rewrite rule skipped", "pattern", r.Pattern, "err", err)
			continue
		}
		c.rewrites = append(c.rewrites, rewriteRule{re: re, replace: r.Replace})
	}
	return c
}

// Send delivers elements to target. Unknown or disabled scenes fail with
// *UnsupportedTargetError before any request is made.
func (c *Composer) Send(ctx context.Context, target schema.Target, elements []schema.Element) (schema.SendResult, error) {
	surf, err := surfaceFor(c.cfg, target)
	if err != nil {
		return schema.SendResult{}, err
	}
	if surf.scene == schema.SceneDirect && target.GuildID != "" {
		guildID, err := c.transport.CreateDirectSession(ctx, target.ID, target.GuildID)
		if err != nil {
			return schema.SendResult{}, fmt.Errorf("compose: open direct session: %w", err)
		}
		surf.route.ID = guildID
	}

	d := &Draft{surf: surf, log: c.log}
	d.attach = func(ctx context.Context, fileType int, m Media, caption string) (qq.Payload, error) {
		if fileType == qq.FileTypeImage {
			return c.imagePayload(ctx, surf, m, caption)
		}
		return c.richMediaPayload(ctx, surf, fileType, m, caption)
	}
	c.classify(d, elements)

	var seq *Sequencer
	if d.passive != nil {
		seq = NewSequencer(d.passive.Seq, c.now())
	}
	out := &sender{c: c, surf: surf, bind: binder(d.passive, surf, seq)}

	if c.strategy != nil {
		err = c.strategy.Render(ctx, d, out.bind, out.post)
	} else {
		err = c.direct(ctx, d, out)
	}
	if err != nil {
		return out.result, err
	}
	if out.sent == 0 {
		p := surf.textPayload(unsupportedText)
		out.bind(&p)
		if err := out.post(ctx, p); err != nil {
			return out.result, err
		}
	}
	return out.result, nil
}

// sender posts payloads in order and collects their ids.
type sender struct {
	c      *Composer
	surf   surface
	bind   Binder
	sent   int
	result schema.SendResult
}

func (s *sender) post(ctx context.Context, p qq.Payload) error {
	res, err := s.c.transport.PostMessage(ctx, s.surf.route, p)
	if err != nil {
		return fmt.Errorf("compose: send to %s: %w", s.surf.scene, err)
	}
	s.sent++
	if res != nil && res.ID != "" {
		s.result.MessageIDs = append(s.result.MessageIDs, res.ID)
	}
	s.c.log.Debug("compose: sent", "scene", s.surf.scene, "kind", p.Kind().String())
	return nil
}

// direct assembles payloads in a fixed order: leading text (with one inline
// image), remaining images, queued media, then markdown and keyboard.
func (c *Composer) direct(ctx context.Context, d *Draft, out *sender) error {
	images := slices.Concat(c.mergeQR(d.qr), d.images)

	if text := d.Text(); text != "" {
		if len(images) > 0 {
			p, err := c.imagePayload(ctx, d.surf, images[0], text)
			if err != nil {
				return err
			}
			d.payloads = append(d.payloads, p)
			images = images[1:]
		} else {
			d.payloads = append(d.payloads, d.surf.textPayload(text))
		}
	}
	for _, m := range images {
		p, err := c.imagePayload(ctx, d.surf, m, "")
		if err != nil {
			return err
		}
		d.payloads = append(d.payloads, p)
	}
	media, err := d.MediaAttachments(ctx)
	if err != nil {
		return err
	}
	d.payloads = append(d.payloads, media...)
	c.postProcess(d)

	if d.replyTo != "" && len(d.payloads) > 0 {
		d.payloads[0].Set("message_reference", map[string]any{"message_id": d.replyTo})
	}
	for i := range d.payloads {
		out.bind(&d.payloads[i])
		if err := out.post(ctx, d.payloads[i]); err != nil {
			return err
		}
	}
	return nil
}

// postProcess appends markdown payloads and places the keyboard: on the last
// markdown payload, else by turning a plain leading text into markdown, else
// as a payload of its own.
func (c *Composer) postProcess(d *Draft) {
	kb := d.keyboard("")
	for i, md := range d.markdown {
		var k map[string]any
		if i == len(d.markdown)-1 {
			k = kb
		}
		d.payloads = append(d.payloads, d.surf.markdownPayload(md, k))
	}
	if kb == nil || len(d.markdown) > 0 {
		return
	}
	if len(d.payloads) > 0 && d.payloads[0].Kind() == qq.PayloadJSON {
		first := d.payloads[0]
		if content, ok := first.Get("content"); ok && !hasMedia(first) {
			d.payloads[0] = d.surf.markdownPayload(map[string]any{"content": content}, kb)
			return
		}
	}
	d.payloads = append(d.payloads, d.surf.keyboardPayload(kb))
}

func hasMedia(p qq.Payload) bool {
	_, media := p.Get("media")
	_, image := p.Get("image")
	return media || image
}

// mergeQR returns the QR images to send: one merged image when there are
// several and merging works, otherwise each individually.
func (c *Composer) mergeQR(qr []Media) []Media {
	if len(qr) < 2 || c.merger == nil {
		return qr
	}
	pngs := make([][]byte, len(qr))
	for i, m := range qr {
		pngs[i] = m.Data
	}
	merged, err := c.merger.Merge(pngs)
	if err != nil {
		c.log.Warn("compose: qr merge failed, sending individually", "count", len(qr), "err", err)
		return qr
	}
	return []Media{BytesMedia(merged)}
}

// imagePayload builds one image message. v2 surfaces upload first and send
// msg_type 7; guild surfaces send a URL or a multipart file.
func (c *Composer) imagePayload(ctx context.Context, surf surface, m Media, caption string) (qq.Payload, error) {
	if surf.v2 {
		return c.richMediaPayload(ctx, surf, qq.FileTypeImage, m, caption)
	}
	if m.Remote() {
		body := map[string]any{"image": m.URL}
		if caption != "" {
			body["content"] = caption
		}
		return qq.JSONPayload(body), nil
	}
	fields := map[string]string{}
	if caption != "" {
		fields["content"] = caption
	}
	return qq.MultipartPayload(fields, qq.FormFile{Field: "file_image", Name: m.Name, Data: m.Data}), nil
}

func (c *Composer) richMediaPayload(ctx context.Context, surf surface, fileType int, m Media, caption string) (qq.Payload, error) {
	info, err := c.transport.UploadMedia(ctx, surf.route, qq.MediaUpload{
		FileType: fileType,
		URL:      m.URL,
		Data:     m.Data,
	})
	if err != nil {
		return qq.Payload{}, fmt.Errorf("compose: upload media: %w", err)
	}
	body := map[string]any{
		"msg_type": qq.MsgTypeMedia,
		"media":    map[string]any{"file_info": info.FileInfo},
	}
	if caption != "" {
		body["content"] = caption
	}
	return qq.JSONPayload(body), nil
}
