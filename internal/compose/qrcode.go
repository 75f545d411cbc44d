package compose

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"log/slog"
	"regexp"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// URLPlaceholder replaces every URL that was turned into a QR code.
const URLPlaceholder = "[link: scan QR code]"

var reURL = regexp.MustCompile(`https?://[^\s<>"'` + "`" + `\x{3000}-\x{303F}\x{FF00}-\x{FFEF}]+`)

type urlMatcher func(url string) bool

// URLRewriter finds bare URLs in text and swaps them for URLPlaceholder,
// except those matching an exclusion pattern.
type URLRewriter struct {
	exclude []urlMatcher
}

// NewURLRewriter compiles exclusion patterns. "/expr/" is a regular
// expression; anything else matches as a substring.
func NewURLRewriter(patterns []string) *URLRewriter {
	r := &URLRewriter{}
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if len(p) > 2 && strings.HasPrefix(p, "/") && strings.HasSuffix(p, "/") {
			re, err := regexp.Compile(p[1 : len(p)-1])
			if err == nil {
				r.exclude = append(r.exclude, re.MatchString)
				continue
			}
			slog.Warn("compose: bad exclusion pattern, matching as substring", "pattern", p, "err", err)
		}
		sub := p
		r.exclude = append(r.exclude, func(u string) bool { return strings.Contains(u, sub) })
	}
	return r
}

func (r *URLRewriter) excluded(u string) bool {
	for _, m := range r.exclude {
		if m(u) {
			return true
		}
	}
	return false
}

// Rewrite replaces every non-excluded URL for which convert reports true
// with URLPlaceholder. URLs are offered to convert in text order.
func (r *URLRewriter) Rewrite(text string, convert func(url string) bool) string {
	return reURL.ReplaceAllStringFunc(text, func(m string) string {
		u := trimURL(m)
		if strings.HasSuffix(u, "//") || r.excluded(u) || !convert(u) {
			return m
		}
		return URLPlaceholder + m[len(u):]
	})
}

// trimURL drops sentence punctuation that ends a match. A closing paren
// stays while it balances an opening one inside the URL.
func trimURL(u string) string {
	for len(u) > 0 {
		last := u[len(u)-1]
		switch {
		case strings.IndexByte(".,;:!?", last) >= 0:
		case last == ')' && strings.Count(u, "(") < strings.Count(u, ")"):
		default:
			return u
		}
		u = u[:len(u)-1]
	}
	return u
}

// QRRenderer renders content as a PNG QR code.
type QRRenderer interface {
	Render(content string) ([]byte, error)
}

// GoQRCode renders with skip2/go-qrcode.
type GoQRCode struct {
	Size int
}

func (g GoQRCode) Render(content string) ([]byte, error) {
	size := g.Size
	if size <= 0 {
		size = 256
	}
	return qrcode.Encode(content, qrcode.Medium, size)
}

// QRMerger combines several QR PNGs into one image.
type QRMerger interface {
	Merge(pngs [][]byte) ([]byte, error)
}

// VerticalMerger stacks images top to bottom on a white canvas.
type VerticalMerger struct {
	Gap int
}

func (v VerticalMerger) Merge(pngs [][]byte) ([]byte, error) {
	if len(pngs) == 0 {
		return nil, errors.New("compose: nothing to merge")
	}
	imgs := make([]image.Image, 0, len(pngs))
	width, height := 0, 0
	for _, b := range pngs {
		img, err := png.Decode(bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		imgs = append(imgs, img)
		width = max(width, img.Bounds().Dx())
		height += img.Bounds().Dy()
	}
	height += v.Gap * (len(imgs) - 1)

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	y := 0
	for _, img := range imgs {
		b := img.Bounds()
		x := (width - b.Dx()) / 2
		draw.Draw(canvas, image.Rect(x, y, x+b.Dx(), y+b.Dy()), img, b.Min, draw.Over)
		y += b.Dy() + v.Gap
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
