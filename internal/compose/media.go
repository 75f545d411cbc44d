package compose

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const maxMediaBytes = 20 << 20

// Media is a resolved attachment: a remote URL or the file's bytes.
type Media struct {
	URL  string
	Data []byte
	Name string
}

func (m Media) Remote() bool { return m.URL != "" }

// ResolveMedia interprets an element source: http(s) URLs stay remote;
// base64://, data: URIs, file:// URLs and plain paths are loaded.
func ResolveMedia(src string) (Media, error) {
	switch {
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		return Media{URL: src, Name: path.Base(src)}, nil
	case strings.HasPrefix(src, "base64://"):
		return decodedMedia(strings.TrimPrefix(src, "base64://"))
	case strings.HasPrefix(src, "data:"):
		_, payload, ok := strings.Cut(src, ";base64,")
		if !ok {
			return Media{}, fmt.Errorf("compose: unsupported data uri")
		}
		return decodedMedia(payload)
	case strings.HasPrefix(src, "file://"):
		u, err := url.Parse(src)
		if err != nil {
			return Media{}, err
		}
		return fileMedia(u.Path)
	case src == "":
		return Media{}, fmt.Errorf("compose: empty media source")
	default:
		return fileMedia(src)
	}
}

// BytesMedia wraps in-memory data, e.g. a rendered QR code.
func BytesMedia(data []byte) Media {
	return Media{Data: data, Name: mediaName(data, "")}
}

func decodedMedia(s string) (Media, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return Media{}, fmt.Errorf("compose: decode base64 media: %w", err)
	}
	return BytesMedia(data), nil
}

func fileMedia(p string) (Media, error) {
	info, err := os.Stat(p)
	if err != nil {
		return Media{}, err
	}
	if info.Size() > maxMediaBytes {
		return Media{}, fmt.Errorf("compose: %s exceeds %d bytes", p, maxMediaBytes)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return Media{}, err
	}
	return Media{Data: data, Name: mediaName(data, filepath.Ext(p))}, nil
}

// mediaName gives uploaded bytes a unique file name with a sensible extension.
func mediaName(data []byte, ext string) string {
	if ext == "" {
		switch http.DetectContentType(data) {
		case "image/png":
			ext = ".png"
		case "image/jpeg":
			ext = ".jpg"
		case "image/gif":
			ext = ".gif"
		case "image/webp":
			ext = ".webp"
		case "video/mp4":
			ext = ".mp4"
		default:
			ext = ".bin"
		}
	}
	return uuid.NewString() + ext
}
