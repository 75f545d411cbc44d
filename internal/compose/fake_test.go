package compose

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/crystaldolphin/qqadapter/internal/config/channel"
	"github.com/crystaldolphin/qqadapter/internal/qq"
)

type sentPayload struct {
	route qq.Route
	p     qq.Payload
}

type fakeTransport struct {
	mu       sync.Mutex
	posts    []sentPayload
	uploads  []qq.MediaUpload
	sessions [][2]string
	postErr  error
}

func (f *fakeTransport) PostMessage(_ context.Context, route qq.Route, p qq.Payload) (*qq.MessageResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return nil, f.postErr
	}
	f.posts = append(f.posts, sentPayload{route: route, p: p})
	return &qq.MessageResult{ID: fmt.Sprintf("msg-%d", len(f.posts))}, nil
}

func (f *fakeTransport) UploadMedia(_ context.Context, _ qq.Route, up qq.MediaUpload) (*qq.MediaInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, up)
	return &qq.MediaInfo{FileInfo: fmt.Sprintf("info-%d", len(f.uploads))}, nil
}

func (f *fakeTransport) CreateDirectSession(_ context.Context, recipientID, sourceGuildID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, [2]string{recipientID, sourceGuildID})
	return "dms-" + recipientID, nil
}

func (f *fakeTransport) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posts) + len(f.uploads) + len(f.sessions)
}

func (f *fakeTransport) field(i int, key string) any {
	v, _ := f.posts[i].p.Get(key)
	return v
}

type fakeQR struct{ rendered []string }

func (q *fakeQR) Render(content string) ([]byte, error) {
	q.rendered = append(q.rendered, content)
	return []byte("qr:" + content), nil
}

type fakeMerger struct {
	fail  bool
	calls int
}

func (m *fakeMerger) Merge(pngs [][]byte) ([]byte, error) {
	m.calls++
	if m.fail {
		return nil, errors.New("no merge")
	}
	return []byte(fmt.Sprintf("merged:%d", len(pngs))), nil
}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func testConfig() channel.QQConfig {
	cfg := channel.DefaultQQConfig()
	cfg.AppID = "app"
	cfg.Secret = "secret"
	return cfg
}

func newTestComposer(cfg channel.QQConfig, tr *fakeTransport, opts ...Option) (*Composer, *fakeQR) {
	qr := &fakeQR{}
	opts = append([]Option{WithQRRenderer(qr), WithClock(func() time.Time { return fixedNow })}, opts...)
	return New(cfg, tr, opts...), qr
}
