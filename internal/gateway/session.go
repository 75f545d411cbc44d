package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait                = 10 * time.Second
	defaultHeartbeatInterval = 30 * time.Second
)

// session is the state of one gateway connection. Only the driver goroutine
// (Manager.run) reads frames; the heartbeat goroutine and Manager.Stop share
// the write side through writeMu.
type session struct {
	appID     string
	attempt   uint64
	connToken uint64
	conn      *websocket.Conn
	token     string
	intents   Intent
	log       *slog.Logger

	lastSeq   atomic.Int64
	hasSeq    atomic.Bool
	interval  time.Duration
	sessionID string

	// cancelled when the session stops being current; bounds a blocked sink
	ctx    context.Context
	cancel context.CancelFunc

	ready     atomic.Bool
	readyCh   chan struct{}
	readyOnce sync.Once
	done      chan struct{}

	// set when the session was closed on purpose and must not trigger the
	// close-driven reconnect
	noReconnect atomic.Bool

	writeMu   sync.Mutex
	emitMu    sync.Mutex
	closeOnce sync.Once
}

func newSession(appID string, attempt uint64, conn *websocket.Conn, token string, intents Intent, log *slog.Logger) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		ctx:     ctx,
		cancel:  cancel,
		appID:   appID,
		attempt: attempt,
		conn:    conn,
		token:   token,
		intents: intents,
		log:     log,
		readyCh: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (s *session) write(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

func (s *session) identify() error {
	return s.write(outFrame{Op: OpIdentify, D: identifyData{
		Token:   "QQBot " + s.token,
		Intents: s.intents,
		Shard:   [2]int{0, 1},
		Properties: map[string]string{
			"os":      runtime.GOOS,
			"browser": "qqadapter",
			"device":  "qqadapter",
		},
	}})
}

func (s *session) heartbeatPayload() outFrame {
	var d any
	if s.hasSeq.Load() {
		d = s.lastSeq.Load()
	}
	return outFrame{Op: OpHeartbeat, D: d}
}

func (s *session) setHello(raw json.RawMessage) {
	var h helloData
	_ = json.Unmarshal(raw, &h)
	s.interval = time.Duration(h.HeartbeatInterval) * time.Millisecond
	if s.interval <= 0 {
		s.interval = defaultHeartbeatInterval
	}
}

func (s *session) markReady() bool {
	first := false
	s.readyOnce.Do(func() {
		s.ready.Store(true)
		close(s.readyCh)
		first = true
	})
	return first
}

// close sends a close frame and tears down the socket. Safe to call from
// any goroutine, any number of times.
func (s *session) close(code int, reason string) {
	s.closeOnce.Do(func() {
		s.cancel()
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
}

// closeCode extracts the peer's close code from a read error.
func closeCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return websocket.CloseAbnormalClosure
}

// reconnectable reports whether a close code asks for an auto-reconnect.
func reconnectable(code int) bool {
	return code != websocket.CloseNormalClosure && code != websocket.CloseGoingAway
}
