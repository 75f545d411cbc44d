package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/crystaldolphin/qqadapter/internal/config/channel"
)

const (
	defaultReadyTimeout = 10 * time.Second
	reconnectDialWait   = 30 * time.Second
)

// TokenSource is the non-failing token cache lookup.
type TokenSource interface {
	Cached(appID string) (string, bool)
}

// URLSource resolves the gateway WebSocket URL of one identity.
type URLSource interface {
	Gateway(ctx context.Context) (string, error)
}

// EventSink receives every Dispatch frame of a live session. ctx is
// cancelled when the session is stopped or superseded; a sink that blocks
// must give up on it.
type EventSink interface {
	Emit(ctx context.Context, appID string, ev Event)
}

// Params is everything a (re)connect of one identity needs.
type Params struct {
	Config channel.QQConfig
	URLs   URLSource
}

type botState struct {
	attempt uint64
	session *session
	live    map[*session]struct{}
	params  Params

	reconnects     int
	reconnectToken uint64
	timer          *time.Timer
}

// Manager owns the gateway sessions of all identities. At most one session
// per identity is current; callbacks of any other session are no-ops.
type Manager struct {
	tokens TokenSource
	sink   EventSink

	readyTimeout time.Duration
	backoff      func(k int) time.Duration
	dialer       *websocket.Dialer
	log          *slog.Logger

	mu   sync.Mutex
	seq  uint64
	bots map[string]*botState
}

// Option configures a Manager.
type Option func(*Manager)

// WithReadyTimeout bounds how long Open waits for READY.
func WithReadyTimeout(d time.Duration) Option {
	return func(m *Manager) { m.readyTimeout = d }
}

// WithBackoff replaces ReconnectDelay.
func WithBackoff(f func(k int) time.Duration) Option {
	return func(m *Manager) { m.backoff = f }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

func NewManager(tokens TokenSource, sink EventSink, opts ...Option) *Manager {
	m := &Manager{
		tokens:       tokens,
		sink:         sink,
		readyTimeout: defaultReadyTimeout,
		backoff:      ReconnectDelay,
		dialer:       websocket.DefaultDialer,
		log:          slog.Default(),
		bots:         make(map[string]*botState),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open connects cfg's identity and reports whether READY was observed
// within the ready timeout. A manual Open clears any pending auto-reconnect.
// An open that fails before a socket exists schedules an auto-reconnect; a
// socket that never reached READY is retried once it closes.
func (m *Manager) Open(ctx context.Context, cfg channel.QQConfig, urls URLSource) bool {
	return m.open(ctx, Params{Config: cfg, URLs: urls}, true)
}

// Stop closes every session of appID. After Stop returns no frame of those
// sessions mutates state or reaches the sink.
func (m *Manager) Stop(appID string) bool {
	m.mu.Lock()
	st, ok := m.bots[appID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.bots, appID)
	if st.timer != nil {
		st.timer.Stop()
	}
	sessions := make([]*session, 0, len(st.live))
	for s := range st.live {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		// unblock a sink stuck on s.ctx, then wait out an emission that
		// passed its staleness check before Stop
		s.cancel()
		s.emitMu.Lock()
		s.emitMu.Unlock()
		s.noReconnect.Store(true)
		s.close(websocket.CloseNormalClosure, "stop")
	}
	m.log.Info("gateway: stopped", "bot", appID, "sessions", len(sessions))
	return true
}

// StopAll stops every identity.
func (m *Manager) StopAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.bots))
	for id := range m.bots {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Stop(id)
	}
}

// Ready reports whether appID has a current session past READY.
func (m *Manager) Ready(appID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.bots[appID]
	return ok && st.session != nil && st.session.ready.Load()
}

func (m *Manager) open(ctx context.Context, p Params, manual bool) bool {
	appID := p.Config.AppID
	log := m.log.With("bot", appID)

	m.mu.Lock()
	st, ok := m.bots[appID]
	if !ok {
		st = &botState{live: make(map[*session]struct{})}
		m.bots[appID] = st
	}
	m.seq++
	attempt := m.seq
	st.attempt = attempt
	st.params = p
	if manual {
		m.clearReconnectLocked(st)
	}
	m.mu.Unlock()

	token, ok := m.tokens.Cached(appID)
	if !ok {
		log.Error("gateway: no access token cached")
		m.retry(appID, attempt)
		return false
	}
	url, err := p.URLs.Gateway(ctx)
	if err != nil {
		log.Warn("gateway: resolve url failed", "err", err)
		m.retry(appID, attempt)
		return false
	}
	conn, _, err := m.dialer.DialContext(ctx, url, nil)
	if err != nil {
		log.Warn("gateway: dial failed", "url", url, "err", err)
		m.retry(appID, attempt)
		return false
	}

	s := newSession(appID, attempt, conn, token, IntentsFor(p.Config), log)

	m.mu.Lock()
	st, ok = m.bots[appID]
	if !ok || st.attempt != attempt {
		m.mu.Unlock()
		_ = conn.Close()
		log.Debug("gateway: attempt superseded before connect", "attempt", attempt)
		return false
	}
	m.seq++
	s.connToken = m.seq
	prior := st.session
	st.session = s
	st.live[s] = struct{}{}
	m.mu.Unlock()

	if prior != nil {
		prior.noReconnect.Store(true)
		prior.close(websocket.CloseNormalClosure, "superseded")
	}
	log.Info("gateway: connected", "url", url, "attempt", attempt)

	go m.run(s)

	timer := time.NewTimer(m.readyTimeout)
	defer timer.Stop()
	select {
	case <-s.readyCh:
		return true
	case <-s.done:
		return false
	case <-timer.C:
		log.Warn("gateway: no READY within timeout", "timeout", m.readyTimeout)
		return false
	case <-ctx.Done():
		return false
	}
}

// run is the driver of one session: frames are handled strictly in
// arrival order until the socket closes.
func (m *Manager) run(s *session) {
	var code int
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			code = closeCode(err)
			if m.current(s) {
				s.log.Info("gateway: connection closed", "code", code, "err", err)
			}
			break
		}
		m.handle(s, raw)
	}
	s.close(websocket.CloseNormalClosure, "")
	close(s.done)
	m.closed(s, code)
}

func (m *Manager) handle(s *session, raw []byte) {
	if !m.current(s) {
		return
	}
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		s.log.Debug("gateway: undecodable frame", "err", err)
		return
	}
	if f.S != nil {
		s.lastSeq.Store(*f.S)
		s.hasSeq.Store(true)
	}

	switch f.Op {
	case OpHello:
		s.setHello(f.D)
		if err := s.identify(); err != nil {
			s.log.Warn("gateway: identify failed", "err", err)
			s.close(websocket.CloseAbnormalClosure, "identify failed")
			return
		}
		s.log.Debug("gateway: identify sent", "intents", s.intents.String(), "heartbeat", s.interval)
	case OpDispatch:
		if f.T == EventReady || f.T == EventResumed {
			m.ready(s, f)
		}
		m.emit(s, Event{BotID: s.appID, Type: f.T, Seq: s.lastSeq.Load(), ID: f.ID, Data: f.D})
	case OpHeartbeat:
		_ = s.write(s.heartbeatPayload())
	case OpHeartbeatACK:
	case OpReconnect:
		s.log.Info("gateway: server requested reconnect")
		s.noReconnect.Store(true)
		s.close(websocket.CloseNormalClosure, "reconnect")
		m.mu.Lock()
		if st, ok := m.bots[s.appID]; ok && st.attempt == s.attempt {
			m.scheduleReconnectLocked(s.appID, st)
		}
		m.mu.Unlock()
	case OpInvalidSession:
		s.log.Warn("gateway: invalid session")
		s.noReconnect.Store(true)
		s.close(websocket.CloseNormalClosure, "invalid session")
	default:
		s.log.Debug("gateway: unhandled opcode", "op", f.Op)
	}
}

func (m *Manager) ready(s *session, f Frame) {
	var r readyData
	_ = json.Unmarshal(f.D, &r)
	if r.SessionID != "" {
		s.sessionID = r.SessionID
	}
	if !s.markReady() {
		return
	}
	m.mu.Lock()
	if st, ok := m.bots[s.appID]; ok && st.attempt == s.attempt {
		m.clearReconnectLocked(st)
	}
	m.mu.Unlock()
	s.log.Info("gateway: ready", "session", s.sessionID, "user", r.User.Username)
	go m.heartbeat(s)
}

func (m *Manager) heartbeat(s *session) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-t.C:
			if !m.current(s) {
				return
			}
			if err := s.write(s.heartbeatPayload()); err != nil {
				s.log.Warn("gateway: heartbeat failed", "err", err)
				_ = s.conn.Close()
				return
			}
		}
	}
}

func (m *Manager) emit(s *session, ev Event) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if !m.current(s) {
		return
	}
	m.sink.Emit(s.ctx, s.appID, ev)
}

func (m *Manager) closed(s *session, code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.bots[s.appID]
	if !ok {
		return
	}
	delete(st.live, s)
	if st.session != nil && st.session.connToken == s.connToken {
		st.session = nil
	}
	if st.attempt == s.attempt && !s.noReconnect.Load() && reconnectable(code) {
		m.scheduleReconnectLocked(s.appID, st)
	}
}

func (m *Manager) current(s *session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.bots[s.appID]
	return ok && st.attempt == s.attempt
}

// scheduleReconnectLocked arms the next auto-reconnect of appID. m.mu must be held.
func (m *Manager) scheduleReconnectLocked(appID string, st *botState) {
	if st.timer != nil {
		st.timer.Stop()
	}
	if st.reconnects >= MaxReconnectAttempts {
		m.log.Error("gateway: giving up reconnecting", "bot", appID, "attempts", st.reconnects)
		return
	}
	k := st.reconnects
	st.reconnects++
	m.seq++
	token := m.seq
	st.reconnectToken = token
	delay := m.backoff(k)
	st.timer = time.AfterFunc(delay, func() { m.reconnect(appID, token) })
	m.log.Warn("gateway: reconnect scheduled", "bot", appID, "attempt", k+1, "delay", delay)
}

func (m *Manager) clearReconnectLocked(st *botState) {
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	st.reconnects = 0
	m.seq++
	st.reconnectToken = m.seq
}

func (m *Manager) reconnect(appID string, token uint64) {
	m.mu.Lock()
	st, ok := m.bots[appID]
	if !ok || st.reconnectToken != token {
		m.mu.Unlock()
		return
	}
	p := st.params
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), reconnectDialWait)
	defer cancel()
	m.open(ctx, p, false)
}

// retry feeds a failed open into the auto-reconnect policy unless a newer
// attempt or Stop has taken over the identity.
func (m *Manager) retry(appID string, attempt uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.bots[appID]; ok && st.attempt == attempt {
		m.scheduleReconnectLocked(appID, st)
	}
}
