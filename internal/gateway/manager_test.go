package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crystaldolphin/qqadapter/internal/config/channel"
)

// fakeGateway is a scripted QQ gateway. script runs once per accepted
// connection; afterwards every frame the client sends is recorded.
type fakeGateway struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader
	script   func(i int, c *fakeConn)

	hits   atomic.Int32
	reject atomic.Bool

	mu         sync.Mutex
	conns      int
	identifies []identifyData
	frames     chan Frame
}

type fakeConn struct {
	*websocket.Conn
	gw *fakeGateway
}

func newFakeGateway(t *testing.T, script func(i int, c *fakeConn)) *fakeGateway {
	t.Helper()
	gw := &fakeGateway{script: script, frames: make(chan Frame, 256)}
	gw.srv = httptest.NewServer(http.HandlerFunc(gw.serve))
	t.Cleanup(gw.srv.Close)
	return gw
}

func (gw *fakeGateway) serve(w http.ResponseWriter, r *http.Request) {
	gw.hits.Add(1)
	if gw.reject.Load() {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	conn, err := gw.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	gw.mu.Lock()
	i := gw.conns
	gw.conns++
	gw.mu.Unlock()

	c := &fakeConn{Conn: conn, gw: gw}
	gw.script(i, c)
	for {
		f, ok := c.next()
		if !ok {
			return
		}
		select {
		case gw.frames <- f:
		default:
		}
	}
}

func (gw *fakeGateway) Gateway(context.Context) (string, error) {
	return "ws" + strings.TrimPrefix(gw.srv.URL, "http"), nil
}

func (gw *fakeGateway) connCount() int {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	return gw.conns
}

func (gw *fakeGateway) identify(i int) identifyData {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	return gw.identifies[i]
}

func (c *fakeConn) next() (Frame, bool) {
	_, raw, err := c.ReadMessage()
	if err != nil {
		return Frame{}, false
	}
	var f Frame
	_ = json.Unmarshal(raw, &f)
	return f, true
}

func (c *fakeConn) send(v any) error { return c.WriteJSON(v) }

func (c *fakeConn) hello(ms int) {
	_ = c.send(map[string]any{"op": OpHello, "d": map[string]any{"heartbeat_interval": ms}})
}

func (c *fakeConn) dispatch(typ string, seq int64, id, data string) error {
	return c.send(map[string]any{"op": OpDispatch, "s": seq, "t": typ, "id": id, "d": json.RawMessage(data)})
}

// handshake plays Hello, waits for Identify and optionally answers READY.
func (c *fakeConn) handshake(interval int, ready bool) bool {
	c.hello(interval)
	for {
		f, ok := c.next()
		if !ok {
			return false
		}
		if f.Op != OpIdentify {
			continue
		}
		var id identifyData
		_ = json.Unmarshal(f.D, &id)
		c.gw.mu.Lock()
		c.gw.identifies = append(c.gw.identifies, id)
		c.gw.mu.Unlock()
		break
	}
	if ready {
		return c.dispatch(EventReady, 1, "", `{"session_id":"s1","user":{"username":"bot"}}`) == nil
	}
	return true
}

type recordSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordSink) Emit(_ context.Context, _ string, ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordSink) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

type staticTokens map[string]string

func (s staticTokens) Cached(appID string) (string, bool) {
	t, ok := s[appID]
	return t, ok
}

// blockingSink holds every emission until the session's context ends.
type blockingSink struct {
	entered chan struct{}
}

func (b *blockingSink) Emit(ctx context.Context, _ string, _ Event) {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	<-ctx.Done()
}

// failingURLs fails the first n lookups, then defers to next.
type failingURLs struct {
	n    atomic.Int32
	next URLSource
}

func (f *failingURLs) Gateway(ctx context.Context) (string, error) {
	if f.n.Add(-1) >= 0 {
		return "", errors.New("gateway lookup failed")
	}
	return f.next.Gateway(ctx)
}

type backoffRecorder struct {
	mu sync.Mutex
	ks []int
	d  time.Duration
}

func (b *backoffRecorder) delay(k int) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ks = append(b.ks, k)
	if b.d > 0 {
		return b.d
	}
	return 10 * time.Millisecond
}

func (b *backoffRecorder) calls() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int(nil), b.ks...)
}

func testConfig() channel.QQConfig {
	cfg := channel.DefaultQQConfig()
	cfg.AppID = "app"
	cfg.Secret = "secret"
	return cfg
}

func newTestManager(sink EventSink, b *backoffRecorder, opts ...Option) *Manager {
	opts = append([]Option{WithBackoff(b.delay), WithReadyTimeout(2 * time.Second)}, opts...)
	return NewManager(staticTokens{"app": "tok"}, sink, opts...)
}

func TestOpen_ReadyEmitsDispatch(t *testing.T) {
	gw := newFakeGateway(t, func(_ int, c *fakeConn) {
		if c.handshake(30000, true) {
			_ = c.dispatch("C2C_MESSAGE_CREATE", 2, "ev-1", `{"id":"m1","content":"hi"}`)
		}
	})
	sink := &recordSink{}
	m := newTestManager(sink, &backoffRecorder{})
	defer m.StopAll()

	require.True(t, m.Open(context.Background(), testConfig(), gw))
	assert.True(t, m.Ready("app"))

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
	events := sink.snapshot()
	assert.Equal(t, EventReady, events[0].Type)
	assert.Equal(t, "C2C_MESSAGE_CREATE", events[1].Type)
	assert.Equal(t, int64(2), events[1].Seq)
	assert.Equal(t, "ev-1", events[1].ID)
	assert.Equal(t, "app", events[1].BotID)
	assert.JSONEq(t, `{"id":"m1","content":"hi"}`, string(events[1].Data))

	id := gw.identify(0)
	assert.Equal(t, "QQBot tok", id.Token)
	assert.Equal(t, IntentsFor(testConfig()), id.Intents)
	assert.Equal(t, [2]int{0, 1}, id.Shard)
	assert.NotEmpty(t, id.Properties["os"])
}

func TestHeartbeatCarriesLastSeq(t *testing.T) {
	gw := newFakeGateway(t, func(_ int, c *fakeConn) {
		if c.handshake(20, true) {
			_ = c.dispatch("GROUP_AT_MESSAGE_CREATE", 42, "", `{}`)
		}
	})
	m := newTestManager(&recordSink{}, &backoffRecorder{})
	defer m.StopAll()
	require.True(t, m.Open(context.Background(), testConfig(), gw))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case f := <-gw.frames:
			if f.Op == OpHeartbeat && string(f.D) == "42" {
				return
			}
		case <-deadline:
			t.Fatal("no heartbeat carrying seq 42")
		}
	}
}

func TestOpen_ReadyTimeout(t *testing.T) {
	gw := newFakeGateway(t, func(_ int, c *fakeConn) {
		c.handshake(30000, false)
	})
	b := &backoffRecorder{}
	m := newTestManager(&recordSink{}, b, WithReadyTimeout(100*time.Millisecond))
	defer m.StopAll()

	start := time.Now()
	assert.False(t, m.Open(context.Background(), testConfig(), gw))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, b.calls(), "a handshake timeout schedules no retry while the socket is open")
	assert.Equal(t, 1, gw.connCount())
}

func TestOpen_NoCachedToken(t *testing.T) {
	gw := newFakeGateway(t, func(_ int, c *fakeConn) { c.handshake(30000, true) })
	b := &backoffRecorder{}
	m := NewManager(staticTokens{}, &recordSink{}, WithBackoff(b.delay))
	defer m.StopAll()

	assert.False(t, m.Open(context.Background(), testConfig(), gw))
	require.Eventually(t, func() bool { return len(b.calls()) == MaxReconnectAttempts }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, b.calls())
	assert.EqualValues(t, 0, gw.hits.Load())
}

func TestOpen_URLFailureSchedulesReconnect(t *testing.T) {
	gw := newFakeGateway(t, func(_ int, c *fakeConn) { c.handshake(30000, true) })
	urls := &failingURLs{next: gw}
	urls.n.Store(1)
	b := &backoffRecorder{}
	m := newTestManager(&recordSink{}, b)
	defer m.StopAll()

	assert.False(t, m.Open(context.Background(), testConfig(), urls))
	require.Eventually(t, func() bool { return m.Ready("app") }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, []int{0}, b.calls())
	assert.Equal(t, 1, gw.connCount())
}

func TestOpen_ReadyTimeoutRetriesAfterClose(t *testing.T) {
	gw := newFakeGateway(t, func(i int, c *fakeConn) {
		if i > 0 {
			c.handshake(30000, true)
			return
		}
		if c.handshake(30000, false) {
			time.Sleep(250 * time.Millisecond)
			_ = c.UnderlyingConn().Close()
		}
	})
	b := &backoffRecorder{}
	m := newTestManager(&recordSink{}, b, WithReadyTimeout(100*time.Millisecond))
	defer m.StopAll()

	assert.False(t, m.Open(context.Background(), testConfig(), gw))
	assert.Empty(t, b.calls(), "no retry while the timed-out socket is open")

	require.Eventually(t, func() bool { return gw.connCount() == 2 && m.Ready("app") }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, []int{0}, b.calls())
}

func TestStop_NoEmissionAfterReturn(t *testing.T) {
	gw := newFakeGateway(t, func(_ int, c *fakeConn) {
		if !c.handshake(30000, true) {
			return
		}
		for seq := int64(2); ; seq++ {
			if c.dispatch("MESSAGE_CREATE", seq, "", `{}`) != nil {
				return
			}
			time.Sleep(2 * time.Millisecond)
		}
	})
	sink := &recordSink{}
	b := &backoffRecorder{}
	m := newTestManager(sink, b)
	require.True(t, m.Open(context.Background(), testConfig(), gw))
	require.Eventually(t, func() bool { return len(sink.snapshot()) > 5 }, 2*time.Second, 5*time.Millisecond)

	require.True(t, m.Stop("app"))
	n := len(sink.snapshot())
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, sink.snapshot(), n)
	assert.False(t, m.Ready("app"))
	assert.Empty(t, b.calls())
	assert.False(t, m.Stop("app"), "second stop has nothing to stop")
}

func TestStop_ReturnsWhileSinkBlocked(t *testing.T) {
	gw := newFakeGateway(t, func(_ int, c *fakeConn) { c.handshake(30000, true) })
	sink := &blockingSink{entered: make(chan struct{}, 1)}
	m := newTestManager(sink, &backoffRecorder{})

	require.True(t, m.Open(context.Background(), testConfig(), gw))
	select {
	case <-sink.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("READY never reached the sink")
	}

	stopped := make(chan bool, 1)
	go func() { stopped <- m.Stop("app") }()
	select {
	case ok := <-stopped:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked behind the sink")
	}
}

func TestOpen_NewerAttemptWins(t *testing.T) {
	gw := newFakeGateway(t, func(i int, c *fakeConn) {
		if i == 0 {
			c.handshake(30000, false)
			return
		}
		if c.handshake(30000, true) {
			_ = c.dispatch("MESSAGE_CREATE", 2, "from-second", `{}`)
		}
	})
	sink := &recordSink{}
	m := newTestManager(sink, &backoffRecorder{})
	defer m.StopAll()

	first := make(chan bool, 1)
	go func() { first <- m.Open(context.Background(), testConfig(), gw) }()
	require.Eventually(t, func() bool { return gw.connCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	assert.True(t, m.Open(context.Background(), testConfig(), gw))
	select {
	case ok := <-first:
		assert.False(t, ok, "superseded attempt must resolve false")
	case <-time.After(3 * time.Second):
		t.Fatal("first open never resolved")
	}

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "from-second", sink.snapshot()[1].ID)
	assert.True(t, m.Ready("app"))
}

func TestReconnect_OnReconnectOpcode(t *testing.T) {
	gw := newFakeGateway(t, func(i int, c *fakeConn) {
		if c.handshake(30000, true) && i == 0 {
			_ = c.send(map[string]any{"op": OpReconnect})
		}
	})
	b := &backoffRecorder{}
	m := newTestManager(&recordSink{}, b)
	defer m.StopAll()

	require.True(t, m.Open(context.Background(), testConfig(), gw))
	require.Eventually(t, func() bool { return gw.connCount() == 2 && m.Ready("app") }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, []int{0}, b.calls())
}

func TestReconnect_SkippedAfterStop(t *testing.T) {
	gw := newFakeGateway(t, func(i int, c *fakeConn) {
		if c.handshake(30000, true) && i == 0 {
			_ = c.UnderlyingConn().Close()
		}
	})
	b := &backoffRecorder{d: 200 * time.Millisecond}
	m := newTestManager(&recordSink{}, b)

	require.True(t, m.Open(context.Background(), testConfig(), gw))
	require.Eventually(t, func() bool { return len(b.calls()) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.True(t, m.Stop("app"))
	time.Sleep(350 * time.Millisecond)
	assert.Equal(t, 1, gw.connCount())
	assert.False(t, m.Ready("app"))
}

func TestReconnect_SupersededByManualOpen(t *testing.T) {
	gw := newFakeGateway(t, func(i int, c *fakeConn) {
		if c.handshake(30000, true) && i == 0 {
			_ = c.UnderlyingConn().Close()
		}
	})
	b := &backoffRecorder{d: 200 * time.Millisecond}
	m := newTestManager(&recordSink{}, b)
	defer m.StopAll()

	require.True(t, m.Open(context.Background(), testConfig(), gw))
	require.Eventually(t, func() bool { return len(b.calls()) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.True(t, m.Open(context.Background(), testConfig(), gw))
	time.Sleep(350 * time.Millisecond)
	assert.Equal(t, 2, gw.connCount(), "the pending auto-reconnect must not dial")
	assert.Equal(t, []int{0}, b.calls())
	assert.True(t, m.Ready("app"))
}

func TestInvalidSession_NoReconnect(t *testing.T) {
	gw := newFakeGateway(t, func(_ int, c *fakeConn) {
		if c.handshake(30000, true) {
			_ = c.send(map[string]any{"op": OpInvalidSession, "d": false})
		}
	})
	b := &backoffRecorder{}
	m := newTestManager(&recordSink{}, b)
	defer m.StopAll()

	require.True(t, m.Open(context.Background(), testConfig(), gw))
	require.Eventually(t, func() bool { return !m.Ready("app") }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, gw.connCount())
	assert.Empty(t, b.calls())
}

func TestReconnect_AbnormalClose(t *testing.T) {
	gw := newFakeGateway(t, func(i int, c *fakeConn) {
		if c.handshake(30000, true) && i == 0 {
			_ = c.UnderlyingConn().Close()
		}
	})
	b := &backoffRecorder{}
	m := newTestManager(&recordSink{}, b)
	defer m.StopAll()

	require.True(t, m.Open(context.Background(), testConfig(), gw))
	require.Eventually(t, func() bool { return gw.connCount() == 2 && m.Ready("app") }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, []int{0}, b.calls())
}

func TestNormalClose_NoReconnect(t *testing.T) {
	gw := newFakeGateway(t, func(_ int, c *fakeConn) {
		if c.handshake(30000, true) {
			_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		}
	})
	b := &backoffRecorder{}
	m := newTestManager(&recordSink{}, b)
	defer m.StopAll()

	require.True(t, m.Open(context.Background(), testConfig(), gw))
	require.Eventually(t, func() bool { return !m.Ready("app") }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, gw.connCount())
	assert.Empty(t, b.calls())
}

func TestReconnect_GivesUpAfterMaxAttempts(t *testing.T) {
	var gw *fakeGateway
	gw = newFakeGateway(t, func(_ int, c *fakeConn) {
		if c.handshake(30000, true) {
			gw.reject.Store(true)
			_ = c.UnderlyingConn().Close()
		}
	})
	b := &backoffRecorder{}
	m := newTestManager(&recordSink{}, b)
	defer m.StopAll()

	require.True(t, m.Open(context.Background(), testConfig(), gw))
	require.Eventually(t, func() bool { return len(b.calls()) == MaxReconnectAttempts }, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return gw.hits.Load() == 1+MaxReconnectAttempts }, 3*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, b.calls())
	assert.EqualValues(t, 1+MaxReconnectAttempts, gw.hits.Load())
	assert.False(t, m.Ready("app"))
}

func TestReconnectDelay(t *testing.T) {
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		16 * time.Second,
	}
	for k, w := range want {
		assert.Equal(t, w, ReconnectDelay(k), "k=%d", k)
	}
}

func TestIntentsFor(t *testing.T) {
	cfg := testConfig()
	public := IntentsFor(cfg)
	assert.True(t, public.Has(IntentBase))
	assert.True(t, public.Has(IntentPublicGuildMessages))
	assert.False(t, public.Has(IntentGuildMessages))
	assert.False(t, public.Has(IntentInteraction))

	cfg.Public = false
	cfg.Reactions = true
	cfg.Interactions = true
	private := IntentsFor(cfg)
	assert.True(t, private.Has(IntentBase))
	assert.True(t, private.Has(IntentGuildMessages))
	assert.False(t, private.Has(IntentPublicGuildMessages))
	assert.True(t, private.Has(IntentGuildMessageReactions|IntentInteraction))
	assert.Equal(t, Intent(1<<0|1<<1|1<<12|1<<25|1<<30), public)
}
