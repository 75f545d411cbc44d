package webhook

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crystaldolphin/qqadapter/internal/gateway"
)

type recordSink struct {
	mu     sync.Mutex
	events []gateway.Event
}

func (r *recordSink) Emit(_ context.Context, _ string, ev gateway.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func newTestServer(t *testing.T) (*Server, *recordSink, *httptest.Server) {
	t.Helper()
	sink := &recordSink{}
	s := New("", sink)
	require.NoError(t, s.Add("app", "naOC0ocQE3shWLAfffVLB1rhYPG7"))
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return s, sink, srv
}

func post(t *testing.T, url string, body []byte, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestKeyFromSecret(t *testing.T) {
	k1, err := KeyFromSecret("abc")
	require.NoError(t, err)
	k2, err := KeyFromSecret("abcabcabcabcabcabcabcabcabcabcab")
	require.NoError(t, err)
	assert.Equal(t, k1, k2, "short secrets repeat to fill the seed")
	assert.Equal(t, []byte("abcabcabcabcabcabcabcabcabcabcab"), []byte(k1.Seed()))

	_, err = KeyFromSecret("")
	assert.Error(t, err)
}

func TestSignVerify(t *testing.T) {
	key, err := KeyFromSecret("secret")
	require.NoError(t, err)
	sig := Sign(key, "1725442341", []byte("body"))
	pub := key.Public().(ed25519.PublicKey)
	assert.True(t, Verify(pub, "1725442341", []byte("body"), sig))
	assert.False(t, Verify(pub, "1725442342", []byte("body"), sig))
	assert.False(t, Verify(pub, "1725442341", []byte("body"), "zz"))
}

func TestCallbackValidation(t *testing.T) {
	s, _, srv := newTestServer(t)
	body := []byte(`{"op":13,"d":{"plain_token":"Arq0D5A61EgUu4OxUvOp","event_ts":"1725442341"}}`)

	resp := post(t, srv.URL+"/qqbot/app", body, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got struct {
		PlainToken string `json:"plain_token"`
		Signature  string `json:"signature"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "Arq0D5A61EgUu4OxUvOp", got.PlainToken)

	key, _ := s.key("app")
	assert.True(t, Verify(key.Public().(ed25519.PublicKey), "1725442341", []byte("Arq0D5A61EgUu4OxUvOp"), got.Signature))
}

func TestDispatchSignedEvent(t *testing.T) {
	s, sink, srv := newTestServer(t)
	body := []byte(`{"id":"ev-1","op":0,"s":42,"t":"GROUP_AT_MESSAGE_CREATE","d":{"id":"m1"}}`)
	key, _ := s.key("app")

	resp := post(t, srv.URL+"/qqbot/app", body, map[string]string{
		headerTimestamp: "1700000000",
		headerSignature: Sign(key, "1700000000", body),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ack map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
	assert.EqualValues(t, 12, ack["op"])

	require.Len(t, sink.events, 1)
	ev := sink.events[0]
	assert.Equal(t, "app", ev.BotID)
	assert.Equal(t, "GROUP_AT_MESSAGE_CREATE", ev.Type)
	assert.EqualValues(t, 42, ev.Seq)
	assert.Equal(t, "ev-1", ev.ID)
	assert.JSONEq(t, `{"id":"m1"}`, string(ev.Data))
}

func TestRejectsBadSignature(t *testing.T) {
	_, sink, srv := newTestServer(t)
	body := []byte(`{"op":0,"t":"C2C_MESSAGE_CREATE","d":{}}`)
	resp := post(t, srv.URL+"/qqbot/app", body, map[string]string{
		headerTimestamp: "1",
		headerSignature: "00",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, sink.events)
}

func TestUnknownAndRemovedBot(t *testing.T) {
	s, _, srv := newTestServer(t)
	resp := post(t, srv.URL+"/qqbot/other", []byte(`{"op":13,"d":{"plain_token":"x","event_ts":"1"}}`), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	assert.True(t, s.Remove("app"))
	assert.False(t, s.Remove("app"))
	resp = post(t, srv.URL+"/qqbot/app", []byte(`{"op":13,"d":{"plain_token":"x","event_ts":"1"}}`), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
