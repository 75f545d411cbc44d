// Package webhook receives gateway events over HTTP callbacks for bots whose
// delivery mode is "webhook".
package webhook

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crystaldolphin/qqadapter/internal/gateway"
)

const (
	headerSignature = "X-Signature-Ed25519"
	headerTimestamp = "X-Signature-Timestamp"
	maxBodyBytes    = 1 << 20
)

// Server serves /qqbot/{appId} for every added bot.
type Server struct {
	addr string
	sink gateway.EventSink

	mu   sync.RWMutex
	keys map[string]ed25519.PrivateKey

	httpServer *http.Server
}

func New(addr string, sink gateway.EventSink) *Server {
	return &Server{
		addr: addr,
		sink: sink,
		keys: make(map[string]ed25519.PrivateKey),
	}
}

// Add starts accepting callbacks for appID. Adding again replaces the key.
func (s *Server) Add(appID, secret string) error {
	key, err := KeyFromSecret(secret)
	if err != nil {
		return fmt.Errorf("webhook: add %s: %w", appID, err)
	}
	s.mu.Lock()
	s.keys[appID] = key
	s.mu.Unlock()
	slog.Info("webhook: bot added", "bot", appID, "path", "/qqbot/"+appID)
	return nil
}

// Remove stops accepting callbacks for appID and reports whether it was added.
func (s *Server) Remove(appID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[appID]; !ok {
		return false
	}
	delete(s.keys, appID)
	slog.Info("webhook: bot removed", "bot", appID)
	return true
}

func (s *Server) key(appID string) (ed25519.PrivateKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[appID]
	return k, ok
}

// Handler returns the callback routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /qqbot/{appId}", s.handleCallback)
	return mux
}

// Start listens on the configured address until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("webhook: listening", "addr", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("webhook: shutdown", "err", err)
	}
	return ctx.Err()
}

type validationData struct {
	PlainToken string `json:"plain_token"`
	EventTS    string `json:"event_ts"`
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	appID := r.PathValue("appId")
	log := slog.With("bot", appID, "request", uuid.NewString())

	key, ok := s.key(appID)
	if !ok {
		log.Debug("webhook: callback for unknown bot")
		http.NotFound(w, r)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	var f gateway.Frame
	if err := json.Unmarshal(body, &f); err != nil {
		log.Warn("webhook: bad frame", "err", err)
		http.Error(w, "bad frame", http.StatusBadRequest)
		return
	}

	if f.Op == gateway.OpCallbackValidation {
		var v validationData
		if err := json.Unmarshal(f.D, &v); err != nil || v.PlainToken == "" {
			http.Error(w, "bad validation payload", http.StatusBadRequest)
			return
		}
		log.Info("webhook: callback url validated")
		writeJSON(w, map[string]string{
			"plain_token": v.PlainToken,
			"signature":   Sign(key, v.EventTS, []byte(v.PlainToken)),
		})
		return
	}

	pub := key.Public().(ed25519.PublicKey)
	if !Verify(pub, r.Header.Get(headerTimestamp), body, r.Header.Get(headerSignature)) {
		log.Warn("webhook: signature mismatch")
		http.Error(w, "bad signature", http.StatusUnauthorized)
		return
	}

	if f.Op == gateway.OpDispatch {
		var seq int64
		if f.S != nil {
			seq = *f.S
		}
		s.sink.Emit(r.Context(), appID, gateway.Event{BotID: appID, Type: f.T, Seq: seq, ID: f.ID, Data: f.D})
	} else {
		log.Debug("webhook: ignored opcode", "op", f.Op)
	}
	writeJSON(w, map[string]any{"op": gateway.OpHTTPCallbackACK, "d": 0})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
