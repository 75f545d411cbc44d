package qq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// TokenEndpoint issues app access tokens.
const TokenEndpoint = "https://bots.qq.com/app/getAppAccessToken"

// tokens are refreshed this long before the platform expires them
const tokenSkew = 60 * time.Second

type cachedToken struct {
	value  string
	secret string
	expiry time.Time
}

// TokenProvider fetches and caches one access token per bot identity.
// Concurrent fetches for the same identity share a single request.
type TokenProvider struct {
	endpoint   string
	httpClient *http.Client
	now        func() time.Time

	group singleflight.Group

	mu     sync.RWMutex
	tokens map[string]cachedToken
}

// TokenOption configures a TokenProvider.
type TokenOption func(*TokenProvider)

// WithTokenEndpoint overrides the token issuance URL.
func WithTokenEndpoint(url string) TokenOption {
	return func(p *TokenProvider) { p.endpoint = url }
}

// WithTokenHTTPClient overrides the HTTP client used for token requests.
func WithTokenHTTPClient(c *http.Client) TokenOption {
	return func(p *TokenProvider) { p.httpClient = c }
}

func NewTokenProvider(opts ...TokenOption) *TokenProvider {
	p := &TokenProvider{
		endpoint:   TokenEndpoint,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		now:        time.Now,
		tokens:     make(map[string]cachedToken),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AccessToken returns a valid token for appID, fetching one if the cache is
// empty, expiring, or was issued for a different secret.
func (p *TokenProvider) AccessToken(ctx context.Context, appID, secret string) (string, error) {
	p.mu.RLock()
	t, ok := p.tokens[appID]
	p.mu.RUnlock()
	if ok && t.secret == secret && p.now().Add(tokenSkew).Before(t.expiry) {
		return t.value, nil
	}

	v, err, _ := p.group.Do(appID, func() (any, error) {
		return p.fetch(ctx, appID, secret)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Cached returns the cached token for appID without fetching. An expired
// token counts as absent.
func (p *TokenProvider) Cached(appID string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.tokens[appID]
	if !ok || !p.now().Before(t.expiry) {
		return "", false
	}
	return t.value, true
}

// Invalidate drops the cached token for appID.
func (p *TokenProvider) Invalidate(appID string) {
	p.mu.Lock()
	delete(p.tokens, appID)
	p.mu.Unlock()
}

// RefreshExpiring refetches every cached token that expires within the given window.
func (p *TokenProvider) RefreshExpiring(ctx context.Context, within time.Duration) {
	deadline := p.now().Add(within)
	type due struct{ appID, secret string }
	var list []due
	p.mu.RLock()
	for id, t := range p.tokens {
		if t.expiry.Before(deadline) {
			list = append(list, due{id, t.secret})
		}
	}
	p.mu.RUnlock()

	for _, item := range list {
		if _, err, _ := p.group.Do(item.appID, func() (any, error) {
			return p.fetch(ctx, item.appID, item.secret)
		}); err != nil {
			slog.Warn("qq: token refresh failed", "bot", item.appID, "err", err)
		}
	}
}

func (p *TokenProvider) fetch(ctx context.Context, appID, secret string) (string, error) {
	data, _ := json.Marshal(map[string]string{
		"appId":        appID,
		"clientSecret": secret,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("qq: token request: %w", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)

	var result struct {
		AccessToken string          `json:"access_token"`
		ExpiresIn   json.RawMessage `json:"expires_in"`
		Code        int             `json:"code"`
		Message     string          `json:"message"`
	}
	_ = json.Unmarshal(b, &result)
	if resp.StatusCode >= 400 || result.AccessToken == "" {
		msg := result.Message
		if msg == "" {
			msg = string(b)
		}
		return "", &AuthError{AppID: appID, Status: resp.StatusCode, Code: result.Code, Message: msg}
	}

	ttl := parseExpiresIn(result.ExpiresIn)
	p.mu.Lock()
	p.tokens[appID] = cachedToken{
		value:  result.AccessToken,
		secret: secret,
		expiry: p.now().Add(ttl),
	}
	p.mu.Unlock()
	slog.Debug("qq: token issued", "bot", appID, "ttl", ttl)
	return result.AccessToken, nil
}

// parseExpiresIn accepts both "7200" and 7200; the platform has sent both.
func parseExpiresIn(raw json.RawMessage) time.Duration {
	s := string(bytes.Trim(raw, `"`))
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		n = 7200
	}
	return time.Duration(n) * time.Second
}
