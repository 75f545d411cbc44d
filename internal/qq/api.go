package qq

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const (
	apiHost        = "https://api.sgroup.qq.com"
	sandboxAPIHost = "https://sandbox.api.sgroup.qq.com"

	maxAttempts = 3
)

// User is the bot profile returned by /users/@me.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
	UnionID  string `json:"union_openid"`
}

// MessageResult is the platform's answer to a send.
type MessageResult struct {
	ID        string `json:"id"`
	Timestamp any    `json:"timestamp"`
}

// MediaUpload describes a rich-media upload. Exactly one of URL and Data is set.
type MediaUpload struct {
	FileType   int
	URL        string
	Data       []byte
	SrvSendMsg bool
}

// MediaInfo is the uploaded media handle referenced by msg_type 7 messages.
type MediaInfo struct {
	FileUUID string `json:"file_uuid"`
	FileInfo string `json:"file_info"`
	TTL      int    `json:"ttl"`
}

// API is the REST client of one bot identity.
type API struct {
	appID      string
	secret     string
	base       string
	tokens     *TokenProvider
	httpClient *http.Client
	retryWait  time.Duration
}

// APIOption configures an API.
type APIOption func(*API)

// WithBaseURL overrides the API host (tests, private deployments).
func WithBaseURL(u string) APIOption {
	return func(a *API) { a.base = u }
}

// WithRetryWait sets the base delay between retries of a rate-limited or
// failed (5xx) request when the server sends no Retry-After.
func WithRetryWait(d time.Duration) APIOption {
	return func(a *API) { a.retryWait = d }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) APIOption {
	return func(a *API) { a.httpClient = c }
}

func NewAPI(appID, secret string, sandbox bool, tokens *TokenProvider, opts ...APIOption) *API {
	a := &API{
		appID:      appID,
		secret:     secret,
		base:       apiHost,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retryWait:  time.Second,
	}
	if sandbox {
		a.base = sandboxAPIHost
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *API) AppID() string { return a.appID }

// Token returns a valid access token, fetching one when needed.
func (a *API) Token(ctx context.Context) (string, error) {
	return a.tokens.AccessToken(ctx, a.appID, a.secret)
}

// Gateway returns the WebSocket URL of the event gateway.
func (a *API) Gateway(ctx context.Context) (string, error) {
	var result struct {
		URL string `json:"url"`
	}
	if err := a.doJSON(ctx, http.MethodGet, "/gateway", nil, &result); err != nil {
		return "", err
	}
	if result.URL == "" {
		return "", fmt.Errorf("qq: no gateway url")
	}
	return result.URL, nil
}

// Me returns the bot's own profile.
func (a *API) Me(ctx context.Context) (*User, error) {
	var u User
	if err := a.doJSON(ctx, http.MethodGet, "/users/@me", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateDirectSession opens a guild direct-message session with a member
// and returns the guild id that addresses it.
func (a *API) CreateDirectSession(ctx context.Context, recipientID, sourceGuildID string) (string, error) {
	var result struct {
		GuildID string `json:"guild_id"`
	}
	body := map[string]any{"recipient_id": recipientID, "source_guild_id": sourceGuildID}
	if err := a.doJSON(ctx, http.MethodPost, "/users/@me/dms", body, &result); err != nil {
		return "", err
	}
	return result.GuildID, nil
}

// PostMessage sends one payload to route.
func (a *API) PostMessage(ctx context.Context, route Route, p Payload) (*MessageResult, error) {
	contentType, body, err := p.Encode()
	if err != nil {
		return nil, fmt.Errorf("qq: encode payload: %w", err)
	}
	var result MessageResult
	if err := a.do(ctx, http.MethodPost, route.messagePath(), contentType, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UploadMedia uploads rich media for a C2C or group route.
func (a *API) UploadMedia(ctx context.Context, route Route, up MediaUpload) (*MediaInfo, error) {
	path, ok := route.filesPath()
	if !ok {
		return nil, fmt.Errorf("qq: %s route has no media upload", route.Kind)
	}
	body := map[string]any{
		"file_type":    up.FileType,
		"srv_send_msg": up.SrvSendMsg,
	}
	if len(up.Data) > 0 {
		body["file_data"] = base64.StdEncoding.EncodeToString(up.Data)
	} else {
		body["url"] = up.URL
	}
	var info MediaInfo
	if err := a.doJSON(ctx, http.MethodPost, path, body, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (a *API) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = data
		contentType = "application/json"
	}
	return a.do(ctx, method, path, contentType, body, out)
}

// do retries 429 and 5xx answers up to maxAttempts times.
func (a *API) do(ctx context.Context, method, path, contentType string, body []byte, out any) error {
	for attempt := 1; ; attempt++ {
		b, err := a.send(ctx, method, path, contentType, body)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.retryable() && attempt < maxAttempts {
			wait := apiErr.retryAfter
			if wait <= 0 {
				wait = a.retryWait * time.Duration(attempt)
			}
			slog.Debug("qq: retrying request", "path", path, "status", apiErr.Status, "wait", wait)
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return err
			}
		}
		if err != nil {
			return err
		}
		if out == nil || len(b) == 0 {
			return nil
		}
		return json.Unmarshal(b, out)
	}
}

func (a *API) send(ctx context.Context, method, path, contentType string, body []byte) ([]byte, error) {
	token, err := a.Token(ctx)
	if err != nil {
		return nil, err
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.base+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "QQBot "+token)
	req.Header.Set("X-Union-Appid", a.appID)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 {
		var e struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(b, &e)
		if e.Message == "" {
			e.Message = string(b)
		}
		if resp.StatusCode == http.StatusUnauthorized {
			a.tokens.Invalidate(a.appID)
		}
		return nil, &APIError{
			Method:     method,
			Path:       path,
			Status:     resp.StatusCode,
			Code:       e.Code,
			Message:    e.Message,
			TraceID:    resp.Header.Get("X-Tps-Trace-Id"),
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return b, nil
}

func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
