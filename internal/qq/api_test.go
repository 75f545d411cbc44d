package qq

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	method, path, auth, contentType string
	body                            []byte
}

func newTestAPI(t *testing.T, handler http.HandlerFunc) (*API, *[]recorded) {
	t.Helper()
	var reqs []recorded
	mux := http.NewServeMux()
	mux.HandleFunc("/app/getAppAccessToken", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"TOKEN","expires_in":"7200"}`))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		reqs = append(reqs, recorded{
			method:      r.Method,
			path:        r.URL.Path,
			auth:        r.Header.Get("Authorization"),
			contentType: r.Header.Get("Content-Type"),
			body:        b,
		})
		handler(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	tokens := NewTokenProvider(WithTokenEndpoint(srv.URL + "/app/getAppAccessToken"))
	return NewAPI("app", "secret", false, tokens, WithBaseURL(srv.URL), WithRetryWait(5*time.Millisecond)), &reqs
}

func TestAPI_Gateway(t *testing.T) {
	api, reqs := newTestAPI(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"url":"wss://api.sgroup.qq.com/websocket"}`))
	})
	url, err := api.Gateway(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "wss://api.sgroup.qq.com/websocket", url)
	require.Len(t, *reqs, 1)
	assert.Equal(t, "/gateway", (*reqs)[0].path)
	assert.Equal(t, "QQBot TOKEN", (*reqs)[0].auth)
}

func TestAPI_PostMessageRoutes(t *testing.T) {
	api, reqs := newTestAPI(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":"m1","timestamp":1}`))
	})
	cases := []struct {
		route Route
		path  string
	}{
		{Route{RouteC2C, "u1"}, "/v2/users/u1/messages"},
		{Route{RouteGroup, "g1"}, "/v2/groups/g1/messages"},
		{Route{RouteChannel, "c1"}, "/channels/c1/messages"},
		{Route{RouteDirect, "d1"}, "/dms/d1/messages"},
	}
	for _, c := range cases {
		res, err := api.PostMessage(context.Background(), c.route, JSONPayload(map[string]any{"content": "hi"}))
		require.NoError(t, err)
		assert.Equal(t, "m1", res.ID)
	}
	require.Len(t, *reqs, len(cases))
	for i, c := range cases {
		assert.Equal(t, c.path, (*reqs)[i].path)
		assert.Equal(t, "application/json", (*reqs)[i].contentType)
	}
}

func TestAPI_PostMultipart(t *testing.T) {
	api, reqs := newTestAPI(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":"m2"}`))
	})
	p := MultipartPayload(map[string]string{"content": "caption"}, FormFile{Field: "file_image", Name: "a.png", Data: []byte("PNG")})
	p.BindPassive(PassiveRef{MsgID: "orig"}, 0)

	_, err := api.PostMessage(context.Background(), Route{RouteChannel, "c1"}, p)
	require.NoError(t, err)
	require.Len(t, *reqs, 1)

	mediaType, params, err := mime.ParseMediaType((*reqs)[0].contentType)
	require.NoError(t, err)
	assert.Equal(t, "multipart/form-data", mediaType)

	form, err := multipart.NewReader(strings.NewReader(string((*reqs)[0].body)), params["boundary"]).ReadForm(1 << 20)
	require.NoError(t, err)
	assert.Equal(t, []string{"caption"}, form.Value["content"])
	assert.Equal(t, []string{"orig"}, form.Value["msg_id"])
	require.Len(t, form.File["file_image"], 1)
	assert.Equal(t, "a.png", form.File["file_image"][0].Filename)
}

func TestAPI_UploadMedia(t *testing.T) {
	api, reqs := newTestAPI(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"file_uuid":"u","file_info":"INFO","ttl":3600}`))
	})

	info, err := api.UploadMedia(context.Background(), Route{RouteGroup, "g1"}, MediaUpload{FileType: FileTypeImage, Data: []byte("raw")})
	require.NoError(t, err)
	assert.Equal(t, "INFO", info.FileInfo)

	var body map[string]any
	require.NoError(t, json.Unmarshal((*reqs)[0].body, &body))
	assert.Equal(t, "/v2/groups/g1/files", (*reqs)[0].path)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("raw")), body["file_data"])
	assert.EqualValues(t, FileTypeImage, body["file_type"])
	_, hasURL := body["url"]
	assert.False(t, hasURL)

	_, err = api.UploadMedia(context.Background(), Route{RouteChannel, "c1"}, MediaUpload{FileType: FileTypeImage, URL: "http://x"})
	assert.Error(t, err, "guild routes have no rich-media upload")
}

func TestAPI_ErrorResponse(t *testing.T) {
	api, _ := newTestAPI(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Tps-Trace-Id", "trace-1")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":40034025,"message":"msg_seq duplicated"}`))
	})
	_, err := api.PostMessage(context.Background(), Route{RouteC2C, "u"}, JSONPayload(nil))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 40034025, apiErr.Code)
	assert.Equal(t, "trace-1", apiErr.TraceID)
}

func TestAPI_RetriesRateLimitAndServerErrors(t *testing.T) {
	calls := 0
	api, reqs := newTestAPI(t, func(w http.ResponseWriter, _ *http.Request) {
		calls++
		switch calls {
		case 1:
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusBadGateway)
		default:
			_, _ = w.Write([]byte(`{"id":"m3"}`))
		}
	})
	p := MultipartPayload(map[string]string{"content": "x"}, FormFile{Field: "file_image", Name: "a.png", Data: []byte("PNG")})
	res, err := api.PostMessage(context.Background(), Route{RouteChannel, "c1"}, p)
	require.NoError(t, err)
	assert.Equal(t, "m3", res.ID)
	require.Len(t, *reqs, 3)
	assert.Equal(t, (*reqs)[0].body, (*reqs)[2].body, "each attempt resends the full body")
}

func TestAPI_RetryGivesUp(t *testing.T) {
	api, reqs := newTestAPI(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err := api.PostMessage(context.Background(), Route{RouteC2C, "u"}, JSONPayload(nil))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.Len(t, *reqs, maxAttempts)
}

func TestAPI_ClientErrorNotRetried(t *testing.T) {
	api, reqs := newTestAPI(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	_, err := api.PostMessage(context.Background(), Route{RouteC2C, "u"}, JSONPayload(nil))
	require.Error(t, err)
	assert.Len(t, *reqs, 1)
}
