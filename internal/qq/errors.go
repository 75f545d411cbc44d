// Package qq talks to the QQ open platform REST API: access tokens, the
// gateway URL, message sends and rich-media uploads.
package qq

import (
	"fmt"
	"net/http"
	"time"
)

// AuthError reports that the platform rejected a bot's credentials.
type AuthError struct {
	AppID   string
	Status  int
	Code    int
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("qq: credentials rejected for %s (status %d, code %d): %s",
		e.AppID, e.Status, e.Code, e.Message)
}

// APIError is a non-2xx REST response.
type APIError struct {
	Method  string
	Path    string
	Status  int
	Code    int
	Message string
	TraceID string

	retryAfter time.Duration
}

func (e *APIError) retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

func (e *APIError) Error() string {
	return fmt.Sprintf("qq: %s %s: HTTP %d code %d: %s (trace %s)",
		e.Method, e.Path, e.Status, e.Code, e.Message, e.TraceID)
}
