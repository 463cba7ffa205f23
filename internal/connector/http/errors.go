package http

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError is a non-2xx response. Message holds the raw response body.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// IsRateLimited reports a 429 response.
func (e *HTTPError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsServerError reports a 5xx response.
func (e *HTTPError) IsServerError() bool {
	return e.StatusCode >= 500
}

// AsHTTPError unwraps err to an *HTTPError.
func AsHTTPError(err error) (*HTTPError, bool) {
	var he *HTTPError
	if errors.As(err, &he) {
		return he, true
	}
	return nil, false
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	he, ok := AsHTTPError(err)
	return ok && he.StatusCode == http.StatusNotFound
}

func isRetryable(err error) bool {
	he, ok := AsHTTPError(err)
	return ok && (he.IsRateLimited() || he.IsServerError())
}
