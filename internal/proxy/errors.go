package proxy

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultRetryAfter is used when a 429 response has no usable Retry-After.
const DefaultRetryAfter = 10 * time.Second

// CredentialError is returned on HTTP 401. It is terminal: the user must
// reconfigure the API key.
type CredentialError struct {
	Body string
}

func (e *CredentialError) Error() string {
	return "invalid API key, check your settings"
}

// RateLimitError is returned on HTTP 429.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds.
func (e *RateLimitError) RetryAfterSeconds() int {
	return int((e.RetryAfter + time.Second - 1) / time.Second)
}

// APIError covers any other failed request. Status is 0 when the request
// never produced a response.
type APIError struct {
	Status int
	Body   string
	Err    error
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("request failed: %v", e.Err)
	}
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Body)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsRateLimit reports whether err is, or wraps, a *RateLimitError.
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// AsRateLimit unwraps a *RateLimitError from err.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	ok := errors.As(err, &rl)
	return rl, ok
}

// IsCredential reports whether err is, or wraps, a *CredentialError.
func IsCredential(err error) bool {
	var ce *CredentialError
	return errors.As(err, &ce)
}

func classifyStatus(status int, header http.Header, body string) error {
	switch status {
	case http.StatusUnauthorized:
		return &CredentialError{Body: body}
	case http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: parseRetryAfter(header.Get("Retry-After"), time.Now())}
	default:
		return &APIError{Status: status, Body: body}
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP date. Missing, zero,
// negative or unparseable values yield DefaultRetryAfter.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return DefaultRetryAfter
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return DefaultRetryAfter
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d.Round(time.Second)
		}
	}
	return DefaultRetryAfter
}
