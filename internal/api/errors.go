package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/kalambet/tweetbot/internal/pipeline"
	"github.com/kalambet/tweetbot/internal/proxy"
)

// apiError is the error body of JSON responses and the payload of SSE error
// events.
type apiError struct {
	Message           string `json:"message"`
	Type              string `json:"type,omitempty"`
	RateLimited       bool   `json:"rateLimited,omitempty"`
	RetryAfterSeconds int    `json:"retryAfterSeconds,omitempty"`
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeAPIError(w, code, apiError{Message: fmt.Sprintf(format, args...), Type: errType})
}

func writeAPIError(w http.ResponseWriter, code int, e apiError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{"error": e})
}

// writeError maps a pipeline error onto a status code and error body.
func writeError(w http.ResponseWriter, err error) {
	code, e := classify(err)
	if rl, ok := proxy.AsRateLimit(err); ok {
		w.Header().Set("Retry-After", fmt.Sprint(rl.RetryAfterSeconds()))
	}
	writeAPIError(w, code, e)
}

func classify(err error) (int, apiError) {
	e := apiError{Message: err.Error()}
	if rl, ok := proxy.AsRateLimit(err); ok {
		e.Type = "rate_limit_error"
		e.RateLimited = true
		e.RetryAfterSeconds = rl.RetryAfterSeconds()
		return http.StatusTooManyRequests, e
	}
	switch {
	case errors.Is(err, pipeline.ErrInvalidRequest), errors.Is(err, pipeline.ErrNoAPIKey):
		e.Type = "invalid_request_error"
		return http.StatusBadRequest, e
	case proxy.IsCredential(err):
		e.Type = "authentication_error"
		return http.StatusUnauthorized, e
	case errors.Is(err, context.Canceled):
		e.Type = "canceled"
		return http.StatusServiceUnavailable, e
	default:
		e.Type = "api_error"
		return http.StatusBadGateway, e
	}
}
