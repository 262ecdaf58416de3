package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/kalambet/tweetbot/internal/pipeline"
	"github.com/kalambet/tweetbot/internal/retry"
)

const (
	// surfaceHeader names the presenting surface a stream belongs to. A new
	// stream on a surface supersedes the previous one.
	surfaceHeader  = "X-Surface"
	streamIDHeader = "X-Stream-Id"
	defaultSurface = "default"
)

// SSE event names.
const (
	eventChunk = "chunk"
	eventRetry = "retry"
	eventDone  = "done"
	eventError = "error"
)

type chunkEvent struct {
	Text string `json:"text"`
}

type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	return &sseWriter{w: w, flusher: flusher}, true
}

func (s *sseWriter) start(streamToken string) {
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set(streamIDHeader, streamToken)
	s.w.WriteHeader(http.StatusOK)
	s.flusher.Flush()
}

func (s *sseWriter) event(name string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func surfaceOf(r *http.Request) string {
	if s := strings.TrimSpace(r.Header.Get(surfaceHeader)); s != "" {
		return s
	}
	return defaultSurface
}

// streamRun is what a streaming endpoint does once the SSE response has
// started. send delivers an event unless the stream has been superseded.
type streamRun func(r *http.Request, send func(name string, v any), countdown retry.Option) (any, error)

// serveStream runs fn as the active stream of the request's surface. Any
// earlier stream on the same surface is canceled and its remaining events
// are dropped.
func serveStream(deps Deps, w http.ResponseWriter, r *http.Request, fn streamRun) {
	sse, ok := newSSEWriter(w)
	if !ok {
		httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
		return
	}

	surface := surfaceOf(r)
	session := deps.Sessions.Get(surface)
	ctx, stream, end := session.Begin(r.Context())
	defer end()

	log := deps.Logger.With("surface", surface, "stream", stream.Token)
	sse.start(stream.Token)

	send := func(name string, v any) {
		delivered := session.Deliver(stream.ID, func() {
			if err := sse.event(name, v); err != nil {
				log.Debug("writing stream event failed", "event", name, "error", err)
			}
		})
		if !delivered {
			log.Debug("dropped event of superseded stream", "event", name)
		}
	}
	countdown := retry.WithCountdown(func(wt retry.Wait) { send(eventRetry, wt) })

	res, err := fn(r.WithContext(ctx), send, countdown)
	if err != nil {
		log.Warn("stream failed", "error", err)
		_, body := classify(err)
		send(eventError, body)
		return
	}
	send(eventDone, res)
}

func handleGenerateStream(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req pipeline.Request
		if !decodeBody(w, r, &req) {
			return
		}
		if err := req.Validate(); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request: %v", err)
			return
		}
		if deps.Generator.Settings().APIKey == "" {
			writeError(w, pipeline.ErrNoAPIKey)
			return
		}

		serveStream(deps, w, r, func(r *http.Request, send func(string, any), countdown retry.Option) (any, error) {
			return deps.Generator.GenerateStreaming(r.Context(), req, func(text string) {
				send(eventChunk, chunkEvent{Text: text})
			}, countdown)
		})
	}
}

type clarifyRequest struct {
	Topic      string `json:"topic"`
	ThreadMode bool   `json:"threadMode"`
}

func handleClarifyStream(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req clarifyRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Topic) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "topic is required")
			return
		}
		if deps.Generator.Settings().APIKey == "" {
			writeError(w, pipeline.ErrNoAPIKey)
			return
		}

		serveStream(deps, w, r, func(r *http.Request, send func(string, any), countdown retry.Option) (any, error) {
			return deps.Generator.ClarifyingQuestions(r.Context(), req.Topic, req.ThreadMode, func(text string) {
				send(eventChunk, chunkEvent{Text: text})
			}, countdown)
		})
	}
}
