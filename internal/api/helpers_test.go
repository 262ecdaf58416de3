package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/tweetbot/internal/history"
	"github.com/kalambet/tweetbot/internal/persona"
	"github.com/kalambet/tweetbot/internal/pipeline"
	"github.com/kalambet/tweetbot/internal/proxy"
	"github.com/kalambet/tweetbot/internal/retry"
	"github.com/kalambet/tweetbot/internal/storage"
	"github.com/kalambet/tweetbot/internal/usage"
)

const testToken = "test-token"

const threeTakes = "1. First take\n2. [Hot take] Second take\n3. Third take"

// mockUpstream returns an httptest.Server that mimics a subset of the OpenRouter API.
func mockUpstream(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *proxy.Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := proxy.NewClientWithBaseURL("test-key", srv.URL)
	return srv, c
}

// replyWith answers both single-shot and streaming requests with text. The
// streamed form sends one frame per line.
func replyWith(text string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Stream bool `json:"stream"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		if !req.Stream {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"choices": []any{map[string]any{"message": map[string]string{"content": text}}},
				"usage":   map[string]int{"prompt_tokens": 10, "completion_tokens": 5},
			})
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range strings.SplitAfter(text, "\n") {
			writeDelta(w, part)
		}
		fmt.Fprint(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":10,\"completion_tokens\":5}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}
}

func writeDelta(w http.ResponseWriter, content string) {
	frame, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"delta": map[string]string{"content": content}}},
	})
	fmt.Fprintf(w, "data: %s\n\n", frame)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func rateLimited(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Retry-After", "2")
	w.WriteHeader(http.StatusTooManyRequests)
	fmt.Fprint(w, `{"error":{"message":"slow down"}}`)
}

type instantClock struct{}

func (instantClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

type testEnv struct {
	handler http.Handler
	gen     *pipeline.Generator
	tracker *usage.Tracker
}

func newTestEnv(t *testing.T, upstream http.HandlerFunc, apiKey string) testEnv {
	t.Helper()
	_, c := mockUpstream(t, upstream)
	docs := storage.NewMemory()
	tracker := usage.NewTracker(docs)
	c.WithUsageRecorder(pipeline.UsageRecorder(tracker))

	gen := pipeline.New(c, history.NewStore(docs), tracker,
		pipeline.Settings{
			APIKey:  apiKey,
			Model:   "anthropic/claude-sonnet-4-5",
			Persona: persona.Contrarian,
			Topics:  []string{"go", "databases"},
		},
		pipeline.WithRetryOptions(retry.WithClock(instantClock{})),
	)
	return testEnv{
		handler: NewHandler(Deps{Generator: gen, Models: c, Token: testToken}),
		gen:     gen,
		tracker: tracker,
	}
}

func (e testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

type errorBody struct {
	Error apiError `json:"error"`
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) apiError {
	t.Helper()
	var body errorBody
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return body.Error
}

type sseEvent struct {
	name string
	data string
}

func parseEvents(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	for _, block := range strings.Split(body, "\n\n") {
		if strings.TrimSpace(block) == "" {
			continue
		}
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.data = strings.TrimPrefix(line, "data: ")
			}
		}
		events = append(events, ev)
	}
	return events
}

func eventNames(events []sseEvent) []string {
	names := make([]string, len(events))
	for i, ev := range events {
		names[i] = ev.name
	}
	return names
}
