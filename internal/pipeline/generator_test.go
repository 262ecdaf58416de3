package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/tweetbot/internal/composer"
	"github.com/kalambet/tweetbot/internal/history"
	"github.com/kalambet/tweetbot/internal/persona"
	"github.com/kalambet/tweetbot/internal/proxy"
	"github.com/kalambet/tweetbot/internal/retry"
	"github.com/kalambet/tweetbot/internal/storage"
	"github.com/kalambet/tweetbot/internal/usage"
)

// scriptedClient replays one response per call. A response is either an
// error or a text that is streamed in two halves.
type scriptedClient struct {
	mu        sync.Mutex
	responses []any
	requests  []proxy.ChatRequest
}

func (c *scriptedClient) next(req proxy.ChatRequest) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if len(c.responses) == 0 {
		return errors.New("no scripted response")
	}
	r := c.responses[0]
	if len(c.responses) > 1 {
		c.responses = c.responses[1:]
	}
	return r
}

func (c *scriptedClient) Complete(_ context.Context, req proxy.ChatRequest) (proxy.Completion, error) {
	switch r := c.next(req).(type) {
	case error:
		return proxy.Completion{}, r
	case string:
		return proxy.Completion{Text: r}, nil
	}
	panic("bad script")
}

func (c *scriptedClient) Stream(_ context.Context, req proxy.ChatRequest, onEvent func(proxy.StreamEvent)) (proxy.Completion, error) {
	switch r := c.next(req).(type) {
	case error:
		onEvent(proxy.StreamEvent{Kind: proxy.EventFailed, Err: r})
		return proxy.Completion{}, r
	case string:
		half := len(r) / 2
		onEvent(proxy.StreamEvent{Kind: proxy.EventChunk, Text: r[:half]})
		onEvent(proxy.StreamEvent{Kind: proxy.EventChunk, Text: r})
		onEvent(proxy.StreamEvent{Kind: proxy.EventCompleted, Text: r})
		return proxy.Completion{Text: r}, nil
	}
	panic("bad script")
}

func (c *scriptedClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

type instantClock struct{}

func (instantClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

type prefixInliner struct{}

func (prefixInliner) Inline(_ context.Context, urls []string) []string {
	out := make([]string, len(urls))
	for i, u := range urls {
		out[i] = "inlined:" + u
	}
	return out
}

type fixture struct {
	gen     *Generator
	client  *scriptedClient
	history *history.Store
	tracker *usage.Tracker
}

func newFixture(t *testing.T, responses ...any) fixture {
	t.Helper()
	docs := storage.NewMemory()
	f := fixture{
		client:  &scriptedClient{responses: responses},
		history: history.NewStore(docs),
		tracker: usage.NewTracker(docs),
	}
	f.gen = New(f.client, f.history, f.tracker,
		Settings{APIKey: "k", Model: "anthropic/claude-sonnet-4-5", Persona: persona.Builder, Topics: []string{"go"}},
		WithImages(prefixInliner{}),
		WithRetryOptions(retry.WithClock(instantClock{})),
	)
	return f
}

func replyRequest() Request {
	return Request{
		Action:  composer.ActionReply,
		Subject: &composer.Subject{Text: "hot take", Handle: "@a", ImageURLs: []string{"https://img/1.png"}},
	}
}

const threeItems = "1. [hot take] One\n2. [empathy] Two\n3. Three"

func TestGenerate(t *testing.T) {
	f := newFixture(t, threeItems)
	ctx := context.Background()

	res, err := f.gen.Generate(ctx, replyRequest())
	require.NoError(t, err)
	require.Len(t, res.Suggestions, 3)
	assert.Equal(t, "hot take", res.Suggestions[0].Tag)
	assert.False(t, res.IsThread)
	require.NotEmpty(t, res.HistoryID)

	req := f.client.requests[0]
	assert.Equal(t, "anthropic/claude-sonnet-4-5", req.Model)
	assert.Equal(t, proxy.DefaultMaxTokens, req.MaxTokens)
	require.Len(t, req.Messages, 2)
	user := req.Messages[1].Content
	require.Len(t, user, 2)
	assert.Equal(t, "inlined:https://img/1.png", user[0].ImageURL.URL)
	assert.Contains(t, user[1].Text, `Tweet: "hot take"`)
	assert.Contains(t, req.Messages[0].Text, "interested in these topics: go")

	entry, ok, err := f.history.Get(ctx, res.HistoryID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "reply", entry.Action)
	assert.Equal(t, persona.Builder, entry.Persona)
	assert.Equal(t, "@a", entry.Original.Author)

	st, err := f.gen.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, st.TotalGenerated)
}

func TestGenerate_NoAPIKey(t *testing.T) {
	f := newFixture(t, threeItems)
	f.gen.settings.APIKey = ""

	_, err := f.gen.Generate(context.Background(), replyRequest())
	assert.ErrorIs(t, err, ErrNoAPIKey)
	assert.Zero(t, f.client.calls(), "no network call without a key")
}

func TestGenerate_InvalidRequest(t *testing.T) {
	f := newFixture(t, threeItems)
	_, err := f.gen.Generate(context.Background(), Request{Action: composer.ActionQuote})
	assert.Error(t, err)
	assert.Zero(t, f.client.calls())
}

func TestGenerateStreaming_Thread(t *testing.T) {
	f := newFixture(t, "[1/2] Hook\n[2/2] Payoff")

	var chunks []string
	res, err := f.gen.GenerateStreaming(context.Background(),
		Request{Action: composer.ActionNew, Topic: "sqlite", ThreadMode: true},
		func(text string) { chunks = append(chunks, text) })
	require.NoError(t, err)

	assert.True(t, res.IsThread)
	require.Len(t, res.Thread, 2)
	assert.Equal(t, 2, res.Thread[1].Position)
	assert.Len(t, chunks, 2)
	for _, c := range chunks {
		assert.True(t, strings.HasPrefix("[1/2] Hook\n[2/2] Payoff", c))
	}
}

func TestGenerateStreaming_MultiVoice(t *testing.T) {
	f := newFixture(t, "1. a\n2. b\n3. c")
	req := replyRequest()
	req.MultiVoice = true

	res, err := f.gen.GenerateStreaming(context.Background(), req, nil)
	require.NoError(t, err)
	require.Len(t, res.Suggestions, 3)
	assert.Equal(t, persona.Contrarian, res.Suggestions[2].Persona)
}

func TestGenerateStreaming_RetriesRateLimit(t *testing.T) {
	f := newFixture(t, &proxy.RateLimitError{RetryAfter: 3 * time.Second}, threeItems)

	var waits []retry.Wait
	res, err := f.gen.GenerateStreaming(context.Background(), replyRequest(), nil,
		retry.WithCountdown(func(w retry.Wait) { waits = append(waits, w) }))
	require.NoError(t, err)
	assert.Len(t, res.Suggestions, 3)
	assert.Equal(t, 2, f.client.calls())
	assert.Equal(t, []retry.Wait{{Attempt: 2, Remaining: 3}, {Attempt: 2, Remaining: 2}, {Attempt: 2, Remaining: 1}}, waits)

	// Both attempts carry the same request.
	assert.Equal(t, f.client.requests[0].Messages[0].Text, f.client.requests[1].Messages[0].Text)
}

func TestGenerate_RateLimitExhausted(t *testing.T) {
	f := newFixture(t, &proxy.RateLimitError{RetryAfter: time.Second})

	_, err := f.gen.Generate(context.Background(), replyRequest())
	assert.True(t, proxy.IsRateLimit(err))
	assert.Equal(t, retry.MaxAttempts, f.client.calls())

	list, _ := f.history.List(context.Background())
	assert.Empty(t, list)
}

func TestGenerate_CredentialErrorNotRetried(t *testing.T) {
	f := newFixture(t, &proxy.CredentialError{})
	_, err := f.gen.Generate(context.Background(), replyRequest())
	assert.True(t, proxy.IsCredential(err))
	assert.Equal(t, 1, f.client.calls())
}

func TestGenerate_CanceledDuringRetryWait(t *testing.T) {
	docs := storage.NewMemory()
	client := &scriptedClient{responses: []any{&proxy.RateLimitError{RetryAfter: time.Minute}}}
	gen := New(client, history.NewStore(docs), usage.NewTracker(docs), Settings{APIKey: "k"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := gen.GenerateStreaming(ctx, replyRequest(), nil, retry.WithCountdown(func(retry.Wait) { cancel() }))
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("generation did not stop after cancel")
	}
	assert.Equal(t, 1, client.calls())
}

func TestGenerate_VoiceContextFromSelections(t *testing.T) {
	f := newFixture(t, threeItems)
	ctx := context.Background()

	res, err := f.gen.Generate(ctx, replyRequest())
	require.NoError(t, err)
	ok, err := f.gen.RecordSelection(ctx, res.HistoryID, 1, "Two, but edited")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.gen.Generate(ctx, replyRequest())
	require.NoError(t, err)
	assert.Contains(t, f.client.requests[1].Messages[0].Text, `1. [reply] "Two, but edited"`)

	st, _ := f.gen.Stats(ctx)
	assert.Equal(t, history.Stats{TotalGenerated: 2, TotalSelected: 1}, st)
}

func TestClarifyingQuestions(t *testing.T) {
	f := newFixture(t, "1. Who is it for?\n2. What's the hook?\n3. What should they remember?")

	var last string
	out, err := f.gen.ClarifyingQuestions(context.Background(), "sqlite", false, func(s string) { last = s })
	require.NoError(t, err)
	assert.Equal(t, []string{"Who is it for?", "What's the hook?", "What should they remember?"}, out.Questions)
	assert.Equal(t, out.Text, last)

	list, _ := f.history.List(context.Background())
	assert.Empty(t, list, "clarifying questions are not history")
}

func TestUsageSnapshotAndReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec := UsageRecorder(f.tracker)
	canceled, cancel := context.WithCancel(ctx)
	cancel()
	rec.RecordUsage(canceled, proxy.Usage{PromptTokens: 1_000_000, CompletionTokens: 1_000_000})

	snap, err := f.gen.UsageSnapshot(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1_000_000, snap.TotalInputTokens)
	assert.Equal(t, "anthropic/claude-sonnet-4-5", snap.Model)
	assert.InDelta(t, 18.0, snap.EstimatedCost, 1e-9)

	require.NoError(t, f.gen.ResetUsage(ctx))
	snap, err = f.gen.UsageSnapshot(ctx)
	require.NoError(t, err)
	assert.Zero(t, snap.TotalInputTokens)
	assert.Zero(t, snap.EstimatedCost)
}
