// Package pipeline runs a generation end to end: prompt composition,
// transport with rate-limit retries, parsing and history bookkeeping.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/tweetbot/internal/composer"
	"github.com/kalambet/tweetbot/internal/history"
	"github.com/kalambet/tweetbot/internal/parser"
	"github.com/kalambet/tweetbot/internal/persona"
	"github.com/kalambet/tweetbot/internal/proxy"
	"github.com/kalambet/tweetbot/internal/retry"
	"github.com/kalambet/tweetbot/internal/usage"
)

// ErrNoAPIKey is returned before any network call when no credential is
// configured.
var ErrNoAPIKey = errors.New("API key not configured, set provider.api_key or TWEETBOT_API_KEY")

// ErrInvalidRequest wraps request validation failures.
var ErrInvalidRequest = errors.New("invalid request")

// Request is a generation request.
type Request = composer.Request

// Completer is the transport. Implemented by *proxy.Client.
type Completer interface {
	Complete(ctx context.Context, req proxy.ChatRequest) (proxy.Completion, error)
	Stream(ctx context.Context, req proxy.ChatRequest, onEvent func(proxy.StreamEvent)) (proxy.Completion, error)
}

// ImageInliner resolves subject image URLs. Implemented by *images.Inliner.
type ImageInliner interface {
	Inline(ctx context.Context, urls []string) []string
}

// Settings are the generator's standing configuration.
type Settings struct {
	APIKey  string
	Model   string
	Persona persona.Persona
	Topics  []string
}

// Result is a parsed generation. Exactly one of Suggestions and Thread is
// set, depending on IsThread.
type Result struct {
	HistoryID   string               `json:"historyId"`
	IsThread    bool                 `json:"isThread"`
	Suggestions []parser.Suggestion  `json:"suggestions,omitempty"`
	Thread      []parser.ThreadEntry `json:"thread,omitempty"`
}

// Clarification is the outcome of the clarifying-questions flow.
type Clarification struct {
	Questions []string `json:"questions"`
	Text      string   `json:"text"`
}

// Generator wires the pipeline stages together.
type Generator struct {
	client   Completer
	history  *history.Store
	usage    *usage.Tracker
	images   ImageInliner
	settings Settings
	retry    []retry.Option
	logger   *slog.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithImages sets the image inliner. Without one, image URLs are sent as is.
func WithImages(in ImageInliner) Option {
	return func(g *Generator) { g.images = in }
}

// WithRetryOptions applies opts to every retry controller the generator
// creates.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(g *Generator) { g.retry = append(g.retry, opts...) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

// New creates a Generator.
func New(client Completer, hist *history.Store, tracker *usage.Tracker, settings Settings, opts ...Option) *Generator {
	if settings.Model == "" {
		settings.Model = usage.FallbackModel
	}
	g := &Generator{
		client:   client,
		history:  hist,
		usage:    tracker,
		settings: settings,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Settings returns the generator's configuration.
func (g *Generator) Settings() Settings { return g.settings }

// Generate runs one single-shot generation.
func (g *Generator) Generate(ctx context.Context, req Request) (Result, error) {
	return g.generate(ctx, req, nil, nil)
}

// GenerateStreaming runs one streamed generation. onChunk receives the full
// accumulated text of the current attempt; after a rate-limit retry it starts
// again from the beginning. Extra retry options, typically a countdown
// observer, apply to this call only.
func (g *Generator) GenerateStreaming(ctx context.Context, req Request, onChunk func(text string), opts ...retry.Option) (Result, error) {
	if onChunk == nil {
		onChunk = func(string) {}
	}
	return g.generate(ctx, req, onChunk, opts)
}

func (g *Generator) generate(ctx context.Context, req Request, onChunk func(string), opts []retry.Option) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if req.Action == "" {
		req.Action = composer.ActionReply
	}
	if g.settings.APIKey == "" {
		return Result{}, ErrNoAPIKey
	}

	start := time.Now()
	prompt, err := g.compose(ctx, req)
	if err != nil {
		return Result{}, err
	}

	text, err := g.run(ctx, prompt, onChunk, opts)
	if err != nil {
		return Result{}, err
	}

	res := Result{IsThread: req.ThreadMode}
	entry := history.Entry{
		Action:     string(req.Action),
		Topic:      req.Topic,
		Persona:    g.effectivePersona(req),
		Refinement: req.Refinement,
	}
	if req.Subject != nil {
		entry.Original = &history.Original{Text: req.Subject.Text, Author: req.Subject.Handle}
	}
	if req.ThreadMode {
		res.Thread = parser.ParseThread(text)
		entry.Thread = res.Thread
	} else {
		res.Suggestions = parser.ParseSuggestions(text, parser.Options{MultiVoice: req.MultiVoice})
		entry.Suggestions = res.Suggestions
	}

	stored, err := g.history.Append(ctx, entry)
	if err != nil {
		// The suggestions are still usable without a history id.
		g.logger.Warn("saving history failed", "error", err)
	} else {
		res.HistoryID = stored.ID
	}

	g.logger.Debug("generation complete",
		"action", req.Action,
		"thread", req.ThreadMode,
		"streamed", onChunk != nil,
		"items", len(res.Suggestions)+len(res.Thread),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (g *Generator) effectivePersona(req Request) persona.Persona {
	if req.Persona != "" {
		return req.Persona
	}
	return g.settings.Persona.OrDefault()
}

func (g *Generator) compose(ctx context.Context, req Request) (composer.Prompt, error) {
	selected, err := g.history.SelectedContext(ctx)
	if err != nil {
		return composer.Prompt{}, fmt.Errorf("loading voice context: %w", err)
	}
	samples := make([]composer.Sample, 0, len(selected))
	for _, e := range selected {
		samples = append(samples, composer.Sample{Action: e.Action, Text: e.Selection.Text})
	}

	var imgs []string
	if req.Subject != nil && len(req.Subject.ImageURLs) > 0 {
		imgs = req.Subject.ImageURLs
		if g.images != nil {
			imgs = g.images.Inline(ctx, imgs)
		}
	}

	settings := composer.Settings{Persona: g.settings.Persona, Topics: g.settings.Topics}
	return composer.Compose(req, settings, samples, imgs), nil
}

// run sends the prompt under a fresh retry controller. A nil onChunk selects
// single-shot mode.
func (g *Generator) run(ctx context.Context, prompt composer.Prompt, onChunk func(string), opts []retry.Option) (string, error) {
	chat := proxy.ChatRequest{
		Model:     g.settings.Model,
		MaxTokens: proxy.DefaultMaxTokens,
		Messages:  prompt.Messages(),
	}

	ropts := append([]retry.Option{retry.WithLogger(g.logger)}, g.retry...)
	ropts = append(ropts, opts...)
	ctrl := retry.New(ropts...)
	stop := context.AfterFunc(ctx, ctrl.Cancel)
	defer stop()

	var text string
	err := ctrl.Run(ctx, func(ctx context.Context) error {
		var (
			out proxy.Completion
			err error
		)
		if onChunk == nil {
			out, err = g.client.Complete(ctx, chat)
		} else {
			out, err = g.client.Stream(ctx, chat, func(ev proxy.StreamEvent) {
				if ev.Kind == proxy.EventChunk {
					onChunk(ev.Text)
				}
			})
		}
		text = out.Text
		return err
	})
	if errors.Is(err, retry.ErrCanceled) && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		return "", err
	}
	return text, nil
}

// ClarifyingQuestions streams three clarifying questions for a new post.
// Nothing is written to history.
func (g *Generator) ClarifyingQuestions(ctx context.Context, topic string, threadMode bool, onChunk func(text string), opts ...retry.Option) (Clarification, error) {
	if g.settings.APIKey == "" {
		return Clarification{}, ErrNoAPIKey
	}
	if onChunk == nil {
		onChunk = func(string) {}
	}
	text, err := g.run(ctx, composer.ClarifyingPrompt(topic, threadMode), onChunk, opts)
	if err != nil {
		return Clarification{}, err
	}
	out := Clarification{Text: text}
	for _, s := range parser.ParseSuggestions(text, parser.Options{}) {
		out.Questions = append(out.Questions, s.Text)
	}
	return out, nil
}

// RecordSelection marks a suggestion of a history entry as chosen.
func (g *Generator) RecordSelection(ctx context.Context, historyID string, index int, text string) (bool, error) {
	return g.history.RecordSelection(ctx, historyID, index, text)
}

// UsageSnapshot returns the token totals with the cost for the configured
// model.
func (g *Generator) UsageSnapshot(ctx context.Context) (usage.Snapshot, error) {
	return g.usage.Snapshot(ctx, g.settings.Model)
}

// ResetUsage zeroes the token totals.
func (g *Generator) ResetUsage(ctx context.Context) error {
	return g.usage.Reset(ctx)
}

// Stats returns the generated/selected counters.
func (g *Generator) Stats(ctx context.Context) (history.Stats, error) {
	return g.history.Stats(ctx)
}

// History returns every stored entry, oldest first.
func (g *Generator) History(ctx context.Context) ([]history.Entry, error) {
	return g.history.List(ctx)
}

// ClearHistory removes every history entry.
func (g *Generator) ClearHistory(ctx context.Context) error {
	return g.history.Clear(ctx)
}

// UsageRecorder adapts a usage.Tracker to proxy.UsageRecorder. Reports are
// written even if the request context is already canceled.
func UsageRecorder(t *usage.Tracker) proxy.UsageRecorder {
	return usageRecorder{t: t}
}

type usageRecorder struct {
	t *usage.Tracker
}

func (r usageRecorder) RecordUsage(ctx context.Context, u proxy.Usage) {
	if err := r.t.Accumulate(context.WithoutCancel(ctx), u.PromptTokens, u.CompletionTokens); err != nil {
		slog.Warn("recording token usage failed", "error", err)
	}
}
