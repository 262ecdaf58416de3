package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL   = "https://openrouter.ai/api/v1"
	defaultTimeout   = 60 * time.Second
	streamingTimeout = 300 * time.Second
	maxErrorBodySize = 64 << 10
)

// UsageRecorder receives usage reports as soon as they arrive, which for
// streams may be before the final frame.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, u Usage)
}

// Client communicates with the OpenRouter chat completions API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	referer    string
	title      string
	usage      UsageRecorder
	logger     *slog.Logger
}

// NewClient creates an OpenRouter client with the given API key.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		// Per-request timeouts are applied through the context so long
		// streams are not cut off by a client-wide deadline.
		httpClient: &http.Client{},
		referer:    "https://github.com/kalambet/tweetbot",
		title:      "tweetbot",
		logger:     slog.Default(),
	}
}

// NewClientWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	c := NewClient(apiKey)
	if baseURL != "" {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
	return c
}

// WithUsageRecorder sets the recorder that receives usage reports.
func (c *Client) WithUsageRecorder(r UsageRecorder) *Client {
	c.usage = r
	return c
}

// Complete sends a single-shot request and returns the full text.
func (c *Client) Complete(ctx context.Context, req ChatRequest) (Completion, error) {
	req.Stream = false
	if req.MaxTokens == 0 {
		req.MaxTokens = DefaultMaxTokens
	}

	rc, err := c.do(ctx, req, defaultTimeout)
	if err != nil {
		return Completion{}, err
	}
	defer rc.Close()

	var resp completionResponse
	if err := json.NewDecoder(rc).Decode(&resp); err != nil {
		return Completion{}, &APIError{Status: http.StatusOK, Body: "malformed response body", Err: err}
	}
	if len(resp.Choices) == 0 {
		return Completion{}, &APIError{Status: http.StatusOK, Body: "response has no choices"}
	}

	if resp.Usage != nil {
		c.recordUsage(ctx, *resp.Usage)
	}
	return Completion{Text: resp.Choices[0].Message.Content, Usage: resp.Usage}, nil
}

// Stream sends a streaming request. onEvent receives a Chunk event for every
// delta, then exactly one Completed or Failed event. The returned Completion
// matches the Completed event.
func (c *Client) Stream(ctx context.Context, req ChatRequest, onEvent func(StreamEvent)) (Completion, error) {
	if onEvent == nil {
		onEvent = func(StreamEvent) {}
	}
	req.Stream = true
	if req.MaxTokens == 0 {
		req.MaxTokens = DefaultMaxTokens
	}

	rc, err := c.do(ctx, req, streamingTimeout)
	if err != nil {
		onEvent(StreamEvent{Kind: EventFailed, Err: err})
		return Completion{}, err
	}
	defer rc.Close()

	var (
		acc       strings.Builder
		lastUsage *Usage
		split     lineSplitter
	)

	handle := func(line string) (done bool) {
		data, ok := frameData(line)
		if !ok {
			return false
		}
		if data == "[DONE]" {
			return true
		}
		var frame streamFrame
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			c.logger.Debug("skipping malformed stream frame", "error", err)
			return false
		}
		if len(frame.Choices) > 0 && frame.Choices[0].Delta.Content != "" {
			acc.WriteString(frame.Choices[0].Delta.Content)
			onEvent(StreamEvent{Kind: EventChunk, Text: acc.String()})
		}
		if frame.Usage != nil {
			lastUsage = frame.Usage
			c.recordUsage(ctx, *frame.Usage)
		}
		return false
	}

	buf := make([]byte, 4096)
	finished := false
	for !finished {
		n, readErr := rc.Read(buf)
		if n > 0 {
			for _, line := range split.Feed(buf[:n]) {
				if handle(line) {
					finished = true
					break
				}
			}
		}
		if finished {
			break
		}
		if readErr == io.EOF {
			if rest := split.Rest(); rest != "" {
				handle(rest)
			}
			break
		}
		if readErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				readErr = ctxErr
			}
			err := &APIError{Err: fmt.Errorf("reading stream: %w", readErr)}
			onEvent(StreamEvent{Kind: EventFailed, Err: err})
			return Completion{}, err
		}
	}

	out := Completion{Text: acc.String(), Usage: lastUsage}
	onEvent(StreamEvent{Kind: EventCompleted, Text: out.Text, Usage: out.Usage})
	return out, nil
}

func (c *Client) recordUsage(ctx context.Context, u Usage) {
	if c.usage != nil {
		c.usage.RecordUsage(ctx, u)
	}
}

// do issues the request and returns the body of a 2xx response. The body's
// Close releases the per-request timeout.
func (c *Client) do(ctx context.Context, req ChatRequest, timeout time.Duration) (io.ReadCloser, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, &APIError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		resp.Body.Close()
		cancel()
		return nil, classifyStatus(resp.StatusCode, resp.Header, string(respBody))
	}

	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

// cancelOnClose wraps a ReadCloser and cancels a context on Close.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// ListModels returns the list of available models from OpenRouter.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var list ModelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decoding models: %w", err)
	}

	if list.Data == nil {
		return []Model{}, nil
	}
	return list.Data, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("HTTP-Referer", c.referer)
	req.Header.Set("X-Title", c.title)
}
