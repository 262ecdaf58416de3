package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/tweetbot/internal/config"
)

// cliSurface is the stream surface the CLI registers as; a second CLI
// stream supersedes the first.
const cliSurface = "cli"

type apiClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	// streamClient has no overall timeout; streams end on their own or on
	// context cancellation.
	streamClient *http.Client
}

var newAPIClient = func() (*apiClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	token, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return nil, fmt.Errorf("getting API token: %w", err)
	}

	return &apiClient{
		baseURL:      fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		token:        token,
		httpClient:   &http.Client{Timeout: 2 * time.Minute},
		streamClient: &http.Client{},
	}, nil
}

func (c *apiClient) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server not reachable, is tweetbot running? (%w)", err)
	}
	return resp, nil
}

func (c *apiClient) get(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, "GET", path, nil)
}

func (c *apiClient) post(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.do(ctx, "POST", path, body)
}

func (c *apiClient) delete(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, "DELETE", path, nil)
}

// streamEvent is one server-sent event.
type streamEvent struct {
	Name string
	Data json.RawMessage
}

// stream posts body to path and calls onEvent for every server-sent event
// until the server closes the stream.
func (c *apiClient) stream(ctx context.Context, path string, body any, onEvent func(streamEvent) error) error {
	req, err := c.newRequest(ctx, "POST", path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("X-Surface", cliSurface)

	client := c.streamClient
	if client == nil {
		client = c.httpClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("server not reachable, is tweetbot running? (%w)", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeJSON(resp, nil)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		return fmt.Errorf("expected an event stream, got %q", ct)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	var ev streamEvent
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if ev.Name != "" {
				if err := onEvent(ev); err != nil {
					return err
				}
			}
			ev = streamEvent{}
		case strings.HasPrefix(line, "event: "):
			ev.Name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.Data = json.RawMessage(strings.TrimPrefix(line, "data: "))
		}
	}
	return scanner.Err()
}

// apiErrorBody matches the server's error envelope.
type apiErrorBody struct {
	Error struct {
		Message           string `json:"message"`
		Type              string `json:"type"`
		RateLimited       bool   `json:"rateLimited"`
		RetryAfterSeconds int    `json:"retryAfterSeconds"`
	} `json:"error"`
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("server returned %d (failed to read body: %w)", resp.StatusCode, err)
		}
		var e apiErrorBody
		if json.Unmarshal(body, &e) == nil && e.Error.Message != "" {
			if e.Error.RateLimited {
				return fmt.Errorf("server returned %d: %s (retry in %ds)", resp.StatusCode, e.Error.Message, e.Error.RetryAfterSeconds)
			}
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error.Message)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}
	if v == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
