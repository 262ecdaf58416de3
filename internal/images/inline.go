// Package images embeds subject images into prompts as base64 data URLs.
package images

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultMediaType = "image/jpeg"
	defaultTimeout   = 15 * time.Second
	maxImageBytes    = 5 << 20
	fetchLimit       = 4
)

// Inliner fetches images and turns them into data URLs. Any image that
// cannot be fetched is passed through as its original URL.
type Inliner struct {
	httpClient *http.Client
	maxBytes   int64
	logger     *slog.Logger
}

// NewInliner creates an Inliner using client, or a default client when nil.
func NewInliner(client *http.Client) *Inliner {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Inliner{httpClient: client, maxBytes: maxImageBytes, logger: slog.Default()}
}

// Inline resolves every URL concurrently. The result has the same length
// and order as urls.
func (in *Inliner) Inline(ctx context.Context, urls []string) []string {
	if len(urls) == 0 {
		return nil
	}
	out := make([]string, len(urls))
	var g errgroup.Group
	g.SetLimit(fetchLimit)

	for i, u := range urls {
		g.Go(func() error {
			out[i] = u
			if !fetchable(u) {
				return nil
			}
			data, err := in.fetch(ctx, u)
			if err != nil {
				in.logger.Warn("image fetch failed, using URL", "url", u, "error", err)
				return nil
			}
			out[i] = data
			return nil
		})
	}
	g.Wait()
	return out
}

func fetchable(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

func (in *Inliner) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	resp, err := in.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, in.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("reading body: %w", err)
	}
	if int64(len(body)) > in.maxBytes {
		return "", fmt.Errorf("image larger than %d bytes", in.maxBytes)
	}
	return DataURL(mediaType(resp.Header.Get("Content-Type")), body), nil
}

// DataURL encodes b as a base64 data URL.
func DataURL(mediaType string, b []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(b)
}

func mediaType(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	if mt = strings.TrimSpace(mt); mt != "" {
		return mt
	}
	return defaultMediaType
}
