// Package queryclient talks to the remote query-answering service.
package queryclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/ashureev/data-assistant/internal/chat"
)

// maxResponseSize caps how much of a reply body is read (8MB).
const maxResponseSize = 8 << 20

// ErrRequestFailed wraps every transport, status and decoding failure.
var ErrRequestFailed = errors.New("query request failed")

// Config holds configuration for the query service client.
type Config struct {
	URL     string
	Timeout time.Duration
}

// DefaultConfig returns the address the query service listens on by default.
func DefaultConfig() Config {
	return Config{
		URL:     "http://127.0.0.1:5000/query",
		Timeout: 2 * time.Minute,
	}
}

// Client sends queries to the query service. Each Client keeps its own
// cookie jar so credentials set by the service stay with one conversation.
type Client struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// Ensure Client implements chat.Querier.
var _ chat.Querier = (*Client)(nil)

// New creates a client with a fresh cookie jar.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.URL == "" {
		cfg.URL = DefaultConfig().URL
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	return &Client{
		url: cfg.URL,
		httpClient: &http.Client{
			Jar:     jar,
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}, nil
}

type queryRequest struct {
	Query string `json:"query"`
}

// Query posts text to the query service and decodes the reply.
func (c *Client) Query(ctx context.Context, text string) (*chat.Reply, error) {
	body, err := json.Marshal(queryRequest{Query: text})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %w", ErrRequestFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrRequestFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close query response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: unexpected status %d: %s", ErrRequestFailed, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var reply chat.Reply
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&reply); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrRequestFailed, err)
	}

	c.logger.Debug("Query answered",
		"status", resp.StatusCode,
		"duration", time.Since(start),
		"has_steps", reply.Steps != nil,
	)
	return &reply, nil
}

// Probe checks that the query service answers a CORS preflight.
func (c *Client) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodOptions, c.url, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("probe query service: %w", err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("probe query service: status %d", resp.StatusCode)
	}
	return nil
}
