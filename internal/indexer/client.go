// Package indexer queries the GraphQL read index that mirrors on-chain game
// history. It is the cheap path for entity discovery and phase checks; the
// chain reader remains the fallback when the index lags.
package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Config holds indexer endpoint configuration.
type Config struct {
	// URL is the GraphQL HTTP endpoint.
	URL string `yaml:"url" env:"INDEXER_URL"`

	// HTTPTimeout bounds each query round-trip.
	HTTPTimeout time.Duration `yaml:"http_timeout" env:"INDEXER_HTTP_TIMEOUT"`

	// PageSize is the default `first` argument for paginated queries.
	PageSize int `yaml:"page_size" env:"INDEXER_PAGE_SIZE"`
}

func DefaultConfig() Config {
	return Config{
		HTTPTimeout: 15 * time.Second,
		PageSize:    100,
	}
}

// Client is a stateless query facade over the index.
type Client struct {
	cfg   Config
	httpc *http.Client
	log   zerolog.Logger
}

func NewClient(cfg Config, log zerolog.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("indexer url must be provided")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	return &Client{
		cfg:   cfg,
		httpc: &http.Client{Timeout: cfg.HTTPTimeout},
		log:   log.With().Str("component", "indexer-client").Logger(),
	}, nil
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlError struct {
	Message string `json:"message"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

// query POSTs a named query and decodes the data envelope into out.
func (c *Client) query(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(gqlRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("post query: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read query response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("indexer returned status %d: %s", resp.StatusCode, respBody)
	}

	var envelope gqlResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("parse query response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("indexer query error: %s", envelope.Errors[0].Message)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode query data: %w", err)
	}
	return nil
}
