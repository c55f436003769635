// Package memory is the gateway to the external per-user memory store.
//
// The store is reached over HTTP and keyed by user ID. Different store
// versions wrap search responses in different envelopes and item
// shapes; Normalize folds every known variant into plain strings so
// the rest of the pipeline sees one canonical type. Writes go through
// a background queue (see Writer) and never block a conversational
// turn.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aavetis/memory-poc/internal/httpkit"
)

const (
	// DefaultLimit is used when a search does not specify one.
	DefaultLimit = 10

	// MaxLimit is the hard cap on results returned from one search.
	MaxLimit = 25
)

// Client talks to the external memory store.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a memory store client.
func NewClient(baseURL, apiKey string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		logger:  logger.With("component", "memory"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(15 * time.Second),
		),
	}
}

// Search queries the store for memories similar to query, scoped to
// userID. The result is normalized to plain strings and truncated to
// limit (DefaultLimit when zero, capped at MaxLimit).
func (c *Client) Search(ctx context.Context, query, userID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	body, err := json.Marshal(map[string]any{
		"query":   query,
		"user_id": userID,
		"limit":   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/memories/search/", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody := httpkit.ReadErrorBody(resp.Body, 2048)
		return nil, fmt.Errorf("memory store returned %d: %s", resp.StatusCode, errBody)
	}

	var envelope any
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	items := Normalize(envelope)
	if len(items) > limit {
		items = items[:limit]
	}

	c.logger.Debug("memory search", "query_len", len(query), "results", len(items))
	return items, nil
}

// Add stores a new memory for userID. Callers on the conversational
// path should go through Writer instead; Add blocks until the store
// responds.
func (c *Client) Add(ctx context.Context, text, userID string) error {
	body, err := json.Marshal(map[string]any{
		"messages": []map[string]string{
			{"role": "user", "content": text},
		},
		"user_id": userID,
	})
	if err != nil {
		return fmt.Errorf("marshal add request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/memories/", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create add request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("add request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody := httpkit.ReadErrorBody(resp.Body, 2048)
		return fmt.Errorf("memory store returned %d: %s", resp.StatusCode, errBody)
	}
	return nil
}

// Normalize flattens a search response of any known envelope shape
// (raw array, {results}, {memories}, {data}) into plain strings. An
// unrecognized envelope yields an empty list, never an error: a
// degraded search is conversational, not fatal.
func Normalize(envelope any) []string {
	var list []any

	switch v := envelope.(type) {
	case []any:
		list = v
	case map[string]any:
		for _, key := range []string{"results", "memories", "data"} {
			if inner, ok := v[key].([]any); ok {
				list = inner
				break
			}
		}
	}

	items := make([]string, 0, len(list))
	for _, raw := range list {
		if s := normalizeItem(raw); s != "" {
			items = append(items, s)
		}
	}
	return items
}

// normalizeItem extracts the memory text from one upstream item.
// Known shapes: raw string; object with .memory, .data.memory, .text,
// or .content. Anything else falls back to its JSON encoding.
func normalizeItem(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case map[string]any:
		if s, ok := v["memory"].(string); ok {
			return s
		}
		if data, ok := v["data"].(map[string]any); ok {
			if s, ok := data["memory"].(string); ok {
				return s
			}
		}
		if s, ok := v["text"].(string); ok {
			return s
		}
		if s, ok := v["content"].(string); ok {
			return s
		}
	}

	encoded, err := json.Marshal(raw)
	if err != nil {
		return ""
	}
	return string(encoded)
}
