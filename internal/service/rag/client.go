package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrUnavailable marks transport-level failures (connection refused,
// timeout) so chat callers can degrade to an empty result while the
// standalone retrieval endpoint surfaces them.
var ErrUnavailable = errors.New("rag service unavailable")

// Document is one retrieved chunk, ordered by the service's relevance
// ranking.
type Document struct {
	Content  string         `json:"content"`
	Source   string         `json:"source,omitempty"`
	Score    float64        `json:"score,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Client queries the external retrieval service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a retrieval client with a bounded request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type queryRequest struct {
	UserID string `json:"user_id"`
	Query  string `json:"query"`
	K      int    `json:"k"`
}

type queryResponse struct {
	RelevantDocs []Document `json:"relevantDocs"`
}

// Query returns at most k documents relevant to the query, in the
// order the service ranked them.
func (c *Client) Query(ctx context.Context, userID, query string, k int) ([]Document, error) {
	payload, err := json.Marshal(queryRequest{UserID: userID, Query: query, K: k})
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/query", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rag service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result queryResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	if len(result.RelevantDocs) > k {
		result.RelevantDocs = result.RelevantDocs[:k]
	}
	return result.RelevantDocs, nil
}
