// Package rag provides the vector_store_search platform tool: a thin REST
// client against an external Qdrant-style vector index, plus result
// formatting for the agent runtime.
package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// StoreClientConfig configures the REST client used to reach the external
// vector store. It mirrors internal/config.VectorStoreConfig so callers in
// cmd/ can build one directly from loaded config without an import cycle.
type StoreClientConfig struct {
	URL              string
	APIKey           string
	Collection       string
	DefaultLimit     int
	MaxLimit         int
	DefaultThreshold float32
	Timeout          time.Duration
}

func (c StoreClientConfig) withDefaults() StoreClientConfig {
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = 5
	}
	if c.MaxLimit <= 0 {
		c.MaxLimit = 20
	}
	if c.DefaultThreshold <= 0 {
		c.DefaultThreshold = 0.7
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

// StoreClient searches a Qdrant-compatible `POST /collections/{name}/points/search`
// endpoint. Queries are sent as text; the vector store is expected to embed
// server-side (Qdrant's "query" API with a named text model) or the caller
// may pass a pre-computed vector via SearchRequest.Vector.
type StoreClient struct {
	cfg        StoreClientConfig
	httpClient *http.Client
}

// NewStoreClient creates a client for the external vector store.
func NewStoreClient(cfg StoreClientConfig) *StoreClient {
	cfg = cfg.withDefaults()
	return &StoreClient{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}
}

// SearchRequest is one vector_store_search invocation.
type SearchRequest struct {
	Query     string
	Vector    []float32
	Limit     int
	Threshold float32
	// Filter is an arbitrary MongoDB/Qdrant-style filter object, validated
	// upstream by the tool parser's is_complex_vector_search predicate
	// before reaching here.
	Filter map[string]any
}

// SearchResult is a single ranked point returned by the vector store.
type SearchResult struct {
	ID      string         `json:"id"`
	Score   float32        `json:"score"`
	Payload map[string]any `json:"payload"`
}

type qdrantSearchBody struct {
	Query       string         `json:"query,omitempty"`
	Vector      []float32      `json:"vector,omitempty"`
	Limit       int            `json:"limit"`
	ScoreThresh float32        `json:"score_threshold,omitempty"`
	Filter      map[string]any `json:"filter,omitempty"`
	WithPayload bool           `json:"with_payload"`
}

type qdrantSearchResponse struct {
	Result []struct {
		ID      any            `json:"id"`
		Score   float32        `json:"score"`
		Payload map[string]any `json:"payload"`
	} `json:"result"`
	Status string `json:"status"`
}

// Search issues the query against the configured collection.
func (c *StoreClient) Search(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	if strings.TrimSpace(c.cfg.URL) == "" {
		return nil, fmt.Errorf("vector_store_search: vector store URL is not configured")
	}

	limit := req.Limit
	if limit <= 0 {
		limit = c.cfg.DefaultLimit
	}
	if limit > c.cfg.MaxLimit {
		limit = c.cfg.MaxLimit
	}
	threshold := req.Threshold
	if threshold <= 0 {
		threshold = c.cfg.DefaultThreshold
	}

	body := qdrantSearchBody{
		Query:       req.Query,
		Vector:      req.Vector,
		Limit:       limit,
		ScoreThresh: threshold,
		Filter:      req.Filter,
		WithPayload: true,
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("vector_store_search: encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/collections/%s/points/search", strings.TrimSuffix(c.cfg.URL, "/"), c.cfg.Collection)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("vector_store_search: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("api-key", c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("vector_store_search: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("vector_store_search: store returned status %d", resp.StatusCode)
	}

	var parsed qdrantSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("vector_store_search: decode response: %w", err)
	}

	results := make([]SearchResult, 0, len(parsed.Result))
	for _, r := range parsed.Result {
		results = append(results, SearchResult{
			ID:      fmt.Sprintf("%v", r.ID),
			Score:   r.Score,
			Payload: r.Payload,
		})
	}
	return results, nil
}
