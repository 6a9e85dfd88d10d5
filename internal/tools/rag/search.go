package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/basinlabs/relaykit/internal/agent"
)

// SearchTool implements the "vector_store_search" platform tool: semantic
// lookup against an external Qdrant-style vector index.
type SearchTool struct {
	client *StoreClient
	config SearchToolConfig
}

// SearchToolConfig configures tool-level behavior layered on top of the
// store client's own limit/threshold defaults.
type SearchToolConfig struct {
	IncludeContent   bool
	MaxContentLength int
}

// DefaultSearchToolConfig returns sensible defaults: full content included,
// truncated at 500 characters.
func DefaultSearchToolConfig() SearchToolConfig {
	return SearchToolConfig{IncludeContent: true, MaxContentLength: 500}
}

// NewSearchTool creates the vector_store_search tool backed by client.
func NewSearchTool(client *StoreClient, cfg *SearchToolConfig) *SearchTool {
	config := DefaultSearchToolConfig()
	if cfg != nil {
		config = *cfg
	}
	return &SearchTool{client: client, config: config}
}

func (t *SearchTool) Name() string { return "vector_store_search" }

func (t *SearchTool) Description() string {
	return "Searches the assistant's attached vector store for relevant document chunks using semantic similarity."
}

func (t *SearchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {
      "type": "string",
      "description": "The search query to find relevant documents"
    },
    "limit": {
      "type": "integer",
      "description": "Maximum number of results to return (default: 5, max: 20)"
    },
    "threshold": {
      "type": "number",
      "description": "Minimum similarity score from 0 to 1 (default: 0.7)"
    },
    "filter": {
      "type": "object",
      "description": "Optional MongoDB/Qdrant-style operator filter, e.g. {\"$and\":[{\"tag\":{\"$eq\":\"faq\"}}]}"
    }
  },
  "required": ["query"]
}`)
}

type searchInput struct {
	Query     string         `json:"query"`
	Limit     int            `json:"limit,omitempty"`
	Threshold float32        `json:"threshold,omitempty"`
	Filter    map[string]any `json:"filter,omitempty"`
}

type searchOutput struct {
	ID      string  `json:"id"`
	Content string  `json:"content,omitempty"`
	Score   float32 `json:"score"`
}

// Execute runs the vector search with the given query parameters, returning
// matching points with their similarity scores.
func (t *SearchTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input searchInput
	if err := json.Unmarshal(params, &input); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("Invalid parameters: %v", err), IsError: true}, nil
	}

	query := strings.TrimSpace(input.Query)
	if query == "" {
		return &agent.ToolResult{Content: "Query is required", IsError: true}, nil
	}

	if t.client == nil {
		return &agent.ToolResult{Content: "vector store is not configured", IsError: true}, nil
	}

	results, err := t.client.Search(ctx, SearchRequest{
		Query:     query,
		Limit:     input.Limit,
		Threshold: input.Threshold,
		Filter:    input.Filter,
	})
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("Search failed: %v", err), IsError: true}, nil
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].ID < results[j].ID
		}
		return results[i].Score > results[j].Score
	})

	if len(results) == 0 {
		return &agent.ToolResult{Content: fmt.Sprintf("No relevant documents found for query: %q", query)}, nil
	}

	out := make([]searchOutput, 0, len(results))
	for _, r := range results {
		entry := searchOutput{ID: r.ID, Score: r.Score}
		if t.config.IncludeContent {
			content := stringifyPayload(r.Payload)
			if t.config.MaxContentLength > 0 && len(content) > t.config.MaxContentLength {
				content = content[:t.config.MaxContentLength] + "..."
			}
			entry.Content = content
		}
		out = append(out, entry)
	}

	outputJSON, err := json.MarshalIndent(struct {
		Query   string         `json:"query"`
		Count   int            `json:"count"`
		Results []searchOutput `json:"results"`
	}{Query: query, Count: len(out), Results: out}, "", "  ")
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("Failed to format results: %v", err), IsError: true}, nil
	}

	return &agent.ToolResult{Content: string(outputJSON)}, nil
}

func stringifyPayload(payload map[string]any) string {
	if len(payload) == 0 {
		return ""
	}
	if text, ok := payload["content"].(string); ok {
		return text
	}
	if text, ok := payload["text"].(string); ok {
		return text
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return string(raw)
}
