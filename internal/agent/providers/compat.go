package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/basinlabs/relaykit/internal/agent"
	"github.com/basinlabs/relaykit/internal/agent/toolconv"
	"github.com/basinlabs/relaykit/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

// CompatProvider implements agent.LLMProvider for any backend that speaks the
// OpenAI chat/completions wire format behind a model-id prefix: Hyperbolic
// (hyperbolic/...), Together AI (together-ai/...), DeepSeek (deepseek-ai/...),
// Groq, and a local Ollama-compatible endpoint (local/...). Each prefix maps
// to one CompatProvider instance with its own base URL and API key; the
// prefix itself is stripped before the model id reaches the wire.
//
// Usage:
//
//	provider, err := NewCompatProvider(CompatConfig{
//	    Prefix:  "hyperbolic/",
//	    BaseURL: "https://api.hyperbolic.xyz/v1",
//	    APIKey:  apiKey,
//	})
type CompatProvider struct {
	client  *openai.Client
	name    string
	prefix  string
	baseURL string
	models  []agent.Model
}

// CompatConfig holds configuration for an OpenAI-compatible backend.
type CompatConfig struct {
	// Name identifies the provider for error messages and logging.
	Name string

	// Prefix is the model-id prefix routed to this provider (e.g. "hyperbolic/").
	// Stripped from CompletionRequest.Model before the wire call.
	Prefix string

	// BaseURL is the OpenAI-compatible endpoint.
	BaseURL string

	// APIKey authenticates against BaseURL. May be empty for local endpoints.
	APIKey string

	// Models lists the model ids this provider advertises (unprefixed).
	Models []agent.Model
}

// NewCompatProvider creates an OpenAI-compatible provider for cfg.Prefix.
func NewCompatProvider(cfg CompatConfig) (*CompatProvider, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("providers: compat base url is required")
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "n/a"
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	clientConfig := openai.DefaultConfig(apiKey)
	clientConfig.BaseURL = baseURL

	return &CompatProvider{
		client:  openai.NewClientWithConfig(clientConfig),
		name:    cfg.Name,
		prefix:  cfg.Prefix,
		baseURL: baseURL,
		models:  cfg.Models,
	}, nil
}

// Name returns the provider identifier.
func (p *CompatProvider) Name() string {
	return p.name
}

// Models returns the prefixed model ids this provider advertises.
func (p *CompatProvider) Models() []agent.Model {
	result := make([]agent.Model, len(p.models))
	for i, m := range p.models {
		m.ID = p.prefix + m.ID
		result[i] = m
	}
	return result
}

// SupportsTools reports tool/function-call support (true for every backend
// wired to this provider today).
func (p *CompatProvider) SupportsTools() bool {
	return true
}

// stripPrefix removes the provider's routing prefix from a model id before
// it reaches the wire.
func (p *CompatProvider) stripPrefix(model string) string {
	return strings.TrimPrefix(model, p.prefix)
}

// Complete sends a completion request to the compatible backend.
func (p *CompatProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	if p.client == nil {
		return nil, NewProviderError(p.name, req.Model, errors.New("client not initialized"))
	}

	model := p.stripPrefix(req.Model)
	if model == "" {
		return nil, NewProviderError(p.name, "", errors.New("model is required"))
	}

	messages, err := compatConvertMessages(req.Messages, req.System)
	if err != nil {
		return nil, err
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = toolconv.ToOpenAITools(req.Tools)
	}

	// A request-scoped API key override gets a transient client, built from
	// the same base URL, rather than mutating the provider's cached one.
	client := p.client
	if override := agent.ResolvedAPIKeyFromContext(ctx); override != "" {
		overrideConfig := openai.DefaultConfig(override)
		overrideConfig.BaseURL = p.baseURL
		client = openai.NewClientWithConfig(overrideConfig)
	}

	stream, err := client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, NewProviderError(p.name, model, err)
	}

	chunks := make(chan *agent.CompletionChunk)
	go p.processStream(ctx, stream, chunks, model)
	return chunks, nil
}

func (p *CompatProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *agent.CompletionChunk, model string) {
	defer close(chunks)
	defer stream.Close()

	toolCalls := make(map[int]*models.ToolCall)

	for {
		select {
		case <-ctx.Done():
			chunks <- &agent.CompletionChunk{Error: ctx.Err(), Done: true}
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				for _, tc := range toolCalls {
					if tc.ID != "" && tc.Name != "" {
						chunks <- &agent.CompletionChunk{ToolCall: tc}
					}
				}
				chunks <- &agent.CompletionChunk{Done: true}
				return
			}
			chunks <- &agent.CompletionChunk{Error: NewProviderError(p.name, model, err), Done: true}
			return
		}

		if len(response.Choices) == 0 {
			continue
		}
		delta := response.Choices[0].Delta

		if delta.Content != "" {
			chunks <- &agent.CompletionChunk{Text: delta.Content}
		}
		if delta.ReasoningContent != "" {
			chunks <- &agent.CompletionChunk{Thinking: delta.ReasoningContent}
		}

		if len(delta.ToolCalls) > 0 {
			for _, tc := range delta.ToolCalls {
				index := 0
				if tc.Index != nil {
					index = *tc.Index
				}
				if toolCalls[index] == nil {
					toolCalls[index] = &models.ToolCall{}
				}
				if tc.ID != "" {
					toolCalls[index].ID = tc.ID
				}
				if tc.Function.Name != "" {
					toolCalls[index].Name = tc.Function.Name
				}
				if tc.Function.Arguments != "" {
					var currentArgs string
					if toolCalls[index].Input != nil {
						currentArgs = string(toolCalls[index].Input)
					}
					currentArgs += tc.Function.Arguments
					toolCalls[index].Input = json.RawMessage(currentArgs)
				}
			}
		}

		if response.Choices[0].FinishReason == "tool_calls" {
			for _, tc := range toolCalls {
				if tc.ID != "" && tc.Name != "" {
					chunks <- &agent.CompletionChunk{ToolCall: tc}
				}
			}
			toolCalls = make(map[int]*models.ToolCall)
		}
	}
}

func compatConvertMessages(messages []agent.CompletionMessage, system string) ([]openai.ChatCompletionMessage, error) {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}

	for _, msg := range messages {
		oaiMsg := openai.ChatCompletionMessage{Role: msg.Role}

		switch msg.Role {
		case "user", "system":
			oaiMsg.Content = msg.Content
		case "assistant":
			oaiMsg.Content = msg.Content
			if len(msg.ToolCalls) > 0 {
				oaiMsg.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
				for i, tc := range msg.ToolCalls {
					oaiMsg.ToolCalls[i] = openai.ToolCall{
						ID:   tc.ID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      tc.Name,
							Arguments: string(tc.Input),
						},
					}
				}
			}
		case "tool":
			if len(msg.ToolResults) > 0 {
				for _, tr := range msg.ToolResults {
					result = append(result, openai.ChatCompletionMessage{
						Role:       openai.ChatMessageRoleTool,
						Content:    tr.Content,
						ToolCallID: tr.ToolCallID,
					})
				}
				continue
			}
		}

		result = append(result, oaiMsg)
	}

	return result, nil
}
