package providers

import (
	"fmt"
	"strings"

	"github.com/basinlabs/relaykit/internal/agent"
	"github.com/basinlabs/relaykit/internal/config"
	"github.com/basinlabs/relaykit/internal/providers/venice"
)

// compatPrefixes maps a config provider id to the model-id prefix it serves
// and the conventional default base URL for its OpenAI-compatible endpoint.
// Entries here cover the providers whose wire protocol is a plain OpenAI
// chat/completions clone and needs nothing beyond a base URL and API key.
var compatPrefixes = map[string]struct {
	prefix  string
	baseURL string
}{
	"hyperbolic":  {"hyperbolic/", "https://api.hyperbolic.xyz/v1"},
	"together-ai": {"together-ai/", "https://api.together.xyz/v1"},
	"deepseek-ai": {"deepseek-ai/", "https://api.deepseek.com/v1"},
	"groq":        {"groq/", "https://api.groq.com/openai/v1"},
	"local":       {"local/", "http://localhost:8080/v1"},
}

// BuildProviders constructs every LLM provider named in cfg.Providers,
// returning a map keyed by provider id suitable for agent/routing.NewRouter.
// A provider whose configuration is incomplete (e.g. missing API key) is
// skipped rather than failing the whole build, since deployments routinely
// configure only a subset of the catalog.
func BuildProviders(cfg config.LLMConfig) (map[string]agent.LLMProvider, error) {
	out := make(map[string]agent.LLMProvider, len(cfg.Providers))

	for id, pcfg := range cfg.Providers {
		provider, err := buildProvider(id, pcfg)
		if err != nil {
			return nil, fmt.Errorf("providers: build %q: %w", id, err)
		}
		if provider != nil {
			out[id] = provider
		}
	}

	return out, nil
}

func buildProvider(id string, pcfg config.LLMProviderConfig) (agent.LLMProvider, error) {
	switch {
	case id == "anthropic":
		if pcfg.APIKey == "" {
			return nil, nil
		}
		return NewAnthropicProvider(AnthropicConfig{
			APIKey:  pcfg.APIKey,
			BaseURL: pcfg.BaseURL,
		})

	case id == "openai":
		if pcfg.APIKey == "" {
			return nil, nil
		}
		return NewOpenAIProvider(pcfg.APIKey), nil

	case id == "google" || id == "gemini":
		if pcfg.APIKey == "" {
			return nil, nil
		}
		return NewGoogleProvider(GoogleConfig{APIKey: pcfg.APIKey})

	case id == "azure" || id == "azure-openai":
		if pcfg.APIKey == "" || pcfg.BaseURL == "" {
			return nil, nil
		}
		return NewAzureOpenAIProvider(AzureOpenAIConfig{
			Endpoint:     pcfg.BaseURL,
			APIKey:       pcfg.APIKey,
			APIVersion:   pcfg.APIVersion,
			DefaultModel: pcfg.DefaultModel,
		})

	case id == "bedrock":
		return NewBedrockProvider(BedrockConfig{})

	case id == "venice":
		if pcfg.APIKey == "" {
			return nil, nil
		}
		return venice.NewVeniceProvider(venice.VeniceConfig{
			APIKey:       pcfg.APIKey,
			DefaultModel: pcfg.DefaultModel,
			BaseURL:      pcfg.BaseURL,
		})

	case id == "openrouter":
		if pcfg.APIKey == "" {
			return nil, nil
		}
		return NewOpenRouterProvider(OpenRouterConfig{
			APIKey:       pcfg.APIKey,
			DefaultModel: pcfg.DefaultModel,
		})

	case id == "ollama":
		return NewOllamaProvider(OllamaConfig{
			BaseURL:      pcfg.BaseURL,
			DefaultModel: pcfg.DefaultModel,
		}), nil

	case id == "copilot-proxy":
		return NewCopilotProxyProvider(CopilotProxyConfig{
			BaseURL: pcfg.BaseURL,
			Models:  DefaultCopilotProxyModels,
		})

	default:
		if spec, ok := compatPrefixes[id]; ok {
			baseURL := pcfg.BaseURL
			if baseURL == "" {
				baseURL = spec.baseURL
			}
			return NewCompatProvider(CompatConfig{
				Name:    id,
				Prefix:  spec.prefix,
				BaseURL: baseURL,
				APIKey:  pcfg.APIKey,
				Models:  profileModels(pcfg),
			})
		}
		return nil, fmt.Errorf("unknown provider id %q", id)
	}
}

// profileModels derives an advertised model list from a provider's
// configured profiles, falling back to its default model.
func profileModels(pcfg config.LLMProviderConfig) []agent.Model {
	if len(pcfg.Profiles) == 0 {
		if pcfg.DefaultModel == "" {
			return nil
		}
		return []agent.Model{{ID: pcfg.DefaultModel}}
	}

	models := make([]agent.Model, 0, len(pcfg.Profiles))
	for name, profile := range pcfg.Profiles {
		model := profile.DefaultModel
		if model == "" {
			model = name
		}
		models = append(models, agent.Model{ID: strings.TrimSpace(model)})
	}
	return models
}
