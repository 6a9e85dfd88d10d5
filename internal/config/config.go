// Package config loads and validates gateway configuration from a YAML (or
// JSON5) file with environment variable expansion and overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration structure for the gateway.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Auth          AuthConfig          `yaml:"auth"`
	Session       SessionConfig       `yaml:"session"`
	LLM           LLMConfig           `yaml:"llm"`
	Tools         ToolsConfig         `yaml:"tools"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
	Artifacts     ArtifactConfig      `yaml:"artifacts"`
	StreamMirror  StreamMirrorConfig  `yaml:"stream_mirror"`
}

// Load reads, expands (with $include resolution), decodes, defaults, and
// validates a config file.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applySessionDefaults(&cfg.Session)
	applyLLMDefaults(&cfg.LLM)
	applyToolsDefaults(&cfg.Tools)
	applyLoggingDefaults(&cfg.Logging)
	applyArtifactDefaults(&cfg.Artifacts)
	applyStreamMirrorDefaults(&cfg.StreamMirror)
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = 8080
	}
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = 9090
	}
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
}

func applySessionDefaults(cfg *SessionConfig) {
	if cfg.ContextPruning.Mode == "" {
		cfg.ContextPruning.Mode = "sliding_window"
	}
}

func applyLLMDefaults(cfg *LLMConfig) {
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = "hyperbolic"
	}
	if cfg.Routing.UnhealthyCooldown == 0 {
		cfg.Routing.UnhealthyCooldown = 60 * time.Second
	}
}

func applyToolsDefaults(cfg *ToolsConfig) {
	if cfg.Execution.Parallelism == 0 {
		cfg.Execution.Parallelism = 8
	}
	if cfg.Execution.Timeout == 0 {
		cfg.Execution.Timeout = 60 * time.Second
	}
	if cfg.Execution.MaxAttempts == 0 {
		cfg.Execution.MaxAttempts = 1
	}
	if cfg.Execution.MaxToolCalls == 0 {
		cfg.Execution.MaxToolCalls = 50
	}
	if cfg.Execution.MaxIterations == 0 {
		cfg.Execution.MaxIterations = 25
	}
	if cfg.Execution.Approval.DefaultDecision == "" {
		cfg.Execution.Approval.DefaultDecision = "pending"
	}
	if cfg.Execution.Approval.RequestTTL == 0 {
		cfg.Execution.Approval.RequestTTL = 15 * time.Minute
	}
	if cfg.Jobs.Retention == 0 {
		cfg.Jobs.Retention = 24 * time.Hour
	}
	if cfg.Jobs.PruneInterval == 0 {
		cfg.Jobs.PruneInterval = time.Hour
	}
	if cfg.Sandbox.ConnectTimeout == 0 {
		cfg.Sandbox.ConnectTimeout = 10 * time.Second
	}
	if cfg.Sandbox.IdleTimeout == 0 {
		cfg.Sandbox.IdleTimeout = 5 * time.Minute
	}
	if cfg.Sandbox.MaxPoolSize == 0 {
		cfg.Sandbox.MaxPoolSize = 16
	}
	if cfg.WebSearch.Timeout == 0 {
		cfg.WebSearch.Timeout = 20 * time.Second
	}
	if cfg.WebSearch.MaxResults == 0 {
		cfg.WebSearch.MaxResults = 8
	}
	if cfg.VectorStore.DefaultLimit == 0 {
		cfg.VectorStore.DefaultLimit = 5
	}
	if cfg.VectorStore.MaxLimit == 0 {
		cfg.VectorStore.MaxLimit = 20
	}
	if cfg.VectorStore.DefaultThreshold == 0 {
		cfg.VectorStore.DefaultThreshold = 0.7
	}
	if cfg.VectorStore.Timeout == 0 {
		cfg.VectorStore.Timeout = 15 * time.Second
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}

func applyArtifactDefaults(cfg *ArtifactConfig) {
	if cfg.Backend == "" {
		cfg.Backend = "local"
	}
	if cfg.LocalPath == "" {
		cfg.LocalPath = "artifacts"
	}
	if cfg.SignedURLTTL == 0 {
		cfg.SignedURLTTL = time.Hour
	}
	if cfg.PruneInterval == 0 {
		cfg.PruneInterval = time.Hour
	}
}

func applyStreamMirrorDefaults(cfg *StreamMirrorConfig) {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "stream:"
	}
	if cfg.MaxLen == 0 {
		cfg.MaxLen = 1000
	}
	if cfg.TTL == 0 {
		cfg.TTL = time.Hour
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
}

// applyEnvOverrides applies the environment variables documented for the
// gateway, which take precedence over file-based configuration.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if v := strings.TrimSpace(os.Getenv("HOST")); v != "" {
		cfg.Server.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Server.HTTPPort = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("ADMIN_API_KEY")); v != "" {
		cfg.Auth.AdminAPIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("BASE_URL")); v != "" {
		cfg.Server.PublicURL = v
	}

	if v := strings.TrimSpace(os.Getenv("HYPERBOLIC_API_KEY")); v != "" {
		setProviderKey(cfg, "hyperbolic", v)
	}
	if v := strings.TrimSpace(os.Getenv("HYPERBOLIC_BASE_URL")); v != "" {
		setProviderBaseURL(cfg, "hyperbolic", v)
	}
	if v := strings.TrimSpace(os.Getenv("TOGETHER_API_KEY")); v != "" {
		setProviderKey(cfg, "together-ai", v)
	}
	if v := strings.TrimSpace(os.Getenv("TOGETHER_BASE_URL")); v != "" {
		setProviderBaseURL(cfg, "together-ai", v)
	}
	if v := strings.TrimSpace(os.Getenv("DEEPSEEK_API_KEY")); v != "" {
		setProviderKey(cfg, "deepseek-ai", v)
	}
	if v := strings.TrimSpace(os.Getenv("DEEPSEEK_BASE_URL")); v != "" {
		setProviderBaseURL(cfg, "deepseek-ai", v)
	}
	if v := strings.TrimSpace(os.Getenv("GROQ_API_KEY")); v != "" {
		setProviderKey(cfg, "groq", v)
	}
	if v := strings.TrimSpace(os.Getenv("AZURE_OPENAI_API_KEY")); v != "" {
		setProviderKey(cfg, "azure", v)
	}
	if v := strings.TrimSpace(os.Getenv("AZURE_OPENAI_ENDPOINT")); v != "" {
		setProviderBaseURL(cfg, "azure", v)
	}
	if v := strings.TrimSpace(os.Getenv("GOOGLE_API_KEY")); v != "" {
		setProviderKey(cfg, "google", v)
	}
	if v := strings.TrimSpace(os.Getenv("OLLAMA_BASE_URL")); v != "" {
		setProviderBaseURL(cfg, "local", v)
	}

	if v := strings.TrimSpace(os.Getenv("REDIS_URL")); v != "" {
		cfg.StreamMirror.RedisURL = v
	}
	if v := strings.TrimSpace(os.Getenv("SHELL_SERVER_URL")); v != "" {
		cfg.Tools.Sandbox.ShellServerURL = v
	}
	if v := strings.TrimSpace(os.Getenv("CODE_EXECUTION_URL")); v != "" {
		cfg.Tools.Sandbox.CodeExecURL = v
	}
	if v := strings.TrimSpace(os.Getenv("SANDBOX_BASE_URL")); v != "" {
		cfg.Tools.Sandbox.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("WEB_SEARCH_API_KEY")); v != "" {
		cfg.Tools.WebSearch.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("VECTOR_STORE_URL")); v != "" {
		cfg.Tools.VectorStore.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("VECTOR_STORE_API_KEY")); v != "" {
		cfg.Tools.VectorStore.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("SIGNED_URL_SECRET")); v != "" {
		cfg.Artifacts.SignedURLSecret = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
}

func setProviderKey(cfg *Config, id, key string) {
	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = map[string]LLMProviderConfig{}
	}
	pc := cfg.LLM.Providers[id]
	pc.APIKey = key
	cfg.LLM.Providers[id] = pc
}

func setProviderBaseURL(cfg *Config, id, url string) {
	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = map[string]LLMProviderConfig{}
	}
	pc := cfg.LLM.Providers[id]
	pc.BaseURL = url
	cfg.LLM.Providers[id] = pc
}

// ConfigValidationError describes a single config validation failure.
type ConfigValidationError struct {
	Field   string
	Message string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

func validateConfig(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return &ConfigValidationError{Field: "server.http_port", Message: "must be between 1 and 65535"}
	}
	if cfg.LLM.DefaultProvider == "" {
		return &ConfigValidationError{Field: "llm.default_provider", Message: "must not be empty"}
	}
	switch strings.ToLower(cfg.Tools.Execution.Approval.DefaultDecision) {
	case "allowed", "denied", "pending":
	default:
		return &ConfigValidationError{Field: "tools.execution.approval.default_decision", Message: "must be one of allowed, denied, pending"}
	}
	return nil
}
