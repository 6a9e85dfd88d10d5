package config

import "time"

// ToolsConfig controls platform and consumer tool behavior for the orchestrator.
type ToolsConfig struct {
	Sandbox      SandboxConfig       `yaml:"sandbox"`
	WebSearch    WebSearchConfig     `yaml:"websearch"`
	VectorStore  VectorStoreConfig   `yaml:"vector_store"`
	Execution    ToolExecutionConfig `yaml:"execution"`
	Elevated     ElevatedConfig      `yaml:"elevated"`
	Jobs         ToolJobsConfig      `yaml:"jobs"`
}

// ToolJobsConfig controls async tool job persistence.
type ToolJobsConfig struct {
	// Retention is how long to keep completed jobs. Default: 24h.
	Retention time.Duration `yaml:"retention"`
	// PruneInterval is how often to prune old jobs. Default: 1h.
	PruneInterval time.Duration `yaml:"prune_interval"`
}

// ToolExecutionConfig controls runtime tool execution behavior.
type ToolExecutionConfig struct {
	Parallelism     int            `yaml:"parallelism"`
	Timeout         time.Duration  `yaml:"timeout"`
	MaxAttempts     int            `yaml:"max_attempts"`
	RetryBackoff    time.Duration  `yaml:"retry_backoff"`
	DisableEvents   bool           `yaml:"disable_events"`
	MaxToolCalls    int            `yaml:"max_tool_calls"`
	MaxIterations   int            `yaml:"max_iterations"`
	RequireApproval []string       `yaml:"require_approval"`
	Async           []string       `yaml:"async"`
	Approval        ApprovalConfig `yaml:"approval"`
}

// ApprovalConfig controls consumer tool approval/action gating behavior.
type ApprovalConfig struct {
	// Allowlist contains tools that are always allowed (no action_required).
	// Supports patterns like "mcp:*", "*" (all).
	Allowlist []string `yaml:"allowlist"`

	// Denylist contains tools that are always denied.
	Denylist []string `yaml:"denylist"`

	// DefaultDecision when no rule matches: "allowed", "denied", or "pending".
	DefaultDecision string `yaml:"default_decision"`

	// RequestTTL is how long an action_required run may wait for fulfillment.
	RequestTTL time.Duration `yaml:"request_ttl"`
}

// ElevatedConfig controls elevated tool execution behavior and allowlists.
type ElevatedConfig struct {
	// Enabled gates elevated execution. When nil, elevated is disabled by default.
	Enabled *bool `yaml:"enabled"`

	// Tools lists tool patterns that elevated-full can bypass approvals for.
	Tools []string `yaml:"tools"`
}

// SandboxConfig configures the external code-interpreter/computer-use
// sandbox reached over WebSocket.
type SandboxConfig struct {
	Enabled        bool          `yaml:"enabled"`
	BaseURL        string        `yaml:"base_url"`
	CodeExecURL    string        `yaml:"code_execution_url"`
	ShellServerURL string        `yaml:"shell_server_url"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxPoolSize    int           `yaml:"max_pool_size"`
}

// WebSearchConfig configures the web_search platform tool.
type WebSearchConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Provider   string        `yaml:"provider"`
	URL        string        `yaml:"url"`
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxResults int           `yaml:"max_results"`
}

// VectorStoreConfig configures the vector_store_search platform tool
// against an external vector index (Qdrant-style REST API).
type VectorStoreConfig struct {
	Enabled          bool          `yaml:"enabled"`
	URL              string        `yaml:"url"`
	APIKey           string        `yaml:"api_key"`
	Collection       string        `yaml:"collection"`
	DefaultLimit     int           `yaml:"default_limit"`
	MaxLimit         int           `yaml:"max_limit"`
	DefaultThreshold float32       `yaml:"default_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}
