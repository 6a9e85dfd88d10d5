package config

import "time"

// ServerConfig controls the HTTP listener that serves completions, the
// run monitor, and SSE subscriptions.
type ServerConfig struct {
	Host              string        `yaml:"host"`
	HTTPPort          int           `yaml:"http_port"`
	MetricsPort       int           `yaml:"metrics_port"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`

	// PublicURL is the externally reachable base URL for this gateway
	// instance, used to template links (e.g. signed artifact downloads)
	// handed back to callers.
	PublicURL string `yaml:"public_url"`
}

// AuthConfig controls the static bearer/API key required on inbound requests.
type AuthConfig struct {
	AdminAPIKey string `yaml:"admin_api_key"`
}
