package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/basinlabs/relaykit/internal/agent"
	"github.com/basinlabs/relaykit/internal/agent/providers"
	"github.com/basinlabs/relaykit/internal/agent/routing"
	"github.com/basinlabs/relaykit/internal/artifacts"
	"github.com/basinlabs/relaykit/internal/config"
	"github.com/basinlabs/relaykit/internal/httpapi"
	"github.com/basinlabs/relaykit/internal/observability"
	"github.com/basinlabs/relaykit/internal/sessions"
	"github.com/basinlabs/relaykit/internal/sse"
	"github.com/basinlabs/relaykit/internal/tools/codeinterpreter"
	"github.com/basinlabs/relaykit/internal/tools/computeruse"
	"github.com/basinlabs/relaykit/internal/tools/rag"
	"github.com/basinlabs/relaykit/internal/tools/websearch"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the relaykit gateway server",
		Long: `Start the relaykit gateway server.

The server will:
1. Load configuration from the specified file (or relaykit.yaml)
2. Construct every configured LLM provider and the routing arbiter
3. Start the HTTP server for completions, SSE subscriptions, health, and metrics

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  relaykit serve

  # Start with custom config
  relaykit serve --config /etc/relaykit/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging (verbose output)")
	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("starting relaykit gateway", "version", version, "commit", commit, "config", configPath, "debug", debug)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("configuration loaded",
		"http_port", cfg.Server.HTTPPort,
		"default_provider", cfg.LLM.DefaultProvider,
		"provider_count", len(cfg.LLM.Providers),
	)

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	metrics := observability.NewMetrics()

	providerMap, err := providers.BuildProviders(cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to build providers: %w", err)
	}
	if len(providerMap) == 0 {
		return fmt.Errorf("no LLM providers could be constructed from configuration")
	}

	router := routing.NewRouter(routing.Config{
		DefaultProvider: cfg.LLM.DefaultProvider,
		PreferLocal:     cfg.LLM.Routing.PreferLocal,
		Rules:           routingRules(cfg.LLM.Routing.Rules),
		Fallback:        routing.Target{Provider: cfg.LLM.Routing.Fallback.Provider, Model: cfg.LLM.Routing.Fallback.Model},
		FailureCooldown: cfg.LLM.Routing.UnhealthyCooldown,
	}, providerMap)

	sessionStore := sessions.NewMemoryStore()

	runtime := agent.NewRuntimeWithOptions(router, sessionStore, agent.RuntimeOptions{
		Logger: slog.Default(),
	})
	if cfg.LLM.Providers[cfg.LLM.DefaultProvider].DefaultModel != "" {
		runtime.SetDefaultModel(cfg.LLM.Providers[cfg.LLM.DefaultProvider].DefaultModel)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	artifactRepo, err := buildArtifactRepository(ctx, cfg.Artifacts, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize artifact store: %w", err)
	}
	cleanup := artifacts.NewCleanupService(artifactRepo, cfg.Artifacts.PruneInterval, logger)
	go cleanup.Start(ctx)
	defer cleanup.Stop()

	registerPlatformTools(runtime, cfg.Tools, cfg.Artifacts, cfg.Server.PublicURL, artifactRepo, logger)

	var mirror *sse.Mirror
	if cfg.StreamMirror.Enabled {
		mirror, err = sse.NewMirror(sse.MirrorConfig{
			RedisURL:    cfg.StreamMirror.RedisURL,
			KeyPrefix:   cfg.StreamMirror.KeyPrefix,
			MaxLen:      cfg.StreamMirror.MaxLen,
			TTL:         cfg.StreamMirror.TTL,
			DialTimeout: cfg.StreamMirror.DialTimeout,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize stream mirror: %w", err)
		}
		defer mirror.Close()
	}

	server := httpapi.NewServer(httpapi.Deps{
		Config:                  cfg,
		Runtime:                 runtime,
		Sessions:                sessionStore,
		Mirror:                  mirror,
		Artifacts:               artifactRepo,
		ArtifactSignedURLSecret: cfg.Artifacts.SignedURLSecret,
		Logger:                  logger,
		Metrics:                 metrics,
	})

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("failed to start http server: %w", err)
	}

	slog.Info("relaykit gateway started", "http_addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort))

	<-ctx.Done()
	slog.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	slog.Info("relaykit gateway stopped gracefully")
	return nil
}

// buildArtifactRepository constructs the artifact metadata repository over
// the configured storage backend (local disk or S3-compatible).
func buildArtifactRepository(ctx context.Context, cfg config.ArtifactConfig, logger *slog.Logger) (artifacts.Repository, error) {
	var store artifacts.Store
	var err error

	switch cfg.Backend {
	case "s3", "minio":
		store, err = artifacts.NewS3Store(ctx, &artifacts.S3StoreConfig{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			Prefix:          cfg.S3Prefix,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			UsePathStyle:    cfg.Backend == "minio",
		})
	default:
		store, err = artifacts.NewLocalStore(cfg.LocalPath)
	}
	if err != nil {
		return nil, err
	}
	return artifacts.NewMemoryRepository(store, logger), nil
}

// registerPlatformTools wires the platform tools (web search, web fetch,
// vector store search, sandboxed computer use, code interpreter) that are
// enabled in configuration onto the runtime's tool registry.
func registerPlatformTools(runtime *agent.Runtime, cfg config.ToolsConfig, artifactsCfg config.ArtifactConfig, publicURL string, repo artifacts.Repository, logger *slog.Logger) {
	runtime.RegisterTool(websearch.NewWebFetchTool(&websearch.FetchConfig{MaxChars: 8000}))

	if cfg.WebSearch.Enabled {
		runtime.RegisterTool(websearch.NewWebSearchTool(&websearch.Config{
			SearXNGURL:         cfg.WebSearch.URL,
			BraveAPIKey:        cfg.WebSearch.APIKey,
			DefaultResultCount: cfg.WebSearch.MaxResults,
		}))
	}

	if cfg.VectorStore.Enabled {
		client := rag.NewStoreClient(rag.StoreClientConfig{
			URL:              cfg.VectorStore.URL,
			APIKey:           cfg.VectorStore.APIKey,
			Collection:       cfg.VectorStore.Collection,
			DefaultLimit:     cfg.VectorStore.DefaultLimit,
			MaxLimit:         cfg.VectorStore.MaxLimit,
			DefaultThreshold: cfg.VectorStore.DefaultThreshold,
			Timeout:          cfg.VectorStore.Timeout,
		})
		searchCfg := rag.DefaultSearchToolConfig()
		runtime.RegisterTool(rag.NewSearchTool(client, &searchCfg))
	}

	if cfg.Sandbox.Enabled {
		pool := computeruse.NewShellPool(computeruse.PoolConfig{
			BaseURL:        cfg.Sandbox.ShellServerURL,
			ConnectTimeout: cfg.Sandbox.ConnectTimeout,
			IdleTimeout:    cfg.Sandbox.IdleTimeout,
			MaxPoolSize:    cfg.Sandbox.MaxPoolSize,
		})
		runtime.RegisterTool(computeruse.NewTool(pool, computeruse.Config{}))
	}

	if cfg.Sandbox.Enabled && cfg.Sandbox.CodeExecURL != "" {
		client := codeinterpreter.NewClient(codeinterpreter.ClientConfig{
			BaseURL:        cfg.Sandbox.CodeExecURL,
			ConnectTimeout: cfg.Sandbox.ConnectTimeout,
			IdleTimeout:    cfg.Sandbox.IdleTimeout,
		})
		redaction, err := artifacts.NewRedactionPolicy(artifacts.RedactionConfig{
			Enabled:          artifactsCfg.Redaction.Enabled,
			Types:            artifactsCfg.Redaction.Types,
			MimeTypes:        artifactsCfg.Redaction.MimeTypes,
			FilenamePatterns: artifactsCfg.Redaction.FilenamePatterns,
		})
		if err != nil {
			logger.Warn("invalid artifact redaction configuration, disabling redaction", "error", err)
			redaction = nil
		}
		downloadBase := strings.TrimSuffix(publicURL, "/") + "/v1/artifacts/%s"
		runtime.RegisterTool(codeinterpreter.NewTool(client, repo, codeinterpreter.Config{
			DownloadBaseURL: downloadBase,
			SignedURLSecret: artifactsCfg.SignedURLSecret,
			SignedURLTTL:    artifactsCfg.SignedURLTTL,
			Redaction:       redaction,
		}, logger))
	}
}

func routingRules(rules []config.RoutingRule) []routing.Rule {
	out := make([]routing.Rule, len(rules))
	for i, r := range rules {
		out[i] = routing.Rule{
			Name:   r.Name,
			Match:  routing.Match{Patterns: r.Match.Patterns, Tags: r.Match.Tags},
			Target: routing.Target{Provider: r.Target.Provider, Model: r.Target.Model},
		}
	}
	return out
}
