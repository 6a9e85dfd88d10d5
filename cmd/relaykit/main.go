// Package main provides the CLI entry point for the relaykit inference
// gateway.
//
// relaykit fronts multiple LLM providers (Anthropic, OpenAI, Google,
// Bedrock, and any OpenAI-compatible endpoint) behind a single streaming
// completions API, with tool execution, session persistence, and SSE
// reconnect/replay via a Redis stream mirror.
//
// # Basic Usage
//
// Start the server:
//
//	relaykit serve --config relaykit.yaml
//
// # Environment Variables
//
//   - RELAYKIT_CONFIG: Path to configuration file (default: relaykit.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
//   - GOOGLE_API_KEY: Google AI API key for Gemini models
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "relaykit",
		Short:   "relaykit - multi-provider LLM inference gateway",
		Long:    "relaykit fronts multiple LLM providers behind a single streaming completions API with tool execution and session persistence.",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(buildServeCmd())
	return rootCmd
}

func resolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv("RELAYKIT_CONFIG"); env != "" {
		return env
	}
	return "relaykit.yaml"
}
