package computeruse

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/basinlabs/relaykit/internal/agent"
	"github.com/basinlabs/relaykit/internal/observability"
)

// Config controls the computer tool's display metadata, used only to answer
// ComputerUseConfig(); the thread id used to key the shell connection pool
// comes from the request context, not this struct.
type Config struct {
	DisplayWidthPx  int
	DisplayHeightPx int
	DisplayNumber   int
}

// Tool is the platform "computer" tool: it proxies each action to the
// sandbox's shell WebSocket endpoint through a per-thread pooled connection
// and returns the aggregated textual output.
type Tool struct {
	pool   *ShellPool
	config Config
}

// NewTool creates a computer tool backed by the given shell connection pool.
func NewTool(pool *ShellPool, cfg Config) *Tool {
	return &Tool{pool: pool, config: cfg}
}

func (t *Tool) Name() string { return "computer" }

func (t *Tool) Description() string {
	return "Control a connected computer via mouse/keyboard/screenshot actions, executed in a sandboxed shell."
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(SchemaJSON)
}

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.pool == nil {
		return &agent.ToolResult{Content: "sandbox shell pool unavailable", IsError: true}, nil
	}

	threadID := observability.GetSessionID(ctx)
	if strings.TrimSpace(threadID) == "" {
		threadID = observability.GetRunID(ctx)
	}
	if strings.TrimSpace(threadID) == "" {
		return &agent.ToolResult{Content: "computer: no thread id in context", IsError: true}, nil
	}

	command := string(params)
	if strings.TrimSpace(command) == "" {
		command = "{}"
	}

	output, err := t.pool.Execute(ctx, threadID, command)
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("computer action failed: %v", err), IsError: true}, nil
	}

	return &agent.ToolResult{Content: output}, nil
}

// ComputerUseConfig implements agent.ComputerUseConfigProvider when the
// sandbox's display geometry is known ahead of time via static config.
func (t *Tool) ComputerUseConfig() *agent.ComputerUseConfig {
	if t.config.DisplayWidthPx <= 0 || t.config.DisplayHeightPx <= 0 {
		return nil
	}
	return &agent.ComputerUseConfig{
		DisplayWidthPx:  t.config.DisplayWidthPx,
		DisplayHeightPx: t.config.DisplayHeightPx,
		DisplayNumber:   t.config.DisplayNumber,
	}
}
