package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/basinlabs/relaykit/internal/runs"
	"github.com/basinlabs/relaykit/internal/tools/parser"
	"github.com/basinlabs/relaykit/pkg/models"
)

// consumerGatePollInterval is how often the Consumer Tool Gate checks an
// action's status while waiting for external fulfillment. No ceiling on
// the number of polls is imposed here; an upstream TTL policy owns that.
const consumerGatePollInterval = time.Second

// gateAndExecuteTools splits calls by parser.IsPlatformTool and threads
// both branches through the Action/action_required lifecycle:
//
//   - platform tools: an Action is created, the run moves to
//     action_required, the tool runs in-process immediately (still
//     concurrently, still timeout-bounded), and the Action is resolved
//     from the execution result.
//   - consumer tools: an Action is created, the run moves to
//     action_required, and the call blocks — with no core-imposed
//     timeout — until an external fulfiller resolves the Action via
//     Runtime.Runs().SubmitActionOutput.
//
// Once every Action from this batch is terminal, the run returns to
// in_progress. Results are returned indexed identically to calls.
func (r *Runtime) gateAndExecuteTools(ctx context.Context, runID string, calls []models.ToolCall, toolExec *ToolExecutor, emitter *EventEmitter) []ToolExecResult {
	if len(calls) == 0 {
		return nil
	}
	store := r.runStore()

	results := make([]ToolExecResult, len(calls))
	actionByCallID := make(map[string]string, len(calls))

	var platformCalls, consumerCalls []models.ToolCall
	var platformIdx, consumerIdx []int

	for i, tc := range calls {
		action := &models.Action{
			RunID:     runID,
			ToolName:  tc.Name,
			Arguments: decodeToolArguments(tc.Input),
			Status:    models.ActionStatusPending,
		}
		if err := store.CreateAction(ctx, action); err == nil {
			actionByCallID[tc.ID] = action.ID
		} else if r.opts.Logger != nil {
			r.opts.Logger.Debug("action registration failed", "error", err, "run_id", runID, "tool", tc.Name)
		}

		if parser.IsPlatformTool(tc.Name) {
			platformCalls = append(platformCalls, tc)
			platformIdx = append(platformIdx, i)
		} else {
			consumerCalls = append(consumerCalls, tc)
			consumerIdx = append(consumerIdx, i)
		}
	}

	if _, err := store.UpdateRunStatus(ctx, runID, models.RunStatusActionRequired); err != nil && r.opts.Logger != nil {
		r.opts.Logger.Debug("run status transition to action_required failed", "error", err, "run_id", runID)
	}

	if len(platformCalls) > 0 {
		platformCtx := WithEmitter(ctx, emitter)
		platformResults := r.executeToolsWithEvents(platformCtx, toolExec, platformCalls, emitter)
		for _, pr := range platformResults {
			if pr.Index < 0 || pr.Index >= len(platformIdx) {
				continue
			}
			origIdx := platformIdx[pr.Index]
			pr.Index = origIdx
			results[origIdx] = pr
			r.resolveAction(ctx, store, actionByCallID[pr.ToolCall.ID], pr.Result.Content, pr.Result.IsError)
		}
	}

	for i, tc := range consumerCalls {
		origIdx := consumerIdx[i]
		emitter.ToolStarted(ctx, tc.ID, tc.Name, tc.Input)

		start := time.Now()
		action, waitErr := r.waitForConsumerAction(ctx, store, actionByCallID[tc.ID])
		elapsed := time.Since(start)

		result := ToolExecResult{Index: origIdx, ToolCall: tc, StartTime: start, EndTime: time.Now()}
		switch {
		case waitErr != nil:
			result.Result = models.ToolResult{ToolCallID: tc.ID, Content: waitErr.Error(), IsError: true}
		case action.Status == models.ActionStatusFailed:
			result.Result = models.ToolResult{ToolCallID: tc.ID, Content: action.Output, IsError: true}
		default:
			result.Result = models.ToolResult{ToolCallID: tc.ID, Content: action.Output}
		}
		results[origIdx] = result
		emitter.ToolFinished(ctx, tc.ID, tc.Name, !result.Result.IsError, []byte(result.Result.Content), elapsed)
	}

	if _, err := store.UpdateRunStatus(ctx, runID, models.RunStatusInProgress); err != nil && r.opts.Logger != nil {
		r.opts.Logger.Debug("run status transition to in_progress failed", "error", err, "run_id", runID)
	}

	return results
}

// waitForConsumerAction polls an action's status at consumerGatePollInterval
// until it reaches a terminal status, the caller's context is cancelled, or
// actionID is empty (action registration failed upstream, so there is
// nothing an external fulfiller could resolve).
func (r *Runtime) waitForConsumerAction(ctx context.Context, store runs.Store, actionID string) (*models.Action, error) {
	if actionID == "" {
		return nil, fmt.Errorf("action tracking unavailable for this run")
	}

	ticker := time.NewTicker(consumerGatePollInterval)
	defer ticker.Stop()

	for {
		action, err := store.GetAction(ctx, actionID)
		if err != nil {
			return nil, err
		}
		if action.Terminal() {
			return action, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Runtime) resolveAction(ctx context.Context, store runs.Store, actionID, output string, failed bool) {
	if actionID == "" {
		return
	}
	if _, err := store.SubmitActionOutput(ctx, actionID, output, failed); err != nil && r.opts.Logger != nil {
		r.opts.Logger.Debug("action resolution failed", "error", err, "action_id", actionID)
	}
}

func decodeToolArguments(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil
	}
	return args
}
