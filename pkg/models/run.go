package models

import "time"

// RunStatus is the lifecycle state of a Run.
type RunStatus string

const (
	RunStatusQueued         RunStatus = "queued"
	RunStatusInProgress     RunStatus = "in_progress"
	RunStatusActionRequired RunStatus = "action_required"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusCancelling     RunStatus = "cancelling"
	RunStatusCancelled      RunStatus = "cancelled"
	RunStatusFailed         RunStatus = "failed"
	RunStatusExpired        RunStatus = "expired"
)

// Run is one end-to-end interaction on a thread from stream start to
// terminal state. The gateway references a thread/assistant owned
// externally; it owns only the run's in-flight status.
type Run struct {
	ID          string    `json:"id"`
	ThreadID    string    `json:"thread_id"`
	AssistantID string    `json:"assistant_id"`
	MessageID   string    `json:"message_id,omitempty"`
	Model       string    `json:"model"`
	Status      RunStatus `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CanTransitionRun reports whether a run may legally move from from to to,
// per the run state machine. Same-state transitions are always legal and
// treated as a no-op by callers (idempotent under concurrent observers).
func CanTransitionRun(from, to RunStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case RunStatusQueued:
		return to == RunStatusInProgress || to == RunStatusCancelling || to == RunStatusFailed
	case RunStatusInProgress:
		switch to {
		case RunStatusActionRequired, RunStatusCompleted, RunStatusCancelling, RunStatusFailed, RunStatusExpired:
			return true
		}
		return false
	case RunStatusActionRequired:
		switch to {
		case RunStatusInProgress, RunStatusCancelling, RunStatusFailed, RunStatusExpired:
			return true
		}
		return false
	case RunStatusCancelling:
		return to == RunStatusCancelled || to == RunStatusFailed
	}
	// cancelled, completed, failed, expired are terminal.
	return false
}

// ActionStatus is the lifecycle state of an Action.
type ActionStatus string

const (
	ActionStatusPending    ActionStatus = "pending"
	ActionStatusInProgress ActionStatus = "in_progress"
	ActionStatusCompleted  ActionStatus = "completed"
	ActionStatusFailed     ActionStatus = "failed"
)

// Action is a record of a single tool invocation attached to a run.
// It is created the moment a tool call is parsed out of the model's
// stream, before the tool (platform or consumer) has produced output.
type Action struct {
	ID        string         `json:"id"`
	RunID     string         `json:"run_id"`
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Status    ActionStatus   `json:"status"`
	Output    string         `json:"output,omitempty"`
	ExpiresAt time.Time      `json:"expires_at,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Terminal reports whether the action has reached a status an external
// fulfiller can no longer change.
func (a *Action) Terminal() bool {
	return a.Status == ActionStatusCompleted || a.Status == ActionStatusFailed
}
