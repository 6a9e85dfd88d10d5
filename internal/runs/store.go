// Package runs tracks the Run/Action lifecycle the orchestrator drives
// while a conversation is active: run status transitions (including
// action_required), and the Actions created for both platform and
// consumer tool calls. The Storage API that durably owns this data is an
// external collaborator; Store is the interface the gateway programs
// against, with MemoryStore the local stand-in used when no external
// backing is configured.
package runs

import (
	"context"

	"github.com/basinlabs/relaykit/pkg/models"
)

// Store persists Run and Action records and enforces the run state
// machine's legal transitions.
type Store interface {
	// CreateRun registers a new run, defaulting Status to queued and
	// stamping CreatedAt/UpdatedAt if unset.
	CreateRun(ctx context.Context, run *models.Run) error

	// GetRun fetches a run by id.
	GetRun(ctx context.Context, id string) (*models.Run, error)

	// UpdateRunStatus applies a state transition, rejecting transitions
	// not permitted by models.CanTransitionRun. Same-status calls are a
	// no-op success (idempotent under concurrent observers).
	UpdateRunStatus(ctx context.Context, id string, status models.RunStatus) (*models.Run, error)

	// CreateAction records a new tool invocation against a run.
	CreateAction(ctx context.Context, action *models.Action) error

	// GetAction fetches an action by id.
	GetAction(ctx context.Context, id string) (*models.Action, error)

	// ListPendingActions returns the actions for a run that have not yet
	// reached a terminal status.
	ListPendingActions(ctx context.Context, runID string) ([]*models.Action, error)

	// SubmitActionOutput records an external fulfiller's tool output: the
	// action is marked completed (or failed if failed is true) and, once
	// every action on the run has resolved, the run transitions back out
	// of action_required to in_progress. Submitting output for an action
	// already in a terminal status leaves state unchanged and returns the
	// existing record with no error.
	SubmitActionOutput(ctx context.Context, actionID string, output string, failed bool) (*models.Action, error)
}

// ErrRunNotFound is returned by Store methods when a run id is unknown.
var ErrRunNotFound = errNotFound("run not found")

// ErrActionNotFound is returned by Store methods when an action id is unknown.
var ErrActionNotFound = errNotFound("action not found")

// ErrInvalidTransition is returned when a requested run status change is
// not permitted by the state machine.
var ErrInvalidTransition = errNotFound("invalid run status transition")

type errNotFound string

func (e errNotFound) Error() string { return string(e) }
