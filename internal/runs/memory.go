package runs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/basinlabs/relaykit/pkg/models"
)

// MemoryStore is an in-memory Store, adequate for a single gateway
// instance and for tests. A production deployment fronted by the
// external Storage API would instead implement Store as an HTTP client.
type MemoryStore struct {
	mu      sync.RWMutex
	runs    map[string]*models.Run
	actions map[string]*models.Action
	byRun   map[string][]string // runID -> ordered action ids
}

// NewMemoryStore creates an empty in-memory run/action store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:    map[string]*models.Run{},
		actions: map[string]*models.Action{},
		byRun:   map[string][]string{},
	}
}

func (m *MemoryStore) CreateRun(ctx context.Context, run *models.Run) error {
	if run == nil {
		return errNotFound("run is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = models.RunStatusQueued
	}
	now := time.Now()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = run.CreatedAt

	clone := *run
	m.runs[clone.ID] = &clone
	return nil
}

func (m *MemoryStore) GetRun(ctx context.Context, id string) (*models.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	clone := *run
	return &clone, nil
}

func (m *MemoryStore) UpdateRunStatus(ctx context.Context, id string, status models.RunStatus) (*models.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	if run.Status == status {
		clone := *run
		return &clone, nil
	}
	if !models.CanTransitionRun(run.Status, status) {
		return nil, ErrInvalidTransition
	}
	run.Status = status
	run.UpdatedAt = time.Now()
	clone := *run
	return &clone, nil
}

func (m *MemoryStore) CreateAction(ctx context.Context, action *models.Action) error {
	if action == nil {
		return errNotFound("action is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[action.RunID]; !ok {
		return ErrRunNotFound
	}
	if action.ID == "" {
		action.ID = uuid.NewString()
	}
	if action.Status == "" {
		action.Status = models.ActionStatusPending
	}
	now := time.Now()
	if action.CreatedAt.IsZero() {
		action.CreatedAt = now
	}
	action.UpdatedAt = action.CreatedAt

	clone := *action
	m.actions[clone.ID] = &clone
	m.byRun[action.RunID] = append(m.byRun[action.RunID], clone.ID)
	return nil
}

func (m *MemoryStore) GetAction(ctx context.Context, id string) (*models.Action, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	action, ok := m.actions[id]
	if !ok {
		return nil, ErrActionNotFound
	}
	clone := *action
	return &clone, nil
}

func (m *MemoryStore) ListPendingActions(ctx context.Context, runID string) ([]*models.Action, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Action
	for _, id := range m.byRun[runID] {
		action, ok := m.actions[id]
		if !ok || action.Terminal() {
			continue
		}
		clone := *action
		out = append(out, &clone)
	}
	return out, nil
}

// SubmitActionOutput marks action completed/failed and, if no other
// action on the run is still pending, flips the run back to in_progress.
func (m *MemoryStore) SubmitActionOutput(ctx context.Context, actionID string, output string, failed bool) (*models.Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	action, ok := m.actions[actionID]
	if !ok {
		return nil, ErrActionNotFound
	}
	if action.Terminal() {
		clone := *action
		return &clone, nil
	}

	action.Output = output
	if failed {
		action.Status = models.ActionStatusFailed
	} else {
		action.Status = models.ActionStatusCompleted
	}
	action.UpdatedAt = time.Now()

	run, ok := m.runs[action.RunID]
	if ok && run.Status == models.RunStatusActionRequired {
		stillPending := false
		for _, id := range m.byRun[action.RunID] {
			other := m.actions[id]
			if other != nil && !other.Terminal() {
				stillPending = true
				break
			}
		}
		if !stillPending {
			run.Status = models.RunStatusInProgress
			run.UpdatedAt = time.Now()
		}
	}

	clone := *action
	return &clone, nil
}
