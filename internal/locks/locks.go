// Package locks implements the per-task exclusive lock discipline: at most
// one agent owns a task at a time. Unlock is never a client operation; the
// state machine releases locks as part of accepted transitions.
package locks

import (
	"context"
	"log/slog"

	"github.com/taskhive/taskhive/internal/store"
	"github.com/taskhive/taskhive/pkg/models"
)

// Manager acquires task locks on behalf of agents.
type Manager struct {
	Store store.Store
	Log   *slog.Logger
}

// Lock acquires the lock on taskID for agentID and returns the locked task.
// Acquisition is a single conditional update in the store, so under
// concurrent callers exactly one succeeds; the rest get store.ErrConflict.
// Re-locking a task already held by the caller succeeds.
func (m *Manager) Lock(ctx context.Context, taskID int64, agentID string) (models.Task, error) {
	if err := m.Store.LockTask(ctx, taskID, agentID); err != nil {
		return models.Task{}, err
	}
	if err := m.Store.SetAgentActivity(ctx, agentID, models.AgentWorking, &taskID); err != nil {
		m.log().Warn("agent activity update failed", "agent_id", agentID, "error", err)
	}
	m.log().Info("task locked", "task_id", taskID, "agent_id", agentID)
	return m.Store.GetTask(ctx, taskID)
}

func (m *Manager) log() *slog.Logger {
	if m.Log != nil {
		return m.Log
	}
	return slog.Default()
}
