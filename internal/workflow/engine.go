// Package workflow implements the task status state machine: which edges are
// legal, who may drive them, and the lock discipline attached to each edge.
// The store applies the status change, lock release, and changelog row in one
// transaction; this package only decides whether the transition is allowed.
package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/taskhive/taskhive/internal/store"
	"github.com/taskhive/taskhive/pkg/models"
)

// Rule describes one legal edge out of a status.
type Rule struct {
	To          string
	Roles       []string // roles allowed to drive this edge; empty means any
	RequireLock bool     // the caller must hold the task lock
	ClearLock   bool     // the transition releases the lock atomically
}

// rules is the transition table. The only backward edge is the QA rejection
// qa_done -> created, which clears any lock and needs no approval gate.
// Pickups (created -> under_work, dev_done -> qa_done) require the caller to
// hold the lock so there is a single owner at a time regardless of role.
var rules = map[string][]Rule{
	models.StatusCreated: {
		{To: models.StatusUnderWork, RequireLock: true},
	},
	models.StatusUnderWork: {
		{To: models.StatusDevDone, RequireLock: true, ClearLock: true},
	},
	models.StatusDevDone: {
		{To: models.StatusQADone, Roles: []string{models.RoleQA}, RequireLock: true, ClearLock: true},
	},
	models.StatusQADone: {
		{To: models.StatusDocsDone},
		{To: models.StatusCreated, Roles: []string{models.RoleQA}, ClearLock: true},
	},
	models.StatusDocsDone: {
		{To: models.StatusCommitted},
	},
}

// RuleFor returns the rule for the edge from -> to, or false when the edge is
// not legal.
func RuleFor(from, to string) (Rule, bool) {
	for _, r := range rules[from] {
		if r.To == to {
			return r, true
		}
	}
	return Rule{}, false
}

// Engine validates and applies status transitions against the store.
type Engine struct {
	Store store.Store
	Log   *slog.Logger
}

// Transition moves the task to newStatus on behalf of agentID. The rule for
// the edge decides role gating and lock requirements; an illegal edge is a
// conflict with no mutation. On success the updated task reflects the new
// status and lock state, and the acting agent is set back to idle when the
// transition released the lock.
func (e *Engine) Transition(ctx context.Context, taskID int64, newStatus, agentID, notes string) (models.Task, error) {
	if !models.ValidStatus(newStatus) {
		return models.Task{}, fmt.Errorf("unknown status %q: %w", newStatus, store.ErrInvalid)
	}
	task, err := e.Store.GetTask(ctx, taskID)
	if err != nil {
		return models.Task{}, err
	}
	rule, ok := RuleFor(task.Status, newStatus)
	if !ok {
		return models.Task{}, fmt.Errorf("illegal transition %s -> %s for task %d: %w", task.Status, newStatus, taskID, store.ErrConflict)
	}
	agent, err := e.Store.GetAgent(ctx, agentID)
	if err != nil {
		return models.Task{}, err
	}
	if len(rule.Roles) > 0 && !roleAllowed(agent.Role, rule.Roles) {
		return models.Task{}, fmt.Errorf("role %s may not apply %s -> %s: %w", agent.Role, task.Status, newStatus, store.ErrForbidden)
	}

	p := store.TransitionParams{
		TaskID:    taskID,
		OldStatus: task.Status,
		NewStatus: newStatus,
		ChangedBy: agentID,
		Notes:     notes,
		ClearLock: rule.ClearLock,
	}
	if rule.RequireLock {
		p.RequireLockedBy = agentID
	}
	updated, err := e.Store.Transition(ctx, p)
	if err != nil {
		return models.Task{}, err
	}

	// Activity tracking is best-effort; the transition already committed.
	if rule.ClearLock {
		if aerr := e.Store.SetAgentActivity(ctx, agentID, models.AgentIdle, nil); aerr != nil {
			e.log().Warn("agent activity update failed", "agent_id", agentID, "error", aerr)
		}
	} else if newStatus == models.StatusUnderWork {
		if aerr := e.Store.SetAgentActivity(ctx, agentID, models.AgentWorking, &taskID); aerr != nil {
			e.log().Warn("agent activity update failed", "agent_id", agentID, "error", aerr)
		}
	}
	e.log().Info("task transition", "task_id", taskID, "from", task.Status, "to", newStatus, "agent_id", agentID)
	return updated, nil
}

func (e *Engine) log() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

func roleAllowed(role string, allowed []string) bool {
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}
