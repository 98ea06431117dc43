// Package router selects the next eligible task for a requesting agent.
// Selection is read-only: two agents may be shown the same task, and the lock
// manager decides who gets it.
package router

import (
	"context"
	"fmt"

	"github.com/taskhive/taskhive/internal/store"
	"github.com/taskhive/taskhive/pkg/models"
)

// Router answers "what should this agent work on next".
type Router struct {
	Store store.Store
}

// NextTask returns the oldest unlocked created task matching role whose
// difficulty the skill level can take (junior tasks for everyone, senior for
// senior and principal, principal for principal only), scoped to projectID
// when non-empty. Returns nil with no error when nothing is eligible.
func (r *Router) NextTask(ctx context.Context, role, skillLevel, projectID string) (*models.Task, error) {
	if !models.ValidRole(role) {
		return nil, fmt.Errorf("unknown role %q: %w", role, store.ErrInvalid)
	}
	diffs := models.AllowedDifficulties(skillLevel)
	if diffs == nil {
		return nil, fmt.Errorf("unknown skill level %q: %w", skillLevel, store.ErrInvalid)
	}
	return r.Store.NextTask(ctx, projectID, role, diffs)
}
