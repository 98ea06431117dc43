// Package changes computes "what changed since my last poll" deltas for
// agents that have no push channel.
package changes

import (
	"context"
	"time"

	"github.com/taskhive/taskhive/internal/store"
	"github.com/taskhive/taskhive/pkg/models"
)

// Poller assembles change deltas from the store.
type Poller struct {
	Store store.Store
}

// Poll returns every task in the caller's project scope updated strictly
// after since, plus the caller's mentions created after since (read or
// unread), and the cursor for the next call. The cursor is snapshotted
// before the queries run and backed off by one second: timestamps have
// second granularity, so a write landing in the snapshot's own second after
// the queries ran would otherwise never satisfy the strictly-greater
// comparison on any later poll. Backing off re-delivers that boundary
// second instead; duplicates are acceptable, losses are not.
func (p *Poller) Poll(ctx context.Context, since time.Time, agentID, projectID string) (models.Delta, error) {
	cursor := time.Now().UTC().Add(-time.Second)

	tasks, err := p.Store.TasksChangedSince(ctx, projectID, since)
	if err != nil {
		return models.Delta{}, err
	}
	var ments []models.Mention
	if agentID != "" {
		ments, err = p.Store.MentionsSince(ctx, agentID, since)
		if err != nil {
			return models.Delta{}, err
		}
	}
	return models.Delta{Tasks: tasks, Mentions: ments, Timestamp: cursor}, nil
}
