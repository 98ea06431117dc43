package daemon

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/taskhive/taskhive/internal/store"
	"github.com/taskhive/taskhive/pkg/models"
)

// Reclaimer releases task locks whose holder went away. A task stuck in
// under_work is pushed back to created so it re-enters the routing queue;
// locks held in other statuses are simply released.
type Reclaimer struct {
	Store      store.Store
	MaxLockAge time.Duration // zero means 2h
	Interval   time.Duration // zero means 5m
	Log        *slog.Logger
}

// Run schedules reclaim passes until ctx is cancelled. One pass runs
// immediately at startup so a restart does not wait a full interval.
func (r *Reclaimer) Run(ctx context.Context) {
	if r.MaxLockAge <= 0 {
		r.MaxLockAge = 2 * time.Hour
	}
	if r.Interval <= 0 {
		r.Interval = 5 * time.Minute
	}

	r.ReclaimOnce(ctx)

	c := cron.New()
	c.Schedule(cron.Every(r.Interval), cron.FuncJob(func() {
		r.ReclaimOnce(ctx)
	}))
	c.Start()
	<-ctx.Done()
	stopCtx := c.Stop()
	<-stopCtx.Done()
}

// ReclaimOnce performs a single reclaim pass.
func (r *Reclaimer) ReclaimOnce(ctx context.Context) {
	cutoff := time.Now().Add(-r.MaxLockAge)
	tasks, err := r.Store.StaleLocks(ctx, cutoff)
	if err != nil {
		r.log().Error("stale lock scan failed", "error", err)
		return
	}
	for _, t := range tasks {
		holder := ""
		if t.LockedBy != nil {
			holder = *t.LockedBy
		}
		if t.Status == models.StatusUnderWork {
			// Back to the routing queue; the changelog records the reclaim.
			_, err = r.Store.Transition(ctx, store.TransitionParams{
				TaskID:    t.TaskID,
				OldStatus: models.StatusUnderWork,
				NewStatus: models.StatusCreated,
				ChangedBy: "system",
				Notes:     "lock reclaimed from " + holder,
				ClearLock: true,
			})
		} else {
			err = r.Store.ClearLock(ctx, t.TaskID)
		}
		if err != nil {
			r.log().Warn("lock reclaim failed", "task_id", t.TaskID, "error", err)
			continue
		}
		r.log().Info("lock reclaimed", "task_id", t.TaskID, "status", t.Status, "holder", holder)
	}
}

func (r *Reclaimer) log() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}
