package daemon

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/taskhive/taskhive/internal/store"
	"github.com/taskhive/taskhive/pkg/models"
)

func TestStartForeground_emptyHome(t *testing.T) {
	ctx := context.Background()
	err := StartForeground(ctx, StartOptions{Home: ""})
	if err == nil {
		t.Fatal("StartForeground empty home: expected error")
	}
}

func TestStatus_noPidFile(t *testing.T) {
	t.Parallel()
	st, err := Status(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Running {
		t.Fatalf("expected not running, got %+v", st)
	}
}

func testStore(t *testing.T) (store.Store, int64, int64) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "home"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	ctx := context.Background()

	p, _ := st.CreateProject(ctx, "p")
	e, _ := st.CreateEpic(ctx, p.ProjectID, "e")
	f, err := st.CreateFeature(ctx, e.EpicID, "f")
	if err != nil {
		t.Fatalf("CreateFeature: %v", err)
	}
	mk := func(title string) int64 {
		task, err := st.CreateTask(ctx, store.TaskParams{
			FeatureID: f.FeatureID, Title: title, TargetRole: models.RoleBackendDev,
			Difficulty: models.LevelJunior, Complexity: models.ComplexityMinor, CreatedBy: "tester",
		})
		if err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
		return task.TaskID
	}
	return st, mk("abandoned pickup"), mk("abandoned in flight")
}

func TestReclaimOnce(t *testing.T) {
	t.Parallel()
	st, claimed, inFlight := testStore(t)
	ctx := context.Background()

	// One task locked but never started; one locked and moved to under_work.
	if err := st.LockTask(ctx, claimed, "gone_1"); err != nil {
		t.Fatalf("LockTask: %v", err)
	}
	if err := st.LockTask(ctx, inFlight, "gone_2"); err != nil {
		t.Fatalf("LockTask: %v", err)
	}
	if _, err := st.Transition(ctx, store.TransitionParams{
		TaskID: inFlight, OldStatus: models.StatusCreated, NewStatus: models.StatusUnderWork,
		ChangedBy: "gone_2", RequireLockedBy: "gone_2",
	}); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	// Negative age puts the cutoff in the future, so fresh locks count as stale.
	r := &Reclaimer{Store: st, MaxLockAge: -time.Hour}
	r.ReclaimOnce(ctx)

	got, _ := st.GetTask(ctx, claimed)
	if got.Status != models.StatusCreated || got.LockedBy != nil {
		t.Fatalf("claimed task after reclaim = %+v", got)
	}

	got, _ = st.GetTask(ctx, inFlight)
	if got.Status != models.StatusCreated || got.LockedBy != nil {
		t.Fatalf("in-flight task after reclaim = %+v", got)
	}
	log, _ := st.ListChangelog(ctx, inFlight)
	last := log[len(log)-1]
	if last.ChangedBy != "system" || last.NewStatus != models.StatusCreated {
		t.Fatalf("reclaim changelog entry = %+v", last)
	}

	// Both tasks are routable again.
	next, err := st.NextTask(ctx, "", models.RoleBackendDev, []string{models.LevelJunior})
	if err != nil || next == nil {
		t.Fatalf("NextTask after reclaim: task=%v err=%v", next, err)
	}
}

func TestReclaimOnceLeavesFreshLocks(t *testing.T) {
	t.Parallel()
	st, claimed, _ := testStore(t)
	ctx := context.Background()

	if err := st.LockTask(ctx, claimed, "busy_agent"); err != nil {
		t.Fatalf("LockTask: %v", err)
	}
	r := &Reclaimer{Store: st, MaxLockAge: time.Hour}
	r.ReclaimOnce(ctx)

	got, _ := st.GetTask(ctx, claimed)
	if got.LockedBy == nil || *got.LockedBy != "busy_agent" {
		t.Fatalf("fresh lock should survive reclaim: %+v", got)
	}
}
