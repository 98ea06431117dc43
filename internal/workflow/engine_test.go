package workflow

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/taskhive/taskhive/internal/store"
	"github.com/taskhive/taskhive/pkg/models"
)

type fixture struct {
	st     store.Store
	engine *Engine
	taskID int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "home"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	p, err := st.CreateProject(ctx, "p")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	e, err := st.CreateEpic(ctx, p.ProjectID, "e")
	if err != nil {
		t.Fatalf("CreateEpic: %v", err)
	}
	f, err := st.CreateFeature(ctx, e.EpicID, "f")
	if err != nil {
		t.Fatalf("CreateFeature: %v", err)
	}
	for _, a := range []store.AgentParams{
		{AgentID: "dev", ProjectID: p.ProjectID, Role: models.RoleBackendDev, SkillLevel: models.LevelSenior},
		{AgentID: "qa", ProjectID: p.ProjectID, Role: models.RoleQA, SkillLevel: models.LevelSenior},
		{AgentID: "writer", ProjectID: p.ProjectID, Role: models.RoleDocs, SkillLevel: models.LevelJunior},
	} {
		if _, err := st.RegisterAgent(ctx, a); err != nil {
			t.Fatalf("RegisterAgent %s: %v", a.AgentID, err)
		}
	}
	task, err := st.CreateTask(ctx, store.TaskParams{
		FeatureID:  f.FeatureID,
		Title:      "work item",
		TargetRole: models.RoleBackendDev,
		Difficulty: models.LevelJunior,
		Complexity: models.ComplexityMinor,
		CreatedBy:  "dev",
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return &fixture{st: st, engine: &Engine{Store: st}, taskID: task.TaskID}
}

func (fx *fixture) lock(t *testing.T, agentID string) {
	t.Helper()
	if err := fx.st.LockTask(context.Background(), fx.taskID, agentID); err != nil {
		t.Fatalf("LockTask(%s): %v", agentID, err)
	}
}

func (fx *fixture) transition(t *testing.T, to, agentID string) models.Task {
	t.Helper()
	task, err := fx.engine.Transition(context.Background(), fx.taskID, to, agentID, "")
	if err != nil {
		t.Fatalf("Transition to %s by %s: %v", to, agentID, err)
	}
	return task
}

func TestFullLifecycle(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	ctx := context.Background()

	fx.lock(t, "dev")
	task := fx.transition(t, models.StatusUnderWork, "dev")
	if task.LockedBy == nil || *task.LockedBy != "dev" {
		t.Fatalf("under_work should keep the dev lock: %+v", task)
	}

	task = fx.transition(t, models.StatusDevDone, "dev")
	if task.LockedBy != nil {
		t.Fatalf("dev_done should release the lock: %+v", task)
	}

	fx.lock(t, "qa")
	task = fx.transition(t, models.StatusQADone, "qa")
	if task.LockedBy != nil {
		t.Fatalf("qa_done should release the lock: %+v", task)
	}

	// Documentation can be marked by anyone; committed too.
	task = fx.transition(t, models.StatusDocsDone, "writer")
	if task.Status != models.StatusDocsDone {
		t.Fatalf("status = %s", task.Status)
	}
	task = fx.transition(t, models.StatusCommitted, "dev")
	if task.Status != models.StatusCommitted {
		t.Fatalf("status = %s", task.Status)
	}

	log, err := fx.st.ListChangelog(ctx, fx.taskID)
	if err != nil {
		t.Fatalf("ListChangelog: %v", err)
	}
	// Creation plus five transitions.
	if len(log) != 6 {
		t.Fatalf("changelog entries = %d, want 6", len(log))
	}
	if log[len(log)-1].NewStatus != models.StatusCommitted {
		t.Fatalf("last entry = %+v", log[len(log)-1])
	}
}

func TestQARejection(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	fx.lock(t, "dev")
	fx.transition(t, models.StatusUnderWork, "dev")
	fx.transition(t, models.StatusDevDone, "dev")
	fx.lock(t, "qa")
	fx.transition(t, models.StatusQADone, "qa")

	// QA sends the task back; it must come back unlocked and claimable.
	task := fx.transition(t, models.StatusCreated, "qa")
	if task.Status != models.StatusCreated || task.LockedBy != nil {
		t.Fatalf("rejected task = %+v", task)
	}
	if err := fx.st.LockTask(context.Background(), fx.taskID, "dev"); err != nil {
		t.Fatalf("re-lock after rejection: %v", err)
	}
}

func TestRejectionRequiresQARole(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	fx.lock(t, "dev")
	fx.transition(t, models.StatusUnderWork, "dev")
	fx.transition(t, models.StatusDevDone, "dev")
	fx.lock(t, "qa")
	fx.transition(t, models.StatusQADone, "qa")

	_, err := fx.engine.Transition(context.Background(), fx.taskID, models.StatusCreated, "dev", "")
	if !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("rejection by dev: err = %v, want ErrForbidden", err)
	}
}

func TestQAApprovalRequiresQARole(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	fx.lock(t, "dev")
	fx.transition(t, models.StatusUnderWork, "dev")
	fx.transition(t, models.StatusDevDone, "dev")

	fx.lock(t, "dev")
	_, err := fx.engine.Transition(context.Background(), fx.taskID, models.StatusQADone, "dev", "")
	if !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("qa_done by dev: err = %v, want ErrForbidden", err)
	}
}

func TestTransitionWithoutLock(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	// created -> under_work needs the lock.
	_, err := fx.engine.Transition(context.Background(), fx.taskID, models.StatusUnderWork, "dev", "")
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("unlocked pickup: err = %v, want ErrConflict", err)
	}

	// Holding someone else's lock doesn't help either.
	fx.lock(t, "qa")
	_, err = fx.engine.Transition(context.Background(), fx.taskID, models.StatusUnderWork, "dev", "")
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("pickup with foreign lock: err = %v, want ErrConflict", err)
	}
}

func TestIllegalEdges(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	ctx := context.Background()

	for _, to := range []string{models.StatusDevDone, models.StatusQADone, models.StatusDocsDone, models.StatusCommitted, models.StatusCreated} {
		if _, err := fx.engine.Transition(ctx, fx.taskID, to, "dev", ""); !errors.Is(err, store.ErrConflict) {
			t.Fatalf("created -> %s: err = %v, want ErrConflict", to, err)
		}
	}
	if _, err := fx.engine.Transition(ctx, fx.taskID, "shipped", "dev", ""); !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("unknown status: err = %v, want ErrInvalid", err)
	}
	if _, err := fx.engine.Transition(ctx, 99999, models.StatusUnderWork, "dev", ""); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("missing task: err = %v, want ErrNotFound", err)
	}
	if _, err := fx.engine.Transition(ctx, fx.taskID, models.StatusUnderWork, "ghost", ""); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unknown agent: err = %v, want ErrNotFound", err)
	}
}

func TestAgentActivityFollowsTransitions(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	ctx := context.Background()

	fx.lock(t, "dev")
	fx.transition(t, models.StatusUnderWork, "dev")
	agent, err := fx.st.GetAgent(ctx, "dev")
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if agent.Status != models.AgentWorking || agent.CurrentTaskID == nil || *agent.CurrentTaskID != fx.taskID {
		t.Fatalf("agent after pickup = %+v", agent)
	}

	fx.transition(t, models.StatusDevDone, "dev")
	agent, _ = fx.st.GetAgent(ctx, "dev")
	if agent.Status != models.AgentIdle || agent.CurrentTaskID != nil {
		t.Fatalf("agent after handoff = %+v", agent)
	}
}

func TestRuleFor(t *testing.T) {
	t.Parallel()

	rule, ok := RuleFor(models.StatusDevDone, models.StatusQADone)
	if !ok || !rule.RequireLock || !rule.ClearLock || len(rule.Roles) != 1 {
		t.Fatalf("dev_done -> qa_done rule = %+v ok=%v", rule, ok)
	}
	if _, ok := RuleFor(models.StatusCommitted, models.StatusCreated); ok {
		t.Fatal("committed should be terminal")
	}
	if _, ok := RuleFor(models.StatusUnderWork, models.StatusCreated); ok {
		t.Fatal("under_work -> created is not a legal edge")
	}
}
