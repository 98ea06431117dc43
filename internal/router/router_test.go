package router

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/taskhive/taskhive/internal/store"
	"github.com/taskhive/taskhive/pkg/models"
)

func newStoreWithTasks(t *testing.T) (store.Store, map[string]int64) {
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

	ids := make(map[string]int64)
	for _, tc := range []struct {
		title, role, difficulty string
	}{
		{"junior backend", models.RoleBackendDev, models.LevelJunior},
		{"senior backend", models.RoleBackendDev, models.LevelSenior},
		{"principal backend", models.RoleBackendDev, models.LevelPrincipal},
		{"junior qa", models.RoleQA, models.LevelJunior},
	} {
		task, err := st.CreateTask(ctx, store.TaskParams{
			FeatureID:  f.FeatureID,
			Title:      tc.title,
			TargetRole: tc.role,
			Difficulty: tc.difficulty,
			Complexity: models.ComplexityMinor,
			CreatedBy:  "tester",
		})
		if err != nil {
			t.Fatalf("CreateTask %s: %v", tc.title, err)
		}
		ids[tc.title] = task.TaskID
	}
	return st, ids
}

func TestNextTaskBySkillLevel(t *testing.T) {
	t.Parallel()
	st, ids := newStoreWithTasks(t)
	r := &Router{Store: st}
	ctx := context.Background()

	// Everyone starts at the oldest eligible task, which is the junior one.
	for _, level := range []string{models.LevelJunior, models.LevelSenior, models.LevelPrincipal} {
		task, err := r.NextTask(ctx, models.RoleBackendDev, level, "")
		if err != nil {
			t.Fatalf("NextTask(%s): %v", level, err)
		}
		if task == nil || task.TaskID != ids["junior backend"] {
			t.Fatalf("NextTask(%s) = %+v, want junior backend", level, task)
		}
	}

	// Take the junior task off the queue; a junior then has nothing.
	if err := st.LockTask(ctx, ids["junior backend"], "a1"); err != nil {
		t.Fatalf("LockTask: %v", err)
	}
	task, err := r.NextTask(ctx, models.RoleBackendDev, models.LevelJunior, "")
	if err != nil || task != nil {
		t.Fatalf("junior after queue drained: task=%+v err=%v", task, err)
	}

	// A senior skips principal work.
	task, _ = r.NextTask(ctx, models.RoleBackendDev, models.LevelSenior, "")
	if task == nil || task.TaskID != ids["senior backend"] {
		t.Fatalf("senior = %+v, want senior backend", task)
	}
	if err := st.LockTask(ctx, ids["senior backend"], "a2"); err != nil {
		t.Fatalf("LockTask: %v", err)
	}
	task, _ = r.NextTask(ctx, models.RoleBackendDev, models.LevelSenior, "")
	if task != nil {
		t.Fatalf("senior should not get principal work, got %+v", task)
	}
	task, _ = r.NextTask(ctx, models.RoleBackendDev, models.LevelPrincipal, "")
	if task == nil || task.TaskID != ids["principal backend"] {
		t.Fatalf("principal = %+v, want principal backend", task)
	}
}

func TestNextTaskRoleFilter(t *testing.T) {
	t.Parallel()
	st, ids := newStoreWithTasks(t)
	r := &Router{Store: st}

	task, err := r.NextTask(context.Background(), models.RoleQA, models.LevelJunior, "")
	if err != nil {
		t.Fatalf("NextTask: %v", err)
	}
	if task == nil || task.TaskID != ids["junior qa"] {
		t.Fatalf("qa = %+v, want junior qa", task)
	}
}

func TestNextTaskInvalidInputs(t *testing.T) {
	t.Parallel()
	st, _ := newStoreWithTasks(t)
	r := &Router{Store: st}
	ctx := context.Background()

	if _, err := r.NextTask(ctx, "wizard", models.LevelJunior, ""); !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("bad role: err = %v, want ErrInvalid", err)
	}
	if _, err := r.NextTask(ctx, models.RoleQA, "legend", ""); !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("bad level: err = %v, want ErrInvalid", err)
	}
}
