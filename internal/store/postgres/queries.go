package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/taskhive/taskhive/internal/store"
	"github.com/taskhive/taskhive/pkg/models"
)

const taskColumns = `task_id, feature_id, title, description, target_role, difficulty, complexity, branch_name, status, locked_by, locked_at, notes, created_at, updated_at`

func (s *Store) CreateProject(ctx context.Context, name string) (models.Project, error) {
	if name == "" {
		return models.Project{}, fmt.Errorf("project name required: %w", store.ErrInvalid)
	}
	id := uuid.NewString()
	now := time.Now().UTC().Unix()
	_, err := s.Pool.Exec(ctx, `INSERT INTO projects(project_id, name, created_at) VALUES($1, $2, $3)`, id, name, now)
	if err != nil {
		return models.Project{}, err
	}
	return models.Project{ProjectID: id, Name: name, CreatedAt: time.Unix(now, 0).UTC()}, nil
}

func (s *Store) GetProject(ctx context.Context, projectID string) (models.Project, error) {
	var p models.Project
	var createdAt int64
	err := s.Pool.QueryRow(ctx, `SELECT project_id, name, created_at FROM projects WHERE project_id = $1 AND deleted_at IS NULL`, projectID).
		Scan(&p.ProjectID, &p.Name, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Project{}, fmt.Errorf("project %s: %w", projectID, store.ErrNotFound)
		}
		return models.Project{}, err
	}
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	return p, nil
}

func (s *Store) ListProjects(ctx context.Context) ([]models.Project, error) {
	rows, err := s.Pool.Query(ctx, `SELECT project_id, name, created_at FROM projects WHERE deleted_at IS NULL ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Project
	for rows.Next() {
		var p models.Project
		var createdAt int64
		if err := rows.Scan(&p.ProjectID, &p.Name, &createdAt); err != nil {
			return nil, err
		}
		p.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) ArchiveProject(ctx context.Context, projectID string) error {
	now := time.Now().UTC().Unix()
	res, err := s.Pool.Exec(ctx, `UPDATE projects SET deleted_at = $1 WHERE project_id = $2 AND deleted_at IS NULL`, now, projectID)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("project %s: %w", projectID, store.ErrNotFound)
	}
	return nil
}

// DeleteProject hard-deletes; it also purges archived projects.
func (s *Store) DeleteProject(ctx context.Context, projectID string) error {
	var exists int
	if err := s.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM projects WHERE project_id = $1`, projectID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("project %s: %w", projectID, store.ErrNotFound)
	}
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
DELETE FROM mentions WHERE
  (source_type = 'task' AND source_id IN (
    SELECT t.task_id::TEXT FROM tasks t
    JOIN features f ON f.feature_id = t.feature_id
    JOIN epics e ON e.epic_id = f.epic_id
    WHERE e.project_id = $1))
  OR (source_type = 'document' AND source_id IN (
    SELECT doc_id FROM documents WHERE project_id = $1))`, projectID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM agents WHERE project_id = $1`, projectID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM projects WHERE project_id = $1`, projectID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) CreateEpic(ctx context.Context, projectID, name string) (models.Epic, error) {
	if name == "" {
		return models.Epic{}, fmt.Errorf("epic name required: %w", store.ErrInvalid)
	}
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return models.Epic{}, err
	}
	id := uuid.NewString()
	now := time.Now().UTC().Unix()
	_, err := s.Pool.Exec(ctx, `INSERT INTO epics(epic_id, project_id, name, created_at) VALUES($1, $2, $3, $4)`, id, projectID, name, now)
	if err != nil {
		return models.Epic{}, err
	}
	return models.Epic{EpicID: id, ProjectID: projectID, Name: name, CreatedAt: time.Unix(now, 0).UTC()}, nil
}

func (s *Store) ListEpics(ctx context.Context, projectID string) ([]models.Epic, error) {
	rows, err := s.Pool.Query(ctx, `SELECT epic_id, project_id, name, created_at FROM epics WHERE project_id = $1 ORDER BY created_at ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Epic
	for rows.Next() {
		var e models.Epic
		var createdAt int64
		if err := rows.Scan(&e.EpicID, &e.ProjectID, &e.Name, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) CreateFeature(ctx context.Context, epicID, name string) (models.Feature, error) {
	if name == "" {
		return models.Feature{}, fmt.Errorf("feature name required: %w", store.ErrInvalid)
	}
	var exists int
	if err := s.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM epics WHERE epic_id = $1`, epicID).Scan(&exists); err != nil {
		return models.Feature{}, err
	}
	if exists == 0 {
		return models.Feature{}, fmt.Errorf("epic %s: %w", epicID, store.ErrNotFound)
	}
	id := uuid.NewString()
	now := time.Now().UTC().Unix()
	_, err := s.Pool.Exec(ctx, `INSERT INTO features(feature_id, epic_id, name, created_at) VALUES($1, $2, $3, $4)`, id, epicID, name, now)
	if err != nil {
		return models.Feature{}, err
	}
	return models.Feature{FeatureID: id, EpicID: epicID, Name: name, CreatedAt: time.Unix(now, 0).UTC()}, nil
}

func (s *Store) ListFeatures(ctx context.Context, epicID string) ([]models.Feature, error) {
	rows, err := s.Pool.Query(ctx, `SELECT feature_id, epic_id, name, created_at FROM features WHERE epic_id = $1 ORDER BY created_at ASC`, epicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Feature
	for rows.Next() {
		var f models.Feature
		var createdAt int64
		if err := rows.Scan(&f.FeatureID, &f.EpicID, &f.Name, &createdAt); err != nil {
			return nil, err
		}
		f.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) RegisterAgent(ctx context.Context, p store.AgentParams) (models.Agent, error) {
	if p.AgentID == "" {
		return models.Agent{}, fmt.Errorf("agent_id required: %w", store.ErrInvalid)
	}
	if !models.ValidRole(p.Role) {
		return models.Agent{}, fmt.Errorf("unknown role %q: %w", p.Role, store.ErrInvalid)
	}
	if !models.ValidLevel(p.SkillLevel) {
		return models.Agent{}, fmt.Errorf("unknown skill level %q: %w", p.SkillLevel, store.ErrInvalid)
	}
	now := time.Now().UTC().Unix()
	_, err := s.Pool.Exec(ctx, `
INSERT INTO agents(agent_id, project_id, role, skill_level, status, current_task_id, connection_type, last_activity, created_at)
VALUES($1, $2, $3, $4, 'idle', NULL, $5, $6, $7)
ON CONFLICT(agent_id) DO UPDATE SET
  project_id = excluded.project_id,
  role = excluded.role,
  skill_level = excluded.skill_level,
  status = 'idle',
  current_task_id = NULL,
  connection_type = excluded.connection_type,
  last_activity = excluded.last_activity`,
		p.AgentID, p.ProjectID, p.Role, p.SkillLevel, p.ConnectionType, now, now)
	if err != nil {
		return models.Agent{}, err
	}
	return s.GetAgent(ctx, p.AgentID)
}

func (s *Store) GetAgent(ctx context.Context, agentID string) (models.Agent, error) {
	var a models.Agent
	var currentTask *int64
	var lastActivity, createdAt int64
	err := s.Pool.QueryRow(ctx, `SELECT agent_id, project_id, role, skill_level, status, current_task_id, connection_type, last_activity, created_at FROM agents WHERE agent_id = $1`, agentID).
		Scan(&a.AgentID, &a.ProjectID, &a.Role, &a.SkillLevel, &a.Status, &currentTask, &a.ConnectionType, &lastActivity, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Agent{}, fmt.Errorf("agent %s: %w", agentID, store.ErrNotFound)
		}
		return models.Agent{}, err
	}
	a.CurrentTaskID = currentTask
	a.LastActivity = time.Unix(lastActivity, 0).UTC()
	a.CreatedAt = time.Unix(createdAt, 0).UTC()
	return a, nil
}

func (s *Store) ListAgents(ctx context.Context, projectID string) ([]models.Agent, error) {
	q := `SELECT agent_id, project_id, role, skill_level, status, current_task_id, connection_type, last_activity, created_at FROM agents`
	var args []any
	if projectID != "" {
		q += ` WHERE project_id = $1`
		args = append(args, projectID)
	}
	q += ` ORDER BY created_at ASC`
	rows, err := s.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Agent
	for rows.Next() {
		var a models.Agent
		var currentTask *int64
		var lastActivity, createdAt int64
		if err := rows.Scan(&a.AgentID, &a.ProjectID, &a.Role, &a.SkillLevel, &a.Status, &currentTask, &a.ConnectionType, &lastActivity, &createdAt); err != nil {
			return nil, err
		}
		a.CurrentTaskID = currentTask
		a.LastActivity = time.Unix(lastActivity, 0).UTC()
		a.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) SetAgentActivity(ctx context.Context, agentID, status string, currentTaskID *int64) error {
	now := time.Now().UTC().Unix()
	_, err := s.Pool.Exec(ctx, `UPDATE agents SET status=$1, current_task_id=$2, last_activity=$3 WHERE agent_id=$4`, status, currentTaskID, now, agentID)
	return err
}

func (s *Store) CreateTask(ctx context.Context, p store.TaskParams) (models.Task, error) {
	if p.Title == "" {
		return models.Task{}, fmt.Errorf("title required: %w", store.ErrInvalid)
	}
	if !models.ValidRole(p.TargetRole) {
		return models.Task{}, fmt.Errorf("unknown target role %q: %w", p.TargetRole, store.ErrInvalid)
	}
	if !models.ValidLevel(p.Difficulty) {
		return models.Task{}, fmt.Errorf("unknown difficulty %q: %w", p.Difficulty, store.ErrInvalid)
	}
	if !models.ValidComplexity(p.Complexity) {
		return models.Task{}, fmt.Errorf("unknown complexity %q: %w", p.Complexity, store.ErrInvalid)
	}
	var exists int
	if err := s.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM features WHERE feature_id = $1`, p.FeatureID).Scan(&exists); err != nil {
		return models.Task{}, err
	}
	if exists == 0 {
		return models.Task{}, fmt.Errorf("feature %s: %w", p.FeatureID, store.ErrNotFound)
	}

	now := time.Now().UTC().Unix()
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return models.Task{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id int64
	err = tx.QueryRow(ctx, `
INSERT INTO tasks(feature_id, title, description, target_role, difficulty, complexity, branch_name, status, notes, created_at, updated_at)
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING task_id`,
		p.FeatureID, p.Title, p.Description, p.TargetRole, p.Difficulty, p.Complexity, p.BranchName, models.StatusCreated, p.Notes, now, now).Scan(&id)
	if err != nil {
		return models.Task{}, err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO changelog(task_id, old_status, new_status, changed_by, notes, changed_at) VALUES($1, '', $2, $3, '', $4)`,
		id, models.StatusCreated, p.CreatedBy, now); err != nil {
		return models.Task{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Task{}, err
	}
	return s.GetTask(ctx, id)
}

func scanTask(row interface{ Scan(dest ...any) error }) (*models.Task, error) {
	var (
		t         models.Task
		lockedBy  *string
		lockedAt  *int64
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(&t.TaskID, &t.FeatureID, &t.Title, &t.Description, &t.TargetRole, &t.Difficulty, &t.Complexity,
		&t.BranchName, &t.Status, &lockedBy, &lockedAt, &t.Notes, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	t.LockedBy = lockedBy
	if lockedAt != nil {
		at := time.Unix(*lockedAt, 0).UTC()
		t.LockedAt = &at
	}
	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	t.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &t, nil
}

func (s *Store) GetTask(ctx context.Context, taskID int64) (models.Task, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE task_id = $1`, taskID)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Task{}, fmt.Errorf("task %d: %w", taskID, store.ErrNotFound)
		}
		return models.Task{}, err
	}
	return *t, nil
}

func taskCols(alias string) string {
	cols := strings.Split(taskColumns, ", ")
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

func (s *Store) queryTasks(ctx context.Context, q string, args ...any) ([]models.Task, error) {
	rows, err := s.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *Store) ListTasks(ctx context.Context, projectID string, limit int) ([]models.Task, error) {
	if limit <= 0 {
		limit = models.DefaultTaskListLimit
	}
	if projectID != "" {
		q := `SELECT ` + taskCols("t") + ` FROM tasks t
JOIN features f ON f.feature_id = t.feature_id
JOIN epics e ON e.epic_id = f.epic_id
WHERE e.project_id = $1
ORDER BY t.created_at DESC, t.task_id DESC LIMIT $2`
		return s.queryTasks(ctx, q, projectID, limit)
	}
	q := `SELECT ` + taskColumns + ` FROM tasks ORDER BY created_at DESC, task_id DESC LIMIT $1`
	return s.queryTasks(ctx, q, limit)
}

func (s *Store) ListFeatureTasks(ctx context.Context, featureID string) ([]models.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE feature_id = $1 ORDER BY created_at ASC, task_id ASC`
	return s.queryTasks(ctx, q, featureID)
}

func (s *Store) DeleteTask(ctx context.Context, taskID int64) error {
	if _, err := s.GetTask(ctx, taskID); err != nil {
		return err
	}
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM mentions WHERE source_type = 'task' AND source_id = $1`, fmt.Sprintf("%d", taskID)); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM tasks WHERE task_id = $1`, taskID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) NextTask(ctx context.Context, projectID, role string, difficulties []string) (*models.Task, error) {
	if len(difficulties) == 0 {
		return nil, nil
	}
	var (
		q    string
		args []any
	)
	args = append(args, role)
	placeholders := make([]string, len(difficulties))
	for i, d := range difficulties {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, d)
	}
	in := strings.Join(placeholders, ",")
	q = `SELECT ` + taskCols("t") + ` FROM tasks t
JOIN features f ON f.feature_id = t.feature_id
JOIN epics e ON e.epic_id = f.epic_id
JOIN projects p ON p.project_id = e.project_id
WHERE t.status = 'created' AND t.locked_by IS NULL AND p.deleted_at IS NULL
  AND t.target_role = $1 AND t.difficulty IN (` + in + `)`
	if projectID != "" {
		q += `
  AND e.project_id = $` + fmt.Sprintf("%d", len(difficulties)+2)
		args = append(args, projectID)
	}
	q += `
ORDER BY t.created_at ASC, t.task_id ASC LIMIT 1`
	row := s.Pool.QueryRow(ctx, q, args...)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

func (s *Store) LockTask(ctx context.Context, taskID int64, agentID string) error {
	if agentID == "" {
		return fmt.Errorf("agent_id required: %w", store.ErrInvalid)
	}
	now := time.Now().UTC().Unix()
	res, err := s.Pool.Exec(ctx, `UPDATE tasks SET locked_by=$1, locked_at=$2, updated_at=$3 WHERE task_id=$4 AND locked_by IS NULL AND status IN ('created','dev_done')`,
		agentID, now, now, taskID)
	if err != nil {
		return err
	}
	if res.RowsAffected() > 0 {
		return nil
	}
	t, err := s.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if t.LockedBy != nil {
		if *t.LockedBy == agentID {
			return nil
		}
		return fmt.Errorf("task %d locked by %s: %w", taskID, *t.LockedBy, store.ErrConflict)
	}
	return fmt.Errorf("task %d not lockable in status %s: %w", taskID, t.Status, store.ErrConflict)
}

func (s *Store) ClearLock(ctx context.Context, taskID int64) error {
	now := time.Now().UTC().Unix()
	_, err := s.Pool.Exec(ctx, `UPDATE tasks SET locked_by=NULL, locked_at=NULL, updated_at=$1 WHERE task_id=$2`, now, taskID)
	return err
}

func (s *Store) Transition(ctx context.Context, p store.TransitionParams) (models.Task, error) {
	now := time.Now().UTC().Unix()
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return models.Task{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q := `UPDATE tasks SET status=$1, updated_at=$2`
	if p.ClearLock {
		q += `, locked_by=NULL, locked_at=NULL`
	}
	q += ` WHERE task_id=$3 AND status=$4`
	args := []any{p.NewStatus, now, p.TaskID, p.OldStatus}
	if p.RequireLockedBy != "" {
		q += ` AND locked_by=$5`
		args = append(args, p.RequireLockedBy)
	}
	res, err := tx.Exec(ctx, q, args...)
	if err != nil {
		return models.Task{}, err
	}
	if res.RowsAffected() == 0 {
		var status string
		var lockedBy *string
		err := tx.QueryRow(ctx, `SELECT status, locked_by FROM tasks WHERE task_id=$1`, p.TaskID).Scan(&status, &lockedBy)
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Task{}, fmt.Errorf("task %d: %w", p.TaskID, store.ErrNotFound)
		}
		if err != nil {
			return models.Task{}, err
		}
		if status != p.OldStatus {
			return models.Task{}, fmt.Errorf("task %d is %s, not %s: %w", p.TaskID, status, p.OldStatus, store.ErrConflict)
		}
		return models.Task{}, fmt.Errorf("task %d not locked by %s: %w", p.TaskID, p.RequireLockedBy, store.ErrConflict)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO changelog(task_id, old_status, new_status, changed_by, notes, changed_at) VALUES($1, $2, $3, $4, $5, $6)`,
		p.TaskID, p.OldStatus, p.NewStatus, p.ChangedBy, p.Notes, now); err != nil {
		return models.Task{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Task{}, err
	}
	return s.GetTask(ctx, p.TaskID)
}

func (s *Store) TasksChangedSince(ctx context.Context, projectID string, since time.Time) ([]models.Task, error) {
	if projectID != "" {
		q := `SELECT ` + taskCols("t") + ` FROM tasks t
JOIN features f ON f.feature_id = t.feature_id
JOIN epics e ON e.epic_id = f.epic_id
WHERE e.project_id = $1 AND t.updated_at > $2
ORDER BY t.updated_at ASC, t.task_id ASC`
		return s.queryTasks(ctx, q, projectID, since.UTC().Unix())
	}
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE updated_at > $1 ORDER BY updated_at ASC, task_id ASC`
	return s.queryTasks(ctx, q, since.UTC().Unix())
}

func (s *Store) StaleLocks(ctx context.Context, cutoff time.Time) ([]models.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE locked_at IS NOT NULL AND locked_at < $1 ORDER BY locked_at ASC`
	return s.queryTasks(ctx, q, cutoff.UTC().Unix())
}

func (s *Store) CountTasksByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := s.Pool.Query(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

func (s *Store) ListChangelog(ctx context.Context, taskID int64) ([]models.ChangelogEntry, error) {
	rows, err := s.Pool.Query(ctx, `SELECT entry_id, task_id, old_status, new_status, changed_by, notes, changed_at FROM changelog WHERE task_id = $1 ORDER BY entry_id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ChangelogEntry
	for rows.Next() {
		var e models.ChangelogEntry
		var changedAt int64
		if err := rows.Scan(&e.EntryID, &e.TaskID, &e.OldStatus, &e.NewStatus, &e.ChangedBy, &e.Notes, &changedAt); err != nil {
			return nil, err
		}
		e.ChangedAt = time.Unix(changedAt, 0).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) CreateComment(ctx context.Context, taskID int64, authorID, body string) (models.TaskComment, error) {
	if body == "" {
		return models.TaskComment{}, fmt.Errorf("comment body required: %w", store.ErrInvalid)
	}
	if _, err := s.GetTask(ctx, taskID); err != nil {
		return models.TaskComment{}, err
	}
	now := time.Now().UTC().Unix()
	var id int64
	err := s.Pool.QueryRow(ctx, `INSERT INTO task_comments(task_id, author_id, body, created_at) VALUES($1, $2, $3, $4) RETURNING comment_id`,
		taskID, authorID, body, now).Scan(&id)
	if err != nil {
		return models.TaskComment{}, err
	}
	return models.TaskComment{CommentID: id, TaskID: taskID, AuthorID: authorID, Body: body, CreatedAt: time.Unix(now, 0).UTC()}, nil
}

func (s *Store) ListComments(ctx context.Context, taskID int64) ([]models.TaskComment, error) {
	rows, err := s.Pool.Query(ctx, `SELECT comment_id, task_id, author_id, body, created_at FROM task_comments WHERE task_id = $1 ORDER BY comment_id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.TaskComment
	for rows.Next() {
		var c models.TaskComment
		var createdAt int64
		if err := rows.Scan(&c.CommentID, &c.TaskID, &c.AuthorID, &c.Body, &createdAt); err != nil {
			return nil, err
		}
		c.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) CreateDocument(ctx context.Context, p store.DocumentParams) (models.Document, error) {
	if p.Title == "" {
		return models.Document{}, fmt.Errorf("document title required: %w", store.ErrInvalid)
	}
	if _, err := s.GetProject(ctx, p.ProjectID); err != nil {
		return models.Document{}, err
	}
	id := uuid.NewString()
	now := time.Now().UTC().Unix()
	var expires *int64
	if p.ExpiresAt != nil {
		e := p.ExpiresAt.UTC().Unix()
		expires = &e
	}
	_, err := s.Pool.Exec(ctx, `
INSERT INTO documents(doc_id, project_id, doc_type, author_id, title, content, created_at, expires_at)
VALUES($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, p.ProjectID, p.DocType, p.AuthorID, p.Title, p.Content, now, expires)
	if err != nil {
		return models.Document{}, err
	}
	return s.GetDocument(ctx, id)
}

func (s *Store) GetDocument(ctx context.Context, docID string) (models.Document, error) {
	var d models.Document
	var createdAt int64
	var expiresAt *int64
	err := s.Pool.QueryRow(ctx, `SELECT doc_id, project_id, doc_type, author_id, title, content, created_at, expires_at FROM documents WHERE doc_id = $1`, docID).
		Scan(&d.DocID, &d.ProjectID, &d.DocType, &d.AuthorID, &d.Title, &d.Content, &createdAt, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Document{}, fmt.Errorf("document %s: %w", docID, store.ErrNotFound)
		}
		return models.Document{}, err
	}
	d.CreatedAt = time.Unix(createdAt, 0).UTC()
	if expiresAt != nil {
		t := time.Unix(*expiresAt, 0).UTC()
		d.ExpiresAt = &t
	}
	return d, nil
}

func (s *Store) ListDocuments(ctx context.Context, projectID string) ([]models.Document, error) {
	rows, err := s.Pool.Query(ctx, `SELECT doc_id, project_id, doc_type, author_id, title, content, created_at, expires_at FROM documents WHERE project_id = $1 ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Document
	for rows.Next() {
		var d models.Document
		var createdAt int64
		var expiresAt *int64
		if err := rows.Scan(&d.DocID, &d.ProjectID, &d.DocType, &d.AuthorID, &d.Title, &d.Content, &createdAt, &expiresAt); err != nil {
			return nil, err
		}
		d.CreatedAt = time.Unix(createdAt, 0).UTC()
		if expiresAt != nil {
			t := time.Unix(*expiresAt, 0).UTC()
			d.ExpiresAt = &t
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) AddMention(ctx context.Context, mentionedAgentID, sourceType, sourceID, createdBy string) (int64, bool, error) {
	now := time.Now().UTC().Unix()
	var id int64
	err := s.Pool.QueryRow(ctx, `
INSERT INTO mentions(mentioned_agent_id, source_type, source_id, created_by, is_read, created_at)
VALUES($1, $2, $3, $4, FALSE, $5)
ON CONFLICT (mentioned_agent_id, source_type, source_id) DO NOTHING
RETURNING mention_id`,
		mentionedAgentID, sourceType, sourceID, createdBy, now).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return id, true, nil
}

func (s *Store) ListMentions(ctx context.Context, agentID, role string, includeRead bool, limit int) ([]models.Mention, error) {
	if limit <= 0 {
		limit = models.DefaultMentionListLimit
	}
	var (
		q    string
		args []any
	)
	switch {
	case agentID != "":
		q = `SELECT mention_id, mentioned_agent_id, source_type, source_id, created_by, is_read, created_at FROM mentions WHERE mentioned_agent_id = $1`
		args = append(args, agentID)
		if !includeRead {
			q += ` AND is_read = FALSE`
		}
		q += ` ORDER BY created_at DESC, mention_id DESC LIMIT $2`
	case role != "":
		q = `SELECT m.mention_id, m.mentioned_agent_id, m.source_type, m.source_id, m.created_by, m.is_read, m.created_at
FROM mentions m JOIN agents a ON a.agent_id = m.mentioned_agent_id WHERE a.role = $1`
		args = append(args, role)
		if !includeRead {
			q += ` AND m.is_read = FALSE`
		}
		q += ` ORDER BY m.created_at DESC, m.mention_id DESC LIMIT $2`
	default:
		return nil, fmt.Errorf("agent_id or role required: %w", store.ErrInvalid)
	}
	args = append(args, limit)

	rows, err := s.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMentions(rows)
}

func scanMentions(rows pgx.Rows) ([]models.Mention, error) {
	var out []models.Mention
	for rows.Next() {
		var m models.Mention
		var createdAt int64
		if err := rows.Scan(&m.MentionID, &m.MentionedAgentID, &m.SourceType, &m.SourceID, &m.CreatedBy, &m.IsRead, &createdAt); err != nil {
			return nil, err
		}
		m.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) GetMention(ctx context.Context, mentionID int64) (models.Mention, error) {
	var m models.Mention
	var createdAt int64
	err := s.Pool.QueryRow(ctx, `SELECT mention_id, mentioned_agent_id, source_type, source_id, created_by, is_read, created_at FROM mentions WHERE mention_id = $1`, mentionID).
		Scan(&m.MentionID, &m.MentionedAgentID, &m.SourceType, &m.SourceID, &m.CreatedBy, &m.IsRead, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Mention{}, fmt.Errorf("mention %d: %w", mentionID, store.ErrNotFound)
		}
		return models.Mention{}, err
	}
	m.CreatedAt = time.Unix(createdAt, 0).UTC()
	return m, nil
}

func (s *Store) MarkMentionRead(ctx context.Context, mentionID int64, agentID string) error {
	m, err := s.GetMention(ctx, mentionID)
	if err != nil {
		return err
	}
	if m.MentionedAgentID != agentID {
		return fmt.Errorf("mention %d belongs to %s: %w", mentionID, m.MentionedAgentID, store.ErrForbidden)
	}
	_, err = s.Pool.Exec(ctx, `UPDATE mentions SET is_read = TRUE WHERE mention_id = $1`, mentionID)
	return err
}

func (s *Store) MentionsSince(ctx context.Context, agentID string, since time.Time) ([]models.Mention, error) {
	rows, err := s.Pool.Query(ctx, `
SELECT mention_id, mentioned_agent_id, source_type, source_id, created_by, is_read, created_at
FROM mentions WHERE mentioned_agent_id = $1 AND created_at > $2 ORDER BY created_at ASC, mention_id ASC`,
		agentID, since.UTC().Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMentions(rows)
}

func (s *Store) SeedDemo(ctx context.Context) error {
	projects, err := s.ListProjects(ctx)
	if err != nil {
		return err
	}
	if len(projects) > 0 {
		return nil
	}
	project, err := s.CreateProject(ctx, "demo")
	if err != nil {
		return err
	}
	epic, err := s.CreateEpic(ctx, project.ProjectID, "Getting started")
	if err != nil {
		return err
	}
	feature, err := s.CreateFeature(ctx, epic.EpicID, "Onboarding")
	if err != nil {
		return err
	}
	for _, a := range []store.AgentParams{
		{AgentID: "alice_backend", ProjectID: project.ProjectID, Role: models.RoleBackendDev, SkillLevel: models.LevelSenior},
		{AgentID: "bob_qa", ProjectID: project.ProjectID, Role: models.RoleQA, SkillLevel: models.LevelSenior},
	} {
		if _, err := s.RegisterAgent(ctx, a); err != nil {
			return err
		}
	}
	_, err = s.CreateTask(ctx, store.TaskParams{
		FeatureID:  feature.FeatureID,
		Title:      "Welcome to TaskHive",
		TargetRole: models.RoleBackendDev,
		Difficulty: models.LevelJunior,
		Complexity: models.ComplexityMinor,
		CreatedBy:  "system",
	})
	return err
}
