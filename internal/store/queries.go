package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/taskhive/taskhive/pkg/models"
)

func (s *sqliteStore) CreateProject(ctx context.Context, name string) (models.Project, error) {
	if name == "" {
		return models.Project{}, fmt.Errorf("project name required: %w", ErrInvalid)
	}
	id := uuid.NewString()
	now := time.Now().UTC().Unix()
	_, err := s.DB.ExecContext(ctx, `INSERT INTO projects(project_id, name, created_at) VALUES(?, ?, ?)`, id, name, now)
	if err != nil {
		return models.Project{}, err
	}
	return models.Project{ProjectID: id, Name: name, CreatedAt: time.Unix(now, 0).UTC()}, nil
}

func (s *sqliteStore) GetProject(ctx context.Context, projectID string) (models.Project, error) {
	var p models.Project
	var createdAt int64
	err := s.DB.QueryRowContext(ctx, `SELECT project_id, name, created_at FROM projects WHERE project_id = ? AND deleted_at IS NULL`, projectID).
		Scan(&p.ProjectID, &p.Name, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Project{}, fmt.Errorf("project %s: %w", projectID, ErrNotFound)
		}
		return models.Project{}, err
	}
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	return p, nil
}

func (s *sqliteStore) ListProjects(ctx context.Context) ([]models.Project, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT project_id, name, created_at FROM projects WHERE deleted_at IS NULL ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

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

// ArchiveProject soft-deletes a project: it vanishes from reads and routing
// while its rows stay recoverable until a hard DeleteProject.
func (s *sqliteStore) ArchiveProject(ctx context.Context, projectID string) error {
	now := time.Now().UTC().Unix()
	res, err := s.DB.ExecContext(ctx, `UPDATE projects SET deleted_at = ? WHERE project_id = ? AND deleted_at IS NULL`, now, projectID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("project %s: %w", projectID, ErrNotFound)
	}
	return nil
}

// DeleteProject removes the project and everything under it. Epics, features,
// tasks, changelog, comments, and documents go via FK cascade; mentions and
// agents reference their sources by plain id so they are deleted explicitly
// in the same transaction. Works on archived projects too (purge).
func (s *sqliteStore) DeleteProject(ctx context.Context, projectID string) error {
	var exists int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects WHERE project_id = ?`, projectID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("project %s: %w", projectID, ErrNotFound)
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
DELETE FROM mentions WHERE
  (source_type = 'task' AND source_id IN (
    SELECT CAST(t.task_id AS TEXT) FROM tasks t
    JOIN features f ON f.feature_id = t.feature_id
    JOIN epics e ON e.epic_id = f.epic_id
    WHERE e.project_id = ?))
  OR (source_type = 'document' AND source_id IN (
    SELECT doc_id FROM documents WHERE project_id = ?))`, projectID, projectID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM agents WHERE project_id = ?`, projectID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE project_id = ?`, projectID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) CreateEpic(ctx context.Context, projectID, name string) (models.Epic, error) {
	if name == "" {
		return models.Epic{}, fmt.Errorf("epic name required: %w", ErrInvalid)
	}
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return models.Epic{}, err
	}
	id := uuid.NewString()
	now := time.Now().UTC().Unix()
	_, err := s.DB.ExecContext(ctx, `INSERT INTO epics(epic_id, project_id, name, created_at) VALUES(?, ?, ?, ?)`, id, projectID, name, now)
	if err != nil {
		return models.Epic{}, err
	}
	return models.Epic{EpicID: id, ProjectID: projectID, Name: name, CreatedAt: time.Unix(now, 0).UTC()}, nil
}

func (s *sqliteStore) ListEpics(ctx context.Context, projectID string) ([]models.Epic, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT epic_id, project_id, name, created_at FROM epics WHERE project_id = ? ORDER BY created_at ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

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

func (s *sqliteStore) CreateFeature(ctx context.Context, epicID, name string) (models.Feature, error) {
	if name == "" {
		return models.Feature{}, fmt.Errorf("feature name required: %w", ErrInvalid)
	}
	var exists int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM epics WHERE epic_id = ?`, epicID).Scan(&exists)
	if err != nil {
		return models.Feature{}, err
	}
	if exists == 0 {
		return models.Feature{}, fmt.Errorf("epic %s: %w", epicID, ErrNotFound)
	}
	id := uuid.NewString()
	now := time.Now().UTC().Unix()
	_, err = s.DB.ExecContext(ctx, `INSERT INTO features(feature_id, epic_id, name, created_at) VALUES(?, ?, ?, ?)`, id, epicID, name, now)
	if err != nil {
		return models.Feature{}, err
	}
	return models.Feature{FeatureID: id, EpicID: epicID, Name: name, CreatedAt: time.Unix(now, 0).UTC()}, nil
}

func (s *sqliteStore) ListFeatures(ctx context.Context, epicID string) ([]models.Feature, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT feature_id, epic_id, name, created_at FROM features WHERE epic_id = ? ORDER BY created_at ASC`, epicID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

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

// RegisterAgent upserts the agent row: re-registering refreshes role, skill
// level, project, and connection type, and resets the agent to idle.
func (s *sqliteStore) RegisterAgent(ctx context.Context, p AgentParams) (models.Agent, error) {
	if p.AgentID == "" {
		return models.Agent{}, fmt.Errorf("agent_id required: %w", ErrInvalid)
	}
	if !models.ValidRole(p.Role) {
		return models.Agent{}, fmt.Errorf("unknown role %q: %w", p.Role, ErrInvalid)
	}
	if !models.ValidLevel(p.SkillLevel) {
		return models.Agent{}, fmt.Errorf("unknown skill level %q: %w", p.SkillLevel, ErrInvalid)
	}
	now := time.Now().UTC().Unix()
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO agents(agent_id, project_id, role, skill_level, status, current_task_id, connection_type, last_activity, created_at)
VALUES(?, ?, ?, ?, 'idle', NULL, ?, ?, ?)
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

func (s *sqliteStore) GetAgent(ctx context.Context, agentID string) (models.Agent, error) {
	var a models.Agent
	var currentTask sql.NullInt64
	var lastActivity, createdAt int64
	err := s.stmtGetAgent.QueryRowContext(ctx, agentID).
		Scan(&a.AgentID, &a.ProjectID, &a.Role, &a.SkillLevel, &a.Status, &currentTask, &a.ConnectionType, &lastActivity, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Agent{}, fmt.Errorf("agent %s: %w", agentID, ErrNotFound)
		}
		return models.Agent{}, err
	}
	if currentTask.Valid {
		a.CurrentTaskID = &currentTask.Int64
	}
	a.LastActivity = time.Unix(lastActivity, 0).UTC()
	a.CreatedAt = time.Unix(createdAt, 0).UTC()
	return a, nil
}

func (s *sqliteStore) ListAgents(ctx context.Context, projectID string) ([]models.Agent, error) {
	q := `SELECT agent_id, project_id, role, skill_level, status, current_task_id, connection_type, last_activity, created_at FROM agents`
	var args []any
	if projectID != "" {
		q += ` WHERE project_id = ?`
		args = append(args, projectID)
	}
	q += ` ORDER BY created_at ASC`
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.Agent
	for rows.Next() {
		var a models.Agent
		var currentTask sql.NullInt64
		var lastActivity, createdAt int64
		if err := rows.Scan(&a.AgentID, &a.ProjectID, &a.Role, &a.SkillLevel, &a.Status, &currentTask, &a.ConnectionType, &lastActivity, &createdAt); err != nil {
			return nil, err
		}
		if currentTask.Valid {
			a.CurrentTaskID = &currentTask.Int64
		}
		a.LastActivity = time.Unix(lastActivity, 0).UTC()
		a.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// SetAgentActivity bumps last_activity and sets status/current task. Pass nil
// currentTaskID to clear it. Unknown agents are a no-op; activity tracking
// never fails a request.
func (s *sqliteStore) SetAgentActivity(ctx context.Context, agentID, status string, currentTaskID *int64) error {
	now := time.Now().UTC().Unix()
	var taskVal any
	if currentTaskID != nil {
		taskVal = *currentTaskID
	}
	_, err := s.stmtAgentActivity.ExecContext(ctx, status, taskVal, now, agentID)
	return err
}

// CreateTask inserts the task with status created and writes the initial
// changelog row in the same transaction.
func (s *sqliteStore) CreateTask(ctx context.Context, p TaskParams) (models.Task, error) {
	if p.Title == "" {
		return models.Task{}, fmt.Errorf("title required: %w", ErrInvalid)
	}
	if !models.ValidRole(p.TargetRole) {
		return models.Task{}, fmt.Errorf("unknown target role %q: %w", p.TargetRole, ErrInvalid)
	}
	if !models.ValidLevel(p.Difficulty) {
		return models.Task{}, fmt.Errorf("unknown difficulty %q: %w", p.Difficulty, ErrInvalid)
	}
	if !models.ValidComplexity(p.Complexity) {
		return models.Task{}, fmt.Errorf("unknown complexity %q: %w", p.Complexity, ErrInvalid)
	}
	var exists int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM features WHERE feature_id = ?`, p.FeatureID).Scan(&exists); err != nil {
		return models.Task{}, err
	}
	if exists == 0 {
		return models.Task{}, fmt.Errorf("feature %s: %w", p.FeatureID, ErrNotFound)
	}

	now := time.Now().UTC().Unix()
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return models.Task{}, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
INSERT INTO tasks(feature_id, title, description, target_role, difficulty, complexity, branch_name, status, notes, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.FeatureID, p.Title, p.Description, p.TargetRole, p.Difficulty, p.Complexity, p.BranchName, models.StatusCreated, p.Notes, now, now)
	if err != nil {
		return models.Task{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Task{}, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO changelog(task_id, old_status, new_status, changed_by, notes, changed_at) VALUES(?, '', ?, ?, '', ?)`,
		id, models.StatusCreated, p.CreatedBy, now); err != nil {
		return models.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.Task{}, err
	}
	return s.GetTask(ctx, id)
}

// scanTask scans the current row (columns must match taskColumns order).
func scanTask(row interface{ Scan(dest ...any) error }) (*models.Task, error) {
	var (
		t         models.Task
		lockedBy  sql.NullString
		lockedAt  sql.NullInt64
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(&t.TaskID, &t.FeatureID, &t.Title, &t.Description, &t.TargetRole, &t.Difficulty, &t.Complexity,
		&t.BranchName, &t.Status, &lockedBy, &lockedAt, &t.Notes, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if lockedBy.Valid {
		t.LockedBy = &lockedBy.String
	}
	if lockedAt.Valid {
		at := time.Unix(lockedAt.Int64, 0).UTC()
		t.LockedAt = &at
	}
	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	t.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &t, nil
}

func (s *sqliteStore) GetTask(ctx context.Context, taskID int64) (models.Task, error) {
	row := s.stmtGetTask.QueryRowContext(ctx, taskID)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Task{}, fmt.Errorf("task %d: %w", taskID, ErrNotFound)
		}
		return models.Task{}, err
	}
	return *t, nil
}

func (s *sqliteStore) ListTasks(ctx context.Context, projectID string, limit int) ([]models.Task, error) {
	if limit <= 0 {
		limit = models.DefaultTaskListLimit
	}
	q := `SELECT ` + taskCols("t") + ` FROM tasks t`
	var args []any
	if projectID != "" {
		q += `
JOIN features f ON f.feature_id = t.feature_id
JOIN epics e ON e.epic_id = f.epic_id
WHERE e.project_id = ?`
		args = append(args, projectID)
	}
	q += ` ORDER BY t.created_at DESC, t.task_id DESC LIMIT ?`
	args = append(args, limit)
	return s.queryTasks(ctx, q, args...)
}

func (s *sqliteStore) ListFeatureTasks(ctx context.Context, featureID string) ([]models.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE feature_id = ? ORDER BY created_at ASC, task_id ASC`
	return s.queryTasks(ctx, q, featureID)
}

func (s *sqliteStore) queryTasks(ctx context.Context, q string, args ...any) ([]models.Task, error) {
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
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

func taskCols(alias string) string {
	cols := strings.Split(taskColumns, ", ")
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

// DeleteTask removes the task, its changelog and comments (FK cascade), and
// its mentions.
func (s *sqliteStore) DeleteTask(ctx context.Context, taskID int64) error {
	if _, err := s.GetTask(ctx, taskID); err != nil {
		return err
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM mentions WHERE source_type = 'task' AND source_id = ?`, fmt.Sprintf("%d", taskID)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE task_id = ?`, taskID); err != nil {
		return err
	}
	return tx.Commit()
}

// NextTask returns the oldest unlocked created task matching role and one of
// the given difficulties, scoped to projectID when non-empty. Tasks under
// archived projects are never routed. Returns nil (not an error) when
// nothing qualifies. Read-only; claiming is LockTask.
func (s *sqliteStore) NextTask(ctx context.Context, projectID, role string, difficulties []string) (*models.Task, error) {
	if len(difficulties) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(difficulties)), ",")
	q := `SELECT ` + taskCols("t") + ` FROM tasks t
JOIN features f ON f.feature_id = t.feature_id
JOIN epics e ON e.epic_id = f.epic_id
JOIN projects p ON p.project_id = e.project_id
WHERE t.status = 'created' AND t.locked_by IS NULL AND p.deleted_at IS NULL
  AND t.target_role = ? AND t.difficulty IN (` + placeholders + `)`
	args := []any{role}
	for _, d := range difficulties {
		args = append(args, d)
	}
	if projectID != "" {
		q += ` AND e.project_id = ?`
		args = append(args, projectID)
	}
	q += `
ORDER BY t.created_at ASC, t.task_id ASC LIMIT 1`

	row := s.DB.QueryRowContext(ctx, q, args...)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

// LockTask acquires the task lock for agentID via a conditional UPDATE; the
// RowsAffected outcome decides the result. Succeeds idempotently when the
// caller already holds the lock; ErrConflict when another agent does or the
// task is not in a lockable status.
func (s *sqliteStore) LockTask(ctx context.Context, taskID int64, agentID string) error {
	if agentID == "" {
		return fmt.Errorf("agent_id required: %w", ErrInvalid)
	}
	now := time.Now().UTC().Unix()
	res, err := s.stmtLockTask.ExecContext(ctx, agentID, now, now, taskID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
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
		return fmt.Errorf("task %d locked by %s: %w", taskID, *t.LockedBy, ErrConflict)
	}
	return fmt.Errorf("task %d not lockable in status %s: %w", taskID, t.Status, ErrConflict)
}

// ClearLock unconditionally releases the task lock. Used by the stale-lock
// reclaimer; not exposed to API clients.
func (s *sqliteStore) ClearLock(ctx context.Context, taskID int64) error {
	now := time.Now().UTC().Unix()
	_, err := s.DB.ExecContext(ctx, `UPDATE tasks SET locked_by=NULL, locked_at=NULL, updated_at=? WHERE task_id=?`, now, taskID)
	return err
}

// Transition applies one status transition and its changelog row atomically.
// The UPDATE is conditional on the current status (and lock holder when
// required); if it matches nothing the transaction is rolled back and the
// failure is classified as ErrNotFound or ErrConflict.
func (s *sqliteStore) Transition(ctx context.Context, p TransitionParams) (models.Task, error) {
	now := time.Now().UTC().Unix()
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return models.Task{}, err
	}
	defer func() { _ = tx.Rollback() }()

	q := `UPDATE tasks SET status=?, updated_at=?`
	if p.ClearLock {
		q += `, locked_by=NULL, locked_at=NULL`
	}
	q += ` WHERE task_id=? AND status=?`
	args := []any{p.NewStatus, now, p.TaskID, p.OldStatus}
	if p.RequireLockedBy != "" {
		q += ` AND locked_by=?`
		args = append(args, p.RequireLockedBy)
	}
	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return models.Task{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var status string
		var lockedBy sql.NullString
		err := tx.QueryRowContext(ctx, `SELECT status, locked_by FROM tasks WHERE task_id=?`, p.TaskID).Scan(&status, &lockedBy)
		if errors.Is(err, sql.ErrNoRows) {
			return models.Task{}, fmt.Errorf("task %d: %w", p.TaskID, ErrNotFound)
		}
		if err != nil {
			return models.Task{}, err
		}
		if status != p.OldStatus {
			return models.Task{}, fmt.Errorf("task %d is %s, not %s: %w", p.TaskID, status, p.OldStatus, ErrConflict)
		}
		return models.Task{}, fmt.Errorf("task %d not locked by %s: %w", p.TaskID, p.RequireLockedBy, ErrConflict)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO changelog(task_id, old_status, new_status, changed_by, notes, changed_at) VALUES(?, ?, ?, ?, ?, ?)`,
		p.TaskID, p.OldStatus, p.NewStatus, p.ChangedBy, p.Notes, now); err != nil {
		return models.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.Task{}, err
	}
	return s.GetTask(ctx, p.TaskID)
}

// TasksChangedSince returns tasks with updated_at strictly after since,
// scoped to projectID when non-empty, oldest change first.
func (s *sqliteStore) TasksChangedSince(ctx context.Context, projectID string, since time.Time) ([]models.Task, error) {
	q := `SELECT ` + taskCols("t") + ` FROM tasks t`
	var args []any
	if projectID != "" {
		q += `
JOIN features f ON f.feature_id = t.feature_id
JOIN epics e ON e.epic_id = f.epic_id
WHERE e.project_id = ? AND t.updated_at > ?`
		args = append(args, projectID, since.UTC().Unix())
	} else {
		q += ` WHERE t.updated_at > ?`
		args = append(args, since.UTC().Unix())
	}
	q += ` ORDER BY t.updated_at ASC, t.task_id ASC`
	return s.queryTasks(ctx, q, args...)
}

// StaleLocks returns locked tasks whose locked_at is before cutoff.
func (s *sqliteStore) StaleLocks(ctx context.Context, cutoff time.Time) ([]models.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE locked_at IS NOT NULL AND locked_at < ? ORDER BY locked_at ASC`
	return s.queryTasks(ctx, q, cutoff.UTC().Unix())
}

// CountTasksByStatus returns task counts keyed by status, for the tasks gauge.
func (s *sqliteStore) CountTasksByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
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

func (s *sqliteStore) ListChangelog(ctx context.Context, taskID int64) ([]models.ChangelogEntry, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT entry_id, task_id, old_status, new_status, changed_by, notes, changed_at FROM changelog WHERE task_id = ? ORDER BY entry_id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
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

func (s *sqliteStore) CreateComment(ctx context.Context, taskID int64, authorID, body string) (models.TaskComment, error) {
	if body == "" {
		return models.TaskComment{}, fmt.Errorf("comment body required: %w", ErrInvalid)
	}
	if _, err := s.GetTask(ctx, taskID); err != nil {
		return models.TaskComment{}, err
	}
	now := time.Now().UTC().Unix()
	res, err := s.DB.ExecContext(ctx, `INSERT INTO task_comments(task_id, author_id, body, created_at) VALUES(?, ?, ?, ?)`, taskID, authorID, body, now)
	if err != nil {
		return models.TaskComment{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.TaskComment{}, err
	}
	return models.TaskComment{CommentID: id, TaskID: taskID, AuthorID: authorID, Body: body, CreatedAt: time.Unix(now, 0).UTC()}, nil
}

func (s *sqliteStore) ListComments(ctx context.Context, taskID int64) ([]models.TaskComment, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT comment_id, task_id, author_id, body, created_at FROM task_comments WHERE task_id = ? ORDER BY comment_id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
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

func (s *sqliteStore) CreateDocument(ctx context.Context, p DocumentParams) (models.Document, error) {
	if p.Title == "" {
		return models.Document{}, fmt.Errorf("document title required: %w", ErrInvalid)
	}
	if _, err := s.GetProject(ctx, p.ProjectID); err != nil {
		return models.Document{}, err
	}
	id := uuid.NewString()
	now := time.Now().UTC().Unix()
	var expires any
	if p.ExpiresAt != nil {
		expires = p.ExpiresAt.UTC().Unix()
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO documents(doc_id, project_id, doc_type, author_id, title, content, created_at, expires_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		id, p.ProjectID, p.DocType, p.AuthorID, p.Title, p.Content, now, expires)
	if err != nil {
		return models.Document{}, err
	}
	return s.GetDocument(ctx, id)
}

func (s *sqliteStore) GetDocument(ctx context.Context, docID string) (models.Document, error) {
	var d models.Document
	var createdAt int64
	var expiresAt sql.NullInt64
	err := s.DB.QueryRowContext(ctx, `SELECT doc_id, project_id, doc_type, author_id, title, content, created_at, expires_at FROM documents WHERE doc_id = ?`, docID).
		Scan(&d.DocID, &d.ProjectID, &d.DocType, &d.AuthorID, &d.Title, &d.Content, &createdAt, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Document{}, fmt.Errorf("document %s: %w", docID, ErrNotFound)
		}
		return models.Document{}, err
	}
	d.CreatedAt = time.Unix(createdAt, 0).UTC()
	if expiresAt.Valid {
		t := time.Unix(expiresAt.Int64, 0).UTC()
		d.ExpiresAt = &t
	}
	return d, nil
}

func (s *sqliteStore) ListDocuments(ctx context.Context, projectID string) ([]models.Document, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT doc_id, project_id, doc_type, author_id, title, content, created_at, expires_at FROM documents WHERE project_id = ? ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []models.Document
	for rows.Next() {
		var d models.Document
		var createdAt int64
		var expiresAt sql.NullInt64
		if err := rows.Scan(&d.DocID, &d.ProjectID, &d.DocType, &d.AuthorID, &d.Title, &d.Content, &createdAt, &expiresAt); err != nil {
			return nil, err
		}
		d.CreatedAt = time.Unix(createdAt, 0).UTC()
		if expiresAt.Valid {
			t := time.Unix(expiresAt.Int64, 0).UTC()
			d.ExpiresAt = &t
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// AddMention records a mention; the unique index on (agent, source type,
// source id) makes re-scans a no-op. Returns the row id and true when a new
// row was written.
func (s *sqliteStore) AddMention(ctx context.Context, mentionedAgentID, sourceType, sourceID, createdBy string) (int64, bool, error) {
	now := time.Now().UTC().Unix()
	res, err := s.DB.ExecContext(ctx, `
INSERT OR IGNORE INTO mentions(mentioned_agent_id, source_type, source_id, created_by, is_read, created_at)
VALUES(?, ?, ?, ?, 0, ?)`,
		mentionedAgentID, sourceType, sourceID, createdBy, now)
	if err != nil {
		return 0, false, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, false, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// ListMentions returns mentions for an agent (by id) or for all agents of a
// role, newest first. Unread only unless includeRead.
func (s *sqliteStore) ListMentions(ctx context.Context, agentID, role string, includeRead bool, limit int) ([]models.Mention, error) {
	if limit <= 0 {
		limit = models.DefaultMentionListLimit
	}
	var (
		q    string
		args []any
	)
	switch {
	case agentID != "":
		q = `SELECT mention_id, mentioned_agent_id, source_type, source_id, created_by, is_read, created_at FROM mentions WHERE mentioned_agent_id = ?`
		args = append(args, agentID)
	case role != "":
		q = `SELECT m.mention_id, m.mentioned_agent_id, m.source_type, m.source_id, m.created_by, m.is_read, m.created_at
FROM mentions m JOIN agents a ON a.agent_id = m.mentioned_agent_id WHERE a.role = ?`
		args = append(args, role)
	default:
		return nil, fmt.Errorf("agent_id or role required: %w", ErrInvalid)
	}
	if !includeRead {
		if agentID != "" {
			q += ` AND is_read = 0`
		} else {
			q += ` AND m.is_read = 0`
		}
	}
	if agentID != "" {
		q += ` ORDER BY created_at DESC, mention_id DESC LIMIT ?`
	} else {
		q += ` ORDER BY m.created_at DESC, m.mention_id DESC LIMIT ?`
	}
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanMentions(rows)
}

func scanMentions(rows *sql.Rows) ([]models.Mention, error) {
	var out []models.Mention
	for rows.Next() {
		var m models.Mention
		var isRead int
		var createdAt int64
		if err := rows.Scan(&m.MentionID, &m.MentionedAgentID, &m.SourceType, &m.SourceID, &m.CreatedBy, &isRead, &createdAt); err != nil {
			return nil, err
		}
		m.IsRead = isRead != 0
		m.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetMention(ctx context.Context, mentionID int64) (models.Mention, error) {
	var m models.Mention
	var isRead int
	var createdAt int64
	err := s.stmtGetMention.QueryRowContext(ctx, mentionID).
		Scan(&m.MentionID, &m.MentionedAgentID, &m.SourceType, &m.SourceID, &m.CreatedBy, &isRead, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Mention{}, fmt.Errorf("mention %d: %w", mentionID, ErrNotFound)
		}
		return models.Mention{}, err
	}
	m.IsRead = isRead != 0
	m.CreatedAt = time.Unix(createdAt, 0).UTC()
	return m, nil
}

// MarkMentionRead marks the mention read. Only the recipient may do so;
// marking an already-read mention again succeeds.
func (s *sqliteStore) MarkMentionRead(ctx context.Context, mentionID int64, agentID string) error {
	m, err := s.GetMention(ctx, mentionID)
	if err != nil {
		return err
	}
	if m.MentionedAgentID != agentID {
		return fmt.Errorf("mention %d belongs to %s: %w", mentionID, m.MentionedAgentID, ErrForbidden)
	}
	_, err = s.DB.ExecContext(ctx, `UPDATE mentions SET is_read = 1 WHERE mention_id = ?`, mentionID)
	return err
}

// MentionsSince returns the agent's mentions created strictly after since,
// read or unread, oldest first.
func (s *sqliteStore) MentionsSince(ctx context.Context, agentID string, since time.Time) ([]models.Mention, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT mention_id, mentioned_agent_id, source_type, source_id, created_by, is_read, created_at
FROM mentions WHERE mentioned_agent_id = ? AND created_at > ? ORDER BY created_at ASC, mention_id ASC`,
		agentID, since.UTC().Unix())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanMentions(rows)
}

// SeedDemo ensures there's at least one project with an epic, a feature, a
// few agents and a task so a fresh install isn't empty.
func (s *sqliteStore) SeedDemo(ctx context.Context) error {
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
	for _, a := range []AgentParams{
		{AgentID: "alice_backend", ProjectID: project.ProjectID, Role: models.RoleBackendDev, SkillLevel: models.LevelSenior},
		{AgentID: "bob_qa", ProjectID: project.ProjectID, Role: models.RoleQA, SkillLevel: models.LevelSenior},
	} {
		if _, err := s.RegisterAgent(ctx, a); err != nil {
			return err
		}
	}
	_, err = s.CreateTask(ctx, TaskParams{
		FeatureID:  feature.FeatureID,
		Title:      "Welcome to TaskHive",
		TargetRole: models.RoleBackendDev,
		Difficulty: models.LevelJunior,
		Complexity: models.ComplexityMinor,
		CreatedBy:  "system",
	})
	return err
}
