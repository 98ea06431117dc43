package store

import (
	"context"
	"time"

	"github.com/taskhive/taskhive/pkg/models"
)

// TaskParams are the inputs for creating a task.
type TaskParams struct {
	FeatureID   string
	Title       string
	Description string
	TargetRole  string
	Difficulty  string
	Complexity  string
	BranchName  string
	Notes       string
	CreatedBy   string
}

// AgentParams are the inputs for registering (upserting) an agent.
type AgentParams struct {
	AgentID        string
	ProjectID      string
	Role           string
	SkillLevel     string
	ConnectionType string
}

// DocumentParams are the inputs for creating a document.
type DocumentParams struct {
	ProjectID string
	DocType   string
	AuthorID  string
	Title     string
	Content   string
	ExpiresAt *time.Time
}

// TransitionParams describe one status transition. The store applies the
// status change and the changelog row in a single transaction; the UPDATE is
// conditional on the current status (and, when RequireLockedBy is set, on the
// caller holding the lock), so a lost race surfaces as ErrConflict with no
// partial write.
type TransitionParams struct {
	TaskID          int64
	OldStatus       string
	NewStatus       string
	ChangedBy       string
	Notes           string
	RequireLockedBy string // when non-empty the task must be locked by this agent
	ClearLock       bool   // release the lock in the same UPDATE
}

// Store is the persistence interface for projects, tasks, agents, documents,
// and mentions. Implementations: the SQLite store in this package and
// *postgres.Store in internal/store/postgres.
type Store interface {
	// Projects. ArchiveProject soft-deletes: the project disappears from
	// reads and routing but its rows survive until a hard DeleteProject,
	// which cascades and works on archived projects too.
	CreateProject(ctx context.Context, name string) (models.Project, error)
	GetProject(ctx context.Context, projectID string) (models.Project, error)
	ListProjects(ctx context.Context) ([]models.Project, error)
	ArchiveProject(ctx context.Context, projectID string) error
	DeleteProject(ctx context.Context, projectID string) error

	// Epics and features
	CreateEpic(ctx context.Context, projectID, name string) (models.Epic, error)
	ListEpics(ctx context.Context, projectID string) ([]models.Epic, error)
	CreateFeature(ctx context.Context, epicID, name string) (models.Feature, error)
	ListFeatures(ctx context.Context, epicID string) ([]models.Feature, error)

	// Agents
	RegisterAgent(ctx context.Context, p AgentParams) (models.Agent, error)
	GetAgent(ctx context.Context, agentID string) (models.Agent, error)
	ListAgents(ctx context.Context, projectID string) ([]models.Agent, error)
	SetAgentActivity(ctx context.Context, agentID, status string, currentTaskID *int64) error

	// Tasks
	CreateTask(ctx context.Context, p TaskParams) (models.Task, error)
	GetTask(ctx context.Context, taskID int64) (models.Task, error)
	ListTasks(ctx context.Context, projectID string, limit int) ([]models.Task, error)
	ListFeatureTasks(ctx context.Context, featureID string) ([]models.Task, error)
	DeleteTask(ctx context.Context, taskID int64) error
	NextTask(ctx context.Context, projectID, role string, difficulties []string) (*models.Task, error)
	LockTask(ctx context.Context, taskID int64, agentID string) error
	Transition(ctx context.Context, p TransitionParams) (models.Task, error)
	TasksChangedSince(ctx context.Context, projectID string, since time.Time) ([]models.Task, error)
	StaleLocks(ctx context.Context, cutoff time.Time) ([]models.Task, error)
	CountTasksByStatus(ctx context.Context) (map[string]int64, error)
	ClearLock(ctx context.Context, taskID int64) error

	// Changelog
	ListChangelog(ctx context.Context, taskID int64) ([]models.ChangelogEntry, error)

	// Comments
	CreateComment(ctx context.Context, taskID int64, authorID, body string) (models.TaskComment, error)
	ListComments(ctx context.Context, taskID int64) ([]models.TaskComment, error)

	// Documents
	CreateDocument(ctx context.Context, p DocumentParams) (models.Document, error)
	GetDocument(ctx context.Context, docID string) (models.Document, error)
	ListDocuments(ctx context.Context, projectID string) ([]models.Document, error)

	// Mentions
	AddMention(ctx context.Context, mentionedAgentID, sourceType, sourceID, createdBy string) (int64, bool, error)
	ListMentions(ctx context.Context, agentID, role string, includeRead bool, limit int) ([]models.Mention, error)
	GetMention(ctx context.Context, mentionID int64) (models.Mention, error)
	MarkMentionRead(ctx context.Context, mentionID int64, agentID string) error
	MentionsSince(ctx context.Context, agentID string, since time.Time) ([]models.Mention, error)

	// Lifecycle
	SeedDemo(ctx context.Context) error
	Close() error
}
