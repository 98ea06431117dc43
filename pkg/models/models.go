// Package models provides shared types for the TaskHive HTTP API and external tools.
// These types mirror the API JSON and are stable for use by pkg/client and other consumers.
package models

import "time"

// Project is the isolation boundary; it owns epics, documents, and agents.
type Project struct {
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Epic is a named grouping of features within a project.
type Epic struct {
	EpicID    string    `json:"epic_id"`
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Feature is a named grouping of tasks within an epic.
type Feature struct {
	FeatureID string    `json:"feature_id"`
	EpicID    string    `json:"epic_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Task is the unit of work routed to agents by role and difficulty.
type Task struct {
	TaskID      int64      `json:"task_id"`
	FeatureID   string     `json:"feature_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	TargetRole  string     `json:"target_role"`
	Difficulty  string     `json:"difficulty"`
	Complexity  string     `json:"complexity"`
	BranchName  string     `json:"branch_name,omitempty"`
	Status      string     `json:"status"`
	LockedBy    *string    `json:"locked_by,omitempty"`
	LockedAt    *time.Time `json:"locked_at,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	CreatedAt   time.Time  `json:"created_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at,omitempty"`
}

// Agent is an identity (human or automated) that performs work.
type Agent struct {
	AgentID        string    `json:"agent_id"`
	ProjectID      string    `json:"project_id,omitempty"`
	Role           string    `json:"role"`
	SkillLevel     string    `json:"skill_level"`
	Status         string    `json:"status,omitempty"`
	CurrentTaskID  *int64    `json:"current_task_id,omitempty"`
	ConnectionType string    `json:"connection_type,omitempty"`
	LastActivity   time.Time `json:"last_activity,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
}

// ChangelogEntry is one immutable audit row per accepted status transition.
type ChangelogEntry struct {
	EntryID   int64     `json:"entry_id"`
	TaskID    int64     `json:"task_id"`
	OldStatus string    `json:"old_status,omitempty"`
	NewStatus string    `json:"new_status"`
	ChangedBy string    `json:"changed_by"`
	Notes     string    `json:"notes,omitempty"`
	ChangedAt time.Time `json:"changed_at,omitempty"`
}

// TaskComment is a comment on a task; its body is scanned for @mentions.
type TaskComment struct {
	CommentID int64     `json:"comment_id"`
	TaskID    int64     `json:"task_id"`
	AuthorID  string    `json:"author_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Document is a free-text communication artifact; content is immutable after creation.
type Document struct {
	DocID     string     `json:"doc_id"`
	ProjectID string     `json:"project_id"`
	DocType   string     `json:"doc_type"`
	AuthorID  string     `json:"author_id"`
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"created_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Mention links an @agent_id token found in a document or task comment to that agent.
type Mention struct {
	MentionID        int64     `json:"mention_id"`
	MentionedAgentID string    `json:"mentioned_agent_id"`
	SourceType       string    `json:"source_type"`
	SourceID         string    `json:"source_id"`
	CreatedBy        string    `json:"created_by"`
	IsRead           bool      `json:"is_read"`
	CreatedAt        time.Time `json:"created_at,omitempty"`
}

// Delta is the /changes response: everything that changed since the cursor,
// plus the next cursor. Callers must treat Timestamp as opaque.
type Delta struct {
	Tasks     []Task    `json:"tasks"`
	Mentions  []Mention `json:"mentions"`
	Timestamp time.Time `json:"timestamp"`
}
