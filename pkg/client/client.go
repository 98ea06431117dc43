// Package client provides a Go SDK for the TaskHive HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/taskhive/taskhive/pkg/models"
)

// Client calls the TaskHive HTTP API. It is safe for concurrent use.
type Client struct {
	BaseURL    string       // e.g. "http://localhost:3549"
	APIKey     string       // optional; set for X-API-Key / api_key
	HTTPClient *http.Client // optional; nil uses http.DefaultClient
}

// New returns a client for the given base URL (e.g. "http://localhost:3549").
// APIKey is optional; when set, requests use the X-API-Key header.
func New(baseURL, apiKey string) *Client {
	return &Client{BaseURL: baseURL, APIKey: apiKey}
}

func (c *Client) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(b)
	}
	u := c.BaseURL + path
	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
	return c.client().Do(req)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.Error != "" {
			return fmt.Errorf("api %s %s: %s", method, path, errBody.Error)
		}
		return fmt.Errorf("api %s %s: status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Health returns the /health response (ok: true).
func (c *Client) Health(ctx context.Context) (ok bool, err error) {
	var out struct {
		OK bool `json:"ok"`
	}
	err = c.doJSON(ctx, http.MethodGet, "/health", nil, &out)
	return out.OK, err
}

// Register registers (or re-registers) an agent.
func (c *Client) Register(ctx context.Context, agentID, projectID, role, skillLevel string) (*models.Agent, error) {
	var out models.Agent
	err := c.doJSON(ctx, http.MethodPost, "/register", map[string]string{
		"agent_id": agentID, "project_id": projectID, "role": role, "skill_level": skillLevel,
	}, &out)
	return &out, err
}

// ListAgents returns agents, optionally scoped to a project.
func (c *Client) ListAgents(ctx context.Context, projectID string) ([]models.Agent, error) {
	path := "/agents"
	if projectID != "" {
		path += "?project_id=" + url.QueryEscape(projectID)
	}
	var out []models.Agent
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// ListProjects returns all projects.
func (c *Client) ListProjects(ctx context.Context) ([]models.Project, error) {
	var out []models.Project
	err := c.doJSON(ctx, http.MethodGet, "/projects", nil, &out)
	return out, err
}

// CreateProject creates a project and returns it.
func (c *Client) CreateProject(ctx context.Context, name string) (*models.Project, error) {
	var out models.Project
	err := c.doJSON(ctx, http.MethodPost, "/projects", map[string]string{"name": name}, &out)
	return &out, err
}

// ArchiveProject soft-deletes a project: hidden from listings and routing,
// rows kept until DeleteProject.
func (c *Client) ArchiveProject(ctx context.Context, projectID string) error {
	return c.doJSON(ctx, http.MethodPost, "/projects/"+url.PathEscape(projectID)+"/archive", nil, nil)
}

// DeleteProject deletes a project and everything under it.
func (c *Client) DeleteProject(ctx context.Context, projectID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/projects/"+url.PathEscape(projectID), nil, nil)
}

// CreateEpic creates an epic under a project.
func (c *Client) CreateEpic(ctx context.Context, projectID, name string) (*models.Epic, error) {
	var out models.Epic
	err := c.doJSON(ctx, http.MethodPost, "/projects/"+url.PathEscape(projectID)+"/epics", map[string]string{"name": name}, &out)
	return &out, err
}

// CreateFeature creates a feature under an epic.
func (c *Client) CreateFeature(ctx context.Context, epicID, name string) (*models.Feature, error) {
	var out models.Feature
	err := c.doJSON(ctx, http.MethodPost, "/epics/"+url.PathEscape(epicID)+"/features", map[string]string{"name": name}, &out)
	return &out, err
}

// TaskSpec are the inputs for CreateTask.
type TaskSpec struct {
	FeatureID   string `json:"feature_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	TargetRole  string `json:"target_role,omitempty"`
	Difficulty  string `json:"difficulty,omitempty"`
	Complexity  string `json:"complexity,omitempty"`
	BranchName  string `json:"branch_name,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

// CreateTask creates a task; agentID is recorded as the creator when non-empty.
func (c *Client) CreateTask(ctx context.Context, agentID string, spec TaskSpec) (*models.Task, error) {
	path := "/tasks/create"
	if agentID != "" {
		path += "?agent_id=" + url.QueryEscape(agentID)
	}
	var out models.Task
	err := c.doJSON(ctx, http.MethodPost, path, spec, &out)
	return &out, err
}

// GetTask returns a task by ID.
func (c *Client) GetTask(ctx context.Context, taskID int64) (*models.Task, error) {
	var out models.Task
	err := c.doJSON(ctx, http.MethodGet, "/tasks/"+strconv.FormatInt(taskID, 10), nil, &out)
	return &out, err
}

// NextTask asks the router for the best claimable task for an agent.
// A nil task with nil error means the queue is empty for that role/level.
func (c *Client) NextTask(ctx context.Context, role, level, projectID string) (*models.Task, error) {
	path := "/tasks/next?role=" + url.QueryEscape(role) + "&level=" + url.QueryEscape(level)
	if projectID != "" {
		path += "&project_id=" + url.QueryEscape(projectID)
	}
	var out struct {
		Task *models.Task `json:"task"`
	}
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out.Task, err
}

// LockTask claims the exclusive lock on a task for agentID.
func (c *Client) LockTask(ctx context.Context, taskID int64, agentID string) (*models.Task, error) {
	path := "/tasks/" + strconv.FormatInt(taskID, 10) + "/lock?agent_id=" + url.QueryEscape(agentID)
	var out models.Task
	err := c.doJSON(ctx, http.MethodPost, path, nil, &out)
	return &out, err
}

// UpdateStatus moves a task to a new status on behalf of agentID.
func (c *Client) UpdateStatus(ctx context.Context, taskID int64, agentID, status, notes string) (*models.Task, error) {
	path := "/tasks/" + strconv.FormatInt(taskID, 10) + "/status?agent_id=" + url.QueryEscape(agentID)
	var out models.Task
	err := c.doJSON(ctx, http.MethodPut, path, map[string]string{"status": status, "notes": notes}, &out)
	return &out, err
}

// Changelog returns the audit trail for a task.
func (c *Client) Changelog(ctx context.Context, taskID int64) ([]models.ChangelogEntry, error) {
	var out []models.ChangelogEntry
	err := c.doJSON(ctx, http.MethodGet, "/tasks/"+strconv.FormatInt(taskID, 10)+"/changelog", nil, &out)
	return out, err
}

// Comment adds a comment to a task; @mentions in the body create notifications.
func (c *Client) Comment(ctx context.Context, taskID int64, agentID, body string) (*models.TaskComment, []models.Mention, error) {
	path := "/tasks/" + strconv.FormatInt(taskID, 10) + "/comment?agent_id=" + url.QueryEscape(agentID)
	var out struct {
		Comment  models.TaskComment `json:"comment"`
		Mentions []models.Mention   `json:"mentions"`
	}
	err := c.doJSON(ctx, http.MethodPost, path, map[string]string{"body": body}, &out)
	return &out.Comment, out.Mentions, err
}

// CreateDocument creates a document; @mentions in the content create notifications.
func (c *Client) CreateDocument(ctx context.Context, authorID, projectID, docType, title, content string) (*models.Document, []models.Mention, error) {
	var out struct {
		Document models.Document  `json:"document"`
		Mentions []models.Mention `json:"mentions"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/documents?author_id="+url.QueryEscape(authorID), map[string]string{
		"project_id": projectID, "doc_type": docType, "title": title, "content": content,
	}, &out)
	return &out.Document, out.Mentions, err
}

// ListMentions returns unread mentions for an agent (or a role when agentID is empty).
func (c *Client) ListMentions(ctx context.Context, agentID, role string, includeRead bool) ([]models.Mention, error) {
	q := url.Values{}
	if agentID != "" {
		q.Set("agent_id", agentID)
	}
	if role != "" {
		q.Set("role", role)
	}
	if includeRead {
		q.Set("include_read", "true")
	}
	var out []models.Mention
	err := c.doJSON(ctx, http.MethodGet, "/mentions?"+q.Encode(), nil, &out)
	return out, err
}

// MarkMentionRead marks a mention as read on behalf of its recipient.
func (c *Client) MarkMentionRead(ctx context.Context, mentionID int64, agentID string) error {
	path := "/mentions/" + strconv.FormatInt(mentionID, 10) + "/read?agent_id=" + url.QueryEscape(agentID)
	return c.doJSON(ctx, http.MethodPost, path, nil, nil)
}

// Changes polls for everything that changed since the cursor. Pass the zero
// time for "everything"; feed the returned Delta.Timestamp back as the next
// cursor.
func (c *Client) Changes(ctx context.Context, since time.Time, agentID, projectID string) (*models.Delta, error) {
	q := url.Values{}
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339))
	}
	if agentID != "" {
		q.Set("agent_id", agentID)
	}
	if projectID != "" {
		q.Set("project_id", projectID)
	}
	var out models.Delta
	err := c.doJSON(ctx, http.MethodGet, "/changes?"+q.Encode(), nil, &out)
	return &out, err
}
