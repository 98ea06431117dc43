// Package httpapi exposes the coordination engine over JSON HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/taskhive/taskhive/internal/changes"
	"github.com/taskhive/taskhive/internal/locks"
	"github.com/taskhive/taskhive/internal/mentions"
	"github.com/taskhive/taskhive/internal/otel"
	"github.com/taskhive/taskhive/internal/router"
	"github.com/taskhive/taskhive/internal/store"
	"github.com/taskhive/taskhive/internal/store/postgres"
	"github.com/taskhive/taskhive/internal/workflow"
	"github.com/taskhive/taskhive/pkg/models"
)

// defaultMaxRequestBodyBytes is the default limit for request body size (1 MiB) to prevent OOM.
const defaultMaxRequestBodyBytes = models.DefaultMaxRequestBodyBytes

// limitBody wraps r.Body with http.MaxBytesReader so handlers cannot read more than maxBytes.
func limitBody(w http.ResponseWriter, r *http.Request, maxBytes int64) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
}

// bodyLimitMiddleware limits request body size for POST, PUT, PATCH to prevent OOM.
func bodyLimitMiddleware(maxBytes int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			limitBody(w, r, maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware sets CORS headers for dev mode (dashboard dev server on a different origin).
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ServerOptions configures the HTTP server (home dir, listen addr, API key, DB, metrics).
type ServerOptions struct {
	Home           string
	Addr           string
	Dev            bool
	APIKey         string       // if set, require X-API-Key header or query api_key
	DBDriver       string       // "sqlite" (default) or "postgres"
	DBURL          string       // for postgres: connection string (or set DATABASE_URL env)
	MetricsHandler http.Handler // if set, used for /metrics (e.g. OTel Prometheus handler)
	UseOtelHTTP    bool         // if true, wrap handler with otelhttp for request metrics
	Seed           bool         // if true, seed a demo project on an empty store
}

// App holds the HTTP server, store, and the coordination engines.
type App struct {
	Server   *http.Server
	Store    store.Store
	Router   *router.Router
	Locks    *locks.Manager
	Workflow *workflow.Engine
	Mentions *mentions.Engine
	Poller   *changes.Poller
	Home     string
}

// NewApp creates the HTTP app (server, store, engines) and registers all routes.
func NewApp(opts ServerOptions) (*App, error) {
	var st store.Store
	var err error
	if opts.DBDriver == "postgres" {
		st, err = postgres.Open(opts.DBURL)
	} else {
		st, err = store.Open(opts.Home)
	}
	if err != nil {
		return nil, err
	}

	app := &App{
		Store:    st,
		Router:   &router.Router{Store: st},
		Locks:    &locks.Manager{Store: st},
		Workflow: &workflow.Engine{Store: st},
		Mentions: &mentions.Engine{Store: st},
		Poller:   &changes.Poller{Store: st},
		Home:     opts.Home,
	}
	if opts.Seed {
		if err := st.SeedDemo(context.Background()); err != nil {
			slog.Warn("seed failed", "error", err)
		}
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"ok": true})
	})

	if opts.MetricsHandler != nil {
		mux.Handle("/metrics", opts.MetricsHandler)
	} else {
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			counts, _ := st.CountTasksByStatus(r.Context())
			_, _ = fmt.Fprintf(w, "# TYPE taskhive_tasks_total gauge\n")
			for _, status := range []string{models.StatusCreated, models.StatusUnderWork, models.StatusDevDone, models.StatusQADone, models.StatusDocsDone, models.StatusCommitted} {
				_, _ = fmt.Fprintf(w, "taskhive_tasks_total{status=%q} %d\n", status, counts[status])
			}
		})
	}

	mux.HandleFunc("/register", app.handleRegister)
	mux.HandleFunc("/agents", app.handleAgents)
	mux.HandleFunc("/projects", app.handleProjects)
	mux.HandleFunc("/projects/", app.handleProjectByID)
	mux.HandleFunc("/epics/", app.handleEpicByID)
	mux.HandleFunc("/features/", app.handleFeatureByID)
	mux.HandleFunc("/tasks/create", app.handleTaskCreate)
	mux.HandleFunc("/tasks/next", app.handleTaskNext)
	mux.HandleFunc("/tasks/", app.handleTaskByID)
	mux.HandleFunc("/documents", app.handleDocuments)
	mux.HandleFunc("/documents/", app.handleDocumentByID)
	mux.HandleFunc("/mentions", app.handleMentions)
	mux.HandleFunc("/mentions/", app.handleMentionByID)
	mux.HandleFunc("/changes", app.handleChanges)

	var handler http.Handler = mux
	handler = bodyLimitMiddleware(defaultMaxRequestBodyBytes, handler)
	if opts.Dev {
		handler = corsMiddleware(handler)
	}
	if opts.APIKey != "" {
		handler = apiKeyMiddleware(opts.APIKey, handler)
	}
	handler = requestLogMiddleware(handler)
	if opts.UseOtelHTTP {
		handler = otelhttp.NewHandler(handler, "taskhive")
	}
	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	srv.RegisterOnShutdown(func() {
		_ = st.Close()
	})
	app.Server = srv
	return app, nil
}

// --- Agents ---

func (a *App) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body struct {
		AgentID        string `json:"agent_id"`
		ProjectID      string `json:"project_id"`
		Role           string `json:"role"`
		SkillLevel     string `json:"skill_level"`
		ConnectionType string `json:"connection_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	agent, err := a.Store.RegisterAgent(r.Context(), store.AgentParams{
		AgentID:        body.AgentID,
		ProjectID:      body.ProjectID,
		Role:           body.Role,
		SkillLevel:     body.SkillLevel,
		ConnectionType: body.ConnectionType,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, agent)
}

func (a *App) handleAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	agents, err := a.Store.ListAgents(r.Context(), r.URL.Query().Get("project_id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if agents == nil {
		agents = []models.Agent{}
	}
	writeJSON(w, agents)
}

// --- Projects, epics, features ---

func (a *App) handleProjects(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		projects, err := a.Store.ListProjects(r.Context())
		if err != nil {
			writeStoreError(w, err)
			return
		}
		if projects == nil {
			projects = []models.Project{}
		}
		writeJSON(w, projects)
	case http.MethodPost:
		var body struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
		p, err := a.Store.CreateProject(r.Context(), body.Name)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, p)
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (a *App) handleProjectByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/projects/")
	parts := strings.Split(rest, "/")
	if len(parts) < 1 || parts[0] == "" {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	projectID := parts[0]

	// /projects/{id}
	if len(parts) == 1 || parts[1] == "" {
		switch r.Method {
		case http.MethodGet:
			p, err := a.Store.GetProject(r.Context(), projectID)
			if err != nil {
				writeStoreError(w, err)
				return
			}
			writeJSON(w, p)
		case http.MethodDelete:
			if err := a.Store.DeleteProject(r.Context(), projectID); err != nil {
				writeStoreError(w, err)
				return
			}
			writeJSON(w, map[string]any{"ok": true})
		default:
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return
	}

	// /projects/{id}/archive
	if parts[1] == "archive" {
		if r.Method != http.MethodPost {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if err := a.Store.ArchiveProject(r.Context(), projectID); err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, map[string]any{"ok": true})
		return
	}

	// /projects/{id}/epics
	if parts[1] == "epics" {
		switch r.Method {
		case http.MethodGet:
			epics, err := a.Store.ListEpics(r.Context(), projectID)
			if err != nil {
				writeStoreError(w, err)
				return
			}
			if epics == nil {
				epics = []models.Epic{}
			}
			writeJSON(w, epics)
		case http.MethodPost:
			var body struct {
				Name string `json:"name"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid json")
				return
			}
			e, err := a.Store.CreateEpic(r.Context(), projectID, body.Name)
			if err != nil {
				writeStoreError(w, err)
				return
			}
			writeJSON(w, e)
		default:
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return
	}
	writeJSONError(w, http.StatusNotFound, "not found")
}

func (a *App) handleEpicByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/epics/")
	parts := strings.Split(rest, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] != "features" {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	epicID := parts[0]
	switch r.Method {
	case http.MethodGet:
		features, err := a.Store.ListFeatures(r.Context(), epicID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		if features == nil {
			features = []models.Feature{}
		}
		writeJSON(w, features)
	case http.MethodPost:
		var body struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
		f, err := a.Store.CreateFeature(r.Context(), epicID, body.Name)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, f)
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (a *App) handleFeatureByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/features/")
	parts := strings.Split(rest, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] != "tasks" || r.Method != http.MethodGet {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	tasks, err := a.Store.ListFeatureTasks(r.Context(), parts[0])
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	writeJSON(w, tasks)
}

// --- Tasks ---

func (a *App) handleTaskCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body struct {
		FeatureID   string `json:"feature_id"`
		Title       string `json:"title"`
		Description string `json:"description"`
		TargetRole  string `json:"target_role"`
		Difficulty  string `json:"difficulty"`
		Complexity  string `json:"complexity"`
		BranchName  string `json:"branch_name"`
		Notes       string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	createdBy := r.URL.Query().Get("agent_id")
	if createdBy == "" {
		createdBy = "api"
	}
	task, err := a.Store.CreateTask(r.Context(), store.TaskParams{
		FeatureID:   body.FeatureID,
		Title:       body.Title,
		Description: body.Description,
		TargetRole:  body.TargetRole,
		Difficulty:  body.Difficulty,
		Complexity:  body.Complexity,
		BranchName:  body.BranchName,
		Notes:       body.Notes,
		CreatedBy:   createdBy,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	otel.RecordTaskOp(r.Context(), "create", task.Status)
	writeJSON(w, task)
}

func (a *App) handleTaskNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	task, err := a.Router.NextTask(r.Context(), q.Get("role"), q.Get("level"), q.Get("project_id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	otel.RecordTaskOp(r.Context(), "next", statusOrNone(task))
	// An empty result is legitimate, not an error.
	writeJSON(w, map[string]any{"task": task})
}

func statusOrNone(t *models.Task) string {
	if t == nil {
		return "none"
	}
	return t.Status
}

func (a *App) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/tasks/")
	parts := strings.Split(rest, "/")
	if len(parts) < 1 || parts[0] == "" {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	taskID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	// /tasks/{id}
	if len(parts) == 1 || parts[1] == "" {
		switch r.Method {
		case http.MethodGet:
			task, err := a.Store.GetTask(r.Context(), taskID)
			if err != nil {
				writeStoreError(w, err)
				return
			}
			writeJSON(w, task)
		case http.MethodDelete:
			if err := a.Store.DeleteTask(r.Context(), taskID); err != nil {
				writeStoreError(w, err)
				return
			}
			otel.RecordTaskOp(r.Context(), "delete", "")
			writeJSON(w, map[string]any{"ok": true})
		default:
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return
	}

	switch parts[1] {
	case "lock":
		if r.Method != http.MethodPost {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		agentID := r.URL.Query().Get("agent_id")
		if agentID == "" {
			writeJSONError(w, http.StatusBadRequest, "agent_id required")
			return
		}
		task, err := a.Locks.Lock(r.Context(), taskID, agentID)
		if err != nil {
			otel.RecordLock(r.Context(), false)
			writeStoreError(w, err)
			return
		}
		otel.RecordLock(r.Context(), true)
		writeJSON(w, task)
	case "status":
		if r.Method != http.MethodPut {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		agentID := r.URL.Query().Get("agent_id")
		if agentID == "" {
			writeJSONError(w, http.StatusBadRequest, "agent_id required")
			return
		}
		var body struct {
			Status string `json:"status"`
			Notes  string `json:"notes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
		before, _ := a.Store.GetTask(r.Context(), taskID)
		task, err := a.Workflow.Transition(r.Context(), taskID, body.Status, agentID, body.Notes)
		if err != nil {
			otel.RecordTransition(r.Context(), before.Status, body.Status, "rejected")
			writeStoreError(w, err)
			return
		}
		otel.RecordTransition(r.Context(), before.Status, body.Status, "accepted")
		writeJSON(w, task)
	case "comment":
		if r.Method != http.MethodPost {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		agentID := r.URL.Query().Get("agent_id")
		if agentID == "" {
			writeJSONError(w, http.StatusBadRequest, "agent_id required")
			return
		}
		var body struct {
			Body string `json:"body"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
		comment, err := a.Store.CreateComment(r.Context(), taskID, agentID, body.Body)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		created, err := a.Mentions.ScanAndRecord(r.Context(), models.SourceTask, strconv.FormatInt(taskID, 10), agentID, body.Body)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		otel.RecordMentions(r.Context(), models.SourceTask, len(created))
		writeJSON(w, map[string]any{"comment": comment, "mentions": created})
	case "comments":
		if r.Method != http.MethodGet {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		comments, err := a.Store.ListComments(r.Context(), taskID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		if comments == nil {
			comments = []models.TaskComment{}
		}
		writeJSON(w, comments)
	case "changelog":
		if r.Method != http.MethodGet {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		entries, err := a.Store.ListChangelog(r.Context(), taskID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		if entries == nil {
			entries = []models.ChangelogEntry{}
		}
		writeJSON(w, entries)
	default:
		writeJSONError(w, http.StatusNotFound, "not found")
	}
}

// --- Documents ---

func (a *App) handleDocuments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		projectID := r.URL.Query().Get("project_id")
		if projectID == "" {
			writeJSONError(w, http.StatusBadRequest, "project_id required")
			return
		}
		docs, err := a.Store.ListDocuments(r.Context(), projectID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		if docs == nil {
			docs = []models.Document{}
		}
		writeJSON(w, docs)
	case http.MethodPost:
		authorID := r.URL.Query().Get("author_id")
		if authorID == "" {
			writeJSONError(w, http.StatusBadRequest, "author_id required")
			return
		}
		var body struct {
			ProjectID string     `json:"project_id"`
			DocType   string     `json:"doc_type"`
			Title     string     `json:"title"`
			Content   string     `json:"content"`
			ExpiresAt *time.Time `json:"expires_at"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
		doc, err := a.Store.CreateDocument(r.Context(), store.DocumentParams{
			ProjectID: body.ProjectID,
			DocType:   body.DocType,
			AuthorID:  authorID,
			Title:     body.Title,
			Content:   body.Content,
			ExpiresAt: body.ExpiresAt,
		})
		if err != nil {
			writeStoreError(w, err)
			return
		}
		created, err := a.Mentions.ScanAndRecord(r.Context(), models.SourceDocument, doc.DocID, authorID, body.Content)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		otel.RecordMentions(r.Context(), models.SourceDocument, len(created))
		writeJSON(w, map[string]any{"document": doc, "mentions": created})
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (a *App) handleDocumentByID(w http.ResponseWriter, r *http.Request) {
	docID := strings.TrimPrefix(r.URL.Path, "/documents/")
	if docID == "" || strings.Contains(docID, "/") || r.Method != http.MethodGet {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	doc, err := a.Store.GetDocument(r.Context(), docID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, doc)
}

// --- Mentions ---

func (a *App) handleMentions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	includeRead := q.Get("include_read") == "true" || q.Get("include_read") == "1"
	ments, err := a.Store.ListMentions(r.Context(), q.Get("agent_id"), q.Get("role"), includeRead, 0)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if ments == nil {
		ments = []models.Mention{}
	}
	writeJSON(w, ments)
}

func (a *App) handleMentionByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/mentions/")
	parts := strings.Split(rest, "/")
	if len(parts) < 2 || parts[1] != "read" || r.Method != http.MethodPost {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	mentionID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid mention id")
		return
	}
	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		writeJSONError(w, http.StatusBadRequest, "agent_id required")
		return
	}
	if err := a.Store.MarkMentionRead(r.Context(), mentionID, agentID); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

// --- Changes ---

func (a *App) handleChanges(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	since, err := parseSince(q.Get("since"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid since cursor")
		return
	}
	start := time.Now()
	delta, err := a.Poller.Poll(r.Context(), since, q.Get("agent_id"), q.Get("project_id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	otel.RecordPoll(r.Context(), time.Since(start))
	if agentID := q.Get("agent_id"); agentID != "" {
		if agent, err := a.Store.GetAgent(r.Context(), agentID); err == nil {
			_ = a.Store.SetAgentActivity(r.Context(), agentID, agent.Status, agent.CurrentTaskID)
		}
	}
	if delta.Tasks == nil {
		delta.Tasks = []models.Task{}
	}
	if delta.Mentions == nil {
		delta.Mentions = []models.Mention{}
	}
	writeJSON(w, delta)
}

// parseSince accepts RFC 3339 or Unix seconds; empty means "everything".
func parseSince(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(secs, 0).UTC(), nil
}

// --- Middleware and helpers ---

// responseRecorder captures status code for logging and forwards Flusher if supported.
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func apiKeyMiddleware(apiKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == "/health" || path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.URL.Query().Get("api_key")
		}
		if key != apiKey {
			writeJSONError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)
		slog.Info("request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// writeJSONError sends a JSON body {"error": "message"} with the given status code.
func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": message})
}

// writeStoreError maps store sentinel error kinds to HTTP status codes.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrInvalid):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrForbidden):
		writeJSONError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrConflict):
		writeJSONError(w, http.StatusConflict, err.Error())
	default:
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
}
