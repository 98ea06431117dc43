package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/taskhive/taskhive/pkg/models"
)

func newTestServer(t *testing.T, opts ServerOptions) (*App, *httptest.Server) {
	t.Helper()
	opts.Home = t.TempDir()
	opts.Addr = "127.0.0.1:0"
	app, err := NewApp(opts)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	ts := httptest.NewServer(app.Server.Handler)
	t.Cleanup(func() {
		ts.Close()
		_ = app.Store.Close()
	})
	return app, ts
}

// do sends a request with an optional JSON body and decodes the JSON response
// into out (when non-nil). It returns the status code.
func do(t *testing.T, method, url, body string, out any) int {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rdr)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

// setupHierarchy registers agents and creates a project/epic/feature chain
// over the API, returning the feature ID.
func setupHierarchy(t *testing.T, base string) string {
	t.Helper()
	for _, body := range []string{
		`{"agent_id":"dev_001","role":"backend_dev","skill_level":"senior"}`,
		`{"agent_id":"qa_001","role":"qa","skill_level":"senior"}`,
	} {
		if code := do(t, "POST", base+"/register", body, nil); code != 200 {
			t.Fatalf("register status=%d", code)
		}
	}
	var project models.Project
	if code := do(t, "POST", base+"/projects", `{"name":"p1"}`, &project); code != 200 {
		t.Fatalf("create project status=%d", code)
	}
	var epic models.Epic
	if code := do(t, "POST", base+"/projects/"+project.ProjectID+"/epics", `{"name":"e1"}`, &epic); code != 200 {
		t.Fatalf("create epic status=%d", code)
	}
	var feature models.Feature
	if code := do(t, "POST", base+"/epics/"+epic.EpicID+"/features", `{"name":"f1"}`, &feature); code != 200 {
		t.Fatalf("create feature status=%d", code)
	}
	return feature.FeatureID
}

func createTask(t *testing.T, base, featureID, title, role, difficulty string) models.Task {
	t.Helper()
	var task models.Task
	body := fmt.Sprintf(`{"feature_id":%q,"title":%q,"target_role":%q,"difficulty":%q,"complexity":"minor"}`,
		featureID, title, role, difficulty)
	if code := do(t, "POST", base+"/tasks/create?agent_id=dev_001", body, &task); code != 200 {
		t.Fatalf("create task status=%d", code)
	}
	return task
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, ServerOptions{})

	var health map[string]any
	if code := do(t, "GET", ts.URL+"/health", "", &health); code != 200 || health["ok"] != true {
		t.Fatalf("health code=%d body=%v", code, health)
	}

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != 200 || !strings.Contains(string(raw), "taskhive_tasks_total") {
		t.Fatalf("metrics code=%d body=%q", resp.StatusCode, raw)
	}
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, ServerOptions{})
	featureID := setupHierarchy(t, ts.URL)
	task := createTask(t, ts.URL, featureID, "ship it", "backend_dev", "junior")
	taskURL := fmt.Sprintf("%s/tasks/%d", ts.URL, task.TaskID)

	// Pull the task via routing.
	var next struct {
		Task *models.Task `json:"task"`
	}
	if code := do(t, "GET", ts.URL+"/tasks/next?role=backend_dev&level=senior", "", &next); code != 200 {
		t.Fatalf("next status=%d", code)
	}
	if next.Task == nil || next.Task.TaskID != task.TaskID {
		t.Fatalf("next = %+v", next.Task)
	}

	// Lock, then walk dev statuses.
	var locked models.Task
	if code := do(t, "POST", taskURL+"/lock?agent_id=dev_001", "", &locked); code != 200 {
		t.Fatalf("lock status=%d", code)
	}
	if locked.LockedBy == nil || *locked.LockedBy != "dev_001" {
		t.Fatalf("locked = %+v", locked)
	}

	var updated models.Task
	if code := do(t, "PUT", taskURL+"/status?agent_id=dev_001", `{"status":"under_work"}`, &updated); code != 200 {
		t.Fatalf("under_work status=%d", code)
	}
	// locked_by is omitempty, so reset the decode target or the stale
	// pointer from the under_work response survives the next decode.
	updated = models.Task{}
	if code := do(t, "PUT", taskURL+"/status?agent_id=dev_001", `{"status":"dev_done","notes":"ready for QA"}`, &updated); code != 200 {
		t.Fatalf("dev_done status=%d", code)
	}
	if updated.Status != "dev_done" || updated.LockedBy != nil {
		t.Fatalf("after dev_done = %+v", updated)
	}

	// QA claims and approves.
	if code := do(t, "POST", taskURL+"/lock?agent_id=qa_001", "", nil); code != 200 {
		t.Fatalf("qa lock status=%d", code)
	}
	if code := do(t, "PUT", taskURL+"/status?agent_id=qa_001", `{"status":"qa_done"}`, &updated); code != 200 {
		t.Fatalf("qa_done status=%d", code)
	}

	// Anyone can finish docs and commit.
	if code := do(t, "PUT", taskURL+"/status?agent_id=dev_001", `{"status":"documentation_done"}`, &updated); code != 200 {
		t.Fatalf("documentation_done status=%d", code)
	}
	if code := do(t, "PUT", taskURL+"/status?agent_id=dev_001", `{"status":"committed"}`, &updated); code != 200 {
		t.Fatalf("committed status=%d", code)
	}

	var log []models.ChangelogEntry
	if code := do(t, "GET", taskURL+"/changelog", "", &log); code != 200 {
		t.Fatalf("changelog status=%d", code)
	}
	if len(log) != 6 {
		t.Fatalf("changelog entries = %d, want 6", len(log))
	}
	if log[2].NewStatus != "dev_done" || log[2].Notes != "ready for QA" {
		t.Fatalf("dev_done entry = %+v", log[2])
	}

	// The routing queue is empty now.
	next.Task = nil
	if code := do(t, "GET", ts.URL+"/tasks/next?role=backend_dev&level=senior", "", &next); code != 200 {
		t.Fatalf("next status=%d", code)
	}
	if next.Task != nil {
		t.Fatalf("queue should be empty, got %+v", next.Task)
	}
}

func TestLockContentionOverHTTP(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, ServerOptions{})
	featureID := setupHierarchy(t, ts.URL)
	task := createTask(t, ts.URL, featureID, "contended", "backend_dev", "junior")
	lockURL := fmt.Sprintf("%s/tasks/%d/lock", ts.URL, task.TaskID)

	const clients = 6
	codes := make([]int, clients)
	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, _ := http.NewRequest("POST", fmt.Sprintf("%s?agent_id=racer_%d", lockURL, i), nil)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return
			}
			codes[i] = resp.StatusCode
			_ = resp.Body.Close()
		}(i)
	}
	wg.Wait()

	won, lost := 0, 0
	for _, c := range codes {
		switch c {
		case 200:
			won++
		case 409:
			lost++
		default:
			t.Fatalf("unexpected status %d (all: %v)", c, codes)
		}
	}
	if won != 1 || lost != clients-1 {
		t.Fatalf("won=%d lost=%d codes=%v", won, lost, codes)
	}
}

func TestStatusErrors(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, ServerOptions{})
	featureID := setupHierarchy(t, ts.URL)
	task := createTask(t, ts.URL, featureID, "gated", "backend_dev", "junior")
	taskURL := fmt.Sprintf("%s/tasks/%d", ts.URL, task.TaskID)

	// Unlocked pickup is a conflict.
	if code := do(t, "PUT", taskURL+"/status?agent_id=dev_001", `{"status":"under_work"}`, nil); code != 409 {
		t.Fatalf("unlocked pickup status=%d, want 409", code)
	}
	// Unknown status is a bad request.
	if code := do(t, "PUT", taskURL+"/status?agent_id=dev_001", `{"status":"shipped"}`, nil); code != 400 {
		t.Fatalf("bad status=%d, want 400", code)
	}
	// Missing agent_id query param.
	if code := do(t, "PUT", taskURL+"/status", `{"status":"under_work"}`, nil); code != 400 {
		t.Fatalf("no agent status=%d, want 400", code)
	}

	// Dev may not approve QA.
	do(t, "POST", taskURL+"/lock?agent_id=dev_001", "", nil)
	do(t, "PUT", taskURL+"/status?agent_id=dev_001", `{"status":"under_work"}`, nil)
	do(t, "PUT", taskURL+"/status?agent_id=dev_001", `{"status":"dev_done"}`, nil)
	do(t, "POST", taskURL+"/lock?agent_id=dev_001", "", nil)
	if code := do(t, "PUT", taskURL+"/status?agent_id=dev_001", `{"status":"qa_done"}`, nil); code != 403 {
		t.Fatalf("dev approving qa status=%d, want 403", code)
	}

	// Missing task.
	if code := do(t, "GET", ts.URL+"/tasks/99999", "", nil); code != 404 {
		t.Fatalf("missing task status=%d, want 404", code)
	}
	if code := do(t, "GET", ts.URL+"/tasks/abc", "", nil); code != 400 {
		t.Fatalf("bad task id status=%d, want 400", code)
	}
}

func TestQARejectionOverHTTP(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, ServerOptions{})
	featureID := setupHierarchy(t, ts.URL)
	task := createTask(t, ts.URL, featureID, "flaky", "backend_dev", "junior")
	taskURL := fmt.Sprintf("%s/tasks/%d", ts.URL, task.TaskID)

	do(t, "POST", taskURL+"/lock?agent_id=dev_001", "", nil)
	do(t, "PUT", taskURL+"/status?agent_id=dev_001", `{"status":"under_work"}`, nil)
	do(t, "PUT", taskURL+"/status?agent_id=dev_001", `{"status":"dev_done"}`, nil)
	do(t, "POST", taskURL+"/lock?agent_id=qa_001", "", nil)
	do(t, "PUT", taskURL+"/status?agent_id=qa_001", `{"status":"qa_done"}`, nil)

	var rejected models.Task
	if code := do(t, "PUT", taskURL+"/status?agent_id=qa_001", `{"status":"created","notes":"fails on empty input"}`, &rejected); code != 200 {
		t.Fatalf("rejection status=%d", code)
	}
	if rejected.Status != "created" || rejected.LockedBy != nil {
		t.Fatalf("rejected = %+v", rejected)
	}

	// Back in the routing queue.
	var next struct {
		Task *models.Task `json:"task"`
	}
	do(t, "GET", ts.URL+"/tasks/next?role=backend_dev&level=junior", "", &next)
	if next.Task == nil || next.Task.TaskID != task.TaskID {
		t.Fatalf("rejected task should be routable again, got %+v", next.Task)
	}
}

func TestCommentsAndMentionsOverHTTP(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, ServerOptions{})
	featureID := setupHierarchy(t, ts.URL)
	task := createTask(t, ts.URL, featureID, "discussed", "backend_dev", "junior")
	taskURL := fmt.Sprintf("%s/tasks/%d", ts.URL, task.TaskID)

	var result struct {
		Comment  models.TaskComment `json:"comment"`
		Mentions []models.Mention   `json:"mentions"`
	}
	if code := do(t, "POST", taskURL+"/comment?agent_id=dev_001", `{"body":"please check @qa_001 and @not_an_agent"}`, &result); code != 200 {
		t.Fatalf("comment status=%d", code)
	}
	if result.Comment.Body == "" || len(result.Mentions) != 1 || result.Mentions[0].MentionedAgentID != "qa_001" {
		t.Fatalf("comment result = %+v", result)
	}

	var comments []models.TaskComment
	if code := do(t, "GET", taskURL+"/comments", "", &comments); code != 200 || len(comments) != 1 {
		t.Fatalf("comments code=%d n=%d", 200, len(comments))
	}

	var unread []models.Mention
	if code := do(t, "GET", ts.URL+"/mentions?agent_id=qa_001", "", &unread); code != 200 || len(unread) != 1 {
		t.Fatalf("mentions code=%d n=%d", code, len(unread))
	}

	// Only the recipient may acknowledge.
	readURL := fmt.Sprintf("%s/mentions/%d/read", ts.URL, unread[0].MentionID)
	if code := do(t, "POST", readURL+"?agent_id=dev_001", "", nil); code != 403 {
		t.Fatalf("foreign ack status=%d, want 403", code)
	}
	if code := do(t, "POST", readURL+"?agent_id=qa_001", "", nil); code != 200 {
		t.Fatalf("ack status=%d", code)
	}
	do(t, "GET", ts.URL+"/mentions?agent_id=qa_001", "", &unread)
	if len(unread) != 0 {
		t.Fatalf("unread after ack = %d", len(unread))
	}
	var all []models.Mention
	do(t, "GET", ts.URL+"/mentions?agent_id=qa_001&include_read=true", "", &all)
	if len(all) != 1 {
		t.Fatalf("all mentions = %d", len(all))
	}
}

func TestDocumentsAndMentions(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, ServerOptions{})
	setupHierarchy(t, ts.URL)

	var projects []models.Project
	do(t, "GET", ts.URL+"/projects", "", &projects)
	if len(projects) != 1 {
		t.Fatalf("projects = %d", len(projects))
	}
	projectID := projects[0].ProjectID

	var result struct {
		Document models.Document  `json:"document"`
		Mentions []models.Mention `json:"mentions"`
	}
	body := fmt.Sprintf(`{"project_id":%q,"doc_type":"handoff","title":"API notes","content":"review needed @qa_001"}`, projectID)
	if code := do(t, "POST", ts.URL+"/documents?author_id=dev_001", body, &result); code != 200 {
		t.Fatalf("create document status=%d", code)
	}
	if result.Document.DocID == "" || len(result.Mentions) != 1 {
		t.Fatalf("document result = %+v", result)
	}

	var doc models.Document
	if code := do(t, "GET", ts.URL+"/documents/"+result.Document.DocID, "", &doc); code != 200 || doc.Title != "API notes" {
		t.Fatalf("get document code=%d doc=%+v", code, doc)
	}
	var docs []models.Document
	if code := do(t, "GET", ts.URL+"/documents?project_id="+projectID, "", &docs); code != 200 || len(docs) != 1 {
		t.Fatalf("list documents code=%d n=%d", code, len(docs))
	}
	if code := do(t, "POST", ts.URL+"/documents", body, nil); code != 400 {
		t.Fatalf("document without author status=%d, want 400", code)
	}
}

func TestChangesPolling(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, ServerOptions{})
	featureID := setupHierarchy(t, ts.URL)

	var before models.Delta
	since := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	if code := do(t, "GET", ts.URL+"/changes?since="+since+"&agent_id=qa_001", "", &before); code != 200 {
		t.Fatalf("changes status=%d", code)
	}
	if len(before.Tasks) != 0 {
		t.Fatalf("initial tasks = %d", len(before.Tasks))
	}

	task := createTask(t, ts.URL, featureID, "watched", "backend_dev", "junior")
	do(t, "POST", fmt.Sprintf("%s/tasks/%d/comment?agent_id=dev_001", ts.URL, task.TaskID), `{"body":"fyi @qa_001"}`, nil)

	var delta models.Delta
	if code := do(t, "GET", ts.URL+"/changes?since="+since+"&agent_id=qa_001", "", &delta); code != 200 {
		t.Fatalf("changes status=%d", code)
	}
	if len(delta.Tasks) != 1 || delta.Tasks[0].TaskID != task.TaskID {
		t.Fatalf("delta tasks = %+v", delta.Tasks)
	}
	if len(delta.Mentions) != 1 {
		t.Fatalf("delta mentions = %+v", delta.Mentions)
	}
	if delta.Timestamp.IsZero() {
		t.Fatal("cursor missing")
	}

	// Unix-seconds cursors work too.
	unix := fmt.Sprintf("%d", time.Now().Add(time.Hour).Unix())
	if code := do(t, "GET", ts.URL+"/changes?since="+unix, "", &delta); code != 200 {
		t.Fatalf("unix cursor status=%d", code)
	}
	if len(delta.Tasks) != 0 {
		t.Fatalf("future cursor tasks = %d", len(delta.Tasks))
	}
	if code := do(t, "GET", ts.URL+"/changes?since=not-a-time", "", nil); code != 400 {
		t.Fatalf("bad cursor status=%d, want 400", code)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, ServerOptions{APIKey: "sekret"})

	// Health and metrics stay open.
	if code := do(t, "GET", ts.URL+"/health", "", nil); code != 200 {
		t.Fatalf("health status=%d", code)
	}
	if code := do(t, "GET", ts.URL+"/metrics", "", nil); code != 200 {
		t.Fatalf("metrics status=%d", code)
	}

	if code := do(t, "GET", ts.URL+"/projects", "", nil); code != 401 {
		t.Fatalf("no key status=%d, want 401", code)
	}
	req, _ := http.NewRequest("GET", ts.URL+"/projects", nil)
	req.Header.Set("X-API-Key", "wrong")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != 401 {
		t.Fatalf("wrong key status=%d, want 401", resp.StatusCode)
	}

	req.Header.Set("X-API-Key", "sekret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("good key status=%d", resp.StatusCode)
	}
	// Query param form.
	if code := do(t, "GET", ts.URL+"/projects?api_key=sekret", "", nil); code != 200 {
		t.Fatalf("query key status=%d", code)
	}
}

func TestSeededStore(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, ServerOptions{Seed: true})

	var projects []models.Project
	if code := do(t, "GET", ts.URL+"/projects", "", &projects); code != 200 || len(projects) != 1 {
		t.Fatalf("seeded projects code=%d n=%d", 200, len(projects))
	}
	var agents []models.Agent
	if code := do(t, "GET", ts.URL+"/agents", "", &agents); code != 200 || len(agents) != 2 {
		t.Fatalf("seeded agents n=%d", len(agents))
	}
}

func TestProjectArchiveOverHTTP(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, ServerOptions{})
	featureID := setupHierarchy(t, ts.URL)
	task := createTask(t, ts.URL, featureID, "parked", "backend_dev", "junior")

	var projects []models.Project
	do(t, "GET", ts.URL+"/projects", "", &projects)
	if code := do(t, "POST", ts.URL+"/projects/"+projects[0].ProjectID+"/archive", "", nil); code != 200 {
		t.Fatalf("archive status=%d", code)
	}

	// Hidden from listings and routing; the task row itself survives.
	var after []models.Project
	do(t, "GET", ts.URL+"/projects", "", &after)
	if len(after) != 0 {
		t.Fatalf("projects after archive = %d, want 0", len(after))
	}
	var next struct {
		Task *models.Task `json:"task"`
	}
	if code := do(t, "GET", ts.URL+"/tasks/next?role=backend_dev&level=senior", "", &next); code != 200 {
		t.Fatalf("next status=%d", code)
	}
	if next.Task != nil {
		t.Fatalf("archived project task routed: %+v", next.Task)
	}
	if code := do(t, "GET", fmt.Sprintf("%s/tasks/%d", ts.URL, task.TaskID), "", nil); code != 200 {
		t.Fatalf("task after archive status=%d, want 200", code)
	}

	if code := do(t, "POST", ts.URL+"/projects/"+projects[0].ProjectID+"/archive", "", nil); code != 404 {
		t.Fatalf("double archive status=%d, want 404", code)
	}
	// Hard delete still purges the archived project.
	if code := do(t, "DELETE", ts.URL+"/projects/"+projects[0].ProjectID, "", nil); code != 200 {
		t.Fatalf("purge status=%d", code)
	}
	if code := do(t, "GET", fmt.Sprintf("%s/tasks/%d", ts.URL, task.TaskID), "", nil); code != 404 {
		t.Fatalf("task after purge status=%d, want 404", code)
	}
}

func TestProjectDeleteOverHTTP(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, ServerOptions{})
	featureID := setupHierarchy(t, ts.URL)
	task := createTask(t, ts.URL, featureID, "doomed", "backend_dev", "junior")

	var projects []models.Project
	do(t, "GET", ts.URL+"/projects", "", &projects)
	if code := do(t, "DELETE", ts.URL+"/projects/"+projects[0].ProjectID, "", nil); code != 200 {
		t.Fatalf("delete project status=%d", code)
	}
	if code := do(t, "GET", fmt.Sprintf("%s/tasks/%d", ts.URL, task.TaskID), "", nil); code != 404 {
		t.Fatalf("task after delete status=%d, want 404", code)
	}
	if code := do(t, "DELETE", ts.URL+"/projects/"+projects[0].ProjectID, "", nil); code != 404 {
		t.Fatalf("double delete status=%d, want 404", code)
	}
}
