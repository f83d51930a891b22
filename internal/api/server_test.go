package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foremanhq/foreman/internal/comms"
	"github.com/foremanhq/foreman/internal/envs"
	"github.com/foremanhq/foreman/internal/gen"
	"github.com/foremanhq/foreman/internal/logging"
	"github.com/foremanhq/foreman/internal/roster"
	"github.com/foremanhq/foreman/internal/state"
	"github.com/foremanhq/foreman/pkg/models"
)

const coordinatorID = "eng_manager_001"

type fixture struct {
	server  *Server
	handler http.Handler
	tasks   *state.TaskStore
	reviews *comms.Reviews
	bus     *comms.Bus
	envs    *envs.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "foreman.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })

	log := logging.Nop()
	tasks := state.NewTaskStore(db)
	bus := comms.NewBus(db)
	reviews := comms.NewReviews(db, bus, tasks)
	envMgr := envs.NewManager(db, log, coordinatorID, 90.0)
	gateway := gen.NewGateway(nil, gen.NewLimiter(10, 1000, 0.85), log)

	r, err := roster.Load("")
	require.NoError(t, err)

	server := NewServer(Deps{
		Log:         log,
		DB:          db,
		Tasks:       tasks,
		Roster:      r,
		Bus:         bus,
		Reviews:     reviews,
		Envs:        envMgr,
		Gateway:     gateway,
		Coordinator: coordinatorID,
	})
	return &fixture{
		server:  server,
		handler: server.Handler(),
		tasks:   tasks,
		reviews: reviews,
		bus:     bus,
		envs:    envMgr,
	}
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) post(t *testing.T, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func inReviewTask(t *testing.T, f *fixture) *models.Task {
	t.Helper()
	task := &models.Task{Title: "Build export job", AssignedTo: "backend_001", Priority: 2}
	require.NoError(t, f.tasks.Create(task))
	require.NoError(t, f.tasks.Transition(task, models.TaskStatusInProgress))
	task.Result = &models.TaskResult{
		Result:       "Export job with tests",
		FilesChanged: []string{"export.go"},
		TestCoverage: 0.93,
	}
	_, err := f.reviews.Request(task, coordinatorID)
	require.NoError(t, err)
	require.NoError(t, f.tasks.Transition(task, models.TaskStatusInReview))
	return task
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	task := &models.Task{Title: "Work", AssignedTo: "backend_001"}
	require.NoError(t, f.tasks.Create(task))

	rec := f.get(t, "/api/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.EqualValues(t, 1, body["tasks"].(map[string]any)["total"])
	assert.Contains(t, body, "cycle_count")
	assert.Contains(t, body, "oracle_usage")
}

func TestTasksListAndFilter(t *testing.T) {
	f := newFixture(t)
	a := &models.Task{Title: "One", AssignedTo: "backend_001"}
	require.NoError(t, f.tasks.Create(a))
	b := &models.Task{Title: "Two", AssignedTo: "backend_002"}
	require.NoError(t, f.tasks.Create(b))
	require.NoError(t, f.tasks.Transition(b, models.TaskStatusInProgress))

	rec := f.get(t, "/api/tasks")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.Task](t, rec), 2)

	rec = f.get(t, "/api/tasks?status=in_progress")
	require.Equal(t, http.StatusOK, rec.Code)
	filtered := decode[[]models.Task](t, rec)
	require.Len(t, filtered, 1)
	assert.Equal(t, "Two", filtered[0].Title)

	rec = f.get(t, "/api/tasks?status=bogus")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTaskDetail(t *testing.T) {
	f := newFixture(t)
	task := &models.Task{Title: "One", AssignedTo: "backend_001"}
	require.NoError(t, f.tasks.Create(task))

	rec := f.get(t, "/api/tasks/"+task.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, task.ID, decode[models.Task](t, rec).ID)

	rec = f.get(t, "/api/tasks/TASK-missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApproveCompletesReviewedTask(t *testing.T) {
	f := newFixture(t)
	task := inReviewTask(t, f)

	rec := f.post(t, "/api/tasks/"+task.ID+"/approve", `{"comments": "ship it"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[models.Task](t, rec)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)

	review, err := f.reviews.Get(task.ReviewID)
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStatusApproved, review.Status)
	assert.Equal(t, "human", review.ReviewedBy)
}

func TestRejectRequeuesReviewedTask(t *testing.T) {
	f := newFixture(t)
	task := inReviewTask(t, f)

	rec := f.post(t, "/api/tasks/"+task.ID+"/reject", `{"approver": "eng_manager_001", "comments": "needs tests"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[models.Task](t, rec)
	assert.Equal(t, models.TaskStatusPending, got.Status)
	assert.Contains(t, got.ReviewFeedback, "needs tests")
}

func TestApproveWithoutReviewConflicts(t *testing.T) {
	f := newFixture(t)
	task := &models.Task{Title: "Plain", AssignedTo: "backend_001"}
	require.NoError(t, f.tasks.Create(task))

	rec := f.post(t, "/api/tasks/"+task.ID+"/approve", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestApproveTwiceConflicts(t *testing.T) {
	f := newFixture(t)
	task := inReviewTask(t, f)

	rec := f.post(t, "/api/tasks/"+task.ID+"/approve", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.post(t, "/api/tasks/"+task.ID+"/approve", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAgents(t *testing.T) {
	f := newFixture(t)

	rec := f.get(t, "/api/agents")
	require.Equal(t, http.StatusOK, rec.Code)
	agents := decode[[]models.Agent](t, rec)
	assert.NotEmpty(t, agents)

	task := &models.Task{Title: "Mine", AssignedTo: "backend_001"}
	require.NoError(t, f.tasks.Create(task))

	rec = f.get(t, "/api/agents/backend_001")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]json.RawMessage](t, rec)
	var agent models.Agent
	require.NoError(t, json.Unmarshal(body["agent"], &agent))
	assert.Equal(t, "backend_001", agent.ID)
	var tasks []models.Task
	require.NoError(t, json.Unmarshal(body["tasks"], &tasks))
	require.Len(t, tasks, 1)
	assert.Equal(t, "Mine", tasks[0].Title)

	rec = f.get(t, "/api/agents/nobody_007")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestActivity(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.bus.Send(&models.Message{
		From: "backend_001", To: coordinatorID,
		Type: models.MessageTypeQuestion, Subject: "Q", Body: "How do I run migrations?",
	}))

	rec := f.get(t, "/api/activity")
	require.Equal(t, http.StatusOK, rec.Code)
	msgs := decode[[]models.Message](t, rec)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Q", msgs[0].Subject)
}

func TestEvaluationsEmpty(t *testing.T) {
	f := newFixture(t)

	rec := f.get(t, "/api/evaluations")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]models.Evaluation](t, rec))

	rec = f.get(t, "/api/evaluations/latest")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEnvironment(t *testing.T) {
	f := newFixture(t)
	_, err := f.envs.DeployToTest("api-server", "v1.2.0", "backend_001")
	require.NoError(t, err)

	rec := f.get(t, "/api/environments/test")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]json.RawMessage](t, rec)
	var components []models.ComponentState
	require.NoError(t, json.Unmarshal(body["components"], &components))
	require.Len(t, components, 1)
	assert.Equal(t, "v1.2.0", components[0].Version)

	rec = f.get(t, "/api/environments/moon")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPendingDeployments(t *testing.T) {
	f := newFixture(t)
	_, err := f.envs.RequestProduction("api-server", "v1.2.0", "backend_001", models.TestResults{
		Coverage: 95, ReviewApproved: true, IntegrationTestsPassed: true,
		PerformanceBenchmarkMet: true, LoadTestPassed: true,
		DocumentationComplete: true, ManualApproval: true,
	}, "redeploy previous")
	require.NoError(t, err)

	rec := f.get(t, "/api/deployments/pending")
	require.Equal(t, http.StatusOK, rec.Code)
	pending := decode[[]models.DeploymentRequest](t, rec)
	require.Len(t, pending, 1)
	assert.Equal(t, "v1.2.0", pending[0].Version)
}
