package orchestrator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foremanhq/foreman/internal/comms"
	"github.com/foremanhq/foreman/internal/config"
	"github.com/foremanhq/foreman/internal/envs"
	"github.com/foremanhq/foreman/internal/gen"
	"github.com/foremanhq/foreman/internal/improve"
	"github.com/foremanhq/foreman/internal/logging"
	"github.com/foremanhq/foreman/internal/roster"
	"github.com/foremanhq/foreman/internal/state"
	"github.com/foremanhq/foreman/pkg/models"
)

const coordinatorID = "eng_manager_001"

type scriptedProvider struct {
	responses map[string]string
}

func (p *scriptedProvider) Generate(_ context.Context, req gen.Request) (*gen.Response, error) {
	if text, ok := p.responses[req.CallerID]; ok {
		return &gen.Response{Text: text, InputTokens: 10, OutputTokens: 10}, nil
	}
	return &gen.Response{Text: p.responses[""], InputTokens: 10, OutputTokens: 10}, nil
}

type fixture struct {
	engine  *Engine
	db      *state.DB
	tasks   *state.TaskStore
	bus     *comms.Bus
	reports *comms.Reports
	reviews *comms.Reviews
}

func newFixture(t *testing.T, provider gen.Provider) *fixture {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "foreman.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })

	log := logging.Nop()
	tasks := state.NewTaskStore(db)
	bus := comms.NewBus(db)
	reports := comms.NewReports(db, bus)
	reviews := comms.NewReviews(db, bus, tasks)
	gateway := gen.NewGateway(provider, gen.NewLimiter(1000, 1_000_000, 0.85), log)
	envMgr := envs.NewManager(db, log, coordinatorID, 90.0)
	evaluator := improve.NewEvaluator(gateway, tasks, db, log)

	r, err := roster.Load("")
	require.NoError(t, err)

	pipeline := improve.NewPipeline(evaluator, envMgr, r, improve.PipelineConfig{
		ScoreThreshold: 85,
		PanelSize:      4,
		Criteria:       improve.VoteCriteria{ApprovalThreshold: 0.80, MaxNoVotes: 2},
	})

	cfg := &config.Config{
		Coordinator: coordinatorID,
		Intervals: config.IntervalsConfig{
			Cycle:        time.Millisecond,
			CycleSlow:    time.Millisecond,
			SelfEval:     time.Hour,
			ErrorBackoff: time.Millisecond,
		},
		Cycle: config.CycleConfig{
			ReviewsPerCycle:   3,
			BlockersPerCycle:  3,
			ReportEveryCycles: 5,
			PlanningMinTasks:  10,
			PlanningMaxTasks:  25,
		},
	}

	engine := New(Deps{
		Config:    cfg,
		Log:       log,
		DB:        db,
		Tasks:     tasks,
		Roster:    r,
		Gateway:   gateway,
		Bus:       bus,
		Reports:   reports,
		Reviews:   reviews,
		Evaluator: evaluator,
		Pipeline:  pipeline,
	})
	engine.st = &state.EngineState{CycleCount: 1, StartedAt: time.Now().Add(-2 * time.Hour)}
	return &fixture{engine: engine, db: db, tasks: tasks, bus: bus, reports: reports, reviews: reviews}
}

func createTask(t *testing.T, f *fixture, agentID, title string) *models.Task {
	t.Helper()
	task := &models.Task{Title: title, AssignedTo: agentID, Priority: 2}
	require.NoError(t, f.tasks.Create(task))
	return task
}

func TestColdStartSeedsBacklogAndEvaluation(t *testing.T) {
	f := newFixture(t, &scriptedProvider{responses: map[string]string{
		"": "Everything is new.\nOVERALL SCORE: 50/100",
	}})
	f.engine.st.StartedAt = time.Now()

	require.NoError(t, f.engine.coldStart(context.Background()))

	stats, err := f.tasks.Stats()
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Total)
	assert.Equal(t, 5, stats.Pending)

	eval, err := improve.LatestEvaluation(f.db)
	require.NoError(t, err)
	require.NotNil(t, eval)
	assert.Equal(t, 50, eval.Score)
	assert.NotNil(t, f.engine.st.LastSelfEval)
}

func TestColdStartLeavesExistingBacklogAlone(t *testing.T) {
	f := newFixture(t, &scriptedProvider{responses: map[string]string{
		"": "OVERALL SCORE: 50/100",
	}})
	createTask(t, f, "backend_001", "Existing work")

	require.NoError(t, f.engine.coldStart(context.Background()))

	stats, err := f.tasks.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
}

func TestPlanningCreatesTasksAndSkipsUnknownAgents(t *testing.T) {
	f := newFixture(t, &scriptedProvider{responses: map[string]string{
		coordinatorID: `{
			"tasks": [
				{"title": "Build ingest endpoint", "description": "POST /ingest", "assigned_to": "backend_001", "priority": 1},
				{"title": "Design settings page", "description": "Mockups", "assigned_to": "designer_001", "priority": 2},
				{"title": "Ghost task", "description": "Nobody home", "assigned_to": "intern_042", "priority": 3}
			],
			"strategy": "fill the queue"
		}`,
	}})

	require.NoError(t, f.engine.planTasks(context.Background()))

	all, err := f.tasks.List()
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, task := range all {
		assert.NotEqual(t, "intern_042", task.AssignedTo)
		assert.Equal(t, models.TaskStatusPending, task.Status)
	}
}

func TestPlanningSeedsStarterTasksWhenOracleUnusable(t *testing.T) {
	f := newFixture(t, &scriptedProvider{responses: map[string]string{
		coordinatorID: "I cannot produce a plan right now.",
	}})

	require.NoError(t, f.engine.planTasks(context.Background()))

	stats, err := f.tasks.Stats()
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Total)
}

func TestExecuteCompletesTaskWithProof(t *testing.T) {
	f := newFixture(t, &scriptedProvider{responses: map[string]string{
		"backend_001": `{
			"status": "completed",
			"result": "Implemented the ingest endpoint with validation and tests",
			"actions_taken": ["Created handler", "Wrote tests"]
		}`,
		"": `{"status": "blocked", "blockers": ["no work assigned"]}`,
	}})
	task := createTask(t, f, "backend_001", "Build ingest endpoint")

	require.NoError(t, f.engine.executeTasks(context.Background()))

	got, err := f.tasks.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.NotEmpty(t, got.Result.ActionsTaken)
	assert.NotNil(t, got.CompletedAt)
}

func TestExecuteRoutesChangedFilesToReview(t *testing.T) {
	f := newFixture(t, &scriptedProvider{responses: map[string]string{
		"backend_001": `{
			"status": "completed",
			"result": "Refactored the storage layer",
			"actions_taken": ["Refactored storage"],
			"files_changed": ["internal/storage/store.go"],
			"test_coverage": 0.92
		}`,
	}})
	task := createTask(t, f, "backend_001", "Refactor storage layer")

	require.NoError(t, f.engine.executeTasks(context.Background()))

	got, err := f.tasks.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusInReview, got.Status)
	assert.Equal(t, coordinatorID, got.Reviewer)
	assert.NotEmpty(t, got.ReviewID)

	pending, err := f.reviews.PendingFor(coordinatorID, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, task.ID, pending[0].TaskID)
}

func TestExecuteBlocksWithoutProof(t *testing.T) {
	f := newFixture(t, &scriptedProvider{responses: map[string]string{
		"backend_001": `{"status": "completed", "result": "done"}`,
	}})
	task := createTask(t, f, "backend_001", "Vague work")

	require.NoError(t, f.engine.executeTasks(context.Background()))

	got, err := f.tasks.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusBlocked, got.Status)
	assert.Equal(t, missingProofReason, got.BlockedReason)

	inbox, err := f.bus.Inbox("backend_001", 10)
	require.NoError(t, err)
	require.NotEmpty(t, inbox)
	assert.Equal(t, models.MessageTypeBlocker, inbox[0].Type)
	assert.Equal(t, coordinatorID, inbox[0].From)
}

func TestExecuteHonorsBlockedClaim(t *testing.T) {
	f := newFixture(t, &scriptedProvider{responses: map[string]string{
		"backend_001": `{"status": "blocked", "blockers": ["waiting on API credentials"]}`,
	}})
	task := createTask(t, f, "backend_001", "Integrate payment provider")

	require.NoError(t, f.engine.executeTasks(context.Background()))

	got, err := f.tasks.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusBlocked, got.Status)
	assert.Equal(t, []string{"waiting on API credentials"}, got.Blockers)

	inbox, err := f.bus.Inbox(coordinatorID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, inbox)
	assert.Equal(t, models.MessageTypeBlocker, inbox[0].Type)
	assert.Equal(t, models.PriorityUrgent, inbox[0].Priority)
}

func reviewedTask(t *testing.T, f *fixture, agentID string) *models.Task {
	t.Helper()
	task := createTask(t, f, agentID, "Reviewed work")
	require.NoError(t, f.tasks.Transition(task, models.TaskStatusInProgress))
	task.Result = &models.TaskResult{
		Result:       "Changed the scheduler",
		FilesChanged: []string{"scheduler.go"},
		TestCoverage: 0.91,
	}
	_, err := f.reviews.Request(task, coordinatorID)
	require.NoError(t, err)
	require.NoError(t, f.tasks.Transition(task, models.TaskStatusInReview))
	return task
}

func TestReviewApprovalCompletesTask(t *testing.T) {
	f := newFixture(t, &scriptedProvider{responses: map[string]string{
		coordinatorID: `{"decision": "approved", "comments": "Clean change, good coverage."}`,
	}})
	task := reviewedTask(t, f, "backend_001")

	require.NoError(t, f.engine.processReviews(context.Background()))

	got, err := f.tasks.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)

	review, err := f.reviews.Get(task.ReviewID)
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStatusApproved, review.Status)
	assert.Equal(t, coordinatorID, review.ReviewedBy)
}

func TestReviewChangesRequeueTask(t *testing.T) {
	f := newFixture(t, &scriptedProvider{responses: map[string]string{
		coordinatorID: `{
			"decision": "changes_requested",
			"comments": "Coverage is below the bar.",
			"specific_feedback": ["Add tests for the error path"]
		}`,
	}})
	task := reviewedTask(t, f, "backend_001")

	require.NoError(t, f.engine.processReviews(context.Background()))

	got, err := f.tasks.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, got.Status)
	assert.Contains(t, got.ReviewFeedback, "Coverage is below the bar.")
	assert.Contains(t, got.ReviewFeedback, "Add tests for the error path")
}

func TestBlockerResolutionRequeuesAndCreatesHelpers(t *testing.T) {
	f := newFixture(t, &scriptedProvider{responses: map[string]string{
		coordinatorID: `{
			"analysis": "Missing credentials",
			"solution": "Use the staging credentials from the vault",
			"action_items": ["Fetch staging credentials"],
			"helper_tasks": [
				{"title": "Provision staging credentials", "assigned_to": "devops_001", "description": "Create and share staging keys"}
			]
		}`,
	}})
	task := createTask(t, f, "backend_001", "Integrate payment provider")
	require.NoError(t, f.tasks.Transition(task, models.TaskStatusInProgress))
	task.Blockers = []string{"waiting on API credentials"}
	require.NoError(t, f.tasks.Transition(task, models.TaskStatusBlocked))

	require.NoError(t, f.engine.processBlockers(context.Background()))

	got, err := f.tasks.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, got.Status)
	assert.Empty(t, got.BlockedReason)

	all, err := f.tasks.List()
	require.NoError(t, err)
	require.Len(t, all, 2)
	var helper *models.Task
	for _, candidate := range all {
		if candidate.ID != task.ID {
			helper = candidate
		}
	}
	require.NotNil(t, helper)
	assert.Equal(t, "Provision staging credentials", helper.Title)
	assert.Equal(t, "devops_001", helper.AssignedTo)
	assert.Equal(t, 1, helper.Priority)

	inbox, err := f.bus.Inbox("backend_001", 10)
	require.NoError(t, err)
	require.NotEmpty(t, inbox)
	assert.Equal(t, models.MessageTypeHelpRequest, inbox[0].Type)
	assert.Contains(t, inbox[0].Body, "staging credentials")
}

func TestStatusReportsSynthesizedFromTasks(t *testing.T) {
	f := newFixture(t, &scriptedProvider{responses: map[string]string{}})

	done := createTask(t, f, "backend_001", "Fix login test flake")
	require.NoError(t, f.tasks.Transition(done, models.TaskStatusInProgress))
	done.Result = &models.TaskResult{ActionsTaken: []string{"Pinned the clock in tests"}}
	require.NoError(t, f.tasks.Transition(done, models.TaskStatusCompleted))

	createTask(t, f, "backend_001", "Build export job")

	require.NoError(t, f.engine.collectStatusReports(context.Background()))

	reports, err := f.reports.ForDate(comms.DateKey(time.Now()))
	require.NoError(t, err)
	require.NotEmpty(t, reports)

	var backend *models.StatusReport
	for _, r := range reports {
		if r.AgentID == "backend_001" {
			backend = r
		}
	}
	require.NotNil(t, backend)
	assert.Equal(t, []string{"Fix login test flake"}, backend.CompletedToday)
	assert.Equal(t, "Build export job", backend.WorkingOn)
	assert.Equal(t, 1, backend.TestsWritten)
	assert.Equal(t, 1, backend.BugsFixed)
	assert.Greater(t, backend.Velocity, 0.0)

	recent, err := f.bus.Recent(5)
	require.NoError(t, err)
	require.NotEmpty(t, recent)
	assert.Equal(t, models.MessageTypeStatusUpdate, recent[0].Type)
	assert.Equal(t, models.BroadcastRecipient, recent[0].To)
}

func TestSelfEvaluationHonorsInterval(t *testing.T) {
	f := newFixture(t, &scriptedProvider{responses: map[string]string{
		"":               `{"works": true, "deploy_vote": "yes", "confidence": "high"}`,
		"self_evaluator": "Steady progress.\nOVERALL SCORE: 90/100",
		"self_improver":  `{"skip": true}`,
	}})

	recent := time.Now().Add(-time.Minute)
	f.engine.st.LastSelfEval = &recent
	require.NoError(t, f.engine.maybeSelfEvaluate(context.Background()))
	eval, err := improve.LatestEvaluation(f.db)
	require.NoError(t, err)
	assert.Nil(t, eval)

	stale := time.Now().Add(-2 * time.Hour)
	f.engine.st.LastSelfEval = &stale
	require.NoError(t, f.engine.maybeSelfEvaluate(context.Background()))
	eval, err = improve.LatestEvaluation(f.db)
	require.NoError(t, err)
	require.NotNil(t, eval)
	assert.Equal(t, 90, eval.Score)
	assert.WithinDuration(t, time.Now(), *f.engine.st.LastSelfEval, time.Minute)

	cycles, err := improve.Cycles(f.db, 5)
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.Equal(t, models.CycleStatusSkipped, cycles[0].Status)
}

func TestRunExecutesOneCycleAndStops(t *testing.T) {
	f := newFixture(t, &scriptedProvider{responses: map[string]string{
		coordinatorID:    `{"tasks": [{"title": "Kick off", "description": "First task", "assigned_to": "backend_001", "priority": 1}], "strategy": "start"}`,
		"":               `{"status": "completed", "result": "Did the work", "actions_taken": ["did it"]}`,
		"self_evaluator": "OVERALL SCORE: 95/100",
	}})

	stop := make(chan struct{})
	f.engine.sleep = func(ctx context.Context, d time.Duration) error {
		close(stop)
		return context.Canceled
	}

	err := f.engine.Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)
	select {
	case <-stop:
	default:
		t.Fatal("engine never completed a cycle")
	}

	st, err := f.db.LoadEngineState()
	require.NoError(t, err)
	assert.Equal(t, 1, st.CycleCount)
	assert.False(t, st.StartedAt.IsZero())
}
