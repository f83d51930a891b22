package comms

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foremanhq/foreman/internal/state"
	"github.com/foremanhq/foreman/pkg/models"
)

func testDB(t *testing.T) *state.DB {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "foreman.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBusSendAndInbox(t *testing.T) {
	bus := NewBus(testDB(t))

	require.NoError(t, bus.Send(&models.Message{
		From:    "backend_001",
		To:      "qa_001",
		Type:    models.MessageTypeQuestion,
		Subject: "flaky test",
		Body:    "is the fixture shared between runs?",
	}))
	require.NoError(t, bus.Broadcast(&models.Message{
		From:    "eng_manager_001",
		Type:    models.MessageTypeStatusUpdate,
		Subject: "standup",
	}))
	require.NoError(t, bus.Send(&models.Message{
		From:    "backend_001",
		To:      "frontend_001",
		Type:    models.MessageTypeQuestion,
		Subject: "not for qa",
	}))

	inbox, err := bus.Inbox("qa_001", 0)
	require.NoError(t, err)
	require.Len(t, inbox, 2, "direct message plus broadcast")
	for _, msg := range inbox {
		assert.NotEmpty(t, msg.ID)
		assert.Equal(t, models.PriorityNormal, msg.Priority)
	}
}

func TestBusInboxNewestFirstCapped(t *testing.T) {
	bus := NewBus(testDB(t))

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 25; i++ {
		require.NoError(t, bus.Send(&models.Message{
			From:      "eng_manager_001",
			To:        "backend_001",
			Type:      models.MessageTypeStatusUpdate,
			Subject:   "update",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	inbox, err := bus.Inbox("backend_001", 0)
	require.NoError(t, err)
	require.Len(t, inbox, DefaultInboxLimit)
	assert.True(t, inbox[0].Timestamp.After(inbox[len(inbox)-1].Timestamp), "newest first")
}

func TestBusRejectsInvalidMessages(t *testing.T) {
	bus := NewBus(testDB(t))

	err := bus.Send(&models.Message{From: "a", To: "b", Type: "gossip", Subject: "x"})
	assert.Error(t, err)

	err = bus.Send(&models.Message{Type: models.MessageTypeQuestion, Subject: "x"})
	assert.Error(t, err)
}

func TestReportsUpsertSameDay(t *testing.T) {
	db := testDB(t)
	reports := NewReports(db, NewBus(db))

	day := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, reports.Submit(&models.StatusReport{
		AgentID:   "backend_001",
		AgentName: "Aria",
		Timestamp: day,
		WorkingOn: "auth service",
	}))
	require.NoError(t, reports.Submit(&models.StatusReport{
		AgentID:      "backend_001",
		AgentName:    "Aria",
		Timestamp:    day.Add(6 * time.Hour),
		WorkingOn:    "auth service tests",
		TestsWritten: 4,
	}))

	got, err := reports.ForDate("20260501")
	require.NoError(t, err)
	require.Len(t, got, 1, "same agent same day overwrites")
	assert.Equal(t, "auth service tests", got[0].WorkingOn)
	assert.Equal(t, 4, got[0].TestsWritten)
}

func TestReportsBroadcastDigest(t *testing.T) {
	db := testDB(t)
	bus := NewBus(db)
	reports := NewReports(db, bus)

	day := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, reports.Submit(&models.StatusReport{
		AgentID: "backend_001", AgentName: "Aria", Timestamp: day,
		WorkingOn: "auth service", TestsWritten: 3, BugsFixed: 1,
	}))
	require.NoError(t, reports.Submit(&models.StatusReport{
		AgentID: "qa_001", AgentName: "Iris", Timestamp: day,
		WorkingOn: "load tests", Blockers: []string{"staging env down"},
	}))

	require.NoError(t, reports.BroadcastDigest("eng_manager_001", "20260501"))

	inbox, err := bus.Inbox("frontend_001", 0)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Contains(t, inbox[0].Body, "Aria")
	assert.Contains(t, inbox[0].Body, "staging env down")
	assert.Contains(t, inbox[0].Body, "3 tests written, 1 bugs fixed, 1 agents blocked")
}

func reviewFixture(t *testing.T) (*Reviews, *state.TaskStore, *Bus, *models.Task) {
	t.Helper()
	db := testDB(t)
	bus := NewBus(db)
	tasks := state.NewTaskStore(db)
	reviews := NewReviews(db, bus, tasks)

	task := &models.Task{Title: "Add rate limiting", AssignedTo: "backend_001"}
	require.NoError(t, tasks.Create(task))
	require.NoError(t, tasks.Transition(task, models.TaskStatusInProgress))
	task.Result = &models.TaskResult{
		Result:       "implemented token bucket middleware",
		FilesChanged: []string{"middleware/ratelimit.go"},
		TestCoverage: 88,
	}
	require.NoError(t, tasks.Transition(task, models.TaskStatusInReview))
	return reviews, tasks, bus, task
}

func TestReviewRequestLinksTask(t *testing.T) {
	reviews, tasks, bus, task := reviewFixture(t)

	review, err := reviews.Request(task, "qa_001")
	require.NoError(t, err)
	assert.Equal(t, task.ID, review.TaskID)
	assert.Equal(t, models.ReviewStatusPending, review.Status)

	got, err := tasks.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, review.ID, got.ReviewID)
	assert.Equal(t, "qa_001", got.Reviewer)

	inbox, err := bus.Inbox("qa_001", 0)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, models.MessageTypeCodeReview, inbox[0].Type)
	assert.Equal(t, review.ID, inbox[0].Attachments["review_id"])
}

func TestReviewApproveCompletesTask(t *testing.T) {
	reviews, tasks, bus, task := reviewFixture(t)
	review, err := reviews.Request(task, "qa_001")
	require.NoError(t, err)

	require.NoError(t, reviews.Approve(review.ID, "qa_001", "clean implementation"))

	got, err := tasks.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)

	resolved, err := reviews.Get(review.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStatusApproved, resolved.Status)
	assert.Equal(t, "qa_001", resolved.ReviewedBy)
	assert.NotNil(t, resolved.ResolvedAt)

	inbox, err := bus.Inbox("backend_001", 0)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Contains(t, inbox[0].Subject, "approved")
}

func TestReviewRequestChangesReturnsTaskToQueue(t *testing.T) {
	reviews, tasks, _, task := reviewFixture(t)
	review, err := reviews.Request(task, "qa_001")
	require.NoError(t, err)

	require.NoError(t, reviews.RequestChanges(review.ID, "qa_001", "missing tests for burst traffic"))

	got, err := tasks.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, got.Status)
	assert.Equal(t, "missing tests for burst traffic", got.ReviewFeedback)
}

func TestReviewDoubleResolveRejected(t *testing.T) {
	reviews, _, _, task := reviewFixture(t)
	review, err := reviews.Request(task, "qa_001")
	require.NoError(t, err)

	require.NoError(t, reviews.Approve(review.ID, "qa_001", "ok"))
	err = reviews.Approve(review.ID, "qa_001", "again")
	assert.Error(t, err)
}

func TestReviewPendingForOrderAndLimit(t *testing.T) {
	db := testDB(t)
	bus := NewBus(db)
	tasks := state.NewTaskStore(db)
	reviews := NewReviews(db, bus, tasks)

	for i := 0; i < 5; i++ {
		task := &models.Task{
			ID:         models.NewTaskID(time.Now().Add(time.Duration(i)*time.Second), string(rune('a'+i))),
			Title:      "change",
			AssignedTo: "backend_001",
		}
		require.NoError(t, tasks.Create(task))
		require.NoError(t, tasks.Transition(task, models.TaskStatusInProgress))
		task.Result = &models.TaskResult{FilesChanged: []string{"f.go"}}
		require.NoError(t, tasks.Transition(task, models.TaskStatusInReview))
		_, err := reviews.Request(task, "qa_001")
		require.NoError(t, err)
	}

	pending, err := reviews.PendingFor("qa_001", 3)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.True(t, !pending[0].CreatedAt.After(pending[1].CreatedAt), "oldest first")
}
