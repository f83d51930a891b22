package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/foremanhq/foreman/pkg/models"
)

// ErrTaskNotFound is returned when a task ID doesn't exist.
var ErrTaskNotFound = errors.New("task not found")

// TransitionError reports an attempted illegal task status change.
type TransitionError struct {
	TaskID string
	From   models.TaskStatus
	To     models.TaskStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("task %s: illegal transition %s -> %s", e.TaskID, e.From, e.To)
}

// TaskStore manages task persistence and the task state machine.
type TaskStore struct {
	db *DB
}

// NewTaskStore creates a task store backed by the given database.
func NewTaskStore(db *DB) *TaskStore {
	return &TaskStore{db: db}
}

// Create inserts a new pending task. A missing ID is generated and a
// priority outside 1..4 is clamped before the insert.
func (s *TaskStore) Create(task *models.Task) error {
	if task.ID == "" {
		task.ID = models.NewTaskID(time.Now(), uuid.New().String()[:8])
	}
	if task.AssignedTo == "" {
		return fmt.Errorf("task %s: assigned_to is required", task.ID)
	}
	task.Priority = models.ClampPriority(task.Priority)
	if task.Status == "" {
		task.Status = models.TaskStatusPending
	}
	if !task.Status.Valid() {
		return fmt.Errorf("task %s: invalid status %q", task.ID, task.Status)
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	deps, err := marshalStrings(task.Dependencies)
	if err != nil {
		return fmt.Errorf("marshal dependencies: %w", err)
	}
	blockers, err := marshalStrings(task.Blockers)
	if err != nil {
		return fmt.Errorf("marshal blockers: %w", err)
	}
	result, err := marshalResult(task.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO tasks (
			id, title, description, assigned_to, priority, dependencies,
			status, created_at, started_at, completed_at,
			result_json, result_text, blockers, blocked_reason,
			review_id, reviewer, review_feedback, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Title, task.Description, task.AssignedTo, task.Priority, deps,
		string(task.Status), FormatTime(task.CreatedAt), nullableTime(task.StartedAt), nullableTime(task.CompletedAt),
		result, task.ResultText, blockers, task.BlockedReason,
		task.ReviewID, task.Reviewer, task.ReviewFeedback, task.Error,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// Get returns the task with the given ID.
func (s *TaskStore) Get(id string) (*models.Task, error) {
	row := s.db.QueryRow(selectTask+" WHERE id = ?", id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return task, err
}

// List returns all tasks, newest first.
func (s *TaskStore) List() ([]*models.Task, error) {
	return s.query(selectTask + " ORDER BY created_at DESC")
}

// ListByStatus returns all tasks with the given status, oldest first so
// the longest-waiting work is picked up before newer work.
func (s *TaskStore) ListByStatus(status models.TaskStatus) ([]*models.Task, error) {
	return s.query(selectTask+" WHERE status = ? ORDER BY created_at ASC", string(status))
}

// NextPendingForAgent returns the highest-priority pending task assigned
// to the given agent, or nil when none is waiting.
func (s *TaskStore) NextPendingForAgent(agentID string) (*models.Task, error) {
	row := s.db.QueryRow(
		selectTask+" WHERE status = ? AND assigned_to = ? ORDER BY priority ASC, created_at ASC LIMIT 1",
		string(models.TaskStatusPending), agentID,
	)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return task, err
}

// Update persists all mutable fields of an existing task. The status is
// written as-is, so callers that change it must go through Transition.
func (s *TaskStore) Update(task *models.Task) error {
	deps, err := marshalStrings(task.Dependencies)
	if err != nil {
		return fmt.Errorf("marshal dependencies: %w", err)
	}
	blockers, err := marshalStrings(task.Blockers)
	if err != nil {
		return fmt.Errorf("marshal blockers: %w", err)
	}
	result, err := marshalResult(task.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	res, err := s.db.Exec(`
		UPDATE tasks SET
			title = ?, description = ?, assigned_to = ?, priority = ?, dependencies = ?,
			status = ?, started_at = ?, completed_at = ?,
			result_json = ?, result_text = ?, blockers = ?, blocked_reason = ?,
			review_id = ?, reviewer = ?, review_feedback = ?, error = ?
		WHERE id = ?`,
		task.Title, task.Description, task.AssignedTo, task.Priority, deps,
		string(task.Status), nullableTime(task.StartedAt), nullableTime(task.CompletedAt),
		result, task.ResultText, blockers, task.BlockedReason,
		task.ReviewID, task.Reviewer, task.ReviewFeedback, task.Error,
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, task.ID)
	}
	return nil
}

// Transition moves a task to the given status, enforcing the state
// machine. Terminal states reject every further transition.
func (s *TaskStore) Transition(task *models.Task, next models.TaskStatus) error {
	if !next.Valid() {
		return fmt.Errorf("task %s: invalid status %q", task.ID, next)
	}
	if !task.Status.CanTransition(next) {
		return &TransitionError{TaskID: task.ID, From: task.Status, To: next}
	}

	now := time.Now()
	switch next {
	case models.TaskStatusInProgress:
		if task.StartedAt == nil {
			task.StartedAt = &now
		}
	case models.TaskStatusCompleted, models.TaskStatusFailed:
		task.CompletedAt = &now
	case models.TaskStatusPending:
		// Returning to the queue clears the stale block reason.
		task.BlockedReason = ""
	}
	task.Status = next
	return s.Update(task)
}

// Stats summarizes task counts by status.
type Stats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Blocked    int `json:"blocked"`
	InReview   int `json:"in_review"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// CompletionRate returns the fraction of terminal tasks that completed.
func (st Stats) CompletionRate() float64 {
	done := st.Completed + st.Failed
	if done == 0 {
		return 0
	}
	return float64(st.Completed) / float64(done)
}

// Stats returns task counts grouped by status.
func (s *TaskStore) Stats() (Stats, error) {
	rows, err := s.db.Query("SELECT status, COUNT(*) FROM tasks GROUP BY status")
	if err != nil {
		return Stats{}, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	var st Stats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, fmt.Errorf("scan stats: %w", err)
		}
		st.Total += count
		switch models.TaskStatus(status) {
		case models.TaskStatusPending:
			st.Pending = count
		case models.TaskStatusInProgress:
			st.InProgress = count
		case models.TaskStatusBlocked:
			st.Blocked = count
		case models.TaskStatusInReview:
			st.InReview = count
		case models.TaskStatusCompleted:
			st.Completed = count
		case models.TaskStatusFailed:
			st.Failed = count
		}
	}
	return st, rows.Err()
}

// CompletedSince counts tasks completed at or after the given time.
func (s *TaskStore) CompletedSince(t time.Time) (int, error) {
	var n int
	row := s.db.QueryRow(
		"SELECT COUNT(*) FROM tasks WHERE status = ? AND completed_at >= ?",
		string(models.TaskStatusCompleted), FormatTime(t),
	)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count completed: %w", err)
	}
	return n, nil
}

const selectTask = `
	SELECT id, title, description, assigned_to, priority, dependencies,
		status, created_at, started_at, completed_at,
		result_json, result_text, blockers, blocked_reason,
		review_id, reviewer, review_feedback, error
	FROM tasks`

func (s *TaskStore) query(query string, args ...any) ([]*models.Task, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var task models.Task
	var deps, blockers, result sql.NullString
	var createdAt string
	var startedAt, completedAt sql.NullString

	err := row.Scan(
		&task.ID, &task.Title, &task.Description, &task.AssignedTo, &task.Priority, &deps,
		&task.Status, &createdAt, &startedAt, &completedAt,
		&result, &task.ResultText, &blockers, &task.BlockedReason,
		&task.ReviewID, &task.Reviewer, &task.ReviewFeedback, &task.Error,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}

	task.CreatedAt, err = ParseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	task.StartedAt = ParseNullableTime(startedAt)
	task.CompletedAt = ParseNullableTime(completedAt)
	task.Dependencies = unmarshalStrings(deps)
	task.Blockers = unmarshalStrings(blockers)
	if result.Valid && strings.TrimSpace(result.String) != "" {
		var r models.TaskResult
		if err := json.Unmarshal([]byte(result.String), &r); err != nil {
			return nil, fmt.Errorf("parse result: %w", err)
		}
		task.Result = &r
	}
	return &task, nil
}

func marshalStrings(ss []string) (string, error) {
	if len(ss) == 0 {
		return "", nil
	}
	b, err := json.Marshal(ss)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalStrings(s sql.NullString) []string {
	if !s.Valid || s.String == "" {
		return nil
	}
	var ss []string
	if err := json.Unmarshal([]byte(s.String), &ss); err != nil {
		return nil
	}
	return ss
}

func marshalResult(r *models.TaskResult) (string, error) {
	if r == nil {
		return "", nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return FormatTime(*t)
}
