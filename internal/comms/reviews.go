package comms

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/foremanhq/foreman/internal/state"
	"github.com/foremanhq/foreman/pkg/models"
)

// ErrReviewNotFound is returned when a review ID doesn't exist.
var ErrReviewNotFound = errors.New("review not found")

// Reviews manages the code review queue and resolves reviewed tasks
// through the task state machine.
type Reviews struct {
	db    *state.DB
	bus   *Bus
	tasks *state.TaskStore
}

// NewReviews creates a review queue backed by the given stores.
func NewReviews(db *state.DB, bus *Bus, tasks *state.TaskStore) *Reviews {
	return &Reviews{db: db, bus: bus, tasks: tasks}
}

// Request opens a review for the given task and notifies the reviewer.
// The task keeps a pointer to the review so either side can find the
// other without parsing identifiers.
func (r *Reviews) Request(task *models.Task, reviewerID string) (*models.CodeReviewRequest, error) {
	if task.Result == nil {
		return nil, fmt.Errorf("task %s has no result to review", task.ID)
	}

	review := &models.CodeReviewRequest{
		ID:           "REVIEW-" + uuid.New().String()[:8],
		TaskID:       task.ID,
		From:         task.AssignedTo,
		To:           reviewerID,
		Description:  task.Title,
		FilesChanged: task.Result.FilesChanged,
		TestCoverage: task.Result.TestCoverage,
		Status:       models.ReviewStatusPending,
		CreatedAt:    time.Now(),
	}

	files, err := json.Marshal(review.FilesChanged)
	if err != nil {
		return nil, fmt.Errorf("marshal files_changed: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO code_reviews (id, task_id, from_agent, to_agent, description, files_changed, test_coverage, status, comments, reviewed_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', '', ?)`,
		review.ID, review.TaskID, review.From, review.To, review.Description,
		string(files), review.TestCoverage, string(review.Status), state.FormatTime(review.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert review: %w", err)
	}

	task.ReviewID = review.ID
	task.Reviewer = reviewerID
	if err := r.tasks.Update(task); err != nil {
		return nil, fmt.Errorf("link review to task: %w", err)
	}

	notice := &models.Message{
		From:     review.From,
		To:       reviewerID,
		Type:     models.MessageTypeCodeReview,
		Subject:  fmt.Sprintf("Review requested: %s", task.Title),
		Body:     fmt.Sprintf("Files changed: %s", strings.Join(review.FilesChanged, ", ")),
		Priority: models.PriorityHigh,
		Attachments: map[string]string{
			"review_id": review.ID,
			"task_id":   task.ID,
		},
	}
	if err := r.bus.Send(notice); err != nil {
		return nil, fmt.Errorf("notify reviewer: %w", err)
	}
	return review, nil
}

// Get returns the review with the given ID.
func (r *Reviews) Get(id string) (*models.CodeReviewRequest, error) {
	row := r.db.QueryRow(selectReview+" WHERE id = ?", id)
	review, err := scanReview(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrReviewNotFound, id)
	}
	return review, err
}

// PendingFor returns up to limit open reviews assigned to the reviewer,
// oldest first.
func (r *Reviews) PendingFor(reviewerID string, limit int) ([]*models.CodeReviewRequest, error) {
	rows, err := r.db.Query(
		selectReview+" WHERE to_agent = ? AND status = ? ORDER BY created_at ASC LIMIT ?",
		reviewerID, string(models.ReviewStatusPending), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending reviews: %w", err)
	}
	defer rows.Close()

	var reviews []*models.CodeReviewRequest
	for rows.Next() {
		review, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		reviews = append(reviews, review)
	}
	return reviews, rows.Err()
}

// Approve marks the review approved and completes its task. The author
// is notified with the reviewer's comments.
func (r *Reviews) Approve(reviewID, reviewerID, comments string) error {
	return r.resolve(reviewID, reviewerID, comments, models.ReviewStatusApproved)
}

// RequestChanges sends the task back to the queue with the reviewer's
// feedback attached so the next attempt can address it.
func (r *Reviews) RequestChanges(reviewID, reviewerID, comments string) error {
	return r.resolve(reviewID, reviewerID, comments, models.ReviewStatusChangesRequested)
}

func (r *Reviews) resolve(reviewID, reviewerID, comments string, verdict models.ReviewStatus) error {
	review, err := r.Get(reviewID)
	if err != nil {
		return err
	}
	if review.Status != models.ReviewStatusPending {
		return fmt.Errorf("review %s already resolved as %s", reviewID, review.Status)
	}

	task, err := r.tasks.Get(review.TaskID)
	if err != nil {
		return fmt.Errorf("load reviewed task: %w", err)
	}

	task.ReviewFeedback = comments
	switch verdict {
	case models.ReviewStatusApproved:
		if err := r.tasks.Transition(task, models.TaskStatusCompleted); err != nil {
			return err
		}
	case models.ReviewStatusChangesRequested:
		if err := r.tasks.Transition(task, models.TaskStatusPending); err != nil {
			return err
		}
	default:
		return fmt.Errorf("invalid review verdict %q", verdict)
	}

	now := time.Now()
	_, err = r.db.Exec(
		"UPDATE code_reviews SET status = ?, comments = ?, reviewed_by = ?, resolved_at = ? WHERE id = ?",
		string(verdict), comments, reviewerID, state.FormatTime(now), reviewID,
	)
	if err != nil {
		return fmt.Errorf("resolve review: %w", err)
	}

	subject := fmt.Sprintf("Review approved: %s", review.Description)
	if verdict == models.ReviewStatusChangesRequested {
		subject = fmt.Sprintf("Changes requested: %s", review.Description)
	}
	return r.bus.Send(&models.Message{
		From:    reviewerID,
		To:      review.From,
		Type:    models.MessageTypeCodeReview,
		Subject: subject,
		Body:    comments,
		Attachments: map[string]string{
			"review_id": review.ID,
			"task_id":   review.TaskID,
		},
	})
}

const selectReview = `
	SELECT id, task_id, from_agent, to_agent, description, files_changed, test_coverage, status, comments, reviewed_by, created_at, resolved_at
	FROM code_reviews`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReview(row rowScanner) (*models.CodeReviewRequest, error) {
	var review models.CodeReviewRequest
	var files sql.NullString
	var createdAt string
	var resolvedAt sql.NullString

	err := row.Scan(
		&review.ID, &review.TaskID, &review.From, &review.To, &review.Description,
		&files, &review.TestCoverage, &review.Status, &review.Comments, &review.ReviewedBy,
		&createdAt, &resolvedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan review: %w", err)
	}

	review.CreatedAt, err = state.ParseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse review created_at: %w", err)
	}
	review.ResolvedAt = state.ParseNullableTime(resolvedAt)
	if files.Valid && files.String != "" {
		if err := json.Unmarshal([]byte(files.String), &review.FilesChanged); err != nil {
			return nil, fmt.Errorf("parse files_changed: %w", err)
		}
	}
	return &review, nil
}
