package models

import (
	"fmt"
	"strings"
	"time"
)

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task is waiting to be picked up.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusInProgress indicates an agent is working on the task.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusBlocked indicates the task cannot proceed.
	TaskStatusBlocked TaskStatus = "blocked"
	// TaskStatusInReview indicates the task is waiting on a code review.
	TaskStatusInReview TaskStatus = "in_review"
	// TaskStatusCompleted indicates the task finished with proof of work.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed.
	TaskStatusFailed TaskStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusBlocked,
		TaskStatusInReview, TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transitions are allowed from s.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// taskEdges enumerates the legal task state transitions.
var taskEdges = map[TaskStatus][]TaskStatus{
	TaskStatusPending:    {TaskStatusInProgress},
	TaskStatusInProgress: {TaskStatusBlocked, TaskStatusInReview, TaskStatusCompleted, TaskStatusFailed},
	TaskStatusInReview:   {TaskStatusCompleted, TaskStatusPending},
	TaskStatusBlocked:    {TaskStatusPending},
}

// CanTransition reports whether a task may legally move from s to next.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	for _, t := range taskEdges[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Task represents a unit of work assigned to an agent.
type Task struct {
	// ID is the globally unique, time-ordered identifier.
	ID string `json:"id"`
	// Title is the short description of the task.
	Title string `json:"title"`
	// Description provides detailed information about the task.
	Description string `json:"description,omitempty"`
	// AssignedTo is the ID of the agent responsible for this task.
	AssignedTo string `json:"assigned_to"`
	// Priority ranges from 1 (critical) to 4 (low).
	Priority int `json:"priority"`
	// Dependencies lists prerequisite task IDs. Advisory only: the
	// scheduler does not enforce precedence, planners use them as context.
	Dependencies []string `json:"dependencies,omitempty"`
	// Status is the current lifecycle state.
	Status TaskStatus `json:"status"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// StartedAt is when execution began, if it has.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the task reached a terminal state, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// Result is the structured result payload accumulated by execution.
	Result *TaskResult `json:"result,omitempty"`
	// ResultText is the raw oracle output the result was decoded from.
	ResultText string `json:"result_text,omitempty"`
	// Blockers lists blocker descriptions reported by the agent.
	Blockers []string `json:"blockers,omitempty"`
	// BlockedReason is the structured reason the task was forced to blocked.
	BlockedReason string `json:"blocked_reason,omitempty"`
	// ReviewID links to the code review gating this task, if any.
	ReviewID string `json:"review_id,omitempty"`
	// Reviewer is the agent asked to review this task, if any.
	Reviewer string `json:"reviewer,omitempty"`
	// ReviewFeedback carries requested changes back into the next attempt.
	ReviewFeedback string `json:"review_feedback,omitempty"`
	// Error holds the failure message if the task failed.
	Error string `json:"error,omitempty"`
}

// ClampPriority normalizes a priority into the 1..4 range.
func ClampPriority(p int) int {
	if p < 1 {
		return 1
	}
	if p > 4 {
		return 4
	}
	return p
}

// NewTaskID builds a time-ordered task ID from a timestamp and a unique suffix.
// IDs sort lexicographically in creation order.
func NewTaskID(t time.Time, suffix string) string {
	return fmt.Sprintf("TASK-%s-%s", t.Format("20060102-150405"), strings.ToLower(suffix))
}
