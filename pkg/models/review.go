package models

import "time"

// ReviewStatus represents the state of a code review request.
type ReviewStatus string

const (
	// ReviewStatusPending indicates the review awaits a decision.
	ReviewStatusPending ReviewStatus = "pending"
	// ReviewStatusApproved indicates the reviewer approved the work.
	ReviewStatusApproved ReviewStatus = "approved"
	// ReviewStatusChangesRequested indicates the reviewer wants changes.
	ReviewStatusChangesRequested ReviewStatus = "changes_requested"
)

// Valid returns true if the status is a known value.
func (s ReviewStatus) Valid() bool {
	switch s {
	case ReviewStatusPending, ReviewStatusApproved, ReviewStatusChangesRequested:
		return true
	default:
		return false
	}
}

// CodeReviewRequest asks one agent to review another's completed work.
// Resolved by exactly one reviewer decision, which feeds back into the
// originating task's status.
type CodeReviewRequest struct {
	// ID is the unique review identifier.
	ID string `json:"id"`
	// TaskID is the originating task. Stored explicitly rather than
	// encoded into the review id.
	TaskID string `json:"task_id"`
	// From is the submitting agent.
	From string `json:"from_agent"`
	// To is the reviewing agent.
	To string `json:"to_agent"`
	// Description summarizes the work under review.
	Description string `json:"description"`
	// FilesChanged lists the files touched.
	FilesChanged []string `json:"files_changed"`
	// TestCoverage is the declared coverage percentage (0..100).
	TestCoverage float64 `json:"test_coverage"`
	// Status is the review state.
	Status ReviewStatus `json:"status"`
	// Comments holds the reviewer's comments once decided.
	Comments string `json:"comments,omitempty"`
	// ReviewedBy records who made the decision.
	ReviewedBy string `json:"reviewed_by,omitempty"`
	// CreatedAt is when the review was requested.
	CreatedAt time.Time `json:"created_at"`
	// ResolvedAt is when the decision was made, if it has been.
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}
