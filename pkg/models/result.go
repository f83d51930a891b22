package models

import "strings"

// TaskResult is the structured payload an agent returns for an executed task.
// Evidence fields are the proof-of-work surface: at least one must be populated
// before the task may complete.
type TaskResult struct {
	// Status is the agent's own claim: "completed" or "blocked".
	Status string `json:"status,omitempty"`
	// Result summarizes what was accomplished.
	Result string `json:"result,omitempty"`
	// ActionsTaken lists the concrete actions performed.
	ActionsTaken []string `json:"actions_taken,omitempty"`
	// FilesChanged lists files the agent modified. Non-empty forces review.
	FilesChanged []string `json:"files_changed,omitempty"`
	// TestCoverage is the declared coverage in the 0..1 range.
	TestCoverage float64 `json:"test_coverage,omitempty"`
	// CodeChanges describes the code changes made.
	CodeChanges string `json:"code_changes,omitempty"`
	// CommitHash is a git commit reference.
	CommitHash string `json:"commit_hash,omitempty"`
	// PRURL is a pull request URL.
	PRURL string `json:"pr_url,omitempty"`
	// DeploymentURL is a deployment URL.
	DeploymentURL string `json:"deployment_url,omitempty"`
	// NeedsCodeReview explicitly requests a review.
	NeedsCodeReview bool `json:"needs_code_review,omitempty"`
	// Reviewer is the agent the submitter wants the review from.
	Reviewer string `json:"reviewer,omitempty"`
	// NextSteps suggests follow-up work.
	NextSteps []string `json:"next_steps,omitempty"`
	// Blockers lists blockers the agent hit.
	Blockers []string `json:"blockers,omitempty"`
	// Tasks is populated when the payload is actually a planning batch.
	// A planning batch is never proof of work.
	Tasks []PlannedTask `json:"tasks,omitempty"`
}

// PlannedTask is one entry of a planning batch returned by the oracle.
type PlannedTask struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	AssignedTo   string   `json:"assigned_to"`
	Priority     int      `json:"priority"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// HasEvidence reports whether any typed evidence field is populated.
func (r *TaskResult) HasEvidence() bool {
	if r == nil {
		return false
	}
	if len(r.FilesChanged) > 0 || len(r.ActionsTaken) > 0 {
		return true
	}
	if r.TestCoverage > 0 {
		return true
	}
	if strings.TrimSpace(r.CodeChanges) != "" || strings.TrimSpace(r.CommitHash) != "" {
		return true
	}
	if strings.TrimSpace(r.PRURL) != "" || strings.TrimSpace(r.DeploymentURL) != "" {
		return true
	}
	return false
}

// RequiresReview reports whether the result routes the task into code review,
// either by explicit flag or because files were changed.
func (r *TaskResult) RequiresReview() bool {
	if r == nil {
		return false
	}
	return r.NeedsCodeReview || len(r.FilesChanged) > 0
}
