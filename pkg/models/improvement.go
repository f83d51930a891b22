package models

import "time"

// CycleStatus is the outcome of a self-improvement cycle.
type CycleStatus string

const (
	// CycleStatusDeployed means the change was promoted to production.
	CycleStatusDeployed CycleStatus = "deployed"
	// CycleStatusFailed means the change was rejected and rolled back.
	CycleStatusFailed CycleStatus = "failed"
	// CycleStatusSkipped means the evaluation score needed no action.
	CycleStatusSkipped CycleStatus = "skipped"
)

// Evaluation is one self-evaluation snapshot.
type Evaluation struct {
	// ID is the evaluation identifier.
	ID string `json:"id"`
	// Timestamp is when the evaluation ran.
	Timestamp time.Time `json:"timestamp"`
	// Score is the parsed overall score out of 100.
	Score int `json:"score"`
	// Text is the full oracle evaluation text.
	Text string `json:"evaluation"`
	// Metrics is the performance snapshot the evaluation was based on.
	Metrics EvalMetrics `json:"metrics"`
	// CycleCount is the scheduler cycle number at evaluation time.
	CycleCount int `json:"cycle_count"`
	// UptimeHours is elapsed hours since start.
	UptimeHours float64 `json:"uptime_hours"`
}

// EvalMetrics is the task-level snapshot fed into a self-evaluation.
type EvalMetrics struct {
	TotalTasks   int     `json:"total_tasks"`
	Completed    int     `json:"completed"`
	InProgress   int     `json:"in_progress"`
	Failed       int     `json:"failed"`
	TasksPerHour float64 `json:"tasks_per_hour"`
}

// ImprovementProposal is one conservative change suggested by the oracle.
type ImprovementProposal struct {
	// File is the path to modify.
	File string `json:"file"`
	// Change describes what to change.
	Change string `json:"change_description"`
	// Reasoning ties the change to an evaluation weakness.
	Reasoning string `json:"reasoning"`
	// RiskLevel is low, medium, or high.
	RiskLevel string `json:"risk_level"`
}

// AgentVote is one panelist's verdict on a test deployment.
type AgentVote struct {
	// AgentID is the voting panelist.
	AgentID string `json:"agent_id"`
	// Works reports whether the new version functions correctly.
	Works bool `json:"works"`
	// Bugs lists bugs the panelist observed.
	Bugs []string `json:"bugs,omitempty"`
	// Performance is "better", "worse", or "same".
	Performance string `json:"performance"`
	// Concerns lists domain-specific concerns.
	Concerns []string `json:"concerns,omitempty"`
	// DeployVote is "yes" or "no".
	DeployVote string `json:"deploy_vote"`
	// Confidence is "high", "medium", or "low".
	Confidence string `json:"confidence"`
	// Notes carries free-form observations.
	Notes string `json:"notes,omitempty"`
}

// VoteAnalysis is the computed decision over a full vote panel.
type VoteAnalysis struct {
	// TotalAgents is the panel size.
	TotalAgents int `json:"total_agents"`
	// YesVotes counts "yes" deploy votes.
	YesVotes int `json:"yes_votes"`
	// NoVotes counts "no" deploy votes.
	NoVotes int `json:"no_votes"`
	// ApprovalRate is YesVotes / TotalAgents.
	ApprovalRate float64 `json:"approval_rate"`
	// BugCount is the total bugs reported across the panel.
	BugCount int `json:"bug_count"`
	// Passed is the deploy decision.
	Passed bool `json:"passed"`
	// FailureReasons enumerates each violated criterion when not passed.
	FailureReasons []string `json:"failure_reasons,omitempty"`
}

// ImprovementCycle is the persisted audit record of one full
// evaluate → propose → vote → decide run.
type ImprovementCycle struct {
	// ID is the cycle identifier.
	ID string `json:"cycle_id"`
	// Timestamp is when the cycle started.
	Timestamp time.Time `json:"timestamp"`
	// Status is the final outcome.
	Status CycleStatus `json:"status"`
	// EvaluationID links the triggering evaluation.
	EvaluationID string `json:"evaluation_id"`
	// Score is the evaluation score that triggered the cycle.
	Score int `json:"score"`
	// Proposals are the generated changes.
	Proposals []ImprovementProposal `json:"proposals,omitempty"`
	// TestDeploymentID is the recorded TEST deployment.
	TestDeploymentID string `json:"test_deployment_id,omitempty"`
	// ProductionDeploymentID is the recorded PRODUCTION promotion, set
	// only when the cycle deployed.
	ProductionDeploymentID string `json:"production_deployment_id,omitempty"`
	// Votes is the collected panel feedback.
	Votes []AgentVote `json:"votes,omitempty"`
	// Analysis is the computed decision.
	Analysis VoteAnalysis `json:"analysis"`
	// FailureReasons duplicates Analysis.FailureReasons for quick queries.
	FailureReasons []string `json:"failure_reasons,omitempty"`
}
