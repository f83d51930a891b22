package models

import "time"

// Environment names a deployment environment.
type Environment string

const (
	// EnvTest is the ungated fast-iteration environment.
	EnvTest Environment = "test"
	// EnvStaging is reserved; the core flow does not use it.
	EnvStaging Environment = "staging"
	// EnvProduction is the gated environment.
	EnvProduction Environment = "production"
)

// DeploymentStatus represents the state of a deployment request.
type DeploymentStatus string

const (
	DeployStatusPending    DeploymentStatus = "pending"
	DeployStatusApproved   DeploymentStatus = "approved"
	DeployStatusDeployed   DeploymentStatus = "deployed"
	DeployStatusFailed     DeploymentStatus = "failed"
	DeployStatusRolledBack DeploymentStatus = "rolled_back"
)

// Valid returns true if the status is a known value.
func (s DeploymentStatus) Valid() bool {
	switch s {
	case DeployStatusPending, DeployStatusApproved, DeployStatusDeployed,
		DeployStatusFailed, DeployStatusRolledBack:
		return true
	default:
		return false
	}
}

// TestResults is the snapshot a deployment request is gated against.
type TestResults struct {
	// Coverage is the test coverage percentage (0..100).
	Coverage float64 `json:"coverage"`
	// TestsPassed counts passing tests.
	TestsPassed int `json:"tests_passed"`
	// TestsFailed counts failing tests.
	TestsFailed int `json:"tests_failed"`
	// ReviewApproved indicates the code review decision.
	ReviewApproved bool `json:"review_approved"`
	// CriticalVulnerabilities counts critical or high severity findings.
	CriticalVulnerabilities int `json:"critical_vulnerabilities"`
	// CriticalBugs counts open P0/P1 bugs.
	CriticalBugs int `json:"critical_bugs"`
	// IntegrationTestsPassed indicates the integration suite passed.
	IntegrationTestsPassed bool `json:"integration_tests_passed"`
	// PerformanceBenchmarkMet indicates performance targets were met.
	PerformanceBenchmarkMet bool `json:"performance_benchmark_passed"`
	// LoadTestPassed indicates the load test passed.
	LoadTestPassed bool `json:"load_test_passed"`
	// DocumentationComplete indicates docs are written.
	DocumentationComplete bool `json:"documentation_complete"`
	// ManualApproval indicates a human or coordinator signed off.
	ManualApproval bool `json:"manual_approval"`
}

// ComponentState records one deployed component within an environment.
type ComponentState struct {
	// Component is the component name.
	Component string `json:"component"`
	// Version is the deployed version.
	Version string `json:"version"`
	// DeployedBy is the agent that deployed it.
	DeployedBy string `json:"deployed_by"`
	// DeployedAt is the deployment time.
	DeployedAt time.Time `json:"deployed_at"`
	// Status is "active" or "rolled_back".
	Status string `json:"status"`
}

// DeploymentRequest asks to promote a component from TEST to PRODUCTION.
type DeploymentRequest struct {
	// ID is the unique deployment identifier.
	ID string `json:"id"`
	// Component is what is being deployed.
	Component string `json:"component"`
	// Version is the candidate version.
	Version string `json:"version"`
	// RequestedBy is the requesting agent.
	RequestedBy string `json:"requested_by"`
	// From is the source environment.
	From Environment `json:"environment_from"`
	// To is the target environment.
	To Environment `json:"environment_to"`
	// Status is the request state.
	Status DeploymentStatus `json:"status"`
	// TestResults is the gated snapshot.
	TestResults TestResults `json:"test_results"`
	// Blockers enumerates every unmet gate, never a bare rejection.
	Blockers []string `json:"blockers,omitempty"`
	// Approvals lists approver ids collected so far.
	Approvals []string `json:"approvals,omitempty"`
	// RollbackPlan describes how to undo the deployment.
	RollbackPlan string `json:"rollback_plan,omitempty"`
	// Timestamp is when the request was created.
	Timestamp time.Time `json:"timestamp"`
}
