package state

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/foremanhq/foreman/pkg/models"
)

func TestProofOfWorkTypedEvidence(t *testing.T) {
	cases := []struct {
		name   string
		result *models.TaskResult
		want   bool
	}{
		{"files changed", &models.TaskResult{FilesChanged: []string{"a.go"}}, true},
		{"actions taken", &models.TaskResult{ActionsTaken: []string{"ran migration"}}, true},
		{"test coverage", &models.TaskResult{TestCoverage: 45.0}, true},
		{"code changes", &models.TaskResult{CodeChanges: "diff --git a/a.go"}, true},
		{"commit hash", &models.TaskResult{CommitHash: "abc1234"}, true},
		{"pr url", &models.TaskResult{PRURL: "https://example.com/pr/1"}, true},
		{"deployment url", &models.TaskResult{DeploymentURL: "https://stg.example.com"}, true},
		{"empty result", &models.TaskResult{}, false},
		{"zero coverage only", &models.TaskResult{TestCoverage: 0}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ProofOfWork(tc.result, ""))
		})
	}
}

func TestProofOfWorkFreeText(t *testing.T) {
	cases := []struct {
		name string
		text string
		want bool
	}{
		{"empty", "", false},
		{"short", "did the thing", false},
		{"exactly placeholder", "task completed", false},
		{"placeholder padded", "   done   ", false},
		{"placeholder uppercase", "COMPLETED", false},
		{"substantive", "implemented the retry loop with exponential backoff and jitter", true},
		{"twenty chars of detail", "fixed parser bug #41", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ProofOfWork(nil, tc.text))
		})
	}
}

func TestProofOfWorkPlanningPayloadNeverCounts(t *testing.T) {
	result := &models.TaskResult{
		Result: "planned the next sprint with ten detailed tasks covering the backlog",
		Tasks: []models.PlannedTask{
			{Title: "Build ingest pipeline", AssignedTo: "backend_001", Priority: 2},
			{Title: "Write load tests", AssignedTo: "qa_001", Priority: 3},
		},
	}
	assert.False(t, ProofOfWork(result, result.Result))
}

func TestProofOfWorkPlanningPlusEvidencePasses(t *testing.T) {
	result := &models.TaskResult{
		Tasks:        []models.PlannedTask{{Title: "followup", AssignedTo: "backend_001"}},
		FilesChanged: []string{"planner.go"},
	}
	assert.True(t, ProofOfWork(result, ""))
}

func TestClassifyResult(t *testing.T) {
	cases := []struct {
		name   string
		result *models.TaskResult
		text   string
		want   CompletionOutcome
	}{
		{
			"no evidence blocks",
			&models.TaskResult{Result: "done"},
			"done",
			OutcomeBlocked,
		},
		{
			"files changed routes to review",
			&models.TaskResult{Result: "implemented X", FilesChanged: []string{"a.py"}},
			"implemented X",
			OutcomeInReview,
		},
		{
			"explicit review flag",
			&models.TaskResult{Result: "refactored the scheduler internals for clarity", NeedsCodeReview: true},
			"",
			OutcomeInReview,
		},
		{
			"non-code evidence completes",
			&models.TaskResult{ActionsTaken: []string{"rotated the staging credentials"}},
			"",
			OutcomeCompleted,
		},
		{
			"substantive text completes",
			nil,
			"audited all third-party dependencies for known CVEs, none found",
			OutcomeCompleted,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyResult(tc.result, tc.text))
		})
	}
}
