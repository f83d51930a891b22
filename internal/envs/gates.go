package envs

import (
	"fmt"

	"github.com/foremanhq/foreman/pkg/models"
)

// EvaluateGates checks a test results snapshot against every production
// gate and returns one reason per unmet gate. An empty slice means the
// candidate is clear to deploy.
func EvaluateGates(results models.TestResults, minCoverage float64) []string {
	var blockers []string

	if results.Coverage < minCoverage {
		blockers = append(blockers, fmt.Sprintf("test coverage %.1f%% below required %.1f%%", results.Coverage, minCoverage))
	}
	if results.TestsFailed > 0 {
		blockers = append(blockers, fmt.Sprintf("%d failing tests", results.TestsFailed))
	}
	if !results.ReviewApproved {
		blockers = append(blockers, "code review not approved")
	}
	if results.CriticalVulnerabilities > 0 {
		blockers = append(blockers, fmt.Sprintf("%d critical security vulnerabilities", results.CriticalVulnerabilities))
	}
	if results.CriticalBugs > 0 {
		blockers = append(blockers, fmt.Sprintf("%d critical bugs open", results.CriticalBugs))
	}
	if !results.IntegrationTestsPassed {
		blockers = append(blockers, "integration tests not passing")
	}
	if !results.PerformanceBenchmarkMet {
		blockers = append(blockers, "performance benchmark not met")
	}
	if !results.LoadTestPassed {
		blockers = append(blockers, "load test not passed")
	}
	if !results.DocumentationComplete {
		blockers = append(blockers, "documentation incomplete")
	}
	if !results.ManualApproval {
		blockers = append(blockers, "manual approval missing")
	}

	return blockers
}
