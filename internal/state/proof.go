package state

import (
	"strings"

	"github.com/foremanhq/foreman/pkg/models"
)

// placeholderResults are result strings that describe nothing. A short
// result matching one of these is treated as no evidence at all.
var placeholderResults = map[string]bool{
	"task completed": true,
	"completed":      true,
	"done":           true,
	"finished":       true,
	"ok":             true,
}

const (
	minResultLength       = 20
	placeholderScanLength = 50
)

// ProofOfWork reports whether a task result carries enough evidence for
// the task to count as completed. A planning payload is coordination
// output, not work product, so it never passes on its own.
func ProofOfWork(result *models.TaskResult, resultText string) bool {
	if result != nil {
		if len(result.Tasks) > 0 && !result.HasEvidence() {
			return false
		}
		if result.HasEvidence() {
			return true
		}
		if resultText == "" {
			resultText = result.Result
		}
	}
	return textEvidence(resultText)
}

// textEvidence applies the free-text heuristic: a result shorter than 20
// characters says nothing, and a short result that is just a placeholder
// phrase says even less.
func textEvidence(text string) bool {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < minResultLength {
		return false
	}
	if len(trimmed) < placeholderScanLength {
		if placeholderResults[strings.ToLower(trimmed)] {
			return false
		}
	}
	return true
}

// CompletionOutcome describes where a finished task should land.
type CompletionOutcome int

const (
	// OutcomeCompleted means the task carried evidence and needs no review.
	OutcomeCompleted CompletionOutcome = iota
	// OutcomeInReview means the task carried evidence that touched code.
	OutcomeInReview
	// OutcomeBlocked means the task result failed the evidence check.
	OutcomeBlocked
)

// ClassifyResult decides the post-execution status for a task result.
// Code-touching results route to review, evidence-free results are
// forced back to blocked regardless of what the executor claimed.
func ClassifyResult(result *models.TaskResult, resultText string) CompletionOutcome {
	if !ProofOfWork(result, resultText) {
		return OutcomeBlocked
	}
	if result != nil && result.RequiresReview() {
		return OutcomeInReview
	}
	return OutcomeCompleted
}
