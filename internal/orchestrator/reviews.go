package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/foremanhq/foreman/internal/gen"
	"github.com/foremanhq/foreman/pkg/models"
)

// processReviews has the coordinator work through its pending code
// review queue, capped per cycle to keep cycles bounded.
func (e *Engine) processReviews(ctx context.Context) error {
	reviewer, err := e.coordinator()
	if err != nil {
		return err
	}

	pending, err := e.reviews.PendingFor(reviewer.ID, e.cfg.Cycle.ReviewsPerCycle)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	e.log.Info().Int("reviews", len(pending)).Msg("processing code reviews")

	for _, review := range pending {
		if err := e.processReview(ctx, reviewer, review); err != nil {
			e.log.Warn().Err(err).Str("review", review.ID).Msg("review processing failed")
		}
	}
	return nil
}

// processReview runs one review through the oracle and applies the
// decision. Anything other than an explicit changes_requested verdict
// approves, matching how human reviewers default.
func (e *Engine) processReview(ctx context.Context, reviewer *models.Agent, review *models.CodeReviewRequest) error {
	task, err := e.tasks.Get(review.TaskID)
	if err != nil {
		return fmt.Errorf("load reviewed task: %w", err)
	}

	var verdict struct {
		Decision         string   `json:"decision"`
		Comments         string   `json:"comments"`
		SpecificFeedback []string `json:"specific_feedback"`
		Suggestions      []string `json:"suggestions"`
	}
	err = e.gateway.GenerateJSON(ctx, gen.Request{
		CallerID:    reviewer.ID,
		System:      reviewer.SystemPrompt,
		Prompt:      reviewPrompt(review, task),
		Temperature: reviewer.Temperature,
	}, &verdict)
	if err != nil {
		return fmt.Errorf("review call: %w", err)
	}

	if verdict.Decision == "changes_requested" {
		comments := verdict.Comments
		if len(verdict.SpecificFeedback) > 0 {
			comments += "\n\nSpecific feedback:\n- " + strings.Join(verdict.SpecificFeedback, "\n- ")
		}
		if err := e.reviews.RequestChanges(review.ID, reviewer.ID, comments); err != nil {
			return err
		}
		e.log.Info().Str("review", review.ID).Str("task", task.ID).Msg("changes requested")
		return nil
	}

	if err := e.reviews.Approve(review.ID, reviewer.ID, verdict.Comments); err != nil {
		return err
	}
	e.log.Info().Str("review", review.ID).Str("task", task.ID).Msg("review approved")
	return nil
}

func reviewPrompt(review *models.CodeReviewRequest, task *models.Task) string {
	taskContext := "No task context available"
	if task != nil {
		if b, err := json.MarshalIndent(task, "", "  "); err == nil {
			taskContext = string(b)
		}
	}

	return fmt.Sprintf(`CODE REVIEW REQUEST

REVIEW ID: %s
FROM: %s
DESCRIPTION: %s
FILES CHANGED: %d
TEST COVERAGE: %.0f%%

REVIEW GUIDELINES:
- We fight the code together, not each other
- Check for security issues, test coverage, documentation, performance
- Be specific: "I think there's a simpler version of this. Want to explore?"
- Judge ideas on merit, not origin

TASK CONTEXT:
%s

REVIEW THIS CODE:
1. Check test coverage (should be 90%%+)
2. Review for security issues
3. Check code quality and maintainability
4. Ensure documentation exists
5. Validate performance considerations

OUTPUT FORMAT (JSON only):
{
  "decision": "approved" or "changes_requested",
  "comments": "detailed review comments",
  "specific_feedback": ["specific issue 1", "specific issue 2"],
  "suggestions": ["suggestion 1", "suggestion 2"]
}

Review now:`,
		review.ID, review.From, review.Description,
		len(review.FilesChanged), review.TestCoverage,
		taskContext,
	)
}
