package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/foremanhq/foreman/internal/gen"
	"github.com/foremanhq/foreman/internal/state"
	"github.com/foremanhq/foreman/pkg/models"
)

// missingProofReason is the structured reason attached to a task forced
// back to blocked because its result carried no evidence of work.
const missingProofReason = "Missing proof of work. Please provide files_changed, actions_taken, or other evidence of work completed."

// executeTasks runs one pending task per active agent concurrently and
// joins before the next phase. Per-task failures never abort the phase.
func (e *Engine) executeTasks(ctx context.Context) error {
	var g errgroup.Group
	started := 0
	for _, agent := range e.roster.Active() {
		task, err := e.tasks.NextPendingForAgent(agent.ID)
		if err != nil {
			return fmt.Errorf("pick task for %s: %w", agent.ID, err)
		}
		if task == nil {
			continue
		}
		started++
		agent, task := agent, task
		g.Go(func() error {
			e.executeTask(ctx, agent, task)
			return nil
		})
	}
	if started > 0 {
		e.log.Info().Int("agents", started).Msg("executing tasks")
	}
	return g.Wait()
}

// executeTask drives a single task through one execution attempt:
// in_progress, one oracle call, then the completion outcome decides the
// next transition. Any failure lands the task in failed with a blocker
// report rather than propagating.
func (e *Engine) executeTask(ctx context.Context, agent *models.Agent, task *models.Task) {
	log := e.log.Sub(agent.ID)
	log.Info().Str("task", task.ID).Str("title", task.Title).Msg("starting task")

	if err := e.tasks.Transition(task, models.TaskStatusInProgress); err != nil {
		log.Error().Err(err).Str("task", task.ID).Msg("cannot start task")
		return
	}

	prompt, err := e.executionPrompt(agent, task)
	if err != nil {
		e.failTask(agent, task, fmt.Errorf("build prompt: %w", err))
		return
	}

	resp, err := e.gateway.Generate(ctx, gen.Request{
		CallerID:    agent.ID,
		System:      agent.SystemPrompt,
		Prompt:      prompt,
		Temperature: agent.Temperature,
	})
	if err != nil {
		e.failTask(agent, task, fmt.Errorf("generation: %w", err))
		return
	}

	task.ResultText = resp.Text
	var result models.TaskResult
	if err := gen.DecodeJSON(resp.Text, &result); err == nil {
		task.Result = &result
	} else {
		// Raw text still goes through the evidence check below.
		log.Warn().Err(err).Str("task", task.ID).Msg("result is not structured")
	}

	if task.Result != nil && task.Result.Status == "blocked" {
		task.Blockers = task.Result.Blockers
		for _, blocker := range task.Result.Blockers {
			if err := e.bus.ReportBlocker(agent.ID, e.cfg.Coordinator, task.Title, blocker); err != nil {
				log.Error().Err(err).Msg("blocker report failed")
			}
		}
		if err := e.tasks.Transition(task, models.TaskStatusBlocked); err != nil {
			log.Error().Err(err).Str("task", task.ID).Msg("block transition failed")
		}
		log.Warn().Str("task", task.ID).Strs("blockers", task.Blockers).Msg("agent blocked")
		return
	}

	switch state.ClassifyResult(task.Result, task.ResultText) {
	case state.OutcomeBlocked:
		task.BlockedReason = missingProofReason
		if err := e.tasks.Transition(task, models.TaskStatusBlocked); err != nil {
			log.Error().Err(err).Str("task", task.ID).Msg("block transition failed")
			return
		}
		notice := &models.Message{
			From:     e.cfg.Coordinator,
			To:       agent.ID,
			Type:     models.MessageTypeBlocker,
			Subject:  fmt.Sprintf("Proof of work required: %s", task.Title),
			Body:     missingProofReason,
			Priority: models.PriorityHigh,
		}
		if err := e.bus.Send(notice); err != nil {
			log.Error().Err(err).Msg("proof-of-work notice failed")
		}
		log.Warn().Str("task", task.ID).Msg("no proof of work, task blocked")

	case state.OutcomeInReview:
		reviewer := ""
		if task.Result != nil {
			reviewer = task.Result.Reviewer
		}
		if reviewer == "" || e.roster.Get(reviewer) == nil {
			reviewer = e.cfg.Coordinator
		}
		if _, err := e.reviews.Request(task, reviewer); err != nil {
			e.failTask(agent, task, fmt.Errorf("request review: %w", err))
			return
		}
		if err := e.tasks.Transition(task, models.TaskStatusInReview); err != nil {
			log.Error().Err(err).Str("task", task.ID).Msg("review transition failed")
			return
		}
		log.Info().Str("task", task.ID).Str("reviewer", reviewer).Msg("task sent to review")

	case state.OutcomeCompleted:
		if err := e.tasks.Transition(task, models.TaskStatusCompleted); err != nil {
			log.Error().Err(err).Str("task", task.ID).Msg("complete transition failed")
			return
		}
		log.Info().Str("task", task.ID).Msg("task completed")
	}
}

// failTask marks the task failed and reports the failure to the
// coordinator so the next blocker phase can react.
func (e *Engine) failTask(agent *models.Agent, task *models.Task, cause error) {
	task.Error = cause.Error()
	if err := e.tasks.Transition(task, models.TaskStatusFailed); err != nil {
		e.log.Error().Err(err).Str("task", task.ID).Msg("fail transition failed")
	}
	if err := e.bus.ReportBlocker(agent.ID, e.cfg.Coordinator, task.Title, "Task failed: "+cause.Error()); err != nil {
		e.log.Error().Err(err).Msg("failure report failed")
	}
	e.log.Error().Err(cause).Str("task", task.ID).Str("agent", agent.ID).Msg("task failed")
}

// executionPrompt builds the agent's task prompt with team context:
// recent inbox traffic, teammates' active work, recent completions, and
// dependency status.
func (e *Engine) executionPrompt(agent *models.Agent, task *models.Task) (string, error) {
	var ctxParts []string

	inbox, err := e.bus.Inbox(agent.ID, 5)
	if err != nil {
		return "", err
	}
	if len(inbox) > 0 {
		var lines []string
		for _, msg := range inbox {
			lines = append(lines, fmt.Sprintf("- %s: %s", msg.From, msg.Subject))
		}
		ctxParts = append(ctxParts, "RECENT TEAM MESSAGES:\n"+strings.Join(lines, "\n"))
	}

	all, err := e.tasks.List()
	if err != nil {
		return "", err
	}

	var teammates []string
	for _, t := range all {
		if t.AssignedTo == agent.ID {
			continue
		}
		if t.Status == models.TaskStatusInProgress || t.Status == models.TaskStatusInReview {
			teammates = append(teammates, fmt.Sprintf("- %s: %s", t.AssignedTo, t.Title))
		}
	}
	if len(teammates) > 10 {
		teammates = teammates[:10]
	}
	if len(teammates) > 0 {
		ctxParts = append(ctxParts, "WHAT YOUR TEAMMATES ARE WORKING ON:\n"+strings.Join(teammates, "\n"))
	}

	var completed []*models.Task
	for _, t := range all {
		if t.Status == models.TaskStatusCompleted {
			completed = append(completed, t)
		}
	}
	sort.Slice(completed, func(i, j int) bool {
		ti, tj := completed[i].CompletedAt, completed[j].CompletedAt
		if ti == nil || tj == nil {
			return tj == nil
		}
		return ti.After(*tj)
	})
	if len(completed) > 5 {
		completed = completed[:5]
	}
	if len(completed) > 0 {
		var lines []string
		for _, t := range completed {
			lines = append(lines, fmt.Sprintf("- %s by %s", t.Title, t.AssignedTo))
		}
		ctxParts = append(ctxParts, "RECENTLY COMPLETED (you can build on these):\n"+strings.Join(lines, "\n"))
	}

	if len(task.Dependencies) > 0 {
		var lines []string
		for _, depID := range task.Dependencies {
			dep, err := e.tasks.Get(depID)
			if err != nil {
				continue
			}
			lines = append(lines, fmt.Sprintf("- %s (%s)", dep.Title, dep.Status))
		}
		if len(lines) > 0 {
			ctxParts = append(ctxParts, "TASK DEPENDENCIES:\n"+strings.Join(lines, "\n"))
		}
	}

	feedback := ""
	if task.ReviewFeedback != "" {
		feedback = "\nREVIEW FEEDBACK FROM LAST ATTEMPT:\n" + task.ReviewFeedback + "\n"
	}

	return fmt.Sprintf(`TASK EXECUTION

TASK ID: %s
TITLE: %s
DESCRIPTION: %s
PRIORITY: %d
%s%s
YOUR AVAILABLE TOOLS:
%s

EXECUTE THIS TASK:
1. Plan your approach
2. Use your tools to complete the work
3. Write tests (aim for 90%%+ coverage)
4. If you are blocked, say so and list the blockers
5. Report results

CODE REVIEW PROCESS:
- If this task involves code changes, you MUST request a code review
- Name your reviewer, or the engineering manager reviews by default
- The task is not complete until the review is approved

PROOF OF WORK REQUIRED:
Your task CANNOT be marked as completed without proof of work. Include at least ONE of:
- "files_changed": ["file1.go", "file2.tsx"] - REQUIRED if you changed code
- "actions_taken": ["Created API", "Wrote tests"] - list what you did
- "test_coverage": 0.85 - test coverage (0.0 to 1.0)
- "code_changes": "Description" - what code you changed
- "commit_hash": "abc123" - git commit hash
- "pr_url": "https://..." - pull request URL

WITHOUT PROOF OF WORK, YOUR TASK WILL BE BLOCKED AND NOT COMPLETED.

OUTPUT FORMAT (MUST be valid JSON):
{
  "status": "completed" or "blocked",
  "result": "Summary of what was accomplished",
  "actions_taken": ["action 1", "action 2"],
  "files_changed": ["file1.go"],
  "test_coverage": 0.95,
  "needs_code_review": true,
  "reviewer": "%s",
  "next_steps": ["what should happen next"],
  "blockers": ["any blockers encountered"]
}

Execute now:`,
		task.ID, task.Title, task.Description, task.Priority,
		joinContext(ctxParts), feedback,
		strings.Join(agent.Tools, ", "),
		e.cfg.Coordinator,
	), nil
}

func joinContext(parts []string) string {
	if len(parts) == 0 {
		return ""
	}
	return "\n" + strings.Join(parts, "\n\n") + "\n"
}
