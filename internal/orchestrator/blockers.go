package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/foremanhq/foreman/internal/gen"
	"github.com/foremanhq/foreman/pkg/models"
)

// processBlockers has the coordinator work blocked tasks back into the
// queue: one oracle call per blocked task produces unblocking guidance,
// optional helper tasks, and a blocked to pending transition so the
// owner retries next cycle. Capped per cycle.
func (e *Engine) processBlockers(ctx context.Context) error {
	blocked, err := e.tasks.ListByStatus(models.TaskStatusBlocked)
	if err != nil {
		return err
	}
	if len(blocked) == 0 {
		return nil
	}
	e.log.Info().Int("blocked", len(blocked)).Msg("processing blockers")

	manager, err := e.coordinator()
	if err != nil {
		return err
	}

	for i, task := range blocked {
		if i >= e.cfg.Cycle.BlockersPerCycle {
			break
		}
		if err := e.resolveBlocker(ctx, manager, task); err != nil {
			e.log.Warn().Err(err).Str("task", task.ID).Msg("blocker resolution failed")
		}
	}
	return nil
}

func (e *Engine) resolveBlocker(ctx context.Context, manager *models.Agent, task *models.Task) error {
	reasons := task.Blockers
	if task.BlockedReason != "" {
		reasons = append(reasons, task.BlockedReason)
	}
	if len(reasons) == 0 {
		reasons = []string{"No reason recorded"}
	}

	var plan struct {
		Analysis    string   `json:"analysis"`
		Solution    string   `json:"solution"`
		ActionItems []string `json:"action_items"`
		HelperTasks []struct {
			Title       string `json:"title"`
			AssignedTo  string `json:"assigned_to"`
			Description string `json:"description"`
		} `json:"helper_tasks"`
	}
	err := e.gateway.GenerateJSON(ctx, gen.Request{
		CallerID:    manager.ID,
		System:      manager.SystemPrompt,
		Prompt:      blockerPrompt(task, reasons),
		Temperature: manager.Temperature,
	}, &plan)
	if err != nil {
		return fmt.Errorf("unblock call: %w", err)
	}

	body := fmt.Sprintf("Analysis: %s\n\nSolution: %s", plan.Analysis, plan.Solution)
	if len(plan.ActionItems) > 0 {
		body += "\n\nAction items:\n- " + strings.Join(plan.ActionItems, "\n- ")
	}
	notice := &models.Message{
		From:     manager.ID,
		To:       task.AssignedTo,
		Type:     models.MessageTypeHelpRequest,
		Subject:  fmt.Sprintf("Unblocking: %s", task.Title),
		Body:     body,
		Priority: models.PriorityHigh,
	}
	if err := e.bus.Send(notice); err != nil {
		return fmt.Errorf("send unblock guidance: %w", err)
	}

	for _, helper := range plan.HelperTasks {
		assignee := helper.AssignedTo
		if assignee == "" || e.roster.Get(assignee) == nil {
			assignee = task.AssignedTo
		}
		helperTask := &models.Task{
			Title:       helper.Title,
			Description: helper.Description,
			AssignedTo:  assignee,
			Priority:    1,
		}
		if err := e.tasks.Create(helperTask); err != nil {
			e.log.Warn().Err(err).Str("title", helper.Title).Msg("helper task creation failed")
			continue
		}
		e.log.Info().Str("task", helperTask.ID).Str("title", helper.Title).Msg("helper task created")
	}

	if err := e.tasks.Transition(task, models.TaskStatusPending); err != nil {
		return fmt.Errorf("requeue blocked task: %w", err)
	}
	e.log.Info().Str("task", task.ID).Str("title", task.Title).Msg("task unblocked")
	return nil
}

func blockerPrompt(task *models.Task, reasons []string) string {
	return fmt.Sprintf(`BLOCKER RESOLUTION

AGENT: %s
TASK: %s
BLOCKERS: %s

YOUR JOB:
1. Analyze why this agent is blocked
2. Provide specific guidance to unblock them
3. Suggest alternative approaches
4. Assign helper tasks if needed

OUTPUT FORMAT (JSON only):
{
  "analysis": "Why they're blocked",
  "solution": "How to unblock them",
  "action_items": ["specific action 1", "specific action 2"],
  "helper_tasks": [
    {
      "title": "Helper task title",
      "assigned_to": "agent_id",
      "description": "How this helps unblock"
    }
  ]
}

Help unblock now:`,
		task.AssignedTo, task.Title, strings.Join(reasons, ", "),
	)
}
