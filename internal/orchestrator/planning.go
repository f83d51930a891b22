package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/foremanhq/foreman/internal/gen"
	"github.com/foremanhq/foreman/internal/state"
	"github.com/foremanhq/foreman/pkg/models"
)

// starterTasks is the deterministic cold-start backlog. Agents work
// from these until the first planning batch lands.
func starterTasks() []*models.Task {
	return []*models.Task{
		{
			Title:       "Set up core infrastructure",
			Description: "Initialize project structure, set up the database, configure environment variables",
			AssignedTo:  "backend_001",
			Priority:    1,
		},
		{
			Title:       "Build agent runtime base",
			Description: "Create the base runtime all worker agents share: memory, actions, and generation routing",
			AssignedTo:  "backend_002",
			Priority:    1,
		},
		{
			Title:       "Create task management system",
			Description: "Build the system that tracks, assigns, and completes tasks across all agents",
			AssignedTo:  "backend_001",
			Priority:    2,
		},
		{
			Title:       "Set up testing framework",
			Description: "Configure the test runner, write shared test utilities, set up the CI pipeline",
			AssignedTo:  "qa_001",
			Priority:    2,
		},
		{
			Title:       "Build management dashboard",
			Description: "Create a web dashboard to view agents, tasks, and system status",
			AssignedTo:  "frontend_001",
			Priority:    2,
		},
	}
}

func (e *Engine) seedStarterTasks() error {
	created := 0
	for _, task := range starterTasks() {
		if e.roster.Get(task.AssignedTo) == nil {
			continue
		}
		if err := e.tasks.Create(task); err != nil {
			return fmt.Errorf("seed task %q: %w", task.Title, err)
		}
		created++
	}
	e.log.Info().Int("tasks", created).Msg("starter backlog seeded")
	return nil
}

// planTasks asks the coordinator to generate the next task batch with
// full backlog and workload context. When the call fails against an
// empty backlog, the starter tasks go in instead so agents never idle.
func (e *Engine) planTasks(ctx context.Context) error {
	manager, err := e.coordinator()
	if err != nil {
		return err
	}

	stats, err := e.tasks.Stats()
	if err != nil {
		return err
	}
	all, err := e.tasks.List()
	if err != nil {
		return err
	}

	var batch struct {
		Tasks    []models.PlannedTask `json:"tasks"`
		Strategy string               `json:"strategy"`
	}
	err = e.gateway.GenerateJSON(ctx, gen.Request{
		CallerID:    manager.ID,
		Role:        gen.RolePlanner,
		System:      manager.SystemPrompt,
		Prompt:      e.planningPrompt(stats, all),
		Temperature: manager.Temperature,
	}, &batch)
	if err != nil {
		e.log.Warn().Err(err).Msg("planning call failed")
		if stats.Total == 0 {
			return e.seedStarterTasks()
		}
		return err
	}
	if len(batch.Tasks) == 0 {
		e.log.Warn().Msg("planner returned no tasks")
		return nil
	}

	created := 0
	for _, pt := range batch.Tasks {
		if created >= e.cfg.Cycle.PlanningMaxTasks {
			break
		}
		if e.roster.Get(pt.AssignedTo) == nil {
			e.log.Warn().Str("assigned_to", pt.AssignedTo).Str("title", pt.Title).Msg("planned task for unknown agent, skipping")
			continue
		}
		task := &models.Task{
			Title:        pt.Title,
			Description:  pt.Description,
			AssignedTo:   pt.AssignedTo,
			Priority:     pt.Priority,
			Dependencies: pt.Dependencies,
		}
		if err := e.tasks.Create(task); err != nil {
			e.log.Warn().Err(err).Str("title", pt.Title).Msg("create planned task failed")
			continue
		}
		created++
	}
	e.log.Info().Int("tasks", created).Str("strategy", batch.Strategy).Msg("planning batch created")
	return nil
}

// planningPrompt builds the coordinator's planning context: current
// state, recent completions, per-agent workload, and open blockers.
func (e *Engine) planningPrompt(stats state.Stats, all []*models.Task) string {
	uptime := e.now().Sub(e.st.StartedAt).Hours()
	velocity := 0.0
	if uptime > 0 {
		velocity = float64(stats.Completed) / uptime
	}
	completedPct := 0.0
	if stats.Total > 0 {
		completedPct = float64(stats.Completed) / float64(stats.Total) * 100
	}

	var recent, blocked []string
	workload := map[string]*struct{ completed, pending, inProgress int }{}
	for _, t := range all {
		switch t.Status {
		case models.TaskStatusCompleted:
			if len(recent) < 10 {
				recent = append(recent, fmt.Sprintf("- %s by %s", t.Title, t.AssignedTo))
			}
		case models.TaskStatusBlocked:
			if len(blocked) < 5 {
				blocked = append(blocked, fmt.Sprintf("- %s: %s", t.Title, strings.Join(t.Blockers, ", ")))
			}
		}
		w := workload[t.AssignedTo]
		if w == nil {
			w = &struct{ completed, pending, inProgress int }{}
			workload[t.AssignedTo] = w
		}
		switch t.Status {
		case models.TaskStatusCompleted:
			w.completed++
		case models.TaskStatusPending:
			w.pending++
		case models.TaskStatusInProgress:
			w.inProgress++
		}
	}

	var loads []string
	for _, agent := range e.roster.Active() {
		if agent.ID == e.cfg.Coordinator {
			continue
		}
		w := workload[agent.ID]
		if w == nil {
			loads = append(loads, fmt.Sprintf("- %s (%s): no tasks yet", agent.ID, agent.Role))
			continue
		}
		loads = append(loads, fmt.Sprintf("- %s (%s): %d done, %d pending, %d in progress",
			agent.ID, agent.Role, w.completed, w.pending, w.inProgress))
	}

	return fmt.Sprintf(`CYCLE #%d - PLANNING

TIME AND PROGRESS:
- Hours elapsed: %.1f
- Velocity: %.2f tasks/hour

CURRENT STATE:
- Total tasks: %d
- Completed: %d (%.1f%%)
- Pending: %d
- In progress: %d
- In review: %d
- Blocked: %d

RECENT COMPLETIONS:
%s

TEAM WORKLOAD:
%s

BLOCKERS:
%s

YOUR JOB RIGHT NOW:
1. Identify agents who are idle or have low workload and assign them work
2. Generate %d-%d high-impact tasks
3. Reference prerequisite task ids in dependencies so agents build on each other's work
4. Balance workload across the team so every agent has work queued

OUTPUT FORMAT (JSON only):
{
  "tasks": [
    {
      "title": "Build X feature",
      "description": "Detailed description with acceptance criteria",
      "assigned_to": "backend_001",
      "priority": 1,
      "dependencies": ["TASK-ID-of-prerequisite"]
    }
  ],
  "strategy": "Brief explanation of the batch"
}

Generate the tasks now:`,
		e.st.CycleCount,
		uptime, velocity,
		stats.Total, stats.Completed, completedPct,
		stats.Pending, stats.InProgress, stats.InReview, stats.Blocked,
		orNone(recent), orNone(loads), orNone(blocked),
		e.cfg.Cycle.PlanningMinTasks, e.cfg.Cycle.PlanningMaxTasks,
	)
}

func orNone(lines []string) string {
	if len(lines) == 0 {
		return "- none"
	}
	return strings.Join(lines, "\n")
}
