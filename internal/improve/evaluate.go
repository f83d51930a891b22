// Package improve implements the self-improvement loop: periodic
// self-evaluation, proposal generation, panel voting over a test
// deployment, and the deploy-or-rollback decision.
package improve

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/foremanhq/foreman/internal/gen"
	"github.com/foremanhq/foreman/internal/logging"
	"github.com/foremanhq/foreman/internal/state"
	"github.com/foremanhq/foreman/pkg/models"
)

const (
	evaluatorID = "self_evaluator"
	// DefaultScore is assumed when the evaluation text carries no
	// parseable score line.
	DefaultScore = 70
)

var scoreRe = regexp.MustCompile(`(?i)OVERALL SCORE:?\s*(\d+)/100`)

// ExtractScore parses the overall score out of an evaluation text.
func ExtractScore(text string) int {
	m := scoreRe.FindStringSubmatch(text)
	if m == nil {
		return DefaultScore
	}
	score, err := strconv.Atoi(m[1])
	if err != nil {
		return DefaultScore
	}
	return score
}

// Evaluator runs periodic self-evaluations of the whole team.
type Evaluator struct {
	gateway *gen.Gateway
	tasks   *state.TaskStore
	db      *state.DB
	log     *logging.Logger
}

// NewEvaluator creates an evaluator.
func NewEvaluator(gateway *gen.Gateway, tasks *state.TaskStore, db *state.DB, log *logging.Logger) *Evaluator {
	return &Evaluator{gateway: gateway, tasks: tasks, db: db, log: log.Sub("improve")}
}

// Evaluate snapshots task metrics, asks the oracle for a critical
// evaluation, and persists the result. The provider's fallback text is
// accepted like any other evaluation.
func (e *Evaluator) Evaluate(ctx context.Context, cycleCount int, startedAt time.Time) (*models.Evaluation, error) {
	stats, err := e.tasks.Stats()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}

	now := time.Now()
	uptimeHours := now.Sub(startedAt).Hours()
	metrics := models.EvalMetrics{
		TotalTasks: stats.Total,
		Completed:  stats.Completed,
		InProgress: stats.InProgress,
		Failed:     stats.Failed,
	}
	if uptimeHours > 0 {
		metrics.TasksPerHour = float64(stats.Completed) / uptimeHours
	}

	resp, err := e.gateway.Generate(ctx, gen.Request{
		CallerID:    evaluatorID,
		Role:        gen.RoleEvaluator,
		System:      "You are a world-class engineering manager evaluating team performance. Be critical, honest, and actionable.",
		Prompt:      evaluationPrompt(metrics, cycleCount, uptimeHours),
		Temperature: 0.3,
	})
	if err != nil {
		return nil, fmt.Errorf("evaluation call: %w", err)
	}

	eval := &models.Evaluation{
		ID:          "EVAL-" + uuid.New().String()[:8],
		Timestamp:   now,
		Score:       ExtractScore(resp.Text),
		Text:        resp.Text,
		Metrics:     metrics,
		CycleCount:  cycleCount,
		UptimeHours: uptimeHours,
	}
	if err := saveEvaluation(e.db, eval); err != nil {
		return nil, err
	}

	e.log.Info().
		Int("score", eval.Score).
		Int("completed", metrics.Completed).
		Float64("tasks_per_hour", metrics.TasksPerHour).
		Msg("self-evaluation complete")
	return eval, nil
}

func evaluationPrompt(m models.EvalMetrics, cycleCount int, uptimeHours float64) string {
	return fmt.Sprintf(`You are evaluating an autonomous AI development team.

**Current Performance Metrics:**
- Uptime: %.1f hours
- Total Cycles: %d
- Tasks Completed: %d/%d
- Tasks In Progress: %d
- Failed Tasks: %d
- Tasks per Hour: %.2f

**Evaluation Criteria (World-Class Team Standards):**

1. **Strategic Focus (30 points)**
   - Are tasks aligned with high-impact goals?
   - Is there a clear product vision?
   - Is there a balance between innovation and maintenance?

2. **Execution Quality (25 points)**
   - Task completion rate and velocity
   - Technical excellence and code quality
   - Proper testing and validation

3. **Team Collaboration (20 points)**
   - Effective communication between agents
   - Knowledge sharing and learning
   - Coordinated efforts on complex tasks

4. **Innovation & Learning (15 points)**
   - Exploring new approaches
   - Learning from failures
   - Adapting strategies based on results

5. **Operational Excellence (10 points)**
   - Consistent delivery rhythm
   - Proper task prioritization
   - System reliability

**Your Task:**
Provide a brutally honest evaluation of this team's performance. Score each category out of its max points.
Then provide:
1. Overall score out of 100, on a line formatted exactly as "OVERALL SCORE: NN/100"
2. Top 3 strengths
3. Top 3 critical weaknesses
4. 3 immediate action items to improve

Be critical. World-class teams don't accept mediocrity. If something is subpar, call it out.`,
		uptimeHours, cycleCount, m.Completed, m.TotalTasks, m.InProgress, m.Failed, m.TasksPerHour)
}
