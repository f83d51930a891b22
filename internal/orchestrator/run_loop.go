package orchestrator

import (
	"context"
	"fmt"

	"github.com/foremanhq/foreman/internal/improve"
)

// Run executes the scheduler loop until the context is canceled. Cold
// start seeds the backlog and the first evaluation, then cycles run
// forever with an adaptive delay between them.
func (e *Engine) Run(ctx context.Context) error {
	st, err := e.db.LoadEngineState()
	if err != nil {
		return fmt.Errorf("load engine state: %w", err)
	}
	if st.StartedAt.IsZero() {
		st.StartedAt = e.now()
	}
	e.st = st

	if err := e.coldStart(ctx); err != nil {
		return fmt.Errorf("cold start: %w", err)
	}

	e.log.Info().
		Int("cycle", e.st.CycleCount).
		Int("agents", len(e.roster.Active())).
		Msg("engine started")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.st.CycleCount++

		if err := e.runCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.log.Error().Err(err).Int("cycle", e.st.CycleCount).Msg("cycle failed")
			e.alert(fmt.Sprintf("Cycle %d failed", e.st.CycleCount), err.Error())
			if err := e.sleep(ctx, e.cfg.Intervals.ErrorBackoff); err != nil {
				return err
			}
			continue
		}

		delay := e.cfg.Intervals.Cycle
		if e.gateway.HighWater() {
			delay = e.cfg.Intervals.CycleSlow
		}
		if err := e.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// coldStart seeds a deterministic starter backlog when the task table
// is empty and runs an initial evaluation when none exists, so the
// first improvement cycle has a baseline to compare against.
func (e *Engine) coldStart(ctx context.Context) error {
	stats, err := e.tasks.Stats()
	if err != nil {
		return err
	}
	if stats.Total == 0 {
		e.log.Info().Msg("no tasks found, seeding starter backlog")
		if err := e.seedStarterTasks(); err != nil {
			return err
		}
	}

	latest, err := improve.LatestEvaluation(e.db)
	if err != nil {
		return err
	}
	if latest == nil {
		e.log.Info().Msg("no evaluations found, running initial evaluation")
		if _, err := e.evaluator.Evaluate(ctx, e.st.CycleCount, e.st.StartedAt); err != nil {
			e.log.Warn().Err(err).Msg("initial evaluation failed")
		} else {
			now := e.now()
			e.st.LastSelfEval = &now
		}
	}
	return e.db.SaveEngineState(e.st)
}

// runCycle executes one scheduler cycle. Each phase catches its own
// errors so one failing phase never starves the rest; only a panic or a
// failed state save aborts the cycle.
func (e *Engine) runCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v", r)
		}
	}()

	start := e.now()
	e.log.Info().
		Int("cycle", e.st.CycleCount).
		Float64("uptime_hours", start.Sub(e.st.StartedAt).Hours()).
		Msg("cycle start")

	if e.cfg.Cycle.ReportEveryCycles > 0 && e.st.CycleCount%e.cfg.Cycle.ReportEveryCycles == 0 {
		e.phase(ctx, "status_reports", e.collectStatusReports)
	}
	e.phase(ctx, "planning", e.planTasks)
	e.phase(ctx, "reviews", e.processReviews)
	e.phase(ctx, "execution", e.executeTasks)
	e.phase(ctx, "blockers", e.processBlockers)
	e.phase(ctx, "self_evaluation", e.maybeSelfEvaluate)
	if e.st.CycleCount%progressEveryCycles == 0 {
		e.phase(ctx, "progress", e.broadcastProgress)
	}

	e.log.Info().
		Int("cycle", e.st.CycleCount).
		Dur("took", e.now().Sub(start)).
		Msg("cycle complete")
	return e.db.SaveEngineState(e.st)
}

// phase runs one cycle phase, converting its error into a log line and
// an alert so the cycle continues.
func (e *Engine) phase(ctx context.Context, name string, fn func(context.Context) error) {
	if ctx.Err() != nil {
		return
	}
	if err := fn(ctx); err != nil {
		e.log.Error().Err(err).Str("phase", name).Int("cycle", e.st.CycleCount).Msg("phase failed")
		e.alert(fmt.Sprintf("Phase %s failed on cycle %d", name, e.st.CycleCount), err.Error())
	}
}

// maybeSelfEvaluate runs the evaluation and improvement pipeline once
// the self-eval interval has elapsed since the last run.
func (e *Engine) maybeSelfEvaluate(ctx context.Context) error {
	if e.st.LastSelfEval != nil && e.now().Sub(*e.st.LastSelfEval) < e.cfg.Intervals.SelfEval {
		return nil
	}

	eval, err := e.evaluator.Evaluate(ctx, e.st.CycleCount, e.st.StartedAt)
	if err != nil {
		return err
	}
	now := e.now()
	e.st.LastSelfEval = &now

	cycle, err := e.pipeline.Run(ctx, eval)
	if err != nil {
		return err
	}
	e.log.Info().
		Str("improvement_cycle", cycle.ID).
		Str("status", string(cycle.Status)).
		Msg("improvement cycle recorded")
	return nil
}

// broadcastProgress sends a team-wide progress summary.
func (e *Engine) broadcastProgress(context.Context) error {
	stats, err := e.tasks.Stats()
	if err != nil {
		return err
	}
	requests, tokens := e.gateway.Usage()
	uptime := e.now().Sub(e.st.StartedAt)
	pct := 0.0
	if stats.Total > 0 {
		pct = float64(stats.Completed) / float64(stats.Total) * 100
	}
	body := fmt.Sprintf(
		"Cycle %d, uptime %.1fh. Tasks: %d total, %d completed (%.0f%%), %d in progress, %d blocked, %d in review. Oracle usage today: %d requests, %d tokens.",
		e.st.CycleCount, uptime.Hours(),
		stats.Total, stats.Completed, pct,
		stats.InProgress, stats.Blocked, stats.InReview,
		requests, tokens,
	)
	e.alert("Progress update", body)
	return nil
}
