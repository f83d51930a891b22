// Package orchestrator runs the cycle scheduler that drives the whole
// system: status reports, planning, code reviews, concurrent task
// execution, blocker resolution, and the periodic self-evaluation hook.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/foremanhq/foreman/internal/comms"
	"github.com/foremanhq/foreman/internal/config"
	"github.com/foremanhq/foreman/internal/gen"
	"github.com/foremanhq/foreman/internal/improve"
	"github.com/foremanhq/foreman/internal/logging"
	"github.com/foremanhq/foreman/internal/roster"
	"github.com/foremanhq/foreman/internal/state"
	"github.com/foremanhq/foreman/pkg/models"
)

// progressEveryCycles throttles the team-wide progress broadcast.
const progressEveryCycles = 10

// Deps collects everything the engine needs to run.
type Deps struct {
	Config    *config.Config
	Log       *logging.Logger
	DB        *state.DB
	Tasks     *state.TaskStore
	Roster    *roster.Roster
	Gateway   *gen.Gateway
	Bus       *comms.Bus
	Reports   *comms.Reports
	Reviews   *comms.Reviews
	Evaluator *improve.Evaluator
	Pipeline  *improve.Pipeline
}

// Engine is the cycle scheduler. One engine runs per process; phases
// within a cycle are sequential, only task execution fans out.
type Engine struct {
	cfg       *config.Config
	log       *logging.Logger
	db        *state.DB
	tasks     *state.TaskStore
	roster    *roster.Roster
	gateway   *gen.Gateway
	bus       *comms.Bus
	reports   *comms.Reports
	reviews   *comms.Reviews
	evaluator *improve.Evaluator
	pipeline  *improve.Pipeline

	st *state.EngineState

	// test seams
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New creates an engine from its dependencies.
func New(d Deps) *Engine {
	return &Engine{
		cfg:       d.Config,
		log:       d.Log.Sub("orchestrator"),
		db:        d.DB,
		tasks:     d.Tasks,
		roster:    d.Roster,
		gateway:   d.Gateway,
		bus:       d.Bus,
		reports:   d.Reports,
		reviews:   d.Reviews,
		evaluator: d.Evaluator,
		pipeline:  d.Pipeline,
		sleep:     sleepCtx,
		now:       time.Now,
	}
}

// State exposes the persisted engine counters for the query API.
func (e *Engine) State() *state.EngineState {
	return e.st
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// alert broadcasts an operational alert from the coordinator. Alert
// delivery failures are logged and swallowed: alerting must never take
// the scheduler down.
func (e *Engine) alert(subject, body string) {
	err := e.bus.Broadcast(&models.Message{
		From:     e.cfg.Coordinator,
		Type:     models.MessageTypeStatusUpdate,
		Subject:  subject,
		Body:     body,
		Priority: models.PriorityUrgent,
	})
	if err != nil {
		e.log.Error().Err(err).Msg("alert broadcast failed")
	}
}

// coordinator returns the coordinator agent, which planning, reviews,
// and blocker resolution all run as.
func (e *Engine) coordinator() (*models.Agent, error) {
	agent := e.roster.Get(e.cfg.Coordinator)
	if agent == nil {
		return nil, fmt.Errorf("coordinator %q not in roster", e.cfg.Coordinator)
	}
	return agent, nil
}
