package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/foremanhq/foreman/internal/api"
	"github.com/foremanhq/foreman/internal/comms"
	"github.com/foremanhq/foreman/internal/envs"
	"github.com/foremanhq/foreman/internal/gen"
	"github.com/foremanhq/foreman/internal/improve"
	"github.com/foremanhq/foreman/internal/logging"
	"github.com/foremanhq/foreman/internal/orchestrator"
	"github.com/foremanhq/foreman/internal/roster"
	"github.com/foremanhq/foreman/internal/state"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the engine",
	Long: `Start the scheduler loop and the query API.

The engine seeds a starter backlog on first run, then cycles through
planning, code reviews, task execution, blocker resolution, and
periodic self-evaluation until interrupted. Without oracle
credentials it still runs, degraded to deterministic fallback
output.`,
	RunE: runEngine,
}

func runEngine(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logging.New(os.Stderr, cfg.LogLevel)

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	r, err := roster.Load(cfg.RosterPath)
	if err != nil {
		return err
	}

	var provider gen.Provider
	claude, err := gen.NewClaudeProvider(gen.ClaudeConfig{
		Model:         anthropic.Model(cfg.Anthropic.Model),
		APIKey:        cfg.Anthropic.APIKey,
		UseAWSBedrock: cfg.Anthropic.UseAWSBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
	})
	if err != nil {
		log.Warn().Err(err).Msg("oracle provider unavailable, running on fallback output")
	} else {
		provider = claude
	}

	limiter := gen.NewLimiter(cfg.Quota.MaxRequests, cfg.Quota.MaxTokens, cfg.Quota.HighWater)
	gateway := gen.NewGateway(provider, limiter, log)

	tasks := state.NewTaskStore(db)
	bus := comms.NewBus(db)
	reports := comms.NewReports(db, bus)
	reviews := comms.NewReviews(db, bus, tasks)
	envMgr := envs.NewManager(db, log, cfg.Coordinator, cfg.Gates.MinCoverage)
	evaluator := improve.NewEvaluator(gateway, tasks, db, log)
	pipeline := improve.NewPipeline(evaluator, envMgr, r, improve.PipelineConfig{
		ScoreThreshold: cfg.Improve.ScoreThreshold,
		PanelSize:      cfg.Improve.PanelSize,
		Criteria: improve.VoteCriteria{
			ApprovalThreshold: cfg.Improve.ApprovalThreshold,
			MaxNoVotes:        cfg.Improve.MaxNoVotes,
		},
	})

	engine := orchestrator.New(orchestrator.Deps{
		Config:    cfg,
		Log:       log,
		DB:        db,
		Tasks:     tasks,
		Roster:    r,
		Gateway:   gateway,
		Bus:       bus,
		Reports:   reports,
		Reviews:   reviews,
		Evaluator: evaluator,
		Pipeline:  pipeline,
	})

	server := api.NewServer(api.Deps{
		Log:         log,
		DB:          db,
		Tasks:       tasks,
		Roster:      r,
		Bus:         bus,
		Reviews:     reviews,
		Envs:        envMgr,
		Gateway:     gateway,
		Coordinator: cfg.Coordinator,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(ctx) })
	g.Go(func() error { return server.Run(ctx, cfg.API.Addr) })
	if cfg.RosterPath != "" {
		g.Go(func() error { return r.Watch(ctx, cfg.RosterPath, log) })
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		log.Info().Msg("shut down")
		return nil
	}
	return err
}
