// Package api exposes the JSON query surface over the state database
// plus the task approve/reject controls. Everything else mutates
// through the scheduler; this server is how operators watch and steer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/foremanhq/foreman/internal/comms"
	"github.com/foremanhq/foreman/internal/envs"
	"github.com/foremanhq/foreman/internal/gen"
	"github.com/foremanhq/foreman/internal/logging"
	"github.com/foremanhq/foreman/internal/roster"
	"github.com/foremanhq/foreman/internal/state"
)

// Server serves the query API.
type Server struct {
	log     *logging.Logger
	db      *state.DB
	tasks   *state.TaskStore
	roster  *roster.Roster
	bus     *comms.Bus
	reviews *comms.Reviews
	envs    *envs.Manager
	gateway *gen.Gateway

	coordinator string
}

// Deps collects the server's dependencies.
type Deps struct {
	Log         *logging.Logger
	DB          *state.DB
	Tasks       *state.TaskStore
	Roster      *roster.Roster
	Bus         *comms.Bus
	Reviews     *comms.Reviews
	Envs        *envs.Manager
	Gateway     *gen.Gateway
	Coordinator string
}

// NewServer creates the query API server.
func NewServer(d Deps) *Server {
	return &Server{
		log:         d.Log.Sub("api"),
		db:          d.DB,
		tasks:       d.Tasks,
		roster:      d.Roster,
		bus:         d.Bus,
		reviews:     d.Reviews,
		envs:        d.Envs,
		gateway:     d.Gateway,
		coordinator: d.Coordinator,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/tasks", s.handleTasks)
	mux.HandleFunc("GET /api/tasks/{id}", s.handleTask)
	mux.HandleFunc("POST /api/tasks/{id}/approve", s.handleTaskApprove)
	mux.HandleFunc("POST /api/tasks/{id}/reject", s.handleTaskReject)
	mux.HandleFunc("GET /api/agents", s.handleAgents)
	mux.HandleFunc("GET /api/agents/{id}", s.handleAgent)
	mux.HandleFunc("GET /api/activity", s.handleActivity)
	mux.HandleFunc("GET /api/evaluations", s.handleEvaluations)
	mux.HandleFunc("GET /api/evaluations/latest", s.handleLatestEvaluation)
	mux.HandleFunc("GET /api/environments/{env}", s.handleEnvironment)
	mux.HandleFunc("GET /api/deployments/pending", s.handlePendingDeployments)
	return mux
}

// Run serves until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("query API listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
