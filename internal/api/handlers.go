package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/foremanhq/foreman/internal/comms"
	"github.com/foremanhq/foreman/internal/improve"
	"github.com/foremanhq/foreman/internal/state"
	"github.com/foremanhq/foreman/pkg/models"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats, err := s.tasks.Stats()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	engine, err := s.db.LoadEngineState()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	requests, tokens := s.gateway.Usage()

	s.writeJSON(w, http.StatusOK, map[string]any{
		"tasks":          stats,
		"cycle_count":    engine.CycleCount,
		"started_at":     engine.StartedAt,
		"last_self_eval": engine.LastSelfEval,
		"active_agents":  len(s.roster.Active()),
		"oracle_usage": map[string]int64{
			"requests": int64(requests),
			"tokens":   tokens,
		},
	})
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	var (
		tasks []*models.Task
		err   error
	)
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := models.TaskStatus(raw)
		if !status.Valid() {
			s.writeError(w, http.StatusBadRequest, "unknown status "+raw)
			return
		}
		tasks, err = s.tasks.ListByStatus(status)
	} else {
		tasks, err = s.tasks.List()
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	s.writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.Get(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, state.ErrTaskNotFound) {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

// reviewDecision is the approve/reject request body. An empty approver
// means a human operator acting through the API.
type reviewDecision struct {
	Approver string `json:"approver"`
	Comments string `json:"comments"`
}

func (s *Server) handleTaskApprove(w http.ResponseWriter, r *http.Request) {
	s.decideTask(w, r, true)
}

func (s *Server) handleTaskReject(w http.ResponseWriter, r *http.Request) {
	s.decideTask(w, r, false)
}

// decideTask resolves the review gating a task. The review queue owns
// the legality checks; an illegal decision surfaces as a conflict, not
// a silent state change.
func (s *Server) decideTask(w http.ResponseWriter, r *http.Request, approve bool) {
	task, err := s.tasks.Get(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, state.ErrTaskNotFound) {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if task.ReviewID == "" {
		s.writeError(w, http.StatusConflict, "task "+task.ID+" has no review to decide")
		return
	}

	var body reviewDecision
	if r.Body != nil {
		// An empty body is a valid bare approval.
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	if body.Approver == "" {
		body.Approver = "human"
	}

	if approve {
		err = s.reviews.Approve(task.ReviewID, body.Approver, body.Comments)
	} else {
		err = s.reviews.RequestChanges(task.ReviewID, body.Approver, body.Comments)
	}
	if err != nil {
		var te *state.TransitionError
		switch {
		case errors.Is(err, comms.ErrReviewNotFound):
			s.writeError(w, http.StatusNotFound, err.Error())
		case errors.As(err, &te):
			s.writeError(w, http.StatusConflict, err.Error())
		default:
			s.writeError(w, http.StatusConflict, err.Error())
		}
		return
	}

	task, err = s.tasks.Get(task.ID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleAgents(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.roster.All())
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	agent := s.roster.Get(r.PathValue("id"))
	if agent == nil {
		s.writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	all, err := s.tasks.List()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	assigned := []*models.Task{}
	for _, t := range all {
		if t.AssignedTo == agent.ID {
			assigned = append(assigned, t)
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"agent": agent,
		"tasks": assigned,
	})
}

func (s *Server) handleActivity(w http.ResponseWriter, _ *http.Request) {
	msgs, err := s.bus.Recent(50)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if msgs == nil {
		msgs = []*models.Message{}
	}
	s.writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleEvaluations(w http.ResponseWriter, _ *http.Request) {
	evals, err := improve.Evaluations(s.db, 20)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if evals == nil {
		evals = []*models.Evaluation{}
	}
	s.writeJSON(w, http.StatusOK, evals)
}

func (s *Server) handleLatestEvaluation(w http.ResponseWriter, _ *http.Request) {
	eval, err := improve.LatestEvaluation(s.db)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if eval == nil {
		s.writeError(w, http.StatusNotFound, "no evaluations yet")
		return
	}
	s.writeJSON(w, http.StatusOK, eval)
}

func (s *Server) handleEnvironment(w http.ResponseWriter, r *http.Request) {
	env := models.Environment(r.PathValue("env"))
	switch env {
	case models.EnvTest, models.EnvStaging, models.EnvProduction:
	default:
		s.writeError(w, http.StatusNotFound, "unknown environment "+string(env))
		return
	}
	components, err := s.envs.Components(env)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if components == nil {
		components = []*models.ComponentState{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"environment": env,
		"components":  components,
	})
}

func (s *Server) handlePendingDeployments(w http.ResponseWriter, _ *http.Request) {
	pending, err := s.envs.Pending()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if pending == nil {
		pending = []*models.DeploymentRequest{}
	}
	s.writeJSON(w, http.StatusOK, pending)
}
