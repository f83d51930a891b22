package orchestrator

import (
	"context"
	"strings"

	"github.com/foremanhq/foreman/internal/comms"
	"github.com/foremanhq/foreman/pkg/models"
)

// collectStatusReports synthesizes a standup report per agent from the
// task store and broadcasts the daily digest once all are in.
func (e *Engine) collectStatusReports(context.Context) error {
	all, err := e.tasks.List()
	if err != nil {
		return err
	}

	now := e.now()
	today := now.Format("2006-01-02")
	uptimeHours := now.Sub(e.st.StartedAt).Hours()

	byAgent := map[string][]*models.Task{}
	for _, t := range all {
		byAgent[t.AssignedTo] = append(byAgent[t.AssignedTo], t)
	}

	for _, agent := range e.roster.Active() {
		if agent.ID == e.cfg.Coordinator {
			continue
		}
		tasks := byAgent[agent.ID]

		var completedToday, blockers []string
		totalCompleted, testsWritten, bugsFixed := 0, 0, 0
		workingOn := "Idle"
		for _, t := range tasks {
			switch t.Status {
			case models.TaskStatusCompleted:
				totalCompleted++
				if t.CompletedAt != nil && t.CompletedAt.Format("2006-01-02") == today {
					completedToday = append(completedToday, t.Title)
					title := strings.ToLower(t.Title)
					if strings.Contains(title, "test") {
						testsWritten++
					}
					if strings.Contains(title, "fix") {
						bugsFixed++
					}
				}
			case models.TaskStatusBlocked:
				blockers = append(blockers, t.Title)
			case models.TaskStatusPending, models.TaskStatusInProgress:
				if workingOn == "Idle" {
					workingOn = t.Title
				}
			}
		}

		velocity := 0.0
		if uptimeHours > 0 {
			velocity = float64(totalCompleted) / uptimeHours
		}

		report := &models.StatusReport{
			AgentID:        agent.ID,
			AgentName:      agent.Name,
			Timestamp:      now,
			CompletedToday: completedToday,
			WorkingOn:      workingOn,
			Blockers:       blockers,
			TestsWritten:   testsWritten,
			BugsFixed:      bugsFixed,
			Velocity:       velocity,
		}
		if err := e.reports.Submit(report); err != nil {
			e.log.Warn().Err(err).Str("agent", agent.ID).Msg("status report failed")
		}
	}

	return e.reports.BroadcastDigest(e.cfg.Coordinator, comms.DateKey(now))
}
