package comms

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/foremanhq/foreman/internal/state"
	"github.com/foremanhq/foreman/pkg/models"
)

// Reports stores one status report per agent per day.
type Reports struct {
	db  *state.DB
	bus *Bus
}

// NewReports creates a status report store.
func NewReports(db *state.DB, bus *Bus) *Reports {
	return &Reports{db: db, bus: bus}
}

// DateKey formats a time as the YYYYMMDD report key.
func DateKey(t time.Time) string {
	return t.Format("20060102")
}

// Submit upserts an agent's report for its date. A second report on the
// same day replaces the first.
func (r *Reports) Submit(report *models.StatusReport) error {
	if report.AgentID == "" {
		return fmt.Errorf("status report requires agent_id")
	}
	if report.Timestamp.IsZero() {
		report.Timestamp = time.Now()
	}
	if report.Date == "" {
		report.Date = DateKey(report.Timestamp)
	}

	completed, err := json.Marshal(report.CompletedToday)
	if err != nil {
		return fmt.Errorf("marshal completed_today: %w", err)
	}
	blockers, err := json.Marshal(report.Blockers)
	if err != nil {
		return fmt.Errorf("marshal blockers: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO status_reports (agent_id, date, agent_name, timestamp, completed_today, working_on, blockers, tests_written, bugs_fixed, velocity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id, date) DO UPDATE SET
			agent_name = excluded.agent_name,
			timestamp = excluded.timestamp,
			completed_today = excluded.completed_today,
			working_on = excluded.working_on,
			blockers = excluded.blockers,
			tests_written = excluded.tests_written,
			bugs_fixed = excluded.bugs_fixed,
			velocity = excluded.velocity`,
		report.AgentID, report.Date, report.AgentName, state.FormatTime(report.Timestamp),
		string(completed), report.WorkingOn, string(blockers),
		report.TestsWritten, report.BugsFixed, report.Velocity,
	)
	if err != nil {
		return fmt.Errorf("upsert status report: %w", err)
	}
	return nil
}

// ForDate returns all reports submitted for the given YYYYMMDD date.
func (r *Reports) ForDate(date string) ([]*models.StatusReport, error) {
	rows, err := r.db.Query(`
		SELECT agent_id, date, agent_name, timestamp, completed_today, working_on, blockers, tests_written, bugs_fixed, velocity
		FROM status_reports WHERE date = ? ORDER BY agent_id`,
		date,
	)
	if err != nil {
		return nil, fmt.Errorf("query status reports: %w", err)
	}
	defer rows.Close()

	var reports []*models.StatusReport
	for rows.Next() {
		var rep models.StatusReport
		var ts string
		var completed, blockers sql.NullString
		err := rows.Scan(
			&rep.AgentID, &rep.Date, &rep.AgentName, &ts,
			&completed, &rep.WorkingOn, &blockers,
			&rep.TestsWritten, &rep.BugsFixed, &rep.Velocity,
		)
		if err != nil {
			return nil, fmt.Errorf("scan status report: %w", err)
		}
		rep.Timestamp, err = state.ParseTime(ts)
		if err != nil {
			return nil, fmt.Errorf("parse report timestamp: %w", err)
		}
		if completed.Valid && completed.String != "" {
			json.Unmarshal([]byte(completed.String), &rep.CompletedToday)
		}
		if blockers.Valid && blockers.String != "" {
			json.Unmarshal([]byte(blockers.String), &rep.Blockers)
		}
		reports = append(reports, &rep)
	}
	return reports, rows.Err()
}

// BroadcastDigest summarizes today's reports into one broadcast message
// from the coordinator so every agent sees the team's standing.
func (r *Reports) BroadcastDigest(coordinatorID string, date string) error {
	reports, err := r.ForDate(date)
	if err != nil {
		return err
	}
	if len(reports) == 0 {
		return nil
	}

	var body strings.Builder
	var totalTests, totalBugs int
	var blocked []string
	for _, rep := range reports {
		fmt.Fprintf(&body, "%s: %s", rep.AgentName, rep.WorkingOn)
		if len(rep.Blockers) > 0 {
			fmt.Fprintf(&body, " (blocked: %s)", strings.Join(rep.Blockers, "; "))
			blocked = append(blocked, rep.AgentName)
		}
		body.WriteString("\n")
		totalTests += rep.TestsWritten
		totalBugs += rep.BugsFixed
	}
	fmt.Fprintf(&body, "\nTeam totals: %d tests written, %d bugs fixed, %d agents blocked",
		totalTests, totalBugs, len(blocked))

	return r.bus.Broadcast(&models.Message{
		From:    coordinatorID,
		Type:    models.MessageTypeStatusUpdate,
		Subject: fmt.Sprintf("Daily status digest %s", date),
		Body:    body.String(),
	})
}
