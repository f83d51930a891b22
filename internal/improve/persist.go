package improve

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/foremanhq/foreman/internal/state"
	"github.com/foremanhq/foreman/pkg/models"
)

func saveEvaluation(db *state.DB, eval *models.Evaluation) error {
	metrics, err := json.Marshal(eval.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO evaluations (id, timestamp, score, text, metrics, cycle_count, uptime_hours)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		eval.ID, state.FormatTime(eval.Timestamp), eval.Score, eval.Text,
		string(metrics), eval.CycleCount, eval.UptimeHours,
	)
	if err != nil {
		return fmt.Errorf("insert evaluation: %w", err)
	}
	return nil
}

// Evaluations returns persisted evaluations, newest first.
func Evaluations(db *state.DB, limit int) ([]*models.Evaluation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`
		SELECT id, timestamp, score, text, metrics, cycle_count, uptime_hours
		FROM evaluations ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query evaluations: %w", err)
	}
	defer rows.Close()

	var evals []*models.Evaluation
	for rows.Next() {
		var eval models.Evaluation
		var ts string
		var metrics sql.NullString
		if err := rows.Scan(&eval.ID, &ts, &eval.Score, &eval.Text, &metrics, &eval.CycleCount, &eval.UptimeHours); err != nil {
			return nil, fmt.Errorf("scan evaluation: %w", err)
		}
		eval.Timestamp, err = state.ParseTime(ts)
		if err != nil {
			return nil, fmt.Errorf("parse evaluation timestamp: %w", err)
		}
		if metrics.Valid && metrics.String != "" {
			json.Unmarshal([]byte(metrics.String), &eval.Metrics)
		}
		evals = append(evals, &eval)
	}
	return evals, rows.Err()
}

// LatestEvaluation returns the newest evaluation, or nil when none exist.
func LatestEvaluation(db *state.DB) (*models.Evaluation, error) {
	evals, err := Evaluations(db, 1)
	if err != nil {
		return nil, err
	}
	if len(evals) == 0 {
		return nil, nil
	}
	return evals[0], nil
}

func saveCycle(db *state.DB, cycle *models.ImprovementCycle) error {
	record, err := json.Marshal(cycle)
	if err != nil {
		return fmt.Errorf("marshal cycle record: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO improvement_cycles (id, timestamp, status, evaluation_id, score, record)
		VALUES (?, ?, ?, ?, ?, ?)`,
		cycle.ID, state.FormatTime(cycle.Timestamp), string(cycle.Status),
		cycle.EvaluationID, cycle.Score, string(record),
	)
	if err != nil {
		return fmt.Errorf("insert improvement cycle: %w", err)
	}
	return nil
}

// Cycles returns persisted improvement cycle records, newest first.
func Cycles(db *state.DB, limit int) ([]*models.ImprovementCycle, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query("SELECT record FROM improvement_cycles ORDER BY timestamp DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query improvement cycles: %w", err)
	}
	defer rows.Close()

	var cycles []*models.ImprovementCycle
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("scan cycle record: %w", err)
		}
		var cycle models.ImprovementCycle
		if err := json.Unmarshal([]byte(record), &cycle); err != nil {
			return nil, fmt.Errorf("parse cycle record: %w", err)
		}
		cycles = append(cycles, &cycle)
	}
	return cycles, rows.Err()
}
