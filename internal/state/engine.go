package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// EngineState is the singleton row tracking the run loop across restarts.
type EngineState struct {
	CycleCount   int        `json:"cycle_count"`
	StartedAt    time.Time  `json:"started_at"`
	LastSelfEval *time.Time `json:"last_self_eval,omitempty"`
}

// LoadEngineState reads the engine row, creating it on first run.
func (db *DB) LoadEngineState() (*EngineState, error) {
	var st EngineState
	var startedAt string
	var lastEval sql.NullString

	row := db.QueryRow("SELECT cycle_count, started_at, last_self_eval FROM engine_state WHERE id = 1")
	err := row.Scan(&st.CycleCount, &startedAt, &lastEval)
	if errors.Is(err, sql.ErrNoRows) {
		st.StartedAt = time.Now()
		if _, err := db.Exec(
			"INSERT INTO engine_state (id, cycle_count, started_at) VALUES (1, 0, ?)",
			FormatTime(st.StartedAt),
		); err != nil {
			return nil, fmt.Errorf("initialize engine state: %w", err)
		}
		return &st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load engine state: %w", err)
	}

	st.StartedAt, err = ParseTime(startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	st.LastSelfEval = ParseNullableTime(lastEval)
	return &st, nil
}

// SaveEngineState persists the engine row.
func (db *DB) SaveEngineState(st *EngineState) error {
	_, err := db.Exec(
		"UPDATE engine_state SET cycle_count = ?, started_at = ?, last_self_eval = ? WHERE id = 1",
		st.CycleCount, FormatTime(st.StartedAt), nullableTime(st.LastSelfEval),
	)
	if err != nil {
		return fmt.Errorf("save engine state: %w", err)
	}
	return nil
}
