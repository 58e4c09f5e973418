package database

import (
	"database/sql"
	"errors"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"

	"jordanella.com/scenario-detector/internal/debug"
)

// ErrSessionNotFound is returned when no session matches the requested id
var ErrSessionNotFound = errors.New("session not found")

// SessionSummary is one row of the session listing
type SessionSummary struct {
	SessionID    string
	ScenarioID   string
	ScenarioName string
	StartedAt    time.Time
	EndedAt      *time.Time
	Frames       int64
	AvgDuration  time.Duration
	EndReached   bool
}

// SaveDebugReport stores a session report, replacing a previous save of the same session
func (db *DB) SaveDebugReport(report debug.Report) error {
	err := db.ExecTx(func(tx *sql.Tx) error {
		var endedAt sql.NullTime
		if !report.EndedAt.IsZero() {
			endedAt = sql.NullTime{Time: report.EndedAt, Valid: true}
		}

		// Cascades to the stats of a previous save
		if _, err := tx.Exec(`DELETE FROM sessions WHERE session_id = ?`, report.SessionID); err != nil {
			return fmt.Errorf("failed to clear session: %w", err)
		}

		_, err := tx.Exec(`
			INSERT INTO sessions (
				session_id, scenario_id, scenario_name, started_at, ended_at,
				frames, total_ns, min_ns, max_ns, avg_ns, end_reached,
				action_failures, action_skips, dropped_reports
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, report.SessionID, report.ScenarioID, report.ScenarioName, report.StartedAt, endedAt,
			report.Frames, int64(report.TotalDuration), int64(report.MinDuration),
			int64(report.MaxDuration), int64(report.AvgDuration), report.EndReached,
			report.ActionFailures, report.ActionSkips, report.DroppedReports)
		if err != nil {
			return fmt.Errorf("failed to save session: %w", err)
		}

		for _, e := range report.Events {
			_, err := tx.Exec(`
				INSERT INTO event_stats (session_id, event_id, name, evaluations, triggers)
				VALUES (?, ?, ?, ?, ?)
			`, report.SessionID, e.EventID, e.Name, e.Evaluations, e.Triggers)
			if err != nil {
				return fmt.Errorf("failed to save event %d stats: %w", e.EventID, err)
			}
		}

		for _, c := range report.Conditions {
			_, err := tx.Exec(`
				INSERT INTO condition_stats (
					session_id, condition_id, evaluations, detections, best_confidence, last_x, last_y
				) VALUES (?, ?, ?, ?, ?, ?, ?)
			`, report.SessionID, c.ConditionID, c.Evaluations, c.Detections, c.BestConfidence,
				c.LastPosition.X, c.LastPosition.Y)
			if err != nil {
				return fmt.Errorf("failed to save condition %d stats: %w", c.ConditionID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	db.logger.Debug("Saved debug report",
		zap.String("session_id", report.SessionID),
		zap.Int64("frames", report.Frames))
	return nil
}

// ListSessions returns the most recent sessions first. limit <= 0 returns all of them.
func (db *DB) ListSessions(limit int) ([]SessionSummary, error) {
	query := `
		SELECT session_id, scenario_id, scenario_name, started_at, ended_at, frames, avg_ns, end_reached
		FROM sessions
		ORDER BY started_at DESC
	`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionSummary
	for rows.Next() {
		var s SessionSummary
		var endedAt sql.NullTime
		var avg int64
		if err := rows.Scan(&s.SessionID, &s.ScenarioID, &s.ScenarioName, &s.StartedAt,
			&endedAt, &s.Frames, &avg, &s.EndReached); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if endedAt.Valid {
			t := endedAt.Time
			s.EndedAt = &t
		}
		s.AvgDuration = time.Duration(avg)
		sessions = append(sessions, s)
	}

	return sessions, rows.Err()
}

// GetDebugReport loads the full report of a session
func (db *DB) GetDebugReport(sessionID string) (*debug.Report, error) {
	var r debug.Report
	var endedAt sql.NullTime
	var total, minNs, maxNs, avg int64

	err := db.conn.QueryRow(`
		SELECT session_id, scenario_id, scenario_name, started_at, ended_at,
			frames, total_ns, min_ns, max_ns, avg_ns, end_reached,
			action_failures, action_skips, dropped_reports
		FROM sessions WHERE session_id = ?
	`, sessionID).Scan(&r.SessionID, &r.ScenarioID, &r.ScenarioName, &r.StartedAt, &endedAt,
		&r.Frames, &total, &minNs, &maxNs, &avg, &r.EndReached,
		&r.ActionFailures, &r.ActionSkips, &r.DroppedReports)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if endedAt.Valid {
		r.EndedAt = endedAt.Time
	}
	r.TotalDuration = time.Duration(total)
	r.MinDuration = time.Duration(minNs)
	r.MaxDuration = time.Duration(maxNs)
	r.AvgDuration = time.Duration(avg)

	if r.Events, err = db.eventStats(sessionID); err != nil {
		return nil, err
	}
	if r.Conditions, err = db.conditionStats(sessionID); err != nil {
		return nil, err
	}
	return &r, nil
}

// DeleteSession removes a session and its statistics
func (db *DB) DeleteSession(sessionID string) error {
	res, err := db.conn.Exec(`DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return nil
}

func (db *DB) eventStats(sessionID string) ([]debug.EventStats, error) {
	rows, err := db.conn.Query(`
		SELECT event_id, name, evaluations, triggers
		FROM event_stats WHERE session_id = ?
		ORDER BY event_id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get event stats: %w", err)
	}
	defer rows.Close()

	var stats []debug.EventStats
	for rows.Next() {
		var e debug.EventStats
		if err := rows.Scan(&e.EventID, &e.Name, &e.Evaluations, &e.Triggers); err != nil {
			return nil, err
		}
		stats = append(stats, e)
	}
	return stats, rows.Err()
}

func (db *DB) conditionStats(sessionID string) ([]debug.ConditionStats, error) {
	rows, err := db.conn.Query(`
		SELECT condition_id, evaluations, detections, best_confidence, last_x, last_y
		FROM condition_stats WHERE session_id = ?
		ORDER BY condition_id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get condition stats: %w", err)
	}
	defer rows.Close()

	var stats []debug.ConditionStats
	for rows.Next() {
		var c debug.ConditionStats
		var x, y int
		if err := rows.Scan(&c.ConditionID, &c.Evaluations, &c.Detections, &c.BestConfidence, &x, &y); err != nil {
			return nil, err
		}
		c.LastPosition = image.Pt(x, y)
		stats = append(stats, c)
	}
	return stats, rows.Err()
}
