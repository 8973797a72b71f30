package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"
)

// Session kinds
const (
	SessionVideo = "video"
	SessionImage = "image"
	SessionLive  = "live"
)

// SessionRecord is one processing run
type SessionRecord struct {
	ID         string
	Kind       string
	Source     string
	Profile    string
	StartedAt  time.Time
	EndedAt    *time.Time
	Frames     int
	Violations int
}

// Active reports whether the session has not ended
func (s *SessionRecord) Active() bool {
	return s.EndedAt == nil
}

// StartSession records a new session
func (d *Database) StartSession(s *SessionRecord) error {
	query := `INSERT INTO sessions (id, kind, source, profile, started_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := d.db.Exec(query, s.ID, s.Kind, s.Source, s.Profile, s.StartedAt.UTC()); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	return nil
}

// UpdateSessionProgress stores the running frame and violation counts
func (d *Database) UpdateSessionProgress(id string, frames, violations int) error {
	res, err := d.db.Exec("UPDATE sessions SET frames = ?, violations = ? WHERE id = ?", frames, violations, id)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return expectOneRow(res, ErrSessionNotFound)
}

// EndSession marks a session finished with its final counts
func (d *Database) EndSession(id string, endedAt time.Time, frames, violations int) error {
	res, err := d.db.Exec("UPDATE sessions SET ended_at = ?, frames = ?, violations = ? WHERE id = ?",
		endedAt.UTC(), frames, violations, id)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	return expectOneRow(res, ErrSessionNotFound)
}

const sessionColumns = `id, kind, source, profile, started_at, ended_at, frames, violations`

func scanSession(row rowScanner) (*SessionRecord, error) {
	var s SessionRecord
	var ended sql.NullTime
	if err := row.Scan(&s.ID, &s.Kind, &s.Source, &s.Profile, &s.StartedAt, &ended, &s.Frames, &s.Violations); err != nil {
		return nil, err
	}
	if ended.Valid {
		t := ended.Time
		s.EndedAt = &t
	}
	return &s, nil
}

// GetSession retrieves a session by id
func (d *Database) GetSession(id string) (*SessionRecord, error) {
	s, err := scanSession(d.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// ListSessions returns sessions newest first
func (d *Database) ListSessions(limit int) ([]*SessionRecord, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions ORDER BY started_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []*SessionRecord
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ClearSession removes a session, its violations and their evidence images.
// It returns the number of violations removed.
func (d *Database) ClearSession(id string) (int, error) {
	if _, err := d.GetSession(id); err != nil {
		return 0, err
	}

	violations, err := d.ListViolations(ViolationFilter{SessionID: id})
	if err != nil {
		return 0, err
	}

	tx, err := d.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM violations WHERE session_id = ?", id); err != nil {
		return 0, fmt.Errorf("failed to delete session violations: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM sessions WHERE id = ?", id); err != nil {
		return 0, fmt.Errorf("failed to delete session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit session clear: %w", err)
	}

	for _, v := range violations {
		if v.ImagePath == "" {
			continue
		}
		if err := os.Remove(v.ImagePath); err != nil && !os.IsNotExist(err) {
			return len(violations), fmt.Errorf("failed to remove evidence %s: %w", v.ImagePath, err)
		}
	}
	return len(violations), nil
}

func expectOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
