package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ViolationRecord is one stored violation. The first eight fields are the
// persistence contract; the rest are details for the API and stats.
type ViolationRecord struct {
	ID            int64
	Timestamp     string
	ViolationType string
	ImagePath     string
	VehicleID     string
	Location      string
	GPSCoords     string
	CameraID      string

	SessionID      string
	Identity       string
	Category       string
	Frame          int
	Confidence     float64
	BBox           []float64
	EstimatedSpeed float64
}

// ViolationFilter narrows ListViolations. Zero values match everything.
type ViolationFilter struct {
	CameraID  string
	SessionID string
	Category  string
	Limit     int
}

const violationColumns = `id, timestamp, violation_type, COALESCE(image_path, ''), COALESCE(vehicle_id, ''),
	COALESCE(location, ''), COALESCE(gps_coords, ''), COALESCE(camera_id, ''),
	COALESCE(session_id, ''), COALESCE(identity, ''), COALESCE(category, ''),
	COALESCE(frame, 0), COALESCE(confidence, 0), COALESCE(bbox, ''), COALESCE(estimated_speed, 0)`

// InsertViolation appends a violation and returns its id
func (d *Database) InsertViolation(v *ViolationRecord) (int64, error) {
	var bboxJSON []byte
	if len(v.BBox) > 0 {
		var err error
		bboxJSON, err = json.Marshal(v.BBox)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal bounding box: %w", err)
		}
	}

	query := `INSERT INTO violations
		(timestamp, violation_type, image_path, vehicle_id, location, gps_coords, camera_id,
		 session_id, identity, category, frame, confidence, bbox, estimated_speed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := d.db.Exec(query, v.Timestamp, v.ViolationType, v.ImagePath, v.VehicleID,
		v.Location, v.GPSCoords, v.CameraID, v.SessionID, v.Identity, v.Category,
		v.Frame, v.Confidence, string(bboxJSON), v.EstimatedSpeed)
	if err != nil {
		return 0, fmt.Errorf("failed to insert violation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read violation id: %w", err)
	}
	v.ID = id
	return id, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanViolation(row rowScanner) (*ViolationRecord, error) {
	var v ViolationRecord
	var bboxJSON string
	if err := row.Scan(&v.ID, &v.Timestamp, &v.ViolationType, &v.ImagePath, &v.VehicleID,
		&v.Location, &v.GPSCoords, &v.CameraID, &v.SessionID, &v.Identity, &v.Category,
		&v.Frame, &v.Confidence, &bboxJSON, &v.EstimatedSpeed); err != nil {
		return nil, err
	}
	if bboxJSON != "" {
		if err := json.Unmarshal([]byte(bboxJSON), &v.BBox); err != nil {
			return nil, fmt.Errorf("failed to unmarshal bounding box: %w", err)
		}
	}
	return &v, nil
}

// GetViolation retrieves a violation by id
func (d *Database) GetViolation(id int64) (*ViolationRecord, error) {
	row := d.db.QueryRow(`SELECT `+violationColumns+` FROM violations WHERE id = ?`, id)
	v, err := scanViolation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrViolationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get violation: %w", err)
	}
	return v, nil
}

// ListViolations returns violations newest first
func (d *Database) ListViolations(f ViolationFilter) ([]*ViolationRecord, error) {
	query := `SELECT ` + violationColumns + ` FROM violations WHERE 1=1`
	args := []interface{}{}

	if f.CameraID != "" {
		query += " AND camera_id = ?"
		args = append(args, f.CameraID)
	}
	if f.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, f.SessionID)
	}
	if f.Category != "" {
		query += " AND category = ?"
		args = append(args, f.Category)
	}

	query += " ORDER BY timestamp DESC, id DESC"

	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list violations: %w", err)
	}
	defer rows.Close()

	var out []*ViolationRecord
	for rows.Next() {
		v, err := scanViolation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan violation: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// CountViolations returns the total number of stored violations
func (d *Database) CountViolations() (int, error) {
	var n int
	if err := d.db.QueryRow("SELECT COUNT(*) FROM violations").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count violations: %w", err)
	}
	return n, nil
}

// CountByType returns violation counts keyed by stored violation_type
func (d *Database) CountByType() (map[string]int, error) {
	rows, err := d.db.Query("SELECT violation_type, COUNT(*) FROM violations GROUP BY violation_type")
	if err != nil {
		return nil, fmt.Errorf("failed to count violations by type: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[t] = n
	}
	return counts, rows.Err()
}

// ConfidencesByType returns every stored confidence grouped by violation_type
func (d *Database) ConfidencesByType(since *time.Time) (map[string][]float64, error) {
	query := "SELECT violation_type, COALESCE(confidence, 0) FROM violations"
	args := []interface{}{}
	if since != nil {
		query += " WHERE timestamp >= ?"
		args = append(args, FormatTimestamp(*since))
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query confidences: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]float64)
	for rows.Next() {
		var t string
		var c float64
		if err := rows.Scan(&t, &c); err != nil {
			return nil, fmt.Errorf("failed to scan confidence: %w", err)
		}
		out[t] = append(out[t], c)
	}
	return out, rows.Err()
}

// FormatTimestamp renders t as ISO-8601 with colons replaced by hyphens so the
// value is also safe inside file names.
func FormatTimestamp(t time.Time) string {
	return strings.ReplaceAll(t.Format("2006-01-02T15:04:05.000000"), ":", "-")
}
