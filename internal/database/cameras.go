package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CameraRecord represents a camera stored in the database
type CameraRecord struct {
	ID         string
	Name       string
	Device     string
	Location   string
	GPSCoords  string
	Resolution string
	FPS        int
	Status     string
	CreatedAt  time.Time
}

const cameraColumns = `id, name, device, COALESCE(location, ''), COALESCE(gps_coords, ''),
	COALESCE(resolution, ''), COALESCE(fps, 30), COALESCE(status, 'inactive'), created_at`

// SaveCamera saves or updates a camera
func (d *Database) SaveCamera(cam *CameraRecord) error {
	query := `INSERT INTO cameras (id, name, device, location, gps_coords, resolution, fps, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			device = excluded.device,
			location = excluded.location,
			gps_coords = excluded.gps_coords,
			resolution = excluded.resolution,
			fps = excluded.fps,
			status = excluded.status`

	_, err := d.db.Exec(query, cam.ID, cam.Name, cam.Device, cam.Location, cam.GPSCoords,
		cam.Resolution, cam.FPS, cam.Status, cam.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save camera: %w", err)
	}
	return nil
}

func scanCamera(row rowScanner) (*CameraRecord, error) {
	var cam CameraRecord
	err := row.Scan(&cam.ID, &cam.Name, &cam.Device, &cam.Location, &cam.GPSCoords,
		&cam.Resolution, &cam.FPS, &cam.Status, &cam.CreatedAt)
	return &cam, err
}

// GetCamera retrieves a camera by ID
func (d *Database) GetCamera(id string) (*CameraRecord, error) {
	cam, err := scanCamera(d.db.QueryRow(`SELECT `+cameraColumns+` FROM cameras WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCameraNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get camera: %w", err)
	}
	return cam, nil
}

// ListCameras returns all cameras
func (d *Database) ListCameras() ([]*CameraRecord, error) {
	rows, err := d.db.Query(`SELECT ` + cameraColumns + ` FROM cameras ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cameras: %w", err)
	}
	defer rows.Close()

	var cameras []*CameraRecord
	for rows.Next() {
		cam, err := scanCamera(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan camera: %w", err)
		}
		cameras = append(cameras, cam)
	}
	return cameras, rows.Err()
}

// DeleteCamera deletes a camera by ID
func (d *Database) DeleteCamera(id string) error {
	res, err := d.db.Exec("DELETE FROM cameras WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete camera: %w", err)
	}
	return expectOneRow(res, ErrCameraNotFound)
}

// UpdateCameraStatus updates only the status of a camera
func (d *Database) UpdateCameraStatus(id, status string) error {
	res, err := d.db.Exec("UPDATE cameras SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("failed to update camera status: %w", err)
	}
	return expectOneRow(res, ErrCameraNotFound)
}
