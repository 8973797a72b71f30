package ws

import (
	"time"

	"trafficeye/internal/sink"
)

// ViolationMessage is the JSON pushed to clients for each violation
type ViolationMessage struct {
	Type           string    `json:"type"` // "violation"
	ID             string    `json:"id"`
	ViolationID    int64     `json:"violation_id,omitempty"`
	CameraID       string    `json:"camera_id"`
	SessionID      string    `json:"session_id"`
	Timestamp      time.Time `json:"timestamp"`
	ViolationType  string    `json:"violation_type"`
	Label          string    `json:"label"`
	Category       string    `json:"category"`
	Priority       int       `json:"priority"`
	VehicleID      string    `json:"vehicle_id"`
	Frame          int       `json:"frame"`
	Confidence     float64   `json:"confidence"`
	BBox           []float64 `json:"bbox"` // [x1, y1, x2, y2] in pixels
	Location       string    `json:"location"`
	GPSCoords      string    `json:"gps_coords"`
	EstimatedSpeed float64   `json:"estimated_speed,omitempty"`
	HasImage       bool      `json:"has_image"`
}

// NewViolationMessage builds the client message for an event
func NewViolationMessage(e *sink.Event) *ViolationMessage {
	return &ViolationMessage{
		Type:           "violation",
		ID:             e.ID,
		ViolationID:    e.ViolationID,
		CameraID:       e.CameraID,
		SessionID:      e.SessionID,
		Timestamp:      e.CreatedAt,
		ViolationType:  e.ViolationType,
		Label:          e.Type.Label(),
		Category:       string(e.Category),
		Priority:       e.Category.Priority(),
		VehicleID:      e.VehicleID,
		Frame:          e.Frame,
		Confidence:     e.Confidence,
		BBox:           []float64{e.BBox.X1, e.BBox.Y1, e.BBox.X2, e.BBox.Y2},
		Location:       e.Location,
		GPSCoords:      e.GPSCoords,
		EstimatedSpeed: e.EstimatedSpeed,
		HasImage:       e.ImagePath != "",
	}
}
