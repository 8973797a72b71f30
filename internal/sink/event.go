// Package sink persists engine violation records: it captures evidence,
// writes the append-only violation row and publishes an event for live
// subscribers.
package sink

import (
	"time"

	"trafficeye/internal/engine"
)

// Event is a persisted violation as seen by websocket clients and notifiers
type Event struct {
	ID             string               `json:"id"`
	ViolationID    int64                `json:"violation_id,omitempty"`
	SessionID      string               `json:"session_id"`
	CameraID       string               `json:"camera_id"`
	Type           engine.ViolationType `json:"type"`
	ViolationType  string               `json:"violation_type"`
	Category       engine.Category      `json:"category"`
	VehicleType    engine.Class         `json:"vehicle_type"`
	VehicleID      string               `json:"vehicle_id"`
	Identity       string               `json:"identity"`
	Frame          int                  `json:"frame"`
	Confidence     float64              `json:"confidence"`
	BBox           engine.BBox          `json:"bbox"`
	Location       string               `json:"location"`
	GPSCoords      string               `json:"gps_coords"`
	ImagePath      string               `json:"image_path,omitempty"`
	Timestamp      string               `json:"timestamp"`
	EstimatedSpeed float64              `json:"estimated_speed,omitempty"`
	Persisted      bool                 `json:"persisted"`
	CreatedAt      time.Time            `json:"created_at"`
}

// Critical reports whether the event needs an immediate alert
func (e *Event) Critical() bool {
	return e.Category == engine.CategoryCritical
}

// Publisher receives every handled event
type Publisher interface {
	Publish(event *Event)
}

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(event *Event)

// Publish calls f(event)
func (f PublisherFunc) Publish(event *Event) {
	f(event)
}
