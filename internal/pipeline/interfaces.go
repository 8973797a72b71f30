package pipeline

import (
	"context"
	"image"
	"time"

	"trafficeye/internal/database"
	"trafficeye/internal/engine"
	"trafficeye/internal/sink"
)

// Detector is the object detection backend
type Detector interface {
	// Name returns the detector identifier (e.g., "yolo")
	Name() string

	// IsHealthy returns true if the detector is operational
	IsHealthy() bool

	// Detect runs detection on a frame and returns results
	Detect(ctx context.Context, frame *FrameData) (*DetectionResult, error)

	// Close releases detector resources
	Close() error
}

// FrameSubscription represents an active subscription to frame data
type FrameSubscription struct {
	CameraID string
	Channel  chan *FrameData
	Done     chan struct{} // Closed when subscription is cancelled
}

// FrameProvider captures frames from camera sources and broadcasts to subscribers
type FrameProvider interface {
	// Start begins capturing frames from the specified camera
	Start(cameraID string, device string, fps int, width int, height int) error

	// Stop halts frame capture for a camera
	Stop(cameraID string) error

	// Subscribe returns a channel that receives frames for a camera
	// Caller must call Unsubscribe when done to prevent resource leaks
	Subscribe(cameraID string, bufferSize int) (*FrameSubscription, error)

	// Unsubscribe removes a frame subscription
	Unsubscribe(sub *FrameSubscription)

	// IsRunning returns true if a camera is actively capturing
	IsRunning(cameraID string) bool

	// GetStats returns capture statistics for a camera
	GetStats(cameraID string) *CaptureStats
}

// FrameSource yields the frames of a finite input in order.
// Next returns io.EOF after the last frame.
type FrameSource interface {
	Next(ctx context.Context) (*FrameData, error)
	Close() error
}

// CaptureStats contains frame capture statistics
type CaptureStats struct {
	CameraID          string  `json:"camera_id"`
	FramesCaptured    uint64  `json:"frames_captured"`
	FramesDropped     uint64  `json:"frames_dropped"`
	CurrentFPS        float32 `json:"current_fps"`
	LastFrameTime     int64   `json:"last_frame_time"` // Unix timestamp
	ReconnectAttempts uint64  `json:"reconnect_attempts"`
}

// SamplingStrategy decides which frames are evaluated
type SamplingStrategy interface {
	// Name returns the strategy identifier
	Name() string

	// ShouldProcess determines if this frame goes through detection and the engine
	ShouldProcess(frame *FrameData) bool

	// OnProcessed is called after a frame was evaluated
	OnProcessed(frame *FrameData)

	// Reset clears internal state (e.g., on a new session)
	Reset()
}

// ViolationHandler receives the records of each evaluated frame and
// returns how many were persisted
type ViolationHandler interface {
	HandleAll(target sink.Target, frame image.Image, records []engine.Record) int
}

// SessionStore records session lifecycle
type SessionStore interface {
	StartSession(s *database.SessionRecord) error
	UpdateSessionProgress(id string, frames, violations int) error
	EndSession(id string, endedAt time.Time, frames, violations int) error
}

// EventHandler receives violation events
type EventHandler interface {
	// OnViolation is called for every handled violation
	OnViolation(event *sink.Event)
}

// EventHandlerFunc adapts a function to EventHandler
type EventHandlerFunc func(event *sink.Event)

// OnViolation calls f(event)
func (f EventHandlerFunc) OnViolation(event *sink.Event) {
	f(event)
}

// PipelineManager orchestrates live camera sessions
type PipelineManager interface {
	// StartCamera begins capture and a new engine session for a camera
	StartCamera(spec CameraSpec) (string, error)

	// StopCamera ends the camera's session and halts capture
	StopCamera(cameraID string) error

	// StopSession stops whichever camera runs the given session
	StopSession(sessionID string) error

	// GetStats returns pipeline statistics
	GetStats(cameraID string) *PipelineStats

	// ActiveCameras lists cameras with a running pipeline
	ActiveCameras() []string

	// Close shuts down the pipeline manager
	Close() error
}
