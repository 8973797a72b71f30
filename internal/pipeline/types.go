package pipeline

import (
	"time"

	"trafficeye/internal/engine"
)

// SamplingMode defines which frames of a source reach the engine
type SamplingMode string

const (
	// SamplingModeDisabled - capture only, nothing is evaluated
	SamplingModeDisabled SamplingMode = "disabled"
	// SamplingModeEveryFrame - evaluate every captured frame (live display path)
	SamplingModeEveryFrame SamplingMode = "every_frame"
	// SamplingModeEveryNth - evaluate every Nth frame (batch video path)
	SamplingModeEveryNth SamplingMode = "every_nth"
	// SamplingModeScheduled - evaluate at most once per interval
	SamplingModeScheduled SamplingMode = "scheduled"
)

// FrameData represents a captured video frame
type FrameData struct {
	CameraID  string    // Camera identifier
	Data      []byte    // JPEG frame data
	Seq       uint64    // Frame number within the source
	Timestamp time.Time // Capture timestamp
	Width     int       // Frame width (if known)
	Height    int       // Frame height (if known)
	// Source names the file a batch frame was read from
	Source string
}

// DetectionResult is the detector output for one frame
type DetectionResult struct {
	CameraID    string             `json:"camera_id"`
	FrameSeq    uint64             `json:"frame_seq"`
	Timestamp   time.Time          `json:"timestamp"`
	Detections  []engine.Detection `json:"detections"`
	Skipped     int                `json:"skipped"` // class ids outside the mapping
	InferenceMs float32            `json:"inference_ms"`
}

// CameraPipelineConfig contains per-camera overrides.
// Nil/zero values mean "inherit from global config"
type CameraPipelineConfig struct {
	Mode               *SamplingMode  `json:"mode,omitempty"`
	SkipFrames         *int           `json:"skip_frames,omitempty"`         // For every_nth mode
	ScheduleInterval   *time.Duration `json:"schedule_interval,omitempty"`   // For scheduled mode
	Profile            *string        `json:"profile,omitempty"`             // Engine threshold profile
	DetectorConfidence *float64       `json:"detector_confidence,omitempty"` // Detector request threshold
}

// GlobalPipelineConfig contains global default settings
type GlobalPipelineConfig struct {
	Mode               SamplingMode  `json:"mode"`
	SkipFrames         int           `json:"skip_frames"`
	ScheduleInterval   time.Duration `json:"schedule_interval"`
	Profile            string        `json:"profile"`
	DetectorConfidence float64       `json:"detector_confidence"`
}

// EffectiveConfig represents the merged configuration for a camera
// (camera overrides applied to global defaults)
type EffectiveConfig struct {
	CameraID           string
	Mode               SamplingMode
	SkipFrames         int
	ScheduleInterval   time.Duration
	Profile            string
	DetectorConfidence float64
}

// DefaultGlobalConfig returns the live camera defaults
func DefaultGlobalConfig() *GlobalPipelineConfig {
	return &GlobalPipelineConfig{
		Mode:               SamplingModeEveryFrame,
		SkipFrames:         30,
		ScheduleInterval:   time.Second,
		Profile:            engine.ProfileLive,
		DetectorConfidence: 0.25,
	}
}

// MergeWithGlobal merges camera-specific config with global defaults
func (c *CameraPipelineConfig) MergeWithGlobal(cameraID string, global *GlobalPipelineConfig) *EffectiveConfig {
	if global == nil {
		global = DefaultGlobalConfig()
	}

	effective := &EffectiveConfig{
		CameraID:           cameraID,
		Mode:               global.Mode,
		SkipFrames:         global.SkipFrames,
		ScheduleInterval:   global.ScheduleInterval,
		Profile:            global.Profile,
		DetectorConfidence: global.DetectorConfidence,
	}

	if c == nil {
		return effective
	}

	if c.Mode != nil {
		effective.Mode = *c.Mode
	}
	if c.SkipFrames != nil {
		effective.SkipFrames = *c.SkipFrames
	}
	if c.ScheduleInterval != nil {
		effective.ScheduleInterval = *c.ScheduleInterval
	}
	if c.Profile != nil {
		effective.Profile = *c.Profile
	}
	if c.DetectorConfidence != nil {
		effective.DetectorConfidence = *c.DetectorConfidence
	}

	return effective
}

// PipelineStats contains pipeline counters for one camera
type PipelineStats struct {
	CameraID        string        `json:"camera_id"`
	SessionID       string        `json:"session_id"`
	CaptureStats    *CaptureStats `json:"capture,omitempty"`
	FramesSeen      uint64        `json:"frames_seen"`
	FramesProcessed uint64        `json:"frames_processed"`
	FramesSkipped   uint64        `json:"frames_skipped"`
	Violations      uint64        `json:"violations"`
	DetectorErrors  uint64        `json:"detector_errors"`
	AvgInferenceMs  float32       `json:"avg_inference_ms"`
	LastFrameTime   int64         `json:"last_frame_time"`
	CurrentMode     SamplingMode  `json:"mode"`
	Profile         string        `json:"profile"`
}
