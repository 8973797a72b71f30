package strategies

import (
	"trafficeye/internal/pipeline"
)

// DisabledStrategy never evaluates a frame.
// Used when capture only is desired
type DisabledStrategy struct{}

// NewDisabledStrategy creates a disabled strategy
func NewDisabledStrategy() *DisabledStrategy {
	return &DisabledStrategy{}
}

func (s *DisabledStrategy) Name() string {
	return string(pipeline.SamplingModeDisabled)
}

func (s *DisabledStrategy) ShouldProcess(frame *pipeline.FrameData) bool {
	return false
}

func (s *DisabledStrategy) OnProcessed(frame *pipeline.FrameData) {}

func (s *DisabledStrategy) Reset() {}
