package strategies

import (
	"trafficeye/internal/pipeline"
)

// EveryNthStrategy evaluates frames whose number is a multiple of N,
// so frame 0 is always evaluated
type EveryNthStrategy struct {
	n uint64
}

// NewEveryNthStrategy creates an every-Nth-frame strategy; n < 1 means every frame
func NewEveryNthStrategy(n int) *EveryNthStrategy {
	if n < 1 {
		n = 1
	}
	return &EveryNthStrategy{n: uint64(n)}
}

func (s *EveryNthStrategy) Name() string {
	return string(pipeline.SamplingModeEveryNth)
}

// N returns the sampling period
func (s *EveryNthStrategy) N() int {
	return int(s.n)
}

func (s *EveryNthStrategy) ShouldProcess(frame *pipeline.FrameData) bool {
	return frame != nil && frame.Seq%s.n == 0
}

func (s *EveryNthStrategy) OnProcessed(frame *pipeline.FrameData) {}

func (s *EveryNthStrategy) Reset() {}
