package strategies

import (
	"sync"
	"time"

	"trafficeye/internal/pipeline"
	"trafficeye/internal/timeutil"
)

// EveryFrameStrategy evaluates every frame.
// Optionally rate-limits to avoid overwhelming the detector
type EveryFrameStrategy struct {
	minInterval   time.Duration // Minimum time between evaluated frames
	lastProcessed time.Time
	clock         timeutil.Clock
	mu            sync.Mutex
}

// NewEveryFrameStrategy creates an every-frame strategy.
// minInterval can be 0 to process every frame, or a duration to rate-limit
func NewEveryFrameStrategy(minInterval time.Duration, clock timeutil.Clock) *EveryFrameStrategy {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &EveryFrameStrategy{minInterval: minInterval, clock: clock}
}

func (s *EveryFrameStrategy) Name() string {
	return string(pipeline.SamplingModeEveryFrame)
}

func (s *EveryFrameStrategy) ShouldProcess(frame *pipeline.FrameData) bool {
	if s.minInterval == 0 {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastProcessed.IsZero() || s.clock.Since(s.lastProcessed) >= s.minInterval
}

func (s *EveryFrameStrategy) OnProcessed(frame *pipeline.FrameData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastProcessed = s.clock.Now()
}

func (s *EveryFrameStrategy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastProcessed = time.Time{}
}
