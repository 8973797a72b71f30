package strategies

import (
	"sync"
	"time"

	"trafficeye/internal/pipeline"
	"trafficeye/internal/timeutil"
)

// ScheduledStrategy evaluates at most one frame per interval
type ScheduledStrategy struct {
	interval      time.Duration
	lastProcessed time.Time
	clock         timeutil.Clock
	mu            sync.Mutex
}

// NewScheduledStrategy creates a scheduled strategy
func NewScheduledStrategy(interval time.Duration, clock timeutil.Clock) *ScheduledStrategy {
	if interval <= 0 {
		interval = time.Second
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &ScheduledStrategy{interval: interval, clock: clock}
}

func (s *ScheduledStrategy) Name() string {
	return string(pipeline.SamplingModeScheduled)
}

func (s *ScheduledStrategy) ShouldProcess(frame *pipeline.FrameData) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastProcessed.IsZero() || s.clock.Since(s.lastProcessed) >= s.interval
}

func (s *ScheduledStrategy) OnProcessed(frame *pipeline.FrameData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastProcessed = s.clock.Now()
}

func (s *ScheduledStrategy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastProcessed = time.Time{}
}

// SetInterval updates the interval
func (s *ScheduledStrategy) SetInterval(interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = interval
}
