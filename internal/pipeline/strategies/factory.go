package strategies

import (
	"fmt"

	"trafficeye/internal/pipeline"
	"trafficeye/internal/timeutil"
)

// StrategyFactory creates sampling strategies based on configuration
type StrategyFactory struct {
	clock timeutil.Clock
}

// NewStrategyFactory creates a new strategy factory. A nil clock uses the real clock.
func NewStrategyFactory(clock timeutil.Clock) *StrategyFactory {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &StrategyFactory{clock: clock}
}

// Create creates a strategy based on the effective configuration
func (f *StrategyFactory) Create(config *pipeline.EffectiveConfig) (pipeline.SamplingStrategy, error) {
	if config == nil {
		return NewDisabledStrategy(), nil
	}

	switch config.Mode {
	case pipeline.SamplingModeDisabled:
		return NewDisabledStrategy(), nil
	case pipeline.SamplingModeEveryFrame:
		return NewEveryFrameStrategy(0, f.clock), nil
	case pipeline.SamplingModeEveryNth:
		return NewEveryNthStrategy(config.SkipFrames), nil
	case pipeline.SamplingModeScheduled:
		return NewScheduledStrategy(config.ScheduleInterval, f.clock), nil
	default:
		return nil, fmt.Errorf("unknown sampling mode: %s", config.Mode)
	}
}

// CreateFromMode creates a strategy from just a mode and default settings
func (f *StrategyFactory) CreateFromMode(mode pipeline.SamplingMode) (pipeline.SamplingStrategy, error) {
	defaults := pipeline.DefaultGlobalConfig()
	return f.Create(&pipeline.EffectiveConfig{
		Mode:             mode,
		SkipFrames:       defaults.SkipFrames,
		ScheduleInterval: defaults.ScheduleInterval,
	})
}
