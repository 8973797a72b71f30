package pipeline

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"trafficeye/internal/database"
	"trafficeye/internal/engine"
	"trafficeye/internal/sink"
	"trafficeye/internal/timeutil"
)

// progressEvery is how many processed frames pass between session progress writes
const progressEvery = 30

// CameraSpec describes a live camera to run a session on
type CameraSpec struct {
	ID     string
	Device string
	FPS    int
	Width  int
	Height int
	// Telemetry replaces the per-rule placeholders when set
	Telemetry *engine.Telemetry
	Config    *CameraPipelineConfig
}

// DetectionPipeline runs one engine session over a live camera's frames
type DetectionPipeline struct {
	cameraID     string
	config       *EffectiveConfig
	strategy     SamplingStrategy
	processor    *Processor
	session      *engine.Session
	target       sink.Target
	subscription *FrameSubscription
	sessions     SessionStore
	clock        timeutil.Clock
	ctx          context.Context
	cancel       context.CancelFunc
	done         chan struct{}
	stats        PipelineStats
	statsMu      sync.RWMutex
}

// DetectionPipelineManager manages live camera pipelines
type DetectionPipelineManager struct {
	pipelines       map[string]*DetectionPipeline
	frameProvider   FrameProvider
	detector        Detector
	handler         ViolationHandler
	sessions        SessionStore
	strategyFactory func(*EffectiveConfig) (SamplingStrategy, error)
	profiles        map[string]engine.Config
	engines         map[string]*engine.Engine
	clock           timeutil.Clock
	mu              sync.RWMutex
	globalConfig    *GlobalPipelineConfig
}

// NewDetectionPipelineManager creates a new pipeline manager. sessions may be nil.
func NewDetectionPipelineManager(
	frameProvider FrameProvider,
	detector Detector,
	handler ViolationHandler,
	sessions SessionStore,
	strategyFactory func(*EffectiveConfig) (SamplingStrategy, error),
	clock timeutil.Clock,
) *DetectionPipelineManager {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &DetectionPipelineManager{
		pipelines:       make(map[string]*DetectionPipeline),
		frameProvider:   frameProvider,
		detector:        detector,
		handler:         handler,
		sessions:        sessions,
		strategyFactory: strategyFactory,
		profiles:        make(map[string]engine.Config),
		engines:         make(map[string]*engine.Engine),
		clock:           clock,
		globalConfig:    DefaultGlobalConfig(),
	}
}

// SetGlobalConfig updates the global pipeline configuration
func (m *DetectionPipelineManager) SetGlobalConfig(config *GlobalPipelineConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.globalConfig = config
}

// GetGlobalConfig returns the current global configuration
func (m *DetectionPipelineManager) GetGlobalConfig() *GlobalPipelineConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.globalConfig != nil {
		cfg := *m.globalConfig
		return &cfg
	}
	return DefaultGlobalConfig()
}

// SetProfile overrides the thresholds used for a profile name
func (m *DetectionPipelineManager) SetProfile(name string, cfg engine.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[name] = cfg
	delete(m.engines, name)
}

// engineFor returns the shared engine of a profile. Callers hold m.mu.
func (m *DetectionPipelineManager) engineFor(profile string) (*engine.Engine, error) {
	if eng, ok := m.engines[profile]; ok {
		return eng, nil
	}
	cfg, ok := m.profiles[profile]
	if !ok {
		var err error
		if cfg, err = engine.ProfileConfig(profile); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s profile: %w", profile, err)
	}
	eng := engine.NewEngine(cfg, m.clock)
	m.engines[profile] = eng
	return eng, nil
}

// StartCamera starts capture and a new session for a camera and returns the session id
func (m *DetectionPipelineManager) StartCamera(spec CameraSpec) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.pipelines[spec.ID]; exists {
		return "", fmt.Errorf("pipeline already exists for camera %s", spec.ID)
	}

	effectiveConfig := spec.Config.MergeWithGlobal(spec.ID, m.globalConfig)

	strategy, err := m.strategyFactory(effectiveConfig)
	if err != nil {
		return "", fmt.Errorf("failed to create strategy: %w", err)
	}
	eng, err := m.engineFor(effectiveConfig.Profile)
	if err != nil {
		return "", fmt.Errorf("failed to create engine: %w", err)
	}
	if m.detector == nil || !m.detector.IsHealthy() {
		log.Printf("[Pipeline] Warning: detector not healthy for camera %s", spec.ID)
	}

	if !m.frameProvider.IsRunning(spec.ID) {
		if err := m.frameProvider.Start(spec.ID, spec.Device, spec.FPS, spec.Width, spec.Height); err != nil {
			return "", fmt.Errorf("failed to start capture: %w", err)
		}
	}
	sub, err := m.frameProvider.Subscribe(spec.ID, 5)
	if err != nil {
		m.frameProvider.Stop(spec.ID)
		return "", fmt.Errorf("failed to subscribe to frames: %w", err)
	}

	sessionID := uuid.New().String()
	if m.sessions != nil {
		if err := m.sessions.StartSession(&database.SessionRecord{
			ID:        sessionID,
			Kind:      database.SessionLive,
			Source:    spec.ID,
			Profile:   effectiveConfig.Profile,
			StartedAt: m.clock.Now(),
		}); err != nil {
			log.Printf("[Pipeline] Failed to record session for camera %s: %v", spec.ID, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	pipeline := &DetectionPipeline{
		cameraID:     spec.ID,
		config:       effectiveConfig,
		strategy:     strategy,
		processor:    NewProcessor(eng, m.detector, m.handler),
		session:      engine.NewSession(sessionID),
		subscription: sub,
		sessions:     m.sessions,
		clock:        m.clock,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
		target: sink.Target{
			SessionID: sessionID,
			Kind:      database.SessionLive,
			Telemetry: spec.Telemetry,
		},
		stats: PipelineStats{
			CameraID:    spec.ID,
			SessionID:   sessionID,
			CurrentMode: effectiveConfig.Mode,
			Profile:     effectiveConfig.Profile,
		},
	}
	m.pipelines[spec.ID] = pipeline

	go pipeline.run(m.frameProvider)

	log.Printf("[Pipeline] Started session %s for camera %s (mode: %s, profile: %s)",
		sessionID, spec.ID, effectiveConfig.Mode, effectiveConfig.Profile)
	return sessionID, nil
}

// StopCamera ends the camera's session and stops its capture
func (m *DetectionPipelineManager) StopCamera(cameraID string) error {
	m.mu.Lock()
	pipeline, exists := m.pipelines[cameraID]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("pipeline not found for camera %s", cameraID)
	}
	delete(m.pipelines, cameraID)
	m.mu.Unlock()

	pipeline.stop()
	if err := m.frameProvider.Stop(cameraID); err != nil {
		log.Printf("[Pipeline] Capture for camera %s already stopped: %v", cameraID, err)
	}
	log.Printf("[Pipeline] Stopped detection pipeline for camera %s", cameraID)
	return nil
}

// StopSession stops the camera running sessionID
func (m *DetectionPipelineManager) StopSession(sessionID string) error {
	m.mu.RLock()
	cameraID := ""
	for id, p := range m.pipelines {
		if p.session.ID == sessionID {
			cameraID = id
			break
		}
	}
	m.mu.RUnlock()

	if cameraID == "" {
		return fmt.Errorf("no running pipeline for session %s", sessionID)
	}
	return m.StopCamera(cameraID)
}

// GetStats returns pipeline statistics for a camera
func (m *DetectionPipelineManager) GetStats(cameraID string) *PipelineStats {
	m.mu.RLock()
	pipeline, exists := m.pipelines[cameraID]
	m.mu.RUnlock()
	if !exists {
		return nil
	}

	pipeline.statsMu.RLock()
	stats := pipeline.stats
	pipeline.statsMu.RUnlock()
	stats.CaptureStats = m.frameProvider.GetStats(cameraID)
	return &stats
}

// ActiveCameras returns the ids of cameras with a running pipeline
func (m *DetectionPipelineManager) ActiveCameras() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.pipelines))
	for id := range m.pipelines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close shuts down all pipelines
func (m *DetectionPipelineManager) Close() error {
	for _, id := range m.ActiveCameras() {
		m.StopCamera(id)
	}
	log.Printf("[Pipeline] Closed all detection pipelines")
	return nil
}

// GetEffectiveConfig returns the effective configuration for a camera
// Returns nil if the camera doesn't have an active pipeline
func (m *DetectionPipelineManager) GetEffectiveConfig(cameraID string) *EffectiveConfig {
	m.mu.RLock()
	pipeline, exists := m.pipelines[cameraID]
	m.mu.RUnlock()
	if !exists {
		return nil
	}
	config := *pipeline.config
	return &config
}

// run is the processing loop for a single camera. The session is only
// touched from this goroutine.
func (p *DetectionPipeline) run(frames FrameProvider) {
	defer close(p.done)
	defer frames.Unsubscribe(p.subscription)

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.subscription.Done:
			return
		case frame := <-p.subscription.Channel:
			if frame == nil {
				continue
			}
			p.processFrame(frame)
		}
	}
}

func (p *DetectionPipeline) stop() {
	p.cancel()
	select {
	case <-p.done:
	case <-time.After(5 * time.Second):
		log.Printf("[Pipeline] Camera %s did not stop in time", p.cameraID)
	}

	if p.sessions != nil {
		p.statsMu.RLock()
		frames, violations := int(p.stats.FramesProcessed), int(p.stats.Violations)
		p.statsMu.RUnlock()
		if err := p.sessions.EndSession(p.session.ID, p.clock.Now(), frames, violations); err != nil {
			log.Printf("[Pipeline] Failed to end session %s: %v", p.session.ID, err)
		}
	}
}

func (p *DetectionPipeline) processFrame(frame *FrameData) {
	p.statsMu.Lock()
	p.stats.FramesSeen++
	p.stats.LastFrameTime = frame.Timestamp.Unix()
	p.statsMu.Unlock()

	if !p.strategy.ShouldProcess(frame) {
		return
	}

	out, err := p.processor.Process(p.ctx, p.session, p.target, frame)
	if err != nil {
		if p.ctx.Err() == nil {
			log.Printf("[Pipeline] Camera %s: %v", p.cameraID, err)
		}
		p.statsMu.Lock()
		p.stats.DetectorErrors++
		p.statsMu.Unlock()
		return
	}
	if out.Skipped {
		p.statsMu.Lock()
		p.stats.FramesSkipped++
		p.statsMu.Unlock()
		return
	}
	p.strategy.OnProcessed(frame)

	p.statsMu.Lock()
	p.stats.FramesProcessed++
	p.stats.Violations += uint64(len(out.Result.Records))
	if p.stats.AvgInferenceMs == 0 {
		p.stats.AvgInferenceMs = out.InferenceMs
	} else {
		p.stats.AvgInferenceMs = (p.stats.AvgInferenceMs + out.InferenceMs) / 2
	}
	processed, violations := int(p.stats.FramesProcessed), int(p.stats.Violations)
	p.statsMu.Unlock()

	if p.sessions != nil && processed%progressEvery == 0 {
		if err := p.sessions.UpdateSessionProgress(p.session.ID, processed, violations); err != nil {
			log.Printf("[Pipeline] Failed to update session %s: %v", p.session.ID, err)
		}
	}
}

// Ensure DetectionPipelineManager implements PipelineManager
var _ PipelineManager = (*DetectionPipelineManager)(nil)
