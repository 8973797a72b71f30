package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trafficeye/internal/database"
	"trafficeye/internal/engine"
	"trafficeye/internal/sink"
	"trafficeye/internal/timeutil"
)

func TestMain(m *testing.M) {
	engine.SetLogger(nil)
	os.Exit(m.Run())
}

// redLightPNG is a 640x480 frame with a red signal at the top
func redLightPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Gray{Y: 128}), image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(300, 10, 320, 60), image.NewUniform(color.RGBA{230, 20, 20, 255}), image.Point{}, draw.Src)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

var redLightDetections = []engine.Detection{
	{Class: engine.ClassTrafficLight, Confidence: 0.8, BBox: engine.BBox{X1: 300, Y1: 10, X2: 320, Y2: 60}},
	{Class: engine.ClassCar, Confidence: 0.9, BBox: engine.BBox{X1: 250, Y1: 250, X2: 350, Y2: 360}},
}

type fakeDetector struct {
	detections []engine.Detection
	failSeq    map[uint64]bool
	mu         sync.Mutex
	calls      int
}

func (f *fakeDetector) Name() string    { return "fake" }
func (f *fakeDetector) IsHealthy() bool { return true }
func (f *fakeDetector) Close() error    { return nil }

func (f *fakeDetector) Detect(ctx context.Context, frame *FrameData) (*DetectionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failSeq[frame.Seq] {
		return nil, errors.New("inference timeout")
	}
	return &DetectionResult{FrameSeq: frame.Seq, Detections: f.detections, InferenceMs: 5}, nil
}

type handled struct {
	target  sink.Target
	records []engine.Record
}

type fakeHandler struct {
	mu    sync.Mutex
	calls []handled
}

func (f *fakeHandler) HandleAll(target sink.Target, frame image.Image, records []engine.Record) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, handled{target: target, records: records})
	return len(records)
}

func (f *fakeHandler) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += len(c.records)
	}
	return n
}

type fakeSessions struct {
	mu      sync.Mutex
	started []*database.SessionRecord
	ended   map[string][2]int
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{ended: make(map[string][2]int)}
}

func (f *fakeSessions) StartSession(s *database.SessionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, s)
	return nil
}

func (f *fakeSessions) UpdateSessionProgress(id string, frames, violations int) error {
	return nil
}

func (f *fakeSessions) EndSession(id string, endedAt time.Time, frames, violations int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended[id] = [2]int{frames, violations}
	return nil
}

type sliceSource struct {
	frames []*FrameData
	next   int
}

func (s *sliceSource) Next(ctx context.Context) (*FrameData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next >= len(s.frames) {
		return nil, io.EOF
	}
	f := s.frames[s.next]
	s.next++
	return f, nil
}

func (s *sliceSource) Close() error { return nil }

type everyNth struct{ n uint64 }

func (e everyNth) Name() string                    { return "every_nth" }
func (e everyNth) ShouldProcess(f *FrameData) bool { return f.Seq%e.n == 0 }
func (e everyNth) OnProcessed(f *FrameData)        {}
func (e everyNth) Reset()                          {}

func testEngine() *engine.Engine {
	return engine.NewEngine(engine.DefaultConfig(), timeutil.NewMockClock(time.Unix(1700000000, 0)))
}

func TestBatchRunnerSingleViolationPerIdentity(t *testing.T) {
	data := redLightPNG(t)
	src := &sliceSource{}
	for i := 0; i < 3; i++ {
		src.frames = append(src.frames, &FrameData{Seq: uint64(i), Data: data})
	}

	handler := &fakeHandler{}
	sessions := newFakeSessions()
	det := &fakeDetector{detections: redLightDetections}
	runner := NewBatchRunner(NewProcessor(testEngine(), det, handler), sessions, nil)

	summary, err := runner.Run(context.Background(), src, BatchOptions{Kind: database.SessionVideo, Source: "clip.mp4"})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Frames)
	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 1, summary.Violations)
	assert.Equal(t, 1, summary.Persisted)
	assert.Equal(t, map[engine.ViolationType]int{engine.RedLight: 1}, summary.ByType)
	assert.Equal(t, engine.ProfileVideo, summary.Profile)

	require.Len(t, handler.calls, 1)
	assert.Equal(t, summary.SessionID, handler.calls[0].target.SessionID)
	assert.Equal(t, "car_5_5", handler.calls[0].records[0].VehicleIdentity)

	require.Len(t, sessions.started, 1)
	assert.Equal(t, "clip.mp4", sessions.started[0].Source)
	assert.Equal(t, [2]int{3, 1}, sessions.ended[summary.SessionID])
}

func TestBatchRunnerSamplingAndFailures(t *testing.T) {
	data := redLightPNG(t)
	src := &sliceSource{}
	for i := 0; i < 95; i++ {
		src.frames = append(src.frames, &FrameData{Seq: uint64(i), Data: data})
	}
	src.frames[60].Data = []byte("not an image")

	det := &fakeDetector{failSeq: map[uint64]bool{30: true}}
	runner := NewBatchRunner(NewProcessor(testEngine(), det, nil), nil, nil)

	summary, err := runner.Run(context.Background(), src, BatchOptions{Strategy: everyNth{n: 30}})
	require.NoError(t, err)
	assert.Equal(t, 95, summary.Frames)
	assert.Equal(t, 2, summary.Processed) // 0 and 90
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, 3, det.calls) // undecodable frame 60 never reaches the detector
}

func TestBatchRunnerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sessions := newFakeSessions()
	runner := NewBatchRunner(NewProcessor(testEngine(), &fakeDetector{}, nil), sessions, nil)

	summary, err := runner.Run(ctx, &sliceSource{frames: []*FrameData{{Data: []byte{1}}}}, BatchOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, summary.Processed)
	assert.Contains(t, sessions.ended, summary.SessionID)
}

func TestImageBatchTargetsCarrySource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.png"), redLightPNG(t), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.png"), redLightPNG(t), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	src, err := NewDirSource(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, src.Len())

	handler := &fakeHandler{}
	runner := NewBatchRunner(NewProcessor(testEngine(), &fakeDetector{detections: redLightDetections}, handler), nil, nil)
	summary, err := runner.Run(context.Background(), src, BatchOptions{Kind: database.SessionImage, Source: dir})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Frames)

	// The shared session suppresses the second image's identical car
	require.Len(t, handler.calls, 1)
	assert.Equal(t, database.SessionImage, handler.calls[0].target.Kind)
	assert.Equal(t, filepath.Join(dir, "a.png"), handler.calls[0].target.Source)
}

func TestDirSourceEmpty(t *testing.T) {
	_, err := NewDirSource(t.TempDir(), nil)
	assert.Error(t, err)
	_, err = NewDirSource(filepath.Join(t.TempDir(), "missing"), nil)
	assert.Error(t, err)
}

func TestFileSourceOrder(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"frame_002.jpg", "frame_000.jpg", "frame_001.JPG"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0644))
	}
	src, err := NewDirSource(dir, nil)
	require.NoError(t, err)

	var got []string
	for {
		f, err := src.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, uint64(len(got)), f.Seq)
		got = append(got, string(f.Data))
	}
	assert.Equal(t, []string{"frame_000.jpg", "frame_001.JPG", "frame_002.jpg"}, got)
}

func TestJPEGSplitter(t *testing.T) {
	a := []byte{0xFF, 0xD8, 1, 2, 3, 0xFF, 0xD9}
	b := []byte{0xFF, 0xD8, 4, 0xFF, 0xD9}

	s := newJPEGSplitter()
	stream := append(append([]byte{9, 9}, a...), b...)

	var frames [][]byte
	for i := 0; i < len(stream); i += 3 {
		end := min(i+3, len(stream))
		frames = append(frames, s.Write(stream[i:end])...)
	}
	require.Len(t, frames, 2)
	assert.Equal(t, a, frames[0])
	assert.Equal(t, b, frames[1])
	assert.Empty(t, s.Write(nil))
}

func TestFFmpegArgs(t *testing.T) {
	assert.Equal(t, []string{"-rtsp_transport", "tcp", "-i", "rtsp://cam/1", "-r", "15",
		"-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "5", "-"}, ffmpegArgs("rtsp://cam/1", 15, 0, 0))
	assert.Equal(t, []string{"-f", "v4l2", "-video_size", "640x480", "-framerate", "30", "-i", "/dev/video0",
		"-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "5", "-"}, ffmpegArgs("/dev/video0", 30, 640, 480))
	assert.Equal(t, "-re", ffmpegArgs("/data/junction.mp4", 30, 0, 0)[0])

	assert.True(t, isHTTPImageEndpoint("http://cam.local/snapshot.jpg"))
	assert.False(t, isHTTPImageEndpoint("http://cam.local/stream.mjpg"))
}

func TestMergeWithGlobal(t *testing.T) {
	global := DefaultGlobalConfig()

	var nilCfg *CameraPipelineConfig
	eff := nilCfg.MergeWithGlobal("cam1", global)
	assert.Equal(t, SamplingModeEveryFrame, eff.Mode)
	assert.Equal(t, engine.ProfileLive, eff.Profile)

	mode := SamplingModeEveryNth
	skip := 10
	profile := engine.ProfileVideo
	eff = (&CameraPipelineConfig{Mode: &mode, SkipFrames: &skip, Profile: &profile}).MergeWithGlobal("cam2", global)
	assert.Equal(t, "cam2", eff.CameraID)
	assert.Equal(t, SamplingModeEveryNth, eff.Mode)
	assert.Equal(t, 10, eff.SkipFrames)
	assert.Equal(t, engine.ProfileVideo, eff.Profile)
	assert.Equal(t, global.ScheduleInterval, eff.ScheduleInterval)

	eff = (&CameraPipelineConfig{}).MergeWithGlobal("cam3", nil)
	assert.Equal(t, DefaultGlobalConfig().DetectorConfidence, eff.DetectorConfidence)
}

func TestEventBus(t *testing.T) {
	bus := NewEventBus()

	var all, cam1 []*sink.Event
	unsubAll := bus.Subscribe(EventHandlerFunc(func(e *sink.Event) { all = append(all, e) }))
	bus.SubscribeCamera("cam1", EventHandlerFunc(func(e *sink.Event) { cam1 = append(cam1, e) }))
	ch, unsubCh := bus.SubscribeCameraChannel("cam2", 1)
	assert.Equal(t, 3, bus.SubscriberCount())

	bus.Publish(&sink.Event{CameraID: "cam1"})
	bus.Publish(&sink.Event{CameraID: "cam2"})
	bus.Publish(&sink.Event{CameraID: "cam2"}) // channel full, dropped
	bus.Publish(nil)

	assert.Len(t, all, 3)
	assert.Len(t, cam1, 1)
	assert.Equal(t, "cam2", (<-ch).CameraID)

	unsubAll()
	unsubCh()
	unsubCh()
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 1, bus.SubscriberCount())

	bus.Close()
	assert.Equal(t, 0, bus.SubscriberCount())
}

// fakeProvider feeds frames pushed by the test to subscribers
type fakeProvider struct {
	mu      sync.Mutex
	running map[string]bool
	subs    map[string]*FrameSubscription
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{running: map[string]bool{}, subs: map[string]*FrameSubscription{}}
}

func (p *fakeProvider) Start(cameraID, device string, fps, width, height int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running[cameraID] = true
	return nil
}

func (p *fakeProvider) Stop(cameraID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.running, cameraID)
	return nil
}

func (p *fakeProvider) Subscribe(cameraID string, bufferSize int) (*FrameSubscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sub := &FrameSubscription{CameraID: cameraID, Channel: make(chan *FrameData, 10), Done: make(chan struct{})}
	p.subs[cameraID] = sub
	return sub, nil
}

func (p *fakeProvider) Unsubscribe(sub *FrameSubscription) {}

func (p *fakeProvider) IsRunning(cameraID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running[cameraID]
}

func (p *fakeProvider) GetStats(cameraID string) *CaptureStats {
	return &CaptureStats{CameraID: cameraID}
}

func (p *fakeProvider) push(cameraID string, f *FrameData) {
	p.mu.Lock()
	sub := p.subs[cameraID]
	p.mu.Unlock()
	sub.Channel <- f
}

func everyFrameFactory(*EffectiveConfig) (SamplingStrategy, error) {
	return everyNth{n: 1}, nil
}

func TestManagerLiveSession(t *testing.T) {
	provider := newFakeProvider()
	handler := &fakeHandler{}
	sessions := newFakeSessions()
	m := NewDetectionPipelineManager(provider, &fakeDetector{detections: redLightDetections}, handler, sessions, everyFrameFactory, nil)

	tel := &engine.Telemetry{Location: "Ring Road", GPS: "1, 2", CameraID: "cam1"}
	sessionID, err := m.StartCamera(CameraSpec{ID: "cam1", Device: "/dev/video0", Telemetry: tel})
	require.NoError(t, err)
	assert.True(t, provider.IsRunning("cam1"))
	assert.Equal(t, []string{"cam1"}, m.ActiveCameras())

	_, err = m.StartCamera(CameraSpec{ID: "cam1"})
	assert.Error(t, err)

	data := redLightPNG(t)
	provider.push("cam1", &FrameData{CameraID: "cam1", Seq: 1, Data: data})
	provider.push("cam1", &FrameData{CameraID: "cam1", Seq: 2, Data: data})

	require.Eventually(t, func() bool {
		s := m.GetStats("cam1")
		return s != nil && s.FramesProcessed == 2
	}, 2*time.Second, 10*time.Millisecond)

	stats := m.GetStats("cam1")
	assert.Equal(t, sessionID, stats.SessionID)
	assert.Equal(t, uint64(1), stats.Violations)
	assert.Equal(t, engine.ProfileLive, stats.Profile)
	assert.Equal(t, engine.ProfileLive, m.GetEffectiveConfig("cam1").Profile)
	assert.Equal(t, 1, handler.count())
	assert.Same(t, tel, handler.calls[0].target.Telemetry)

	require.NoError(t, m.StopSession(sessionID))
	assert.False(t, provider.IsRunning("cam1"))
	assert.Nil(t, m.GetStats("cam1"))
	assert.Equal(t, [2]int{2, 1}, sessions.ended[sessionID])
	require.Len(t, sessions.started, 1)
	assert.Equal(t, database.SessionLive, sessions.started[0].Kind)

	assert.Error(t, m.StopCamera("cam1"))
	assert.Error(t, m.StopSession("nope"))
}

func TestEmptyFramesAreSkipped(t *testing.T) {
	data := redLightPNG(t)
	src := &sliceSource{frames: []*FrameData{
		{Seq: 0, Data: data},
		{Seq: 1},
		{Seq: 2, Data: []byte{}},
	}}
	det := &fakeDetector{detections: redLightDetections}
	runner := NewBatchRunner(NewProcessor(testEngine(), det, nil), nil, nil)

	summary, err := runner.Run(context.Background(), src, BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Frames)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 1, det.calls)

	out, err := NewProcessor(testEngine(), det, nil).Process(context.Background(), engine.NewSession("s"), sink.Target{}, nil)
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.Empty(t, out.Result.Records)
}

func TestManagerSkipsEmptyFrames(t *testing.T) {
	provider := newFakeProvider()
	m := NewDetectionPipelineManager(provider, &fakeDetector{detections: redLightDetections}, &fakeHandler{}, newFakeSessions(), everyFrameFactory, nil)

	_, err := m.StartCamera(CameraSpec{ID: "cam2", Device: "/dev/video0"})
	require.NoError(t, err)
	defer m.Close()

	provider.push("cam2", &FrameData{CameraID: "cam2", Seq: 1})
	provider.push("cam2", &FrameData{CameraID: "cam2", Seq: 2, Data: redLightPNG(t)})

	require.Eventually(t, func() bool {
		s := m.GetStats("cam2")
		return s != nil && s.FramesProcessed == 1 && s.FramesSkipped == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(0), m.GetStats("cam2").DetectorErrors)
}

func TestManagerUnknownProfile(t *testing.T) {
	m := NewDetectionPipelineManager(newFakeProvider(), &fakeDetector{}, nil, nil, everyFrameFactory, nil)
	bad := "motorway"
	_, err := m.StartCamera(CameraSpec{ID: "cam1", Config: &CameraPipelineConfig{Profile: &bad}})
	assert.Error(t, err)
	assert.Empty(t, m.ActiveCameras())
}

func TestManagerCustomProfile(t *testing.T) {
	m := NewDetectionPipelineManager(newFakeProvider(), &fakeDetector{}, nil, nil, everyFrameFactory, nil)
	cfg := engine.LiveConfig()
	cfg.Rules.SpeedLimit = 80
	m.SetProfile(engine.ProfileLive, cfg)

	_, err := m.StartCamera(CameraSpec{ID: "cam1"})
	require.NoError(t, err)
	defer m.Close()

	m.mu.RLock()
	eng := m.engines[engine.ProfileLive]
	m.mu.RUnlock()
	assert.InDelta(t, 80, eng.Config().Rules.SpeedLimit, 1e-9)
}
