package pipeline

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"trafficeye/internal/timeutil"
)

// FFmpegFrameProvider captures JPEG frames from cameras with FFmpeg (or by
// polling HTTP snapshot endpoints) and broadcasts them to subscribers
type FFmpegFrameProvider struct {
	cameras map[string]*cameraCapture
	clock   timeutil.Clock
	mu      sync.RWMutex
}

// cameraCapture handles frame capture for a single camera
type cameraCapture struct {
	cameraID    string
	device      string
	fps         int
	width       int
	height      int
	clock       timeutil.Clock
	running     atomic.Bool
	stopCh      chan struct{}
	stopOnce    sync.Once
	cmd         *exec.Cmd
	cmdMu       sync.Mutex
	subscribers map[*FrameSubscription]bool
	subMu       sync.RWMutex
	frameSeq    atomic.Uint64
	stats       CaptureStats
	statsMu     sync.RWMutex
}

// NewFFmpegFrameProvider creates a new FFmpeg-based frame provider
func NewFFmpegFrameProvider(clock timeutil.Clock) *FFmpegFrameProvider {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &FFmpegFrameProvider{
		cameras: make(map[string]*cameraCapture),
		clock:   clock,
	}
}

func (p *FFmpegFrameProvider) Start(cameraID string, device string, fps int, width int, height int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.cameras[cameraID]; exists {
		return fmt.Errorf("camera %s already started", cameraID)
	}
	if fps <= 0 {
		fps = 30
	}

	capture := &cameraCapture{
		cameraID:    cameraID,
		device:      device,
		fps:         fps,
		width:       width,
		height:      height,
		clock:       p.clock,
		stopCh:      make(chan struct{}),
		subscribers: make(map[*FrameSubscription]bool),
		stats:       CaptureStats{CameraID: cameraID},
	}
	p.cameras[cameraID] = capture

	go capture.run()

	log.Printf("[FrameProvider] Started capture for camera %s (device: %s, fps: %d)", cameraID, device, fps)
	return nil
}

func (p *FFmpegFrameProvider) Stop(cameraID string) error {
	p.mu.Lock()
	capture, exists := p.cameras[cameraID]
	if exists {
		delete(p.cameras, cameraID)
	}
	p.mu.Unlock()

	if !exists {
		return fmt.Errorf("camera %s not found", cameraID)
	}
	capture.stop()

	log.Printf("[FrameProvider] Stopped capture for camera %s", cameraID)
	return nil
}

func (p *FFmpegFrameProvider) Subscribe(cameraID string, bufferSize int) (*FrameSubscription, error) {
	p.mu.RLock()
	capture, exists := p.cameras[cameraID]
	p.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("camera %s not found", cameraID)
	}
	if bufferSize <= 0 {
		bufferSize = 5
	}

	sub := &FrameSubscription{
		CameraID: cameraID,
		Channel:  make(chan *FrameData, bufferSize),
		Done:     make(chan struct{}),
	}

	capture.subMu.Lock()
	capture.subscribers[sub] = true
	total := len(capture.subscribers)
	capture.subMu.Unlock()

	log.Printf("[FrameProvider] New subscriber for camera %s (total: %d)", cameraID, total)
	return sub, nil
}

func (p *FFmpegFrameProvider) Unsubscribe(sub *FrameSubscription) {
	if sub == nil {
		return
	}

	p.mu.RLock()
	capture, exists := p.cameras[sub.CameraID]
	p.mu.RUnlock()
	if !exists {
		return
	}

	capture.subMu.Lock()
	if _, ok := capture.subscribers[sub]; ok {
		delete(capture.subscribers, sub)
		close(sub.Done)
	}
	capture.subMu.Unlock()
}

func (p *FFmpegFrameProvider) IsRunning(cameraID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	capture, exists := p.cameras[cameraID]
	return exists && capture.running.Load()
}

func (p *FFmpegFrameProvider) GetStats(cameraID string) *CaptureStats {
	p.mu.RLock()
	capture, exists := p.cameras[cameraID]
	p.mu.RUnlock()
	if !exists {
		return nil
	}

	capture.statsMu.RLock()
	defer capture.statsMu.RUnlock()
	stats := capture.stats
	return &stats
}

// run starts the frame capture loop
func (c *cameraCapture) run() {
	c.running.Store(true)
	defer c.running.Store(false)

	if isHTTPImageEndpoint(c.device) {
		c.captureHTTPImages()
		return
	}
	c.captureFFmpeg()
}

func (c *cameraCapture) stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)

		c.cmdMu.Lock()
		if c.cmd != nil && c.cmd.Process != nil {
			c.cmd.Process.Kill()
		}
		c.cmdMu.Unlock()

		c.subMu.Lock()
		for sub := range c.subscribers {
			close(sub.Done)
			delete(c.subscribers, sub)
		}
		c.subMu.Unlock()
	})
}

func isHTTPImageEndpoint(device string) bool {
	return (strings.HasPrefix(device, "http://") || strings.HasPrefix(device, "https://")) &&
		(strings.Contains(device, ".jpg") || strings.Contains(device, ".jpeg") || strings.Contains(device, "image"))
}

// ffmpegArgs builds the command line that turns device into an MJPEG
// stream on stdout. RTSP uses TCP transport, HTTP streams and video files
// are read directly (files at native rate) and anything else is a V4L2 device.
func ffmpegArgs(device string, fps, width, height int) []string {
	output := []string{"-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "5", "-"}
	rate := []string{"-r", strconv.Itoa(fps)}

	switch {
	case strings.HasPrefix(device, "rtsp://"):
		return append(append([]string{"-rtsp_transport", "tcp", "-i", device}, rate...), output...)
	case strings.HasPrefix(device, "http://"), strings.HasPrefix(device, "https://"):
		return append(append([]string{"-i", device}, rate...), output...)
	case strings.HasPrefix(device, "/dev/"):
		args := []string{"-f", "v4l2"}
		if width > 0 && height > 0 {
			args = append(args, "-video_size", fmt.Sprintf("%dx%d", width, height))
		}
		args = append(args, "-framerate", strconv.Itoa(fps), "-i", device)
		return append(args, output...)
	default:
		return append([]string{"-re", "-i", device}, output...)
	}
}

func (c *cameraCapture) captureHTTPImages() {
	client := &http.Client{Timeout: 10 * time.Second}
	interval := time.Second / time.Duration(c.fps)
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			resp, err := client.Get(c.device)
			if err != nil {
				log.Printf("[FrameProvider] Error fetching frame from %s: %v", c.device, err)
				c.statsMu.Lock()
				c.stats.ReconnectAttempts++
				c.statsMu.Unlock()
				continue
			}

			frame, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				log.Printf("[FrameProvider] Error reading frame: %v", err)
				continue
			}
			if resp.StatusCode != http.StatusOK {
				log.Printf("[FrameProvider] Snapshot endpoint %s returned %d", c.device, resp.StatusCode)
				continue
			}
			c.broadcastFrame(frame)
		}
	}
}

func (c *cameraCapture) captureFFmpeg() {
	cmd := exec.Command("ffmpeg", ffmpegArgs(c.device, c.fps, c.width, c.height)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		log.Printf("[FrameProvider] Error creating stdout pipe: %v", err)
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		log.Printf("[FrameProvider] Error creating stderr pipe: %v", err)
		return
	}
	if err := cmd.Start(); err != nil {
		log.Printf("[FrameProvider] Error starting ffmpeg: %v", err)
		return
	}

	c.cmdMu.Lock()
	c.cmd = cmd
	c.cmdMu.Unlock()
	defer cmd.Wait()

	go io.Copy(io.Discard, stderr)

	splitter := newJPEGSplitter()
	chunk := make([]byte, 8192)

	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		n, err := stdout.Read(chunk)
		if n > 0 {
			for _, frame := range splitter.Write(chunk[:n]) {
				c.broadcastFrame(frame)
			}
		}
		if err != nil {
			if err != io.EOF {
				log.Printf("[FrameProvider] Error reading frame: %v", err)
			}
			return
		}
	}
}

func (c *cameraCapture) broadcastFrame(data []byte) {
	seq := c.frameSeq.Add(1)
	now := c.clock.Now()

	frame := &FrameData{
		CameraID:  c.cameraID,
		Data:      data,
		Seq:       seq,
		Timestamp: now,
		Width:     c.width,
		Height:    c.height,
	}

	c.statsMu.Lock()
	c.stats.FramesCaptured++
	c.stats.LastFrameTime = now.Unix()
	c.stats.CurrentFPS = float32(c.fps)
	c.statsMu.Unlock()

	c.subMu.RLock()
	for sub := range c.subscribers {
		select {
		case sub.Channel <- frame:
		default:
			c.statsMu.Lock()
			c.stats.FramesDropped++
			c.statsMu.Unlock()
		}
	}
	c.subMu.RUnlock()

	if seq%100 == 0 {
		log.Printf("[FrameProvider] Camera %s: frame %d", c.cameraID, seq)
	}
}

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// jpegSplitter cuts a concatenated MJPEG byte stream into whole JPEG images
type jpegSplitter struct {
	buf []byte
}

func newJPEGSplitter() *jpegSplitter {
	return &jpegSplitter{buf: make([]byte, 0, 1<<20)}
}

// Write appends p and returns every complete image now in the buffer
func (s *jpegSplitter) Write(p []byte) [][]byte {
	s.buf = append(s.buf, p...)

	var frames [][]byte
	for {
		start := bytes.Index(s.buf, jpegSOI)
		if start < 0 {
			// Keep a trailing 0xFF that may start the next marker
			if n := len(s.buf); n > 0 && s.buf[n-1] == 0xFF {
				s.buf = append(s.buf[:0], 0xFF)
			} else {
				s.buf = s.buf[:0]
			}
			return frames
		}
		end := bytes.Index(s.buf[start+2:], jpegEOI)
		if end < 0 {
			if start > 0 {
				s.buf = append(s.buf[:0], s.buf[start:]...)
			}
			return frames
		}
		end += start + 2 + len(jpegEOI)

		frame := make([]byte, end-start)
		copy(frame, s.buf[start:end])
		frames = append(frames, frame)
		s.buf = append(s.buf[:0], s.buf[end:]...)
	}
}

// Ensure FFmpegFrameProvider implements FrameProvider
var _ FrameProvider = (*FFmpegFrameProvider)(nil)
