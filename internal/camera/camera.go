// Package camera keeps the registry of live traffic cameras: the device to
// read from, where the camera stands and how it is labelled on violations.
package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"trafficeye/internal/database"
	"trafficeye/internal/engine"
	"trafficeye/internal/pipeline"
	"trafficeye/internal/timeutil"
)

// Camera statuses
const (
	StatusInactive = "inactive"
	StatusActive   = "active"
	StatusError    = "error"
)

// ErrDeviceNotFound is returned when a local capture device does not exist
var ErrDeviceNotFound = errors.New("camera device does not exist")

// Store is the persistence used by the registry
type Store interface {
	SaveCamera(cam *database.CameraRecord) error
	ListCameras() ([]*database.CameraRecord, error)
	DeleteCamera(id string) error
	UpdateCameraStatus(id, status string) error
}

// Camera is a registered video device with its roadside position
type Camera struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Device     string    `json:"device"`
	Location   string    `json:"location"`
	GPSCoords  string    `json:"gps_coords"`
	Resolution string    `json:"resolution"`
	FPS        int       `json:"fps"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// Telemetry returns the labels written on this camera's violations
func (c *Camera) Telemetry() *engine.Telemetry {
	return &engine.Telemetry{
		Location: c.Location,
		GPS:      c.GPSCoords,
		CameraID: c.ID,
	}
}

// Spec builds the pipeline spec for this camera
func (c *Camera) Spec(cfg *pipeline.CameraPipelineConfig) pipeline.CameraSpec {
	w, h, _ := ParseResolution(c.Resolution)
	return pipeline.CameraSpec{
		ID:        c.ID,
		Device:    c.Device,
		FPS:       c.FPS,
		Width:     w,
		Height:    h,
		Telemetry: c.Telemetry(),
		Config:    cfg,
	}
}

// ParseResolution parses "WIDTHxHEIGHT"; an empty string yields 0x0
func ParseResolution(res string) (int, int, error) {
	if res == "" {
		return 0, 0, nil
	}
	ws, hs, ok := strings.Cut(strings.ToLower(res), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid resolution %q", res)
	}
	w, err := strconv.Atoi(ws)
	if err != nil || w <= 0 {
		return 0, 0, fmt.Errorf("invalid resolution width %q", res)
	}
	h, err := strconv.Atoi(hs)
	if err != nil || h <= 0 {
		return 0, 0, fmt.Errorf("invalid resolution height %q", res)
	}
	return w, h, nil
}

// Manager manages registered cameras
type Manager struct {
	cameras map[string]*Camera
	mu      sync.RWMutex
	store   Store
	clock   timeutil.Clock
}

// NewManager creates a camera manager and loads persisted cameras
func NewManager(store Store, clock timeutil.Clock) *Manager {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	m := &Manager{
		cameras: make(map[string]*Camera),
		store:   store,
		clock:   clock,
	}

	if store != nil {
		if err := m.load(); err != nil {
			log.Printf("[Camera] Warning: failed to load cameras from database: %v", err)
		}
	}
	return m
}

func (m *Manager) load() error {
	records, err := m.store.ListCameras()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		m.cameras[r.ID] = &Camera{
			ID:         r.ID,
			Name:       r.Name,
			Device:     r.Device,
			Location:   r.Location,
			GPSCoords:  r.GPSCoords,
			Resolution: r.Resolution,
			FPS:        r.FPS,
			Status:     StatusInactive, // pipelines never survive a restart
			CreatedAt:  r.CreatedAt,
		}
	}
	log.Printf("[Camera] Loaded %d cameras from database", len(records))
	return nil
}

// AddCamera validates and registers a camera, assigning an id if empty
func (m *Manager) AddCamera(c *Camera) (*Camera, error) {
	if c.Device == "" {
		return nil, fmt.Errorf("camera device is required")
	}
	if !deviceExists(c.Device) {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, c.Device)
	}
	if _, _, err := ParseResolution(c.Resolution); err != nil {
		return nil, err
	}

	cam := *c
	if cam.ID == "" {
		cam.ID = uuid.NewString()
	}
	if cam.Name == "" {
		cam.Name = cam.ID
	}
	if cam.FPS <= 0 {
		cam.FPS = 30
	}
	cam.Status = StatusInactive
	cam.CreatedAt = m.clock.Now().UTC()

	if m.store != nil {
		if err := m.store.SaveCamera(toRecord(&cam)); err != nil {
			return nil, fmt.Errorf("failed to persist camera: %w", err)
		}
	}

	m.mu.Lock()
	m.cameras[cam.ID] = &cam
	m.mu.Unlock()

	out := cam
	return &out, nil
}

// GetCamera returns a copy of the camera with the given id
func (m *Manager) GetCamera(id string) (*Camera, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cam, ok := m.cameras[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", database.ErrCameraNotFound, id)
	}
	out := *cam
	return &out, nil
}

// ListCameras returns copies of all cameras ordered by id
func (m *Manager) ListCameras() []*Camera {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cameras := make([]*Camera, 0, len(m.cameras))
	for _, cam := range m.cameras {
		out := *cam
		cameras = append(cameras, &out)
	}
	sort.Slice(cameras, func(i, j int) bool { return cameras[i].ID < cameras[j].ID })
	return cameras
}

// RemoveCamera unregisters a camera
func (m *Manager) RemoveCamera(id string) error {
	m.mu.Lock()
	_, ok := m.cameras[id]
	delete(m.cameras, id)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", database.ErrCameraNotFound, id)
	}
	if m.store != nil {
		if err := m.store.DeleteCamera(id); err != nil && !errors.Is(err, database.ErrCameraNotFound) {
			return fmt.Errorf("failed to delete camera: %w", err)
		}
	}
	return nil
}

// SetStatus records a camera's pipeline status
func (m *Manager) SetStatus(id, status string) error {
	m.mu.Lock()
	cam, ok := m.cameras[id]
	if ok {
		cam.Status = status
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", database.ErrCameraNotFound, id)
	}
	if m.store != nil {
		if err := m.store.UpdateCameraStatus(id, status); err != nil {
			log.Printf("[Camera] Warning: failed to update camera status in database: %v", err)
		}
	}
	return nil
}

// Snapshot captures a single JPEG frame from the camera device
func (m *Manager) Snapshot(ctx context.Context, id string) ([]byte, error) {
	cam, err := m.GetCamera(id)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", snapshotArgs(cam)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %w (stderr: %s)", err, stderr.String())
	}
	return stdout.Bytes(), nil
}

func snapshotArgs(c *Camera) []string {
	var args []string
	switch {
	case isNetworkSource(c.Device):
		args = []string{"-y", "-i", c.Device}
	case strings.HasPrefix(c.Device, "/dev/"):
		args = []string{"-f", "v4l2"}
		if c.Resolution != "" {
			args = append(args, "-video_size", c.Resolution)
		}
		args = append(args, "-i", c.Device)
	default:
		args = []string{"-i", c.Device}
	}
	return append(args, "-vframes", "1", "-f", "mjpeg", "-q:v", "2", "-")
}

func toRecord(c *Camera) *database.CameraRecord {
	return &database.CameraRecord{
		ID:         c.ID,
		Name:       c.Name,
		Device:     c.Device,
		Location:   c.Location,
		GPSCoords:  c.GPSCoords,
		Resolution: c.Resolution,
		FPS:        c.FPS,
		Status:     c.Status,
		CreatedAt:  c.CreatedAt,
	}
}

// isNetworkSource checks if device is an HTTP/RTSP URL
func isNetworkSource(device string) bool {
	return strings.HasPrefix(device, "http://") ||
		strings.HasPrefix(device, "https://") ||
		strings.HasPrefix(device, "rtsp://")
}

// deviceExists checks local devices and files; network sources are checked on start
func deviceExists(device string) bool {
	if isNetworkSource(device) {
		return true
	}
	_, err := os.Stat(device)
	return err == nil
}
