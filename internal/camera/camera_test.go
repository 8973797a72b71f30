package camera

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trafficeye/internal/database"
	"trafficeye/internal/pipeline"
	"trafficeye/internal/timeutil"
)

func openDB(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "violations.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestManagerPersistsAndReloads(t *testing.T) {
	db := openDB(t)
	clock := timeutil.NewMockClock(time.Date(2024, 5, 17, 9, 0, 0, 0, time.UTC))
	m := NewManager(db, clock)

	cam, err := m.AddCamera(&Camera{
		ID:         "cam-north",
		Device:     "rtsp://10.0.0.5/stream",
		Location:   "Main St & 5th Ave",
		GPSCoords:  "40.7128, -74.0060",
		Resolution: "1280x720",
	})
	require.NoError(t, err)
	assert.Equal(t, "cam-north", cam.Name)
	assert.Equal(t, 30, cam.FPS)
	assert.Equal(t, StatusInactive, cam.Status)

	require.NoError(t, m.SetStatus("cam-north", StatusActive))

	reloaded := NewManager(db, clock)
	got, err := reloaded.GetCamera("cam-north")
	require.NoError(t, err)
	assert.Equal(t, "Main St & 5th Ave", got.Location)
	assert.Equal(t, StatusInactive, got.Status, "status resets on load")

	require.NoError(t, reloaded.RemoveCamera("cam-north"))
	_, err = reloaded.GetCamera("cam-north")
	assert.ErrorIs(t, err, database.ErrCameraNotFound)
	assert.Empty(t, NewManager(db, clock).ListCameras())
}

func TestAddCameraValidation(t *testing.T) {
	m := NewManager(nil, nil)

	_, err := m.AddCamera(&Camera{})
	assert.Error(t, err)

	_, err = m.AddCamera(&Camera{Device: filepath.Join(t.TempDir(), "missing.mp4")})
	assert.ErrorIs(t, err, ErrDeviceNotFound)

	video := filepath.Join(t.TempDir(), "junction.mp4")
	require.NoError(t, os.WriteFile(video, []byte("x"), 0o644))
	_, err = m.AddCamera(&Camera{Device: video, Resolution: "wide"})
	assert.Error(t, err)

	cam, err := m.AddCamera(&Camera{Device: video})
	require.NoError(t, err)
	assert.NotEmpty(t, cam.ID)
}

func TestCameraSpecCarriesTelemetry(t *testing.T) {
	cam := &Camera{ID: "cam-1", Device: "/dev/video0", Location: "Bridge", GPSCoords: "1, 2", Resolution: "640x480", FPS: 15}
	skip := 10
	spec := cam.Spec(&pipeline.CameraPipelineConfig{SkipFrames: &skip})

	assert.Equal(t, 640, spec.Width)
	assert.Equal(t, 480, spec.Height)
	assert.Equal(t, 15, spec.FPS)
	require.NotNil(t, spec.Telemetry)
	assert.Equal(t, "cam-1", spec.Telemetry.CameraID)
	assert.Equal(t, "Bridge", spec.Telemetry.Location)
	assert.Equal(t, "1, 2", spec.Telemetry.GPS)
	assert.Equal(t, 10, *spec.Config.SkipFrames)
}

func TestParseResolution(t *testing.T) {
	tests := []struct {
		in      string
		w, h    int
		wantErr bool
	}{
		{"", 0, 0, false},
		{"640x480", 640, 480, false},
		{"1920X1080", 1920, 1080, false},
		{"640", 0, 0, true},
		{"0x480", 0, 0, true},
		{"axb", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			w, h, err := ParseResolution(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.w, w)
			assert.Equal(t, tt.h, h)
		})
	}
}

func TestSnapshotArgs(t *testing.T) {
	assert.Equal(t,
		[]string{"-f", "v4l2", "-video_size", "640x480", "-i", "/dev/video0", "-vframes", "1", "-f", "mjpeg", "-q:v", "2", "-"},
		snapshotArgs(&Camera{Device: "/dev/video0", Resolution: "640x480"}))
	assert.Equal(t,
		[]string{"-y", "-i", "rtsp://cam", "-vframes", "1", "-f", "mjpeg", "-q:v", "2", "-"},
		snapshotArgs(&Camera{Device: "rtsp://cam"}))
}
