package database

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *Database {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "violations.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func sampleViolation(ts, vtype, camera, session string) *ViolationRecord {
	return &ViolationRecord{
		Timestamp:     ts,
		ViolationType: vtype,
		ImagePath:     "",
		VehicleID:     "car_12",
		Location:      "Main Road",
		GPSCoords:     "40.7128, -74.0060",
		CameraID:      camera,
		SessionID:     session,
		Identity:      "car_2_5",
		Category:      "MEDIUM",
		Frame:         12,
		Confidence:    0.82,
		BBox:          []float64{100, 280, 200, 360},
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	d := setupTestDB(t)
	require.NoError(t, d.Migrate())

	version, dirty, err := d.MigrationVersion()
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(3), version)
}

func TestInsertAndGetViolation(t *testing.T) {
	d := setupTestDB(t)

	v := sampleViolation("2024-05-17T14-30-15.250000", "lane_violation (car)", "CAM_004", "s1")
	id, err := d.InsertViolation(v)
	require.NoError(t, err)
	assert.Equal(t, id, v.ID)

	got, err := d.GetViolation(id)
	require.NoError(t, err)
	assert.Equal(t, v, got)

	_, err = d.GetViolation(id + 100)
	assert.ErrorIs(t, err, ErrViolationNotFound)
}

func TestListViolationsFilters(t *testing.T) {
	d := setupTestDB(t)

	for _, v := range []*ViolationRecord{
		sampleViolation("2024-05-17T10-00-00.000000", "lane_violation (car)", "CAM_004", "s1"),
		sampleViolation("2024-05-17T11-00-00.000000", "speeding_violation (bus)", "CAM_002", "s1"),
		sampleViolation("2024-05-17T12-00-00.000000", "lane_violation (truck)", "CAM_004", "s2"),
	} {
		_, err := d.InsertViolation(v)
		require.NoError(t, err)
	}

	all, err := d.ListViolations(ViolationFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "lane_violation (truck)", all[0].ViolationType)

	byCamera, err := d.ListViolations(ViolationFilter{CameraID: "CAM_004"})
	require.NoError(t, err)
	assert.Len(t, byCamera, 2)

	bySession, err := d.ListViolations(ViolationFilter{SessionID: "s1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, bySession, 1)
	assert.Equal(t, "speeding_violation (bus)", bySession[0].ViolationType)

	n, err := d.CountViolations()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	counts, err := d.CountByType()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"lane_violation (car)": 1, "speeding_violation (bus)": 1, "lane_violation (truck)": 1}, counts)

	conf, err := d.ConfidencesByType(nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.82}, conf["speeding_violation (bus)"])
}

func TestMinimalViolationRow(t *testing.T) {
	d := setupTestDB(t)
	id, err := d.InsertViolation(&ViolationRecord{Timestamp: "t", ViolationType: "red_light_violation (car)"})
	require.NoError(t, err)

	got, err := d.GetViolation(id)
	require.NoError(t, err)
	assert.Nil(t, got.BBox)
	assert.Empty(t, got.ImagePath)
}

func TestSessionLifecycle(t *testing.T) {
	d := setupTestDB(t)
	start := time.Date(2024, 5, 17, 10, 0, 0, 0, time.UTC)

	require.NoError(t, d.StartSession(&SessionRecord{ID: "s1", Kind: SessionVideo, Source: "clip.mp4", Profile: "video", StartedAt: start}))
	require.NoError(t, d.UpdateSessionProgress("s1", 30, 1))

	s, err := d.GetSession("s1")
	require.NoError(t, err)
	assert.True(t, s.Active())
	assert.Equal(t, 30, s.Frames)

	require.NoError(t, d.EndSession("s1", start.Add(time.Minute), 90, 2))
	s, err = d.GetSession("s1")
	require.NoError(t, err)
	assert.False(t, s.Active())
	assert.Equal(t, 2, s.Violations)
	assert.True(t, start.Add(time.Minute).Equal(*s.EndedAt))

	assert.ErrorIs(t, d.EndSession("missing", start, 0, 0), ErrSessionNotFound)

	list, err := d.ListSessions(0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestClearSessionRemovesRowsAndEvidence(t *testing.T) {
	d := setupTestDB(t)
	dir := t.TempDir()
	evidence := filepath.Join(dir, "lane.jpg")
	require.NoError(t, os.WriteFile(evidence, []byte("jpeg"), 0644))

	require.NoError(t, d.StartSession(&SessionRecord{ID: "s1", Kind: SessionImage, Source: "dir", Profile: "image", StartedAt: time.Now()}))
	require.NoError(t, d.StartSession(&SessionRecord{ID: "s2", Kind: SessionImage, Source: "dir", Profile: "image", StartedAt: time.Now()}))

	v := sampleViolation("2024-05-17T10-00-00.000000", "lane_violation (car)", "IMG_UPLOAD", "s1")
	v.ImagePath = evidence
	_, err := d.InsertViolation(v)
	require.NoError(t, err)
	_, err = d.InsertViolation(sampleViolation("2024-05-17T10-00-01.000000", "lane_violation (car)", "IMG_UPLOAD", "s2"))
	require.NoError(t, err)

	n, err := d.ClearSession("s1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoFileExists(t, evidence)

	_, err = d.GetSession("s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	remaining, err := d.CountViolations()
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)

	_, err = d.ClearSession("s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCameraCRUD(t *testing.T) {
	d := setupTestDB(t)
	cam := &CameraRecord{
		ID: "cam1", Name: "Junction", Device: "rtsp://10.0.0.5/stream",
		Location: "Main St & 5th Ave", GPSCoords: "40.71, -74.00",
		Resolution: "1280x720", FPS: 15, Status: "inactive",
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, d.SaveCamera(cam))
	require.NoError(t, d.UpdateCameraStatus("cam1", "active"))

	got, err := d.GetCamera("cam1")
	require.NoError(t, err)
	assert.Equal(t, "active", got.Status)
	assert.Equal(t, "Main St & 5th Ave", got.Location)

	list, err := d.ListCameras()
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, d.DeleteCamera("cam1"))
	_, err = d.GetCamera("cam1")
	assert.ErrorIs(t, err, ErrCameraNotFound)
	assert.ErrorIs(t, d.UpdateCameraStatus("cam1", "active"), ErrCameraNotFound)
}

func TestArchive(t *testing.T) {
	d := setupTestDB(t)
	dir := t.TempDir()

	for i := 0; i < 3; i++ {
		_, err := d.InsertViolation(sampleViolation("2024-05-17T10-00-00.000000", "lane_violation (car)", "CAM_004", "s1"))
		require.NoError(t, err)
	}

	now := time.Date(2024, 5, 17, 18, 0, 0, 0, time.UTC)
	path, err := d.Archive(dir, now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "archive_violations_20240517_180000.db"), path)

	n, err := d.CountViolations()
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = d.Archive(dir, now)
	assert.Error(t, err)

	archives, err := ListArchives(dir)
	require.NoError(t, err)
	require.Len(t, archives, 1)
	assert.Equal(t, 3, archives[0].Violations)

	missing, err := ListArchives(filepath.Join(dir, "nope"))
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2024, 5, 17, 14, 30, 15, 250_000_000, time.UTC)
	assert.Equal(t, "2024-05-17T14-30-15.250000", FormatTimestamp(ts))
}
