package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trafficeye/internal/database"
	"trafficeye/internal/detection"
	"trafficeye/internal/engine"
	"trafficeye/internal/pipeline"
)

// fakeYOLO answers like the inference service: a red light and a car in the intersection
func fakeYOLO(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			json.NewEncoder(w).Encode(detection.YOLOHealthResponse{Status: "healthy", ModelLoaded: true})
		case "/detect":
			json.NewEncoder(w).Encode(detection.YOLOResult{
				Detections: []detection.YOLODetection{
					{Class: "traffic light", ClassID: 9, Confidence: 0.8, BBox: []float32{300, 10, 320, 60}},
					{Class: "car", ClassID: 2, Confidence: 0.9, BBox: []float32{250, 250, 350, 360}},
				},
				Count: 2,
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeFrame(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Gray{Y: 128}), image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(300, 10, 320, 60), image.NewUniform(color.RGBA{230, 20, 20, 255}), image.Point{}, draw.Src)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func isolateEnv(t *testing.T) {
	for _, k := range []string{"AUTH_ENABLED", "TELEGRAM_BOT_TOKEN", "YOLO_ENDPOINT", "TRAFFICEYE_DB_PATH", "TRAFFICEYE_OUTPUT_DIR"} {
		t.Setenv(k, "")
	}
}

func TestRunImageSet(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	images := filepath.Join(dir, "images")
	require.NoError(t, os.Mkdir(images, 0o755))
	writeFrame(t, filepath.Join(images, "junction_a.png"))
	writeFrame(t, filepath.Join(images, "junction_b.png"))

	opts := options{
		images: images,
		skip:   30,
		dbPath: filepath.Join(dir, "violations.db"),
		outDir: filepath.Join(dir, "evidence"),
		yolo:   fakeYOLO(t).URL,
	}

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), opts, &out))
	assert.Contains(t, out.String(), "Red Light")
	assert.Contains(t, out.String(), "2 read, 2 processed, 0 failed")

	db, err := database.Open(opts.dbPath)
	require.NoError(t, err)
	defer db.Close()

	records, err := db.ListViolations(database.ViolationFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1, "the batch shares one session, so the repeated car is reported once")
	r := records[0]
	assert.Equal(t, "red_light_violation (car)", r.ViolationType)
	assert.Equal(t, "IMG_UPLOAD", r.CameraID)
	assert.Equal(t, "Image: junction_a.png", r.Location)
	assert.Equal(t, "car_static", r.VehicleID)
	assert.FileExists(t, r.ImagePath)

	sessions, err := db.ListSessions(10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, database.SessionImage, sessions[0].Kind)
	assert.Equal(t, engine.ProfileImage, sessions[0].Profile)
	assert.False(t, sessions[0].Active())
}

func TestRunJSONSummary(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	frame := filepath.Join(dir, "frame.png")
	writeFrame(t, frame)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), options{
		images:  frame,
		skip:    1,
		dbPath:  filepath.Join(dir, "v.db"),
		outDir:  filepath.Join(dir, "out"),
		yolo:    fakeYOLO(t).URL,
		jsonOut: true,
	}, &out))

	var summary pipeline.BatchSummary
	require.NoError(t, json.Unmarshal(out.Bytes(), &summary))
	assert.Equal(t, 1, summary.Violations)
	assert.Equal(t, 1, summary.ByType[engine.RedLight])
}

func TestRunValidatesFlags(t *testing.T) {
	isolateEnv(t)
	ctx := context.Background()
	assert.Error(t, run(ctx, options{skip: 30}, &bytes.Buffer{}))
	assert.Error(t, run(ctx, options{video: "a.mp4", images: "dir", skip: 30}, &bytes.Buffer{}))
	assert.Error(t, run(ctx, options{video: "a.mp4", skip: 0}, &bytes.Buffer{}))
	assert.Error(t, run(ctx, options{images: t.TempDir(), skip: 30, profile: "dusk"}, &bytes.Buffer{}))
}

func TestPrintSummaryOrdersByPriority(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printSummary(&out, &pipeline.BatchSummary{
		SessionID: "s1",
		Kind:      database.SessionVideo,
		Source:    "/videos/clip.mp4",
		Profile:   engine.ProfileVideo,
		ByType:    map[engine.ViolationType]int{engine.IllegalParking: 1, engine.RedLight: 2, engine.Speeding: 3},
		Duration:  1500 * time.Millisecond,
	}, "violations", false))

	s := out.String()
	assert.Contains(t, s, "clip.mp4")
	assert.Less(t, bytes.Index(out.Bytes(), []byte("Red Light")), bytes.Index(out.Bytes(), []byte("Speeding")))
	assert.Less(t, bytes.Index(out.Bytes(), []byte("Speeding")), bytes.Index(out.Bytes(), []byte("Illegal Parking")))
}
