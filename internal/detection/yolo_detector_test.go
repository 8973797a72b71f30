package detection

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newYOLOServer(t *testing.T, modelLoaded bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(YOLOHealthResponse{Status: "ok", Device: "cpu", ModelLoaded: modelLoaded})
	})
	mux.HandleFunc("/detect", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		f, _, err := r.FormFile("file")
		require.NoError(t, err)
		f.Close()

		assert.Equal(t, "0.400", r.FormValue("conf_threshold"))
		assert.Equal(t, TrafficClasses, r.FormValue("classes_filter"))

		json.NewEncoder(w).Encode(YOLOResult{
			Detections: []YOLODetection{
				{Class: "car", ClassID: 2, Confidence: 0.9, BBox: []float32{10, 20, 110, 90}},
			},
			Count:           1,
			InferenceTimeMs: 12.5,
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestDetectObjects(t *testing.T) {
	srv := newYOLOServer(t, true)
	d := NewYOLODetector(srv.URL + "/")

	res, err := d.DetectObjects(context.Background(), []byte{0xFF, 0xD8, 0xFF, 0xD9}, 0.4)
	require.NoError(t, err)
	require.Len(t, res.Detections, 1)
	assert.Equal(t, 2, res.Detections[0].ClassID)
	assert.Equal(t, []float32{10, 20, 110, 90}, res.Detections[0].BBox)
	assert.InDelta(t, 12.5, res.InferenceTimeMs, 1e-6)
}

func TestHealth(t *testing.T) {
	assert.True(t, NewYOLODetector(newYOLOServer(t, true).URL).IsHealthy())
	assert.False(t, NewYOLODetector(newYOLOServer(t, false).URL).IsHealthy())

	d := NewYOLODetector(newYOLOServer(t, true).URL)
	d.SetEnabled(false)
	assert.False(t, d.IsHealthy())
}

func TestDetectErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewYOLODetector(srv.URL)
	_, err := d.DetectObjects(context.Background(), []byte{1}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model crashed")

	d.SetEnabled(false)
	_, err = d.DetectObjects(context.Background(), []byte{1}, 0)
	assert.Error(t, err)
}

func TestUpdateConfig(t *testing.T) {
	d := NewYOLODetector("http://a")
	d.UpdateConfig(YOLOConfig{Enabled: true, ServiceEndpoint: "http://b/", ConfidenceThreshold: 0.3})
	cfg := d.GetConfig()
	assert.Equal(t, "http://b", cfg.ServiceEndpoint)
	assert.InDelta(t, 0.3, cfg.ConfidenceThreshold, 1e-6)
	assert.True(t, d.IsEnabled())
}
