// Package detection is the HTTP client for the YOLO inference service.
package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// healthTTL is how long a successful health check is trusted
const healthTTL = 30 * time.Second

// YOLODetector calls a YOLO inference service over HTTP
type YOLODetector struct {
	endpoint      string
	client        *http.Client
	enabled       bool
	confThreshold float32
	classesFilter string
	healthCheck   time.Time
	mu            sync.RWMutex
}

// YOLODetection represents a single YOLO detection result
type YOLODetection struct {
	Class      string    `json:"class"`
	ClassID    int       `json:"class_id"`
	Confidence float32   `json:"confidence"`
	BBox       []float32 `json:"bbox"` // [x1, y1, x2, y2]
}

// YOLOResult represents YOLO detection response
type YOLOResult struct {
	Detections      []YOLODetection `json:"detections"`
	Count           int             `json:"count"`
	InferenceTimeMs float32         `json:"inference_time_ms"`
	Device          string          `json:"device"`
	ModelSize       string          `json:"model_size"`
	ConfThreshold   float32         `json:"conf_threshold"`
	FilterApplied   string          `json:"filter_applied,omitempty"`
}

// YOLOHealthResponse represents health check response
type YOLOHealthResponse struct {
	Status       string `json:"status"`
	Device       string `json:"device"`
	GPUAvailable bool   `json:"gpu_available"`
	ModelLoaded  bool   `json:"model_loaded"`
}

// YOLOConfig holds configuration for the detector
type YOLOConfig struct {
	Enabled             bool
	ServiceEndpoint     string
	ConfidenceThreshold float32
	// ClassesFilter is a comma separated list of class ids sent to the service
	ClassesFilter string
	Timeout       time.Duration
}

// TrafficClasses is the class filter for the classes the engine uses
const TrafficClasses = "0,1,2,3,5,7,9"

// NewYOLODetector creates a detector for endpoint with traffic defaults
func NewYOLODetector(endpoint string) *YOLODetector {
	return NewYOLODetectorWithConfig(YOLOConfig{
		Enabled:             true,
		ServiceEndpoint:     endpoint,
		ConfidenceThreshold: 0.25,
		ClassesFilter:       TrafficClasses,
	})
}

// NewYOLODetectorWithConfig creates a new YOLO detector with configuration
func NewYOLODetectorWithConfig(cfg YOLOConfig) *YOLODetector {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &YOLODetector{
		endpoint:      strings.TrimRight(cfg.ServiceEndpoint, "/"),
		client:        &http.Client{Timeout: timeout},
		enabled:       cfg.Enabled,
		confThreshold: cfg.ConfidenceThreshold,
		classesFilter: cfg.ClassesFilter,
	}
}

// IsHealthy checks if the YOLO service is available. A success is cached
// for healthTTL; a failure is rechecked on the next call.
func (yd *YOLODetector) IsHealthy() bool {
	yd.mu.RLock()
	enabled, last := yd.enabled, yd.healthCheck
	yd.mu.RUnlock()

	if !enabled {
		return false
	}
	if !last.IsZero() && time.Since(last) < healthTTL {
		return true
	}

	health, err := yd.GetHealthInfo(context.Background())
	ok := err == nil && health.ModelLoaded

	yd.mu.Lock()
	if ok {
		yd.healthCheck = time.Now()
	} else {
		yd.healthCheck = time.Time{}
	}
	yd.mu.Unlock()
	return ok
}

// GetHealthInfo returns detailed health information
func (yd *YOLODetector) GetHealthInfo(ctx context.Context) (*YOLOHealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, yd.GetEndpoint()+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := yd.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to check YOLO health: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("YOLO health check returned status %d", resp.StatusCode)
	}

	var health YOLOHealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}
	return &health, nil
}

// DetectObjects posts an encoded image to /detect
func (yd *YOLODetector) DetectObjects(ctx context.Context, imageData []byte, confThreshold float32) (*YOLOResult, error) {
	yd.mu.RLock()
	enabled := yd.enabled
	if confThreshold <= 0 {
		confThreshold = yd.confThreshold
	}
	classes := yd.classesFilter
	yd.mu.RUnlock()

	if !enabled {
		return nil, fmt.Errorf("YOLO detection is disabled")
	}

	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	fw, err := w.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(imageData); err != nil {
		return nil, err
	}
	w.WriteField("conf_threshold", strconv.FormatFloat(float64(confThreshold), 'f', 3, 32))
	if classes != "" {
		w.WriteField("classes_filter", classes)
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, yd.GetEndpoint()+"/detect", &b)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := yd.client.Do(req)
	if err != nil {
		yd.mu.Lock()
		yd.healthCheck = time.Time{}
		yd.mu.Unlock()
		return nil, fmt.Errorf("failed to call YOLO service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("YOLO detection failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result YOLOResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode detection response: %w", err)
	}
	return &result, nil
}

// UpdateConfig updates the detector configuration
func (yd *YOLODetector) UpdateConfig(cfg YOLOConfig) {
	yd.mu.Lock()
	defer yd.mu.Unlock()

	yd.enabled = cfg.Enabled
	if cfg.ServiceEndpoint != "" {
		yd.endpoint = strings.TrimRight(cfg.ServiceEndpoint, "/")
	}
	yd.confThreshold = cfg.ConfidenceThreshold
	yd.classesFilter = cfg.ClassesFilter

	// Force re-validation
	yd.healthCheck = time.Time{}
}

// GetConfig returns current configuration
func (yd *YOLODetector) GetConfig() YOLOConfig {
	yd.mu.RLock()
	defer yd.mu.RUnlock()

	return YOLOConfig{
		Enabled:             yd.enabled,
		ServiceEndpoint:     yd.endpoint,
		ConfidenceThreshold: yd.confThreshold,
		ClassesFilter:       yd.classesFilter,
		Timeout:             yd.client.Timeout,
	}
}

// GetEndpoint returns the service endpoint
func (yd *YOLODetector) GetEndpoint() string {
	yd.mu.RLock()
	defer yd.mu.RUnlock()
	return yd.endpoint
}

// SetEnabled enables or disables the detector
func (yd *YOLODetector) SetEnabled(enabled bool) {
	yd.mu.Lock()
	defer yd.mu.Unlock()
	yd.enabled = enabled
}

// IsEnabled returns whether the detector is enabled
func (yd *YOLODetector) IsEnabled() bool {
	yd.mu.RLock()
	defer yd.mu.RUnlock()
	return yd.enabled
}
