// Package detectors adapts detection backends to pipeline.Detector.
package detectors

import (
	"context"
	"fmt"
	"time"

	"trafficeye/internal/detection"
	"trafficeye/internal/engine"
	"trafficeye/internal/pipeline"
)

// YOLOClient is the subset of detection.YOLODetector the adapter uses
type YOLOClient interface {
	IsHealthy() bool
	DetectObjects(ctx context.Context, imageData []byte, confThreshold float32) (*detection.YOLOResult, error)
}

// YOLOAdapter wraps the YOLO HTTP client to implement the pipeline Detector
type YOLOAdapter struct {
	name          string
	client        YOLOClient
	confThreshold float32
}

// NewYOLOAdapter creates a new YOLO detector adapter
func NewYOLOAdapter(name string, client YOLOClient, confThreshold float32) *YOLOAdapter {
	if name == "" {
		name = "yolo"
	}
	if confThreshold <= 0 {
		confThreshold = 0.25
	}
	return &YOLOAdapter{name: name, client: client, confThreshold: confThreshold}
}

func (a *YOLOAdapter) Name() string {
	return a.name
}

func (a *YOLOAdapter) IsHealthy() bool {
	return a.client != nil && a.client.IsHealthy()
}

func (a *YOLOAdapter) Detect(ctx context.Context, frame *pipeline.FrameData) (*pipeline.DetectionResult, error) {
	if a.client == nil {
		return nil, fmt.Errorf("YOLO detector not configured")
	}

	result, err := a.client.DetectObjects(ctx, frame.Data, a.confThreshold)
	if err != nil {
		return nil, fmt.Errorf("YOLO detection failed: %w", err)
	}
	return convertResult(frame, result), nil
}

func (a *YOLOAdapter) Close() error {
	// HTTP client based, nothing to release
	return nil
}

// convertResult maps class ids to engine classes. Ids outside the traffic
// mapping and malformed boxes are counted as skipped.
func convertResult(frame *pipeline.FrameData, result *detection.YOLOResult) *pipeline.DetectionResult {
	out := &pipeline.DetectionResult{
		CameraID:    frame.CameraID,
		FrameSeq:    frame.Seq,
		Timestamp:   frame.Timestamp,
		Detections:  make([]engine.Detection, 0, len(result.Detections)),
		InferenceMs: result.InferenceTimeMs,
	}

	for _, d := range result.Detections {
		class, ok := engine.ClassFromID(d.ClassID)
		if !ok || len(d.BBox) < 4 {
			out.Skipped++
			continue
		}
		out.Detections = append(out.Detections, engine.Detection{
			Class:      class,
			Confidence: float64(d.Confidence),
			BBox: engine.BBox{
				X1: float64(d.BBox[0]),
				Y1: float64(d.BBox[1]),
				X2: float64(d.BBox[2]),
				Y2: float64(d.BBox[3]),
			},
		})
	}
	return out
}

// Ensure YOLOAdapter implements Detector
var _ pipeline.Detector = (*YOLOAdapter)(nil)

// NewYOLORegistry registers one YOLO adapter per endpoint, in failover order
func NewYOLORegistry(endpoints []string, confThreshold float32, timeout time.Duration) (*Registry, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no YOLO endpoints configured")
	}
	registry := NewRegistry()
	for i, endpoint := range endpoints {
		client := detection.NewYOLODetectorWithConfig(detection.YOLOConfig{
			Enabled:             true,
			ServiceEndpoint:     endpoint,
			ConfidenceThreshold: confThreshold,
			ClassesFilter:       detection.TrafficClasses,
			Timeout:             timeout,
		})
		name := "yolo"
		if i > 0 {
			name = fmt.Sprintf("yolo-%d", i+1)
		}
		if err := registry.Register(NewYOLOAdapter(name, client, confThreshold)); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
