package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"trafficeye/internal/engine"
	"trafficeye/internal/sink"
)

// Processor runs one frame through detection, the engine and the sink
type Processor struct {
	engine   *engine.Engine
	detector Detector
	handler  ViolationHandler
}

// NewProcessor creates a processor. handler may be nil to evaluate without persisting.
func NewProcessor(eng *engine.Engine, detector Detector, handler ViolationHandler) *Processor {
	return &Processor{engine: eng, detector: detector, handler: handler}
}

// Engine returns the engine frames are evaluated with
func (p *Processor) Engine() *engine.Engine {
	return p.engine
}

// FrameOutcome is the result of processing one frame
type FrameOutcome struct {
	Result      *engine.FrameResult
	Persisted   int
	InferenceMs float32

	// Skipped is set for frames without data; nothing was evaluated
	Skipped bool
}

// Process decodes the frame, detects objects and evaluates the rules.
// An empty frame yields a skipped outcome with no records. Decoding and
// detector failures are returned so the caller can skip the frame; the
// session is untouched in both cases.
func (p *Processor) Process(ctx context.Context, s *engine.Session, target sink.Target, frame *FrameData) (*FrameOutcome, error) {
	if frame == nil || len(frame.Data) == 0 {
		res := &engine.FrameResult{}
		if frame != nil {
			res.Frame = int(frame.Seq)
		}
		return &FrameOutcome{Result: res, Skipped: true}, nil
	}

	img, _, err := image.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame %d: %w", frame.Seq, err)
	}

	det, err := p.detector.Detect(ctx, frame)
	if err != nil {
		return nil, fmt.Errorf("failed to detect objects in frame %d: %w", frame.Seq, err)
	}

	b := img.Bounds()
	res := p.engine.ProcessFrame(s, engine.Frame{
		Index:      int(frame.Seq),
		Width:      b.Dx(),
		Height:     b.Dy(),
		Image:      img,
		Detections: det.Detections,
	})

	out := &FrameOutcome{Result: res, InferenceMs: det.InferenceMs}
	if p.handler != nil && len(res.Records) > 0 {
		if frame.Source != "" && target.Source == "" {
			target.Source = frame.Source
		}
		out.Persisted = p.handler.HandleAll(target, img, res.Records)
	}
	return out, nil
}
