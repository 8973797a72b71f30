// Package engine turns per-frame object detections into traffic violation
// records: detection validation, signal classification, positional identity
// and the eight violation rules, all driven through one Session.
package engine

import (
	"image"
	"time"

	"trafficeye/internal/timeutil"
	"trafficeye/internal/vision"
)

// Frame is one unit of engine input
type Frame struct {
	Index  int
	Width  int
	Height int
	// Image is optional; without it lights classify as unknown and the
	// helmet rule cannot run.
	Image      image.Image
	Detections []Detection
}

// Vehicle is a validated vehicle detection with its resolved identity
type Vehicle struct {
	Detection
	Identity string
	Center   Point
}

// Light is a validated traffic light with its classified color
type Light struct {
	Detection
	Color vision.SignalColor
}

// FrameContext is the validated, partitioned view of a frame that rules consume
type FrameContext struct {
	Index    int
	Width    int
	Height   int
	Image    image.Image
	Vehicles []Vehicle
	Persons  []Detection
	Lights   []Light

	// previous holds each identity's sample as it was when the frame began,
	// so every motion rule compares against the prior sighting.
	previous     map[string]Sample
	timestamp    time.Time
	placeholders map[ViolationType]Telemetry
}

// Previous returns the sample recorded for identity before this frame
func (fc *FrameContext) Previous(identity string) (Sample, bool) {
	s, ok := fc.previous[identity]
	return s, ok
}

// AnyLight reports whether any light in the frame has color c
func (fc *FrameContext) AnyLight(c vision.SignalColor) bool {
	for _, l := range fc.Lights {
		if l.Color == c {
			return true
		}
	}
	return false
}

// VehiclesOf returns the vehicles of one class in detection order
func (fc *FrameContext) VehiclesOf(class Class) []Vehicle {
	var out []Vehicle
	for _, v := range fc.Vehicles {
		if v.Class == class {
			out = append(out, v)
		}
	}
	return out
}

// emit marks v's identity and appends its record. It is a no-op when the
// identity is already excluded.
func (fc *FrameContext) emit(out []Record, s *Session, t ViolationType, v Vehicle, speed float64) []Record {
	if !s.MarkViolated(v.Identity) {
		return out
	}
	tel := fc.placeholders[t]
	return append(out, Record{
		Type:            t,
		VehicleType:     v.Class,
		VehicleIdentity: v.Identity,
		Frame:           fc.Index,
		Confidence:      v.Confidence,
		BBox:            v.BBox,
		Location:        tel.Location,
		GPS:             tel.GPS,
		CameraID:        tel.CameraID,
		Timestamp:       fc.timestamp,
		EstimatedSpeed:  speed,
	})
}

// FrameResult summarises one processed frame
type FrameResult struct {
	Frame    int      `json:"frame"`
	Records  []Record `json:"records"`
	Vehicles int      `json:"vehicles"`
	Persons  int      `json:"persons"`
	Lights   []Light  `json:"lights"`
	Rejected int      `json:"rejected"`
}

// Engine evaluates frames against the configured rules. It holds no
// per-session state and may be shared by sessions running on different
// goroutines; each Session must stay on one goroutine.
type Engine struct {
	cfg       Config
	validator *Validator
	signals   *vision.SignalClassifier
	resolver  IdentityResolver
	rules     []Rule
	clock     timeutil.Clock
}

// NewEngine creates an engine. A nil clock uses the real clock.
func NewEngine(cfg Config, clock timeutil.Clock) *Engine {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Engine{
		cfg:       cfg,
		validator: NewValidator(cfg.Validator),
		signals:   vision.NewSignalClassifier(cfg.Signal.PixelFraction),
		resolver:  NewIdentityResolver(cfg.Rules.GridCell),
		rules:     DefaultRules(cfg.Rules),
		clock:     clock,
	}
}

// Config returns the engine configuration
func (e *Engine) Config() Config {
	return e.cfg
}

// Validator returns the detection validator
func (e *Engine) Validator() *Validator {
	return e.validator
}

// Rules returns the rules in evaluation order
func (e *Engine) Rules() []Rule {
	return e.rules
}

// ProcessFrame validates and partitions f, classifies its lights, runs every
// rule in order against s and finally records each vehicle's position.
// Empty or malformed input yields an empty result, never an error.
func (e *Engine) ProcessFrame(s *Session, f Frame) *FrameResult {
	result := &FrameResult{Frame: f.Index}
	if s == nil {
		return result
	}

	fc := e.buildContext(s, f, result)
	for _, rule := range e.rules {
		records := rule.Evaluate(fc, s)
		for _, rec := range records {
			Logf("[Engine] session %s frame %d: %s %s at %s", s.ID, f.Index, rec.Type, rec.VehicleIdentity, rec.BBox)
		}
		result.Records = append(result.Records, records...)
	}

	for _, v := range fc.Vehicles {
		s.UpdatePosition(v.Identity, v.Center, f.Index)
	}
	return result
}

func (e *Engine) buildContext(s *Session, f Frame, result *FrameResult) *FrameContext {
	width, height := f.Width, f.Height
	if f.Image != nil && (width <= 0 || height <= 0) {
		b := f.Image.Bounds()
		width, height = b.Dx(), b.Dy()
	}

	fc := &FrameContext{
		Index:        f.Index,
		Width:        width,
		Height:       height,
		Image:        f.Image,
		previous:     make(map[string]Sample),
		timestamp:    e.clock.Now(),
		placeholders: e.cfg.Placeholders,
	}

	// Partition by class so vehicles are visited bucket by bucket
	buckets := make(map[Class][]Vehicle)
	for _, d := range f.Detections {
		if !e.validator.Validate(d) {
			result.Rejected++
			continue
		}
		switch {
		case d.Class.IsVehicle():
			id := e.resolver.Resolve(d.Class, d.BBox)
			buckets[d.Class] = append(buckets[d.Class], Vehicle{Detection: d, Identity: id, Center: d.BBox.Center()})
			if prev, ok := s.Previous(id); ok {
				fc.previous[id] = prev
			}
		case d.Class == ClassPerson:
			fc.Persons = append(fc.Persons, d)
		case d.Class == ClassTrafficLight:
			fc.Lights = append(fc.Lights, Light{Detection: d, Color: e.classifyLight(f.Image, d.BBox)})
		}
	}
	for _, class := range VehicleClasses {
		fc.Vehicles = append(fc.Vehicles, buckets[class]...)
	}

	result.Vehicles = len(fc.Vehicles)
	result.Persons = len(fc.Persons)
	result.Lights = fc.Lights
	return fc
}

func (e *Engine) classifyLight(img image.Image, box BBox) vision.SignalColor {
	if img == nil {
		return vision.SignalUnknown
	}
	return e.signals.Classify(vision.Crop(img, vision.Rect(box.X1, box.Y1, box.X2, box.Y2)))
}
