package sink

import (
	"fmt"
	"image"
	"log"
	"path/filepath"

	"github.com/google/uuid"

	"trafficeye/internal/database"
	"trafficeye/internal/engine"
	"trafficeye/internal/evidence"
	"trafficeye/internal/timeutil"
)

// Store is the append-only violation store
type Store interface {
	InsertViolation(v *database.ViolationRecord) (int64, error)
}

// Capturer produces an evidence image for a violation
type Capturer interface {
	Capture(shot evidence.Shot) (string, error)
}

// Telemetry values used for uploaded images
const (
	ImageGPS      = "0.0, 0.0"
	ImageCameraID = "IMG_UPLOAD"
)

// Target describes where the records of one session come from
type Target struct {
	SessionID string
	Kind      string // database.SessionVideo, SessionImage or SessionLive
	// Source is the image file name for image sessions
	Source string
	// Telemetry overrides the engine placeholders when the camera has its own
	Telemetry *engine.Telemetry
}

// Sink handles records emitted by the engine. Persistence and capture
// failures are logged and never returned, so the frame loop keeps going.
type Sink struct {
	store     Store
	capturer  Capturer
	publisher Publisher
	clock     timeutil.Clock
}

// New creates a sink. capturer and publisher may be nil.
func New(store Store, capturer Capturer, publisher Publisher, clock timeutil.Clock) *Sink {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Sink{
		store:     store,
		capturer:  capturer,
		publisher: publisher,
		clock:     clock,
	}
}

// HandleAll handles every record of a frame and returns how many were persisted
func (s *Sink) HandleAll(target Target, frame image.Image, records []engine.Record) int {
	persisted := 0
	for _, rec := range records {
		if ev := s.Handle(target, frame, rec); ev.Persisted {
			persisted++
		}
	}
	return persisted
}

// Handle captures, stores and publishes one record
func (s *Sink) Handle(target Target, frame image.Image, rec engine.Record) *Event {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = s.clock.Now()
	}

	vehicleID := VehicleID(target.Kind, rec)
	location, gps, cameraID := resolveTelemetry(target, rec)

	ev := &Event{
		ID:             uuid.New().String(),
		SessionID:      target.SessionID,
		CameraID:       cameraID,
		Type:           rec.Type,
		ViolationType:  rec.CompositeType(),
		Category:       rec.Type.Category(),
		VehicleType:    rec.VehicleType,
		VehicleID:      vehicleID,
		Identity:       rec.VehicleIdentity,
		Frame:          rec.Frame,
		Confidence:     rec.Confidence,
		BBox:           rec.BBox,
		Location:       location,
		GPSCoords:      gps,
		Timestamp:      database.FormatTimestamp(ts),
		EstimatedSpeed: rec.EstimatedSpeed,
		CreatedAt:      s.clock.Now(),
	}

	if s.capturer != nil && frame != nil {
		path, err := s.capturer.Capture(evidence.Shot{
			Frame:      frame,
			Box:        rec.BBox,
			Type:       rec.Type,
			VehicleID:  vehicleID,
			Confidence: rec.Confidence,
		})
		if err != nil {
			log.Printf("[Sink] Failed to capture evidence for %s: %v", rec.VehicleIdentity, err)
		} else {
			ev.ImagePath = path
		}
	}

	if s.store != nil {
		row := &database.ViolationRecord{
			Timestamp:      ev.Timestamp,
			ViolationType:  ev.ViolationType,
			ImagePath:      ev.ImagePath,
			VehicleID:      ev.VehicleID,
			Location:       ev.Location,
			GPSCoords:      ev.GPSCoords,
			CameraID:       ev.CameraID,
			SessionID:      ev.SessionID,
			Identity:       ev.Identity,
			Category:       string(ev.Category),
			Frame:          ev.Frame,
			Confidence:     ev.Confidence,
			BBox:           []float64{rec.BBox.X1, rec.BBox.Y1, rec.BBox.X2, rec.BBox.Y2},
			EstimatedSpeed: ev.EstimatedSpeed,
		}
		id, err := s.store.InsertViolation(row)
		if err != nil {
			log.Printf("[Sink] Failed to save violation %s: %v", ev.ViolationType, err)
		} else {
			ev.ViolationID = id
			ev.Persisted = true
		}
	}

	if s.publisher != nil {
		s.publisher.Publish(ev)
	}
	return ev
}

// VehicleID synthesises the stored vehicle id: vehicletype_frame, or
// vehicletype_static for uploaded images.
func VehicleID(kind string, rec engine.Record) string {
	vehicle := string(rec.VehicleType)
	if vehicle == "" {
		vehicle = "vehicle"
	}
	if kind == database.SessionImage {
		return vehicle + "_static"
	}
	return fmt.Sprintf("%s_%d", vehicle, rec.Frame)
}

// resolveTelemetry prefers camera telemetry, then the rule placeholder on
// the record, then a generic default, field by field.
func resolveTelemetry(target Target, rec engine.Record) (location, gps, cameraID string) {
	if target.Kind == database.SessionImage {
		return "Image: " + filepath.Base(target.Source), ImageGPS, ImageCameraID
	}
	var t engine.Telemetry
	if target.Telemetry != nil {
		t = *target.Telemetry
	}
	location = firstNonEmpty(t.Location, rec.Location, "Unknown Location")
	gps = firstNonEmpty(t.GPS, rec.GPS, "0.0, 0.0")
	cameraID = firstNonEmpty(t.CameraID, rec.CameraID, "CAM_UNKNOWN")
	return location, gps, cameraID
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
