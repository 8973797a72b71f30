package engine

import (
	"math"

	"trafficeye/internal/vision"
)

// Rule evaluates one violation type over a frame.
// A rule must skip identities already in the session's exclusion set and
// mark every identity it emits for before returning.
type Rule interface {
	Type() ViolationType
	Evaluate(fc *FrameContext, s *Session) []Record
}

// DefaultRules returns the eight rules in evaluation order. The order
// decides which type wins for a vehicle that satisfies several rules.
func DefaultRules(cfg RuleConfig) []Rule {
	return []Rule{
		&redLightRule{cfg: cfg},
		&helmetRule{cfg: cfg},
		&speedingRule{cfg: cfg},
		&wrongWayRule{cfg: cfg},
		&laneRule{cfg: cfg},
		&parkingRule{cfg: cfg},
		&tailgatingRule{cfg: cfg},
		&crosswalkRule{cfg: cfg},
	}
}

// redLightRule flags vehicles inside the intersection zone while any light is red
type redLightRule struct{ cfg RuleConfig }

func (r *redLightRule) Type() ViolationType { return RedLight }

func (r *redLightRule) Evaluate(fc *FrameContext, s *Session) []Record {
	if !fc.AnyLight(vision.SignalRed) || fc.Height <= 0 {
		return nil
	}
	zone := float64(fc.Height) * r.cfg.IntersectionZone

	var out []Record
	for _, v := range fc.Vehicles {
		if s.HasViolated(v.Identity) {
			continue
		}
		if v.BBox.Y2 > zone {
			out = fc.emit(out, s, RedLight, v, 0)
		}
	}
	return out
}

// helmetRule flags motorcycles whose first overlapping rider shows no dark head mass
type helmetRule struct{ cfg RuleConfig }

func (r *helmetRule) Type() ViolationType { return NoHelmet }

func (r *helmetRule) Evaluate(fc *FrameContext, s *Session) []Record {
	if fc.Image == nil || len(fc.Persons) == 0 {
		return nil
	}

	var out []Record
	for _, v := range fc.Vehicles {
		if v.Class != ClassMotorcycle || s.HasViolated(v.Identity) {
			continue
		}
		rider, ok := firstOverlapping(v.BBox, fc.Persons)
		if !ok {
			continue
		}
		b := rider.BBox
		head := vision.HeadRegion(b.X1, b.Y1, b.X2, b.Y2, r.cfg.HeadRegionFraction)
		dark, ok := vision.DarkFraction(fc.Image, head, r.cfg.DarkIntensity)
		if !ok {
			continue
		}
		if dark < r.cfg.HelmetDarkFraction {
			out = fc.emit(out, s, NoHelmet, v, 0)
		}
	}
	return out
}

func firstOverlapping(box BBox, persons []Detection) (Detection, bool) {
	for _, p := range persons {
		if box.Overlaps(p.BBox) {
			return p, true
		}
	}
	return Detection{}, false
}

// speedingRule estimates speed from the displacement since the previous sighting
type speedingRule struct{ cfg RuleConfig }

func (r *speedingRule) Type() ViolationType { return Speeding }

func (r *speedingRule) Evaluate(fc *FrameContext, s *Session) []Record {
	var out []Record
	for _, v := range fc.Vehicles {
		if s.HasViolated(v.Identity) {
			continue
		}
		prev, ok := fc.Previous(v.Identity)
		if !ok {
			continue
		}
		gap := fc.Index - prev.Frame
		if gap <= 0 {
			continue
		}
		displacement := v.Center.Distance(prev.Center)
		if displacement <= r.cfg.MinDisplacement {
			continue
		}
		speed := EstimateSpeed(displacement, gap, r.cfg.SpeedFactor)
		if speed > r.cfg.SpeedLimit {
			out = fc.emit(out, s, Speeding, v, speed)
		}
	}
	return out
}

// EstimateSpeed converts a pixel displacement over a frame gap to the
// uncalibrated speed scale used by the speeding rule.
func EstimateSpeed(displacement float64, frameGap int, factor float64) float64 {
	if frameGap <= 0 {
		return 0
	}
	return displacement / float64(frameGap) * factor
}

// wrongWayRule flags upward movement against the modelled downward flow
type wrongWayRule struct{ cfg RuleConfig }

func (r *wrongWayRule) Type() ViolationType { return WrongWay }

func (r *wrongWayRule) Evaluate(fc *FrameContext, s *Session) []Record {
	var out []Record
	for _, v := range fc.Vehicles {
		if s.HasViolated(v.Identity) {
			continue
		}
		prev, ok := fc.Previous(v.Identity)
		if !ok {
			continue
		}
		if v.Center.Y < prev.Center.Y-r.cfg.WrongWayDelta {
			out = fc.emit(out, s, WrongWay, v, 0)
		}
	}
	return out
}

// laneRule flags vehicles straddling the frame's vertical centerline
type laneRule struct{ cfg RuleConfig }

func (r *laneRule) Type() ViolationType { return Lane }

func (r *laneRule) Evaluate(fc *FrameContext, s *Session) []Record {
	if fc.Width <= 0 {
		return nil
	}
	centerline := float64(fc.Width / 2)

	var out []Record
	for _, v := range fc.Vehicles {
		if s.HasViolated(v.Identity) {
			continue
		}
		if math.Abs(v.Center.X-centerline) < r.cfg.LaneHalfWidth {
			out = fc.emit(out, s, Lane, v, 0)
		}
	}
	return out
}

// parkingRule flags vehicles stationary on the roadway for too long
type parkingRule struct{ cfg RuleConfig }

func (r *parkingRule) Type() ViolationType { return IllegalParking }

func (r *parkingRule) Evaluate(fc *FrameContext, s *Session) []Record {
	var out []Record
	for _, v := range fc.Vehicles {
		if s.HasViolated(v.Identity) {
			continue
		}
		prev, ok := fc.Previous(v.Identity)
		if !ok {
			continue
		}
		drift := v.Center.Distance(prev.Center)
		elapsed := fc.Index - prev.Frame
		if drift < r.cfg.ParkingMaxDrift && elapsed > r.cfg.ParkingMinFrames && v.BBox.Y2 > r.cfg.RoadwayStartY {
			out = fc.emit(out, s, IllegalParking, v, 0)
		}
	}
	return out
}

// tailgatingRule compares pairs of same-type vehicles within the frame
type tailgatingRule struct{ cfg RuleConfig }

func (r *tailgatingRule) Type() ViolationType { return Tailgating }

func (r *tailgatingRule) Evaluate(fc *FrameContext, s *Session) []Record {
	var out []Record
	for _, class := range VehicleClasses {
		bucket := fc.VehiclesOf(class)
		for i := 0; i < len(bucket); i++ {
			lead := bucket[i]
			if s.HasViolated(lead.Identity) {
				continue
			}
			for j := i + 1; j < len(bucket); j++ {
				other := bucket[j]
				distance := lead.Center.Distance(other.Center)
				lateral := math.Abs(lead.Center.X - other.Center.X)
				if distance < r.cfg.TailgateDistance && lateral < r.cfg.TailgateLateral {
					out = fc.emit(out, s, Tailgating, lead, 0)
					break
				}
			}
		}
	}
	return out
}

// crosswalkRule flags vehicles in the crosswalk band while a pedestrian is in it
type crosswalkRule struct{ cfg RuleConfig }

func (r *crosswalkRule) Type() ViolationType { return Crosswalk }

func (r *crosswalkRule) Evaluate(fc *FrameContext, s *Session) []Record {
	if fc.Height <= 0 {
		return nil
	}
	top := float64(int(float64(fc.Height) * r.cfg.CrosswalkTop))
	bottom := float64(int(float64(fc.Height) * r.cfg.CrosswalkBottom))
	inBand := func(y float64) bool { return y > top && y < bottom }

	pedestrian := false
	for _, p := range fc.Persons {
		if inBand(p.BBox.Y2) {
			pedestrian = true
			break
		}
	}
	if !pedestrian {
		return nil
	}

	var out []Record
	for _, v := range fc.Vehicles {
		if s.HasViolated(v.Identity) {
			continue
		}
		if inBand(v.BBox.Y2) {
			out = fc.emit(out, s, Crosswalk, v, 0)
		}
	}
	return out
}
