package engine

// Validator rejects detector false positives.
// It has no side effects and is safe for concurrent use.
type Validator struct {
	cfg ValidatorConfig
}

// NewValidator creates a validator from cfg
func NewValidator(cfg ValidatorConfig) *Validator {
	return &Validator{cfg: cfg}
}

// MinConfidence returns the confidence floor for a class
func (v *Validator) MinConfidence(c Class) float64 {
	if floor, ok := v.cfg.MinConfidence[c]; ok {
		return floor
	}
	return v.cfg.DefaultMinConfidence
}

// Validate reports whether d should be kept.
// Person and traffic light detections are checked for confidence only.
func (v *Validator) Validate(d Detection) bool {
	if d.Confidence < v.MinConfidence(d.Class) {
		return false
	}
	if !d.Class.usesVehicleGeometry() {
		return true
	}
	return v.plausibleGeometry(d)
}

func (v *Validator) plausibleGeometry(d Detection) bool {
	width, height := d.BBox.Width(), d.BBox.Height()
	area := d.BBox.Area()

	if area < v.cfg.MinArea {
		return false
	}
	if v.cfg.MaxArea > 0 && area > v.cfg.MaxArea {
		return false
	}
	if width < v.cfg.MinSide || height < v.cfg.MinSide {
		return false
	}

	// Very elongated boxes are lane markings or crosswalk stripes
	ratio := d.BBox.AspectRatio()
	if ratio <= v.cfg.MinAspect || ratio >= v.cfg.MaxAspect {
		return false
	}

	if band, ok := v.cfg.ClassAspect[d.Class]; ok && !band.Contains(ratio) {
		return false
	}
	return true
}
