package engine

import (
	"strings"
	"time"
)

// ViolationType names one of the eight rule outcomes
type ViolationType string

const (
	RedLight       ViolationType = "red_light_violation"
	NoHelmet       ViolationType = "no_helmet_violation"
	Speeding       ViolationType = "speeding_violation"
	WrongWay       ViolationType = "wrong_way_violation"
	Lane           ViolationType = "lane_violation"
	IllegalParking ViolationType = "illegal_parking_violation"
	Tailgating     ViolationType = "tailgating_violation"
	Crosswalk      ViolationType = "crosswalk_violation"
)

// ViolationTypes lists every type in rule evaluation order
var ViolationTypes = []ViolationType{
	RedLight, NoHelmet, Speeding, WrongWay, Lane, IllegalParking, Tailgating, Crosswalk,
}

// Label returns a human readable name, e.g. "Red Light"
func (t ViolationType) Label() string {
	base := strings.TrimSuffix(string(t), "_violation")
	words := strings.Split(base, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// Category is a severity bucket
type Category string

const (
	CategoryCritical Category = "CRITICAL"
	CategoryHigh     Category = "HIGH"
	CategoryMedium   Category = "MEDIUM"
	CategoryLow      Category = "LOW"
)

// Categories lists severities from most to least urgent
var Categories = []Category{CategoryCritical, CategoryHigh, CategoryMedium, CategoryLow}

var categoryOf = map[ViolationType]Category{
	RedLight:       CategoryCritical,
	Crosswalk:      CategoryCritical,
	NoHelmet:       CategoryHigh,
	Tailgating:     CategoryHigh,
	Speeding:       CategoryMedium,
	WrongWay:       CategoryMedium,
	Lane:           CategoryMedium,
	IllegalParking: CategoryLow,
}

// Priority returns 1 for CRITICAL through 4 for LOW
func (c Category) Priority() int {
	for i, cat := range Categories {
		if cat == c {
			return i + 1
		}
	}
	return len(Categories)
}

// Category returns the severity of t
func (t ViolationType) Category() Category {
	if c, ok := categoryOf[t]; ok {
		return c
	}
	return CategoryLow
}

// CategoryOf categorises a stored violation type string such as
// "red_light_violation (car)" by its base type.
func CategoryOf(violationType string) Category {
	base := strings.TrimSpace(strings.SplitN(violationType, "(", 2)[0])
	return ViolationType(base).Category()
}

// Record is one emitted violation. It is created once per identity per
// session and never modified by the engine afterwards.
type Record struct {
	Type            ViolationType `json:"type"`
	VehicleType     Class         `json:"vehicle_type"`
	VehicleIdentity string        `json:"vehicle_identity"`
	Frame           int           `json:"frame"`
	Confidence      float64       `json:"confidence"`
	BBox            BBox          `json:"bbox"`
	Location        string        `json:"location"`
	GPS             string        `json:"gps"`
	CameraID        string        `json:"camera_id"`
	Timestamp       time.Time     `json:"timestamp"`
	// EstimatedSpeed is set for speeding violations only
	EstimatedSpeed float64 `json:"estimated_speed,omitempty"`
}

// CompositeType returns "type (vehicle)" as stored by the sink
func (r Record) CompositeType() string {
	vehicle := string(r.VehicleType)
	if vehicle == "" {
		vehicle = "unknown"
	}
	return string(r.Type) + " (" + vehicle + ")"
}
