package engine

import (
	"fmt"
	"sort"
)

// Profile names select a threshold set matching one processing path
const (
	ProfileVideo = "video"
	ProfileImage = "image"
	ProfileLive  = "live"
)

// AspectBand is an inclusive width/height ratio range
type AspectBand struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether r lies in the band
func (a AspectBand) Contains(r float64) bool {
	return r >= a.Min && r <= a.Max
}

// ValidatorConfig holds detection rejection thresholds
type ValidatorConfig struct {
	MinConfidence        map[Class]float64    `json:"min_confidence"`
	DefaultMinConfidence float64              `json:"default_min_confidence"`
	MinArea              float64              `json:"min_area"`
	MaxArea              float64              `json:"max_area"` // 0 disables the cap
	MinSide              float64              `json:"min_side"`
	MinAspect            float64              `json:"min_aspect"` // exclusive
	MaxAspect            float64              `json:"max_aspect"` // exclusive
	ClassAspect          map[Class]AspectBand `json:"class_aspect"`
}

// SignalConfig holds traffic light classification thresholds
type SignalConfig struct {
	// PixelFraction of the crop a color must exceed to be declared
	PixelFraction float64 `json:"pixel_fraction"`
}

// RuleConfig holds every rule threshold as a named value
type RuleConfig struct {
	// Identity grid cell size in pixels
	GridCell float64 `json:"grid_cell"`

	// Red light: vehicle bottom must exceed this fraction of frame height
	IntersectionZone float64 `json:"intersection_zone"`

	// Helmet: top fraction of a rider bbox, grayscale cutoff, and minimum dark fraction
	HeadRegionFraction float64 `json:"head_region_fraction"`
	DarkIntensity      uint8   `json:"dark_intensity"`
	HelmetDarkFraction float64 `json:"helmet_dark_fraction"`

	// Speeding. SpeedFactor converts pixels per frame to the speed scale and
	// assumes an uncalibrated frame rate.
	MinDisplacement float64 `json:"min_displacement"`
	SpeedFactor     float64 `json:"speed_factor"`
	SpeedLimit      float64 `json:"speed_limit"`

	// Wrong way: upward center movement in pixels
	WrongWayDelta float64 `json:"wrong_way_delta"`

	// Lane: distance from the frame's vertical centerline
	LaneHalfWidth float64 `json:"lane_half_width"`

	// Parking. ParkingMinFrames stands in for five seconds at 30 fps.
	ParkingMaxDrift  float64 `json:"parking_max_drift"`
	ParkingMinFrames int     `json:"parking_min_frames"`
	RoadwayStartY    float64 `json:"roadway_start_y"`

	// Tailgating: center distance and lateral offset for a same-lane pair
	TailgateDistance float64 `json:"tailgate_distance"`
	TailgateLateral  float64 `json:"tailgate_lateral"`

	// Crosswalk band as fractions of frame height
	CrosswalkTop    float64 `json:"crosswalk_top"`
	CrosswalkBottom float64 `json:"crosswalk_bottom"`
}

// Config is the complete engine configuration
type Config struct {
	Profile   string          `json:"profile"`
	Validator ValidatorConfig `json:"validator"`
	Signal    SignalConfig    `json:"signal"`
	Rules     RuleConfig      `json:"rules"`
	// Telemetry used per violation type when the camera has none
	Placeholders map[ViolationType]Telemetry `json:"placeholders"`
}

// Telemetry is the location context attached to a record
type Telemetry struct {
	Location string `json:"location"`
	GPS      string `json:"gps"`
	CameraID string `json:"camera_id"`
}

// DefaultGPS is the placeholder coordinate used when no camera position is known
const DefaultGPS = "40.7128, -74.0060"

// DefaultConfig returns the batch video profile
func DefaultConfig() Config {
	return Config{
		Profile: ProfileVideo,
		Validator: ValidatorConfig{
			MinConfidence: map[Class]float64{
				ClassCar:        0.40,
				ClassMotorcycle: 0.35,
				ClassBus:        0.50,
				ClassTruck:      0.45,
			},
			DefaultMinConfidence: 0.30,
			MinArea:              1000,
			MaxArea:              0,
			MinSide:              30,
			MinAspect:            0.2,
			MaxAspect:            5.0,
			ClassAspect: map[Class]AspectBand{
				ClassCar:        {Min: 0.8, Max: 3.0},
				ClassMotorcycle: {Min: 0.3, Max: 2.5},
				ClassBus:        {Min: 0.5, Max: 4.0},
				ClassTruck:      {Min: 0.5, Max: 4.0},
			},
		},
		Signal: SignalConfig{PixelFraction: 0.08},
		Rules: RuleConfig{
			GridCell:           50,
			IntersectionZone:   0.7,
			HeadRegionFraction: 0.2,
			DarkIntensity:      80,
			HelmetDarkFraction: 0.3,
			MinDisplacement:    30,
			SpeedFactor:        2,
			SpeedLimit:         50,
			WrongWayDelta:      20,
			LaneHalfWidth:      50,
			ParkingMaxDrift:    10,
			ParkingMinFrames:   150,
			RoadwayStartY:      300,
			TailgateDistance:   80,
			TailgateLateral:    50,
			CrosswalkTop:       0.4,
			CrosswalkBottom:    0.6,
		},
		Placeholders: map[ViolationType]Telemetry{
			RedLight:       {Location: "Main St & 5th Ave Intersection", GPS: DefaultGPS, CameraID: "CAM_001"},
			NoHelmet:       {Location: "Traffic Junction", GPS: DefaultGPS, CameraID: "CAM_001"},
			Speeding:       {Location: "Highway Section A", GPS: DefaultGPS, CameraID: "CAM_002"},
			WrongWay:       {Location: "One-way Street", GPS: DefaultGPS, CameraID: "CAM_003"},
			Lane:           {Location: "Main Road", GPS: DefaultGPS, CameraID: "CAM_004"},
			IllegalParking: {Location: "No Parking Zone", GPS: DefaultGPS, CameraID: "CAM_005"},
			Tailgating:     {Location: "Highway", GPS: DefaultGPS, CameraID: "CAM_006"},
			Crosswalk:      {Location: "Pedestrian Crosswalk", GPS: DefaultGPS, CameraID: "CAM_007"},
		},
	}
}

// ImageConfig returns the single-image profile, which caps detection area
func ImageConfig() Config {
	cfg := DefaultConfig()
	cfg.Profile = ProfileImage
	cfg.Validator.MaxArea = 200000
	return cfg
}

// LiveConfig returns the live camera profile
func LiveConfig() Config {
	cfg := DefaultConfig()
	cfg.Profile = ProfileLive
	cfg.Rules.SpeedLimit = 30
	cfg.Rules.MinDisplacement = 40
	cfg.Rules.WrongWayDelta = 25
	cfg.Rules.TailgateDistance = 70
	cfg.Rules.TailgateLateral = 40
	return cfg
}

var profiles = map[string]func() Config{
	ProfileVideo: DefaultConfig,
	ProfileImage: ImageConfig,
	ProfileLive:  LiveConfig,
}

// ProfileConfig returns the named profile
func ProfileConfig(name string) (Config, error) {
	fn, ok := profiles[name]
	if !ok {
		return Config{}, fmt.Errorf("unknown profile %q (valid: %v)", name, ProfileNames())
	}
	return fn(), nil
}

// ProfileNames lists the known profiles
func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks that the configuration is internally consistent
func (c Config) Validate() error {
	r := c.Rules
	if r.GridCell <= 0 {
		return fmt.Errorf("grid_cell must be positive, got %v", r.GridCell)
	}
	if r.CrosswalkTop >= r.CrosswalkBottom {
		return fmt.Errorf("crosswalk band is empty: top %v >= bottom %v", r.CrosswalkTop, r.CrosswalkBottom)
	}
	if r.IntersectionZone <= 0 || r.IntersectionZone >= 1 {
		return fmt.Errorf("intersection_zone must be in (0,1), got %v", r.IntersectionZone)
	}
	if r.HeadRegionFraction <= 0 || r.HeadRegionFraction > 1 {
		return fmt.Errorf("head_region_fraction must be in (0,1], got %v", r.HeadRegionFraction)
	}
	v := c.Validator
	if v.MinAspect >= v.MaxAspect {
		return fmt.Errorf("aspect band is empty: %v >= %v", v.MinAspect, v.MaxAspect)
	}
	if v.MaxArea > 0 && v.MaxArea < v.MinArea {
		return fmt.Errorf("max_area %v is below min_area %v", v.MaxArea, v.MinArea)
	}
	if c.Signal.PixelFraction <= 0 || c.Signal.PixelFraction >= 1 {
		return fmt.Errorf("signal pixel_fraction must be in (0,1), got %v", c.Signal.PixelFraction)
	}
	return nil
}
