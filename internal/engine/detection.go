package engine

import (
	"fmt"
	"math"
)

// Class is a detector class label
type Class string

const (
	ClassPerson       Class = "person"
	ClassBicycle      Class = "bicycle"
	ClassCar          Class = "car"
	ClassMotorcycle   Class = "motorcycle"
	ClassBus          Class = "bus"
	ClassTruck        Class = "truck"
	ClassTrafficLight Class = "traffic_light"
)

// classByID is the fixed COCO class-id mapping used by the detector
var classByID = map[int]Class{
	0: ClassPerson,
	1: ClassBicycle,
	2: ClassCar,
	3: ClassMotorcycle,
	5: ClassBus,
	7: ClassTruck,
	9: ClassTrafficLight,
}

// VehicleClasses lists the tracked vehicle buckets in evaluation order
var VehicleClasses = []Class{ClassCar, ClassMotorcycle, ClassBus, ClassTruck}

// ClassFromID maps a detector class id to a Class.
// Ids outside the mapping are reported as unknown.
func ClassFromID(id int) (Class, bool) {
	c, ok := classByID[id]
	return c, ok
}

// ClassID returns the detector class id for c, or -1
func (c Class) ClassID() int {
	for id, class := range classByID {
		if class == c {
			return id
		}
	}
	return -1
}

// IsVehicle reports whether the rule engine tracks this class
func (c Class) IsVehicle() bool {
	switch c {
	case ClassCar, ClassMotorcycle, ClassBus, ClassTruck:
		return true
	}
	return false
}

// usesVehicleGeometry reports whether the validator applies size and shape checks
func (c Class) usesVehicleGeometry() bool {
	return c.IsVehicle() || c == ClassBicycle
}

// Point is a pixel coordinate
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Distance returns the Euclidean distance between p and q
func (p Point) Distance(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// BBox is an axis-aligned bounding box in pixel space
type BBox struct {
	X1 float64 `json:"x1"` // Left
	Y1 float64 `json:"y1"` // Top
	X2 float64 `json:"x2"` // Right
	Y2 float64 `json:"y2"` // Bottom
}

func (b BBox) Width() float64  { return b.X2 - b.X1 }
func (b BBox) Height() float64 { return b.Y2 - b.Y1 }
func (b BBox) Area() float64   { return b.Width() * b.Height() }

// AspectRatio is width/height, 0 for degenerate boxes
func (b BBox) AspectRatio() float64 {
	h := b.Height()
	if h <= 0 {
		return 0
	}
	return b.Width() / h
}

// Center returns the box midpoint
func (b BBox) Center() Point {
	return Point{X: (b.X1 + b.X2) / 2, Y: (b.Y1 + b.Y2) / 2}
}

// Overlaps reports whether both the horizontal and vertical overlap are non-empty
func (b BBox) Overlaps(o BBox) bool {
	return o.X1 < b.X2 && o.X2 > b.X1 && o.Y1 < b.Y2 && o.Y2 > b.Y1
}

func (b BBox) String() string {
	return fmt.Sprintf("[%.0f,%.0f,%.0f,%.0f]", b.X1, b.Y1, b.X2, b.Y2)
}

// Detection is one detector output for a frame
type Detection struct {
	Class      Class   `json:"class"`
	Confidence float64 `json:"confidence"`
	BBox       BBox    `json:"bbox"`
}
