package vision

import (
	"image"
	"image/color"
	"math"
)

// SignalColor is the classified state of a traffic light
type SignalColor string

const (
	SignalRed     SignalColor = "red"
	SignalYellow  SignalColor = "yellow"
	SignalGreen   SignalColor = "green"
	SignalUnknown SignalColor = "unknown"
)

// hueRange is an inclusive HSV box. Hue is 0..180 and saturation/value
// 0..255, the half-degree scale common to camera tooling.
type hueRange struct {
	hMin, hMax float64
	sMin, vMin float64
}

func (r hueRange) contains(h, s, v float64) bool {
	return h >= r.hMin && h <= r.hMax && s >= r.sMin && v >= r.vMin
}

// Red wraps the hue origin and is matched with two sub-ranges
var (
	redLow  = hueRange{hMin: 0, hMax: 10, sMin: 120, vMin: 70}
	redHigh = hueRange{hMin: 170, hMax: 180, sMin: 120, vMin: 70}
	yellow  = hueRange{hMin: 15, hMax: 35, sMin: 120, vMin: 70}
	green   = hueRange{hMin: 40, hMax: 80, sMin: 120, vMin: 70}
)

// DefaultSignalFraction is the share of pixels a color must exceed
const DefaultSignalFraction = 0.08

// SignalCounts are the per-color pixel counts of a crop
type SignalCounts struct {
	Red, Yellow, Green, Total int
}

// SignalClassifier classifies traffic light crops by HSV thresholding
type SignalClassifier struct {
	PixelFraction float64
}

// NewSignalClassifier creates a classifier; a non-positive fraction uses the default
func NewSignalClassifier(pixelFraction float64) *SignalClassifier {
	if pixelFraction <= 0 {
		pixelFraction = DefaultSignalFraction
	}
	return &SignalClassifier{PixelFraction: pixelFraction}
}

// Count tallies saturated red, yellow and green pixels in img
func Count(img image.Image) SignalCounts {
	var c SignalCounts
	if img == nil {
		return c
	}
	b := img.Bounds()
	c.Total = b.Dx() * b.Dy()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			h, s, v := toHSV(img.At(x, y))
			switch {
			case redLow.contains(h, s, v) || redHigh.contains(h, s, v):
				c.Red++
			case yellow.contains(h, s, v):
				c.Yellow++
			case green.contains(h, s, v):
				c.Green++
			}
		}
	}
	return c
}

// Decide applies the priority order red > yellow > green to counts
func (sc *SignalClassifier) Decide(c SignalCounts) SignalColor {
	if c.Total == 0 {
		return SignalUnknown
	}
	threshold := float64(c.Total) * sc.PixelFraction
	red, yel, grn := float64(c.Red), float64(c.Yellow), float64(c.Green)

	switch {
	case red > threshold && c.Red > c.Yellow && c.Red > c.Green:
		return SignalRed
	case yel > threshold && c.Yellow > c.Green:
		return SignalYellow
	case grn > threshold:
		return SignalGreen
	}
	return SignalUnknown
}

// Classify returns the color of a traffic light crop.
// An empty crop is always unknown.
func (sc *SignalClassifier) Classify(crop image.Image) SignalColor {
	if crop == nil || crop.Bounds().Empty() {
		return SignalUnknown
	}
	return sc.Decide(Count(crop))
}

// toHSV converts a color to 8-bit HSV: hue 0..179, saturation and value
// 0..255, each rounded to an integer. A hue that rounds to 180 wraps to 0.
func toHSV(c color.Color) (h, s, v float64) {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	r, g, b := float64(n.R), float64(n.G), float64(n.B)

	max := r
	if g > max {
		max = g
	}
	if b > max {
		max = b
	}
	min := r
	if g < min {
		min = g
	}
	if b < min {
		min = b
	}

	v = max
	delta := max - min
	if max == 0 || delta == 0 {
		return 0, 0, v
	}
	s = math.Round(255 * delta / max)

	var deg float64
	switch max {
	case r:
		deg = 60 * (g - b) / delta
	case g:
		deg = 120 + 60*(b-r)/delta
	default:
		deg = 240 + 60*(r-g)/delta
	}
	if deg < 0 {
		deg += 360
	}
	h = math.Round(deg / 2)
	if h >= 180 {
		h = 0
	}
	return h, s, v
}
