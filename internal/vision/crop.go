// Package vision holds the pixel-level heuristics used by the rule engine:
// traffic light color classification and helmet darkness measurement.
package vision

import (
	"image"
	"image/draw"
)

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// Crop returns the part of img inside r, clamped to the image bounds.
// The result is empty when r does not intersect the image.
func Crop(img image.Image, r image.Rectangle) image.Image {
	if img == nil {
		return image.NewRGBA(image.Rectangle{})
	}
	r = r.Canon().Intersect(img.Bounds())
	if r.Empty() {
		return image.NewRGBA(image.Rectangle{})
	}
	if si, ok := img.(subImager); ok {
		return si.SubImage(r)
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}

// Rect converts float pixel coordinates to an integer rectangle,
// truncating like an array slice index would.
func Rect(x1, y1, x2, y2 float64) image.Rectangle {
	return image.Rect(int(x1), int(y1), int(x2), int(y2))
}
