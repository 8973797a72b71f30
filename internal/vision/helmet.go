package vision

import (
	"image"
	"image/color"
)

// DarkFraction returns the share of pixels in region whose gray intensity
// is below cutoff. ok is false when the region is empty.
func DarkFraction(img image.Image, region image.Rectangle, cutoff uint8) (fraction float64, ok bool) {
	crop := Crop(img, region)
	b := crop.Bounds()
	total := b.Dx() * b.Dy()
	if total == 0 {
		return 0, false
	}

	dark := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g := color.GrayModel.Convert(crop.At(x, y)).(color.Gray)
			if g.Y < cutoff {
				dark++
			}
		}
	}
	return float64(dark) / float64(total), true
}

// HeadRegion returns the top fraction of a person box
func HeadRegion(x1, y1, x2, y2, fraction float64) image.Rectangle {
	headHeight := int((y2 - y1) * fraction)
	top := int(y1)
	return image.Rect(int(x1), top, int(x2), top+headHeight)
}
