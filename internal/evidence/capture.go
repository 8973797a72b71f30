// Package evidence writes annotated JPEG screenshots of violating vehicles.
package evidence

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"trafficeye/internal/engine"
	"trafficeye/internal/timeutil"
)

// ErrNoFrame is returned when a shot carries no image
var ErrNoFrame = errors.New("no frame to capture")

var (
	boxColor  = color.RGBA{255, 0, 0, 255}
	textColor = color.RGBA{255, 255, 255, 255}
)

const (
	boxThickness = 6
	jpegQuality  = 85
)

// Shot describes one violation to capture
type Shot struct {
	Frame      image.Image
	Box        engine.BBox
	Type       engine.ViolationType
	VehicleID  string
	Confidence float64
}

// Capturer writes evidence images into a directory
type Capturer struct {
	dir   string
	clock timeutil.Clock
}

// NewCapturer creates a capturer writing into dir. A nil clock uses the real clock.
func NewCapturer(dir string, clock timeutil.Clock) *Capturer {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Capturer{dir: dir, clock: clock}
}

// Dir returns the output directory
func (c *Capturer) Dir() string {
	return c.dir
}

// Capture annotates the frame and writes it as a JPEG, returning its path
func (c *Capturer) Capture(shot Shot) (string, error) {
	if shot.Frame == nil {
		return "", ErrNoFrame
	}
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create evidence directory: %w", err)
	}

	now := c.clock.Now()
	path := filepath.Join(c.dir, FileName(shot.Type, shot.VehicleID, now.Format("20060102_150405"), now.Nanosecond()/1e6))

	img := Annotate(shot, now.Format("15:04:05"))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create evidence file: %w", err)
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to encode evidence: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to write evidence: %w", err)
	}
	return path, nil
}

// FileName returns type_vehicle_yyyymmdd_hhmmss_mmm.jpg
func FileName(t engine.ViolationType, vehicleID, stamp string, millis int) string {
	if vehicleID == "" {
		vehicleID = "unknown"
	}
	name := fmt.Sprintf("%s_%s_%s_%03d.jpg", t, vehicleID, stamp, millis)
	return strings.ReplaceAll(name, string(filepath.Separator), "_")
}

// Annotate copies the frame and draws the violating box, a headline above it,
// and the capture time and confidence in the corner.
func Annotate(shot Shot, clock string) *image.RGBA {
	bounds := shot.Frame.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, shot.Frame, bounds.Min, draw.Src)

	x1, y1 := int(shot.Box.X1), int(shot.Box.Y1)
	w, h := int(shot.Box.Width()), int(shot.Box.Height())
	drawBox(rgba, x1, y1, w, h, boxColor, boxThickness)

	headline := strings.ToUpper(shot.Type.Label()) + " VIOLATION"
	drawLabel(rgba, x1, y1-30, headline, boxColor)

	drawLabel(rgba, bounds.Min.X+10, bounds.Min.Y+20, "Time: "+clock, textColor)
	if shot.Confidence > 0 {
		drawLabel(rgba, bounds.Min.X+10, bounds.Min.Y+40, fmt.Sprintf("Confidence: %.2f", shot.Confidence), textColor)
	}
	return rgba
}

func drawBox(img *image.RGBA, x, y, w, h int, c color.RGBA, thickness int) {
	b := img.Bounds()
	set := func(px, py int) {
		if image.Pt(px, py).In(b) {
			img.SetRGBA(px, py, c)
		}
	}
	for t := 0; t < thickness; t++ {
		for i := x; i <= x+w; i++ {
			set(i, y+t)
			set(i, y+h-t)
		}
		for j := y; j <= y+h; j++ {
			set(x+t, j)
			set(x+w-t, j)
		}
	}
}

func drawLabel(img *image.RGBA, x, y int, label string, c color.RGBA) {
	b := img.Bounds()
	if y < b.Min.Y+10 {
		y = b.Min.Y + 10
	}
	if x < b.Min.X {
		x = b.Min.X
	}

	bg := color.RGBA{0, 0, 0, 180}
	textWidth := len(label) * 7
	for dy := -2; dy < 12; dy++ {
		for dx := -2; dx < textWidth+2; dx++ {
			if p := image.Pt(x+dx, y+dy); p.In(b) {
				img.Set(p.X, p.Y, bg)
			}
		}
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y + 10)},
	}
	d.DrawString(label)
}
