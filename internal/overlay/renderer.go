// Package overlay draws live metrics and the pose skeleton onto video frames.
package overlay

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"

	"example.com/repcount/internal/pose"
)

// ErrEncode is returned when an annotated frame cannot be encoded. The frame should be skipped.
var ErrEncode = errors.New("frame encode failed")

var (
	repsColor     = color.RGBA{G: 255, A: 255}
	feedbackColor = color.RGBA{R: 255, A: 255}
	angleColor    = color.RGBA{G: 255, B: 255, A: 255}
	basicColor    = color.RGBA{R: 255, G: 165, A: 255}
	boneColor     = color.RGBA{R: 245, G: 245, B: 245, A: 255}
	jointColor    = color.RGBA{R: 245, G: 66, B: 230, A: 255}
	shadowColor   = color.RGBA{A: 160}
)

// Overlay is what gets drawn on one frame.
type Overlay struct {
	Count      int
	Feedback   string
	ElbowAngle int
	HipAngle   int
	BasicMode  bool
	// Landmarks is nil when no skeleton should be drawn.
	Landmarks *pose.Landmarks
}

// Renderer annotates and JPEG-encodes frames. It holds no per-frame state.
type Renderer struct {
	quality int
}

// NewRenderer returns a renderer encoding at the given JPEG quality (1-100, default 85).
func NewRenderer(quality int) *Renderer {
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	return &Renderer{quality: quality}
}

// Render draws o onto a copy of img and returns the encoded JPEG. img is left untouched.
func (r *Renderer) Render(img image.Image, o Overlay) ([]byte, error) {
	canvas := clone(img)

	if o.Landmarks != nil {
		drawSkeleton(canvas, o.Landmarks)
	}

	drawLabel(canvas, 20, 40, fmt.Sprintf("Reps: %d", o.Count), repsColor)
	drawLabel(canvas, 20, 80, fmt.Sprintf("Feedback: %s", o.Feedback), feedbackColor)
	drawLabel(canvas, 20, 120, fmt.Sprintf("Elbow: %d", o.ElbowAngle), angleColor)
	drawLabel(canvas, 20, 150, fmt.Sprintf("Hip: %d", o.HipAngle), angleColor)
	if o.BasicMode {
		drawLabel(canvas, 20, 180, "BASIC MODE", basicColor)
	}

	return r.encode(canvas)
}

// Encode JPEG-encodes img without annotations.
func (r *Renderer) Encode(img image.Image) ([]byte, error) {
	return r.encode(img)
}

func (r *Renderer) encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: r.quality}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return buf.Bytes(), nil
}

func clone(img image.Image) *image.RGBA {
	bounds := img.Bounds()
	canvas := image.NewRGBA(bounds)
	draw.Draw(canvas, bounds, img, bounds.Min, draw.Src)
	return canvas
}

func drawLabel(canvas *image.RGBA, x, y int, text string, c color.Color) {
	face := basicfont.Face7x13
	origin := canvas.Bounds().Min.Add(image.Pt(x, y))

	drawer := &font.Drawer{Dst: canvas, Face: face}
	width := drawer.MeasureString(text).Ceil()
	box := image.Rect(origin.X-4, origin.Y-face.Ascent-3, origin.X+width+4, origin.Y+face.Descent+3)
	draw.Draw(canvas, box.Intersect(canvas.Bounds()), image.NewUniform(shadowColor), image.Point{}, draw.Over)

	drawer.Src = image.NewUniform(c)
	drawer.Dot = fixed.P(origin.X, origin.Y)
	drawer.DrawString(text)
}

func drawSkeleton(canvas *image.RGBA, landmarks *pose.Landmarks) {
	bounds := canvas.Bounds()
	width, height := float32(bounds.Dx()), float32(bounds.Dy())
	thickness := float32(math.Max(2, float64(bounds.Dx())/320))

	toPixels := func(i int) (float32, float32) {
		return float32(landmarks[i].X) * width, float32(landmarks[i].Y) * height
	}

	bones := vector.NewRasterizer(bounds.Dx(), bounds.Dy())
	for _, pair := range pose.Connections {
		x1, y1 := toPixels(pair[0])
		x2, y2 := toPixels(pair[1])
		addSegment(bones, x1, y1, x2, y2, thickness)
	}
	bones.Draw(canvas, bounds, image.NewUniform(boneColor), image.Point{})

	joints := vector.NewRasterizer(bounds.Dx(), bounds.Dy())
	for _, i := range pose.RequiredJoints {
		x, y := toPixels(i)
		addDisc(joints, x, y, thickness*1.5)
	}
	joints.Draw(canvas, bounds, image.NewUniform(jointColor), image.Point{})
}

// addSegment adds a quad of the given thickness around the line from (x1,y1) to (x2,y2).
func addSegment(z *vector.Rasterizer, x1, y1, x2, y2, thickness float32) {
	dx, dy := x2-x1, y2-y1
	length := float32(math.Hypot(float64(dx), float64(dy)))
	if length == 0 {
		return
	}
	nx, ny := -dy/length*thickness/2, dx/length*thickness/2

	z.MoveTo(x1+nx, y1+ny)
	z.LineTo(x2+nx, y2+ny)
	z.LineTo(x2-nx, y2-ny)
	z.LineTo(x1-nx, y1-ny)
	z.ClosePath()
}

func addDisc(z *vector.Rasterizer, cx, cy, radius float32) {
	const steps = 16
	z.MoveTo(cx+radius, cy)
	for i := 1; i < steps; i++ {
		theta := 2 * math.Pi * float64(i) / steps
		z.LineTo(cx+radius*float32(math.Cos(theta)), cy+radius*float32(math.Sin(theta)))
	}
	z.ClosePath()
}
