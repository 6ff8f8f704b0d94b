package imaging

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/dmitrijs2005/lscinspector/internal/server/inference"
)

// GoodClass is the class label of a defect-free detection.
const GoodClass = "Good"

const boxStroke = 2

var (
	goodColor = color.RGBA{R: 0, G: 128, B: 0, A: 255}
	badColor  = color.RGBA{R: 255, G: 0, B: 0, A: 255}
)

// ColorFor returns the overlay color of a detection class.
func ColorFor(class string) color.RGBA {
	if class == GoodClass {
		return goodColor
	}
	return badColor
}

// Label is the text drawn next to a detection box.
func Label(d inference.Detection) string {
	return fmt.Sprintf("%s: %.2f", d.Class, d.Confidence)
}

// BoxRect converts a center-based detection box to pixel corners.
func BoxRect(d inference.Detection) image.Rectangle {
	return image.Rect(
		int(math.Round(d.X-d.Width/2)),
		int(math.Round(d.Y-d.Height/2)),
		int(math.Round(d.X+d.Width/2)),
		int(math.Round(d.Y+d.Height/2)),
	)
}

// labelHeight grows with the image so the text stays legible on large
// photos; the bitmap face is never shrunk below its native size.
func labelHeight(imgHeight int) int {
	h := imgHeight / 30
	if h < basicfont.Face7x13.Height {
		h = basicfont.Face7x13.Height
	}
	return h
}

// LabelRect places a label of the given size above box. When the label
// would overflow the right edge of bounds it is right-aligned to the box's
// right edge instead. The result is clamped into bounds.
func LabelRect(bounds, box image.Rectangle, w, h int) image.Rectangle {
	x := box.Min.X
	if x+w > bounds.Max.X {
		x = box.Max.X - w
	}
	y := box.Min.Y - h
	if y < bounds.Min.Y {
		y = box.Min.Y
	}

	x = clamp(x, bounds.Min.X, bounds.Max.X-w)
	y = clamp(y, bounds.Min.Y, bounds.Max.Y-h)
	return image.Rect(x, y, x+w, y+h)
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	return max(lo, min(v, hi))
}

// Overlay returns a copy of src with every detection boxed and labelled.
func Overlay(src image.Image, detections []inference.Detection) *image.RGBA {
	bounds := src.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, src, bounds.Min, draw.Src)

	lh := labelHeight(bounds.Dy())
	for _, d := range detections {
		c := ColorFor(d.Class)
		box := BoxRect(d).Add(bounds.Min)
		strokeRect(dst, box, c)

		text := renderText(Label(d), c)
		tb := text.Bounds()
		w := tb.Dx() * lh / tb.Dy()
		draw.ApproxBiLinear.Scale(dst, LabelRect(bounds, box, w, lh), text, tb, draw.Over, nil)
	}
	return dst
}

func strokeRect(dst *image.RGBA, r image.Rectangle, c color.Color) {
	u := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+boxStroke),
		image.Rect(r.Min.X, r.Max.Y-boxStroke, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+boxStroke, r.Max.Y),
		image.Rect(r.Max.X-boxStroke, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(dst.Bounds()), u, image.Point{}, draw.Src)
	}
}

// renderText draws s at the native size of the bitmap face on a
// transparent background.
func renderText(s string, c color.Color) *image.RGBA {
	face := basicfont.Face7x13
	width := font.MeasureString(face, s).Ceil()
	img := image.NewRGBA(image.Rect(0, 0, max(width, 1), face.Height))

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(0, face.Ascent),
	}
	d.DrawString(s)
	return img
}
