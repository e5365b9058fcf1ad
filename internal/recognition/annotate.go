package recognition

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	acceptedColor = color.RGBA{G: 200, A: 255}
	unknownColor  = color.RGBA{R: 220, A: 255}
	labelText     = image.White
)

const boxThickness = 2

// annotate copies frame and draws a box and label for every match.
func annotate(frame image.Image, matches []Match) *image.RGBA {
	b := frame.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), frame, b.Min, draw.Src)

	for _, m := range matches {
		c := unknownColor
		if m.Accepted {
			c = acceptedColor
		}
		box := m.BBox.Sub(b.Min).Intersect(dst.Bounds())
		if box.Empty() {
			continue
		}
		drawBox(dst, box, c)
		drawLabel(dst, box, m.Label, c)
	}
	return dst
}

func drawBox(dst *image.RGBA, r image.Rectangle, c color.Color) {
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+boxThickness),
		image.Rect(r.Min.X, r.Max.Y-boxThickness, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+boxThickness, r.Max.Y),
		image.Rect(r.Max.X-boxThickness, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(dst.Bounds()), src, image.Point{}, draw.Src)
	}
}

// drawLabel writes text on a filled strip above the box, or inside it when
// the box touches the top edge.
func drawLabel(dst *image.RGBA, box image.Rectangle, text string, bg color.Color) {
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil() + 4
	height := face.Height + 2

	top := box.Min.Y - height
	if top < dst.Bounds().Min.Y {
		top = box.Min.Y
	}
	strip := image.Rect(box.Min.X, top, box.Min.X+width, top+height).Intersect(dst.Bounds())
	draw.Draw(dst, strip, image.NewUniform(bg), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  dst,
		Src:  labelText,
		Face: face,
		Dot:  fixed.P(strip.Min.X+2, strip.Min.Y+face.Ascent+1),
	}
	d.DrawString(text)
}
