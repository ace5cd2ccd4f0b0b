package capture

import (
	"image"
	"image/color"

	"github.com/gogpu/gg"
	xdraw "golang.org/x/image/draw"

	"github.com/hazyhaar/pinpoint/coord"
)

// Marker glyph geometry, in CSS pixels.
const (
	MarkerRadius = 16
	MarkerBorder = 3
	MarkerDot    = 4
	MarkerColor  = "#ec4899"
)

// compose crops a w x h window at origin out of doc onto a white canvas and
// draws the marker at the given viewport point.
func compose(doc image.Image, origin image.Point, w, h int, marker coord.Point) (*gg.Context, error) {
	canvas := crop(doc, origin, w, h)
	dc := newContext(canvas)
	if err := DrawMarker(dc, marker); err != nil {
		dc.Close()
		return nil, err
	}
	return dc, nil
}

// crop copies the w x h region of src starting at origin (relative to
// src's bounds). Pixels outside src stay white.
func crop(src image.Image, origin image.Point, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, xdraw.Src)
	xdraw.Draw(dst, dst.Bounds(), src, src.Bounds().Min.Add(origin), xdraw.Over)
	return dst
}

// DrawMarker paints the marker glyph centred on p: a filled disc with a
// white border and a white centre dot.
func DrawMarker(dc *gg.Context, p coord.Point) error {
	dc.DrawCircle(p.X, p.Y, MarkerRadius)
	dc.SetHexColor(MarkerColor)
	if err := dc.Fill(); err != nil {
		return err
	}

	dc.DrawCircle(p.X, p.Y, MarkerRadius)
	dc.SetHexColor("#ffffff")
	dc.SetLineWidth(MarkerBorder)
	if err := dc.Stroke(); err != nil {
		return err
	}

	dc.DrawCircle(p.X, p.Y, MarkerDot)
	return dc.Fill()
}

func newContext(img image.Image) *gg.Context {
	return gg.NewContextForImage(img)
}
