// Package coord defines the three coordinate spaces a marker lives in and
// the conversions between them.
//
// Viewport points are pixel offsets from the top-left of the visible
// viewport. Document points are offsets from the origin of the full
// scrollable document and do not move when the page scrolls. Percent points
// express a viewport point as a fraction (0–100) of the viewport size at
// capture time.
//
// Nothing in this package clamps. A point captured on the very edge of the
// viewport may round slightly outside [0, 100]; consumers clamp at render
// time if they want to.
package coord

import "math"

// Point is a 2D position. Depending on context it is a viewport point, a
// document point, a percentage pair or a scroll offset.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is a width/height pair in CSS pixels.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Rect is an element bounding box in viewport coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Pt is shorthand for Point{x, y}.
func Pt(x, y float64) Point { return Point{X: x, Y: y} }

// Add returns p+q.
func (p Point) Add(q Point) Point { return Point{X: p.X + q.X, Y: p.Y + q.Y} }

// Sub returns p-q.
func (p Point) Sub(q Point) Point { return Point{X: p.X - q.X, Y: p.Y - q.Y} }

// Center returns the middle of a viewport of size s.
func (s Size) Center() Point { return Point{X: s.Width / 2, Y: s.Height / 2} }

// Empty reports whether either dimension is not positive.
func (s Size) Empty() bool { return s.Width <= 0 || s.Height <= 0 }

// Min returns the top-left corner of r.
func (r Rect) Min() Point { return Point{X: r.X, Y: r.Y} }

// Empty reports whether r has no area.
func (r Rect) Empty() bool { return r.Width == 0 && r.Height == 0 }

// ToPercent expresses a viewport point as a percentage of the viewport size.
// A non-positive dimension yields 0 on that axis so stored data never holds
// NaN or Inf.
func ToPercent(viewport Point, size Size) Point {
	return Point{
		X: percentOf(viewport.X, size.Width),
		Y: percentOf(viewport.Y, size.Height),
	}
}

func percentOf(v, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return v / total * 100
}

// ToDocumentAbsolute maps a viewport point to its fixed position in the
// document, given the scroll offset in effect when the point was taken.
func ToDocumentAbsolute(viewport, scroll Point) Point {
	return viewport.Add(scroll)
}

// FromDocumentAbsolute projects a document point into the viewport at the
// current scroll offset.
func FromDocumentAbsolute(document, scroll Point) Point {
	return document.Sub(scroll)
}

// FromPercentAndOriginalContext rebuilds the original document point from a
// percentage plus the viewport size and scroll offset recorded at capture
// time, then projects it into the viewport at the current scroll offset.
func FromPercentAndOriginalContext(percent Point, originalSize Size, originalScroll, currentScroll Point) Point {
	originalViewport := Point{
		X: percent.X / 100 * originalSize.Width,
		Y: percent.Y / 100 * originalSize.Height,
	}
	document := ToDocumentAbsolute(originalViewport, originalScroll)
	return FromDocumentAbsolute(document, currentScroll)
}

// Finite reports whether both components are finite numbers.
func (p Point) Finite() bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) &&
		!math.IsNaN(p.Y) && !math.IsInf(p.Y, 0)
}
