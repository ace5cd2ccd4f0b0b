// Package reconcile recomputes where annotation markers belong in the
// current viewport after scroll, resize or reload.
package reconcile

import "github.com/hazyhaar/pinpoint/coord"

// Anchor says what a pin's position derives from. It is chosen once, when
// the pin is created or loaded, and never changes.
type Anchor int

const (
	// AnchorCoordinates pins derive from their stored coordinate record.
	AnchorCoordinates Anchor = iota
	// AnchorElement pins follow a live element plus a fixed offset.
	AnchorElement
)

func (a Anchor) String() string {
	if a == AnchorElement {
		return "element"
	}
	return "coordinates"
}

// Strategy records which rule produced a pin's current position.
type Strategy string

const (
	StrategyNone     Strategy = ""
	StrategyElement  Strategy = "element"
	StrategyDocument Strategy = "document"
	StrategyPercent  Strategy = "percent"
	StrategyLegacy   Strategy = "legacy"
	StrategyDefault  Strategy = "default"
)

// Pin is a marker being kept in place.
type Pin struct {
	ID       string
	Selector string
	Coords   coord.Record
	Anchor   Anchor
	// Offset is the click point minus the element's top-left at creation.
	Offset coord.Point

	// Position is the last computed viewport position.
	Position coord.Point
	Strategy Strategy
	// Uncertain is set when Position is a guess: the element could not be
	// found, or the record carried no coordinates.
	Uncertain bool
}

// View is the viewport state a pass reconciles against.
type View struct {
	Scroll coord.Point
	Size   coord.Size
}

// Locator finds the live bounding box of the element a selector names.
// ok is false when nothing matches.
type Locator interface {
	Locate(selector string) (rect coord.Rect, ok bool)
}

// Reconcile returns a new slice with every pin repositioned for view. The
// input slice and its pins are not modified. loc may be nil when no pin is
// element-anchored.
func Reconcile(pins []Pin, view View, loc Locator) []Pin {
	out := make([]Pin, len(pins))
	for i, p := range pins {
		out[i] = Place(p, view, loc)
	}
	return out
}

// Place computes one pin's position.
func Place(p Pin, view View, loc Locator) Pin {
	if p.Anchor == AnchorElement {
		return placeOnElement(p, view, loc)
	}
	p.Position, p.Strategy = FromRecord(p.Coords, view)
	p.Uncertain = p.Strategy == StrategyDefault
	return p
}

func placeOnElement(p Pin, view View, loc Locator) Pin {
	if loc != nil && p.Selector != "" {
		if rect, ok := loc.Locate(p.Selector); ok {
			p.Position = rect.Min().Add(p.Offset)
			p.Strategy = StrategyElement
			p.Uncertain = false
			return p
		}
	}
	// Keep the last known position. A pin that was never placed falls
	// back to its record.
	if p.Strategy == StrategyNone {
		p.Position, p.Strategy = FromRecord(p.Coords, view)
	}
	p.Uncertain = true
	return p
}

// FromRecord applies the coordinate fallback order: document point,
// percentage with its original context, raw viewport point, viewport
// centre.
func FromRecord(rec coord.Record, view View) (coord.Point, Strategy) {
	switch {
	case rec.Document != nil:
		return coord.FromDocumentAbsolute(*rec.Document, view.Scroll), StrategyDocument

	case rec.Percent != nil:
		size := view.Size
		if rec.ViewportSize != nil {
			size = *rec.ViewportSize
		}
		var scroll coord.Point
		if rec.Scroll != nil {
			scroll = *rec.Scroll
		}
		return coord.FromPercentAndOriginalContext(*rec.Percent, size, scroll, view.Scroll), StrategyPercent

	case rec.Viewport != nil:
		return *rec.Viewport, StrategyLegacy
	}
	return view.Size.Center(), StrategyDefault
}
