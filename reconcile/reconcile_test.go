package reconcile

import (
	"testing"

	"github.com/hazyhaar/pinpoint/coord"
)

type locator map[string]coord.Rect

func (l locator) Locate(sel string) (coord.Rect, bool) {
	r, ok := l[sel]
	return r, ok
}

func pt(x, y float64) *coord.Point { return &coord.Point{X: x, Y: y} }

var view = View{Scroll: coord.Pt(0, 200), Size: coord.Size{Width: 1200, Height: 800}}

func TestFromRecord_Order(t *testing.T) {
	size := &coord.Size{Width: 1000, Height: 500}
	cases := []struct {
		name     string
		rec      coord.Record
		want     coord.Point
		strategy Strategy
	}{
		{
			name:     "document wins",
			rec:      coord.Record{Document: pt(400, 300), Percent: pt(90, 90), Viewport: pt(1, 1)},
			want:     coord.Pt(400, 100),
			strategy: StrategyDocument,
		},
		{
			name:     "percent with original context",
			rec:      coord.Record{Percent: pt(50, 50), ViewportSize: size, Scroll: pt(0, 100), Viewport: pt(1, 1)},
			want:     coord.Pt(500, 150),
			strategy: StrategyPercent,
		},
		{
			name:     "percent falls back to current size and zero scroll",
			rec:      coord.Record{Percent: pt(25, 50)},
			want:     coord.Pt(300, 200),
			strategy: StrategyPercent,
		},
		{
			name:     "legacy pixels unmodified",
			rec:      coord.Record{Viewport: pt(400, 300)},
			want:     coord.Pt(400, 300),
			strategy: StrategyLegacy,
		},
		{
			name:     "nothing",
			rec:      coord.Record{},
			want:     coord.Pt(600, 400),
			strategy: StrategyDefault,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, s := FromRecord(c.rec, view)
			if got != c.want || s != c.strategy {
				t.Fatalf("got %v/%s, want %v/%s", got, s, c.want, c.strategy)
			}
		})
	}
}

func TestReconcile_ScrollShift(t *testing.T) {
	rec := coord.NewRecord(coord.Pt(400, 300), coord.Pt(0, 0), coord.Size{Width: 1200, Height: 800}, coord.Pt(33.3, 37.5))
	pins := []Pin{{ID: "a", Coords: rec}}

	got := Reconcile(pins, View{Scroll: coord.Pt(0, 200), Size: coord.Size{Width: 1200, Height: 800}}, nil)
	if got[0].Position != coord.Pt(400, 100) || got[0].Strategy != StrategyDocument {
		t.Fatalf("pin = %+v", got[0])
	}
	if pins[0].Strategy != StrategyNone || pins[0].Position != (coord.Point{}) {
		t.Fatal("input pin was mutated")
	}
}

func TestReconcile_IgnoresResizeForDocumentAnchors(t *testing.T) {
	rec := coord.Record{Document: pt(400, 300)}
	a := Reconcile([]Pin{{Coords: rec}}, View{Size: coord.Size{Width: 1200, Height: 800}}, nil)
	b := Reconcile([]Pin{{Coords: rec}}, View{Size: coord.Size{Width: 600, Height: 900}}, nil)
	if a[0].Position != b[0].Position {
		t.Fatalf("resize moved the pin: %v vs %v", a[0].Position, b[0].Position)
	}
}

func TestReconcile_ElementAnchor(t *testing.T) {
	p := Pin{
		ID:       "local",
		Selector: "body > main > p:nth-of-type(2)",
		Anchor:   AnchorElement,
		Offset:   coord.Pt(12, 8),
		Coords:   coord.Record{Document: pt(5000, 5000)},
	}
	loc := locator{p.Selector: {X: 100, Y: 50, Width: 300, Height: 40}}

	got := Reconcile([]Pin{p}, view, loc)[0]
	if got.Position != coord.Pt(112, 58) || got.Strategy != StrategyElement || got.Uncertain {
		t.Fatalf("pin = %+v", got)
	}

	// Element gone: last position kept, flagged.
	gone := Reconcile([]Pin{got}, view, locator{})[0]
	if gone.Position != coord.Pt(112, 58) || !gone.Uncertain || gone.Strategy != StrategyElement {
		t.Fatalf("pin = %+v", gone)
	}

	// Element back: certain again.
	back := Reconcile([]Pin{gone}, view, loc)[0]
	if back.Uncertain {
		t.Fatal("pin still uncertain after element reappeared")
	}
}

func TestReconcile_ElementNeverFound(t *testing.T) {
	p := Pin{Selector: "#gone", Anchor: AnchorElement, Coords: coord.Record{Document: pt(10, 300)}}
	got := Place(p, view, locator{})
	if got.Position != coord.Pt(10, 100) || !got.Uncertain {
		t.Fatalf("pin = %+v", got)
	}
}

func TestReconcile_DefaultIsUncertain(t *testing.T) {
	got := Place(Pin{}, view, nil)
	if !got.Uncertain || got.Strategy != StrategyDefault {
		t.Fatalf("pin = %+v", got)
	}
	if got := Place(Pin{Coords: coord.Record{Viewport: pt(1, 2)}}, view, nil); got.Uncertain {
		t.Fatal("legacy pin should not be uncertain")
	}
}
