package browser

import (
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/pinpoint/controller"
	"github.com/hazyhaar/pinpoint/coord"
)

// bridgeEvent is one message posted by the page script through the
// __pinpointEmit binding.
type bridgeEvent struct {
	Type string      `json:"type"`
	X    float64     `json:"x"`
	Y    float64     `json:"y"`
	Tool bool        `json:"tool"`
	Rect *coord.Rect `json:"rect"`
}

func parseEvent(payload string) (bridgeEvent, error) {
	var ev bridgeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return ev, fmt.Errorf("browser: decode bridge event: %w", err)
	}
	switch ev.Type {
	case "move", "click", "viewport":
		return ev, nil
	}
	return ev, fmt.Errorf("browser: unknown bridge event %q", ev.Type)
}

func (ev bridgeEvent) pointer() (controller.PointerEvent, bool) {
	var kind controller.PointerKind
	switch ev.Type {
	case "move":
		kind = controller.PointerMove
	case "click":
		kind = controller.PointerClick
	default:
		return controller.PointerEvent{}, false
	}
	return controller.PointerEvent{
		Kind:   kind,
		Point:  coord.Point{X: ev.X, Y: ev.Y},
		Tool:   ev.Tool,
		Target: ev.Rect,
	}, true
}

// metrics mirrors window.__pinpoint.metrics().
type metrics struct {
	ScrollX   float64 `json:"scrollX"`
	ScrollY   float64 `json:"scrollY"`
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
	DocWidth  float64 `json:"docWidth"`
	DocHeight float64 `json:"docHeight"`
	DPR       float64 `json:"dpr"`
	URL       string  `json:"url"`
	UserAgent string  `json:"userAgent"`
}

// pinMark is the payload of window.__pinpoint.pins().
type pinMark struct {
	ID        string  `json:"id"`
	N         int     `json:"n"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Uncertain bool    `json:"uncertain"`
}

func pinMarks(pins []controller.Pin) []pinMark {
	out := make([]pinMark, len(pins))
	for i, p := range pins {
		out[i] = pinMark{
			ID:        p.ID,
			N:         p.Number,
			X:         p.Position.X,
			Y:         p.Position.Y,
			Uncertain: p.Uncertain,
		}
	}
	return out
}

// maxRenderSide caps each side of a full-document screenshot.
const maxRenderSide = 16384

// renderSize clamps the document size for a screenshot clip.
func renderSize(m metrics) (w, h int) {
	w = int(max(m.DocWidth, m.Width))
	h = int(max(m.DocHeight, m.Height))
	return min(max(w, 1), maxRenderSide), min(max(h, 1), maxRenderSide)
}
