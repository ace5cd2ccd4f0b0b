package controller

import (
	"context"

	"github.com/hazyhaar/pinpoint/annotation"
	"github.com/hazyhaar/pinpoint/capture"
	"github.com/hazyhaar/pinpoint/coord"
	"github.com/hazyhaar/pinpoint/reconcile"
)

// PointerKind distinguishes pointer events.
type PointerKind int

const (
	PointerMove PointerKind = iota
	PointerClick
)

// PointerEvent is a pointer event observed on the page.
type PointerEvent struct {
	Kind  PointerKind
	Point coord.Point // viewport coordinates
	// Tool is true when the event's composed path crosses the tool's own
	// host element.
	Tool bool
	// Target is the hovered element's box, nil when unknown.
	Target *coord.Rect
}

// DocumentInfo describes the annotated page.
type DocumentInfo struct {
	URL       string
	UserAgent string
}

// Host is what the controller needs from the page it runs on.
type Host interface {
	reconcile.Locator

	// AddPointerListener delivers pointer events (document level, capture
	// phase) until the returned func is called.
	AddPointerListener(fn func(PointerEvent)) (remove func(), err error)
	// SetCursor overrides the page cursor until the returned func is called.
	SetCursor(css string) (restore func(), err error)
	// AddViewportListener delivers scroll and resize notifications until
	// the returned func is called. Listeners are passive.
	AddViewportListener(fn func()) (remove func(), err error)

	Viewport(ctx context.Context) (reconcile.View, error)
	Document(ctx context.Context) (DocumentInfo, error)
	// ElementAt returns the selector and box of the element under p. An
	// empty selector means none could be derived.
	ElementAt(ctx context.Context, p coord.Point) (selector string, rect coord.Rect, err error)
}

// Presenter is implemented by hosts that draw the tool's overlay.
type Presenter interface {
	Highlight(r *coord.Rect)
	ShowPins(pins []Pin)
}

// Capturer takes the snapshot. *capture.Compositor implements it.
type Capturer interface {
	Capture(ctx context.Context, marker coord.Point) (*capture.Result, error)
}

// Service is the submission/fetch boundary. *client.Client implements it.
type Service interface {
	Submit(ctx context.Context, sub annotation.Submission) (id string, err error)
	FetchExisting(ctx context.Context, projectID string) ([]annotation.Record, error)
	SetStatus(ctx context.Context, id string, status annotation.Status) error
}
