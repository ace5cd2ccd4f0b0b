// CLAUDE:SUMMARY Snapshots the visible viewport with the marker burned in and encodes it under a byte budget.
// Package capture produces a JPEG snapshot of the current viewport with a
// marker glyph burned in, sized to fit a byte budget.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"time"

	"github.com/hazyhaar/pinpoint/coord"
	"github.com/hazyhaar/pinpoint/widget"
)

var (
	// ErrRender wraps any failure to read or render the page.
	ErrRender = errors.New("capture: render failed")
	// ErrOverBudget means no quality/size combination fit the budget.
	ErrOverBudget = errors.New("capture: image exceeds size budget")
)

// RenderOptions controls a full-document render.
type RenderOptions struct {
	// Exclude lists CSS selectors of elements hidden while rendering.
	Exclude []string
}

// Surface is a rendered page the compositor can read and scroll.
// Implementations: browser.Page, and fakes in tests.
type Surface interface {
	ScrollOffset(ctx context.Context) (coord.Point, error)
	// ViewportSize is the content viewport, excluding scrollbars.
	ViewportSize(ctx context.Context) (coord.Size, error)
	ScrollTo(ctx context.Context, p coord.Point) error
	// RenderDocument rasterizes the whole document from its origin at one
	// image pixel per CSS pixel.
	RenderDocument(ctx context.Context, opts RenderOptions) (image.Image, error)
}

// Config tunes the compositor. Zero values take defaults.
type Config struct {
	// Budget is the maximum data URI length of the result. Default 400 KiB.
	Budget int
	// InitialQuality, MinQuality and QualityStep drive the JPEG search.
	// Defaults 80, 30, 10.
	InitialQuality int
	MinQuality     int
	QualityStep    int
	// MaxDimension bounds the longest side after downscaling. Default 1200.
	MaxDimension int
	// Settle is how long to wait after scrolling to the origin before
	// rendering. Default 50ms.
	Settle time.Duration

	Logger *slog.Logger
}

// DefaultBudget is the default output budget, measured on the data URI.
const DefaultBudget = 400 * 1024

func (c *Config) defaults() {
	if c.Budget <= 0 {
		c.Budget = DefaultBudget
	}
	if c.InitialQuality <= 0 {
		c.InitialQuality = 80
	}
	if c.MinQuality <= 0 {
		c.MinQuality = 30
	}
	if c.QualityStep <= 0 {
		c.QualityStep = 10
	}
	if c.MaxDimension <= 0 {
		c.MaxDimension = 1200
	}
	if c.Settle <= 0 {
		c.Settle = 50 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Result is a successful capture.
type Result struct {
	Image *Image
	// Marker is the viewport point the glyph was drawn at.
	Marker coord.Point
	// Percent is Marker as a percentage of Viewport.
	Percent coord.Point
	// Scroll is the scroll offset at capture time.
	Scroll coord.Point
	// Viewport is the integer viewport size the bitmap was cropped to.
	Viewport coord.Size
}

// Record builds the coordinate record for this capture.
func (r *Result) Record() coord.Record {
	return coord.NewRecord(r.Marker, r.Scroll, r.Viewport, r.Percent)
}

// Compositor captures snapshots from a Surface. It does not serialize
// calls; callers must not capture the same Surface concurrently.
type Compositor struct {
	surface Surface
	cfg     Config
}

// New returns a Compositor over s.
func New(s Surface, cfg Config) *Compositor {
	cfg.defaults()
	return &Compositor{surface: s, cfg: cfg}
}

// Budget returns the effective byte budget.
func (c *Compositor) Budget() int { return c.cfg.Budget }

// Capture snapshots the viewport with the marker at the given viewport
// point. The page's scroll offset is restored before Capture returns,
// whether rendering succeeded or not.
func (c *Compositor) Capture(ctx context.Context, marker coord.Point) (*Result, error) {
	log := c.cfg.Logger

	scroll, err := c.surface.ScrollOffset(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: scroll offset: %v", ErrRender, err)
	}
	size, err := c.surface.ViewportSize(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: viewport size: %v", ErrRender, err)
	}

	// Crop and percent share these integer dimensions.
	w, h := int(math.Round(size.Width)), int(math.Round(size.Height))
	vp := coord.Size{Width: float64(max(w, 0)), Height: float64(max(h, 0))}
	percent := coord.ToPercent(marker, vp)

	doc, err := c.render(ctx, scroll)
	if err != nil {
		return nil, err
	}

	sx, sy := int(math.Round(scroll.X)), int(math.Round(scroll.Y))
	composed, err := compose(doc, image.Pt(sx, sy), max(w, 1), max(h, 1), marker)
	if err != nil {
		return nil, fmt.Errorf("%w: marker: %v", ErrRender, err)
	}

	img, err := c.encode(composed)
	if err != nil {
		return nil, err
	}
	log.Debug("capture: done",
		"width", img.Width, "height", img.Height, "quality", img.Quality, "size", img.Size())

	return &Result{
		Image:    img,
		Marker:   marker,
		Percent:  percent,
		Scroll:   scroll,
		Viewport: vp,
	}, nil
}

// render scrolls to the origin, rasterizes the document and puts the
// scroll offset back.
func (c *Compositor) render(ctx context.Context, scroll coord.Point) (img image.Image, err error) {
	if err := c.surface.ScrollTo(ctx, coord.Point{}); err != nil {
		return nil, fmt.Errorf("%w: scroll to origin: %v", ErrRender, err)
	}
	defer func() {
		// The caller's context may already be done; restoring must still run.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if rerr := c.surface.ScrollTo(rctx, scroll); rerr != nil {
			c.cfg.Logger.Warn("capture: restore scroll", "error", rerr)
		}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrRender, ctx.Err())
	case <-time.After(c.cfg.Settle):
	}

	img, err = c.surface.RenderDocument(ctx, RenderOptions{Exclude: []string{"#" + widget.HostID}})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}
	if img == nil {
		return nil, fmt.Errorf("%w: empty render", ErrRender)
	}
	return img, nil
}
