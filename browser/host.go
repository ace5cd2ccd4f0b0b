package browser

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
	xdraw "golang.org/x/image/draw"

	"github.com/hazyhaar/pinpoint/capture"
	"github.com/hazyhaar/pinpoint/controller"
	"github.com/hazyhaar/pinpoint/coord"
	"github.com/hazyhaar/pinpoint/reconcile"
	"github.com/hazyhaar/pinpoint/selector"
)

// listenBinding forwards binding calls to the event channel until the page
// context ends.
func (p *Page) listenBinding() {
	p.page.Context(p.ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != bindingName {
			return
		}
		ev, err := parseEvent(e.Payload)
		if err != nil {
			p.logger.Debug("browser: bad bridge event", "error", err)
			return
		}
		select {
		case p.events <- ev:
		default:
			// Moves and viewport ticks are superseded by the next one.
			if ev.Type == "click" {
				p.logger.Warn("browser: event queue full, click dropped")
			}
		}
	})()
}

// dispatch calls listeners outside the CDP event goroutine so they can
// make page calls of their own.
func (p *Page) dispatch() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case ev := <-p.events:
			p.deliver(ev)
		}
	}
}

func (p *Page) deliver(ev bridgeEvent) {
	p.mu.Lock()
	var pointer []func(bridgeEvent)
	var viewport []func()
	if ev.Type == "viewport" {
		for _, fn := range p.viewport {
			viewport = append(viewport, fn)
		}
	} else {
		for _, fn := range p.pointer {
			pointer = append(pointer, fn)
		}
	}
	p.mu.Unlock()

	for _, fn := range pointer {
		fn(ev)
	}
	for _, fn := range viewport {
		fn()
	}
}

// AddPointerListener implements controller.Host. The page script listens
// only while at least one listener is registered.
func (p *Page) AddPointerListener(fn func(controller.PointerEvent)) (func(), error) {
	wrapped := func(ev bridgeEvent) {
		if pe, ok := ev.pointer(); ok {
			fn(pe)
		}
	}
	return p.addListener(func(id int) bool {
		p.pointer[id] = wrapped
		return len(p.pointer) == 1
	}, func(id int) bool {
		delete(p.pointer, id)
		return len(p.pointer) == 0
	}, "listen")
}

// AddViewportListener implements controller.Host.
func (p *Page) AddViewportListener(fn func()) (func(), error) {
	return p.addListener(func(id int) bool {
		p.viewport[id] = fn
		return len(p.viewport) == 1
	}, func(id int) bool {
		delete(p.viewport, id)
		return len(p.viewport) == 0
	}, "watch")
}

// addListener registers through add and toggles the page side method when
// the first listener arrives or the last one leaves.
func (p *Page) addListener(add, remove func(id int) bool, method string) (func(), error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("browser: page closed")
	}
	p.nextID++
	id := p.nextID
	first := add(id)
	p.mu.Unlock()

	if first {
		if err := p.toggle(method, true); err != nil {
			p.mu.Lock()
			remove(id)
			p.mu.Unlock()
			return nil, err
		}
	}

	var done bool
	return func() {
		p.mu.Lock()
		if done || p.closed {
			p.mu.Unlock()
			return
		}
		done = true
		last := remove(id)
		p.mu.Unlock()
		if last {
			if err := p.toggle(method, false); err != nil {
				p.logger.Debug("browser: "+method+" off", "error", err)
			}
		}
	}, nil
}

func (p *Page) toggle(method string, on bool) error {
	ctx, cancel := p.background()
	defer cancel()
	return p.call(ctx, `(m, on) => window.__pinpoint[m](on)`, method, on)
}

// SetCursor implements controller.Host.
func (p *Page) SetCursor(css string) (func(), error) {
	ctx, cancel := p.background()
	defer cancel()
	if err := p.call(ctx, `(c) => window.__pinpoint.cursor(c)`, css); err != nil {
		return nil, err
	}
	return func() {
		ctx, cancel := p.background()
		defer cancel()
		if err := p.call(ctx, `() => window.__pinpoint.cursor(null)`); err != nil {
			p.logger.Debug("browser: restore cursor", "error", err)
		}
	}, nil
}

func (p *Page) metrics(ctx context.Context) (metrics, error) {
	var m metrics
	err := p.evalJSON(ctx, &m, `() => JSON.stringify(window.__pinpoint.metrics())`)
	return m, err
}

// Viewport implements controller.Host.
func (p *Page) Viewport(ctx context.Context) (reconcile.View, error) {
	m, err := p.metrics(ctx)
	if err != nil {
		return reconcile.View{}, err
	}
	return reconcile.View{
		Scroll: coord.Point{X: m.ScrollX, Y: m.ScrollY},
		Size:   coord.Size{Width: m.Width, Height: m.Height},
	}, nil
}

// Document implements controller.Host.
func (p *Page) Document(ctx context.Context) (controller.DocumentInfo, error) {
	m, err := p.metrics(ctx)
	if err != nil {
		return controller.DocumentInfo{}, err
	}
	return controller.DocumentInfo{URL: m.URL, UserAgent: m.UserAgent}, nil
}

// Locate implements reconcile.Locator.
func (p *Page) Locate(sel string) (coord.Rect, bool) {
	ctx, cancel := p.background()
	defer cancel()
	var r *coord.Rect
	if err := p.evalJSON(ctx, &r, `(s) => JSON.stringify(window.__pinpoint.locate(s))`, sel); err != nil {
		p.logger.Debug("browser: locate", "selector", sel, "error", err)
		return coord.Rect{}, false
	}
	if r == nil {
		return coord.Rect{}, false
	}
	return *r, true
}

// ElementAt implements controller.Host. The tool's own overlay is hidden
// during the hit test.
func (p *Page) ElementAt(ctx context.Context, pt coord.Point) (string, coord.Rect, error) {
	if err := p.call(ctx, `() => window.__pinpoint.hide(true)`); err != nil {
		return "", coord.Rect{}, err
	}
	defer func() {
		rctx, cancel := p.background()
		defer cancel()
		_ = p.call(rctx, `() => window.__pinpoint.hide(false)`)
	}()

	page := p.page.Context(ctx)
	doc, err := proto.DOMGetDocument{Depth: gson.Int(-1)}.Call(page)
	if err != nil {
		return "", coord.Rect{}, fmt.Errorf("browser: get document: %w", err)
	}
	hit, err := proto.DOMGetNodeForLocation{X: int(pt.X), Y: int(pt.Y)}.Call(page)
	if err != nil {
		// Nothing under the point, e.g. outside the viewport.
		return "", coord.Rect{}, nil
	}

	ix := selector.IndexDOM(doc.Root)
	n, ok := ix.Lookup(hit.BackendNodeID)
	for ok && n != nil && !n.IsElement() {
		n = n.Parent()
	}
	if !ok || n == nil {
		return "", coord.Rect{}, nil
	}
	path, err := selector.Resolve(n)
	if err != nil {
		p.logger.Debug("browser: resolve selector", "error", err)
		return "", coord.Rect{}, nil
	}
	sel := path.String()
	r, found := p.Locate(sel)
	if !found {
		return sel, coord.Rect{}, nil
	}
	return sel, r, nil
}

// Highlight implements controller.Presenter.
func (p *Page) Highlight(r *coord.Rect) {
	ctx, cancel := p.background()
	defer cancel()
	if err := p.call(ctx, `(r) => window.__pinpoint.highlight(r)`, r); err != nil {
		p.logger.Debug("browser: highlight", "error", err)
	}
}

// ShowPins implements controller.Presenter.
func (p *Page) ShowPins(pins []controller.Pin) {
	ctx, cancel := p.background()
	defer cancel()
	if err := p.call(ctx, `(l) => window.__pinpoint.pins(l)`, pinMarks(pins)); err != nil {
		p.logger.Debug("browser: show pins", "error", err)
	}
}

// ScrollOffset implements capture.Surface.
func (p *Page) ScrollOffset(ctx context.Context) (coord.Point, error) {
	m, err := p.metrics(ctx)
	if err != nil {
		return coord.Point{}, err
	}
	return coord.Point{X: m.ScrollX, Y: m.ScrollY}, nil
}

// ViewportSize implements capture.Surface.
func (p *Page) ViewportSize(ctx context.Context) (coord.Size, error) {
	m, err := p.metrics(ctx)
	if err != nil {
		return coord.Size{}, err
	}
	return coord.Size{Width: m.Width, Height: m.Height}, nil
}

// ScrollTo implements capture.Surface.
func (p *Page) ScrollTo(ctx context.Context, pt coord.Point) error {
	return p.call(ctx, `(x, y) => window.scrollTo({left: x, top: y, behavior: "instant"})`, pt.X, pt.Y)
}

// RenderDocument implements capture.Surface.
func (p *Page) RenderDocument(ctx context.Context, opts capture.RenderOptions) (image.Image, error) {
	if len(opts.Exclude) > 0 {
		if err := p.call(ctx, `(s) => window.__pinpoint.exclude(s, true)`, opts.Exclude); err != nil {
			return nil, err
		}
		defer func() {
			rctx, cancel := p.background()
			defer cancel()
			_ = p.call(rctx, `(s) => window.__pinpoint.exclude(s, false)`, opts.Exclude)
		}()
	}

	m, err := p.metrics(ctx)
	if err != nil {
		return nil, err
	}
	w, h := renderSize(m)

	shot, err := proto.PageCaptureScreenshot{
		Format:                proto.PageCaptureScreenshotFormatPng,
		CaptureBeyondViewport: true,
		Clip: &proto.PageViewport{
			X: 0, Y: 0,
			Width:  float64(w),
			Height: float64(h),
			Scale:  1,
		},
	}.Call(p.page.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("browser: screenshot: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(shot.Data))
	if err != nil {
		return nil, fmt.Errorf("browser: decode screenshot: %w", err)
	}
	return normalize(img, w, h), nil
}

// normalize scales img to w x h when the device pixel ratio made it larger.
func normalize(img image.Image, w, h int) image.Image {
	b := img.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}
