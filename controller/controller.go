// CLAUDE:SUMMARY Annotation interaction state machine: highlight, capture, compose, submit, with epoch-guarded async continuations.
// Package controller drives one annotation session on one page: pointer
// highlighting, snapshot capture, draft composition, submission, and
// keeping existing markers in place as the viewport changes.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/pinpoint/annotation"
	"github.com/hazyhaar/pinpoint/capture"
	"github.com/hazyhaar/pinpoint/coord"
	"github.com/hazyhaar/pinpoint/reconcile"
)

var (
	// ErrBusy rejects a request while the same kind of work is in flight.
	ErrBusy = errors.New("controller: busy")
	// ErrState rejects a request that does not apply to the current state.
	ErrState = errors.New("controller: invalid state")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("controller: closed")
)

// Config wires a Controller.
type Config struct {
	ProjectID string
	Host      Host
	Capturer  Capturer
	Service   Service

	// SuccessDelay is how long Success shows before returning to Idle.
	// Default 1s.
	SuccessDelay time.Duration
	// Cursor shown while highlighting. Default "crosshair".
	Cursor string
	// OnState is called after every transition, outside the lock.
	OnState func(s State, err error)

	Logger *slog.Logger
	Now    func() time.Time
}

func (c *Config) defaults() {
	if c.SuccessDelay <= 0 {
		c.SuccessDelay = time.Second
	}
	if c.Cursor == "" {
		c.Cursor = "crosshair"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Pin is a marker as presented to the user.
type Pin struct {
	reconcile.Pin
	Number int
	Status annotation.Status
}

// draft is the annotation being composed.
type draft struct {
	selector string
	offset   coord.Point
	result   *capture.Result
	text     string
}

type entry struct {
	pin    reconcile.Pin
	status annotation.Status
}

type transition struct {
	state State
	err   error
}

// Controller is safe for concurrent use. Host callbacks may arrive on any
// goroutine.
type Controller struct {
	cfg Config
	log *slog.Logger

	ctx  context.Context
	stop context.CancelFunc

	mu       sync.Mutex
	state    State
	err      error
	epoch    uint64
	closed   bool
	release  func() // pointer listener + cursor, held while Highlighting
	unwatch  func() // viewport listener, held while markers are shown
	started  bool
	cancelOp context.CancelFunc
	draft    *draft
	pins     []entry
	timer    *time.Timer
	pending  []transition

	// attaching and reacquiring mark host calls made with mu released.
	attaching   bool
	reacquiring bool
}

// New validates cfg and returns an idle Controller.
func New(cfg Config) (*Controller, error) {
	if cfg.Host == nil || cfg.Capturer == nil || cfg.Service == nil {
		return nil, fmt.Errorf("controller: Host, Capturer and Service are required")
	}
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("controller: ProjectID is required")
	}
	cfg.defaults()
	ctx, stop := context.WithCancel(context.Background())
	return &Controller{cfg: cfg, log: cfg.Logger, ctx: ctx, stop: stop}, nil
}

// State returns the current state and the error attached to it, if any.
func (c *Controller) State() (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.err
}

// Draft reports the pending draft text and whether a snapshot is held.
func (c *Controller) Draft() (text string, captured bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.draft == nil {
		return "", false
	}
	return c.draft.text, c.draft.result != nil
}

// Pins returns the markers in insertion order, numbered from 1.
func (c *Controller) Pins() []Pin {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pinsLocked()
}

func (c *Controller) pinsLocked() []Pin {
	out := make([]Pin, len(c.pins))
	for i, e := range c.pins {
		out[i] = Pin{Pin: e.pin, Number: i + 1, Status: e.status}
	}
	return out
}

// OpenCount is the number of markers not yet resolved.
func (c *Controller) OpenCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.pins {
		if e.status != annotation.StatusResolved {
			n++
		}
	}
	return n
}

// Start enables viewport tracking. The listener is attached while at
// least one marker is shown and detached otherwise.
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.started = true
	c.mu.Unlock()
	return c.syncWatch()
}

// syncWatch attaches or detaches the viewport listener to match the
// marker list.
func (c *Controller) syncWatch() error {
	c.mu.Lock()
	want := c.started && !c.closed && len(c.pins) > 0
	if !want && c.unwatch != nil {
		remove := c.unwatch
		c.unwatch = nil
		c.mu.Unlock()
		remove()
		return nil
	}
	if !want || c.unwatch != nil || c.attaching {
		c.mu.Unlock()
		return nil
	}
	c.attaching = true
	c.mu.Unlock()

	remove, err := c.cfg.Host.AddViewportListener(c.onViewport)

	c.mu.Lock()
	c.attaching = false
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("controller: viewport listener: %w", err)
	}
	if c.closed || len(c.pins) == 0 {
		c.mu.Unlock()
		remove()
		return nil
	}
	c.unwatch = remove
	c.mu.Unlock()
	return nil
}

// Load fetches the project's open annotations and places them. Loaded
// markers are anchored on their stored coordinates.
func (c *Controller) Load(ctx context.Context) error {
	recs, err := c.cfg.Service.FetchExisting(ctx, c.cfg.ProjectID)
	if err != nil {
		return fmt.Errorf("controller: load: %w", err)
	}
	view, err := c.cfg.Host.Viewport(ctx)
	if err != nil {
		return fmt.Errorf("controller: load: %w", err)
	}

	loaded := make([]entry, 0, len(recs))
	for _, r := range recs {
		p := reconcile.Pin{
			ID:       r.ID,
			Selector: r.Selector,
			Coords:   r.Meta.Coordinates(),
			Anchor:   reconcile.AnchorCoordinates,
		}
		loaded = append(loaded, entry{pin: reconcile.Place(p, view, nil), status: r.Status})
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	seen := make(map[string]bool, len(loaded))
	for _, e := range loaded {
		seen[e.pin.ID] = true
	}
	for _, e := range c.pins {
		if !seen[e.pin.ID] {
			loaded = append(loaded, e)
		}
	}
	c.pins = loaded
	pins := c.pinsLocked()
	c.mu.Unlock()

	c.log.Info("controller: loaded annotations", "project", c.cfg.ProjectID, "count", len(recs))
	c.present(pins)
	return c.syncWatch()
}

// Begin enters highlighting mode.
func (c *Controller) Begin() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != Idle {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: begin from %s", ErrState, st)
	}
	if c.reacquiring {
		c.mu.Unlock()
		return ErrBusy
	}
	epoch := c.epoch
	c.mu.Unlock()

	release, err := c.acquire()
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed || c.epoch != epoch || c.state != Idle {
		c.mu.Unlock()
		release()
		return fmt.Errorf("%w: state changed during begin", ErrState)
	}
	c.release = release
	c.setLocked(Highlighting, nil)
	c.unlock()
	return nil
}

// acquire takes the pointer listener and cursor and returns one func that
// gives both back.
func (c *Controller) acquire() (func(), error) {
	removeListener, err := c.cfg.Host.AddPointerListener(c.onPointer)
	if err != nil {
		return nil, fmt.Errorf("controller: pointer listener: %w", err)
	}
	restoreCursor, err := c.cfg.Host.SetCursor(c.cfg.Cursor)
	if err != nil {
		removeListener()
		return nil, fmt.Errorf("controller: cursor: %w", err)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			removeListener()
			restoreCursor()
		})
	}, nil
}

func (c *Controller) onPointer(ev PointerEvent) {
	switch ev.Kind {
	case PointerMove:
		c.Hover(ev)
	case PointerClick:
		if err := c.Click(ev); err != nil {
			c.log.Debug("controller: click ignored", "error", err)
		}
	}
}

// Hover updates the highlight box.
func (c *Controller) Hover(ev PointerEvent) {
	c.mu.Lock()
	active := c.state == Highlighting && !c.closed
	c.mu.Unlock()
	if !active {
		return
	}
	if ev.Tool {
		c.highlight(nil)
		return
	}
	c.highlight(ev.Target)
}

// Click selects the element under the pointer and starts a capture. The
// pointer listener and cursor are released before Click returns.
func (c *Controller) Click(ev PointerEvent) error {
	if ev.Tool {
		return nil
	}
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case c.state == Capturing:
		c.mu.Unlock()
		return ErrBusy
	case c.state != Highlighting:
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: click in %s", ErrState, st)
	}
	release := c.takeReleaseLocked()
	epoch := c.epoch
	ctx, cancel := context.WithCancel(c.ctx)
	c.cancelOp = cancel
	c.setLocked(Capturing, nil)
	c.unlock()

	release()
	c.highlight(nil)
	go c.capture(ctx, epoch, ev.Point)
	return nil
}

func (c *Controller) capture(ctx context.Context, epoch uint64, at coord.Point) {
	selector, rect, err := c.cfg.Host.ElementAt(ctx, at)
	if err != nil {
		c.log.Debug("controller: selector unavailable", "error", err)
		selector = ""
	}
	res, err := c.cfg.Capturer.Capture(ctx, at)

	c.mu.Lock()
	if c.closed || c.epoch != epoch {
		c.mu.Unlock()
		c.log.Debug("controller: stale capture discarded")
		return
	}
	c.cancelOp = nil
	if err != nil {
		c.log.Warn("controller: capture failed", "error", err)
		c.retry(epoch, fmt.Errorf("controller: capture: %w", err))
		return
	}
	d := &draft{selector: selector, result: res}
	if selector != "" {
		d.offset = at.Sub(rect.Min())
	}
	c.draft = d
	c.setLocked(Composing, nil)
	c.unlock()
}

// retry is called with mu held after a failed capture and returns to
// Highlighting so the user can click again. Begin is refused while the
// pointer listener is being reacquired, so a stale acquisition can never
// be released over a newer session.
func (c *Controller) retry(epoch uint64, cause error) {
	c.reacquiring = true
	c.mu.Unlock()

	release, err := c.acquire()

	c.mu.Lock()
	c.reacquiring = false
	if c.closed || c.epoch != epoch {
		c.mu.Unlock()
		if release != nil {
			release()
		}
		c.log.Debug("controller: stale capture discarded")
		return
	}
	if err != nil {
		c.log.Warn("controller: reacquire after capture failure", "error", err)
		c.setLocked(Idle, cause)
	} else {
		c.release = release
		c.setLocked(Highlighting, cause)
	}
	c.unlock()
}

// Submit sends the composed annotation. It is accepted from Composing and
// from Error, where it retries with the same snapshot.
func (c *Controller) Submit(text string) error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case c.state == Submitting:
		c.mu.Unlock()
		return ErrBusy
	case c.state != Composing && c.state != Error:
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: submit in %s", ErrState, st)
	case c.draft == nil || c.draft.result == nil:
		c.mu.Unlock()
		return fmt.Errorf("%w: nothing captured", ErrState)
	}
	c.draft.text = text
	d := *c.draft
	epoch := c.epoch
	ctx, cancel := context.WithCancel(c.ctx)
	c.cancelOp = cancel
	c.setLocked(Submitting, nil)
	c.unlock()

	go c.submit(ctx, epoch, d)
	return nil
}

func (c *Controller) submit(ctx context.Context, epoch uint64, d draft) {
	rec := d.result.Record()
	id, err := c.send(ctx, d, rec)

	var placed reconcile.Pin
	if err == nil {
		placed = c.newPin(ctx, id, d, rec)
	}

	c.mu.Lock()
	if c.closed || c.epoch != epoch {
		c.mu.Unlock()
		c.log.Debug("controller: stale submission discarded", "id", id)
		return
	}
	c.cancelOp = nil
	if err != nil {
		c.log.Warn("controller: submit failed", "error", err)
		c.setLocked(Error, err)
		c.unlock()
		return
	}
	c.pins = append(c.pins, entry{pin: placed, status: annotation.StatusOpen})
	c.draft = nil
	c.setLocked(Success, nil)
	pins := c.pinsLocked()
	c.timer = time.AfterFunc(c.cfg.SuccessDelay, func() { c.finish(epoch) })
	c.unlock()

	c.log.Info("controller: annotation submitted", "id", id, "selector", d.selector)
	c.present(pins)
	if err := c.syncWatch(); err != nil {
		c.log.Warn("controller: viewport tracking", "error", err)
	}
}

func (c *Controller) send(ctx context.Context, d draft, rec coord.Record) (string, error) {
	doc, err := c.cfg.Host.Document(ctx)
	if err != nil {
		return "", fmt.Errorf("controller: document info: %w", err)
	}
	meta := annotation.NewMeta(doc.URL, doc.UserAgent, d.result.Viewport, c.cfg.Now()).WithCoordinates(rec)
	path := meta.Path
	if path == "" {
		path = "/"
	}
	return c.cfg.Service.Submit(ctx, annotation.Submission{
		ProjectID:  c.cfg.ProjectID,
		Content:    d.text,
		Selector:   d.selector,
		URLPath:    path,
		Meta:       meta,
		Screenshot: d.result.Image.DataURI(),
	})
}

// newPin anchors a freshly submitted marker on its element when a
// selector was resolved, otherwise on its coordinates.
func (c *Controller) newPin(ctx context.Context, id string, d draft, rec coord.Record) reconcile.Pin {
	p := reconcile.Pin{ID: id, Selector: d.selector, Coords: rec, Anchor: reconcile.AnchorCoordinates}
	if d.selector != "" {
		p.Anchor = reconcile.AnchorElement
		p.Offset = d.offset
	}
	view, err := c.cfg.Host.Viewport(ctx)
	if err != nil {
		view = reconcile.View{Scroll: d.result.Scroll, Size: d.result.Viewport}
	}
	return reconcile.Place(p, view, c.cfg.Host)
}

func (c *Controller) finish(epoch uint64) {
	c.mu.Lock()
	if c.closed || c.epoch != epoch || c.state != Success {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.setLocked(Idle, nil)
	c.unlock()
}

// Cancel returns to Idle from any state, dropping in-flight work and the
// draft.
func (c *Controller) Cancel() {
	c.mu.Lock()
	if c.closed || c.state == Idle {
		c.mu.Unlock()
		return
	}
	c.epoch++
	release := c.abortLocked()
	c.draft = nil
	c.setLocked(Idle, nil)
	c.unlock()
	release()
	c.highlight(nil)
}

// Close ends the session. In-flight continuations observe the closed flag
// before any acquisition is released.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.epoch++
	release := c.abortLocked()
	unwatch := c.unwatch
	c.unwatch = nil
	c.draft = nil
	c.pending = nil
	c.mu.Unlock()

	release()
	if unwatch != nil {
		unwatch()
	}
	c.stop()
	return nil
}

// abortLocked cancels running work and hands back the highlighting
// release, to be called once mu is dropped.
func (c *Controller) abortLocked() func() {
	if c.cancelOp != nil {
		c.cancelOp()
		c.cancelOp = nil
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	return c.takeReleaseLocked()
}

// takeReleaseLocked detaches the highlighting release. The returned func
// talks to the host and must run without mu held.
func (c *Controller) takeReleaseLocked() func() {
	release := c.release
	c.release = nil
	if release == nil {
		return func() {}
	}
	return release
}

// SetStatus changes an annotation's status on the service and mirrors it
// locally.
func (c *Controller) SetStatus(ctx context.Context, id string, status annotation.Status) error {
	if err := c.cfg.Service.SetStatus(ctx, id, status); err != nil {
		return fmt.Errorf("controller: set status: %w", err)
	}
	c.mu.Lock()
	for i := range c.pins {
		if c.pins[i].pin.ID == id {
			c.pins[i].status = status
		}
	}
	pins := c.pinsLocked()
	c.mu.Unlock()
	c.present(pins)
	return nil
}

// onViewport runs one reconciliation pass. Positions are computed on a
// snapshot and merged back by ID so pins added meanwhile are kept.
func (c *Controller) onViewport() {
	c.mu.Lock()
	if c.closed || len(c.pins) == 0 {
		c.mu.Unlock()
		return
	}
	snap := make([]reconcile.Pin, len(c.pins))
	for i, e := range c.pins {
		snap[i] = e.pin
	}
	c.mu.Unlock()

	view, err := c.cfg.Host.Viewport(c.ctx)
	if err != nil {
		c.log.Debug("controller: viewport read failed", "error", err)
		return
	}
	placed := reconcile.Reconcile(snap, view, c.cfg.Host)
	byID := make(map[string]reconcile.Pin, len(placed))
	for _, p := range placed {
		byID[p.ID] = p
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	for i := range c.pins {
		if p, ok := byID[c.pins[i].pin.ID]; ok {
			c.pins[i].pin = p
		}
	}
	pins := c.pinsLocked()
	c.mu.Unlock()
	c.present(pins)
}

// setLocked records a transition to be announced by unlock.
func (c *Controller) setLocked(s State, err error) {
	c.state = s
	c.err = err
	c.pending = append(c.pending, transition{state: s, err: err})
}

// unlock releases the mutex and then announces pending transitions.
func (c *Controller) unlock() {
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, t := range pending {
		c.log.Debug("controller: state", "state", t.state.String())
		if c.cfg.OnState != nil {
			c.cfg.OnState(t.state, t.err)
		}
	}
}

func (c *Controller) highlight(r *coord.Rect) {
	if p, ok := c.cfg.Host.(Presenter); ok {
		p.Highlight(r)
	}
}

func (c *Controller) present(pins []Pin) {
	if p, ok := c.cfg.Host.(Presenter); ok {
		p.ShowPins(pins)
	}
}
