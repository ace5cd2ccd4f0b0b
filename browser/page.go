package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"golang.org/x/net/html"

	"github.com/hazyhaar/pinpoint/widget"
)

const bindingName = "__pinpointEmit"

// PageOptions configures NewPage.
type PageOptions struct {
	// ProjectID is used when the page declares none.
	ProjectID string
	// Timeout bounds each page call made without a caller context
	// (highlighting, pin drawing, element lookup). Default 5s.
	Timeout time.Duration
}

// Page is a Chrome tab with the bridge installed. It implements
// capture.Surface, controller.Host, controller.Presenter and
// reconcile.Locator.
type Page struct {
	page      *rod.Page
	logger    *slog.Logger
	timeout   time.Duration
	projectID string

	ctx    context.Context
	cancel context.CancelFunc
	events chan bridgeEvent

	mu       sync.Mutex
	pointer  map[int]func(bridgeEvent)
	viewport map[int]func()
	nextID   int
	closed   bool
}

// NewPage creates a tab, navigates to pageURL and installs the bridge.
func (m *Manager) NewPage(ctx context.Context, pageURL string, opts PageOptions) (*Page, error) {
	b := m.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	var rp *rod.Page
	var err error
	if m.cfg.Stealth == LevelHeadless {
		rp, err = stealth.Page(b)
	} else {
		rp, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	// One image pixel per CSS pixel in captures.
	err = rp.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             m.cfg.Width,
		Height:            m.cfg.Height,
		DeviceScaleFactor: 1,
	})
	if err != nil {
		rp.Close()
		return nil, fmt.Errorf("browser: set viewport: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := rp.Context(navCtx).Navigate(pageURL); err != nil {
		rp.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := rp.Context(navCtx).WaitLoad(); err != nil {
		m.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}

	p := newPage(rp, m.cfg.Logger, opts)
	if err := p.install(ctx, opts.ProjectID); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func newPage(rp *rod.Page, logger *slog.Logger, opts PageOptions) *Page {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Page{
		page:     rp,
		logger:   logger,
		timeout:  opts.Timeout,
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan bridgeEvent, 64),
		pointer:  make(map[int]func(bridgeEvent)),
		viewport: make(map[int]func()),
	}
}

// install refuses a document that already hosts the tool, reads the
// project id, then defines and attaches the bridge.
func (p *Page) install(ctx context.Context, fallbackProject string) error {
	res, err := p.page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return fmt.Errorf("browser: get DOM: %w", err)
	}
	doc, err := html.Parse(strings.NewReader(res.Value.Str()))
	if err != nil {
		return fmt.Errorf("browser: parse DOM: %w", err)
	}
	if err := widget.Guard(doc); err != nil {
		return err
	}
	p.projectID, err = widget.ProjectID(doc)
	if errors.Is(err, widget.ErrNoProject) && fallbackProject != "" {
		p.projectID, err = fallbackProject, nil
	}
	if err != nil {
		return err
	}

	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(p.page); err != nil {
		return fmt.Errorf("browser: add binding: %w", err)
	}
	go p.listenBinding()
	go p.dispatch()

	ev, err := proto.RuntimeEvaluate{Expression: widget.BridgeJS}.Call(p.page.Context(ctx))
	if err != nil {
		return fmt.Errorf("browser: inject bridge: %w", err)
	}
	if ev.ExceptionDetails != nil {
		return fmt.Errorf("browser: inject bridge: %s", ev.ExceptionDetails.Text)
	}

	var attached bool
	if err := p.evalJSON(ctx, &attached, `() => JSON.stringify(window.__pinpoint.attach())`); err != nil {
		return err
	}
	if !attached {
		return widget.ErrAlreadyInstalled
	}
	p.logger.Info("browser: bridge installed", "project_id", p.projectID)
	return nil
}

// ProjectID is the project the page was installed for.
func (p *Page) ProjectID() string { return p.projectID }

// Rod exposes the underlying page.
func (p *Page) Rod() *rod.Page { return p.page }

// Close detaches the bridge and closes the tab.
func (p *Page) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.pointer = map[int]func(bridgeEvent){}
	p.viewport = map[int]func(){}
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	_ = p.call(ctx, `() => window.__pinpoint && window.__pinpoint.detach()`)
	p.cancel()
	return p.page.Close()
}

// evalJSON runs js, which must return a JSON string, and decodes it into out.
func (p *Page) evalJSON(ctx context.Context, out any, js string, args ...any) error {
	res, err := p.page.Context(ctx).Eval(js, args...)
	if err != nil {
		return fmt.Errorf("browser: eval: %w", err)
	}
	if err := json.Unmarshal([]byte(res.Value.Str()), out); err != nil {
		return fmt.Errorf("browser: decode eval result: %w", err)
	}
	return nil
}

func (p *Page) call(ctx context.Context, js string, args ...any) error {
	if _, err := p.page.Context(ctx).Eval(js, args...); err != nil {
		return fmt.Errorf("browser: eval: %w", err)
	}
	return nil
}

// background returns a context for calls that have no caller context.
func (p *Page) background() (context.Context, context.CancelFunc) {
	return context.WithTimeout(p.ctx, p.timeout)
}
