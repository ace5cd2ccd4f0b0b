// CLAUDE:SUMMARY Browser agent: opens a page in Chrome, installs the bridge and drives annotation from stdin, or captures one snapshot.
// Command pinpoint drives an annotation session in Chrome.
//
// Usage:
//
//	pinpoint -url https://shop.example.com                    # interactive session
//	pinpoint -url https://shop.example.com -capture 400,300 -out shot.jpg
//
// Interactive commands, one per line on stdin:
//
//	begin | click X Y | cancel | pins | resolve ID | reopen ID | quit
//
// Any other line while composing (or after a failed submit) is sent as
// the comment text.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/hazyhaar/pinpoint/annotation"
	"github.com/hazyhaar/pinpoint/browser"
	"github.com/hazyhaar/pinpoint/capture"
	"github.com/hazyhaar/pinpoint/client"
	"github.com/hazyhaar/pinpoint/config"
	"github.com/hazyhaar/pinpoint/controller"
	"github.com/hazyhaar/pinpoint/coord"
)

func main() {
	configPath := flag.String("config", "", "path to pinpoint.yaml")
	pageURL := flag.String("url", "", "page to annotate")
	project := flag.String("project", "", "project id when the page declares none")
	service := flag.String("service", "", "feedback service base URL (overrides config)")
	stealthMode := flag.String("stealth", "", "headless or headful (overrides config)")
	at := flag.String("capture", "", "one-shot capture at viewport point X,Y")
	out := flag.String("out", "pinpoint.jpg", "output file for -capture")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if *pageURL == "" {
		fmt.Fprintln(os.Stderr, "usage: pinpoint -url <url> [-capture X,Y -out file.jpg]")
		os.Exit(2)
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadFile(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	if *service != "" {
		cfg.Agent.ServiceURL = *service
	}
	if *stealthMode != "" {
		cfg.Browser.Stealth = *stealthMode
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg, *pageURL, *project, *at, *out); err != nil {
		logger.Error("pinpoint: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.Config, pageURL, project, at, out string) error {
	level, err := browser.ParseStealth(cfg.Browser.Stealth)
	if err != nil {
		return err
	}
	mgr := browser.NewManager(browser.Config{
		RemoteURL:   cfg.Browser.Remote,
		Bin:         cfg.Browser.Bin,
		Stealth:     level,
		XvfbDisplay: cfg.Browser.XvfbDisplay,
		UseXvfb:     level == browser.LevelHeadful && os.Getenv("DISPLAY") == "",
		Width:       cfg.Browser.Width,
		Height:      cfg.Browser.Height,
		Logger:      logger,
	})
	if _, err := mgr.Start(ctx); err != nil {
		return err
	}
	defer mgr.Close()

	page, err := mgr.NewPage(ctx, pageURL, browser.PageOptions{ProjectID: project})
	if err != nil {
		return err
	}
	defer page.Close()

	comp := capture.New(page, cfg.CaptureOptions(logger))

	if at != "" {
		return captureOnce(ctx, comp, at, out)
	}

	svc, err := client.New(client.Config{
		BaseURL: cfg.Agent.ServiceURL,
		APIKey:  cfg.Agent.APIKey,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	ctl, err := controller.New(controller.Config{
		ProjectID:    page.ProjectID(),
		Host:         page,
		Capturer:     comp,
		Service:      svc,
		SuccessDelay: cfg.Agent.SuccessDelay,
		Logger:       logger,
		OnState: func(s controller.State, err error) {
			if err != nil {
				logger.Warn("pinpoint: state", "state", s.String(), "error", err)
				return
			}
			logger.Info("pinpoint: state", "state", s.String())
		},
	})
	if err != nil {
		return err
	}
	defer ctl.Close()

	if err := ctl.Start(); err != nil {
		return err
	}
	if err := ctl.Load(ctx); err != nil {
		logger.Warn("pinpoint: load existing comments", "error", err)
	}
	logger.Info("pinpoint: ready", "project_id", page.ProjectID(), "open", ctl.OpenCount())

	return repl(ctx, ctl, os.Stdin, os.Stdout)
}

func captureOnce(ctx context.Context, comp *capture.Compositor, at, out string) error {
	p, err := parsePoint(at)
	if err != nil {
		return err
	}
	res, err := comp.Capture(ctx, p)
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, res.Image.Data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	return json.NewEncoder(os.Stdout).Encode(map[string]any{
		"file":    out,
		"bytes":   res.Image.Size(),
		"quality": res.Image.Quality,
		"coords":  res.Record(),
	})
}

// commander is the part of the controller the command loop drives.
type commander interface {
	State() (controller.State, error)
	Begin() error
	Click(controller.PointerEvent) error
	Submit(text string) error
	Cancel()
	Pins() []controller.Pin
	SetStatus(ctx context.Context, id string, status annotation.Status) error
}

func repl(ctx context.Context, ctl commander, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := handleLine(ctx, ctl, line, out)
			if err != nil {
				fmt.Fprintln(out, "error:", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, ctl commander, line string, out io.Writer) (quit bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	fields := strings.Fields(line)
	switch fields[0] {
	case "quit", "exit":
		return true, nil
	case "begin":
		return false, ctl.Begin()
	case "cancel":
		ctl.Cancel()
		return false, nil
	case "click":
		if len(fields) != 3 {
			return false, errors.New("usage: click X Y")
		}
		p, err := parsePoint(fields[1] + "," + fields[2])
		if err != nil {
			return false, err
		}
		return false, ctl.Click(controller.PointerEvent{Kind: controller.PointerClick, Point: p})
	case "pins":
		for _, p := range ctl.Pins() {
			fmt.Fprintf(out, "%d\t%s\t%s\t%.0f,%.0f\t%s\n", p.Number, p.ID, p.Status, p.Position.X, p.Position.Y, p.Strategy)
		}
		return false, nil
	case "resolve", "reopen":
		if len(fields) != 2 {
			return false, fmt.Errorf("usage: %s ID", fields[0])
		}
		status := annotation.StatusResolved
		if fields[0] == "reopen" {
			status = annotation.StatusOpen
		}
		return false, ctl.SetStatus(ctx, fields[1], status)
	}

	st, _ := ctl.State()
	if st == controller.Composing || st == controller.Error {
		return false, ctl.Submit(line)
	}
	return false, fmt.Errorf("unknown command %q in state %s", fields[0], st)
}

func parsePoint(s string) (coord.Point, error) {
	xs, ys, ok := strings.Cut(s, ",")
	if !ok {
		return coord.Point{}, fmt.Errorf("point %q: want X,Y", s)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
	if err != nil {
		return coord.Point{}, fmt.Errorf("point %q: %w", s, err)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
	if err != nil {
		return coord.Point{}, fmt.Errorf("point %q: %w", s, err)
	}
	return coord.Point{X: x, Y: y}, nil
}
