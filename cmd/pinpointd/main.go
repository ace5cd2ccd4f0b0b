// CLAUDE:SUMMARY Entry point for the pinpoint feedback service: chi router, shield stack, sqlite store, MCP over streamable HTTP.
// Command pinpointd serves the annotation API, the review pages and the
// MCP tools.
//
// Usage:
//
//	pinpointd -config pinpoint.yaml
//	PORT=9090 DB_PATH=/var/lib/pinpoint.db pinpointd -dev
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/pinpoint/config"
	"github.com/hazyhaar/pinpoint/feedback"
	"github.com/hazyhaar/pinpoint/shield"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", env("PINPOINT_CONFIG", ""), "path to pinpoint.yaml")
	dev := flag.Bool("dev", false, "accept localhost origins for every project")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Addr = ":" + port
	}
	cfg.Server.DBPath = env("DB_PATH", cfg.Server.DBPath)
	cfg.Server.LogLevel = env("LOG_LEVEL", cfg.Server.LogLevel)
	if *dev {
		cfg.Server.Dev = true
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg); err != nil {
		logger.Error("pinpointd: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	db, err := feedback.OpenDB(cfg.Server.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	svc, err := feedback.New(feedback.Config{
		DB:       db,
		Dev:      cfg.Server.Dev,
		CacheTTL: cfg.Server.CacheTTL,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	if err := svc.Store().UpsertProjects(ctx, cfg.Projects...); err != nil {
		return err
	}
	logger.Info("pinpointd: projects loaded", "count", len(cfg.Projects))

	rl := shield.NewRateLimiter(shield.RateLimitConfig{
		PerSecond: cfg.Server.Rate.PerSecond,
		Burst:     cfg.Server.Rate.Burst,
		Methods:   []string{http.MethodPost},
		Exclude:   []string{"/healthz", "/mcp"},
	})
	rl.StartGC(ctx.Done())

	mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "pinpoint", Version: version}, nil)
	svc.RegisterMCP(mcpSrv)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           newRouter(db, svc, rl, mcpSrv),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("pinpointd: listening", "addr", cfg.Server.Addr, "dev", cfg.Server.Dev)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("pinpointd: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("pinpointd: shutdown", "error", err)
	}
	return nil
}

func newRouter(db *sql.DB, svc *feedback.Service, rl *shield.RateLimiter, mcpSrv *mcp.Server) http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack(rl) {
		r.Use(mw)
	}
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	svc.Routes(r)
	r.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return mcpSrv }, nil))
	return r
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
