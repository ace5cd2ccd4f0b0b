// CLAUDE:SUMMARY Submission/fetch service for annotations: SQLite store, chi routes with per-project CORS, cached open lists, review page and MCP tools.
// Package feedback is the service the annotation engine submits to and
// fetches existing annotations from.
//
// Mount it on a chi router:
//
//	svc, _ := feedback.New(feedback.Config{DB: db})
//	r.Route("/", svc.Routes)
package feedback

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/hazyhaar/pinpoint/annotation"
)

// Config holds the settings needed to create a Service.
type Config struct {
	DB *sql.DB
	// Dev accepts browser origins on localhost for every project.
	Dev bool
	// CacheTTL bounds how stale an open list may be. Default 30s.
	CacheTTL time.Duration
	Logger   *slog.Logger
}

func (c *Config) defaults() {
	if c.CacheTTL <= 0 {
		c.CacheTTL = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Service serves the feedback API.
type Service struct {
	store  *Store
	cache  *gocache.Cache
	dev    bool
	logger *slog.Logger
}

// New creates a Service and applies the database schema.
func New(cfg Config) (*Service, error) {
	cfg.defaults()
	store, err := NewStore(cfg.DB)
	if err != nil {
		return nil, err
	}
	return &Service{
		store:  store,
		cache:  gocache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		dev:    cfg.Dev,
		logger: cfg.Logger,
	}, nil
}

// Store exposes the underlying store.
func (s *Service) Store() *Store { return s.store }

// apiError is an error with the HTTP status and message sent to clients.
type apiError struct {
	status int
	msg    string
}

func (e *apiError) Error() string { return e.msg }

func errStatus(status int, msg string) error { return &apiError{status: status, msg: msg} }

var (
	errProjectRequired = errStatus(400, "project_id is required")
	errInvalidProject  = errStatus(404, "Invalid project_id")
	errOriginRejected  = errStatus(403, "Origin not allowed")
	errRefererRejected = errStatus(403, "Invalid referer")
	errInvalidKey      = errStatus(401, "Invalid API key")
	errKeyDisabled     = errStatus(403, "Status changes are disabled for this project")
	errNotFound        = errStatus(404, "Comment not found")
)

func (s *Service) project(ctx context.Context, id string) (Project, error) {
	if id == "" {
		return Project{}, errProjectRequired
	}
	p, err := s.store.Project(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Project{}, errInvalidProject
	}
	return p, err
}

// submission is a validated create request with the headers the origin
// checks need.
type submission struct {
	rec    annotation.Record
	origin string
	ref    string
}

// create stores a validated submission for p after the origin checks.
func (s *Service) create(ctx context.Context, p Project, sub *submission) (string, error) {
	if !s.originAllowed(sub.origin, p.URL) {
		s.logger.Warn("feedback: origin rejected", "origin", sub.origin, "project_id", p.ID)
		return "", errOriginRejected
	}
	if !s.refererAllowed(sub.ref, p.URL) {
		return "", errRefererRejected
	}
	sub.rec.ProjectID = p.ID
	if err := s.store.Insert(ctx, &sub.rec); err != nil {
		s.logger.Error("feedback: insert failed", "project_id", p.ID, "error", err)
		return "", errStatus(500, "Failed to save comment")
	}
	s.cache.Delete(p.ID)
	s.logger.Info("feedback: comment created", "id", sub.rec.ID, "project_id", p.ID,
		"has_screenshot", sub.rec.Screenshot != "", "has_selector", sub.rec.Selector != "")
	return sub.rec.ID, nil
}

// listOpen returns a project's open annotations without screenshots,
// served from cache when fresh.
func (s *Service) listOpen(ctx context.Context, projectID string) ([]annotation.Record, error) {
	if v, ok := s.cache.Get(projectID); ok {
		return v.([]annotation.Record), nil
	}
	recs, err := s.store.List(ctx, projectID, ListOptions{OpenOnly: true})
	if err != nil {
		s.logger.Error("feedback: list failed", "project_id", projectID, "error", err)
		return nil, errStatus(500, "Failed to fetch comments")
	}
	s.cache.SetDefault(projectID, recs)
	return recs, nil
}

// setStatus changes an annotation's status when key matches the owning
// project's API key.
func (s *Service) setStatus(ctx context.Context, id string, status annotation.Status, key string) error {
	rec, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return errNotFound
	}
	if err != nil {
		return err
	}
	p, err := s.store.Project(ctx, rec.ProjectID)
	if err != nil {
		return err
	}
	if err := checkKey(p, key); err != nil {
		return err
	}
	if err := s.store.SetStatus(ctx, id, status); err != nil {
		return fmt.Errorf("feedback: set status: %w", err)
	}
	s.cache.Delete(p.ID)
	s.logger.Info("feedback: status changed", "id", id, "status", status)
	return nil
}

func checkKey(p Project, key string) error {
	if p.APIKey == "" {
		return errKeyDisabled
	}
	if subtle.ConstantTimeCompare([]byte(p.APIKey), []byte(key)) != 1 {
		return errInvalidKey
	}
	return nil
}
