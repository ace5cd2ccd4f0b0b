// CLAUDE:SUMMARY HTTP client for the feedback service: submit, fetch open annotations, set status. One attempt per call.
// Package client talks to the pinpoint feedback service. It implements
// controller.Service.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hazyhaar/pinpoint/annotation"
	"github.com/hazyhaar/pinpoint/safe"
)

// Config configures a Client.
type Config struct {
	// BaseURL of the service, e.g. "http://localhost:8080".
	BaseURL string
	// APIKey is sent as X-Api-Key on status changes.
	APIKey string
	// HTTPClient defaults to a client with a 30s timeout.
	HTTPClient *http.Client
	// MaxResponse caps response bodies. Default safe.MaxResponseBody.
	MaxResponse int64
	Logger      *slog.Logger
}

func (c *Config) defaults() {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if c.MaxResponse <= 0 {
		c.MaxResponse = safe.MaxResponseBody
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// ServiceError is a non-success answer from the service. Reason is the
// server-provided message, shown to the user as is.
type ServiceError struct {
	StatusCode int
	Reason     string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("client: service returned %d: %s", e.StatusCode, e.Reason)
}

// Client is a feedback service client. Safe for concurrent use.
type Client struct {
	cfg  Config
	base string
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	cfg.defaults()
	if err := safe.HTTPURL(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("client: base url: %w", err)
	}
	return &Client{cfg: cfg, base: strings.TrimRight(cfg.BaseURL, "/")}, nil
}

type envelope struct {
	Success  bool                `json:"success"`
	Error    string              `json:"error,omitempty"`
	ID       string              `json:"id,omitempty"`
	Comments []annotation.Record `json:"comments,omitempty"`
}

// Submit posts a new annotation and returns its id.
func (c *Client) Submit(ctx context.Context, sub annotation.Submission) (string, error) {
	var env envelope
	if err := c.do(ctx, http.MethodPost, "/api/feedback", sub, http.StatusCreated, &env); err != nil {
		return "", err
	}
	if env.ID == "" {
		return "", fmt.Errorf("client: submit: response has no id")
	}
	c.cfg.Logger.Debug("client: annotation submitted", "id", env.ID, "project_id", sub.ProjectID)
	return env.ID, nil
}

// FetchExisting returns the open annotations of a project, oldest first.
func (c *Client) FetchExisting(ctx context.Context, projectID string) ([]annotation.Record, error) {
	var env envelope
	path := "/api/feedback?project_id=" + url.QueryEscape(projectID)
	if err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &env); err != nil {
		return nil, err
	}
	return env.Comments, nil
}

// SetStatus changes the status of an annotation.
func (c *Client) SetStatus(ctx context.Context, id string, status annotation.Status) error {
	path := "/api/feedback/" + url.PathEscape(id) + "/status"
	body := map[string]annotation.Status{"status": status}
	var env envelope
	return c.do(ctx, http.MethodPatch, path, body, http.StatusOK, &env)
}

func (c *Client) do(ctx context.Context, method, path string, in any, want int, out *envelope) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("client: marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("X-Api-Key", c.cfg.APIKey)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := safe.LimitedReadAll(resp.Body, c.cfg.MaxResponse)
	if err != nil {
		return fmt.Errorf("client: read response: %w", err)
	}

	decodeErr := json.Unmarshal(data, out)
	if resp.StatusCode != want || decodeErr != nil || !out.Success {
		reason := out.Error
		if reason == "" {
			reason = http.StatusText(resp.StatusCode)
		}
		if resp.StatusCode == want && decodeErr != nil {
			return fmt.Errorf("client: decode response: %w", decodeErr)
		}
		return &ServiceError{StatusCode: resp.StatusCode, Reason: reason}
	}
	return nil
}

// IsServiceError reports whether err carries a service answer.
func IsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	ok := errors.As(err, &se)
	return se, ok
}
