package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/pinpoint/feedback"
	"github.com/hazyhaar/pinpoint/shield"
)

func testRouter(t *testing.T) http.Handler {
	t.Helper()
	db, err := feedback.OpenDB(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	svc, err := feedback.New(feedback.Config{DB: db})
	if err != nil {
		t.Fatal(err)
	}
	err = svc.Store().UpsertProjects(context.Background(),
		feedback.Project{ID: "demo", Name: "Demo", URL: "https://shop.example.com", APIKey: "secret"})
	if err != nil {
		t.Fatal(err)
	}
	rl := shield.NewRateLimiter(shield.RateLimitConfig{
		PerSecond: 0.001,
		Burst:     1,
		Methods:   []string{http.MethodPost},
		Exclude:   []string{"/healthz", "/mcp"},
	})
	mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "pinpoint-test", Version: version}, nil)
	svc.RegisterMCP(mcpSrv)
	return newRouter(db, svc, rl, mcpSrv)
}

func TestHealthz(t *testing.T) {
	h := testRouter(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
	if rec.Header().Get("X-Trace-ID") == "" {
		t.Error("missing X-Trace-ID")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers not applied")
	}
}

func TestSubmitRateLimited(t *testing.T) {
	h := testRouter(t)
	body := `{"project_id":"demo","content":"broken button","url_path":"/"}`

	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/api/feedback", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "203.0.113.7:5000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	if rec := post(); rec.Code != http.StatusCreated {
		t.Fatalf("first submit = %d: %s", rec.Code, rec.Body.String())
	}
	rec := post()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second submit = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}

	// Reads are not limited.
	for range 3 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/feedback?project_id=demo", nil))
		if rec.Code != 200 {
			t.Fatalf("list = %d", rec.Code)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"info":  slog.LevelInfo,
		"":      slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestEnv(t *testing.T) {
	t.Setenv("PINPOINT_TEST_VAR", "x")
	if got := env("PINPOINT_TEST_VAR", "d"); got != "x" {
		t.Errorf("env = %q", got)
	}
	os.Unsetenv("PINPOINT_TEST_VAR")
	if got := env("PINPOINT_TEST_VAR", "d"); got != "d" {
		t.Errorf("env default = %q", got)
	}
}
