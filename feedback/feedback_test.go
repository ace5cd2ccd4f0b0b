package feedback

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/pinpoint/annotation"

	_ "modernc.org/sqlite"
)

func newTestService(t *testing.T, dev bool) *Service {
	t.Helper()
	db, err := OpenDB(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	svc, err := New(Config{DB: db, Dev: dev})
	if err != nil {
		t.Fatal(err)
	}
	err = svc.Store().UpsertProjects(context.Background(),
		Project{ID: "demo", Name: "Demo shop", URL: "https://shop.example.com", APIKey: "secret"},
		Project{ID: "nokey", Name: "No key", URL: "https://nokey.example.com"},
	)
	if err != nil {
		t.Fatal(err)
	}
	return svc
}

type response struct {
	Success  bool                `json:"success"`
	Error    string              `json:"error"`
	ID       string              `json:"id"`
	Comments []annotation.Record `json:"comments"`
}

func do(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, response) {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var resp response
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode %s %s: %v (%s)", method, path, err, rec.Body.String())
		}
	}
	return rec, resp
}

func validSubmission() map[string]any {
	return map[string]any{
		"project_id": "demo",
		"content":    "  The <b>checkout</b> button overlaps the footer  ",
		"selector":   "#checkout",
		"url_path":   "/cart",
		"meta": map[string]any{
			"url":          "https://shop.example.com/cart",
			"browser":      "Chrome",
			"pinX":         400.4,
			"pinY":         300.5,
			"pinXPercent":  33.3333,
			"pinYPercent":  37.5,
			"pinDocumentX": 400,
			"pinDocumentY": 1300,
			"scrollY":      1000,
			"unknown":      "dropped",
		},
		"screenshot_base64": annotation.DataURI("image/jpeg", []byte{0xff, 0xd8, 0xff, 0xd9}),
	}
}

func TestNew_NilDB(t *testing.T) {
	_, err := New(Config{DB: nil})
	if err == nil || !strings.Contains(err.Error(), "DB is required") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSubmitAndList(t *testing.T) {
	svc := newTestService(t, false)
	h := svc.Handler()

	rec, resp := do(t, h, http.MethodPost, "/api/feedback", validSubmission(),
		map[string]string{"Origin": "https://shop.example.com"})
	if rec.Code != http.StatusCreated || !resp.Success || resp.ID == "" {
		t.Fatalf("submit: %d %+v", rec.Code, resp)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://shop.example.com" {
		t.Fatalf("allow origin: %q", got)
	}

	stored, err := svc.Store().Get(context.Background(), resp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Content != "The checkout button overlaps the footer" {
		t.Fatalf("content not sanitized: %q", stored.Content)
	}
	if *stored.Meta.PinX != 400 || *stored.Meta.PinY != 301 {
		t.Fatalf("pixel fields not rounded: %v,%v", *stored.Meta.PinX, *stored.Meta.PinY)
	}
	if *stored.Meta.PinXPercent != 33.3333 {
		t.Fatalf("percent changed: %v", *stored.Meta.PinXPercent)
	}
	if !strings.HasPrefix(stored.Screenshot, "data:image/jpeg;base64,") {
		t.Fatalf("screenshot: %q", stored.Screenshot)
	}

	rec, resp = do(t, h, http.MethodGet, "/api/feedback?project_id=demo", nil, nil)
	if rec.Code != http.StatusOK || !resp.Success {
		t.Fatalf("list: %d %+v", rec.Code, resp)
	}
	if len(resp.Comments) != 1 {
		t.Fatalf("expected 1 comment, got %d", len(resp.Comments))
	}
	c := resp.Comments[0]
	if c.Screenshot != "" || c.Content != "" {
		t.Fatalf("list leaks screenshot or content: %+v", c)
	}
	if c.Selector != "#checkout" || c.Status != annotation.StatusOpen {
		t.Fatalf("comment: %+v", c)
	}
	if doc := c.Meta.Coordinates().Document; doc == nil || doc.Y != 1300 {
		t.Fatalf("document coordinates: %+v", doc)
	}
}

func TestSubmit_Validation(t *testing.T) {
	svc := newTestService(t, false)
	h := svc.Handler()

	tests := []struct {
		name   string
		mutate func(m map[string]any)
		code   int
		msg    string
	}{
		{"missing project", func(m map[string]any) { delete(m, "project_id") }, 400, "project_id is required"},
		{"blank content", func(m map[string]any) { m["content"] = "   " }, 400, "content is required and must be a non-empty string"},
		{"long content", func(m map[string]any) { m["content"] = strings.Repeat("a", annotation.MaxContentLength+1) }, 400, "content exceeds maximum length of 10000 characters"},
		{"missing path", func(m map[string]any) { delete(m, "url_path") }, 400, "url_path is required"},
		{"big screenshot", func(m map[string]any) {
			m["screenshot_base64"] = "data:image/jpeg;base64," + strings.Repeat("A", annotation.MaxScreenshotSize)
		}, 400, "screenshot exceeds maximum size of 500KB"},
		{"not a data uri", func(m map[string]any) { m["screenshot_base64"] = "javascript:alert(1)" }, 400, "screenshot must be a base64 image data URI"},
		{"unknown project", func(m map[string]any) { m["project_id"] = "nope" }, 404, "Invalid project_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := validSubmission()
			tt.mutate(body)
			rec, resp := do(t, h, http.MethodPost, "/api/feedback", body, nil)
			if rec.Code != tt.code || resp.Success || resp.Error != tt.msg {
				t.Fatalf("got %d %+v, want %d %q", rec.Code, resp, tt.code, tt.msg)
			}
		})
	}
}

func TestSubmit_TruncatesSelectorAndPath(t *testing.T) {
	svc := newTestService(t, false)
	body := validSubmission()
	body["selector"] = strings.Repeat("s", 600)
	body["url_path"] = "/" + strings.Repeat("p", 600)
	rec, resp := do(t, svc.Handler(), http.MethodPost, "/api/feedback", body, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit: %d %+v", rec.Code, resp)
	}
	stored, err := svc.Store().Get(context.Background(), resp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored.Selector) != annotation.MaxSelectorLength || len(stored.URLPath) != annotation.MaxURLPathLength {
		t.Fatalf("lengths: selector %d, path %d", len(stored.Selector), len(stored.URLPath))
	}
}

func TestSubmit_Origin(t *testing.T) {
	tests := []struct {
		name    string
		dev     bool
		headers map[string]string
		code    int
	}{
		{"no origin", false, nil, 201},
		{"matching origin", false, map[string]string{"Origin": "https://shop.example.com"}, 201},
		{"foreign origin", false, map[string]string{"Origin": "https://evil.example.net"}, 403},
		{"localhost in production", false, map[string]string{"Origin": "http://localhost:3000"}, 403},
		{"localhost in dev", true, map[string]string{"Origin": "http://localhost:3000"}, 201},
		{"foreign referer", false, map[string]string{"Referer": "https://evil.example.net/x"}, 403},
		{"foreign referer in dev", true, map[string]string{"Referer": "https://evil.example.net/x"}, 201},
		{"loopback referer", false, map[string]string{"Referer": "http://127.0.0.1:8080/"}, 201},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t, tt.dev)
			rec, resp := do(t, svc.Handler(), http.MethodPost, "/api/feedback", validSubmission(), tt.headers)
			if rec.Code != tt.code {
				t.Fatalf("got %d %+v, want %d", rec.Code, resp, tt.code)
			}
		})
	}
}

func TestSubmit_InvalidJSON(t *testing.T) {
	svc := newTestService(t, false)
	rec, resp := do(t, svc.Handler(), http.MethodPost, "/api/feedback", "{not json", nil)
	if rec.Code != http.StatusBadRequest || resp.Error != "invalid request body" {
		t.Fatalf("got %d %+v", rec.Code, resp)
	}
}

func TestList_OpenOnlyAscending(t *testing.T) {
	svc := newTestService(t, false)
	st := svc.Store()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, status := range []annotation.Status{annotation.StatusOpen, annotation.StatusResolved, annotation.StatusOpen} {
		r := annotation.Record{
			ProjectID: "demo",
			URLPath:   "/",
			Content:   "note",
			Status:    status,
			CreatedAt: base.Add(time.Duration(2-i) * time.Minute),
		}
		if err := st.Insert(context.Background(), &r); err != nil {
			t.Fatal(err)
		}
	}

	rec, resp := do(t, svc.Handler(), http.MethodGet, "/api/feedback?project_id=demo", nil, nil)
	if rec.Code != http.StatusOK || len(resp.Comments) != 2 {
		t.Fatalf("list: %d %+v", rec.Code, resp)
	}
	if !resp.Comments[0].CreatedAt.Before(resp.Comments[1].CreatedAt) {
		t.Fatalf("not ascending: %v, %v", resp.Comments[0].CreatedAt, resp.Comments[1].CreatedAt)
	}
}

func TestList_Errors(t *testing.T) {
	svc := newTestService(t, false)
	h := svc.Handler()
	if rec, resp := do(t, h, http.MethodGet, "/api/feedback", nil, nil); rec.Code != 400 || resp.Error != "project_id is required" {
		t.Fatalf("missing: %d %+v", rec.Code, resp)
	}
	if rec, resp := do(t, h, http.MethodGet, "/api/feedback?project_id=nope", nil, nil); rec.Code != 404 || resp.Error != "Invalid project_id" {
		t.Fatalf("unknown: %d %+v", rec.Code, resp)
	}
}

func TestList_CacheInvalidatedOnWrite(t *testing.T) {
	svc := newTestService(t, false)
	h := svc.Handler()

	if _, resp := do(t, h, http.MethodGet, "/api/feedback?project_id=demo", nil, nil); len(resp.Comments) != 0 {
		t.Fatalf("expected empty list, got %d", len(resp.Comments))
	}
	_, created := do(t, h, http.MethodPost, "/api/feedback", validSubmission(), nil)
	_, resp := do(t, h, http.MethodGet, "/api/feedback?project_id=demo", nil, nil)
	if len(resp.Comments) != 1 {
		t.Fatalf("after submit: %d comments", len(resp.Comments))
	}

	do(t, h, http.MethodPatch, "/api/feedback/"+created.ID+"/status", map[string]string{"status": "resolved"},
		map[string]string{"X-Api-Key": "secret"})
	_, resp = do(t, h, http.MethodGet, "/api/feedback?project_id=demo", nil, nil)
	if len(resp.Comments) != 0 {
		t.Fatalf("after resolve: %d comments", len(resp.Comments))
	}
}

func TestSetStatus(t *testing.T) {
	svc := newTestService(t, false)
	h := svc.Handler()
	_, created := do(t, h, http.MethodPost, "/api/feedback", validSubmission(), nil)
	path := "/api/feedback/" + created.ID + "/status"

	if rec, _ := do(t, h, http.MethodPatch, path, map[string]string{"status": "resolved"}, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no key: %d", rec.Code)
	}
	if rec, _ := do(t, h, http.MethodPatch, path, map[string]string{"status": "done"}, map[string]string{"X-Api-Key": "secret"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad status: %d", rec.Code)
	}
	for i := 0; i < 2; i++ {
		rec, resp := do(t, h, http.MethodPatch, path, map[string]string{"status": "resolved"}, map[string]string{"X-Api-Key": "secret"})
		if rec.Code != http.StatusOK || !resp.Success {
			t.Fatalf("resolve %d: %d %+v", i, rec.Code, resp)
		}
	}
	stored, _ := svc.Store().Get(context.Background(), created.ID)
	if stored.Status != annotation.StatusResolved {
		t.Fatalf("status: %s", stored.Status)
	}
	if rec, _ := do(t, h, http.MethodPatch, "/api/feedback/missing/status", map[string]string{"status": "open"}, map[string]string{"X-Api-Key": "secret"}); rec.Code != http.StatusNotFound {
		t.Fatalf("missing: %d", rec.Code)
	}
}

func TestSetStatus_KeyDisabled(t *testing.T) {
	svc := newTestService(t, false)
	r := annotation.Record{ProjectID: "nokey", URLPath: "/", Content: "x"}
	if err := svc.Store().Insert(context.Background(), &r); err != nil {
		t.Fatal(err)
	}
	rec, _ := do(t, svc.Handler(), http.MethodPatch, "/api/feedback/"+r.ID+"/status",
		map[string]string{"status": "resolved"}, map[string]string{"X-Api-Key": ""})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("got %d", rec.Code)
	}
}

func TestOptions(t *testing.T) {
	svc := newTestService(t, false)
	req := httptest.NewRequest(http.MethodOptions, "/api/feedback", nil)
	req.Header.Set("Origin", "https://anything.example.org")
	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://anything.example.org" {
		t.Fatalf("allow origin: %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); got != "Content-Type, x-project-id" {
		t.Fatalf("allow headers: %q", got)
	}
}

func TestReviewPage(t *testing.T) {
	svc := newTestService(t, false)
	h := svc.Handler()
	body := validSubmission()
	body["content"] = "Logo is <script>alert(1)</script> blurry"
	do(t, h, http.MethodPost, "/api/feedback", body, nil)

	req := httptest.NewRequest(http.MethodGet, "/projects/demo?key=secret", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d %s", rec.Code, rec.Body.String())
	}
	page := rec.Body.String()
	for _, want := range []string{"Demo shop (1 open, 0 resolved)", `src="data:image/jpeg;base64,`, "data-project-id=&#34;demo&#34;", "#checkout"} {
		if !strings.Contains(page, want) {
			t.Errorf("page missing %q", want)
		}
	}
	if strings.Contains(page, "<script>alert") {
		t.Error("page contains unescaped script")
	}

	for path, code := range map[string]int{
		"/projects/demo?key=wrong": http.StatusUnauthorized,
		"/projects/nokey?key=":     http.StatusForbidden,
		"/projects/nope?key=x":     http.StatusNotFound,
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != code {
			t.Errorf("%s: got %d, want %d", path, rec.Code, code)
		}
	}
}

func TestBridgeJS(t *testing.T) {
	svc := newTestService(t, false)
	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bridge.js", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "__pinpoint") {
		t.Fatalf("bridge: %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/javascript") {
		t.Fatalf("content type: %q", ct)
	}
}

func TestUpsertProjects_UpdatesInPlace(t *testing.T) {
	svc := newTestService(t, false)
	st := svc.Store()
	before, err := st.Project(context.Background(), "demo")
	if err != nil {
		t.Fatal(err)
	}
	if err := st.UpsertProjects(context.Background(), Project{ID: "demo", Name: "Renamed", URL: "https://new.example.com", APIKey: "k2"}); err != nil {
		t.Fatal(err)
	}
	after, err := st.Project(context.Background(), "demo")
	if err != nil {
		t.Fatal(err)
	}
	if after.Name != "Renamed" || after.APIKey != "k2" || !after.CreatedAt.Equal(before.CreatedAt) {
		t.Fatalf("after upsert: %+v (before %+v)", after, before)
	}
}

// --- MCP ---

var testMCPImpl = &mcp.Implementation{Name: "feedback-test", Version: "0.1.0"}

func mcpSession(t *testing.T, svc *Service) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testMCPImpl, nil)
	svc.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args any) (string, bool) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent", name)
	}
	return tc.Text, result.IsError
}

func TestMCP_ListAndResolve(t *testing.T) {
	svc := newTestService(t, false)
	_, created := do(t, svc.Handler(), http.MethodPost, "/api/feedback", validSubmission(), nil)
	session := mcpSession(t, svc)

	text, isErr := callTool(t, session, "pinpoint_list_open", map[string]any{"project_id": "demo", "api_key": "secret"})
	if isErr {
		t.Fatalf("list: %s", text)
	}
	var list struct {
		Count    int                 `json:"count"`
		Comments []annotation.Record `json:"comments"`
	}
	if err := json.Unmarshal([]byte(text), &list); err != nil {
		t.Fatal(err)
	}
	if list.Count != 1 || list.Comments[0].Content != "The checkout button overlaps the footer" {
		t.Fatalf("list: %+v", list)
	}

	if _, isErr := callTool(t, session, "pinpoint_set_status", map[string]any{"id": created.ID, "status": "resolved", "api_key": "wrong"}); !isErr {
		t.Fatal("wrong key accepted")
	}
	if text, isErr := callTool(t, session, "pinpoint_set_status", map[string]any{"id": created.ID, "status": "resolved", "api_key": "secret"}); isErr {
		t.Fatalf("set status: %s", text)
	}

	text, _ = callTool(t, session, "pinpoint_list_open", map[string]any{"project_id": "demo", "api_key": "secret"})
	if !strings.Contains(text, `"count":0`) {
		t.Fatalf("after resolve: %s", text)
	}
}

func TestMCP_UnknownProject(t *testing.T) {
	svc := newTestService(t, false)
	session := mcpSession(t, svc)
	text, isErr := callTool(t, session, "pinpoint_list_open", map[string]any{"project_id": "nope", "api_key": "x"})
	if !isErr || !strings.Contains(text, "Invalid project_id") {
		t.Fatalf("got %v %s", isErr, text)
	}
}
