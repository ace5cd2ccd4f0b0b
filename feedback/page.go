package feedback

import (
	"errors"
	"html/template"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/pinpoint/annotation"
	"github.com/hazyhaar/pinpoint/safe"
	"github.com/hazyhaar/pinpoint/shield"
	"github.com/hazyhaar/pinpoint/widget"
)

// commentView is the template-friendly projection of a Record.
type commentView struct {
	Number     int
	ID         string
	Content    string
	Status     string
	URLPath    string
	Selector   string
	Browser    string
	OS         string
	Viewport   string
	CreatedAt  string
	PageURL    string
	SafeURL    bool
	Screenshot template.URL
}

var reviewTmpl = template.Must(template.New("review").Parse(`<!DOCTYPE html>
<html lang="en"><head><meta charset="UTF-8"><meta name="viewport" content="width=device-width,initial-scale=1">
<title>Annotations: {{.Project.Name}}</title>
<style>
body{font-family:system-ui,sans-serif;max-width:960px;margin:2rem auto;padding:0 1rem;color:#222;background:#fafafa}
h1{font-size:1.4rem;border-bottom:2px solid #e0e0e0;padding-bottom:.5rem}
pre{background:#18181b;color:#f4f4f5;padding:1rem;border-radius:6px;overflow-x:auto}
.comment{background:#fff;border:1px solid #e0e0e0;border-radius:6px;padding:1rem;margin-bottom:1rem}
.comment.resolved{opacity:.6}
.num{display:inline-block;width:1.6rem;height:1.6rem;border-radius:50%;background:#ec4899;color:#fff;text-align:center;line-height:1.6rem;font-weight:600}
.meta{font-size:.8rem;color:#666;margin-top:.5rem}
.shot{max-width:100%;border:1px solid #e0e0e0;margin-top:.5rem}
.empty{color:#999;font-style:italic}
</style></head><body>
<h1>{{.Project.Name}} ({{.Open}} open, {{.Resolved}} resolved)</h1>
{{- if .Project.URL}}<p><a href="{{.Project.URL}}" rel="noopener noreferrer">{{.Project.URL}}</a></p>{{end}}
<details><summary>Installation</summary><pre>{{.Install}}</pre></details>
{{- if not .Comments}}
<p class="empty">No annotations yet.</p>
{{- end}}
{{- range .Comments}}
<div class="comment {{.Status}}"><p><span class="num">{{.Number}}</span> {{.Content}}</p>
{{- if .Screenshot}}<img class="shot" alt="screenshot of annotation {{.Number}}" src="{{.Screenshot}}">{{end}}
<div class="meta">{{.Status}} &middot; {{.CreatedAt}} &middot; {{.URLPath}}
{{- if .Selector}} &middot; <code>{{.Selector}}</code>{{end}}
{{- if .Browser}} &middot; {{.Browser}} / {{.OS}}{{end}}
{{- if .Viewport}} &middot; {{.Viewport}}{{end}}
{{- if and .PageURL .SafeURL}} &middot; <a href="{{.PageURL}}">{{.PageURL}}</a>{{end}}
 &middot; <span title="id">{{.ID}}</span></div></div>
{{- end}}
</body></html>`))

func (s *Service) handleReview(w http.ResponseWriter, r *http.Request) {
	log := shield.GetLogger(r.Context())
	p, err := s.store.Project(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		log.Error("feedback: review project", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := checkKey(p, r.URL.Query().Get("key")); err != nil {
		var ae *apiError
		errors.As(err, &ae)
		http.Error(w, ae.msg, ae.status)
		return
	}

	recs, err := s.store.List(r.Context(), p.ID, ListOptions{WithScreenshot: true})
	if err != nil {
		log.Error("feedback: review list", "project_id", p.ID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	views := make([]commentView, len(recs))
	open := 0
	for i, rec := range recs {
		if rec.Status == annotation.StatusOpen {
			open++
		}
		views[i] = commentView{
			Number:    i + 1,
			ID:        rec.ID,
			Content:   rec.Content,
			Status:    string(rec.Status),
			URLPath:   rec.URLPath,
			Selector:  rec.Selector,
			Browser:   rec.Meta.Browser,
			OS:        rec.Meta.OS,
			Viewport:  rec.Meta.Viewport,
			CreatedAt: rec.CreatedAt.Format("2006-01-02 15:04"),
			PageURL:   rec.Meta.URL,
			SafeURL:   rec.Meta.URL != "" && safe.HTTPURL(rec.Meta.URL) == nil,
		}
		// Only well-formed image data URIs reach the src attribute.
		if _, _, err := annotation.ParseDataURI(rec.Screenshot); err == nil {
			views[i].Screenshot = template.URL(rec.Screenshot)
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	err = reviewTmpl.Execute(w, struct {
		Project  Project
		Open     int
		Resolved int
		Install  string
		Comments []commentView
	}{
		Project:  p,
		Open:     open,
		Resolved: len(recs) - open,
		Install:  installSnippet(r, p.ID),
		Comments: views,
	})
	if err != nil {
		log.Warn("feedback: review render", "error", err)
	}
}

func installSnippet(r *http.Request, projectID string) string {
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return `<script src="` + scheme + "://" + r.Host + `/bridge.js" ` +
		widget.ProjectAttr + `="` + projectID + `" defer></script>`
}
