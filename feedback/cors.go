package feedback

import (
	"net/http"

	"github.com/hazyhaar/pinpoint/safe"
)

const (
	collectionMethods = "GET, POST, OPTIONS"
	collectionHeaders = "Content-Type, x-project-id"
	statusMethods     = "PATCH, OPTIONS"
	statusHeaders     = "Content-Type, x-api-key"
)

// originAllowed reports whether a browser origin may write to a project.
// Requests without an Origin header do not come from a browser page and
// are accepted.
func (s *Service) originAllowed(origin, projectURL string) bool {
	if origin == "" {
		return true
	}
	if s.dev && safe.IsLoopback(origin) {
		return true
	}
	return safe.SameHost(origin, projectURL)
}

// refererAllowed applies the same host rule to the Referer header. A
// loopback referer is accepted; in dev mode a mismatch is only logged.
func (s *Service) refererAllowed(ref, projectURL string) bool {
	if ref == "" || projectURL == "" || safe.IsLoopback(ref) || safe.SameHost(ref, projectURL) {
		return true
	}
	if s.dev {
		s.logger.Warn("feedback: referer mismatch", "referer", ref, "project_url", projectURL)
		return true
	}
	return false
}

// setCORS writes the CORS headers for a request. projectURL is empty when
// the project is unknown, which echoes no origin.
func (s *Service) setCORS(w http.ResponseWriter, r *http.Request, projectURL, methods, headers string) {
	origin := r.Header.Get("Origin")
	allow := ""
	if origin != "" && ((s.dev && safe.IsLoopback(origin)) || (projectURL != "" && safe.SameHost(origin, projectURL))) {
		allow = origin
	}
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", allow)
	h.Set("Access-Control-Allow-Methods", methods)
	h.Set("Access-Control-Allow-Headers", headers)
	h.Add("Vary", "Origin")
}

// preflight answers OPTIONS permissively; the real request is checked.
func preflight(methods, headers string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Methods", methods)
		h.Set("Access-Control-Allow-Headers", headers)
		h.Add("Vary", "Origin")
		writeJSON(w, http.StatusOK, map[string]any{})
	}
}
