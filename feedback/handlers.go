package feedback

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/pinpoint/annotation"
	"github.com/hazyhaar/pinpoint/shield"
)

// maxSubmitBody fits a maximum-size screenshot plus the other fields.
const maxSubmitBody = annotation.MaxScreenshotSize + annotation.MaxContentLength*4 + 64*1024

// Routes registers the service routes on r.
func (s *Service) Routes(r chi.Router) {
	r.Options("/api/feedback", preflight(collectionMethods, collectionHeaders))
	r.Get("/api/feedback", s.handleList)
	r.Post("/api/feedback", s.handleSubmit)
	r.Options("/api/feedback/{id}/status", preflight(statusMethods, statusHeaders))
	r.Patch("/api/feedback/{id}/status", s.handleSetStatus)
	r.Get("/projects/{id}", s.handleReview)
	r.Get("/bridge.js", s.handleBridgeJS)
}

// Handler returns a chi router serving only the service routes.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	s.Routes(r)
	return r
}

type submitRequest struct {
	ProjectID  string          `json:"project_id"`
	Content    string          `json:"content"`
	Selector   string          `json:"selector"`
	URLPath    string          `json:"url_path"`
	Meta       json.RawMessage `json:"meta"`
	Screenshot string          `json:"screenshot_base64"`
}

func (s *Service) handleSubmit(w http.ResponseWriter, r *http.Request) {
	log := shield.GetLogger(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, maxSubmitBody)

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.setCORS(w, r, "", collectionMethods, collectionHeaders)
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			jsonErr(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		jsonErr(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sub, err := validateSubmission(&req)
	if err != nil {
		s.setCORS(w, r, "", collectionMethods, collectionHeaders)
		writeErr(w, err)
		return
	}
	sub.origin = r.Header.Get("Origin")
	sub.ref = r.Header.Get("Referer")

	p, err := s.project(r.Context(), req.ProjectID)
	if err != nil {
		s.setCORS(w, r, "", collectionMethods, collectionHeaders)
		writeErr(w, err)
		return
	}
	s.setCORS(w, r, p.URL, collectionMethods, collectionHeaders)

	id, err := s.create(r.Context(), p, sub)
	if err != nil {
		log.Debug("feedback: submit rejected", "project_id", p.ID, "error", err)
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "id": id})
}

// validateSubmission checks fields in the order clients rely on for
// error messages and builds the record to store.
func validateSubmission(req *submitRequest) (*submission, error) {
	if req.ProjectID == "" {
		return nil, errProjectRequired
	}
	content, err := annotation.SanitizeContent(req.Content)
	if err != nil {
		return nil, errStatus(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.URLPath) == "" {
		return nil, errStatus(http.StatusBadRequest, "url_path is required")
	}
	if len(req.Screenshot) > annotation.MaxScreenshotSize {
		return nil, errStatus(http.StatusBadRequest,
			fmt.Sprintf("screenshot exceeds maximum size of %dKB", annotation.MaxScreenshotSize/1024))
	}
	if req.Screenshot != "" {
		if _, _, err := annotation.ParseDataURI(req.Screenshot); err != nil {
			return nil, errStatus(http.StatusBadRequest, "screenshot must be a base64 image data URI")
		}
	}
	return &submission{rec: annotation.Record{
		ProjectID:  req.ProjectID,
		URLPath:    annotation.Truncate(req.URLPath, annotation.MaxURLPathLength),
		Selector:   annotation.Truncate(req.Selector, annotation.MaxSelectorLength),
		Content:    content,
		Status:     annotation.StatusOpen,
		Meta:       annotation.SanitizeMeta(req.Meta),
		Screenshot: req.Screenshot,
	}}, nil
}

func (s *Service) handleList(w http.ResponseWriter, r *http.Request) {
	p, err := s.project(r.Context(), r.URL.Query().Get("project_id"))
	if err != nil {
		s.setCORS(w, r, "", collectionMethods, collectionHeaders)
		writeErr(w, err)
		return
	}
	s.setCORS(w, r, p.URL, collectionMethods, collectionHeaders)

	recs, err := s.listOpen(r.Context(), p.ID)
	if err != nil {
		writeErr(w, err)
		return
	}
	// Content stays with the project owner; pins only need positions.
	out := make([]annotation.Record, len(recs))
	for i, rec := range recs {
		rec.Content = ""
		out[i] = rec
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "comments": out})
}

func (s *Service) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	s.setCORS(w, r, "", statusMethods, statusHeaders)
	id := chi.URLParam(r, "id")

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		jsonErr(w, "invalid request body", http.StatusBadRequest)
		return
	}
	status, err := annotation.ParseStatus(req.Status)
	if err != nil {
		jsonErr(w, "status must be open or resolved", http.StatusBadRequest)
		return
	}
	if err := s.setStatus(r.Context(), id, status, r.Header.Get("X-Api-Key")); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": id, "status": status})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonErr(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]any{"success": false, "error": msg})
}

// writeErr maps err to its client status; anything unexpected is a 500
// without details.
func writeErr(w http.ResponseWriter, err error) {
	var ae *apiError
	if errors.As(err, &ae) {
		jsonErr(w, ae.msg, ae.status)
		return
	}
	jsonErr(w, "Internal server error", http.StatusInternalServerError)
}
