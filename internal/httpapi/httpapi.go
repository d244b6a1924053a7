// Package httpapi is the HTTP surface of the service: export jobs, mapping
// CRUD, value suggestions and a health check.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"pimbridge/internal/catalog"
	"pimbridge/internal/coordinator"
	"pimbridge/internal/errs"
	"pimbridge/internal/jobs"
	"pimbridge/internal/mapping"
	"pimbridge/internal/metrics"
	"pimbridge/internal/similarity"

	"github.com/go-chi/chi/v5"
)

// Logger is the minimal logging interface. *log.Logger satisfies it.
type Logger interface {
	Printf(format string, v ...any)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// Server holds the handlers' collaborators.
type Server struct {
	Coordinator *coordinator.Coordinator
	Mappings    *mapping.Resolver
	// Vocabulary is optional; without it suggestions need explicit options.
	Vocabulary catalog.Vocabulary
	Logger     Logger

	// ListLimit caps GET /api/exports. Defaults to 50.
	ListLimit int
}

func (s *Server) logf(format string, v ...any) {
	if s.Logger == nil {
		log.New(discardWriter{}, "", 0).Printf(format, v...)
		return
	}
	s.Logger.Printf(format, v...)
}

// Handler returns the router with access logging and request metrics.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.accessLog)
	s.RegisterHandlers(r)
	return r
}

// RegisterHandlers registers the api handlers for their respective routes.
func (s *Server) RegisterHandlers(r chi.Router) {
	r.Get("/healthz", s.healthzHandler)

	r.Post("/api/exports", s.createExportHandler)
	r.Get("/api/exports", s.listExportsHandler)
	r.Get("/api/exports/{id}", s.exportStatusHandler)
	r.Post("/api/exports/{id}/cancel", s.cancelExportHandler)
	r.Get("/api/exports/{id}/download", s.downloadHandler)

	r.Get("/api/mappings/attributes", s.listAttributeMappingsHandler)
	r.Post("/api/mappings/attributes", s.saveAttributeMappingHandler)
	r.Delete("/api/mappings/attributes/{id:[0-9]+}", s.deleteAttributeMappingHandler)
	r.Get("/api/mappings/values", s.listValueMappingsHandler)
	r.Post("/api/mappings/values", s.saveValueMappingHandler)
	r.Delete("/api/mappings/values/{id:[0-9]+}", s.deleteValueMappingHandler)

	r.Post("/api/suggestions", s.suggestionsHandler)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		d := time.Since(start)
		metrics.RecordHTTP(rec.status, d)
		s.logf("http: method=%s path=%s status=%d duration=%s", r.Method, r.URL.Path, rec.status, d.Truncate(time.Microsecond))
	})
}

// errorResponse is the JSON body of every error reply.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrPreconditionFailed):
		return http.StatusPreconditionFailed
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrNotReady):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) reportError(w http.ResponseWriter, err error, message string) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.logf("http: %s: %v", message, err)
	}
	writeJSON(w, code, errorResponse{Error: err.Error(), Message: message})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("http: failed to write JSON response: %s", err)
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request body: %v: %w", err, errs.ErrValidation)
	}
	return nil
}

func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateExportRequest is the body of POST /api/exports. Scope is "all" or a
// list of record ids.
type CreateExportRequest struct {
	Format string     `json:"format"`
	Scope  jobs.Scope `json:"scope"`
}

// CreateExportResponse is returned with 202 Accepted.
type CreateExportResponse struct {
	JobID string `json:"jobId"`
}

func (s *Server) createExportHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateExportRequest
	if err := decodeJSON(r, &req); err != nil {
		s.reportError(w, err, "Invalid export request.")
		return
	}

	id, err := s.Coordinator.CreateJob(r.Context(), req.Format, req.Scope)
	if err != nil {
		s.reportError(w, err, "Failed to create export job.")
		return
	}
	writeJSON(w, http.StatusAccepted, CreateExportResponse{JobID: id})
}

func (s *Server) listExportsHandler(w http.ResponseWriter, r *http.Request) {
	limit := s.ListLimit
	if limit <= 0 {
		limit = 50
	}
	views, err := s.Coordinator.List(r.Context(), limit)
	if err != nil {
		s.reportError(w, err, "Failed to list export jobs.")
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func isTruthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func (s *Server) exportStatusHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var (
		v   coordinator.StatusView
		err error
	)
	if isTruthy(r.URL.Query().Get("cancel")) {
		v, err = s.Coordinator.Cancel(r.Context(), id)
	} else {
		v, err = s.Coordinator.Status(r.Context(), id)
	}
	if err != nil {
		s.reportError(w, err, "Failed to get export status.")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) cancelExportHandler(w http.ResponseWriter, r *http.Request) {
	v, err := s.Coordinator.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.reportError(w, err, "Failed to cancel export.")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) downloadHandler(w http.ResponseWriter, r *http.Request) {
	a, err := s.Coordinator.Artifact(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.reportError(w, err, "Export file is not available.")
		return
	}
	f, err := os.Open(a.Path)
	if err != nil {
		s.reportError(w, fmt.Errorf("open artifact: %v: %w", err, errs.ErrNotFound), "Export file is not available.")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", a.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", a.Filename))
	http.ServeContent(w, r, a.Filename, a.ModTime, f)
}

func pageQuery(r *http.Request) mapping.Query {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	return mapping.Query{
		Search:          q.Get("search"),
		OriginAttribute: q.Get("attribute"),
		Page:            page,
		PerPage:         perPage,
	}.Normalize()
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad id: %v: %w", err, errs.ErrValidation)
	}
	return id, nil
}

func (s *Server) listAttributeMappingsHandler(w http.ResponseWriter, r *http.Request) {
	p, err := s.Mappings.ListAttributeMappings(r.Context(), pageQuery(r))
	if err != nil {
		s.reportError(w, err, "Failed to list attribute mappings.")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) saveAttributeMappingHandler(w http.ResponseWriter, r *http.Request) {
	var m mapping.AttributeMapping
	if err := decodeJSON(r, &m); err != nil {
		s.reportError(w, err, "Failed to decode attribute mapping.")
		return
	}
	saved, err := s.Mappings.SaveAttributeMapping(r.Context(), m)
	if err != nil {
		s.reportError(w, err, "Failed to save attribute mapping.")
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) deleteAttributeMappingHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.reportError(w, err, "Failed to parse mapping id.")
		return
	}
	if err := s.Mappings.DeleteAttributeMapping(r.Context(), id); err != nil {
		s.reportError(w, err, "Failed to delete attribute mapping.")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listValueMappingsHandler(w http.ResponseWriter, r *http.Request) {
	p, err := s.Mappings.ListValueMappings(r.Context(), pageQuery(r))
	if err != nil {
		s.reportError(w, err, "Failed to list value mappings.")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) saveValueMappingHandler(w http.ResponseWriter, r *http.Request) {
	var in mapping.ValueMappingInput
	if err := decodeJSON(r, &in); err != nil {
		s.reportError(w, err, "Failed to decode value mapping.")
		return
	}
	saved, err := s.Mappings.SaveValueMapping(r.Context(), in)
	if err != nil {
		s.reportError(w, err, "Failed to save value mapping.")
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) deleteValueMappingHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.reportError(w, err, "Failed to parse mapping id.")
		return
	}
	if err := s.Mappings.DeleteValueMapping(r.Context(), id); err != nil {
		s.reportError(w, err, "Failed to delete value mapping.")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SuggestionsRequest asks for destination candidates for one origin value.
// Options, when given, are ranked as is; otherwise the options of
// AttributeCode are loaded from the vocabulary.
type SuggestionsRequest struct {
	Value         string              `json:"value"`
	Options       []similarity.Option `json:"options"`
	AttributeCode string              `json:"attributeCode"`
}

// SuggestionsResponse never carries null lists.
type SuggestionsResponse struct {
	Recommended similarity.CandidateList `json:"recommended"`
	Others      similarity.CandidateList `json:"others"`
}

func (s *Server) suggestionsHandler(w http.ResponseWriter, r *http.Request) {
	var req SuggestionsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.reportError(w, err, "Failed to decode suggestions request.")
		return
	}
	opts, err := s.suggestionOptions(r.Context(), req)
	if err != nil {
		s.reportError(w, err, "Failed to load destination options.")
		return
	}

	rk := similarity.Rank(req.Value, opts)
	resp := SuggestionsResponse{Recommended: rk.Recommended, Others: rk.Others}
	if resp.Recommended == nil {
		resp.Recommended = similarity.CandidateList{}
	}
	if resp.Others == nil {
		resp.Others = similarity.CandidateList{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) suggestionOptions(ctx context.Context, req SuggestionsRequest) ([]similarity.Option, error) {
	if len(req.Options) > 0 {
		return req.Options, nil
	}
	if req.AttributeCode == "" {
		return nil, fmt.Errorf("options or attributeCode is required: %w", errs.ErrValidation)
	}
	if s.Vocabulary == nil {
		return nil, fmt.Errorf("no destination vocabulary configured: %w", errs.ErrValidation)
	}
	return s.Vocabulary.ListOptions(ctx, req.AttributeCode)
}
