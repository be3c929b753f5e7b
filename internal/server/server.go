// Package server exposes the pipeline over HTTP. The wire surface is thin:
// every route decodes JSON, calls the pipeline or store, and encodes the
// result; no business logic lives here.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kolapsis/genie/internal/model"
	"github.com/kolapsis/genie/internal/pipeline"
	"github.com/kolapsis/genie/internal/store"
)

// Server wires the chi router.
type Server struct {
	pipeline   *pipeline.Pipeline
	store      store.Store
	version    string
	components map[string]string
	router     chi.Router
}

// New builds the HTTP server. components is reported verbatim by /health
// (e.g. "llm" → "configured", "calendar" → "offline").
func New(p *pipeline.Pipeline, st store.Store, version string, components map[string]string) *Server {
	s := &Server{
		pipeline:   p,
		store:      st,
		version:    version,
		components: components,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/users/{userID}", func(r chi.Router) {
			r.Post("/utterances", s.handleUtterance)
			r.Get("/tasks", s.handleListTasks)
			r.Get("/recommendation", s.handleRecommendation)
			r.Post("/feedback", s.handleFeedback)
			r.Get("/analytics", s.handleAnalytics)
			r.Get("/export", s.handleExport)
		})
		r.Post("/import", s.handleImport)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Post("/backup", s.handleBackup)
		r.Get("/backups", s.handleListBackups)
		r.Post("/restore", s.handleRestore)
		r.Post("/cleanup", s.handleCleanup)
	})

	s.router = r
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// --- Handlers ---

func (s *Server) handleUtterance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var body struct {
		Utterance string `json:"utterance"`
	}
	if err := decodeJSON(r.Body, &body); err != nil || body.Utterance == "" {
		writeError(w, http.StatusBadRequest, "validation", "utterance is required")
		return
	}

	resp, err := s.pipeline.HandleUtterance(r.Context(), userID, body.Utterance)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	filter := store.TaskFilter{}
	if status := r.URL.Query().Get("status"); status != "" {
		st := model.Status(status)
		if !st.Valid() {
			writeError(w, http.StatusBadRequest, "validation", "unknown status "+status)
			return
		}
		filter.Status = st
	}

	tasks, err := s.store.ListTasks(userID, filter)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleRecommendation(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	rec, err := s.pipeline.Recommendation(r.Context(), userID)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var rec model.Feedback
	if err := decodeJSON(r.Body, &rec); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid feedback payload")
		return
	}

	ack, err := s.pipeline.RecordFeedback(r.Context(), userID, rec)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	analytics, err := s.store.GetAnalytics(userID)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analytics)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	payload, err := s.store.ExportUser(userID)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 10<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "unreadable payload")
		return
	}

	userID, err := s.store.ImportUser(payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": userID})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	info := s.store.Info()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"version":    s.version,
		"time":       time.Now().UTC().Format(time.RFC3339),
		"storage":    info,
		"components": s.components,
	})
}

func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	_ = decodeJSON(r.Body, &body)

	name, err := s.store.CreateBackup(body.Reason)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "io_failure", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"backup": name})
}

func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	backups, err := s.store.ListBackups()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "io_failure", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"backups": backups})
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r.Body, &body); err != nil || body.Name == "" {
		writeError(w, http.StatusBadRequest, "validation", "backup name is required")
		return
	}

	if err := s.store.RestoreBackup(body.Name); err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"restored": body.Name})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Hours int `json:"hours"`
	}
	_ = decodeJSON(r.Body, &body)

	deleted, err := s.pipeline.CleanupCalendar(r.Context(), body.Hours)
	if err != nil {
		writeError(w, http.StatusBadGateway, "external", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

// --- Helpers ---

func decodeJSON(r io.Reader, dst any) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encoding response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]any{
		"ok":      false,
		"kind":    kind,
		"message": message,
	})
}

func writePipelineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation", err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}
