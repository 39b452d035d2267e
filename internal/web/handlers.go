package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/JonMunkholm/dropzone/internal/core"
	"github.com/JonMunkholm/dropzone/internal/logging"
	"github.com/go-chi/chi/v5"
)

// HealthResponse is returned by /healthz.
type HealthResponse struct {
	Status     string              `json:"status"`
	Store      string              `json:"store"`
	Ingestions *core.LimiterStatus `json:"ingestions,omitempty"`
	Jobs       int                 `json:"jobs"`
}

// handleHealth reports store connectivity and slot usage.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Store: "ok"}
	if s.deps.Limiter != nil {
		st := s.deps.Limiter.Status()
		resp.Ingestions = &st
	}
	if s.deps.Jobs != nil {
		for _, j := range s.deps.Jobs.List() {
			if !j.Done {
				resp.Jobs++
			}
		}
	}

	status := http.StatusOK
	if s.deps.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := s.deps.Store.Ping(ctx); err != nil {
			logging.FromContext(r.Context()).Warn("health check failed", "error", err)
			resp.Status = "degraded"
			resp.Store = core.MapError(err).Message
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

// handleListJobs returns running and recently finished jobs.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Jobs.List())
}

// handleJobStatus returns one job without blocking.
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Jobs.GetStatus(chi.URLParam(r, "key"))
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// CancelResponse is returned by the cancel endpoint.
type CancelResponse struct {
	Key             string `json:"key"`
	CancelRequested bool   `json:"cancelRequested"`
}

// handleCancelJob asks a job to stop at its next batch boundary.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	logger := logging.FromContext(r.Context())

	if !s.deps.Jobs.RequestCancel(key) {
		if _, err := s.deps.Jobs.GetStatus(key); err != nil {
			respondError(w, r, err, statusFor(err))
			return
		}
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   "job already finished",
			Message: "The ingestion has already finished",
			Code:    "JOB006",
		})
		return
	}

	logger.Info("cancel requested", "job", key)
	writeJSON(w, http.StatusAccepted, CancelResponse{Key: key, CancelRequested: true})
}

// handleJobEvents streams status updates as server-sent events until the
// job finishes or the client goes away.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	updates, err := s.deps.Jobs.Subscribe(chi.URLParam(r, "key"))
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, r, errors.New("streaming not supported"), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// a stream lasts as long as its job, not one write timeout
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		logging.FromContext(r.Context()).Debug("clearing write deadline failed", "error", err)
	}

	for {
		select {
		case st, ok := <-updates:
			if !ok {
				fmt.Fprintf(w, "event: complete\ndata: {}\n\n")
				flusher.Flush()
				return
			}
			data, _ := json.Marshal(st)
			fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// handleListBackups returns the snapshot versions of a table.
func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	t := core.TableRef{Schema: chi.URLParam(r, "schema"), Name: chi.URLParam(r, "table")}

	versions, err := s.deps.Backups.ListVersions(r.Context(), t)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	if versions == nil {
		versions = []core.BackupVersion{}
	}
	writeJSON(w, http.StatusOK, versions)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrJobNotFound), errors.Is(err, core.ErrVersionNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInvalidIdentifier):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrConnection):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
