package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hegna/taskcore/internal/resilience"
	"github.com/hegna/taskcore/internal/store"
	"github.com/hegna/taskcore/internal/task"
	"github.com/hegna/taskcore/internal/worker"
)

// submitRequest is the body of POST /tasks. With defer set the task is
// only recorded; the caller is expected to open the stream endpoint.
type submitRequest struct {
	ContextID string `json:"context_id,omitempty"`
	Input     string `json:"input"`
	Defer     bool   `json:"defer,omitempty"`
}

type inputRequest struct {
	Input string `json:"input"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleSubmit creates a task and, unless deferred, runs it to rest.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Input == "" {
		writeError(w, http.StatusBadRequest, errors.New("input is required"))
		return
	}

	input := task.TextMessage(task.RoleUser, req.Input)

	if req.Defer {
		t, err := s.handlers.CreateTask(r.Context(), req.ContextID, input)
		if err != nil {
			writeTaskError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, t)
		return
	}

	t, err := s.handlers.SubmitTask(r.Context(), req.ContextID, input)
	if err != nil {
		// An execution error still carries the persisted failed task.
		var execErr *worker.ExecutionError
		if errors.As(err, &execErr) && t != nil {
			writeJSON(w, http.StatusOK, t)
			return
		}
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleGet returns the task record.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	t, err := s.handlers.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleInput continues a task waiting in input-required.
func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	var req inputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Input == "" {
		writeError(w, http.StatusBadRequest, errors.New("input is required"))
		return
	}

	t, err := s.handlers.ContinueTask(r.Context(), r.PathValue("id"), task.TextMessage(task.RoleUser, req.Input))
	if err != nil {
		var execErr *worker.ExecutionError
		if errors.As(err, &execErr) && t != nil {
			writeJSON(w, http.StatusOK, t)
			return
		}
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	t, err := s.handlers.CancelTask(r.Context(), r.PathValue("id"))
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	t, err := s.handlers.PauseTask(r.Context(), r.PathValue("id"))
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	t, err := s.handlers.ResumeTask(r.Context(), r.PathValue("id"))
	if err != nil {
		var execErr *worker.ExecutionError
		if errors.As(err, &execErr) && t != nil {
			writeJSON(w, http.StatusOK, t)
			return
		}
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleStream executes a startable task and relays its events over SSE.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	events, err := s.handlers.StreamTask(r.Context(), r.PathValue("id"))
	if err != nil {
		writeTaskError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for event := range events {
		name := "status"
		if _, ok := event.(worker.ArtifactEvent); ok {
			name = "artifact"
		}
		data, err := json.Marshal(event)
		if err != nil {
			slog.Error("failed to encode stream event", "error", err)
			return
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
		flusher.Flush()
	}
}

// writeTaskError maps domain errors onto HTTP status codes.
func writeTaskError(w http.ResponseWriter, err error) {
	var (
		openErr       *resilience.OpenError
		transitionErr *task.TransitionError
		pauseErr      *task.NotPausableError
		resumeErr     *task.NotResumableError
		cancelErr     *task.NotCancelableError
		startErr      *task.NotStartableError
	)

	switch {
	case errors.Is(err, store.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.As(err, &openErr):
		if secs := int(openErr.RetryAfter.Seconds()); secs > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
		writeError(w, http.StatusServiceUnavailable, err)
	case errors.As(err, &transitionErr),
		errors.As(err, &pauseErr),
		errors.As(err, &resumeErr),
		errors.As(err, &cancelErr),
		errors.As(err, &startErr):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	if status >= 500 {
		slog.Error("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
