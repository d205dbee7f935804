package server

import (
	"context"
	"encoding/json"
	"net/http"

	z "github.com/Oudwins/zog"
	"github.com/go-chi/chi/v5"

	"github.com/Oudwins/clipq/internals/logbuf"
	"github.com/Oudwins/clipq/internals/schemas"
	"github.com/Oudwins/clipq/internals/timeouts"
)

func (s *Server) HandlerVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(s.Base.Config.Version))
}

func (s *Server) HandlerShutdown(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("shutting down"))

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeouts.Drain+timeouts.SecondShort)
		defer cancel()
		if err := s.Shutdown(ctx); err != nil {
			s.Logger.Error("shutdown failed", "error", err)
		}
	}()
}

func (s *Server) HandlerCreateTask(w http.ResponseWriter, r *http.Request) {
	logger := logbuf.FromContext(r.Context())

	var request schemas.TaskCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeInvalidJson, "Invalid JSON", nil), Render.Status(http.StatusBadRequest))
		return
	}
	if issues := schemas.TaskCreateSchema.Validate(&request); len(issues) > 0 {
		payload := JsonResponseError(JsonResponseErrorCodeValidationFailed, "Schema validation failed", z.Issues.Flatten(issues))
		RenderJSON(w, r, payload, Render.Status(http.StatusBadRequest))
		return
	}

	id, err := s.Base.Tasks.Start(r.Context(), request.JobSpec())
	if err != nil {
		logger.Error("Failed to start task", slogErr(err))
		RenderJSON(w, r, JsonResponseError(JsonResponseErroCodeInternal, "Failed to start task", nil), Render.Status(http.StatusInternalServerError))
		return
	}
	logger.Add(slogTaskID(id))
	RenderJSON(w, r, schemas.TaskCreateResponse{TaskID: id}, Render.Status(http.StatusAccepted))
}

func (s *Server) HandlerTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	task, err := s.Base.Tasks.Get(r.Context(), taskID)
	if err != nil {
		RenderTaskError(w, r, err, "Failed to read task status")
		return
	}
	RenderJSON(w, r, task.Response())
}
