package server

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Oudwins/clipq/internals/logbuf"
	"github.com/Oudwins/clipq/internals/tasks"
)

// HandlerTaskArtifact streams the finished file once. A successful download
// reclaims the task, so a second request gets 404.
func (s *Server) HandlerTaskArtifact(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	logger := logbuf.FromContext(r.Context())

	delivered := false
	err := s.Base.Lifecycle.Retrieve(r.Context(), taskID, func(ctx context.Context, artifact tasks.Artifact) error {
		file, err := artifact.Open()
		if err != nil {
			return err
		}
		defer file.Close()

		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": artifact.Name}))
		w.Header().Set("Content-Length", strconv.FormatInt(artifact.Size, 10))
		w.WriteHeader(http.StatusOK)
		delivered = true

		written, err := io.Copy(w, file)
		if err != nil {
			return fmt.Errorf("copy artifact: %w", err)
		}
		if written != artifact.Size {
			return fmt.Errorf("copy artifact: wrote %d of %d bytes", written, artifact.Size)
		}
		return nil
	})
	if err == nil {
		logger.Add(slogTaskID(taskID))
		return
	}
	if delivered {
		logger.Warn("Artifact delivery interrupted", slogErr(err))
		return
	}
	RenderTaskError(w, r, err, "Failed to deliver artifact")
}
