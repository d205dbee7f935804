package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Oudwins/clipq/internals/logbuf"
	"github.com/Oudwins/clipq/internals/schemas"
	"github.com/Oudwins/clipq/internals/tasks"
)

// HandlerTaskStream replays the task log as server-sent events and finishes
// with a single done event. Unknown tasks still get a 200 and a done event
// with outcome not_found.
func (s *Server) HandlerTaskStream(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	logger := logbuf.FromContext(r.Context())
	controller := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_ = controller.Flush()

	session := tasks.NewStreamSession(s.Base.Store, taskID, s.Base.Stream, s.Base.Metrics)
	err := session.Run(r.Context(), func(event schemas.StreamEvent) error {
		if err := writeStreamEvent(w, event); err != nil {
			return err
		}
		return controller.Flush()
	})
	if err != nil && !errors.Is(err, r.Context().Err()) {
		logger.Warn("Stream ended early", slogErr(err))
	}
}

func writeStreamEvent(w io.Writer, event schemas.StreamEvent) error {
	switch event.Kind {
	case schemas.StreamEventLog:
		return writeSSE(w, string(schemas.StreamEventLog), event.Line)
	case schemas.StreamEventDone:
		data, err := json.Marshal(event.Done)
		if err != nil {
			return err
		}
		return writeSSE(w, string(schemas.StreamEventDone), string(data))
	default:
		return fmt.Errorf("unknown stream event %q", event.Kind)
	}
}

// writeSSE frames one event. Embedded newlines become extra data lines.
func writeSSE(w io.Writer, event string, data string) error {
	var b strings.Builder
	b.WriteString("event: ")
	b.WriteString(event)
	b.WriteByte('\n')
	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	_, err := io.WriteString(w, b.String())
	return err
}
