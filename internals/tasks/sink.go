package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Oudwins/clipq/internals/schemas"
	"github.com/Oudwins/clipq/internals/taskstore"
)

const (
	prefixDownload = "[download] "
	prefixStage    = "[stage] "
	prefixError    = "[error] "
)

// Sink turns progress events into log lines on one task. Download samples are
// rate limited; the newest sample held back is written before the next stage
// or error line and on Close.
type Sink struct {
	ctx         context.Context
	store       taskstore.Store
	taskID      string
	logger      *slog.Logger
	minInterval time.Duration
	now         func() time.Time

	mu        sync.Mutex
	lastWrite time.Time
	pending   *schemas.ProgressEvent
}

func NewSink(ctx context.Context, store taskstore.Store, taskID string, minInterval time.Duration, logger *slog.Logger) *Sink {
	return &Sink{
		ctx:         ctx,
		store:       store,
		taskID:      taskID,
		logger:      logger,
		minInterval: minInterval,
		now:         time.Now,
	}
}

func (s *Sink) Report(event schemas.ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch event.Kind {
	case schemas.ProgressDownloading:
		now := s.now()
		if s.lastWrite.IsZero() || now.Sub(s.lastWrite) >= s.minInterval || isFinished(event) {
			s.pending = nil
			s.lastWrite = now
			s.append(downloadLine(event))
			return
		}
		held := event
		s.pending = &held
	case schemas.ProgressStageComplete:
		s.flushLocked()
		s.append(prefixStage + event.Message)
	case schemas.ProgressError:
		s.flushLocked()
		s.append(prefixError + event.Message)
	default:
		s.logger.Warn("Dropping progress event of unknown kind", "task_id", s.taskID, "kind", event.Kind)
	}
}

// Close writes any held download sample.
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushLocked()
}

func (s *Sink) flushLocked() {
	if s.pending == nil {
		return
	}
	event := *s.pending
	s.pending = nil
	s.lastWrite = s.now()
	s.append(downloadLine(event))
}

func (s *Sink) append(line string) {
	_, err := s.store.Mutate(s.ctx, s.taskID, func(task schemas.Task) (schemas.Task, error) {
		task.Log = append(task.Log, line)
		return task, nil
	})
	if err != nil {
		s.logger.Error("Failed to append progress line", "task_id", s.taskID, "error", err)
	}
}

func downloadLine(event schemas.ProgressEvent) string {
	if event.Message != "" {
		return prefixDownload + event.Message
	}
	if event.Percent != nil {
		return fmt.Sprintf("%s%.1f%%", prefixDownload, *event.Percent)
	}
	return prefixDownload + "in progress"
}

func isFinished(event schemas.ProgressEvent) bool {
	return event.Percent != nil && *event.Percent >= 100
}
