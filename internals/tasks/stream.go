package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/Oudwins/clipq/internals/metrics"
	"github.com/Oudwins/clipq/internals/schemas"
	"github.com/Oudwins/clipq/internals/taskstore"
)

type StreamConfig struct {
	PollInterval time.Duration
	OpenRetries  uint64
	OpenBackoff  time.Duration
}

func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		PollInterval: 500 * time.Millisecond,
		OpenRetries:  5,
		OpenBackoff:  50 * time.Millisecond,
	}
}

// StreamSession follows one task for one observer. The cursor is local, so
// any number of sessions can follow the same task and each sees the whole log.
type StreamSession struct {
	store   taskstore.Store
	taskID  string
	cfg     StreamConfig
	metrics *metrics.Metrics
	cursor  int
}

func NewStreamSession(store taskstore.Store, taskID string, cfg StreamConfig, m *metrics.Metrics) *StreamSession {
	defaults := DefaultStreamConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.OpenBackoff <= 0 {
		cfg.OpenBackoff = defaults.OpenBackoff
	}
	return &StreamSession{store: store, taskID: taskID, cfg: cfg, metrics: m}
}

// Run emits every log line followed by exactly one done event. It returns
// the first emit error, or ctx.Err() if the observer goes away.
func (s *StreamSession) Run(ctx context.Context, emit func(schemas.StreamEvent) error) error {
	s.metrics.StreamOpened()
	defer s.metrics.StreamClosed()

	task, err := s.open(ctx)
	if errors.Is(err, schemas.ErrNotFound) {
		return emit(schemas.DoneEvent(schemas.OutcomeNotFound, ""))
	}
	if err != nil {
		return err
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if len(task.Log) < s.cursor {
			return fmt.Errorf("log of task %s shrank from %d to %d lines", s.taskID, s.cursor, len(task.Log))
		}
		for _, line := range task.Log[s.cursor:] {
			if err := emit(schemas.LogEvent(line)); err != nil {
				return err
			}
			s.cursor++
		}

		switch task.Status {
		case schemas.TaskStatusComplete:
			return emit(schemas.DoneEvent(schemas.OutcomeComplete, task.Result))
		case schemas.TaskStatusError:
			return emit(schemas.DoneEvent(schemas.OutcomeError, ""))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		task, err = s.store.Read(ctx, s.taskID)
		if errors.Is(err, schemas.ErrNotFound) {
			return emit(schemas.DoneEvent(schemas.OutcomeNotFound, ""))
		}
		if err != nil {
			return err
		}
	}
}

// open absorbs the window where a stream races the Start that created its id.
func (s *StreamSession) open(ctx context.Context) (schemas.Task, error) {
	var task schemas.Task
	backoff := retry.WithMaxRetries(s.cfg.OpenRetries, retry.NewExponential(s.cfg.OpenBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		found, err := s.store.Read(ctx, s.taskID)
		if errors.Is(err, schemas.ErrNotFound) {
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}
		task = found
		return nil
	})
	return task, err
}
