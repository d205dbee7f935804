package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Oudwins/clipq/internals/credentials"
	"github.com/Oudwins/clipq/internals/metrics"
	"github.com/Oudwins/clipq/internals/schemas"
	"github.com/Oudwins/clipq/internals/taskstore"
)

const (
	ReclaimRetrieved = "retrieved"
	ReclaimExpired   = "expired"
	ReclaimMissing   = "missing"
)

type Artifact struct {
	TaskID string
	Name   string
	Path   string
	Size   int64
}

func (a Artifact) Open() (*os.File, error) {
	return os.Open(a.Path)
}

type Lifecycle struct {
	store       taskstore.Store
	creds       *credentials.Store
	downloadDir string
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

func NewLifecycle(store taskstore.Store, creds *credentials.Store, downloadDir string, logger *slog.Logger, m *metrics.Metrics) *Lifecycle {
	return &Lifecycle{
		store:       store,
		creds:       creds,
		downloadDir: downloadDir,
		logger:      logger,
		metrics:     m,
	}
}

// Retrieve hands the artifact of a complete task to deliver and then
// reclaims the task. Only one retrieval of a task can succeed.
func (l *Lifecycle) Retrieve(ctx context.Context, id string, deliver func(context.Context, Artifact) error) (err error) {
	ctx, span := tracer.Start(ctx, "clipq.lifecycle.retrieve", trace.WithAttributes(attribute.String("clipq.task_id", id)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	task, err := l.store.Mutate(ctx, id, func(task schemas.Task) (schemas.Task, error) {
		switch {
		case task.Status == schemas.TaskStatusRunning:
			return task, fmt.Errorf("%w: %s is still running", schemas.ErrNotReady, id)
		case task.Status == schemas.TaskStatusError:
			return task, fmt.Errorf("%w: %s produced no artifact", schemas.ErrNotFound, id)
		case task.Claimed:
			return task, fmt.Errorf("%w: %s was already retrieved", schemas.ErrNotFound, id)
		}
		task.Claimed = true
		return task, nil
	})
	if err != nil {
		return err
	}

	artifact := Artifact{TaskID: id, Name: task.Result, Path: filepath.Join(l.downloadDir, id, task.Result)}
	info, statErr := os.Stat(artifact.Path)
	if statErr != nil || info.IsDir() {
		l.logger.Error("Artifact missing at retrieval", "task_id", id, "artifact", artifact.Path, "error", statErr)
		l.Reclaim(context.WithoutCancel(ctx), id, ReclaimMissing)
		return fmt.Errorf("%w: %s", schemas.ErrArtifactMissing, task.Result)
	}
	artifact.Size = info.Size()

	if err := deliver(ctx, artifact); err != nil {
		l.release(context.WithoutCancel(ctx), id)
		return fmt.Errorf("failed to deliver artifact of task %s: %w", id, err)
	}
	l.metrics.ArtifactDelivered()
	l.Reclaim(context.WithoutCancel(ctx), id, ReclaimRetrieved)
	return nil
}

// Reclaim deletes the task's output, credentials and record. Each step is
// attempted regardless of the others; failures are only logged. Reclaiming
// an unknown id does nothing.
func (l *Lifecycle) Reclaim(ctx context.Context, id string, reason string) {
	logger := l.logger.With("task_id", id, "reason", reason)

	if dir, err := l.taskDir(id); err != nil {
		logger.Error("Refusing to remove task output", "error", err)
		l.metrics.CleanupFailed("artifact")
	} else if err := os.RemoveAll(dir); err != nil {
		logger.Error("Failed to remove task output", "dir", dir, "error", err)
		l.metrics.CleanupFailed("artifact")
	}

	if err := l.creds.Remove(id); err != nil {
		logger.Error("Failed to remove credentials", "error", err)
		l.metrics.CleanupFailed("credentials")
	}

	if err := l.store.Delete(ctx, id); err != nil {
		logger.Error("Failed to delete task record", "error", err)
		l.metrics.CleanupFailed("record")
	}

	l.metrics.TaskReclaimed(reason)
	logger.Debug("Task reclaimed")
}

func (l *Lifecycle) release(ctx context.Context, id string) {
	_, err := l.store.Mutate(ctx, id, func(task schemas.Task) (schemas.Task, error) {
		task.Claimed = false
		return task, nil
	})
	if err != nil && !errors.Is(err, schemas.ErrNotFound) {
		l.logger.Error("Failed to release artifact claim", "task_id", id, "error", err)
	}
}

func (l *Lifecycle) taskDir(id string) (string, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("invalid task id %q", id)
	}
	return filepath.Join(l.downloadDir, id), nil
}
