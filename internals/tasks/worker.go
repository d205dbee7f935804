package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/Oudwins/clipq/internals/credentials"
	"github.com/Oudwins/clipq/internals/metrics"
	"github.com/Oudwins/clipq/internals/schemas"
	"github.com/Oudwins/clipq/internals/taskstore"
)

type workerState string

const (
	stateInitializing workerState = "initializing"
	stateRunning      workerState = "running"
	stateComplete     workerState = "complete"
	stateError        workerState = "error"
)

const (
	classOperationFailed = "OperationFailed"
	classArtifactMissing = "ArtifactMissing"
	classTimeout         = "Timeout"
	classPanic           = "Panic"
	classSetup           = "SetupFailed"
)

// failure is the classified reason a worker ended in error.
type failure struct {
	class string
	err   error
	stack []byte
}

func (f *failure) Error() string {
	return f.class + ": " + f.err.Error()
}

func (f *failure) Unwrap() error {
	return f.err
}

// Worker runs a single task from dispatch to a terminal status. It is the
// only writer of its task's record.
type Worker struct {
	id      string
	spec    schemas.JobSpec
	store   taskstore.Store
	fetcher Fetcher
	creds   *credentials.Store
	slots   *semaphore.Weighted
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	state workerState
}

// Run never panics and never returns an error; the outcome is recorded on
// the task.
func (w *Worker) Run(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "clipq.worker.run", trace.WithAttributes(
		attribute.String("clipq.task_id", w.id),
		attribute.String("clipq.format_id", w.spec.FormatID),
	))
	defer span.End()

	w.metrics.TaskStarted()
	var fetchTime time.Duration
	defer func() {
		if err := w.creds.Remove(w.id); err != nil {
			w.logger.Error("Failed to remove credentials", "task_id", w.id, "error", err)
			w.metrics.CleanupFailed("credentials")
		}
		w.metrics.TaskFinished(string(w.state), fetchTime)
	}()

	sink := NewSink(ctx, w.store, w.id, w.cfg.ProgressInterval, w.logger)
	sink.now = w.now
	artifact, fail := w.execute(ctx, sink, &fetchTime)
	sink.Close()

	if fail != nil {
		span.RecordError(fail)
		span.SetStatus(codes.Error, fail.class)
	}
	w.finish(context.WithoutCancel(ctx), artifact, fail)
}

func (w *Worker) execute(ctx context.Context, sink *Sink, fetchTime *time.Duration) (artifact string, fail *failure) {
	defer func() {
		if recovered := recover(); recovered != nil {
			fail = &failure{class: classPanic, err: fmt.Errorf("%v", recovered), stack: debug.Stack()}
		}
	}()

	w.state = stateInitializing
	if w.slots != nil {
		if !w.slots.TryAcquire(1) {
			w.note(ctx, "[queued] waiting for a free download slot")
			if err := w.slots.Acquire(ctx, 1); err != nil {
				return "", &failure{class: classSetup, err: err}
			}
		}
		defer w.slots.Release(1)
	}

	outputDir := filepath.Join(w.cfg.DownloadDir, w.id)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", &failure{class: classSetup, err: err}
	}
	req := schemas.FetchRequest{
		TaskID:    w.id,
		Source:    w.spec.Source,
		FormatID:  w.spec.FormatID,
		OutputDir: outputDir,
		Filename:  w.spec.Filename,
	}
	if w.spec.Cookies != "" {
		path, err := w.creds.Write(w.id, w.spec.Cookies)
		if err != nil {
			return "", &failure{class: classSetup, err: err}
		}
		req.CookieFile = path
	}

	w.state = stateRunning
	w.logger.Debug("Worker running", "task_id", w.id, "source", w.spec.Source)
	fetchCtx := ctx
	if w.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, w.cfg.FetchTimeout)
		defer cancel()
	}

	start := w.now()
	name, err := w.fetcher.Fetch(fetchCtx, req, sink.Report)
	*fetchTime = w.now().Sub(start)
	if err != nil {
		if errors.Is(fetchCtx.Err(), context.DeadlineExceeded) {
			return "", &failure{class: classTimeout, err: fmt.Errorf("no result after %s: %w", w.cfg.FetchTimeout, err)}
		}
		return "", &failure{class: classOperationFailed, err: err}
	}

	name = filepath.Base(filepath.Clean(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "", &failure{class: classArtifactMissing, err: errors.New("fetcher returned no artifact name")}
	}
	info, err := os.Stat(filepath.Join(outputDir, name))
	if err != nil || info.IsDir() {
		w.logger.Warn("Fetcher reported success but artifact is missing", "task_id", w.id, "artifact", name, "error", err)
		return "", &failure{class: classArtifactMissing, err: fmt.Errorf("%s not found in task output", name)}
	}
	return name, nil
}

// finish performs the terminal mutation. A task must not stay running after
// its worker exits: when the outcome cannot be stored it is marked error.
func (w *Worker) finish(ctx context.Context, artifact string, fail *failure) {
	finishedAt := w.now().UTC()
	err := retry.Do(ctx, finishBackoff(), func(ctx context.Context) error {
		_, err := w.store.Mutate(ctx, w.id, func(task schemas.Task) (schemas.Task, error) {
			if fail != nil {
				task.Log = append(task.Log, diagnosticLine(fail, w.cfg.Diagnostics))
				task.Status = schemas.TaskStatusError
			} else {
				task.Status = schemas.TaskStatusComplete
				task.Result = artifact
			}
			task.FinishedAt = finishedAt
			return task, nil
		})
		if err == nil || errors.Is(err, schemas.ErrNotFound) || errors.Is(err, schemas.ErrInvalidTransition) {
			return err
		}
		return retry.RetryableError(err)
	})
	if err != nil && !errors.Is(err, schemas.ErrNotFound) {
		w.logger.Error("Failed to record task outcome", "task_id", w.id, "error", err)
		if status := w.markError(ctx, finishedAt); status != schemas.TaskStatusComplete && fail == nil {
			fail = &failure{class: classOperationFailed, err: fmt.Errorf("outcome not recorded: %w", err)}
		}
	}

	if fail != nil {
		w.state = stateError
		w.logger.Error("Task failed", "task_id", w.id, "class", fail.class, "error", fail.err)
		return
	}
	w.state = stateComplete
	w.logger.Info("Task complete", "task_id", w.id, "artifact", artifact)
}

// markError is the last-resort terminal write: status only, no log line.
func (w *Worker) markError(ctx context.Context, finishedAt time.Time) schemas.TaskStatus {
	task, err := w.store.Mutate(ctx, w.id, func(task schemas.Task) (schemas.Task, error) {
		if task.Status.IsTerminal() {
			return task, nil
		}
		task.Status = schemas.TaskStatusError
		task.Result = ""
		task.FinishedAt = finishedAt
		return task, nil
	})
	if err != nil {
		w.logger.Error("Failed to mark task as failed", "task_id", w.id, "error", err)
		return ""
	}
	return task.Status
}

func finishBackoff() retry.Backoff {
	return retry.WithMaxRetries(4, retry.NewExponential(25*time.Millisecond))
}

func (w *Worker) note(ctx context.Context, line string) {
	_, err := w.store.Mutate(ctx, w.id, func(task schemas.Task) (schemas.Task, error) {
		task.Log = append(task.Log, line)
		return task, nil
	})
	if err != nil {
		w.logger.Error("Failed to append task line", "task_id", w.id, "error", err)
	}
}

func diagnosticLine(fail *failure, verbose bool) string {
	line := prefixError + fail.class + ": " + fail.err.Error()
	if verbose && len(fail.stack) > 0 {
		line += "\n" + string(fail.stack)
	}
	return line
}
