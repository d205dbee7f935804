package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/Oudwins/clipq/internals/credentials"
	"github.com/Oudwins/clipq/internals/metrics"
	"github.com/Oudwins/clipq/internals/schemas"
	"github.com/Oudwins/clipq/internals/taskstore"
)

type Config struct {
	DownloadDir      string
	MaxParallel      int
	FetchTimeout     time.Duration
	ProgressInterval time.Duration
	// Diagnostics adds panic stacks to task logs.
	Diagnostics bool
}

type Manager struct {
	store   taskstore.Store
	fetcher Fetcher
	creds   *credentials.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	cfg     Config
	slots   *semaphore.Weighted
	wg      sync.WaitGroup

	newID func() (string, error)
	now   func() time.Time
}

func NewManager(store taskstore.Store, fetcher Fetcher, creds *credentials.Store, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Manager {
	manager := &Manager{
		store:   store,
		fetcher: fetcher,
		creds:   creds,
		logger:  logger,
		metrics: m,
		cfg:     cfg,
		newID:   newTaskID,
		now:     time.Now,
	}
	if cfg.MaxParallel > 0 {
		manager.slots = semaphore.NewWeighted(int64(cfg.MaxParallel))
	}
	return manager
}

// Start records a new running task and hands it to a worker. The task is
// readable from the store by the time Start returns.
func (m *Manager) Start(ctx context.Context, spec schemas.JobSpec) (string, error) {
	id, err := m.newID()
	if err != nil {
		return "", fmt.Errorf("failed to allocate task id: %w", err)
	}

	task := schemas.NewTask(id, "[queued] "+spec.Source, m.now())
	if err := m.store.Create(ctx, task); err != nil {
		if errors.Is(err, schemas.ErrAlreadyExists) {
			m.logger.Error("Task id collision", "task_id", id)
		}
		return "", fmt.Errorf("failed to create task: %w", err)
	}

	worker := &Worker{
		id:      id,
		spec:    spec,
		store:   m.store,
		fetcher: m.fetcher,
		creds:   m.creds,
		slots:   m.slots,
		cfg:     m.cfg,
		logger:  m.logger,
		metrics: m.metrics,
		now:     m.now,
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		worker.Run(context.WithoutCancel(ctx))
	}()

	m.logger.Info("Task started", "task_id", id, "source", spec.Source)
	return id, nil
}

func (m *Manager) Get(ctx context.Context, id string) (schemas.Task, error) {
	return m.store.Read(ctx, id)
}

// Wait blocks until every started worker has finished or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecoverInterrupted fails tasks left running by a previous process. Call it
// before the first Start.
func (m *Manager) RecoverInterrupted(ctx context.Context) (int, error) {
	tasks, err := m.store.List(ctx)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, task := range tasks {
		if task.Status != schemas.TaskStatusRunning {
			continue
		}
		finishedAt := m.now().UTC()
		_, err := m.store.Mutate(ctx, task.ID, func(task schemas.Task) (schemas.Task, error) {
			if task.Status != schemas.TaskStatusRunning {
				return task, nil
			}
			task.Log = append(task.Log, prefixError+"Interrupted: daemon restarted")
			task.Status = schemas.TaskStatusError
			task.FinishedAt = finishedAt
			return task, nil
		})
		if err != nil {
			m.logger.Error("Failed to recover interrupted task", "task_id", task.ID, "error", err)
			continue
		}
		if err := m.creds.Remove(task.ID); err != nil {
			m.logger.Error("Failed to remove credentials", "task_id", task.ID, "error", err)
		}
		recovered++
	}
	if recovered > 0 {
		m.logger.Warn("Marked interrupted tasks as failed", "count", recovered)
	}
	return recovered, nil
}

func newTaskID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
