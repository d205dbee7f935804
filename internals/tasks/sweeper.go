package tasks

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Oudwins/clipq/internals/schemas"
	"github.com/Oudwins/clipq/internals/taskstore"
)

// Sweeper reclaims finished tasks nobody retrieved within the TTL.
type Sweeper struct {
	store     taskstore.Store
	lifecycle *Lifecycle
	ttl       time.Duration
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

func NewSweeper(store taskstore.Store, lifecycle *Lifecycle, ttl, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:     store,
		lifecycle: lifecycle,
		ttl:       ttl,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
	}
}

// Run sweeps every interval until ctx is done. A non-positive TTL or
// interval disables sweeping.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.ttl <= 0 || s.interval <= 0 {
		s.logger.Info("Task sweeper disabled")
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("Task sweep failed", "error", err)
			}
		}
	}
}

// Sweep reclaims every expired task once and returns how many it reclaimed.
// A task is claimed under Mutate before anything is removed, so a retrieval
// that claimed it first keeps its artifact and one that comes later sees
// ErrNotFound.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	tasks, err := s.store.List(ctx)
	if err != nil {
		return 0, err
	}
	now := s.now()
	reclaimed := 0
	for _, task := range tasks {
		if !s.expired(task, now) {
			continue
		}
		_, err := s.store.Mutate(ctx, task.ID, func(current schemas.Task) (schemas.Task, error) {
			if !s.expired(current, now) {
				return current, errNotExpired
			}
			current.Claimed = true
			return current, nil
		})
		if errors.Is(err, errNotExpired) || errors.Is(err, schemas.ErrNotFound) {
			continue
		}
		if err != nil {
			s.logger.Error("Failed to claim expired task", "task_id", task.ID, "error", err)
			continue
		}
		s.lifecycle.Reclaim(ctx, task.ID, ReclaimExpired)
		reclaimed++
	}
	if reclaimed > 0 {
		s.logger.Info("Reclaimed expired tasks", "count", reclaimed)
	}
	return reclaimed, nil
}

var errNotExpired = errors.New("task is not expired")

func (s *Sweeper) expired(task schemas.Task, now time.Time) bool {
	if !task.Status.IsTerminal() || task.Claimed || task.FinishedAt.IsZero() {
		return false
	}
	return now.Sub(task.FinishedAt) >= s.ttl
}
