package taskstore

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/Oudwins/clipq/internals/schemas"
)

type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]schemas.Task
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]schemas.Task)}
}

func (s *MemoryStore) Create(ctx context.Context, task schemas.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := task.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; ok {
		return fmt.Errorf("%w: %s", schemas.ErrAlreadyExists, task.ID)
	}
	s.tasks[task.ID] = task.Clone()
	return nil
}

func (s *MemoryStore) Read(ctx context.Context, id string) (schemas.Task, error) {
	if err := ctx.Err(); err != nil {
		return schemas.Task{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return schemas.Task{}, fmt.Errorf("%w: %s", schemas.ErrNotFound, id)
	}
	return task.Clone(), nil
}

func (s *MemoryStore) Mutate(ctx context.Context, id string, fn MutateFunc) (schemas.Task, error) {
	if err := ctx.Err(); err != nil {
		return schemas.Task{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.tasks[id]
	if !ok {
		return schemas.Task{}, fmt.Errorf("%w: %s", schemas.ErrNotFound, id)
	}
	next, err := apply(current, fn)
	if err != nil {
		return schemas.Task{}, err
	}
	s.tasks[id] = next
	return next.Clone(), nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.tasks, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]schemas.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]schemas.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		out = append(out, task.Clone())
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b schemas.Task) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
