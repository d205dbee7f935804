// Package taskstore persists task records. Every implementation guarantees
// that a Read never observes a record mid-write.
package taskstore

import (
	"context"
	"fmt"

	"github.com/Oudwins/clipq/internals/schemas"
)

// MutateFunc receives a private copy of the current record and returns its
// replacement. Returning an error aborts the mutation. It must not call back
// into the store.
type MutateFunc func(current schemas.Task) (schemas.Task, error)

type Store interface {
	Create(ctx context.Context, task schemas.Task) error
	Read(ctx context.Context, id string) (schemas.Task, error)
	Mutate(ctx context.Context, id string, fn MutateFunc) (schemas.Task, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]schemas.Task, error)
	Close() error
}

type BackendID string

const (
	BackendSQLite BackendID = "sqlite"
	BackendMemory BackendID = "memory"
)

func DefaultIDs() []BackendID {
	return []BackendID{BackendSQLite, BackendMemory}
}

// Open returns the backend named by id. path is ignored by the memory backend.
func Open(ctx context.Context, id BackendID, path string) (Store, error) {
	switch id {
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendSQLite, "":
		return NewSQLiteStore(ctx, path)
	default:
		return nil, fmt.Errorf("unknown store backend %q", id)
	}
}

func apply(current schemas.Task, fn MutateFunc) (schemas.Task, error) {
	next, err := fn(current.Clone())
	if err != nil {
		return schemas.Task{}, err
	}
	if err := schemas.CheckTransition(current, next); err != nil {
		return schemas.Task{}, err
	}
	return next.Clone(), nil
}
