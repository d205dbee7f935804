package taskstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Oudwins/clipq/internals/schemas"
	"github.com/Oudwins/clipq/internals/testutil"
)

type storeFactory func(t *testing.T) Store

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) Store {
			store, err := NewSQLiteStore(context.Background(), testutil.TempDBPath(t))
			if err != nil {
				t.Fatalf("NewSQLiteStore: %v", err)
			}
			t.Cleanup(func() { _ = store.Close() })
			return store
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, store Store)) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func newTask(id string) schemas.Task {
	return schemas.NewTask(id, "[queued] https://example.com/"+id, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
}

func appendLine(line string) MutateFunc {
	return func(task schemas.Task) (schemas.Task, error) {
		task.Log = append(task.Log, line)
		return task, nil
	}
}

func TestCreateAndRead(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		task := newTask("a")
		if err := store.Create(ctx, task); err != nil {
			t.Fatalf("Create: %v", err)
		}
		got, err := store.Read(ctx, "a")
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if diff := cmp.Diff(task, got); diff != "" {
			t.Fatalf("unexpected task (-want +got):\n%s", diff)
		}
	})
}

func TestCreateDuplicate(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		if err := store.Create(ctx, newTask("a")); err != nil {
			t.Fatalf("Create: %v", err)
		}
		err := store.Create(ctx, newTask("a"))
		if !errors.Is(err, schemas.ErrAlreadyExists) {
			t.Fatalf("expected ErrAlreadyExists, got %v", err)
		}
	})
}

func TestReadMissing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store) {
		_, err := store.Read(context.Background(), "missing")
		if !errors.Is(err, schemas.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestMutateMissing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store) {
		_, err := store.Mutate(context.Background(), "missing", appendLine("x"))
		if !errors.Is(err, schemas.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestMutateAppliesAndPersists(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		if err := store.Create(ctx, newTask("a")); err != nil {
			t.Fatalf("Create: %v", err)
		}
		finished := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)
		updated, err := store.Mutate(ctx, "a", func(task schemas.Task) (schemas.Task, error) {
			task.Log = append(task.Log, "[stage] done")
			task.Status = schemas.TaskStatusComplete
			task.Result = "clip.mp4"
			task.FinishedAt = finished
			return task, nil
		})
		if err != nil {
			t.Fatalf("Mutate: %v", err)
		}
		got, err := store.Read(ctx, "a")
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if diff := cmp.Diff(updated, got); diff != "" {
			t.Fatalf("persisted task differs (-returned +read):\n%s", diff)
		}
		if got.Result != "clip.mp4" || got.Status != schemas.TaskStatusComplete {
			t.Fatalf("unexpected task %+v", got)
		}
	})
}

func TestMutateRejectsInvalidTransition(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		if err := store.Create(ctx, newTask("a")); err != nil {
			t.Fatalf("Create: %v", err)
		}
		_, err := store.Mutate(ctx, "a", func(task schemas.Task) (schemas.Task, error) {
			task.Log = nil
			return task, nil
		})
		if !errors.Is(err, schemas.ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
		got, err := store.Read(ctx, "a")
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if len(got.Log) != 1 {
			t.Fatalf("rejected mutation was persisted: %v", got.Log)
		}
	})
}

func TestMutateAbortsOnCallbackError(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		if err := store.Create(ctx, newTask("a")); err != nil {
			t.Fatalf("Create: %v", err)
		}
		boom := errors.New("boom")
		_, err := store.Mutate(ctx, "a", func(task schemas.Task) (schemas.Task, error) {
			task.Log = append(task.Log, "never")
			return task, boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected callback error, got %v", err)
		}
		got, _ := store.Read(ctx, "a")
		if len(got.Log) != 1 {
			t.Fatalf("aborted mutation was persisted: %v", got.Log)
		}
	})
}

func TestDeleteIsIdempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		if err := store.Create(ctx, newTask("a")); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if err := store.Delete(ctx, "a"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if err := store.Delete(ctx, "a"); err != nil {
			t.Fatalf("second Delete: %v", err)
		}
		if _, err := store.Read(ctx, "a"); !errors.Is(err, schemas.ErrNotFound) {
			t.Fatalf("expected ErrNotFound after delete, got %v", err)
		}
	})
}

func TestListOrdersByCreation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		for i, id := range []string{"c", "a", "b"} {
			task := newTask(id)
			task.CreatedAt = task.CreatedAt.Add(time.Duration(i) * time.Second)
			if err := store.Create(ctx, task); err != nil {
				t.Fatalf("Create: %v", err)
			}
		}
		tasks, err := store.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		var ids []string
		for _, task := range tasks {
			ids = append(ids, task.ID)
		}
		if diff := cmp.Diff([]string{"c", "a", "b"}, ids); diff != "" {
			t.Fatalf("unexpected order (-want +got):\n%s", diff)
		}
	})
}

func TestReadReturnsPrivateCopy(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		if err := store.Create(ctx, newTask("a")); err != nil {
			t.Fatalf("Create: %v", err)
		}
		got, _ := store.Read(ctx, "a")
		got.Log[0] = "tampered"
		again, _ := store.Read(ctx, "a")
		if again.Log[0] == "tampered" {
			t.Fatalf("Read leaked internal state")
		}
	})
}

func TestConcurrentReadersSeeConsistentPrefixes(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		if err := store.Create(ctx, newTask("a")); err != nil {
			t.Fatalf("Create: %v", err)
		}

		const lines = 100
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range lines {
				if _, err := store.Mutate(ctx, "a", appendLine(fmt.Sprintf("line %d", i))); err != nil {
					t.Errorf("Mutate: %v", err)
					return
				}
			}
		}()

		errs := make(chan error, 4)
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				var prev []string
				for {
					task, err := store.Read(ctx, "a")
					if err != nil {
						errs <- err
						return
					}
					if len(task.Log) < len(prev) {
						errs <- fmt.Errorf("log shrank from %d to %d", len(prev), len(task.Log))
						return
					}
					if diff := cmp.Diff(prev, task.Log[:len(prev)]); len(prev) > 0 && diff != "" {
						errs <- fmt.Errorf("log prefix changed:\n%s", diff)
						return
					}
					for i, line := range task.Log[1:] {
						if line != fmt.Sprintf("line %d", i) {
							errs <- fmt.Errorf("unexpected line %d: %q", i, line)
							return
						}
					}
					prev = task.Log
					if len(task.Log) == lines+1 {
						return
					}
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatal(err)
		}
	})
}

func TestOpenSelectsBackend(t *testing.T) {
	store, err := Open(context.Background(), BackendMemory, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := store.(*MemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}
	if _, err := Open(context.Background(), "bogus", ""); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}
