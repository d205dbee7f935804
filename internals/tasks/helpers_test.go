package tasks

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Oudwins/clipq/internals/credentials"
	"github.com/Oudwins/clipq/internals/metrics"
	"github.com/Oudwins/clipq/internals/schemas"
	"github.com/Oudwins/clipq/internals/taskstore"
	"github.com/Oudwins/clipq/internals/testutil"
)

type testEnv struct {
	store     taskstore.Store
	creds     *credentials.Store
	manager   *Manager
	lifecycle *Lifecycle
	metrics   *metrics.Metrics
	dir       string
}

type storeFactory func(t *testing.T) taskstore.Store

func memoryStore(t *testing.T) taskstore.Store {
	return taskstore.NewMemoryStore()
}

func sqliteStore(t *testing.T) taskstore.Store {
	t.Helper()
	store, err := taskstore.NewSQLiteStore(context.Background(), testutil.TempDBPath(t))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": memoryStore,
		"sqlite": sqliteStore,
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, open storeFactory)) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			fn(t, open)
		})
	}
}

func newTestEnv(t *testing.T, fetcher Fetcher, mutate ...func(*Config)) *testEnv {
	t.Helper()
	return newTestEnvWith(t, memoryStore, fetcher, mutate...)
}

func newTestEnvWith(t *testing.T, open storeFactory, fetcher Fetcher, mutate ...func(*Config)) *testEnv {
	t.Helper()
	dir := testutil.TempDownloadsDir(t)
	creds, err := credentials.New(filepath.Join(dir, "credentials"))
	if err != nil {
		t.Fatalf("credentials.New: %v", err)
	}
	cfg := Config{
		DownloadDir:      dir,
		ProgressInterval: time.Second,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	store := open(t)
	m := metrics.New()
	logger := testutil.DiscardLogger()
	env := &testEnv{
		store:     store,
		creds:     creds,
		manager:   NewManager(store, fetcher, creds, cfg, logger, m),
		lifecycle: NewLifecycle(store, creds, dir, logger, m),
		metrics:   m,
		dir:       dir,
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = env.manager.Wait(ctx)
	})
	return env
}

// hookStore lets a test intercept mutations and list snapshots.
type hookStore struct {
	taskstore.Store

	mu        sync.Mutex
	onMutate  func(prev, next schemas.Task) error
	afterList func()
}

func (s *hookStore) Mutate(ctx context.Context, id string, fn taskstore.MutateFunc) (schemas.Task, error) {
	return s.Store.Mutate(ctx, id, func(prev schemas.Task) (schemas.Task, error) {
		next, err := fn(prev)
		if err != nil {
			return next, err
		}
		s.mu.Lock()
		hook := s.onMutate
		s.mu.Unlock()
		if hook != nil {
			if err := hook(prev, next); err != nil {
				return schemas.Task{}, err
			}
		}
		return next, nil
	})
}

func (s *hookStore) List(ctx context.Context) ([]schemas.Task, error) {
	tasks, err := s.Store.List(ctx)
	s.mu.Lock()
	hook := s.afterList
	s.afterList = nil
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return tasks, err
}

func fastStream() StreamConfig {
	return StreamConfig{PollInterval: 5 * time.Millisecond, OpenRetries: 5, OpenBackoff: 5 * time.Millisecond}
}

func waitForStatus(t *testing.T, store taskstore.Store, id string, status schemas.TaskStatus) schemas.Task {
	t.Helper()
	var task schemas.Task
	testutil.WaitFor(t, 2*time.Second, "status "+string(status), func() bool {
		found, err := store.Read(context.Background(), id)
		if err != nil {
			return false
		}
		task = found
		return found.Status == status
	})
	return task
}

// collect runs a stream session to completion and returns its events.
func collect(t *testing.T, store taskstore.Store, id string) []schemas.StreamEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var events []schemas.StreamEvent
	err := NewStreamSession(store, id, fastStream(), nil).Run(ctx, func(ev schemas.StreamEvent) error {
		events = append(events, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	return events
}

func lines(events []schemas.StreamEvent) []string {
	var out []string
	for _, ev := range events {
		if ev.Kind == schemas.StreamEventLog {
			out = append(out, ev.Line)
		}
	}
	return out
}

func lastDone(t *testing.T, events []schemas.StreamEvent) schemas.StreamDone {
	t.Helper()
	if len(events) == 0 {
		t.Fatalf("no events")
	}
	var dones int
	for _, ev := range events {
		if ev.Kind == schemas.StreamEventDone {
			dones++
		}
	}
	if dones != 1 {
		t.Fatalf("expected exactly one done event, got %d", dones)
	}
	last := events[len(events)-1]
	if last.Kind != schemas.StreamEventDone || last.Done == nil {
		t.Fatalf("expected stream to end with done, got %+v", last)
	}
	return *last.Done
}

// scriptedFetcher emits events, waits for release, then writes artifact or
// returns err.
type scriptedFetcher struct {
	events   []schemas.ProgressEvent
	artifact string
	err      error
	release  chan struct{}

	mu       sync.Mutex
	requests []schemas.FetchRequest
	cookies  []string
}

func (f *scriptedFetcher) Fetch(ctx context.Context, req schemas.FetchRequest, progress func(schemas.ProgressEvent)) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	if req.CookieFile != "" {
		data, _ := os.ReadFile(req.CookieFile)
		f.cookies = append(f.cookies, string(data))
	}
	f.mu.Unlock()

	for _, ev := range f.events {
		progress(ev)
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	if f.artifact == "" {
		return "", errors.New("no artifact configured")
	}
	if err := os.WriteFile(filepath.Join(req.OutputDir, f.artifact), []byte("media"), 0o644); err != nil {
		return "", err
	}
	return f.artifact, nil
}

func (f *scriptedFetcher) lastRequest() schemas.FetchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}
