package tasks

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Oudwins/clipq/internals/schemas"
)

func TestStartIsVisibleBeforeReturn(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open storeFactory) {
		fetcher := &scriptedFetcher{artifact: "clip.mp4", release: make(chan struct{})}
		env := newTestEnvWith(t, open, fetcher)
		defer close(fetcher.release)

		id, err := env.manager.Start(context.Background(), schemas.JobSpec{Source: "https://example.com/v"})
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		task, err := env.store.Read(context.Background(), id)
		if err != nil {
			t.Fatalf("Read right after Start: %v", err)
		}
		if task.Status != schemas.TaskStatusRunning || task.Result != "" {
			t.Fatalf("unexpected initial task %+v", task)
		}
		if diff := cmp.Diff([]string{"[queued] https://example.com/v"}, task.Log); diff != "" {
			t.Fatalf("unexpected initial log (-want +got):\n%s", diff)
		}
	})
}

func TestScenarioSuccess(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open storeFactory) {
		fetcher := &scriptedFetcher{
			events: []schemas.ProgressEvent{
				schemas.Downloading("10%", 10),
				schemas.Downloading("55%", 55),
				schemas.StageComplete("merged formats"),
			},
			artifact: "clip.mp4",
			release:  make(chan struct{}),
		}
		env := newTestEnvWith(t, open, fetcher)
		ctx := context.Background()

		id, err := env.manager.Start(ctx, schemas.JobSpec{Source: "https://example.com/v"})
		if err != nil {
			t.Fatalf("Start: %v", err)
		}

		if err := env.lifecycle.Retrieve(ctx, id, failDeliver(t)); !errors.Is(err, schemas.ErrNotReady) {
			t.Fatalf("expected ErrNotReady while running, got %v", err)
		}

		var (
			events []schemas.StreamEvent
			wg     sync.WaitGroup
			once   sync.Once
		)
		opened := make(chan struct{})
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := NewStreamSession(env.store, id, fastStream(), env.metrics).Run(ctx, func(ev schemas.StreamEvent) error {
				events = append(events, ev)
				once.Do(func() { close(opened) })
				return nil
			})
			if err != nil {
				t.Errorf("stream: %v", err)
			}
		}()
		<-opened
		close(fetcher.release)
		wg.Wait()

		want := []string{
			"[queued] https://example.com/v",
			"[download] 10%",
			"[download] 55%",
			"[stage] merged formats",
		}
		if diff := cmp.Diff(want, lines(events)); diff != "" {
			t.Fatalf("unexpected stream lines (-want +got):\n%s", diff)
		}
		done := lastDone(t, events)
		if done.Outcome != schemas.OutcomeComplete || done.Result != "clip.mp4" {
			t.Fatalf("unexpected done %+v", done)
		}

		var delivered []byte
		err = env.lifecycle.Retrieve(ctx, id, func(ctx context.Context, a Artifact) error {
			data, err := os.ReadFile(a.Path)
			delivered = data
			return err
		})
		if err != nil {
			t.Fatalf("Retrieve: %v", err)
		}
		if string(delivered) != "media" {
			t.Fatalf("unexpected artifact content %q", delivered)
		}
		if _, err := os.Stat(filepath.Join(env.dir, id)); !os.IsNotExist(err) {
			t.Fatalf("expected task output removed, got %v", err)
		}

		err = env.lifecycle.Retrieve(ctx, id, failDeliver(t))
		if !errors.Is(err, schemas.ErrNotFound) {
			t.Fatalf("expected ErrNotFound on second retrieval, got %v", err)
		}
	})
}

func TestScenarioFailure(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open storeFactory) {
		fetcher := &scriptedFetcher{
			events:  []schemas.ProgressEvent{schemas.Downloading("10%", 10)},
			err:     errors.New("HTTP Error 403: Forbidden"),
			release: make(chan struct{}),
		}
		env := newTestEnvWith(t, open, fetcher)
		ctx := context.Background()

		id, err := env.manager.Start(ctx, schemas.JobSpec{Source: "https://example.com/v"})
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		if err := env.lifecycle.Retrieve(ctx, id, failDeliver(t)); !errors.Is(err, schemas.ErrNotReady) {
			t.Fatalf("expected ErrNotReady before completion, got %v", err)
		}
		close(fetcher.release)

		events := collect(t, env.store, id)
		want := []string{
			"[queued] https://example.com/v",
			"[download] 10%",
			"[error] OperationFailed: HTTP Error 403: Forbidden",
		}
		if diff := cmp.Diff(want, lines(events)); diff != "" {
			t.Fatalf("unexpected stream lines (-want +got):\n%s", diff)
		}
		if done := lastDone(t, events); done.Outcome != schemas.OutcomeError || done.Result != "" {
			t.Fatalf("unexpected done %+v", done)
		}

		if err := env.lifecycle.Retrieve(ctx, id, failDeliver(t)); !errors.Is(err, schemas.ErrNotFound) {
			t.Fatalf("expected ErrNotFound after failure, got %v", err)
		}
	})
}

func TestFiftyStreamsOnCompletedTask(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open storeFactory) {
		fetcher := &scriptedFetcher{
			events:   []schemas.ProgressEvent{schemas.Downloading("10%", 10), schemas.StageComplete("done")},
			artifact: "clip.mp4",
		}
		env := newTestEnvWith(t, open, fetcher)
		id, err := env.manager.Start(context.Background(), schemas.JobSpec{Source: "https://example.com/v"})
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		final := waitForStatus(t, env.store, id, schemas.TaskStatusComplete)

		const observers = 50
		results := make([][]schemas.StreamEvent, observers)
		var wg sync.WaitGroup
		for i := range observers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i] = collect(t, env.store, id)
			}()
		}
		wg.Wait()

		for i, events := range results {
			if diff := cmp.Diff(final.Log, lines(events)); diff != "" {
				t.Fatalf("observer %d got a different log (-want +got):\n%s", i, diff)
			}
			if done := lastDone(t, events); done.Result != "clip.mp4" {
				t.Fatalf("observer %d got result %q", i, done.Result)
			}
		}
	})
}

func TestStartAndStreamRace(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open storeFactory) {
		fetcher := &scriptedFetcher{artifact: "clip.mp4"}
		env := newTestEnvWith(t, open, fetcher)

		for range 20 {
			id, err := newTaskID()
			if err != nil {
				t.Fatalf("newTaskID: %v", err)
			}
			env.manager.newID = func() (string, error) { return id, nil }

			var events []schemas.StreamEvent
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				events = collect(t, env.store, id)
			}()
			if _, err := env.manager.Start(context.Background(), schemas.JobSpec{Source: "https://example.com/v"}); err != nil {
				t.Fatalf("Start: %v", err)
			}
			wg.Wait()
			if done := lastDone(t, events); done.Outcome == schemas.OutcomeNotFound {
				t.Fatalf("spurious not_found for %s", id)
			}
		}
	})
}

func failDeliver(t *testing.T) func(context.Context, Artifact) error {
	return func(context.Context, Artifact) error {
		t.Errorf("deliver should not be called")
		return nil
	}
}
