package core

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Oudwins/clipq/internals/conf"
	"github.com/Oudwins/clipq/internals/env"
	"github.com/Oudwins/clipq/internals/schemas"
	"github.com/Oudwins/clipq/internals/tasks"
	"github.com/Oudwins/clipq/internals/testutil"
)

func TestBuildRecoversInterruptedTasks(t *testing.T) {
	dataDir := t.TempDir()
	config, err := conf.Load(dataDir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	ctx := context.Background()
	noop := tasks.FetcherFunc(func(ctx context.Context, req schemas.FetchRequest, progress func(schemas.ProgressEvent)) (string, error) {
		return "", nil
	})

	first, err := Build(ctx, config, &env.EnvStruct{}, testutil.DiscardLogger(), noop)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	stale := schemas.NewTask("stale", "[queued] https://example.com/v", time.Now())
	if err := first.Store.Create(ctx, stale); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := first.Credentials.Write("stale", "cookie"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, err := Build(ctx, config, &env.EnvStruct{}, testutil.DiscardLogger(), noop)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { _ = second.Close() })
	if err := second.Prepare(ctx); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	task, err := second.Store.Read(ctx, "stale")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if task.Status != schemas.TaskStatusError {
		t.Fatalf("expected error status, got %q", task.Status)
	}
	testutil.AssertMissing(t, second.Credentials.Path("stale"))
	if _, err := os.Stat(filepath.Join(dataDir, "tasks", "tasks.db")); err != nil {
		t.Fatalf("expected sqlite file: %v", err)
	}
}

func TestNewLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer file.Close()
	devnull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer devnull.Close()

	logger := NewLogger(devnull, file, 0)
	logger.Info("hello", "task_id", "abc")
	logger.Debug("hidden")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), "hello") || !strings.Contains(string(data), "task_id=abc") {
		t.Fatalf("unexpected log file contents %q", data)
	}
	if strings.Contains(string(data), "hidden") {
		t.Fatalf("debug line should be filtered at info level")
	}
}
