package server

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Oudwins/clipq/clipd/core"
	"github.com/Oudwins/clipq/internals/conf"
	"github.com/Oudwins/clipq/internals/env"
	"github.com/Oudwins/clipq/internals/schemas"
	"github.com/Oudwins/clipq/internals/tasks"
	"github.com/Oudwins/clipq/internals/taskstore"
	"github.com/Oudwins/clipq/internals/testutil"
	"github.com/Oudwins/clipq/sdk"
)

type testServer struct {
	server *Server
	http   *httptest.Server
	client *sdk.Client
}

func newTestServer(t *testing.T, fetcher tasks.Fetcher) *testServer {
	t.Helper()
	return newTestServerOn(t, taskstore.BackendMemory, fetcher)
}

func newTestServerOn(t *testing.T, backend taskstore.BackendID, fetcher tasks.Fetcher) *testServer {
	t.Helper()
	config, err := conf.Load(t.TempDir())
	if err != nil {
		t.Fatalf("conf.Load: %v", err)
	}
	config.Version = "test-version"
	config.Store.Backend = backend
	config.Stream.PollInterval = "5ms"
	config.Stream.OpenBackoff = "5ms"
	config.Progress.MinInterval = "0s"

	base, err := core.Build(context.Background(), config, &env.EnvStruct{PORT: 0}, testutil.DiscardLogger(), fetcher)
	if err != nil {
		t.Fatalf("core.Build: %v", err)
	}
	s := NewWithBase(base)
	ts := httptest.NewServer(s.Router())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = base.Tasks.Wait(ctx)
		_ = base.Close()
	})
	return &testServer{
		server: s,
		http:   ts,
		client: sdk.NewClient(sdk.WithBaseURL(ts.URL), sdk.WithHTTPClient(ts.Client())),
	}
}

// clipFetcher writes clip.mp4 after release is closed, or fails with err.
type clipFetcher struct {
	release chan struct{}
	err     error
}

func newClipFetcher() *clipFetcher {
	return &clipFetcher{release: make(chan struct{})}
}

func (f *clipFetcher) Fetch(ctx context.Context, req schemas.FetchRequest, progress func(schemas.ProgressEvent)) (string, error) {
	progress(schemas.Downloading("", 10))
	select {
	case <-f.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if f.err != nil {
		return "", f.err
	}
	progress(schemas.Downloading("", 100))
	if err := os.WriteFile(filepath.Join(req.OutputDir, "clip.mp4"), []byte("video-bytes"), 0o644); err != nil {
		return "", err
	}
	progress(schemas.StageComplete("merged formats"))
	return "clip.mp4", nil
}

func released() *clipFetcher {
	f := newClipFetcher()
	close(f.release)
	return f
}

func failing(msg string) *clipFetcher {
	f := released()
	f.err = errors.New(msg)
	return f
}

func (ts *testServer) waitForStatus(t *testing.T, id string, status schemas.TaskStatus) {
	t.Helper()
	testutil.WaitFor(t, 2*time.Second, "task "+string(status), func() bool {
		task, err := ts.client.Task(context.Background(), id)
		return err == nil && task.Status == status
	})
}
