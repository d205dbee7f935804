// Package tasks runs fetches as asynchronous tasks and streams their
// progress to any number of observers.
package tasks

import (
	"context"

	"go.opentelemetry.io/otel"

	"github.com/Oudwins/clipq/internals/schemas"
)

var tracer = otel.Tracer("github.com/Oudwins/clipq/internals/tasks")

// Fetcher produces one artifact inside req.OutputDir and returns its file
// name relative to that directory. progress may be called from any goroutine
// until Fetch returns.
type Fetcher interface {
	Fetch(ctx context.Context, req schemas.FetchRequest, progress func(schemas.ProgressEvent)) (string, error)
}

type FetcherFunc func(ctx context.Context, req schemas.FetchRequest, progress func(schemas.ProgressEvent)) (string, error)

func (f FetcherFunc) Fetch(ctx context.Context, req schemas.FetchRequest, progress func(schemas.ProgressEvent)) (string, error) {
	return f(ctx, req, progress)
}
