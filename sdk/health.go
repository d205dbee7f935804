package sdk

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/Oudwins/clipq/internals/timeouts"
)

const (
	DefaultPingTimeout = timeouts.Probe
	startBackoff       = 150 * time.Millisecond
	startAttempts      = 8
)

type InfoLogger interface {
	Info(msg string, args ...any)
}

func IsRunning(baseURL string) bool {
	return IsRunningWithTimeout(baseURL, DefaultPingTimeout)
}

func IsRunningWithTimeout(baseURL string, timeout time.Duration) bool {
	if baseURL == "" {
		return false
	}
	if timeout <= 0 {
		timeout = DefaultPingTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	client := NewClient(
		WithBaseURL(baseURL),
		WithHTTPClient(&http.Client{Timeout: timeout}),
	)
	_, err := client.Version(ctx)
	return err == nil
}

// WaitForStart polls /version with exponential backoff until the daemon
// answers or the attempts run out.
func WaitForStart(baseURL string, logger InfoLogger) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeouts.StartupWait+timeouts.SecondDefault)
	defer cancel()
	return waitFor(ctx, logger, func() bool { return IsRunning(baseURL) }) == nil
}

// WaitForStop is WaitForStart in reverse.
func WaitForStop(baseURL string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeouts.StartupWait)
	defer cancel()
	return waitFor(ctx, nil, func() bool { return !IsRunning(baseURL) }) == nil
}

func waitFor(ctx context.Context, logger InfoLogger, ready func() bool) error {
	attempt := 0
	backoff := retry.WithMaxRetries(startAttempts, retry.NewExponential(startBackoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if logger != nil {
			logger.Info("Waiting for server", "attempt", attempt)
		}
		if ready() {
			return nil
		}
		return retry.RetryableError(errNotReady)
	})
}

var errNotReady = errors.New("server not ready")
