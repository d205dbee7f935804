package core

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Oudwins/clipq/internals/assert"
	"github.com/Oudwins/clipq/internals/conf"
	"github.com/Oudwins/clipq/internals/credentials"
	"github.com/Oudwins/clipq/internals/env"
	"github.com/Oudwins/clipq/internals/fetcher"
	"github.com/Oudwins/clipq/internals/metrics"
	"github.com/Oudwins/clipq/internals/tasks"
	"github.com/Oudwins/clipq/internals/taskstore"
)

type BaseServer struct {
	Config      *conf.Config
	Env         *env.EnvStruct
	Logger      *slog.Logger
	Store       taskstore.Store
	Credentials *credentials.Store
	Metrics     *metrics.Metrics
	Tasks       *tasks.Manager
	Lifecycle   *tasks.Lifecycle
	Sweeper     *tasks.Sweeper
	Stream      tasks.StreamConfig
	// YTDLP is nil when a custom fetcher was supplied.
	YTDLP *fetcher.YTDLP
}

// New wires the daemon from the process config and environment and exits
// on failure.
func New() *BaseServer {
	config := conf.GetConfig()
	logger, _ := InitLogger(config)
	ytdlp := fetcher.NewYTDLP(logger)
	base, err := Build(context.Background(), config, env.Get(), logger, ytdlp)
	assert.AssertNil(err, "[CORE] Failed to initialize server")
	base.YTDLP = ytdlp
	return base
}

// Build wires every component around the given fetcher.
func Build(ctx context.Context, config *conf.Config, environment *env.EnvStruct, logger *slog.Logger, f tasks.Fetcher) (*BaseServer, error) {
	store, err := taskstore.Open(ctx, config.Store.Backend, config.StorePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open task store: %w", err)
	}
	creds, err := credentials.New(config.CredentialsDir())
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	m := metrics.New()

	manager := tasks.NewManager(store, f, creds, tasks.Config{
		DownloadDir:      config.Downloads.Dir,
		MaxParallel:      config.Downloads.MaxParallel,
		FetchTimeout:     conf.Duration(config.Downloads.FetchTimeout),
		ProgressInterval: conf.Duration(config.Progress.MinInterval),
		Diagnostics:      config.Downloads.Diagnostics,
	}, logger, m)
	lifecycle := tasks.NewLifecycle(store, creds, config.Downloads.Dir, logger, m)
	sweeper := tasks.NewSweeper(store, lifecycle, conf.Duration(config.Sweeper.TTL), conf.Duration(config.Sweeper.Interval), logger)

	return &BaseServer{
		Config:      config,
		Env:         environment,
		Logger:      logger,
		Store:       store,
		Credentials: creds,
		Metrics:     m,
		Tasks:       manager,
		Lifecycle:   lifecycle,
		Sweeper:     sweeper,
		Stream: tasks.StreamConfig{
			PollInterval: conf.Duration(config.Stream.PollInterval),
			OpenRetries:  uint64(config.Stream.OpenRetries),
			OpenBackoff:  conf.Duration(config.Stream.OpenBackoff),
		},
	}, nil
}

// Prepare runs the one-off startup work: installing yt-dlp when configured
// and failing tasks a previous process left running.
func (b *BaseServer) Prepare(ctx context.Context) error {
	if b.YTDLP != nil && b.Config.Downloads.InstallYTDLP {
		if err := b.YTDLP.Install(ctx); err != nil {
			return err
		}
	}
	if _, err := b.Tasks.RecoverInterrupted(ctx); err != nil {
		return fmt.Errorf("failed to recover interrupted tasks: %w", err)
	}
	return nil
}

func (b *BaseServer) Close() error {
	return b.Store.Close()
}
