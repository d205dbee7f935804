package server

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Oudwins/clipq/clipd/core"
	"github.com/Oudwins/clipq/internals/logbuf"
	"github.com/Oudwins/clipq/internals/timeouts"
	"github.com/Oudwins/clipq/sdk"
)

type Server struct {
	Base   *core.BaseServer
	Logger *slog.Logger
	Logbuf *logbuf.Logger

	mu         sync.Mutex
	httpServer *http.Server
	stop       context.CancelFunc
	done       chan struct{}
}

func New() *Server {
	return NewWithBase(core.New())
}

func NewWithBase(base *core.BaseServer) *Server {
	buffer := logbuf.New(
		slog.String("version", base.Config.Version),
		slog.Int("port", base.Env.PORT),
	)
	return &Server{
		Base:   base,
		Logger: base.Logger,
		Logbuf: buffer,
		done:   make(chan struct{}),
	}
}

// SafeStart starts the daemon in the background unless one is already
// answering on the configured address.
func (s *Server) SafeStart() error {
	if sdk.IsRunning(s.Base.Env.BASE_URL) {
		return nil
	}

	go func() {
		if err := s.Start(); err != nil {
			log.Fatal("[Clipq] Failed to start server: " + err.Error())
		}
	}()

	if sdk.WaitForStart(s.Base.Env.BASE_URL, s.Logger) {
		return nil
	}
	return errors.New("couldn't start server")
}

// Start serves on LISTEN_ADDR and runs the sweeper until Shutdown.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.Base.Env.LISTEN_ADDR)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

func (s *Server) Serve(listener net.Listener) error {
	defer close(s.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Base.Prepare(ctx); err != nil {
		_ = listener.Close()
		return err
	}

	httpServer := &http.Server{
		Handler:     s.Router(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	s.mu.Lock()
	s.httpServer = httpServer
	s.stop = cancel
	s.mu.Unlock()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return s.Base.Sweeper.Run(groupCtx)
	})
	group.Go(func() error {
		s.Logger.Info("Server listening", "addr", listener.Addr().String(), "version", s.Base.Config.Version)
		err := httpServer.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		cancel()
		return err
	})

	err := group.Wait()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), timeouts.Drain)
	defer drainCancel()
	if waitErr := s.Base.Tasks.Wait(drainCtx); waitErr != nil {
		s.Logger.Warn("Workers still running at shutdown", "error", waitErr)
	}
	if closeErr := s.Base.Close(); closeErr != nil {
		s.Logger.Error("Failed to close task store", "error", closeErr)
	}
	return err
}

// Shutdown stops accepting requests, cancels open streams and returns once
// Serve has drained workers and closed the store, or ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	httpServer := s.httpServer
	stop := s.stop
	s.mu.Unlock()
	if httpServer == nil {
		return errors.New("server not initialized")
	}

	stop()
	err := httpServer.Shutdown(ctx)
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}
