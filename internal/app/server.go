package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"rosterchat/internal/logx"
	"rosterchat/internal/relay"
	"rosterchat/internal/storage"
)

// ServerHandle represents a running relay instance.
type ServerHandle struct {
	addr    string
	server  *http.Server
	store   *storage.Store
	cancel  context.CancelFunc
	hubDone chan struct{}
	done    chan struct{}
	err     error
	logger  zerolog.Logger
}

// Addr returns the actual listen address (after the OS allocated a port).
func (h *ServerHandle) Addr() string {
	return h.addr
}

// Stop triggers a graceful shutdown with the provided context deadline.
func (h *ServerHandle) Stop(ctx context.Context) error {
	if h == nil || h.server == nil {
		return nil
	}
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	// Hijacked websocket connections are not covered by Shutdown; stopping
	// the hub closes them.
	h.cancel()
	return h.server.Shutdown(ctx)
}

// Wait blocks until the server exits.
func (h *ServerHandle) Wait() error {
	if h == nil {
		return nil
	}
	<-h.done
	return h.err
}

// RunServer opens the presence store, runs migrations and starts the relay
// in the background. Cancelling ctx or calling Stop shuts it down.
func RunServer(ctx context.Context, cfg ServerConfig) (*ServerHandle, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}
	cfg.Path = NormalizeJoinPath(cfg.Path)
	logger := logx.With("server")

	if !isMemoryDSN(cfg.DBPath) {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	store, err := storage.NewStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if closed, err := store.CloseDangling(context.Background(), time.Now()); err != nil {
		logger.Warn().Err(err).Msg("closing dangling presence rows failed")
	} else if closed > 0 {
		logger.Info().Int64("rows", closed).Msg("closed presence rows left open by a previous run")
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("listen: %w", err)
	}

	relayServer := relay.NewServer(relay.Config{
		Path:           cfg.Path,
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimit:      cfg.RateLimit,
		RateBurst:      cfg.RateBurst,
	}, store)

	if ctx == nil {
		ctx = context.Background()
	}
	hubCtx, cancel := context.WithCancel(ctx)
	handle := &ServerHandle{
		addr: listener.Addr().String(),
		server: &http.Server{
			Handler:           relayServer.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		store:   store,
		cancel:  cancel,
		hubDone: make(chan struct{}),
		done:    make(chan struct{}),
		logger:  logger,
	}

	go func() {
		defer close(handle.hubDone)
		relayServer.Run(hubCtx)
	}()
	go func() {
		<-hubCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := handle.server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server shutdown error")
		}
	}()
	go handle.serve(listener)

	return handle, nil
}

func (h *ServerHandle) serve(listener net.Listener) {
	defer close(h.done)
	err := h.server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	h.cancel()
	// The hub records leaves on the way out, so the store outlives it.
	<-h.hubDone
	if err := h.store.Close(); err != nil {
		h.logger.Error().Err(err).Msg("store close error")
	}
	h.err = err
}

func isMemoryDSN(path string) bool {
	return strings.Contains(path, ":memory:") || strings.Contains(path, "mode=memory")
}
