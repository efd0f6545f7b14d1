package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"rosterchat/internal/channel"
	"rosterchat/internal/eventbus"
	"rosterchat/internal/logx"
	"rosterchat/internal/session"
	"rosterchat/internal/view"
)

// ErrUsernameRequired is returned when the client is started without a name.
var ErrUsernameRequired = errors.New("username is required")

// RunClient connects to the server, registers cfg.Username and runs the
// terminal UI until the user quits.
func RunClient(ctx context.Context, cfg ClientConfig) error {
	if cfg.ServerURL == "" {
		return errors.New("server URL is required")
	}
	if cfg.Username == "" {
		return ErrUsernameRequired
	}

	logFile, err := openLog(cfg.LogPath)
	if err != nil {
		return err
	}
	defer logFile.Close()
	logx.Init(cfg.Dev, logFile)
	return runClient(ctx, cfg)
}

// runClient expects logging to be set up already.
func runClient(ctx context.Context, cfg ClientConfig) error {
	logger := logx.With("client")

	transport, err := channel.DialWebsocket(ctx, cfg.ServerURL)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.ServerURL, err)
	}
	logger.Info().Str("server", cfg.ServerURL).Str("username", cfg.Username).Msg("connected")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	bus := eventbus.New()
	defer bus.Close()
	conn := channel.New(transport, bus)
	defer conn.Close()

	notifier := view.NewNotifier()
	sess := session.New(cfg.Username, conn.Sender(), bus, session.WithOnChange(notifier.Notify))
	defer sess.Close()

	go func() {
		if err := conn.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("connection ended")
		}
	}()
	go func() { _ = sess.Run(runCtx) }()

	if err := view.Run(view.New(sess, notifier, conn.Done(), cfg.ServerURL)); err != nil {
		return fmt.Errorf("run ui: %w", err)
	}
	logger.Info().Msg("client exited")
	return nil
}

// openLog opens path for appending. An empty path discards logs.
func openLog(path string) (io.WriteCloser, error) {
	if path == "" {
		return nopCloser{io.Discard}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
