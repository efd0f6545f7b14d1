// Package channel bridges a duplex text transport to the rest of the client:
// clonable fire-and-forget sender handles on the way out, and a receive loop
// that republishes every inbound frame on the event bus on the way in.
package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"rosterchat/internal/logx"
)

const defaultQueueSize = 256

var (
	// ErrSendFailed marks every failed Send. The cause is one of the errors below.
	ErrSendFailed     = errors.New("send failed")
	ErrQueueFull      = errors.New("outbound queue full")
	ErrClosed         = errors.New("channel closed")
	ErrSenderReleased = errors.New("sender released")

	// ErrTransportClosed is what a Transport returns once the connection is gone.
	ErrTransportClosed = errors.New("transport closed")
)

// Transport is a live duplex text connection.
type Transport interface {
	// ReadText blocks until the next text frame arrives. It returns
	// ErrTransportClosed or io.EOF when the connection ends normally.
	ReadText() (string, error)
	WriteText(text string) error
	Close() error
}

// Publisher receives every inbound frame. *eventbus.Bus satisfies it.
type Publisher interface {
	Publish(text string)
}

// IsClosed reports whether a transport error means the connection ended
// rather than failed.
func IsClosed(err error) bool {
	return errors.Is(err, ErrTransportClosed) || errors.Is(err, io.EOF)
}

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets the channel's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Channel) { c.logger = logger }
}

// WithQueueSize bounds the outbound queue.
func WithQueueSize(n int) Option {
	return func(c *Channel) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// Channel owns one transport for the lifetime of a connection.
type Channel struct {
	transport Transport
	bus       Publisher
	logger    zerolog.Logger
	queueSize int

	outbound  chan string
	closed    chan struct{}
	closeOnce sync.Once
	runOnce   sync.Once
	done      chan struct{}
}

// New wraps transport. Call Run to start moving frames.
func New(transport Transport, bus Publisher, opts ...Option) *Channel {
	c := &Channel{
		transport: transport,
		bus:       bus,
		logger:    logx.With("channel"),
		queueSize: defaultQueueSize,
		closed:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.outbound = make(chan string, c.queueSize)
	return c
}

// Sender issues a new handle onto the outbound queue.
func (c *Channel) Sender() *Sender {
	return &Sender{channel: c}
}

// Run starts the write pump and runs the receive loop until the transport
// closes or ctx is cancelled. Transport closure returns nil. Run may only be
// called once; later calls return immediately.
func (c *Channel) Run(ctx context.Context) error {
	var err error
	started := false
	c.runOnce.Do(func() {
		started = true
		err = c.run(ctx)
	})
	if !started {
		return errors.New("channel already running")
	}
	return err
}

func (c *Channel) run(ctx context.Context) error {
	defer close(c.done)

	go c.writePump()
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	for {
		text, err := c.transport.ReadText()
		if err != nil {
			closedLocally := c.isClosed()
			_ = c.Close()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if closedLocally || IsClosed(err) {
				c.logger.Debug().Msg("transport closed, receive loop done")
				return nil
			}
			c.logger.Warn().Err(err).Msg("receive loop stopped")
			return fmt.Errorf("read frame: %w", err)
		}
		c.bus.Publish(text)
	}
}

func (c *Channel) writePump() {
	for {
		select {
		case text := <-c.outbound:
			if err := c.transport.WriteText(text); err != nil {
				c.logger.Warn().Err(err).Msg("write frame failed")
			}
		case <-c.closed:
			return
		}
	}
}

// Close shuts the transport down. The receive loop then ends on its own.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.transport.Close()
	})
	return err
}

// Done is closed when Run has returned.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

func (c *Channel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Channel) enqueue(text string) error {
	if c.isClosed() {
		return fmt.Errorf("%w: %w", ErrSendFailed, ErrClosed)
	}
	select {
	case c.outbound <- text:
		return nil
	default:
		return fmt.Errorf("%w: %w", ErrSendFailed, ErrQueueFull)
	}
}

// Sender is a handle onto a channel's outbound queue. Handles are cheap and
// each consumer should hold its own clone.
type Sender struct {
	channel  *Channel
	released atomic.Bool
}

// Send enqueues text without blocking. A failure is reported, never raised.
func (s *Sender) Send(text string) error {
	if s == nil || s.channel == nil || s.released.Load() {
		return fmt.Errorf("%w: %w", ErrSendFailed, ErrSenderReleased)
	}
	return s.channel.enqueue(text)
}

// Clone returns an independent handle onto the same channel. A clone of a
// released handle starts out released.
func (s *Sender) Clone() *Sender {
	if s == nil {
		return nil
	}
	clone := &Sender{channel: s.channel}
	if s.released.Load() {
		clone.released.Store(true)
	}
	return clone
}

// Release retires this handle. Other clones keep working.
func (s *Sender) Release() {
	if s == nil {
		return
	}
	s.released.Store(true)
}
