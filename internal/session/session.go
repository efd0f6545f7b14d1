// Package session holds the chat session state machine: it owns the roster
// and message log of one user on one connection, folds inbound frames into
// them and turns local actions into outbound frames.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"rosterchat/internal/eventbus"
	"rosterchat/internal/logx"
	"rosterchat/internal/protocol"
)

// Sender is the outbound side of the connection. *channel.Sender satisfies it.
type Sender interface {
	Send(text string) error
	Release()
}

// Bus is where inbound frames come from. *eventbus.Bus satisfies it.
type Bus interface {
	Subscribe() *eventbus.Subscription
}

// Option configures a Session.
type Option func(*Session)

// WithAvatarMapper replaces DiceBearAvatar.
func WithAvatarMapper(m AvatarMapper) Option {
	return func(s *Session) {
		if m != nil {
			s.avatar = m
		}
	}
}

// WithLogger sets the session logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithOnChange registers a callback fired after the roster or log changed or
// an inbound frame was dropped.
// It runs on the goroutine driving Run.
func WithOnChange(fn func()) Option {
	return func(s *Session) { s.onChange = fn }
}

// Session is the state of one chat view.
type Session struct {
	username string
	sender   Sender
	sub      *eventbus.Subscription
	avatar   AvatarMapper
	logger   zerolog.Logger
	onChange func()

	mu      sync.RWMutex
	roster  []UserProfile
	log     []ChatMessage
	input   string
	dropped int
	lastErr error

	closeOnce sync.Once
}

// New subscribes to bus and registers username with the server. A failed
// register send is logged and the session carries on.
func New(username string, sender Sender, bus Bus, opts ...Option) *Session {
	s := &Session{
		username: username,
		sender:   sender,
		avatar:   DiceBearAvatar,
		logger:   logx.With("session"),
		roster:   []UserProfile{},
		log:      []ChatMessage{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.sub = bus.Subscribe()
	s.logger = s.logger.With().Str("username", username).Str("subscription", s.sub.ID()).Logger()

	text, err := protocol.Encode(protocol.NewRegister(username))
	if err != nil {
		s.logger.Error().Err(err).Msg("encode register frame")
		return s
	}
	if s.send(text) {
		s.logger.Debug().Msg("register frame sent")
	}
	return s
}

// Run applies inbound frames in delivery order until ctx is done or the bus
// closes the subscription.
func (s *Session) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case text, ok := <-s.sub.C():
			if !ok {
				return nil
			}
			// Drops change Dropped and LastError, which the view shows too.
			changed, err := s.Apply(text)
			if (changed || err != nil) && s.onChange != nil {
				s.onChange()
			}
		}
	}
}

// Apply folds one inbound frame into the session state. It reports whether
// the roster or log changed. A frame that fails to decode leaves the state
// untouched and is returned as an error after being logged.
func (s *Session) Apply(text string) (bool, error) {
	frame, err := protocol.Decode(text)
	if err != nil {
		s.reject(err, text)
		return false, err
	}

	switch frame.Type {
	case protocol.TypeUsers:
		roster := make([]UserProfile, 0, len(frame.DataArray))
		for _, name := range frame.DataArray {
			roster = append(roster, UserProfile{Name: name, AvatarURL: s.avatar(name)})
		}
		s.mu.Lock()
		s.roster = roster
		s.mu.Unlock()
		return true, nil

	case protocol.TypeMessage:
		payload, err := frame.Payload()
		if err != nil {
			s.reject(err, text)
			return false, err
		}
		s.mu.Lock()
		s.log = append(s.log, ChatMessage{From: payload.From, Body: payload.Message})
		s.mu.Unlock()
		return true, nil

	default:
		// A register frame has no meaning for a client.
		s.logger.Debug().Str("frame_type", string(frame.Type)).Msg("ignoring frame")
		return false, nil
	}
}

func (s *Session) reject(err error, text string) {
	s.mu.Lock()
	s.dropped++
	s.lastErr = err
	s.mu.Unlock()

	kind := protocol.Malformed
	var de *protocol.DecodeError
	if errors.As(err, &de) {
		kind = de.Kind
	}
	s.logger.Warn().Err(err).Str("kind", kind.String()).Int("length", len(text)).Msg("dropping inbound frame")
}

// SetInput replaces the pending input text.
func (s *Session) SetInput(text string) {
	s.mu.Lock()
	s.input = text
	s.mu.Unlock()
}

// Input returns the pending input text.
func (s *Session) Input() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.input
}

// Submit sends the pending input as a message and clears it. Empty input is
// a no-op. The message is not added to the log here; it shows up when the
// server echoes it back.
func (s *Session) Submit() bool {
	s.mu.Lock()
	body := s.input
	if body == "" {
		s.mu.Unlock()
		return false
	}
	s.input = ""
	s.mu.Unlock()

	text, err := encodeMessage(s.username, body)
	if err != nil {
		s.logger.Error().Err(err).Msg("encode message frame")
		return true
	}
	s.send(text)
	return true
}

func encodeMessage(from, body string) (string, error) {
	frame, err := protocol.NewMessage(protocol.MessagePayload{From: from, Message: body})
	if err != nil {
		return "", err
	}
	return protocol.Encode(frame)
}

func (s *Session) send(text string) bool {
	if err := s.sender.Send(text); err != nil {
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		s.logger.Warn().Err(err).Msg("outbound frame not sent")
		return false
	}
	return true
}

// Username is the name this session registered with.
func (s *Session) Username() string {
	return s.username
}

// Roster returns a copy of the current roster.
func (s *Session) Roster() []UserProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]UserProfile, len(s.roster))
	copy(out, s.roster)
	return out
}

// Log returns a copy of the message log.
func (s *Session) Log() []ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ChatMessage, len(s.log))
	copy(out, s.log)
	return out
}

// Dropped counts inbound frames rejected so far.
func (s *Session) Dropped() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}

// LastError is the most recent send or decode failure, if any.
func (s *Session) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Close unsubscribes from the bus and releases the sender. The connection
// itself stays up for anyone else using it.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.sub.Close()
		s.sender.Release()
	})
}
