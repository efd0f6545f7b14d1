package session

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"rosterchat/internal/eventbus"
	"rosterchat/internal/logx"
	"rosterchat/internal/protocol"
)

type recordingSender struct {
	mu       sync.Mutex
	sent     []string
	fail     error
	released bool
}

func (r *recordingSender) Send(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.sent = append(r.sent, text)
	return nil
}

func (r *recordingSender) Release() {
	r.mu.Lock()
	r.released = true
	r.mu.Unlock()
}

func (r *recordingSender) frames(t *testing.T) []protocol.Frame {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.Frame, 0, len(r.sent))
	for _, text := range r.sent {
		f, err := protocol.Decode(text)
		if err != nil {
			t.Fatalf("session sent undecodable frame %q: %v", text, err)
		}
		out = append(out, f)
	}
	return out
}

func newTestSession(t *testing.T, username string) (*Session, *recordingSender, *eventbus.Bus) {
	t.Helper()
	bus := eventbus.New()
	sender := &recordingSender{}
	s := New(username, sender, bus, WithLogger(logx.Discard()))
	t.Cleanup(s.Close)
	return s, sender, bus
}

func usersFrame(t *testing.T, names ...string) string {
	t.Helper()
	text, err := protocol.Encode(protocol.NewUsers(names))
	if err != nil {
		t.Fatalf("encode users: %v", err)
	}
	return text
}

func messageFrame(t *testing.T, from, body string) string {
	t.Helper()
	text, err := encodeMessage(from, body)
	if err != nil {
		t.Fatalf("encode message: %v", err)
	}
	return text
}

func names(roster []UserProfile) []string {
	out := make([]string, 0, len(roster))
	for _, p := range roster {
		out = append(out, p.Name)
	}
	return out
}

func TestEndToEndScenario(t *testing.T) {
	bus := eventbus.New()
	sender := &recordingSender{}
	changed := make(chan struct{}, 8)
	s := New("alice", sender, bus, WithLogger(logx.Discard()), WithOnChange(func() { changed <- struct{}{} }))
	defer s.Close()

	frames := sender.frames(t)
	if len(frames) != 1 || frames[0].Type != protocol.TypeRegister || *frames[0].Data != "alice" {
		t.Fatalf("expected a single register frame for alice, got %+v", frames)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	wait := func() {
		select {
		case <-changed:
		case <-time.After(time.Second):
			t.Fatal("session did not apply frame")
		}
	}

	bus.Publish(usersFrame(t, "alice", "bob"))
	wait()
	want := []UserProfile{
		{Name: "alice", AvatarURL: "https://avatars.dicebear.com/api/adventurer-neutral/alice.svg"},
		{Name: "bob", AvatarURL: "https://avatars.dicebear.com/api/adventurer-neutral/bob.svg"},
	}
	if got := s.Roster(); !reflect.DeepEqual(got, want) {
		t.Fatalf("roster = %+v, want %+v", got, want)
	}

	bus.Publish(messageFrame(t, "bob", "hi"))
	wait()
	if got := s.Log(); !reflect.DeepEqual(got, []ChatMessage{{From: "bob", Body: "hi"}}) {
		t.Fatalf("log = %+v", got)
	}
}

func TestRosterIsReplacedNotMerged(t *testing.T) {
	s, _, _ := newTestSession(t, "alice")
	if _, err := s.Apply(usersFrame(t, "a", "b")); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, err := s.Apply(usersFrame(t, "b", "c")); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := names(s.Roster()); !reflect.DeepEqual(got, []string{"b", "c"}) {
		t.Fatalf("roster = %v, want [b c]", got)
	}
	if _, err := s.Apply(usersFrame(t)); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := s.Roster(); len(got) != 0 {
		t.Fatalf("expected empty roster, got %v", got)
	}
}

func TestLogIsAppendOnly(t *testing.T) {
	s, _, _ := newTestSession(t, "alice")
	previous := []ChatMessage{}
	for i, body := range []string{"one", "two", "two", "three"} {
		if _, err := s.Apply(messageFrame(t, "bob", body)); err != nil {
			t.Fatalf("Apply: %v", err)
		}
		got := s.Log()
		if len(got) != i+1 {
			t.Fatalf("log length %d, want %d", len(got), i+1)
		}
		if !reflect.DeepEqual(got[:len(previous)], previous) {
			t.Fatalf("existing entries changed: %v -> %v", previous, got)
		}
		previous = got
	}
}

func TestSubmitDoesNotEchoLocally(t *testing.T) {
	s, sender, _ := newTestSession(t, "alice")
	s.SetInput("hello there")
	if !s.Submit() {
		t.Fatal("expected submit to send")
	}
	if s.Input() != "" {
		t.Fatalf("input not cleared: %q", s.Input())
	}
	if len(s.Log()) != 0 {
		t.Fatalf("submit must not append to the log, got %v", s.Log())
	}

	frames := sender.frames(t)
	if len(frames) != 2 {
		t.Fatalf("expected register + message, got %d frames", len(frames))
	}
	payload, err := frames[1].Payload()
	if err != nil {
		t.Fatalf("Payload: %v", err)
	}
	if payload != (protocol.MessagePayload{From: "alice", Message: "hello there"}) {
		t.Fatalf("unexpected payload %+v", payload)
	}

	// The server echo is what lands in the log.
	if _, err := s.Apply(sender.sent[1]); err != nil {
		t.Fatalf("Apply echo: %v", err)
	}
	if got := s.Log(); !reflect.DeepEqual(got, []ChatMessage{{From: "alice", Body: "hello there"}}) {
		t.Fatalf("log after echo = %v", got)
	}
}

func TestSubmitEmptyIsNoop(t *testing.T) {
	s, sender, _ := newTestSession(t, "alice")
	if s.Submit() {
		t.Fatal("empty submit should be a no-op")
	}
	if n := len(sender.frames(t)); n != 1 {
		t.Fatalf("expected only the register frame, got %d", n)
	}
}

func TestMalformedFramesLeaveStateUnchanged(t *testing.T) {
	s, _, _ := newTestSession(t, "alice")
	if _, err := s.Apply(usersFrame(t, "alice")); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, err := s.Apply(messageFrame(t, "alice", "first")); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	roster, log := s.Roster(), s.Log()

	_, err := s.Apply(`{"messageType":"message"}`)
	if !errors.Is(err, protocol.ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	_, err = s.Apply(`{"messageType":"message","data":"{not json"}`)
	if !errors.Is(err, protocol.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
	if _, err := s.Apply("garbage"); err == nil {
		t.Fatal("expected error for garbage")
	}

	if !reflect.DeepEqual(s.Roster(), roster) || !reflect.DeepEqual(s.Log(), log) {
		t.Fatalf("state changed after malformed frames")
	}
	if s.Dropped() != 3 {
		t.Fatalf("expected 3 dropped frames, got %d", s.Dropped())
	}

	// The session keeps working afterwards.
	if _, err := s.Apply(messageFrame(t, "bob", "still alive")); err != nil {
		t.Fatalf("Apply after malformed: %v", err)
	}
	if len(s.Log()) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(s.Log()))
	}
}

func TestInboundRegisterIsIgnored(t *testing.T) {
	s, _, _ := newTestSession(t, "alice")
	text, err := protocol.Encode(protocol.NewRegister("mallory"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	changed, err := s.Apply(text)
	if err != nil || changed {
		t.Fatalf("register should be a silent no-op, got changed=%v err=%v", changed, err)
	}
	if s.Dropped() != 0 {
		t.Fatal("register must not count as a dropped frame")
	}
}

func TestSendFailureIsNotFatal(t *testing.T) {
	bus := eventbus.New()
	sendErr := errors.New("queue full")
	sender := &recordingSender{fail: sendErr}
	s := New("alice", sender, bus, WithLogger(logx.Discard()))
	defer s.Close()

	if !errors.Is(s.LastError(), sendErr) {
		t.Fatalf("expected register failure to be recorded, got %v", s.LastError())
	}
	s.SetInput("hello")
	if !s.Submit() {
		t.Fatal("submit should still report the attempt")
	}
	if s.Input() != "" {
		t.Fatal("input should be cleared even when the send fails")
	}
	if _, err := s.Apply(usersFrame(t, "alice")); err != nil {
		t.Fatalf("session should keep receiving: %v", err)
	}
}

func TestCloseUnsubscribesAndReleases(t *testing.T) {
	bus := eventbus.New()
	sender := &recordingSender{}
	s := New("alice", sender, bus, WithLogger(logx.Discard()))
	other := bus.Subscribe()
	defer other.Close()

	if bus.Len() != 2 {
		t.Fatalf("expected 2 subscriptions, got %d", bus.Len())
	}
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	s.Close()
	s.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after Close")
	}
	if bus.Len() != 1 {
		t.Fatalf("expected only the other subscription left, got %d", bus.Len())
	}
	if !sender.released {
		t.Fatal("sender not released")
	}
}

func TestCustomAvatarMapper(t *testing.T) {
	bus := eventbus.New()
	s := New("alice", &recordingSender{}, bus,
		WithLogger(logx.Discard()),
		WithAvatarMapper(func(name string) string { return "avatar://" + name }),
	)
	defer s.Close()
	if _, err := s.Apply(usersFrame(t, "bob")); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := s.Roster()[0].AvatarURL; got != "avatar://bob" {
		t.Fatalf("unexpected avatar %q", got)
	}
}

func TestGIFSuffixDetection(t *testing.T) {
	cases := []struct {
		body string
		want ContentKind
	}{
		{"http://x/y.gif", ContentImage},
		{".gif", ContentImage},
		{"hello.gif please", ContentText},
		{"http://x/y.GIF", ContentText},
		{"http://x/y.gifv", ContentText},
		{"hello", ContentText},
		{"", ContentText},
	}
	for _, tc := range cases {
		if got := (ChatMessage{From: "bob", Body: tc.body}).Kind(); got != tc.want {
			t.Errorf("Kind(%q) = %v, want %v", tc.body, got, tc.want)
		}
	}
}

func TestRunNotifiesOnDroppedFrames(t *testing.T) {
	bus := eventbus.New()
	changed := make(chan struct{}, 4)
	s := New("alice", &recordingSender{}, bus, WithLogger(logx.Discard()), WithOnChange(func() { changed <- struct{}{} }))
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	bus.Publish(`{"messageType":"message"}`)
	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Fatal("dropped frame did not trigger a change notification")
	}
	if s.Dropped() != 1 {
		t.Fatalf("expected 1 dropped frame, got %d", s.Dropped())
	}
}

func TestDiceBearAvatarEscapesName(t *testing.T) {
	cases := map[string]string{
		"alice":    "https://avatars.dicebear.com/api/adventurer-neutral/alice.svg",
		"jane doe": "https://avatars.dicebear.com/api/adventurer-neutral/jane%20doe.svg",
		"a/b":      "https://avatars.dicebear.com/api/adventurer-neutral/a%2Fb.svg",
	}
	for name, want := range cases {
		if got := DiceBearAvatar(name); got != want {
			t.Errorf("DiceBearAvatar(%q) = %q, want %q", name, got, want)
		}
	}
}
