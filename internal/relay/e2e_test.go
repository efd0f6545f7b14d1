package relay

import (
	"context"
	"reflect"
	"testing"

	"rosterchat/internal/channel"
	"rosterchat/internal/eventbus"
	"rosterchat/internal/logx"
	"rosterchat/internal/session"
	"rosterchat/internal/storage"
)

type chatClient struct {
	session *session.Session
	channel *channel.Channel
}

func connectClient(t *testing.T, url, username string) *chatClient {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	transport, err := channel.DialWebsocket(ctx, url)
	if err != nil {
		cancel()
		t.Fatalf("DialWebsocket: %v", err)
	}
	bus := eventbus.New()
	ch := channel.New(transport, bus, channel.WithLogger(logx.Discard()))
	sess := session.New(username, ch.Sender(), bus, session.WithLogger(logx.Discard()))
	go func() { _ = ch.Run(ctx) }()
	go func() { _ = sess.Run(ctx) }()
	t.Cleanup(func() {
		sess.Close()
		_ = ch.Close()
		bus.Close()
		cancel()
	})
	return &chatClient{session: sess, channel: ch}
}

func rosterNames(s *session.Session) []string {
	out := []string{}
	for _, profile := range s.Roster() {
		out = append(out, profile.Name)
	}
	return out
}

func TestSessionsChatThroughRelay(t *testing.T) {
	store, err := storage.NewStore("sqlite://file:" + t.Name() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	relay := startRelay(t, Config{}, store)

	alice := connectClient(t, relay.wsURL, "alice")
	eventually(t, func() bool { return reflect.DeepEqual(rosterNames(alice.session), []string{"alice"}) },
		"alice never saw herself in the roster")
	bob := connectClient(t, relay.wsURL, "bob")

	both := []string{"alice", "bob"}
	eventually(t, func() bool {
		return reflect.DeepEqual(rosterNames(alice.session), both) && reflect.DeepEqual(rosterNames(bob.session), both)
	}, "rosters did not converge")

	bob.session.SetInput("hi alice")
	if !bob.session.Submit() {
		t.Fatal("submit returned false")
	}
	want := []session.ChatMessage{{From: "bob", Body: "hi alice"}}
	eventually(t, func() bool {
		return reflect.DeepEqual(alice.session.Log(), want) && reflect.DeepEqual(bob.session.Log(), want)
	}, "message was not delivered to both sessions")

	_ = bob.channel.Close()
	eventually(t, func() bool { return reflect.DeepEqual(rosterNames(alice.session), []string{"alice"}) },
		"bob's departure never reached alice")

	events, err := store.RecentPresence(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentPresence: %v", err)
	}
	if len(events) != 2 || events[0].Username != "bob" || events[0].LeftAt == nil || events[1].LeftAt != nil {
		t.Fatalf("unexpected presence log: %+v", events)
	}
}
