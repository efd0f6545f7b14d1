// Package eventbus provides the in-memory relay that fans every inbound
// connection frame out to all live subscribers.
package eventbus

import (
	"sync"

	"github.com/google/uuid"
)

// Bus is a single-topic publish/subscribe relay over raw text. Create one per
// process with New, pass it to whoever needs it, and Close it on shutdown.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[string]*Subscription)}
}

// Subscribe registers a new feed. Only texts published after this call are
// delivered. Subscribing to a closed bus returns an already closed feed.
func (b *Bus) Subscribe() *Subscription {
	sub := newSubscription(b, uuid.NewString())
	go sub.pump()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.shutdown()
		return sub
	}
	b.subs[sub.id] = sub
	return sub
}

// Publish queues text for every live subscription. It never blocks on a slow
// subscriber and never drops.
func (b *Bus) Publish(text string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		sub.enqueue(text)
	}
}

// Len reports the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close ends every subscription. Later subscriptions are born closed.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]*Subscription)
	b.closed = true
	b.mu.Unlock()

	for _, sub := range subs {
		sub.shutdown()
	}
}

func (b *Bus) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Subscription is one consumer's private feed.
type Subscription struct {
	bus *Bus
	id  string
	out chan string

	mu      sync.Mutex
	queue   []string
	wake    chan struct{}
	done    chan struct{}
	stopped bool
}

func newSubscription(bus *Bus, id string) *Subscription {
	return &Subscription{
		bus:  bus,
		id:   id,
		out:  make(chan string),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// ID identifies the subscription in logs.
func (s *Subscription) ID() string {
	return s.id
}

// C delivers published texts in publish order. It is closed once the
// subscription ends.
func (s *Subscription) C() <-chan string {
	return s.out
}

// Close unsubscribes. Texts queued but not yet received are discarded.
// Calling Close more than once is fine.
func (s *Subscription) Close() {
	s.bus.remove(s.id)
	s.shutdown()
}

func (s *Subscription) enqueue(text string) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, text)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// shutdown stops the pump, which closes out on its way out.
func (s *Subscription) shutdown() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.queue = nil
	s.mu.Unlock()
	close(s.done)
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		next := s.queue[0]
		s.queue[0] = ""
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- next:
		case <-s.done:
			return
		}
	}
}
