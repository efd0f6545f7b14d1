package relay

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"rosterchat/internal/protocol"
)

// PresenceRecorder receives join and leave events for registered
// connections. storage.Store implements it.
type PresenceRecorder interface {
	RecordJoin(ctx context.Context, connID, username string, at time.Time) error
	RecordLeave(ctx context.Context, connID string, at time.Time) error
}

type registration struct {
	conn *conn
	name string
}

type outbound struct {
	from    *conn
	payload []byte
}

// Hub owns every live connection. All membership changes and fan-out happen
// on the run goroutine; mu only guards what HTTP handlers read.
type Hub struct {
	register   chan *conn
	named      chan registration
	unregister chan *conn
	broadcast  chan outbound
	done       chan struct{}

	mu     sync.RWMutex
	conns  map[*conn]bool
	roster []string

	seq      uint64
	presence PresenceRecorder
	metrics  *Metrics
	logger   zerolog.Logger
}

func newHub(presence PresenceRecorder, metrics *Metrics, logger zerolog.Logger) *Hub {
	return &Hub{
		register:   make(chan *conn),
		named:      make(chan registration),
		unregister: make(chan *conn),
		broadcast:  make(chan outbound, 256),
		done:       make(chan struct{}),
		conns:      make(map[*conn]bool),
		roster:     []string{},
		presence:   presence,
		metrics:    metrics,
		logger:     logger,
	}
}

// Roster returns the distinct registered names in registration order.
func (hub *Hub) Roster() []string {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	out := make([]string, len(hub.roster))
	copy(out, hub.roster)
	return out
}

// Size returns the number of open connections, registered or not.
func (hub *Hub) Size() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.conns)
}

func (hub *Hub) run(ctx context.Context) {
	defer hub.shutdown()
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-hub.register:
			hub.mu.Lock()
			hub.conns[c] = true
			hub.mu.Unlock()
			hub.metrics.IncConn()
		case reg := <-hub.named:
			hub.handleRegister(ctx, reg)
		case c := <-hub.unregister:
			if hub.remove(c) && c.username != "" {
				hub.recordLeave(ctx, c)
				hub.broadcastUsers()
			}
		case out := <-hub.broadcast:
			hub.fanOut(ctx, out)
		}
	}
}

func (hub *Hub) handleRegister(ctx context.Context, reg registration) {
	c := reg.conn
	if !hub.conns[c] {
		return
	}
	if c.username != "" {
		// A connection keeps the name it first registered with.
		c.logger.Debug().Str("requested", reg.name).Msg("ignoring repeated register")
		hub.metrics.IncDropped()
		return
	}
	hub.seq++
	c.username = reg.name
	c.seq = hub.seq
	hub.metrics.IncRegistration()
	c.logger.Info().Str("username", reg.name).Msg("connection registered")

	if hub.presence != nil {
		if err := hub.presence.RecordJoin(ctx, c.id, c.username, time.Now()); err != nil {
			c.logger.Error().Err(err).Msg("record join failed")
		}
	}
	hub.broadcastUsers()
}

func (hub *Hub) fanOut(ctx context.Context, out outbound) {
	if !hub.conns[out.from] || out.from.username == "" {
		hub.metrics.IncDropped()
		out.from.logger.Debug().Msg("dropping message from unregistered connection")
		return
	}
	hub.metrics.IncRelayed()
	if hub.deliverAll(ctx, out.payload) {
		hub.broadcastUsers()
	}
}

// deliverAll queues payload on every registered connection. Connections too
// slow to keep up are dropped; it reports whether any went away.
func (hub *Hub) deliverAll(ctx context.Context, payload []byte) bool {
	rosterChanged := false
	for c := range hub.conns {
		if c.username == "" {
			continue
		}
		select {
		case c.send <- payload:
		default:
			c.logger.Warn().Str("username", c.username).Msg("send buffer full, dropping connection")
			hub.remove(c)
			hub.recordLeave(ctx, c)
			rosterChanged = true
		}
	}
	return rosterChanged
}

// broadcastUsers sends the current roster to every registered connection.
// Dropping a slow connection changes the roster again, so it repeats until a
// snapshot reaches everyone.
func (hub *Hub) broadcastUsers() {
	for {
		names := hub.computeRoster()
		hub.mu.Lock()
		hub.roster = names
		hub.mu.Unlock()

		text, err := protocol.Encode(protocol.NewUsers(names))
		if err != nil {
			hub.logger.Error().Err(err).Msg("encode users frame")
			return
		}
		if !hub.deliverAll(context.Background(), []byte(text)) {
			return
		}
	}
}

func (hub *Hub) computeRoster() []string {
	registered := make([]*conn, 0, len(hub.conns))
	for c := range hub.conns {
		if c.username != "" {
			registered = append(registered, c)
		}
	}
	sort.Slice(registered, func(i, j int) bool { return registered[i].seq < registered[j].seq })

	seen := make(map[string]bool, len(registered))
	names := make([]string, 0, len(registered))
	for _, c := range registered {
		if seen[c.username] {
			continue
		}
		seen[c.username] = true
		names = append(names, c.username)
	}
	return names
}

// remove drops c from the hub and closes its send queue. It reports false if
// c was already gone.
func (hub *Hub) remove(c *conn) bool {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if !hub.conns[c] {
		return false
	}
	delete(hub.conns, c)
	close(c.send)
	hub.metrics.DecConn()
	return true
}

func (hub *Hub) recordLeave(ctx context.Context, c *conn) {
	if hub.presence == nil || c.username == "" {
		return
	}
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	if err := hub.presence.RecordLeave(ctx, c.id, time.Now()); err != nil {
		c.logger.Error().Err(err).Msg("record leave failed")
	}
}

func (hub *Hub) shutdown() {
	close(hub.done)
	hub.mu.Lock()
	conns := make([]*conn, 0, len(hub.conns))
	for c := range hub.conns {
		conns = append(conns, c)
	}
	hub.mu.Unlock()
	for _, c := range conns {
		if hub.remove(c) {
			hub.recordLeave(context.Background(), c)
		}
	}
	hub.mu.Lock()
	hub.roster = []string{}
	hub.mu.Unlock()
}

// enqueue hands c to the run loop and reports false once the hub is gone.
func (hub *Hub) enqueue(ch chan<- *conn, c *conn) bool {
	select {
	case ch <- c:
		return true
	case <-hub.done:
		return false
	}
}

func (hub *Hub) submitRegister(c *conn, name string) {
	select {
	case hub.named <- registration{conn: c, name: name}:
	case <-hub.done:
	}
}

func (hub *Hub) submitMessage(c *conn, payload []byte) {
	select {
	case hub.broadcast <- outbound{from: c, payload: payload}:
	case <-hub.done:
	}
}
