/*
Package relay is a small chat server speaking the roster protocol.

Clients register a name, receive a users snapshot after every join or
leave, and see every message frame rebroadcast verbatim to all registered
connections, their own included.
*/
package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"rosterchat/internal/logx"
)

const (
	DefaultPath      = "/join"
	DefaultRateLimit = 5.0
	DefaultRateBurst = 10

	upgradeRate     = 1.0
	upgradeBurst    = 10
	sweepInterval   = 3 * time.Minute
	visitorIdleTime = 10 * time.Minute
)

// Config tunes a Server. Zero values fall back to the defaults above.
type Config struct {
	Path string
	// AllowedOrigins lists browser origins allowed to connect. Empty or "*"
	// allows any origin.
	AllowedOrigins []string
	// RateLimit is the sustained number of message frames per second a
	// connection may send; RateBurst is the bucket size.
	RateLimit float64
	RateBurst int
}

func (cfg Config) withDefaults() Config {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = DefaultRateBurst
	}
	return cfg
}

type Option func(*Server)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// Server serves the websocket endpoint plus a few read-only JSON endpoints.
type Server struct {
	cfg      Config
	hub      *Hub
	metrics  *Metrics
	upgrades *ipLimiter
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewServer builds a relay. presence may be nil. Call Run before serving.
func NewServer(cfg Config, presence PresenceRecorder, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg.withDefaults(),
		metrics:  NewMetrics(),
		upgrades: newIPLimiter(rate.Limit(upgradeRate), upgradeBurst),
		logger:   logx.With("relay"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = newHub(presence, s.metrics, s.logger)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Run drives the hub until ctx is cancelled, then closes every connection.
func (s *Server) Run(ctx context.Context) {
	go s.sweepVisitors(ctx)
	s.hub.run(ctx)
}

func (s *Server) sweepVisitors(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if removed := s.upgrades.sweep(now, visitorIdleTime); removed > 0 {
				s.logger.Debug().Int("removed", removed).Msg("swept idle upgrade limiters")
			}
		}
	}
}

func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Router returns the HTTP handler for the relay.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	c := cors.New(cors.Options{
		AllowedOrigins: s.corsOrigins(),
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	})
	r.Use(c.Handler)
	r.Use(middleware.RequestID)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/users", s.handleUsers)
	r.Method(http.MethodGet, "/metrics", s.metrics)
	r.Get(s.cfg.Path, s.ServeWS)
	return r
}

// ServeWS upgrades the request and starts the connection's pumps.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !s.upgrades.Allow(r.RemoteAddr) {
		s.metrics.IncRejected()
		s.logger.Warn().Str("ip", clientIP(r.RemoteAddr)).Msg("upgrade rejected: rate limit exceeded")
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.metrics.IncRejected()
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	limiter := rate.NewLimiter(rate.Limit(s.cfg.RateLimit), s.cfg.RateBurst)
	c := newConn(s.hub, ws, limiter, s.metrics, s.logger)
	c.logger.Debug().Str("ip", clientIP(r.RemoteAddr)).Msg("connection opened")

	if !s.hub.enqueue(s.hub.register, c) {
		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		_ = ws.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"status":      "ok",
		"connections": s.hub.Size(),
	})
}

func (s *Server) handleUsers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"users": s.hub.Roster()})
}

func (s *Server) allowAnyOrigin() bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, origin := range s.cfg.AllowedOrigins {
		if origin == "*" {
			return true
		}
	}
	return false
}

func (s *Server) corsOrigins() []string {
	if s.allowAnyOrigin() {
		return []string{"*"}
	}
	return s.cfg.AllowedOrigins
}

// checkOrigin lets non-browser clients through; they send no Origin header.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || s.allowAnyOrigin() {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == origin {
			return true
		}
	}
	s.logger.Warn().Str("origin", origin).Msg("upgrade rejected: origin not allowed")
	return false
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}
