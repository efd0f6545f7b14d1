package relay

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ipLimiter hands out one token bucket per remote IP. It guards the upgrade
// endpoint; per-connection message limits live on the connection itself.
type ipLimiter struct {
	mu     sync.Mutex
	limits map[string]*visitor
	r      rate.Limit
	b      int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPLimiter(r rate.Limit, b int) *ipLimiter {
	return &ipLimiter{
		limits: make(map[string]*visitor),
		r:      r,
		b:      b,
	}
}

// Allow reports whether remoteAddr may open another connection now.
func (l *ipLimiter) Allow(remoteAddr string) bool {
	return l.get(clientIP(remoteAddr), time.Now()).Allow()
}

func (l *ipLimiter) get(ip string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.limits[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.r, l.b)}
		l.limits[ip] = v
	}
	v.lastSeen = now
	return v.limiter
}

// sweep forgets visitors idle for longer than maxIdle.
func (l *ipLimiter) sweep(now time.Time, maxIdle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for ip, v := range l.limits {
		if now.Sub(v.lastSeen) > maxIdle {
			delete(l.limits, ip)
			removed++
		}
	}
	return removed
}

func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil || host == "" {
		if remoteAddr == "" {
			return "unknown_ip"
		}
		return remoteAddr
	}
	return host
}
