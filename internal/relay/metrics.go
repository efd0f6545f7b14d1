package relay

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
)

// Metrics holds the relay's counters. The zero value is ready to use.
type Metrics struct {
	activeConns   atomic.Int64
	registrations atomic.Uint64
	relayed       atomic.Uint64
	dropped       atomic.Uint64
	rejected      atomic.Uint64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncConn() {
	m.activeConns.Add(1)
}

func (m *Metrics) DecConn() {
	m.activeConns.Add(-1)
}

func (m *Metrics) IncRegistration() {
	m.registrations.Add(1)
}

// IncRelayed counts one message frame fanned out, not one per recipient.
func (m *Metrics) IncRelayed() {
	m.relayed.Add(1)
}

func (m *Metrics) IncDropped() {
	m.dropped.Add(1)
}

// IncRejected counts upgrade attempts turned away before a connection exists.
func (m *Metrics) IncRejected() {
	m.rejected.Add(1)
}

// Snapshot is the JSON body served on /metrics.
type Snapshot struct {
	ActiveConnections int64  `json:"active_connections"`
	Registrations     uint64 `json:"registrations_total"`
	FramesRelayed     uint64 `json:"frames_relayed_total"`
	FramesDropped     uint64 `json:"frames_dropped_total"`
	UpgradesRejected  uint64 `json:"upgrades_rejected_total"`
}

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		ActiveConnections: m.activeConns.Load(),
		Registrations:     m.registrations.Load(),
		FramesRelayed:     m.relayed.Load(),
		FramesDropped:     m.dropped.Load(),
		UpgradesRejected:  m.rejected.Load(),
	}
}

func (m *Metrics) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(m.Snapshot())
}
