// Package metrics provides lightweight, lock-free counters and gauges
// for tracking runtime statistics of an appserver instance.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for an appserver instance.
// A nil Collector is safe to use; all methods become no-ops.
type Collector struct {
	clientsActive    atomic.Int64
	clientsAccepted  atomic.Int64
	clientsPending   atomic.Int64
	clientsReclaimed atomic.Int64
	sweeps           atomic.Int64
	bytesIn          atomic.Int64
	bytesOut         atomic.Int64
	tunnelReconnects atomic.Int64
	errorsTotal      atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastSweep    time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Client lifecycle ─────────────────────────────────────────────────

// ClientAccepted records a newly accepted client.
func (c *Collector) ClientAccepted() {
	if c == nil {
		return
	}
	c.clientsActive.Add(1)
	c.clientsAccepted.Add(1)
}

// ClientClosed moves one client from the active gauge to the
// pending-deletion gauge.
func (c *Collector) ClientClosed() {
	if c == nil {
		return
	}
	c.clientsActive.Add(-1)
	c.clientsPending.Add(1)
}

// ClientReclaimed records the destruction of one client.  wasActive
// reports whether it was destroyed straight from the active set, as
// happens at shutdown, rather than after being marked closed.
func (c *Collector) ClientReclaimed(wasActive bool) {
	if c == nil {
		return
	}
	if wasActive {
		c.clientsActive.Add(-1)
	} else {
		c.clientsPending.Add(-1)
	}
	c.clientsReclaimed.Add(1)
}

// SweepCompleted records one run of the deferred-deletion sweep.
func (c *Collector) SweepCompleted() {
	if c == nil {
		return
	}
	c.sweeps.Add(1)
	c.mu.Lock()
	c.lastSweep = time.Now()
	c.mu.Unlock()
}

// ActiveClients returns the number of clients believed open.
func (c *Collector) ActiveClients() int64 {
	if c == nil {
		return 0
	}
	return c.clientsActive.Load()
}

// PendingClients returns the number of closed clients awaiting a sweep.
func (c *Collector) PendingClients() int64 {
	if c == nil {
		return 0
	}
	return c.clientsPending.Load()
}

// TotalAccepted returns the lifetime accepted-client count.
func (c *Collector) TotalAccepted() int64 {
	if c == nil {
		return 0
	}
	return c.clientsAccepted.Load()
}

// Reclaimed returns the lifetime count of destroyed clients.
func (c *Collector) Reclaimed() int64 {
	if c == nil {
		return 0
	}
	return c.clientsReclaimed.Load()
}

// Sweeps returns the number of sweeps performed.
func (c *Collector) Sweeps() int64 {
	if c == nil {
		return 0
	}
	return c.sweeps.Load()
}

// ── I/O metrics ──────────────────────────────────────────────────────

// BytesReceived records n bytes read from the network.
func (c *Collector) BytesReceived(n int64) {
	if c == nil {
		return
	}
	c.bytesIn.Add(n)
}

// BytesSent records n bytes written to the network.
func (c *Collector) BytesSent(n int64) {
	if c == nil {
		return
	}
	c.bytesOut.Add(n)
}

// TotalBytesIn returns total bytes received.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// TotalBytesOut returns total bytes sent.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// ── Tunnel metrics ───────────────────────────────────────────────────

// TunnelReconnect records a remote listener reconnection.
func (c *Collector) TunnelReconnect() {
	if c == nil {
		return
	}
	c.tunnelReconnects.Add(1)
}

// TunnelReconnects returns the total tunnel reconnection count.
func (c *Collector) TunnelReconnects() int64 {
	if c == nil {
		return 0
	}
	return c.tunnelReconnects.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime           string `json:"uptime"`
	ClientsActive    int64  `json:"clients_active"`
	ClientsPending   int64  `json:"clients_pending"`
	ClientsAccepted  int64  `json:"clients_accepted"`
	ClientsReclaimed int64  `json:"clients_reclaimed"`
	Sweeps           int64  `json:"sweeps"`
	BytesIn          int64  `json:"bytes_in"`
	BytesOut         int64  `json:"bytes_out"`
	TunnelReconnects int64  `json:"tunnel_reconnects"`
	ErrorsTotal      int64  `json:"errors_total"`
	LastSweep        string `json:"last_sweep,omitempty"`
	LastError        string `json:"last_error,omitempty"`
	LastErrorMessage string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:           time.Since(c.startTime).Truncate(time.Second).String(),
		ClientsActive:    c.clientsActive.Load(),
		ClientsPending:   c.clientsPending.Load(),
		ClientsAccepted:  c.clientsAccepted.Load(),
		ClientsReclaimed: c.clientsReclaimed.Load(),
		Sweeps:           c.sweeps.Load(),
		BytesIn:          c.bytesIn.Load(),
		BytesOut:         c.bytesOut.Load(),
		TunnelReconnects: c.tunnelReconnects.Load(),
		ErrorsTotal:      c.errorsTotal.Load(),
	}
	if !c.lastSweep.IsZero() {
		s.LastSweep = c.lastSweep.Format(time.RFC3339)
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
