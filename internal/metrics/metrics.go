// Package metrics provides lightweight, lock-free counters for
// tracking runtime statistics of the proxy and the credential broker.
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

// Collector tracks runtime metrics for one process.
// A nil Collector is safe to use: all methods become no-ops.
type Collector struct {
	connectionsActive  atomic.Int64
	connectionsTotal   atomic.Int64
	connectionsDropped atomic.Int64

	status2xx   atomic.Int64
	status400   atomic.Int64
	status404   atomic.Int64
	status405   atomic.Int64
	statusOther atomic.Int64

	cacheHits         atomic.Int64
	cacheMisses       atomic.Int64
	resolutionsOK     atomic.Int64
	resolutionsFailed atomic.Int64
	brokerSessions    atomic.Int64
	brokerRejected    atomic.Int64
	errorsTotal       atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Connection metrics ───────────────────────────────────────────────

// ConnectionOpened increments both the active and total counters.
func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(1)
	c.connectionsTotal.Add(1)
}

// ConnectionClosed decrements the active connection counter.
func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(-1)
}

// ConnectionDropped records a connection closed without a response
// (malformed or empty request).
func (c *Collector) ConnectionDropped() {
	if c == nil {
		return
	}
	c.connectionsDropped.Add(1)
}

// ActiveConnections returns the current number of open connections.
func (c *Collector) ActiveConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsActive.Load()
}

// TotalConnections returns the lifetime connection count.
func (c *Collector) TotalConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsTotal.Load()
}

// ── Response metrics ─────────────────────────────────────────────────

// ResponseSent records the status code of a finished response.
func (c *Collector) ResponseSent(code int) {
	if c == nil {
		return
	}
	switch {
	case code >= 200 && code < 300:
		c.status2xx.Add(1)
	case code == 400:
		c.status400.Add(1)
	case code == 404:
		c.status404.Add(1)
	case code == 405:
		c.status405.Add(1)
	default:
		c.statusOther.Add(1)
	}
}

// ── Resolver metrics ─────────────────────────────────────────────────

// CacheHit records a stream URL served from the cache.
func (c *Collector) CacheHit() {
	if c == nil {
		return
	}
	c.cacheHits.Add(1)
}

// CacheMiss records a lookup that had to start a resolution.
func (c *Collector) CacheMiss() {
	if c == nil {
		return
	}
	c.cacheMisses.Add(1)
}

// Resolution records the outcome of an authenticated resolution.
func (c *Collector) Resolution(ok bool) {
	if c == nil {
		return
	}
	if ok {
		c.resolutionsOK.Add(1)
	} else {
		c.resolutionsFailed.Add(1)
	}
}

// CacheHits returns the number of cache hits.
func (c *Collector) CacheHits() int64 {
	if c == nil {
		return 0
	}
	return c.cacheHits.Load()
}

// CacheMisses returns the number of cache misses.
func (c *Collector) CacheMisses() int64 {
	if c == nil {
		return 0
	}
	return c.cacheMisses.Load()
}

// ── Broker metrics ───────────────────────────────────────────────────

// BrokerSession records a credential pair handed out by the broker.
func (c *Collector) BrokerSession() {
	if c == nil {
		return
	}
	c.brokerSessions.Add(1)
}

// BrokerRejected records a broker connection closed without a reply.
func (c *Collector) BrokerRejected() {
	if c == nil {
		return
	}
	c.brokerRejected.Add(1)
}

// BrokerSessions returns the number of credential pairs handed out.
func (c *Collector) BrokerSessions() int64 {
	if c == nil {
		return 0
	}
	return c.brokerSessions.Load()
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
	Uptime             string `json:"uptime"`
	ConnectionsActive  int64  `json:"connections_active"`
	ConnectionsTotal   int64  `json:"connections_total"`
	ConnectionsDropped int64  `json:"connections_dropped"`
	Status2xx          int64  `json:"status_2xx"`
	Status400          int64  `json:"status_400"`
	Status404          int64  `json:"status_404"`
	Status405          int64  `json:"status_405"`
	StatusOther        int64  `json:"status_other"`
	CacheHits          int64  `json:"cache_hits"`
	CacheMisses        int64  `json:"cache_misses"`
	ResolutionsOK      int64  `json:"resolutions_ok"`
	ResolutionsFailed  int64  `json:"resolutions_failed"`
	BrokerSessions     int64  `json:"broker_sessions"`
	BrokerRejected     int64  `json:"broker_rejected"`
	ErrorsTotal        int64  `json:"errors_total"`
	LastError          string `json:"last_error,omitempty"`
	LastErrorMessage   string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:             time.Since(c.startTime).Truncate(time.Second).String(),
		ConnectionsActive:  c.connectionsActive.Load(),
		ConnectionsTotal:   c.connectionsTotal.Load(),
		ConnectionsDropped: c.connectionsDropped.Load(),
		Status2xx:          c.status2xx.Load(),
		Status400:          c.status400.Load(),
		Status404:          c.status404.Load(),
		Status405:          c.status405.Load(),
		StatusOther:        c.statusOther.Load(),
		CacheHits:          c.cacheHits.Load(),
		CacheMisses:        c.cacheMisses.Load(),
		ResolutionsOK:      c.resolutionsOK.Load(),
		ResolutionsFailed:  c.resolutionsFailed.Load(),
		BrokerSessions:     c.brokerSessions.Load(),
		BrokerRejected:     c.brokerRejected.Load(),
		ErrorsTotal:        c.errorsTotal.Load(),
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
