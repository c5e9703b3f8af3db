package api

import (
	"sync/atomic"
	"time"
)

// Metrics collects in-memory server metrics using atomic counters.
type Metrics struct {
	startTime    time.Time
	requests     atomic.Int64
	serverErrors atomic.Int64
	clientErrors atomic.Int64
	rateLimited  atomic.Int64
	logins       atomic.Int64
	loginsFailed atomic.Int64
	taskMoves    atomic.Int64
	uploadBytes  atomic.Int64
}

// MetricsSnapshot is a point-in-time view of server metrics.
type MetricsSnapshot struct {
	UptimeSeconds float64 `json:"uptime_seconds"`
	Requests      int64   `json:"requests"`
	ServerErrors  int64   `json:"server_errors"`
	ClientErrors  int64   `json:"client_errors"`
	RateLimited   int64   `json:"rate_limited"`
	Logins        int64   `json:"logins"`
	LoginsFailed  int64   `json:"logins_failed"`
	TaskMoves     int64   `json:"task_moves"`
	UploadBytes   int64   `json:"upload_bytes"`
}

// NewMetrics creates a new Metrics instance with the current time as start.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordRequest increments the total request counter.
func (m *Metrics) RecordRequest() {
	m.requests.Add(1)
}

// RecordError increments the server error (5xx) counter.
func (m *Metrics) RecordError() {
	m.serverErrors.Add(1)
}

// RecordClientError increments the client error (4xx) counter.
func (m *Metrics) RecordClientError() {
	m.clientErrors.Add(1)
}

// RecordRateLimited increments the rejected-by-rate-limit counter.
func (m *Metrics) RecordRateLimited() {
	m.rateLimited.Add(1)
}

// RecordLogin counts a login attempt.
func (m *Metrics) RecordLogin(ok bool) {
	if ok {
		m.logins.Add(1)
		return
	}
	m.loginsFailed.Add(1)
}

// RecordTaskMove increments the kanban move counter.
func (m *Metrics) RecordTaskMove() {
	m.taskMoves.Add(1)
}

// RecordUpload adds n to the uploaded bytes counter.
func (m *Metrics) RecordUpload(n int64) {
	m.uploadBytes.Add(n)
}

// Snapshot returns a point-in-time copy of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		UptimeSeconds: time.Since(m.startTime).Seconds(),
		Requests:      m.requests.Load(),
		ServerErrors:  m.serverErrors.Load(),
		ClientErrors:  m.clientErrors.Load(),
		RateLimited:   m.rateLimited.Load(),
		Logins:        m.logins.Load(),
		LoginsFailed:  m.loginsFailed.Load(),
		TaskMoves:     m.taskMoves.Load(),
		UploadBytes:   m.uploadBytes.Load(),
	}
}
