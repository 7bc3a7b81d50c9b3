package rpc

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Status is the endpoint state the client consults before each call.
type Status int

const (
	StatusHealthy Status = iota
	StatusDegraded
	StatusThrottled
	StatusBlocked
)

var statusNames = [...]string{"healthy", "degraded", "throttled", "blocked"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

const (
	latencyWindow    = 100
	slowAfter        = 3 * time.Second
	throttleCooldown = time.Minute
	blockCooldown    = 10 * time.Minute
)

// throttleMarkers are substrings that providers put in error bodies when they
// rate limit without a 429.
var throttleMarkers = []string{
	"rate limit exceeded",
	"too many requests",
	"daily request count exceeded",
	"project rate limit",
	"monthly quota exceeded",
}

// Monitor watches one endpoint for slow responses and rate limiting.
type Monitor struct {
	mu        sync.RWMutex
	latencies []time.Duration
	sum       time.Duration

	// penalty is StatusThrottled or StatusBlocked until coolUntil.
	penalty   Status
	coolUntil time.Time
	now       func() time.Time
}

func NewMonitor() *Monitor {
	return &Monitor{now: time.Now}
}

func (m *Monitor) RecordRequest(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.latencies = append(m.latencies, latency)
	m.sum += latency
	if len(m.latencies) > latencyWindow {
		m.sum -= m.latencies[0]
		m.latencies = m.latencies[1:]
	}
}

// RecordThrottle starts a cooldown. retryAfter is the raw Retry-After header in
// seconds and only applies to 429; a 403 is treated as an IP block.
func (m *Monitor) RecordThrottle(statusCode int, retryAfter string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch statusCode {
	case http.StatusTooManyRequests:
		wait := throttleCooldown
		if secs, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil && secs > 0 {
			wait = time.Duration(secs) * time.Second
		}
		m.penalise(StatusThrottled, wait)
	case http.StatusForbidden:
		m.penalise(StatusBlocked, blockCooldown)
	}
}

// penalise never shortens or downgrades a cooldown that is still running.
func (m *Monitor) penalise(s Status, wait time.Duration) {
	now := m.now()
	until := now.Add(wait)
	if now.Before(m.coolUntil) {
		s = max(s, m.penalty)
		if m.coolUntil.After(until) {
			until = m.coolUntil
		}
	}
	m.penalty, m.coolUntil = s, until
}

func (m *Monitor) DetectThrottlePattern(message string) bool {
	lower := strings.ToLower(message)
	for _, marker := range throttleMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.now().Before(m.coolUntil) {
		return m.penalty
	}
	if len(m.latencies) > 10 && m.average() > slowAfter {
		return StatusDegraded
	}
	return StatusHealthy
}

// RetryAfter is the remaining cooldown, zero when none is active.
func (m *Monitor) RetryAfter() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return max(m.coolUntil.Sub(m.now()), 0)
}

func (m *Monitor) AverageLatency() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.average()
}

func (m *Monitor) average() time.Duration {
	if len(m.latencies) == 0 {
		return 0
	}
	return m.sum / time.Duration(len(m.latencies))
}
