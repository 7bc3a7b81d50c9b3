package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/chainevents/internal/core/cursor"
)

// Target is the view of a listener the monitor needs.
type Target interface {
	ChainID() string
	State() cursor.State
	Watermark() uint64
	Healthy() bool
	LatestBlock(ctx context.Context) (uint64, error)
}

// lifecycleOwner is implemented by targets that expose their state machine.
type lifecycleOwner interface {
	Lifecycle() *cursor.Lifecycle
}

// TargetsFunc returns the listeners to check. The set may change between calls.
type TargetsFunc func() []Target

// Monitor aggregates health status of all running listeners.
type Monitor struct {
	targets  TargetsFunc
	cacheTTL time.Duration
	now      func() time.Time

	mu         sync.Mutex
	lastCheck  time.Time
	lastReport map[string]ChainHealth
}

// NewMonitor creates a new health monitor. Reports are cached for cacheTTL.
func NewMonitor(targets TargetsFunc, cacheTTL time.Duration) *Monitor {
	return &Monitor{
		targets:    targets,
		cacheTTL:   cacheTTL,
		now:        time.Now,
		lastReport: make(map[string]ChainHealth),
	}
}

// CheckHealth performs a health check for all chains.
func (m *Monitor) CheckHealth(ctx context.Context) map[string]ChainHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Rate limit checks to avoid spamming RPC
	if m.now().Sub(m.lastCheck) < m.cacheTTL && len(m.lastReport) > 0 {
		return m.lastReport
	}

	report := make(map[string]ChainHealth)
	for _, t := range m.targets() {
		report[t.ChainID()] = check(ctx, t)
	}

	m.lastCheck = m.now()
	m.lastReport = report
	return report
}

// check evaluates one listener. Only a subscribed listener on a live connection is
// healthy. Lag is reported but not judged: listeners only see blocks that carry
// tracked events, so a quiet chain lags without being unhealthy.
func check(ctx context.Context, t Target) ChainHealth {
	state := t.State()
	h := ChainHealth{
		ChainID:   t.ChainID(),
		Status:    StatusHealthy,
		State:     string(state),
		Connected: t.Healthy(),
		Watermark: t.Watermark(),
	}
	if lo, ok := t.(lifecycleOwner); ok {
		m := lo.Lifecycle().GetMetrics()
		h.BlocksPerSecond = m.BlocksPerSecond
		h.LastBlockAt = m.LastBlockProcessedAt
	}

	if state != cursor.StateSubscribed {
		h.Status = StatusCritical
		return h
	}
	if !h.Connected {
		h.Status = StatusDegraded
	}

	latest, err := t.LatestBlock(ctx)
	if err != nil {
		h.Status = StatusDegraded
		h.Error = err.Error()
		return h
	}
	h.LatestBlock = latest
	if latest > h.Watermark {
		h.BlockLag = latest - h.Watermark
	}
	return h
}
