package cursor

import (
	"time"
)

// transitionHistory is how many state changes a collector remembers.
const transitionHistory = 10

type blockRecord struct {
	BlockNumber uint64
	ProcessedAt time.Time
}

// Metrics is a snapshot of a listener's throughput and recent lifecycle.
type Metrics struct {
	BlocksPerSecond      float64
	AverageBlockTime     time.Duration
	LastUnsubscribedAt   *time.Time
	LastBlockProcessedAt *time.Time
	StateHistory         []Transition
}

// MetricsCollector keeps a sliding window of delivered blocks and the latest
// transitions. It is not safe for concurrent use; Lifecycle serializes access.
type MetricsCollector struct {
	windowSize         int
	blockTimes         []blockRecord
	transitions        []Transition
	lastUnsubscribedAt *time.Time
}

// pushBounded appends v and drops the oldest entries beyond limit.
func pushBounded[T any](s []T, v T, limit int) []T {
	s = append(s, v)
	if over := len(s) - limit; over > 0 {
		s = append(s[:0], s[over:]...)
	}
	return s
}

func (mc *MetricsCollector) RecordBlock(blockNumber uint64, processedAt time.Time) {
	mc.blockTimes = pushBounded(mc.blockTimes, blockRecord{BlockNumber: blockNumber, ProcessedAt: processedAt}, mc.windowSize)
}

func (mc *MetricsCollector) RecordTransition(t Transition) {
	mc.transitions = pushBounded(mc.transitions, t, transitionHistory)
	if t.To == StateUnsubscribed {
		at := t.Timestamp
		mc.lastUnsubscribedAt = &at
	}
}

// GetMetrics derives rates from the first and last block in the window.
func (mc *MetricsCollector) GetMetrics() Metrics {
	m := Metrics{
		LastUnsubscribedAt: mc.lastUnsubscribedAt,
		StateHistory:       append([]Transition(nil), mc.transitions...),
	}

	n := len(mc.blockTimes)
	if n == 0 {
		return m
	}
	newest := mc.blockTimes[n-1].ProcessedAt
	m.LastBlockProcessedAt = &newest
	if n < 2 {
		return m
	}

	span := newest.Sub(mc.blockTimes[0].ProcessedAt)
	if span <= 0 {
		return m
	}
	gaps := float64(n - 1)
	m.BlocksPerSecond = gaps / span.Seconds()
	m.AverageBlockTime = time.Duration(float64(span) / gaps)
	return m
}
