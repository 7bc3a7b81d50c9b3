// Package cursor tracks where a chain listener is in its lifecycle and how far it has read.
//
// # Purpose
//
// Each listener owns exactly one Lifecycle and one Watermark:
//   - Lifecycle: the state machine init → subscribe → unsubscribe, with transition history
//   - Watermark: the highest block number processed so far (LastCachedBlockNumber)
//
// # Key Features
//
// State Machine - Only allows valid transitions:
//
//	UNINITIALIZED → INITIALIZED → SUBSCRIBED → UNSUBSCRIBED (valid)
//	UNINITIALIZED → SUBSCRIBED (invalid - must init first)
//
// Monotonic Watermark - Advance(480) after Advance(500) is accepted but leaves the
// watermark at 500. Replaying old blocks never moves it backward.
//
// Persistence - A Store keeps the watermark across restarts so the next run can compute
// the offline range it missed.
//
// # Quick Start
//
//	lc := cursor.NewLifecycle("ethereum")
//	lc.SetStateChangeCallback(func(chainID string, t cursor.Transition) {
//	    log.Printf("listener %s: %s -> %s (%s)", chainID, t.From, t.To, t.Reason)
//	})
//
//	lc.Transition(cursor.StateInitialized, "adapter connected")  // ✓ OK
//	lc.Transition(cursor.StateUnsubscribed, "stop")              // ✗ ErrInvalidTransition
//
//	var wm cursor.Watermark
//	wm.Advance(500) // true
//	wm.Advance(480) // false, still 500
//
// # Package Structure
//
//   - state.go     - State machine definitions and valid transitions
//   - lifecycle.go - Lifecycle implementation with callbacks and history
//   - watermark.go - Monotonic watermark and its Store contract
//   - metrics.go   - Performance metrics (blocks/sec, state history)
package cursor

// NewLifecycle creates a lifecycle in StateUninitialized for a chain.
func NewLifecycle(chainID string) *Lifecycle {
	return &Lifecycle{
		chainID: chainID,
		state:   StateUninitialized,
		metrics: NewMetricsCollector(100),
	}
}

// NewMetricsCollector creates a new metrics collector with the given window size.
func NewMetricsCollector(windowSize int) *MetricsCollector {
	if windowSize <= 0 {
		windowSize = 100
	}
	return &MetricsCollector{
		windowSize:  windowSize,
		blockTimes:  make([]blockRecord, 0, windowSize),
		transitions: make([]Transition, 0, 10),
	}
}
