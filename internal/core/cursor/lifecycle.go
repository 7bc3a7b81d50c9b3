package cursor

import (
	"fmt"
	"sync"
	"time"
)

// Lifecycle holds the state of one listener and enforces the state machine.
type Lifecycle struct {
	chainID string

	mu            sync.RWMutex
	state         State
	stateCallback func(string, Transition)
	metrics       *MetricsCollector
}

// Current returns the current state.
func (l *Lifecycle) Current() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Is reports whether the lifecycle is in state s.
func (l *Lifecycle) Is(s State) bool {
	return l.Current() == s
}

// Transition moves to a new state if the state machine allows it.
func (l *Lifecycle) Transition(to State, reason string) error {
	l.mu.Lock()
	from := l.state
	if !CanTransition(from, to) {
		l.mu.Unlock()
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, from, to)
	}

	transition := NewTransition(from, to, reason)
	l.state = to
	l.metrics.RecordTransition(transition)
	callback := l.stateCallback
	l.mu.Unlock()

	if callback != nil {
		callback(l.chainID, transition)
	}
	return nil
}

// RecordBlock records that a block finished processing.
func (l *Lifecycle) RecordBlock(blockNumber uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.metrics.RecordBlock(blockNumber, time.Now())
}

// GetMetrics returns performance metrics.
func (l *Lifecycle) GetMetrics() Metrics {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.metrics.GetMetrics()
}

// SetStateChangeCallback registers a callback for state changes.
func (l *Lifecycle) SetStateChangeCallback(fn func(chainID string, t Transition)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stateCallback = fn
}
