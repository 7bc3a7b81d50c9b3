package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type countingTarget struct {
	calls atomic.Int32
}

func (c *countingTarget) Prune(context.Context) (int, error) {
	c.calls.Add(1)
	return 1, nil
}

func TestPruner_RunsUntilCancelled(t *testing.T) {
	target := &countingTarget{}
	p := NewPruner("balances", target, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for target.calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	if target.calls.Load() < 2 {
		t.Errorf("expected at least 2 prunes, got %d", target.calls.Load())
	}
}

func TestPruner_DisabledInterval(t *testing.T) {
	target := &countingTarget{}
	p := NewPruner("balances", target, 0, nil)

	// Returns immediately.
	p.Start(context.Background())

	if target.calls.Load() != 0 {
		t.Errorf("expected no prunes, got %d", target.calls.Load())
	}
}
