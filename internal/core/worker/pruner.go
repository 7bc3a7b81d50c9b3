package worker

import (
	"context"
	"log/slog"
	"time"
)

// Prunable removes expired entries and reports how many it removed.
type Prunable interface {
	Prune(ctx context.Context) (int, error)
}

// Pruner periodically evicts expired data from a store.
type Pruner struct {
	name     string
	target   Prunable
	interval time.Duration
	log      *slog.Logger
}

// NewPruner creates a new Pruner worker.
func NewPruner(name string, target Prunable, interval time.Duration, log *slog.Logger) *Pruner {
	if log == nil {
		log = slog.Default()
	}
	return &Pruner{
		name:     name,
		target:   target,
		interval: interval,
		log:      log,
	}
}

// Start runs the pruner loop until ctx is done.
func (p *Pruner) Start(ctx context.Context) {
	if p.interval <= 0 {
		return // Pruning disabled
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *Pruner) prune(ctx context.Context) {
	n, err := p.target.Prune(ctx)
	if err != nil {
		p.log.Error("prune failed", "store", p.name, "error", err)
		return
	}
	if n > 0 {
		p.log.Debug("pruned expired entries", "store", p.name, "removed", n)
	}
}
