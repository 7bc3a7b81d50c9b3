package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/vietddude/chainevents/internal/core/domain"
	"github.com/vietddude/chainevents/internal/indexing/metrics"
)

// Source produces the events of one closed window.
type Source interface {
	Window(ctx context.Context, r domain.BlockRange) ([]*domain.ChainEvent, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, r domain.BlockRange) ([]*domain.ChainEvent, error)

func (f SourceFunc) Window(ctx context.Context, r domain.BlockRange) ([]*domain.ChainEvent, error) {
	return f(ctx, r)
}

// Deliver hands one recovered event downstream.
type Deliver func(ctx context.Context, ev *domain.ChainEvent)

// Stats summarises a run.
type Stats struct {
	Windows int
	Events  int
}

// Runner walks windows sequentially.
type Runner struct {
	chainID string
	size    uint64
	source  Source
	log     *slog.Logger
}

// NewRunner creates a runner with the given window size.
func NewRunner(chainID string, size uint64, source Source, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{chainID: chainID, size: size, source: source, log: log}
}

// Run fetches every window of rng, delivers its events in block order and then calls
// done with the window end. The first failing window stops the run.
func (r *Runner) Run(ctx context.Context, rng domain.BlockRange, deliver Deliver, done func(end uint64)) (Stats, error) {
	var stats Stats

	end, ok := rng.End()
	if !ok {
		return stats, fmt.Errorf("backfill range %s must be closed", rng)
	}
	windows, err := SplitRange(rng.StartBlock, end, r.size)
	if err != nil {
		return stats, err
	}

	r.log.Info("backfill started", "range", rng.String(), "windows", len(windows))

	for _, w := range windows {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		events, err := r.source.Window(ctx, w)
		if err != nil {
			return stats, fmt.Errorf("window %s: %w", w, err)
		}
		metrics.BackfillWindows.WithLabelValues(r.chainID).Inc()

		sort.SliceStable(events, func(i, j int) bool {
			return events[i].BlockNumber < events[j].BlockNumber
		})
		for _, ev := range events {
			deliver(ctx, ev)
		}

		stats.Windows++
		stats.Events += len(events)
		metrics.BackfillEvents.WithLabelValues(r.chainID).Add(float64(len(events)))

		wEnd, _ := w.End()
		if done != nil {
			done(wEnd)
		}
		r.log.Debug("backfill window done", "window", w.String(), "events", len(events))
	}

	r.log.Info("backfill finished", "range", rng.String(), "windows", stats.Windows, "events", stats.Events)
	return stats, nil
}
