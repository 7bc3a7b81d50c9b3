package listener

import (
	"context"
	"fmt"

	"github.com/vietddude/chainevents/internal/core/cursor"
	"github.com/vietddude/chainevents/internal/core/domain"
	"github.com/vietddude/chainevents/internal/indexing/backfill"
	"github.com/vietddude/chainevents/internal/indexing/processor"
	"github.com/vietddude/chainevents/internal/infra/chain"
)

// recoverOffline replays what was missed since the last run. It returns the planned
// range, or nil when there was nothing to recover.
func (l *Listener) recoverOffline(ctx context.Context) *domain.BlockRange {
	if l.resolver == nil {
		l.log.Warn("no reconnect resolver configured, skipping offline recovery")
		return nil
	}

	resolved, err := l.resolver.Resolve(ctx, l.opts.ChainID)
	if err != nil {
		l.log.Warn("reconnect resolver failed, skipping offline recovery", "error", err)
		return nil
	}
	if resolved == nil && l.opts.StartBlock > 0 && l.watermark.Load() == 0 {
		r := domain.OpenRange(l.opts.StartBlock)
		resolved = &r
	}
	if resolved == nil {
		l.log.Info("no stored history, skipping offline recovery")
		return nil
	}

	head, err := l.adapter.LatestBlock(ctx)
	if err != nil {
		l.log.Warn("failed to read head, skipping offline recovery", "error", err)
		return nil
	}

	rng, capped, ok := backfill.Plan(resolved, l.watermark.Load(), head, l.opts.MaxOfflineRange)
	if !ok {
		l.log.Info("nothing to recover", "resolved", resolved.String(), "watermark", l.watermark.Load(), "head", head)
		return nil
	}
	if capped {
		l.log.Warn("offline range capped", "resolved", resolved.String(), "range", rng.String(), "max_offline_range", l.opts.MaxOfflineRange)
	}

	source, err := l.source(l.bundle, l.processor.Load())
	if err != nil {
		l.log.Warn("skipping offline recovery", "error", err)
		return nil
	}

	runner := backfill.NewRunner(l.opts.ChainID, l.opts.WindowSize, source, l.log)
	if _, err := runner.Run(ctx, rng, l.deliver, func(end uint64) {
		l.advance(end)
		l.persist(ctx)
	}); err != nil {
		l.log.Warn("offline recovery failed", "range", rng.String(), "watermark", l.watermark.Load(), "error", err)
	}
	return &rng
}

// source prefers the log-range querier and falls back to the storage fetcher.
func (l *Listener) source(bundle *chain.Bundle, proc *processor.Processor) (backfill.Source, error) {
	switch {
	case bundle.Querier != nil:
		return backfill.SourceFunc(func(ctx context.Context, r domain.BlockRange) ([]*domain.ChainEvent, error) {
			end, _ := r.End()
			blocks, err := bundle.Querier.QueryRange(ctx, r.StartBlock, end)
			if err != nil {
				return nil, err
			}
			return proc.ProcessBatch(ctx, blocks), nil
		}), nil
	case bundle.Fetcher != nil:
		return backfill.SourceFunc(func(ctx context.Context, r domain.BlockRange) ([]*domain.ChainEvent, error) {
			return bundle.Fetcher.Fetch(ctx, &r)
		}), nil
	}
	return nil, fmt.Errorf("%s has neither a range querier nor a storage fetcher: %w", l.opts.Network, domain.ErrUnsupported)
}

// Replay pushes [from, to] through the handlers window by window without moving the watermark.
func (l *Listener) Replay(ctx context.Context, from, to uint64) (backfill.Stats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.lifecycle.Is(cursor.StateUninitialized) {
		return backfill.Stats{}, ErrNotInitialized
	}
	if to < from {
		return backfill.Stats{}, fmt.Errorf("invalid replay range [%d,%d]", from, to)
	}
	source, err := l.source(l.bundle, l.processor.Load())
	if err != nil {
		return backfill.Stats{}, err
	}
	runner := backfill.NewRunner(l.opts.ChainID, l.opts.WindowSize, source, l.log)
	return runner.Run(ctx, domain.NewBlockRange(from, to), l.deliver, nil)
}

// Fetcher returns the storage fetcher bound to the current connection.
func (l *Listener) Fetcher() (chain.StorageFetcher, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.lifecycle.Is(cursor.StateUninitialized) {
		return nil, ErrNotInitialized
	}
	if l.bundle.Fetcher == nil {
		return nil, fmt.Errorf("%s: storage fetch: %w", l.opts.Network, domain.ErrUnsupported)
	}
	return l.bundle.Fetcher, nil
}
