package chain

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/chainevents/internal/core/domain"
	"github.com/vietddude/chainevents/internal/indexing/metrics"
)

// Poller is a Subscriber for HTTP-only endpoints: every interval it reads new blocks
// through a RangeQuerier and hands them to the callback in order.
type Poller struct {
	adapter  Adapter
	querier  RangeQuerier
	chainID  string
	interval time.Duration
	maxBatch uint64
	log      *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller creates a poll-mode subscriber.
func NewPoller(adapter Adapter, querier RangeQuerier, opts Options, log *slog.Logger) *Poller {
	opts = opts.Defaults()
	if log == nil {
		log = slog.Default()
	}
	return &Poller{
		adapter:  adapter,
		querier:  querier,
		chainID:  opts.ChainID,
		interval: opts.PollInterval,
		maxBatch: opts.MaxBlocksPerPoll,
		log:      log,
	}
}

// Subscribe starts the poll loop. With an offline range the loop starts at its first block and
// catches up before waiting on the ticker; otherwise it starts after the current head.
func (p *Poller) Subscribe(ctx context.Context, cb BlockCallback, offline *domain.BlockRange) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return fmt.Errorf("poller already running")
	}

	var next uint64
	if offline != nil {
		next = offline.StartBlock
	} else {
		head, err := p.adapter.LatestBlock(ctx)
		if err != nil {
			return fmt.Errorf("failed to get latest block: %w", err)
		}
		next = head + 1
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.loop(loopCtx, cb, next, p.done)

	p.log.Info("poll subscription started", "from_block", next, "interval", p.interval)
	return nil
}

// Unsubscribe stops the loop and waits for the in-flight callback.
func (p *Poller) Unsubscribe() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	p.log.Info("poll subscription stopped")
}

func (p *Poller) loop(ctx context.Context, cb BlockCallback, next uint64, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		// Drain until caught up, then wait for the next tick
		for {
			n, caughtUp, err := p.poll(ctx, cb, next)
			if err != nil {
				if ctx.Err() == nil {
					p.log.Warn("poll failed", "from_block", next, "error", err)
				}
				break
			}
			next = n
			if caughtUp {
				break
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// poll reads one batch starting at next and returns the following start block.
func (p *Poller) poll(ctx context.Context, cb BlockCallback, next uint64) (uint64, bool, error) {
	head, err := p.adapter.LatestBlock(ctx)
	if err != nil {
		return next, true, fmt.Errorf("failed to get latest block: %w", err)
	}
	metrics.ChainLatestBlock.WithLabelValues(p.chainID).Set(float64(head))

	if head < next {
		return next, true, nil
	}

	to := head
	if to-next+1 > p.maxBatch {
		to = next + p.maxBatch - 1
	}

	blocks, err := p.querier.QueryRange(ctx, next, to)
	if err != nil {
		return next, true, fmt.Errorf("query [%d,%d]: %w", next, to, err)
	}

	for _, b := range blocks {
		if ctx.Err() != nil {
			return next, true, ctx.Err()
		}
		if err := cb(ctx, b); err != nil {
			p.log.Warn("block callback failed", "block", b.Number, "error", err)
		}
	}

	return to + 1, to == head, nil
}
