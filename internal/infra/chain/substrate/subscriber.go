package substrate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/chainevents/internal/core/domain"
	"github.com/vietddude/chainevents/internal/infra/chain"
)

// Querier reads decoded blocks for a range from the sidecar.
type Querier struct {
	sidecar *Sidecar
}

// NewQuerier creates a querier over the adapter's sidecar.
func NewQuerier(adapter *Adapter) *Querier {
	return &Querier{sidecar: adapter.Sidecar()}
}

// QueryRange returns the blocks in [from, to] that carry at least one item.
func (q *Querier) QueryRange(ctx context.Context, from, to uint64) ([]chain.RawBlock, error) {
	blocks, err := q.sidecar.Blocks(ctx, from, to)
	if err != nil {
		return nil, err
	}
	out := make([]chain.RawBlock, 0, len(blocks))
	for _, b := range blocks {
		raw, err := b.Raw()
		if err != nil {
			return nil, err
		}
		if len(raw.Items) > 0 {
			out = append(out, raw)
		}
	}
	return out, nil
}

// Subscriber follows finalized heads and reads every new block from the sidecar.
// A dropped session is re-dialed and the missed blocks are read before heads resume.
type Subscriber struct {
	adapter  *Adapter
	querier  *Querier
	retry    time.Duration
	maxBatch uint64
	log      *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSubscriber creates a finalized-head subscriber.
func NewSubscriber(adapter *Adapter, querier *Querier, opts chain.Options, log *slog.Logger) *Subscriber {
	opts = opts.Defaults()
	if log == nil {
		log = slog.Default()
	}
	return &Subscriber{
		adapter:  adapter,
		querier:  querier,
		retry:    opts.ConnectBackoff,
		maxBatch: opts.MaxBlocksPerPoll,
		log:      log,
	}
}

func (s *Subscriber) Subscribe(ctx context.Context, cb chain.BlockCallback, offline *domain.BlockRange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return fmt.Errorf("subscriber already running")
	}

	var next uint64
	if offline != nil {
		next = offline.StartBlock
	} else {
		head, err := s.adapter.LatestBlock(ctx)
		if err != nil {
			return fmt.Errorf("failed to get latest block: %w", err)
		}
		next = head + 1
	}

	heads, stop, err := s.adapter.SubscribeHeads(ctx)
	if err != nil {
		return fmt.Errorf("subscribe finalized heads: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(loopCtx, cb, heads, stop, next, offline != nil, s.done)

	s.log.Info("head subscription started", "endpoint", s.adapter.Endpoint(), "from_block", next)
	return nil
}

func (s *Subscriber) Unsubscribe() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log.Info("head subscription stopped")
}

func (s *Subscriber) run(
	ctx context.Context,
	cb chain.BlockCallback,
	heads <-chan uint64,
	stop func(),
	next uint64,
	replay bool,
	done chan struct{},
) {
	defer close(done)
	defer func() {
		if stop != nil {
			stop()
		}
	}()

	if replay {
		s.catchUpToHead(ctx, cb, &next)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case head, ok := <-heads:
			if ok {
				s.catchUp(ctx, cb, &next, head)
				continue
			}
			s.log.Warn("node session dropped")
			s.adapter.Heartbeat().SetActive(false)
			stop()
			heads, stop = s.resubscribe(ctx)
			if heads == nil {
				return
			}
			s.catchUpToHead(ctx, cb, &next)
		}
	}
}

func (s *Subscriber) resubscribe(ctx context.Context) (<-chan uint64, func()) {
	for {
		select {
		case <-ctx.Done():
			return nil, nil
		case <-time.After(s.retry):
		}
		if err := s.adapter.Connect(ctx); err != nil {
			s.log.Warn("reconnect failed", "error", err)
			continue
		}
		heads, stop, err := s.adapter.SubscribeHeads(ctx)
		if err != nil {
			s.log.Warn("resubscribe failed", "error", err)
			continue
		}
		s.log.Info("head subscription re-established")
		return heads, stop
	}
}

func (s *Subscriber) catchUpToHead(ctx context.Context, cb chain.BlockCallback, next *uint64) {
	head, err := s.adapter.LatestBlock(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Warn("failed to get latest block", "error", err)
		}
		return
	}
	s.catchUp(ctx, cb, next, head)
}

// catchUp delivers blocks next..head in batches. A failed read leaves next at the
// first undelivered block so the following head retries it.
func (s *Subscriber) catchUp(ctx context.Context, cb chain.BlockCallback, next *uint64, head uint64) {
	for *next <= head {
		end := min(*next+s.maxBatch-1, head)
		blocks, err := s.querier.QueryRange(ctx, *next, end)
		if err != nil {
			if ctx.Err() == nil {
				s.log.Warn("block read failed", "from_block", *next, "to_block", end, "error", err)
			}
			return
		}
		for _, b := range blocks {
			if err := cb(ctx, b); err != nil {
				s.log.Warn("block callback failed", "block", b.Number, "error", err)
			}
		}
		*next = end + 1
	}
}
