package evm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/chainevents/internal/core/domain"
	"github.com/vietddude/chainevents/internal/infra/chain"
)

// NewSubscriber picks push mode for websocket endpoints and poll mode otherwise.
func NewSubscriber(adapter *Adapter, filter ethereum.FilterQuery, opts chain.Options, log *slog.Logger) chain.Subscriber {
	querier := NewQuerier(adapter, filter)
	if adapter.Socket() {
		return NewPushSubscriber(adapter, filter, querier, opts, log)
	}
	return chain.NewPoller(adapter, querier, opts, log)
}

// position is a (block, log index) cursor used to drop logs already delivered.
type position struct {
	block uint64
	index uint
	set   bool
}

// progress tracks what has reached the callback. through is the block up to which
// every log is known delivered; it is independent of the last log seen, so a gap
// can be filled even when no log has arrived yet.
type progress struct {
	last    position
	through uint64
	known   bool
}

// resumeFrom is the first block a gap fill must cover.
func (p *progress) resumeFrom() (uint64, bool) {
	switch {
	case p.known && p.last.set:
		return max(p.through+1, p.last.block), true
	case p.known:
		return p.through + 1, true
	case p.last.set:
		return p.last.block, true
	}
	return 0, false
}

func (p *progress) covered(end uint64) {
	if !p.known || end > p.through {
		p.through, p.known = end, true
	}
}

func (p position) after(l types.Log) bool {
	if !p.set {
		return true
	}
	if l.BlockNumber != p.block {
		return l.BlockNumber > p.block
	}
	return l.Index > p.index
}

// PushSubscriber streams contract logs over eth_subscribe. A dropped subscription is
// re-established after filling the gap with eth_getLogs from the last covered block.
type PushSubscriber struct {
	adapter  *Adapter
	filter   ethereum.FilterQuery
	querier  *Querier
	chainID  string
	retry    time.Duration
	maxBatch uint64
	log      *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPushSubscriber creates a websocket log subscriber.
func NewPushSubscriber(
	adapter *Adapter,
	filter ethereum.FilterQuery,
	querier *Querier,
	opts chain.Options,
	log *slog.Logger,
) *PushSubscriber {
	opts = opts.Defaults()
	if log == nil {
		log = slog.Default()
	}
	return &PushSubscriber{
		adapter:  adapter,
		filter:   filter,
		querier:  querier,
		chainID:  opts.ChainID,
		retry:    opts.ConnectBackoff,
		maxBatch: opts.MaxBlocksPerPoll,
		log:      log,
	}
}

func (s *PushSubscriber) Subscribe(ctx context.Context, cb chain.BlockCallback, offline *domain.BlockRange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return fmt.Errorf("subscriber already running")
	}

	c, err := s.adapter.Client()
	if err != nil {
		return err
	}

	logs := make(chan types.Log, 256)
	sub, err := c.SubscribeFilterLogs(ctx, s.filter, logs)
	if err != nil {
		return fmt.Errorf("eth_subscribe logs: %w", err)
	}

	// Anything past the head at this point arrives on the subscription.
	prog := &progress{}
	if head, err := s.adapter.LatestBlock(ctx); err == nil {
		prog.covered(head)
	} else {
		s.log.Warn("head unknown at subscribe, gap fill starts at the next log", "error", err)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(loopCtx, cb, offline, prog, sub, logs, s.done)

	s.log.Info("push subscription started", "endpoint", s.adapter.Endpoint())
	return nil
}

func (s *PushSubscriber) Unsubscribe() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log.Info("push subscription stopped")
}

func (s *PushSubscriber) run(
	ctx context.Context,
	cb chain.BlockCallback,
	offline *domain.BlockRange,
	prog *progress,
	sub ethereum.Subscription,
	logs chan types.Log,
	done chan struct{},
) {
	defer close(done)
	defer func() {
		if sub != nil {
			sub.Unsubscribe()
		}
	}()

	// Live logs buffer in the channel while the offline range replays
	if offline != nil {
		if err := s.fill(ctx, cb, offline.StartBlock, prog); err != nil && ctx.Err() == nil {
			s.log.Warn("offline replay failed", "range", offline.String(), "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return

		case l := <-logs:
			s.deliver(ctx, cb, l, prog)

		case err := <-sub.Err():
			s.log.Warn("log subscription dropped", "error", err)
			if hb := s.adapter.Heartbeat(); hb != nil {
				hb.SetActive(false)
			}
			sub = s.resubscribe(ctx, cb, logs, prog)
			if sub == nil {
				return
			}
			if hb := s.adapter.Heartbeat(); hb != nil {
				hb.SetActive(true)
				hb.Beat()
			}
		}
	}
}

func (s *PushSubscriber) resubscribe(
	ctx context.Context,
	cb chain.BlockCallback,
	logs chan types.Log,
	prog *progress,
) ethereum.Subscription {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.retry):
		}

		c, err := s.adapter.Client()
		if err != nil {
			s.log.Warn("resubscribe failed", "error", err)
			continue
		}
		sub, err := c.SubscribeFilterLogs(ctx, s.filter, logs)
		if err != nil {
			s.log.Warn("resubscribe failed", "error", err)
			continue
		}

		if from, ok := prog.resumeFrom(); ok {
			if err := s.fill(ctx, cb, from, prog); err != nil && ctx.Err() == nil {
				s.log.Warn("gap fill failed", "from_block", from, "error", err)
			}
		}
		s.log.Info("log subscription re-established")
		return sub
	}
}

// fill replays logs from block `from` up to the head in batches.
func (s *PushSubscriber) fill(ctx context.Context, cb chain.BlockCallback, from uint64, prog *progress) error {
	head, err := s.adapter.LatestBlock(ctx)
	if err != nil {
		return err
	}
	for start := from; start <= head; start += s.maxBatch {
		end := min(start+s.maxBatch-1, head)
		blocks, err := s.querier.QueryRange(ctx, start, end)
		if err != nil {
			return err
		}
		for _, b := range blocks {
			for _, item := range b.Items {
				s.deliver(ctx, cb, item.Payload.(types.Log), prog)
			}
		}
		prog.covered(end)
	}
	return nil
}

func (s *PushSubscriber) deliver(ctx context.Context, cb chain.BlockCallback, l types.Log, prog *progress) {
	if l.Removed || !prog.last.after(l) {
		return
	}
	prog.last = position{block: l.BlockNumber, index: l.Index, set: true}

	s.log.Debug("log received", "block", l.BlockNumber, "index", l.Index, "tx", l.TxHash.Hex())
	if hb := s.adapter.Heartbeat(); hb != nil {
		hb.Beat()
	}
	block := chain.RawBlock{Number: l.BlockNumber, Items: []chain.RawItem{RawItem(l)}}
	if err := cb(ctx, block); err != nil {
		s.log.Warn("block callback failed", "block", l.BlockNumber, "error", err)
	}
}
