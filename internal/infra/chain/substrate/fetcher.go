package substrate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vietddude/chainevents/internal/core/domain"
)

// Fetcher rebuilds democracy and treasury events from storage. Synthesized events carry
// the finalized head at fetch time.
type Fetcher struct {
	chainID string
	adapter *Adapter
	storage *Storage
	log     *slog.Logger
}

// NewFetcher creates a storage fetcher for chainID.
func NewFetcher(chainID string, adapter *Adapter, storage *Storage, log *slog.Logger) *Fetcher {
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{chainID: chainID, adapter: adapter, storage: storage, log: log}
}

// Fetch returns public proposals with their seconds, referenda, and open treasury proposals.
// With a range, finished referenda that ended before it are left out.
func (f *Fetcher) Fetch(ctx context.Context, r *domain.BlockRange) ([]*domain.ChainEvent, error) {
	head, err := f.adapter.LatestBlock(ctx)
	if err != nil {
		return nil, err
	}
	e := &emitter{chainID: f.chainID, block: head}

	if err := f.proposals(ctx, e); err != nil {
		return nil, err
	}
	f.log.Info("migrated democracy proposals", "events", len(e.out))

	count, err := f.storage.ReferendumCount(ctx)
	if err != nil {
		return nil, err
	}
	queue, err := f.dispatchIndex(ctx)
	if err != nil {
		return nil, err
	}
	before := len(e.out)
	for idx := uint64(0); idx < count; idx++ {
		if _, err := f.referendum(ctx, e, idx, queue, r); err != nil {
			return nil, err
		}
	}
	f.log.Info("migrated democracy referenda", "events", len(e.out)-before)

	before = len(e.out)
	if err := f.treasury(ctx, e); err != nil {
		return nil, err
	}
	f.log.Info("migrated treasury proposals", "events", len(e.out)-before)

	return e.out, e.err
}

// FetchOne returns the events of one referendum.
func (f *Fetcher) FetchOne(ctx context.Context, id uint64) ([]*domain.ChainEvent, error) {
	head, err := f.adapter.LatestBlock(ctx)
	if err != nil {
		return nil, err
	}
	queue, err := f.dispatchIndex(ctx)
	if err != nil {
		return nil, err
	}
	e := &emitter{chainID: f.chainID, block: head}
	found, err := f.referendum(ctx, e, id, queue, nil)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("referendum %d: %w", id, domain.ErrNotFound)
	}
	return e.out, e.err
}

func (f *Fetcher) proposals(ctx context.Context, e *emitter) error {
	props, err := f.storage.PublicProps(ctx)
	if err != nil {
		return err
	}
	for _, p := range props {
		seconds, deposit, found, err := f.storage.DepositOf(ctx, p.Index)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		e.emit(domain.DemocracyProposed{
			ProposalIndex: p.Index, ProposalHash: p.Hash, Deposit: deposit, Proposer: p.Proposer,
		}, domain.WithExcludeAddresses(p.Proposer))

		// the proposer's own deposit is recorded as the first second
		skipped := false
		for _, who := range seconds {
			if who == p.Proposer && !skipped {
				skipped = true
				continue
			}
			e.emit(domain.DemocracySeconded{ProposalIndex: p.Index, Who: who}, domain.WithExcludeAddresses(who))
		}
	}
	return nil
}

func (f *Fetcher) referendum(
	ctx context.Context,
	e *emitter,
	idx uint64,
	queue map[uint64]uint64,
	r *domain.BlockRange,
) (bool, error) {
	info, found, err := f.storage.ReferendumInfo(ctx, idx)
	if err != nil || !found {
		return false, err
	}

	if info.Ongoing {
		e.emit(domain.DemocracyStarted{
			ReferendumIndex: idx, ProposalHash: info.ProposalHash, VoteThreshold: info.Threshold, EndBlock: info.End,
		})
		return true, nil
	}
	if r != nil && info.End < r.StartBlock {
		return true, nil
	}
	if !info.Approved {
		e.emit(domain.DemocracyNotPassed{ReferendumIndex: idx})
		return true, nil
	}
	passed := domain.DemocracyPassed{ReferendumIndex: idx}
	if at, ok := queue[idx]; ok {
		passed.DispatchBlock = &at
	}
	e.emit(passed)
	return true, nil
}

func (f *Fetcher) treasury(ctx context.Context, e *emitter) error {
	count, err := f.storage.TreasuryProposalCount(ctx)
	if err != nil {
		return err
	}
	approved, err := f.storage.TreasuryApprovals(ctx)
	if err != nil {
		return err
	}
	for idx := uint64(0); idx < count; idx++ {
		if approved[idx] {
			continue
		}
		p, found, err := f.storage.TreasuryProposal(ctx, idx)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		e.emit(domain.TreasuryProposed{
			ProposalIndex: idx, Proposer: p.Proposer, Value: p.Value, Beneficiary: p.Beneficiary, Bond: p.Bond,
		}, domain.WithExcludeAddresses(p.Proposer))
	}
	return nil
}

// dispatchIndex maps referendum index to its scheduled dispatch block.
func (f *Fetcher) dispatchIndex(ctx context.Context) (map[uint64]uint64, error) {
	queue, err := f.storage.DispatchQueue(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[uint64]uint64, len(queue))
	for _, d := range queue {
		out[d.Index] = d.At
	}
	return out, nil
}

// emitter builds events at one block and keeps the first construction error.
type emitter struct {
	chainID string
	block   uint64
	out     []*domain.ChainEvent
	err     error
}

func (e *emitter) emit(data domain.EventData, opts ...domain.EventOption) {
	if e.err != nil {
		return
	}
	ev, err := domain.NewChainEvent(e.chainID, e.block, domain.NetworkSubstrate, data, opts...)
	if err != nil {
		e.err = err
		return
	}
	e.out = append(e.out, ev)
}
