package compound

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/chainevents/internal/core/domain"
	"github.com/vietddude/chainevents/internal/indexing/backfill"
	"github.com/vietddude/chainevents/internal/infra/chain/evm"
)

// Fetcher rebuilds governor events from contract storage.
type Fetcher struct {
	chainID  string
	contract common.Address
	adapter  *evm.Adapter
	governor *Governor
	enricher *Enricher
	abi      abi.ABI
	window   uint64
	log      *slog.Logger
}

// NewFetcher creates a storage fetcher. window bounds each eth_getLogs span.
func NewFetcher(
	chainID string,
	contract common.Address,
	adapter *evm.Adapter,
	governor *Governor,
	enricher *Enricher,
	window uint64,
	log *slog.Logger,
) (*Fetcher, error) {
	parsed, err := GovernorABI()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{
		chainID:  chainID,
		contract: contract,
		adapter:  adapter,
		governor: governor,
		enricher: enricher,
		abi:      parsed,
		window:   window,
		log:      log,
	}, nil
}

// Fetch walks every proposal id and returns events for proposals whose lifetime overlaps r.
func (f *Fetcher) Fetch(ctx context.Context, r *domain.BlockRange) ([]*domain.ChainEvent, error) {
	count, err := f.governor.ProposalCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("proposalCount: %w", err)
	}
	delay, err := f.governor.VotingDelay(ctx)
	if err != nil {
		return nil, fmt.Errorf("votingDelay: %w", err)
	}
	head, err := f.adapter.LatestBlock(ctx)
	if err != nil {
		return nil, err
	}

	var events []*domain.ChainEvent
	for id := uint64(1); id <= count; id++ {
		evs, err := f.proposalEvents(ctx, id, delay, head, r)
		if err != nil {
			return nil, fmt.Errorf("proposal %d: %w", id, err)
		}
		events = append(events, evs...)
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].BlockNumber < events[j].BlockNumber
	})
	f.log.Debug("fetched governor state", "proposals", count, "events", len(events))
	return events, nil
}

// FetchOne returns the events describing proposal id.
func (f *Fetcher) FetchOne(ctx context.Context, id uint64) ([]*domain.ChainEvent, error) {
	if id == 0 {
		return nil, fmt.Errorf("proposal 0: %w", domain.ErrNotFound)
	}
	delay, err := f.governor.VotingDelay(ctx)
	if err != nil {
		return nil, fmt.Errorf("votingDelay: %w", err)
	}
	head, err := f.adapter.LatestBlock(ctx)
	if err != nil {
		return nil, err
	}
	events, err := f.proposalEvents(ctx, id, delay, head, nil)
	if err != nil {
		return nil, err
	}
	if events == nil {
		return nil, fmt.Errorf("proposal %d: %w", id, domain.ErrNotFound)
	}
	return events, nil
}

// proposalEvents returns nil when the proposal does not exist or lies outside r.
func (f *Fetcher) proposalEvents(
	ctx context.Context,
	id, delay, head uint64,
	r *domain.BlockRange,
) ([]*domain.ChainEvent, error) {
	p, err := f.governor.Proposal(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.ID == nil || p.ID.Sign() == 0 {
		return nil, nil
	}

	start, end := p.StartBlock.Uint64(), p.EndBlock.Uint64()
	created := start
	if start > delay {
		created = start - delay
	}
	if r != nil && !overlaps(*r, created, end) {
		return nil, nil
	}

	state, err := f.governor.State(ctx, id)
	if err != nil {
		return nil, err
	}

	createdEv, err := f.createdEvent(ctx, id, created, p)
	if err != nil {
		return nil, err
	}
	events := []*domain.ChainEvent{createdEv}

	emit := func(block uint64, data domain.EventData) error {
		ev, err := domain.NewChainEvent(f.chainID, block, domain.NetworkCompound, data)
		if err != nil {
			return err
		}
		events = append(events, ev)
		return nil
	}

	switch state {
	case StateActive:
		votes, err := f.votes(ctx, id, start, min(end, head), r)
		if err != nil {
			return nil, err
		}
		events = append(events, votes...)
	case StateCanceled:
		err = emit(end, domain.ProposalCanceled{ID: id})
	case StateQueued:
		err = emit(end, domain.ProposalQueued{ID: id, ETA: p.Eta.Uint64()})
	case StateExecuted:
		if err = emit(end, domain.ProposalQueued{ID: id, ETA: p.Eta.Uint64()}); err == nil {
			err = emit(end, domain.ProposalExecuted{ID: id})
		}
	}
	if err != nil {
		return nil, err
	}

	f.log.Debug("proposal state", "id", id, "state", state.String(), "events", len(events))
	return events, nil
}

// createdEvent prefers the original ProposalCreated log for its description and falls back
// to storage when the log is gone.
func (f *Fetcher) createdEvent(ctx context.Context, id, block uint64, p *Proposal) (*domain.ChainEvent, error) {
	logs, err := f.filterLogs(ctx, "ProposalCreated", block, block)
	if err != nil {
		return nil, err
	}
	for _, l := range logs {
		data, err := f.enricher.decodeCreated(l)
		if err != nil || data.ID != id {
			continue
		}
		return domain.NewChainEvent(f.chainID, l.BlockNumber, domain.NetworkCompound, data,
			domain.WithExcludeAddresses(data.Proposer))
	}

	actions, err := f.governor.Actions(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getActions: %w", err)
	}
	data := createdData(id, p.Proposer, actions, p.StartBlock.Uint64(), p.EndBlock.Uint64(), "")
	return domain.NewChainEvent(f.chainID, block, domain.NetworkCompound, data,
		domain.WithExcludeAddresses(data.Proposer))
}

// votes reads VoteCast logs of an active proposal window by window.
func (f *Fetcher) votes(
	ctx context.Context,
	id, from, to uint64,
	r *domain.BlockRange,
) ([]*domain.ChainEvent, error) {
	if r != nil {
		from = max(from, r.StartBlock)
		if e, ok := r.End(); ok {
			to = min(to, e)
		}
	}
	if to < from {
		return nil, nil
	}

	windows, err := backfill.SplitRange(from, to, f.window)
	if err != nil {
		return nil, err
	}

	var events []*domain.ChainEvent
	for _, w := range windows {
		wEnd, _ := w.End()
		logs, err := f.filterLogs(ctx, "VoteCast", w.StartBlock, wEnd)
		if err != nil {
			return nil, err
		}
		for _, l := range logs {
			data, err := f.enricher.decodeVote(l)
			if err != nil {
				f.log.Warn("skip undecodable vote", "block", l.BlockNumber, "error", err)
				continue
			}
			if data.ID != id {
				continue
			}
			ev, err := f.enricher.Enrich(ctx, l.BlockNumber, domain.KindVoteCast, evm.RawItem(l))
			if err != nil {
				return nil, err
			}
			events = append(events, ev)
		}
	}
	return events, nil
}

func (f *Fetcher) filterLogs(ctx context.Context, event string, from, to uint64) ([]types.Log, error) {
	c, err := f.adapter.Client()
	if err != nil {
		return nil, err
	}
	q := evm.NewFilter(f.contract, f.abi.Events[event].ID)
	q.FromBlock = new(big.Int).SetUint64(from)
	q.ToBlock = new(big.Int).SetUint64(to)

	logs, err := c.FilterLogs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("eth_getLogs %s [%d,%d]: %w", event, from, to, err)
	}
	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})
	return logs, nil
}

func overlaps(r domain.BlockRange, from, to uint64) bool {
	if to < r.StartBlock {
		return false
	}
	end, ok := r.End()
	return !ok || from <= end
}
