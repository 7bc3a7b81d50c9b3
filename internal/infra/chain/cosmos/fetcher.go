package cosmos

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vietddude/chainevents/internal/core/domain"
	"github.com/vietddude/chainevents/internal/infra/chain"
)

// Fetcher rebuilds gov events from stored proposals. The gov store keeps no heights,
// so every event carries the head block observed at fetch time and the range does not
// select proposals.
type Fetcher struct {
	chainID  string
	adapter  chain.Adapter
	gov      *GovAPI
	enricher *Enricher
	log      *slog.Logger
}

// NewFetcher creates a proposal fetcher over the gov API.
func NewFetcher(chainID string, adapter chain.Adapter, gov *GovAPI, enricher *Enricher, log *slog.Logger) *Fetcher {
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{chainID: chainID, adapter: adapter, gov: gov, enricher: enricher, log: log}
}

func (f *Fetcher) Fetch(ctx context.Context, r *domain.BlockRange) ([]*domain.ChainEvent, error) {
	head, err := f.adapter.LatestBlock(ctx)
	if err != nil {
		return nil, err
	}
	proposals, err := f.gov.Proposals(ctx)
	if err != nil {
		return nil, err
	}
	f.log.Debug("fetching proposal state", "proposals", len(proposals), "head", head)

	var out []*domain.ChainEvent
	for _, p := range proposals {
		events, err := f.describe(ctx, head, p)
		if err != nil {
			return nil, err
		}
		out = append(out, events...)
	}
	return out, nil
}

func (f *Fetcher) FetchOne(ctx context.Context, id uint64) ([]*domain.ChainEvent, error) {
	if id == 0 {
		return nil, fmt.Errorf("proposal 0: %w", domain.ErrNotFound)
	}
	p, err := f.gov.Proposal(ctx, id)
	if err != nil {
		return nil, err
	}
	head, err := f.adapter.LatestBlock(ctx)
	if err != nil {
		return nil, err
	}
	return f.describe(ctx, head, p)
}

// describe emits the submission, then deposits while deposits are accepted,
// then votes while voting is open, and a finalization once it is over.
func (f *Fetcher) describe(ctx context.Context, head uint64, p *Proposal) ([]*domain.ChainEvent, error) {
	id, err := p.ID()
	if err != nil {
		return nil, fmt.Errorf("proposal: %w", err)
	}

	data := proposalData(id, p)
	submitted, err := domain.NewChainEvent(f.chainID, head, domain.NetworkCosmos, data,
		domain.WithExcludeAddresses(data.Proposer))
	if err != nil {
		return nil, err
	}
	out := []*domain.ChainEvent{submitted}

	if p.Status == StatusDepositPeriod || p.Status == StatusVotingPeriod {
		deposits, err := f.gov.Deposits(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, d := range deposits {
			ev, err := domain.NewChainEvent(f.chainID, head, domain.NetworkCosmos,
				domain.Deposit{ID: id, Depositor: d.Depositor, Amount: d.Amount},
				domain.WithExcludeAddresses(d.Depositor))
			if err != nil {
				return nil, err
			}
			out = append(out, ev)
		}
	}

	if p.Status == StatusVotingPeriod {
		votes, err := f.gov.Votes(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, v := range votes {
			ev, err := domain.NewChainEvent(f.chainID, head, domain.NetworkCosmos,
				domain.Vote{ID: id, Voter: v.Voter, Option: pickOption(v.Option, v.Options)},
				domain.WithExcludeAddresses(v.Voter))
			if err != nil {
				return nil, err
			}
			out = append(out, ev)
		}
	}

	if p.Finished() {
		ev, err := f.enricher.finalized(head, p)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}
