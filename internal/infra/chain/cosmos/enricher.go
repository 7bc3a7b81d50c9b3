package cosmos

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vietddude/chainevents/internal/core/domain"
	"github.com/vietddude/chainevents/internal/infra/chain"
)

// Enricher decodes gov messages. Submissions read the stored proposal for title and times.
type Enricher struct {
	chainID string
	gov     *GovAPI
}

// NewEnricher creates the gov enricher for chainID.
func NewEnricher(chainID string, gov *GovAPI) *Enricher {
	return &Enricher{chainID: chainID, gov: gov}
}

// Enrich decodes one gov message or finalized proposal into a chain event.
func (e *Enricher) Enrich(
	ctx context.Context,
	blockNumber uint64,
	kind domain.EventKind,
	item chain.RawItem,
) (*domain.ChainEvent, error) {
	if kind == domain.KindProposalFinalized {
		p, ok := item.Payload.(*Proposal)
		if !ok {
			return nil, fmt.Errorf("proposal-finalized needs a stored proposal, got %T", item.Payload)
		}
		return e.finalized(blockNumber, p)
	}

	msg, ok := item.Payload.(Message)
	if !ok {
		return nil, fmt.Errorf("unexpected payload %T", item.Payload)
	}

	switch kind {
	case domain.KindSubmitProposal:
		return e.submitted(ctx, blockNumber, msg)
	case domain.KindDeposit:
		var m msgDeposit
		if err := json.Unmarshal(msg.Raw, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", msg.Type, err)
		}
		id, err := parseID(m.ProposalID)
		if err != nil {
			return nil, err
		}
		return domain.NewChainEvent(e.chainID, blockNumber, domain.NetworkCosmos,
			domain.Deposit{ID: id, Depositor: m.Depositor, Amount: m.Amount},
			domain.WithExcludeAddresses(m.Depositor))
	case domain.KindVote:
		var m msgVote
		if err := json.Unmarshal(msg.Raw, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", msg.Type, err)
		}
		id, err := parseID(m.ProposalID)
		if err != nil {
			return nil, err
		}
		return domain.NewChainEvent(e.chainID, blockNumber, domain.NetworkCosmos,
			domain.Vote{ID: id, Voter: m.Voter, Option: m.option()},
			domain.WithExcludeAddresses(m.Voter))
	default:
		panic(fmt.Sprintf("cosmos enricher: unsupported kind %q", kind))
	}
}

func (e *Enricher) submitted(ctx context.Context, blockNumber uint64, msg Message) (*domain.ChainEvent, error) {
	var m msgSubmitProposal
	if err := json.Unmarshal(msg.Raw, &m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", msg.Type, err)
	}
	raw, ok := Attr(msg.Events, "submit_proposal", "proposal_id")
	if !ok {
		return nil, fmt.Errorf("tx %s: submit_proposal event has no proposal_id", msg.TxHash)
	}
	id, err := parseID(raw)
	if err != nil {
		return nil, err
	}

	p, err := e.gov.Proposal(ctx, id)
	if err != nil {
		return nil, err
	}
	data := proposalData(id, p)
	data.InitialDeposit = m.InitialDeposit
	if data.Proposer == "" {
		data.Proposer = m.Proposer
	}
	return domain.NewChainEvent(e.chainID, blockNumber, domain.NetworkCosmos, data,
		domain.WithExcludeAddresses(data.Proposer))
}

func (e *Enricher) finalized(blockNumber uint64, p *Proposal) (*domain.ChainEvent, error) {
	id, err := p.ID()
	if err != nil {
		return nil, err
	}
	return domain.NewChainEvent(e.chainID, blockNumber, domain.NetworkCosmos,
		domain.ProposalFinalized{ID: id, Status: p.Status, FinalTally: p.FinalTally.normalize()})
}

func proposalData(id uint64, p *Proposal) domain.SubmitProposal {
	return domain.SubmitProposal{
		ID:             id,
		Proposer:       p.Proposer,
		Title:          p.title(),
		Description:    p.description(),
		ProposalType:   p.proposalType(),
		InitialDeposit: p.TotalDeposit,
		SubmitTime:     p.SubmitTime,
		DepositEndTime: p.DepositEndTime,
		VotingEndTime:  p.VotingEndTime,
	}
}
