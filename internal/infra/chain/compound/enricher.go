package compound

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/chainevents/internal/core/domain"
	"github.com/vietddude/chainevents/internal/infra/chain"
)

type proposalCreatedLog struct {
	ID          *big.Int         `abi:"id"`
	Proposer    common.Address   `abi:"proposer"`
	Targets     []common.Address `abi:"targets"`
	Values      []*big.Int       `abi:"values"`
	Signatures  []string         `abi:"signatures"`
	Calldatas   [][]byte         `abi:"calldatas"`
	StartBlock  *big.Int         `abi:"startBlock"`
	EndBlock    *big.Int         `abi:"endBlock"`
	Description string           `abi:"description"`
}

type voteCastLog struct {
	ProposalID *big.Int `abi:"proposalId"`
	Support    uint8    `abi:"support"`
	Votes      *big.Int `abi:"votes"`
	Reason     string   `abi:"reason"`
}

type queuedLog struct {
	ID  *big.Int `abi:"id"`
	Eta *big.Int `abi:"eta"`
}

// Enricher decodes governor logs. Vote logs are completed with the proposal tally.
type Enricher struct {
	chainID  string
	abi      abi.ABI
	governor *Governor
}

// NewEnricher creates the governor enricher.
func NewEnricher(chainID string, governor *Governor) (*Enricher, error) {
	parsed, err := GovernorABI()
	if err != nil {
		return nil, err
	}
	return &Enricher{chainID: chainID, abi: parsed, governor: governor}, nil
}

func (e *Enricher) Enrich(
	ctx context.Context,
	blockNumber uint64,
	kind domain.EventKind,
	item chain.RawItem,
) (*domain.ChainEvent, error) {
	l, ok := item.Payload.(types.Log)
	if !ok {
		return nil, fmt.Errorf("unexpected payload %T", item.Payload)
	}

	switch kind {
	case domain.KindProposalCreated:
		data, err := e.decodeCreated(l)
		if err != nil {
			return nil, err
		}
		return domain.NewChainEvent(e.chainID, blockNumber, domain.NetworkCompound, data,
			domain.WithExcludeAddresses(data.Proposer))

	case domain.KindVoteCast:
		data, err := e.decodeVote(l)
		if err != nil {
			return nil, err
		}
		p, err := e.governor.Proposal(ctx, data.ID)
		if err != nil {
			return nil, fmt.Errorf("read proposal %d: %w", data.ID, err)
		}
		data.ForVotes = p.ForVotes.String()
		data.AgainstVotes = p.AgainstVotes.String()
		data.AbstainVotes = p.AbstainVotes.String()
		return domain.NewChainEvent(e.chainID, blockNumber, domain.NetworkCompound, data,
			domain.WithExcludeAddresses(data.Voter))

	case domain.KindProposalQueued:
		var ev queuedLog
		if err := e.abi.UnpackIntoInterface(&ev, "ProposalQueued", l.Data); err != nil {
			return nil, fmt.Errorf("decode ProposalQueued: %w", err)
		}
		return domain.NewChainEvent(e.chainID, blockNumber, domain.NetworkCompound,
			domain.ProposalQueued{ID: ev.ID.Uint64(), ETA: ev.Eta.Uint64()})

	case domain.KindProposalExecuted:
		id, err := e.decodeID("ProposalExecuted", l)
		if err != nil {
			return nil, err
		}
		return domain.NewChainEvent(e.chainID, blockNumber, domain.NetworkCompound, domain.ProposalExecuted{ID: id})

	case domain.KindProposalCanceled:
		id, err := e.decodeID("ProposalCanceled", l)
		if err != nil {
			return nil, err
		}
		return domain.NewChainEvent(e.chainID, blockNumber, domain.NetworkCompound, domain.ProposalCanceled{ID: id})

	default:
		panic(fmt.Sprintf("compound enricher: unsupported kind %q", kind))
	}
}

func (e *Enricher) decodeCreated(l types.Log) (domain.ProposalCreated, error) {
	var ev proposalCreatedLog
	if err := e.abi.UnpackIntoInterface(&ev, "ProposalCreated", l.Data); err != nil {
		return domain.ProposalCreated{}, fmt.Errorf("decode ProposalCreated: %w", err)
	}
	return createdData(ev.ID.Uint64(), ev.Proposer, &Actions{
		Targets:    ev.Targets,
		Values:     ev.Values,
		Signatures: ev.Signatures,
		Calldatas:  ev.Calldatas,
	}, ev.StartBlock.Uint64(), ev.EndBlock.Uint64(), ev.Description), nil
}

func (e *Enricher) decodeVote(l types.Log) (domain.VoteCast, error) {
	if len(l.Topics) < 2 {
		return domain.VoteCast{}, fmt.Errorf("decode VoteCast: missing voter topic")
	}
	var ev voteCastLog
	if err := e.abi.UnpackIntoInterface(&ev, "VoteCast", l.Data); err != nil {
		return domain.VoteCast{}, fmt.Errorf("decode VoteCast: %w", err)
	}
	return domain.VoteCast{
		ID:      ev.ProposalID.Uint64(),
		Voter:   common.BytesToAddress(l.Topics[1].Bytes()).Hex(),
		Support: ev.Support,
		Votes:   ev.Votes.String(),
		Reason:  ev.Reason,
	}, nil
}

func (e *Enricher) decodeID(event string, l types.Log) (uint64, error) {
	var id *big.Int
	if err := e.abi.UnpackIntoInterface(&id, event, l.Data); err != nil {
		return 0, fmt.Errorf("decode %s: %w", event, err)
	}
	return id.Uint64(), nil
}

func createdData(
	id uint64,
	proposer common.Address,
	actions *Actions,
	startBlock, endBlock uint64,
	description string,
) domain.ProposalCreated {
	data := domain.ProposalCreated{
		ID:          id,
		Proposer:    proposer.Hex(),
		StartBlock:  startBlock,
		EndBlock:    endBlock,
		Description: description,
	}
	for _, t := range actions.Targets {
		data.Targets = append(data.Targets, t.Hex())
	}
	for _, v := range actions.Values {
		data.Values = append(data.Values, v.String())
	}
	data.Signatures = append(data.Signatures, actions.Signatures...)
	for _, c := range actions.Calldatas {
		data.Calldatas = append(data.Calldatas, hexutil.Encode(c))
	}
	return data
}
