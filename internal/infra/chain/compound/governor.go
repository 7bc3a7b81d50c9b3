package compound

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/chainevents/internal/infra/chain/evm"
)

// ProposalState is the GovernorBravo state enum.
type ProposalState uint8

const (
	StatePending ProposalState = iota
	StateActive
	StateCanceled
	StateDefeated
	StateSucceeded
	StateQueued
	StateExpired
	StateExecuted
)

func (s ProposalState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	case StateCanceled:
		return "canceled"
	case StateDefeated:
		return "defeated"
	case StateSucceeded:
		return "succeeded"
	case StateQueued:
		return "queued"
	case StateExpired:
		return "expired"
	case StateExecuted:
		return "executed"
	default:
		return "unknown"
	}
}

// Proposal is the on-chain proposals(id) record.
type Proposal struct {
	ID           *big.Int       `abi:"id"`
	Proposer     common.Address `abi:"proposer"`
	Eta          *big.Int       `abi:"eta"`
	StartBlock   *big.Int       `abi:"startBlock"`
	EndBlock     *big.Int       `abi:"endBlock"`
	ForVotes     *big.Int       `abi:"forVotes"`
	AgainstVotes *big.Int       `abi:"againstVotes"`
	AbstainVotes *big.Int       `abi:"abstainVotes"`
	Canceled     bool           `abi:"canceled"`
	Executed     bool           `abi:"executed"`
}

// Actions is the getActions(id) result.
type Actions struct {
	Targets    []common.Address `abi:"targets"`
	Values     []*big.Int       `abi:"values"`
	Signatures []string         `abi:"signatures"`
	Calldatas  [][]byte         `abi:"calldatas"`
}

// Governor reads GovernorBravo storage through eth_call.
type Governor struct {
	address common.Address
	adapter *evm.Adapter
	abi     abi.ABI
}

// NewGovernor binds a reader to the governor at address.
func NewGovernor(adapter *evm.Adapter, address common.Address) (*Governor, error) {
	parsed, err := GovernorABI()
	if err != nil {
		return nil, fmt.Errorf("parse governor abi: %w", err)
	}
	return &Governor{address: address, adapter: adapter, abi: parsed}, nil
}

func (g *Governor) call(ctx context.Context, method string, out any, args ...any) error {
	c, err := g.adapter.Client()
	if err != nil {
		return err
	}
	input, err := g.abi.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("pack %s: %w", method, err)
	}
	raw, err := c.CallContract(ctx, ethereum.CallMsg{To: &g.address, Data: input}, nil)
	if err != nil {
		return fmt.Errorf("call %s: %w", method, err)
	}
	if err := g.abi.UnpackIntoInterface(out, method, raw); err != nil {
		return fmt.Errorf("unpack %s: %w", method, err)
	}
	return nil
}

func (g *Governor) ProposalCount(ctx context.Context) (uint64, error) {
	var n *big.Int
	if err := g.call(ctx, "proposalCount", &n); err != nil {
		return 0, err
	}
	return n.Uint64(), nil
}

func (g *Governor) VotingDelay(ctx context.Context) (uint64, error) {
	var n *big.Int
	if err := g.call(ctx, "votingDelay", &n); err != nil {
		return 0, err
	}
	return n.Uint64(), nil
}

func (g *Governor) Proposal(ctx context.Context, id uint64) (*Proposal, error) {
	var p Proposal
	if err := g.call(ctx, "proposals", &p, new(big.Int).SetUint64(id)); err != nil {
		return nil, err
	}
	return &p, nil
}

func (g *Governor) State(ctx context.Context, id uint64) (ProposalState, error) {
	var s uint8
	if err := g.call(ctx, "state", &s, new(big.Int).SetUint64(id)); err != nil {
		return 0, err
	}
	return ProposalState(s), nil
}

func (g *Governor) Actions(ctx context.Context, id uint64) (*Actions, error) {
	var a Actions
	if err := g.call(ctx, "getActions", &a, new(big.Int).SetUint64(id)); err != nil {
		return nil, err
	}
	return &a, nil
}
