package compound

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/chainevents/internal/core/domain"
	"github.com/vietddude/chainevents/internal/infra/chain"
	"github.com/vietddude/chainevents/internal/infra/chain/evm"
	"github.com/vietddude/chainevents/internal/infra/chain/evm/evmtest"
)

var (
	governorAddr = common.HexToAddress("0xc0Da02939E1441F497fd74F78cE7Decb17B66529")
	alice        = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob          = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

// =============================================================================
// Fake governor storage
// =============================================================================

type fakeGovernor struct {
	count     uint64
	delay     uint64
	proposals map[uint64]*Proposal
	states    map[uint64]ProposalState
	actions   map[uint64]*Actions
	callErr   error
}

func newFakeGovernor() *fakeGovernor {
	return &fakeGovernor{
		delay:     10,
		proposals: map[uint64]*Proposal{},
		states:    map[uint64]ProposalState{},
		actions:   map[uint64]*Actions{},
	}
}

func (g *fakeGovernor) add(id, start, end uint64, state ProposalState) {
	g.count = max(g.count, id)
	g.proposals[id] = &Proposal{
		ID:           new(big.Int).SetUint64(id),
		Proposer:     alice,
		Eta:          big.NewInt(1_700_000_000),
		StartBlock:   new(big.Int).SetUint64(start),
		EndBlock:     new(big.Int).SetUint64(end),
		ForVotes:     big.NewInt(600),
		AgainstVotes: big.NewInt(300),
		AbstainVotes: big.NewInt(1),
	}
	g.states[id] = state
	g.actions[id] = &Actions{
		Targets:    []common.Address{bob},
		Values:     []*big.Int{big.NewInt(0)},
		Signatures: []string{"_setPendingAdmin(address)"},
		Calldatas:  [][]byte{{0x01, 0x02}},
	}
}

func (g *fakeGovernor) call(msg ethereum.CallMsg) ([]byte, error) {
	if g.callErr != nil {
		return nil, g.callErr
	}
	parsed, err := GovernorABI()
	if err != nil {
		return nil, err
	}
	m, err := parsed.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := m.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}

	switch m.Name {
	case "proposalCount":
		return m.Outputs.Pack(new(big.Int).SetUint64(g.count))
	case "votingDelay":
		return m.Outputs.Pack(new(big.Int).SetUint64(g.delay))
	case "proposals":
		p, ok := g.proposals[args[0].(*big.Int).Uint64()]
		if !ok {
			zero := new(big.Int)
			return m.Outputs.Pack(zero, common.Address{}, zero, zero, zero, zero, zero, zero, false, false)
		}
		return m.Outputs.Pack(p.ID, p.Proposer, p.Eta, p.StartBlock, p.EndBlock,
			p.ForVotes, p.AgainstVotes, p.AbstainVotes, p.Canceled, p.Executed)
	case "state":
		return m.Outputs.Pack(uint8(g.states[args[0].(*big.Int).Uint64()]))
	case "getActions":
		a := g.actions[args[0].(*big.Int).Uint64()]
		return m.Outputs.Pack(a.Targets, a.Values, a.Signatures, a.Calldatas)
	}
	return nil, errors.New("unexpected method " + m.Name)
}

// =============================================================================
// Log builders
// =============================================================================

func eventLog(t *testing.T, name string, block uint64, index uint, topics []common.Hash, args ...any) types.Log {
	t.Helper()
	parsed, err := GovernorABI()
	require.NoError(t, err)
	ev := parsed.Events[name]
	data, err := ev.Inputs.NonIndexed().Pack(args...)
	require.NoError(t, err)
	return types.Log{
		Address:     governorAddr,
		BlockNumber: block,
		Index:       index,
		Topics:      append([]common.Hash{ev.ID}, topics...),
		Data:        data,
	}
}

func createdLog(t *testing.T, id, block uint64) types.Log {
	return eventLog(t, "ProposalCreated", block, 0, nil,
		new(big.Int).SetUint64(id), alice,
		[]common.Address{bob}, []*big.Int{big.NewInt(0)},
		[]string{"_setPendingAdmin(address)"}, [][]byte{{0x01, 0x02}},
		new(big.Int).SetUint64(block+10), new(big.Int).SetUint64(block+100), "# Upgrade governor",
	)
}

func voteLog(t *testing.T, id, block uint64, voter common.Address) types.Log {
	return eventLog(t, "VoteCast", block, 1, []common.Hash{common.BytesToHash(voter.Bytes())},
		new(big.Int).SetUint64(id), uint8(1), big.NewInt(42), "lgtm")
}

func setup(t *testing.T) (*evmtest.Client, *fakeGovernor, *chain.Bundle) {
	t.Helper()
	client := evmtest.NewClient()
	gov := newFakeGovernor()
	client.CallFn = gov.call

	opts := chain.Options{
		ChainID:         "compound-mainnet",
		Network:         domain.NetworkCompound,
		URL:             "https://rpc.invalid",
		ContractAddress: governorAddr.Hex(),
		WindowSize:      50,
	}
	a := evm.NewAdapterWithClient(opts, client, nil)
	require.NoError(t, a.Connect(context.Background()))

	bundle, err := Family{}.Bind(a, opts, nil)
	require.NoError(t, err)
	return client, gov, bundle
}

// =============================================================================
// Parser and enricher
// =============================================================================

func TestParser(t *testing.T) {
	_, _, b := setup(t)
	parsed, _ := GovernorABI()

	kind, ok := b.Parser(parsed.Events["VoteCast"].ID.Hex())
	assert.True(t, ok)
	assert.Equal(t, domain.KindVoteCast, kind)

	_, ok = b.Parser(common.HexToHash("0xdead").Hex())
	assert.False(t, ok)
}

func TestEnricher_ProposalCreated(t *testing.T) {
	_, _, b := setup(t)
	l := createdLog(t, 7, 1000)

	ev, err := b.Enricher.Enrich(context.Background(), 1000, domain.KindProposalCreated, evm.RawItem(l))
	require.NoError(t, err)

	data := ev.Data.(domain.ProposalCreated)
	assert.Equal(t, uint64(7), data.ID)
	assert.Equal(t, alice.Hex(), data.Proposer)
	assert.Equal(t, []string{bob.Hex()}, data.Targets)
	assert.Equal(t, []string{"0x0102"}, data.Calldatas)
	assert.Equal(t, uint64(1010), data.StartBlock)
	assert.Equal(t, "# Upgrade governor", data.Description)
	assert.Equal(t, []string{alice.Hex()}, ev.ExcludeAddresses)
}

func TestEnricher_VoteCastReadsTally(t *testing.T) {
	_, gov, b := setup(t)
	gov.add(7, 1010, 1100, StateActive)

	ev, err := b.Enricher.Enrich(context.Background(), 1050, domain.KindVoteCast, evm.RawItem(voteLog(t, 7, 1050, bob)))
	require.NoError(t, err)

	data := ev.Data.(domain.VoteCast)
	assert.Equal(t, bob.Hex(), data.Voter)
	assert.Equal(t, "42", data.Votes)
	assert.Equal(t, "600", data.ForVotes)
	assert.Equal(t, "300", data.AgainstVotes)
	assert.Equal(t, "lgtm", data.Reason)
}

func TestEnricher_StorageReadErrorPropagates(t *testing.T) {
	_, gov, b := setup(t)
	gov.callErr = errors.New("execution reverted")

	_, err := b.Enricher.Enrich(context.Background(), 1050, domain.KindVoteCast, evm.RawItem(voteLog(t, 7, 1050, bob)))
	assert.ErrorContains(t, err, "execution reverted")
}

func TestEnricher_QueuedExecutedCanceled(t *testing.T) {
	_, _, b := setup(t)
	ctx := context.Background()

	ev, err := b.Enricher.Enrich(ctx, 5, domain.KindProposalQueued,
		evm.RawItem(eventLog(t, "ProposalQueued", 5, 0, nil, big.NewInt(3), big.NewInt(99))))
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalQueued{ID: 3, ETA: 99}, ev.Data)

	ev, err = b.Enricher.Enrich(ctx, 6, domain.KindProposalExecuted,
		evm.RawItem(eventLog(t, "ProposalExecuted", 6, 0, nil, big.NewInt(3))))
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalExecuted{ID: 3}, ev.Data)

	ev, err = b.Enricher.Enrich(ctx, 7, domain.KindProposalCanceled,
		evm.RawItem(eventLog(t, "ProposalCanceled", 7, 0, nil, big.NewInt(4))))
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalCanceled{ID: 4}, ev.Data)
}

func TestEnricher_ForeignKindPanics(t *testing.T) {
	_, _, b := setup(t)
	assert.Panics(t, func() {
		_, _ = b.Enricher.Enrich(context.Background(), 1, domain.KindDeposit, evm.RawItem(createdLog(t, 1, 1)))
	})
}

// =============================================================================
// Storage fetcher
// =============================================================================

func TestFetcher_Fetch(t *testing.T) {
	client, gov, b := setup(t)
	client.SetHead(2000)

	gov.add(1, 110, 200, StateExecuted)
	gov.add(2, 1010, 2100, StateActive)
	gov.add(3, 1510, 1600, StateCanceled)

	client.AddLogs(
		createdLog(t, 1, 100),
		createdLog(t, 2, 1000),
		voteLog(t, 2, 1020, bob),
		voteLog(t, 9, 1030, alice),
		voteLog(t, 2, 1990, alice),
	)

	events, err := b.Fetcher.Fetch(context.Background(), nil)
	require.NoError(t, err)

	var got []string
	for _, ev := range events {
		got = append(got, string(ev.Kind))
	}
	assert.Equal(t, []string{
		"proposal-created", // 1 @100
		"proposal-queued",  // 1 @200
		"proposal-executed",
		"proposal-created", // 2 @1000
		"vote-cast",        // 2 @1020
		"proposal-created", // 3 @1500, synthesized from storage
		"proposal-canceled",
		"vote-cast", // 2 @1990
	}, got)

	for i := 1; i < len(events); i++ {
		assert.LessOrEqual(t, events[i-1].BlockNumber, events[i].BlockNumber)
	}

	// Proposal 3 had no creation log: description is empty, actions come from getActions
	synth := events[5].Data.(domain.ProposalCreated)
	assert.Equal(t, uint64(3), synth.ID)
	assert.Equal(t, uint64(1500), events[5].BlockNumber)
	assert.Equal(t, []string{"_setPendingAdmin(address)"}, synth.Signatures)
	assert.Empty(t, synth.Description)
}

func TestFetcher_FetchRangeSkipsOldProposals(t *testing.T) {
	client, gov, b := setup(t)
	client.SetHead(2000)
	gov.add(1, 110, 200, StateExecuted)
	gov.add(2, 1010, 2100, StateActive)

	r := domain.NewBlockRange(1500, 2000)
	events, err := b.Fetcher.Fetch(context.Background(), &r)
	require.NoError(t, err)
	for _, ev := range events {
		assert.GreaterOrEqual(t, ev.BlockNumber, uint64(1000), "proposal 1 ended before the range")
	}
	require.NotEmpty(t, events)
	assert.Equal(t, uint64(2), events[0].Data.(domain.ProposalCreated).ID)
}

func TestFetcher_FetchOne(t *testing.T) {
	client, gov, b := setup(t)
	client.SetHead(2000)
	gov.add(1, 110, 200, StateDefeated)

	events, err := b.Fetcher.FetchOne(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.KindProposalCreated, events[0].Kind)

	_, err = b.Fetcher.FetchOne(context.Background(), 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = b.Fetcher.FetchOne(context.Background(), 9)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFamily_BindRejectsBadContract(t *testing.T) {
	a := evm.NewAdapterWithClient(chain.Options{URL: "https://rpc.invalid"}, evmtest.NewClient(), nil)
	_, err := Family{}.Bind(a, chain.Options{ChainID: "c", ContractAddress: "not-an-address"}, nil)
	assert.Error(t, err)

	_, err = Family{}.NewAdapter(chain.Options{ChainID: "c"}, nil)
	assert.Error(t, err)
}
