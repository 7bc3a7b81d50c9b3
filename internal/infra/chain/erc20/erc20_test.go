package erc20

import (
	"context"
	"math/big"
	"testing"

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
	token = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	from  = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	to    = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func tokenLog(t *testing.T, event string, block uint64, index uint, a, b common.Address, value int64) types.Log {
	t.Helper()
	parsed, err := ABI()
	require.NoError(t, err)
	data, err := parsed.Events[event].Inputs.NonIndexed().Pack(big.NewInt(value))
	require.NoError(t, err)
	return types.Log{
		Address:     token,
		BlockNumber: block,
		Index:       index,
		Topics: []common.Hash{
			parsed.Events[event].ID,
			common.BytesToHash(a.Bytes()),
			common.BytesToHash(b.Bytes()),
		},
		Data: data,
	}
}

func bind(t *testing.T, client *evmtest.Client) *chain.Bundle {
	t.Helper()
	opts := chain.Options{ChainID: "dai", Network: domain.NetworkERC20, URL: "https://rpc.invalid", ContractAddress: token.Hex()}
	a := evm.NewAdapterWithClient(opts, client, nil)
	require.NoError(t, a.Connect(context.Background()))
	b, err := Family{}.Bind(a, opts, nil)
	require.NoError(t, err)
	return b
}

func TestEnrich_Transfer(t *testing.T) {
	b := bind(t, evmtest.NewClient())
	l := tokenLog(t, "Transfer", 10, 0, from, to, 1500)

	kind, ok := b.Parser(evm.TypeID(l))
	require.True(t, ok)
	require.Equal(t, domain.KindTransfer, kind)

	ev, err := b.Enricher.Enrich(context.Background(), 10, kind, evm.RawItem(l))
	require.NoError(t, err)
	assert.Equal(t, domain.Transfer{Token: token.Hex(), From: from.Hex(), To: to.Hex(), Value: "1500"}, ev.Data)
	assert.Equal(t, []string{from.Hex()}, ev.ExcludeAddresses)
}

func TestEnrich_Approval(t *testing.T) {
	b := bind(t, evmtest.NewClient())
	l := tokenLog(t, "Approval", 11, 3, from, to, 7)

	kind, ok := b.Parser(evm.TypeID(l))
	require.True(t, ok)

	ev, err := b.Enricher.Enrich(context.Background(), 11, kind, evm.RawItem(l))
	require.NoError(t, err)
	assert.Equal(t, domain.Approval{Token: token.Hex(), Owner: from.Hex(), Spender: to.Hex(), Value: "7"}, ev.Data)
}

func TestEnrich_NonCompliantLog(t *testing.T) {
	b := bind(t, evmtest.NewClient())
	l := tokenLog(t, "Transfer", 10, 0, from, to, 1)
	l.Topics = l.Topics[:1]

	_, err := b.Enricher.Enrich(context.Background(), 10, domain.KindTransfer, evm.RawItem(l))
	assert.Error(t, err)
}

func TestBundle_NoFetcher(t *testing.T) {
	client := evmtest.NewClient()
	client.AddLogs(
		tokenLog(t, "Transfer", 20, 1, from, to, 1),
		tokenLog(t, "Approval", 20, 0, from, to, 2),
		tokenLog(t, "Transfer", 22, 0, to, from, 3),
	)
	b := bind(t, client)
	assert.Nil(t, b.Fetcher)

	blocks, err := b.Querier.QueryRange(context.Background(), 0, 100)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Len(t, blocks[0].Items, 2)
	assert.Equal(t, 0, blocks[0].Items[0].Index)
}
