// Package erc20 indexes token Transfer and Approval logs.
package erc20

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/chainevents/internal/core/domain"
	"github.com/vietddude/chainevents/internal/infra/chain"
	"github.com/vietddude/chainevents/internal/infra/chain/evm"
)

const erc20ABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "from", "type": "address"},
      {"indexed": true, "name": "to", "type": "address"},
      {"indexed": false, "name": "value", "type": "uint256"}
    ],
    "name": "Transfer",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "owner", "type": "address"},
      {"indexed": true, "name": "spender", "type": "address"},
      {"indexed": false, "name": "value", "type": "uint256"}
    ],
    "name": "Approval",
    "type": "event"
  },
  {"inputs": [{"name": "account", "type": "address"}], "name": "balanceOf", "outputs": [{"type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "decimals", "outputs": [{"type": "uint8"}], "stateMutability": "view", "type": "function"}
]`

var (
	erc20ABI     abi.ABI
	erc20ABIOnce sync.Once
	erc20ABIErr  error
)

// ABI returns the parsed ERC20 ABI.
func ABI() (abi.ABI, error) {
	erc20ABIOnce.Do(func() {
		erc20ABI, erc20ABIErr = abi.JSON(strings.NewReader(erc20ABIJSON))
	})
	return erc20ABI, erc20ABIErr
}

// Family wires token log components onto an EVM adapter. It has no storage fetcher:
// recovery replays logs through the querier.
type Family struct{}

func (Family) Network() domain.Network { return domain.NetworkERC20 }

func (Family) NewAdapter(opts chain.Options, log *slog.Logger) (chain.Adapter, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("erc20 chain %s: url is required", opts.ChainID)
	}
	return evm.NewAdapter(opts, log), nil
}

func (Family) Bind(adapter chain.Adapter, opts chain.Options, log *slog.Logger) (*chain.Bundle, error) {
	a, ok := adapter.(*evm.Adapter)
	if !ok {
		return nil, fmt.Errorf("erc20: unexpected adapter %T", adapter)
	}
	if !common.IsHexAddress(opts.ContractAddress) {
		return nil, fmt.Errorf("erc20 chain %s: invalid token address %q", opts.ChainID, opts.ContractAddress)
	}
	parsed, err := ABI()
	if err != nil {
		return nil, err
	}
	opts = opts.Defaults()
	token := common.HexToAddress(opts.ContractAddress)

	transfer, approval := parsed.Events["Transfer"].ID, parsed.Events["Approval"].ID
	byTopic := map[string]domain.EventKind{
		transfer.Hex(): domain.KindTransfer,
		approval.Hex(): domain.KindApproval,
	}
	parser := func(typeID string) (domain.EventKind, bool) {
		k, ok := byTopic[typeID]
		return k, ok
	}

	filter := evm.NewFilter(token, transfer, approval)
	return &chain.Bundle{
		Parser:     parser,
		Enricher:   &Enricher{chainID: opts.ChainID, abi: parsed},
		Subscriber: evm.NewSubscriber(a, filter, opts, log),
		Querier:    evm.NewQuerier(a, filter),
	}, nil
}

// Enricher decodes token logs. It never reads storage.
type Enricher struct {
	chainID string
	abi     abi.ABI
}

func (e *Enricher) Enrich(
	_ context.Context,
	blockNumber uint64,
	kind domain.EventKind,
	item chain.RawItem,
) (*domain.ChainEvent, error) {
	l, ok := item.Payload.(types.Log)
	if !ok {
		return nil, fmt.Errorf("unexpected payload %T", item.Payload)
	}

	var name string
	switch kind {
	case domain.KindTransfer:
		name = "Transfer"
	case domain.KindApproval:
		name = "Approval"
	default:
		panic(fmt.Sprintf("erc20 enricher: unsupported kind %q", kind))
	}

	// ERC721 Transfer shares the topic but indexes tokenId as a fourth topic
	if len(l.Topics) != 3 {
		return nil, fmt.Errorf("decode %s: expected 3 topics, got %d", name, len(l.Topics))
	}
	var value *big.Int
	if err := e.abi.UnpackIntoInterface(&value, name, l.Data); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	first := common.BytesToAddress(l.Topics[1].Bytes()).Hex()
	second := common.BytesToAddress(l.Topics[2].Bytes()).Hex()
	token := l.Address.Hex()

	if kind == domain.KindTransfer {
		return domain.NewChainEvent(e.chainID, blockNumber, domain.NetworkERC20,
			domain.Transfer{Token: token, From: first, To: second, Value: value.String()},
			domain.WithExcludeAddresses(first))
	}
	return domain.NewChainEvent(e.chainID, blockNumber, domain.NetworkERC20,
		domain.Approval{Token: token, Owner: first, Spender: second, Value: value.String()},
		domain.WithExcludeAddresses(first))
}
