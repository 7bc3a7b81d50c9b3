package evm

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/chainevents/internal/infra/chain"
)

// NewFilter builds the log filter for one contract and a set of event topics.
func NewFilter(contract common.Address, topics ...common.Hash) ethereum.FilterQuery {
	q := ethereum.FilterQuery{Addresses: []common.Address{contract}}
	if len(topics) > 0 {
		q.Topics = [][]common.Hash{topics}
	}
	return q
}

// TypeID is the raw type identifier of a log: its topic0 in hex.
func TypeID(l types.Log) string {
	if len(l.Topics) == 0 {
		return ""
	}
	return l.Topics[0].Hex()
}

// GroupLogs orders logs by (block, index), drops removed logs and groups them per block.
func GroupLogs(logs []types.Log) []chain.RawBlock {
	live := make([]types.Log, 0, len(logs))
	for _, l := range logs {
		if !l.Removed {
			live = append(live, l)
		}
	}
	sort.SliceStable(live, func(i, j int) bool {
		if live[i].BlockNumber != live[j].BlockNumber {
			return live[i].BlockNumber < live[j].BlockNumber
		}
		return live[i].Index < live[j].Index
	})

	var blocks []chain.RawBlock
	for _, l := range live {
		if len(blocks) == 0 || blocks[len(blocks)-1].Number != l.BlockNumber {
			blocks = append(blocks, chain.RawBlock{Number: l.BlockNumber})
		}
		b := &blocks[len(blocks)-1]
		b.Items = append(b.Items, RawItem(l))
	}
	return blocks
}

// RawItem wraps a log as a pipeline item.
func RawItem(l types.Log) chain.RawItem {
	return chain.RawItem{Index: int(l.Index), TypeID: TypeID(l), Payload: l}
}

// Querier reads contract logs over a block range.
type Querier struct {
	adapter *Adapter
	filter  ethereum.FilterQuery
}

// NewQuerier creates a log-range querier for filter.
func NewQuerier(adapter *Adapter, filter ethereum.FilterQuery) *Querier {
	return &Querier{adapter: adapter, filter: filter}
}

func (q *Querier) QueryRange(ctx context.Context, from, to uint64) ([]chain.RawBlock, error) {
	c, err := q.adapter.Client()
	if err != nil {
		return nil, err
	}
	f := q.filter
	f.FromBlock = new(big.Int).SetUint64(from)
	f.ToBlock = new(big.Int).SetUint64(to)

	logs, err := c.FilterLogs(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("eth_getLogs [%d,%d]: %w", from, to, err)
	}
	return GroupLogs(logs), nil
}
