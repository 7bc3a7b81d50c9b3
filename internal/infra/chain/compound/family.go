// Package compound indexes GovernorBravo proposals and votes.
package compound

import (
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/chainevents/internal/core/domain"
	"github.com/vietddude/chainevents/internal/infra/chain"
	"github.com/vietddude/chainevents/internal/infra/chain/evm"
)

// Family wires the governor components onto an EVM adapter.
type Family struct{}

func (Family) Network() domain.Network { return domain.NetworkCompound }

func (Family) NewAdapter(opts chain.Options, log *slog.Logger) (chain.Adapter, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("compound chain %s: url is required", opts.ChainID)
	}
	return evm.NewAdapter(opts, log), nil
}

func (Family) Bind(adapter chain.Adapter, opts chain.Options, log *slog.Logger) (*chain.Bundle, error) {
	a, ok := adapter.(*evm.Adapter)
	if !ok {
		return nil, fmt.Errorf("compound: unexpected adapter %T", adapter)
	}
	if !common.IsHexAddress(opts.ContractAddress) {
		return nil, fmt.Errorf("compound chain %s: invalid contract address %q", opts.ChainID, opts.ContractAddress)
	}
	opts = opts.Defaults()
	contract := common.HexToAddress(opts.ContractAddress)

	parser, err := Parser()
	if err != nil {
		return nil, err
	}
	topics, err := Topics()
	if err != nil {
		return nil, err
	}
	governor, err := NewGovernor(a, contract)
	if err != nil {
		return nil, err
	}
	enricher, err := NewEnricher(opts.ChainID, governor)
	if err != nil {
		return nil, err
	}
	fetcher, err := NewFetcher(opts.ChainID, contract, a, governor, enricher, opts.WindowSize, log)
	if err != nil {
		return nil, err
	}

	filter := evm.NewFilter(contract, topics...)
	return &chain.Bundle{
		Parser:     parser,
		Enricher:   enricher,
		Subscriber: evm.NewSubscriber(a, filter, opts, log),
		Fetcher:    fetcher,
		Querier:    evm.NewQuerier(a, filter),
	}, nil
}
