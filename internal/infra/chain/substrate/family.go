package substrate

import (
	"fmt"
	"log/slog"

	"github.com/vietddude/chainevents/internal/core/domain"
	"github.com/vietddude/chainevents/internal/infra/chain"
)

// Family wires the sidecar-backed components onto a node session.
type Family struct{}

func (Family) Network() domain.Network { return domain.NetworkSubstrate }

func (Family) NewAdapter(opts chain.Options, log *slog.Logger) (chain.Adapter, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("substrate chain %s: url is required", opts.ChainID)
	}
	if opts.SidecarURL == "" {
		return nil, fmt.Errorf("substrate chain %s: sidecar_url is required", opts.ChainID)
	}
	return NewAdapter(opts, log), nil
}

func (Family) Bind(adapter chain.Adapter, opts chain.Options, log *slog.Logger) (*chain.Bundle, error) {
	a, ok := adapter.(*Adapter)
	if !ok {
		return nil, fmt.Errorf("substrate: unexpected adapter %T", adapter)
	}
	opts = opts.Defaults()

	storage := NewStorage(a.Sidecar())
	querier := NewQuerier(a)
	return &chain.Bundle{
		Parser:     ParseType,
		Enricher:   NewEnricher(opts.ChainID, storage, opts.Enricher),
		Subscriber: NewSubscriber(a, querier, opts, log),
		Fetcher:    NewFetcher(opts.ChainID, a, storage, log),
		Querier:    querier,
	}, nil
}
