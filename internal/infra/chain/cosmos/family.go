package cosmos

import (
	"fmt"
	"log/slog"

	"github.com/vietddude/chainevents/internal/core/domain"
	"github.com/vietddude/chainevents/internal/infra/chain"
)

// Family wires the gov components onto an LCD adapter. Live blocks are polled.
type Family struct{}

func (Family) Network() domain.Network { return domain.NetworkCosmos }

func (Family) NewAdapter(opts chain.Options, log *slog.Logger) (chain.Adapter, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("cosmos chain %s: url is required", opts.ChainID)
	}
	return NewAdapter(opts, log), nil
}

func (Family) Bind(adapter chain.Adapter, opts chain.Options, log *slog.Logger) (*chain.Bundle, error) {
	a, ok := adapter.(*Adapter)
	if !ok {
		return nil, fmt.Errorf("cosmos: unexpected adapter %T", adapter)
	}
	switch opts.Spec.GovVersion {
	case "", "v1beta1", "v1":
	default:
		return nil, fmt.Errorf("cosmos chain %s: unknown gov version %q", opts.ChainID, opts.Spec.GovVersion)
	}
	opts = opts.Defaults()

	gov := NewGovAPI(a.Client(), opts.Spec.GovVersion)
	enricher := NewEnricher(opts.ChainID, gov)
	querier := NewQuerier(a)
	return &chain.Bundle{
		Parser:     ParseType,
		Enricher:   enricher,
		Subscriber: chain.NewPoller(a, querier, opts, log),
		Fetcher:    NewFetcher(opts.ChainID, a, gov, enricher, log),
		Querier:    querier,
	}, nil
}
