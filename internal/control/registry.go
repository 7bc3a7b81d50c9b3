package control

import (
	"fmt"

	"github.com/vietddude/chainevents/internal/core/domain"
	"github.com/vietddude/chainevents/internal/infra/chain"
	"github.com/vietddude/chainevents/internal/infra/chain/compound"
	"github.com/vietddude/chainevents/internal/infra/chain/cosmos"
	"github.com/vietddude/chainevents/internal/infra/chain/erc20"
	"github.com/vietddude/chainevents/internal/infra/chain/substrate"
)

// Registry maps a network name to the family that builds its components.
type Registry map[domain.Network]chain.Family

// DefaultRegistry returns every supported family.
func DefaultRegistry() Registry {
	r := Registry{}
	for _, f := range []chain.Family{compound.Family{}, erc20.Family{}, cosmos.Family{}, substrate.Family{}} {
		r[f.Network()] = f
	}
	return r
}

// Family looks up the family of n.
func (r Registry) Family(n domain.Network) (chain.Family, error) {
	f, ok := r[n]
	if !ok {
		return nil, fmt.Errorf("unsupported network %q", n)
	}
	return f, nil
}
