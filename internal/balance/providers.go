package balance

import (
	"context"
	"fmt"
	"math/big"
	"net/url"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/chainevents/internal/infra/chain/erc20"
	"github.com/vietddude/chainevents/internal/infra/rpc"
)

// EVMBackend is the part of an EVM client the provider calls.
type EVMBackend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// EVMProvider reads native balances, or ERC20 balanceOf when a token is given.
type EVMProvider struct {
	backend EVMBackend
}

func NewEVMProvider(backend EVMBackend) *EVMProvider {
	return &EVMProvider{backend: backend}
}

func (p *EVMProvider) Balance(ctx context.Context, address string, opts Options) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid address %q", address)
	}
	account := common.HexToAddress(address)
	if opts.Token == "" {
		return p.backend.BalanceAt(ctx, account, nil)
	}
	if !common.IsHexAddress(opts.Token) {
		return nil, fmt.Errorf("invalid token address %q", opts.Token)
	}

	parsed, err := erc20.ABI()
	if err != nil {
		return nil, err
	}
	input, err := parsed.Pack("balanceOf", account)
	if err != nil {
		return nil, err
	}
	token := common.HexToAddress(opts.Token)
	out, err := p.backend.CallContract(ctx, ethereum.CallMsg{To: &token, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("balanceOf: %w", err)
	}
	values, err := parsed.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("failed to decode balanceOf: %w", err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("balanceOf returned %d values", len(values))
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf returned %T", values[0])
	}
	return v, nil
}

// CosmosBankProvider reads bank balances from an LCD endpoint.
type CosmosBankProvider struct {
	client *rpc.HTTPClient
	denom  string
}

// NewCosmosBankProvider uses denom when a lookup names no token.
func NewCosmosBankProvider(client *rpc.HTTPClient, denom string) *CosmosBankProvider {
	return &CosmosBankProvider{client: client, denom: denom}
}

func (p *CosmosBankProvider) Balance(ctx context.Context, address string, opts Options) (*big.Int, error) {
	denom := opts.Token
	if denom == "" {
		denom = p.denom
	}
	if denom == "" {
		return nil, fmt.Errorf("no denom for %s", address)
	}

	var resp struct {
		Balance struct {
			Denom  string `json:"denom"`
			Amount string `json:"amount"`
		} `json:"balance"`
	}
	path := "/cosmos/bank/v1beta1/balances/" + url.PathEscape(address) + "/by_denom"
	if err := p.client.GetJSON(ctx, path, url.Values{"denom": {denom}}, &resp); err != nil {
		return nil, err
	}
	if resp.Balance.Amount == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(resp.Balance.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", resp.Balance.Amount)
	}
	return v, nil
}
