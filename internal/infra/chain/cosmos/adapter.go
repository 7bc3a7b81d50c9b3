// Package cosmos indexes Cosmos SDK gov activity through the LCD REST gateway.
package cosmos

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/vietddude/chainevents/internal/core/domain"
	"github.com/vietddude/chainevents/internal/infra/chain"
	"github.com/vietddude/chainevents/internal/infra/rpc"
	"github.com/vietddude/chainevents/internal/indexing/metrics"
)

const latestBlockPath = "/cosmos/base/tendermint/v1beta1/blocks/latest"

// Adapter talks to an LCD endpoint. There is no session, so it is always connected.
type Adapter struct {
	chainID string
	client  *rpc.HTTPClient
	log     *slog.Logger
}

// NewAdapter creates an adapter for opts.URL.
func NewAdapter(opts chain.Options, log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		chainID: opts.ChainID,
		client: rpc.NewHTTPClient(rpc.ClientConfig{
			Chain:   opts.ChainID,
			Name:    "lcd",
			BaseURL: opts.URL,
			RPS:     opts.RPS,
			Burst:   1,
		}),
		log: log,
	}
}

func (a *Adapter) Network() domain.Network { return domain.NetworkCosmos }
func (a *Adapter) Endpoint() string        { return a.client.BaseURL() }
func (a *Adapter) IsConnected() bool       { return true }
func (a *Adapter) Close()                  { a.client.Close() }

// Client returns the LCD client.
func (a *Adapter) Client() *rpc.HTTPClient { return a.client }

// Connect verifies the gateway answers the latest-block query.
func (a *Adapter) Connect(ctx context.Context) error {
	head, err := a.LatestBlock(ctx)
	if err != nil {
		return err
	}
	a.log.Debug("lcd endpoint verified", "height", head)
	return nil
}

func (a *Adapter) LatestBlock(ctx context.Context) (uint64, error) {
	var resp struct {
		Block struct {
			Header struct {
				Height string `json:"height"`
			} `json:"header"`
		} `json:"block"`
		SdkBlock *struct {
			Header struct {
				Height string `json:"height"`
			} `json:"header"`
		} `json:"sdk_block"`
	}
	if err := a.client.GetJSON(ctx, latestBlockPath, nil, &resp); err != nil {
		return 0, fmt.Errorf("latest block: %w", err)
	}

	h := resp.Block.Header.Height
	if resp.SdkBlock != nil && resp.SdkBlock.Header.Height != "" {
		h = resp.SdkBlock.Header.Height
	}
	head, err := strconv.ParseUint(h, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("latest block: bad height %q: %w", h, err)
	}
	metrics.ChainLatestBlock.WithLabelValues(a.chainID).Set(float64(head))
	return head, nil
}
