package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/vietddude/chainevents/internal/core/domain"
	"github.com/vietddude/chainevents/internal/infra/chain"
	"github.com/vietddude/chainevents/internal/indexing/metrics"
)

// ErrNotConnected is returned when the adapter is used before Connect.
var ErrNotConnected = errors.New("evm adapter not connected")

// Adapter connects to an EVM node over HTTP or websocket.
type Adapter struct {
	network  domain.Network
	chainID  string
	endpoint string
	socket   bool
	log      *slog.Logger

	mu        sync.RWMutex
	rpcClient *rpc.Client
	client    Client
	heartbeat *chain.Heartbeat

	dial func(ctx context.Context, url string) (*rpc.Client, error)
}

// NewAdapter creates an unconnected adapter for opts.URL.
func NewAdapter(opts chain.Options, log *slog.Logger) *Adapter {
	opts = opts.Defaults()
	if log == nil {
		log = slog.Default()
	}
	a := &Adapter{
		network:  opts.Network,
		chainID:  opts.ChainID,
		endpoint: opts.URL,
		socket:   IsSocketURL(opts.URL),
		log:      log,
		dial:     rpc.DialContext,
	}
	if a.socket {
		a.heartbeat = chain.NewHeartbeat(opts.HeartbeatInterval, a.probe, log)
	}
	return a
}

// NewAdapterWithClient wraps an already-connected client.
func NewAdapterWithClient(opts chain.Options, client Client, log *slog.Logger) *Adapter {
	a := NewAdapter(opts, log)
	a.client = client
	return a
}

// IsSocketURL reports whether url selects a persistent websocket connection.
func IsSocketURL(url string) bool {
	u := strings.ToLower(url)
	return strings.HasPrefix(u, "ws://") || strings.HasPrefix(u, "wss://")
}

func (a *Adapter) Network() domain.Network { return a.network }
func (a *Adapter) Endpoint() string        { return a.endpoint }

// Socket reports whether the adapter holds a websocket session.
func (a *Adapter) Socket() bool { return a.socket }

// Connect dials the endpoint and verifies it answers eth_chainId.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client == nil {
		rpcClient, err := a.dial(ctx, a.endpoint)
		if err != nil {
			return fmt.Errorf("dial: %w", err)
		}
		a.rpcClient = rpcClient
		a.client = ethclient.NewClient(rpcClient)
	}

	id, err := a.client.ChainID(ctx)
	if err != nil {
		a.closeLocked()
		return fmt.Errorf("eth_chainId: %w", err)
	}
	a.log.Debug("evm endpoint verified", "eth_chain_id", id.String())

	if a.heartbeat != nil {
		a.heartbeat.Start(context.Background())
	}
	return nil
}

// IsConnected checks the heartbeat for websocket endpoints. HTTP endpoints have no session.
func (a *Adapter) IsConnected() bool {
	if a.heartbeat == nil {
		return true
	}
	return a.heartbeat.Alive()
}

// Heartbeat returns the liveness tracker, nil for HTTP endpoints.
func (a *Adapter) Heartbeat() *chain.Heartbeat { return a.heartbeat }

// Client returns the connected client.
func (a *Adapter) Client() (Client, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.client == nil {
		return nil, ErrNotConnected
	}
	return a.client, nil
}

func (a *Adapter) LatestBlock(ctx context.Context) (uint64, error) {
	c, err := a.Client()
	if err != nil {
		return 0, err
	}
	head, err := c.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("eth_blockNumber: %w", err)
	}
	metrics.ChainLatestBlock.WithLabelValues(a.chainID).Set(float64(head))
	return head, nil
}

func (a *Adapter) Close() {
	if a.heartbeat != nil {
		a.heartbeat.Stop()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closeLocked()
}

func (a *Adapter) closeLocked() {
	if a.rpcClient != nil {
		a.rpcClient.Close()
		a.rpcClient = nil
		a.client = nil
	}
}

func (a *Adapter) probe(ctx context.Context) error {
	c, err := a.Client()
	if err != nil {
		return err
	}
	_, err = c.BlockNumber(ctx)
	return err
}
