// Package substrate indexes democracy, treasury and balance activity on Substrate chains.
// Heads arrive over the node's websocket; decoded blocks and storage come from
// substrate-api-sidecar.
package substrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/vietddude/chainevents/internal/core/domain"
	"github.com/vietddude/chainevents/internal/infra/chain"
	"github.com/vietddude/chainevents/internal/infra/rpc"
	"github.com/vietddude/chainevents/internal/indexing/metrics"
)

const unsubscribeTimeout = 5 * time.Second

// ErrNotConnected is returned when the node session is used before Connect.
var ErrNotConnected = errors.New("substrate adapter not connected")

type header struct {
	Number string `json:"number"`
}

func (h header) number() (uint64, error) {
	n, err := hexutil.DecodeUint64(h.Number)
	if err != nil {
		return 0, fmt.Errorf("bad header number %q: %w", h.Number, err)
	}
	return n, nil
}

// Adapter holds the node websocket session and the sidecar client.
type Adapter struct {
	chainID  string
	endpoint string
	sidecar  *Sidecar
	log      *slog.Logger

	mu        sync.RWMutex
	session   *wsSession
	heartbeat *chain.Heartbeat
}

// NewAdapter creates an unconnected adapter for opts.URL and opts.SidecarURL.
func NewAdapter(opts chain.Options, log *slog.Logger) *Adapter {
	opts = opts.Defaults()
	if log == nil {
		log = slog.Default()
	}
	a := &Adapter{
		chainID:  opts.ChainID,
		endpoint: opts.URL,
		sidecar: NewSidecar(rpc.NewHTTPClient(rpc.ClientConfig{
			Chain:   opts.ChainID,
			Name:    "sidecar",
			BaseURL: opts.SidecarURL,
			RPS:     opts.RPS,
			Burst:   1,
		})),
		log: log,
	}
	a.heartbeat = chain.NewHeartbeat(opts.HeartbeatInterval, a.probe, log)
	return a
}

func (a *Adapter) Network() domain.Network { return domain.NetworkSubstrate }
func (a *Adapter) Endpoint() string        { return a.endpoint }

// Sidecar returns the REST client for blocks and storage.
func (a *Adapter) Sidecar() *Sidecar { return a.sidecar }

// Heartbeat returns the liveness tracker of the node session.
func (a *Adapter) Heartbeat() *chain.Heartbeat { return a.heartbeat }

// Connect dials the node and checks it answers system_health. An existing session is replaced.
func (a *Adapter) Connect(ctx context.Context) error {
	s, err := dialSession(ctx, a.endpoint)
	if err != nil {
		return err
	}
	var health struct {
		Peers     int  `json:"peers"`
		IsSyncing bool `json:"isSyncing"`
	}
	if err := s.Call(ctx, "system_health", nil, &health); err != nil {
		s.Close()
		return fmt.Errorf("system_health: %w", err)
	}

	a.mu.Lock()
	old := a.session
	a.session = s
	a.mu.Unlock()
	if old != nil {
		old.Close()
	}

	a.heartbeat.Start(context.WithoutCancel(ctx))
	a.heartbeat.SetActive(true)
	a.heartbeat.Beat()
	a.log.Debug("node session established", "peers", health.Peers, "syncing", health.IsSyncing)
	return nil
}

func (a *Adapter) IsConnected() bool {
	a.mu.RLock()
	s := a.session
	a.mu.RUnlock()
	if s == nil {
		return false
	}
	select {
	case <-s.Done():
		return false
	default:
	}
	return a.heartbeat.Alive()
}

func (a *Adapter) current() (*wsSession, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.session == nil {
		return nil, ErrNotConnected
	}
	return a.session, nil
}

// LatestBlock returns the last finalized block number.
func (a *Adapter) LatestBlock(ctx context.Context) (uint64, error) {
	s, err := a.current()
	if err != nil {
		return 0, err
	}
	var hash string
	if err := s.Call(ctx, "chain_getFinalizedHead", nil, &hash); err != nil {
		return 0, err
	}
	var h header
	if err := s.Call(ctx, "chain_getHeader", []any{hash}, &h); err != nil {
		return 0, err
	}
	n, err := h.number()
	if err != nil {
		return 0, err
	}
	metrics.ChainLatestBlock.WithLabelValues(a.chainID).Set(float64(n))
	return n, nil
}

// SubscribeHeads streams finalized head numbers. The channel closes when the session
// ends or stop is called; stop also drops the subscription on the node and waits
// for the decoding goroutine. stop is safe to call more than once.
func (a *Adapter) SubscribeHeads(ctx context.Context) (heads <-chan uint64, stop func(), err error) {
	s, err := a.current()
	if err != nil {
		return nil, nil, err
	}
	id, raw, err := s.Subscribe(ctx, "chain_subscribeFinalizedHeads", nil)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan uint64, 16)
	quit := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		defer close(out)
		for {
			select {
			case <-quit:
				return
			case <-s.Done():
				return
			case msg := <-raw:
				var h header
				if err := json.Unmarshal(msg, &h); err != nil {
					a.log.Debug("bad head notification", "error", err)
					continue
				}
				n, err := h.number()
				if err != nil {
					continue
				}
				a.heartbeat.Beat()
				select {
				case out <- n:
				default:
				}
			}
		}
	}()

	var once sync.Once
	stop = func() {
		once.Do(func() {
			close(quit)
			<-exited
			ctx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
			defer cancel()
			if err := s.Unsubscribe(ctx, "chain_unsubscribeFinalizedHeads", id); err != nil {
				a.log.Debug("head unsubscribe failed", "subscription", id, "error", err)
			}
		})
	}
	return out, stop, nil
}

func (a *Adapter) Close() {
	a.heartbeat.Stop()
	a.mu.Lock()
	s := a.session
	a.session = nil
	a.mu.Unlock()
	if s != nil {
		s.Close()
	}
	a.sidecar.client.Close()
}

func (a *Adapter) probe(ctx context.Context) error {
	s, err := a.current()
	if err != nil {
		return err
	}
	return s.Call(ctx, "system_health", nil, nil)
}
