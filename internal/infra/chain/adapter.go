package chain

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/chainevents/internal/core/domain"
)

// Adapter defines the connection boundary between a listener and one chain endpoint.
// Implementations exist per network family; everything above this interface is generic.
type Adapter interface {
	// Network returns the family this adapter speaks
	Network() domain.Network

	// Endpoint returns the URL the adapter connects to
	Endpoint() string

	// Connect makes a single connection attempt. Retrying is the caller's job (see Connect).
	Connect(ctx context.Context) error

	// IsConnected reports liveness. HTTP-only adapters always report true.
	IsConnected() bool

	// LatestBlock returns the current chain head
	LatestBlock(ctx context.Context) (uint64, error)

	// Close releases the connection. Safe to call more than once.
	Close()
}

// RawItem is one undecoded occurrence inside a block: a log, a message or a runtime event.
type RawItem struct {
	Index   int
	TypeID  string
	Payload any
}

// RawBlock groups the raw items of a single block in chain order.
type RawBlock struct {
	Number uint64
	Items  []RawItem
}

// TypeParser maps a raw type identifier to a kind. Unknown identifiers return false.
type TypeParser func(typeID string) (domain.EventKind, bool)

// Enricher builds the canonical event for one recognized item.
// A nil event with a nil error means the item was filtered out.
// Calling it with a kind outside its family is a programming error and panics.
type Enricher interface {
	Enrich(ctx context.Context, blockNumber uint64, kind domain.EventKind, item RawItem) (*domain.ChainEvent, error)
}

// BlockCallback receives raw blocks from a Subscriber, one call at a time.
type BlockCallback func(ctx context.Context, block RawBlock) error

// Subscriber delivers live blocks.
type Subscriber interface {
	// Subscribe starts delivery. When offline is set, that range is replayed first.
	// It returns once delivery has started; blocks arrive on cb from a single goroutine.
	Subscribe(ctx context.Context, cb BlockCallback, offline *domain.BlockRange) error

	// Unsubscribe stops delivery and waits for the in-flight callback. Idempotent.
	Unsubscribe()
}

// StorageFetcher rebuilds events from chain state rather than from the event log.
type StorageFetcher interface {
	// Fetch returns events for tracked objects touched in r (all of them when r is nil).
	Fetch(ctx context.Context, r *domain.BlockRange) ([]*domain.ChainEvent, error)

	// FetchOne returns the events describing one object, or domain.ErrNotFound.
	FetchOne(ctx context.Context, id uint64) ([]*domain.ChainEvent, error)
}

// RangeQuerier reads raw blocks for a closed range from the chain's event log.
type RangeQuerier interface {
	QueryRange(ctx context.Context, from, to uint64) ([]RawBlock, error)
}

// Bundle is everything a listener needs once an adapter is connected.
// Fetcher and Querier are optional; recovery prefers the Querier.
type Bundle struct {
	Parser     TypeParser
	Enricher   Enricher
	Subscriber Subscriber
	Fetcher    StorageFetcher
	Querier    RangeQuerier
}

// Family constructs adapters and binds the per-connection components of one network.
type Family interface {
	Network() domain.Network
	NewAdapter(opts Options, log *slog.Logger) (Adapter, error)
	Bind(adapter Adapter, opts Options, log *slog.Logger) (*Bundle, error)
}

// Spec carries chain metadata for SDK-style chains.
type Spec struct {
	Name       string
	Denom      string
	GovVersion string
}

// EnricherOptions tunes family enrichers.
type EnricherOptions struct {
	// BalanceTransferThresholdPermill limits broadcast of substrate transfers to those
	// moving at least this share (in millionths) of total issuance. 0 broadcasts all.
	BalanceTransferThresholdPermill uint64
}

// Options is the per-chain listener configuration. A listener never mutates it;
// changing URL, spec or contract rebuilds the adapter.
type Options struct {
	ChainID         string
	Network         domain.Network
	URL             string
	SidecarURL      string
	ContractAddress string
	TokenName       string
	Spec            Spec

	PollInterval     time.Duration
	MaxBlocksPerPoll uint64
	WindowSize       uint64
	MaxOfflineRange  uint64
	SkipCatchup      bool
	StartBlock       uint64

	ConnectAttempts   int
	ConnectBackoff    time.Duration
	HeartbeatInterval time.Duration

	Enricher      EnricherOptions
	ExcludedKinds []domain.EventKind
	RPS           float64
}

// Defaults fills zero values with the defaults used by all families.
func (o Options) Defaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 10 * time.Second
	}
	if o.MaxBlocksPerPoll == 0 {
		o.MaxBlocksPerPoll = 100
	}
	if o.WindowSize == 0 {
		o.WindowSize = DefaultWindowSize(o.Network)
	}
	if o.ConnectAttempts <= 0 {
		o.ConnectAttempts = 3
	}
	if o.ConnectBackoff <= 0 {
		o.ConnectBackoff = 2 * time.Second
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 15 * time.Second
	}
	return o
}

// DefaultWindowSize returns the backfill window used when none is configured.
func DefaultWindowSize(n domain.Network) uint64 {
	switch n {
	case domain.NetworkCosmos, domain.NetworkSubstrate:
		return 100
	default:
		return 250
	}
}

// Logger tags base with the chain identity.
func (o Options) Logger(base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	return base.With("network", string(o.Network), "chain", o.ChainID)
}
