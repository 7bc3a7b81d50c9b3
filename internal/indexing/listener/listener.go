// Package listener runs the ingestion pipeline of one chain.
//
// A Listener owns the adapter connection and the components bound to it, recovers
// the range it missed while offline, then hands control to the live subscriber.
// Every event reaches the handler dispatcher in block order, one at a time.
//
//	UNINITIALIZED --Init--> INITIALIZED --Subscribe--> SUBSCRIBED --Unsubscribe--> UNSUBSCRIBED
//	                             ^                                                     |
//	                             +--------- Update* (teardown + Init) ------------------+
package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/vietddude/chainevents/internal/core/cursor"
	"github.com/vietddude/chainevents/internal/core/domain"
	"github.com/vietddude/chainevents/internal/indexing/handler"
	"github.com/vietddude/chainevents/internal/indexing/metrics"
	"github.com/vietddude/chainevents/internal/indexing/processor"
	"github.com/vietddude/chainevents/internal/infra/chain"
)

// ErrNotInitialized is returned by operations that need a connected adapter.
var ErrNotInitialized = errors.New("listener not initialized")

// Resolver reports where a previous run stopped. A nil range means there is no history.
type Resolver interface {
	Resolve(ctx context.Context, chainID string) (*domain.BlockRange, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, chainID string) (*domain.BlockRange, error)

func (f ResolverFunc) Resolve(ctx context.Context, chainID string) (*domain.BlockRange, error) {
	return f(ctx, chainID)
}

// Dispatcher receives every event the listener produces. *handler.Chain implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev *domain.ChainEvent) (handler.Result, error)
}

// Config wires a listener. Resolver and Store are optional.
type Config struct {
	Options  chain.Options
	Family   chain.Family
	Handlers Dispatcher
	Resolver Resolver
	Store    cursor.Store
	Logger   *slog.Logger
}

// Listener is the per-chain orchestrator.
type Listener struct {
	chainID  string
	family   chain.Family
	handlers Dispatcher
	resolver Resolver
	store    cursor.Store
	baseLog  *slog.Logger

	lifecycle *cursor.Lifecycle
	watermark cursor.Watermark
	processor atomic.Pointer[processor.Processor]

	// mu serializes lifecycle operations, which may hold it through a whole
	// offline recovery. The block callback never takes it.
	mu     sync.Mutex
	log    *slog.Logger
	bundle *chain.Bundle

	// view guards opts and adapter for status readers. Writers hold mu as well,
	// so code under mu reads both without it.
	view    sync.RWMutex
	opts    chain.Options
	adapter chain.Adapter
}

// New creates a listener in StateUninitialized.
func New(cfg Config) (*Listener, error) {
	if cfg.Family == nil {
		return nil, fmt.Errorf("listener %s: no network family", cfg.Options.ChainID)
	}
	if cfg.Handlers == nil {
		return nil, fmt.Errorf("listener %s: no handlers", cfg.Options.ChainID)
	}
	if cfg.Options.ChainID == "" {
		return nil, fmt.Errorf("listener: empty chain id")
	}
	if cfg.Options.Network == "" {
		cfg.Options.Network = cfg.Family.Network()
	}
	opts := cfg.Options.Defaults()

	l := &Listener{
		chainID:   opts.ChainID,
		family:    cfg.Family,
		handlers:  cfg.Handlers,
		resolver:  cfg.Resolver,
		store:     cfg.Store,
		baseLog:   cfg.Logger,
		lifecycle: cursor.NewLifecycle(opts.ChainID),
		opts:      opts,
		log:       opts.Logger(cfg.Logger),
	}
	l.lifecycle.SetStateChangeCallback(func(chainID string, t cursor.Transition) {
		metrics.ListenerState.WithLabelValues(chainID, string(t.From)).Set(0)
		metrics.ListenerState.WithLabelValues(chainID, string(t.To)).Set(1)
	})
	metrics.ListenerState.WithLabelValues(opts.ChainID, string(cursor.StateUninitialized)).Set(1)
	return l, nil
}

// ChainID returns the chain this listener watches.
func (l *Listener) ChainID() string { return l.chainID }

// Options returns the options the listener currently runs with.
func (l *Listener) Options() chain.Options {
	l.view.RLock()
	defer l.view.RUnlock()
	return l.opts
}

// State returns the lifecycle state.
func (l *Listener) State() cursor.State { return l.lifecycle.Current() }

// Watermark returns the highest block processed so far.
func (l *Listener) Watermark() uint64 { return l.watermark.Load() }

// Lifecycle exposes the state machine for status reporting.
func (l *Listener) Lifecycle() *cursor.Lifecycle { return l.lifecycle }

// Healthy reports whether the listener is subscribed over a live connection.
func (l *Listener) Healthy() bool {
	if !l.lifecycle.Is(cursor.StateSubscribed) {
		return false
	}
	adapter := l.currentAdapter()
	return adapter != nil && adapter.IsConnected()
}

func (l *Listener) currentAdapter() chain.Adapter {
	l.view.RLock()
	defer l.view.RUnlock()
	return l.adapter
}

func (l *Listener) setAdapter(a chain.Adapter) {
	l.view.Lock()
	l.adapter = a
	l.view.Unlock()
}

// LatestBlock reads the chain head through the current adapter.
func (l *Listener) LatestBlock(ctx context.Context) (uint64, error) {
	adapter := l.currentAdapter()
	if adapter == nil {
		return 0, ErrNotInitialized
	}
	head, err := adapter.LatestBlock(ctx)
	if err != nil {
		return 0, err
	}
	metrics.ChainLatestBlock.WithLabelValues(l.chainID).Set(float64(head))
	return head, nil
}

// Init connects the adapter and binds the processor, subscriber and fetcher to it.
// A failure leaves the listener uninitialized; connection failures are *chain.ConnectionError.
func (l *Listener) Init(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.init(ctx)
}

func (l *Listener) init(ctx context.Context) error {
	if !l.lifecycle.Is(cursor.StateUninitialized) {
		return fmt.Errorf("%w: init from %s", cursor.ErrInvalidTransition, l.lifecycle.Current())
	}

	adapter, err := l.family.NewAdapter(l.opts, l.log)
	if err != nil {
		return fmt.Errorf("failed to create adapter: %w", err)
	}
	if err := chain.Connect(ctx, adapter, l.opts.ConnectAttempts, l.opts.ConnectBackoff, l.opts.ChainID, l.log); err != nil {
		adapter.Close()
		return err
	}

	bundle, err := l.family.Bind(adapter, l.opts, l.log)
	if err != nil {
		adapter.Close()
		return fmt.Errorf("failed to bind components: %w", err)
	}

	l.restoreWatermark(ctx)

	l.setAdapter(adapter)
	l.bundle = bundle
	l.processor.Store(processor.New(l.opts.ChainID, bundle.Parser, bundle.Enricher, l.log))

	if err := l.lifecycle.Transition(cursor.StateInitialized, "adapter connected"); err != nil {
		return err
	}
	l.log.Info("listener initialized", "endpoint", adapter.Endpoint(), "watermark", l.watermark.Load())
	return nil
}

func (l *Listener) restoreWatermark(ctx context.Context) {
	if l.store == nil || l.watermark.Load() > 0 {
		return
	}
	v, err := l.store.Load(ctx, l.opts.ChainID)
	if err != nil {
		if !errors.Is(err, cursor.ErrCursorNotFound) {
			l.log.Warn("failed to load persisted watermark", "error", err)
		}
		return
	}
	l.watermark.Advance(v)
	metrics.Watermark.WithLabelValues(l.opts.ChainID).Set(float64(l.watermark.Load()))
}

// Subscribe recovers the offline range (unless skip_catchup is set) and starts live delivery.
// Recovery failures are logged; they never prevent the subscription.
func (l *Listener) Subscribe(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.subscribe(ctx)
}

func (l *Listener) subscribe(ctx context.Context) error {
	switch l.lifecycle.Current() {
	case cursor.StateUninitialized:
		return ErrNotInitialized
	case cursor.StateSubscribed:
		return nil
	}

	var offline *domain.BlockRange
	if l.opts.SkipCatchup {
		l.log.Info("skipping offline recovery")
	} else if rng := l.recoverOffline(ctx); rng != nil {
		// The subscriber replays whatever recovery did not reach, up to the live head.
		r := domain.OpenRange(max(l.watermark.Load()+1, rng.StartBlock))
		offline = &r
	}

	proc := l.processor.Load()
	cb := func(ctx context.Context, block chain.RawBlock) error {
		l.processBlock(ctx, proc, block)
		return nil
	}
	if err := l.bundle.Subscriber.Subscribe(ctx, cb, offline); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	if err := l.lifecycle.Transition(cursor.StateSubscribed, "live subscription started"); err != nil {
		l.bundle.Subscriber.Unsubscribe()
		return err
	}
	l.log.Info("listener subscribed", "watermark", l.watermark.Load())
	return nil
}

// Unsubscribe stops live delivery and keeps the connection. Safe to call in any state.
func (l *Listener) Unsubscribe() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.unsubscribe("unsubscribe requested")
}

func (l *Listener) unsubscribe(reason string) error {
	if !l.lifecycle.Is(cursor.StateSubscribed) {
		return nil
	}
	l.bundle.Subscriber.Unsubscribe()
	if err := l.lifecycle.Transition(cursor.StateUnsubscribed, reason); err != nil {
		return err
	}
	l.log.Info("listener unsubscribed", "reason", reason)
	return nil
}

// Close unsubscribes and drops the connection. The listener can be initialized again.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.teardown("closed")
}

func (l *Listener) teardown(reason string) error {
	if err := l.unsubscribe(reason); err != nil {
		return err
	}
	if l.lifecycle.Is(cursor.StateUninitialized) {
		return nil
	}
	if l.adapter != nil {
		l.adapter.Close()
	}
	l.setAdapter(nil)
	l.bundle = nil
	l.processor.Store(nil)
	return l.lifecycle.Transition(cursor.StateUninitialized, reason)
}

// UpdateURL rebuilds the listener against a new endpoint.
func (l *Listener) UpdateURL(ctx context.Context, url string) error {
	return l.reconfigure(ctx, "url changed", func(o *chain.Options) { o.URL = url })
}

// UpdateSpec rebuilds the listener with new chain metadata.
func (l *Listener) UpdateSpec(ctx context.Context, spec chain.Spec) error {
	return l.reconfigure(ctx, "spec changed", func(o *chain.Options) { o.Spec = spec })
}

// UpdateContractAddress rebuilds the listener against a new contract.
func (l *Listener) UpdateContractAddress(ctx context.Context, address string) error {
	return l.reconfigure(ctx, "contract changed", func(o *chain.Options) { o.ContractAddress = address })
}

// reconfigure tears everything down, applies the change and runs Init again. The
// subscription is restored only if there was one before.
func (l *Listener) reconfigure(ctx context.Context, reason string, apply func(*chain.Options)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	before := l.lifecycle.Current()
	if err := l.teardown(reason); err != nil {
		return err
	}
	l.view.Lock()
	apply(&l.opts)
	l.view.Unlock()
	l.log = l.opts.Logger(l.baseLog)

	if before == cursor.StateUninitialized {
		return nil
	}
	if err := l.init(ctx); err != nil {
		return err
	}
	if before == cursor.StateSubscribed {
		return l.subscribe(ctx)
	}
	return nil
}

// ProcessBlock runs one raw block through the pipeline, as the subscriber does.
func (l *Listener) ProcessBlock(ctx context.Context, block chain.RawBlock) error {
	proc := l.processor.Load()
	if proc == nil {
		return ErrNotInitialized
	}
	l.processBlock(ctx, proc, block)
	return nil
}

func (l *Listener) processBlock(ctx context.Context, proc *processor.Processor, block chain.RawBlock) {
	l.advance(block.Number)

	for _, ev := range proc.Process(ctx, block) {
		l.deliver(ctx, ev)
	}

	l.lifecycle.RecordBlock(block.Number)
	l.persist(ctx)
}

func (l *Listener) deliver(ctx context.Context, ev *domain.ChainEvent) {
	// Failures are logged by the dispatcher and never stop the stream.
	_, _ = l.handlers.Dispatch(ctx, ev)
}

func (l *Listener) advance(n uint64) {
	if l.watermark.Advance(n) {
		metrics.Watermark.WithLabelValues(l.chainID).Set(float64(n))
	}
}

func (l *Listener) persist(ctx context.Context) {
	if l.store == nil {
		return
	}
	wm := l.watermark.Load()
	if wm == 0 {
		return
	}
	if err := l.store.Save(ctx, l.chainID, wm); err != nil {
		l.log.Warn("failed to persist watermark", "watermark", wm, "error", err)
	}
}
