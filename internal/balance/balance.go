// Package balance caches account balances read from chain providers.
//
// A lookup names the chain, the address and the provider to ask. A miss asks the
// provider and stores the answer: zero balances expire after ZeroTTL, everything
// else after TTL. Expiry itself is the store's job.
package balance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/chainevents/internal/indexing/metrics"
)

var (
	// ErrUnknownChain is returned for a chain with no registered provider.
	ErrUnknownChain = errors.New("unknown chain")

	// ErrUnknownProvider is returned when the chain has no provider of that name.
	ErrUnknownProvider = errors.New("unknown balance provider")
)

// Options narrows a lookup. An empty Token means the chain's native asset.
type Options struct {
	Token string
}

// Provider reads one balance from a chain.
type Provider interface {
	Balance(ctx context.Context, address string, opts Options) (*big.Int, error)
}

// Store holds cached balances with a per-entry lifetime.
type Store interface {
	// Get returns the cached value and whether it was present and fresh.
	Get(ctx context.Context, key string) (*big.Int, bool, error)
	Set(ctx context.Context, key string, value *big.Int, ttl time.Duration) error
}

// Config sets the cache lifetimes.
type Config struct {
	TTL     time.Duration
	ZeroTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = time.Hour
	}
	if c.ZeroTTL <= 0 {
		c.ZeroTTL = 5 * time.Minute
	}
	return c
}

// Cache fronts the providers of every chain with a Store.
type Cache struct {
	store Store
	cfg   Config
	log   *slog.Logger

	mu        sync.RWMutex
	providers map[string]map[string]Provider
}

// NewCache creates an empty cache over store.
func NewCache(store Store, cfg Config, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		store:     store,
		cfg:       cfg.withDefaults(),
		log:       log.With("component", "balance-cache"),
		providers: make(map[string]map[string]Provider),
	}
}

// Register adds a named provider for a chain, replacing any previous one.
func (c *Cache) Register(chainID, name string, p Provider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.providers[chainID] == nil {
		c.providers[chainID] = make(map[string]Provider)
	}
	c.providers[chainID][name] = p
}

// Unregister drops every provider of a chain.
func (c *Cache) Unregister(chainID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.providers, chainID)
}

func (c *Cache) provider(chainID, name string) (Provider, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	byName, ok := c.providers[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChain, chainID)
	}
	p, ok := byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrUnknownProvider, name, chainID)
	}
	return p, nil
}

// GetBalance returns the cached balance or refreshes it from the provider.
func (c *Cache) GetBalance(ctx context.Context, chainID, address, provider string, opts Options) (*big.Int, error) {
	p, err := c.provider(chainID, provider)
	if err != nil {
		return nil, err
	}

	key := Key(chainID, provider, address, opts)
	if v, ok, err := c.store.Get(ctx, key); err != nil {
		c.log.Warn("balance store read failed", "key", key, "error", err)
	} else if ok {
		metrics.BalanceCacheLookups.WithLabelValues(chainID, provider, "hit").Inc()
		return v, nil
	}
	metrics.BalanceCacheLookups.WithLabelValues(chainID, provider, "miss").Inc()

	v, err := p.Balance(ctx, address, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch balance of %s on %s: %w", address, chainID, err)
	}

	ttl := c.cfg.TTL
	if v.Sign() == 0 {
		ttl = c.cfg.ZeroTTL
	}
	if err := c.store.Set(ctx, key, v, ttl); err != nil {
		c.log.Warn("balance store write failed", "key", key, "error", err)
	}
	return v, nil
}

// Key builds the store key of one lookup. Hex addresses are case-insensitive.
func Key(chainID, provider, address string, opts Options) string {
	return fmt.Sprintf("balance:%s:%s:%s:%s", chainID, provider, normalize(opts.Token), normalize(address))
}

func normalize(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strings.ToLower(s)
	}
	return s
}
