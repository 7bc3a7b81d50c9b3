// Package memory keeps watermarks and cached balances in process memory.
// It backs single-node runs and tests.
package memory

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/vietddude/chainevents/internal/core/cursor"
)

// -----------------------------------------------------------------------------
// Watermark Store
// -----------------------------------------------------------------------------

type WatermarkStore struct {
	mu    sync.RWMutex
	marks map[string]uint64
}

func NewWatermarkStore() *WatermarkStore {
	return &WatermarkStore{marks: make(map[string]uint64)}
}

func (s *WatermarkStore) Load(ctx context.Context, chainID string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.marks[chainID]
	if !ok {
		return 0, cursor.ErrCursorNotFound
	}
	return v, nil
}

func (s *WatermarkStore) Save(ctx context.Context, chainID string, blockNumber uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.marks[chainID]; ok && cur >= blockNumber {
		return nil
	}
	s.marks[chainID] = blockNumber
	return nil
}

func (s *WatermarkStore) Reset(ctx context.Context, chainID string, blockNumber uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks[chainID] = blockNumber
	return nil
}

// -----------------------------------------------------------------------------
// Balance Store
// -----------------------------------------------------------------------------

type balanceEntry struct {
	value     *big.Int
	expiresAt time.Time
}

type BalanceStore struct {
	mu      sync.RWMutex
	entries map[string]balanceEntry
	now     func() time.Time
}

func NewBalanceStore() *BalanceStore {
	return &BalanceStore{
		entries: make(map[string]balanceEntry),
		now:     time.Now,
	}
}

func (s *BalanceStore) Get(ctx context.Context, key string) (*big.Int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok || !s.now().Before(e.expiresAt) {
		return nil, false, nil
	}
	return new(big.Int).Set(e.value), true, nil
}

func (s *BalanceStore) Set(ctx context.Context, key string, value *big.Int, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = balanceEntry{
		value:     new(big.Int).Set(value),
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

// Prune drops expired entries and returns how many were removed.
func (s *BalanceStore) Prune(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of entries, expired or not.
func (s *BalanceStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
