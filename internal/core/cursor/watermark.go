package cursor

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrCursorNotFound is returned by a Store that has no watermark for a chain.
var ErrCursorNotFound = errors.New("cursor not found")

// Watermark is the highest block number a listener has processed. It only moves forward.
// Zero means nothing has been processed yet.
type Watermark struct {
	v atomic.Uint64
}

// Advance raises the watermark to n if n is higher. It reports whether the watermark moved.
func (w *Watermark) Advance(n uint64) bool {
	for {
		cur := w.v.Load()
		if n <= cur {
			return false
		}
		if w.v.CompareAndSwap(cur, n) {
			return true
		}
	}
}

// Load returns the current watermark.
func (w *Watermark) Load() uint64 {
	return w.v.Load()
}

// Store persists watermarks per chain. Save must never lower a stored value.
type Store interface {
	// Load returns the stored watermark or ErrCursorNotFound.
	Load(ctx context.Context, chainID string) (uint64, error)

	// Save stores blockNumber if it is higher than the stored value.
	Save(ctx context.Context, chainID string, blockNumber uint64) error

	// Reset overwrites the stored value unconditionally (operator tool).
	Reset(ctx context.Context, chainID string, blockNumber uint64) error
}
