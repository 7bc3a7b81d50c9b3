package backfill

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/chainevents/internal/core/domain"
)

func TestSplitRange(t *testing.T) {
	got, err := SplitRange(100, 650, 250)
	require.NoError(t, err)
	assert.Equal(t, []domain.BlockRange{
		domain.NewBlockRange(100, 350),
		domain.NewBlockRange(351, 600),
		domain.NewBlockRange(601, 650),
	}, got)
}

func TestSplitRange_Single(t *testing.T) {
	got, err := SplitRange(5, 5, 10)
	require.NoError(t, err)
	assert.Equal(t, []domain.BlockRange{domain.NewBlockRange(5, 5)}, got)
}

func TestSplitRange_NoGapsNoOverlaps(t *testing.T) {
	for _, size := range []uint64{1, 7, 100, 1000} {
		got, err := SplitRange(3, 998, size)
		require.NoError(t, err)

		next := uint64(3)
		for _, w := range got {
			assert.Equal(t, next, w.StartBlock, "size %d", size)
			end, _ := w.End()
			next = end + 1
		}
		assert.Equal(t, uint64(999), next, "size %d", size)
	}
}

func TestSplitRange_Invalid(t *testing.T) {
	_, err := SplitRange(10, 9, 1)
	assert.Error(t, err)
	_, err = SplitRange(1, 10, 0)
	assert.Error(t, err)
}

func TestPlan(t *testing.T) {
	t.Run("no resolver result skips", func(t *testing.T) {
		_, _, ok := Plan(nil, 500, 900, 0)
		assert.False(t, ok)
	})

	t.Run("watermark raises start", func(t *testing.T) {
		resolved := domain.OpenRange(100)
		rng, capped, ok := Plan(&resolved, 300, 900, 0)
		require.True(t, ok)
		assert.False(t, capped)
		assert.Equal(t, domain.NewBlockRange(300, 900), rng)
	})

	t.Run("closed end kept below head", func(t *testing.T) {
		resolved := domain.NewBlockRange(100, 650)
		rng, _, ok := Plan(&resolved, 0, 900, 0)
		require.True(t, ok)
		assert.Equal(t, domain.NewBlockRange(100, 650), rng)
	})

	t.Run("cap moves start forward", func(t *testing.T) {
		resolved := domain.OpenRange(1)
		rng, capped, ok := Plan(&resolved, 0, 10_000, 500)
		require.True(t, ok)
		assert.True(t, capped)
		assert.Equal(t, domain.NewBlockRange(9_500, 10_000), rng)
	})

	t.Run("start past head", func(t *testing.T) {
		resolved := domain.OpenRange(1000)
		_, _, ok := Plan(&resolved, 0, 900, 0)
		assert.False(t, ok)
	})
}

func transfer(block uint64, value string) *domain.ChainEvent {
	return domain.MustChainEvent("eth", block, domain.NetworkERC20, domain.Transfer{
		Token: "0xt", From: "0xa", To: "0xb", Value: value,
	})
}

func TestRunner_Run(t *testing.T) {
	var calls []domain.BlockRange
	source := SourceFunc(func(_ context.Context, r domain.BlockRange) ([]*domain.ChainEvent, error) {
		calls = append(calls, r)
		end, _ := r.End()
		// Unordered on purpose
		return []*domain.ChainEvent{transfer(end, "2"), transfer(r.StartBlock, "1")}, nil
	})

	var delivered []uint64
	var ends []uint64
	runner := NewRunner("eth", 250, source, nil)
	stats, err := runner.Run(context.Background(), domain.NewBlockRange(100, 650),
		func(_ context.Context, ev *domain.ChainEvent) { delivered = append(delivered, ev.BlockNumber) },
		func(end uint64) { ends = append(ends, end) },
	)
	require.NoError(t, err)

	assert.Equal(t, []domain.BlockRange{
		domain.NewBlockRange(100, 350),
		domain.NewBlockRange(351, 600),
		domain.NewBlockRange(601, 650),
	}, calls)
	assert.Equal(t, []uint64{100, 350, 351, 600, 601, 650}, delivered)
	assert.Equal(t, []uint64{350, 600, 650}, ends)
	assert.Equal(t, Stats{Windows: 3, Events: 6}, stats)
}

func TestRunner_WindowedEqualsSingleFetch(t *testing.T) {
	all := []*domain.ChainEvent{transfer(120, "a"), transfer(350, "b"), transfer(351, "c"), transfer(640, "d")}
	source := SourceFunc(func(_ context.Context, r domain.BlockRange) ([]*domain.ChainEvent, error) {
		var out []*domain.ChainEvent
		for _, ev := range all {
			if r.Contains(ev.BlockNumber) {
				out = append(out, ev)
			}
		}
		return out, nil
	})

	var windowed []*domain.ChainEvent
	_, err := NewRunner("eth", 250, source, nil).Run(context.Background(), domain.NewBlockRange(100, 650),
		func(_ context.Context, ev *domain.ChainEvent) { windowed = append(windowed, ev) }, nil)
	require.NoError(t, err)

	single, err := source.Window(context.Background(), domain.NewBlockRange(100, 650))
	require.NoError(t, err)
	assert.Equal(t, single, windowed)
}

func TestRunner_StopsOnError(t *testing.T) {
	calls := 0
	source := SourceFunc(func(_ context.Context, r domain.BlockRange) ([]*domain.ChainEvent, error) {
		calls++
		if calls == 2 {
			return nil, errors.New("503")
		}
		return nil, nil
	})

	stats, err := NewRunner("eth", 10, source, nil).Run(context.Background(), domain.NewBlockRange(0, 100),
		func(context.Context, *domain.ChainEvent) {}, nil)
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, stats.Windows)
}

func TestRunner_OpenRange(t *testing.T) {
	_, err := NewRunner("eth", 10, SourceFunc(nil), nil).Run(context.Background(), domain.OpenRange(5),
		func(context.Context, *domain.ChainEvent) {}, nil)
	assert.Error(t, err)
}
