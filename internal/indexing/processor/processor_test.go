package processor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/chainevents/internal/core/domain"
	"github.com/vietddude/chainevents/internal/infra/chain"
)

// levelRecorder keeps the level of every record logged through it.
type levelRecorder struct {
	mu     sync.Mutex
	levels []slog.Level
}

func (r *levelRecorder) Enabled(context.Context, slog.Level) bool { return true }
func (r *levelRecorder) WithAttrs([]slog.Attr) slog.Handler        { return r }
func (r *levelRecorder) WithGroup(string) slog.Handler             { return r }

func (r *levelRecorder) Handle(_ context.Context, rec slog.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.levels = append(r.levels, rec.Level)
	return nil
}

func (r *levelRecorder) count(floor slog.Level) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, l := range r.levels {
		if l >= floor {
			n++
		}
	}
	return n
}

func parse(typeID string) (domain.EventKind, bool) {
	switch typeID {
	case "Transfer":
		return domain.KindTransfer, true
	case "Approval":
		return domain.KindApproval, true
	}
	return "", false
}

// transferEnricher builds a transfer from a "from" payload. "bad" fails, "skip" is filtered.
type transferEnricher struct{}

func (transferEnricher) Enrich(_ context.Context, block uint64, kind domain.EventKind, item chain.RawItem) (*domain.ChainEvent, error) {
	from, _ := item.Payload.(string)
	switch from {
	case "bad":
		return nil, errors.New("storage read failed")
	case "skip":
		return nil, nil
	}
	if kind == domain.KindApproval {
		return domain.NewChainEvent("eth", block, domain.NetworkERC20, domain.Approval{
			Token: "0xtoken", Owner: from, Spender: "0xspender", Value: "1",
		})
	}
	return domain.NewChainEvent("eth", block, domain.NetworkERC20, domain.Transfer{
		Token: "0xtoken", From: from, To: "0xto", Value: "1",
	})
}

func newProcessor(rec *levelRecorder) *Processor {
	return New("eth", parse, transferEnricher{}, slog.New(rec))
}

func TestProcessKeepsItemOrder(t *testing.T) {
	p := newProcessor(&levelRecorder{})

	events := p.Process(context.Background(), chain.RawBlock{
		Number: 10,
		Items: []chain.RawItem{
			{Index: 0, TypeID: "Transfer", Payload: "0xa"},
			{Index: 1, TypeID: "Approval", Payload: "0xb"},
			{Index: 2, TypeID: "Transfer", Payload: "0xc"},
		},
	})

	require.Len(t, events, 3)
	assert.Equal(t, "0xa", events[0].Data.(domain.Transfer).From)
	assert.Equal(t, "0xb", events[1].Data.(domain.Approval).Owner)
	assert.Equal(t, "0xc", events[2].Data.(domain.Transfer).From)
	for _, ev := range events {
		assert.Equal(t, uint64(10), ev.BlockNumber)
	}
}

func TestProcessUnknownTypeIsNotAnError(t *testing.T) {
	rec := &levelRecorder{}
	p := newProcessor(rec)

	events := p.Process(context.Background(), chain.RawBlock{
		Number: 11,
		Items:  []chain.RawItem{{TypeID: "OwnershipTransferred", Payload: "0xa"}},
	})

	assert.Empty(t, events)
	assert.Zero(t, rec.count(slog.LevelWarn))
	assert.Zero(t, rec.count(slog.LevelError))
}

func TestProcessIsolatesEnrichFailures(t *testing.T) {
	rec := &levelRecorder{}
	p := newProcessor(rec)

	events := p.Process(context.Background(), chain.RawBlock{
		Number: 12,
		Items: []chain.RawItem{
			{Index: 0, TypeID: "Transfer", Payload: "0xa"},
			{Index: 1, TypeID: "Transfer", Payload: "bad"},
			{Index: 2, TypeID: "Transfer", Payload: "skip"},
			{Index: 3, TypeID: "Transfer", Payload: "0xd"},
		},
	})

	require.Len(t, events, 2)
	assert.Equal(t, "0xa", events[0].Data.(domain.Transfer).From)
	assert.Equal(t, "0xd", events[1].Data.(domain.Transfer).From)
	assert.Equal(t, 1, rec.count(slog.LevelWarn))
	assert.Zero(t, rec.count(slog.LevelError))
}

func TestProcessBatchConcatenatesInBlockOrder(t *testing.T) {
	p := newProcessor(&levelRecorder{})

	events := p.ProcessBatch(context.Background(), []chain.RawBlock{
		{Number: 20, Items: []chain.RawItem{{TypeID: "Transfer", Payload: "0xa"}}},
		{Number: 21},
		{Number: 22, Items: []chain.RawItem{
			{Index: 0, TypeID: "Transfer", Payload: "0xb"},
			{Index: 1, TypeID: "Transfer", Payload: "0xc"},
		}},
	})

	require.Len(t, events, 3)
	assert.Equal(t, []uint64{20, 22, 22}, []uint64{events[0].BlockNumber, events[1].BlockNumber, events[2].BlockNumber})
}
