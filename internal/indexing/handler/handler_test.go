package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/chainevents/internal/balance"
	"github.com/vietddude/chainevents/internal/core/domain"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func transfer(block uint64) *domain.ChainEvent {
	return domain.MustChainEvent("eth", block, domain.NetworkERC20, domain.Transfer{
		Token: "0xtoken", From: "0xfrom", To: "0xto", Value: "5",
	})
}

func approval(block uint64) *domain.ChainEvent {
	return domain.MustChainEvent("eth", block, domain.NetworkERC20, domain.Approval{
		Token: "0xtoken", Owner: "0xowner", Spender: "0xspender", Value: "5",
	})
}

// recorder appends its name to calls and returns prev plus its name.
func recorder(name string, calls *[]string) Func {
	return func(_ context.Context, ev *domain.ChainEvent, prev Result) (Result, error) {
		*calls = append(*calls, fmt.Sprintf("%s@%d", name, ev.BlockNumber))
		s, _ := prev.(string)
		return s + name, nil
	}
}

func TestDispatchThreadsResults(t *testing.T) {
	var calls []string
	var seenByLast Result
	c := NewChain(quiet, nil,
		Registration{Name: "a", Handler: recorder("a", &calls)},
		Registration{Name: "b", Handler: recorder("b", &calls)},
		Registration{Name: "c", Handler: Func(func(_ context.Context, _ *domain.ChainEvent, prev Result) (Result, error) {
			seenByLast = prev
			return "done", nil
		})},
	)

	res, err := c.Dispatch(context.Background(), transfer(1))
	require.NoError(t, err)
	assert.Equal(t, "done", res)
	assert.Equal(t, "ab", seenByLast)
	assert.Equal(t, []string{"a@1", "b@1"}, calls)
}

func TestDispatchFirstHandlerGetsNil(t *testing.T) {
	var got Result = "unset"
	c := NewChain(quiet, nil, Registration{Handler: Func(func(_ context.Context, _ *domain.ChainEvent, prev Result) (Result, error) {
		got = prev
		return nil, nil
	})})

	_, err := c.Dispatch(context.Background(), transfer(1))
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, []string{"handler-0"}, c.Names())
}

func TestDispatchIsolatesFailures(t *testing.T) {
	var calls []string
	boom := errors.New("boom")
	c := NewChain(quiet, nil,
		Registration{Name: "first", Handler: recorder("first", &calls)},
		Registration{Name: "failing", Handler: Func(func(context.Context, *domain.ChainEvent, Result) (Result, error) {
			return nil, boom
		})},
		Registration{Name: "after", Handler: recorder("after", &calls)},
	)

	_, err := c.Dispatch(context.Background(), transfer(1))
	var herr *Error
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, "failing", herr.Handler)
	assert.ErrorIs(t, err, boom)

	// The next event runs the whole chain again.
	_, err = c.Dispatch(context.Background(), transfer(2))
	require.Error(t, err)
	assert.Equal(t, []string{"first@1", "first@2"}, calls)
}

func TestDispatchFailureDoesNotStopLaterHandlersOnOtherKinds(t *testing.T) {
	var calls []string
	c := NewChain(quiet, nil,
		Registration{
			Name:     "transfers-only-fail",
			Excluded: []domain.EventKind{domain.KindApproval},
			Handler: Func(func(context.Context, *domain.ChainEvent, Result) (Result, error) {
				return nil, errors.New("always")
			}),
		},
		Registration{Name: "second", Handler: recorder("second", &calls)},
	)

	_, err := c.Dispatch(context.Background(), transfer(1))
	require.Error(t, err)
	_, err = c.Dispatch(context.Background(), approval(2))
	require.NoError(t, err)
	assert.Equal(t, []string{"second@2"}, calls)
}

func TestDispatchRecoversPanics(t *testing.T) {
	var calls []string
	c := NewChain(quiet, nil,
		Registration{Name: "panics", Handler: Func(func(context.Context, *domain.ChainEvent, Result) (Result, error) {
			panic("nil map")
		})},
		Registration{Name: "after", Handler: recorder("after", &calls)},
	)

	var err error
	require.NotPanics(t, func() {
		_, err = c.Dispatch(context.Background(), transfer(3))
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil map")
	assert.Empty(t, calls)
}

func TestDispatchExclusions(t *testing.T) {
	var calls []string
	c := NewChain(quiet, []domain.EventKind{domain.KindApproval},
		Registration{Name: "a", Handler: recorder("a", &calls)},
		Registration{Name: "b", Handler: recorder("b", &calls), Excluded: []domain.EventKind{domain.KindTransfer}},
		Registration{Name: "c", Handler: recorder("c", &calls)},
	)

	res, err := c.Dispatch(context.Background(), transfer(1))
	require.NoError(t, err)
	assert.Equal(t, "ac", res)

	res, err = c.Dispatch(context.Background(), approval(2))
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, []string{"a@1", "c@1"}, calls)
}

func TestLoggingPassesResultThrough(t *testing.T) {
	l := NewLogging(quiet, true)
	prev := &Envelope{ID: "7"}

	res, err := l.Handle(context.Background(), transfer(1), prev)
	require.NoError(t, err)
	assert.Same(t, prev, res)
}

type fakeLookup struct {
	balances map[string]int64
	err      error
	reqs     []string
}

func (f *fakeLookup) GetBalance(_ context.Context, chainID, address, provider string, opts balance.Options) (*big.Int, error) {
	f.reqs = append(f.reqs, fmt.Sprintf("%s/%s/%s/%s", chainID, provider, opts.Token, address))
	if f.err != nil {
		return nil, f.err
	}
	return big.NewInt(f.balances[address]), nil
}

func TestBalanceAnnotatorAddsBothParties(t *testing.T) {
	lookup := &fakeLookup{balances: map[string]int64{"0xfrom": 10, "0xto": 0}}
	a := NewBalanceAnnotator(lookup, "evm")
	prev := &Envelope{ID: "42"}

	res, err := a.Handle(context.Background(), transfer(1), prev)
	require.NoError(t, err)

	env, ok := res.(*Envelope)
	require.True(t, ok)
	assert.Equal(t, "42", env.ID)
	assert.Equal(t, map[string]string{"0xfrom": "10", "0xto": "0"}, env.Balances)
	assert.Nil(t, prev.Balances, "previous envelope must not be mutated")
	assert.Equal(t, []string{"eth/evm/0xtoken/0xfrom", "eth/evm/0xtoken/0xto"}, lookup.reqs)
}

func TestBalanceAnnotatorIgnoresOtherKinds(t *testing.T) {
	lookup := &fakeLookup{}
	a := NewBalanceAnnotator(lookup, "evm")

	res, err := a.Handle(context.Background(), approval(1), "prev")
	require.NoError(t, err)
	assert.Equal(t, "prev", res)
	assert.Empty(t, lookup.reqs)
}

func TestBalanceAnnotatorPropagatesLookupErrors(t *testing.T) {
	a := NewBalanceAnnotator(&fakeLookup{err: balance.ErrUnknownChain}, "evm")

	_, err := a.Handle(context.Background(), transfer(1), nil)
	assert.ErrorIs(t, err, balance.ErrUnknownChain)
}

func TestEnvelopeOf(t *testing.T) {
	assert.Equal(t, &Envelope{}, EnvelopeOf(nil))
	assert.Equal(t, &Envelope{}, EnvelopeOf("other"))

	src := &Envelope{ID: "1", Balances: map[string]string{"a": "1"}}
	cp := EnvelopeOf(src)
	cp.Balances["b"] = "2"
	assert.Len(t, src.Balances, 1)
}
