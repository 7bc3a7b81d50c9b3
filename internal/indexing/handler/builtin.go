package handler

import (
	"context"
	"log/slog"
	"maps"
	"math/big"

	"github.com/vietddude/chainevents/internal/balance"
	"github.com/vietddude/chainevents/internal/core/domain"
)

// Envelope is the result shape shared by the shipped handlers.
type Envelope struct {
	ID        string            `json:"id,omitempty"`
	Duplicate bool              `json:"duplicate,omitempty"`
	Balances  map[string]string `json:"balances,omitempty"`
}

// EnvelopeOf returns a copy of prev when it is an envelope, or an empty one.
func EnvelopeOf(prev Result) *Envelope {
	env, ok := prev.(*Envelope)
	if !ok || env == nil {
		return &Envelope{}
	}
	out := *env
	out.Balances = maps.Clone(env.Balances)
	return &out
}

// Logging logs every event. Verbose logs at Info, otherwise at Debug.
type Logging struct {
	log     *slog.Logger
	verbose bool
}

// NewLogging creates a logging handler.
func NewLogging(log *slog.Logger, verbose bool) *Logging {
	if log == nil {
		log = slog.Default()
	}
	return &Logging{log: log, verbose: verbose}
}

func (l *Logging) Handle(ctx context.Context, ev *domain.ChainEvent, prev Result) (Result, error) {
	level := slog.LevelDebug
	if l.verbose {
		level = slog.LevelInfo
	}
	l.log.Log(ctx, level, "chain event",
		"chain", ev.ChainID,
		"block", ev.BlockNumber,
		"kind", string(ev.Kind),
	)
	return prev, nil
}

// BalanceLookup is the part of the balance cache the annotator needs.
type BalanceLookup interface {
	GetBalance(ctx context.Context, chainID, address, provider string, opts balance.Options) (*big.Int, error)
}

// BalanceAnnotator attaches the token balances of both transfer parties.
// Other kinds pass through untouched.
type BalanceAnnotator struct {
	lookup   BalanceLookup
	provider string
}

// NewBalanceAnnotator creates an annotator reading from the named provider.
func NewBalanceAnnotator(lookup BalanceLookup, provider string) *BalanceAnnotator {
	return &BalanceAnnotator{lookup: lookup, provider: provider}
}

func (a *BalanceAnnotator) Handle(ctx context.Context, ev *domain.ChainEvent, prev Result) (Result, error) {
	t, ok := ev.Data.(domain.Transfer)
	if !ok {
		return prev, nil
	}

	env := EnvelopeOf(prev)
	if env.Balances == nil {
		env.Balances = make(map[string]string, 2)
	}
	for _, addr := range []string{t.From, t.To} {
		bal, err := a.lookup.GetBalance(ctx, ev.ChainID, addr, a.provider, balance.Options{Token: t.Token})
		if err != nil {
			return nil, err
		}
		env.Balances[addr] = bal.String()
	}
	return env, nil
}
