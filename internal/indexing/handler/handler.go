// Package handler threads each chain event through an ordered list of consumers.
//
// Every handler receives the event and the result of the handler before it, starting
// from nil. A handler that fails (error or panic) is logged and ends the chain for
// that event only; the next event starts from the first handler again.
//
// Two exclusion lists decide whether a handler runs: the chain-wide list and the
// handler's own list. A skipped handler passes the previous result on unchanged.
package handler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vietddude/chainevents/internal/core/domain"
	"github.com/vietddude/chainevents/internal/indexing/metrics"
)

// Result is the opaque value passed from one handler to the next.
type Result any

// Handler consumes one event.
type Handler interface {
	Handle(ctx context.Context, ev *domain.ChainEvent, prev Result) (Result, error)
}

// Func adapts a function to Handler.
type Func func(ctx context.Context, ev *domain.ChainEvent, prev Result) (Result, error)

func (f Func) Handle(ctx context.Context, ev *domain.ChainEvent, prev Result) (Result, error) {
	return f(ctx, ev, prev)
}

// Registration places a handler in a chain.
type Registration struct {
	Name     string
	Handler  Handler
	Excluded []domain.EventKind
}

// Error reports which handler stopped the chain for an event.
type Error struct {
	Handler string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("handler %s: %v", e.Handler, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type entry struct {
	name     string
	handler  Handler
	excluded domain.KindSet
}

// Chain is an ordered, read-only list of handlers.
type Chain struct {
	entries  []entry
	excluded domain.KindSet
	log      *slog.Logger
}

// NewChain builds a chain. globalExcluded applies to every handler.
func NewChain(log *slog.Logger, globalExcluded []domain.EventKind, regs ...Registration) *Chain {
	if log == nil {
		log = slog.Default()
	}
	c := &Chain{
		entries:  make([]entry, 0, len(regs)),
		excluded: domain.NewKindSet(globalExcluded...),
		log:      log,
	}
	for i, r := range regs {
		name := r.Name
		if name == "" {
			name = fmt.Sprintf("handler-%d", i)
		}
		c.entries = append(c.entries, entry{
			name:     name,
			handler:  r.Handler,
			excluded: domain.NewKindSet(r.Excluded...),
		})
	}
	return c
}

// Names returns the handler names in chain order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.entries))
	for i, e := range c.entries {
		names[i] = e.name
	}
	return names
}

// Dispatch runs ev through the chain and returns the last result. A failure has
// already been logged when Dispatch returns it as *Error.
func (c *Chain) Dispatch(ctx context.Context, ev *domain.ChainEvent) (Result, error) {
	var res Result
	if c.excluded.Has(ev.Kind) {
		return res, nil
	}

	for _, e := range c.entries {
		if e.excluded.Has(ev.Kind) {
			continue
		}

		next, err := invoke(ctx, e.handler, ev, res)
		if err != nil {
			metrics.HandlerFailures.WithLabelValues(ev.ChainID, e.name).Inc()
			c.log.Error("handler failed",
				"chain", ev.ChainID,
				"block", ev.BlockNumber,
				"kind", string(ev.Kind),
				"handler", e.name,
				"error", err,
			)
			return res, &Error{Handler: e.name, Err: err}
		}
		res = next
	}
	return res, nil
}

func invoke(ctx context.Context, h Handler, ev *domain.ChainEvent, prev Result) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.Handle(ctx, ev, prev)
}
