// Package processor turns raw chain blocks into canonical events.
package processor

import (
	"context"
	"log/slog"

	"github.com/vietddude/chainevents/internal/core/domain"
	"github.com/vietddude/chainevents/internal/infra/chain"
	"github.com/vietddude/chainevents/internal/indexing/metrics"
)

// Processor runs the type parser and the enricher over every item of a block.
// A failing item is logged and dropped; the rest of the block still goes through.
type Processor struct {
	chainID  string
	parse    chain.TypeParser
	enricher chain.Enricher
	log      *slog.Logger
}

// New creates a processor for one chain.
func New(chainID string, parse chain.TypeParser, enricher chain.Enricher, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		chainID:  chainID,
		parse:    parse,
		enricher: enricher,
		log:      log,
	}
}

// Process returns the events of one block in item order.
func (p *Processor) Process(ctx context.Context, block chain.RawBlock) []*domain.ChainEvent {
	metrics.BlocksProcessed.WithLabelValues(p.chainID).Inc()

	var events []*domain.ChainEvent
	for _, item := range block.Items {
		kind, ok := p.parse(item.TypeID)
		if !ok {
			p.log.Debug("skipping unknown item type", "block", block.Number, "type", item.TypeID)
			continue
		}

		ev, err := p.enricher.Enrich(ctx, block.Number, kind, item)
		if err != nil {
			metrics.EnrichFailures.WithLabelValues(p.chainID).Inc()
			p.log.Warn("failed to enrich item",
				"chain", p.chainID,
				"block", block.Number,
				"type", item.TypeID,
				"index", item.Index,
				"error", err,
			)
			continue
		}
		if ev == nil {
			continue
		}

		metrics.EventsProduced.WithLabelValues(p.chainID, string(ev.Kind)).Inc()
		events = append(events, ev)
	}
	return events
}

// ProcessBatch processes blocks in the given order and concatenates their events.
func (p *Processor) ProcessBatch(ctx context.Context, blocks []chain.RawBlock) []*domain.ChainEvent {
	var events []*domain.ChainEvent
	for _, b := range blocks {
		events = append(events, p.Process(ctx, b)...)
	}
	return events
}
