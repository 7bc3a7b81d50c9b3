package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventData is the kind-specific payload of a ChainEvent. The set of implementations is closed:
// only types in this package can satisfy it, and each one checks its own required fields.
type EventData interface {
	Kind() EventKind
	validate() error
}

// ChainEvent is the canonical record of one observed on-chain occurrence.
// Build it with NewChainEvent and treat it as read-only afterwards.
type ChainEvent struct {
	ChainID          string
	BlockNumber      uint64
	Network          Network
	Kind             EventKind
	Data             EventData
	ExcludeAddresses []string
	IncludeAddresses []string
	ReceivedAt       time.Time
}

// EventOption customizes a ChainEvent at construction.
type EventOption func(*ChainEvent)

// WithExcludeAddresses lists addresses that should not be notified about the event.
func WithExcludeAddresses(addrs ...string) EventOption {
	return func(e *ChainEvent) {
		e.ExcludeAddresses = compactAddresses(addrs)
	}
}

// WithIncludeAddresses restricts notification to the given addresses.
func WithIncludeAddresses(addrs ...string) EventOption {
	return func(e *ChainEvent) {
		e.IncludeAddresses = compactAddresses(addrs)
	}
}

// WithReceivedAt overrides the receive timestamp.
func WithReceivedAt(t time.Time) EventOption {
	return func(e *ChainEvent) {
		e.ReceivedAt = t
	}
}

// NewChainEvent validates data against its kind and builds the event.
func NewChainEvent(
	chainID string,
	blockNumber uint64,
	network Network,
	data EventData,
	opts ...EventOption,
) (*ChainEvent, error) {
	if data == nil {
		return nil, fmt.Errorf("%w: nil data", ErrInvalidEventData)
	}
	if chainID == "" {
		return nil, fmt.Errorf("%w: empty chain id", ErrInvalidEventData)
	}
	kind := data.Kind()
	if owner, ok := kind.Network(); !ok || owner != network {
		return nil, fmt.Errorf("%w: kind %s does not belong to %s", ErrInvalidEventData, kind, network)
	}
	if err := data.validate(); err != nil {
		return nil, err
	}

	ev := &ChainEvent{
		ChainID:     chainID,
		BlockNumber: blockNumber,
		Network:     network,
		Kind:        kind,
		Data:        data,
		ReceivedAt:  time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(ev)
	}
	return ev, nil
}

// MustChainEvent is NewChainEvent for callers that built data they know to be complete.
func MustChainEvent(
	chainID string,
	blockNumber uint64,
	network Network,
	data EventData,
	opts ...EventOption,
) *ChainEvent {
	ev, err := NewChainEvent(chainID, blockNumber, network, data, opts...)
	if err != nil {
		panic(err)
	}
	return ev
}

type chainEventJSON struct {
	ChainID          string    `json:"chain_id"`
	BlockNumber      uint64    `json:"block_number"`
	Network          Network   `json:"network"`
	Kind             EventKind `json:"kind"`
	Data             EventData `json:"data"`
	ExcludeAddresses []string  `json:"exclude_addresses,omitempty"`
	IncludeAddresses []string  `json:"include_addresses,omitempty"`
	ReceivedAt       time.Time `json:"received_at"`
}

// MarshalJSON writes the event with its data tagged by kind.
func (e ChainEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(chainEventJSON(e))
}

func compactAddresses(addrs []string) []string {
	out := make([]string, 0, len(addrs))
	seen := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		if a == "" {
			continue
		}
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}

// fields collects missing required fields for one kind.
type fields struct {
	kind    EventKind
	missing []string
}

func require(kind EventKind) *fields { return &fields{kind: kind} }

func (f *fields) str(name, v string) *fields {
	if v == "" {
		f.missing = append(f.missing, name)
	}
	return f
}

func (f *fields) id(name string, v uint64) *fields {
	if v == 0 {
		f.missing = append(f.missing, name)
	}
	return f
}

func (f *fields) err() error {
	if len(f.missing) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s missing %s", ErrInvalidEventData, f.kind, strings.Join(f.missing, ", "))
}
