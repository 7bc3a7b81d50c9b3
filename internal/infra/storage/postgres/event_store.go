package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/vietddude/chainevents/internal/core/domain"
	"github.com/vietddude/chainevents/internal/indexing/handler"
)

const uniqueViolation = "23505"

// eventRow is one chain_events row.
type eventRow struct {
	ID               int64          `db:"id"`
	ChainID          string         `db:"chain_id"`
	BlockNumber      int64          `db:"block_number"`
	Network          string         `db:"network"`
	Kind             string         `db:"kind"`
	Fingerprint      string         `db:"fingerprint"`
	EntityKind       sql.NullString `db:"entity_kind"`
	EntityID         sql.NullString `db:"entity_id"`
	EntityEvent      sql.NullString `db:"entity_event"`
	Data             string         `db:"data"`
	ExcludeAddresses string         `db:"exclude_addresses"`
	IncludeAddresses string         `db:"include_addresses"`
	ReceivedAt       sql.NullTime   `db:"received_at"`
}

// newEventRow flattens an event for insertion.
func newEventRow(ev *domain.ChainEvent) (*eventRow, error) {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s data: %w", ev.Kind, err)
	}
	exclude, err := json.Marshal(nonNil(ev.ExcludeAddresses))
	if err != nil {
		return nil, err
	}
	include, err := json.Marshal(nonNil(ev.IncludeAddresses))
	if err != nil {
		return nil, err
	}

	row := &eventRow{
		ChainID:          ev.ChainID,
		BlockNumber:      int64(ev.BlockNumber),
		Network:          string(ev.Network),
		Kind:             string(ev.Kind),
		Fingerprint:      Fingerprint(ev.BlockNumber, ev.Kind, data),
		Data:             string(data),
		ExcludeAddresses: string(exclude),
		IncludeAddresses: string(include),
		ReceivedAt:       sql.NullTime{Time: ev.ReceivedAt, Valid: !ev.ReceivedAt.IsZero()},
	}
	if ref, ok := domain.EntityOf(ev.Data); ok {
		row.EntityKind = sql.NullString{String: string(ref.Kind), Valid: true}
		row.EntityID = sql.NullString{String: ref.ID, Valid: true}
		row.EntityEvent = sql.NullString{String: string(ref.Event), Valid: true}
	}
	return row, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Fingerprint identifies an event within its chain. Replaying a block yields the same value.
func Fingerprint(block uint64, kind domain.EventKind, data []byte) string {
	return crypto.Keccak256Hash(
		[]byte(strconv.FormatUint(block, 10)),
		[]byte(kind),
		data,
	).Hex()
}

// isUniqueViolation recognises duplicate-key errors from both drivers.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation
	}
	return false
}

// EventStore persists events and reports where each chain stopped.
type EventStore struct {
	db  *DB
	log *slog.Logger
}

// NewEventStore creates an event store on db.
func NewEventStore(db *DB, log *slog.Logger) *EventStore {
	if log == nil {
		log = slog.Default()
	}
	return &EventStore{db: db, log: log}
}

const insertEvent = `
INSERT INTO chain_events (
	chain_id, block_number, network, kind, fingerprint,
	entity_kind, entity_id, entity_event,
	data, exclude_addresses, include_addresses, received_at
) VALUES (
	:chain_id, :block_number, :network, :kind, :fingerprint,
	:entity_kind, :entity_id, :entity_event,
	CAST(:data AS jsonb), CAST(:exclude_addresses AS jsonb), CAST(:include_addresses AS jsonb), COALESCE(:received_at, NOW())
) RETURNING id`

// Save stores ev and returns its row id. A duplicate resolves to the existing row.
func (s *EventStore) Save(ctx context.Context, ev *domain.ChainEvent) (id int64, duplicate bool, err error) {
	row, err := newEventRow(ev)
	if err != nil {
		return 0, false, err
	}

	query, args, err := s.db.BindNamed(insertEvent, row)
	if err != nil {
		return 0, false, fmt.Errorf("bind insert: %w", err)
	}
	err = s.db.QueryRowxContext(ctx, query, args...).Scan(&id)
	if err == nil {
		return id, false, nil
	}
	if !isUniqueViolation(err) {
		return 0, false, fmt.Errorf("failed to insert event: %w", err)
	}

	err = s.db.GetContext(ctx, &id,
		`SELECT id FROM chain_events WHERE chain_id = $1 AND fingerprint = $2`,
		row.ChainID, row.Fingerprint)
	if err != nil {
		return 0, false, fmt.Errorf("failed to load duplicate event: %w", err)
	}
	return id, true, nil
}

// Handle implements handler.Handler: it persists ev and records the row id in the envelope.
func (s *EventStore) Handle(ctx context.Context, ev *domain.ChainEvent, prev handler.Result) (handler.Result, error) {
	id, dup, err := s.Save(ctx, ev)
	if err != nil {
		return nil, err
	}
	if dup {
		s.log.Debug("event already stored", "chain", ev.ChainID, "block", ev.BlockNumber, "kind", ev.Kind, "id", id)
	}
	env := handler.EnvelopeOf(prev)
	env.ID = strconv.FormatInt(id, 10)
	env.Duplicate = dup
	return env, nil
}

// LastBlock returns the highest stored block for chainID.
func (s *EventStore) LastBlock(ctx context.Context, chainID string) (uint64, bool, error) {
	var last sql.NullInt64
	err := s.db.GetContext(ctx, &last,
		`SELECT MAX(block_number) FROM chain_events WHERE chain_id = $1`, chainID)
	if err != nil {
		return 0, false, fmt.Errorf("failed to read last block: %w", err)
	}
	if !last.Valid {
		return 0, false, nil
	}
	return uint64(last.Int64), true, nil
}

// Resolve reports where chainID stopped: the block after the last stored one.
func (s *EventStore) Resolve(ctx context.Context, chainID string) (*domain.BlockRange, error) {
	last, ok, err := s.LastBlock(ctx, chainID)
	if err != nil || !ok {
		return nil, err
	}
	r := domain.OpenRange(last + 1)
	return &r, nil
}

// StoredEvent is an event read back from the store.
type StoredEvent struct {
	ID          int64           `json:"id"`
	ChainID     string          `json:"chain_id"`
	BlockNumber uint64          `json:"block_number"`
	Kind        string          `json:"kind"`
	EntityKind  string          `json:"entity_kind,omitempty"`
	EntityID    string          `json:"entity_id,omitempty"`
	Data        json.RawMessage `json:"data"`
}

// EntityEvents lists the stored events of one entity in block order.
func (s *EventStore) EntityEvents(ctx context.Context, chainID string, kind domain.EntityKind, id string) ([]StoredEvent, error) {
	var rows []eventRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, chain_id, block_number, network, kind, fingerprint,
		       entity_kind, entity_id, entity_event, data, exclude_addresses, include_addresses, received_at
		FROM chain_events
		WHERE chain_id = $1 AND entity_kind = $2 AND entity_id = $3
		ORDER BY block_number, id`, chainID, string(kind), id)
	if err != nil {
		return nil, fmt.Errorf("failed to list entity events: %w", err)
	}
	out := make([]StoredEvent, len(rows))
	for i, r := range rows {
		out[i] = StoredEvent{
			ID:          r.ID,
			ChainID:     r.ChainID,
			BlockNumber: uint64(r.BlockNumber),
			Kind:        r.Kind,
			EntityKind:  r.EntityKind.String,
			EntityID:    r.EntityID.String,
			Data:        json.RawMessage(r.Data),
		}
	}
	return out, nil
}
