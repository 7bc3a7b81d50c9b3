// Package kafka publishes chain events to a Kafka topic as the last step of a handler chain.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vietddude/chainevents/internal/core/domain"
	"github.com/vietddude/chainevents/internal/indexing/handler"
)

// Config is the producer configuration.
type Config struct {
	Brokers     []string
	Topic       string
	Compression string
	ClientID    string
	Format      string
}

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter builds a synchronous, key-hashed writer for cfg.
func NewWriter(cfg Config) (*kafka.Writer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("no kafka topic configured")
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	switch cfg.Compression {
	case "", "none":
	case "gzip":
		w.Compression = kafka.Gzip
	case "snappy":
		w.Compression = kafka.Snappy
	case "lz4":
		w.Compression = kafka.Lz4
	case "zstd":
		w.Compression = kafka.Zstd
	default:
		return nil, fmt.Errorf("unsupported kafka compression %q", cfg.Compression)
	}
	if cfg.ClientID != "" {
		w.Transport = &kafka.Transport{ClientID: cfg.ClientID}
	}
	return w, nil
}

// Message is what gets published for one event.
type Message struct {
	Event    *domain.ChainEvent `json:"event"`
	Envelope *handler.Envelope  `json:"envelope,omitempty"`
}

// Serializer encodes a message body.
type Serializer interface {
	ContentType() string
	Serialize(m Message) ([]byte, error)
}

// SerializerFor returns the serializer for a configured format ("json" or "proto").
func SerializerFor(format string) (Serializer, error) {
	switch format {
	case "", "json":
		return JSONSerializer{}, nil
	case "proto", "protobuf":
		return ProtoSerializer{}, nil
	}
	return nil, fmt.Errorf("unsupported kafka format %q", format)
}

type JSONSerializer struct{}

func (JSONSerializer) ContentType() string { return "application/json" }

func (JSONSerializer) Serialize(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// ProtoSerializer encodes the JSON shape of a message as a google.protobuf.Struct.
type ProtoSerializer struct{}

func (ProtoSerializer) ContentType() string { return "application/x-protobuf" }

func (ProtoSerializer) Serialize(m Message) ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to build struct: %w", err)
	}
	return proto.Marshal(s)
}

// Publisher writes every event it receives and passes the previous result on.
type Publisher struct {
	writer     MessageWriter
	serializer Serializer
	log        *slog.Logger

	mu       sync.RWMutex
	excluded map[string]domain.KindSet
}

// NewPublisher creates a publisher. A nil serializer means JSON.
func NewPublisher(writer MessageWriter, serializer Serializer, log *slog.Logger) *Publisher {
	if serializer == nil {
		serializer = JSONSerializer{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{
		writer:     writer,
		serializer: serializer,
		excluded:   make(map[string]domain.KindSet),
		log:        log.With("component", "kafka-publisher"),
	}
}

// ExcludeKinds replaces the kinds of one chain the publisher skips. No kinds clears the set.
func (p *Publisher) ExcludeKinds(chainID string, kinds ...domain.EventKind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(kinds) == 0 {
		delete(p.excluded, chainID)
		return
	}
	p.excluded[chainID] = domain.NewKindSet(kinds...)
}

func (p *Publisher) skips(ev *domain.ChainEvent) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.excluded[ev.ChainID].Has(ev.Kind)
}

func (p *Publisher) Handle(ctx context.Context, ev *domain.ChainEvent, prev handler.Result) (handler.Result, error) {
	if p.skips(ev) {
		return prev, nil
	}

	var env *handler.Envelope
	if e, ok := prev.(*handler.Envelope); ok {
		env = e
	}

	key := uuid.NewString()
	if env != nil && env.ID != "" {
		key = env.ID
	}

	body, err := p.serializer.Serialize(Message{Event: ev, Envelope: env})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: body,
		Headers: []kafka.Header{
			{Key: "chain", Value: []byte(ev.ChainID)},
			{Key: "kind", Value: []byte(ev.Kind)},
			{Key: "content-type", Value: []byte(p.serializer.ContentType())},
		},
		Time: ev.ReceivedAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to publish event: %w", err)
	}

	p.log.Debug("event published", "chain", ev.ChainID, "block", ev.BlockNumber, "kind", string(ev.Kind), "key", key)
	return prev, nil
}

// Close closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
