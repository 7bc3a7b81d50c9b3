package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vietddude/chainevents/internal/core/domain"
	"github.com/vietddude/chainevents/internal/indexing/handler"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func vote(chainID string) *domain.ChainEvent {
	return domain.MustChainEvent(chainID, 43, domain.NetworkCosmos, domain.Vote{
		ID: 7, Voter: "cosmos1voter", Option: "VOTE_OPTION_YES",
	}, domain.WithExcludeAddresses("cosmos1voter"))
}

func header(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestPublishJSONWithStoredID(t *testing.T) {
	w := &fakeWriter{}
	p := NewPublisher(w, nil, quiet)
	prev := &handler.Envelope{ID: "123"}

	res, err := p.Handle(context.Background(), vote("cosmoshub"), prev)
	require.NoError(t, err)
	assert.Same(t, prev, res)

	require.Len(t, w.msgs, 1)
	m := w.msgs[0]
	assert.Equal(t, "123", string(m.Key))
	assert.Equal(t, "cosmoshub", header(m, "chain"))
	assert.Equal(t, "vote", header(m, "kind"))
	assert.Equal(t, "application/json", header(m, "content-type"))

	var body struct {
		Event struct {
			ChainID     string          `json:"chain_id"`
			BlockNumber uint64          `json:"block_number"`
			Kind        string          `json:"kind"`
			Data        json.RawMessage `json:"data"`
		} `json:"event"`
		Envelope handler.Envelope `json:"envelope"`
	}
	require.NoError(t, json.Unmarshal(m.Value, &body))
	assert.Equal(t, uint64(43), body.Event.BlockNumber)
	assert.Equal(t, "vote", body.Event.Kind)
	assert.Equal(t, "123", body.Envelope.ID)
}

func TestPublishWithoutEnvelopeUsesRandomKey(t *testing.T) {
	w := &fakeWriter{}
	p := NewPublisher(w, JSONSerializer{}, quiet)

	_, err := p.Handle(context.Background(), vote("cosmoshub"), nil)
	require.NoError(t, err)

	require.Len(t, w.msgs, 1)
	_, err = uuid.Parse(string(w.msgs[0].Key))
	assert.NoError(t, err)
}

func TestPublishProto(t *testing.T) {
	w := &fakeWriter{}
	s, err := SerializerFor("proto")
	require.NoError(t, err)
	p := NewPublisher(w, s, quiet)

	_, err = p.Handle(context.Background(), vote("cosmoshub"), &handler.Envelope{ID: "9"})
	require.NoError(t, err)

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "application/x-protobuf", header(w.msgs[0], "content-type"))

	var st structpb.Struct
	require.NoError(t, proto.Unmarshal(w.msgs[0].Value, &st))
	event := st.GetFields()["event"].GetStructValue()
	require.NotNil(t, event)
	assert.Equal(t, "vote", event.GetFields()["kind"].GetStringValue())
	assert.Equal(t, float64(43), event.GetFields()["block_number"].GetNumberValue())
}

func TestPublishSkipsExcludedKindsPerChain(t *testing.T) {
	w := &fakeWriter{}
	p := NewPublisher(w, nil, quiet)
	p.ExcludeKinds("noisy", domain.KindVote)

	res, err := p.Handle(context.Background(), vote("noisy"), "prev")
	require.NoError(t, err)
	assert.Equal(t, "prev", res)
	assert.Empty(t, w.msgs)

	_, err = p.Handle(context.Background(), vote("cosmoshub"), nil)
	require.NoError(t, err)
	assert.Len(t, w.msgs, 1)
}

func TestPublishWriteError(t *testing.T) {
	p := NewPublisher(&fakeWriter{err: errors.New("leader not available")}, nil, quiet)

	_, err := p.Handle(context.Background(), vote("cosmoshub"), nil)
	assert.ErrorContains(t, err, "leader not available")
}

func TestNewWriterValidation(t *testing.T) {
	_, err := NewWriter(Config{Topic: "events"})
	assert.Error(t, err)

	_, err = NewWriter(Config{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)

	_, err = NewWriter(Config{Brokers: []string{"localhost:9092"}, Topic: "events", Compression: "brotli"})
	assert.Error(t, err)

	w, err := NewWriter(Config{Brokers: []string{"localhost:9092"}, Topic: "events", Compression: "zstd", ClientID: "chainevents"})
	require.NoError(t, err)
	assert.Equal(t, "events", w.Topic)
	assert.Equal(t, kafka.Zstd, w.Compression)
}

func TestSerializerForUnknown(t *testing.T) {
	_, err := SerializerFor("avro")
	assert.Error(t, err)
}
