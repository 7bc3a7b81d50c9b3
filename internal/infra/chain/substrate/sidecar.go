package substrate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/vietddude/chainevents/internal/infra/chain"
	"github.com/vietddude/chainevents/internal/infra/rpc"
)

// maxSidecarRange is the largest span /blocks?range= accepts.
const maxSidecarRange = 500

type method struct {
	Pallet string `json:"pallet"`
	Method string `json:"method"`
}

func (m method) typeID() string { return m.Pallet + "." + m.Method }

type sidecarEvent struct {
	Method method            `json:"method"`
	Data   []json.RawMessage `json:"data"`
}

type sidecarExtrinsic struct {
	Method    method `json:"method"`
	Signature *struct {
		Signer json.RawMessage `json:"signer"`
	} `json:"signature"`
	Args    json.RawMessage `json:"args"`
	Success bool            `json:"success"`
	Events  []sidecarEvent  `json:"events"`
}

type phase struct {
	Events []sidecarEvent `json:"events"`
}

// Block is a block as decoded by substrate-api-sidecar.
type Block struct {
	Number       string             `json:"number"`
	Hash         string             `json:"hash"`
	OnInitialize phase              `json:"onInitialize"`
	Extrinsics   []sidecarExtrinsic `json:"extrinsics"`
	OnFinalize   phase              `json:"onFinalize"`
}

// Event is the payload of a RawItem for a runtime event.
type Event struct {
	Pallet string
	Method string
	Data   []json.RawMessage
}

// Call is the payload of a RawItem for a successful signed extrinsic.
type Call struct {
	Pallet string
	Method string
	Signer string
	Args   json.RawMessage
}

// Raw flattens the block into items: initialization events, then each successful
// extrinsic followed by its events, then finalization events.
func (b *Block) Raw() (chain.RawBlock, error) {
	n, err := strconv.ParseUint(b.Number, 10, 64)
	if err != nil {
		return chain.RawBlock{}, fmt.Errorf("bad block number %q: %w", b.Number, err)
	}
	out := chain.RawBlock{Number: n}
	addEvents := func(events []sidecarEvent) {
		for _, ev := range events {
			out.Items = append(out.Items, chain.RawItem{
				Index:   len(out.Items),
				TypeID:  ev.Method.typeID(),
				Payload: Event{Pallet: ev.Method.Pallet, Method: ev.Method.Method, Data: ev.Data},
			})
		}
	}

	addEvents(b.OnInitialize.Events)
	for _, x := range b.Extrinsics {
		if !x.Success {
			continue
		}
		if x.Signature != nil {
			out.Items = append(out.Items, chain.RawItem{
				Index:  len(out.Items),
				TypeID: x.Method.typeID(),
				Payload: Call{
					Pallet: x.Method.Pallet,
					Method: x.Method.Method,
					Signer: signer(x.Signature.Signer),
					Args:   x.Args,
				},
			})
		}
		addEvents(x.Events)
	}
	addEvents(b.OnFinalize.Events)
	return out, nil
}

// signer accepts both the plain and the MultiAddress {"id": ...} rendering.
func signer(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var multi struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(raw, &multi)
	return multi.ID
}

// Sidecar reads decoded blocks and storage.
type Sidecar struct {
	client *rpc.HTTPClient
}

// NewSidecar wraps client for sidecar routes.
func NewSidecar(client *rpc.HTTPClient) *Sidecar {
	return &Sidecar{client: client}
}

// Block reads one block.
func (s *Sidecar) Block(ctx context.Context, n uint64) (*Block, error) {
	var b Block
	if err := s.client.GetJSON(ctx, fmt.Sprintf("/blocks/%d", n), nil, &b); err != nil {
		return nil, fmt.Errorf("block %d: %w", n, err)
	}
	return &b, nil
}

// Blocks reads [from, to] in chunks the sidecar accepts.
func (s *Sidecar) Blocks(ctx context.Context, from, to uint64) ([]*Block, error) {
	var out []*Block
	for start := from; start <= to; start += maxSidecarRange {
		end := min(start+maxSidecarRange-1, to)
		var page []*Block
		q := url.Values{"range": {fmt.Sprintf("%d-%d", start, end)}}
		if err := s.client.GetJSON(ctx, "/blocks", q, &page); err != nil {
			return nil, fmt.Errorf("blocks %d-%d: %w", start, end, err)
		}
		out = append(out, page...)
	}
	return out, nil
}

// Storage reads a storage item into out. It reports false when the value is None.
func (s *Sidecar) Storage(ctx context.Context, pallet, item string, out any, keys ...string) (bool, error) {
	var q url.Values
	if len(keys) > 0 {
		q = url.Values{"keys[]": keys}
	}
	var resp struct {
		Value json.RawMessage `json:"value"`
	}
	path := fmt.Sprintf("/pallets/%s/storage/%s", pallet, item)
	if err := s.client.GetJSON(ctx, path, q, &resp); err != nil {
		return false, fmt.Errorf("%s.%s: %w", pallet, item, err)
	}
	if len(resp.Value) == 0 || bytes.Equal(resp.Value, []byte("null")) {
		return false, nil
	}
	if err := json.Unmarshal(resp.Value, out); err != nil {
		return false, fmt.Errorf("%s.%s: %w", pallet, item, err)
	}
	return true, nil
}
