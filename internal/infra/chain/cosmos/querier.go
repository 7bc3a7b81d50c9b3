package cosmos

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"

	"github.com/vietddude/chainevents/internal/infra/chain"
	"github.com/vietddude/chainevents/internal/infra/rpc"
)

const txSearchPath = "/cosmos/tx/v1beta1/txs"

const txPageSize = 100

type txResponse struct {
	Height string `json:"height"`
	TxHash string `json:"txhash"`
	Code   uint32 `json:"code"`
	Logs   []struct {
		MsgIndex int     `json:"msg_index"`
		Events   []Event `json:"events"`
	} `json:"logs"`
	Events []Event `json:"events"`
}

type txSearchResponse struct {
	Txs []struct {
		Body struct {
			Messages []json.RawMessage `json:"messages"`
		} `json:"body"`
	} `json:"txs"`
	TxResponses []txResponse `json:"tx_responses"`
	Total       string       `json:"total"`
	Pagination  *pagination  `json:"pagination"`
}

func (r *txSearchResponse) total() (int, bool) {
	raw := r.Total
	if raw == "" && r.Pagination != nil {
		raw = r.Pagination.Total
	}
	n, err := strconv.Atoi(raw)
	return n, err == nil
}

// Querier reads gov messages for a block range through the tx search endpoint.
type Querier struct {
	client *rpc.HTTPClient
}

func NewQuerier(adapter *Adapter) *Querier {
	return &Querier{client: adapter.Client()}
}

// QueryRange returns the successful gov messages in [from, to], grouped per block.
func (q *Querier) QueryRange(ctx context.Context, from, to uint64) ([]chain.RawBlock, error) {
	query := fmt.Sprintf("tx.height>=%d AND tx.height<=%d AND message.module='gov'", from, to)
	if from == to {
		query = fmt.Sprintf("tx.height=%d AND message.module='gov'", from)
	}

	byHeight := make(map[uint64]*chain.RawBlock)
	seen := 0
	for page := 1; ; page++ {
		params := url.Values{
			"query":    {query},
			"events":   {query},
			"page":     {strconv.Itoa(page)},
			"limit":    {strconv.Itoa(txPageSize)},
			"order_by": {"ORDER_BY_ASC"},
		}
		var resp txSearchResponse
		if err := q.client.GetJSON(ctx, txSearchPath, params, &resp); err != nil {
			return nil, fmt.Errorf("tx search [%d,%d] page %d: %w", from, to, page, err)
		}
		if len(resp.Txs) != len(resp.TxResponses) {
			return nil, fmt.Errorf("tx search: %d txs but %d responses", len(resp.Txs), len(resp.TxResponses))
		}

		for i, tr := range resp.TxResponses {
			if tr.Code != 0 {
				continue
			}
			height, err := strconv.ParseUint(tr.Height, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("tx %s: bad height %q", tr.TxHash, tr.Height)
			}
			blk, ok := byHeight[height]
			if !ok {
				blk = &chain.RawBlock{Number: height}
				byHeight[height] = blk
			}
			for m, raw := range resp.Txs[i].Body.Messages {
				var t typed
				if err := json.Unmarshal(raw, &t); err != nil {
					return nil, fmt.Errorf("tx %s message %d: %w", tr.TxHash, m, err)
				}
				blk.Items = append(blk.Items, chain.RawItem{
					Index:   len(blk.Items),
					TypeID:  t.Type,
					Payload: Message{Type: t.Type, Raw: raw, TxHash: tr.TxHash, Events: tr.eventsFor(m)},
				})
			}
		}

		seen += len(resp.TxResponses)
		total, ok := resp.total()
		if len(resp.TxResponses) == 0 || !ok || seen >= total {
			break
		}
	}

	blocks := make([]chain.RawBlock, 0, len(byHeight))
	for _, b := range byHeight {
		blocks = append(blocks, *b)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Number < blocks[j].Number })
	return blocks, nil
}

// eventsFor returns the events of message m. Newer SDKs drop per-message logs and
// tag flat events with a msg_index attribute instead.
func (t txResponse) eventsFor(m int) []Event {
	for _, l := range t.Logs {
		if l.MsgIndex == m {
			return l.Events
		}
	}
	idx := strconv.Itoa(m)
	var out []Event
	for _, e := range t.Events {
		if v, ok := Attr([]Event{e}, e.Type, "msg_index"); ok && v == idx {
			out = append(out, e)
		}
	}
	if out == nil && m == 0 {
		return t.Events
	}
	return out
}
