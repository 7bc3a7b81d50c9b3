package substrate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/chainevents/internal/core/domain"
	"github.com/vietddude/chainevents/internal/infra/chain"
)

const (
	alice = "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"
	bob   = "5FHneW46xGXgs5mUiveU4sbTyGBzmstUspZC92UhjJM694ty"
)

// =============================================================================
// Fake node
// =============================================================================

type fakeNode struct {
	mu    sync.Mutex
	head  uint64
	conns   []*websocket.Conn
	subs    int
	unsubed []string
}

func newFakeNode(t *testing.T, head uint64) (*fakeNode, string) {
	n := &fakeNode{head: head}
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n.mu.Lock()
		n.conns = append(n.conns, conn)
		n.mu.Unlock()
		n.serve(conn)
	}))
	t.Cleanup(srv.Close)
	return n, "ws" + strings.TrimPrefix(srv.URL, "http")
}

// serve answers requests. Writes happen under n.mu so they never race announce.
func (n *fakeNode) serve(conn *websocket.Conn) {
	for {
		var req struct {
			ID     uint64 `json:"id"`
			Method string `json:"method"`
			Params []any  `json:"params"`
		}
		if err := conn.ReadJSON(&req); err != nil {
			return
		}

		var result any
		n.mu.Lock()
		switch req.Method {
		case "system_health":
			result = map[string]any{"peers": 3, "isSyncing": false}
		case "chain_getFinalizedHead":
			result = "0xabc"
		case "chain_getHeader":
			result = map[string]any{"number": fmt.Sprintf("0x%x", n.head)}
		case "chain_subscribeFinalizedHeads":
			n.subs++
			result = "heads-" + strconv.Itoa(n.subs)
		case "chain_unsubscribeFinalizedHeads":
			if len(req.Params) == 1 {
				n.unsubed = append(n.unsubed, fmt.Sprint(req.Params[0]))
			}
			result = true
		}
		_ = conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
		n.mu.Unlock()
	}
}

// announce sets the head and notifies every open subscription.
func (n *fakeNode) announce(head uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.head = head
	for _, c := range n.conns {
		_ = c.WriteJSON(map[string]any{
			"jsonrpc": "2.0",
			"method":  "chain_finalizedHead",
			"params": map[string]any{
				"subscription": "heads-" + strconv.Itoa(n.subs),
				"result":       map[string]any{"number": fmt.Sprintf("0x%x", head)},
			},
		})
	}
}

// drop closes every socket, simulating a node restart.
func (n *fakeNode) drop(newHead uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.head = newHead
	for _, c := range n.conns {
		_ = c.Close()
	}
	n.conns = nil
}

func (n *fakeNode) unsubscribed() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.unsubed...)
}

func (n *fakeNode) subscriptions() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.subs
}

// =============================================================================
// Fake sidecar
// =============================================================================

type fakeSidecar struct {
	mu      sync.Mutex
	blocks  map[uint64]map[string]any
	storage map[string]any // "pallet/item" or "pallet/item/key" -> value
}

func newFakeSidecar(t *testing.T) (*fakeSidecar, string) {
	s := &fakeSidecar{blocks: map[uint64]map[string]any{}, storage: map[string]any{}}
	srv := httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(srv.Close)
	return s, srv.URL
}

func (s *fakeSidecar) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case r.URL.Path == "/blocks":
		var from, to uint64
		_, _ = fmt.Sscanf(r.URL.Query().Get("range"), "%d-%d", &from, &to)
		page := []any{}
		for n := from; n <= to; n++ {
			page = append(page, s.block(n))
		}
		_ = json.NewEncoder(w).Encode(page)

	case strings.HasPrefix(r.URL.Path, "/pallets/"):
		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/pallets/"), "/")
		key := parts[0] + "/" + parts[2]
		if k := r.URL.Query().Get("keys[]"); k != "" {
			key += "/" + k
		}
		value, ok := s.storage[key]
		if !ok && r.URL.Query().Get("keys[]") == "" {
			http.Error(w, `{"code":400,"message":"could not find storage item"}`, http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"value": value})

	default:
		http.NotFound(w, r)
	}
}

func (s *fakeSidecar) block(n uint64) map[string]any {
	if b, ok := s.blocks[n]; ok {
		return b
	}
	return map[string]any{"number": strconv.FormatUint(n, 10), "extrinsics": []any{}}
}

func (s *fakeSidecar) set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storage[key] = value
}

func transferBlock(n uint64, value string) map[string]any {
	return map[string]any{
		"number": strconv.FormatUint(n, 10),
		"extrinsics": []any{map[string]any{
			"method":    map[string]any{"pallet": "balances", "method": "transferKeepAlive"},
			"signature": map[string]any{"signer": map[string]any{"id": alice}},
			"args":      map[string]any{"dest": bob, "value": value},
			"success":   true,
			"events": []any{map[string]any{
				"method": map[string]any{"pallet": "balances", "method": "Transfer"},
				"data":   []any{alice, bob, value},
			}},
		}},
	}
}

func rawEvent(pallet, method string, data ...any) chain.RawItem {
	enc := make([]json.RawMessage, len(data))
	for i, d := range data {
		enc[i], _ = json.Marshal(d)
	}
	return chain.RawItem{TypeID: pallet + "." + method, Payload: Event{Pallet: pallet, Method: method, Data: enc}}
}

func rawCall(method string, args any) chain.RawItem {
	enc, _ := json.Marshal(args)
	return chain.RawItem{TypeID: "democracy." + method, Payload: Call{Pallet: "democracy", Method: method, Signer: bob, Args: enc}}
}

func setup(t *testing.T, head uint64, permill uint64) (*fakeNode, *fakeSidecar, *Adapter, *chain.Bundle) {
	t.Helper()
	node, nodeURL := newFakeNode(t, head)
	sidecar, sidecarURL := newFakeSidecar(t)

	opts := chain.Options{
		ChainID:        "kusama",
		Network:        domain.NetworkSubstrate,
		URL:            nodeURL,
		SidecarURL:     sidecarURL,
		ConnectBackoff: 10 * time.Millisecond,
		Enricher:       chain.EnricherOptions{BalanceTransferThresholdPermill: permill},
	}
	adapter, err := Family{}.NewAdapter(opts, nil)
	require.NoError(t, err)
	require.NoError(t, adapter.Connect(context.Background()))
	t.Cleanup(adapter.Close)

	bundle, err := Family{}.Bind(adapter, opts, nil)
	require.NoError(t, err)
	return node, sidecar, adapter.(*Adapter), bundle
}

// =============================================================================
// Adapter and blocks
// =============================================================================

func TestAdapter_ConnectAndHead(t *testing.T) {
	_, _, adapter, _ := setup(t, 0x1a, 0)

	assert.True(t, adapter.IsConnected())
	head, err := adapter.LatestBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(26), head)
}

func TestFamily_RequiresSidecar(t *testing.T) {
	_, err := Family{}.NewAdapter(chain.Options{ChainID: "k", URL: "ws://node"}, nil)
	assert.ErrorContains(t, err, "sidecar_url")
}

func TestBlock_Raw(t *testing.T) {
	raw := []byte(`{
		"number": "12",
		"onInitialize": {"events": [{"method": {"pallet": "democracy", "method": "Started"}, "data": ["3", "SuperMajorityApprove"]}]},
		"extrinsics": [
			{"method": {"pallet": "timestamp", "method": "set"}, "signature": null, "args": {}, "success": true, "events": []},
			{"method": {"pallet": "democracy", "method": "second"}, "signature": {"signer": "` + bob + `"}, "args": {"proposal": "4"}, "success": true,
			 "events": [{"method": {"pallet": "system", "method": "ExtrinsicSuccess"}, "data": []}]},
			{"method": {"pallet": "democracy", "method": "vote"}, "signature": {"signer": {"id": "` + alice + `"}}, "args": {}, "success": false,
			 "events": [{"method": {"pallet": "system", "method": "ExtrinsicFailed"}, "data": []}]}
		],
		"onFinalize": {"events": [{"method": {"pallet": "democracy", "method": "Passed"}, "data": ["2"]}]}
	}`)
	var b Block
	require.NoError(t, json.Unmarshal(raw, &b))

	rb, err := b.Raw()
	require.NoError(t, err)
	assert.Equal(t, uint64(12), rb.Number)

	ids := make([]string, len(rb.Items))
	for i, item := range rb.Items {
		ids[i] = item.TypeID
		assert.Equal(t, i, item.Index)
	}
	assert.Equal(t, []string{"democracy.Started", "democracy.second", "system.ExtrinsicSuccess", "democracy.Passed"}, ids)
	assert.Equal(t, bob, rb.Items[1].Payload.(Call).Signer)

	_, ok := ParseType("system.ExtrinsicSuccess")
	assert.False(t, ok)
	kind, ok := ParseType("democracy.second")
	assert.True(t, ok)
	assert.Equal(t, domain.KindDemocracySeconded, kind)
}

// =============================================================================
// Enricher
// =============================================================================

func TestEnrich_TransferThreshold(t *testing.T) {
	// threshold 1000 permill of 1e9 issuance is 1e6
	_, sidecar, _, bundle := setup(t, 1, 1000)
	sidecar.set("balances/totalIssuance", "1000000000")

	big, err := bundle.Enricher.Enrich(context.Background(), 5, domain.KindBalanceTransfer, rawEvent("balances", "Transfer", alice, bob, "1000000"))
	require.NoError(t, err)
	assert.Equal(t, []string{alice, bob}, big.ExcludeAddresses)
	assert.Empty(t, big.IncludeAddresses)

	small, err := bundle.Enricher.Enrich(context.Background(), 5, domain.KindBalanceTransfer, rawEvent("balances", "Transfer", alice, bob, "999999"))
	require.NoError(t, err)
	assert.Equal(t, []string{alice, bob}, small.IncludeAddresses)
	assert.Equal(t, domain.BalanceTransfer{Sender: alice, Dest: bob, Value: "999999"}, small.Data)
}

func TestEnrich_TransferWithoutThreshold(t *testing.T) {
	_, _, _, bundle := setup(t, 1, 0)

	ev, err := bundle.Enricher.Enrich(context.Background(), 5, domain.KindBalanceTransfer, rawEvent("balances", "Transfer", alice, bob, "1"))
	require.NoError(t, err)
	assert.Equal(t, []string{alice, bob}, ev.ExcludeAddresses)
}

func TestEnrich_Democracy(t *testing.T) {
	_, sidecar, _, bundle := setup(t, 1, 0)
	sidecar.set("democracy/publicProps", []any{[]any{"4", "0xprop", alice}})
	sidecar.set("democracy/referendumInfoOf/3", map[string]any{
		"ongoing": map[string]any{"end": "1200", "proposalHash": "0xref", "threshold": "SuperMajorityApprove", "delay": "10"},
	})
	sidecar.set("democracy/dispatchQueue", []any{[]any{"1500", "0xref", "3"}})
	ctx := context.Background()

	ev, err := bundle.Enricher.Enrich(ctx, 10, domain.KindDemocracyProposed, rawEvent("democracy", "Proposed", "4", "5000"))
	require.NoError(t, err)
	assert.Equal(t, domain.DemocracyProposed{ProposalIndex: 4, ProposalHash: "0xprop", Deposit: "5000", Proposer: alice}, ev.Data)
	assert.Equal(t, []string{alice}, ev.ExcludeAddresses)

	ev, err = bundle.Enricher.Enrich(ctx, 11, domain.KindDemocracyStarted, rawEvent("democracy", "Started", "3", "SuperMajorityApprove"))
	require.NoError(t, err)
	assert.Equal(t, domain.DemocracyStarted{ReferendumIndex: 3, ProposalHash: "0xref", VoteThreshold: "SuperMajorityApprove", EndBlock: 1200}, ev.Data)

	ev, err = bundle.Enricher.Enrich(ctx, 12, domain.KindDemocracyPassed, rawEvent("democracy", "Passed", "3"))
	require.NoError(t, err)
	passed := ev.Data.(domain.DemocracyPassed)
	require.NotNil(t, passed.DispatchBlock)
	assert.Equal(t, uint64(1500), *passed.DispatchBlock)

	ev, err = bundle.Enricher.Enrich(ctx, 13, domain.KindDemocracyExecuted, rawEvent("democracy", "Executed", "3", map[string]any{"ok": nil}))
	require.NoError(t, err)
	assert.Equal(t, domain.DemocracyExecuted{ReferendumIndex: 3, ExecutionOK: true}, ev.Data)

	_, err = bundle.Enricher.Enrich(ctx, 10, domain.KindDemocracyProposed, rawEvent("democracy", "Proposed", "9", "5000"))
	assert.ErrorContains(t, err, "proposal 9")
}

func TestEnrich_Calls(t *testing.T) {
	_, _, _, bundle := setup(t, 1, 0)
	ctx := context.Background()

	ev, err := bundle.Enricher.Enrich(ctx, 20, domain.KindDemocracySeconded, rawCall("second", map[string]any{"proposal": "4"}))
	require.NoError(t, err)
	assert.Equal(t, domain.DemocracySeconded{ProposalIndex: 4, Who: bob}, ev.Data)

	ev, err = bundle.Enricher.Enrich(ctx, 21, domain.KindDemocracyVoted, rawCall("vote", map[string]any{
		"refIndex": "3",
		"vote":     map[string]any{"standard": map[string]any{"vote": map[string]any{"aye": true, "conviction": "Locked2x"}, "balance": "700"}},
	}))
	require.NoError(t, err)
	assert.Equal(t, domain.DemocracyVoted{ReferendumIndex: 3, Who: bob, IsAye: true, Conviction: 2, Balance: "700"}, ev.Data)

	ev, err = bundle.Enricher.Enrich(ctx, 22, domain.KindDemocracyVoted, rawCall("vote", map[string]any{
		"refIndex": "3",
		"vote":     map[string]any{"standard": map[string]any{"vote": "0x03", "balance": "1"}},
	}))
	require.NoError(t, err)
	assert.Equal(t, domain.DemocracyVoted{ReferendumIndex: 3, Who: bob, IsAye: false, Conviction: 3, Balance: "1"}, ev.Data)

	_, err = bundle.Enricher.Enrich(ctx, 23, domain.KindDemocracyVoted, rawCall("vote", map[string]any{
		"refIndex": "3",
		"vote":     map[string]any{"split": map[string]any{"aye": "1", "nay": "1"}},
	}))
	assert.ErrorContains(t, err, "split")
}

func TestEnrich_Treasury(t *testing.T) {
	_, sidecar, _, bundle := setup(t, 1, 0)
	sidecar.set("treasury/proposals/2", map[string]any{"proposer": alice, "value": "100", "beneficiary": bob, "bond": "5"})
	ctx := context.Background()

	ev, err := bundle.Enricher.Enrich(ctx, 30, domain.KindTreasuryProposed, rawEvent("treasury", "Proposed", "2"))
	require.NoError(t, err)
	assert.Equal(t, domain.TreasuryProposed{ProposalIndex: 2, Proposer: alice, Value: "100", Beneficiary: bob, Bond: "5"}, ev.Data)

	ev, err = bundle.Enricher.Enrich(ctx, 31, domain.KindTreasuryRejected, rawEvent("treasury", "Rejected", "2", "5"))
	require.NoError(t, err)
	assert.Equal(t, domain.TreasuryRejected{ProposalIndex: 2, SlashedBond: "5"}, ev.Data)

	_, err = bundle.Enricher.Enrich(ctx, 32, domain.KindTreasuryProposed, rawEvent("treasury", "Proposed", "8"))
	assert.ErrorContains(t, err, "treasury proposal index 8")

	_, err = bundle.Enricher.Enrich(ctx, 33, domain.KindTreasuryAwarded, rawEvent("treasury", "Awarded", "2"))
	assert.ErrorContains(t, err, "expected at least 2 fields")
}

func TestEnrich_ForeignKindPanics(t *testing.T) {
	_, _, _, bundle := setup(t, 1, 0)
	assert.Panics(t, func() {
		_, _ = bundle.Enricher.Enrich(context.Background(), 1, domain.KindVote, rawEvent("gov", "Vote"))
	})
}

// =============================================================================
// Fetcher
// =============================================================================

func seedStorage(s *fakeSidecar) {
	s.set("democracy/publicProps", []any{
		[]any{"0", "0xprop0", alice},
		[]any{"1", "0xprop1", bob},
	})
	s.set("democracy/depositOf/0", []any{[]any{alice, bob}, "100"})
	s.set("democracy/referendumCount", "3")
	s.set("democracy/referendumInfoOf/0", map[string]any{"finished": map[string]any{"approved": true, "end": "200"}})
	s.set("democracy/referendumInfoOf/1", map[string]any{"finished": map[string]any{"approved": false, "end": "10"}})
	s.set("democracy/referendumInfoOf/2", map[string]any{
		"ongoing": map[string]any{"end": "900", "proposal": map[string]any{"legacy": map[string]any{"hash": "0xref2"}}, "threshold": "SimpleMajority"},
	})
	s.set("democracy/dispatchQueue", []any{[]any{"500", "0xref0", "0"}})
	s.set("treasury/proposalCount", "2")
	s.set("treasury/approvals", []any{"0"})
	s.set("treasury/proposals/1", map[string]any{"proposer": bob, "value": "10", "beneficiary": alice, "bond": "1"})
}

func TestFetcher_Fetch(t *testing.T) {
	_, sidecar, _, bundle := setup(t, 777, 0)
	seedStorage(sidecar)

	events, err := bundle.Fetcher.Fetch(context.Background(), nil)
	require.NoError(t, err)

	kinds := make([]domain.EventKind, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind
		assert.Equal(t, uint64(777), ev.BlockNumber)
	}
	assert.Equal(t, []domain.EventKind{
		domain.KindDemocracyProposed,
		domain.KindDemocracySeconded,
		domain.KindDemocracyPassed,
		domain.KindDemocracyNotPassed,
		domain.KindDemocracyStarted,
		domain.KindTreasuryProposed,
	}, kinds)

	assert.Equal(t, domain.DemocracyProposed{ProposalIndex: 0, ProposalHash: "0xprop0", Deposit: "100", Proposer: alice}, events[0].Data)
	assert.Equal(t, domain.DemocracySeconded{ProposalIndex: 0, Who: bob}, events[1].Data)
	assert.Equal(t, uint64(500), *events[2].Data.(domain.DemocracyPassed).DispatchBlock)
	assert.Equal(t, "0xref2", events[4].Data.(domain.DemocracyStarted).ProposalHash)
	assert.Equal(t, uint64(1), events[5].Data.(domain.TreasuryProposed).ProposalIndex)
}

func TestFetcher_FetchRangeSkipsOldReferenda(t *testing.T) {
	_, sidecar, _, bundle := setup(t, 777, 0)
	seedStorage(sidecar)

	r := domain.OpenRange(100)
	events, err := bundle.Fetcher.Fetch(context.Background(), &r)
	require.NoError(t, err)
	for _, ev := range events {
		assert.NotEqual(t, domain.KindDemocracyNotPassed, ev.Kind)
	}
}

func TestFetcher_MissingPallets(t *testing.T) {
	_, _, _, bundle := setup(t, 5, 0)

	events, err := bundle.Fetcher.Fetch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestFetcher_FetchOne(t *testing.T) {
	_, sidecar, _, bundle := setup(t, 777, 0)
	seedStorage(sidecar)

	events, err := bundle.Fetcher.FetchOne(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.DemocracyStarted{ReferendumIndex: 2, ProposalHash: "0xref2", VoteThreshold: "SimpleMajority", EndBlock: 900}, events[0].Data)

	_, err = bundle.Fetcher.FetchOne(context.Background(), 7)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// =============================================================================
// Subscriber
// =============================================================================

type blockSink struct {
	mu     sync.Mutex
	blocks []uint64
}

func (s *blockSink) cb(_ context.Context, b chain.RawBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks = append(s.blocks, b.Number)
	return nil
}

func (s *blockSink) got() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.blocks...)
}

func TestSubscriber_OfflineThenLive(t *testing.T) {
	node, sidecar, _, bundle := setup(t, 6, 0)
	for n := uint64(5); n <= 8; n++ {
		sidecar.blocks[n] = transferBlock(n, "10")
	}

	sink := &blockSink{}
	offline := domain.OpenRange(5)
	require.NoError(t, bundle.Subscriber.Subscribe(context.Background(), sink.cb, &offline))
	t.Cleanup(bundle.Subscriber.Unsubscribe)

	require.Eventually(t, func() bool { return len(sink.got()) == 2 }, 2*time.Second, 10*time.Millisecond)
	node.announce(8)
	require.Eventually(t, func() bool { return len(sink.got()) == 4 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []uint64{5, 6, 7, 8}, sink.got())
}

func TestSubscriber_ReconnectFillsGap(t *testing.T) {
	node, sidecar, adapter, bundle := setup(t, 3, 0)
	for n := uint64(4); n <= 9; n++ {
		sidecar.blocks[n] = transferBlock(n, "10")
	}

	sink := &blockSink{}
	require.NoError(t, bundle.Subscriber.Subscribe(context.Background(), sink.cb, nil))
	t.Cleanup(bundle.Subscriber.Unsubscribe)

	node.announce(5)
	require.Eventually(t, func() bool { return len(sink.got()) == 2 }, 2*time.Second, 10*time.Millisecond)

	node.drop(9)
	require.Eventually(t, func() bool { return len(sink.got()) == 6 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, []uint64{4, 5, 6, 7, 8, 9}, sink.got())
	assert.Equal(t, 2, node.subscriptions())
	assert.True(t, adapter.IsConnected())
}

func TestSubscriber_UnsubscribeReleasesNodeSubscription(t *testing.T) {
	node, _, adapter, bundle := setup(t, 3, 0)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		sink := &blockSink{}
		require.NoError(t, bundle.Subscriber.Subscribe(ctx, sink.cb, nil))
		bundle.Subscriber.Unsubscribe()
	}

	assert.Equal(t, []string{"heads-1", "heads-2"}, node.unsubscribed())
	s, err := adapter.current()
	require.NoError(t, err)
	assert.Zero(t, s.subscriptions())
}

func TestSubscribeHeads_StopClosesChannel(t *testing.T) {
	node, _, adapter, _ := setup(t, 3, 0)

	heads, stop, err := adapter.SubscribeHeads(context.Background())
	require.NoError(t, err)
	stop()
	stop()

	_, open := <-heads
	assert.False(t, open)
	assert.Equal(t, []string{"heads-1"}, node.unsubscribed())
}
