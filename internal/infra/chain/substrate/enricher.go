package substrate

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/vietddude/chainevents/internal/core/domain"
	"github.com/vietddude/chainevents/internal/infra/chain"
)

var kindByType = map[string]domain.EventKind{
	"balances.Transfer":   domain.KindBalanceTransfer,
	"democracy.Proposed":  domain.KindDemocracyProposed,
	"democracy.second":    domain.KindDemocracySeconded,
	"democracy.Started":   domain.KindDemocracyStarted,
	"democracy.vote":      domain.KindDemocracyVoted,
	"democracy.Passed":    domain.KindDemocracyPassed,
	"democracy.NotPassed": domain.KindDemocracyNotPassed,
	"democracy.Cancelled": domain.KindDemocracyCancelled,
	"democracy.Executed":  domain.KindDemocracyExecuted,
	"treasury.Proposed":   domain.KindTreasuryProposed,
	"treasury.Awarded":    domain.KindTreasuryAwarded,
	"treasury.Rejected":   domain.KindTreasuryRejected,
}

// ParseType maps "pallet.Event" and "pallet.call" identifiers to kinds.
func ParseType(typeID string) (domain.EventKind, bool) {
	k, ok := kindByType[typeID]
	return k, ok
}

var convictions = map[string]uint8{
	"None": 0, "Locked1x": 1, "Locked2x": 2, "Locked3x": 3, "Locked4x": 4, "Locked5x": 5, "Locked6x": 6,
}

// Enricher decodes runtime events and democracy calls, reading storage where the
// event alone does not carry the full record.
type Enricher struct {
	chainID string
	storage *Storage
	permill uint64
}

// NewEnricher creates the substrate enricher. opts sets the transfer threshold.
func NewEnricher(chainID string, storage *Storage, opts chain.EnricherOptions) *Enricher {
	return &Enricher{chainID: chainID, storage: storage, permill: opts.BalanceTransferThresholdPermill}
}

func (e *Enricher) Enrich(
	ctx context.Context,
	blockNumber uint64,
	kind domain.EventKind,
	item chain.RawItem,
) (*domain.ChainEvent, error) {
	if kind == domain.KindDemocracySeconded || kind == domain.KindDemocracyVoted {
		call, ok := item.Payload.(Call)
		if !ok {
			return nil, fmt.Errorf("unexpected payload %T for %s", item.Payload, kind)
		}
		return e.call(blockNumber, kind, call)
	}

	ev, ok := item.Payload.(Event)
	if !ok {
		return nil, fmt.Errorf("unexpected payload %T for %s", item.Payload, kind)
	}
	args := eventArgs{kind: kind, data: ev.Data}
	emit := func(data domain.EventData, opts ...domain.EventOption) (*domain.ChainEvent, error) {
		if args.err != nil {
			return nil, args.err
		}
		return domain.NewChainEvent(e.chainID, blockNumber, domain.NetworkSubstrate, data, opts...)
	}

	switch kind {
	case domain.KindBalanceTransfer:
		sender, dest := args.str(0), args.str(1)
		value := args.amount(2)
		if args.err != nil {
			return nil, args.err
		}
		broadcast, err := e.broadcast(ctx, value)
		if err != nil {
			return nil, err
		}
		data := domain.BalanceTransfer{Sender: sender, Dest: dest, Value: value.String()}
		if broadcast {
			return emit(data, domain.WithExcludeAddresses(sender, dest))
		}
		return emit(data, domain.WithIncludeAddresses(sender, dest))

	case domain.KindDemocracyProposed:
		idx, deposit := args.num(0), args.str(1)
		if args.err != nil {
			return nil, args.err
		}
		props, err := e.storage.PublicProps(ctx)
		if err != nil {
			return nil, err
		}
		for _, p := range props {
			if p.Index == idx {
				return emit(domain.DemocracyProposed{
					ProposalIndex: idx, ProposalHash: p.Hash, Deposit: deposit, Proposer: p.Proposer,
				}, domain.WithExcludeAddresses(p.Proposer))
			}
		}
		return nil, fmt.Errorf("could not fetch info for proposal %d", idx)

	case domain.KindDemocracyStarted:
		idx, threshold := args.num(0), args.str(1)
		if args.err != nil {
			return nil, args.err
		}
		info, found, err := e.storage.ReferendumInfo(ctx, idx)
		if err != nil {
			return nil, err
		}
		if !found || !info.Ongoing {
			return nil, fmt.Errorf("referendum %d is not ongoing", idx)
		}
		return emit(domain.DemocracyStarted{
			ReferendumIndex: idx, ProposalHash: info.ProposalHash, VoteThreshold: threshold, EndBlock: info.End,
		})

	case domain.KindDemocracyPassed:
		idx := args.num(0)
		if args.err != nil {
			return nil, args.err
		}
		queue, err := e.storage.DispatchQueue(ctx)
		if err != nil {
			return nil, err
		}
		data := domain.DemocracyPassed{ReferendumIndex: idx}
		for _, d := range queue {
			if d.Index == idx {
				at := d.At
				data.DispatchBlock = &at
				break
			}
		}
		return emit(data)

	case domain.KindDemocracyNotPassed:
		return emit(domain.DemocracyNotPassed{ReferendumIndex: args.num(0)})
	case domain.KindDemocracyCancelled:
		return emit(domain.DemocracyCancelled{ReferendumIndex: args.num(0)})
	case domain.KindDemocracyExecuted:
		return emit(domain.DemocracyExecuted{ReferendumIndex: args.num(0), ExecutionOK: args.ok(1)})

	case domain.KindTreasuryProposed:
		idx := args.num(0)
		if args.err != nil {
			return nil, args.err
		}
		p, found, err := e.storage.TreasuryProposal(ctx, idx)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("could not fetch treasury proposal index %d", idx)
		}
		return emit(domain.TreasuryProposed{
			ProposalIndex: idx, Proposer: p.Proposer, Value: p.Value, Beneficiary: p.Beneficiary, Bond: p.Bond,
		}, domain.WithExcludeAddresses(p.Proposer))

	case domain.KindTreasuryAwarded:
		return emit(domain.TreasuryAwarded{ProposalIndex: args.num(0), Value: args.str(1), Beneficiary: args.str(2)})
	case domain.KindTreasuryRejected:
		return emit(domain.TreasuryRejected{ProposalIndex: args.num(0), SlashedBond: args.opt(1)})

	default:
		panic(fmt.Sprintf("substrate enricher: unsupported kind %q", kind))
	}
}

// broadcast applies the transfer threshold: everyone is notified when no threshold is set
// or when value * 1e6 / permill reaches the total issuance.
func (e *Enricher) broadcast(ctx context.Context, value *big.Int) (bool, error) {
	if e.permill == 0 {
		return true, nil
	}
	issuance, err := e.storage.TotalIssuance(ctx)
	if err != nil {
		return false, err
	}
	scaled := new(big.Int).Mul(value, big.NewInt(1_000_000))
	scaled.Div(scaled, new(big.Int).SetUint64(e.permill))
	return scaled.Cmp(issuance) >= 0, nil
}

func (e *Enricher) call(blockNumber uint64, kind domain.EventKind, c Call) (*domain.ChainEvent, error) {
	var args map[string]json.RawMessage
	if err := json.Unmarshal(c.Args, &args); err != nil {
		return nil, fmt.Errorf("decode %s.%s args: %w", c.Pallet, c.Method, err)
	}

	if kind == domain.KindDemocracySeconded {
		idx, err := decodeUint(args["proposal"])
		if err != nil {
			return nil, fmt.Errorf("second: proposal: %w", err)
		}
		return domain.NewChainEvent(e.chainID, blockNumber, domain.NetworkSubstrate,
			domain.DemocracySeconded{ProposalIndex: idx, Who: c.Signer},
			domain.WithExcludeAddresses(c.Signer))
	}

	idx, err := decodeUint(args["refIndex"])
	if err != nil {
		return nil, fmt.Errorf("vote: refIndex: %w", err)
	}
	v, err := decodeVote(args["vote"])
	if err != nil {
		return nil, err
	}
	return domain.NewChainEvent(e.chainID, blockNumber, domain.NetworkSubstrate,
		domain.DemocracyVoted{ReferendumIndex: idx, Who: c.Signer, IsAye: v.aye, Conviction: v.conviction, Balance: v.balance},
		domain.WithExcludeAddresses(c.Signer))
}

type standardVote struct {
	aye        bool
	conviction uint8
	balance    string
}

// decodeVote reads an AccountVote. Split votes are rejected.
func decodeVote(raw json.RawMessage) (standardVote, error) {
	var account map[string]json.RawMessage
	if json.Unmarshal(raw, &account) != nil {
		// pre-AccountVote runtimes pass the packed vote byte directly
		return packedVote(decodeString(raw))
	}
	if _, split := account["split"]; split {
		return standardVote{}, fmt.Errorf("split votes not supported")
	}
	std, ok := account["standard"]
	if !ok {
		return standardVote{}, fmt.Errorf("unknown vote shape %s", string(raw))
	}
	var s struct {
		Vote    json.RawMessage `json:"vote"`
		Balance json.RawMessage `json:"balance"`
	}
	if err := json.Unmarshal(std, &s); err != nil {
		return standardVote{}, fmt.Errorf("decode vote: %w", err)
	}

	var out standardVote
	var detail struct {
		Aye        bool   `json:"aye"`
		Conviction string `json:"conviction"`
	}
	if json.Unmarshal(s.Vote, &detail) == nil {
		out.aye, out.conviction = detail.Aye, convictions[detail.Conviction]
	} else {
		packed, err := packedVote(decodeString(s.Vote))
		if err != nil {
			return standardVote{}, err
		}
		out = packed
	}
	out.balance = decodeString(s.Balance)
	return out, nil
}

func packedVote(s string) (standardVote, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != 1 {
		return standardVote{}, fmt.Errorf("bad packed vote %q", s)
	}
	return standardVote{aye: b[0]&0x80 != 0, conviction: b[0] & 0x7f}, nil
}

// eventArgs decodes positional event data, keeping the first error.
type eventArgs struct {
	kind domain.EventKind
	data []json.RawMessage
	err  error
}

func (a *eventArgs) at(i int) json.RawMessage {
	if i >= len(a.data) {
		if a.err == nil {
			a.err = fmt.Errorf("%s: expected at least %d fields, got %d", a.kind, i+1, len(a.data))
		}
		return nil
	}
	return a.data[i]
}

func (a *eventArgs) str(i int) string {
	raw := a.at(i)
	if raw == nil {
		return ""
	}
	return decodeString(raw)
}

// opt is str for trailing fields older runtimes omit.
func (a *eventArgs) opt(i int) string {
	if i >= len(a.data) {
		return ""
	}
	return decodeString(a.data[i])
}

func (a *eventArgs) num(i int) uint64 {
	raw := a.at(i)
	if raw == nil {
		return 0
	}
	n, err := decodeUint(raw)
	if err != nil && a.err == nil {
		a.err = fmt.Errorf("%s field %d: %w", a.kind, i, err)
	}
	return n
}

func (a *eventArgs) amount(i int) *big.Int {
	raw := a.at(i)
	if raw == nil {
		return new(big.Int)
	}
	n, err := decodeBig(raw)
	if err != nil {
		if a.err == nil {
			a.err = fmt.Errorf("%s field %d: %w", a.kind, i, err)
		}
		return new(big.Int)
	}
	return n
}

// ok reads a dispatch result rendered as a bool or as {"ok": ...} / {"err": ...}.
func (a *eventArgs) ok(i int) bool {
	if i >= len(a.data) {
		return false
	}
	raw := a.data[i]
	var b bool
	if json.Unmarshal(raw, &b) == nil {
		return b
	}
	var result map[string]json.RawMessage
	if json.Unmarshal(raw, &result) != nil {
		return false
	}
	for k := range result {
		if strings.EqualFold(k, "ok") {
			return true
		}
	}
	return false
}
