package substrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/vietddude/chainevents/internal/infra/rpc"
)

// Sidecar renders numbers as decimal strings, compact hex or plain JSON numbers
// depending on the type and the runtime version.

func decodeString(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return strings.Trim(string(raw), `"`)
}

func decodeUint(raw json.RawMessage) (uint64, error) {
	s := decodeString(raw)
	if strings.HasPrefix(s, "0x") {
		return hexutil.DecodeUint64(s)
	}
	return strconv.ParseUint(s, 10, 64)
}

func decodeBig(raw json.RawMessage) (*big.Int, error) {
	s := decodeString(raw)
	if strings.HasPrefix(s, "0x") {
		return hexutil.DecodeBig(s)
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("bad balance %q", s)
	}
	return n, nil
}

// decodeHash accepts a plain hash or a bounded call ({"legacy": {"hash": ...}}, {"lookup": ...}).
func decodeHash(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var bounded map[string]json.RawMessage
	if json.Unmarshal(raw, &bounded) != nil {
		return ""
	}
	for _, v := range bounded {
		var inner struct {
			Hash string `json:"hash"`
		}
		if json.Unmarshal(v, &inner) == nil && inner.Hash != "" {
			return inner.Hash
		}
		if json.Unmarshal(v, &s) == nil {
			return s
		}
	}
	return ""
}

type publicProp struct {
	Index    uint64
	Hash     string
	Proposer string
}

type referendumInfo struct {
	Ongoing      bool
	ProposalHash string
	Threshold    string
	End          uint64
	Approved     bool
}

type treasuryProposal struct {
	Proposer    string `json:"proposer"`
	Value       string `json:"value"`
	Beneficiary string `json:"beneficiary"`
	Bond        string `json:"bond"`
}

type dispatch struct {
	At    uint64
	Index uint64
}

// Storage reads the pallet state the enricher and fetcher need.
type Storage struct {
	sidecar *Sidecar
}

// NewStorage reads pallet state through sidecar.
func NewStorage(sidecar *Sidecar) *Storage {
	return &Storage{sidecar: sidecar}
}

func (s *Storage) TotalIssuance(ctx context.Context) (*big.Int, error) {
	var raw json.RawMessage
	ok, err := s.sidecar.Storage(ctx, "balances", "totalIssuance", &raw)
	if err != nil {
		return nil, err
	}
	if !ok {
		return new(big.Int), nil
	}
	return decodeBig(raw)
}

func (s *Storage) PublicProps(ctx context.Context) ([]publicProp, error) {
	var rows [][]json.RawMessage
	if _, err := s.sidecar.Storage(ctx, "democracy", "publicProps", &rows); err != nil {
		if absent(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]publicProp, 0, len(rows))
	for _, row := range rows {
		if len(row) < 3 {
			continue
		}
		idx, err := decodeUint(row[0])
		if err != nil {
			return nil, fmt.Errorf("publicProps: %w", err)
		}
		out = append(out, publicProp{Index: idx, Hash: decodeHash(row[1]), Proposer: decodeString(row[2])})
	}
	return out, nil
}

func (s *Storage) ReferendumCount(ctx context.Context) (uint64, error) {
	var raw json.RawMessage
	ok, err := s.sidecar.Storage(ctx, "democracy", "referendumCount", &raw)
	if err != nil && absent(err) {
		return 0, nil
	}
	if err != nil || !ok {
		return 0, err
	}
	return decodeUint(raw)
}

// ReferendumInfo reads referendumInfoOf(idx). Both the tagged (ongoing/finished) and the
// older untagged layout are accepted; the latter is always ongoing.
func (s *Storage) ReferendumInfo(ctx context.Context, idx uint64) (*referendumInfo, bool, error) {
	var raw map[string]json.RawMessage
	ok, err := s.sidecar.Storage(ctx, "democracy", "referendumInfoOf", &raw, strconv.FormatUint(idx, 10))
	if err != nil || !ok {
		return nil, ok, err
	}

	if fin, ok := raw["finished"]; ok {
		var f struct {
			Approved bool            `json:"approved"`
			End      json.RawMessage `json:"end"`
		}
		if err := json.Unmarshal(fin, &f); err != nil {
			return nil, false, fmt.Errorf("referendum %d: %w", idx, err)
		}
		end, _ := decodeUint(f.End)
		return &referendumInfo{Approved: f.Approved, End: end}, true, nil
	}

	body := raw
	if ongoing, ok := raw["ongoing"]; ok {
		body = nil
		if err := json.Unmarshal(ongoing, &body); err != nil {
			return nil, false, fmt.Errorf("referendum %d: %w", idx, err)
		}
	}
	info := &referendumInfo{Ongoing: true, Threshold: decodeString(body["threshold"])}
	if h, ok := body["proposalHash"]; ok {
		info.ProposalHash = decodeHash(h)
	} else {
		info.ProposalHash = decodeHash(body["proposal"])
	}
	if info.End, err = decodeUint(body["end"]); err != nil {
		return nil, false, fmt.Errorf("referendum %d end: %w", idx, err)
	}
	return info, true, nil
}

// DepositOf returns the seconders and deposit of a public proposal. Some runtimes store
// (seconds, deposit), others (deposit, seconds).
func (s *Storage) DepositOf(ctx context.Context, idx uint64) ([]string, string, bool, error) {
	var pair []json.RawMessage
	ok, err := s.sidecar.Storage(ctx, "democracy", "depositOf", &pair, strconv.FormatUint(idx, 10))
	if err != nil || !ok {
		return nil, "", ok, err
	}
	if len(pair) != 2 {
		return nil, "", false, fmt.Errorf("depositOf %d: expected 2 fields, got %d", idx, len(pair))
	}
	var who []string
	if json.Unmarshal(pair[0], &who) == nil {
		return who, decodeString(pair[1]), true, nil
	}
	if err := json.Unmarshal(pair[1], &who); err != nil {
		return nil, "", false, fmt.Errorf("depositOf %d: %w", idx, err)
	}
	return who, decodeString(pair[0]), true, nil
}

func (s *Storage) TreasuryProposalCount(ctx context.Context) (uint64, error) {
	var raw json.RawMessage
	ok, err := s.sidecar.Storage(ctx, "treasury", "proposalCount", &raw)
	if err != nil && absent(err) {
		return 0, nil
	}
	if err != nil || !ok {
		return 0, err
	}
	return decodeUint(raw)
}

func (s *Storage) TreasuryApprovals(ctx context.Context) (map[uint64]bool, error) {
	var raw []json.RawMessage
	if _, err := s.sidecar.Storage(ctx, "treasury", "approvals", &raw); err != nil && !absent(err) {
		return nil, err
	}
	out := make(map[uint64]bool, len(raw))
	for _, r := range raw {
		id, err := decodeUint(r)
		if err != nil {
			return nil, fmt.Errorf("approvals: %w", err)
		}
		out[id] = true
	}
	return out, nil
}

func (s *Storage) TreasuryProposal(ctx context.Context, idx uint64) (*treasuryProposal, bool, error) {
	var p treasuryProposal
	ok, err := s.sidecar.Storage(ctx, "treasury", "proposals", &p, strconv.FormatUint(idx, 10))
	if err != nil || !ok {
		return nil, ok, err
	}
	return &p, true, nil
}

// DispatchQueue reads democracy.dispatchQueue. Runtimes that schedule through the
// scheduler pallet have no such item and yield an empty queue.
func (s *Storage) DispatchQueue(ctx context.Context) ([]dispatch, error) {
	var rows [][]json.RawMessage
	if _, err := s.sidecar.Storage(ctx, "democracy", "dispatchQueue", &rows); err != nil {
		if absent(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]dispatch, 0, len(rows))
	for _, row := range rows {
		if len(row) < 3 {
			continue
		}
		at, err := decodeUint(row[0])
		if err != nil {
			return nil, fmt.Errorf("dispatchQueue: %w", err)
		}
		idx, err := decodeUint(row[2])
		if err != nil {
			return nil, fmt.Errorf("dispatchQueue: %w", err)
		}
		out = append(out, dispatch{At: at, Index: idx})
	}
	return out, nil
}

// absent reports whether the sidecar rejected the read because the runtime has no such
// pallet or storage item.
func absent(err error) bool {
	var se *rpc.StatusError
	return errors.As(err, &se) && (se.Code == http.StatusBadRequest || se.Code == http.StatusNotFound)
}
