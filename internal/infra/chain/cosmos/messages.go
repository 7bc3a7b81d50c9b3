package cosmos

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/vietddude/chainevents/internal/core/domain"
)

var kindByType = map[string]domain.EventKind{
	"/cosmos.gov.v1beta1.MsgSubmitProposal": domain.KindSubmitProposal,
	"/cosmos.gov.v1.MsgSubmitProposal":      domain.KindSubmitProposal,
	"/cosmos.gov.v1beta1.MsgDeposit":        domain.KindDeposit,
	"/cosmos.gov.v1.MsgDeposit":             domain.KindDeposit,
	"/cosmos.gov.v1beta1.MsgVote":           domain.KindVote,
	"/cosmos.gov.v1.MsgVote":                domain.KindVote,
	"/cosmos.gov.v1beta1.MsgVoteWeighted":   domain.KindVote,
	"/cosmos.gov.v1.MsgVoteWeighted":        domain.KindVote,
}

// ParseType maps a message type URL to a gov kind.
func ParseType(typeURL string) (domain.EventKind, bool) {
	k, ok := kindByType[typeURL]
	return k, ok
}

// Attribute is an ABCI event attribute. SDK versions before 0.46 base64-encode both fields.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Event is an ABCI event emitted while executing a message.
type Event struct {
	Type       string      `json:"type"`
	Attributes []Attribute `json:"attributes"`
}

// Attr returns the first value of key on the first event of type typ.
func Attr(events []Event, typ, key string) (string, bool) {
	encodedKey := base64.StdEncoding.EncodeToString([]byte(key))
	for _, ev := range events {
		if ev.Type != typ {
			continue
		}
		for _, a := range ev.Attributes {
			switch a.Key {
			case key:
				return a.Value, true
			case encodedKey:
				v, err := base64.StdEncoding.DecodeString(a.Value)
				if err != nil {
					return a.Value, true
				}
				return string(v), true
			}
		}
	}
	return "", false
}

// Message is the payload of a cosmos RawItem: one tx message plus the events it produced.
type Message struct {
	Type   string
	Raw    json.RawMessage
	TxHash string
	Events []Event
}

type msgSubmitProposal struct {
	Content        *content      `json:"content"`
	Messages       []typed       `json:"messages"`
	InitialDeposit []domain.Coin `json:"initial_deposit"`
	Proposer       string        `json:"proposer"`
	Title          string        `json:"title"`
	Summary        string        `json:"summary"`
}

type msgDeposit struct {
	ProposalID string        `json:"proposal_id"`
	Depositor  string        `json:"depositor"`
	Amount     []domain.Coin `json:"amount"`
}

type weightedOption struct {
	Option string `json:"option"`
	Weight string `json:"weight"`
}

type msgVote struct {
	ProposalID string           `json:"proposal_id"`
	Voter      string           `json:"voter"`
	Option     string           `json:"option"`
	Options    []weightedOption `json:"options"`
}

var optionNames = map[string]string{
	"1": "VOTE_OPTION_YES",
	"2": "VOTE_OPTION_ABSTAIN",
	"3": "VOTE_OPTION_NO",
	"4": "VOTE_OPTION_NO_WITH_VETO",
}

func normalizeOption(o string) string {
	if name, ok := optionNames[o]; ok {
		return name
	}
	return o
}

// option picks the plain option, or the heaviest weighted one.
func (v msgVote) option() string {
	return pickOption(v.Option, v.Options)
}

func pickOption(plain string, weighted []weightedOption) string {
	if len(weighted) == 0 {
		return normalizeOption(plain)
	}
	best, bestWeight := "", -1.0
	for _, o := range weighted {
		w, err := strconv.ParseFloat(o.Weight, 64)
		if err != nil {
			continue
		}
		if w > bestWeight {
			best, bestWeight = o.Option, w
		}
	}
	if best == "" {
		best = weighted[0].Option
	}
	return normalizeOption(best)
}

func parseID(raw string) (uint64, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad proposal id %q: %w", raw, err)
	}
	return id, nil
}
