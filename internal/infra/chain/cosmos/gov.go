package cosmos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vietddude/chainevents/internal/core/domain"
	"github.com/vietddude/chainevents/internal/infra/rpc"
)

// Proposal statuses reported by the gov module.
const (
	StatusDepositPeriod = "PROPOSAL_STATUS_DEPOSIT_PERIOD"
	StatusVotingPeriod  = "PROPOSAL_STATUS_VOTING_PERIOD"
	StatusPassed        = "PROPOSAL_STATUS_PASSED"
	StatusRejected      = "PROPOSAL_STATUS_REJECTED"
	StatusFailed        = "PROPOSAL_STATUS_FAILED"
)

const pageLimit = "100"

type typed struct {
	Type string `json:"@type"`
}

type content struct {
	Type        string `json:"@type"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type tally struct {
	Yes             string `json:"yes"`
	Abstain         string `json:"abstain"`
	No              string `json:"no"`
	NoWithVeto      string `json:"no_with_veto"`
	YesCount        string `json:"yes_count"`
	AbstainCount    string `json:"abstain_count"`
	NoCount         string `json:"no_count"`
	NoWithVetoCount string `json:"no_with_veto_count"`
}

func (t tally) normalize() domain.Tally {
	pick := func(a, b string) string {
		if a != "" {
			return a
		}
		return b
	}
	return domain.Tally{
		Yes:        pick(t.Yes, t.YesCount),
		No:         pick(t.No, t.NoCount),
		Abstain:    pick(t.Abstain, t.AbstainCount),
		NoWithVeto: pick(t.NoWithVeto, t.NoWithVetoCount),
	}
}

// Proposal is a gov proposal as returned by either the v1beta1 or the v1 API.
type Proposal struct {
	ProposalID     string        `json:"proposal_id"`
	V1ID           string        `json:"id"`
	Content        *content      `json:"content"`
	Messages       []typed       `json:"messages"`
	Title          string        `json:"title"`
	Summary        string        `json:"summary"`
	Proposer       string        `json:"proposer"`
	Status         string        `json:"status"`
	FinalTally     tally         `json:"final_tally_result"`
	SubmitTime     time.Time     `json:"submit_time"`
	DepositEndTime time.Time     `json:"deposit_end_time"`
	VotingEndTime  time.Time     `json:"voting_end_time"`
	TotalDeposit   []domain.Coin `json:"total_deposit"`
}

// ID returns the numeric proposal id.
func (p *Proposal) ID() (uint64, error) {
	raw := p.ProposalID
	if raw == "" {
		raw = p.V1ID
	}
	return strconv.ParseUint(raw, 10, 64)
}

func (p *Proposal) title() string {
	if p.Content != nil && p.Content.Title != "" {
		return p.Content.Title
	}
	return p.Title
}

func (p *Proposal) description() string {
	if p.Content != nil && p.Content.Description != "" {
		return p.Content.Description
	}
	return p.Summary
}

func (p *Proposal) proposalType() string {
	if p.Content != nil {
		return p.Content.Type
	}
	if len(p.Messages) > 0 {
		return p.Messages[0].Type
	}
	return ""
}

// Finished reports whether voting is over.
func (p *Proposal) Finished() bool {
	switch p.Status {
	case StatusPassed, StatusRejected, StatusFailed:
		return true
	}
	return false
}

type pagination struct {
	NextKey string `json:"next_key"`
	Total   string `json:"total"`
}

// GovAPI reads gov state for one API version.
type GovAPI struct {
	client  *rpc.HTTPClient
	version string
}

// NewGovAPI selects the v1beta1 or v1 routes.
func NewGovAPI(client *rpc.HTTPClient, version string) *GovAPI {
	if version == "" {
		version = "v1beta1"
	}
	return &GovAPI{client: client, version: version}
}

func (g *GovAPI) path(format string, args ...any) string {
	return "/cosmos/gov/" + g.version + fmt.Sprintf(format, args...)
}

// Proposal reads one proposal. A missing proposal yields domain.ErrNotFound.
func (g *GovAPI) Proposal(ctx context.Context, id uint64) (*Proposal, error) {
	var resp struct {
		Proposal *Proposal `json:"proposal"`
	}
	if err := g.client.GetJSON(ctx, g.path("/proposals/%d", id), nil, &resp); err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("proposal %d: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("proposal %d: %w", id, err)
	}
	if resp.Proposal == nil {
		return nil, fmt.Errorf("proposal %d: %w", id, domain.ErrNotFound)
	}
	return resp.Proposal, nil
}

// Proposals pages through every proposal.
func (g *GovAPI) Proposals(ctx context.Context) ([]*Proposal, error) {
	var out []*Proposal
	err := g.paginate(ctx, g.path("/proposals"), func(raw func(any) error) error {
		var page struct {
			Proposals []*Proposal `json:"proposals"`
		}
		if err := raw(&page); err != nil {
			return err
		}
		out = append(out, page.Proposals...)
		return nil
	})
	return out, err
}

type deposit struct {
	Depositor string        `json:"depositor"`
	Amount    []domain.Coin `json:"amount"`
}

// Deposits pages through the deposits of a proposal.
func (g *GovAPI) Deposits(ctx context.Context, id uint64) ([]deposit, error) {
	var out []deposit
	err := g.paginate(ctx, g.path("/proposals/%d/deposits", id), func(raw func(any) error) error {
		var page struct {
			Deposits []deposit `json:"deposits"`
		}
		if err := raw(&page); err != nil {
			return err
		}
		out = append(out, page.Deposits...)
		return nil
	})
	return out, err
}

type vote struct {
	Voter   string           `json:"voter"`
	Option  string           `json:"option"`
	Options []weightedOption `json:"options"`
}

// Votes pages through the votes of a proposal.
func (g *GovAPI) Votes(ctx context.Context, id uint64) ([]vote, error) {
	var out []vote
	err := g.paginate(ctx, g.path("/proposals/%d/votes", id), func(raw func(any) error) error {
		var page struct {
			Votes []vote `json:"votes"`
		}
		if err := raw(&page); err != nil {
			return err
		}
		out = append(out, page.Votes...)
		return nil
	})
	return out, err
}

// paginate follows pagination.next_key until the gateway stops returning one.
func (g *GovAPI) paginate(ctx context.Context, path string, page func(decode func(any) error) error) error {
	key := ""
	for {
		q := url.Values{"pagination.limit": {pageLimit}}
		if key != "" {
			q.Set("pagination.key", key)
		}

		var envelope struct {
			Pagination *pagination `json:"pagination"`
		}
		var body json.RawMessage
		if err := g.client.GetJSON(ctx, path, q, &body); err != nil {
			return fmt.Errorf("GET %s: %w", path, err)
		}
		decode := func(out any) error {
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("GET %s: %w", path, err)
			}
			return nil
		}
		if err := decode(&envelope); err != nil {
			return err
		}
		if err := page(decode); err != nil {
			return err
		}

		if envelope.Pagination == nil || envelope.Pagination.NextKey == "" {
			return nil
		}
		key = envelope.Pagination.NextKey
	}
}

func isNotFound(err error) bool {
	if rpc.IsNotFound(err) {
		return true
	}
	var se *rpc.StatusError
	if !errors.As(err, &se) {
		return false
	}
	// gRPC gateway reports codes.NotFound (5) with a 400 or 500 on some SDK versions
	body := strings.ToLower(se.Body)
	return strings.Contains(body, `"code":5`) ||
		strings.Contains(body, "doesn't exist") ||
		strings.Contains(body, "not found")
}
