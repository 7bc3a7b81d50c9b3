package domain

import "time"

// Coin is an amount of a single denomination.
type Coin struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

// SubmitProposal is emitted for a new gov proposal. Times are zero when the chain did not report them.
type SubmitProposal struct {
	ID             uint64    `json:"id"`
	Proposer       string    `json:"proposer,omitempty"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	ProposalType   string    `json:"proposal_type,omitempty"`
	InitialDeposit []Coin    `json:"initial_deposit,omitempty"`
	SubmitTime     time.Time `json:"submit_time"`
	DepositEndTime time.Time `json:"deposit_end_time"`
	VotingEndTime  time.Time `json:"voting_end_time"`
}

func (SubmitProposal) Kind() EventKind { return KindSubmitProposal }

func (d SubmitProposal) validate() error {
	return require(d.Kind()).id("id", d.ID).err()
}

// Deposit adds funds to a proposal's deposit.
type Deposit struct {
	ID        uint64 `json:"id"`
	Depositor string `json:"depositor"`
	Amount    []Coin `json:"amount"`
}

func (Deposit) Kind() EventKind { return KindDeposit }

func (d Deposit) validate() error {
	return require(d.Kind()).id("id", d.ID).str("depositor", d.Depositor).err()
}

// Vote records a voter's option. Weighted votes keep the option with the largest weight.
type Vote struct {
	ID     uint64 `json:"id"`
	Voter  string `json:"voter"`
	Option string `json:"option"`
}

func (Vote) Kind() EventKind { return KindVote }

func (d Vote) validate() error {
	return require(d.Kind()).id("id", d.ID).str("voter", d.Voter).str("option", d.Option).err()
}

// Tally is the final vote count of a proposal.
type Tally struct {
	Yes        string `json:"yes"`
	No         string `json:"no"`
	Abstain    string `json:"abstain"`
	NoWithVeto string `json:"no_with_veto"`
}

// ProposalFinalized is emitted once a proposal leaves the voting period.
type ProposalFinalized struct {
	ID         uint64 `json:"id"`
	Status     string `json:"status"`
	FinalTally Tally  `json:"final_tally"`
}

func (ProposalFinalized) Kind() EventKind { return KindProposalFinalized }

func (d ProposalFinalized) validate() error {
	return require(d.Kind()).id("id", d.ID).str("status", d.Status).err()
}
