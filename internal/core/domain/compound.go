package domain

// ProposalCreated is emitted when a GovernorBravo proposal is submitted.
type ProposalCreated struct {
	ID          uint64   `json:"id"`
	Proposer    string   `json:"proposer"`
	Targets     []string `json:"targets"`
	Values      []string `json:"values"`
	Signatures  []string `json:"signatures"`
	Calldatas   []string `json:"calldatas"`
	StartBlock  uint64   `json:"start_block"`
	EndBlock    uint64   `json:"end_block"`
	Description string   `json:"description"`
}

func (ProposalCreated) Kind() EventKind { return KindProposalCreated }

func (d ProposalCreated) validate() error {
	return require(d.Kind()).id("id", d.ID).str("proposer", d.Proposer).err()
}

// VoteCast carries a single vote plus the proposal tally read right after it.
type VoteCast struct {
	ID           uint64 `json:"id"`
	Voter        string `json:"voter"`
	Support      uint8  `json:"support"`
	Votes        string `json:"votes"`
	Reason       string `json:"reason,omitempty"`
	ForVotes     string `json:"for_votes,omitempty"`
	AgainstVotes string `json:"against_votes,omitempty"`
	AbstainVotes string `json:"abstain_votes,omitempty"`
}

func (VoteCast) Kind() EventKind { return KindVoteCast }

func (d VoteCast) validate() error {
	return require(d.Kind()).id("id", d.ID).str("voter", d.Voter).str("votes", d.Votes).err()
}

// ProposalQueued is emitted when a passed proposal enters the timelock.
type ProposalQueued struct {
	ID  uint64 `json:"id"`
	ETA uint64 `json:"eta"`
}

func (ProposalQueued) Kind() EventKind { return KindProposalQueued }

func (d ProposalQueued) validate() error {
	return require(d.Kind()).id("id", d.ID).err()
}

// ProposalExecuted is emitted when a queued proposal runs.
type ProposalExecuted struct {
	ID uint64 `json:"id"`
}

func (ProposalExecuted) Kind() EventKind { return KindProposalExecuted }

func (d ProposalExecuted) validate() error {
	return require(d.Kind()).id("id", d.ID).err()
}

// ProposalCanceled is emitted when a proposal is canceled.
type ProposalCanceled struct {
	ID uint64 `json:"id"`
}

func (ProposalCanceled) Kind() EventKind { return KindProposalCanceled }

func (d ProposalCanceled) validate() error {
	return require(d.Kind()).id("id", d.ID).err()
}
