package domain

// Substrate indexes (referendum, proposal) start at zero, so only non-index fields are required.

// BalanceTransfer is a balances.Transfer. Value is in the chain's base unit.
type BalanceTransfer struct {
	Sender string `json:"sender"`
	Dest   string `json:"dest"`
	Value  string `json:"value"`
}

func (BalanceTransfer) Kind() EventKind { return KindBalanceTransfer }

func (d BalanceTransfer) validate() error {
	return require(d.Kind()).str("sender", d.Sender).str("dest", d.Dest).str("value", d.Value).err()
}

// DemocracyProposed is a new public proposal with its locked deposit.
type DemocracyProposed struct {
	ProposalIndex uint64 `json:"proposal_index"`
	ProposalHash  string `json:"proposal_hash"`
	Deposit       string `json:"deposit"`
	Proposer      string `json:"proposer"`
}

func (DemocracyProposed) Kind() EventKind { return KindDemocracyProposed }

func (d DemocracyProposed) validate() error {
	return require(d.Kind()).str("proposal_hash", d.ProposalHash).str("proposer", d.Proposer).err()
}

// DemocracySeconded records Who backing a public proposal.
type DemocracySeconded struct {
	ProposalIndex uint64 `json:"proposal_index"`
	Who           string `json:"who"`
}

func (DemocracySeconded) Kind() EventKind { return KindDemocracySeconded }

func (d DemocracySeconded) validate() error {
	return require(d.Kind()).str("who", d.Who).err()
}

// DemocracyStarted opens a referendum that ends at EndBlock.
type DemocracyStarted struct {
	ReferendumIndex uint64 `json:"referendum_index"`
	ProposalHash    string `json:"proposal_hash"`
	VoteThreshold   string `json:"vote_threshold"`
	EndBlock        uint64 `json:"end_block"`
}

func (DemocracyStarted) Kind() EventKind { return KindDemocracyStarted }

func (d DemocracyStarted) validate() error {
	return require(d.Kind()).
		str("proposal_hash", d.ProposalHash).
		str("vote_threshold", d.VoteThreshold).
		err()
}

// DemocracyVoted is a standard referendum vote.
type DemocracyVoted struct {
	ReferendumIndex uint64 `json:"referendum_index"`
	Who             string `json:"who"`
	IsAye           bool   `json:"is_aye"`
	Conviction      uint8  `json:"conviction"`
	Balance         string `json:"balance"`
}

func (DemocracyVoted) Kind() EventKind { return KindDemocracyVoted }

func (d DemocracyVoted) validate() error {
	return require(d.Kind()).str("who", d.Who).err()
}

// DemocracyPassed has a nil DispatchBlock when the referendum was already dispatched.
type DemocracyPassed struct {
	ReferendumIndex uint64  `json:"referendum_index"`
	DispatchBlock   *uint64 `json:"dispatch_block"`
}

func (DemocracyPassed) Kind() EventKind { return KindDemocracyPassed }
func (DemocracyPassed) validate() error { return nil }

// DemocracyNotPassed closes a rejected referendum.
type DemocracyNotPassed struct {
	ReferendumIndex uint64 `json:"referendum_index"`
}

func (DemocracyNotPassed) Kind() EventKind { return KindDemocracyNotPassed }
func (DemocracyNotPassed) validate() error { return nil }

// DemocracyCancelled closes a referendum by emergency cancellation.
type DemocracyCancelled struct {
	ReferendumIndex uint64 `json:"referendum_index"`
}

func (DemocracyCancelled) Kind() EventKind { return KindDemocracyCancelled }
func (DemocracyCancelled) validate() error { return nil }

// DemocracyExecuted reports the dispatch result of a passed referendum.
type DemocracyExecuted struct {
	ReferendumIndex uint64 `json:"referendum_index"`
	ExecutionOK     bool   `json:"execution_ok"`
}

func (DemocracyExecuted) Kind() EventKind { return KindDemocracyExecuted }
func (DemocracyExecuted) validate() error { return nil }

// TreasuryProposed is a spend proposal; Bond is reserved from the proposer.
type TreasuryProposed struct {
	ProposalIndex uint64 `json:"proposal_index"`
	Proposer      string `json:"proposer"`
	Value         string `json:"value"`
	Beneficiary   string `json:"beneficiary"`
	Bond          string `json:"bond"`
}

func (TreasuryProposed) Kind() EventKind { return KindTreasuryProposed }

func (d TreasuryProposed) validate() error {
	return require(d.Kind()).
		str("proposer", d.Proposer).
		str("value", d.Value).
		str("beneficiary", d.Beneficiary).
		err()
}

// TreasuryAwarded pays out an approved spend.
type TreasuryAwarded struct {
	ProposalIndex uint64 `json:"proposal_index"`
	Value         string `json:"value"`
	Beneficiary   string `json:"beneficiary"`
}

func (TreasuryAwarded) Kind() EventKind { return KindTreasuryAwarded }

func (d TreasuryAwarded) validate() error {
	return require(d.Kind()).str("value", d.Value).str("beneficiary", d.Beneficiary).err()
}

// TreasuryRejected closes a spend; the bond is slashed.
type TreasuryRejected struct {
	ProposalIndex uint64 `json:"proposal_index"`
	SlashedBond   string `json:"slashed_bond,omitempty"`
}

func (TreasuryRejected) Kind() EventKind { return KindTreasuryRejected }
func (TreasuryRejected) validate() error { return nil }
