package domain

// EventKind names one kind of on-chain occurrence within a network family.
type EventKind string

// Compound GovernorBravo kinds.
const (
	KindProposalCreated  EventKind = "proposal-created"
	KindVoteCast         EventKind = "vote-cast"
	KindProposalQueued   EventKind = "proposal-queued"
	KindProposalExecuted EventKind = "proposal-executed"
	KindProposalCanceled EventKind = "proposal-canceled"
)

// ERC20 kinds.
const (
	KindTransfer EventKind = "transfer"
	KindApproval EventKind = "approval"
)

// Cosmos SDK gov kinds.
const (
	KindSubmitProposal    EventKind = "submit-proposal"
	KindDeposit           EventKind = "deposit"
	KindVote              EventKind = "vote"
	KindProposalFinalized EventKind = "proposal-finalized"
)

// Substrate kinds.
const (
	KindBalanceTransfer    EventKind = "balance-transfer"
	KindDemocracyProposed  EventKind = "democracy-proposed"
	KindDemocracySeconded  EventKind = "democracy-seconded"
	KindDemocracyStarted   EventKind = "democracy-started"
	KindDemocracyVoted     EventKind = "democracy-voted"
	KindDemocracyPassed    EventKind = "democracy-passed"
	KindDemocracyNotPassed EventKind = "democracy-not-passed"
	KindDemocracyCancelled EventKind = "democracy-cancelled"
	KindDemocracyExecuted  EventKind = "democracy-executed"
	KindTreasuryProposed   EventKind = "treasury-proposed"
	KindTreasuryAwarded    EventKind = "treasury-awarded"
	KindTreasuryRejected   EventKind = "treasury-rejected"
)

var kindsByNetwork = map[Network][]EventKind{
	NetworkCompound: {
		KindProposalCreated,
		KindVoteCast,
		KindProposalQueued,
		KindProposalExecuted,
		KindProposalCanceled,
	},
	NetworkERC20: {KindTransfer, KindApproval},
	NetworkCosmos: {
		KindSubmitProposal,
		KindDeposit,
		KindVote,
		KindProposalFinalized,
	},
	NetworkSubstrate: {
		KindBalanceTransfer,
		KindDemocracyProposed,
		KindDemocracySeconded,
		KindDemocracyStarted,
		KindDemocracyVoted,
		KindDemocracyPassed,
		KindDemocracyNotPassed,
		KindDemocracyCancelled,
		KindDemocracyExecuted,
		KindTreasuryProposed,
		KindTreasuryAwarded,
		KindTreasuryRejected,
	},
}

var networkByKind = func() map[EventKind]Network {
	m := make(map[EventKind]Network)
	for network, kinds := range kindsByNetwork {
		for _, k := range kinds {
			m[k] = network
		}
	}
	return m
}()

// KindsOf returns the event kinds of a network family.
func KindsOf(n Network) []EventKind {
	kinds := kindsByNetwork[n]
	out := make([]EventKind, len(kinds))
	copy(out, kinds)
	return out
}

// Network returns the family a kind belongs to.
func (k EventKind) Network() (Network, bool) {
	n, ok := networkByKind[k]
	return n, ok
}

func (k EventKind) String() string { return string(k) }

// KindSet is a lookup set of kinds, used for exclusion lists.
type KindSet map[EventKind]struct{}

// NewKindSet builds a set from a list of kinds.
func NewKindSet(kinds ...EventKind) KindSet {
	s := make(KindSet, len(kinds))
	for _, k := range kinds {
		s[k] = struct{}{}
	}
	return s
}

// Has reports whether k is in the set. A nil set contains nothing.
func (s KindSet) Has(k EventKind) bool {
	_, ok := s[k]
	return ok
}
