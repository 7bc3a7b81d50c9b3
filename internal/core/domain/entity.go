package domain

import "strconv"

// EntityKind names the long-lived on-chain object an event belongs to.
type EntityKind string

const (
	EntityGovernorProposal    EntityKind = "governor-proposal"
	EntityGovProposal         EntityKind = "gov-proposal"
	EntityDemocracyProposal   EntityKind = "democracy-proposal"
	EntityDemocracyReferendum EntityKind = "democracy-referendum"
	EntityTreasuryProposal    EntityKind = "treasury-proposal"
)

// EntityEventKind is what an event does to its entity.
type EntityEventKind string

const (
	EntityCreate   EntityEventKind = "create"
	EntityUpdate   EntityEventKind = "update"
	EntityVote     EntityEventKind = "vote"
	EntityComplete EntityEventKind = "complete"
)

// EntityRef points an event at its entity.
type EntityRef struct {
	Kind  EntityKind
	ID    string
	Event EntityEventKind
}

// EntityOf maps event data to the entity it touches. Events without an entity
// (transfers, approvals) return false.
func EntityOf(data EventData) (EntityRef, bool) {
	ref := func(kind EntityKind, id uint64, ev EntityEventKind) (EntityRef, bool) {
		return EntityRef{Kind: kind, ID: strconv.FormatUint(id, 10), Event: ev}, true
	}

	switch d := data.(type) {
	case ProposalCreated:
		return ref(EntityGovernorProposal, d.ID, EntityCreate)
	case VoteCast:
		return ref(EntityGovernorProposal, d.ID, EntityVote)
	case ProposalQueued:
		return ref(EntityGovernorProposal, d.ID, EntityUpdate)
	case ProposalExecuted:
		return ref(EntityGovernorProposal, d.ID, EntityComplete)
	case ProposalCanceled:
		return ref(EntityGovernorProposal, d.ID, EntityComplete)

	case SubmitProposal:
		return ref(EntityGovProposal, d.ID, EntityCreate)
	case Deposit:
		return ref(EntityGovProposal, d.ID, EntityUpdate)
	case Vote:
		return ref(EntityGovProposal, d.ID, EntityVote)
	case ProposalFinalized:
		return ref(EntityGovProposal, d.ID, EntityComplete)

	case DemocracyProposed:
		return ref(EntityDemocracyProposal, d.ProposalIndex, EntityCreate)
	case DemocracySeconded:
		return ref(EntityDemocracyProposal, d.ProposalIndex, EntityUpdate)
	case DemocracyStarted:
		return ref(EntityDemocracyReferendum, d.ReferendumIndex, EntityCreate)
	case DemocracyVoted:
		return ref(EntityDemocracyReferendum, d.ReferendumIndex, EntityVote)
	case DemocracyPassed:
		return ref(EntityDemocracyReferendum, d.ReferendumIndex, EntityUpdate)
	case DemocracyNotPassed:
		return ref(EntityDemocracyReferendum, d.ReferendumIndex, EntityComplete)
	case DemocracyCancelled:
		return ref(EntityDemocracyReferendum, d.ReferendumIndex, EntityComplete)
	case DemocracyExecuted:
		return ref(EntityDemocracyReferendum, d.ReferendumIndex, EntityComplete)
	case TreasuryProposed:
		return ref(EntityTreasuryProposal, d.ProposalIndex, EntityCreate)
	case TreasuryAwarded:
		return ref(EntityTreasuryProposal, d.ProposalIndex, EntityComplete)
	case TreasuryRejected:
		return ref(EntityTreasuryProposal, d.ProposalIndex, EntityComplete)
	}
	return EntityRef{}, false
}
