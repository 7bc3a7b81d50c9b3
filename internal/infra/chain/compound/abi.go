package compound

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/chainevents/internal/core/domain"
	"github.com/vietddude/chainevents/internal/infra/chain"
)

const governorBravoABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "uint256", "name": "id", "type": "uint256"},
      {"indexed": false, "internalType": "address", "name": "proposer", "type": "address"},
      {"indexed": false, "internalType": "address[]", "name": "targets", "type": "address[]"},
      {"indexed": false, "internalType": "uint256[]", "name": "values", "type": "uint256[]"},
      {"indexed": false, "internalType": "string[]", "name": "signatures", "type": "string[]"},
      {"indexed": false, "internalType": "bytes[]", "name": "calldatas", "type": "bytes[]"},
      {"indexed": false, "internalType": "uint256", "name": "startBlock", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "endBlock", "type": "uint256"},
      {"indexed": false, "internalType": "string", "name": "description", "type": "string"}
    ],
    "name": "ProposalCreated",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "voter", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "proposalId", "type": "uint256"},
      {"indexed": false, "internalType": "uint8", "name": "support", "type": "uint8"},
      {"indexed": false, "internalType": "uint256", "name": "votes", "type": "uint256"},
      {"indexed": false, "internalType": "string", "name": "reason", "type": "string"}
    ],
    "name": "VoteCast",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "uint256", "name": "id", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "eta", "type": "uint256"}
    ],
    "name": "ProposalQueued",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [{"indexed": false, "internalType": "uint256", "name": "id", "type": "uint256"}],
    "name": "ProposalExecuted",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [{"indexed": false, "internalType": "uint256", "name": "id", "type": "uint256"}],
    "name": "ProposalCanceled",
    "type": "event"
  },
  {
    "inputs": [],
    "name": "proposalCount",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "votingDelay",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "name": "proposals",
    "outputs": [
      {"internalType": "uint256", "name": "id", "type": "uint256"},
      {"internalType": "address", "name": "proposer", "type": "address"},
      {"internalType": "uint256", "name": "eta", "type": "uint256"},
      {"internalType": "uint256", "name": "startBlock", "type": "uint256"},
      {"internalType": "uint256", "name": "endBlock", "type": "uint256"},
      {"internalType": "uint256", "name": "forVotes", "type": "uint256"},
      {"internalType": "uint256", "name": "againstVotes", "type": "uint256"},
      {"internalType": "uint256", "name": "abstainVotes", "type": "uint256"},
      {"internalType": "bool", "name": "canceled", "type": "bool"},
      {"internalType": "bool", "name": "executed", "type": "bool"}
    ],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [{"internalType": "uint256", "name": "proposalId", "type": "uint256"}],
    "name": "state",
    "outputs": [{"internalType": "enum GovernorBravoDelegateStorageV1.ProposalState", "name": "", "type": "uint8"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [{"internalType": "uint256", "name": "proposalId", "type": "uint256"}],
    "name": "getActions",
    "outputs": [
      {"internalType": "address[]", "name": "targets", "type": "address[]"},
      {"internalType": "uint256[]", "name": "values", "type": "uint256[]"},
      {"internalType": "string[]", "name": "signatures", "type": "string[]"},
      {"internalType": "bytes[]", "name": "calldatas", "type": "bytes[]"}
    ],
    "stateMutability": "view",
    "type": "function"
  }
]`

var (
	governorABI     abi.ABI
	governorABIOnce sync.Once
	governorABIErr  error
)

// GovernorABI returns the parsed GovernorBravo ABI.
func GovernorABI() (abi.ABI, error) {
	governorABIOnce.Do(func() {
		governorABI, governorABIErr = abi.JSON(strings.NewReader(governorBravoABIJSON))
	})
	return governorABI, governorABIErr
}

var eventKinds = map[string]domain.EventKind{
	"ProposalCreated":  domain.KindProposalCreated,
	"VoteCast":         domain.KindVoteCast,
	"ProposalQueued":   domain.KindProposalQueued,
	"ProposalExecuted": domain.KindProposalExecuted,
	"ProposalCanceled": domain.KindProposalCanceled,
}

// Topics returns topic0 for every tracked governor event.
func Topics() ([]common.Hash, error) {
	parsed, err := GovernorABI()
	if err != nil {
		return nil, err
	}
	out := make([]common.Hash, 0, len(eventKinds))
	for name := range eventKinds {
		out = append(out, parsed.Events[name].ID)
	}
	return out, nil
}

// Parser maps governor topic0 values to kinds.
func Parser() (chain.TypeParser, error) {
	parsed, err := GovernorABI()
	if err != nil {
		return nil, err
	}
	byTopic := make(map[string]domain.EventKind, len(eventKinds))
	for name, kind := range eventKinds {
		byTopic[parsed.Events[name].ID.Hex()] = kind
	}
	return func(typeID string) (domain.EventKind, bool) {
		k, ok := byTopic[typeID]
		return k, ok
	}, nil
}
