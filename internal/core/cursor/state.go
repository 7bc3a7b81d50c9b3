package cursor

import (
	"errors"
	"slices"
	"time"
)

// State is where a chain listener sits in its lifecycle.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitialized   State = "initialized"
	StateSubscribed    State = "subscribed"
	StateUnsubscribed  State = "unsubscribed"
)

var ErrInvalidTransition = errors.New("invalid state transition")

// edges lists the states reachable from each state. Returning to
// StateUninitialized tears the connection down for a reconfiguration.
var edges = map[State][]State{
	StateUninitialized: {StateInitialized},
	StateInitialized:   {StateSubscribed, StateUninitialized},
	StateSubscribed:    {StateUnsubscribed},
	StateUnsubscribed:  {StateSubscribed, StateUninitialized},
}

var descriptions = map[State]string{
	StateUninitialized: "Uninitialized - no adapter connection",
	StateInitialized:   "Initialized - connected, processor and subscriber built",
	StateSubscribed:    "Subscribed - receiving live blocks",
	StateUnsubscribed:  "Unsubscribed - live stream stopped, connection kept",
}

func CanTransition(from, to State) bool {
	return slices.Contains(edges[from], to)
}

// Transition records one state change.
type Transition struct {
	From      State
	To        State
	Reason    string
	Timestamp time.Time
}

func NewTransition(from, to State, reason string) Transition {
	return Transition{From: from, To: to, Reason: reason, Timestamp: time.Now()}
}

// StateDescription is the operator-facing text for s.
func StateDescription(s State) string {
	if d, ok := descriptions[s]; ok {
		return d
	}
	return "Unknown state"
}
