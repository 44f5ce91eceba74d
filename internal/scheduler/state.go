package scheduler

import "fmt"

// State is the scheduling state of one subscriber.
//
//	NO_JOB ──► ACTIVE ◄──► PAUSED
//	   ▲          │           │
//	   └──────────┴───────────┘   (cancel)
//
// NO_JOB may also move straight to PAUSED when a paused subscriber is
// restored on boot.
type State string

const (
	StateNoJob  State = "NO_JOB"
	StateActive State = "ACTIVE"
	StatePaused State = "PAUSED"
)

// validTransitions lists every allowed (from → to) pair.
var validTransitions = map[State][]State{
	StateNoJob:  {StateActive, StatePaused},
	StateActive: {StatePaused, StateNoJob},
	StatePaused: {StateActive, StateNoJob},
}

// ParseState converts a raw string to a State.
func ParseState(s string) (State, error) {
	st := State(s)
	switch st {
	case StateNoJob, StateActive, StatePaused:
		return st, nil
	}
	return "", fmt.Errorf("unknown scheduling state %q", s)
}

// IsTransitionAllowed returns true when moving from → to is permitted.
// Self-transitions never are.
func IsTransitionAllowed(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
