package partition

import "github.com/relicstore/ibis/core/errorsx"

// State is one node of the partition mutation state machine (spec §4.6).
type State int

const (
	Stable State = iota
	Receiving
	Pretransition
	Transition
	Posttransition
	Unknown
)

func (s State) String() string {
	switch s {
	case Stable:
		return "STABLE"
	case Receiving:
		return "RECEIVING"
	case Pretransition:
		return "PRETRANSITION"
	case Transition:
		return "TRANSITION"
	case Posttransition:
		return "POSTTRANSITION"
	case Unknown:
		return "UNKNOWN"
	default:
		return "INVALID"
	}
}

// transitions enumerates the legal edges of the state machine. Any edge
// not listed here is a StateViolation.
var transitions = map[State]map[State]bool{
	Stable:         {Receiving: true},
	Receiving:      {Pretransition: true, Stable: true, Unknown: true}, // Stable: append1/purge finish in one directory, no Transition phase
	Pretransition:  {Transition: true, Unknown: true},
	Transition:     {Posttransition: true, Stable: true, Unknown: true}, // Stable via rollback
	Posttransition: {Stable: true, Unknown: true},
	Unknown:        {Stable: true},
}

// requireTransition validates that from -> to is a legal edge, returning
// StateViolation otherwise. Callers hold p.mu for the duration of the
// attempted mutation.
func requireTransition(from, to State) error {
	if transitions[from][to] {
		return nil
	}
	return errorsx.NewStateViolation(to.String(), from.String())
}
