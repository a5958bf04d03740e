package browser

import (
	"errors"
	"fmt"
)

// State is the connection state of a Backend.
type State int

const (
	Unbound State = iota
	Bootstrapping
	Bound
	Closed
)

func (s State) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case Bootstrapping:
		return "bootstrapping"
	case Bound:
		return "bound"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrInvalidTransition is returned for a state change the table does not allow.
var ErrInvalidTransition = errors.New("invalid state transition")

// Closed is terminal; everything else may close.
var transitions = map[State][]State{
	Unbound:       {Bootstrapping, Closed},
	Bootstrapping: {Bound, Unbound, Closed},
	Bound:         {Bootstrapping, Unbound, Closed},
	Closed:        nil,
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
