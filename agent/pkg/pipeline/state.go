package pipeline

import (
	"fmt"
	"slices"
)

// State is a node of the turn state machine.
type State string

const (
	StateClassify   State = "CLASSIFY"
	StateRetrieve   State = "RETRIEVE"
	StateSelect     State = "SELECT"
	StateSynthesize State = "SYNTHESIZE"
	StateExecute    State = "EXECUTE"
	StateValidate   State = "VALIDATE"
	StateRemediate  State = "REMEDIATE"
	StateRespond    State = "RESPOND"
	StateDone       State = "DONE"
)

// validTransitions is the single source of truth for control flow. Every
// non-terminal state may abort to RESPOND with a terminal failure; DONE is
// reachable from RESPOND only.
var validTransitions = map[State][]State{
	StateClassify:   {StateRetrieve, StateRespond},
	StateRetrieve:   {StateSelect, StateRespond},
	StateSelect:     {StateSynthesize, StateRespond},
	StateSynthesize: {StateExecute, StateValidate, StateRespond},
	StateExecute:    {StateValidate, StateRespond},
	StateValidate:   {StateRemediate, StateRespond},
	StateRemediate:  {StateSelect, StateSynthesize, StateRespond},
	StateRespond:    {StateDone},
	StateDone:       {},
}

// IsValidTransition reports whether from -> to is in the transition table.
func IsValidTransition(from, to State) bool {
	return slices.Contains(validTransitions[from], to)
}

// ValidNextStates returns the states reachable from s.
func ValidNextStates(s State) []State {
	return slices.Clone(validTransitions[s])
}

// IsTerminal reports whether s ends the turn.
func (s State) IsTerminal() bool { return s == StateDone }

type transitionError struct {
	from, to State
}

func (e *transitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.from, e.to)
}
