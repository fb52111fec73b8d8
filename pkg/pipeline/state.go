package pipeline

// State of a pipeline run.
type State string

const (
	StateCreated           State = "created"
	StateQuoting           State = "quoting"
	StateAwaitingSignature State = "awaiting_signature"
	StateSubmitted         State = "submitted"
	StateBridging          State = "bridging"
	StateConfirmed         State = "confirmed"
	StateFailed            State = "failed"
)

// transitions is the full transition table. Terminal states have no exits;
// a failed run is never resumed, retries create a new intent.
var transitions = map[State][]State{
	StateCreated:           {StateQuoting},
	StateQuoting:           {StateAwaitingSignature, StateFailed},
	StateAwaitingSignature: {StateSubmitted, StateFailed},
	StateSubmitted:         {StateBridging, StateConfirmed, StateFailed},
	StateBridging:          {StateConfirmed, StateFailed},
	StateConfirmed:         {},
	StateFailed:            {},
}

// Terminal reports whether no further transition can leave the state.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether s -> to is a defined transition.
func (s State) CanTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}
