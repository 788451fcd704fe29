package intercept

import "fmt"

// State of one intercepted call.
type State string

const (
	StateInvoking   State = "invoking"   // target is being called with the current arguments
	StateFailed     State = "failed"     // target failed, a session is open
	StateResuming   State = "resuming"   // operator supplied new arguments
	StateTerminated State = "terminated" // call returned, by success, skip or quit
)

// validTransitions maps from-state to allowed to-states
var validTransitions = map[State]map[State]bool{
	StateInvoking: {
		StateTerminated: true, // Invoking → Terminated (target succeeded)
		StateFailed:     true, // Invoking → Failed (error or panic)
	},
	StateFailed: {
		StateResuming:   true, // Failed → Resuming (resume or alias)
		StateTerminated: true, // Failed → Terminated (skip, quit or end of input)
	},
	StateResuming: {
		StateInvoking: true, // Resuming → Invoking (arguments replaced)
	},
	// Terminal state (no transitions allowed)
	StateTerminated: {},
}

// ValidateTransition checks if a state transition is valid
func ValidateTransition(from, to State) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source state: %s", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminalState reports whether no further transitions are possible.
func IsTerminalState(s State) bool {
	return s == StateTerminated
}
