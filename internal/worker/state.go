// Package worker implements the per-worker execution circuit: the state
// machine every teammate drives its task through, from discovery to
// completion signaling.
package worker

// State is a stage of the worker execution circuit.
type State int

const (
	Discovery       State = iota // Claiming a task
	LocalValidation              // External build/validation check on the worker's output
	GuardCheck                   // Forbidden-pattern policy scan
	InvariantCheck               // Real-implementation-or-explicit-not-supported check
	Completed                    // Terminal success
	Failed                       // Terminal failure, reachable from any non-terminal state
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Discovery:
		return "discovery"
	case LocalValidation:
		return "local_validation"
	case GuardCheck:
		return "guard_check"
	case InvariantCheck:
		return "invariant_check"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends the circuit.
func (s State) Terminal() bool {
	return s == Completed || s == Failed
}

// ParseState maps a state name back to its State, used when resuming from a
// persisted checkpoint. Unknown names restart at Discovery.
func ParseState(name string) State {
	switch name {
	case "local_validation":
		return LocalValidation
	case "guard_check":
		return GuardCheck
	case "invariant_check":
		return InvariantCheck
	case "completed":
		return Completed
	case "failed":
		return Failed
	default:
		return Discovery
	}
}
