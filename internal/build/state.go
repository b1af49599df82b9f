package build

// State is a step of a build pass.
type State int

const (
	StateIdle State = iota
	StateJoining
	StateMinifying
	StateTesting
	StateDocumenting
	StateAborted
)

// String returns the string representation of the State
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateJoining:
		return "joining"
	case StateMinifying:
		return "minifying"
	case StateTesting:
		return "testing"
	case StateDocumenting:
		return "documenting"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Terminal reports whether a pass in state s has finished.
func (s State) Terminal() bool {
	return s == StateIdle || s == StateAborted
}
