package controller

// State is the interaction state.
type State int

const (
	Idle State = iota
	Highlighting
	Capturing
	Composing
	Submitting
	Success
	Error
)

var stateNames = [...]string{"idle", "highlighting", "capturing", "composing", "submitting", "success", "error"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}
