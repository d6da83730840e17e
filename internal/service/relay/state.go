package relay

import "fmt"

// State is a session lifecycle state.
type State int

const (
	StateNew State = iota
	StateAIConnecting
	StateReady
	StateStreaming
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateAIConnecting:
		return "AI_CONNECTING"
	case StateReady:
		return "READY"
	case StateStreaming:
		return "STREAMING"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var validTransitions = map[State][]State{
	StateNew:          {StateAIConnecting, StateClosing},
	StateAIConnecting: {StateReady, StateClosing},
	StateReady:        {StateStreaming, StateClosing},
	StateStreaming:    {StateReady, StateClosing},
	StateClosing:      {StateClosed},
}

// InvalidTransitionError reports a transition the lifecycle does not allow.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid session transition from " + e.From.String() + " to " + e.To.String()
}

// Lifecycle tracks one session's state. Owned by the session loop; not
// synchronised.
type Lifecycle struct {
	current State
}

// Current returns the current state.
func (l *Lifecycle) Current() State {
	return l.current
}

// Transition moves to next when the table allows it.
func (l *Lifecycle) Transition(next State) error {
	for _, allowed := range validTransitions[l.current] {
		if allowed == next {
			l.current = next
			return nil
		}
	}
	return &InvalidTransitionError{From: l.current, To: next}
}

// Live reports whether the session accepts upstream traffic.
func (l *Lifecycle) Live() bool {
	return l.current == StateReady || l.current == StateStreaming
}

// Ending reports CLOSING or CLOSED.
func (l *Lifecycle) Ending() bool {
	return l.current == StateClosing || l.current == StateClosed
}
