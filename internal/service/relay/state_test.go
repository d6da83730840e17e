package relay

import (
	"errors"
	"testing"
)

func TestLifecycleTransitions(t *testing.T) {
	tests := []struct {
		name  string
		path  []State
		next  State
		valid bool
	}{
		{name: "connect", next: StateAIConnecting, valid: true},
		{name: "close before init", next: StateClosing, valid: true},
		{name: "skip connecting", next: StateReady},
		{name: "ready", path: []State{StateAIConnecting}, next: StateReady, valid: true},
		{name: "connect failure", path: []State{StateAIConnecting}, next: StateClosing, valid: true},
		{name: "stream", path: []State{StateAIConnecting, StateReady}, next: StateStreaming, valid: true},
		{name: "back to ready", path: []State{StateAIConnecting, StateReady, StateStreaming}, next: StateReady, valid: true},
		{name: "close while streaming", path: []State{StateAIConnecting, StateReady, StateStreaming}, next: StateClosing, valid: true},
		{name: "closed", path: []State{StateClosing}, next: StateClosed, valid: true},
		{name: "no reopen", path: []State{StateClosing}, next: StateReady},
		{name: "closed is terminal", path: []State{StateClosing, StateClosed}, next: StateClosing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var l Lifecycle
			for _, s := range tt.path {
				if err := l.Transition(s); err != nil {
					t.Fatalf("setup transition to %s: %v", s, err)
				}
			}
			from := l.Current()
			err := l.Transition(tt.next)
			if tt.valid {
				if err != nil || l.Current() != tt.next {
					t.Fatalf("expected %s -> %s to succeed, err=%v", from, tt.next, err)
				}
				return
			}
			var invalid *InvalidTransitionError
			if !errors.As(err, &invalid) {
				t.Fatalf("expected InvalidTransitionError, got %v", err)
			}
			if invalid.From != from || invalid.To != tt.next || l.Current() != from {
				t.Fatalf("rejected transition must leave state at %s, got %s", from, l.Current())
			}
		})
	}
}

func TestLifecycleHelpers(t *testing.T) {
	var l Lifecycle
	if l.Live() || l.Ending() {
		t.Fatal("NEW is neither live nor ending")
	}
	_ = l.Transition(StateAIConnecting)
	_ = l.Transition(StateReady)
	if !l.Live() {
		t.Fatal("READY is live")
	}
	_ = l.Transition(StateClosing)
	if l.Live() || !l.Ending() {
		t.Fatal("CLOSING is ending")
	}
	if StateStreaming.String() != "STREAMING" || State(42).String() != "State(42)" {
		t.Fatal("unexpected state names")
	}
}
