package errorsx

import (
	"fmt"
	"strings"
	"testing"
)

func TestWrapAndReason(t *testing.T) {
	err := Wrap(assertErr{}, ReasonAIConnect)
	if Reason(err) != ReasonAIConnect {
		t.Fatalf("expected reason %s, got %s", ReasonAIConnect, Reason(err))
	}
	if !HasReason(err, ReasonAIConnect) {
		t.Fatalf("expected HasReason true")
	}
}

func TestWrapPreservesExistingReason(t *testing.T) {
	first := Wrap(assertErr{}, ReasonTTSConnect)
	second := Wrap(fmt.Errorf("dial: %w", first), ReasonAISocket)
	if Reason(second) != ReasonTTSConnect {
		t.Fatalf("expected reason preserved, got %s", Reason(second))
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, ReasonAIConnect) != nil {
		t.Fatal("expected nil")
	}
	if Reason(nil) != ReasonUnknown {
		t.Fatal("expected unknown reason for nil")
	}
}

func TestClientMessageHidesDetails(t *testing.T) {
	err := Wrap(fmt.Errorf("401 Unauthorized: key sk-secret rejected"), ReasonCredentialIssue)
	msg := ClientMessage(err)
	if strings.Contains(msg, "sk-secret") {
		t.Fatalf("client message leaked error detail: %q", msg)
	}
	if msg != clientMessages[ReasonCredentialIssue] {
		t.Fatalf("unexpected message %q", msg)
	}
	if got := ClientMessage(assertErr{}); got != "internal error" {
		t.Fatalf("expected generic message, got %q", got)
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
