package errors

import (
	"fmt"
	"testing"
)

func TestWrapKeepsSentinel(t *testing.T) {
	err := Wrap(fmt.Errorf("%w: line 2", ErrInvalidTransition), "apply status")
	if !Is(err, ErrInvalidTransition) {
		t.Fatalf("expected wrapped error to match sentinel, got %v", err)
	}
	if Is(err, ErrNeedsSetup) {
		t.Fatalf("unexpected match against unrelated sentinel")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "noop") != nil {
		t.Fatalf("expected nil")
	}
}
