package amqp

import (
	"errors"
	"testing"
)

func TestWrapfPreservesUnderlyingError(t *testing.T) {
	base := errors.New("boom")
	wrapped := wrapf(base, "while doing %s", "something")
	if wrapped == nil {
		t.Fatalf("expected non-nil wrapped error")
	}
	if !errors.Is(wrapped, base) {
		t.Fatalf("expected wrapped error to unwrap to base error")
	}
}
