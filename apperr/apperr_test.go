package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfTypedError(t *testing.T) {
	err := NotFoundf("village %s not found", "abc")
	if KindOf(err) != NotFound {
		t.Fatalf("KindOf = %v, want NotFound", KindOf(err))
	}
}

func TestKindOfDefaultsToInternalForUntypedErrors(t *testing.T) {
	if KindOf(errors.New("boom")) != Internal {
		t.Fatalf("KindOf(plain error) should default to Internal")
	}
}

func TestWrapPreservesUnderlyingError(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(Internal, "db query failed", cause)

	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find the wrapped cause")
	}
	if KindOf(err) != Internal {
		t.Fatalf("KindOf(wrapped) = %v, want Internal", KindOf(err))
	}
}

func TestKindOfPropagatesThroughWrappingFmtErrorf(t *testing.T) {
	// errors.As must see through a bare fmt.Errorf %w wrap too.
	inner := ForbiddenI()
	wrapped := fmt.Errorf("handler: %w", inner)
	if KindOf(wrapped) != Forbidden {
		t.Fatalf("KindOf(wrapped fmt.Errorf) = %v, want Forbidden", KindOf(wrapped))
	}
}

func ForbiddenI() error { return Forbiddenf("nope") }

func errorsWrap(err error) error {
	return &wrapper{err}
}

type wrapper struct{ err error }

func (w *wrapper) Error() string { return "wrapped: " + w.err.Error() }
func (w *wrapper) Unwrap() error { return w.err }
