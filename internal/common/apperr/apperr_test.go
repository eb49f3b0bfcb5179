package apperr

import (
	"errors"
	"testing"
)

func TestNewAssignsCorrelationIDOnlyForInternal(t *testing.T) {
	internal := New(KindInternal, "boom")
	if internal.CorrelationID == "" {
		t.Fatal("expected Internal error to carry a correlation id")
	}

	notFound := New(KindNotFound, "missing")
	if notFound.CorrelationID != "" {
		t.Fatal("expected non-Internal error to have no correlation id")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	wrapped := Wrap(KindInternal, "store write failed", cause)

	if !errors.Is(wrapped, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
}

func TestOfAndIs(t *testing.T) {
	err := error(Conflict("duplicate session %q", "L1"))

	e, ok := Of(err)
	if !ok || e.Kind != KindConflict {
		t.Fatalf("expected Of to extract a Conflict error, got %v", e)
	}

	if !Is(err, KindConflict) {
		t.Fatal("expected Is(err, KindConflict) to be true")
	}
	if Is(err, KindNotFound) {
		t.Fatal("expected Is(err, KindNotFound) to be false")
	}
}

func TestIsFalseForPlainError(t *testing.T) {
	if Is(errors.New("plain"), KindInternal) {
		t.Fatal("plain errors must never match a Kind")
	}
}
