package hyperlog

import (
	"errors"
	"testing"
)

func TestWrapErrIsAndUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := wrapErr(ErrStorage, cause)

	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected errors.Is(err, ErrStorage) to match")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to reach the wrapped cause via Unwrap")
	}
	if errors.Unwrap(err) != cause {
		t.Fatalf("errors.Unwrap(err) = %v, want %v", errors.Unwrap(err), cause)
	}
}

func TestWrapErrNilCause(t *testing.T) {
	if err := wrapErr(ErrStorage, nil); err != nil {
		t.Fatalf("wrapErr with nil cause = %v, want nil", err)
	}
}
