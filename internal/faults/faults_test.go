package faults

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindMatchesThroughWrapping(t *testing.T) {
	base := Validation("trim clip", "duration %.2fs below minimum", 0.05)
	wrapped := fmt.Errorf("apply command 2: %w", base)

	if !errors.Is(wrapped, ErrValidation) {
		t.Fatal("expected wrapped error to match ErrValidation")
	}
	if errors.Is(wrapped, ErrCompilation) {
		t.Fatal("validation error must not match ErrCompilation")
	}
	if KindOf(wrapped) != ErrValidation {
		t.Errorf("KindOf = %v", KindOf(wrapped))
	}
}

func TestErrorMessage(t *testing.T) {
	err := Compilation("overlay track", "geometry is not a number")
	if got, want := err.Error(), "overlay track: geometry is not a number"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	cause := errors.New("exit status 1")
	wrapped := Wrap(ErrExecution, "ffmpeg", cause)
	if !errors.Is(wrapped, cause) {
		t.Error("Wrap should keep the cause reachable")
	}
	if got, want := wrapped.Error(), "ffmpeg: exit status 1"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if Wrap(ErrExecution, "ffmpeg", nil) != nil {
		t.Error("Wrap(nil) should be nil")
	}
}
