package errors

import (
	"errors"
	"testing"
)

func TestEAndKindOf(t *testing.T) {
	err := E(FailedPrecondition, "bad options")
	if KindOf(err) != FailedPrecondition {
		t.Errorf("KindOf() = %v, want %v", KindOf(err), FailedPrecondition)
	}
	if !Is(err, FailedPrecondition) {
		t.Error("expected Is(err, FailedPrecondition) to be true")
	}
	if Is(err, NotFound) {
		t.Error("expected Is(err, NotFound) to be false")
	}
}

func TestKindOfUnclassifiedError(t *testing.T) {
	plain := errors.New("boom")
	if KindOf(plain) != Unspecified {
		t.Errorf("KindOf(plain error) = %v, want Unspecified", KindOf(plain))
	}
}

func TestErrorWrapsAndUnwraps(t *testing.T) {
	wrapped := errors.New("connection reset")
	err := E(Unavailable, "move to active", wrapped)

	var e *Error
	if !errors.As(err, &e) {
		t.Fatal("expected errors.As to find the *Error")
	}
	if e.Kind != Unavailable {
		t.Errorf("Kind = %v, want Unavailable", e.Kind)
	}
	if !errors.Is(err, wrapped) {
		t.Error("expected errors.Is to see through to the wrapped error")
	}
	if got := err.Error(); got != "move to active: connection reset" {
		t.Errorf("Error() = %q, want %q", got, "move to active: connection reset")
	}
}

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{FailedPrecondition, "failed_precondition"},
		{NotFound, "not_found"},
		{AlreadyExists, "already_exists"},
		{Internal, "internal"},
		{Unavailable, "unavailable"},
		{LockLost, "lock_lost"},
		{Unspecified, "unspecified"},
	}
	for _, tt := range tests {
		if have := tt.kind.String(); have != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, have, tt.want)
		}
	}
}

func TestCanonicalCode(t *testing.T) {
	tests := []struct {
		code int64
		want Kind
	}{
		{0, Unspecified},
		{-1, NotFound},
		{-2, FailedPrecondition},
		{-3, LockLost},
		{-6, NotFound},
		{-99, Internal},
	}
	for _, tt := range tests {
		if have := CanonicalCode(tt.code); have != tt.want {
			t.Errorf("CanonicalCode(%d) = %v, want %v", tt.code, have, tt.want)
		}
	}
}
