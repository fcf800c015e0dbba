package apperror

import (
	"errors"
	"testing"
)

func TestServiceErrorMatchesKindAndCause(t *testing.T) {
	cause := errors.New("disk full")
	err := New("notes.update", "save_failed", ErrPersistence, cause)

	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected error to match its kind")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected error to match its cause")
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("did not expect error to match an unrelated kind")
	}
	if CodeOf(err) != "notes.update.save_failed" {
		t.Fatalf("unexpected code %q", CodeOf(err))
	}
	if err.Error() != "notes.update.save_failed: disk full" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestServiceErrorWithoutCause(t *testing.T) {
	err := New("notes.get", "not_found", ErrNotFound, nil)
	if err.Error() != "notes.get.not_found" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected kind to match")
	}
}

func TestConflictErrorWrappedByServiceError(t *testing.T) {
	conflict := &ConflictError{Field: "symbol", Value: "H"}
	err := New("chemistry.update_atom", "conflict", ErrConflict, conflict)

	var target *ConflictError
	if !errors.As(err, &target) {
		t.Fatalf("expected conflict details to be reachable")
	}
	if target.Field != "symbol" || target.Value != "H" {
		t.Fatalf("unexpected conflict details %#v", target)
	}
	if conflict.Error() != "symbol 'H' already exists" {
		t.Fatalf("unexpected conflict message %q", conflict.Error())
	}
	if CodeOf(errors.New("plain")) != "" {
		t.Fatalf("plain errors should not carry a code")
	}
}

func TestWrapKeepsKind(t *testing.T) {
	inner := New("patch.apply", "conflict", ErrConflict, &ConflictError{Field: "symbol", Value: "C"})
	err := Wrap("chemistry.update_atom", "apply_failed", inner)

	if CodeOf(err) != "chemistry.update_atom.apply_failed" {
		t.Fatalf("unexpected code %q", CodeOf(err))
	}
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Kind() != ErrConflict {
		t.Fatalf("expected wrapped error to keep the conflict kind")
	}

	plain := Wrap("notes.list", "query_failed", errors.New("boom"))
	if !errors.As(plain, &serviceErr) || serviceErr.Kind() != nil {
		t.Fatalf("expected unclassified kind for plain causes")
	}
}

func TestDetailSkipsServiceCodes(t *testing.T) {
	conflict := Wrap("chemistry.atoms.update", "apply_failed",
		New("patch.apply", "conflict", ErrConflict, &ConflictError{Field: "symbol", Value: "O"}))
	if got := Detail(conflict); got != "symbol 'O' already exists" {
		t.Fatalf("unexpected conflict detail %q", got)
	}

	missing := New("notes.get", "not_found", ErrNotFound, nil)
	if got := Detail(missing); got != "not found" {
		t.Fatalf("unexpected not found detail %q", got)
	}

	if got := Detail(errors.New("plain")); got != "plain" {
		t.Fatalf("unexpected plain detail %q", got)
	}
	if got := Detail(nil); got != "" {
		t.Fatalf("expected empty detail for nil, got %q", got)
	}
}
