package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorTaxonomyMatchesSentinels(t *testing.T) {
	wrapped := fmt.Errorf("create manipulator: %w", Required("title"))
	if !errors.Is(wrapped, ErrValidation) || errors.Is(wrapped, ErrNotFound) {
		t.Fatalf("validation error should match ErrValidation only")
	}
	if wrapped.Error() != "create manipulator: title is required" {
		t.Fatalf("unexpected message %q", wrapped.Error())
	}
	var ve ValidationError
	if !errors.As(wrapped, &ve) || ve.Field != "title" {
		t.Fatalf("expected ValidationError for title, got %#v", ve)
	}

	nf := NotFoundError{Entity: "group", ID: "web"}
	if !errors.Is(nf, ErrNotFound) || nf.Error() != "group web not found" {
		t.Fatalf("unexpected not-found error %v", nf)
	}
	if msg := (ValidationError{Field: "definition", Message: "invalid JSON"}).Error(); msg != "definition: invalid JSON" {
		t.Fatalf("unexpected message %q", msg)
	}
}
