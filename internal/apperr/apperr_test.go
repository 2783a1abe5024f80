package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestStoreErrorUnwraps(t *testing.T) {
	err := fmt.Errorf("tick: %w", Store("update triggered", context.Canceled))
	if !IsStore(err) {
		t.Fatal("expected StoreError to be detected through wrapping")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatal("StoreError should unwrap to its cause")
	}
	if Store("noop", nil) != nil {
		t.Fatal("Store(nil) should return nil")
	}
}

func TestValidationMessage(t *testing.T) {
	err := Validation("", "Invalid email address")
	if err.Error() != "Invalid email address" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if IsUpstream(err) || !IsValidation(err) {
		t.Fatal("classification mismatch")
	}
}

func TestUpstreamErrorIncludesStatus(t *testing.T) {
	err := &UpstreamError{Source: "price_feed", Status: 503, Err: errors.New("unavailable")}
	if got := err.Error(); got != "price_feed upstream error (503): unavailable" {
		t.Fatalf("unexpected message %q", got)
	}
}
