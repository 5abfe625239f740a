package records

import (
	"errors"
	"testing"
)

func TestValidateBatch(t *testing.T) {
	if err := validateBatch(MaxBatchItems); err != nil {
		t.Fatalf("batch of %d should pass: %v", MaxBatchItems, err)
	}
	err := validateBatch(MaxBatchItems + 1)
	if err == nil {
		t.Fatal("oversized batch should be rejected")
	}
	if !errors.Is(err, ErrBatchTooLarge) {
		t.Fatalf("expected ErrBatchTooLarge, got %v", err)
	}
}

func TestNewRequiresAStore(t *testing.T) {
	if _, err := New(nil, Config{}, nil); err == nil {
		t.Fatal("empty config should be rejected")
	}
}
