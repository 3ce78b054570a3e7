package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestInvalidTradeError_Error(t *testing.T) {
	err := &InvalidTradeError{Message: "maturity date cannot be in the past"}
	if err.Error() != "maturity date cannot be in the past" {
		t.Errorf("Error() = %q, want %q", err.Error(), "maturity date cannot be in the past")
	}
}

func TestInvalidTradeError_As(t *testing.T) {
	wrapped := fmt.Errorf("submit: %w", &InvalidTradeError{Message: "stale"})

	var invalid *InvalidTradeError
	if !errors.As(wrapped, &invalid) {
		t.Fatal("errors.As should find *InvalidTradeError")
	}
	if invalid.Message != "stale" {
		t.Errorf("Message = %q, want %q", invalid.Message, "stale")
	}
}

func TestStoreError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := &StoreError{Op: "upsert", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("StoreError should unwrap to its cause")
	}
	if err.Error() != "trade store upsert: connection refused" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestSentinelErrors_AreDistinct(t *testing.T) {
	if errors.Is(ErrTradeNotFound, ErrStaleVersion) {
		t.Error("ErrTradeNotFound and ErrStaleVersion should be distinct")
	}
}
