package errors

import (
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap"
)

func TestAppErrorMessage(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := NewTransferError("download interrupted", cause)

	want := "transfer: download interrupted (caused by: connection reset)"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	noCause := NewValidationError("file too small")
	want = "validation: file too small"
	if noCause.Error() != want {
		t.Errorf("Error() = %q, want %q", noCause.Error(), want)
	}
}

func TestUnwrap(t *testing.T) {
	cause := fmt.Errorf("dns failure")
	err := NewResolutionError("could not resolve track", cause)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"resolution", NewResolutionError("expired", nil), true},
		{"transfer", NewTransferError("timeout", nil), true},
		{"validation", NewValidationError("truncated"), true},
		{"storage", NewStorageError("rename failed", nil), true},
		{"not found", NewNotFoundError("no such task"), false},
		{"plain error", fmt.Errorf("plain"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetErrorType(t *testing.T) {
	if got := GetErrorType(NewStorageError("disk full", nil)); got != ErrTypeStorage {
		t.Errorf("GetErrorType() = %v, want %v", got, ErrTypeStorage)
	}
	if got := GetErrorType(fmt.Errorf("plain")); got != ErrTypeUnknown {
		t.Errorf("GetErrorType() = %v, want %v", got, ErrTypeUnknown)
	}
}

func TestTypePredicates(t *testing.T) {
	if !IsResolutionError(NewResolutionError("x", nil)) {
		t.Error("IsResolutionError should be true for resolution errors")
	}
	if IsResolutionError(NewTransferError("x", nil)) {
		t.Error("IsResolutionError should be false for transfer errors")
	}
	if !IsValidationError(NewValidationError("x")) {
		t.Error("IsValidationError should be true for validation errors")
	}
	if !IsNotFoundError(NewNotFoundError("x")) {
		t.Error("IsNotFoundError should be true for not found errors")
	}
}

func TestSafeGoRecoversPanic(t *testing.T) {
	done := make(chan struct{})
	SafeGo(zap.NewNop(), "test", func() {
		defer close(done)
		panic("boom")
	})
	<-done
	// Reaching here means the panic did not propagate.
}
