package model

import (
	"errors"
	"testing"
)

func TestAPIError_UnwrapsToSentinel(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		status   int
	}{
		{"unreachable", NewUnreachableError("cart API", errors.New("dial tcp: timeout")), ErrUnreachable, 502},
		{"unauthorized", NewUnauthorizedError("session expired"), ErrUnauthorized, 401},
		{"validation", NewValidationError("quantity", "must be positive"), ErrInvalidRequest, 400},
		{"not found", NewNotFoundError("product"), ErrNotFound, 404},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("errors.Is(%v, sentinel) = false", tt.err)
			}
			var apiErr *APIError
			if !errors.As(tt.err, &apiErr) {
				t.Fatalf("errors.As failed for %v", tt.err)
			}
			if apiErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tt.status)
			}
		})
	}
}

func TestAPIError_MessageIncludesCode(t *testing.T) {
	err := NewUnauthorizedError("session expired")
	if got := err.Error(); got == "" || got[:12] != "UNAUTHORIZED" {
		t.Errorf("Error() = %q, want UNAUTHORIZED prefix", got)
	}
}
