package model

import (
	"errors"
	"fmt"
)

// Sentinel errors for the remote failure taxonomy.
// Use errors.Is() to check against these.
var (
	// ErrUnreachable covers network failures, timeouts, and 5xx responses.
	// The caller must roll back any optimistic state.
	ErrUnreachable = errors.New("unreachable")

	// ErrUnauthorized means the session is missing or expired. The caller
	// should downgrade to anonymous behavior rather than surface a hard error.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidRequest means the payload was rejected; retrying the same
	// request blindly will not help.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNotFound marks an unresolvable reference, e.g. a product that no
	// longer exists during hydration.
	ErrNotFound = errors.New("not found")
)

// APIError represents a structured error from a remote call.
// Implements error interface and supports unwrapping to the sentinels.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"` // HTTP status, not serialized
	Err        error  `json:"-"` // Wrapped sentinel, not serialized
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NewUnreachableError creates an error for network or server failures.
func NewUnreachableError(service string, err error) *APIError {
	return &APIError{
		Code:       "UNREACHABLE",
		Message:    fmt.Sprintf("%s request failed", service),
		StatusCode: 502,
		Err:        fmt.Errorf("%w: %v", ErrUnreachable, err),
	}
}

// NewUnauthorizedError creates a 401 error for missing or expired sessions.
func NewUnauthorizedError(reason string) *APIError {
	return &APIError{
		Code:       "UNAUTHORIZED",
		Message:    reason,
		StatusCode: 401,
		Err:        ErrUnauthorized,
	}
}

// NewValidationError creates a 400 error for rejected payloads.
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Code:       "VALIDATION_ERROR",
		Message:    fmt.Sprintf("invalid %s: %s", field, reason),
		StatusCode: 400,
		Err:        ErrInvalidRequest,
	}
}

// NewNotFoundError creates a 404 error for missing resources.
func NewNotFoundError(resource string) *APIError {
	return &APIError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: 404,
		Err:        ErrNotFound,
	}
}
