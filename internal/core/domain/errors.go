// Package domain defines the core domain models for crdtsync.
package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain error with a structured error code.
//
// Codes have the form CS-<AREA>-<NNNN>; the trailing four digits follow
// HTTP status semantics so the boundary layer can map them mechanically.
type DomainError struct {
	Code    string // Error code (e.g., "CS-DOC-4001")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a DomainError with the same code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// Wrap wraps cause with this error's code. The cause's message becomes the details.
func (e *DomainError) Wrap(cause error) *DomainError {
	if cause == nil {
		return e
	}
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: cause.Error(),
		Cause:   cause,
	}
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsRetryable reports whether the caller may retry the failed operation
// unchanged. Lock contention, storage and peer failures are retryable;
// input errors are not.
func IsRetryable(err error) bool {
	switch {
	case errors.Is(err, ErrLockTimeout),
		errors.Is(err, ErrStorageUnavailable),
		errors.Is(err, ErrPeerUnreachable),
		errors.Is(err, ErrPeerProtocol):
		return true
	default:
		return false
	}
}

// ============================================================================
// Document Errors (DOC)
// ============================================================================

var (
	// ErrInvalidPayload indicates an empty or malformed update payload.
	ErrInvalidPayload = NewDomainError("CS-DOC-4001", "invalid update payload")

	// ErrInvalidDocID indicates the document identifier is empty or contains
	// reserved bytes.
	ErrInvalidDocID = NewDomainError("CS-DOC-4002", "invalid document id")

	// ErrDocNotInitialized indicates the document has no snapshot yet.
	ErrDocNotInitialized = NewDomainError("CS-DOC-4040", "document not initialized")
)

// ============================================================================
// Lock Errors (LOCK)
// ============================================================================

var (
	// ErrLockTimeout indicates a per-document lock could not be acquired in time.
	ErrLockTimeout = NewDomainError("CS-LOCK-4090", "document lock contention, please retry")
)

// ============================================================================
// Peer Errors (PEER)
// ============================================================================

var (
	// ErrPeerUnreachable indicates the peer could not be reached or timed out.
	ErrPeerUnreachable = NewDomainError("CS-PEER-5020", "peer unreachable")

	// ErrPeerProtocol indicates the peer answered with an invalid or rejected reply.
	ErrPeerProtocol = NewDomainError("CS-PEER-5021", "peer protocol error")
)

// ============================================================================
// System Errors (SYS)
// ============================================================================

var (
	// ErrInternal indicates an internal server error.
	ErrInternal = NewDomainError("CS-SYS-5000", "internal server error")

	// ErrStorageUnavailable indicates the durable store failed.
	ErrStorageUnavailable = NewDomainError("CS-SYS-5001", "storage unavailable")

	// ErrRateLimited indicates too many requests.
	ErrRateLimited = NewDomainError("CS-SYS-4290", "too many requests")
)

// ============================================================================
// Argument Errors (ARG)
// ============================================================================

var (
	// ErrInvalidArgument indicates an invalid argument.
	ErrInvalidArgument = NewDomainError("CS-ARG-1001", "invalid argument")

	// ErrMissingArgument indicates a required argument is missing.
	ErrMissingArgument = NewDomainError("CS-ARG-1002", "missing required argument")
)
