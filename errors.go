package conductor

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Fault type constants for classification and matching
const (
	// FaultTypeAll acts as a wildcard that matches any fault except fatal faults
	FaultTypeAll = "all"

	// FaultTypeActivity matches any fault except timeouts and fatal faults
	FaultTypeActivity = "activity_faulted"

	// FaultTypeTimeout matches a timeout or context cancellation
	FaultTypeTimeout = "timeout"

	// FaultTypeExpression indicates an expression failed to compile or evaluate
	FaultTypeExpression = "expression_error"

	// FaultTypeFatal indicates a fault that must never be retried. Unknown
	// faults default to FaultTypeActivity so that retries remain possible;
	// anything known to be unrecoverable should carry this type explicitly.
	FaultTypeFatal = "fatal_error"
)

// Sentinel errors surfaced by stores and lock providers.
var (
	// ErrInstanceNotFound is returned when a workflow instance id does not
	// resolve to a persisted record.
	ErrInstanceNotFound = errors.New("workflow instance not found")

	// ErrLeaseExpired is returned by Lease.Release when the lease's TTL
	// lapsed before release. Any write performed under the lease must be
	// considered unsafe and should not be committed.
	ErrLeaseExpired = errors.New("lock lease expired before release")

	// ErrDefinitionNotFound is returned when an instance references a
	// workflow definition that was never registered with the engine.
	ErrDefinitionNotFound = errors.New("workflow definition not found")
)

// DuplicateBookmarkError indicates a bookmark with the same stimulus hash
// already exists for the instance and the store's policy forbids duplicates.
type DuplicateBookmarkError struct {
	InstanceID string
	Hash       string
}

func (e *DuplicateBookmarkError) Error() string {
	return fmt.Sprintf("duplicate bookmark for instance %s (hash %s)", e.InstanceID, e.Hash)
}

// FaultError represents a structured activity fault with classification.
// It supports Go's error wrapping patterns with Unwrap().
type FaultError struct {
	Type    string `json:"type"`
	Cause   string `json:"cause"`
	Details any    `json:"details,omitempty"`
	Wrapped error  `json:"-"`
}

// Error implements the error interface
func (e *FaultError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Cause)
}

// Unwrap implements the error unwrapping interface for errors.Is and errors.As
func (e *FaultError) Unwrap() error {
	return e.Wrapped
}

// NewFaultError creates a FaultError with the specified type and cause. The
// type can be any user-defined string e.g. "network-error"; it is matched
// against fault type patterns when deciding incident handling.
func NewFaultError(faultType, cause string) *FaultError {
	return &FaultError{Type: faultType, Cause: cause}
}

// ClassifyFault classifies a regular error into a FaultError
func ClassifyFault(err error) *FaultError {
	var fault *FaultError
	if errors.As(err, &fault) {
		return fault
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		strings.Contains(strings.ToLower(err.Error()), "timeout") {
		return &FaultError{
			Type:    FaultTypeTimeout,
			Cause:   err.Error(),
			Wrapped: err,
		}
	}
	return &FaultError{
		Type:    FaultTypeActivity,
		Cause:   err.Error(),
		Wrapped: err,
	}
}

// MatchesFaultType checks if an error matches a specified fault type pattern
func MatchesFaultType(err error, faultType string) bool {
	fault := ClassifyFault(err)
	// Fatal faults are only matched by the FaultTypeFatal pattern
	if fault.Type == FaultTypeFatal {
		return faultType == FaultTypeFatal
	}
	switch faultType {
	case FaultTypeAll:
		return true
	case FaultTypeActivity:
		return fault.Type != FaultTypeTimeout
	default:
		// Arbitrary fault type strings are allowed, not just the fixed set.
		return fault.Type == faultType
	}
}
