package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/accord/internal/clock"
)

// CoordinationError represents a failure detected while admitting or
// resolving an operation.
//
// Coordination errors cover malformed input and misuse of the
// resolution API:
//   - Unknown device: operation's device not registered and the
//     coordinator disallows implicit registration
//   - Unknown conflict: decision references no open conflict
//   - Strategy not applicable: decision strategy not offered by the
//     conflict's type
//   - Incomplete decision: strategy requires a winner or payload that
//     the decision does not carry
//   - Incompatible conflicts: batch resolution over conflict types the
//     compatibility relation keeps apart
//
// Blocked and awaiting-user outcomes are NOT errors; they are ordinary
// results of Apply.
type CoordinationError struct {
	// Code identifies the error category.
	Code CoordinationErrorCode

	// Message is a human-readable description.
	Message string

	// Device identifies the offending device (for unknown-device errors).
	Device clock.DeviceID

	// OperationID identifies the operation being admitted, when known.
	OperationID string

	// ConflictKey identifies the conflict a decision addressed.
	ConflictKey string

	// Details contains additional context.
	Details map[string]string
}

// CoordinationErrorCode categorizes coordination errors.
type CoordinationErrorCode string

const (
	// ErrCodeUnknownDevice indicates an operation from a device the
	// replica does not know, with implicit registration disabled.
	ErrCodeUnknownDevice CoordinationErrorCode = "UNKNOWN_DEVICE"

	// ErrCodeUnknownConflict indicates a decision for a conflict key
	// that is not open on the replica.
	ErrCodeUnknownConflict CoordinationErrorCode = "UNKNOWN_CONFLICT"

	// ErrCodeStrategyNotApplicable indicates a decision strategy the
	// conflict's type does not offer.
	ErrCodeStrategyNotApplicable CoordinationErrorCode = "STRATEGY_NOT_APPLICABLE"

	// ErrCodeIncompleteDecision indicates a decision missing the winner
	// or payload its strategy requires.
	ErrCodeIncompleteDecision CoordinationErrorCode = "INCOMPLETE_DECISION"

	// ErrCodeIncompatibleConflicts indicates a batch resolution over
	// conflicts whose types cannot share one resolution pass.
	ErrCodeIncompatibleConflicts CoordinationErrorCode = "INCOMPATIBLE_CONFLICTS"
)

// Error implements the error interface.
func (e *CoordinationError) Error() string {
	switch {
	case e.OperationID != "":
		return fmt.Sprintf("%s: %s (op=%.12s)", e.Code, e.Message, e.OperationID)
	case e.ConflictKey != "":
		return fmt.Sprintf("%s: %s (conflict=%s)", e.Code, e.Message, e.ConflictKey)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// IsUnknownDeviceError returns true if the error is an unknown-device
// rejection. Uses errors.As to handle wrapped errors.
func IsUnknownDeviceError(err error) bool {
	var ce *CoordinationError
	if errors.As(err, &ce) {
		return ce.Code == ErrCodeUnknownDevice
	}
	return false
}

// IsUnknownConflictError returns true if the error references a
// conflict that is not open. Uses errors.As to handle wrapped errors.
func IsUnknownConflictError(err error) bool {
	var ce *CoordinationError
	if errors.As(err, &ce) {
		return ce.Code == ErrCodeUnknownConflict
	}
	return false
}

// IsStrategyNotApplicableError returns true if the error is a decision
// strategy rejection. Uses errors.As to handle wrapped errors.
func IsStrategyNotApplicableError(err error) bool {
	var ce *CoordinationError
	if errors.As(err, &ce) {
		return ce.Code == ErrCodeStrategyNotApplicable
	}
	return false
}

// NewUnknownDeviceError creates a CoordinationError for an operation
// from an unregistered device.
func NewUnknownDeviceError(device clock.DeviceID, operationID string) *CoordinationError {
	return &CoordinationError{
		Code:        ErrCodeUnknownDevice,
		Message:     fmt.Sprintf("device %s is not registered with this replica", device),
		Device:      device,
		OperationID: operationID,
	}
}

// NewUnknownConflictError creates a CoordinationError for a decision
// that references no open conflict.
func NewUnknownConflictError(key string) *CoordinationError {
	return &CoordinationError{
		Code:        ErrCodeUnknownConflict,
		Message:     "no open conflict with this key",
		ConflictKey: key,
	}
}
