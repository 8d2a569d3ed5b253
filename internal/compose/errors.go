package compose

import (
	"errors"
	"fmt"

	"github.com/roach88/accord/internal/clock"
)

// IncompatibleError reports a composition attempt whose preconditions
// failed: type, target, deletion, or causal-dependency violations.
type IncompatibleError struct {
	// FirstID and SecondID identify the operations in attempted order.
	FirstID  string
	SecondID string

	// Reason names the violated precondition.
	Reason string
}

func (e *IncompatibleError) Error() string {
	return fmt.Sprintf("operations cannot compose: %s (first=%.12s, second=%.12s)", e.Reason, e.FirstID, e.SecondID)
}

// IsIncompatibleError reports whether the error is a composition
// precondition failure. Uses errors.As to handle wrapped errors.
func IsIncompatibleError(err error) bool {
	var ie *IncompatibleError
	return errors.As(err, &ie)
}

// CrossDeviceError reports a composition attempt across devices.
// Composition compacts one device's pending run; merging edits from
// different devices is conflict resolution, not composition.
type CrossDeviceError struct {
	FirstDevice  clock.DeviceID
	SecondDevice clock.DeviceID
	FirstID      string
	SecondID     string
}

func (e *CrossDeviceError) Error() string {
	return fmt.Sprintf("operations from different devices cannot compose (first=%s, second=%s)", e.FirstDevice, e.SecondDevice)
}

// IsCrossDeviceError reports whether the error is a cross-device
// composition failure. Uses errors.As to handle wrapped errors.
func IsCrossDeviceError(err error) bool {
	var ce *CrossDeviceError
	return errors.As(err, &ce)
}

// UnknownStrategyError reports a strategy name outside the closed set.
type UnknownStrategyError struct {
	Strategy Strategy
}

func (e *UnknownStrategyError) Error() string {
	return fmt.Sprintf("unknown composition strategy %q", string(e.Strategy))
}

// IsUnknownStrategyError reports whether the error is an unknown
// strategy failure. Uses errors.As to handle wrapped errors.
func IsUnknownStrategyError(err error) bool {
	var ue *UnknownStrategyError
	return errors.As(err, &ue)
}
