package clock

import "errors"

// Sentinel errors for clock and timestamp construction.
//
// These are explicit failure values: callers branch on them with
// errors.Is rather than parsing messages.
var (
	// ErrEmptyClock indicates a timestamp was requested from a clock
	// with no device entries. An empty clock has no maximum counter,
	// so no meaningful timestamp exists.
	ErrEmptyClock = errors.New("vector clock has no entries")

	// ErrInvalidTimestamp indicates a timestamp component is out of
	// range: a negative time value or an empty device ID.
	ErrInvalidTimestamp = errors.New("invalid logical timestamp")

	// ErrNegativeCounter indicates a clock was constructed with a
	// counter below zero. Counters count observed generations and
	// start at zero.
	ErrNegativeCounter = errors.New("vector clock counter is negative")

	// ErrEmptyDevice indicates an operation was attempted with an
	// empty device ID.
	ErrEmptyDevice = errors.New("device id is empty")
)
