// Package clock provides the causal ordering primitives for multi-device
// synchronization: device identity, vector clocks, and logical timestamps.
//
// All types in this package are immutable values. Every mutator returns a
// new value, so clocks can be shared across goroutines and stored inside
// operations without defensive copying at call sites.
//
// No wall-clock time appears anywhere in this package. Ordering is purely
// logical: replay with the same inputs produces the same clocks, the same
// fingerprints, and the same tie-breaks on every replica.
package clock

import "github.com/google/uuid"

// DeviceID identifies one replica of the document.
//
// The engine treats device IDs as opaque strings: any non-empty value is
// valid, and comparisons are plain lexicographic byte order. That order is
// load-bearing - it is the final tie-break in the LogicalTimestamp total
// order - so IDs must be stable for the lifetime of a replica.
type DeviceID string

// String returns the device ID as a plain string.
func (d DeviceID) String() string {
	return string(d)
}

// Valid reports whether the device ID is usable (non-empty).
func (d DeviceID) Valid() bool {
	return d != ""
}

// DeviceIDSource mints new device IDs.
// Implemented by UUIDv7Source (production) and testutil.FixedDeviceSource (tests).
type DeviceIDSource interface {
	NewDeviceID() DeviceID
}

// UUIDv7Source generates time-sortable UUIDv7 device IDs.
//
// UUIDv7 embeds a timestamp in the most significant bits, so device IDs
// sort roughly by registration time. That makes multi-device logs easier
// to read; nothing in the engine depends on it.
//
// Thread-safety: UUIDv7Source is stateless and safe for concurrent use.
type UUIDv7Source struct{}

// NewDeviceID creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Source) NewDeviceID() DeviceID {
	return DeviceID(uuid.Must(uuid.NewV7()).String())
}
