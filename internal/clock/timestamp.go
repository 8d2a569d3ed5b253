package clock

import (
	"fmt"
	"strings"
)

// LogicalTimestamp is a totally ordered summary of a vector clock.
//
// The partial order on vector clocks cannot rank concurrent operations,
// but conflict resolution sometimes must (last-writer-wins needs a single
// winner on every replica). LogicalTimestamp collapses a clock into a
// value with a deterministic total order:
//
//  1. Time (the clock's maximum counter)
//  2. Fingerprint (lexicographic)
//  3. Device (lexicographic)
//
// Every replica computes the same order because every component is
// derived from replicated data. No wall-clock time is involved.
type LogicalTimestamp struct {
	// Device is the replica the timestamp speaks for, usually the
	// originating device of an operation.
	Device DeviceID

	// Time is the maximum counter across the source clock. It grows
	// with causal history but carries no duration semantics.
	Time int64

	// Fingerprint is the compact rendering of the full source clock
	// (VectorClock.String). Two timestamps with equal Time but
	// different Fingerprints came from different histories.
	Fingerprint string
}

// NewTimestamp builds a timestamp from explicit components.
// Returns ErrInvalidTimestamp when time is negative or the device is empty.
func NewTimestamp(device DeviceID, time int64, fingerprint string) (LogicalTimestamp, error) {
	if !device.Valid() {
		return LogicalTimestamp{}, fmt.Errorf("empty device: %w", ErrInvalidTimestamp)
	}
	if time < 0 {
		return LogicalTimestamp{}, fmt.Errorf("negative time %d: %w", time, ErrInvalidTimestamp)
	}
	return LogicalTimestamp{Device: device, Time: time, Fingerprint: fingerprint}, nil
}

// TimestampFromClock derives the timestamp of an operation stamped with
// the given clock by the given device.
//
// Time is the clock's maximum counter and Fingerprint its compact string
// form. Returns ErrEmptyClock for a clock with no entries and
// ErrInvalidTimestamp for an empty device.
func TimestampFromClock(c VectorClock, device DeviceID) (LogicalTimestamp, error) {
	if c.IsEmpty() {
		return LogicalTimestamp{}, ErrEmptyClock
	}
	if !device.Valid() {
		return LogicalTimestamp{}, fmt.Errorf("empty device: %w", ErrInvalidTimestamp)
	}
	return LogicalTimestamp{
		Device:      device,
		Time:        c.MaxCounter(),
		Fingerprint: c.String(),
	}, nil
}

// OwnerFromClock picks the device a clock "belongs to" when no
// originating device is known: the device holding the maximum counter.
// Ties break to the lexicographically smallest device ID, so every
// replica agrees on the owner regardless of map iteration order.
func OwnerFromClock(c VectorClock) (DeviceID, error) {
	if c.IsEmpty() {
		return "", ErrEmptyClock
	}
	var owner DeviceID
	var best int64 = -1
	for _, d := range c.Devices() {
		n := c.Counter(d)
		if n > best {
			owner = d
			best = n
		}
	}
	return owner, nil
}

// Compare returns -1, 0, or 1 ordering this timestamp against other.
// The order is total: Time first, then Fingerprint, then Device, the
// last two compared lexicographically.
func (t LogicalTimestamp) Compare(other LogicalTimestamp) int {
	if t.Time != other.Time {
		if t.Time < other.Time {
			return -1
		}
		return 1
	}
	if c := strings.Compare(t.Fingerprint, other.Fingerprint); c != 0 {
		return c
	}
	return strings.Compare(string(t.Device), string(other.Device))
}

// Before reports whether this timestamp orders strictly before other.
func (t LogicalTimestamp) Before(other LogicalTimestamp) bool {
	return t.Compare(other) < 0
}

// After reports whether this timestamp orders strictly after other.
func (t LogicalTimestamp) After(other LogicalTimestamp) bool {
	return t.Compare(other) > 0
}

// Equal reports whether both timestamps have identical components.
func (t LogicalTimestamp) Equal(other LogicalTimestamp) bool {
	return t.Compare(other) == 0
}

// ConcurrentWith reports whether two timestamps LOOK concurrent: equal
// Time but different Fingerprints.
//
// This is a heuristic hint only. Timestamps are lossy summaries; the
// authoritative concurrency check is VectorClock.Concurrent on the full
// originating clocks.
func (t LogicalTimestamp) ConcurrentWith(other LogicalTimestamp) bool {
	return t.Time == other.Time && t.Fingerprint != other.Fingerprint
}

// String renders the timestamp for logs: "device@time/fingerprint".
func (t LogicalTimestamp) String() string {
	return fmt.Sprintf("%s@%d/%s", t.Device, t.Time, t.Fingerprint)
}
