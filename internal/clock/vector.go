package clock

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// VectorClock tracks how many operations each device has generated, as
// observed by one replica.
//
// A VectorClock is an immutable value. Increment and Merge return new
// clocks; the receiver is never modified. A device absent from the map is
// equivalent to a device with counter 0, which keeps comparisons total
// over clocks with different device sets.
//
// The comparison methods implement the standard causal partial order:
//
//   - Dominates:  every counter >= the other's counter
//   - Concurrent: neither clock dominates the other
//
// Equal clocks dominate each other and are therefore NOT concurrent.
type VectorClock struct {
	counters map[DeviceID]int64
}

// New returns an empty vector clock (no devices observed).
func New() VectorClock {
	return VectorClock{}
}

// FromCounters builds a clock from explicit per-device counters.
// Returns ErrNegativeCounter if any counter is below zero and
// ErrEmptyDevice if any device ID is empty. Zero counters are dropped:
// "observed zero operations" and "never observed" are the same state.
func FromCounters(counters map[DeviceID]int64) (VectorClock, error) {
	if len(counters) == 0 {
		return VectorClock{}, nil
	}
	m := make(map[DeviceID]int64, len(counters))
	for d, n := range counters {
		if !d.Valid() {
			return VectorClock{}, fmt.Errorf("device %q: %w", d, ErrEmptyDevice)
		}
		if n < 0 {
			return VectorClock{}, fmt.Errorf("device %q has counter %d: %w", d, n, ErrNegativeCounter)
		}
		if n == 0 {
			continue
		}
		m[d] = n
	}
	return VectorClock{counters: m}, nil
}

// MustFromCounters is like FromCounters but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustFromCounters(counters map[DeviceID]int64) VectorClock {
	c, err := FromCounters(counters)
	if err != nil {
		panic(err)
	}
	return c
}

// Counter returns the observed counter for a device (0 when absent).
func (c VectorClock) Counter(d DeviceID) int64 {
	return c.counters[d]
}

// Devices returns the device IDs with non-zero counters, sorted
// lexicographically for deterministic iteration.
func (c VectorClock) Devices() []DeviceID {
	out := make([]DeviceID, 0, len(c.counters))
	for d := range c.counters {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of devices with non-zero counters.
func (c VectorClock) Len() int {
	return len(c.counters)
}

// IsEmpty reports whether the clock has no entries.
func (c VectorClock) IsEmpty() bool {
	return len(c.counters) == 0
}

// Counters returns a copy of the underlying counter map.
// Mutating the returned map does not affect the clock.
func (c VectorClock) Counters() map[DeviceID]int64 {
	out := make(map[DeviceID]int64, len(c.counters))
	for d, n := range c.counters {
		out[d] = n
	}
	return out
}

// Increment returns a new clock with the device's counter advanced by one,
// registering the device at 1 when it was previously unseen.
//
// Increment is pure and has no failure case. Whether a replica ACCEPTS
// operations from previously unknown devices is a coordination policy
// decision, not a clock property.
func (c VectorClock) Increment(d DeviceID) VectorClock {
	m := make(map[DeviceID]int64, len(c.counters)+1)
	for dev, n := range c.counters {
		m[dev] = n
	}
	m[d]++
	return VectorClock{counters: m}
}

// Merge returns the pointwise maximum of two clocks.
//
// Merge is commutative, associative, and idempotent, and the result
// dominates both inputs. This is the only way replicas learn about each
// other's progress.
func (c VectorClock) Merge(other VectorClock) VectorClock {
	if other.IsEmpty() {
		return c
	}
	if c.IsEmpty() {
		return other
	}
	m := make(map[DeviceID]int64, len(c.counters)+len(other.counters))
	for d, n := range c.counters {
		m[d] = n
	}
	for d, n := range other.counters {
		if n > m[d] {
			m[d] = n
		}
	}
	return VectorClock{counters: m}
}

// Dominates reports whether this clock is >= other on every component
// (missing devices count as 0). Equal clocks dominate each other.
func (c VectorClock) Dominates(other VectorClock) bool {
	for d, n := range other.counters {
		if c.counters[d] < n {
			return false
		}
	}
	return true
}

// DominatedBy reports whether other is >= this clock on every component.
func (c VectorClock) DominatedBy(other VectorClock) bool {
	return other.Dominates(c)
}

// StrictlyDominates reports whether this clock dominates other and the two
// are not equal. Strict dominance is the causal "happened after" relation.
func (c VectorClock) StrictlyDominates(other VectorClock) bool {
	return c.Dominates(other) && !c.Equal(other)
}

// Concurrent reports whether neither clock dominates the other: the two
// histories contain operations the other has not observed.
func (c VectorClock) Concurrent(other VectorClock) bool {
	return !c.Dominates(other) && !other.Dominates(c)
}

// Equal reports whether both clocks record identical counters.
func (c VectorClock) Equal(other VectorClock) bool {
	if len(c.counters) != len(other.counters) {
		return false
	}
	for d, n := range c.counters {
		if other.counters[d] != n {
			return false
		}
	}
	return true
}

// MaxCounter returns the largest counter in the clock (0 when empty).
func (c VectorClock) MaxCounter() int64 {
	var max int64
	for _, n := range c.counters {
		if n > max {
			max = n
		}
	}
	return max
}

// String renders the clock in compact fingerprint form: "a:1;b:3" with
// devices sorted lexicographically. Two clocks are Equal exactly when
// their String forms match, which is what makes the rendering usable as
// a timestamp fingerprint.
func (c VectorClock) String() string {
	if c.IsEmpty() {
		return ""
	}
	var b strings.Builder
	for i, d := range c.Devices() {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(string(d))
		b.WriteByte(':')
		b.WriteString(strconv.FormatInt(c.counters[d], 10))
	}
	return b.String()
}

// MarshalJSON renders the clock as a JSON object with lexicographically
// sorted device keys, so serialized clocks are byte-stable across
// replicas and safe to diff in traces and golden files.
func (c VectorClock) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, d := range c.Devices() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(string(d))
		if err != nil {
			return nil, fmt.Errorf("marshal device %q: %w", d, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteString(strconv.FormatInt(c.counters[d], 10))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON parses a JSON object of device counters, rejecting
// negative counters and empty device IDs.
func (c *VectorClock) UnmarshalJSON(data []byte) error {
	var raw map[DeviceID]int64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := FromCounters(raw)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
