package testutil

import (
	"sync"

	"github.com/roach88/accord/internal/clock"
)

// FixedDeviceSource returns device IDs from a scripted list.
//
// This enables deterministic replica identity in tests and golden
// snapshot comparison: the same scenario with the same source produces
// byte-identical output.
//
// Unlike clock.UUIDv7Source, which mints a fresh random identity per
// call, FixedDeviceSource replays exactly the IDs it was given and
// panics when the script runs out. Running out means the test created
// more replicas than it declared, which is a bug in the test.
//
// Thread-safety: safe for concurrent use via internal mutex.
type FixedDeviceSource struct {
	mu   sync.Mutex
	ids  []clock.DeviceID
	next int
}

// NewFixedDeviceSource creates a source that yields the given IDs in
// order.
func NewFixedDeviceSource(ids ...clock.DeviceID) *FixedDeviceSource {
	return &FixedDeviceSource{ids: ids}
}

// NewDeviceID returns the next scripted ID.
//
// Implements clock.DeviceIDSource. Panics past the end of the script.
func (s *FixedDeviceSource) NewDeviceID() clock.DeviceID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.ids) {
		panic("testutil.FixedDeviceSource: script exhausted")
	}
	id := s.ids[s.next]
	s.next++
	return id
}

// Remaining reports how many scripted IDs are left.
func (s *FixedDeviceSource) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids) - s.next
}
