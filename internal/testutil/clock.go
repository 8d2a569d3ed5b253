// Package testutil provides deterministic test doubles for the clock
// primitives: literal vector clocks, scripted device identities, and a
// resettable per-device stamper.
package testutil

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/roach88/accord/internal/clock"
)

// VC builds a vector clock from "device:counter" entries, mirroring
// the fingerprint form VectorClock.String produces:
//
//	testutil.VC("alpha:2", "beta:1")
//
// Panics on malformed entries. Test helper only.
func VC(entries ...string) clock.VectorClock {
	counters := make(map[clock.DeviceID]int64, len(entries))
	for _, entry := range entries {
		device, count, ok := strings.Cut(entry, ":")
		if !ok || device == "" {
			panic(fmt.Sprintf("testutil.VC: malformed entry %q, want device:counter", entry))
		}
		n, err := strconv.ParseInt(count, 10, 64)
		if err != nil {
			panic(fmt.Sprintf("testutil.VC: malformed counter in %q: %v", entry, err))
		}
		counters[clock.DeviceID(device)] = n
	}
	return clock.MustFromCounters(counters)
}

// Stamper issues successive operation clocks for one simulated device.
//
// Each call to Next advances the device's own counter and returns the
// snapshot an operation created at that moment would carry. Observe
// folds another replica's clock into the view, the way a device learns
// remote history during sync. Unlike production devices, a Stamper can
// be Reset so the same scenario produces identical clocks on reruns.
//
// Thread-safety: all methods are safe for concurrent use via internal
// mutex.
type Stamper struct {
	mu     sync.Mutex
	device clock.DeviceID
	view   clock.VectorClock
}

// NewStamper creates a stamper for the given device with an empty view.
//
// The first call to Next() returns a clock counting one operation for
// the device.
func NewStamper(device clock.DeviceID) *Stamper {
	return &Stamper{device: device, view: clock.New()}
}

// Device returns the device this stamper issues clocks for.
func (s *Stamper) Device() clock.DeviceID {
	return s.device
}

// Next advances the device's counter and returns the resulting clock.
//
// Monotonic: each returned clock strictly dominates the previous one.
func (s *Stamper) Next() clock.VectorClock {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view = s.view.Increment(s.device)
	return s.view
}

// Observe merges another clock into the view without advancing the
// device's own counter.
func (s *Stamper) Observe(other clock.VectorClock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view = s.view.Merge(other)
}

// View returns the current view clock without advancing it.
func (s *Stamper) View() clock.VectorClock {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// Reset clears the view. After Reset(), the next call to Next()
// returns a clock counting one operation again.
func (s *Stamper) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view = clock.New()
}
