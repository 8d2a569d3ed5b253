package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/accord/internal/clock"
)

func TestVC_BuildsClockFromEntries(t *testing.T) {
	vc := VC("alpha:2", "beta:1")

	assert.Equal(t, int64(2), vc.Counter("alpha"))
	assert.Equal(t, int64(1), vc.Counter("beta"))
	assert.Equal(t, "alpha:2;beta:1", vc.String())
}

func TestVC_EmptyIsEmptyClock(t *testing.T) {
	assert.True(t, VC().IsEmpty())
}

func TestVC_PanicsOnMalformedEntry(t *testing.T) {
	assert.Panics(t, func() { VC("alpha") })
	assert.Panics(t, func() { VC(":3") })
	assert.Panics(t, func() { VC("alpha:x") })
}

func TestStamper_NextIncrementsMonotonically(t *testing.T) {
	s := NewStamper("alpha")

	first := s.Next()
	second := s.Next()

	assert.Equal(t, int64(1), first.Counter("alpha"))
	assert.Equal(t, int64(2), second.Counter("alpha"))
	assert.True(t, second.StrictlyDominates(first))
}

func TestStamper_ObserveMergesWithoutAdvancing(t *testing.T) {
	s := NewStamper("alpha")
	s.Next()

	s.Observe(VC("beta:4"))

	view := s.View()
	assert.Equal(t, int64(1), view.Counter("alpha"))
	assert.Equal(t, int64(4), view.Counter("beta"))

	// The next stamp advances alpha only, carrying the observed history.
	next := s.Next()
	assert.Equal(t, int64(2), next.Counter("alpha"))
	assert.Equal(t, int64(4), next.Counter("beta"))
}

func TestStamper_ResetReplaysIdentically(t *testing.T) {
	s := NewStamper("alpha")
	first := s.Next()
	s.Next()

	s.Reset()

	require.True(t, s.View().IsEmpty())
	assert.True(t, s.Next().Equal(first))
}

func TestStamper_ThreadSafe(t *testing.T) {
	s := NewStamper("alpha")
	const numGoroutines = 50
	const callsPerGoroutine = 20

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	results := make([][]int64, numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		results[i] = make([]int64, callsPerGoroutine)
		go func(idx int) {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				results[idx][j] = s.Next().Counter("alpha")
			}
		}(i)
	}

	wg.Wait()

	// Every counter value 1..N must appear exactly once.
	seen := make(map[int64]bool)
	for i := 0; i < numGoroutines; i++ {
		for j := 0; j < callsPerGoroutine; j++ {
			val := results[i][j]
			require.False(t, seen[val], "duplicate counter %d", val)
			seen[val] = true
		}
	}
	expectedTotal := numGoroutines * callsPerGoroutine
	assert.Len(t, seen, expectedTotal)
	assert.Equal(t, int64(expectedTotal), s.View().Counter("alpha"))
}

func TestFixedDeviceSource_ReplaysScript(t *testing.T) {
	src := NewFixedDeviceSource("alpha", "beta")

	require.Equal(t, 2, src.Remaining())
	assert.Equal(t, clock.DeviceID("alpha"), src.NewDeviceID())
	assert.Equal(t, clock.DeviceID("beta"), src.NewDeviceID())
	assert.Equal(t, 0, src.Remaining())
}

func TestFixedDeviceSource_PanicsPastEnd(t *testing.T) {
	src := NewFixedDeviceSource("alpha")
	src.NewDeviceID()

	assert.Panics(t, func() { src.NewDeviceID() })
}
