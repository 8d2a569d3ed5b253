package clock

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorClock_New(t *testing.T) {
	c := New()
	assert.True(t, c.IsEmpty())
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(0), c.Counter("alpha"), "unseen device reads as 0")
}

func TestVectorClock_FromCounters(t *testing.T) {
	c, err := FromCounters(map[DeviceID]int64{"alpha": 2, "beta": 5})
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.Counter("alpha"))
	assert.Equal(t, int64(5), c.Counter("beta"))
	assert.Equal(t, []DeviceID{"alpha", "beta"}, c.Devices())
}

func TestVectorClock_FromCounters_DropsZeroEntries(t *testing.T) {
	c, err := FromCounters(map[DeviceID]int64{"alpha": 0, "beta": 1})
	require.NoError(t, err)

	// Counter 0 and "never seen" are the same state; the entry must not
	// change equality or fingerprints.
	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Equal(MustFromCounters(map[DeviceID]int64{"beta": 1})))
}

func TestVectorClock_FromCounters_RejectsNegative(t *testing.T) {
	_, err := FromCounters(map[DeviceID]int64{"alpha": -1})
	assert.ErrorIs(t, err, ErrNegativeCounter)
}

func TestVectorClock_FromCounters_RejectsEmptyDevice(t *testing.T) {
	_, err := FromCounters(map[DeviceID]int64{"": 3})
	assert.ErrorIs(t, err, ErrEmptyDevice)
}

func TestVectorClock_Increment(t *testing.T) {
	c := New()

	c1 := c.Increment("alpha")
	assert.Equal(t, int64(1), c1.Counter("alpha"), "new device registers at 1")

	c2 := c1.Increment("alpha")
	assert.Equal(t, int64(2), c2.Counter("alpha"))

	// Originals are untouched (immutability).
	assert.True(t, c.IsEmpty())
	assert.Equal(t, int64(1), c1.Counter("alpha"))
}

func TestVectorClock_Increment_StrictlyDominates(t *testing.T) {
	c := MustFromCounters(map[DeviceID]int64{"alpha": 1, "beta": 4})
	inc := c.Increment("alpha")

	assert.True(t, inc.StrictlyDominates(c))
	assert.False(t, c.StrictlyDominates(inc))
	assert.False(t, inc.Concurrent(c))
}

func TestVectorClock_Merge_PointwiseMax(t *testing.T) {
	a := MustFromCounters(map[DeviceID]int64{"alpha": 3, "beta": 1})
	b := MustFromCounters(map[DeviceID]int64{"beta": 4, "gamma": 2})

	m := a.Merge(b)
	assert.Equal(t, int64(3), m.Counter("alpha"))
	assert.Equal(t, int64(4), m.Counter("beta"))
	assert.Equal(t, int64(2), m.Counter("gamma"))
}

func TestVectorClock_Merge_Commutative(t *testing.T) {
	a := MustFromCounters(map[DeviceID]int64{"alpha": 3, "beta": 1})
	b := MustFromCounters(map[DeviceID]int64{"beta": 4, "gamma": 2})

	assert.True(t, a.Merge(b).Equal(b.Merge(a)))
}

func TestVectorClock_Merge_Associative(t *testing.T) {
	a := MustFromCounters(map[DeviceID]int64{"alpha": 3})
	b := MustFromCounters(map[DeviceID]int64{"beta": 4})
	c := MustFromCounters(map[DeviceID]int64{"alpha": 1, "gamma": 2})

	left := a.Merge(b).Merge(c)
	right := a.Merge(b.Merge(c))
	assert.True(t, left.Equal(right))
}

func TestVectorClock_Merge_Idempotent(t *testing.T) {
	a := MustFromCounters(map[DeviceID]int64{"alpha": 3, "beta": 1})
	assert.True(t, a.Merge(a).Equal(a))
}

func TestVectorClock_Merge_DominatesBothInputs(t *testing.T) {
	a := MustFromCounters(map[DeviceID]int64{"alpha": 3, "beta": 1})
	b := MustFromCounters(map[DeviceID]int64{"beta": 4, "gamma": 2})

	m := a.Merge(b)
	assert.True(t, m.Dominates(a))
	assert.True(t, m.Dominates(b))
}

func TestVectorClock_Dominates(t *testing.T) {
	tests := []struct {
		name string
		a, b map[DeviceID]int64
		want bool
	}{
		{"equal clocks dominate each other", map[DeviceID]int64{"a": 1}, map[DeviceID]int64{"a": 1}, true},
		{"strictly greater", map[DeviceID]int64{"a": 2, "b": 1}, map[DeviceID]int64{"a": 1}, true},
		{"missing device counts as zero", map[DeviceID]int64{"a": 1}, map[DeviceID]int64{}, true},
		{"behind on one component", map[DeviceID]int64{"a": 2}, map[DeviceID]int64{"a": 1, "b": 1}, false},
		{"empty dominated by anything", map[DeviceID]int64{}, map[DeviceID]int64{"a": 1}, false},
		{"empty dominates empty", map[DeviceID]int64{}, map[DeviceID]int64{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := MustFromCounters(tt.a)
			b := MustFromCounters(tt.b)
			assert.Equal(t, tt.want, a.Dominates(b))
			assert.Equal(t, tt.want, b.DominatedBy(a))
		})
	}
}

func TestVectorClock_Concurrent(t *testing.T) {
	a := MustFromCounters(map[DeviceID]int64{"alpha": 2, "beta": 1})
	b := MustFromCounters(map[DeviceID]int64{"alpha": 1, "beta": 2})

	assert.True(t, a.Concurrent(b))
	assert.True(t, b.Concurrent(a))
}

func TestVectorClock_Concurrent_EqualClocksAreNot(t *testing.T) {
	a := MustFromCounters(map[DeviceID]int64{"alpha": 2})
	b := MustFromCounters(map[DeviceID]int64{"alpha": 2})

	assert.False(t, a.Concurrent(b))
}

func TestVectorClock_Concurrent_OrderedClocksAreNot(t *testing.T) {
	a := MustFromCounters(map[DeviceID]int64{"alpha": 1})
	b := a.Increment("beta")

	assert.False(t, a.Concurrent(b))
	assert.False(t, b.Concurrent(a))
}

func TestVectorClock_String_Deterministic(t *testing.T) {
	c := MustFromCounters(map[DeviceID]int64{"beta": 2, "alpha": 7, "gamma": 1})
	assert.Equal(t, "alpha:7;beta:2;gamma:1", c.String())

	// Same counters built in a different order produce the same string.
	c2 := New().Increment("gamma")
	for i := 0; i < 7; i++ {
		c2 = c2.Increment("alpha")
	}
	c2 = c2.Increment("beta").Increment("beta")
	assert.Equal(t, c.String(), c2.String())
}

func TestVectorClock_String_Empty(t *testing.T) {
	assert.Equal(t, "", New().String())
}

func TestVectorClock_MarshalJSON_SortedKeys(t *testing.T) {
	c := MustFromCounters(map[DeviceID]int64{"beta": 2, "alpha": 7})

	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":7,"beta":2}`, string(data))
}

func TestVectorClock_UnmarshalJSON_RoundTrip(t *testing.T) {
	c := MustFromCounters(map[DeviceID]int64{"alpha": 7, "beta": 2})

	data, err := json.Marshal(c)
	require.NoError(t, err)

	var back VectorClock
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, c.Equal(back))
}

func TestVectorClock_UnmarshalJSON_RejectsNegative(t *testing.T) {
	var c VectorClock
	err := json.Unmarshal([]byte(`{"alpha":-2}`), &c)
	assert.ErrorIs(t, err, ErrNegativeCounter)
}

func TestVectorClock_Counters_ReturnsCopy(t *testing.T) {
	c := MustFromCounters(map[DeviceID]int64{"alpha": 1})

	m := c.Counters()
	m["alpha"] = 99
	assert.Equal(t, int64(1), c.Counter("alpha"), "mutating the copy must not affect the clock")
}
