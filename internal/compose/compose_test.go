package compose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/accord/internal/field"
	"github.com/roach88/accord/internal/op"
	"github.com/roach88/accord/internal/testutil"
)

func metadataOp(t *testing.T, payload field.Object) op.Operation {
	t.Helper()
	o, err := op.New("alpha", op.TypeUpdateMetadata, "document/metadata", payload, testutil.VC("alpha:1"), "")
	require.NoError(t, err)
	return o
}

func TestStrategy_Valid(t *testing.T) {
	tests := []struct {
		strategy Strategy
		want     bool
	}{
		{StrategySequential, true},
		{StrategyParallel, true},
		{StrategyMergeContent, true},
		{StrategyOverride, true},
		{Strategy(""), false},
		{Strategy("MERGE"), false},
		{Strategy("sequential"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.strategy), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.strategy.Valid())
		})
	}
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("MERGE_CONTENT")
	require.NoError(t, err)
	assert.Equal(t, StrategyMergeContent, s)

	_, err = ParseStrategy("THREE_WAY")
	require.Error(t, err)
	assert.True(t, IsUnknownStrategyError(err))
}

func TestAllStrategies_AreValid(t *testing.T) {
	all := AllStrategies()
	require.Len(t, all, 4)
	for _, s := range all {
		assert.True(t, s.Valid(), "strategy %s", s)
	}
}

func TestCanCompose_RequiresMatchingShape(t *testing.T) {
	base := op.MustNew("alpha", op.TypeUpdateMetadata, "document/metadata",
		field.Object{"theme": field.String("dark")}, testutil.VC("alpha:1"), "")

	tests := []struct {
		name   string
		second op.Operation
		want   bool
	}{
		{
			name: "same type device and target",
			second: op.MustNew("alpha", op.TypeUpdateMetadata, "document/metadata",
				field.Object{"font": field.String("mono")}, testutil.VC("alpha:1"), ""),
			want: true,
		},
		{
			name: "different device",
			second: op.MustNew("beta", op.TypeUpdateMetadata, "document/metadata",
				field.Object{"font": field.String("mono")}, testutil.VC("beta:1"), ""),
			want: false,
		},
		{
			name: "different type",
			second: op.MustNew("alpha", op.TypeUpdateStatement, "document/metadata",
				field.Object{"content": field.String("x")}, testutil.VC("alpha:1"), ""),
			want: false,
		},
		{
			name: "different target",
			second: op.MustNew("alpha", op.TypeUpdateMetadata, "document/settings",
				field.Object{"font": field.String("mono")}, testutil.VC("alpha:1"), ""),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanCompose(base, tt.second))
		})
	}
}

func TestCanCompose_DeletionsNeverCompose(t *testing.T) {
	first := op.MustNew("alpha", op.TypeDeleteStatement, "statements/s1",
		nil, testutil.VC("alpha:1"), "")
	second := op.MustNew("alpha", op.TypeDeleteStatement, "statements/s1",
		field.Object{"reason": field.String("cleanup")}, testutil.VC("alpha:1"), "")

	assert.False(t, CanCompose(first, second))
}

func TestCanCompose_CausalOrderBlocks(t *testing.T) {
	earlier := op.MustNew("alpha", op.TypeUpdateMetadata, "document/metadata",
		field.Object{"theme": field.String("dark")}, testutil.VC("alpha:1"), "")
	later := op.MustNew("alpha", op.TypeUpdateMetadata, "document/metadata",
		field.Object{"font": field.String("mono")}, testutil.VC("alpha:2"), "")

	assert.False(t, CanCompose(earlier, later), "later clock strictly dominates")
	assert.False(t, CanCompose(later, earlier), "order does not matter for dominance")
}

func TestCanCompose_ConcurrentClocksCompose(t *testing.T) {
	// Same device, incomparable clocks: each op was stamped after
	// observing different remote history.
	first := op.MustNew("alpha", op.TypeUpdateMetadata, "document/metadata",
		field.Object{"theme": field.String("dark")}, testutil.VC("alpha:1", "beta:5"), "")
	second := op.MustNew("alpha", op.TypeUpdateMetadata, "document/metadata",
		field.Object{"font": field.String("mono")}, testutil.VC("alpha:2", "beta:3"), "")

	assert.True(t, CanCompose(first, second))
}

func TestCanCompose_ParentLinkIsDirectional(t *testing.T) {
	parent := op.MustNew("alpha", op.TypeUpdateMetadata, "document/metadata",
		field.Object{"theme": field.String("dark")}, testutil.VC("alpha:1"), "")
	child := op.MustNew("alpha", op.TypeUpdateMetadata, "document/metadata",
		field.Object{"font": field.String("mono")}, testutil.VC("alpha:1"), parent.ID)

	assert.False(t, CanCompose(parent, child), "child depends on parent")
	assert.True(t, CanCompose(child, parent), "parent does not depend on child")
}

func TestComposer_Compose_Sequential(t *testing.T) {
	first := metadataOp(t, field.Object{"theme": field.String("dark")})
	second := metadataOp(t, field.Object{"font": field.String("mono")})

	composed, err := NewComposer().Compose(first, second, StrategySequential)
	require.NoError(t, err)

	assert.Equal(t, first.Device, composed.Device)
	assert.Equal(t, first.Type, composed.Type)
	assert.Equal(t, first.TargetPath, composed.TargetPath)
	assert.Equal(t, first.ParentID, composed.ParentID)
	assert.True(t, composed.Clock.Equal(first.Clock.Merge(second.Clock)))

	assert.Equal(t, field.String("dark"), composed.Payload["theme"])
	assert.Equal(t, field.String("mono"), composed.Payload["font"])

	record, ok := composed.Payload[KeyComposition].(field.Object)
	require.True(t, ok, "composed payload must carry a composition record")
	assert.Equal(t, field.String("SEQUENTIAL"), record["strategy"])
	assert.Equal(t, field.List{field.String(first.ID), field.String(second.ID)}, record["sources"])

	// The composite is a first-class operation with its own identity.
	assert.NotEqual(t, first.ID, composed.ID)
	assert.NotEqual(t, second.ID, composed.ID)
	ok, err = composed.VerifyID()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestComposer_Compose_SequentialLaterWinsSharedFields(t *testing.T) {
	first := metadataOp(t, field.Object{"theme": field.String("dark"), "lang": field.String("en")})
	second := metadataOp(t, field.Object{"theme": field.String("light")})

	composed, err := NewComposer().Compose(first, second, StrategySequential)
	require.NoError(t, err)

	assert.Equal(t, field.String("light"), composed.Payload["theme"])
	assert.Equal(t, field.String("en"), composed.Payload["lang"])
}

func TestComposer_Compose_ParallelKeepsBothPayloads(t *testing.T) {
	first := metadataOp(t, field.Object{"theme": field.String("dark")})
	second := metadataOp(t, field.Object{"theme": field.String("light")})

	composed, err := NewComposer().Compose(first, second, StrategyParallel)
	require.NoError(t, err)

	branches, ok := composed.Payload[KeyParallel].(field.List)
	require.True(t, ok)
	require.Len(t, branches, 2)
	assert.True(t, field.Equal(first.Payload, branches[0]))
	assert.True(t, field.Equal(second.Payload, branches[1]))
}

func TestComposer_Compose_OverrideRetainsReplacedPayload(t *testing.T) {
	first := metadataOp(t, field.Object{"theme": field.String("dark")})
	second := metadataOp(t, field.Object{"theme": field.String("light")})

	composed, err := NewComposer().Compose(first, second, StrategyOverride)
	require.NoError(t, err)

	assert.Equal(t, field.String("light"), composed.Payload["theme"])
	assert.True(t, field.Equal(first.Payload, composed.Payload[KeyReplaced]))
}

func TestComposer_Compose_CrossDeviceCheckedFirst(t *testing.T) {
	// Differs in device AND type: the cross-device failure must win.
	first := op.MustNew("alpha", op.TypeUpdateMetadata, "document/metadata",
		field.Object{"theme": field.String("dark")}, testutil.VC("alpha:1"), "")
	second := op.MustNew("beta", op.TypeUpdateStatement, "document/metadata",
		field.Object{"content": field.String("x")}, testutil.VC("beta:1"), "")

	_, err := NewComposer().Compose(first, second, StrategySequential)
	require.Error(t, err)
	assert.True(t, IsCrossDeviceError(err))
	assert.False(t, IsIncompatibleError(err))

	var ce *CrossDeviceError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, first.Device, ce.FirstDevice)
	assert.Equal(t, second.Device, ce.SecondDevice)
}

func TestComposer_Compose_IncompatibleReportsReason(t *testing.T) {
	first := op.MustNew("alpha", op.TypeDeleteStatement, "statements/s1",
		nil, testutil.VC("alpha:1"), "")
	second := op.MustNew("alpha", op.TypeDeleteStatement, "statements/s1",
		field.Object{"reason": field.String("cleanup")}, testutil.VC("alpha:1"), "")

	_, err := NewComposer().Compose(first, second, StrategySequential)
	require.Error(t, err)
	assert.True(t, IsIncompatibleError(err))

	var ie *IncompatibleError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "deletions do not compose", ie.Reason)
	assert.Contains(t, ie.Error(), "deletions do not compose")
}

func TestComposer_Compose_UnknownStrategy(t *testing.T) {
	first := metadataOp(t, field.Object{"theme": field.String("dark")})
	second := metadataOp(t, field.Object{"font": field.String("mono")})

	_, err := NewComposer().Compose(first, second, Strategy("SQUASH"))
	require.Error(t, err)
	assert.True(t, IsUnknownStrategyError(err))
}

func TestComposer_Compose_SequentialIsAssociative(t *testing.T) {
	a := metadataOp(t, field.Object{"theme": field.String("dark")})
	b := metadataOp(t, field.Object{"font": field.String("mono")})
	c := metadataOp(t, field.Object{"lang": field.String("en")})

	comp := NewComposer()

	ab, err := comp.Compose(a, b, StrategySequential)
	require.NoError(t, err)
	left, err := comp.Compose(ab, c, StrategySequential)
	require.NoError(t, err)

	bc, err := comp.Compose(b, c, StrategySequential)
	require.NoError(t, err)
	right, err := comp.Compose(a, bc, StrategySequential)
	require.NoError(t, err)

	// Provenance records differ by grouping; the document effect and
	// the merged clock must not.
	leftPayload := left.Payload.Copy()
	rightPayload := right.Payload.Copy()
	delete(leftPayload, KeyComposition)
	delete(rightPayload, KeyComposition)

	assert.True(t, field.Equal(leftPayload, rightPayload))
	assert.True(t, left.Clock.Equal(right.Clock))
}

func TestComposer_DetermineStrategy(t *testing.T) {
	comp := NewComposer()

	tests := []struct {
		name   string
		first  op.Operation
		second op.Operation
		want   Strategy
	}{
		{
			name: "content bearing pair",
			first: op.MustNew("alpha", op.TypeUpdateStatement, "statements/s1",
				field.Object{"content": field.String("claim")}, testutil.VC("alpha:1"), ""),
			second: op.MustNew("alpha", op.TypeUpdateStatement, "statements/s1",
				field.Object{"content": field.String("refined claim")}, testutil.VC("alpha:1"), ""),
			want: StrategyMergeContent,
		},
		{
			name: "structural pair",
			first: op.MustNew("alpha", op.TypeUpdateTreePosition, "trees/t1/positions/p1",
				field.Object{"x": field.Int(10)}, testutil.VC("alpha:1"), ""),
			second: op.MustNew("alpha", op.TypeUpdateTreePosition, "trees/t1/positions/p1",
				field.Object{"y": field.Int(20)}, testutil.VC("alpha:1"), ""),
			want: StrategySequential,
		},
		{
			name: "updates with disjoint fields",
			first: op.MustNew("alpha", op.TypeUpdateMetadata, "document/metadata",
				field.Object{"theme": field.String("dark")}, testutil.VC("alpha:1"), ""),
			second: op.MustNew("alpha", op.TypeUpdateMetadata, "document/metadata",
				field.Object{"font": field.String("mono")}, testutil.VC("alpha:1"), ""),
			want: StrategyMergeContent,
		},
		{
			name: "updates with colliding fields",
			first: op.MustNew("alpha", op.TypeUpdateMetadata, "document/metadata",
				field.Object{"theme": field.String("dark")}, testutil.VC("alpha:1"), ""),
			second: op.MustNew("alpha", op.TypeUpdateMetadata, "document/metadata",
				field.Object{"theme": field.String("light")}, testutil.VC("alpha:1"), ""),
			want: StrategyOverride,
		},
		{
			name: "updates with contained text",
			first: op.MustNew("alpha", op.TypeUpdateMetadata, "document/metadata",
				field.Object{"title": field.String("Draft")}, testutil.VC("alpha:1"), ""),
			second: op.MustNew("alpha", op.TypeUpdateMetadata, "document/metadata",
				field.Object{"title": field.String("Draft v2")}, testutil.VC("alpha:1"), ""),
			want: StrategyMergeContent,
		},
		{
			name: "create pair defaults to sequential",
			first: op.MustNew("alpha", op.TypeCreateArgument, "arguments/a1",
				field.Object{"premise": field.String("p")}, testutil.VC("alpha:1"), ""),
			second: op.MustNew("alpha", op.TypeCreateArgument, "arguments/a1",
				field.Object{"conclusion": field.String("c")}, testutil.VC("alpha:1"), ""),
			want: StrategySequential,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, comp.DetermineStrategy(tt.first, tt.second))
		})
	}
}

func TestComposer_DetermineStrategy_NumericCloseness(t *testing.T) {
	first := op.MustNew("alpha", op.TypeUpdateMetadata, "document/metadata",
		field.Object{"revision": field.Int(10)}, testutil.VC("alpha:1"), "")
	second := op.MustNew("alpha", op.TypeUpdateMetadata, "document/metadata",
		field.Object{"revision": field.Int(12)}, testutil.VC("alpha:1"), "")

	strict := NewComposer()
	assert.Equal(t, StrategyOverride, strict.DetermineStrategy(first, second))

	loose := NewComposer(WithNumericCloseness(5))
	assert.Equal(t, StrategyMergeContent, loose.DetermineStrategy(first, second))
}

func TestComposer_Sequence_GroupsGreedily(t *testing.T) {
	comp := NewComposer()

	m1 := metadataOp(t, field.Object{"theme": field.String("dark")})
	m2 := metadataOp(t, field.Object{"font": field.String("mono")})
	m3 := metadataOp(t, field.Object{"lang": field.String("en")})
	other := op.MustNew("alpha", op.TypeUpdateStatement, "statements/s1",
		field.Object{"content": field.String("x")}, testutil.VC("alpha:1"), "")

	out, err := comp.Sequence([]op.Operation{m1, m2, m3, other}, StrategySequential)
	require.NoError(t, err)
	require.Len(t, out, 2)

	composite := out[0]
	assert.Equal(t, field.String("dark"), composite.Payload["theme"])
	assert.Equal(t, field.String("mono"), composite.Payload["font"])
	assert.Equal(t, field.String("en"), composite.Payload["lang"])

	// Chained provenance: the final record names the intermediate
	// composite and the last source; the intermediate names m1 and m2.
	record := composite.Payload[KeyComposition].(field.Object)
	sources := record["sources"].(field.List)
	require.Len(t, sources, 2)
	assert.Equal(t, field.String(m3.ID), sources[1])

	// The op that could not join passes through untouched.
	assert.Equal(t, other, out[1])
}

func TestComposer_Sequence_EmptyInput(t *testing.T) {
	out, err := NewComposer().Sequence(nil, StrategySequential)
	require.NoError(t, err)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestComposer_Sequence_SingleOpPassesThrough(t *testing.T) {
	m1 := metadataOp(t, field.Object{"theme": field.String("dark")})

	out, err := NewComposer().Sequence([]op.Operation{m1}, StrategySequential)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, m1, out[0])
}

func TestComposer_Sequence_RejectsInvalidStrategy(t *testing.T) {
	_, err := NewComposer().Sequence(nil, Strategy("SQUASH"))
	require.Error(t, err)
	assert.True(t, IsUnknownStrategyError(err))
}

func TestComposer_Sequence_AnchorsGroupingOnLastMember(t *testing.T) {
	// The first two clocks are concurrent, so they group. Their merge
	// dominates the third clock, but grouping is tested against the
	// last original member, which is still concurrent with it.
	o1 := op.MustNew("alpha", op.TypeUpdateMetadata, "document/metadata",
		field.Object{"theme": field.String("dark")}, testutil.VC("alpha:1", "beta:5"), "")
	o2 := op.MustNew("alpha", op.TypeUpdateMetadata, "document/metadata",
		field.Object{"font": field.String("mono")}, testutil.VC("alpha:2", "beta:3"), "")
	o3 := op.MustNew("alpha", op.TypeUpdateMetadata, "document/metadata",
		field.Object{"lang": field.String("en")}, testutil.VC("alpha:1", "beta:4"), "")

	out, err := NewComposer().Sequence([]op.Operation{o1, o2, o3}, StrategySequential)
	require.NoError(t, err)
	require.Len(t, out, 1)

	composite := out[0]
	assert.Equal(t, field.String("dark"), composite.Payload["theme"])
	assert.Equal(t, field.String("mono"), composite.Payload["font"])
	assert.Equal(t, field.String("en"), composite.Payload["lang"])
	assert.True(t, composite.Clock.Equal(testutil.VC("alpha:2", "beta:5")))
}

func TestComposer_SequenceAuto_PicksPerPair(t *testing.T) {
	comp := NewComposer()

	first := metadataOp(t, field.Object{"theme": field.String("dark")})
	second := metadataOp(t, field.Object{"font": field.String("mono")})

	out, err := comp.SequenceAuto([]op.Operation{first, second})
	require.NoError(t, err)
	require.Len(t, out, 1)

	record := out[0].Payload[KeyComposition].(field.Object)
	assert.Equal(t, field.String("MERGE_CONTENT"), record["strategy"])
}
