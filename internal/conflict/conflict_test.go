package conflict

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/accord/internal/clock"
	"github.com/roach88/accord/internal/field"
	"github.com/roach88/accord/internal/op"
)

func TestType_PropertiesTable(t *testing.T) {
	tests := []struct {
		typ        Type
		severity   Severity
		complexity Complexity
		auto       bool
		first      Strategy
	}{
		{TypeOrdering, SeverityLow, ComplexitySimple, true, StrategyLastWriterWins},
		{TypeConcurrentModification, SeverityMedium, ComplexityModerate, false, StrategyThreeWayMerge},
		{TypeDeletion, SeverityMedium, ComplexityModerate, false, StrategyUserDecision},
		{TypeSemantic, SeverityHigh, ComplexityComplex, false, StrategyThreeWayMerge},
		{TypeStructural, SeverityHigh, ComplexityComplex, false, StrategyUserDecision},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			assert.Equal(t, tt.severity, tt.typ.Severity())
			assert.Equal(t, tt.complexity, tt.typ.Complexity())
			assert.Equal(t, tt.auto, tt.typ.AutoResolvable())
			strategies := tt.typ.Strategies()
			assert.NotEmpty(t, strategies)
			assert.Equal(t, tt.first, strategies[0])
		})
	}
}

func TestType_EveryTypeCovered(t *testing.T) {
	assert.Len(t, AllTypes(), 5)
	for _, typ := range AllTypes() {
		assert.True(t, typ.Valid())
		assert.NotEmpty(t, typ.Severity(), "%s missing severity", typ)
		assert.NotEmpty(t, typ.Strategies(), "%s missing strategies", typ)
	}
	assert.False(t, Type("BOGUS").Valid())
}

func TestType_OnlyOrderingAutoResolves(t *testing.T) {
	for _, typ := range AllTypes() {
		assert.Equal(t, typ == TypeOrdering, typ.AutoResolvable(), "%s", typ)
	}
}

func TestType_StrategiesReturnsCopy(t *testing.T) {
	s := TypeOrdering.Strategies()
	s[0] = StrategyUserDecision
	assert.Equal(t, StrategyLastWriterWins, TypeOrdering.Strategies()[0])
}

func TestStrategy_Valid(t *testing.T) {
	for _, s := range AllStrategies() {
		assert.True(t, s.Valid())
	}
	assert.False(t, Strategy("WISHFUL_THINKING").Valid())
}

func TestCanMergeWith_DeletionIncompatibleWithAll(t *testing.T) {
	for _, other := range AllTypes() {
		assert.False(t, CanMergeWith(TypeDeletion, other), "DELETION vs %s", other)
		assert.False(t, CanMergeWith(other, TypeDeletion), "%s vs DELETION", other)
	}
}

func TestCanMergeWith_CompatiblePairs(t *testing.T) {
	assert.True(t, CanMergeWith(TypeStructural, TypeOrdering))
	assert.True(t, CanMergeWith(TypeOrdering, TypeStructural), "must be symmetric")
	assert.True(t, CanMergeWith(TypeSemantic, TypeConcurrentModification))
	assert.True(t, CanMergeWith(TypeStructural, TypeStructural))
}

func TestCanMergeWith_IncompatiblePairs(t *testing.T) {
	assert.False(t, CanMergeWith(TypeStructural, TypeSemantic))
	assert.False(t, CanMergeWith(TypeOrdering, TypeConcurrentModification))
}

func testOp(t *testing.T, device clock.DeviceID, typ op.Type, target string, payload field.Object) op.Operation {
	t.Helper()
	clk := clock.New().Increment(device)
	return op.MustNew(device, typ, target, payload, clk, "")
}

func TestClassify_DeletionWins(t *testing.T) {
	del := testOp(t, "alpha", op.TypeDeleteArgument, "args/a1", nil)
	upd := testOp(t, "beta", op.TypeUpdateArgument, "args/a1", field.Object{"content": field.String("premise")})

	assert.Equal(t, TypeDeletion, Classify(del, upd))
	assert.Equal(t, TypeDeletion, Classify(upd, del), "deletion on either side classifies the same")
}

func TestClassify_StructuralUpdatesAreOrdering(t *testing.T) {
	a := testOp(t, "alpha", op.TypeUpdateTree, "trees/t1", field.Object{"layout": field.String("wide")})
	b := testOp(t, "beta", op.TypeUpdateTree, "trees/t1", field.Object{"layout": field.String("tall")})

	assert.Equal(t, TypeOrdering, Classify(a, b))
}

func TestClassify_StructuralCreationVsUpdate(t *testing.T) {
	a := testOp(t, "alpha", op.TypeCreateTree, "trees/t1", nil)
	b := testOp(t, "beta", op.TypeUpdateTree, "trees/t1", nil)

	assert.Equal(t, TypeStructural, Classify(a, b))
}

func TestClassify_SemanticDivergentContent(t *testing.T) {
	a := testOp(t, "alpha", op.TypeUpdateStatement, "statements/s1",
		field.Object{"content": field.String("All men are mortal")})
	b := testOp(t, "beta", op.TypeUpdateStatement, "statements/s1",
		field.Object{"content": field.String("Socrates is a man")})

	assert.Equal(t, TypeSemantic, Classify(a, b))
}

func TestClassify_SemanticContainmentIsConcurrentModification(t *testing.T) {
	a := testOp(t, "alpha", op.TypeUpdateStatement, "statements/s1",
		field.Object{"content": field.String("All men are mortal")})
	b := testOp(t, "beta", op.TypeUpdateStatement, "statements/s1",
		field.Object{"content": field.String("All men are mortal, without exception")})

	assert.Equal(t, TypeConcurrentModification, Classify(a, b))
}

func TestClassify_CreateVsUpdateIsConcurrentModification(t *testing.T) {
	a := testOp(t, "alpha", op.TypeCreateStatement, "statements/s1",
		field.Object{"content": field.String("x")})
	b := testOp(t, "beta", op.TypeUpdateStatement, "statements/s1",
		field.Object{"content": field.String("y")})

	assert.Equal(t, TypeConcurrentModification, Classify(a, b))
}

func TestClassify_MixedCategoryIsStructural(t *testing.T) {
	a := testOp(t, "alpha", op.TypeUpdateTree, "doc/x", nil)
	b := testOp(t, "beta", op.TypeUpdateStatement, "doc/x", nil)

	assert.Equal(t, TypeStructural, Classify(a, b))
}

func TestConflict_NewAndKey(t *testing.T) {
	a := testOp(t, "alpha", op.TypeDeleteArgument, "args/a1", nil)
	b := testOp(t, "beta", op.TypeUpdateArgument, "args/a1", nil)

	c := New(a, b)
	assert.Equal(t, TypeDeletion, c.Type)
	assert.Equal(t, SeverityMedium, c.Severity())
	assert.False(t, c.AutoResolvable())
	assert.Equal(t, a.ID+":"+b.ID, c.Key())

	// Re-detecting the same collision yields the same key.
	assert.Equal(t, c.Key(), New(a, b).Key())
}
