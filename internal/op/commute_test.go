package op

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommute_WhitelistedPairs(t *testing.T) {
	tests := []struct {
		name string
		a, b Type
	}{
		{"position update with itself", TypeUpdateTreePosition, TypeUpdateTreePosition},
		{"metadata update with itself", TypeUpdateMetadata, TypeUpdateMetadata},
		{"position update with tree creation", TypeUpdateTreePosition, TypeCreateTree},
		{"position update with connection creation", TypeUpdateTreePosition, TypeCreateConnection},
		{"metadata update with tree creation", TypeUpdateMetadata, TypeCreateTree},
		{"metadata update with connection creation", TypeUpdateMetadata, TypeCreateConnection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.a.CommutesWith(tt.b))
			assert.True(t, tt.b.CommutesWith(tt.a), "commutativity must be symmetric")
		})
	}
}

func TestCommute_DeletionsNeverCommute(t *testing.T) {
	tests := []struct {
		name string
		a, b Type
		want CommuteReason
	}{
		{"two tree deletions", TypeDeleteTree, TypeDeleteTree, ReasonRelatedDeletions},
		{"tree and connection deletions", TypeDeleteTree, TypeDeleteConnection, ReasonRelatedDeletions},
		{"two statement deletions", TypeDeleteStatement, TypeDeleteStatement, ReasonRelatedDeletions},
		{"tree deletion vs position update", TypeDeleteTree, TypeUpdateTreePosition, ReasonDeletionOwnsOther},
		{"tree deletion vs argument update", TypeDeleteTree, TypeUpdateArgument, ReasonDeletionOwnsOther},
		{"argument deletion vs argument update", TypeDeleteArgument, TypeUpdateArgument, ReasonDeletionOwnsOther},
		{"statement deletion vs statement update", TypeDeleteStatement, TypeUpdateStatement, ReasonDeletionOwnsOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := CommuteDecision(tt.a, tt.b)
			assert.False(t, ok)
			assert.Equal(t, tt.want, reason)

			okRev, _ := CommuteDecision(tt.b, tt.a)
			assert.False(t, okRev, "non-commutativity must be symmetric")
		})
	}
}

func TestCommute_SemanticDifferingTargets(t *testing.T) {
	ok, reason := CommuteDecision(TypeUpdateStatement, TypeUpdateArgument)
	assert.False(t, ok)
	assert.Equal(t, ReasonSemanticDiffers, reason)

	ok, reason = CommuteDecision(TypeCreateStatement, TypeUpdateMetadata)
	assert.False(t, ok)
	assert.Equal(t, ReasonSemanticDiffers, reason)
}

func TestCommute_DefaultIsNonCommuting(t *testing.T) {
	tests := []struct {
		name string
		a, b Type
	}{
		{"two statement updates", TypeUpdateStatement, TypeUpdateStatement},
		{"two statement creations", TypeCreateStatement, TypeCreateStatement},
		{"statement creation vs update", TypeCreateStatement, TypeUpdateStatement},
		{"two tree updates", TypeUpdateTree, TypeUpdateTree},
		{"tree update vs position update", TypeUpdateTree, TypeUpdateTreePosition},
		{"position update vs metadata update", TypeUpdateTreePosition, TypeUpdateMetadata},
		{"connection creation vs tree update", TypeCreateConnection, TypeUpdateTree},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := CommuteDecision(tt.a, tt.b)
			assert.False(t, ok)
			assert.Equal(t, ReasonDefault, reason)
		})
	}
}

func TestCommute_RulePriority(t *testing.T) {
	// A deletion pair that could also fall under the semantic-differing
	// rule must be decided by the deletion rules first.
	ok, reason := CommuteDecision(TypeDeleteTree, TypeDeleteStatement)
	assert.False(t, ok)
	assert.NotEqual(t, ReasonSemanticDiffers, reason)
}

func TestCommute_SymmetricOverFullGrid(t *testing.T) {
	for _, a := range AllTypes() {
		for _, b := range AllTypes() {
			assert.Equal(t, a.CommutesWith(b), b.CommutesWith(a),
				"CommutesWith(%s, %s) must be symmetric", a, b)
		}
	}
}

func TestCommute_NoDeletionEverCommutes(t *testing.T) {
	for _, a := range AllTypes() {
		if !a.IsDeletion() {
			continue
		}
		for _, b := range AllTypes() {
			assert.False(t, a.CommutesWith(b), "%s vs %s", a, b)
		}
	}
}
