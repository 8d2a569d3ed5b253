package op

// Type-level commutativity: whether applying two operation types in
// either order yields the same document, independent of their payloads.
//
// The relation is deliberately conservative. Commuting pairs skip
// conflict detection entirely, so a false positive here corrupts
// documents while a false negative only costs a resolvable conflict.

// owned maps each target kind to the kinds it structurally owns.
// Ownership is reflexive. A TREE additionally owns the placements,
// links, and placed arguments inside it: deleting the tree invalidates
// work on its contents.
var owned = map[TargetKind][]TargetKind{
	KindStatement:    {KindStatement},
	KindArgument:     {KindArgument},
	KindTree:         {KindTree, KindTreePosition, KindConnection, KindArgument},
	KindTreePosition: {KindTreePosition},
	KindConnection:   {KindConnection},
	KindMetadata:     {KindMetadata},
}

// ownsKind reports whether kind a structurally owns kind b.
func ownsKind(a, b TargetKind) bool {
	for _, k := range owned[a] {
		if k == b {
			return true
		}
	}
	return false
}

// ownershipRelated reports whether either kind owns the other.
func ownershipRelated(a, b TargetKind) bool {
	return ownsKind(a, b) || ownsKind(b, a)
}

// commutePairs whitelists the type pairs that are order-independent:
// position and metadata updates against themselves and against
// structural creations. Pairs are stored in one direction; lookup
// checks both.
var commutePairs = map[[2]Type]bool{
	{TypeUpdateTreePosition, TypeUpdateTreePosition}: true,
	{TypeUpdateMetadata, TypeUpdateMetadata}:         true,
	{TypeUpdateTreePosition, TypeCreateTree}:         true,
	{TypeUpdateTreePosition, TypeCreateConnection}:   true,
	{TypeUpdateMetadata, TypeCreateTree}:             true,
	{TypeUpdateMetadata, TypeCreateConnection}:       true,
}

// CommuteReason names the rule that decided a commutativity check.
// Exposed for conflict explanations and tests; the boolean answer is
// what the coordinator acts on.
type CommuteReason string

const (
	ReasonRelatedDeletions  CommuteReason = "related deletions never commute"
	ReasonDeletionOwnsOther CommuteReason = "a deletion never commutes with operations on owned targets"
	ReasonSemanticDiffers   CommuteReason = "semantic operations on different target kinds never commute"
	ReasonWhitelisted       CommuteReason = "pair is order-independent"
	ReasonDefault           CommuteReason = "not order-independent"
)

// CommutesWith reports whether operations of these two types can apply
// in either order with the same result.
func (t Type) CommutesWith(other Type) bool {
	ok, _ := commuteDecision(t, other)
	return ok
}

// CommuteDecision returns the commutativity answer together with the
// rule that produced it. Rules are evaluated in priority order; the
// first match wins.
func CommuteDecision(a, b Type) (bool, CommuteReason) {
	return commuteDecision(a, b)
}

func commuteDecision(a, b Type) (bool, CommuteReason) {
	// Rule 1: two deletions of ownership-related targets.
	if a.IsDeletion() && b.IsDeletion() && ownershipRelated(a.Target(), b.Target()) {
		return false, ReasonRelatedDeletions
	}

	// Rule 2: a deletion against any operation on a target it owns.
	if a.IsDeletion() && ownsKind(a.Target(), b.Target()) {
		return false, ReasonDeletionOwnsOther
	}
	if b.IsDeletion() && ownsKind(b.Target(), a.Target()) {
		return false, ReasonDeletionOwnsOther
	}

	// Rule 3: semantic operations on differing target kinds.
	if a.Category() == CategorySemantic && b.Category() == CategorySemantic && a.Target() != b.Target() {
		return false, ReasonSemanticDiffers
	}

	// Rule 4: explicitly order-independent pairs.
	if commutePairs[[2]Type{a, b}] || commutePairs[[2]Type{b, a}] {
		return true, ReasonWhitelisted
	}

	// Rule 5: everything else is order-dependent.
	return false, ReasonDefault
}
