package conflict

import "github.com/roach88/accord/internal/op"

// Classify maps a non-commuting operation pair to its conflict type.
//
// The function is total over all pairs: callers gate on clock
// concurrency and commutativity before classifying, but any pair fed in
// gets an answer. Rules, in priority order:
//
//  1. A deletion on either side is a deletion conflict. The racing work
//     targets something that may no longer exist.
//  2. Two structural operations collide structurally; when both are
//     updates the collision is pure ordering (any agreed serialization
//     repairs it).
//  3. Two semantic operations are a semantic conflict when both are
//     updates with divergent content, otherwise a concurrent
//     modification.
//  4. Mixed category pairs classify as structural: the structural side
//     dictates the shape of the repair.
func Classify(incoming, applied op.Operation) Type {
	a, b := incoming.Type, applied.Type

	if a.IsDeletion() || b.IsDeletion() {
		return TypeDeletion
	}

	aStructural := a.Category() == op.CategoryStructural
	bStructural := b.Category() == op.CategoryStructural

	switch {
	case aStructural && bStructural:
		if a.Verb() == op.VerbUpdate && b.Verb() == op.VerbUpdate {
			return TypeOrdering
		}
		return TypeStructural

	case !aStructural && !bStructural:
		if a.Verb() == op.VerbUpdate && b.Verb() == op.VerbUpdate &&
			op.SharedContentDiverges(incoming.Payload, applied.Payload) {
			return TypeSemantic
		}
		return TypeConcurrentModification

	default:
		return TypeStructural
	}
}
