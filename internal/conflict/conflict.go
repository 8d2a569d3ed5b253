// Package conflict defines the conflict taxonomy for concurrent edits:
// the closed set of conflict types, their fixed resolution properties,
// and the pairwise compatibility relation.
//
// The tables here are the domain content itself. They are fixed per
// type; deployments that need different resolution behavior override
// them through a compiled policy, never by editing the taxonomy.
package conflict

import "github.com/roach88/accord/internal/op"

// Type classifies a detected conflict between two concurrent operations.
type Type string

const (
	// TypeStructural marks incompatible shape changes: tree rewrites,
	// connection churn, or a structural edit crossing a semantic one.
	TypeStructural Type = "STRUCTURAL_CONFLICT"

	// TypeSemantic marks content edits with divergent meaning: both
	// sides rewrote the same prose and neither contains the other.
	TypeSemantic Type = "SEMANTIC_CONFLICT"

	// TypeOrdering marks order-sensitive structural updates where any
	// serialization is acceptable as long as every replica picks the
	// same one.
	TypeOrdering Type = "ORDERING_CONFLICT"

	// TypeDeletion marks a deletion racing any operation on the same
	// target. One side's work disappears either way.
	TypeDeletion Type = "DELETION_CONFLICT"

	// TypeConcurrentModification marks concurrent semantic edits that
	// touch the same target without divergent content: creations,
	// attribute updates, or edits where one side contains the other.
	TypeConcurrentModification Type = "CONCURRENT_MODIFICATION"
)

// Severity grades how much a conflict threatens document intent.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Complexity grades how involved resolution is expected to be.
type Complexity string

const (
	ComplexitySimple   Complexity = "SIMPLE"
	ComplexityModerate Complexity = "MODERATE"
	ComplexityComplex  Complexity = "COMPLEX"
)

// Strategy names a resolution approach. The per-type strategy lists are
// ordered by preference.
type Strategy string

const (
	StrategyLastWriterWins Strategy = "LAST_WRITER_WINS"
	StrategyThreeWayMerge  Strategy = "THREE_WAY_MERGE"
	StrategyUserDecision   Strategy = "USER_DECISION_REQUIRED"
	StrategyKeepBoth       Strategy = "KEEP_BOTH"
	StrategyRetryOrdered   Strategy = "RETRY_ORDERED"
)

// properties are the fixed per-type resolution attributes.
type properties struct {
	severity       Severity
	complexity     Complexity
	autoResolvable bool
	strategies     []Strategy
}

var table = map[Type]properties{
	TypeOrdering: {
		severity:       SeverityLow,
		complexity:     ComplexitySimple,
		autoResolvable: true,
		strategies:     []Strategy{StrategyLastWriterWins, StrategyRetryOrdered},
	},
	TypeConcurrentModification: {
		severity:       SeverityMedium,
		complexity:     ComplexityModerate,
		autoResolvable: false,
		strategies:     []Strategy{StrategyThreeWayMerge, StrategyUserDecision},
	},
	TypeDeletion: {
		severity:       SeverityMedium,
		complexity:     ComplexityModerate,
		autoResolvable: false,
		strategies:     []Strategy{StrategyUserDecision, StrategyKeepBoth},
	},
	TypeSemantic: {
		severity:       SeverityHigh,
		complexity:     ComplexityComplex,
		autoResolvable: false,
		strategies:     []Strategy{StrategyThreeWayMerge, StrategyUserDecision},
	},
	TypeStructural: {
		severity:       SeverityHigh,
		complexity:     ComplexityComplex,
		autoResolvable: false,
		strategies:     []Strategy{StrategyUserDecision, StrategyThreeWayMerge},
	},
}

// AllTypes returns the conflict types in severity order (lowest first).
func AllTypes() []Type {
	return []Type{
		TypeOrdering,
		TypeConcurrentModification,
		TypeDeletion,
		TypeSemantic,
		TypeStructural,
	}
}

// AllStrategies returns every known strategy name.
func AllStrategies() []Strategy {
	return []Strategy{
		StrategyLastWriterWins,
		StrategyThreeWayMerge,
		StrategyUserDecision,
		StrategyKeepBoth,
		StrategyRetryOrdered,
	}
}

// Valid reports whether the type is one of the closed set.
func (t Type) Valid() bool {
	_, ok := table[t]
	return ok
}

// Valid reports whether the strategy name is known.
func (s Strategy) Valid() bool {
	for _, known := range AllStrategies() {
		if s == known {
			return true
		}
	}
	return false
}

// Severity returns the fixed severity for the type.
func (t Type) Severity() Severity {
	return table[t].severity
}

// Complexity returns the fixed resolution complexity for the type.
func (t Type) Complexity() Complexity {
	return table[t].complexity
}

// AutoResolvable reports whether the engine may resolve this conflict
// type without a user decision.
func (t Type) AutoResolvable() bool {
	return table[t].autoResolvable
}

// Strategies returns the ordered candidate strategies for the type.
// The returned slice is a copy; callers may reorder it freely.
func (t Type) Strategies() []Strategy {
	src := table[t].strategies
	out := make([]Strategy, len(src))
	copy(out, src)
	return out
}

// compatiblePairs lists the symmetric type pairs whose resolutions can
// merge into one repair. Deletion conflicts appear nowhere: resolving
// against a disappearing target cannot be combined with anything,
// including another deletion conflict.
var compatiblePairs = map[[2]Type]bool{
	{TypeStructural, TypeStructural}:                         true,
	{TypeSemantic, TypeSemantic}:                             true,
	{TypeOrdering, TypeOrdering}:                             true,
	{TypeConcurrentModification, TypeConcurrentModification}: true,
	{TypeStructural, TypeOrdering}:                           true,
	{TypeSemantic, TypeConcurrentModification}:               true,
}

// CanMergeWith reports whether resolutions for two conflict types can
// be combined into a single repair. The relation is symmetric.
func CanMergeWith(a, b Type) bool {
	return compatiblePairs[[2]Type{a, b}] || compatiblePairs[[2]Type{b, a}]
}

// Conflict records a classified collision between an incoming operation
// and one already applied to the replica.
type Conflict struct {
	Incoming op.Operation `json:"incoming"`
	Applied  op.Operation `json:"applied"`
	Type     Type         `json:"type"`
}

// New classifies the pair and returns the conflict record.
func New(incoming, applied op.Operation) Conflict {
	return Conflict{
		Incoming: incoming,
		Applied:  applied,
		Type:     Classify(incoming, applied),
	}
}

// Key is the deterministic identity of the conflict: the two operation
// IDs joined. Re-detecting the same collision produces the same key.
func (c Conflict) Key() string {
	return c.Incoming.ID + ":" + c.Applied.ID
}

// Severity returns the severity of the conflict's type.
func (c Conflict) Severity() Severity {
	return c.Type.Severity()
}

// Strategies returns the ordered candidate strategies for the
// conflict's type.
func (c Conflict) Strategies() []Strategy {
	return c.Type.Strategies()
}

// AutoResolvable reports whether the conflict's type permits automatic
// resolution.
func (c Conflict) AutoResolvable() bool {
	return c.Type.AutoResolvable()
}
