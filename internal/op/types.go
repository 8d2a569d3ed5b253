// Package op defines the operation model for document synchronization:
// the closed type taxonomy, type-level commutativity, and the immutable
// Operation record devices exchange.
package op

import "fmt"

// Verb is the mutation kind of an operation type.
type Verb string

const (
	VerbCreate Verb = "CREATE"
	VerbUpdate Verb = "UPDATE"
	VerbDelete Verb = "DELETE"
)

// TargetKind is the entity kind an operation type acts on.
type TargetKind string

const (
	KindStatement    TargetKind = "STATEMENT"
	KindArgument     TargetKind = "ARGUMENT"
	KindTree         TargetKind = "TREE"
	KindTreePosition TargetKind = "TREE_POSITION"
	KindConnection   TargetKind = "CONNECTION"
	KindMetadata     TargetKind = "METADATA"
)

// Category partitions operation types by what they disturb.
// STRUCTURAL types change document shape (trees, placements, links);
// SEMANTIC types change content (statements, arguments, metadata).
type Category string

const (
	CategoryStructural Category = "STRUCTURAL"
	CategorySemantic   Category = "SEMANTIC"
)

// Type is a closed enum of valid operation types.
//
// The set is the valid verb x target combinations only. There is
// deliberately no DELETE_TREE_POSITION (positions vanish with their tree
// or argument, never on their own), no CREATE/DELETE_METADATA (document
// metadata always exists), and no UPDATE_CONNECTION (a connection is an
// immutable link; reconnecting is delete + create).
type Type string

const (
	TypeCreateStatement    Type = "CREATE_STATEMENT"
	TypeUpdateStatement    Type = "UPDATE_STATEMENT"
	TypeDeleteStatement    Type = "DELETE_STATEMENT"
	TypeCreateArgument     Type = "CREATE_ARGUMENT"
	TypeUpdateArgument     Type = "UPDATE_ARGUMENT"
	TypeDeleteArgument     Type = "DELETE_ARGUMENT"
	TypeCreateTree         Type = "CREATE_TREE"
	TypeUpdateTree         Type = "UPDATE_TREE"
	TypeDeleteTree         Type = "DELETE_TREE"
	TypeUpdateTreePosition Type = "UPDATE_TREE_POSITION"
	TypeCreateConnection   Type = "CREATE_CONNECTION"
	TypeDeleteConnection   Type = "DELETE_CONNECTION"
	TypeUpdateMetadata     Type = "UPDATE_METADATA"
)

// typeInfo records the derived properties of each valid type.
type typeInfo struct {
	verb   Verb
	target TargetKind
}

// types is the single source of truth for the valid set.
// Adding an entry here is the only way to introduce a new operation type.
var types = map[Type]typeInfo{
	TypeCreateStatement:    {VerbCreate, KindStatement},
	TypeUpdateStatement:    {VerbUpdate, KindStatement},
	TypeDeleteStatement:    {VerbDelete, KindStatement},
	TypeCreateArgument:     {VerbCreate, KindArgument},
	TypeUpdateArgument:     {VerbUpdate, KindArgument},
	TypeDeleteArgument:     {VerbDelete, KindArgument},
	TypeCreateTree:         {VerbCreate, KindTree},
	TypeUpdateTree:         {VerbUpdate, KindTree},
	TypeDeleteTree:         {VerbDelete, KindTree},
	TypeUpdateTreePosition: {VerbUpdate, KindTreePosition},
	TypeCreateConnection:   {VerbCreate, KindConnection},
	TypeDeleteConnection:   {VerbDelete, KindConnection},
	TypeUpdateMetadata:     {VerbUpdate, KindMetadata},
}

// categories maps target kinds to their category.
var categories = map[TargetKind]Category{
	KindStatement:    CategorySemantic,
	KindArgument:     CategorySemantic,
	KindTree:         CategoryStructural,
	KindTreePosition: CategoryStructural,
	KindConnection:   CategoryStructural,
	KindMetadata:     CategorySemantic,
}

// AllTypes returns the valid operation types in declaration order.
// The order is stable across builds and is used for deterministic
// iteration in tests and policy validation.
func AllTypes() []Type {
	return []Type{
		TypeCreateStatement,
		TypeUpdateStatement,
		TypeDeleteStatement,
		TypeCreateArgument,
		TypeUpdateArgument,
		TypeDeleteArgument,
		TypeCreateTree,
		TypeUpdateTree,
		TypeDeleteTree,
		TypeUpdateTreePosition,
		TypeCreateConnection,
		TypeDeleteConnection,
		TypeUpdateMetadata,
	}
}

// Valid reports whether the type is one of the closed valid set.
func (t Type) Valid() bool {
	_, ok := types[t]
	return ok
}

// Verb returns the mutation kind. Zero value for invalid types.
func (t Type) Verb() Verb {
	return types[t].verb
}

// Target returns the entity kind acted on. Zero value for invalid types.
func (t Type) Target() TargetKind {
	return types[t].target
}

// Category returns STRUCTURAL or SEMANTIC. Zero value for invalid types.
func (t Type) Category() Category {
	return categories[types[t].target]
}

// IsDeletion reports whether the type removes its target.
func (t Type) IsDeletion() bool {
	return types[t].verb == VerbDelete
}

// String returns the wire name of the type.
func (t Type) String() string {
	return string(t)
}

// ParseType validates a wire name against the closed set.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown operation type %q", s)
	}
	return t, nil
}
