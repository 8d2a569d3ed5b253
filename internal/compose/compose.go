// Package compose compacts runs of pending operations from a single
// device into equivalent composite operations before they are shipped
// to other replicas.
//
// Composition is strictly an optimization: it reduces the number of
// operations a replica must deliver without changing the document
// state they produce. It therefore only applies to operations that are
// causally independent: two edits that share a base snapshot and do
// not build on one another. Anything else (cross-device pairs, ordered
// pairs, deletions) must travel uncomposed so the coordinator can see
// the full history.
package compose

import (
	"strings"

	"github.com/roach88/accord/internal/field"
	"github.com/roach88/accord/internal/op"
)

// Strategy selects how two payloads fold into one.
type Strategy string

const (
	// StrategySequential applies the second payload over the first:
	// shared fields take the later value, the rest are unioned.
	StrategySequential Strategy = "SEQUENTIAL"

	// StrategyParallel keeps both payloads side by side for a later
	// decision instead of merging them now.
	StrategyParallel Strategy = "PARALLEL"

	// StrategyMergeContent merges field by field, concatenating
	// divergent text and preferring containing values.
	StrategyMergeContent Strategy = "MERGE_CONTENT"

	// StrategyOverride discards the first payload, retaining it only
	// under the replaced key for audit.
	StrategyOverride Strategy = "OVERRIDE"
)

// Reserved payload keys written by composition. The leading underscore
// keeps them out of the way of document fields, which are named by the
// editing surface and never start with one.
const (
	// KeyComposition records the strategy and source operation IDs on
	// every composed payload.
	KeyComposition = "_composition"

	// KeyParallel holds the two unmerged payloads of a PARALLEL
	// composition.
	KeyParallel = "_parallel"

	// KeyReplaced holds the discarded first payload of an OVERRIDE
	// composition.
	KeyReplaced = "_replaced"
)

// Valid reports whether s is one of the four composition strategies.
func (s Strategy) Valid() bool {
	switch s {
	case StrategySequential, StrategyParallel, StrategyMergeContent, StrategyOverride:
		return true
	}
	return false
}

func (s Strategy) String() string { return string(s) }

// ParseStrategy converts a wire or CLI string into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	st := Strategy(s)
	if !st.Valid() {
		return "", &UnknownStrategyError{Strategy: st}
	}
	return st, nil
}

// AllStrategies returns the closed strategy set in declaration order.
func AllStrategies() []Strategy {
	return []Strategy{StrategySequential, StrategyParallel, StrategyMergeContent, StrategyOverride}
}

// Composer folds operation runs under configurable merge limits.
// The zero value is not usable; construct with NewComposer.
type Composer struct {
	maxContentLen    int
	numericCloseness int64
}

// Option configures a Composer.
type Option func(*Composer)

// WithMaxContentLength caps the length of concatenated text produced
// by MERGE_CONTENT. Past the cap the later value wins outright.
func WithMaxContentLength(n int) Option {
	return func(c *Composer) {
		if n > 0 {
			c.maxContentLen = n
		}
	}
}

// WithNumericCloseness widens the window within which two integer
// field values are treated as compatible rather than conflicting.
func WithNumericCloseness(n int64) Option {
	return func(c *Composer) {
		if n >= 0 {
			c.numericCloseness = n
		}
	}
}

// DefaultMaxContentLength bounds MERGE_CONTENT text concatenation.
const DefaultMaxContentLength = 4096

// NewComposer returns a Composer with default limits, adjusted by opts.
func NewComposer(opts ...Option) *Composer {
	c := &Composer{
		maxContentLen:    DefaultMaxContentLength,
		numericCloseness: 0,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CanCompose reports whether second may fold into first. The relation
// is directional: it is the second operation that joins the first's
// run, so only the second's dependency on the first is disqualifying.
//
// Requirements: same type, same device, same target path, not a
// deletion, and causal independence: the second must not name the
// first as parent, and neither clock may strictly dominate the other.
// Equal clocks are fine: a device's unsynced edits share a snapshot.
func CanCompose(first, second op.Operation) bool {
	ok, _ := composable(first, second)
	return ok
}

func composable(first, second op.Operation) (bool, string) {
	if first.Device != second.Device {
		return false, "operations originate from different devices"
	}
	if first.Type != second.Type {
		return false, "operation types differ"
	}
	if first.TargetPath != second.TargetPath {
		return false, "target paths differ"
	}
	if first.Type.IsDeletion() {
		return false, "deletions do not compose"
	}
	if second.ParentID != "" && second.ParentID == first.ID {
		return false, "second operation causally depends on the first"
	}
	if first.Clock.StrictlyDominates(second.Clock) || second.Clock.StrictlyDominates(first.Clock) {
		return false, "operations are causally ordered"
	}
	return true, ""
}

// Compose folds second into first under the given strategy, returning
// a fresh operation with the merged clock and the first operation's
// parent. The result carries a composition record naming its sources,
// so provenance survives even chained folds.
func (c *Composer) Compose(first, second op.Operation, strategy Strategy) (op.Operation, error) {
	if first.Device != second.Device {
		return op.Operation{}, &CrossDeviceError{
			FirstDevice:  first.Device,
			SecondDevice: second.Device,
			FirstID:      first.ID,
			SecondID:     second.ID,
		}
	}
	if ok, reason := composable(first, second); !ok {
		return op.Operation{}, &IncompatibleError{
			FirstID:  first.ID,
			SecondID: second.ID,
			Reason:   reason,
		}
	}
	return c.fold(first, second, strategy)
}

// fold performs the strategy merge without re-checking preconditions.
// Sequence needs this split: its grouping test runs against the last
// original operation of the group, not the accumulated composite.
func (c *Composer) fold(first, second op.Operation, strategy Strategy) (op.Operation, error) {
	var payload field.Object
	switch strategy {
	case StrategySequential:
		payload = sequentialPayload(first, second)
	case StrategyParallel:
		payload = parallelPayload(first, second)
	case StrategyMergeContent:
		payload = c.mergedPayload(first, second)
	case StrategyOverride:
		payload = overridePayload(first, second)
	default:
		return op.Operation{}, &UnknownStrategyError{Strategy: strategy}
	}
	payload[KeyComposition] = compositionRecord(strategy, first.ID, second.ID)

	merged := first.Clock.Merge(second.Clock)
	composed, err := op.New(first.Device, first.Type, first.TargetPath, payload, merged, first.ParentID)
	if err != nil {
		return op.Operation{}, err
	}
	return composed, nil
}

// DetermineStrategy picks the strategy a pair would compose under:
//
//  1. Both payloads carry content fields: MERGE_CONTENT.
//  2. Structural types: SEQUENTIAL, order is what they express.
//  3. Update pairs whose shared fields are compatible: MERGE_CONTENT;
//     update pairs that collide: OVERRIDE.
//  4. Everything else: SEQUENTIAL.
func (c *Composer) DetermineStrategy(first, second op.Operation) Strategy {
	if op.ContentBearing(first.Payload) && op.ContentBearing(second.Payload) {
		return StrategyMergeContent
	}
	if first.Type.Category() == op.CategoryStructural {
		return StrategySequential
	}
	if first.Type.Verb() == op.VerbUpdate && second.Type.Verb() == op.VerbUpdate {
		if c.fieldsCompatible(first.Payload, second.Payload) {
			return StrategyMergeContent
		}
		return StrategyOverride
	}
	return StrategySequential
}

// fieldsCompatible reports whether every field the two payloads share
// holds compatible values: equal, one text containing the other, or
// integers within the closeness window.
func (c *Composer) fieldsCompatible(a, b field.Object) bool {
	for key, av := range a {
		bv, ok := b[key]
		if !ok {
			continue
		}
		if !c.valuesCompatible(av, bv) {
			return false
		}
	}
	return true
}

func (c *Composer) valuesCompatible(a, b field.Value) bool {
	if field.Equal(a, b) {
		return true
	}
	if as, ok := a.(field.String); ok {
		if bs, ok := b.(field.String); ok {
			return strings.Contains(string(as), string(bs)) || strings.Contains(string(bs), string(as))
		}
	}
	if ai, ok := a.(field.Int); ok {
		if bi, ok := b.(field.Int); ok {
			return absDiff(int64(ai), int64(bi)) <= c.numericCloseness
		}
	}
	return false
}

// Sequence compacts a run of operations by greedy grouping: each
// operation joins the current group when it can compose with the
// group's last original member, otherwise it starts a new group. Each
// group folds left to right under the given strategy. The result is
// never nil; an empty input yields an empty slice.
func (c *Composer) Sequence(ops []op.Operation, strategy Strategy) ([]op.Operation, error) {
	if !strategy.Valid() {
		return nil, &UnknownStrategyError{Strategy: strategy}
	}
	return c.sequence(ops, func(op.Operation, op.Operation) Strategy { return strategy })
}

// SequenceAuto compacts a run like Sequence, picking the strategy for
// each fold with DetermineStrategy.
func (c *Composer) SequenceAuto(ops []op.Operation) ([]op.Operation, error) {
	return c.sequence(ops, c.DetermineStrategy)
}

func (c *Composer) sequence(ops []op.Operation, pick func(first, second op.Operation) Strategy) ([]op.Operation, error) {
	out := make([]op.Operation, 0, len(ops))
	if len(ops) == 0 {
		return out, nil
	}
	current := ops[0] // accumulated composite for the open group
	last := ops[0]    // last original member, the grouping anchor
	for _, next := range ops[1:] {
		if CanCompose(last, next) {
			composed, err := c.fold(current, next, pick(current, next))
			if err != nil {
				return nil, err
			}
			current, last = composed, next
			continue
		}
		out = append(out, current)
		current, last = next, next
	}
	return append(out, current), nil
}

func compositionRecord(strategy Strategy, sourceIDs ...string) field.Object {
	ids := make(field.List, 0, len(sourceIDs))
	for _, id := range sourceIDs {
		ids = append(ids, field.String(id))
	}
	return field.Object{
		"strategy": field.String(strategy),
		"sources":  ids,
	}
}

// sequentialPayload unions the payloads, later values winning shared
// fields.
func sequentialPayload(first, second op.Operation) field.Object {
	out := first.Payload.Copy()
	for key, value := range second.Payload {
		out[key] = field.Copy(value)
	}
	return out
}

// parallelPayload defers the merge, carrying both payloads unchanged.
func parallelPayload(first, second op.Operation) field.Object {
	return field.Object{
		KeyParallel: field.List{first.Payload.Copy(), second.Payload.Copy()},
	}
}

// overridePayload takes the second payload wholesale and preserves the
// first for audit.
func overridePayload(first, second op.Operation) field.Object {
	out := second.Payload.Copy()
	out[KeyReplaced] = first.Payload.Copy()
	return out
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
