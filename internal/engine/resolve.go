package engine

import (
	"fmt"

	"github.com/roach88/accord/internal/conflict"
	"github.com/roach88/accord/internal/field"
	"github.com/roach88/accord/internal/op"
)

// Decision carries an external resolution choice for an open conflict:
// the strategy, and the winner or replacement payload when the
// strategy needs one.
type Decision struct {
	// Strategy must be one of the conflict type's candidates.
	Strategy conflict.Strategy

	// WinnerID picks the surviving operation for USER_DECISION_REQUIRED.
	// Must be one of the two conflicting operation IDs.
	WinnerID string

	// Payload supplies a resolved payload: required for user decisions
	// without a winner, optional for THREE_WAY_MERGE (overriding the
	// computed merge).
	Payload field.Object
}

// Resolve settles one open conflict with an external decision. The
// conflict closes, its incoming operation applies (idempotently, if a
// sibling conflict already admitted it), and the result carries the
// resolution for the domain layer.
func (c *Coordinator) Resolve(state *SyncState, key string, d Decision) (Result, error) {
	cf, ok := state.Conflict(key)
	if !ok {
		return Result{}, NewUnknownConflictError(key)
	}

	res, err := c.decide(cf, d)
	if err != nil {
		return Result{}, err
	}

	status := StatusApplied
	if state.HasApplied(cf.Incoming.ID) {
		status = StatusDuplicate
	} else {
		state.apply(cf.Incoming)
	}
	state.closeConflict(key)

	return Result{Status: status, Operation: cf.Incoming, Resolution: &res}, nil
}

// ResolveTogether settles several open conflicts in one pass with a
// single decision. Every pair of conflict types must be compatible
// under the merge relation (plus any configured extra pairs), and the
// strategy must be applicable to every conflict. Validation happens up
// front so a batch either resolves fully or not at all.
func (c *Coordinator) ResolveTogether(state *SyncState, keys []string, d Decision) ([]Result, error) {
	if len(keys) == 0 {
		return []Result{}, nil
	}

	cfs := make([]conflict.Conflict, 0, len(keys))
	for _, key := range keys {
		cf, ok := state.Conflict(key)
		if !ok {
			return nil, NewUnknownConflictError(key)
		}
		cfs = append(cfs, cf)
	}

	for i := range cfs {
		for j := i + 1; j < len(cfs); j++ {
			if !c.compatible(cfs[i].Type, cfs[j].Type) {
				return nil, &CoordinationError{
					Code: ErrCodeIncompatibleConflicts,
					Message: fmt.Sprintf("conflict types %s and %s cannot share a resolution pass",
						cfs[i].Type, cfs[j].Type),
					Details: map[string]string{
						"first":  cfs[i].Key(),
						"second": cfs[j].Key(),
					},
				}
			}
		}
	}

	for i, cf := range cfs {
		if !strategyApplicable(cf, d.Strategy) {
			return nil, notApplicable(keys[i], cf, d.Strategy)
		}
	}

	results := make([]Result, 0, len(keys))
	for _, key := range keys {
		r, err := c.Resolve(state, key, d)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}

// compatible reports whether two conflict types may share a resolution
// pass, honoring configured widenings of the base relation.
func (c *Coordinator) compatible(a, b conflict.Type) bool {
	if conflict.CanMergeWith(a, b) {
		return true
	}
	return c.extraCompatible[[2]conflict.Type{a, b}] || c.extraCompatible[[2]conflict.Type{b, a}]
}

func strategyApplicable(cf conflict.Conflict, s conflict.Strategy) bool {
	for _, candidate := range cf.Strategies() {
		if candidate == s {
			return true
		}
	}
	return false
}

func notApplicable(key string, cf conflict.Conflict, s conflict.Strategy) *CoordinationError {
	return &CoordinationError{
		Code: ErrCodeStrategyNotApplicable,
		Message: fmt.Sprintf("strategy %s is not a candidate for %s (candidates: %v)",
			s, cf.Type, cf.Strategies()),
		ConflictKey: key,
	}
}

// decide builds the resolution a decision produces for one conflict.
func (c *Coordinator) decide(cf conflict.Conflict, d Decision) (Resolution, error) {
	if !strategyApplicable(cf, d.Strategy) {
		return Resolution{}, notApplicable(cf.Key(), cf, d.Strategy)
	}

	pair := []string{cf.Incoming.ID, cf.Applied.ID}

	switch d.Strategy {
	case conflict.StrategyLastWriterWins:
		winner, losers, err := lastWriter([]op.Operation{cf.Incoming, cf.Applied})
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{Strategy: d.Strategy, WinnerID: winner, LoserIDs: losers}, nil

	case conflict.StrategyRetryOrdered:
		order, err := timestampOrder([]op.Operation{cf.Incoming, cf.Applied})
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{Strategy: d.Strategy, Order: order}, nil

	case conflict.StrategyKeepBoth:
		// Both operations stand; the domain layer keeps two variants.
		return Resolution{Strategy: d.Strategy}, nil

	case conflict.StrategyThreeWayMerge:
		payload := d.Payload
		if payload == nil {
			payload = c.merger.MergeObjects(cf.Applied.Payload, cf.Incoming.Payload)
		}
		return Resolution{Strategy: d.Strategy, Payload: payload}, nil

	case conflict.StrategyUserDecision:
		if d.WinnerID == "" && d.Payload == nil {
			return Resolution{}, &CoordinationError{
				Code:        ErrCodeIncompleteDecision,
				Message:     "user decision requires a winner or a resolved payload",
				ConflictKey: cf.Key(),
			}
		}
		if d.WinnerID != "" && d.WinnerID != cf.Incoming.ID && d.WinnerID != cf.Applied.ID {
			return Resolution{}, &CoordinationError{
				Code:        ErrCodeIncompleteDecision,
				Message:     fmt.Sprintf("winner %.12s is not one of the conflicting operations %v", d.WinnerID, pair),
				ConflictKey: cf.Key(),
			}
		}
		res := Resolution{Strategy: d.Strategy, WinnerID: d.WinnerID, Payload: d.Payload}
		if d.WinnerID == cf.Incoming.ID {
			res.LoserIDs = []string{cf.Applied.ID}
		} else if d.WinnerID == cf.Applied.ID {
			res.LoserIDs = []string{cf.Incoming.ID}
		}
		return res, nil

	default:
		return Resolution{}, notApplicable(cf.Key(), cf, d.Strategy)
	}
}
