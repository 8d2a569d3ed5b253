package engine

import (
	"fmt"
	"sort"

	"github.com/roach88/accord/internal/clock"
	"github.com/roach88/accord/internal/compose"
	"github.com/roach88/accord/internal/conflict"
	"github.com/roach88/accord/internal/field"
	"github.com/roach88/accord/internal/op"
)

// Result reports the outcome of admitting or resolving one operation.
type Result struct {
	// Status is the terminal status of this attempt: APPLIED,
	// DUPLICATE, BLOCKED, or AWAITING_USER.
	Status Status

	// Operation is the operation the attempt concerned.
	Operation op.Operation

	// Reason explains a BLOCKED status, naming the missing dependency.
	Reason string

	// Retryable reports whether a BLOCKED operation can still become
	// ready once more operations apply. False when the clock shows the
	// origin generation was already observed: the operation was
	// superseded (for example by a composite) and should be dropped.
	Retryable bool

	// Conflict is the surfaced conflict for AWAITING_USER. When the
	// operation collided with several applied operations, this is the
	// most severe one; the rest are open on the state as well.
	Conflict *conflict.Conflict

	// Resolution describes how a conflict was settled, for APPLIED
	// results that went through auto-resolution or a decision.
	Resolution *Resolution
}

// Resolution records how a conflict was settled.
type Resolution struct {
	// Strategy that settled the conflict.
	Strategy conflict.Strategy `json:"strategy"`

	// WinnerID names the single surviving operation, for strategies
	// that pick one (last-writer-wins, a user choice).
	WinnerID string `json:"winnerId,omitempty"`

	// LoserIDs names the operations the winner displaced.
	LoserIDs []string `json:"loserIds,omitempty"`

	// Order lists operation IDs in the timestamp order the domain
	// layer should re-apply them, for RETRY_ORDERED.
	Order []string `json:"order,omitempty"`

	// Payload is the replacement payload, when the strategy merged or
	// the decision supplied one.
	Payload field.Object `json:"payload,omitempty"`
}

// Coordinator drives the per-replica state machine. It is stateless
// apart from configuration; all replica state lives in the SyncState
// passed to each call.
//
// Apply and Resolve mutate the given state and must not run
// concurrently against the same SyncState. Wrap the pair in a Runner
// for a safe concurrent inbox.
type Coordinator struct {
	autoResolve bool
	knownOnly   bool
	known       map[clock.DeviceID]bool

	strategyOverride map[conflict.Type]conflict.Strategy
	extraCompatible  map[[2]conflict.Type]bool

	merger *compose.Composer
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithAutoResolve enables or disables automatic resolution of
// auto-resolvable conflict types. Enabled by default; disabling parks
// every conflict for an external decision.
func WithAutoResolve(enabled bool) CoordinatorOption {
	return func(c *Coordinator) {
		c.autoResolve = enabled
	}
}

// WithKnownDevices restricts admission to operations from the listed
// devices. Without this option any device registers implicitly on
// first contact; with it, operations from unlisted devices are hard
// errors. The replica's own device is always allowed.
func WithKnownDevices(devices ...clock.DeviceID) CoordinatorOption {
	return func(c *Coordinator) {
		c.knownOnly = true
		for _, d := range devices {
			c.known[d] = true
		}
	}
}

// WithStrategyOverride replaces the default resolution strategy the
// coordinator uses for a conflict type. The override must be one of
// the type's candidate strategies; others are ignored.
func WithStrategyOverride(t conflict.Type, s conflict.Strategy) CoordinatorOption {
	return func(c *Coordinator) {
		c.strategyOverride[t] = s
	}
}

// WithCompatiblePair widens the conflict-type compatibility relation
// for batched resolution. The pair is registered symmetrically.
func WithCompatiblePair(a, b conflict.Type) CoordinatorOption {
	return func(c *Coordinator) {
		c.extraCompatible[[2]conflict.Type{a, b}] = true
	}
}

// WithComposer sets the composer used for merge-based resolutions,
// carrying content merge limits into three-way merges.
func WithComposer(m *compose.Composer) CoordinatorOption {
	return func(c *Coordinator) {
		if m != nil {
			c.merger = m
		}
	}
}

// NewCoordinator creates a coordinator with auto-resolution enabled
// and implicit device registration, adjusted by opts.
func NewCoordinator(opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		autoResolve:      true,
		known:            make(map[clock.DeviceID]bool),
		strategyOverride: make(map[conflict.Type]conflict.Strategy),
		extraCompatible:  make(map[[2]conflict.Type]bool),
		merger:           compose.NewComposer(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Apply admits one incoming operation against the replica state.
//
// Outcomes, checked in order:
//   - DUPLICATE: the ID is already applied; state unchanged.
//   - BLOCKED: the parent is not applied, or the clock reveals unseen
//     causal predecessors; the operation parks for re-delivery.
//   - AWAITING_USER: the operation conflicts with applied concurrent
//     operations and cannot auto-resolve; the conflicts open on the
//     state and the operation waits for a decision.
//   - APPLIED: directly, or through auto-resolution (Resolution set).
//
// The only errors are hard rejections such as unknown devices;
// blocked and awaiting-user are reported as results.
func (c *Coordinator) Apply(state *SyncState, incoming op.Operation) (Result, error) {
	if state.HasApplied(incoming.ID) {
		return Result{Status: StatusDuplicate, Operation: incoming}, nil
	}

	if err := c.checkDevice(state, incoming); err != nil {
		return Result{}, err
	}

	if reason, retryable, ready := readiness(state, incoming); !ready {
		if retryable {
			state.park(incoming)
		}
		return Result{Status: StatusBlocked, Operation: incoming, Reason: reason, Retryable: retryable}, nil
	}

	conflicts := detectConflicts(state, incoming)
	if len(conflicts) == 0 {
		state.apply(incoming)
		return Result{Status: StatusApplied, Operation: incoming}, nil
	}

	if c.autoResolve && allAutoResolvable(conflicts) {
		res, err := c.autoResolution(incoming, conflicts)
		if err != nil {
			return Result{}, err
		}
		state.apply(incoming)
		return Result{Status: StatusApplied, Operation: incoming, Resolution: &res}, nil
	}

	for _, cf := range conflicts {
		state.openConflict(cf)
	}
	// The operation now waits on a decision, not on causality; if an
	// earlier delivery parked it as blocked, that parking is stale.
	state.dropBlocked(incoming.ID)
	surfaced := mostSevere(conflicts)
	return Result{Status: StatusAwaitingUser, Operation: incoming, Conflict: &surfaced}, nil
}

// checkDevice enforces the known-device restriction. The replica's own
// device and any device already tracked by the state clock count as
// known.
func (c *Coordinator) checkDevice(state *SyncState, incoming op.Operation) error {
	if !c.knownOnly {
		return nil
	}
	d := incoming.Device
	if d == state.Device() || c.known[d] || state.Clock().Counter(d) > 0 {
		return nil
	}
	return NewUnknownDeviceError(d, incoming.ID)
}

// readiness decides READY versus BLOCKED. An operation is ready when
// its declared parent is applied and its clock introduces exactly the
// origin device's next generation without running ahead of the
// replica's view anywhere else.
//
// A stale origin counter is a permanent block: counters only grow, so
// a generation the replica has already observed can never become the
// next one. Everything else clears once the missing dependency applies.
func readiness(state *SyncState, incoming op.Operation) (reason string, retryable, ready bool) {
	if incoming.ParentID != "" && !state.HasApplied(incoming.ParentID) {
		return fmt.Sprintf("parent operation %.12s not applied", incoming.ParentID), true, false
	}

	view := state.Clock()
	origin := incoming.Device
	for _, d := range incoming.Clock.Devices() {
		have := view.Counter(d)
		want := incoming.Clock.Counter(d)
		if d == origin {
			switch {
			case want > have+1:
				return fmt.Sprintf("missing %d operation(s) from origin device %s (clock %d, replica at %d)",
					want-have-1, d, want, have), true, false
			case want <= have:
				return fmt.Sprintf("origin counter %d for device %s already observed (replica at %d); superseded",
					want, d, have), false, false
			}
			continue
		}
		if want > have {
			return fmt.Sprintf("missing %d operation(s) from device %s (clock %d, replica at %d)",
				want-have, d, want, have), true, false
		}
	}
	return "", true, true
}

// detectConflicts finds applied operations on the same target path
// whose clocks are concurrent with the incoming operation and whose
// types do not commute with it. Results follow apply order, so
// detection is deterministic for a given state.
func detectConflicts(state *SyncState, incoming op.Operation) []conflict.Conflict {
	var out []conflict.Conflict
	for _, applied := range state.AppliedAt(incoming.TargetPath) {
		if !incoming.ConcurrentWith(applied) {
			continue
		}
		if incoming.Type.CommutesWith(applied.Type) {
			continue
		}
		out = append(out, conflict.New(incoming, applied))
	}
	return out
}

func allAutoResolvable(conflicts []conflict.Conflict) bool {
	for _, cf := range conflicts {
		if !cf.AutoResolvable() {
			return false
		}
	}
	return true
}

var severityRank = map[conflict.Severity]int{
	conflict.SeverityLow:    0,
	conflict.SeverityMedium: 1,
	conflict.SeverityHigh:   2,
}

// mostSevere picks the conflict to surface: highest severity, earliest
// detected among ties.
func mostSevere(conflicts []conflict.Conflict) conflict.Conflict {
	best := conflicts[0]
	for _, cf := range conflicts[1:] {
		if severityRank[cf.Severity()] > severityRank[best.Severity()] {
			best = cf
		}
	}
	return best
}

// pickStrategy returns the strategy auto-resolution uses for a type:
// the configured override when it is one of the type's candidates,
// otherwise the type's first candidate.
func (c *Coordinator) pickStrategy(t conflict.Type) conflict.Strategy {
	candidates := t.Strategies()
	if override, ok := c.strategyOverride[t]; ok {
		for _, s := range candidates {
			if s == override {
				return override
			}
		}
	}
	return candidates[0]
}

// autoResolution settles a set of auto-resolvable conflicts sharing
// one incoming operation. Participants are the incoming operation plus
// every applied operation it collided with; the strategy decides the
// winner or ordering over all of them at once.
func (c *Coordinator) autoResolution(incoming op.Operation, conflicts []conflict.Conflict) (Resolution, error) {
	participants := make([]op.Operation, 0, len(conflicts)+1)
	participants = append(participants, incoming)
	for _, cf := range conflicts {
		participants = append(participants, cf.Applied)
	}

	strategy := c.pickStrategy(conflicts[0].Type)
	switch strategy {
	case conflict.StrategyLastWriterWins:
		winner, losers, err := lastWriter(participants)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{Strategy: strategy, WinnerID: winner, LoserIDs: losers}, nil

	case conflict.StrategyRetryOrdered:
		order, err := timestampOrder(participants)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{Strategy: strategy, Order: order}, nil

	default:
		// The closed strategy lists for auto-resolvable types offer
		// only the two cases above.
		return Resolution{}, fmt.Errorf("strategy %s cannot auto-resolve", strategy)
	}
}

// lastWriter returns the participant with the latest logical timestamp
// and the IDs it displaced. The timestamp total order makes the choice
// identical on every replica.
func lastWriter(participants []op.Operation) (winnerID string, loserIDs []string, err error) {
	winner := participants[0]
	winnerTS, err := winner.Timestamp()
	if err != nil {
		return "", nil, fmt.Errorf("timestamp for %s: %w", winner.ID, err)
	}
	for _, o := range participants[1:] {
		ts, err := o.Timestamp()
		if err != nil {
			return "", nil, fmt.Errorf("timestamp for %s: %w", o.ID, err)
		}
		if ts.After(winnerTS) || (ts.Equal(winnerTS) && o.ID < winner.ID) {
			winner, winnerTS = o, ts
		}
	}
	for _, o := range participants {
		if o.ID != winner.ID {
			loserIDs = append(loserIDs, o.ID)
		}
	}
	sort.Strings(loserIDs)
	return winner.ID, loserIDs, nil
}

// timestampOrder returns participant IDs sorted by logical timestamp,
// ties broken by ID.
func timestampOrder(participants []op.Operation) ([]string, error) {
	type stamped struct {
		id string
		ts clock.LogicalTimestamp
	}
	stamps := make([]stamped, 0, len(participants))
	for _, o := range participants {
		ts, err := o.Timestamp()
		if err != nil {
			return nil, fmt.Errorf("timestamp for %s: %w", o.ID, err)
		}
		stamps = append(stamps, stamped{id: o.ID, ts: ts})
	}
	sort.Slice(stamps, func(i, j int) bool {
		if cmp := stamps[i].ts.Compare(stamps[j].ts); cmp != 0 {
			return cmp < 0
		}
		return stamps[i].id < stamps[j].id
	})
	out := make([]string, len(stamps))
	for i, s := range stamps {
		out[i] = s.id
	}
	return out, nil
}
