package engine

import (
	"sort"

	"github.com/roach88/accord/internal/clock"
	"github.com/roach88/accord/internal/conflict"
	"github.com/roach88/accord/internal/op"
)

// Status is an operation's position in the coordination lifecycle.
//
// Transitions: PENDING moves to READY or BLOCKED; READY moves to
// APPLIED or CONFLICTED; CONFLICTED moves to AUTO_RESOLVED (then
// APPLIED) or AWAITING_USER. AWAITING_USER holds until an external
// decision re-admits the operation. DUPLICATE is the no-op success for
// re-delivered IDs.
type Status string

const (
	StatusPending      Status = "PENDING"
	StatusReady        Status = "READY"
	StatusBlocked      Status = "BLOCKED"
	StatusApplied      Status = "APPLIED"
	StatusConflicted   Status = "CONFLICTED"
	StatusAutoResolved Status = "AUTO_RESOLVED"
	StatusAwaitingUser Status = "AWAITING_USER"
	StatusDuplicate    Status = "DUPLICATE"
)

func (s Status) String() string { return string(s) }

// Terminal reports whether a delivery attempt ends in this status.
// BLOCKED and AWAITING_USER are resumable, not terminal.
func (s Status) Terminal() bool {
	return s == StatusApplied || s == StatusDuplicate
}

// SyncState is one replica's view of the synchronized history: its
// device identity, its merged vector clock, the applied operations,
// and the operations currently parked as blocked or conflicted.
//
// INVARIANTS:
//   - The clock never decreases; it only merges applied clocks.
//   - An applied operation ID is never removed during a session.
//   - Mutations happen only through Coordinator.Apply and
//     Coordinator.Resolve, one at a time per state.
type SyncState struct {
	device clock.DeviceID
	clk    clock.VectorClock

	applied map[string]op.Operation // by operation ID
	order   []string                // operation IDs in apply order
	byPath  map[string][]string     // target path -> applied IDs in apply order

	blocked   map[string]op.Operation      // parked pending a causal dependency
	conflicts map[string]conflict.Conflict // open, by conflict key
}

// NewSyncState creates the state for a replica at bootstrap: empty
// clock, nothing applied.
func NewSyncState(device clock.DeviceID) *SyncState {
	return &SyncState{
		device:    device,
		clk:       clock.New(),
		applied:   make(map[string]op.Operation),
		byPath:    make(map[string][]string),
		blocked:   make(map[string]op.Operation),
		conflicts: make(map[string]conflict.Conflict),
	}
}

// RestoreSyncState rebuilds a state from an applied-operation log, in
// log order. Used by store replay; the resulting clock is the merge of
// every applied clock.
func RestoreSyncState(device clock.DeviceID, applied []op.Operation) *SyncState {
	s := NewSyncState(device)
	for _, o := range applied {
		s.apply(o)
	}
	return s
}

// Device returns the replica's own identity.
func (s *SyncState) Device() clock.DeviceID {
	return s.device
}

// Clock returns the replica's current merged clock.
func (s *SyncState) Clock() clock.VectorClock {
	return s.clk
}

// HasApplied reports whether an operation ID is in the applied set.
func (s *SyncState) HasApplied(id string) bool {
	_, ok := s.applied[id]
	return ok
}

// Applied returns an applied operation by ID.
func (s *SyncState) Applied(id string) (op.Operation, bool) {
	o, ok := s.applied[id]
	return o, ok
}

// AppliedCount returns the number of applied operations.
func (s *SyncState) AppliedCount() int {
	return len(s.applied)
}

// AppliedOrder returns applied operation IDs in apply order.
func (s *SyncState) AppliedOrder() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// AppliedAt returns the applied operations addressing a target path,
// in apply order. Never nil.
func (s *SyncState) AppliedAt(targetPath string) []op.Operation {
	ids := s.byPath[targetPath]
	out := make([]op.Operation, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.applied[id])
	}
	return out
}

// BlockedOps returns the parked operations in ID order. Never nil.
func (s *SyncState) BlockedOps() []op.Operation {
	ids := make([]string, 0, len(s.blocked))
	for id := range s.blocked {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]op.Operation, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.blocked[id])
	}
	return out
}

// BlockedCount returns the number of parked operations.
func (s *SyncState) BlockedCount() int {
	return len(s.blocked)
}

// Conflict returns an open conflict by key.
func (s *SyncState) Conflict(key string) (conflict.Conflict, bool) {
	c, ok := s.conflicts[key]
	return c, ok
}

// OpenConflicts returns the open conflicts in key order. Never nil.
func (s *SyncState) OpenConflicts() []conflict.Conflict {
	keys := make([]string, 0, len(s.conflicts))
	for k := range s.conflicts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]conflict.Conflict, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.conflicts[k])
	}
	return out
}

// OpenConflictCount returns the number of open conflicts.
func (s *SyncState) OpenConflictCount() int {
	return len(s.conflicts)
}

// apply admits an operation: merges its clock into the replica clock
// and records the ID for idempotent re-delivery. Takes the operation
// out of the blocked set if it was parked there.
func (s *SyncState) apply(o op.Operation) {
	s.clk = s.clk.Merge(o.Clock)
	s.applied[o.ID] = o
	s.order = append(s.order, o.ID)
	s.byPath[o.TargetPath] = append(s.byPath[o.TargetPath], o.ID)
	delete(s.blocked, o.ID)
}

// park records an operation as blocked pending a causal dependency.
func (s *SyncState) park(o op.Operation) {
	s.blocked[o.ID] = o
}

// dropBlocked removes a parked operation without applying it. Nothing
// was applied, so no state invariant is affected.
func (s *SyncState) dropBlocked(id string) {
	delete(s.blocked, id)
}

// openConflict parks a classified conflict for an external decision.
func (s *SyncState) openConflict(c conflict.Conflict) {
	s.conflicts[c.Key()] = c
}

// closeConflict removes a conflict after resolution.
func (s *SyncState) closeConflict(key string) {
	delete(s.conflicts, key)
}
