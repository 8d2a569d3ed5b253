package harness

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/accord/internal/clock"
	"github.com/roach88/accord/internal/conflict"
	"github.com/roach88/accord/internal/engine"
	"github.com/roach88/accord/internal/field"
	"github.com/roach88/accord/internal/op"
)

// AssertionError reports one failed assertion with what was expected
// and what the final state actually held.
type AssertionError struct {
	Index    int
	Type     string
	Expected string
	Actual   string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertions[%d] %s: expected %s, got %s", e.Index, e.Type, e.Expected, e.Actual)
}

// evaluateAssertions checks every assertion against the final replica
// states and the journal, returning one message per failure.
func (h *Harness) evaluateAssertions(ctx context.Context, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertClock:
			err = h.assertClock(i, a)
		case AssertCounts:
			err = h.assertCounts(i, a)
		case AssertStatus:
			err = h.assertStatus(i, a)
		case AssertConflict:
			err = h.assertConflict(i, a)
		case AssertConverged:
			err = h.assertConverged(i, a)
		case AssertPayload:
			err = h.assertPayload(i, a)
		case AssertJournal:
			err = h.assertJournal(ctx, i, a)
		default:
			err = fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			failures = append(failures, err.Error())
		}
	}
	return failures
}

func (h *Harness) assertClock(i int, a Assertion) error {
	got := h.replicas[clock.DeviceID(a.Device)].state.Clock().String()
	if got != a.Clock {
		return &AssertionError{
			Index:    i,
			Type:     AssertClock,
			Expected: fmt.Sprintf("%s clock %q", a.Device, a.Clock),
			Actual:   fmt.Sprintf("clock %q", got),
		}
	}
	return nil
}

func (h *Harness) assertCounts(i int, a Assertion) error {
	state := h.replicas[clock.DeviceID(a.Device)].state
	check := func(name string, want *int, got int) error {
		if want != nil && *want != got {
			return &AssertionError{
				Index:    i,
				Type:     AssertCounts,
				Expected: fmt.Sprintf("%s %s count %d", a.Device, name, *want),
				Actual:   fmt.Sprintf("%d", got),
			}
		}
		return nil
	}
	if err := check("applied", a.Applied, state.AppliedCount()); err != nil {
		return err
	}
	if err := check("blocked", a.Blocked, state.BlockedCount()); err != nil {
		return err
	}
	return check("awaiting", a.Awaiting, state.OpenConflictCount())
}

// statusOf reports an operation's position on one replica: APPLIED,
// BLOCKED, AWAITING_USER when an open conflict holds it, or ABSENT.
func statusOf(state *engine.SyncState, id string) string {
	if state.HasApplied(id) {
		return string(engine.StatusApplied)
	}
	for _, blocked := range state.BlockedOps() {
		if blocked.ID == id {
			return string(engine.StatusBlocked)
		}
	}
	for _, cf := range state.OpenConflicts() {
		if cf.Incoming.ID == id {
			return string(engine.StatusAwaitingUser)
		}
	}
	return "ABSENT"
}

func (h *Harness) assertStatus(i int, a Assertion) error {
	state := h.replicas[clock.DeviceID(a.Device)].state
	got := statusOf(state, h.labels[a.Op].ID)
	if got != a.Status {
		return &AssertionError{
			Index:    i,
			Type:     AssertStatus,
			Expected: fmt.Sprintf("%s %s on %s", a.Op, a.Status, a.Device),
			Actual:   got,
		}
	}
	return nil
}

func (h *Harness) assertConflict(i int, a Assertion) error {
	state := h.replicas[clock.DeviceID(a.Device)].state
	key := conflict.New(h.labels[a.Between[0]], h.labels[a.Between[1]]).Key()
	cf, ok := state.Conflict(key)
	if !ok {
		return &AssertionError{
			Index:    i,
			Type:     AssertConflict,
			Expected: fmt.Sprintf("open conflict between %s and %s on %s", a.Between[0], a.Between[1], a.Device),
			Actual:   "no such conflict",
		}
	}
	if a.Conflict != "" && string(cf.Type) != a.Conflict {
		return &AssertionError{
			Index:    i,
			Type:     AssertConflict,
			Expected: fmt.Sprintf("conflict type %s", a.Conflict),
			Actual:   string(cf.Type),
		}
	}
	return nil
}

// assertConverged requires every listed device to hold the same clock
// and the same applied set. Apply order may differ between replicas;
// convergence is about content, not history.
func (h *Harness) assertConverged(i int, a Assertion) error {
	first := h.replicas[clock.DeviceID(a.Devices[0])]
	firstSet := h.appliedSet(first.state)
	for _, name := range a.Devices[1:] {
		rep := h.replicas[clock.DeviceID(name)]
		if !rep.state.Clock().Equal(first.state.Clock()) {
			return &AssertionError{
				Index:    i,
				Type:     AssertConverged,
				Expected: fmt.Sprintf("%s and %s share a clock", a.Devices[0], name),
				Actual:   fmt.Sprintf("%q vs %q", first.state.Clock(), rep.state.Clock()),
			}
		}
		if set := h.appliedSet(rep.state); set != firstSet {
			return &AssertionError{
				Index:    i,
				Type:     AssertConverged,
				Expected: fmt.Sprintf("%s and %s share an applied set", a.Devices[0], name),
				Actual:   fmt.Sprintf("%s applied [%s], %s applied [%s]", a.Devices[0], firstSet, name, set),
			}
		}
	}
	return nil
}

// appliedSet renders a replica's applied operations as a sorted label
// list, for comparison and readable failure messages.
func (h *Harness) appliedSet(state *engine.SyncState) string {
	ids := state.AppliedOrder()
	labels := make([]string, len(ids))
	for i, id := range ids {
		labels[i] = h.labelFor(id)
	}
	sort.Strings(labels)
	return strings.Join(labels, ",")
}

// assertPayload checks the value a reader sees for one payload field
// at a target: the field value of the latest applied operation by
// logical timestamp whose payload carries the field. This is the
// last-writer read rule the resolution layer hands to the domain.
func (h *Harness) assertPayload(i int, a Assertion) error {
	state := h.replicas[clock.DeviceID(a.Device)].state

	var winner op.Operation
	found := false
	for _, applied := range state.AppliedAt(a.Target) {
		if _, ok := applied.Payload[a.Field]; !ok {
			continue
		}
		if !found {
			winner, found = applied, true
			continue
		}
		wts, err := winner.Timestamp()
		if err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
		ats, err := applied.Timestamp()
		if err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
		if ats.After(wts) {
			winner = applied
		}
	}
	if !found {
		return &AssertionError{
			Index:    i,
			Type:     AssertPayload,
			Expected: fmt.Sprintf("field %q at %s on %s", a.Field, a.Target, a.Device),
			Actual:   "no applied operation carries the field",
		}
	}

	want, err := field.FromAny(a.Equals)
	if err != nil {
		return fmt.Errorf("assertions[%d]: %w", i, err)
	}
	got := winner.Payload[a.Field]
	if !field.Equal(got, want) {
		return &AssertionError{
			Index:    i,
			Type:     AssertPayload,
			Expected: fmt.Sprintf("field %q = %s at %s on %s", a.Field, field.MustMarshalCanonical(want), a.Target, a.Device),
			Actual:   string(field.MustMarshalCanonical(got)),
		}
	}
	return nil
}

// assertJournal counts journaled outcomes straight off the
// applications table. Rows are unique per (replica, operation,
// status), so the count is the number of distinct operations that
// reached the status on the device, regardless of retry passes.
func (h *Harness) assertJournal(ctx context.Context, i int, a Assertion) error {
	rows, err := h.store.Query(ctx,
		`SELECT COUNT(*) FROM applications WHERE replica = ? AND status = ?`,
		a.Device, a.Status)
	if err != nil {
		return fmt.Errorf("assertions[%d]: query journal: %w", i, err)
	}
	defer rows.Close()

	var got int
	if rows.Next() {
		if err := rows.Scan(&got); err != nil {
			return fmt.Errorf("assertions[%d]: scan journal count: %w", i, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("assertions[%d]: %w", i, err)
	}
	if got != *a.Count {
		return &AssertionError{
			Index:    i,
			Type:     AssertJournal,
			Expected: fmt.Sprintf("%d %s outcomes journaled for %s", *a.Count, a.Status, a.Device),
			Actual:   fmt.Sprintf("%d", got),
		}
	}
	return nil
}
