package store

import (
	"context"
	"errors"
	"testing"

	"github.com/roach88/accord/internal/clock"
	"github.com/roach88/accord/internal/field"
	"github.com/roach88/accord/internal/op"
	"github.com/roach88/accord/internal/testutil"
)

func TestReplay_EmptyJournal(t *testing.T) {
	s := createTestStore(t)

	state, err := s.Replay(context.Background(), "phone")
	if err != nil {
		t.Fatalf("Replay() failed: %v", err)
	}

	if state.Device() != "phone" {
		t.Errorf("Device() = %q, want phone", state.Device())
	}
	if state.AppliedCount() != 0 {
		t.Errorf("AppliedCount() = %d, want 0", state.AppliedCount())
	}
	if !state.Clock().IsEmpty() {
		t.Errorf("Clock() = %v, want empty", state.Clock())
	}
}

func TestReplay_RebuildsState(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first := createTestOperation(t, "phone", testutil.VC("phone:1"),
		op.TypeCreateStatement, "/statement/a", field.Object{
			"text": field.String("original"),
		})
	second := createTestOperation(t, "laptop", testutil.VC("laptop:1", "phone:1"),
		op.TypeUpdateStatement, "/statement/a", field.Object{
			"text": field.String("revised"),
		})

	for _, o := range []op.Operation{first, second} {
		s.RecordOperation(ctx, o)
		s.RecordResult(ctx, "phone", appliedResult(o))
	}

	state, err := s.Replay(ctx, "phone")
	if err != nil {
		t.Fatalf("Replay() failed: %v", err)
	}

	if state.AppliedCount() != 2 {
		t.Errorf("AppliedCount() = %d, want 2", state.AppliedCount())
	}
	if !state.HasApplied(first.ID) || !state.HasApplied(second.ID) {
		t.Error("replayed state missing applied operations")
	}
	if !state.Clock().Equal(testutil.VC("phone:1", "laptop:1")) {
		t.Errorf("Clock() = %v, want {laptop:1, phone:1}", state.Clock())
	}

	// Application order survives replay
	order := state.AppliedOrder()
	if len(order) != 2 || order[0] != first.ID || order[1] != second.ID {
		t.Errorf("AppliedOrder() = %v, want [%.12s %.12s]", order, first.ID, second.ID)
	}
}

func TestReplay_Deterministic(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	ops := []op.Operation{
		createTestOperation(t, "phone", testutil.VC("phone:1"),
			op.TypeCreateStatement, "/statement/a", field.Object{}),
		createTestOperation(t, "laptop", testutil.VC("laptop:1"),
			op.TypeCreateStatement, "/statement/b", field.Object{}),
		createTestOperation(t, "phone", testutil.VC("phone:2", "laptop:1"),
			op.TypeUpdateStatement, "/statement/b", field.Object{}),
	}
	for _, o := range ops {
		s.RecordOperation(ctx, o)
		s.RecordResult(ctx, "phone", appliedResult(o))
	}

	first, err := s.Replay(ctx, "phone")
	if err != nil {
		t.Fatalf("first Replay() failed: %v", err)
	}
	second, err := s.Replay(ctx, "phone")
	if err != nil {
		t.Fatalf("second Replay() failed: %v", err)
	}

	if !first.Clock().Equal(second.Clock()) {
		t.Error("replays disagree on clock")
	}
	firstOrder := first.AppliedOrder()
	secondOrder := second.AppliedOrder()
	if len(firstOrder) != len(secondOrder) {
		t.Fatalf("replays disagree on applied count: %d vs %d", len(firstOrder), len(secondOrder))
	}
	for i := range firstOrder {
		if firstOrder[i] != secondOrder[i] {
			t.Errorf("replays disagree at position %d: %.12s vs %.12s",
				i, firstOrder[i], secondOrder[i])
		}
	}
}

func TestReplay_DivergenceOnTamperedSnapshot(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	o := createTestOperation(t, "phone", testutil.VC("phone:1"),
		op.TypeCreateStatement, "/statement/a", field.Object{})
	s.RecordOperation(ctx, o)
	s.RecordResult(ctx, "phone", appliedResult(o))

	// Corrupt the stored snapshot
	_, err := s.db.Exec(`UPDATE states SET clock = '{"phone":99}' WHERE replica = 'phone'`)
	if err != nil {
		t.Fatalf("failed to tamper with snapshot: %v", err)
	}

	_, err = s.Replay(ctx, "phone")
	var divergence *DivergenceError
	if !errors.As(err, &divergence) {
		t.Fatalf("Replay() error = %v, want DivergenceError", err)
	}

	if divergence.Replica != "phone" {
		t.Errorf("Replica = %q, want phone", divergence.Replica)
	}
	if !divergence.Stored.Equal(testutil.VC("phone:99")) {
		t.Errorf("Stored = %v, want {phone:99}", divergence.Stored)
	}
	if !divergence.Replayed.Equal(testutil.VC("phone:1")) {
		t.Errorf("Replayed = %v, want {phone:1}", divergence.Replayed)
	}
}

func TestReplay_DivergenceOnMissingSnapshot(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	o := createTestOperation(t, "phone", testutil.VC("phone:1"),
		op.TypeCreateStatement, "/statement/a", field.Object{})
	s.RecordOperation(ctx, o)
	s.RecordResult(ctx, "phone", appliedResult(o))

	// Remove the snapshot while the applied log remains
	if _, err := s.db.Exec(`DELETE FROM states WHERE replica = 'phone'`); err != nil {
		t.Fatalf("failed to delete snapshot: %v", err)
	}

	_, err := s.Replay(ctx, "phone")
	var divergence *DivergenceError
	if !errors.As(err, &divergence) {
		t.Fatalf("Replay() error = %v, want DivergenceError", err)
	}
	if !divergence.Stored.IsEmpty() {
		t.Errorf("Stored = %v, want empty clock", divergence.Stored)
	}
}

func TestSummarize_EmptyReplica(t *testing.T) {
	s := createTestStore(t)

	summary, err := s.Summarize(context.Background(), "phone")
	if err != nil {
		t.Fatalf("Summarize() failed: %v", err)
	}

	if summary.Replica != "phone" {
		t.Errorf("Replica = %q, want phone", summary.Replica)
	}
	if summary.Applied != 0 || summary.Pending != 0 || summary.OpenConflicts != 0 {
		t.Errorf("counts = %d/%d/%d, want 0/0/0",
			summary.Applied, summary.Pending, summary.OpenConflicts)
	}
	if !summary.Clock.IsEmpty() {
		t.Errorf("Clock = %v, want empty", summary.Clock)
	}
}

func TestSummarize_Counts(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	applied := createTestOperation(t, "phone", testutil.VC("phone:1"),
		op.TypeCreateStatement, "/statement/a", field.Object{})
	blocked := createTestOperation(t, "laptop", testutil.VC("laptop:2"),
		op.TypeUpdateStatement, "/statement/a", field.Object{})

	s.RecordOperation(ctx, applied)
	s.RecordOperation(ctx, blocked)
	s.RecordResult(ctx, "phone", appliedResult(applied))
	s.RecordResult(ctx, "phone", blockedResult(blocked, "missing causal dependency"))

	summary, err := s.Summarize(ctx, "phone")
	if err != nil {
		t.Fatalf("Summarize() failed: %v", err)
	}

	if summary.Applied != 1 {
		t.Errorf("Applied = %d, want 1", summary.Applied)
	}
	if summary.Pending != 1 {
		t.Errorf("Pending = %d, want 1", summary.Pending)
	}
	if summary.OpenConflicts != 0 {
		t.Errorf("OpenConflicts = %d, want 0", summary.OpenConflicts)
	}
	if !summary.Clock.Equal(testutil.VC("phone:1")) {
		t.Errorf("Clock = %v, want {phone:1}", summary.Clock)
	}
}

func TestListReplicas(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	o := createTestOperation(t, "phone", testutil.VC("phone:1"),
		op.TypeCreateStatement, "/statement/a", field.Object{})
	s.RecordOperation(ctx, o)

	// Journal outcomes on two replicas, out of name order
	s.RecordResult(ctx, "tablet", appliedResult(o))
	s.RecordResult(ctx, "laptop", appliedResult(o))

	replicas, err := s.ListReplicas(ctx)
	if err != nil {
		t.Fatalf("ListReplicas() failed: %v", err)
	}

	want := []clock.DeviceID{"laptop", "tablet"}
	if len(replicas) != len(want) {
		t.Fatalf("len = %d, want %d", len(replicas), len(want))
	}
	for i := range want {
		if replicas[i] != want[i] {
			t.Errorf("replicas[%d] = %q, want %q", i, replicas[i], want[i])
		}
	}
}

func TestListReplicas_Empty(t *testing.T) {
	s := createTestStore(t)

	replicas, err := s.ListReplicas(context.Background())
	if err != nil {
		t.Fatalf("ListReplicas() failed: %v", err)
	}
	if replicas == nil {
		t.Error("expected non-nil empty slice")
	}
	if len(replicas) != 0 {
		t.Errorf("len = %d, want 0", len(replicas))
	}
}

func TestListDevices(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	ops := []op.Operation{
		createTestOperation(t, "phone", testutil.VC("phone:1"),
			op.TypeCreateStatement, "/statement/a", field.Object{}),
		createTestOperation(t, "laptop", testutil.VC("laptop:1"),
			op.TypeCreateStatement, "/statement/b", field.Object{}),
		createTestOperation(t, "phone", testutil.VC("phone:2"),
			op.TypeUpdateStatement, "/statement/a", field.Object{}),
	}
	for _, o := range ops {
		s.RecordOperation(ctx, o)
	}

	devices, err := s.ListDevices(ctx)
	if err != nil {
		t.Fatalf("ListDevices() failed: %v", err)
	}

	want := []clock.DeviceID{"laptop", "phone"}
	if len(devices) != len(want) {
		t.Fatalf("len = %d, want %d", len(devices), len(want))
	}
	for i := range want {
		if devices[i] != want[i] {
			t.Errorf("devices[%d] = %q, want %q", i, devices[i], want[i])
		}
	}
}

func TestLastSeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	seq, err := s.LastSeq(ctx)
	if err != nil {
		t.Fatalf("LastSeq() failed: %v", err)
	}
	if seq != 0 {
		t.Errorf("LastSeq() = %d, want 0 on empty journal", seq)
	}

	o := createTestOperation(t, "phone", testutil.VC("phone:1"),
		op.TypeCreateStatement, "/statement/a", field.Object{})
	s.RecordOperation(ctx, o)
	s.RecordResult(ctx, "phone", appliedResult(o))
	s.RecordResult(ctx, "laptop", appliedResult(o))

	seq, err = s.LastSeq(ctx)
	if err != nil {
		t.Fatalf("LastSeq() failed: %v", err)
	}
	if seq != 2 {
		t.Errorf("LastSeq() = %d, want 2", seq)
	}
}
