package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/accord/internal/clock"
	"github.com/roach88/accord/internal/engine"
	"github.com/roach88/accord/internal/field"
	"github.com/roach88/accord/internal/op"
)

// createTestStore creates a file-backed store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestOperation builds a content-addressed operation with the
// given originating clock.
func createTestOperation(t *testing.T, device string, clk clock.VectorClock, typ op.Type, target string, payload field.Object) op.Operation {
	t.Helper()
	o, err := op.New(clock.DeviceID(device), typ, target, payload, clk, "")
	if err != nil {
		t.Fatalf("op.New() failed: %v", err)
	}
	return o
}

// appliedResult wraps an operation in an APPLIED outcome.
func appliedResult(o op.Operation) engine.Result {
	return engine.Result{Status: engine.StatusApplied, Operation: o}
}

// blockedResult wraps an operation in a retryable BLOCKED outcome.
func blockedResult(o op.Operation, reason string) engine.Result {
	return engine.Result{
		Status:    engine.StatusBlocked,
		Operation: o,
		Reason:    reason,
		Retryable: true,
	}
}
