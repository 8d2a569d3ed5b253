package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/accord/internal/clock"
	"github.com/roach88/accord/internal/engine"
)

// DivergenceError reports a replica whose stored clock snapshot does
// not match the clock replayed from its applied log. Divergence means
// the journal was corrupted or written by a different history; replay
// refuses to hand back a state it cannot vouch for.
type DivergenceError struct {
	Replica  clock.DeviceID
	Stored   clock.VectorClock
	Replayed clock.VectorClock
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("replica %s diverged: stored clock %q, replayed clock %q",
		e.Replica, e.Stored, e.Replayed)
}

// Replay rebuilds a replica's sync state from its applied log and
// verifies the stored clock snapshot matches the replayed clock.
//
// Folding the applied operations in log order reproduces the replica
// exactly: same clock, same applied set, same per-target order. A
// replica with no journal replays to a fresh state.
//
// Returns a DivergenceError when the snapshot and the replayed clock
// disagree.
func (s *Store) Replay(ctx context.Context, replica clock.DeviceID) (*engine.SyncState, error) {
	applied, err := s.AppliedOperations(ctx, replica)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", replica, err)
	}

	state := engine.RestoreSyncState(replica, applied)

	rec, err := s.ReadState(ctx, replica)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// No snapshot. Consistent only if nothing was applied.
		if len(applied) > 0 {
			return nil, &DivergenceError{
				Replica:  replica,
				Stored:   clock.New(),
				Replayed: state.Clock(),
			}
		}
		return state, nil
	case err != nil:
		return nil, fmt.Errorf("replay %s: %w", replica, err)
	}

	if !rec.Clock.Equal(state.Clock()) {
		return nil, &DivergenceError{
			Replica:  replica,
			Stored:   rec.Clock,
			Replayed: state.Clock(),
		}
	}

	return state, nil
}

// ReplicaSummary is the journaled shape of one replica: how much it
// has applied, what is parked, and where its clock stands.
type ReplicaSummary struct {
	Replica       clock.DeviceID
	Applied       int
	Pending       int
	OpenConflicts int
	LastSeq       int64
	Clock         clock.VectorClock
}

// Summarize reports a replica's journaled state without replaying it.
// A replica with no journal summarizes to zeros and an empty clock.
func (s *Store) Summarize(ctx context.Context, replica clock.DeviceID) (ReplicaSummary, error) {
	summary := ReplicaSummary{
		Replica: replica,
		Clock:   clock.New(),
	}

	rec, err := s.ReadState(ctx, replica)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// Nothing applied yet; counts below may still be non-zero.
	case err != nil:
		return summary, fmt.Errorf("summarize %s: %w", replica, err)
	default:
		summary.Applied = rec.Applied
		summary.LastSeq = rec.Seq
		summary.Clock = rec.Clock
	}

	pending, err := s.PendingOperations(ctx, replica)
	if err != nil {
		return summary, fmt.Errorf("summarize %s: %w", replica, err)
	}
	summary.Pending = len(pending)

	open, err := s.OpenConflicts(ctx, replica)
	if err != nil {
		return summary, fmt.Errorf("summarize %s: %w", replica, err)
	}
	summary.OpenConflicts = len(open)

	return summary, nil
}

// ListReplicas returns every replica with journaled outcomes, sorted.
// Used by the status and replay commands to enumerate the session.
func (s *Store) ListReplicas(ctx context.Context) ([]clock.DeviceID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT replica FROM applications
		ORDER BY replica
	`)
	if err != nil {
		return nil, fmt.Errorf("list replicas: %w", err)
	}
	defer rows.Close()

	var replicas []clock.DeviceID
	for rows.Next() {
		var replica string
		if err := rows.Scan(&replica); err != nil {
			return nil, fmt.Errorf("scan replica: %w", err)
		}
		replicas = append(replicas, clock.DeviceID(replica))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate replicas: %w", err)
	}

	if replicas == nil {
		replicas = []clock.DeviceID{}
	}

	return replicas, nil
}

// ListDevices returns every device that authored a recorded operation,
// sorted. Devices and replicas usually coincide, but a device whose
// operations were delivered without ever running a replica of its own
// appears only here.
func (s *Store) ListDevices(ctx context.Context) ([]clock.DeviceID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT device FROM operations
		ORDER BY device
	`)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []clock.DeviceID
	for rows.Next() {
		var device string
		if err := rows.Scan(&device); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, clock.DeviceID(device))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate devices: %w", err)
	}

	if devices == nil {
		devices = []clock.DeviceID{}
	}

	return devices, nil
}

// LastSeq returns the highest application seq in the store.
// Used to resume journaling from the correct position.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var maxSeq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM applications
	`).Scan(&maxSeq)
	if err != nil {
		return 0, fmt.Errorf("get last seq: %w", err)
	}
	return maxSeq, nil
}
