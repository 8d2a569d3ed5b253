package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/accord/internal/clock"
	"github.com/roach88/accord/internal/conflict"
	"github.com/roach88/accord/internal/engine"
	"github.com/roach88/accord/internal/op"
)

// Store implements engine.Journal: a Runner configured with
// WithJournal(store) persists every operation and admission outcome as
// it happens.
var _ engine.Journal = (*Store)(nil)

// RecordOperation inserts an operation record into the log.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - the ID is
// content-addressed, so a duplicate ID always carries identical
// content and is silently ignored.
//
// The operation's payload and clock are serialized to canonical JSON
// per RFC 8785, so the stored bytes are exactly the bytes the ID was
// derived from.
func (s *Store) RecordOperation(ctx context.Context, o op.Operation) error {
	payloadJSON, err := marshalPayload(o.Payload)
	if err != nil {
		return fmt.Errorf("record operation: %w", err)
	}

	clockJSON, err := marshalClock(o.Clock)
	if err != nil {
		return fmt.Errorf("record operation: %w", err)
	}

	// seq is the arrival position; the subselect is safe because the
	// pool is capped at one connection.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO operations
		(id, device, type, target_path, payload, clock, parent_id, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM operations))
		ON CONFLICT(id) DO NOTHING
	`,
		o.ID,
		string(o.Device),
		string(o.Type),
		o.TargetPath,
		payloadJSON,
		clockJSON,
		o.ParentID,
	)
	if err != nil {
		return fmt.Errorf("record operation: %w", err)
	}

	return nil
}

// RecordResult inserts one admission outcome for a replica and applies
// the outcome's side effects to the rest of the log, atomically:
//
//   - APPLIED folds the operation's clock into the replica's state
//     snapshot.
//   - AWAITING_USER opens a conflict record for the surfaced conflict.
//   - BLOCKED records the outcome only.
//   - Any outcome carrying a resolution marks the conflicts it settled
//     as RESOLVED, including DUPLICATE outcomes from a decision whose
//     sibling already admitted the operation.
//
// Uses ON CONFLICT(replica, operation_id, status) DO NOTHING: the
// journal keeps one row per distinct outcome, so re-recording a
// re-delivered duplicate or a repeated blocked attempt never perturbs
// the log or the state snapshot.
//
// Note: The operation referenced by the result must already be
// recorded (foreign key constraint); the Runner records the operation
// before the outcome.
func (s *Store) RecordResult(ctx context.Context, replica clock.DeviceID, r engine.Result) error {
	resolutionJSON, err := marshalResolution(r.Resolution)
	if err != nil {
		return fmt.Errorf("record result: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record result: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	// Try to insert the outcome (claims the slot atomically via the
	// unique constraint).
	result, err := tx.ExecContext(ctx, `
		INSERT INTO applications
		(replica, operation_id, status, reason, retryable, resolution)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(replica, operation_id, status) DO NOTHING
	`,
		string(replica),
		r.Operation.ID,
		string(r.Status),
		r.Reason,
		r.Retryable,
		resolutionJSON,
	)
	if err != nil {
		return fmt.Errorf("record result: insert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("record result: rows affected: %w", err)
	}

	if rowsAffected == 0 {
		// Outcome already journaled; side effects ran with the first
		// recording.
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("record result: commit (existing): %w", err)
		}
		return nil
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("record result: last insert id: %w", err)
	}

	switch r.Status {
	case engine.StatusApplied:
		if err := foldState(ctx, tx, replica, r.Operation.Clock, seq); err != nil {
			return fmt.Errorf("record result: %w", err)
		}

	case engine.StatusAwaitingUser:
		if r.Conflict != nil {
			if err := openConflict(ctx, tx, replica, r, seq); err != nil {
				return fmt.Errorf("record result: %w", err)
			}
		}
	}

	// A resolution settles conflicts whether the incoming operation
	// applied just now or a sibling decision already admitted it
	// (DUPLICATE outcome).
	if r.Resolution != nil {
		if err := closeConflicts(ctx, tx, replica, r.Operation.ID, r.Resolution.Strategy); err != nil {
			return fmt.Errorf("record result: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record result: commit: %w", err)
	}

	return nil
}

// foldState merges an applied operation's clock into the replica's
// state snapshot. The read and write run inside the caller's
// transaction, so the fold is atomic with the applied-log insert.
func foldState(ctx context.Context, tx *sql.Tx, replica clock.DeviceID, opClock clock.VectorClock, seq int64) error {
	var clockJSON string
	var applied int
	current := clock.New()

	err := tx.QueryRowContext(ctx, `
		SELECT clock, applied FROM states WHERE replica = ?
	`, string(replica)).Scan(&clockJSON, &applied)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// First apply for this replica; fold from the empty clock.
	case err != nil:
		return fmt.Errorf("read state: %w", err)
	default:
		current, err = unmarshalClock(clockJSON)
		if err != nil {
			return fmt.Errorf("read state: %w", err)
		}
	}

	mergedJSON, err := marshalClock(current.Merge(opClock))
	if err != nil {
		return fmt.Errorf("fold state: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO states (replica, clock, applied, seq)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(replica) DO UPDATE SET
			clock = excluded.clock,
			applied = applied + 1,
			seq = excluded.seq
	`, string(replica), mergedJSON, seq)
	if err != nil {
		return fmt.Errorf("fold state: %w", err)
	}

	return nil
}

// openConflict records the surfaced conflict of an AWAITING_USER
// outcome. Only the surfaced (most severe) conflict is journaled; when
// sibling conflicts over the same incoming operation exist, resolving
// the surfaced one settles them all in one decision.
func openConflict(ctx context.Context, tx *sql.Tx, replica clock.DeviceID, r engine.Result, seq int64) error {
	cf := r.Conflict
	_, err := tx.ExecContext(ctx, `
		INSERT INTO conflicts
		(replica, key, incoming_id, applied_id, type, severity, status, seq)
		VALUES (?, ?, ?, ?, ?, ?, 'OPEN', ?)
		ON CONFLICT(replica, key) DO NOTHING
	`,
		string(replica),
		cf.Key(),
		cf.Incoming.ID,
		cf.Applied.ID,
		string(cf.Type),
		string(cf.Type.Severity()),
		seq,
	)
	if err != nil {
		return fmt.Errorf("open conflict: %w", err)
	}
	return nil
}

// closeConflicts marks the open conflicts settled by an apply as
// RESOLVED with the deciding strategy. Matching on the incoming
// operation closes every sibling conflict the decision covered.
func closeConflicts(ctx context.Context, tx *sql.Tx, replica clock.DeviceID, incomingID string, strategy conflict.Strategy) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE conflicts
		SET status = 'RESOLVED', strategy = ?
		WHERE replica = ? AND incoming_id = ? AND status = 'OPEN'
	`, string(strategy), string(replica), incomingID)
	if err != nil {
		return fmt.Errorf("close conflicts: %w", err)
	}
	return nil
}
