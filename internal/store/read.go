package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/accord/internal/clock"
	"github.com/roach88/accord/internal/conflict"
	"github.com/roach88/accord/internal/engine"
	"github.com/roach88/accord/internal/op"
)

// Application is one journaled admission outcome for a replica.
type Application struct {
	Seq         int64
	Replica     clock.DeviceID
	OperationID string
	Status      engine.Status
	Reason      string
	Retryable   bool
	Resolution  *engine.Resolution
}

// ConflictRecord is one journaled conflict: opened when a replica
// surfaced it, resolved when a decision or auto-resolution settled it.
type ConflictRecord struct {
	Replica    clock.DeviceID
	Key        string
	IncomingID string
	AppliedID  string
	Type       conflict.Type
	Severity   conflict.Severity
	Status     string // "OPEN" or "RESOLVED"
	Strategy   conflict.Strategy
	Seq        int64
}

// StateRecord is a replica's persisted clock snapshot.
type StateRecord struct {
	Replica clock.DeviceID
	Clock   clock.VectorClock
	Applied int
	Seq     int64
}

// ReadOperation retrieves a single operation by ID.
// Returns ErrNotFound if no such operation is recorded.
func (s *Store) ReadOperation(ctx context.Context, id string) (op.Operation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, device, type, target_path, payload, clock, parent_id
		FROM operations
		WHERE id = ?
	`, id)

	return scanOperationRow(row)
}

// ReadAllOperations returns every recorded operation in arrival order.
// Results ordered by seq ASC, id COLLATE BINARY ASC for deterministic
// replay.
//
// Returns an empty slice (not nil) if no operations are recorded.
func (s *Store) ReadAllOperations(ctx context.Context) ([]op.Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, device, type, target_path, payload, clock, parent_id
		FROM operations
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query all operations: %w", err)
	}
	defer rows.Close()

	return collectOperations(rows)
}

// ReadOperationsForDevice returns one device's recorded operations in
// arrival order.
func (s *Store) ReadOperationsForDevice(ctx context.Context, device clock.DeviceID) ([]op.Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, device, type, target_path, payload, clock, parent_id
		FROM operations
		WHERE device = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, string(device))
	if err != nil {
		return nil, fmt.Errorf("query operations for device: %w", err)
	}
	defer rows.Close()

	return collectOperations(rows)
}

// ReadOperationsForTarget returns the recorded operations addressing a
// target path, in arrival order. The timeline of one entity.
func (s *Store) ReadOperationsForTarget(ctx context.Context, targetPath string) ([]op.Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, device, type, target_path, payload, clock, parent_id
		FROM operations
		WHERE target_path = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, targetPath)
	if err != nil {
		return nil, fmt.Errorf("query operations for target: %w", err)
	}
	defer rows.Close()

	return collectOperations(rows)
}

// AppliedOperations returns the operations a replica has applied, in
// apply order. This is the input to replay: folding these operations
// into a fresh state reproduces the replica exactly.
func (s *Store) AppliedOperations(ctx context.Context, replica clock.DeviceID) ([]op.Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.id, o.device, o.type, o.target_path, o.payload, o.clock, o.parent_id
		FROM operations o
		JOIN applications a ON a.operation_id = o.id
		WHERE a.replica = ? AND a.status = ?
		ORDER BY a.seq ASC, o.id COLLATE BINARY ASC
	`, string(replica), string(engine.StatusApplied))
	if err != nil {
		return nil, fmt.Errorf("query applied operations: %w", err)
	}
	defer rows.Close()

	return collectOperations(rows)
}

// PendingOperations returns the operations a replica has seen but not
// yet applied: outcomes journaled as blocked or awaiting a decision,
// with no later apply. Re-delivering these against a replayed state
// reproduces the replica's parked set.
func (s *Store) PendingOperations(ctx context.Context, replica clock.DeviceID) ([]op.Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.id, o.device, o.type, o.target_path, o.payload, o.clock, o.parent_id
		FROM operations o
		WHERE EXISTS (
			SELECT 1 FROM applications a
			WHERE a.operation_id = o.id AND a.replica = ?
		)
		AND NOT EXISTS (
			SELECT 1 FROM applications a
			WHERE a.operation_id = o.id AND a.replica = ?
			AND a.status IN (?, ?)
		)
		ORDER BY o.seq ASC, o.id COLLATE BINARY ASC
	`, string(replica), string(replica),
		string(engine.StatusApplied), string(engine.StatusDuplicate))
	if err != nil {
		return nil, fmt.Errorf("query pending operations: %w", err)
	}
	defer rows.Close()

	return collectOperations(rows)
}

// ReadApplications returns a replica's journaled outcomes in admission
// order. Results ordered by seq ASC per the append-only log.
func (s *Store) ReadApplications(ctx context.Context, replica clock.DeviceID) ([]Application, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, replica, operation_id, status, reason, retryable, resolution
		FROM applications
		WHERE replica = ?
		ORDER BY seq ASC
	`, string(replica))
	if err != nil {
		return nil, fmt.Errorf("query applications: %w", err)
	}
	defer rows.Close()

	var apps []Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applications: %w", err)
	}

	if apps == nil {
		apps = []Application{}
	}

	return apps, nil
}

// ReadConflicts returns every journaled conflict for a replica, open
// and resolved, in surfacing order.
func (s *Store) ReadConflicts(ctx context.Context, replica clock.DeviceID) ([]ConflictRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT replica, key, incoming_id, applied_id, type, severity, status, strategy, seq
		FROM conflicts
		WHERE replica = ?
		ORDER BY seq ASC, key COLLATE BINARY ASC
	`, string(replica))
	if err != nil {
		return nil, fmt.Errorf("query conflicts: %w", err)
	}
	defer rows.Close()

	return collectConflicts(rows)
}

// OpenConflicts returns a replica's unresolved conflicts in surfacing
// order.
func (s *Store) OpenConflicts(ctx context.Context, replica clock.DeviceID) ([]ConflictRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT replica, key, incoming_id, applied_id, type, severity, status, strategy, seq
		FROM conflicts
		WHERE replica = ? AND status = 'OPEN'
		ORDER BY seq ASC, key COLLATE BINARY ASC
	`, string(replica))
	if err != nil {
		return nil, fmt.Errorf("query open conflicts: %w", err)
	}
	defer rows.Close()

	return collectConflicts(rows)
}

// ReadState retrieves a replica's clock snapshot.
// Returns ErrNotFound if the replica has never applied anything.
func (s *Store) ReadState(ctx context.Context, replica clock.DeviceID) (StateRecord, error) {
	var rec StateRecord
	var replicaStr, clockJSON string

	err := s.db.QueryRowContext(ctx, `
		SELECT replica, clock, applied, seq
		FROM states
		WHERE replica = ?
	`, string(replica)).Scan(&replicaStr, &clockJSON, &rec.Applied, &rec.Seq)
	if err != nil {
		return StateRecord{}, err
	}

	rec.Replica = clock.DeviceID(replicaStr)
	rec.Clock, err = unmarshalClock(clockJSON)
	if err != nil {
		return StateRecord{}, err
	}

	return rec, nil
}

// collectOperations drains a row set of operation columns.
// Returns an empty slice (not nil) when the set is empty.
func collectOperations(rows *sql.Rows) ([]op.Operation, error) {
	var ops []op.Operation
	for rows.Next() {
		o, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operations: %w", err)
	}

	if ops == nil {
		ops = []op.Operation{}
	}

	return ops, nil
}

// collectConflicts drains a row set of conflict columns.
func collectConflicts(rows *sql.Rows) ([]ConflictRecord, error) {
	var records []ConflictRecord
	for rows.Next() {
		var rec ConflictRecord
		var replica, typ, severity, strategy string
		if err := rows.Scan(
			&replica, &rec.Key, &rec.IncomingID, &rec.AppliedID,
			&typ, &severity, &rec.Status, &strategy, &rec.Seq,
		); err != nil {
			return nil, fmt.Errorf("scan conflict: %w", err)
		}
		rec.Replica = clock.DeviceID(replica)
		rec.Type = conflict.Type(typ)
		rec.Severity = conflict.Severity(severity)
		rec.Strategy = conflict.Strategy(strategy)
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conflicts: %w", err)
	}

	if records == nil {
		records = []ConflictRecord{}
	}

	return records, nil
}

// scanOperation scans a row into an Operation.
// Restore trusts the stored ID; replay re-verifies it when asked.
func scanOperation(rows *sql.Rows) (op.Operation, error) {
	var id, device, typ, targetPath, payloadJSON, clockJSON, parentID string

	if err := rows.Scan(
		&id, &device, &typ, &targetPath, &payloadJSON, &clockJSON, &parentID,
	); err != nil {
		return op.Operation{}, fmt.Errorf("scan operation: %w", err)
	}

	return restoreOperation(id, device, typ, targetPath, payloadJSON, clockJSON, parentID)
}

// scanOperationRow scans a single row into an Operation.
func scanOperationRow(row *sql.Row) (op.Operation, error) {
	var id, device, typ, targetPath, payloadJSON, clockJSON, parentID string

	if err := row.Scan(
		&id, &device, &typ, &targetPath, &payloadJSON, &clockJSON, &parentID,
	); err != nil {
		return op.Operation{}, err
	}

	return restoreOperation(id, device, typ, targetPath, payloadJSON, clockJSON, parentID)
}

// restoreOperation rebuilds an Operation from stored columns.
func restoreOperation(id, device, typ, targetPath, payloadJSON, clockJSON, parentID string) (op.Operation, error) {
	payload, err := unmarshalPayload(payloadJSON)
	if err != nil {
		return op.Operation{}, err
	}

	clk, err := unmarshalClock(clockJSON)
	if err != nil {
		return op.Operation{}, err
	}

	return op.Restore(id, clock.DeviceID(device), op.Type(typ), targetPath, payload, clk, parentID), nil
}

// scanApplication scans a row into an Application.
func scanApplication(rows *sql.Rows) (Application, error) {
	var a Application
	var replica, status, resolutionJSON string

	if err := rows.Scan(
		&a.Seq, &replica, &a.OperationID, &status, &a.Reason, &a.Retryable, &resolutionJSON,
	); err != nil {
		return Application{}, fmt.Errorf("scan application: %w", err)
	}

	a.Replica = clock.DeviceID(replica)
	a.Status = engine.Status(status)

	res, err := unmarshalResolution(resolutionJSON)
	if err != nil {
		return Application{}, err
	}
	a.Resolution = res

	return a, nil
}
