// Package store provides SQLite-backed durable storage for the accord
// operation log.
//
// The store persists four things about a sync session:
//   - Operations: the content-addressed operation records themselves
//   - Applications: each replica's admission outcomes, in admission order
//   - Conflicts: surfaced conflicts with their classification and the
//     strategy that eventually settled them
//   - States: per-replica vector clock snapshots, folded forward on
//     every apply
//
// # Patterns
//
// Outcome-level idempotency
//   - UNIQUE(replica, operation_id, status) constraint
//   - Re-recording a delivered duplicate never perturbs the log
//
// Logical order only
//   - All ordering uses seq INTEGER (insertion order), NEVER timestamps
//   - Enables deterministic replay regardless of wall time
//
// Deterministic query results
//   - All queries include: ORDER BY seq ASC, id COLLATE BINARY ASC
//   - Ensures identical results across replays
//
// Snapshot consistency
//   - The applied-log insert and the state clock fold commit in one
//     transaction; Replay verifies the snapshot against the replayed
//     clock and refuses a diverged journal
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Payloads and clocks are stored as RFC 8785 canonical JSON TEXT, the
// same bytes the content-addressed operation IDs are derived from.
package store
