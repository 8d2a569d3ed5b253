// Package engine implements the coordination state machine that admits
// synchronized operations into a replica's state.
//
// The coordinator takes one incoming operation at a time and decides
// its fate: duplicate deliveries succeed as no-ops, causally premature
// operations block until their dependencies apply, concurrent
// non-commuting operations become classified conflicts, and everything
// else applies directly. Conflicts either auto-resolve under policy or
// park awaiting an external decision.
//
// ARCHITECTURE:
//
// Single-Writer State:
// Each replica's SyncState is a single-writer resource. All mutations
// flow through Coordinator.Apply and Coordinator.Resolve, called from
// one goroutine at a time. The Runner wraps a coordinator and state in
// an actor loop with a FIFO inbox so concurrent producers can deliver
// operations and decisions safely. Distinct replicas share nothing and
// may run in parallel.
//
// Delivery Flow:
// 1. Operations enqueued to the FIFO inbox (deliveries or decisions)
// 2. Runner.Run() dequeues one task at a time
// 3. Coordinator checks duplicate, readiness, then conflicts
// 4. Applied operations merge their clock into the replica state
// 5. Blocked operations are re-delivered after each successful apply,
//    bounded by a retry budget
//
// CRITICAL PATTERNS:
//
// Causal admission:
// An operation is admitted only when its origin counter is exactly the
// replica's next unseen generation for that device and no other
// counter runs ahead of the replica's view. This makes delivery order
// irrelevant: any interleaving converges to the same state.
//
// Idempotent re-delivery:
// Operation IDs are content-addressed, so re-applying an applied ID is
// detected before any state changes and returns success unchanged.
// Transports may retry freely.
//
// No randomness, no wall clocks. Blocked and awaiting-user are
// expected outcomes, never errors.
package engine
