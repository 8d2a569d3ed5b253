package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/accord/internal/clock"
	"github.com/roach88/accord/internal/op"
)

// Journal persists admission outcomes as they happen. Implemented by
// the store; nil disables persistence.
type Journal interface {
	// RecordOperation saves the operation itself (idempotent by ID).
	RecordOperation(ctx context.Context, o op.Operation) error

	// RecordResult saves one admission outcome for a replica.
	RecordResult(ctx context.Context, replica clock.DeviceID, r Result) error
}

// Runner is the single-writer actor for one replica.
//
// Producers deliver operations and decisions from any goroutine; the
// Run loop processes them one at a time against the replica's
// SyncState. After every successful apply the runner re-admits parked
// operations until no further progress is possible, so arrival order
// never matters beyond efficiency. Re-admissions are bounded by a
// per-operation retry budget.
//
// Thread-safety model:
//   - Deliver(), Decide(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//   - State(): safe only before Run starts or after it returns
//
// ERROR HANDLING: a failed task is logged with its context and the
// loop continues. Coordination errors are deterministic input
// rejections; retrying them would not change the outcome.
type Runner struct {
	coord  *Coordinator
	state  *SyncState
	queue  *taskQueue
	budget *RetryBudget

	journal  Journal
	onResult func(Result)
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithJournal persists every outcome through the given journal.
func WithJournal(j Journal) RunnerOption {
	return func(r *Runner) {
		r.journal = j
	}
}

// WithRetryBudget bounds blocked re-admissions per operation.
//
// Default: 1000 (DefaultMaxRetries).
// Use WithRetryBudget(2) for testing budget exhaustion.
func WithRetryBudget(maxRetries int) RunnerOption {
	return func(r *Runner) {
		if maxRetries > 0 {
			r.budget = NewRetryBudget(maxRetries)
		}
	}
}

// WithOnResult registers a callback invoked from the run loop for
// every outcome. Used by tests and trace collection; the callback must
// not call back into the runner.
func WithOnResult(fn func(Result)) RunnerOption {
	return func(r *Runner) {
		r.onResult = fn
	}
}

// NewRunner creates a runner for one replica state.
func NewRunner(coord *Coordinator, state *SyncState, opts ...RunnerOption) *Runner {
	r := &Runner{
		coord:  coord,
		state:  state,
		queue:  newTaskQueue(),
		budget: NewRetryBudget(DefaultMaxRetries),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Deliver submits an incoming operation for admission.
// Thread-safe: may be called from any goroutine.
//
// Returns false if the runner has been stopped.
func (r *Runner) Deliver(o op.Operation) bool {
	return r.queue.Enqueue(task{kind: taskDeliver, operation: o})
}

// Decide submits an external decision for an open conflict.
// Thread-safe: may be called from any goroutine.
//
// Returns false if the runner has been stopped.
func (r *Runner) Decide(conflictKey string, d Decision) bool {
	return r.queue.Enqueue(task{kind: taskDecide, conflictKey: conflictKey, decision: d})
}

// InboxLen returns the number of pending tasks.
// Useful for monitoring and testing.
func (r *Runner) InboxLen() int {
	return r.queue.Len()
}

// State returns the replica state the runner owns. Callers must not
// touch it while Run is executing.
func (r *Runner) State() *SyncState {
	return r.state
}

// Stop gracefully shuts down the runner.
// Closes the inbox; Run() drains the remaining tasks and returns.
func (r *Runner) Stop() {
	r.queue.Close()
}

// Run starts the single-writer loop for this replica.
// Blocks until the context is cancelled or Stop() is called and the
// inbox has drained.
//
// CRITICAL: must be called from exactly ONE goroutine. All state
// mutation happens here.
func (r *Runner) Run(ctx context.Context) error {
	slog.Info("runner starting", "device", r.state.Device())

	for {
		t, ok := r.queue.TryDequeue()
		if ok {
			if err := r.process(ctx, t); err != nil {
				logTaskError(t, err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("runner stopping: context cancelled", "device", r.state.Device())
			r.queue.Close()
			return ctx.Err()

		case <-r.queue.Wait():
			// The signal channel closes when the inbox closes, so this
			// case fires immediately once Stop is called.
			if r.queue.Len() == 0 {
				slog.Info("runner stopping: inbox closed", "device", r.state.Device())
				return nil
			}
		}
	}
}

// Drain processes queued tasks until the inbox is empty, then
// returns. Synchronous alternative to Run for callers that drive the
// actor step by step from their own goroutine, such as the CLI and
// the scenario harness. The single-writer rule still applies: never
// call Drain concurrently with Run or another Drain.
//
// Unlike Run, Drain returns the first task error instead of only
// logging it; the errored task is consumed and the rest stay queued,
// so continue-on-error callers loop until InboxLen reaches zero.
func (r *Runner) Drain(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		t, ok := r.queue.TryDequeue()
		if !ok {
			return nil
		}
		if err := r.process(ctx, t); err != nil {
			logTaskError(t, err)
			return err
		}
	}
}

// process routes one task. Called only from the single goroutine
// driving Run or Drain.
func (r *Runner) process(ctx context.Context, t task) error {
	switch t.kind {
	case taskDeliver:
		return r.processDelivery(ctx, t.operation)
	case taskDecide:
		return r.processDecision(ctx, t.conflictKey, t.decision)
	default:
		return fmt.Errorf("unknown task kind: %d", t.kind)
	}
}

func (r *Runner) processDelivery(ctx context.Context, incoming op.Operation) error {
	applied, err := r.admit(ctx, incoming)
	if err != nil {
		return err
	}
	if applied {
		r.drainBlocked(ctx)
	}
	return nil
}

func (r *Runner) processDecision(ctx context.Context, key string, d Decision) error {
	res, err := r.coord.Resolve(r.state, key, d)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", key, err)
	}
	r.emit(ctx, res)

	slog.Info("conflict resolved",
		"conflict", key,
		"strategy", d.Strategy,
		"op", res.Operation.ID,
	)

	// The resolution applied an operation, which may unblock others.
	r.drainBlocked(ctx)
	return nil
}

// admit runs one admission attempt with its outcome bookkeeping.
// Returns true when the operation applied.
func (r *Runner) admit(ctx context.Context, incoming op.Operation) (bool, error) {
	res, err := r.coord.Apply(r.state, incoming)
	if err != nil {
		return false, fmt.Errorf("apply %s: %w", incoming.ID, err)
	}
	r.emit(ctx, res)

	switch res.Status {
	case StatusApplied:
		r.budget.Clear(incoming.ID)
		slog.Debug("operation applied",
			"op", incoming.ID,
			"type", incoming.Type,
			"target", incoming.TargetPath,
			"auto_resolved", res.Resolution != nil,
		)
		return true, nil

	case StatusDuplicate:
		r.budget.Clear(incoming.ID)
		slog.Debug("duplicate delivery ignored", "op", incoming.ID)

	case StatusBlocked:
		if !res.Retryable {
			r.budget.Clear(incoming.ID)
			slog.Warn("dropping superseded operation",
				"op", incoming.ID,
				"reason", res.Reason,
			)
			return false, nil
		}
		if err := r.budget.Note(incoming.ID); err != nil {
			r.state.dropBlocked(incoming.ID)
			r.budget.Clear(incoming.ID)
			slog.Warn("dropping blocked operation: retry budget exhausted",
				"op", incoming.ID,
				"reason", res.Reason,
				"error", err,
			)
			return false, nil
		}
		slog.Debug("operation blocked",
			"op", incoming.ID,
			"reason", res.Reason,
			"attempt", r.budget.Attempts(incoming.ID),
		)

	case StatusAwaitingUser:
		slog.Info("conflict awaiting decision",
			"conflict", res.Conflict.Key(),
			"type", res.Conflict.Type,
			"severity", res.Conflict.Severity(),
			"target", incoming.TargetPath,
		)
	}

	return false, nil
}

// drainBlocked re-admits parked operations until a full pass makes no
// progress. Each successful apply can satisfy another operation's
// dependency, so passes repeat while anything applies.
func (r *Runner) drainBlocked(ctx context.Context) {
	for progressed := true; progressed; {
		progressed = false
		for _, blocked := range r.state.BlockedOps() {
			applied, err := r.admit(ctx, blocked)
			if err != nil {
				logTaskError(task{kind: taskDeliver, operation: blocked}, err)
				continue
			}
			if applied {
				progressed = true
			}
		}
	}
}

// emit persists and publishes one outcome. Persistence failures are
// logged and do not stop processing: replica state is authoritative in
// a session and the journal can be rebuilt from re-delivery.
func (r *Runner) emit(ctx context.Context, res Result) {
	if r.journal != nil {
		if err := r.journal.RecordOperation(ctx, res.Operation); err != nil {
			slog.Error("journal operation write failed",
				"error", err,
				"op", res.Operation.ID,
			)
		}
		if err := r.journal.RecordResult(ctx, r.state.Device(), res); err != nil {
			slog.Error("journal result write failed",
				"error", err,
				"op", res.Operation.ID,
				"status", res.Status,
			)
		}
	}
	if r.onResult != nil {
		r.onResult(res)
	}
}

// logTaskError logs a task processing failure with full context.
func logTaskError(t task, err error) {
	switch t.kind {
	case taskDeliver:
		slog.Error("delivery failed",
			"error", err,
			"op", t.operation.ID,
			"device", t.operation.Device,
			"type", t.operation.Type,
			"target", t.operation.TargetPath,
		)
	case taskDecide:
		slog.Error("decision failed",
			"error", err,
			"conflict", t.conflictKey,
			"strategy", t.decision.Strategy,
		)
	default:
		slog.Error("task failed",
			"error", err,
			"kind", t.kind,
		)
	}
}
