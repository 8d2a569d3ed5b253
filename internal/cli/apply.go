package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/accord/internal/clock"
	"github.com/roach88/accord/internal/engine"
	"github.com/roach88/accord/internal/policy"
	"github.com/roach88/accord/internal/store"
)

// ApplyOptions holds flags for the apply command.
type ApplyOptions struct {
	*RootOptions
}

// OpOutcome is the reported admission outcome for one operation.
type OpOutcome struct {
	Op          string `json:"op"`
	ID          string `json:"id"`
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
	Retryable   bool   `json:"retryable,omitempty"`
	Conflict    string `json:"conflict,omitempty"`
	ConflictKey string `json:"conflict_key,omitempty"`
	Strategy    string `json:"strategy,omitempty"`
	Winner      string `json:"winner,omitempty"`
}

// Rejection is an operation the coordinator refused outright, such as
// one from an unknown device under a strict policy.
type Rejection struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// ApplyResult holds the overall apply outcome for one batch.
type ApplyResult struct {
	Replica   string      `json:"replica"`
	Outcomes  []OpOutcome `json:"outcomes"`
	Unblocked []OpOutcome `json:"unblocked,omitempty"`
	Rejected  []Rejection `json:"rejected,omitempty"`
	Clock     string      `json:"clock"`
	Applied   int         `json:"applied"`
	Duplicate int         `json:"duplicate"`
	Blocked   int         `json:"blocked"`
	Awaiting  int         `json:"awaiting"`
}

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ApplyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "apply <batch.yaml>",
		Short: "Deliver an operation batch to a replica",
		Long: `Deliver a YAML operation batch to a replica and journal the outcomes.

The replica's state is replayed from the journal, operations still
pending from earlier sessions are re-admitted, and the batch is then
delivered in order. Blocked operations that become ready apply
automatically; conflicts the policy cannot auto-resolve park for
'accord resolve'.

Exit codes:
  0 - Batch admitted (outcomes may include blocked or parked operations)
  2 - Command error (missing database, malformed batch, diverged journal)

Examples:
  accord apply --db ./accord.db batch.yaml
  accord apply --db ./accord.db --policy team.cue batch.yaml
  accord apply --db ./accord.db batch.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(opts, args[0], cmd)
		},
	}

	return cmd
}

func runApply(opts *ApplyOptions, batchPath string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if err := requireDatabase(opts.RootOptions); err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return err
	}

	pol, err := loadPolicy(opts.RootOptions)
	if err != nil {
		_ = formatter.Error(ErrCodePolicy, err.Error(), nil)
		return err
	}

	batch, err := LoadBatch(batchPath)
	if err != nil {
		_ = formatter.Error(ErrCodeBatch, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load batch", err)
	}
	entries, err := batch.Build()
	if err != nil {
		_ = formatter.Error(ErrCodeBatch, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to build batch", err)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer st.Close()

	session, err := openSession(ctx, st, pol, batch.Replica)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return err
	}
	formatter.VerboseLog("Delivering %d operation(s) to replica %s", len(entries), batch.Replica)

	for _, e := range entries {
		session.runner.Deliver(e.Op)
	}
	rejected := session.drain(ctx)

	result := ApplyResult{
		Replica:  batch.Replica,
		Outcomes: make([]OpOutcome, 0, len(entries)),
		Rejected: rejected,
		Clock:    session.state.Clock().String(),
	}
	for _, e := range entries {
		res, ok := session.last[e.Op.ID]
		if !ok {
			continue // rejected outright, reported separately
		}
		result.Outcomes = append(result.Outcomes, outcomeFor(e.Label, res))
	}
	for _, id := range session.pendingIDs {
		res, ok := session.last[id]
		if ok && res.Status == engine.StatusApplied {
			result.Unblocked = append(result.Unblocked, outcomeFor(shortID(id), res))
		}
	}
	for _, o := range result.Outcomes {
		switch engine.Status(o.Status) {
		case engine.StatusApplied:
			result.Applied++
		case engine.StatusDuplicate:
			result.Duplicate++
		case engine.StatusBlocked:
			result.Blocked++
		case engine.StatusAwaitingUser:
			result.Awaiting++
		}
	}

	if opts.Format == "json" {
		return outputApplyJSON(cmd, result)
	}
	return outputApplyText(cmd, result)
}

// replicaID validates a replica name from a batch or flag.
func replicaID(name string) (clock.DeviceID, error) {
	id := clock.DeviceID(name)
	if !id.Valid() {
		return "", NewExitError(ExitCommandError, "replica name must be non-empty")
	}
	return id, nil
}

// session is one replayed replica with a live runner over the journal.
type session struct {
	state      *engine.SyncState
	runner     *engine.Runner
	last       map[string]engine.Result // operation ID -> latest outcome
	pendingIDs []string
}

// openSession replays a replica from the journal, re-admits its
// pending operations, and returns a runner ready for new deliveries.
// Re-admission is idempotent: the journal keeps one row per operation
// and status, so re-parking changes nothing.
func openSession(ctx context.Context, st *store.Store, pol policy.Policy, replicaName string) (*session, error) {
	replica, err := replicaID(replicaName)
	if err != nil {
		return nil, err
	}

	state, err := st.Replay(ctx, replica)
	if err != nil {
		var div *store.DivergenceError
		if errors.As(err, &div) {
			return nil, WrapExitError(ExitCommandError, "journal diverged; refusing to apply", err)
		}
		return nil, WrapExitError(ExitCommandError, "failed to replay replica", err)
	}

	s := &session{
		state: state,
		last:  make(map[string]engine.Result),
	}
	runnerOpts := append(pol.RunnerOptions(),
		engine.WithJournal(st),
		engine.WithOnResult(func(res engine.Result) {
			s.last[res.Operation.ID] = res
		}),
	)
	s.runner = engine.NewRunner(pol.NewCoordinator(), state, runnerOpts...)

	pending, err := st.PendingOperations(ctx, replica)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to read pending operations", err)
	}
	for _, o := range pending {
		s.pendingIDs = append(s.pendingIDs, o.ID)
		s.runner.Deliver(o)
	}

	slog.Debug("session opened",
		"replica", replica,
		"applied", state.AppliedCount(),
		"pending", len(pending),
	)
	return s, nil
}

// drain processes the runner's inbox to exhaustion, converting hard
// rejections into reportable entries instead of aborting the batch.
// Anything other than a coordination error ends the drain.
func (s *session) drain(ctx context.Context) []Rejection {
	var rejected []Rejection
	for {
		err := s.runner.Drain(ctx)
		if err == nil {
			return rejected
		}
		var cerr *engine.CoordinationError
		if errors.As(err, &cerr) {
			rejected = append(rejected, Rejection{ID: cerr.OperationID, Message: cerr.Message})
			continue
		}
		rejected = append(rejected, Rejection{Message: err.Error()})
		return rejected
	}
}

// outcomeFor flattens an engine result for output.
func outcomeFor(label string, res engine.Result) OpOutcome {
	o := OpOutcome{
		Op:        label,
		ID:        res.Operation.ID,
		Status:    string(res.Status),
		Reason:    res.Reason,
		Retryable: res.Retryable,
	}
	if res.Conflict != nil {
		o.Conflict = string(res.Conflict.Type)
		o.ConflictKey = res.Conflict.Key()
	}
	if res.Resolution != nil {
		o.Strategy = string(res.Resolution.Strategy)
		o.Winner = res.Resolution.WinnerID
	}
	return o
}

// outputApplyJSON outputs the apply result as JSON.
func outputApplyJSON(cmd *cobra.Command, result ApplyResult) error {
	f := &OutputFormatter{Format: "json", Writer: cmd.OutOrStdout()}
	return f.Success(result)
}

// outputApplyText outputs the apply result as text.
func outputApplyText(cmd *cobra.Command, result ApplyResult) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Applying to replica: %s\n\n", result.Replica)

	for _, o := range result.Outcomes {
		formatOutcome(w, o)
	}
	for _, o := range result.Unblocked {
		fmt.Fprintf(w, "✓ %s APPLIED (previously parked)\n", o.Op)
	}
	for _, r := range result.Rejected {
		fmt.Fprintf(w, "✗ %s rejected: %s\n", shortID(r.ID), r.Message)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Apply Summary: %d applied, %d duplicate, %d blocked, %d awaiting decision\n",
		result.Applied, result.Duplicate, result.Blocked, result.Awaiting)
	fmt.Fprintf(w, "Replica clock: %s\n", result.Clock)
	return nil
}

// formatOutcome writes one operation outcome line.
func formatOutcome(w interface{ Write([]byte) (int, error) }, o OpOutcome) {
	switch engine.Status(o.Status) {
	case engine.StatusApplied:
		if o.Strategy != "" {
			fmt.Fprintf(w, "✓ %s APPLIED (auto-resolved via %s)\n", o.Op, o.Strategy)
			return
		}
		fmt.Fprintf(w, "✓ %s APPLIED\n", o.Op)
	case engine.StatusDuplicate:
		fmt.Fprintf(w, "✓ %s DUPLICATE (already applied)\n", o.Op)
	case engine.StatusBlocked:
		if o.Retryable {
			fmt.Fprintf(w, "✗ %s BLOCKED (%s)\n", o.Op, o.Reason)
			return
		}
		fmt.Fprintf(w, "✗ %s BLOCKED (superseded: %s)\n", o.Op, o.Reason)
	case engine.StatusAwaitingUser:
		fmt.Fprintf(w, "✗ %s AWAITING_USER (%s, key %s)\n", o.Op, o.Conflict, displayKey(o.ConflictKey))
	default:
		fmt.Fprintf(w, "  %s %s\n", o.Op, o.Status)
	}
}
