package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/accord/internal/conflict"
	"github.com/roach88/accord/internal/engine"
	"github.com/roach88/accord/internal/field"
	"github.com/roach88/accord/internal/store"
)

// ResolveOptions holds flags for the resolve command.
type ResolveOptions struct {
	*RootOptions
	Replica  string // replica holding the conflict
	Strategy string // resolution strategy
	Winner   string // surviving operation ID or prefix
	Payload  string // replacement payload as JSON
}

// ResolveResult holds the outcome of a resolution.
type ResolveResult struct {
	Replica    string             `json:"replica"`
	Key        string             `json:"key"`
	Outcome    OpOutcome          `json:"outcome"`
	Resolution *engine.Resolution `json:"resolution,omitempty"`
	Unblocked  []OpOutcome        `json:"unblocked,omitempty"`
	Clock      string             `json:"clock"`
}

// NewResolveCommand creates the resolve command.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResolveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resolve <conflict-key>",
		Short: "Settle a parked conflict with a decision",
		Long: `Settle a conflict that is awaiting a user decision.

The conflict key is the two operation IDs joined by a colon, as printed
by status; a unique prefix of either form is accepted. The strategy
must be one of the candidates status lists for the conflict. Strategies
that pick a survivor need --winner; a user decision may instead supply
the resolved payload with --payload.

Exit codes:
  0 - Conflict resolved and the operation applied
  1 - Decision rejected or conflict not found
  2 - Command error (missing database or flags, malformed payload)

Examples:
  accord resolve a1b2c3d4 --db ./accord.db --replica laptop --strategy THREE_WAY_MERGE
  accord resolve a1b2c3d4:9f8e7d6c --db ./accord.db --replica laptop \
    --strategy USER_DECISION_REQUIRED --winner a1b2c3d4
  accord resolve a1b2c3d4 --db ./accord.db --replica laptop \
    --strategy USER_DECISION_REQUIRED --payload '{"title": "merged by hand"}'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Replica, "replica", "", "replica holding the conflict (required)")
	cmd.Flags().StringVar(&opts.Strategy, "strategy", "", "resolution strategy (required)")
	cmd.Flags().StringVar(&opts.Winner, "winner", "", "ID or prefix of the surviving operation")
	cmd.Flags().StringVar(&opts.Payload, "payload", "", "replacement payload as a JSON object")

	return cmd
}

func runResolve(opts *ResolveOptions, keyArg string, cmd *cobra.Command) error {
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
	if opts.Replica == "" {
		msg := "no replica: set --replica to the replica holding the conflict"
		_ = formatter.Error(ErrCodeDecision, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}

	strategy, err := parseStrategyFlag(opts.Strategy)
	if err != nil {
		_ = formatter.Error(ErrCodeDecision, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid strategy", err)
	}

	var payload field.Object
	if opts.Payload != "" {
		payload, err = field.UnmarshalObject([]byte(opts.Payload))
		if err != nil {
			_ = formatter.Error(ErrCodeDecision, fmt.Sprintf("malformed payload: %v", err), nil)
			return WrapExitError(ExitCommandError, "malformed payload", err)
		}
	}

	pol, err := loadPolicy(opts.RootOptions)
	if err != nil {
		_ = formatter.Error(ErrCodePolicy, err.Error(), nil)
		return err
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer st.Close()

	replica, err := replicaID(opts.Replica)
	if err != nil {
		_ = formatter.Error(ErrCodeDecision, err.Error(), nil)
		return err
	}
	open, err := st.OpenConflicts(ctx, replica)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read conflicts", err)
	}
	rec, err := matchConflict(open, keyArg)
	if err != nil {
		_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
		return WrapExitError(ExitFailure, "conflict not found", err)
	}

	decision := engine.Decision{Strategy: strategy, Payload: payload}
	if opts.Winner != "" {
		winner, werr := matchWinner(rec, opts.Winner)
		if werr != nil {
			_ = formatter.Error(ErrCodeDecision, werr.Error(), nil)
			return WrapExitError(ExitCommandError, "invalid winner", werr)
		}
		decision.WinnerID = winner
	}

	session, err := openSession(ctx, st, pol, opts.Replica)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return err
	}
	if rejected := session.drain(ctx); len(rejected) > 0 {
		// Re-admission of pending operations is journal replay; it
		// should never be rejected.
		msg := rejected[0].Message
		_ = formatter.Error(ErrCodeStore, msg, nil)
		return NewExitError(ExitFailure, msg)
	}

	formatter.VerboseLog("Deciding conflict %s via %s", displayKey(rec.Key), strategy)
	session.runner.Decide(rec.Key, decision)
	if err := session.runner.Drain(ctx); err != nil {
		var cerr *engine.CoordinationError
		if errors.As(err, &cerr) {
			_ = formatter.Error(ErrCodeDecision, cerr.Message, cerr.Details)
			return WrapExitError(ExitFailure, "decision rejected", err)
		}
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitFailure, "resolve failed", err)
	}

	res, ok := session.last[rec.IncomingID]
	if !ok {
		msg := fmt.Sprintf("conflict %s produced no outcome", displayKey(rec.Key))
		_ = formatter.Error(ErrCodeDecision, msg, nil)
		return NewExitError(ExitFailure, msg)
	}

	result := ResolveResult{
		Replica:    opts.Replica,
		Key:        rec.Key,
		Outcome:    outcomeFor(shortID(rec.IncomingID), res),
		Resolution: res.Resolution,
		Clock:      session.state.Clock().String(),
	}
	for _, id := range session.pendingIDs {
		if id == rec.IncomingID {
			continue
		}
		pres, ok := session.last[id]
		if ok && pres.Status == engine.StatusApplied {
			result.Unblocked = append(result.Unblocked, outcomeFor(shortID(id), pres))
		}
	}

	return outputResolve(formatter, result)
}

// parseStrategyFlag normalizes and validates a strategy flag value.
func parseStrategyFlag(s string) (conflict.Strategy, error) {
	if s == "" {
		return "", fmt.Errorf("no strategy: set --strategy to one of %v", conflict.AllStrategies())
	}
	strategy := conflict.Strategy(strings.ToUpper(s))
	if !strategy.Valid() {
		return "", fmt.Errorf("unknown strategy %q (valid: %v)", s, conflict.AllStrategies())
	}
	return strategy, nil
}

// matchConflict finds the single open conflict a key argument names.
// Accepts the full key, a prefix pair "inc:app", or a prefix of the
// incoming operation ID alone.
func matchConflict(open []store.ConflictRecord, keyArg string) (store.ConflictRecord, error) {
	var matches []store.ConflictRecord
	incPrefix, appPrefix, pair := strings.Cut(keyArg, ":")
	for _, rec := range open {
		switch {
		case rec.Key == keyArg:
			matches = append(matches, rec)
		case pair && strings.HasPrefix(rec.IncomingID, incPrefix) && strings.HasPrefix(rec.AppliedID, appPrefix):
			matches = append(matches, rec)
		case !pair && strings.HasPrefix(rec.IncomingID, incPrefix):
			matches = append(matches, rec)
		}
	}

	switch len(matches) {
	case 0:
		return store.ConflictRecord{}, fmt.Errorf("no open conflict matches %q", keyArg)
	case 1:
		return matches[0], nil
	default:
		return store.ConflictRecord{}, fmt.Errorf("conflict key %q is ambiguous: %d open conflicts match", keyArg, len(matches))
	}
}

// matchWinner resolves a winner flag to one of the two conflicting
// operation IDs.
func matchWinner(rec store.ConflictRecord, winner string) (string, error) {
	incoming := strings.HasPrefix(rec.IncomingID, winner)
	applied := strings.HasPrefix(rec.AppliedID, winner)
	switch {
	case incoming && applied:
		return "", fmt.Errorf("winner %q matches both conflicting operations", winner)
	case incoming:
		return rec.IncomingID, nil
	case applied:
		return rec.AppliedID, nil
	default:
		return "", fmt.Errorf("winner %q matches neither conflicting operation (%s, %s)",
			winner, shortID(rec.IncomingID), shortID(rec.AppliedID))
	}
}

// outputResolve renders the resolution outcome.
func outputResolve(formatter *OutputFormatter, result ResolveResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Resolved [%s] via %s\n", displayKey(result.Key), result.Outcome.Strategy)
	fmt.Fprintf(w, "  operation %s %s\n", shortID(result.Outcome.ID), result.Outcome.Status)
	if result.Resolution != nil {
		if result.Resolution.WinnerID != "" {
			fmt.Fprintf(w, "  winner: %s\n", shortID(result.Resolution.WinnerID))
		}
		if len(result.Resolution.Order) > 0 {
			order := make([]string, 0, len(result.Resolution.Order))
			for _, id := range result.Resolution.Order {
				order = append(order, shortID(id))
			}
			fmt.Fprintf(w, "  order: %s\n", strings.Join(order, ", "))
		}
	}
	for _, o := range result.Unblocked {
		fmt.Fprintf(w, "✓ %s APPLIED (previously parked)\n", o.Op)
	}
	fmt.Fprintf(w, "Replica clock: %s\n", result.Clock)
	return nil
}
