package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/accord/internal/clock"
	"github.com/roach88/accord/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
}

// ReplicaReplay holds the verification outcome for one replica.
type ReplicaReplay struct {
	Replica    string `json:"replica"`
	Applied    int    `json:"applied"`
	Parked     int    `json:"parked"`
	Conflicts  int    `json:"conflicts"`
	Clock      string `json:"clock"`
	Consistent bool   `json:"consistent"`
	Divergence string `json:"divergence,omitempty"`
}

// ReplayResult holds verification outcomes for all replayed replicas.
type ReplayResult struct {
	Replicas      []ReplicaReplay `json:"replicas"`
	Diverged      int             `json:"diverged"`
	AllConsistent bool            `json:"all_consistent"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay [replica]",
		Short: "Rebuild replica states from the journal and verify them",
		Long: `Rebuild each replica's state by folding its applied log in order,
then check the result against the stored clock snapshot.

A consistent replica replays to exactly the clock the journal recorded.
Divergence means the journal was corrupted or written by a different
history.

Exit codes:
  0 - All replayed replicas are consistent
  1 - At least one replica diverged
  2 - Command error (missing or unreadable database)`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args, cmd)
		},
	}

	return cmd
}

func runReplay(opts *ReplayOptions, args []string, cmd *cobra.Command) error {
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

	st, err := store.Open(opts.Database)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer st.Close()

	var flagged string
	if len(args) == 1 {
		flagged = args[0]
	}
	replicas, err := statusReplicas(ctx, st, flagged)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to list replicas", err)
	}

	result := ReplayResult{Replicas: make([]ReplicaReplay, 0, len(replicas))}
	for _, replica := range replicas {
		entry, err := replayReplica(ctx, st, replica)
		if err != nil {
			_ = formatter.Error(ErrCodeStore, err.Error(), nil)
			return WrapExitError(ExitCommandError, "replay failed", err)
		}
		if !entry.Consistent {
			result.Diverged++
		}
		result.Replicas = append(result.Replicas, entry)
	}
	result.AllConsistent = result.Diverged == 0

	if opts.Format == "json" {
		return outputReplayJSON(formatter, result)
	}
	return outputReplayText(formatter, result)
}

// replayReplica folds one replica's log and reports the verification.
// Divergence is a reported outcome, not an error.
func replayReplica(ctx context.Context, st *store.Store, replica clock.DeviceID) (ReplicaReplay, error) {
	state, err := st.Replay(ctx, replica)
	if err != nil {
		var div *store.DivergenceError
		if errors.As(err, &div) {
			return ReplicaReplay{
				Replica:    string(replica),
				Clock:      div.Replayed.String(),
				Divergence: div.Error(),
			}, nil
		}
		return ReplicaReplay{}, err
	}

	return ReplicaReplay{
		Replica:    string(replica),
		Applied:    state.AppliedCount(),
		Parked:     state.BlockedCount(),
		Conflicts:  state.OpenConflictCount(),
		Clock:      state.Clock().String(),
		Consistent: true,
	}, nil
}

// outputReplayJSON outputs the replay result as JSON.
func outputReplayJSON(formatter *OutputFormatter, result ReplayResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}

	if !result.AllConsistent {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    ErrCodeDivergence,
			Message: "journal verification failed",
		}
	}

	if err := formatter.encode(response); err != nil {
		return err
	}

	if !result.AllConsistent {
		return NewExitError(ExitFailure, "journal verification failed")
	}
	return nil
}

// outputReplayText outputs the replay result as text.
func outputReplayText(formatter *OutputFormatter, result ReplayResult) error {
	w := formatter.Writer

	fmt.Fprintf(w, "Replay Summary: %d replica(s)\n", len(result.Replicas))
	fmt.Fprintln(w)

	for _, replica := range result.Replicas {
		status := "✓"
		if !replica.Consistent {
			status = "✗"
		}

		fmt.Fprintf(w, "%s Replica: %s\n", status, replica.Replica)
		if replica.Consistent {
			fmt.Fprintf(w, "  State: %d applied, %d parked, %d open conflict(s)\n",
				replica.Applied, replica.Parked, replica.Conflicts)
			fmt.Fprintf(w, "  Clock: %s\n", replica.Clock)
		} else {
			fmt.Fprintf(w, "  Warning: %s\n", replica.Divergence)
		}
		fmt.Fprintln(w)
	}

	if result.AllConsistent {
		fmt.Fprintln(w, "✓ All replicas verified consistent")
		return nil
	}

	fmt.Fprintln(w, "✗ Journal verification failed")
	return NewExitError(ExitFailure, "journal verification failed")
}
