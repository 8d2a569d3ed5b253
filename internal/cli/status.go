package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/accord/internal/clock"
	"github.com/roach88/accord/internal/store"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Replica string // restrict to one replica
}

// ReplicaStatus is the reported shape of one replica.
type ReplicaStatus struct {
	Replica       string           `json:"replica"`
	Applied       int              `json:"applied"`
	Pending       int              `json:"pending"`
	OpenConflicts int              `json:"open_conflicts"`
	LastSeq       int64            `json:"last_seq"`
	Clock         map[string]int64 `json:"clock"`
	Conflicts     []ConflictStatus `json:"conflicts,omitempty"`
}

// ConflictStatus is one open conflict awaiting a decision.
type ConflictStatus struct {
	Key        string   `json:"key"`
	Incoming   string   `json:"incoming"`
	Applied    string   `json:"applied"`
	Type       string   `json:"type"`
	Severity   string   `json:"severity"`
	Strategies []string `json:"strategies"`
}

// StatusResult holds the status report for all requested replicas.
type StatusResult struct {
	Replicas []ReplicaStatus `json:"replicas"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show replica states and open conflicts",
		Long: `Show each replica's journaled state: applied and parked counts,
the replica clock, and any conflicts awaiting a user decision.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Replica, "replica", "", "report a single replica")

	return cmd
}

func runStatus(opts *StatusOptions, cmd *cobra.Command) error {
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

	ctx := cmd.Context()
	replicas, err := statusReplicas(ctx, st, opts.Replica)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to list replicas", err)
	}

	result := &StatusResult{Replicas: make([]ReplicaStatus, 0, len(replicas))}
	for _, replica := range replicas {
		status, err := replicaStatus(ctx, st, replica)
		if err != nil {
			_ = formatter.Error(ErrCodeStore, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to summarize replica", err)
		}
		result.Replicas = append(result.Replicas, status)
	}

	return outputStatus(formatter, result)
}

// statusReplicas resolves the replica set to report: the flagged one,
// or every replica in the journal.
func statusReplicas(ctx context.Context, st *store.Store, flagged string) ([]clock.DeviceID, error) {
	if flagged != "" {
		replica, err := replicaID(flagged)
		if err != nil {
			return nil, err
		}
		return []clock.DeviceID{replica}, nil
	}
	return st.ListReplicas(ctx)
}

func replicaStatus(ctx context.Context, st *store.Store, replica clock.DeviceID) (ReplicaStatus, error) {
	summary, err := st.Summarize(ctx, replica)
	if err != nil {
		return ReplicaStatus{}, err
	}

	status := ReplicaStatus{
		Replica:       string(summary.Replica),
		Applied:       summary.Applied,
		Pending:       summary.Pending,
		OpenConflicts: summary.OpenConflicts,
		LastSeq:       summary.LastSeq,
		Clock:         countersToAny(summary.Clock),
	}

	open, err := st.OpenConflicts(ctx, replica)
	if err != nil {
		return ReplicaStatus{}, err
	}
	for _, rec := range open {
		strategies := make([]string, 0, 2)
		for _, s := range rec.Type.Strategies() {
			strategies = append(strategies, string(s))
		}
		status.Conflicts = append(status.Conflicts, ConflictStatus{
			Key:        rec.Key,
			Incoming:   rec.IncomingID,
			Applied:    rec.AppliedID,
			Type:       string(rec.Type),
			Severity:   string(rec.Severity),
			Strategies: strategies,
		})
	}

	return status, nil
}

// outputStatus renders the status report.
func outputStatus(formatter *OutputFormatter, result *StatusResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	if len(result.Replicas) == 0 {
		fmt.Fprintln(formatter.Writer, "No replicas found in journal.")
		return nil
	}

	for i, replica := range result.Replicas {
		if i > 0 {
			fmt.Fprintln(formatter.Writer)
		}
		fmt.Fprintf(formatter.Writer, "Replica: %s\n", replica.Replica)
		fmt.Fprintf(formatter.Writer, "  Applied:   %d operation(s)\n", replica.Applied)
		fmt.Fprintf(formatter.Writer, "  Pending:   %d parked\n", replica.Pending)
		fmt.Fprintf(formatter.Writer, "  Conflicts: %d open\n", replica.OpenConflicts)
		fmt.Fprintf(formatter.Writer, "  Clock:     %s\n", formatClock(replica.Clock))
		fmt.Fprintf(formatter.Writer, "  Last seq:  %d\n", replica.LastSeq)

		if len(replica.Conflicts) > 0 {
			fmt.Fprintln(formatter.Writer)
			fmt.Fprintln(formatter.Writer, "  Awaiting decision:")
			for _, c := range replica.Conflicts {
				fmt.Fprintf(formatter.Writer, "    [%s] %s (%s)\n", displayKey(c.Key), c.Type, c.Severity)
				fmt.Fprintf(formatter.Writer, "      incoming %s, applied %s\n", shortID(c.Incoming), shortID(c.Applied))
				fmt.Fprintf(formatter.Writer, "      strategies: %s\n", strings.Join(c.Strategies, ", "))
			}
		}
	}

	return nil
}

// formatClock renders a counter map in compact fingerprint form,
// devices sorted, matching clock.VectorClock.String.
func formatClock(counters map[string]int64) string {
	if len(counters) == 0 {
		return "(empty)"
	}
	devices := make([]string, 0, len(counters))
	for device := range counters {
		devices = append(devices, device)
	}
	sort.Strings(devices)

	parts := make([]string, 0, len(devices))
	for _, device := range devices {
		parts = append(parts, fmt.Sprintf("%s:%d", device, counters[device]))
	}
	return strings.Join(parts, ";")
}

// displayKey shortens a conflict key to its two truncated operation
// IDs. Keys that are not ID pairs pass through truncated.
func displayKey(key string) string {
	incoming, applied, ok := strings.Cut(key, ":")
	if !ok {
		return truncateID(key)
	}
	return shortID(incoming) + ":" + shortID(applied)
}
