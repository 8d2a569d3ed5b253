package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/accord/internal/harness"
)

// ScenarioOptions holds flags for the scenario command.
type ScenarioOptions struct {
	*RootOptions
	Output string // canonical trace output path
}

// ScenarioResult holds a scenario run for output.
type ScenarioResult struct {
	Scenario    string               `json:"scenario"`
	Description string               `json:"description,omitempty"`
	Pass        bool                 `json:"pass"`
	Trace       []harness.TraceEvent `json:"trace"`
	Errors      []string             `json:"errors,omitempty"`
}

// NewScenarioCommand creates the scenario command.
func NewScenarioCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScenarioOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scenario <scenario.yaml>",
		Short: "Run a multi-device convergence scenario",
		Long: `Run a scripted multi-device scenario against in-memory replicas and
report the trace.

Each step edits, composes, delivers or decides; assertions then check
the final clocks, applied sets and journal. The run ends by replaying
every replica from its journal and verifying consistency.

Exit codes:
  0 - Scenario passed
  1 - An assertion or the closing verification failed
  2 - Command error (unreadable or invalid scenario file)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the canonical trace to a file")

	return cmd
}

func runScenario(opts *ScenarioOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		_ = formatter.Error(ErrCodeScenario, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	formatter.VerboseLog("Running scenario %s: %d device(s), %d step(s)",
		scenario.Name, len(scenario.Devices), len(scenario.Steps))

	run, err := harness.Run(scenario)
	if err != nil {
		_ = formatter.Error(ErrCodeScenario, err.Error(), nil)
		return WrapExitError(ExitCommandError, "scenario run failed", err)
	}

	if opts.Output != "" {
		trace, terr := run.CanonicalTrace(scenario.Name)
		if terr != nil {
			_ = formatter.Error(ErrCodeScenario, terr.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to render trace", terr)
		}
		if werr := os.WriteFile(opts.Output, trace, 0644); werr != nil {
			_ = formatter.Error(ErrCodeScenario, fmt.Sprintf("writing trace file: %v", werr), nil)
			return WrapExitError(ExitCommandError, "failed to write trace", werr)
		}
	}

	result := ScenarioResult{
		Scenario:    scenario.Name,
		Description: scenario.Description,
		Pass:        run.Pass,
		Trace:       run.Trace,
		Errors:      run.Errors,
	}

	if opts.Format == "json" {
		return outputScenarioJSON(formatter, result)
	}
	return outputScenarioText(formatter, result, opts.Output)
}

// outputScenarioJSON outputs the scenario result as JSON.
func outputScenarioJSON(formatter *OutputFormatter, result ScenarioResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}

	if !result.Pass {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    ErrCodeScenario,
			Message: "scenario failed",
		}
	}

	if err := formatter.encode(response); err != nil {
		return err
	}

	if !result.Pass {
		return NewExitError(ExitFailure, "scenario failed")
	}
	return nil
}

// outputScenarioText outputs the scenario result as text.
func outputScenarioText(formatter *OutputFormatter, result ScenarioResult, outputFile string) error {
	w := formatter.Writer

	fmt.Fprintf(w, "Scenario: %s\n", result.Scenario)
	if result.Description != "" {
		fmt.Fprintf(w, "  %s\n", result.Description)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Trace ===")
	for _, event := range result.Trace {
		fmt.Fprintf(w, "%s\n", formatTraceEvent(event))
	}
	fmt.Fprintln(w)

	if len(result.Errors) > 0 {
		fmt.Fprintln(w, "Failures:")
		for _, msg := range result.Errors {
			fmt.Fprintf(w, "  - %s\n", msg)
		}
		fmt.Fprintln(w)
	}

	if outputFile != "" {
		fmt.Fprintf(w, "Wrote canonical trace to %s\n", outputFile)
	}

	if result.Pass {
		fmt.Fprintln(w, "✓ Scenario passed")
		return nil
	}

	fmt.Fprintln(w, "✗ Scenario failed")
	return NewExitError(ExitFailure, "scenario failed")
}

// formatTraceEvent renders one trace event as a single line.
func formatTraceEvent(e harness.TraceEvent) string {
	parts := []string{fmt.Sprintf("[%d] %s %s", e.Step, e.Action, e.Device)}
	add := func(key, value string) {
		if value != "" {
			parts = append(parts, key+"="+value)
		}
	}
	add("from", e.From)
	add("op", e.Op)
	add("type", e.Type)
	add("target", e.Target)
	if e.Status != "" {
		parts = append(parts, e.Status)
	}
	add("reason", e.Reason)
	add("conflict", e.Conflict)
	add("strategy", e.Strategy)
	add("winner", e.Winner)
	if len(e.Composed) > 0 {
		parts = append(parts, "composed="+strings.Join(e.Composed, "+"))
	}
	add("clock", e.Clock)
	return strings.Join(parts, " ")
}
