package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/accord/internal/compose"
	"github.com/roach88/accord/internal/op"
)

// ComposeOptions holds flags for the compose command.
type ComposeOptions struct {
	*RootOptions
	Strategy string // force one strategy for every fold
	Output   string // output file path
}

// ComposeResult holds the composed batch and its summary counts.
type ComposeResult struct {
	Replica string   `json:"replica"`
	Input   int      `json:"input"`
	Output  int      `json:"output"`
	Batch   Batch    `json:"batch"`
	Folds   []string `json:"folds,omitempty"`
}

// NewComposeCommand creates the compose command.
func NewComposeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ComposeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compose <batch.yaml>",
		Short: "Compact a batch of operations before delivery",
		Long: `Compact a batch of same-device operations into fewer operations.

Adjacent operations on the same device and target fold into composites
whose payloads record the composition. The composed batch is printed as
YAML (or written with --output) and can be fed straight to apply; no
journal database is needed.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompose(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Strategy, "strategy", "", "force one composition strategy for every fold (default: per-pair detection)")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompose(opts *ComposeOptions, batchPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
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

	pol, err := loadPolicy(opts.RootOptions)
	if err != nil {
		_ = formatter.Error(ErrCodePolicy, err.Error(), nil)
		return err
	}
	composer := pol.Composer()

	ops := make([]op.Operation, len(entries))
	for i, e := range entries {
		ops[i] = e.Op
	}
	formatter.VerboseLog("Composing %d operation(s) for replica %s", len(ops), batch.Replica)

	var composed []op.Operation
	if opts.Strategy != "" {
		strategy, perr := compose.ParseStrategy(opts.Strategy)
		if perr != nil {
			_ = formatter.Error(ErrCodeCompose, perr.Error(), nil)
			return WrapExitError(ExitCommandError, "invalid strategy", perr)
		}
		composed, err = composer.Sequence(ops, strategy)
	} else {
		composed, err = composer.SequenceAuto(ops)
	}
	if err != nil {
		return outputComposeError(formatter, err)
	}

	result := &ComposeResult{
		Replica: batch.Replica,
		Input:   len(ops),
		Output:  len(composed),
		Batch:   BatchFromOps(batch.Replica, entries, composed),
	}
	for _, o := range composed {
		if _, ok := o.Payload[compose.KeyComposition]; ok {
			result.Folds = append(result.Folds, o.ID)
		}
	}

	if opts.Output != "" {
		if err := writeBatchFile(result.Batch, opts.Output); err != nil {
			_ = formatter.Error(ErrCodeCompose, fmt.Sprintf("writing output file: %v", err), nil)
			return WrapExitError(ExitCommandError, "failed to write composed batch", err)
		}
	}

	return outputComposeSuccess(formatter, result, opts.Output)
}

// writeBatchFile writes a batch document to the given path as YAML.
func writeBatchFile(batch Batch, path string) error {
	data, err := marshalBatchDoc(batch)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// outputComposeSuccess prints the composed batch.
func outputComposeSuccess(formatter *OutputFormatter, result *ComposeResult, outputFile string) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	if outputFile == "" {
		data, err := marshalBatchDoc(result.Batch)
		if err != nil {
			_ = formatter.Error(ErrCodeCompose, err.Error(), nil)
			return WrapExitError(ExitFailure, "failed to marshal composed batch", err)
		}
		fmt.Fprintf(formatter.Writer, "%s\n", data)
	} else {
		fmt.Fprintf(formatter.Writer, "Wrote composed batch to %s\n", outputFile)
	}

	fmt.Fprintf(formatter.Writer, "Compose Summary: %d operation(s) composed into %d\n",
		result.Input, result.Output)
	return nil
}

// outputComposeError reports a composition failure.
func outputComposeError(formatter *OutputFormatter, err error) error {
	_ = formatter.Error(ErrCodeCompose, err.Error(), nil)
	return WrapExitError(ExitFailure, "composition failed", err)
}
