package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/accord/internal/policy"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
}

// ValidationResult holds the outcome of a policy check.
type ValidationResult struct {
	File   string          `json:"file"`
	Valid  bool            `json:"valid"`
	Policy *policy.Policy  `json:"policy,omitempty"`
	Errors []PolicyProblem `json:"errors,omitempty"`
}

// PolicyProblem is one reported policy violation.
type PolicyProblem struct {
	Position string `json:"position,omitempty"`
	Field    string `json:"field,omitempty"`
	Message  string `json:"message"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <policy.cue>",
		Short: "Compile-check a resolution policy",
		Long: `Compile a CUE policy file and report every violation found.

Validation does not fail fast: a rejected policy lists all of its
problems at once.

Exit codes:
  0 - Policy is valid
  1 - Policy has violations
  2 - Command error (unreadable file)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *ValidateOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	pol, err := policy.Load(path)
	if err != nil {
		var compileErrs policy.CompileErrors
		if errors.As(err, &compileErrs) {
			return outputValidationErrors(formatter, path, compileErrs)
		}
		var compileErr *policy.CompileError
		if errors.As(err, &compileErr) {
			return outputValidationErrors(formatter, path, policy.CompileErrors{compileErr})
		}
		_ = formatter.Error(ErrCodePolicy, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read policy", err)
	}

	return outputValidationSuccess(formatter, path, pol)
}

// outputValidationSuccess reports a valid policy.
func outputValidationSuccess(formatter *OutputFormatter, path string, pol policy.Policy) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{File: path, Valid: true, Policy: &pol})
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Policy valid: %s\n", path)
	fmt.Fprintf(w, "  auto-resolve: %v\n", pol.AutoResolve)
	if len(pol.Strategies) > 0 {
		fmt.Fprintf(w, "  strategy overrides: %d\n", len(pol.Strategies))
	}
	if len(pol.CompatiblePairs) > 0 {
		fmt.Fprintf(w, "  compatible pairs: %d\n", len(pol.CompatiblePairs))
	}
	if pol.RequireKnownDevices {
		fmt.Fprintf(w, "  known devices: %d\n", len(pol.KnownDevices))
	}
	fmt.Fprintf(w, "  max content length: %d\n", pol.MaxContentLength)
	fmt.Fprintf(w, "  max retries: %d\n", pol.MaxRetries)
	return nil
}

// outputValidationErrors reports a rejected policy, one violation per
// line with source position where known.
func outputValidationErrors(formatter *OutputFormatter, path string, errs policy.CompileErrors) error {
	problems := make([]PolicyProblem, 0, len(errs))
	for _, ce := range errs {
		problem := PolicyProblem{Field: ce.Field, Message: ce.Message}
		if ce.Pos.IsValid() {
			problem.Position = fmt.Sprintf("%s:%d:%d", ce.Pos.Filename(), ce.Pos.Line(), ce.Pos.Column())
		}
		problems = append(problems, problem)
	}

	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{File: path, Valid: false, Errors: problems},
			Error: &CLIError{
				Code:    ErrCodePolicy,
				Message: fmt.Sprintf("policy has %d violation(s)", len(problems)),
			},
		}
		if err := formatter.encode(response); err != nil {
			return err
		}
		return NewExitError(ExitFailure, "policy invalid")
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✗ Policy invalid: %s\n\n", path)
	for _, problem := range problems {
		if problem.Position != "" {
			fmt.Fprintf(w, "%s\n", problem.Position)
		}
		if problem.Field != "" {
			fmt.Fprintf(w, "  %s: %s\n", problem.Field, problem.Message)
		} else {
			fmt.Fprintf(w, "  %s\n", problem.Message)
		}
	}
	fmt.Fprintf(w, "\nValidation Summary: %d violation(s)\n", len(problems))
	return NewExitError(ExitFailure, "policy invalid")
}
