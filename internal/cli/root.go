package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"

	"github.com/roach88/accord/internal/policy"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Database string // path to the SQLite journal
	Policy   string // path to a CUE policy file, empty for defaults
	Format   string // "json" | "text"
	Verbose  bool
}

// EnvConfig carries environment defaults for the global flags. Flags
// still win: the parsed values only seed the flag defaults.
type EnvConfig struct {
	Database string `env:"ACCORD_DB"`
	Policy   string `env:"ACCORD_POLICY"`
	Format   string `env:"ACCORD_FORMAT" envDefault:"text"`
	Verbose  bool   `env:"ACCORD_VERBOSE"`
}

// LoadEnv reads the ACCORD_* environment defaults.
//
// Defaults are intentionally forgiving: an unparseable variable falls
// back to the built-in default instead of failing the command, and the
// format check in PersistentPreRunE still catches bad values.
func LoadEnv() EnvConfig {
	cfg := EnvConfig{Format: "text"}
	_ = env.Parse(&cfg)
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	return cfg
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the accord CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}
	envCfg := LoadEnv()

	cmd := &cobra.Command{
		Use:   "accord",
		Short: "accord - multi-device sync coordination",
		Long: `Coordinate concurrent edits across devices without central locking.

accord journals content-addressed operations with vector clocks, detects
conflicts between concurrent edits, auto-resolves what a policy allows,
and parks the rest for explicit decisions.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Validate format flag
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			configureLogging(opts.Verbose)
			return nil
		},
	}

	// Global flags, seeded by ACCORD_* environment variables.
	cmd.PersistentFlags().StringVar(&opts.Database, "db", envCfg.Database, "path to SQLite journal (ACCORD_DB)")
	cmd.PersistentFlags().StringVar(&opts.Policy, "policy", envCfg.Policy, "path to CUE policy file (ACCORD_POLICY)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", envCfg.Format, "output format (json|text) (ACCORD_FORMAT)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", envCfg.Verbose, "verbose output (ACCORD_VERBOSE)")

	// Add subcommands
	cmd.AddCommand(NewApplyCommand(opts))
	cmd.AddCommand(NewComposeCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewResolveCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewScenarioCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// configureLogging sets the default slog handler from the verbose flag.
// Diagnostics go to stderr so JSON output stays parseable.
func configureLogging(verbose bool) {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// requireDatabase rejects commands that need a journal when none is
// configured.
func requireDatabase(opts *RootOptions) error {
	if opts.Database == "" {
		return NewExitError(ExitCommandError, "no journal database: set --db or ACCORD_DB")
	}
	return nil
}

// loadPolicy compiles the configured policy file, or returns the
// default policy when none is set.
func loadPolicy(opts *RootOptions) (policy.Policy, error) {
	if opts.Policy == "" {
		return policy.Default(), nil
	}
	p, err := policy.Load(opts.Policy)
	if err != nil {
		return policy.Policy{}, WrapExitError(ExitCommandError, "failed to load policy", err)
	}
	return p, nil
}
