package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "accord", cmd.Use)
	assert.Contains(t, cmd.Long, "concurrent edits")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"apply", "compose", "status", "resolve", "replay", "scenario", "validate"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	dbFlag := cmd.PersistentFlags().Lookup("db")
	require.NotNil(t, dbFlag)
	assert.Equal(t, "", dbFlag.DefValue)

	policyFlag := cmd.PersistentFlags().Lookup("policy")
	require.NotNil(t, policyFlag)
	assert.Equal(t, "", policyFlag.DefValue)
}

func TestEnvDefaults(t *testing.T) {
	t.Setenv("ACCORD_DB", "/tmp/env.db")
	t.Setenv("ACCORD_FORMAT", "json")

	cmd := NewRootCommand()

	dbFlag := cmd.PersistentFlags().Lookup("db")
	require.NotNil(t, dbFlag)
	assert.Equal(t, "/tmp/env.db", dbFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "json", formatFlag.DefValue)
}

func TestLoadEnvFallsBack(t *testing.T) {
	t.Setenv("ACCORD_FORMAT", "")
	t.Setenv("ACCORD_VERBOSE", "not-a-bool")

	cfg := LoadEnv()
	assert.Equal(t, "text", cfg.Format)
	assert.False(t, cfg.Verbose)
}

func TestComposeCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	composeCmd, _, err := cmd.Find([]string{"compose"})
	require.NoError(t, err)

	outputFlag := composeCmd.Flags().Lookup("output")
	require.NotNil(t, outputFlag)
	assert.Equal(t, "o", outputFlag.Shorthand)

	strategyFlag := composeCmd.Flags().Lookup("strategy")
	require.NotNil(t, strategyFlag)
	assert.Equal(t, "", strategyFlag.DefValue)
}

func TestResolveCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	resolveCmd, _, err := cmd.Find([]string{"resolve"})
	require.NoError(t, err)

	for _, name := range []string{"replica", "strategy", "winner", "payload"} {
		flag := resolveCmd.Flags().Lookup(name)
		require.NotNil(t, flag, "resolve should have --%s", name)
	}
}

func TestStatusCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	statusCmd, _, err := cmd.Find([]string{"status"})
	require.NoError(t, err)

	replicaFlag := statusCmd.Flags().Lookup("replica")
	require.NotNil(t, replicaFlag)
}

func TestScenarioCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	scenarioCmd, _, err := cmd.Find([]string{"scenario"})
	require.NoError(t, err)

	outputFlag := scenarioCmd.Flags().Lookup("output")
	require.NotNil(t, outputFlag)
	assert.Equal(t, "o", outputFlag.Shorthand)
}

func TestFormatValidation(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))

	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestFormatValidationIntegration(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "invalid", "status"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestRequireDatabase(t *testing.T) {
	err := requireDatabase(&RootOptions{})
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	assert.NoError(t, requireDatabase(&RootOptions{Database: "accord.db"}))
}

func TestLoadPolicyDefault(t *testing.T) {
	pol, err := loadPolicy(&RootOptions{})
	require.NoError(t, err)
	assert.True(t, pol.AutoResolve)
}

func TestLoadPolicyMissingFile(t *testing.T) {
	_, err := loadPolicy(&RootOptions{Policy: "/nonexistent/policy.cue"})
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
