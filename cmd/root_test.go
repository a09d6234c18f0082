// File: cmd/root_test.go
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/operator-cli/internal/config"
	"github.com/xkilldash9x/operator-cli/internal/observability"
)

// resetForTest pins the global logger to a silent instance so command
// output stays clean enough to assert on.
func resetForTest(t *testing.T) {
	t.Helper()
	observability.ResetForTest()
	observability.InitializeLogger(config.LoggerConfig{Level: "fatal", Format: "console", ServiceName: "test"})
	t.Cleanup(observability.ResetForTest)
}

func TestRootCommandVersionFlag(t *testing.T) {
	resetForTest(t)

	rootCmd := NewRootCommand()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"--version"})

	err := rootCmd.ExecuteContext(context.Background())

	require.NoError(t, err)
	assert.Contains(t, out.String(), "operator-cli version 0.1.0")
}

func TestRootCommandNoArgsPrintsHelp(t *testing.T) {
	resetForTest(t)

	rootCmd := NewRootCommand()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{})

	err := rootCmd.ExecuteContext(context.Background())

	require.NoError(t, err)
	assert.Contains(t, out.String(), "Operator drives a remote virtual desktop")
	assert.Contains(t, out.String(), "serve")
	assert.Contains(t, out.String(), "replay")
}

func TestInitializeConfigEnvironmentOverride(t *testing.T) {
	resetForTest(t)
	t.Setenv("OPERATOR_SERVER_PORT", "9999")

	// ParseFlags merges the persistent --config flag into the command's
	// flag set, the same state initializeConfig sees during a real run.
	rootCmd := NewRootCommand()
	require.NoError(t, rootCmd.ParseFlags(nil))

	v := viper.New()
	config.SetDefaults(v)
	require.NoError(t, initializeConfig(rootCmd, v))

	cfg, err := config.NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
}

func TestInitializeConfigExplicitFile(t *testing.T) {
	resetForTest(t)

	path := filepath.Join(t.TempDir(), "operator.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 4242\n"), 0o600))

	rootCmd := NewRootCommand()
	require.NoError(t, rootCmd.ParseFlags([]string{"--config", path}))

	v := viper.New()
	config.SetDefaults(v)
	require.NoError(t, initializeConfig(rootCmd, v))

	cfg, err := config.NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 4242, cfg.Server.Port)
}

func TestConfigFromContextFallsBackToDefaults(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())

	cfg := configFromContext(cmd)

	require.NotNil(t, cfg)
	assert.Equal(t, 8370, cfg.Server.Port)
}
