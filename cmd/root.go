package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/operator-cli/internal/config"
	"github.com/xkilldash9x/operator-cli/internal/observability"
)

// contextKey scopes values stored on the command context.
type contextKey string

// configKey is where PersistentPreRunE parks the validated configuration
// for subcommands.
const configKey contextKey = "config"

// NewRootCommand builds a fresh root command tree. Commands never share
// state through globals, so repeated invocations in one process (tests,
// mainly) stay isolated.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "operator-cli",
		Short:   "Operator drives a remote virtual desktop with a tool-calling LLM.",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// 1. Load configuration: defaults, then file, then environment.
			v := viper.New()
			config.SetDefaults(v)
			if err := initializeConfig(cmd, v); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			// 2. Build and validate the configuration object.
			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "operator-cli"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			// 3. Initialize the logger. Commands whose stdout is a protocol
			//    or event stream get their console logs on stderr instead.
			switch cmd.Name() {
			case "mcp", "run":
				observability.Initialize(cfg.Logger, zapcore.Lock(os.Stderr))
			default:
				observability.InitializeLogger(cfg.Logger)
			}
			observability.GetLogger().Info("Starting operator-cli", zap.String("version", Version))

			// 4. Store the validated config on the command context for
			//    subcommands.
			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "operator-cli version %s\n" .Version}}`)

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newMCPCmd())
	rootCmd.AddCommand(newReplayCmd(&defaultJournalProvider{}))
	return rootCmd
}

// Execute runs the CLI with a signal-aware context.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("Command execution failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		return err
	}
	return nil
}

// configFromContext returns the configuration stored by the root
// PersistentPreRunE. The default config is a safety net for commands
// invoked outside the normal tree, as in unit tests.
func configFromContext(cmd *cobra.Command) *config.Config {
	if cfg, ok := cmd.Context().Value(configKey).(*config.Config); ok {
		return cfg
	}
	return config.NewDefaultConfig()
}

// initializeConfig wires the config file search path and environment
// overrides into the given viper instance.
func initializeConfig(cmd *cobra.Command, v *viper.Viper) error {
	cfgFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".operator-cli"))
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("OPERATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file is fine, defaults and env vars carry the day.
	}
	return nil
}
