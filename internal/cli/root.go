// Package cli implements the dropzone command line.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/dropzone/internal/config"
	"github.com/JonMunkholm/dropzone/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// env carries the configuration resolved before a subcommand runs.
type env struct {
	envFile string
	cfg     *config.Config
}

func newRootCmd() *cobra.Command {
	e := &env{}

	rootCmd := &cobra.Command{
		Use:           "dropzone",
		Short:         "Load CSV files dropped into a folder tree into PostgreSQL",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return e.load()
		},
	}

	rootCmd.PersistentFlags().StringVar(&e.envFile, "env-file", ".env", "Environment file to load before reading configuration")

	rootCmd.AddCommand(
		newServeCmd(e),
		newLoadCmd(e),
		newBackupsCmd(e),
		newRestoreCmd(e),
		newTablesCmd(e),
		newVersionCmd(),
	)
	return rootCmd
}

// load reads the env file, then the configuration, and sets up logging.
// Values in the env file overwrite the process environment.
func (e *env) load() error {
	if e.envFile != "" {
		if err := godotenv.Overload(e.envFile); err != nil {
			slog.Debug("no env file loaded", "file", e.envFile, "error", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	e.cfg = cfg
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		// No configuration needed.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "dropzone version %s (commit: %s)\n", version, commit)
			return err
		},
	}
}
