package main

import (
	"errors"
	"fmt"
	"os"

	"codeguard/internal/config"
	"codeguard/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Global flags
	verbose    bool
	jsonOutput bool
	configPath string

	// Loaded once in PersistentPreRunE
	cfg *config.Config

	// Logger
	logger = zap.NewNop()
)

// exitCodeError ends the process with a status but prints nothing; the
// command has already reported the outcome.
type exitCodeError struct {
	code int
}

func (e exitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "codeguard",
	Short: "codeguard - validate and run untrusted Python snippets",
	Long: `codeguard checks Python snippets against an import and call denylist and
runs the ones that pass in a fresh python3 process under a wall-clock deadline.

Every run writes the snippet to its own temporary file, classifies the result
(success, security rejection, timeout, runtime error, sandbox error) and removes
the file before returning.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			loaded.Logging.Level = "debug"
		}
		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		if err := logging.Initialize(loaded.LoggingSettings()); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		cfg = loaded
		logger = logging.L()
		logging.Boot("codeguard %s (config %s)", cfg.Version, configPath)
		logger.Debug("Configuration loaded",
			zap.String("path", configPath),
			zap.String("interpreter", cfg.Execution.Interpreter),
			zap.Duration("timeout", cfg.GetExecutionTimeout()),
			zap.Bool("history", cfg.Store.Enabled))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "codeguard.yaml", "Path to the YAML config file")

	// History subcommands
	historyCmd.AddCommand(historyStatsCmd)
	historyCmd.AddCommand(historyPruneCmd)

	// Add commands to root
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(fixCmd)
	rootCmd.AddCommand(sweepCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exit exitCodeError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}
