package main

import (
	"time"

	"codeguard/internal/sandbox"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runTimeout time.Duration

// runCmd validates and executes one snippet
var runCmd = &cobra.Command{
	Use:   "run [file|-]",
	Short: "Validate and execute a snippet in the sandbox",
	Long: `Validate and execute a snippet in the sandbox.

Output is the snippet's stdout. On failure the error text (interpreter stderr,
rejection report, timeout notice or sandbox error) goes to stderr and the exit
status is 1. With --json the {success, output, error} response is printed instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSnippet,
}

func init() {
	runCmd.Flags().DurationVarP(&runTimeout, "timeout", "t", 0, "Wall-clock limit (default: execution.default_timeout)")
}

func runSnippet(cmd *cobra.Command, args []string) error {
	ctx, stop := commandContext(cmd)
	defer stop()

	name := argOrStdin(args)
	source, err := readSource(cmd, name)
	if err != nil {
		return err
	}

	exec, closeAudit, err := newExecutor()
	if err != nil {
		return err
	}
	defer closeAudit()

	history, err := openStore()
	if err != nil {
		return err
	}
	if history != nil {
		defer history.Close()
	}

	timeout := effectiveTimeout(exec)
	logger.Info("Executing snippet", zap.String("source", name), zap.Duration("timeout", timeout))
	outcome := exec.ExecuteWithTimeout(ctx, source, timeout)
	logger.Info("Execution finished",
		zap.String("run_id", outcome.RunID),
		zap.Bool("success", outcome.Success),
		zap.String("failure", string(outcome.Failure)),
		zap.Duration("duration", outcome.Duration))

	recordOutcome(ctx, history, source, outcome)

	if jsonOutput {
		if err := writeJSON(cmd.OutOrStdout(), outcome.Response()); err != nil {
			return err
		}
	} else {
		printOutcome(cmd, outcome)
	}

	if !outcome.Success {
		return exitCodeError{code: 1}
	}
	return nil
}

// effectiveTimeout is --timeout when set, else the executor's configured default.
func effectiveTimeout(exec *sandbox.Executor) time.Duration {
	if runTimeout > 0 {
		return runTimeout
	}
	return exec.Config().DefaultTimeout
}
