package main

import (
	"fmt"
	"runtime"
	"time"

	"codeguard/internal/sandbox"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var batchParallel int

// batchCmd runs many snippets concurrently
var batchCmd = &cobra.Command{
	Use:   "batch file...",
	Short: "Execute several snippets concurrently",
	Long: `Execute several snippets concurrently, each in its own process.

Results are printed in argument order. The exit status is 1 if any run failed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().IntVarP(&batchParallel, "parallel", "p", runtime.NumCPU(), "Maximum concurrent executions")
}

// batchResult is one entry of the batch output.
type batchResult struct {
	File string `json:"file"`
	sandbox.Response
	RunID string `json:"run_id,omitempty"`
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx, stop := commandContext(cmd)
	defer stop()

	// Read everything first so a missing file fails before anything runs.
	sources := make([]string, len(args))
	for i, name := range args {
		source, err := readSource(cmd, name)
		if err != nil {
			return err
		}
		sources[i] = source
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

	limit := batchParallel
	if limit < 1 {
		limit = 1
	}
	logger.Info("Starting batch", zap.Int("snippets", len(args)), zap.Int("parallel", limit))

	outcomes := make([]sandbox.Outcome, len(args))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := range sources {
		i := i
		g.Go(func() error {
			outcomes[i] = exec.Execute(gctx, sources[i])
			recordOutcome(gctx, history, sources[i], outcomes[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	failed := 0
	results := make([]batchResult, len(args))
	for i, o := range outcomes {
		results[i] = batchResult{File: args[i], Response: o.Response(), RunID: o.RunID}
		if !o.Success {
			failed++
		}
	}
	logger.Info("Batch finished", zap.Int("snippets", len(args)), zap.Int("failed", failed))

	if jsonOutput {
		if err := writeJSON(cmd.OutOrStdout(), results); err != nil {
			return err
		}
	} else {
		out := cmd.OutOrStdout()
		for i, o := range outcomes {
			status := "ok"
			if !o.Success {
				status = string(o.Failure)
			}
			fmt.Fprintf(out, "=== %s: %s (%s)\n", args[i], status, o.Duration.Round(time.Millisecond))
			if o.Stdout != "" {
				fmt.Fprint(out, o.Stdout)
			}
			if !o.Success {
				fmt.Fprintln(out, o.Stderr)
			}
		}
	}

	if failed > 0 {
		return exitCodeError{code: 1}
	}
	return nil
}
