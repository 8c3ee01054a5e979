package main

import (
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"codeguard/internal/sandbox"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	historyLimit     int
	historyOlderThan time.Duration
)

// historyCmd lists recorded executions
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent executions from the history database",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show execution history statistics",
	Args:  cobra.NoArgs,
	RunE:  runHistoryStats,
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old executions from the history database",
	Args:  cobra.NoArgs,
	RunE:  runHistoryPrune,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of executions to show")
	historyPruneCmd.Flags().DurationVar(&historyOlderThan, "older-than", 30*24*time.Hour, "Delete executions older than this")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx, stop := commandContext(cmd)
	defer stop()

	history, err := openStore()
	if err != nil {
		return err
	}
	if history == nil {
		return errHistoryDisabled
	}
	defer history.Close()

	records, err := history.Recent(ctx, historyLimit)
	if err != nil {
		return err
	}

	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), records)
	}
	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No executions recorded.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tWHEN\tRESULT\tEXIT\tDURATION\tDIGEST")
	for _, r := range records {
		result := "ok"
		if !r.Success {
			result = string(r.Failure)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%dms\t%s\n",
			r.RunID, r.CreatedAt.Format(time.DateTime), result, r.ExitCode, r.DurationMs, r.Digest[:12])
	}
	return w.Flush()
}

func runHistoryStats(cmd *cobra.Command, args []string) error {
	ctx, stop := commandContext(cmd)
	defer stop()

	history, err := openStore()
	if err != nil {
		return err
	}
	if history == nil {
		return errHistoryDisabled
	}
	defer history.Close()

	stats, err := history.Stats(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), stats)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Executions: %d\n", stats.TotalExecutions)
	fmt.Fprintf(out, "Succeeded:  %d\n", stats.SuccessCount)
	fmt.Fprintf(out, "Failed:     %d\n", stats.FailureCount)
	fmt.Fprintf(out, "Avg time:   %.0fms\n", stats.AvgDurationMs)

	kinds := make([]string, 0, len(stats.FailureBreakdown))
	for kind := range stats.FailureBreakdown {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		fmt.Fprintf(out, "  %-18s %d\n", kind, stats.FailureBreakdown[sandbox.FailureKind(kind)])
	}
	return nil
}

func runHistoryPrune(cmd *cobra.Command, args []string) error {
	ctx, stop := commandContext(cmd)
	defer stop()

	history, err := openStore()
	if err != nil {
		return err
	}
	if history == nil {
		return errHistoryDisabled
	}
	defer history.Close()

	n, err := history.Prune(ctx, time.Now().Add(-historyOlderThan))
	if err != nil {
		return err
	}
	logger.Info("Pruned execution history", zap.Int64("deleted", n), zap.Duration("older_than", historyOlderThan))
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d executions.\n", n)
	return nil
}
