package main

import (
	"fmt"
	"time"

	"codeguard/internal/sandbox"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var sweepOlderThan time.Duration

// sweepCmd removes snippet files orphaned by a crashed host process
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove orphaned snippet files from the temp directory",
	Args:  cobra.NoArgs,
	RunE:  runSweep,
}

func init() {
	sweepCmd.Flags().DurationVar(&sweepOlderThan, "older-than", time.Hour, "Only remove files older than this")
}

func runSweep(cmd *cobra.Command, args []string) error {
	dir := cfg.Execution.TempDir
	n, err := sandbox.SweepArtifacts(dir, time.Now().Add(-sweepOlderThan))
	logger.Info("Swept snippet files", zap.String("dir", dir), zap.Int("removed", n))
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d snippet files.\n", n)
	return err
}
