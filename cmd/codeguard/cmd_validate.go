package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// validateCmd runs the static check only
var validateCmd = &cobra.Command{
	Use:   "validate [file|-]",
	Short: "Check a snippet against the denylist without running it",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctx, stop := commandContext(cmd)
	defer stop()

	name := argOrStdin(args)
	source, err := readSource(cmd, name)
	if err != nil {
		return err
	}

	verdict, err := newValidator().Validate(ctx, source)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	logger.Info("Validated snippet",
		zap.String("source", name),
		zap.Bool("safe", verdict.Safe),
		zap.Int("violations", len(verdict.Violations)))

	if jsonOutput {
		if err := writeJSON(cmd.OutOrStdout(), verdict); err != nil {
			return err
		}
	} else if verdict.Safe {
		fmt.Fprintln(cmd.OutOrStdout(), "OK")
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), verdict.Report())
	}

	if !verdict.Safe {
		return exitCodeError{code: 1}
	}
	return nil
}
