package main

import (
	"fmt"

	"codeguard/internal/analysis"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	fixError   string
	fixContext string
)

// fixCmd runs the fix pipeline
var fixCmd = &cobra.Command{
	Use:   "fix [file|-]",
	Short: "Generate a fix for failing code and verify it in the sandbox",
	Long: `Generate a fix for failing code and verify it in the sandbox.

No model is bundled: fixes come from the built-in mock fixer, which makes this
command useful for exercising the pipeline end to end.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFix,
}

func init() {
	fixCmd.Flags().StringVarP(&fixError, "error", "e", "", "Error message produced by the code")
	fixCmd.Flags().StringVar(&fixContext, "context", "", "Extra context for the fixer")
}

func runFix(cmd *cobra.Command, args []string) error {
	ctx, stop := commandContext(cmd)
	defer stop()

	source, err := readSource(cmd, argOrStdin(args))
	if err != nil {
		return err
	}

	exec, closeAudit, err := newExecutor()
	if err != nil {
		return err
	}
	defer closeAudit()

	var opts []analysis.ServiceOption
	history, err := openStore()
	if err != nil {
		return err
	}
	if history != nil {
		defer history.Close()
		opts = append(opts, analysis.WithRecorder(history))
	}

	svc := analysis.NewService(analysis.MockFixer{}, exec, opts...)
	report, err := svc.AnalyzeAndFix(ctx, analysis.Request{
		Code:         source,
		ErrorMessage: fixError,
		Context:      fixContext,
	})
	if err != nil {
		return err
	}
	logger.Info("Fix evaluated",
		zap.Bool("success", report.Execution.Success),
		zap.Bool("unchanged", report.Unchanged),
		zap.String("run_id", report.Execution.RunID))

	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), report)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "--- fixed code")
	fmt.Fprintln(out, report.FixedCode)
	if report.Explanation != "" {
		fmt.Fprintln(out, "--- explanation")
		fmt.Fprintln(out, report.Explanation)
	}
	fmt.Fprintln(out, "--- execution")
	printOutcome(cmd, report.Execution)

	if !report.Execution.Success {
		return exitCodeError{code: 1}
	}
	return nil
}
