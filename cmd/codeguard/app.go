package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"codeguard/internal/logging"
	"codeguard/internal/sandbox"
	"codeguard/internal/security"
	"codeguard/internal/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var errHistoryDisabled = errors.New("execution history is disabled (set store.enabled or CODEGUARD_DB)")

// commandContext returns a context cancelled on SIGINT/SIGTERM.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// newValidator builds the validator from the security section.
func newValidator() *security.Validator {
	return security.NewValidator(cfg.ValidatorOptions()...)
}

// newExecutor builds the sandbox and, when configured, attaches the audit
// trail. The returned func closes the trail.
func newExecutor() (*sandbox.Executor, func(), error) {
	exec := sandbox.New(newValidator(), cfg.SandboxConfig())

	if cfg.Logging.AuditFile == "" {
		return exec, func() {}, nil
	}
	trail, err := logging.OpenAudit(cfg.Logging.AuditFile)
	if err != nil {
		return nil, nil, err
	}
	exec.SetAuditCallback(func(e sandbox.AuditEvent) {
		trail.Log(auditRecord(e))
	})
	return exec, func() {
		if err := trail.Close(); err != nil {
			logger.Warn("Failed to close audit trail", zap.Error(err))
		}
	}, nil
}

// auditRecord flattens a sandbox event for the audit trail.
func auditRecord(e sandbox.AuditEvent) logging.AuditRecord {
	r := logging.AuditRecord{
		Event:    string(e.Type),
		RunID:    e.RunID,
		Target:   e.ArtifactPath,
		ExitCode: -1,
	}
	if o := e.Outcome; o != nil {
		r.Success = o.Success
		r.Failure = string(o.Failure)
		r.ExitCode = o.ExitCode
		r.Duration = o.Duration
		if !o.Success {
			r.Message = o.Stderr
		}
	}
	return r
}

// openStore opens the execution history, or returns nil when it is disabled.
func openStore() (*store.ExecutionStore, error) {
	if !cfg.Store.Enabled {
		return nil, nil
	}
	return store.Open(cfg.Store.DatabasePath)
}

// recordOutcome stores o if history is enabled. Failures are logged, not fatal.
func recordOutcome(ctx context.Context, history *store.ExecutionStore, source string, o sandbox.Outcome) {
	if history == nil {
		return
	}
	if err := history.Record(ctx, source, o); err != nil {
		logger.Warn("Failed to record execution", zap.String("run_id", o.RunID), zap.Error(err))
	}
}

// readSource reads a snippet from a file, or from stdin when name is "" or "-".
func readSource(cmd *cobra.Command, name string) (string, error) {
	if name == "" || name == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", name, err)
	}
	return string(data), nil
}

func argOrStdin(args []string) string {
	if len(args) == 0 {
		return "-"
	}
	return args[0]
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printOutcome writes one outcome in text form: stdout verbatim, then the
// error text on the error stream.
func printOutcome(cmd *cobra.Command, o sandbox.Outcome) {
	fmt.Fprint(cmd.OutOrStdout(), o.Stdout)
	if !o.Success {
		fmt.Fprintln(cmd.ErrOrStderr(), o.Stderr)
	}
}
