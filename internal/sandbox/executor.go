package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"codeguard/internal/logging"

	"github.com/google/uuid"
)

// Executor validates and runs snippets. It keeps no per-call state; every
// execution owns its own artifact and process, so concurrent calls are safe.
type Executor struct {
	validator Validator
	config    Config

	mu            sync.RWMutex
	auditCallback func(AuditEvent)
}

// New creates an executor that consults validator before every run.
func New(validator Validator, config Config) *Executor {
	config = config.withDefaults()
	logging.SandboxDebug("Creating Executor: interpreter=%s timeout=%s tempDir=%q",
		config.Interpreter, config.DefaultTimeout, config.TempDir)
	return &Executor{
		validator: validator,
		config:    config,
	}
}

// Config returns the effective configuration.
func (e *Executor) Config() Config {
	return e.config
}

// SetAuditCallback sets the callback for audit events.
func (e *Executor) SetAuditCallback(callback func(AuditEvent)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.auditCallback = callback
}

// emitAudit emits an audit event if a callback is registered.
func (e *Executor) emitAudit(event AuditEvent) {
	e.mu.RLock()
	callback := e.auditCallback
	e.mu.RUnlock()

	if callback != nil {
		callback(event)
	}
}

// Execute runs source with the configured default timeout.
func (e *Executor) Execute(ctx context.Context, source string) Outcome {
	return e.ExecuteWithTimeout(ctx, source, e.config.DefaultTimeout)
}

// ExecuteWithTimeout validates source and, if it is safe, runs it in a new
// interpreter process that is killed when timeout elapses or ctx is done.
// A non-positive timeout means the configured default.
//
// The returned Outcome is always fully populated. The snippet file is removed
// before returning on every path, panics included.
func (e *Executor) ExecuteWithTimeout(ctx context.Context, source string, timeout time.Duration) (out Outcome) {
	if timeout <= 0 {
		timeout = e.config.DefaultTimeout
	}

	out = Outcome{
		RunID:     uuid.NewString(),
		ExitCode:  -1,
		StartedAt: time.Now(),
	}
	log := logging.Get(logging.CategorySandbox).With("run_id", out.RunID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("recovered panic during execution: %v", r)
			out = e.internalFailure(out, fmt.Errorf("panic: %v", r))
		}
		out.Duration = time.Since(out.StartedAt)
	}()

	verdict, err := e.validator.Validate(ctx, source)
	if err != nil {
		log.Error("validator failed: %v", err)
		out = e.internalFailure(out, fmt.Errorf("validation failed: %w", err))
		e.emitTerminal(AuditEventError, "", &out)
		return out
	}
	if !verdict.Safe {
		out.Failure = FailureSecurityRejected
		out.Stderr = verdict.Report()
		out.Violations = verdict.Violations
		log.Warn("snippet rejected: %d violations", len(verdict.Violations))
		e.emitTerminal(AuditEventBlocked, "", &out)
		return out
	}

	artifact, err := AllocateArtifact(e.config.TempDir, source)
	if err != nil {
		log.Error("artifact allocation failed: %v", err)
		out = e.internalFailure(out, err)
		e.emitTerminal(AuditEventError, "", &out)
		return out
	}
	defer func() {
		if err := artifact.Remove(); err != nil {
			log.Error("cleanup failed for %s: %v", artifact.Path(), err)
		}
	}()

	return e.run(ctx, log, artifact, timeout, out)
}

// run launches the interpreter on artifact and classifies how it ended.
func (e *Executor) run(ctx context.Context, log *logging.Logger, artifact *Artifact, timeout time.Duration, out Outcome) Outcome {
	timer := logging.StartTimer(logging.CategorySandbox, "Snippet execution")
	defer timer.Stop()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string{}, e.config.InterpreterArgs...), artifact.Path())
	cmd := exec.CommandContext(runCtx, e.config.Interpreter, args...)
	cmd.Dir = e.config.WorkingDirectory
	cmd.Env = e.buildEnvironment()

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	setupProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = e.config.KillGrace

	e.emitAudit(AuditEvent{
		Type:         AuditEventStart,
		Timestamp:    time.Now(),
		RunID:        out.RunID,
		ArtifactPath: artifact.Path(),
	})
	log.Debug("starting %s %v (timeout=%s)", e.config.Interpreter, args, timeout)

	err := cmd.Run()

	// A child that spawned background work may leave our pipes open after a
	// clean exit; the group is reaped and the run still counts.
	if errors.Is(err, exec.ErrWaitDelay) && cmd.ProcessState != nil && cmd.ProcessState.Success() {
		_ = killProcessGroup(cmd)
		err = nil
	}

	switch {
	case err == nil:
		out.Success = true
		out.ExitCode = 0
		out.Stdout = stdoutBuf.String()
		log.Debug("snippet exited 0 (%d bytes stdout)", stdoutBuf.Len())
		e.emitTerminal(AuditEventComplete, artifact.Path(), &out)
		return out

	case runCtx.Err() != nil:
		out.Failure = FailureTimedOut
		out.Stdout = ""
		if ctx.Err() != nil {
			out.Stderr = fmt.Sprintf("Execution Cancelled (%v)", ctx.Err())
		} else {
			out.Stderr = fmt.Sprintf("Execution Timed Out (Max %ss)", formatSeconds(timeout))
		}
		log.Warn("snippet killed: %s", out.Stderr)
		e.emitTerminal(AuditEventKilled, artifact.Path(), &out)
		return out
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.Failure = FailureRuntimeError
		out.ExitCode = exitErr.ExitCode()
		out.Stdout = stdoutBuf.String()
		out.Stderr = stderrBuf.String()
		if out.Stderr == "" {
			out.Stderr = exitErr.Error()
		}
		log.Debug("snippet exited non-zero: %d", out.ExitCode)
		e.emitTerminal(AuditEventComplete, artifact.Path(), &out)
		return out
	}

	log.Error("launch failed: %v", err)
	out = e.internalFailure(out, err)
	e.emitTerminal(AuditEventError, artifact.Path(), &out)
	return out
}

// emitTerminal reports a finished run with a snapshot of its outcome.
func (e *Executor) emitTerminal(kind AuditEventType, artifactPath string, out *Outcome) {
	snapshot := *out
	snapshot.Duration = time.Since(out.StartedAt)
	e.emitAudit(AuditEvent{
		Type:         kind,
		Timestamp:    time.Now(),
		RunID:        out.RunID,
		ArtifactPath: artifactPath,
		Outcome:      &snapshot,
	})
}

// internalFailure marks out as a sandbox fault. Output gathered so far is dropped.
func (e *Executor) internalFailure(out Outcome, err error) Outcome {
	out.Success = false
	out.Failure = FailureInternalError
	out.Stdout = ""
	out.Stderr = fmt.Sprintf("Sandbox Error: %v", err)
	out.ExitCode = -1
	return out
}

// buildEnvironment passes through only the allowed variables.
func (e *Executor) buildEnvironment() []string {
	env := make([]string, 0, len(e.config.AllowedEnvironment))
	for _, key := range e.config.AllowedEnvironment {
		if val, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+val)
		}
	}
	return env
}

// formatSeconds renders a duration in seconds without trailing zeros: 5, 1.5, 0.25.
func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
