// Package sandbox runs validated Python snippets in a fresh interpreter process.
//
// Every call is single-shot: validate, write the snippet to its own ephemeral
// file, run it under a wall-clock deadline, classify the result and remove the
// file. Nothing is retried and nothing outlives the call.
//
// Containment is best effort. There is no kernel-level isolation and no memory,
// CPU or descriptor caps; the deadline is the only resource bound.
package sandbox

import (
	"context"
	"time"

	"codeguard/internal/security"
)

// Validator is the static gate consulted before anything is written or spawned.
type Validator interface {
	Validate(ctx context.Context, source string) (security.Verdict, error)
}

// FailureKind classifies an unsuccessful run. The empty kind means success.
type FailureKind string

const (
	FailureNone             FailureKind = ""
	FailureSecurityRejected FailureKind = "security_rejected"
	FailureTimedOut         FailureKind = "timed_out"
	FailureRuntimeError     FailureKind = "runtime_error"
	FailureInternalError    FailureKind = "internal_error"
)

// Outcome is the fully populated result of one execution.
//
// Success is true exactly when Failure is FailureNone. On failure Stderr is
// never empty: it carries the process's stderr, the rejection report, the
// timeout notice or the sandbox fault.
type Outcome struct {
	RunID      string               `json:"run_id"`
	Success    bool                 `json:"success"`
	Stdout     string               `json:"stdout"`
	Stderr     string               `json:"stderr,omitempty"`
	Failure    FailureKind          `json:"failure,omitempty"`
	ExitCode   int                  `json:"exit_code"`
	Violations []security.Violation `json:"violations,omitempty"`
	StartedAt  time.Time            `json:"started_at"`
	Duration   time.Duration        `json:"duration"`
}

// Response is the outbound shape handed to callers: output is stdout, error is
// stderr or the rejection detail and is null on success.
type Response struct {
	Success bool    `json:"success"`
	Output  string  `json:"output"`
	Error   *string `json:"error"`
}

// Response projects the outcome onto the caller-facing shape.
func (o Outcome) Response() Response {
	r := Response{Success: o.Success, Output: o.Stdout}
	if !o.Success {
		msg := o.Stderr
		r.Error = &msg
	}
	return r
}

// AuditEventType categorizes audit events.
type AuditEventType string

const (
	AuditEventBlocked  AuditEventType = "blocked"
	AuditEventStart    AuditEventType = "start"
	AuditEventComplete AuditEventType = "complete"
	AuditEventKilled   AuditEventType = "killed"
	AuditEventError    AuditEventType = "error"
)

// AuditEvent reports a state transition of one execution.
type AuditEvent struct {
	Type      AuditEventType `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`

	// ArtifactPath is set from the start event on, once the file exists.
	ArtifactPath string `json:"artifact_path,omitempty"`

	// Outcome is set on terminal events.
	Outcome *Outcome `json:"outcome,omitempty"`
}
