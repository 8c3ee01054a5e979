// Package analysis turns a failing snippet into a verified fix: ask a Fixer
// for a corrected version, pull the code out of its answer, run that code in
// the sandbox and keep a record when it works.
package analysis

import (
	"context"
	"errors"
	"fmt"

	"codeguard/internal/logging"
	"codeguard/internal/sandbox"
)

// Runner executes a snippet. *sandbox.Executor satisfies it.
type Runner interface {
	Execute(ctx context.Context, source string) sandbox.Outcome
}

// Recorder persists successful fixes alongside the code and error they
// address. *store.ExecutionStore satisfies it.
type Recorder interface {
	RecordFix(ctx context.Context, original, errorMessage, fixed string, o sandbox.Outcome) error
}

// Request is one fix request.
type Request struct {
	Code         string `json:"code"`
	ErrorMessage string `json:"error_message,omitempty"`
	Context      string `json:"context,omitempty"`
}

// Report is the result of AnalyzeAndFix.
type Report struct {
	OriginalCode string          `json:"original_code"`
	FixedCode    string          `json:"fixed_code"`
	Explanation  string          `json:"explanation"`
	Execution    sandbox.Outcome `json:"execution_result"`

	// Unchanged is set when the fixer's answer held no code and the original
	// was run instead.
	Unchanged bool `json:"unchanged,omitempty"`
}

// Service wires a Fixer to a Runner and an optional Recorder.
type Service struct {
	fixer    Fixer
	runner   Runner
	recorder Recorder
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithRecorder stores every fix that runs successfully.
func WithRecorder(r Recorder) ServiceOption {
	return func(s *Service) {
		s.recorder = r
	}
}

// NewService creates a Service.
func NewService(fixer Fixer, runner Runner, opts ...ServiceOption) *Service {
	s := &Service{fixer: fixer, runner: runner}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AnalyzeAndFix generates a fix for req, validates it in the sandbox and
// records it on success. Sandbox failures are reported in Report.Execution,
// not as errors; only a failing Fixer or a bad request returns an error.
func (s *Service) AnalyzeAndFix(ctx context.Context, req Request) (*Report, error) {
	if req.Code == "" {
		return nil, errors.New("code is required")
	}

	timer := logging.StartTimer(logging.CategoryAnalysis, "AnalyzeAndFix")
	defer timer.Stop()

	logging.Analysis("Generating fix (%d bytes of code)", len(req.Code))
	response, err := s.fixer.GenerateFix(ctx, req.Code, req.ErrorMessage, req.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to generate fix: %w", err)
	}

	report := &Report{OriginalCode: req.Code}
	report.FixedCode, report.Explanation = SplitResponse(response)
	if report.FixedCode == "" {
		logging.AnalysisWarn("No code block found in fixer response, running original code")
		report.FixedCode = req.Code
		report.Unchanged = true
	}

	logging.Analysis("Running sandbox validation")
	report.Execution = s.runner.Execute(ctx, report.FixedCode)

	if !report.Execution.Success {
		logging.AnalysisWarn("Fix failed in sandbox: %s", report.Execution.Failure)
		return report, nil
	}

	if s.recorder != nil {
		logging.Analysis("Fix successful, recording run %s", report.Execution.RunID)
		if err := s.recorder.RecordFix(ctx, req.Code, req.ErrorMessage, report.FixedCode, report.Execution); err != nil {
			logging.AnalysisWarn("Failed to record fix: %v", err)
		}
	}
	return report, nil
}
