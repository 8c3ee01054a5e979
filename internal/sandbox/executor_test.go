package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"codeguard/internal/security"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func requirePython(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
}

// eventLog collects audit events from concurrent runs.
type eventLog struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (l *eventLog) record(e AuditEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) types() []AuditEventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEventType, len(l.events))
	for i, e := range l.events {
		out[i] = e.Type
	}
	return out
}

func (l *eventLog) artifactPaths() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var paths []string
	for _, e := range l.events {
		if e.Type == AuditEventStart {
			paths = append(paths, e.ArtifactPath)
		}
	}
	return paths
}

type stubValidator struct {
	verdict security.Verdict
	err     error
	panics  bool
}

func (s stubValidator) Validate(ctx context.Context, source string) (security.Verdict, error) {
	if s.panics {
		panic("validator exploded")
	}
	return s.verdict, s.err
}

// staticValidator checks with tree-sitter alone, for tests that must not need python3.
func staticValidator() *security.Validator {
	return security.NewValidator(security.WithSyntaxCheck(""))
}

func newTestExecutor(t *testing.T, v Validator) (*Executor, string, *eventLog) {
	t.Helper()
	if v == nil {
		v = security.NewValidator()
	}
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.TempDir = dir
	sb := New(v, cfg)
	events := &eventLog{}
	sb.SetAuditCallback(events.record)
	return sb, dir, events
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	assert.Empty(t, names, "snippet files left behind")
}

func assertOutcomeConsistent(t *testing.T, out Outcome) {
	t.Helper()
	assert.NotEmpty(t, out.RunID)
	assert.Equal(t, out.Failure == FailureNone, out.Success)
	if !out.Success {
		assert.NotEmpty(t, out.Stderr, "failures must carry a message")
	}
}

func TestExecute_Success(t *testing.T) {
	requirePython(t)
	sb, dir, events := newTestExecutor(t, nil)

	out := sb.Execute(context.Background(), "print('Hello from Sandbox')\n")

	assertOutcomeConsistent(t, out)
	require.True(t, out.Success, "stderr: %s", out.Stderr)
	assert.Equal(t, FailureNone, out.Failure)
	assert.Contains(t, out.Stdout, "Hello from Sandbox")
	assert.Empty(t, out.Stderr)
	assert.Equal(t, 0, out.ExitCode)
	assert.Positive(t, out.Duration)

	assert.Equal(t, []AuditEventType{AuditEventStart, AuditEventComplete}, events.types())
	paths := events.artifactPaths()
	require.Len(t, paths, 1)
	assert.NoFileExists(t, paths[0])
	assertDirEmpty(t, dir)
}

func TestExecute_ArtifactExistsDuringRun(t *testing.T) {
	requirePython(t)
	sb, dir, _ := newTestExecutor(t, nil)

	var existed bool
	sb.SetAuditCallback(func(e AuditEvent) {
		if e.Type == AuditEventStart {
			_, err := os.Stat(e.ArtifactPath)
			existed = err == nil
		}
	})

	out := sb.Execute(context.Background(), "x = 1\n")
	require.True(t, out.Success, "stderr: %s", out.Stderr)
	assert.True(t, existed)
	assertDirEmpty(t, dir)
}

func TestExecute_SecurityRejected(t *testing.T) {
	// No interpreter is needed: rejected snippets never reach one.
	sb, dir, events := newTestExecutor(t, staticValidator())

	out := sb.Execute(context.Background(), "import os\nprint(os.getcwd())\n")

	assertOutcomeConsistent(t, out)
	assert.False(t, out.Success)
	assert.Equal(t, FailureSecurityRejected, out.Failure)
	assert.Equal(t, "Forbidden import: os at line 1", out.Stderr)
	assert.Empty(t, out.Stdout)
	assert.Equal(t, -1, out.ExitCode)
	require.Len(t, out.Violations, 1)
	assert.Equal(t, security.KindForbiddenImport, out.Violations[0].Kind)

	assert.Equal(t, []AuditEventType{AuditEventBlocked}, events.types())
	assert.Empty(t, events.artifactPaths())
	assertDirEmpty(t, dir)
}

func TestExecute_SecurityRejected_MultipleViolations(t *testing.T) {
	sb, dir, _ := newTestExecutor(t, staticValidator())

	out := sb.Execute(context.Background(), "import subprocess\neval('1')\n")

	assert.Equal(t, FailureSecurityRejected, out.Failure)
	assert.Equal(t,
		"Forbidden import: subprocess at line 1\nForbidden function call: eval at line 2",
		out.Stderr)
	assertDirEmpty(t, dir)
}

func TestExecute_SyntaxErrorRejected(t *testing.T) {
	sb, dir, events := newTestExecutor(t, staticValidator())

	out := sb.Execute(context.Background(), "def broken(:\n    pass\n")

	assertOutcomeConsistent(t, out)
	assert.Equal(t, FailureSecurityRejected, out.Failure)
	assert.True(t, strings.HasPrefix(out.Stderr, "Syntax error: "), out.Stderr)
	assert.Equal(t, []AuditEventType{AuditEventBlocked}, events.types())
	assertDirEmpty(t, dir)
}

func TestExecute_RuntimeError(t *testing.T) {
	requirePython(t)
	sb, dir, events := newTestExecutor(t, nil)

	out := sb.Execute(context.Background(), "print('before')\nraise ValueError('boom')\n")

	assertOutcomeConsistent(t, out)
	assert.Equal(t, FailureRuntimeError, out.Failure)
	assert.Equal(t, 1, out.ExitCode)
	assert.Equal(t, "before\n", out.Stdout)
	assert.Contains(t, out.Stderr, "ValueError: boom")
	assert.Equal(t, []AuditEventType{AuditEventStart, AuditEventComplete}, events.types())
	assertDirEmpty(t, dir)
}

func TestExecute_SilentNonZeroExit(t *testing.T) {
	requirePython(t)
	sb, dir, _ := newTestExecutor(t, nil)

	out := sb.Execute(context.Background(), "raise SystemExit(3)\n")

	assertOutcomeConsistent(t, out)
	assert.Equal(t, FailureRuntimeError, out.Failure)
	assert.Equal(t, 3, out.ExitCode)
	assert.Equal(t, "exit status 3", out.Stderr)
	assertDirEmpty(t, dir)
}

func TestExecuteWithTimeout_BusyLoop(t *testing.T) {
	requirePython(t)
	sb, dir, events := newTestExecutor(t, nil)

	start := time.Now()
	out := sb.ExecuteWithTimeout(context.Background(),
		"print('partial', flush=True)\nwhile True:\n    pass\n", time.Second)
	elapsed := time.Since(start)

	assertOutcomeConsistent(t, out)
	assert.Equal(t, FailureTimedOut, out.Failure)
	assert.Equal(t, "Execution Timed Out (Max 1s)", out.Stderr)
	assert.Empty(t, out.Stdout, "partial output is discarded on timeout")
	assert.Less(t, elapsed, 5*time.Second)

	assert.Equal(t, []AuditEventType{AuditEventStart, AuditEventKilled}, events.types())
	assertDirEmpty(t, dir)
}

func TestExecuteWithTimeout_KillsChildProcesses(t *testing.T) {
	requirePython(t)
	sb, dir, _ := newTestExecutor(t, nil)

	// The grandchild inherits our stdout; Wait only returns once the whole
	// group is gone or the kill grace expires.
	source := "import time\n" +
		"from multiprocessing import Process\n" +
		"def spin():\n" +
		"    time.sleep(30)\n" +
		"if __name__ == '__main__':\n" +
		"    Process(target=spin).start()\n" +
		"    time.sleep(30)\n"

	start := time.Now()
	out := sb.ExecuteWithTimeout(context.Background(), source, 500*time.Millisecond)

	assert.Equal(t, FailureTimedOut, out.Failure)
	assert.Equal(t, "Execution Timed Out (Max 0.5s)", out.Stderr)
	assert.Less(t, time.Since(start), 10*time.Second)
	assertDirEmpty(t, dir)
}

func TestExecute_CallerCancellation(t *testing.T) {
	requirePython(t)
	sb, dir, _ := newTestExecutor(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	timer := time.AfterFunc(300*time.Millisecond, cancel)
	defer timer.Stop()

	out := sb.ExecuteWithTimeout(ctx, "while True:\n    pass\n", 30*time.Second)

	assertOutcomeConsistent(t, out)
	assert.Equal(t, FailureTimedOut, out.Failure)
	assert.Equal(t, "Execution Cancelled (context canceled)", out.Stderr)
	assert.Empty(t, out.Stdout)
	assertDirEmpty(t, dir)
}

func TestExecute_UnparsableSourceNeverLaunches(t *testing.T) {
	requirePython(t)
	for _, source := range []string{"class A:\npass\n", "del f()\n", "x := 5\n"} {
		sb, dir, events := newTestExecutor(t, nil)

		out := sb.Execute(context.Background(), source)

		assertOutcomeConsistent(t, out)
		assert.Equal(t, FailureSecurityRejected, out.Failure, source)
		require.Len(t, out.Violations, 1, source)
		assert.Equal(t, security.KindSyntaxError, out.Violations[0].Kind)
		assert.True(t, strings.HasPrefix(out.Stderr, "Syntax error: "), out.Stderr)
		assert.Equal(t, []AuditEventType{AuditEventBlocked}, events.types(), source)
		assertDirEmpty(t, dir)
	}
}

func TestExecute_MissingInterpreter(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.TempDir = dir
	cfg.Interpreter = "/nonexistent/codeguard-python"
	sb := New(staticValidator(), cfg)
	events := &eventLog{}
	sb.SetAuditCallback(events.record)

	out := sb.Execute(context.Background(), "print('never')\n")

	assertOutcomeConsistent(t, out)
	assert.Equal(t, FailureInternalError, out.Failure)
	assert.True(t, strings.HasPrefix(out.Stderr, "Sandbox Error: "), out.Stderr)
	assert.Empty(t, out.Stdout)
	assert.Equal(t, []AuditEventType{AuditEventStart, AuditEventError}, events.types())
	assertDirEmpty(t, dir)
}

func TestExecute_UnwritableTempDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TempDir = t.TempDir() + "/missing"
	sb := New(staticValidator(), cfg)
	events := &eventLog{}
	sb.SetAuditCallback(events.record)

	out := sb.Execute(context.Background(), "print('never')\n")

	assertOutcomeConsistent(t, out)
	assert.Equal(t, FailureInternalError, out.Failure)
	assert.Contains(t, out.Stderr, "failed to create snippet file")
	assert.Equal(t, []AuditEventType{AuditEventError}, events.types())
}

func TestExecute_UnconfirmedParseNeverLaunches(t *testing.T) {
	v := security.NewValidator(security.WithSyntaxCheck("/nonexistent/codeguard-python"))
	sb, dir, events := newTestExecutor(t, v)

	out := sb.Execute(context.Background(), "print('x')\n")

	assertOutcomeConsistent(t, out)
	assert.Equal(t, FailureInternalError, out.Failure)
	assert.Contains(t, out.Stderr, "syntax check")
	assert.Equal(t, []AuditEventType{AuditEventError}, events.types())
	assertDirEmpty(t, dir)
}

func TestExecute_ValidatorError(t *testing.T) {
	sb, dir, events := newTestExecutor(t, stubValidator{err: errors.New("parser unavailable")})

	out := sb.Execute(context.Background(), "print('x')\n")

	assertOutcomeConsistent(t, out)
	assert.Equal(t, FailureInternalError, out.Failure)
	assert.Equal(t, "Sandbox Error: validation failed: parser unavailable", out.Stderr)
	assert.Equal(t, []AuditEventType{AuditEventError}, events.types())
	assertDirEmpty(t, dir)
}

func TestExecute_ValidatorPanicRecovered(t *testing.T) {
	sb, dir, _ := newTestExecutor(t, stubValidator{panics: true})

	out := sb.Execute(context.Background(), "print('x')\n")

	assertOutcomeConsistent(t, out)
	assert.Equal(t, FailureInternalError, out.Failure)
	assert.Equal(t, "Sandbox Error: panic: validator exploded", out.Stderr)
	assertDirEmpty(t, dir)
}

func TestExecute_PanicAfterArtifactStillCleansUp(t *testing.T) {
	sb, dir, _ := newTestExecutor(t, staticValidator())

	var path string
	sb.SetAuditCallback(func(e AuditEvent) {
		if e.Type == AuditEventStart {
			path = e.ArtifactPath
			panic("audit sink down")
		}
	})

	out := sb.Execute(context.Background(), "print('x')\n")

	assert.Equal(t, FailureInternalError, out.Failure)
	assert.Contains(t, out.Stderr, "audit sink down")
	require.NotEmpty(t, path)
	assert.NoFileExists(t, path)
	assertDirEmpty(t, dir)
}

func TestExecute_ConcurrentRunsAreIsolated(t *testing.T) {
	requirePython(t)
	sb, dir, events := newTestExecutor(t, nil)

	const n = 8
	outcomes := make([]Outcome, n)

	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			source := fmt.Sprintf("import time\ntime.sleep(0.1)\nprint('token-%d')\n", i)
			outcomes[i] = sb.Execute(context.Background(), source)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	runIDs := make(map[string]bool)
	for i, out := range outcomes {
		require.True(t, out.Success, "run %d: %s", i, out.Stderr)
		assert.Equal(t, fmt.Sprintf("token-%d\n", i), out.Stdout)
		assert.False(t, runIDs[out.RunID], "duplicate run id")
		runIDs[out.RunID] = true
	}

	paths := events.artifactPaths()
	require.Len(t, paths, n)
	unique := make(map[string]bool)
	for _, p := range paths {
		unique[p] = true
	}
	assert.Len(t, unique, n, "artifact paths must be distinct")
	assertDirEmpty(t, dir)
}

func TestExecute_ConcurrentMixedOutcomes(t *testing.T) {
	requirePython(t)
	sb, dir, _ := newTestExecutor(t, nil)

	sources := map[string]FailureKind{
		"print('ok')\n":             FailureNone,
		"import socket\n":           FailureSecurityRejected,
		"raise RuntimeError('x')\n": FailureRuntimeError,
		"while True:\n    pass\n":   FailureTimedOut,
	}

	var g errgroup.Group
	var mu sync.Mutex
	got := make(map[string]FailureKind)
	for src := range sources {
		src := src
		g.Go(func() error {
			out := sb.ExecuteWithTimeout(context.Background(), src, time.Second)
			mu.Lock()
			got[src] = out.Failure
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, sources, got)
	assertDirEmpty(t, dir)
}

func TestExecuteWithTimeout_NonPositiveUsesDefault(t *testing.T) {
	requirePython(t)
	sb, _, _ := newTestExecutor(t, nil)

	out := sb.ExecuteWithTimeout(context.Background(), "print(1)\n", 0)
	assert.True(t, out.Success, out.Stderr)
}

func TestNew_FillsDefaults(t *testing.T) {
	sb := New(security.NewValidator(), Config{})
	cfg := sb.Config()
	assert.Equal(t, "python3", cfg.Interpreter)
	assert.Equal(t, 5*time.Second, cfg.DefaultTimeout)
	assert.Equal(t, time.Second, cfg.KillGrace)
}

func TestBuildEnvironment(t *testing.T) {
	t.Setenv("CODEGUARD_TEST_SECRET", "hunter2")
	t.Setenv("LANG", "C.UTF-8")

	sb := New(security.NewValidator(), Config{AllowedEnvironment: []string{"LANG", "CODEGUARD_UNSET_VAR"}})
	env := sb.buildEnvironment()

	assert.Equal(t, []string{"LANG=C.UTF-8"}, env)
}

func TestFormatSeconds(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{5 * time.Second, "5"},
		{time.Second, "1"},
		{1500 * time.Millisecond, "1.5"},
		{250 * time.Millisecond, "0.25"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatSeconds(tt.in))
	}
}

func TestOutcomeResponse(t *testing.T) {
	ok := Outcome{Success: true, Stdout: "hi\n"}
	r := ok.Response()
	assert.True(t, r.Success)
	assert.Equal(t, "hi\n", r.Output)
	assert.Nil(t, r.Error)

	failed := Outcome{Failure: FailureTimedOut, Stderr: "Execution Timed Out (Max 5s)"}
	r = failed.Response()
	assert.False(t, r.Success)
	assert.Empty(t, r.Output)
	require.NotNil(t, r.Error)
	assert.Equal(t, "Execution Timed Out (Max 5s)", *r.Error)
}
