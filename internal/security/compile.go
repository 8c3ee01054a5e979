package security

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"codeguard/internal/logging"
)

// DefaultSyntaxInterpreter confirms tree-sitter's parse unless overridden.
const DefaultSyntaxInterpreter = "python3"

const (
	compileTimeout = 10 * time.Second

	// compileSyntaxExit is the exit status compileScript uses for a SyntaxError.
	compileSyntaxExit = 3
)

// compileScript reads the snippet from stdin and compiles it without running
// it. TabError and IndentationError are SyntaxError subclasses. Older
// interpreters raise ValueError for NUL bytes.
const compileScript = `import sys
src = sys.stdin.buffer.read()
try:
    compile(src, "<snippet>", "exec", dont_inherit=True)
except (SyntaxError, ValueError) as e:
    sys.stdout.write("%d\t%s" % (getattr(e, "lineno", None) or 0, getattr(e, "msg", None) or e))
    sys.exit(3)
`

// WithSyntaxCheck sets the interpreter that must also accept the source
// before it is declared safe. An empty name leaves tree-sitter as the only parser.
func WithSyntaxCheck(interpreter string) Option {
	return func(v *Validator) {
		v.interpreter = interpreter
	}
}

// compileCheck asks the interpreter to compile source. A rejected program is
// returned as a violation; the error covers a missing or misbehaving interpreter.
func (v *Validator) compileCheck(ctx context.Context, source string) (Violation, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, compileTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, v.interpreter, "-I", "-c", compileScript)
	cmd.Stdin = strings.NewReader(source)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	if err == nil {
		return Violation{}, false, nil
	}
	if ctx.Err() != nil {
		return Violation{}, false, fmt.Errorf("syntax check interrupted: %w", ctx.Err())
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != compileSyntaxExit {
		return Violation{}, false, fmt.Errorf("syntax check with %s failed: %w: %s",
			v.interpreter, err, strings.TrimSpace(stderr.String()))
	}

	line, msg, _ := strings.Cut(stdout.String(), "\t")
	n, _ := strconv.Atoi(line)
	if msg == "" {
		msg = "invalid syntax"
	}
	logging.SecurityDebug("%s rejected snippet at line %d: %s", v.interpreter, n, msg)
	return Violation{Kind: KindSyntaxError, Detail: msg, Line: n}, true, nil
}
