package analysis

import (
	"context"
	"fmt"
)

// Fixer proposes a corrected version of failing code. The response is free-form
// markdown; the fixed program is expected in a fenced code block.
type Fixer interface {
	GenerateFix(ctx context.Context, code, errorMessage, extraContext string) (string, error)
}

// BuildPrompt renders the instruction sent to a model-backed Fixer.
func BuildPrompt(code, errorMessage, extraContext string) string {
	return fmt.Sprintf(`Isolate the error in the following Python code and provide a fix.
CONTEXT: %s
ERROR: %s

CODE:
`+"```python\n%s\n```"+`

FIX:
`, extraContext, errorMessage, code)
}

// MockResponse is what MockFixer answers when no canned response is set.
const MockResponse = "```python\n" +
	"# Fixed code (Mock)\n" +
	"def fixed_function():\n" +
	"    print(\"This is a mock fix for the error.\")\n" +
	"    return True\n" +
	"```\n" +
	"This is a mock explanation. The error was fixed by adding a return statement."

// MockFixer answers every request with a canned response. It stands in for a
// model when none is configured.
type MockFixer struct {
	Response string
}

// GenerateFix implements Fixer.
func (m MockFixer) GenerateFix(ctx context.Context, code, errorMessage, extraContext string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.Response != "" {
		return m.Response, nil
	}
	return MockResponse, nil
}
