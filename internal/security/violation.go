// Package security is the static gate in front of the sandbox. It parses a
// Python snippet with tree-sitter and walks the syntax tree looking for imports
// of forbidden modules and direct calls to forbidden builtins.
//
// The gate is a denylist. Only bare-name calls are checked: attribute calls
// (os.system, builtins.eval), aliases bound at runtime and string-built imports
// pass through. The sandbox process is the containment layer, this package only
// rejects the obvious.
package security

import (
	"fmt"
	"strings"
)

// ViolationKind classifies a validator finding.
type ViolationKind string

const (
	KindSyntaxError     ViolationKind = "syntax_error"
	KindForbiddenImport ViolationKind = "forbidden_import"
	KindForbiddenCall   ViolationKind = "forbidden_call"
)

// String returns the human label used in rejection reports.
func (k ViolationKind) String() string {
	switch k {
	case KindSyntaxError:
		return "Syntax error"
	case KindForbiddenImport:
		return "Forbidden import"
	case KindForbiddenCall:
		return "Forbidden function call"
	default:
		return string(k)
	}
}

// Violation is a single finding. Line is 1-based, 0 when unknown.
type Violation struct {
	Kind   ViolationKind `json:"kind"`
	Detail string        `json:"detail"`
	Line   int           `json:"line,omitempty"`
}

// String renders "<kind>: <detail> at line <line>", dropping the line suffix
// when the line is unknown.
func (v Violation) String() string {
	if v.Line > 0 {
		return fmt.Sprintf("%s: %s at line %d", v.Kind, v.Detail, v.Line)
	}
	return fmt.Sprintf("%s: %s", v.Kind, v.Detail)
}

// Verdict is the result of validating one snippet.
// Safe is true exactly when Violations is empty.
type Verdict struct {
	Safe       bool        `json:"safe"`
	Violations []Violation `json:"violations,omitempty"`
}

func newVerdict(violations []Violation) Verdict {
	return Verdict{Safe: len(violations) == 0, Violations: violations}
}

// Report joins every violation with newlines, in discovery order.
func (v Verdict) Report() string {
	lines := make([]string, len(v.Violations))
	for i, violation := range v.Violations {
		lines[i] = violation.String()
	}
	return strings.Join(lines, "\n")
}

// HasKind reports whether any violation is of the given kind.
func (v Verdict) HasKind(kind ViolationKind) bool {
	for _, violation := range v.Violations {
		if violation.Kind == kind {
			return true
		}
	}
	return false
}
