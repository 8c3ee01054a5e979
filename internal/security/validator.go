package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"codeguard/internal/logging"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

const (
	// maxSnippetLen bounds the source excerpt quoted in syntax error details.
	maxSnippetLen = 40

	// slowValidation is when a single Validate call gets logged as slow.
	slowValidation = 250 * time.Millisecond
)

// Validator checks Python source against module and callable denylists.
// It holds only read-only configuration and is safe for concurrent use.
type Validator struct {
	modules     Denylist
	callables   Denylist
	interpreter string
}

// Option configures a Validator.
type Option func(*Validator)

// WithForbiddenModules replaces the module denylist.
func WithForbiddenModules(names []string) Option {
	return func(v *Validator) {
		v.modules = NewDenylist(names)
	}
}

// WithForbiddenCallables replaces the callable denylist.
func WithForbiddenCallables(names []string) Option {
	return func(v *Validator) {
		v.callables = NewDenylist(names)
	}
}

// NewValidator creates a validator with the default denylists unless overridden.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{
		modules:     NewDenylist(DefaultForbiddenModules),
		callables:   NewDenylist(DefaultForbiddenCallables),
		interpreter: DefaultSyntaxInterpreter,
	}
	for _, opt := range opts {
		opt(v)
	}
	logging.SecurityDebug("Validator created: %d forbidden modules, %d forbidden callables",
		v.modules.Len(), v.callables.Len())
	return v
}

// ForbiddenModules returns the module denylist.
func (v *Validator) ForbiddenModules() Denylist { return v.modules }

// ForbiddenCallables returns the callable denylist.
func (v *Validator) ForbiddenCallables() Denylist { return v.callables }

// SyntaxInterpreter returns the interpreter confirming parses, or "" when disabled.
func (v *Validator) SyntaxInterpreter() string { return v.interpreter }

// Validate parses source and reports every denylist hit.
//
// An unsafe snippet is a normal result, not an error. Unparsable source yields
// exactly one KindSyntaxError violation and no tree walk. Source tree-sitter
// accepts is then compiled by the syntax interpreter, if one is set, since the
// grammar tolerates programs CPython rejects. The returned error is reserved
// for host faults: no tree, an unusable interpreter, or ctx ending.
func (v *Validator) Validate(ctx context.Context, source string) (Verdict, error) {
	timer := logging.StartTimer(logging.CategorySecurity, "Validate")
	defer timer.StopWithThreshold(slowValidation)

	// tree-sitter parsers are not safe for concurrent use, so each call gets its own.
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(python.GetLanguage())

	content := []byte(source)
	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		logging.Get(logging.CategorySecurity).Error("parse failed: %v", err)
		return Verdict{}, fmt.Errorf("failed to parse source: %w", err)
	}
	if tree == nil {
		return Verdict{}, fmt.Errorf("failed to parse source: parser returned no tree")
	}
	defer tree.Close()

	root := tree.RootNode()
	if violation, ok := findSyntaxError(root, content); ok {
		logging.SecurityDebug("syntax error: %s", violation)
		return newVerdict([]Violation{violation}), nil
	}
	if v.interpreter != "" {
		violation, rejected, err := v.compileCheck(ctx, source)
		if err != nil {
			logging.Get(logging.CategorySecurity).Error("%v", err)
			return Verdict{}, err
		}
		if rejected {
			return newVerdict([]Violation{violation}), nil
		}
	}

	w := &walker{validator: v, content: content}
	w.walk(root)

	verdict := newVerdict(w.violations)
	if !verdict.Safe {
		logging.SecurityWarn("rejected snippet with %d violations", len(verdict.Violations))
	}
	return verdict, nil
}

// walker accumulates violations during a full pre-order traversal.
type walker struct {
	validator  *Validator
	content    []byte
	violations []Violation
}

func (w *walker) walk(node *sitter.Node) {
	switch node.Type() {
	case "import_statement":
		w.checkImport(node)
	case "import_from_statement":
		w.checkImportFrom(node)
	case "future_import_statement":
		w.checkModule("__future__", node)
	case "call":
		w.checkCall(node)
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		w.walk(node.NamedChild(i))
	}
}

// checkImport handles "import a.b, c as d".
func (w *walker) checkImport(node *sitter.Node) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "dotted_name":
			w.checkModule(w.dottedName(child), node)
		case "aliased_import":
			if name := child.ChildByFieldName("name"); name != nil {
				w.checkModule(w.dottedName(name), node)
			}
		}
	}
}

// checkImportFrom handles "from a.b import c" and "from .a import c".
// A bare relative import ("from . import c") names no module and is not checked.
func (w *walker) checkImportFrom(node *sitter.Node) {
	module := node.ChildByFieldName("module_name")
	if module == nil {
		return
	}
	switch module.Type() {
	case "dotted_name":
		w.checkModule(w.dottedName(module), node)
	case "relative_import":
		for i := 0; i < int(module.NamedChildCount()); i++ {
			if child := module.NamedChild(i); child.Type() == "dotted_name" {
				w.checkModule(w.dottedName(child), node)
			}
		}
	}
}

func (w *walker) checkModule(name string, node *sitter.Node) {
	if name == "" {
		return
	}
	head, _, _ := strings.Cut(name, ".")
	if w.validator.modules.Contains(head) {
		w.add(KindForbiddenImport, name, node)
	}
}

// checkCall flags calls whose callee is a bare identifier. Attribute and
// computed callees are deliberately ignored.
func (w *walker) checkCall(node *sitter.Node) {
	fn := node.ChildByFieldName("function")
	if fn == nil || fn.Type() != "identifier" {
		return
	}
	name := fn.Content(w.content)
	if w.validator.callables.Contains(name) {
		w.add(KindForbiddenCall, name, node)
	}
}

func (w *walker) add(kind ViolationKind, detail string, node *sitter.Node) {
	w.violations = append(w.violations, Violation{
		Kind:   kind,
		Detail: detail,
		Line:   lineOf(node),
	})
}

// dottedName joins the identifier parts of a dotted_name so that
// "os . path" and "os.path" both read "os.path".
func (w *walker) dottedName(node *sitter.Node) string {
	if node.Type() != "dotted_name" {
		return strings.TrimSpace(node.Content(w.content))
	}
	parts := make([]string, 0, node.NamedChildCount())
	for i := 0; i < int(node.NamedChildCount()); i++ {
		parts = append(parts, node.NamedChild(i).Content(w.content))
	}
	return strings.Join(parts, ".")
}

// findSyntaxError returns a violation for the first ERROR or MISSING node in
// document order, an empty block (a compound statement with no indented
// body), or a Python 2 statement form that Python 3 rejects.
func findSyntaxError(root *sitter.Node, content []byte) (Violation, bool) {
	var found *Violation
	var visit func(*sitter.Node)
	visit = func(n *sitter.Node) {
		if found != nil {
			return
		}
		switch {
		case n.IsMissing():
			found = &Violation{
				Kind:   KindSyntaxError,
				Detail: fmt.Sprintf("expected %q", n.Type()),
				Line:   lineOf(n),
			}
			return
		case n.Type() == "ERROR":
			found = &Violation{
				Kind:   KindSyntaxError,
				Detail: fmt.Sprintf("invalid syntax near %q", excerpt(n.Content(content))),
				Line:   lineOf(n),
			}
			return
		case n.Type() == "block" && n.NamedChildCount() == 0:
			found = &Violation{
				Kind:   KindSyntaxError,
				Detail: "expected an indented block",
				Line:   lineOf(n),
			}
			return
		case n.Type() == "print_statement" || n.Type() == "exec_statement":
			keyword := strings.TrimSuffix(n.Type(), "_statement")
			found = &Violation{
				Kind:   KindSyntaxError,
				Detail: fmt.Sprintf("Python 2 %s statement is not valid Python 3", keyword),
				Line:   lineOf(n),
			}
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			visit(n.Child(i))
		}
	}
	visit(root)

	if found == nil {
		return Violation{}, false
	}
	return *found, true
}

func lineOf(n *sitter.Node) int {
	return int(n.StartPoint().Row) + 1
}

func excerpt(s string) string {
	s, _, _ = strings.Cut(strings.TrimSpace(s), "\n")
	if len(s) > maxSnippetLen {
		s = s[:maxSnippetLen] + "..."
	}
	return s
}
