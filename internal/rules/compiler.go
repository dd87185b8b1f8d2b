// Package rules provides the CEL-Go based boolean cascade for eligibility
// evaluation: erule, ecard and pcard expressions over already-computed
// child results.
package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	celast "github.com/google/cel-go/common/ast"
	"github.com/google/cel-go/common/operators"
	"github.com/opensource-finance/kite/internal/domain"
)

// Compiler parses rule expressions once and caches the compiled program per
// entity key, invalidating an entry when its expression text changes.
// Parsing failures surface at load time where possible and degrade to a
// per-entity false at evaluation time.
type Compiler struct {
	mu       sync.RWMutex
	env      *cel.Env
	programs map[string]*Compiled
}

// Compiled holds a pre-compiled boolean expression.
type Compiled struct {
	Expression string
	Program    cel.Program

	// Refs lists the child identifiers the expression references,
	// in first-appearance order.
	Refs []string

	root celast.Expr
}

// NewCompiler creates a compiler with an empty CEL environment. Expressions
// are parsed without declaration checking because the referenced identifiers
// (factor, rule and card names) are tenant-authored and only known at
// evaluation time.
func NewCompiler() (*Compiler, error) {
	env, err := cel.NewEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Compiler{
		env:      env,
		programs: make(map[string]*Compiled),
	}, nil
}

// Compile parses and caches the expression under the given cache key.
// A cached program is reused only while its expression text is unchanged;
// a configuration edit under the same key recompiles and replaces it.
func (c *Compiler) Compile(key, expression string) (*Compiled, error) {
	c.mu.RLock()
	if cp, ok := c.programs[key]; ok && cp.Expression == expression {
		c.mu.RUnlock()
		return cp, nil
	}
	c.mu.RUnlock()

	ast, iss := c.env.Parse(expression)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("failed to parse expression %q: %w", expression, iss.Err())
	}

	program, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for %q: %w", expression, err)
	}

	root := ast.NativeRep().Expr()
	cp := &Compiled{
		Expression: expression,
		Program:    program,
		Refs:       collectIdents(root),
		root:       root,
	}

	c.mu.Lock()
	c.programs[key] = cp
	c.mu.Unlock()

	return cp, nil
}

// Size returns the number of cached programs.
func (c *Compiler) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.programs)
}

// Eval evaluates the expression against a map of child identifier to boolean.
// Identifiers missing from the map evaluate as false.
func (cp *Compiled) Eval(values map[string]bool) (bool, error) {
	activation := make(map[string]any, len(values))
	for k, v := range values {
		activation[k] = v
	}
	for _, ref := range cp.Refs {
		if _, ok := values[ref]; !ok {
			activation[ref] = false
		}
	}

	return cp.EvalWith(activation)
}

// EvalWith evaluates the expression against an arbitrary activation map.
// Used for exception activation expressions over raw parameter values.
func (cp *Compiled) EvalWith(activation map[string]any) (bool, error) {
	out, _, err := cp.Program.Eval(activation)
	if err != nil {
		return false, fmt.Errorf("evaluation error: %w", err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression %q did not produce a boolean", cp.Expression)
	}
	return b, nil
}

// FailingRefs returns the child identifiers that evaluated false AND
// contributed to the overall false result. Short-circuit semantics apply:
// under OR, a failing branch whose sibling passed contributes nothing.
func (cp *Compiled) FailingRefs(values map[string]bool) []string {
	pass, refs := walkFailures(cp.root, values)
	if pass {
		return nil
	}
	return dedup(refs)
}

// walkFailures evaluates the boolean structure of the expression and
// collects the identifiers responsible for a false outcome.
func walkFailures(e celast.Expr, values map[string]bool) (bool, []string) {
	switch e.Kind() {
	case celast.IdentKind:
		name := e.AsIdent()
		if values[name] {
			return true, nil
		}
		return false, []string{name}

	case celast.LiteralKind:
		b, ok := e.AsLiteral().Value().(bool)
		return ok && b, nil

	case celast.CallKind:
		call := e.AsCall()
		args := call.Args()
		switch call.FunctionName() {
		case operators.LogicalAnd:
			pass := true
			var refs []string
			for _, arg := range args {
				p, r := walkFailures(arg, values)
				if !p {
					pass = false
					refs = append(refs, r...)
				}
			}
			if pass {
				return true, nil
			}
			return false, refs

		case operators.LogicalOr:
			var refs []string
			for _, arg := range args {
				p, r := walkFailures(arg, values)
				if p {
					return true, nil
				}
				refs = append(refs, r...)
			}
			return false, refs

		case operators.LogicalNot:
			if len(args) != 1 {
				return false, nil
			}
			p, _ := walkFailures(args[0], values)
			// A negated passing child fails the branch, but the child's own
			// rejection reasons do not explain the failure.
			return !p, nil
		}
		return false, nil
	}
	return false, nil
}

func collectIdents(e celast.Expr) []string {
	var refs []string
	seen := make(map[string]bool)
	var visit func(celast.Expr)
	visit = func(e celast.Expr) {
		switch e.Kind() {
		case celast.IdentKind:
			name := e.AsIdent()
			if !seen[name] {
				seen[name] = true
				refs = append(refs, name)
			}
		case celast.CallKind:
			call := e.AsCall()
			if call.IsMemberFunction() {
				visit(call.Target())
			}
			for _, arg := range call.Args() {
				visit(arg)
			}
		case celast.ListKind:
			for _, el := range e.AsList().Elements() {
				visit(el)
			}
		case celast.SelectKind:
			visit(e.AsSelect().Operand())
		}
	}
	visit(e)
	return refs
}

func dedup(refs []string) []string {
	seen := make(map[string]bool, len(refs))
	out := refs[:0]
	for _, r := range refs {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}

// DedupReasons removes duplicate rejection reasons, preserving order.
func DedupReasons(reasons []domain.RejectionReason) []domain.RejectionReason {
	seen := make(map[domain.RejectionReason]bool, len(reasons))
	var out []domain.RejectionReason
	for _, r := range reasons {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}
