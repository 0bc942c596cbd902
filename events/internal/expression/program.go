// Package expression evaluates billable-metric value formulas.
//
// Formulas are small arithmetic and comparison expressions over event
// properties, e.g. `round(event.properties.bytes / 1024, 2)` or
// `if(tier == "gold", units * 2, units)`. Arithmetic uses 34-digit decimals,
// so results never pick up binary floating point error.
package expression

import (
	"errors"

	"github.com/billhawk/billhawk/events/internal/model"
)

// Program is a compiled expression. It is immutable and safe for concurrent use.
type Program struct {
	source string
	root   Node
}

// Compile parses src into a Program.
func Compile(src string) (*Program, error) {
	root, err := Parse(src)
	if err != nil {
		return nil, err
	}
	return &Program{source: src, root: root}, nil
}

// Source returns the expression text.
func (p *Program) Source() string { return p.source }

// AST returns the root node.
func (p *Program) AST() Node { return p.root }

// Run evaluates the program and returns its numeric result in plain decimal
// notation. A non-numeric result is a type_mismatch.
func (p *Program) Run(env Env) (string, error) {
	v, err := p.root.Eval(&env)
	if err != nil {
		return "", err
	}
	d, ok := v.Number()
	if !ok {
		return "", typeMismatch("result is %s %q, not a number", v.kind, v.String())
	}
	return formatDecimal(d), nil
}

// Eval compiles and runs expr against props in one step, without caching.
func Eval(expr string, props map[string]any) model.EvaluationResult {
	prog, err := Compile(expr)
	if err != nil {
		return failure(err)
	}
	out, err := prog.Run(Env{Properties: props})
	if err != nil {
		return failure(err)
	}
	return model.Success(out)
}

func failure(err error) model.EvaluationResult {
	var e *Error
	if errors.As(err, &e) {
		return model.Failure(e)
	}
	return model.Failure(typeMismatch("%v", err))
}
