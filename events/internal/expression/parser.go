package expression

import (
	"fmt"
	"strings"
)

// Parse compiles src into an AST. Every failure is a syntax_error *Error.
func Parse(src string) (Node, error) {
	if strings.TrimSpace(src) == "" {
		return nil, syntaxError(0, "empty expression")
	}
	tokens, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	node, err := p.expr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, syntaxError(t.pos, "unexpected %s", describe(t))
	}
	return node, nil
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind tokenKind) (token, error) {
	t := p.next()
	if t.kind != kind {
		return t, syntaxError(t.pos, "expected %s, found %s", kind, describe(t))
	}
	return t, nil
}

func describe(t token) string {
	switch t.kind {
	case tokEOF:
		return t.kind.String()
	case tokString:
		return "string " + `"` + t.text + `"`
	default:
		return "'" + t.text + "'"
	}
}

func (p *parser) expr() (Node, error) {
	return p.comparison()
}

var comparisonOps = map[tokenKind]string{
	tokEq: "==",
	tokNe: "!=",
	tokLt: "<",
	tokLe: "<=",
	tokGt: ">",
	tokGe: ">=",
}

// comparison is non-associative: `a < b < c` is rejected.
func (p *parser) comparison() (Node, error) {
	left, err := p.additive()
	if err != nil {
		return nil, err
	}
	op, ok := comparisonOps[p.peek().kind]
	if !ok {
		return left, nil
	}
	p.next()
	right, err := p.additive()
	if err != nil {
		return nil, err
	}
	return &Comparison{Op: op, Left: left, Right: right}, nil
}

func (p *parser) additive() (Node, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokPlus && t.kind != tokMinus {
			return left, nil
		}
		p.next()
		right, err := p.term()
		if err != nil {
			return nil, err
		}
		left = &BinaryOp{Op: t.text, Left: left, Right: right, pos: t.pos}
	}
}

func (p *parser) term() (Node, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokStar && t.kind != tokSlash {
			return left, nil
		}
		p.next()
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = &BinaryOp{Op: t.text, Left: left, Right: right, pos: t.pos}
	}
}

func (p *parser) unary() (Node, error) {
	if p.peek().kind == tokMinus {
		p.next()
		operand, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &Unary{Operand: operand}, nil
	}
	return p.primary()
}

func (p *parser) primary() (Node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		d, ok := parseDecimal(t.text)
		if !ok {
			return nil, syntaxError(t.pos, "invalid number %q", t.text)
		}
		return &Literal{Value: numberValue(d)}, nil
	case tokString:
		return &Literal{Value: stringValue(t.text)}, nil
	case tokLParen:
		inner, err := p.expr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return inner, nil
	case tokIdent:
		switch t.text {
		case "true":
			return &Literal{Value: boolValue(true)}, nil
		case "false":
			return &Literal{Value: boolValue(false)}, nil
		}
		if p.peek().kind == tokLParen {
			return p.call(t)
		}
		return p.ref(t)
	default:
		return nil, syntaxError(t.pos, "unexpected %s", describe(t))
	}
}

func (p *parser) call(name token) (Node, error) {
	fn, ok := builtins[name.text]
	if !ok {
		return nil, syntaxError(name.pos, "unknown function %q", name.text)
	}
	p.next() // (

	var args []Node
	if p.peek().kind != tokRParen {
		for {
			arg, err := p.expr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}
	if _, err := p.expect(tokRParen); err != nil {
		return nil, err
	}
	if len(args) < fn.minArgs || len(args) > fn.maxArgs {
		return nil, syntaxError(name.pos, "%s takes %s, got %d", fn.name, arity(fn), len(args))
	}
	return &Call{Name: fn.name, Args: args, fn: fn}, nil
}

func arity(fn *builtin) string {
	switch {
	case fn.minArgs == 1 && fn.maxArgs == 1:
		return "1 argument"
	case fn.minArgs == fn.maxArgs:
		return fmt.Sprintf("%d arguments", fn.minArgs)
	default:
		return fmt.Sprintf("%d to %d arguments", fn.minArgs, fn.maxArgs)
	}
}

// ref parses a dotted reference and checks it names something resolvable.
func (p *parser) ref(first token) (Node, error) {
	path := []string{first.text}
	for p.peek().kind == tokDot {
		p.next()
		t, err := p.expect(tokIdent)
		if err != nil {
			return nil, err
		}
		path = append(path, t.text)
	}

	switch {
	case len(path) == 1:
		return &PropertyRef{Path: path, Name: path[0], kind: refProperty}, nil
	case path[0] == "event" && len(path) == 3 && path[1] == "properties":
		return &PropertyRef{Path: path, Name: path[2], kind: refProperty}, nil
	case path[0] == "event" && len(path) == 2:
		if kind, ok := eventFields[path[1]]; ok {
			return &PropertyRef{Path: path, Name: path[1], kind: kind}, nil
		}
	}
	return nil, syntaxError(first.pos, "unknown reference %q", strings.Join(path, "."))
}
