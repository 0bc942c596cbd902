package expression

import (
	"strings"

	"github.com/cockroachdb/apd/v3"

	"github.com/billhawk/billhawk/events/internal/model"
)

// Env is what an expression is evaluated against.
type Env struct {
	Event      *model.RawEvent
	Properties map[string]any
}

// NewEnv builds the environment for event.
func NewEnv(event *model.RawEvent) Env {
	return Env{Event: event, Properties: event.Properties}
}

// Node is an immutable AST node.
type Node interface {
	Eval(env *Env) (Value, error)
	String() string
}

// Literal is a constant number, string or boolean.
type Literal struct {
	Value Value
}

func (n *Literal) Eval(*Env) (Value, error) { return n.Value, nil }

func (n *Literal) String() string {
	if n.Value.kind == KindString {
		return `"` + strings.ReplaceAll(n.Value.str, `"`, `\"`) + `"`
	}
	return n.Value.String()
}

// refKind is what a PropertyRef points at.
type refKind int

const (
	refProperty refKind = iota
	refTimestamp
	refOrganizationID
	refSubscriptionID
	refCode
	refTransactionID
)

var eventFields = map[string]refKind{
	"timestamp":                refTimestamp,
	"organization_id":          refOrganizationID,
	"external_subscription_id": refSubscriptionID,
	"code":                     refCode,
	"transaction_id":           refTransactionID,
}

// PropertyRef reads an event property (`a`, `event.properties.a`) or an
// event field (`event.timestamp`).
type PropertyRef struct {
	Path []string
	Name string
	kind refKind
}

func (n *PropertyRef) String() string { return strings.Join(n.Path, ".") }

func (n *PropertyRef) Eval(env *Env) (Value, error) {
	if n.kind != refProperty {
		return n.evalField(env.Event)
	}
	raw, present := env.Properties[n.Name]
	if !present {
		return Value{}, missingProperty(n.Name)
	}
	v, ok, err := fromProperty(raw)
	if err != nil {
		return Value{}, err
	}
	if !ok {
		return Value{}, missingProperty(n.Name)
	}
	return v, nil
}

func (n *PropertyRef) evalField(e *model.RawEvent) (Value, error) {
	if e == nil {
		return Value{}, missingProperty(n.String())
	}
	switch n.kind {
	case refTimestamp:
		d, _ := parseDecimal(model.EpochSeconds(e.Timestamp).String())
		return numberValue(d), nil
	case refOrganizationID:
		return stringValue(e.OrganizationID), nil
	case refSubscriptionID:
		return stringValue(e.ExternalSubscriptionID), nil
	case refCode:
		return stringValue(e.Code), nil
	default:
		return stringValue(e.TransactionID), nil
	}
}

// Unary is numeric negation.
type Unary struct {
	Operand Node
}

func (n *Unary) String() string { return "(-" + n.Operand.String() + ")" }

func (n *Unary) Eval(env *Env) (Value, error) {
	v, err := n.Operand.Eval(env)
	if err != nil {
		return Value{}, err
	}
	d, ok := v.Number()
	if !ok {
		return Value{}, typeMismatch("cannot negate %s %q", v.kind, v.String())
	}
	var r apd.Decimal
	r.Neg(d)
	return numberValue(&r), nil
}

// BinaryOp is an arithmetic operation.
type BinaryOp struct {
	Op          string
	Left, Right Node
	pos         int
}

func (n *BinaryOp) String() string {
	return "(" + n.Left.String() + " " + n.Op + " " + n.Right.String() + ")"
}

func (n *BinaryOp) Eval(env *Env) (Value, error) {
	lv, err := n.Left.Eval(env)
	if err != nil {
		return Value{}, err
	}
	rv, err := n.Right.Eval(env)
	if err != nil {
		return Value{}, err
	}
	l, ok := lv.Number()
	if !ok {
		return Value{}, typeMismatch("left operand of %s is %s %q", n.Op, lv.kind, lv.String())
	}
	r, ok := rv.Number()
	if !ok {
		return Value{}, typeMismatch("right operand of %s is %s %q", n.Op, rv.kind, rv.String())
	}

	var res apd.Decimal
	switch n.Op {
	case "+":
		_, err = decimalCtx.Add(&res, l, r)
	case "-":
		_, err = decimalCtx.Sub(&res, l, r)
	case "*":
		_, err = decimalCtx.Mul(&res, l, r)
	case "/":
		if r.IsZero() {
			return Value{}, divisionByZero(n.pos)
		}
		_, err = decimalCtx.Quo(&res, l, r)
	}
	if err != nil {
		return Value{}, typeMismatch("%s %s %s: %v", formatDecimal(l), n.Op, formatDecimal(r), err)
	}
	return numberValue(&res), nil
}

// Comparison yields 1 when the relation holds and 0 otherwise.
type Comparison struct {
	Op          string
	Left, Right Node
}

func (n *Comparison) String() string {
	return "(" + n.Left.String() + " " + n.Op + " " + n.Right.String() + ")"
}

func (n *Comparison) Eval(env *Env) (Value, error) {
	lv, err := n.Left.Eval(env)
	if err != nil {
		return Value{}, err
	}
	rv, err := n.Right.Eval(env)
	if err != nil {
		return Value{}, err
	}

	l, lok := lv.Number()
	r, rok := rv.Number()
	if lok && rok {
		c := l.Cmp(r)
		switch n.Op {
		case "==":
			return flagValue(c == 0), nil
		case "!=":
			return flagValue(c != 0), nil
		case "<":
			return flagValue(c < 0), nil
		case "<=":
			return flagValue(c <= 0), nil
		case ">":
			return flagValue(c > 0), nil
		default:
			return flagValue(c >= 0), nil
		}
	}

	if n.Op != "==" && n.Op != "!=" {
		return Value{}, typeMismatch("cannot order %s %q and %s %q", lv.kind, lv.String(), rv.kind, rv.String())
	}
	equal := lv.kind == rv.kind && lv.str == rv.str && lv.b == rv.b
	if n.Op == "==" {
		return flagValue(equal), nil
	}
	return flagValue(!equal), nil
}

// Call invokes a builtin function.
type Call struct {
	Name string
	Args []Node
	fn   *builtin
}

func (n *Call) String() string {
	args := make([]string, len(n.Args))
	for i, a := range n.Args {
		args[i] = a.String()
	}
	return n.Name + "(" + strings.Join(args, ", ") + ")"
}

func (n *Call) Eval(env *Env) (Value, error) {
	return n.fn.call(env, n.Args)
}
