package expression

import (
	"github.com/cockroachdb/apd/v3"
)

type builtin struct {
	name    string
	minArgs int
	maxArgs int
	call    func(env *Env, args []Node) (Value, error)
}

var builtins map[string]*builtin

func init() {
	builtins = map[string]*builtin{
		"round": {name: "round", minArgs: 1, maxArgs: 2, call: callRound},
		"ceil":  {name: "ceil", minArgs: 1, maxArgs: 1, call: callCeil},
		"floor": {name: "floor", minArgs: 1, maxArgs: 1, call: callFloor},
		"if":    {name: "if", minArgs: 3, maxArgs: 3, call: callIf},
	}
}

func numberArg(env *Env, fn string, arg Node) (*apd.Decimal, error) {
	v, err := arg.Eval(env)
	if err != nil {
		return nil, err
	}
	d, ok := v.Number()
	if !ok {
		return nil, typeMismatch("%s expects a number, got %s %q", fn, v.kind, v.String())
	}
	return d, nil
}

// callRound rounds half up to the given number of decimal places (default 0).
func callRound(env *Env, args []Node) (Value, error) {
	x, err := numberArg(env, "round", args[0])
	if err != nil {
		return Value{}, err
	}
	var places int64
	if len(args) == 2 {
		p, err := numberArg(env, "round", args[1])
		if err != nil {
			return Value{}, err
		}
		places, err = p.Int64()
		if err != nil || places < 0 || places > precision {
			return Value{}, typeMismatch("round places must be an integer between 0 and %d", precision)
		}
	}
	var r apd.Decimal
	if _, err := decimalCtx.Quantize(&r, x, int32(-places)); err != nil {
		return Value{}, typeMismatch("round: %v", err)
	}
	return numberValue(&r), nil
}

func callCeil(env *Env, args []Node) (Value, error) {
	x, err := numberArg(env, "ceil", args[0])
	if err != nil {
		return Value{}, err
	}
	var r apd.Decimal
	if _, err := decimalCtx.Ceil(&r, x); err != nil {
		return Value{}, typeMismatch("ceil: %v", err)
	}
	return numberValue(&r), nil
}

func callFloor(env *Env, args []Node) (Value, error) {
	x, err := numberArg(env, "floor", args[0])
	if err != nil {
		return Value{}, err
	}
	var r apd.Decimal
	if _, err := decimalCtx.Floor(&r, x); err != nil {
		return Value{}, typeMismatch("floor: %v", err)
	}
	return numberValue(&r), nil
}

// callIf evaluates only the selected branch.
func callIf(env *Env, args []Node) (Value, error) {
	cond, err := args[0].Eval(env)
	if err != nil {
		return Value{}, err
	}
	var truthy bool
	switch cond.kind {
	case KindBool:
		truthy = cond.b
	default:
		d, ok := cond.Number()
		if !ok {
			return Value{}, typeMismatch("if condition is %s %q", cond.kind, cond.String())
		}
		truthy = !d.IsZero()
	}
	if truthy {
		return args[1].Eval(env)
	}
	return args[2].Eval(env)
}
