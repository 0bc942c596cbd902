package expression

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/cockroachdb/apd/v3"
)

// precision is the number of significant digits kept by arithmetic.
const precision = 34

// decimalCtx is shared read-only by every evaluation.
var decimalCtx = func() *apd.Context {
	c := apd.BaseContext.WithPrecision(precision)
	c.Rounding = apd.RoundHalfUp
	return c
}()

// Kind is the dynamic type of a Value.
type Kind int

const (
	KindNumber Kind = iota
	KindString
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	default:
		return "unknown"
	}
}

// Value is an immutable runtime value. Numbers are never modified in place
// once a Value holds them.
type Value struct {
	kind Kind
	num  *apd.Decimal
	str  string
	b    bool
}

func numberValue(d *apd.Decimal) Value {
	return Value{kind: KindNumber, num: d}
}

func stringValue(s string) Value {
	return Value{kind: KindString, str: s}
}

func boolValue(b bool) Value {
	return Value{kind: KindBool, b: b}
}

func flagValue(b bool) Value {
	if b {
		return numberValue(apd.New(1, 0))
	}
	return numberValue(apd.New(0, 0))
}

// Kind returns the dynamic type of v.
func (v Value) Kind() Kind {
	return v.kind
}

// parseDecimal parses s as a finite decimal.
func parseDecimal(s string) (*apd.Decimal, bool) {
	d, _, err := apd.NewFromString(s)
	if err != nil || d.Form != apd.Finite {
		return nil, false
	}
	return d, true
}

// Number coerces v to a decimal. Numeric strings are parsed; booleans and
// other strings do not coerce.
func (v Value) Number() (*apd.Decimal, bool) {
	switch v.kind {
	case KindNumber:
		return v.num, true
	case KindString:
		return parseDecimal(v.str)
	default:
		return nil, false
	}
}

// String renders v the way it is published.
func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return formatDecimal(v.num)
	case KindString:
		return v.str
	default:
		return strconv.FormatBool(v.b)
	}
}

// formatDecimal renders d in plain notation with trailing zeros removed.
func formatDecimal(d *apd.Decimal) string {
	var r apd.Decimal
	r.Reduce(d)
	if r.IsZero() {
		r.Negative = false
	}
	return r.Text('f')
}

// fromProperty converts a decoded property value to a Value. ok is false for
// nil, which callers treat as a missing property.
func fromProperty(raw any) (Value, bool, error) {
	switch v := raw.(type) {
	case nil:
		return Value{}, false, nil
	case string:
		return stringValue(v), true, nil
	case bool:
		return boolValue(v), true, nil
	case json.Number:
		d, ok := parseDecimal(v.String())
		if !ok {
			return Value{}, false, typeMismatch("property value %q is not a finite number", v.String())
		}
		return numberValue(d), true, nil
	case float64:
		d, ok := parseDecimal(strconv.FormatFloat(v, 'f', -1, 64))
		if !ok {
			return Value{}, false, typeMismatch("property value %v is not a finite number", v)
		}
		return numberValue(d), true, nil
	case int:
		return numberValue(apd.New(int64(v), 0)), true, nil
	case int64:
		return numberValue(apd.New(v, 0)), true, nil
	default:
		return Value{}, false, typeMismatch("unsupported property type %T", raw)
	}
}

// Stringify renders a decoded property value exactly as received.
func Stringify(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
