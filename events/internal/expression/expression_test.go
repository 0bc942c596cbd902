package expression

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/billhawk/billhawk/events/internal/model"
)

func TestEval_Arithmetic(t *testing.T) {
	tests := []struct {
		name   string
		expr   string
		props  map[string]any
		want   string
		reason model.FailureReason
	}{
		{"precedence", "a + b * 2", map[string]any{"a": "3", "b": "4"}, "11", ""},
		{"division by zero", "a / b", map[string]any{"a": "1", "b": "0"}, "", model.ReasonDivisionByZero},
		{"non numeric operand", "a + b", map[string]any{"a": "x", "b": "1"}, "", model.ReasonTypeMismatch},
		{"dangling operator", "a +", map[string]any{"a": "1"}, "", model.ReasonSyntaxError},
		{"missing property", "a", map[string]any{}, "", model.ReasonMissingProperty},

		{"grouping", "(a + b) * 2", map[string]any{"a": "3", "b": "4"}, "14", ""},
		{"left associative minus", "10 - 4 - 3", nil, "3", ""},
		{"left associative divide", "100 / 10 / 5", nil, "2", ""},
		{"fraction", "10 / 4", nil, "2.5", ""},
		{"trailing zeros trimmed", "1.50 * 2", nil, "3", ""},
		{"repeating fraction", "1 / 3", nil, "0.3333333333333333333333333333333333", ""},
		{"unary minus", "-a + 5", map[string]any{"a": "2"}, "3", ""},
		{"double negation", "--a", map[string]any{"a": "2"}, "2", ""},
		{"negative zero", "-0", nil, "0", ""},
		{"json number", "a * 100 / b", map[string]any{"a": json.Number("1.5"), "b": json.Number("3")}, "50", ""},
		{"float64 property", "a + 0.1", map[string]any{"a": 0.2}, "0.3", ""},
		{"int property", "a * 3", map[string]any{"a": 7}, "21", ""},
		{"dotted reference", "event.properties.a + 1", map[string]any{"a": "1"}, "2", ""},
		{"large values keep precision", "a * b", map[string]any{"a": "123456789012345678", "b": "1000"}, "123456789012345678000", ""},
		{"decimal exactness", "0.1 + 0.2", nil, "0.3", ""},

		{"comparison true", "a > b", map[string]any{"a": "5", "b": "4"}, "1", ""},
		{"comparison false", "a <= b", map[string]any{"a": "5", "b": "4"}, "0", ""},
		{"numeric equality ignores scale", "a == 1", map[string]any{"a": "1.00"}, "1", ""},
		{"string equality", `region == "eu"`, map[string]any{"region": "eu"}, "1", ""},
		{"string inequality", `region != 'eu'`, map[string]any{"region": "us"}, "1", ""},
		{"bool equality", "flag == true", map[string]any{"flag": true}, "1", ""},
		{"comparison in arithmetic", "(a > 0) * 10", map[string]any{"a": "3"}, "10", ""},
		{"ordering strings", `region < "eu"`, map[string]any{"region": "us"}, "", model.ReasonTypeMismatch},

		{"bool in arithmetic", "flag + 1", map[string]any{"flag": true}, "", model.ReasonTypeMismatch},
		{"string result", "a", map[string]any{"a": "hello"}, "", model.ReasonTypeMismatch},
		{"bool result", "true", nil, "", model.ReasonTypeMismatch},
		{"null property", "a + 1", map[string]any{"a": nil}, "", model.ReasonMissingProperty},
		{"division by computed zero", "a / (b - b)", map[string]any{"a": "1", "b": "5"}, "", model.ReasonDivisionByZero},
		{"division by zero string", "a / b", map[string]any{"a": "1", "b": "0.000"}, "", model.ReasonDivisionByZero},
		{"infinity string", "a + 1", map[string]any{"a": "Infinity"}, "", model.ReasonTypeMismatch},

		{"empty", "   ", nil, "", model.ReasonSyntaxError},
		{"unbalanced", "(a + 1", map[string]any{"a": "1"}, "", model.ReasonSyntaxError},
		{"extra token", "a b", map[string]any{"a": "1", "b": "1"}, "", model.ReasonSyntaxError},
		{"chained comparison", "a < b < c", map[string]any{"a": "1", "b": "2", "c": "3"}, "", model.ReasonSyntaxError},
		{"bad character", "a % b", map[string]any{"a": "1", "b": "2"}, "", model.ReasonSyntaxError},
		{"unterminated string", `a == "eu`, map[string]any{"a": "eu"}, "", model.ReasonSyntaxError},
		{"malformed number", "1.2.3", nil, "", model.ReasonSyntaxError},
		{"unknown reference", "event.foo", nil, "", model.ReasonSyntaxError},
		{"unknown function", "sqrt(4)", nil, "", model.ReasonSyntaxError},
		{"bad arity", "ceil(1, 2)", nil, "", model.ReasonSyntaxError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Eval(tt.expr, tt.props)
			if tt.reason == "" {
				require.NoError(t, got.Err)
				assert.Equal(t, tt.want, got.Value)
				return
			}
			require.Error(t, got.Err)
			assert.Equal(t, tt.reason, got.Reason, got.Err.Error())
			assert.Empty(t, got.Value)
		})
	}
}

func TestEval_Functions(t *testing.T) {
	tests := []struct {
		expr  string
		props map[string]any
		want  string
	}{
		{"round(2.5)", nil, "3"},
		{"round(-2.5)", nil, "-3"},
		{"round(a / 3, 2)", map[string]any{"a": "10"}, "3.33"},
		{"round(1.005, 2)", nil, "1.01"},
		{"ceil(1.1)", nil, "2"},
		{"ceil(-1.1)", nil, "-1"},
		{"floor(1.9)", nil, "1"},
		{"floor(-1.1)", nil, "-2"},
		{"ceil(bytes / 1024)", map[string]any{"bytes": "1025"}, "2"},
		{`if(tier == "gold", units * 2, units)`, map[string]any{"tier": "gold", "units": "5"}, "10"},
		{`if(tier == "gold", units * 2, units)`, map[string]any{"tier": "free", "units": "5"}, "5"},
		{"if(b == 0, 0, a / b)", map[string]any{"a": "4", "b": "0"}, "0"},
		{"if(flag, 1, 2)", map[string]any{"flag": false}, "2"},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got := Eval(tt.expr, tt.props)
			require.NoError(t, got.Err)
			assert.Equal(t, tt.want, got.Value)
		})
	}

	bad := Eval("round(a, 1.5)", map[string]any{"a": "1"})
	assert.Equal(t, model.ReasonTypeMismatch, bad.Reason)

	cond := Eval(`if(name, 1, 2)`, map[string]any{"name": "x"})
	assert.Equal(t, model.ReasonTypeMismatch, cond.Reason)
}

func TestParse_AST(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{"a + b * 2", "(a + (b * 2))"},
		{"(a + b) * 2", "((a + b) * 2)"},
		{"a - b - c", "((a - b) - c)"},
		{"-a * b", "((-a) * b)"},
		{"a * 2 >= b + 1", "((a * 2) >= (b + 1))"},
		{"event.properties.x / 2", "(event.properties.x / 2)"},
		{`if(a == "x", 1, round(b, 2))`, `if((a == "x"), 1, round(b, 2))`},
		{"event.timestamp", "event.timestamp"},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			node, err := Parse(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, node.String())
		})
	}
}

func TestParse_ErrorPosition(t *testing.T) {
	_, err := Parse("a + * b")
	require.Error(t, err)

	var exprErr *Error
	require.ErrorAs(t, err, &exprErr)
	assert.Equal(t, model.ReasonSyntaxError, exprErr.Reason)
	assert.Equal(t, 4, exprErr.Pos)
	assert.Contains(t, err.Error(), "offset 4")
}

func TestProgram_EventFields(t *testing.T) {
	prog, err := Compile(`if(event.code == "storage", event.timestamp - 1700000000, 0)`)
	require.NoError(t, err)

	event := &model.RawEvent{
		Code:      "storage",
		Timestamp: time.Unix(1700000010, 500000000),
	}
	out, err := prog.Run(NewEnv(event))
	require.NoError(t, err)
	assert.Equal(t, "10.5", out)
}

func TestEvaluator_RawFieldExtraction(t *testing.T) {
	ev := NewEvaluator(nil)
	event := &model.RawEvent{Properties: map[string]any{
		"gb":     json.Number("1.10"),
		"region": "eu-west-1",
		"ok":     true,
		"none":   nil,
	}}

	tests := []struct {
		name   string
		metric model.BillableMetric
		want   string
		reason model.FailureReason
	}{
		{"number text preserved", model.BillableMetric{FieldName: "gb", AggregationType: model.AggregationSum}, "1.10", ""},
		{"string", model.BillableMetric{FieldName: "region", AggregationType: model.AggregationUniqueCount}, "eu-west-1", ""},
		{"bool", model.BillableMetric{FieldName: "ok", AggregationType: model.AggregationLatest}, "true", ""},
		{"count without field", model.BillableMetric{AggregationType: model.AggregationCount}, "1", ""},
		{"no field", model.BillableMetric{AggregationType: model.AggregationSum}, "", ""},
		{"missing", model.BillableMetric{FieldName: "cpu", AggregationType: model.AggregationSum}, "", model.ReasonMissingProperty},
		{"null", model.BillableMetric{FieldName: "none", AggregationType: model.AggregationMax}, "", model.ReasonMissingProperty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ev.Evaluate(&tt.metric, event)
			if tt.reason == "" {
				require.True(t, got.OK(), "unexpected error: %v", got.Err)
				assert.Equal(t, tt.want, got.Value)
				return
			}
			assert.Equal(t, tt.reason, got.Reason)
		})
	}
}

func TestEvaluator_ExpressionUsesCache(t *testing.T) {
	cache := NewCache(0)
	ev := NewEvaluator(cache)
	metric := &model.BillableMetric{ID: "bm_1", Expression: "a * 2"}

	for i := 0; i < 3; i++ {
		got := ev.Evaluate(metric, &model.RawEvent{Properties: map[string]any{"a": "21"}})
		require.True(t, got.OK())
		assert.Equal(t, "42", got.Value)
	}
	assert.Equal(t, 1, cache.Len())

	broken := &model.BillableMetric{ID: "bm_2", Expression: "a *"}
	for i := 0; i < 2; i++ {
		got := ev.Evaluate(broken, &model.RawEvent{Properties: map[string]any{"a": "1"}})
		assert.Equal(t, model.ReasonSyntaxError, got.Reason)
	}
	assert.Equal(t, 2, cache.Len())
}

func TestCache_KeyIncludesExpression(t *testing.T) {
	cache := NewCache(0)

	p1, err := cache.Get("bm_1", "a + 1")
	require.NoError(t, err)
	p2, err := cache.Get("bm_1", "a + 1")
	require.NoError(t, err)
	assert.Same(t, p1, p2)

	p3, err := cache.Get("bm_1", "a + 2")
	require.NoError(t, err)
	assert.NotSame(t, p1, p3)
	assert.Equal(t, 2, cache.Len())
}

func TestCache_Limit(t *testing.T) {
	cache := NewCache(2)
	for _, expr := range []string{"1", "2", "3", "4"} {
		_, err := cache.Get("bm", expr)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, cache.Len())
}

func TestCache_Concurrent(t *testing.T) {
	cache := NewCache(0)
	ev := NewEvaluator(cache)
	metric := &model.BillableMetric{ID: "bm", Expression: "round(a / 7, 3)"}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				got := ev.Evaluate(metric, &model.RawEvent{Properties: map[string]any{"a": "22"}})
				assert.Equal(t, "3.143", got.Value)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, cache.Len())
}
