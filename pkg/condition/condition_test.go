package condition

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fieldMap map[string]float64

func (m fieldMap) Field(name string) (float64, bool) {
	v, ok := m[name]
	return v, ok
}

func f(v float64) *float64 { return &v }

func TestCrossesAbove(t *testing.T) {
	tests := []struct {
		name string
		cur  float64
		thr  float64
		prev *float64
		want bool
	}{
		{name: "crossed", cur: 101, thr: 100, prev: f(99), want: true},
		{name: "prev exactly at threshold", cur: 101, thr: 100, prev: f(100), want: true},
		{name: "still below", cur: 99, thr: 100, prev: f(98), want: false},
		{name: "already above", cur: 102, thr: 100, prev: f(101), want: false},
		{name: "touch without break", cur: 100, thr: 100, prev: f(99), want: false},
		{name: "no previous value", cur: 101, thr: 100, prev: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CrossesAbove(tt.cur, tt.thr, tt.prev))
		})
	}
}

func TestCrossesBelow(t *testing.T) {
	assert.True(t, CrossesBelow(99, 100, f(101)))
	assert.True(t, CrossesBelow(99, 100, f(100)))
	assert.False(t, CrossesBelow(99, 100, f(98)), "already below is not a cross")
	assert.False(t, CrossesBelow(101, 100, f(102)), "still above")
	assert.False(t, CrossesBelow(99, 100, nil), "unknown previous value")
}

func TestEvaluate_comparisons(t *testing.T) {
	rc := ResolveContext{
		Fields: fieldMap{"close": 105, "rsi": 61.5},
		Params: map[string]float64{"entry": 100},
	}

	tests := []struct {
		cond Condition
		want bool
	}{
		{Condition{Left: Field("close"), Op: OpGT, Right: Lit(100)}, true},
		{Condition{Left: Field("close"), Op: OpGTE, Right: Lit(105)}, true},
		{Condition{Left: Field("close"), Op: OpLT, Right: Lit(100)}, false},
		{Condition{Left: Field("close"), Op: OpLTE, Right: Lit(105)}, true},
		{Condition{Left: Field("rsi"), Op: OpEQ, Right: Lit(61.5)}, true},
		{Condition{Left: Field("rsi"), Op: OpNEQ, Right: Lit(61.5)}, false},
		{Condition{Left: Field("close"), Op: OpGT, Right: Param("entry")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.cond.String(), func(t *testing.T) {
			met, reason := Evaluate(tt.cond, rc)
			assert.Equal(t, tt.want, met, reason)
		})
	}
}

func TestEvaluate_cross(t *testing.T) {
	cond := Condition{Left: Field("close"), Op: OpCrossesAbove, Right: Lit(100)}

	// first bar: no previous value, never a cross
	met, reason := Evaluate(cond, ResolveContext{Fields: fieldMap{"close": 99}})
	assert.False(t, met)
	assert.Contains(t, reason, "previous value unknown")

	// prev=98 cur=99: both below, not satisfied
	met, _ = Evaluate(cond, ResolveContext{Fields: fieldMap{"close": 99}, PrevLeft: f(98)})
	assert.False(t, met)

	// prev=99 cur=101: crossed
	met, _ = Evaluate(cond, ResolveContext{Fields: fieldMap{"close": 101}, PrevLeft: f(99)})
	assert.True(t, met)
}

func TestEvaluate_unresolvedReference(t *testing.T) {
	rc := ResolveContext{Fields: fieldMap{"close": 105}}

	met, reason := Evaluate(Condition{Left: Field("supertrend"), Op: OpGT, Right: Lit(1)}, rc)
	assert.False(t, met)
	assert.Contains(t, reason, "left reference")
	assert.Contains(t, reason, "unresolved")

	met, reason = Evaluate(Condition{Left: Field("close"), Op: OpGT, Right: Param("target")}, rc)
	assert.False(t, met)
	assert.Contains(t, reason, "right reference")
}

func TestEvaluate_invalidOperator(t *testing.T) {
	met, reason := Evaluate(Condition{Left: Lit(1), Op: Operator("~="), Right: Lit(2)}, ResolveContext{})
	assert.False(t, met)
	assert.Contains(t, reason, "unsupported operator")
}

func TestFieldRef_paramFallback(t *testing.T) {
	rc := ResolveContext{
		Fields: fieldMap{"close": 105},
		Params: map[string]float64{"entry": 100},
	}

	// bare names fall back to context params when the snapshot misses
	v, ok := FieldRef{Name: "entry"}.Resolve(rc)
	assert.True(t, ok)
	assert.Equal(t, 100.0, v)

	// snapshot wins over params for the same name
	rc.Params["close"] = 1
	v, ok = FieldRef{Name: "close"}.Resolve(rc)
	assert.True(t, ok)
	assert.Equal(t, 105.0, v)
}

func TestFieldRef_offset(t *testing.T) {
	rc := ResolveContext{Fields: fieldMap{"close": 105}, PrevLeft: f(103)}

	v, ok := FieldRef{Name: "close", Offset: 1}.Resolve(rc)
	assert.True(t, ok)
	assert.Equal(t, 103.0, v)

	_, ok = FieldRef{Name: "close", Offset: 2}.Resolve(rc)
	assert.False(t, ok, "only one bar of history is retained")

	_, ok = FieldRef{Name: "close", Offset: 1}.Resolve(rc.withoutHistory())
	assert.False(t, ok)
}

func TestOperand_UnmarshalJSON(t *testing.T) {
	var cond Condition
	payload := `{"left": {"ref": "close"}, "op": "crosses_above", "right": {"value": 100}}`
	err := json.Unmarshal([]byte(payload), &cond)
	assert.NoError(t, err)
	assert.Equal(t, FieldRef{Name: "close"}, cond.Left.Reference)
	assert.Equal(t, OpCrossesAbove, cond.Op)
	assert.Equal(t, Literal(100), cond.Right.Reference)

	// bare number and bare string shorthands
	err = json.Unmarshal([]byte(`{"left": "rsi", "op": "<", "right": 30}`), &cond)
	assert.NoError(t, err)
	assert.Equal(t, FieldRef{Name: "rsi"}, cond.Left.Reference)
	assert.Equal(t, Literal(30), cond.Right.Reference)

	// context parameter with negative legacy offset on the left
	err = json.Unmarshal([]byte(`{"left": {"ref":"close","offset":-1}, "op": ">", "right": {"param": "entry"}}`), &cond)
	assert.NoError(t, err)
	assert.Equal(t, FieldRef{Name: "close", Offset: 1}, cond.Left.Reference)
	assert.Equal(t, ContextParam("entry"), cond.Right.Reference)

	var op Operand
	err = json.Unmarshal([]byte(`{"weird": true}`), &op)
	assert.Error(t, err)
}

func TestOperand_MarshalRoundTrip(t *testing.T) {
	operands := []Operand{Lit(99.5), Field("ema20"), FieldAt("close", 1), Param("stop")}
	for _, in := range operands {
		data, err := json.Marshal(in)
		assert.NoError(t, err)

		var out Operand
		err = json.Unmarshal(data, &out)
		assert.NoError(t, err)
		assert.Equal(t, in.Reference, out.Reference)
	}
}
