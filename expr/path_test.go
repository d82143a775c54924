package expr

import (
	"testing"

	"github.com/dotrongnhan/saplgo/value"
	"github.com/stretchr/testify/assert"
)

func arr(ns ...int64) value.Value {
	vs := make([]value.Value, len(ns))
	for i, n := range ns {
		vs[i] = value.NumberFromInt(n)
	}
	return value.Array(vs...)
}

func TestIndexStepNegativeWraparound(t *testing.T) {
	a := arr(10, 20, 30, 40)
	direct := IndexStep(a, value.NumberFromInt(1))
	negative := IndexStep(a, value.NumberFromInt(int64(-4)+1))
	assert.True(t, value.Equal(direct, negative))
}

func TestIndexStepOutOfBounds(t *testing.T) {
	a := arr(1, 2, 3)
	v := IndexStep(a, value.NumberFromInt(5))
	assert.True(t, v.IsError())
}

func TestSliceStepZeroStepIsError(t *testing.T) {
	a := arr(1, 2, 3, 4, 5)
	v := SliceStep(a, value.UNDEFINED, value.UNDEFINED, value.NumberFromInt(0))
	assert.True(t, v.IsError())
}

func TestSliceStepPositiveStep(t *testing.T) {
	a := arr(0, 1, 2, 3, 4, 5, 6, 7, 8, 9)
	v := SliceStep(a, value.NumberFromInt(1), value.NumberFromInt(8), value.NumberFromInt(3))
	got := v.Elements()
	want := []int64{1, 4, 7}
	assert.Len(t, got, len(want))
	for i, w := range want {
		n, _ := got[i].Int()
		assert.Equal(t, w, n)
	}
}

func TestSliceStepNegativeStep(t *testing.T) {
	a := arr(0, 1, 2, 3, 4, 5)
	v := SliceStep(a, value.NumberFromInt(4), value.NumberFromInt(0), value.NumberFromInt(-2))
	got := v.Elements()
	want := []int64{4, 2}
	assert.Len(t, got, len(want))
	for i, w := range want {
		n, _ := got[i].Int()
		assert.Equal(t, w, n)
	}
}

func TestWildcardStepOnObjectPreservesValues(t *testing.T) {
	obj := value.Object(
		value.KV{Key: "a", Val: value.NumberFromInt(1)},
		value.KV{Key: "b", Val: value.NumberFromInt(2)},
	)
	v := WildcardStep(obj)
	assert.Equal(t, 2, v.Len())
}

func TestIndexUnionStepDedupesAndSorts(t *testing.T) {
	a := arr(10, 20, 30, 40)
	v := IndexUnionStep(a, []value.Value{value.NumberFromInt(2), value.NumberFromInt(0), value.NumberFromInt(2)})
	got := v.Elements()
	assert.Len(t, got, 2)
	n0, _ := got[0].Int()
	n1, _ := got[1].Int()
	assert.Equal(t, int64(10), n0)
	assert.Equal(t, int64(30), n1)
}

func TestAttributeUnionStepKeepsOnlyRequestedKeys(t *testing.T) {
	obj := value.Object(
		value.KV{Key: "a", Val: value.NumberFromInt(1)},
		value.KV{Key: "b", Val: value.NumberFromInt(2)},
		value.KV{Key: "c", Val: value.NumberFromInt(3)},
	)
	v := AttributeUnionStep(obj, []string{"c", "a"})
	assert.Equal(t, []string{"a", "c"}, v.Keys())
}

func TestRecursiveKeyStepDepthLimit(t *testing.T) {
	ec := &EvalContext{}
	nested := value.Object(value.KV{Key: "x", Val: value.NumberFromInt(1)})
	for i := 0; i < MaxRecursionDepth+1; i++ {
		nested = value.Object(value.KV{Key: "child", Val: nested})
	}
	v := RecursiveKeyStep(ec, nested, "x", value.Location{})
	assert.True(t, v.IsError())
}

func TestRecursiveWildcardStepCollectsAllChildren(t *testing.T) {
	ec := &EvalContext{}
	obj := value.Object(
		value.KV{Key: "a", Val: value.NumberFromInt(1)},
		value.KV{Key: "b", Val: arr(2, 3)},
	)
	v := RecursiveWildcardStep(ec, obj, value.Location{})
	assert.GreaterOrEqual(t, v.Len(), 3)
}

func TestExpressionStepDispatchesByOperandKind(t *testing.T) {
	obj := value.Object(value.KV{Key: "name", Val: value.Text("alice")})
	v := ExpressionStep(obj, value.Text("name"))
	s, ok := v.String()
	assert.True(t, ok)
	assert.Equal(t, "alice", s)

	a := arr(10, 20, 30)
	v2 := ExpressionStep(a, value.NumberFromInt(1))
	n, _ := v2.Int()
	assert.Equal(t, int64(20), n)

	v3 := ExpressionStep(a, value.TRUE)
	assert.True(t, v3.IsError())
}
