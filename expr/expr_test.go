package expr

import (
	"testing"

	"github.com/dotrongnhan/saplgo/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinaryOpArithmetic(t *testing.T) {
	ec := &EvalContext{}
	e := &BinaryOp{Op: "+", Left: &Literal{Value: value.NumberFromInt(2)}, Right: &Literal{Value: value.NumberFromInt(3)}}
	v := e.Eval(ec)
	n, ok := v.Int()
	require.True(t, ok)
	assert.Equal(t, int64(5), n)
}

func TestBinaryOpDivisionByZero(t *testing.T) {
	ec := &EvalContext{}
	e := &BinaryOp{Op: "/", Left: &Literal{Value: value.NumberFromInt(1)}, Right: &Literal{Value: value.NumberFromInt(0)}}
	v := e.Eval(ec)
	assert.True(t, v.IsError())
}

func TestBinaryOpLogicalShortCircuit(t *testing.T) {
	ec := &EvalContext{}
	panicky := &FuncCall{Name: "nonexistent"}
	e := &BinaryOp{Op: "&&", Left: &Literal{Value: value.FALSE}, Right: panicky}
	v := e.Eval(ec)
	assert.True(t, v.IsBoolean())
	assert.False(t, v.IsTrue())
}

func TestBinaryOpEqualityUsesStructuralEquality(t *testing.T) {
	ec := &EvalContext{}
	one, _ := value.NumberFromString("1")
	oneFloat := value.NumberFromFloat(1.0)
	e := &BinaryOp{Op: "==", Left: &Literal{Value: one}, Right: &Literal{Value: oneFloat}}
	v := e.Eval(ec)
	assert.True(t, v.IsTrue())
}

func TestUnaryOpNegation(t *testing.T) {
	ec := &EvalContext{}
	e := &UnaryOp{Op: "!", Expr: &Literal{Value: value.TRUE}}
	v := e.Eval(ec)
	assert.False(t, v.IsTrue())
}

func TestConditionalBranches(t *testing.T) {
	ec := &EvalContext{}
	e := &Conditional{
		If:   &Literal{Value: value.TRUE},
		Then: &Literal{Value: value.Text("yes")},
		Else: &Literal{Value: value.Text("no")},
	}
	v := e.Eval(ec)
	s, _ := v.String()
	assert.Equal(t, "yes", s)
}

func TestConditionalWithoutElseYieldsUndefined(t *testing.T) {
	ec := &EvalContext{}
	e := &Conditional{If: &Literal{Value: value.FALSE}, Then: &Literal{Value: value.NumberFromInt(1)}}
	v := e.Eval(ec)
	assert.True(t, v.IsUndefined())
}

func TestFuncCallUnknownNameIsError(t *testing.T) {
	ec := &EvalContext{Functions: NewStdFunctionBroker()}
	e := &FuncCall{Name: "not.a.real.function"}
	v := e.Eval(ec)
	assert.True(t, v.IsError())
}

func TestFuncCallArityError(t *testing.T) {
	ec := &EvalContext{Functions: NewStdFunctionBroker()}
	e := &FuncCall{Name: "compare.eq", Args: []Expr{&Literal{Value: value.NumberFromInt(1)}}}
	v := e.Eval(ec)
	assert.True(t, v.IsError())
}

func TestFuncCallResolvesAndInvokes(t *testing.T) {
	ec := &EvalContext{Functions: NewStdFunctionBroker()}
	e := &FuncCall{Name: "compare.eq", Args: []Expr{
		&Literal{Value: value.NumberFromInt(1)},
		&Literal{Value: value.NumberFromInt(1)},
	}}
	v := e.Eval(ec)
	assert.True(t, v.IsTrue())
}

type constStream struct{ v value.Value }

func (s constStream) Subscribe(ctx SubscriptionContext, onValue func(value.Value)) func() {
	onValue(s.v)
	return func() {}
}

type fakeAttrBroker struct{ v value.Value }

func (b fakeAttrBroker) Resolve(name string, entity value.Value, args []value.Value) (AttributeStream, bool) {
	if name != "test.attr" {
		return nil, false
	}
	return constStream{v: b.v}, true
}

func TestAttrCallRecordsTrace(t *testing.T) {
	var recorded []AttributeRecord
	ec := &EvalContext{
		Attributes:  fakeAttrBroker{v: value.NumberFromInt(42)},
		OnAttribute: func(r AttributeRecord) { recorded = append(recorded, r) },
	}
	e := &AttrCall{Name: "test.attr"}
	v := e.Eval(ec)
	n, _ := v.Int()
	assert.Equal(t, int64(42), n)
	require.Len(t, recorded, 1)
	assert.Equal(t, "test.attr", recorded[0].Name)
}

func TestAttrCallUnknownNameIsError(t *testing.T) {
	ec := &EvalContext{Attributes: fakeAttrBroker{}}
	e := &AttrCall{Name: "missing.attr"}
	v := e.Eval(ec)
	assert.True(t, v.IsError())
}
