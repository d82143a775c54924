package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataIdempotent(t *testing.T) {
	v := Text("x")
	m := Metadata{Trace: "t1"}
	once := v.WithMetadata(m)
	twice := once.WithMetadata(m)
	assert.Equal(t, once.Metadata(), twice.Metadata())
	assert.True(t, Equal(once, twice))
}

func TestNumberEquality(t *testing.T) {
	a := NumberFromInt(1)
	b := NumberFromFloat(1.0)
	assert.True(t, Equal(a, b))
}

func TestObjectEqualityIgnoresKeyOrder(t *testing.T) {
	a := Object(KV{"a", NumberFromInt(1)}, KV{"b", NumberFromInt(2)})
	b := Object(KV{"b", NumberFromInt(2)}, KV{"a", NumberFromInt(1)})
	assert.True(t, Equal(a, b))
}

func TestObjectIterationOrderIsInsertionOrder(t *testing.T) {
	obj := Object(KV{"z", TRUE}, KV{"a", FALSE}, KV{"m", NULL})
	assert.Equal(t, []string{"z", "a", "m"}, obj.Keys())
}

func TestJSONRoundTrip(t *testing.T) {
	original := Object(
		KV{"name", Text("test")},
		KV{"age", NumberFromInt(42)},
		KV{"tags", Array(Text("a"), Text("b"))},
		KV{"active", TRUE},
		KV{"extra", NULL},
	)
	data, err := ToJSON(original)
	require.NoError(t, err)

	decoded, err := FromJSON(data)
	require.NoError(t, err)
	assert.True(t, Equal(original, decoded))
}

func TestErrorValuePropagatesKindAndMessage(t *testing.T) {
	e := Errorf("index", "out of bounds for array of size %d", 3)
	assert.True(t, e.IsError())
	assert.Equal(t, "index", e.ErrorInfo().Kind)
	assert.Equal(t, "out of bounds for array of size 3", e.ErrorInfo().Message)
}

func TestArrayIsolatesCallerSlice(t *testing.T) {
	elems := []Value{NumberFromInt(1), NumberFromInt(2)}
	arr := Array(elems...)
	elems[0] = NumberFromInt(99)
	assert.True(t, Equal(NumberFromInt(1), arr.Elements()[0]))
}
