package expr

import (
	"testing"

	"github.com/dotrongnhan/saplgo/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStdFunctionBrokerResolveBuiltin(t *testing.T) {
	b := NewStdFunctionBroker()
	fn, min, max, ok := b.Resolve("compare.gt")
	require.True(t, ok)
	assert.Equal(t, 2, min)
	assert.Equal(t, 2, max)
	v := fn([]value.Value{value.NumberFromInt(5), value.NumberFromInt(3)})
	assert.True(t, v.IsTrue())
}

func TestStdFunctionBrokerRegisterOverridesBuiltin(t *testing.T) {
	b := NewStdFunctionBroker()
	b.Register("compare.gt", 2, 2, func(args []value.Value) value.Value { return value.TRUE })
	fn, _, _, ok := b.Resolve("compare.gt")
	require.True(t, ok)
	v := fn([]value.Value{value.NumberFromInt(1), value.NumberFromInt(100)})
	assert.True(t, v.IsTrue())
}

func TestCompareInAndNin(t *testing.T) {
	haystack := value.Array(value.Text("a"), value.Text("b"))
	in := compareIn([]value.Value{value.Text("a"), haystack})
	assert.True(t, in.IsTrue())
	nin := compareNin([]value.Value{value.Text("z"), haystack})
	assert.True(t, nin.IsTrue())
}

func TestCompareBetween(t *testing.T) {
	v := compareBetween([]value.Value{value.NumberFromInt(5), value.NumberFromInt(1), value.NumberFromInt(10)})
	assert.True(t, v.IsTrue())
	v2 := compareBetween([]value.Value{value.NumberFromInt(15), value.NumberFromInt(1), value.NumberFromInt(10)})
	assert.False(t, v2.IsTrue())
}

func TestCompareRegexInvalidPatternIsError(t *testing.T) {
	v := compareRegex([]value.Value{value.Text("abc"), value.Text("[")})
	assert.True(t, v.IsError())
}

func TestStringsBlackenAndLength(t *testing.T) {
	b := stringsBlacken([]value.Value{value.Text("hello")})
	s, _ := b.String()
	assert.Equal(t, "XXXXX", s)
	l := stringsLength([]value.Value{value.Text("hello")})
	n, _ := l.Int()
	assert.Equal(t, int64(5), n)
}

func TestNetworkIPInRange(t *testing.T) {
	v := networkIPInRange([]value.Value{value.Text("10.0.0.5"), value.Text("10.0.0.0/24")})
	assert.True(t, v.IsTrue())
	v2 := networkIPInRange([]value.Value{value.Text("192.168.1.1"), value.Text("10.0.0.0/24")})
	assert.False(t, v2.IsTrue())
}

func TestNetworkIPInRangeInvalidIP(t *testing.T) {
	v := networkIPInRange([]value.Value{value.Text("not-an-ip"), value.Text("10.0.0.0/24")})
	assert.True(t, v.IsError())
}
