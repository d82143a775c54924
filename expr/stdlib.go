package expr

import (
	"net"
	"regexp"
	"strings"

	"github.com/dotrongnhan/saplgo/value"
)

// StdFunctionBroker is the built-in function library: string/numeric
// comparison operators generalised from the operator registry this
// evaluator descends from, plus a small network library adapted from the
// corresponding condition evaluator.
type StdFunctionBroker struct {
	extra map[string]registeredFunc
}

type registeredFunc struct {
	fn                 Function
	minArity, maxArity int
}

// NewStdFunctionBroker returns a broker pre-populated with the standard
// library ("compare.*", "strings.*", "network.*"). Filter functions are
// resolved separately and are not part of this broker.
func NewStdFunctionBroker() *StdFunctionBroker {
	return &StdFunctionBroker{extra: make(map[string]registeredFunc)}
}

// Register adds or overrides a function, for callers that expose domain
// functions (e.g. a blockchain-attribute plugin's companion functions).
func (b *StdFunctionBroker) Register(name string, minArity, maxArity int, fn Function) {
	b.extra[name] = registeredFunc{fn: fn, minArity: minArity, maxArity: maxArity}
}

func (b *StdFunctionBroker) Resolve(name string) (Function, int, int, bool) {
	if r, ok := b.extra[name]; ok {
		return r.fn, r.minArity, r.maxArity, true
	}
	if r, ok := stdlib[name]; ok {
		return r.fn, r.minArity, r.maxArity, true
	}
	return nil, 0, 0, false
}

var stdlib = map[string]struct {
	fn                 Function
	minArity, maxArity int
}{
	"compare.eq":       {compareEq, 2, 2},
	"compare.neq":      {compareNeq, 2, 2},
	"compare.in":       {compareIn, 2, 2},
	"compare.nin":      {compareNin, 2, 2},
	"compare.contains": {compareContains, 2, 2},
	"compare.regex":    {compareRegex, 2, 2},
	"compare.gt":       {compareGt, 2, 2},
	"compare.gte":      {compareGte, 2, 2},
	"compare.lt":       {compareLt, 2, 2},
	"compare.lte":      {compareLte, 2, 2},
	"compare.between":  {compareBetween, 3, 3},
	"strings.blacken":  {stringsBlacken, 1, 1},
	"strings.length":   {stringsLength, 1, 1},
	"network.ipInRange": {networkIPInRange, 2, -1},
}

func boolResult(b bool) value.Value { return value.Boolean(b) }

func compareEq(args []value.Value) value.Value  { return boolResult(value.Equal(args[0], args[1])) }
func compareNeq(args []value.Value) value.Value { return boolResult(!value.Equal(args[0], args[1])) }

func compareIn(args []value.Value) value.Value {
	haystack := args[1]
	if haystack.Kind() != value.KindArray {
		return value.Errorf("compare", "compare.in requires an array, got %s", haystack.Kind())
	}
	for _, e := range haystack.Elements() {
		if value.Equal(args[0], e) {
			return value.TRUE
		}
	}
	return value.FALSE
}

func compareNin(args []value.Value) value.Value {
	r := compareIn(args)
	if r.IsError() {
		return r
	}
	return boolResult(!r.IsTrue())
}

func compareContains(args []value.Value) value.Value {
	haystack := args[0]
	if haystack.Kind() != value.KindArray {
		return value.Errorf("compare", "compare.contains requires an array, got %s", haystack.Kind())
	}
	for _, e := range haystack.Elements() {
		if value.Equal(e, args[1]) {
			return value.TRUE
		}
	}
	return value.FALSE
}

func compareRegex(args []value.Value) value.Value {
	text, ok := args[0].String()
	if !ok {
		return value.Errorf("compare", "compare.regex requires text, got %s", args[0].Kind())
	}
	pattern, ok := args[1].String()
	if !ok {
		return value.Err("compare", "compare.regex pattern must be text")
	}
	matched, err := regexp.MatchString(pattern, text)
	if err != nil {
		return value.Errorf("compare", "invalid regular expression: %v", err)
	}
	return boolResult(matched)
}

func numCompare(args []value.Value, name string) (int, value.Value) {
	a, aok := args[0].Rat()
	b, bok := args[1].Rat()
	if !aok || !bok {
		return 0, value.Errorf("compare", "%s requires numbers, got %s and %s", name, args[0].Kind(), args[1].Kind())
	}
	return a.Cmp(b), value.Value{}
}

func compareGt(args []value.Value) value.Value {
	c, err := numCompare(args, "compare.gt")
	if err.IsError() {
		return err
	}
	return boolResult(c > 0)
}

func compareGte(args []value.Value) value.Value {
	c, err := numCompare(args, "compare.gte")
	if err.IsError() {
		return err
	}
	return boolResult(c >= 0)
}

func compareLt(args []value.Value) value.Value {
	c, err := numCompare(args, "compare.lt")
	if err.IsError() {
		return err
	}
	return boolResult(c < 0)
}

func compareLte(args []value.Value) value.Value {
	c, err := numCompare(args, "compare.lte")
	if err.IsError() {
		return err
	}
	return boolResult(c <= 0)
}

func compareBetween(args []value.Value) value.Value {
	lowC, err := numCompare([]value.Value{args[1], args[0]}, "compare.between")
	if err.IsError() {
		return err
	}
	highC, err := numCompare([]value.Value{args[0], args[2]}, "compare.between")
	if err.IsError() {
		return err
	}
	return boolResult(lowC <= 0 && highC <= 0)
}

func stringsBlacken(args []value.Value) value.Value {
	s, ok := args[0].String()
	if !ok {
		return value.Errorf("strings", "strings.blacken requires text, got %s", args[0].Kind())
	}
	return value.Text(strings.Repeat("X", len(s)))
}

func stringsLength(args []value.Value) value.Value {
	s, ok := args[0].String()
	if !ok {
		return value.Errorf("strings", "strings.length requires text, got %s", args[0].Kind())
	}
	return value.NumberFromInt(int64(len(s)))
}

// networkIPInRange checks whether args[0] (a text IP) falls inside any of
// the CIDR ranges in args[1:], adapted from the network condition
// evaluator's range-membership check.
func networkIPInRange(args []value.Value) value.Value {
	ipStr, ok := args[0].String()
	if !ok {
		return value.Errorf("network", "network.ipInRange requires text, got %s", args[0].Kind())
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return value.Errorf("network", "invalid IP address: %s", ipStr)
	}
	for _, rangeVal := range args[1:] {
		cidr, ok := rangeVal.String()
		if !ok {
			continue
		}
		_, subnet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		if subnet.Contains(ip) {
			return value.TRUE
		}
	}
	return value.FALSE
}
