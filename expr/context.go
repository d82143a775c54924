// Package expr implements the compiled-expression evaluator: path steps,
// filters, subtemplates, function/attribute invocation and the brokers that
// back them (spec component C2).
package expr

import (
	"time"

	"github.com/dotrongnhan/saplgo/value"
)

// MaxRecursionDepth bounds recursive descent and recursive key/index/
// wildcard path steps (spec.md §3 invariant iii).
const MaxRecursionDepth = 500

// AttributeRecord traces one attribute invocation for a vote (spec.md
// §4.2.3).
type AttributeRecord struct {
	Name            string
	ConfigurationID string
	Entity          value.Value
	Arguments       []value.Value
	RetrievedAt     time.Time
	Value           value.Value
}

// Function is a callable resolved by a FunctionBroker.
type Function func(args []value.Value) value.Value

// FunctionBroker resolves "library.function" names to callables, enforcing
// declared arity (spec.md §4.2.3).
type FunctionBroker interface {
	// Resolve looks up a fully-qualified function name.
	Resolve(name string) (fn Function, minArity, maxArity int, ok bool)
}

// AttributeStream is the async stream of values an attribute produces.
// Implementations deliver the latest value to every subscriber and drop
// superseded ones (spec.md §9 "Reactive attribute streams").
type AttributeStream interface {
	// Subscribe registers onValue to be called with every new value,
	// starting from the current one if already available. It returns an
	// unsubscribe function that must be safe to call more than once.
	Subscribe(ctx SubscriptionContext, onValue func(value.Value)) (cancel func())
}

// SubscriptionContext carries cancellation for an attribute subscription.
type SubscriptionContext interface {
	Done() <-chan struct{}
}

// AttributeBroker resolves "<prefix>.name(args)" attribute invocations to a
// stream of values (spec.md §4.2.3).
type AttributeBroker interface {
	Resolve(name string, entity value.Value, args []value.Value) (AttributeStream, bool)
}

// CompilationContext is available while compiling an expression: it
// supplies the brokers used to validate function/attribute references and
// the import-alias table (spec.md §4.2.4).
type CompilationContext struct {
	Functions  FunctionBroker
	Attributes AttributeBroker
	Imports    map[string]string // alias -> fully-qualified name
}

// Resolve follows the import table first, then treats name as already
// fully-qualified (spec.md §4.2.4: "Unqualified references resolve against
// the imports first, then fully-qualified names").
func (c *CompilationContext) Resolve(name string) string {
	if c == nil || c.Imports == nil {
		return name
	}
	if full, ok := c.Imports[name]; ok {
		return full
	}
	return name
}

// RelativeFrame binds `@` (current filter/subtemplate/condition target) and
// `#` (current iteration index) for the duration of one filter/subtemplate/
// condition body (spec.md §4.2, invariant ii).
type RelativeFrame struct {
	Current value.Value
	Index   int64
	HasIdx  bool
}

// EvalContext is the per-evaluation environment threaded through Eval calls:
// the subscription, bound variables, brokers, and the `@`/`#` stack.
type EvalContext struct {
	Subject     value.Value
	Action      value.Value
	Resource    value.Value
	Environment value.Value

	Variables map[string]value.Value

	Functions  FunctionBroker
	Attributes AttributeBroker

	ConfigurationID string
	PdpID           string

	// Sub is used to register attribute-stream subscriptions; nil in a
	// one-shot (non-reactive) evaluation.
	Sub SubscriptionContext

	// OnAttribute, when set, is invoked once per attribute invocation with
	// the retrieved value, for vote tracing (spec.md §4.2.3).
	OnAttribute func(AttributeRecord)

	stack []RelativeFrame
	depth int
}

// Child returns a copy of ec sharing brokers/variables/subscription but with
// its own `@`/`#` stack and depth counter, for evaluating a nested
// expression (e.g. a policy-set child policy) independently.
func (ec *EvalContext) Child() *EvalContext {
	cp := *ec
	cp.stack = nil
	cp.depth = 0
	return &cp
}

// PushRelative binds `@`/`#` for the duration of fn, restoring the previous
// binding afterwards.
func (ec *EvalContext) PushRelative(frame RelativeFrame, fn func()) {
	ec.stack = append(ec.stack, frame)
	fn()
	ec.stack = ec.stack[:len(ec.stack)-1]
}

// Current returns the innermost `@` binding, or Undefined with ok=false if
// none is active. Compile rejects any "current" node outside a
// subtemplate's template (spec.md §4.2 invariant ii), so ok=false here
// only happens for a tree assembled without going through Compile.
func (ec *EvalContext) Current() (value.Value, bool) {
	if len(ec.stack) == 0 {
		return value.UNDEFINED, false
	}
	return ec.stack[len(ec.stack)-1].Current, true
}

// Index returns the innermost `#` binding.
func (ec *EvalContext) Index() (int64, bool) {
	if len(ec.stack) == 0 {
		return 0, false
	}
	top := ec.stack[len(ec.stack)-1]
	return top.Index, top.HasIdx
}

// Variable looks up a bound variable, falling back to Undefined.
func (ec *EvalContext) Variable(name string) value.Value {
	switch name {
	case "subject":
		return ec.Subject
	case "action":
		return ec.Action
	case "resource":
		return ec.Resource
	case "environment":
		return ec.Environment
	}
	if ec.Variables == nil {
		return value.UNDEFINED
	}
	v, ok := ec.Variables[name]
	if !ok {
		return value.UNDEFINED
	}
	return v
}

// WithVariable returns a context with name bound to v, used when a policy
// body statement introduces a local binding (spec.md §4.3.1 step 3).
func (ec *EvalContext) WithVariable(name string, v value.Value) *EvalContext {
	cp := *ec
	cp.Variables = make(map[string]value.Value, len(ec.Variables)+1)
	for k, val := range ec.Variables {
		cp.Variables[k] = val
	}
	cp.Variables[name] = v
	return &cp
}

// enterDepth increments the recursion counter, returning a bounded Error
// value when the budget is exceeded, and a restore function to call on the
// way back out.
func (ec *EvalContext) enterDepth(loc value.Location) (ok bool, errVal value.Value, restore func()) {
	ec.depth++
	if ec.depth > MaxRecursionDepth {
		ec.depth--
		return false, value.Err("depth", "maximum recursion depth exceeded").At(loc, value.Metadata{Location: &loc}), func() {}
	}
	return true, value.Value{}, func() { ec.depth-- }
}
