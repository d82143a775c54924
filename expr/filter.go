package expr

import (
	"strings"

	"github.com/dotrongnhan/saplgo/value"
)

// FilterFunc is a built-in filter transformation (spec.md §4.2.2).
type FilterFunc func(target value.Value, args []value.Value) value.Value

// builtinFilters holds the three mandated filter functions. Unlike ordinary
// functions these are resolved by simple name, not through FunctionBroker,
// since they are part of the filter sublanguage itself.
var builtinFilters = map[string]FilterFunc{
	"filter.remove": func(target value.Value, args []value.Value) value.Value {
		return value.UNDEFINED
	},
	"filter.blacken": func(target value.Value, args []value.Value) value.Value {
		s, ok := target.String()
		if !ok {
			return value.Errorf("filter", "filter.blacken requires text, got %s", target.Kind())
		}
		return value.Text(strings.Repeat("X", len(s)))
	},
	"filter.replace": func(target value.Value, args []value.Value) value.Value {
		if len(args) != 1 {
			return value.Err("filter", "filter.replace requires exactly one argument")
		}
		return args[0]
	},
}

// ResolveFilterFunc looks up a built-in filter function by name, honouring
// import aliases.
func ResolveFilterFunc(cc *CompilationContext, name string) (FilterFunc, bool) {
	full := name
	if cc != nil {
		full = cc.Resolve(name)
	}
	fn, ok := builtinFilters[full]
	return fn, ok
}

// ApplySimpleFilter implements `parent |- fn(args...)`, optionally preceded
// by `each` (spec.md §4.2.2).
func ApplySimpleFilter(ec *EvalContext, target value.Value, each bool, fn FilterFunc, args []value.Value) value.Value {
	if target.IsUndefined() {
		return value.Err("filter", "filters cannot be applied to undefined")
	}
	if target.IsError() {
		return target
	}
	if each {
		if target.Kind() != value.KindArray {
			return value.Err("filter", "cannot use 'each' with non-array")
		}
		b := value.NewArrayBuilder()
		for _, e := range target.Elements() {
			r := fn(e, args)
			if r.IsUndefined() {
				continue
			}
			b.Append(r)
		}
		return b.Build()
	}
	return fn(target, args)
}

// FilterTargetStep is one step of an extended-filter target path (`@.k`,
// `@[i]`, or a static `[?(pred)]` condition step).
type FilterTargetStep struct {
	Key        string
	HasKey     bool
	Index      int64
	HasIndex   bool
	Condition  Expr // must be static: must not reference `@`
	IsRemove   bool
}

// FilterEntry is one `target : fn(args)` pair of an extended filter.
type FilterEntry struct {
	Steps []FilterTargetStep
	Fn    FilterFunc
	Args  []Expr
}

// ApplyExtendedFilter implements `parent |- { target1 : fn1, target2 : fn2,
// ... }` (spec.md §4.2.2). Each entry's target path is walked from the
// root, applying fn at the position it resolves to; `filter.remove` at the
// object root (or on Null) collapses the whole result to Undefined.
func ApplyExtendedFilter(ec *EvalContext, target value.Value, entries []FilterEntry) value.Value {
	if target.IsUndefined() {
		return value.Err("filter", "filters cannot be applied to undefined")
	}
	if target.IsError() {
		return target
	}

	result := target
	for _, entry := range entries {
		args := make([]value.Value, len(entry.Args))
		for i, a := range entry.Args {
			args[i] = a.Eval(ec)
		}
		updated, err := applyFilterEntry(ec, result, entry.Steps, entry.Fn, args)
		if err.IsError() {
			return err
		}
		result = updated
	}
	return result
}

// applyFilterEntry walks steps against root, applying fn at the resolved
// position and substituting the result back in place.
func applyFilterEntry(ec *EvalContext, root value.Value, steps []FilterTargetStep, fn FilterFunc, args []value.Value) (value.Value, value.Value) {
	if len(steps) == 0 {
		out := fn(root, args)
		if out.IsUndefined() {
			if root.Kind() == value.KindObject || root.IsNull() {
				return value.UNDEFINED, value.Value{}
			}
		}
		return out, value.Value{}
	}

	step := steps[0]
	rest := steps[1:]

	switch {
	case step.Condition != nil:
		cond := step.Condition.Eval(ec)
		if cond.IsError() {
			return value.Value{}, cond
		}
		if !cond.IsTrue() {
			return root, value.Value{}
		}
		return applyFilterEntry(ec, root, rest, fn, args)

	case step.HasKey:
		if root.Kind() != value.KindObject {
			return value.Value{}, value.Errorf("filter", "Field '%s' not found", step.Key)
		}
		child := root.Get(step.Key)
		if child.IsUndefined() {
			return value.Value{}, value.Errorf("filter", "Field '%s' not found", step.Key)
		}
		updated, err := applyFilterEntry(ec, child, rest, fn, args)
		if err.IsError() {
			return value.Value{}, err
		}
		b := value.NewObjectBuilder()
		for _, kv := range root.Pairs() {
			if kv.Key == step.Key {
				if !updated.IsUndefined() {
					b.Set(kv.Key, updated)
				}
				continue
			}
			b.Set(kv.Key, kv.Val)
		}
		return b.Build(), value.Value{}

	case step.HasIndex:
		if root.Kind() != value.KindArray {
			return value.Value{}, value.Err("filter", "array index out of bounds")
		}
		elems := root.Elements()
		n := int64(len(elems))
		norm := normalizeIndex(step.Index, n)
		if norm < 0 || norm >= n {
			return value.Value{}, value.Err("filter", "array index out of bounds")
		}
		updated, err := applyFilterEntry(ec, elems[norm], rest, fn, args)
		if err.IsError() {
			return value.Value{}, err
		}
		b := value.NewArrayBuilder()
		for i, e := range elems {
			if int64(i) == norm {
				if updated.IsUndefined() {
					continue
				}
				b.Append(updated)
				continue
			}
			b.Append(e)
		}
		return b.Build(), value.Value{}
	}

	return root, value.Value{}
}

// EvalSubtemplate implements `value :: objectTemplate` (spec.md §4.2.2):
// rebinds `@` to value (mapping over Array), returning Undefined unchanged
// and propagating errors.
func EvalSubtemplate(ec *EvalContext, target value.Value, template Expr) value.Value {
	if target.IsUndefined() {
		return value.UNDEFINED
	}
	if target.IsError() {
		return target
	}
	if target.Kind() == value.KindArray {
		b := value.NewArrayBuilder()
		var evalErr value.Value
		for i, elem := range target.Elements() {
			var result value.Value
			ec.PushRelative(RelativeFrame{Current: elem, Index: int64(i), HasIdx: true}, func() {
				result = template.Eval(ec)
			})
			if result.IsError() {
				evalErr = result
				break
			}
			b.Append(result)
		}
		if evalErr.IsError() {
			return evalErr
		}
		return b.Build()
	}

	var result value.Value
	ec.PushRelative(RelativeFrame{Current: target}, func() {
		result = template.Eval(ec)
	})
	return result
}
