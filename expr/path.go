package expr

import (
	"sort"

	"github.com/dotrongnhan/saplgo/value"
)

// normalizeIndex maps a possibly-negative index against length, per
// spec.md §4.2.1 (testable property 2: indexStep(a,i) == indexStep(a,
// i+len(a)) for i<0).
func normalizeIndex(i, length int64) int64 {
	if i < 0 {
		return length + i
	}
	return i
}

// KeyStep implements `parent.k` (spec.md §4.2.1).
func KeyStep(parent value.Value, key string) value.Value {
	switch parent.Kind() {
	case value.KindObject:
		v := parent.Get(key)
		return v.WithMergedMetadata(parent.Metadata())
	case value.KindArray:
		b := value.NewArrayBuilder()
		for _, elem := range parent.Elements() {
			v := KeyStep(elem, key)
			if v.IsUndefined() {
				continue
			}
			b.Append(v)
		}
		return b.Build()
	default:
		return value.UNDEFINED
	}
}

// IndexStep implements `parent[i]` (spec.md §4.2.1).
func IndexStep(parent value.Value, idx value.Value) value.Value {
	if parent.Kind() != value.KindArray {
		return value.UNDEFINED
	}
	i, ok := idx.Int()
	if !ok {
		return value.Errorf("index", "array index must be an integer, got %s", idx.Kind())
	}
	elems := parent.Elements()
	n := int64(len(elems))
	normalized := normalizeIndex(i, n)
	if normalized < 0 || normalized >= n {
		return value.Errorf("index", "index %d out of bounds for array of size %d", i, n)
	}
	return elems[normalized]
}

// sliceBound resolves from/to/step values, applying sentinel extremes and
// clamping, per spec.md §4.2.1.
func sliceBound(v value.Value, length int64, defaultVal int64) int64 {
	if v.IsUndefined() {
		return defaultVal
	}
	i, ok := v.Int()
	if !ok {
		return defaultVal
	}
	n := normalizeIndex(i, length)
	if n < 0 {
		n = 0
	}
	if n > length {
		n = length
	}
	return n
}

// SliceStep implements `parent[from:to:step]` with the non-Python
// selection rule spec.md §4.2.1 mandates verbatim:
//
//	step > 0: include i where (i - from) % step == 0
//	step < 0: include i where (until - i) % step == 0
func SliceStep(parent, from, to, step value.Value) value.Value {
	if parent.Kind() != value.KindArray {
		return value.UNDEFINED
	}
	elems := parent.Elements()
	n := int64(len(elems))

	stepVal := int64(1)
	if !step.IsUndefined() {
		s, ok := step.Int()
		if !ok {
			return value.Err("slice", "step must be an integer")
		}
		stepVal = s
	}
	if stepVal == 0 {
		return value.Err("slice", "slice step must not be zero")
	}

	b := value.NewArrayBuilder()
	if stepVal > 0 {
		fromIdx := sliceBound(from, n, 0)
		toIdx := sliceBound(to, n, n)
		for i := fromIdx; i < toIdx; i++ {
			if mod(i-fromIdx, stepVal) == 0 {
				b.Append(elems[i])
			}
		}
	} else {
		fromIdx := sliceBound(from, n, n-1)
		toIdx := sliceBound(to, n, -1)
		if toIdx < -1 {
			toIdx = -1
		}
		for i := fromIdx; i > toIdx; i-- {
			if i < 0 || i >= n {
				continue
			}
			if mod(toIdx-i, stepVal) == 0 {
				b.Append(elems[i])
			}
		}
	}
	return b.Build()
}

func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		if b < 0 {
			m -= b
		} else {
			m += b
		}
	}
	return m
}

// WildcardStep implements `parent.*` (spec.md §4.2.1).
func WildcardStep(parent value.Value) value.Value {
	switch parent.Kind() {
	case value.KindArray:
		return parent
	case value.KindObject:
		b := value.NewArrayBuilder()
		for _, kv := range parent.Pairs() {
			b.Append(kv.Val)
		}
		return b.Build()
	default:
		return value.Errorf("wildcard", "wildcard on %s", parent.Kind())
	}
}

// IndexUnionStep implements `parent[i1, i2, ...]` (spec.md §4.2.1).
func IndexUnionStep(parent value.Value, indices []value.Value) value.Value {
	if parent.Kind() != value.KindArray {
		return value.Errorf("index-union", "index union on non-array %s", parent.Kind())
	}
	elems := parent.Elements()
	n := int64(len(elems))

	normalized := make([]int64, 0, len(indices))
	seen := make(map[int64]bool)
	for _, idxVal := range indices {
		i, ok := idxVal.Int()
		if !ok {
			return value.Err("index-union", "index union entries must be integers")
		}
		norm := normalizeIndex(i, n)
		if norm < 0 || norm >= n {
			return value.Errorf("index-union", "index %d out of bounds for array of size %d", i, n)
		}
		if !seen[norm] {
			seen[norm] = true
			normalized = append(normalized, norm)
		}
	}
	sort.Slice(normalized, func(i, j int) bool { return normalized[i] < normalized[j] })

	b := value.NewArrayBuilder()
	for _, idx := range normalized {
		b.Append(elems[idx])
	}
	return b.Build()
}

// AttributeUnionStep implements `parent["k1","k2",...]` (spec.md §4.2.1).
func AttributeUnionStep(parent value.Value, keys []string) value.Value {
	if parent.Kind() != value.KindObject {
		return value.Errorf("attribute-union", "attribute union on non-object %s", parent.Kind())
	}
	wanted := make(map[string]bool, len(keys))
	for _, k := range keys {
		wanted[k] = true
	}
	b := value.NewObjectBuilder()
	remaining := len(wanted)
	for _, kv := range parent.Pairs() {
		if remaining == 0 {
			break
		}
		if wanted[kv.Key] {
			b.Set(kv.Key, kv.Val)
			remaining--
		}
	}
	return b.Build()
}

// RecursiveKeyStep implements `..k`: DFS through objects/arrays collecting
// matches into an array (spec.md §4.2.1).
func RecursiveKeyStep(ec *EvalContext, parent value.Value, key string, loc value.Location) value.Value {
	ok, errv, restore := ec.enterDepth(loc)
	if !ok {
		return errv
	}
	defer restore()

	b := value.NewArrayBuilder()
	tooDeep := false
	var walk func(v value.Value, depth int)
	walk = func(v value.Value, depth int) {
		if tooDeep {
			return
		}
		if (v.IsObject() || v.IsArray()) && depth > MaxRecursionDepth {
			tooDeep = true
			return
		}
		switch v.Kind() {
		case value.KindObject:
			if found := v.Get(key); !found.IsUndefined() {
				b.Append(found)
			}
			for _, kv := range v.Pairs() {
				walk(kv.Val, depth+1)
			}
		case value.KindArray:
			for _, e := range v.Elements() {
				walk(e, depth+1)
			}
		}
	}
	walk(parent, ec.depth)
	if tooDeep {
		return value.Err("depth", "maximum recursion depth exceeded").At(loc, value.Metadata{Location: &loc})
	}
	return b.Build()
}

// RecursiveIndexStep implements `..[i]` (spec.md §4.2.1).
func RecursiveIndexStep(ec *EvalContext, parent value.Value, idx int64, loc value.Location) value.Value {
	ok, errv, restore := ec.enterDepth(loc)
	if !ok {
		return errv
	}
	defer restore()

	b := value.NewArrayBuilder()
	tooDeep := false
	var walk func(v value.Value, depth int)
	walk = func(v value.Value, depth int) {
		if tooDeep {
			return
		}
		if (v.IsObject() || v.IsArray()) && depth > MaxRecursionDepth {
			tooDeep = true
			return
		}
		switch v.Kind() {
		case value.KindArray:
			elems := v.Elements()
			n := int64(len(elems))
			norm := normalizeIndex(idx, n)
			if norm >= 0 && norm < n {
				b.Append(elems[norm])
			}
			for _, e := range elems {
				walk(e, depth+1)
			}
		case value.KindObject:
			for _, kv := range v.Pairs() {
				walk(kv.Val, depth+1)
			}
		}
	}
	walk(parent, ec.depth)
	if tooDeep {
		return value.Err("depth", "maximum recursion depth exceeded").At(loc, value.Metadata{Location: &loc})
	}
	return b.Build()
}

// RecursiveWildcardStep implements `..*`: every encountered child, arrays
// and objects alike (spec.md §4.2.1).
func RecursiveWildcardStep(ec *EvalContext, parent value.Value, loc value.Location) value.Value {
	ok, errv, restore := ec.enterDepth(loc)
	if !ok {
		return errv
	}
	defer restore()

	b := value.NewArrayBuilder()
	tooDeep := false
	var walk func(v value.Value, depth int)
	walk = func(v value.Value, depth int) {
		if tooDeep {
			return
		}
		if (v.IsObject() || v.IsArray()) && depth > MaxRecursionDepth {
			tooDeep = true
			return
		}
		switch v.Kind() {
		case value.KindArray:
			for _, e := range v.Elements() {
				b.Append(e)
				walk(e, depth+1)
			}
		case value.KindObject:
			for _, kv := range v.Pairs() {
				b.Append(kv.Val)
				walk(kv.Val, depth+1)
			}
		}
	}
	walk(parent, ec.depth)
	if tooDeep {
		return value.Err("depth", "maximum recursion depth exceeded").At(loc, value.Metadata{Location: &loc})
	}
	return b.Build()
}

// ExpressionStep implements `parent[[expr]]`: dispatches to index or key
// step based on the evaluated operand's kind (spec.md §4.2.1).
func ExpressionStep(parent, operand value.Value) value.Value {
	if operand.IsError() {
		return operand.WithMergedMetadata(parent.Metadata())
	}
	if parent.IsError() {
		return parent
	}
	switch operand.Kind() {
	case value.KindNumber:
		return IndexStep(parent, operand)
	case value.KindText:
		s, _ := operand.String()
		return KeyStep(parent, s)
	default:
		return value.Errorf("expression-step", "expression step operand must be number or text, got %s", operand.Kind())
	}
}
