package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// FromJSON decodes arbitrary JSON bytes into a Value, following the same
// decode-then-normalise idiom the teacher's JSONMap/JSONStringSlice GORM
// types use (decode into interface{}, then walk the tree).
func FromJSON(data []byte) (Value, error) {
	var raw interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return Value{}, fmt.Errorf("value: decode json: %w", err)
	}
	return FromAny(raw), nil
}

// FromAny converts a decoded interface{} tree (as produced by
// encoding/json with UseNumber) into a Value tree.
func FromAny(raw interface{}) Value {
	switch v := raw.(type) {
	case nil:
		return NULL
	case bool:
		return Boolean(v)
	case json.Number:
		val, ok := NumberFromString(v.String())
		if !ok {
			return Err("number", "invalid numeric literal: "+v.String())
		}
		return val
	case float64:
		return NumberFromFloat(v)
	case string:
		return Text(v)
	case []interface{}:
		elems := make([]Value, len(v))
		for i, e := range v {
			elems[i] = FromAny(e)
		}
		return Array(elems...)
	case map[string]interface{}:
		b := NewObjectBuilder()
		for _, k := range orderedMapKeys(v) {
			b.Set(k, FromAny(v[k]))
		}
		return b.Build()
	default:
		return Errorf("conversion", "cannot convert %T to value", raw)
	}
}

// orderedMapKeys returns keys of a decoded JSON object. encoding/json does
// not preserve source order in map[string]interface{}, so this yields
// lexical order; source order is not preserved.
func orderedMapKeys(m map[string]interface{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ToJSON renders v as JSON bytes. Undefined has no JSON representation and
// is rendered as null; Error is rendered as an object carrying its kind and
// message so diagnostics survive a round trip.
func ToJSON(v Value) ([]byte, error) {
	return json.Marshal(toAny(v))
}

func toAny(v Value) interface{} {
	switch v.Kind() {
	case KindUndefined, KindNull:
		return nil
	case KindBoolean:
		b, _ := v.Bool()
		return b
	case KindNumber:
		r, _ := v.Rat()
		if r.IsInt() {
			return json.Number(r.Num().String())
		}
		f, _ := v.Float64()
		return json.Number(fmt.Sprintf("%g", f))
	case KindText:
		s, _ := v.String()
		return s
	case KindArray:
		elems := v.Elements()
		out := make([]interface{}, len(elems))
		for i, e := range elems {
			out[i] = toAny(e)
		}
		return out
	case KindObject:
		out := make(map[string]interface{})
		for _, kv := range v.Pairs() {
			out[kv.Key] = toAny(kv.Val)
		}
		return out
	case KindError:
		info := v.ErrorInfo()
		return map[string]interface{}{
			"error":   true,
			"kind":    info.Kind,
			"message": info.Message,
		}
	default:
		return nil
	}
}
