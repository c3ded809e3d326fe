package types

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	json "github.com/json-iterator/go"
)

// ValueKind discriminates the JSON sum type carried in record payloads.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	}
	return "invalid"
}

// Value is an immutable JSON value. Record payloads are carried as Values so
// that equality, ordering, and canonical serialization are well defined
// independent of the wire representation.
type Value struct {
	kind ValueKind
	b    bool
	n    float64
	s    string
	a    []Value
	o    map[string]Value
}

// NullValue is the JSON null.
var NullValue = Value{kind: KindNull}

func BoolValue(b bool) Value      { return Value{kind: KindBool, b: b} }
func NumberValue(n float64) Value { return Value{kind: KindNumber, n: n} }
func StringValue(s string) Value  { return Value{kind: KindString, s: s} }

func ArrayValue(items ...Value) Value {
	return Value{kind: KindArray, a: items}
}

func ObjectValue(fields map[string]Value) Value {
	if fields == nil {
		fields = map[string]Value{}
	}
	return Value{kind: KindObject, o: fields}
}

// FromAny converts a decoded interface{} tree (as produced by encoding/json)
// into a Value. Unsupported Go types are an error.
func FromAny(v any) (Value, error) {
	switch t := v.(type) {
	case nil:
		return NullValue, nil
	case bool:
		return BoolValue(t), nil
	case float64:
		return NumberValue(t), nil
	case int:
		return NumberValue(float64(t)), nil
	case int64:
		return NumberValue(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return NullValue, err
		}
		return NumberValue(f), nil
	case string:
		return StringValue(t), nil
	case []any:
		items := make([]Value, 0, len(t))
		for _, e := range t {
			ev, err := FromAny(e)
			if err != nil {
				return NullValue, err
			}
			items = append(items, ev)
		}
		return ArrayValue(items...), nil
	case map[string]any:
		fields := make(map[string]Value, len(t))
		for k, e := range t {
			ev, err := FromAny(e)
			if err != nil {
				return NullValue, err
			}
			fields[k] = ev
		}
		return ObjectValue(fields), nil
	}
	return NullValue, fmt.Errorf("unsupported value type %T", v)
}

// ValueFromJSON parses a JSON document into a Value.
func ValueFromJSON(data []byte) (Value, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return NullValue, err
	}
	return FromAny(raw)
}

// Kind returns the discriminant of the value.
func (v Value) Kind() ValueKind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

// Bool returns the boolean payload; valid only for KindBool.
func (v Value) Bool() bool { return v.b }

// Number returns the numeric payload; valid only for KindNumber.
func (v Value) Number() float64 { return v.n }

// String returns the string payload for KindString, else a diagnostic form.
func (v Value) String() string {
	if v.kind == KindString {
		return v.s
	}
	data, err := v.MarshalJSON()
	if err != nil {
		return v.kind.String()
	}
	return string(data)
}

// Array returns the element slice; valid only for KindArray. The slice must
// not be mutated.
func (v Value) Array() []Value { return v.a }

// Object returns the field map; valid only for KindObject. The map must not
// be mutated.
func (v Value) Object() map[string]Value { return v.o }

// Field looks up a key on an object value.
func (v Value) Field(key string) (Value, bool) {
	if v.kind != KindObject {
		return NullValue, false
	}
	f, ok := v.o[key]
	return f, ok
}

// Interface converts the value back into an interface{} tree.
func (v Value) Interface() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindArray:
		out := make([]any, len(v.a))
		for i, e := range v.a {
			out[i] = e.Interface()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.o))
		for k, e := range v.o {
			out[k] = e.Interface()
		}
		return out
	}
	return nil
}

// MarshalJSON serializes the value. Object keys are emitted in sorted order so
// the output is deterministic for a given value.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindNumber:
		if math.IsInf(v.n, 0) || math.IsNaN(v.n) {
			return nil, fmt.Errorf("number %v is not representable in JSON", v.n)
		}
		return []byte(strconv.FormatFloat(v.n, 'g', -1, 64)), nil
	case KindString:
		return json.Marshal(v.s)
	case KindArray:
		out := []byte{'['}
		for i, e := range v.a {
			if i > 0 {
				out = append(out, ',')
			}
			eb, err := e.MarshalJSON()
			if err != nil {
				return nil, err
			}
			out = append(out, eb...)
		}
		return append(out, ']'), nil
	case KindObject:
		keys := make([]string, 0, len(v.o))
		for k := range v.o {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				out = append(out, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			out = append(out, kb...)
			out = append(out, ':')
			eb, err := v.o[k].MarshalJSON()
			if err != nil {
				return nil, err
			}
			out = append(out, eb...)
		}
		return append(out, '}'), nil
	}
	return nil, fmt.Errorf("invalid value kind %d", v.kind)
}

// UnmarshalJSON parses a JSON document in place.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := ValueFromJSON(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Equal reports structural JSON equality. Numbers compare numerically,
// objects compare key-wise, arrays element-wise in order.
func (v Value) Equal(other Value) bool {
	return v.Compare(other) == 0
}

// Compare imposes a total order over values: null < bool < number < string <
// array < object; false < true; numbers numerically; strings bytewise;
// arrays lexicographically; objects by sorted key then value. The order is
// what makes unique-value hashing and set semantics deterministic.
func (v Value) Compare(other Value) int {
	if v.kind != other.kind {
		if v.kind < other.kind {
			return -1
		}
		return 1
	}
	switch v.kind {
	case KindNull:
		return 0
	case KindBool:
		if v.b == other.b {
			return 0
		}
		if !v.b {
			return -1
		}
		return 1
	case KindNumber:
		if v.n == other.n {
			return 0
		}
		if v.n < other.n {
			return -1
		}
		return 1
	case KindString:
		if v.s == other.s {
			return 0
		}
		if v.s < other.s {
			return -1
		}
		return 1
	case KindArray:
		for i := 0; i < len(v.a) && i < len(other.a); i++ {
			if c := v.a[i].Compare(other.a[i]); c != 0 {
				return c
			}
		}
		return len(v.a) - len(other.a)
	case KindObject:
		vk := sortedKeys(v.o)
		ok := sortedKeys(other.o)
		for i := 0; i < len(vk) && i < len(ok); i++ {
			if vk[i] != ok[i] {
				if vk[i] < ok[i] {
					return -1
				}
				return 1
			}
			if c := v.o[vk[i]].Compare(other.o[ok[i]]); c != 0 {
				return c
			}
		}
		return len(vk) - len(ok)
	}
	return 0
}

func sortedKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
