// Package value provides the tagged-union type used for process inputs and
// outputs.
//
// Inputs and outputs cross a JSON boundary (database columns, event payloads,
// CLI flags) but are consumed by typed Go code. Value keeps both sides honest:
// every variant is one of Null, String, Number, Bool, List or Map, and the
// interface is sealed so no other variant can appear.
package value

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrNonFinite is returned for NaN and infinite numbers, which have no JSON
// encoding.
var ErrNonFinite = errors.New("number is not finite")

// Kind identifies the variant of a Value.
type Kind string

const (
	KindNull   Kind = "null"
	KindString Kind = "string"
	KindNumber Kind = "number"
	KindBool   Kind = "bool"
	KindList   Kind = "list"
	KindMap    Kind = "map"
)

// Value is a JSON-compatible tagged union.
type Value interface {
	Kind() Kind
	sealed()
}

// Null is the absent value.
type Null struct{}

// String is a UTF-8 string.
type String string

// Number is a JSON number. Integers are represented exactly up to 2^53.
type Number float64

// Bool is a boolean.
type Bool bool

// List is an ordered sequence of values.
type List []Value

// Map is a string-keyed map of values.
type Map map[string]Value

func (Null) Kind() Kind   { return KindNull }
func (String) Kind() Kind { return KindString }
func (Number) Kind() Kind { return KindNumber }
func (Bool) Kind() Kind   { return KindBool }
func (List) Kind() Kind   { return KindList }
func (Map) Kind() Kind    { return KindMap }

func (Null) sealed()   {}
func (String) sealed() {}
func (Number) sealed() {}
func (Bool) sealed()   {}
func (List) sealed()   {}
func (Map) sealed()    {}

// Has reports whether key is present and not Null.
func (m Map) Has(key string) bool {
	v, ok := m[key]
	if !ok {
		return false
	}
	_, isNull := v.(Null)
	return !isNull
}

// String returns the string at key.
func (m Map) String(key string) (string, bool) {
	s, ok := m[key].(String)
	return string(s), ok
}

// Number returns the number at key.
func (m Map) Number(key string) (float64, bool) {
	n, ok := m[key].(Number)
	return float64(n), ok
}

// Int returns the number at key if it is integral.
func (m Map) Int(key string) (int, bool) {
	n, ok := m[key].(Number)
	if !ok || float64(n) != float64(int64(n)) {
		return 0, false
	}
	return int(n), true
}

// Bool returns the boolean at key.
func (m Map) Bool(key string) (bool, bool) {
	b, ok := m[key].(Bool)
	return bool(b), ok
}

// List returns the list at key.
func (m Map) List(key string) (List, bool) {
	l, ok := m[key].(List)
	return l, ok
}

// Map returns the nested map at key.
func (m Map) Map(key string) (Map, bool) {
	n, ok := m[key].(Map)
	return n, ok
}

// StringList returns the list at key when every element is a string.
func (m Map) StringList(key string) ([]string, bool) {
	l, ok := m[key].(List)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(l))
	for _, item := range l {
		s, ok := item.(String)
		if !ok {
			return nil, false
		}
		out = append(out, string(s))
	}
	return out, true
}

// SortedKeys returns the map keys in lexical order.
func (m Map) SortedKeys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FromAny converts a decoded JSON value (or a plain Go equivalent) to a Value.
func FromAny(v any) (Value, error) {
	switch t := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return t, nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case float64:
		return finite(t)
	case float32:
		return finite(float64(t))
	case int:
		return Number(t), nil
	case int32:
		return Number(t), nil
	case int64:
		return Number(t), nil
	case uint:
		return Number(t), nil
	case uint32:
		return Number(t), nil
	case uint64:
		return Number(t), nil
	case []string:
		out := make(List, len(t))
		for i, s := range t {
			out[i] = String(s)
		}
		return out, nil
	case []any:
		out := make(List, len(t))
		for i, item := range t {
			conv, err := FromAny(item)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = conv
		}
		return out, nil
	case map[string]any:
		return MapFromAny(t)
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

func finite(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%w: %v", ErrNonFinite, f)
	}
	return Number(f), nil
}

// CheckFinite walks v and reports the path of the first NaN or infinite
// Number.
func CheckFinite(v Value) error {
	switch t := v.(type) {
	case Number:
		if _, err := finite(float64(t)); err != nil {
			return err
		}
	case List:
		for i, item := range t {
			if err := CheckFinite(item); err != nil {
				return fmt.Errorf("index %d: %w", i, err)
			}
		}
	case Map:
		for _, k := range t.SortedKeys() {
			if err := CheckFinite(t[k]); err != nil {
				return fmt.Errorf("key %q: %w", k, err)
			}
		}
	}
	return nil
}

// MapFromAny converts a plain map to a Map.
func MapFromAny(in map[string]any) (Map, error) {
	out := make(Map, len(in))
	for k, item := range in {
		conv, err := FromAny(item)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		out[k] = conv
	}
	return out, nil
}

// ToAny converts a Value back to plain Go values suitable for encoding/json.
func ToAny(v Value) any {
	switch t := v.(type) {
	case nil, Null:
		return nil
	case String:
		return string(t)
	case Number:
		return float64(t)
	case Bool:
		return bool(t)
	case List:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = ToAny(item)
		}
		return out
	case Map:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = ToAny(item)
		}
		return out
	default:
		return nil
	}
}
