package ir

import (
	"slices"
	"unicode/utf16"
)

// Value is a sealed interface over the payload value types.
// Only String, Int, Uint, Bool, Array and Object implement it.
type Value interface {
	irValue()
}

// String is a string payload value.
type String string

func (String) irValue() {}

// Int is a signed integer payload value.
type Int int64

func (Int) irValue() {}

// Uint is an unsigned integer payload value. Token amounts use Uint so the
// full uint64 range survives serialization.
type Uint uint64

func (Uint) irValue() {}

// Bool is a boolean payload value.
type Bool bool

func (Bool) irValue() {}

// Array is an ordered list of values.
type Array []Value

func (Array) irValue() {}

// Object maps keys to values. Use SortedKeys for deterministic iteration.
type Object map[string]Value

func (Object) irValue() {}

// Pair is a key-value pair for Object construction.
type Pair struct {
	Key   string
	Value Value
}

// O is shorthand for Pair.
func O(key string, value Value) Pair {
	return Pair{Key: key, Value: value}
}

// NewObject builds an Object from pairs. Later pairs overwrite earlier ones.
func NewObject(pairs ...Pair) Object {
	obj := make(Object, len(pairs))
	for _, p := range pairs {
		obj[p.Key] = p.Value
	}
	return obj
}

// With returns a copy of obj with the given pairs added.
func (obj Object) With(pairs ...Pair) Object {
	out := make(Object, len(obj)+len(pairs))
	for k, v := range obj {
		out[k] = v
	}
	for _, p := range pairs {
		out[p.Key] = p.Value
	}
	return out
}

// SortedKeys returns keys in RFC 8785 order (UTF-16 code units).
// This differs from sort.Strings, which orders by UTF-8 bytes.
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

func compareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}
