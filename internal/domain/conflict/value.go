package conflict

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Kind discriminates the variants of a Value.
type Kind int

const (
	KindScalar Kind = iota
	KindObject
	KindArray
)

// Value is a typed tree over a decoded JSON document. The conflict detector
// walks Values instead of reflecting over arbitrary maps so that comparison
// rules stay explicit: objects recurse, arrays compare as whole values,
// scalars compare by equality.
type Value struct {
	kind   Kind
	scalar interface{} // string, float64, bool, or nil
	object map[string]*Value
	array  []*Value
}

// FromInterface converts a decoded JSON value (the output of
// encoding/json into interface{}) into a Value tree.
func FromInterface(v interface{}) *Value {
	switch t := v.(type) {
	case map[string]interface{}:
		obj := make(map[string]*Value, len(t))
		for k, item := range t {
			obj[k] = FromInterface(item)
		}
		return &Value{kind: KindObject, object: obj}
	case []interface{}:
		arr := make([]*Value, len(t))
		for i, item := range t {
			arr[i] = FromInterface(item)
		}
		return &Value{kind: KindArray, array: arr}
	default:
		return &Value{kind: KindScalar, scalar: t}
	}
}

// FromJSON parses a raw JSON document into a Value tree.
func FromJSON(raw json.RawMessage) (*Value, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}
	return FromInterface(v), nil
}

// Kind returns the variant of this Value.
func (v *Value) Kind() Kind {
	return v.kind
}

// Interface converts the Value tree back to plain decoded-JSON shapes.
func (v *Value) Interface() interface{} {
	if v == nil {
		return nil
	}
	switch v.kind {
	case KindObject:
		m := make(map[string]interface{}, len(v.object))
		for k, item := range v.object {
			m[k] = item.Interface()
		}
		return m
	case KindArray:
		arr := make([]interface{}, len(v.array))
		for i, item := range v.array {
			arr[i] = item.Interface()
		}
		return arr
	default:
		return v.scalar
	}
}

// Field returns the named child of an object Value, or nil.
func (v *Value) Field(name string) *Value {
	if v == nil || v.kind != KindObject {
		return nil
	}
	return v.object[name]
}

// Keys returns the sorted field names of an object Value.
func (v *Value) Keys() []string {
	if v == nil || v.kind != KindObject {
		return nil
	}
	keys := make([]string, 0, len(v.object))
	for k := range v.object {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal reports deep equality of two Value trees. Arrays are equal when they
// have the same length and pairwise-equal elements in order.
func Equal(a, b *Value) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindScalar:
		return a.scalar == b.scalar
	case KindArray:
		if len(a.array) != len(b.array) {
			return false
		}
		for i := range a.array {
			if !Equal(a.array[i], b.array[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(a.object) != len(b.object) {
			return false
		}
		for k, av := range a.object {
			bv, ok := b.object[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	}
	return false
}
