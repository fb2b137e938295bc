// Package doctree provides a read-only tree view of a replicated document.
//
// A Node is a tagged variant: a scalar leaf, a mapping of string keys to
// nodes, or an ordered sequence of nodes. Consumers walk it with a Visitor
// or render it into plain Go values with Render.
package doctree

import (
	"fmt"
	"sort"
)

// Kind tags the variant held by a Node.
type Kind uint8

const (
	KindScalar Kind = iota
	KindMapping
	KindSequence
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindMapping:
		return "mapping"
	case KindSequence:
		return "sequence"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ValueType tags the variant held by a Value.
type ValueType uint8

const (
	TypeNull ValueType = iota
	TypeBool
	TypeInt
	TypeFloat
	TypeString
)

// Value is a scalar leaf.
type Value struct {
	Type  ValueType `codec:"t"`
	Bool  bool      `codec:"b,omitempty"`
	Int   int64     `codec:"i,omitempty"`
	Float float64   `codec:"f,omitempty"`
	Str   string    `codec:"s,omitempty"`
}

// Null returns the null value.
func Null() Value { return Value{Type: TypeNull} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{Type: TypeBool, Bool: b} }

// Int returns an integer value.
func Int(i int64) Value { return Value{Type: TypeInt, Int: i} }

// Float returns a floating point value.
func Float(f float64) Value { return Value{Type: TypeFloat, Float: f} }

// String returns a string value.
func String(s string) Value { return Value{Type: TypeString, Str: s} }

// Native returns the value as a plain Go value (nil, bool, int64, float64, string).
func (v Value) Native() any {
	switch v.Type {
	case TypeBool:
		return v.Bool
	case TypeInt:
		return v.Int
	case TypeFloat:
		return v.Float
	case TypeString:
		return v.Str
	default:
		return nil
	}
}

// FromNative converts a decoded JSON-like value into a Value.
// Only scalars are accepted.
func FromNative(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case float64:
		if t == float64(int64(t)) {
			return Int(int64(t)), nil
		}
		return Float(t), nil
	case string:
		return String(t), nil
	default:
		return Value{}, fmt.Errorf("doctree: unsupported scalar %T", x)
	}
}

// Entry is one key of a mapping.
type Entry struct {
	Key   string
	Value Node
}

// Node is a tree node.
type Node struct {
	Kind     Kind
	Scalar   Value
	Mapping  []Entry // sorted by key
	Sequence []Node
}

// Scalar wraps a value as a leaf node.
func Scalar(v Value) Node {
	return Node{Kind: KindScalar, Scalar: v}
}

// Mapping builds a mapping node. Entries are sorted by key.
func Mapping(entries ...Entry) Node {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })
	return Node{Kind: KindMapping, Mapping: sorted}
}

// Sequence builds a sequence node.
func Sequence(items ...Node) Node {
	if items == nil {
		items = []Node{}
	}
	return Node{Kind: KindSequence, Sequence: items}
}

// Get returns the child stored under key in a mapping node.
func (n Node) Get(key string) (Node, bool) {
	if n.Kind != KindMapping {
		return Node{}, false
	}
	i := sort.Search(len(n.Mapping), func(i int) bool { return n.Mapping[i].Key >= key })
	if i < len(n.Mapping) && n.Mapping[i].Key == key {
		return n.Mapping[i].Value, true
	}
	return Node{}, false
}

// Lookup follows a path of mapping keys.
func (n Node) Lookup(path ...string) (Node, bool) {
	cur := n
	for _, key := range path {
		next, ok := cur.Get(key)
		if !ok {
			return Node{}, false
		}
		cur = next
	}
	return cur, true
}

// Equal reports whether two trees are structurally equal.
func Equal(a, b Node) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindScalar:
		return a.Scalar == b.Scalar
	case KindMapping:
		if len(a.Mapping) != len(b.Mapping) {
			return false
		}
		for i := range a.Mapping {
			if a.Mapping[i].Key != b.Mapping[i].Key || !Equal(a.Mapping[i].Value, b.Mapping[i].Value) {
				return false
			}
		}
		return true
	case KindSequence:
		if len(a.Sequence) != len(b.Sequence) {
			return false
		}
		for i := range a.Sequence {
			if !Equal(a.Sequence[i], b.Sequence[i]) {
				return false
			}
		}
		return true
	}
	return false
}
