// Package rtfs implements the RTFS value model, AST and evaluator: a
// pure-functional expression language with letrec semantics, pattern
// matching, closures and a yield-based host-effect boundary (spec.md §3, §4.1, §4.2).
package rtfs

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ValueKind discriminates the tagged union of runtime values (spec.md §3.2).
type ValueKind int

const (
	KNil ValueKind = iota
	KBool
	KInt
	KFloat
	KString
	KKeyword
	KSymbol
	KVector
	KMap
	KSet
	KFunction
	KResourceHandle
	KOpaqueHost
)

func (k ValueKind) String() string {
	switch k {
	case KNil:
		return "Nil"
	case KBool:
		return "Bool"
	case KInt:
		return "Int"
	case KFloat:
		return "Float"
	case KString:
		return "String"
	case KKeyword:
		return "Keyword"
	case KSymbol:
		return "Symbol"
	case KVector:
		return "Vector"
	case KMap:
		return "Map"
	case KSet:
		return "Set"
	case KFunction:
		return "Function"
	case KResourceHandle:
		return "ResourceHandle"
	case KOpaqueHost:
		return "OpaqueHostValue"
	default:
		return "Unknown"
	}
}

// MapKey is a comparable projection of a Value usable as a Go map key.
// Map keys are restricted to keywords, strings and integers (spec.md §3.1).
type MapKey struct {
	Kind ValueKind
	Str  string
	Int  int64
}

// Value is the tagged sum of every RTFS runtime value. Values are immutable
// after construction; sharing is permitted (Go's GC handles the reference
// counting the spec's design notes call out as needed in ownership-strict
// languages — see DESIGN.md's note on §9's reference-cycle guidance).
type Value struct {
	Kind ValueKind

	Bool  bool
	Int   int64
	Float float64
	Str   string // String / Keyword / Symbol / ResourceHandle id / OpaqueHostValue id

	Vec []Value
	Map map[MapKey]Value
	// MapKeys preserves insertion order for deterministic rendering/iteration.
	MapKeys []MapKey
	Set     map[MapKey]Value

	Fn *Function
}

var Nil = Value{Kind: KNil}

func Bool(b bool) Value    { return Value{Kind: KBool, Bool: b} }
func Int(i int64) Value    { return Value{Kind: KInt, Int: i} }
func Float(f float64) Value { return Value{Kind: KFloat, Float: f} }
func Str(s string) Value   { return Value{Kind: KString, Str: s} }
func Keyword(s string) Value { return Value{Kind: KKeyword, Str: s} }
func Symbol(s string) Value  { return Value{Kind: KSymbol, Str: s} }
func Vector(items ...Value) Value { return Value{Kind: KVector, Vec: items} }

// NewMap builds a Map value from keys/values in the given order, preserving
// that order in MapKeys for iteration (JSON encoding follows it; Render sorts
// keys instead).
func NewMap(keys []MapKey, values []Value) Value {
	m := make(map[MapKey]Value, len(keys))
	for i, k := range keys {
		m[k] = values[i]
	}
	return Value{Kind: KMap, Map: m, MapKeys: append([]MapKey(nil), keys...)}
}

func NewSet(items ...Value) (Value, error) {
	s := make(map[MapKey]Value, len(items))
	for _, it := range items {
		k, err := ToMapKey(it)
		if err != nil {
			return Value{}, err
		}
		s[k] = it
	}
	return Value{Kind: KSet, Set: s}, nil
}

func FunctionValue(fn *Function) Value { return Value{Kind: KFunction, Fn: fn} }

// ToMapKey projects a Value into a MapKey, failing for non-scalar values.
func ToMapKey(v Value) (MapKey, error) {
	switch v.Kind {
	case KKeyword, KString, KSymbol:
		return MapKey{Kind: v.Kind, Str: v.Str}, nil
	case KInt:
		return MapKey{Kind: v.Kind, Int: v.Int}, nil
	default:
		return MapKey{}, fmt.Errorf("value of kind %s cannot be used as a map/set key", v.Kind)
	}
}

// ToValue converts a MapKey back into the Value it was projected from, used
// by canonical string rendering.
func (k MapKey) ToValue() Value {
	switch k.Kind {
	case KKeyword:
		return Keyword(k.Str)
	case KString:
		return Str(k.Str)
	case KSymbol:
		return Symbol(k.Str)
	case KInt:
		return Int(k.Int)
	default:
		return Nil
	}
}

// MapGet looks up a key (by keyword/string name) in a Map value.
func (v Value) MapGet(key string) (Value, bool) {
	if v.Kind != KMap {
		return Nil, false
	}
	for _, variant := range []MapKey{{Kind: KKeyword, Str: key}, {Kind: KString, Str: key}} {
		if val, ok := v.Map[variant]; ok {
			return val, true
		}
	}
	return Nil, false
}

// Truthy implements RTFS truthiness: nil and false(bool) are falsy,
// everything else (including 0, "", empty vector) is truthy.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KNil:
		return false
	case KBool:
		return v.Bool
	default:
		return true
	}
}

// Equal implements RTFS structural `=` used by literal pattern matching.
func Equal(a, b Value) bool {
	if a.Kind != b.Kind {
		// Int/Float cross-kind equality is allowed when numerically equal,
		// mirroring the coercion rules' numeric-promotion spirit.
		if a.Kind == KInt && b.Kind == KFloat {
			return float64(a.Int) == b.Float
		}
		if a.Kind == KFloat && b.Kind == KInt {
			return a.Float == float64(b.Int)
		}
		return false
	}
	switch a.Kind {
	case KNil:
		return true
	case KBool:
		return a.Bool == b.Bool
	case KInt:
		return a.Int == b.Int
	case KFloat:
		return a.Float == b.Float
	case KString, KKeyword, KSymbol, KResourceHandle, KOpaqueHost:
		return a.Str == b.Str
	case KVector:
		if len(a.Vec) != len(b.Vec) {
			return false
		}
		for i := range a.Vec {
			if !Equal(a.Vec[i], b.Vec[i]) {
				return false
			}
		}
		return true
	case KMap:
		if len(a.Map) != len(b.Map) {
			return false
		}
		for k, av := range a.Map {
			bv, ok := b.Map[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	case KSet:
		if len(a.Set) != len(b.Set) {
			return false
		}
		for k := range a.Set {
			if _, ok := b.Set[k]; !ok {
				return false
			}
		}
		return true
	case KFunction:
		return a.Fn == b.Fn
	default:
		return false
	}
}

// Render produces the canonical string form used by scalar->String
// coercion (spec.md §4.2.5) and log formatting. Complex values (vector,
// map, set, function) are rendered for diagnostics only — coercing them
// to a real RTFS string value is a TypeError, enforced by coerce.go.
func Render(v Value) string {
	switch v.Kind {
	case KNil:
		return "nil"
	case KBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case KInt:
		return strconv.FormatInt(v.Int, 10)
	case KFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KString:
		return v.Str
	case KKeyword:
		return ":" + v.Str
	case KSymbol:
		return v.Str
	case KVector:
		parts := make([]string, len(v.Vec))
		for i, it := range v.Vec {
			parts[i] = Render(it)
		}
		return "[" + strings.Join(parts, " ") + "]"
	case KMap:
		keys := append([]MapKey(nil), v.MapKeys...)
		sort.Slice(keys, func(i, j int) bool { return fmt.Sprint(keys[i]) < fmt.Sprint(keys[j]) })
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, Render(k.ToValue())+" "+Render(v.Map[k]))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case KSet:
		parts := make([]string, 0, len(v.Set))
		for _, val := range v.Set {
			parts = append(parts, Render(val))
		}
		sort.Strings(parts)
		return "#{" + strings.Join(parts, " ") + "}"
	case KFunction:
		return fmt.Sprintf("#<function %s>", v.Fn.Name)
	case KResourceHandle:
		return fmt.Sprintf("#<resource %s>", v.Str)
	case KOpaqueHost:
		return fmt.Sprintf("#<host-value %s>", v.Str)
	default:
		return "#<unknown>"
	}
}
