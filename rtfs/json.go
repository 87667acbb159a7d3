package rtfs

import (
	"encoding/json"
	"fmt"
)

// wireValue is the JSON-on-the-wire shape for a Value: a discriminant
// plus kind-specific payload fields. Used for execution-context
// serialization (spec.md §5.1), causal-chain action payloads (§4.5) and
// intent-graph subgraph export (§6.5) — anywhere a Value must cross a
// process boundary or land on disk.
type wireValue struct {
	Kind    string      `json:"kind"`
	Bool    *bool       `json:"bool,omitempty"`
	Int     *int64      `json:"int,omitempty"`
	Float   *float64    `json:"float,omitempty"`
	Str     *string     `json:"str,omitempty"`
	Vec     []wireValue `json:"vec,omitempty"`
	Entries []wireEntry `json:"entries,omitempty"` // Map in insertion order; Set in no fixed order
}

type wireEntry struct {
	Key wireMapKey `json:"key"`
	Val wireValue  `json:"val"`
}

type wireMapKey struct {
	Kind string `json:"kind"`
	Str  string `json:"str,omitempty"`
	Int  int64  `json:"int,omitempty"`
}

// MarshalJSON implements json.Marshaler. Function values cannot cross the
// wire (spec.md's Value model has no serializable closure representation)
// and are rejected.
func (v Value) MarshalJSON() ([]byte, error) {
	w, err := v.toWire()
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

func (v Value) toWire() (wireValue, error) {
	w := wireValue{Kind: v.Kind.String()}
	switch v.Kind {
	case KNil:
	case KBool:
		b := v.Bool
		w.Bool = &b
	case KInt:
		i := v.Int
		w.Int = &i
	case KFloat:
		f := v.Float
		w.Float = &f
	case KString, KKeyword, KSymbol, KResourceHandle, KOpaqueHost:
		s := v.Str
		w.Str = &s
	case KVector:
		w.Vec = make([]wireValue, len(v.Vec))
		for i, it := range v.Vec {
			iw, err := it.toWire()
			if err != nil {
				return wireValue{}, err
			}
			w.Vec[i] = iw
		}
	case KMap:
		for _, k := range v.MapKeys {
			vw, err := v.Map[k].toWire()
			if err != nil {
				return wireValue{}, err
			}
			w.Entries = append(w.Entries, wireEntry{Key: keyToWire(k), Val: vw})
		}
	case KSet:
		for k, val := range v.Set {
			vw, err := val.toWire()
			if err != nil {
				return wireValue{}, err
			}
			w.Entries = append(w.Entries, wireEntry{Key: keyToWire(k), Val: vw})
		}
	default:
		return wireValue{}, fmt.Errorf("value of kind %s is not serializable", v.Kind)
	}
	return w, nil
}

func keyToWire(k MapKey) wireMapKey {
	return wireMapKey{Kind: k.Kind.String(), Str: k.Str, Int: k.Int}
}

func wireToKey(w wireMapKey) MapKey {
	return MapKey{Kind: kindFromString(w.Kind), Str: w.Str, Int: w.Int}
}

func kindFromString(s string) ValueKind {
	for k := KNil; k <= KOpaqueHost; k++ {
		if k.String() == s {
			return k
		}
	}
	return KNil
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	val, err := w.toValue()
	if err != nil {
		return err
	}
	*v = val
	return nil
}

func (w wireValue) toValue() (Value, error) {
	switch w.Kind {
	case "Nil":
		return Nil, nil
	case "Bool":
		return Bool(w.Bool != nil && *w.Bool), nil
	case "Int":
		if w.Int == nil {
			return Nil, fmt.Errorf("wire value kind Int missing int payload")
		}
		return Int(*w.Int), nil
	case "Float":
		if w.Float == nil {
			return Nil, fmt.Errorf("wire value kind Float missing float payload")
		}
		return Float(*w.Float), nil
	case "String":
		return Str(strOf(w.Str)), nil
	case "Keyword":
		return Keyword(strOf(w.Str)), nil
	case "Symbol":
		return Symbol(strOf(w.Str)), nil
	case "ResourceHandle":
		return Value{Kind: KResourceHandle, Str: strOf(w.Str)}, nil
	case "OpaqueHostValue":
		return Value{Kind: KOpaqueHost, Str: strOf(w.Str)}, nil
	case "Vector":
		items := make([]Value, len(w.Vec))
		for i, iw := range w.Vec {
			iv, err := iw.toValue()
			if err != nil {
				return Nil, err
			}
			items[i] = iv
		}
		return Vector(items...), nil
	case "Map":
		keys := make([]MapKey, len(w.Entries))
		vals := make([]Value, len(w.Entries))
		for i, e := range w.Entries {
			vv, err := e.Val.toValue()
			if err != nil {
				return Nil, err
			}
			keys[i] = wireToKey(e.Key)
			vals[i] = vv
		}
		return NewMap(keys, vals), nil
	case "Set":
		items := make([]Value, len(w.Entries))
		for i, e := range w.Entries {
			vv, err := e.Val.toValue()
			if err != nil {
				return Nil, err
			}
			items[i] = vv
		}
		return NewSet(items...)
	default:
		return Nil, fmt.Errorf("unknown wire value kind %q", w.Kind)
	}
}

func strOf(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
