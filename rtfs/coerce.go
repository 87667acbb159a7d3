package rtfs

import "github.com/ccos-run/ccos/pkg/rtfserrors"

// CoerceToFloat implements the Int -> Float rule (spec.md §4.2.5): always
// allowed.
func CoerceToFloat(v Value) (Value, error) {
	switch v.Kind {
	case KFloat:
		return v, nil
	case KInt:
		return Float(float64(v.Int)), nil
	default:
		return Nil, rtfserrors.Newf("coerce.ToFloat", rtfserrors.KindTypeError,
			"cannot coerce %s to Float", v.Kind)
	}
}

// CoerceToInt implements the Float -> Int rule: only allowed if the value
// is whole (no fractional part).
func CoerceToInt(v Value) (Value, error) {
	switch v.Kind {
	case KInt:
		return v, nil
	case KFloat:
		if v.Float != float64(int64(v.Float)) {
			return Nil, rtfserrors.Newf("coerce.ToInt", rtfserrors.KindTypeError,
				"cannot coerce non-whole float %v to Int", v.Float)
		}
		return Int(int64(v.Float)), nil
	default:
		return Nil, rtfserrors.Newf("coerce.ToInt", rtfserrors.KindTypeError,
			"cannot coerce %s to Int", v.Kind)
	}
}

// CoerceToString renders scalars canonically; complex values (vector, map,
// set, function) are rejected.
func CoerceToString(v Value) (Value, error) {
	switch v.Kind {
	case KInt, KFloat, KString, KKeyword, KSymbol, KBool, KNil:
		return Str(Render(v)), nil
	default:
		return Nil, rtfserrors.Newf("coerce.ToString", rtfserrors.KindTypeError,
			"cannot coerce complex value of kind %s to String", v.Kind)
	}
}

// CoerceForAnnotation applies a `def`/`let` type annotation (spec.md
// §4.2.5 / §6.1, e.g. `(def x :float 100)`).
func CoerceForAnnotation(annotation string, v Value) (Value, error) {
	switch annotation {
	case "", "any":
		return v, nil
	case "float":
		return CoerceToFloat(v)
	case "int":
		return CoerceToInt(v)
	case "string":
		return CoerceToString(v)
	case "bool":
		if v.Kind != KBool {
			return Nil, rtfserrors.Newf("coerce.ForAnnotation", rtfserrors.KindTypeError,
				"cannot coerce %s to Bool", v.Kind)
		}
		return v, nil
	default:
		// Unknown annotations are accepted as-is; structural validation of
		// capability schemas (marketplace.TypeExpr) is a separate, richer
		// concern and does not live in the evaluator's simple annotation path.
		return v, nil
	}
}

// PromoteNumeric implements "built-in numeric operations mix Int/Float
// (result promoted to Float)" (spec.md §4.2.5).
func PromoteNumeric(a, b Value) (Value, Value, bool, error) {
	if a.Kind == KInt && b.Kind == KInt {
		return a, b, false, nil
	}
	if (a.Kind == KInt || a.Kind == KFloat) && (b.Kind == KInt || b.Kind == KFloat) {
		af, err := CoerceToFloat(a)
		if err != nil {
			return Nil, Nil, false, err
		}
		bf, err := CoerceToFloat(b)
		if err != nil {
			return Nil, Nil, false, err
		}
		return af, bf, true, nil
	}
	return Nil, Nil, false, rtfserrors.Newf("coerce.PromoteNumeric", rtfserrors.KindTypeError,
		"expected numeric operands, got %s and %s", a.Kind, b.Kind)
}
