package rtfs

import (
	"fmt"
	"strings"

	"github.com/ccos-run/ccos/pkg/logger"
	"github.com/ccos-run/ccos/pkg/rtfserrors"
)

// StandardEnv builds a root environment pre-populated with the built-in
// functions every RTFS program can call without an explicit `call` to a
// marketplace capability (spec.md §4.2.5's numeric/string/collection
// operation set, plus `throw` for user errors per §4.2.4).
func StandardEnv(log logger.Logger) *Env {
	env := NewRootEnv(log)
	for name, impl := range builtinTable() {
		env.Define(name, FunctionValue(&Function{Kind: FnBuiltIn, Name: name, Builtin: impl}))
	}
	return env
}

func builtinTable() map[string]BuiltinImpl {
	return map[string]BuiltinImpl{
		"+":        arith("+", func(a, b float64) float64 { return a + b }, func(a, b int64) int64 { return a + b }),
		"-":        arith("-", func(a, b float64) float64 { return a - b }, func(a, b int64) int64 { return a - b }),
		"*":        arith("*", func(a, b float64) float64 { return a * b }, func(a, b int64) int64 { return a * b }),
		"/":        divide,
		"mod":      modBuiltin,
		"=":        func(args []Value) (Value, error) { return cmpAll(args, func(c int) bool { return c == 0 }, true) },
		"not=": func(args []Value) (Value, error) {
			eq, err := cmpAll(args, func(c int) bool { return c == 0 }, false)
			if err != nil {
				return Nil, err
			}
			return Bool(!eq.Bool), nil
		},
		"<":        func(args []Value) (Value, error) { return cmpAll(args, func(c int) bool { return c < 0 }, true) },
		"<=":       func(args []Value) (Value, error) { return cmpAll(args, func(c int) bool { return c <= 0 }, true) },
		">":        func(args []Value) (Value, error) { return cmpAll(args, func(c int) bool { return c > 0 }, true) },
		">=":       func(args []Value) (Value, error) { return cmpAll(args, func(c int) bool { return c >= 0 }, true) },
		"not":      notBuiltin,
		"and":      andBuiltin,
		"or":       orBuiltin,
		"str":      strBuiltin,
		"count":    countBuiltin,
		"first":    firstBuiltin,
		"rest":     restBuiltin,
		"conj":     conjBuiltin,
		"get":      getBuiltin,
		"nth":      nthBuiltin,
		"vector":   func(args []Value) (Value, error) { return Vector(args...), nil },
		"throw":    throwBuiltin,
	}
}

func arith(op string, ffn func(a, b float64) float64, ifn func(a, b int64) int64) BuiltinImpl {
	return func(args []Value) (Value, error) {
		if len(args) == 0 {
			return Nil, rtfserrors.Newf("builtin."+op, rtfserrors.KindArityMismatch, "%s requires at least 1 argument", op)
		}
		acc := args[0]
		if acc.Kind != KInt && acc.Kind != KFloat {
			return Nil, rtfserrors.Newf("builtin."+op, rtfserrors.KindTypeError, "%s: non-numeric operand %s", op, acc.Kind)
		}
		for _, next := range args[1:] {
			a, b, isFloat, err := PromoteNumeric(acc, next)
			if err != nil {
				return Nil, rtfserrors.Wrap("builtin."+op, rtfserrors.KindTypeError, err)
			}
			if isFloat {
				acc = Float(ffn(a.Float, b.Float))
			} else {
				acc = Int(ifn(a.Int, b.Int))
			}
		}
		return acc, nil
	}
}

func divide(args []Value) (Value, error) {
	if len(args) < 2 {
		return Nil, rtfserrors.New("builtin./", rtfserrors.KindArityMismatch, "/ requires at least 2 arguments")
	}
	acc := args[0]
	for _, next := range args[1:] {
		a, b, _, err := PromoteNumeric(acc, next)
		if err != nil {
			return Nil, rtfserrors.Wrap("builtin./", rtfserrors.KindTypeError, err)
		}
		af, _ := CoerceToFloat(a)
		bf, _ := CoerceToFloat(b)
		if bf.Float == 0 {
			return Nil, rtfserrors.New("builtin./", rtfserrors.KindDivisionByZero, "division by zero")
		}
		acc = Float(af.Float / bf.Float)
	}
	return acc, nil
}

func modBuiltin(args []Value) (Value, error) {
	if len(args) != 2 || args[0].Kind != KInt || args[1].Kind != KInt {
		return Nil, rtfserrors.New("builtin.mod", rtfserrors.KindTypeError, "mod requires two Int arguments")
	}
	if args[1].Int == 0 {
		return Nil, rtfserrors.New("builtin.mod", rtfserrors.KindDivisionByZero, "division by zero")
	}
	return Int(args[0].Int % args[1].Int), nil
}

// compare returns -1/0/1 for ordered scalar values; used by the relational
// built-ins (spec.md §4.2.5).
func compare(a, b Value) (int, error) {
	if (a.Kind == KInt || a.Kind == KFloat) && (b.Kind == KInt || b.Kind == KFloat) {
		af, _ := CoerceToFloat(a)
		bf, _ := CoerceToFloat(b)
		switch {
		case af.Float < bf.Float:
			return -1, nil
		case af.Float > bf.Float:
			return 1, nil
		default:
			return 0, nil
		}
	}
	if a.Kind == KString && b.Kind == KString {
		return strings.Compare(a.Str, b.Str), nil
	}
	if Equal(a, b) {
		return 0, nil
	}
	return 0, rtfserrors.Newf("builtin.compare", rtfserrors.KindTypeError, "cannot order %s and %s", a.Kind, b.Kind)
}

func cmpAll(args []Value, pred func(c int) bool, requireOrdered bool) (Value, error) {
	if len(args) < 2 {
		return Nil, rtfserrors.New("builtin.compare", rtfserrors.KindArityMismatch, "comparison requires at least 2 arguments")
	}
	for i := 0; i+1 < len(args); i++ {
		var c int
		var err error
		if requireOrdered {
			c, err = compare(args[i], args[i+1])
			if err != nil {
				return Nil, err
			}
		} else {
			if Equal(args[i], args[i+1]) {
				c = 0
			} else {
				c = 1
			}
		}
		if !pred(c) {
			return Bool(false), nil
		}
	}
	return Bool(true), nil
}

func notBuiltin(args []Value) (Value, error) {
	if len(args) != 1 {
		return Nil, rtfserrors.New("builtin.not", rtfserrors.KindArityMismatch, "not requires exactly 1 argument")
	}
	return Bool(!args[0].Truthy()), nil
}

func andBuiltin(args []Value) (Value, error) {
	for _, a := range args {
		if !a.Truthy() {
			return Bool(false), nil
		}
	}
	return Bool(true), nil
}

func orBuiltin(args []Value) (Value, error) {
	for _, a := range args {
		if a.Truthy() {
			return Bool(true), nil
		}
	}
	return Bool(false), nil
}

func strBuiltin(args []Value) (Value, error) {
	var sb strings.Builder
	for _, a := range args {
		if a.Kind == KString {
			sb.WriteString(a.Str)
		} else {
			sb.WriteString(Render(a))
		}
	}
	return Str(sb.String()), nil
}

func countBuiltin(args []Value) (Value, error) {
	if len(args) != 1 {
		return Nil, rtfserrors.New("builtin.count", rtfserrors.KindArityMismatch, "count requires exactly 1 argument")
	}
	switch args[0].Kind {
	case KVector:
		return Int(int64(len(args[0].Vec))), nil
	case KMap:
		return Int(int64(len(args[0].Map))), nil
	case KSet:
		return Int(int64(len(args[0].Set))), nil
	case KString:
		return Int(int64(len(args[0].Str))), nil
	case KNil:
		return Int(0), nil
	default:
		return Nil, rtfserrors.Newf("builtin.count", rtfserrors.KindTypeError, "cannot count %s", args[0].Kind)
	}
}

func firstBuiltin(args []Value) (Value, error) {
	if len(args) != 1 || args[0].Kind != KVector {
		return Nil, rtfserrors.New("builtin.first", rtfserrors.KindTypeError, "first requires a Vector")
	}
	if len(args[0].Vec) == 0 {
		return Nil, nil
	}
	return args[0].Vec[0], nil
}

func restBuiltin(args []Value) (Value, error) {
	if len(args) != 1 || args[0].Kind != KVector {
		return Nil, rtfserrors.New("builtin.rest", rtfserrors.KindTypeError, "rest requires a Vector")
	}
	if len(args[0].Vec) == 0 {
		return Vector(), nil
	}
	return Vector(args[0].Vec[1:]...), nil
}

func conjBuiltin(args []Value) (Value, error) {
	if len(args) < 1 || args[0].Kind != KVector {
		return Nil, rtfserrors.New("builtin.conj", rtfserrors.KindTypeError, "conj requires a Vector as its first argument")
	}
	out := append([]Value(nil), args[0].Vec...)
	out = append(out, args[1:]...)
	return Vector(out...), nil
}

func getBuiltin(args []Value) (Value, error) {
	if len(args) < 2 {
		return Nil, rtfserrors.New("builtin.get", rtfserrors.KindArityMismatch, "get requires at least 2 arguments")
	}
	coll, key := args[0], args[1]
	switch coll.Kind {
	case KMap:
		k, err := ToMapKey(key)
		if err != nil {
			return fallback(args), nil
		}
		if v, ok := coll.Map[k]; ok {
			return v, nil
		}
		return fallback(args), nil
	case KVector:
		if key.Kind != KInt || key.Int < 0 || int(key.Int) >= len(coll.Vec) {
			return fallback(args), nil
		}
		return coll.Vec[key.Int], nil
	default:
		return Nil, rtfserrors.Newf("builtin.get", rtfserrors.KindTypeError, "get requires a Map or Vector, got %s", coll.Kind)
	}
}

func fallback(args []Value) Value {
	if len(args) >= 3 {
		return args[2]
	}
	return Nil
}

func nthBuiltin(args []Value) (Value, error) {
	if len(args) != 2 || args[0].Kind != KVector || args[1].Kind != KInt {
		return Nil, rtfserrors.New("builtin.nth", rtfserrors.KindTypeError, "nth requires a Vector and an Int index")
	}
	idx := args[1].Int
	if idx < 0 || int(idx) >= len(args[0].Vec) {
		return Nil, rtfserrors.Newf("builtin.nth", rtfserrors.KindTypeError, "index %d out of bounds", idx)
	}
	return args[0].Vec[idx], nil
}

// throwBuiltin implements `(throw value)`, raising value as a catchable
// user error (spec.md §4.2.4): `try/catch` pattern-matches on it via
// errorToValue, which unwraps the original Value unchanged.
func throwBuiltin(args []Value) (Value, error) {
	if len(args) != 1 {
		return Nil, rtfserrors.New("builtin.throw", rtfserrors.KindArityMismatch, "throw requires exactly 1 argument")
	}
	return Nil, rtfserrors.New("builtin.throw", rtfserrors.KindUserError, fmt.Sprintf("user error: %s", Render(args[0]))).
		WithValue(args[0])
}
