package rtfs

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/ccos-run/ccos/pkg/rtfserrors"
)

// Evaluator reduces an Expression in an Env to a Value, a structured
// error, or — at capability/step/context boundaries — a direct call into
// Host (spec.md §4.2, C2).
type Evaluator struct {
	Host Host
}

func New(host Host) *Evaluator {
	return &Evaluator{Host: host}
}

// Eval is the single reduction function for every Expression variant.
func (e *Evaluator) Eval(ctx context.Context, expr Expression, env *Env) (Value, error) {
	switch expr.Kind {
	case EKLiteral:
		return expr.Literal, nil

	case EKSymbol:
		v, found, err := env.Lookup(expr.Symbol)
		if err != nil {
			return Nil, withLoc(err, expr.Loc)
		}
		if !found {
			return Nil, rtfserrors.Newf("eval.Symbol", rtfserrors.KindUndefinedSymbol,
				"undefined symbol %q", expr.Symbol).WithLocation(expr.Loc).WithDetail("symbol", expr.Symbol)
		}
		return v, nil

	case EKVector:
		items := make([]Value, len(expr.Items))
		for i, it := range expr.Items {
			v, err := e.Eval(ctx, it, env)
			if err != nil {
				return Nil, err
			}
			items[i] = v
		}
		return Vector(items...), nil

	case EKSet:
		items := make([]Value, len(expr.Items))
		for i, it := range expr.Items {
			v, err := e.Eval(ctx, it, env)
			if err != nil {
				return Nil, err
			}
			items[i] = v
		}
		set, err := NewSet(items...)
		if err != nil {
			return Nil, rtfserrors.Wrap("eval.Set", rtfserrors.KindTypeError, err).WithLocation(expr.Loc)
		}
		return set, nil

	case EKMap:
		keys := make([]MapKey, len(expr.MapKeys))
		vals := make([]Value, len(expr.MapVals))
		for i := range expr.MapKeys {
			kv, err := e.Eval(ctx, expr.MapKeys[i], env)
			if err != nil {
				return Nil, err
			}
			k, err := ToMapKey(kv)
			if err != nil {
				return Nil, rtfserrors.Wrap("eval.Map", rtfserrors.KindTypeError, err).WithLocation(expr.Loc)
			}
			vv, err := e.Eval(ctx, expr.MapVals[i], env)
			if err != nil {
				return Nil, err
			}
			keys[i] = k
			vals[i] = vv
		}
		return NewMap(keys, vals), nil

	case EKIf:
		cond, err := e.Eval(ctx, *expr.Cond, env)
		if err != nil {
			return Nil, err
		}
		if cond.Truthy() {
			return e.Eval(ctx, *expr.Then, env)
		}
		if expr.Else != nil {
			return e.Eval(ctx, *expr.Else, env)
		}
		return Nil, nil

	case EKDo:
		return e.evalSeq(ctx, expr.Exprs, env)

	case EKLet:
		return e.evalLet(ctx, expr, env)

	case EKFn:
		return FunctionValue(&Function{
			Kind:           FnClosure,
			Params:         expr.Params,
			Body:           expr.Body,
			Env:            env,
			DelegationHint: expr.DelegationHint,
		}), nil

	case EKDefn:
		cell := env.DefinePlaceholder(expr.Name)
		fn := &Function{Kind: FnClosure, Name: expr.Name, Params: expr.Params, Body: expr.Body, Env: env}
		cell.Fill(FunctionValue(fn))
		return Nil, nil

	case EKDef:
		v, err := e.Eval(ctx, *expr.Value_, env)
		if err != nil {
			return Nil, err
		}
		if expr.TypeAnnotation != "" {
			v, err = CoerceForAnnotation(expr.TypeAnnotation, v)
			if err != nil {
				return Nil, withLoc(err, expr.Loc)
			}
		}
		env.Define(expr.Name, v)
		return v, nil

	case EKMatch:
		return e.evalMatch(ctx, expr, env)

	case EKTryCatch:
		return e.evalTryCatch(ctx, expr, env)

	case EKCall:
		return e.evalCall(ctx, expr, env)

	case EKStep:
		return e.evalStep(ctx, expr, env)

	case EKStepParallel:
		return e.evalStepParallel(ctx, expr, env)

	case EKDiscoverAgents:
		return e.evalDiscoverAgents(ctx, expr, env)

	case EKLogStep:
		return e.evalLogStep(ctx, expr, env)

	case EKContextAccess:
		v, _, err := e.Host.GetContext(ctx, expr.ContextKey)
		if err != nil {
			return Nil, rtfserrors.Wrap("eval.ContextAccess", rtfserrors.KindCapabilityYieldError, err).WithLocation(expr.Loc)
		}
		return v, nil

	default:
		return Nil, rtfserrors.Newf("eval.Eval", rtfserrors.KindTypeError, "unknown expression kind %d", expr.Kind).WithLocation(expr.Loc)
	}
}

func withLoc(err error, loc *rtfserrors.SourceLocation) error {
	if re, ok := err.(*rtfserrors.RuntimeError); ok && re.Location == nil {
		re.Location = loc
	}
	return err
}

// evalSeq evaluates expressions in order, returning the last value (`do`
// semantics, also used for function/let/step bodies).
func (e *Evaluator) evalSeq(ctx context.Context, exprs []Expression, env *Env) (Value, error) {
	var result Value
	for _, ex := range exprs {
		v, err := e.Eval(ctx, ex, env)
		if err != nil {
			return Nil, err
		}
		result = v
	}
	return result, nil
}

// evalLet implements the two-pass letrec binding protocol (spec.md §4.2.1).
func (e *Evaluator) evalLet(ctx context.Context, expr Expression, env *Env) (Value, error) {
	letEnv := env.Child()

	// Pass 1: placeholder cells for every pattern's top-level bound names,
	// so bindings can mutually reference each other's (not-yet-computed)
	// values inside function bodies defined in this group.
	type pending struct {
		binding Binding
		names   []string
	}
	pendings := make([]pending, len(expr.Bindings))
	for i, b := range expr.Bindings {
		names := bindingNames(b.Pattern)
		for _, n := range names {
			letEnv.DefinePlaceholder(n)
		}
		pendings[i] = pending{binding: b, names: names}
	}

	// Pass 2: evaluate each initializer in the extended environment and
	// fill the corresponding cells via full pattern destructuring.
	for _, p := range pendings {
		v, err := e.Eval(ctx, p.binding.Value, letEnv)
		if err != nil {
			return Nil, err
		}
		matched, err := e.bindPattern(p.binding.Pattern, v, letEnv)
		if err != nil {
			return Nil, err
		}
		if !matched {
			return Nil, rtfserrors.New("eval.Let", rtfserrors.KindPatternMatchFailed,
				"let binding pattern did not match its initializer value").WithLocation(expr.Loc)
		}
	}

	return e.evalSeq(ctx, expr.Body, letEnv)
}

// bindingNames collects every symbol a pattern would bind, used to
// pre-seed letrec placeholders.
func bindingNames(p Pattern) []string {
	var names []string
	switch p.Kind {
	case PatBinding:
		names = append(names, p.Name)
	case PatVector:
		for _, it := range p.Items {
			names = append(names, bindingNames(it)...)
		}
		if p.Rest != nil {
			names = append(names, *p.Rest)
		}
	case PatMap:
		for _, v := range p.Vals {
			names = append(names, bindingNames(v)...)
		}
		if p.As != nil {
			names = append(names, *p.As)
		}
	}
	return names
}

// bindPattern destructures val against p, defining bound names directly
// (overwriting the letrec placeholders created for those names) in env.
// Returns false (no error) on a structural mismatch so callers can decide
// whether that is a hard failure (let) or a fallthrough (match).
func (e *Evaluator) bindPattern(p Pattern, val Value, env *Env) (bool, error) {
	switch p.Kind {
	case PatWildcard:
		return true, nil

	case PatLiteral:
		return Equal(p.Literal, val), nil

	case PatBinding:
		env.Define(p.Name, val)
		return true, nil

	case PatVector:
		if val.Kind != KVector {
			return false, nil
		}
		if len(val.Vec) < len(p.Items) {
			return false, nil
		}
		for i, sub := range p.Items {
			ok, err := e.bindPattern(sub, val.Vec[i], env)
			if err != nil || !ok {
				return ok, err
			}
		}
		if p.Rest != nil {
			env.Define(*p.Rest, Vector(val.Vec[len(p.Items):]...))
		} else if len(val.Vec) != len(p.Items) {
			return false, nil
		}
		return true, nil

	case PatMap:
		if val.Kind != KMap {
			return false, nil
		}
		for i, key := range p.Keys {
			v, ok := val.MapGet(key)
			if !ok {
				return false, nil
			}
			matched, err := e.bindPattern(p.Vals[i], v, env)
			if err != nil || !matched {
				return matched, err
			}
		}
		if p.As != nil {
			env.Define(*p.As, val)
		}
		return true, nil

	default:
		return false, rtfserrors.New("eval.bindPattern", rtfserrors.KindTypeError, "unknown pattern kind")
	}
}

// evalMatch implements `match` with literal/wildcard/binding/vector/map
// patterns, guards and first-arm-wins tie-break (spec.md §4.2.2).
func (e *Evaluator) evalMatch(ctx context.Context, expr Expression, env *Env) (Value, error) {
	scrutinee, err := e.Eval(ctx, *expr.Scrutinee, env)
	if err != nil {
		return Nil, err
	}
	for _, arm := range expr.Arms {
		armEnv := env.Child()
		matched, err := e.bindPattern(arm.Pattern, scrutinee, armEnv)
		if err != nil {
			return Nil, err
		}
		if !matched {
			continue
		}
		if arm.Guard != nil {
			g, err := e.Eval(ctx, *arm.Guard, armEnv)
			if err != nil {
				return Nil, err
			}
			if !g.Truthy() {
				continue
			}
		}
		return e.evalSeq(ctx, arm.Body, armEnv)
	}
	return Nil, rtfserrors.New("eval.Match", rtfserrors.KindPatternMatchFailed,
		"no match arm matched the scrutinee value").WithLocation(expr.Loc)
}

// evalTryCatch implements try/catch/finally (spec.md §4.2.4): catch arms
// pattern-match on the error value's shape; finally always runs.
func (e *Evaluator) evalTryCatch(ctx context.Context, expr Expression, env *Env) (result Value, outErr error) {
	if len(expr.Finally) > 0 {
		defer func() {
			// finally runs on all exits and can itself fail or overwrite
			// the outcome, matching the propagation policy of spec.md §7.
			if _, ferr := e.evalSeq(ctx, expr.Finally, env.Child()); ferr != nil {
				outErr = ferr
			}
		}()
	}

	val, err := e.evalSeq(ctx, expr.TryBody, env.Child())
	if err == nil {
		return val, nil
	}

	errValue := errorToValue(err)
	for _, arm := range expr.CatchArms {
		catchEnv := env.Child()
		matched, merr := e.bindPattern(arm.Pattern, errValue, catchEnv)
		if merr != nil {
			return Nil, merr
		}
		if matched {
			v, cerr := e.evalSeq(ctx, arm.Body, catchEnv)
			return v, cerr
		}
	}
	return Nil, err
}

// errorToValue renders a RuntimeError (or a raw UserError payload) into an
// RTFS map value so catch-arm patterns can destructure it, per spec.md
// §4.2.4 ("try/catch arms pattern-match on error value maps").
func errorToValue(err error) Value {
	re, ok := err.(*rtfserrors.RuntimeError)
	if !ok {
		return NewMap(
			[]MapKey{{Kind: KKeyword, Str: "kind"}, {Kind: KKeyword, Str: "message"}},
			[]Value{Keyword("Error"), Str(err.Error())},
		)
	}
	if re.Kind == rtfserrors.KindUserError {
		if v, ok := re.Value.(Value); ok {
			return v
		}
	}
	keys := []MapKey{{Kind: KKeyword, Str: "kind"}, {Kind: KKeyword, Str: "message"}}
	vals := []Value{Keyword(string(re.Kind)), Str(re.Message)}
	for k, v := range re.Details {
		keys = append(keys, MapKey{Kind: KKeyword, Str: k})
		vals = append(vals, Str(v))
	}
	return NewMap(keys, vals)
}

// evalCall handles both ordinary function application and the special
// `call`/`step`/`context-get`/`discover-agents`/`log-step` built-in forms
// when invoked via the generic EKCall shape (e.g. `(call :ns.op {...})`
// parsed as a call to the symbol `call`). The dedicated EKStep/EKDiscoverAgents/
// EKLogStep/EKContextAccess node kinds are the primary path; this handles
// the textual `(call ...)` surface form (spec.md §6.2) when it arrives as
// a plain call to a symbol named "call".
func (e *Evaluator) evalCall(ctx context.Context, expr Expression, env *Env) (Value, error) {
	if expr.FnExpr.Kind == EKSymbol && expr.FnExpr.Symbol == "call" {
		return e.evalCapabilityCall(ctx, expr, env)
	}

	fnVal, err := e.Eval(ctx, *expr.FnExpr, env)
	if err != nil {
		return Nil, err
	}
	if fnVal.Kind != KFunction {
		return Nil, rtfserrors.Newf("eval.Call", rtfserrors.KindTypeError,
			"cannot call value of kind %s", fnVal.Kind).WithLocation(expr.Loc)
	}

	args := make([]Value, len(expr.Args))
	for i, a := range expr.Args {
		v, err := e.Eval(ctx, a, env)
		if err != nil {
			return Nil, err
		}
		args[i] = v
	}
	return e.Apply(ctx, fnVal.Fn, args)
}

// Apply invokes a Function value with already-evaluated arguments.
func (e *Evaluator) Apply(ctx context.Context, fn *Function, args []Value) (Value, error) {
	if fn.Kind == FnBuiltIn {
		if fn.Builtin == nil {
			return Nil, rtfserrors.Newf("eval.Apply", rtfserrors.KindArityMismatch, "built-in %s has no implementation", fn.Name)
		}
		if len(args) < int(fn.Arity) {
			return Nil, rtfserrors.Newf("eval.Apply", rtfserrors.KindArityMismatch,
				"%s expects at least %d args, got %d", fn.Name, fn.Arity, len(args))
		}
		return fn.Builtin(args)
	}

	callEnv := fn.Env.Child()
	if err := e.bindParams(fn.Params, args, callEnv, fn.Name); err != nil {
		return Nil, err
	}
	return e.evalSeq(ctx, fn.Body, callEnv)
}

func (e *Evaluator) bindParams(params []Pattern, args []Value, env *Env, fnName string) error {
	// A trailing vector pattern with a Rest binding relaxes the arity check
	// to at least len(params)-1 args; otherwise arity must match exactly.
	// Each supplied arg is matched against the parameter pattern at its own
	// position (so the trailing vector pattern destructures one vector arg),
	// and args beyond len(params) are not bound.
	restIdx := -1
	for i, p := range params {
		if p.Kind == PatVector && p.Rest != nil && i == len(params)-1 {
			restIdx = i
		}
	}
	minArgs := len(params)
	if restIdx >= 0 {
		minArgs--
	}
	if len(args) < minArgs || (restIdx < 0 && len(args) != len(params)) {
		return rtfserrors.Newf("eval.bindParams", rtfserrors.KindArityMismatch,
			"%s expects %d args, got %d", fnName, len(params), len(args))
	}
	for i, p := range params {
		if i >= len(args) {
			break
		}
		matched, err := e.bindPattern(p, args[i], env)
		if err != nil {
			return err
		}
		if !matched {
			return rtfserrors.Newf("eval.bindParams", rtfserrors.KindPatternMatchFailed,
				"%s: argument %d did not match its parameter pattern", fnName, i)
		}
	}
	return nil
}

// evalCapabilityCall implements `(call :ns.sub.name arg-map)` /
// `(call "ns.sub.name" arg-map)` (spec.md §6.2): both keyword and string
// forms are accepted; positional args are convenience sugar for
// `{:$args [a b c]}`.
func (e *Evaluator) evalCapabilityCall(ctx context.Context, expr Expression, env *Env) (Value, error) {
	if len(expr.Args) < 1 {
		return Nil, rtfserrors.New("eval.Call", rtfserrors.KindArityMismatch, "call requires a capability id").WithLocation(expr.Loc)
	}
	idVal, err := e.Eval(ctx, expr.Args[0], env)
	if err != nil {
		return Nil, err
	}
	var id string
	switch idVal.Kind {
	case KKeyword, KString, KSymbol:
		id = idVal.Str
	default:
		return Nil, rtfserrors.Newf("eval.Call", rtfserrors.KindTypeError,
			"capability id must be a keyword or string, got %s", idVal.Kind).WithLocation(expr.Loc)
	}

	var argsVal Value
	if len(expr.Args) == 2 {
		argsVal, err = e.Eval(ctx, expr.Args[1], env)
		if err != nil {
			return Nil, err
		}
		if argsVal.Kind != KMap {
			return Nil, rtfserrors.New("eval.Call", rtfserrors.KindTypeError, "call arguments must be a map").WithLocation(expr.Loc)
		}
	} else {
		positional := make([]Value, 0, len(expr.Args)-1)
		for _, a := range expr.Args[1:] {
			v, err := e.Eval(ctx, a, env)
			if err != nil {
				return Nil, err
			}
			positional = append(positional, v)
		}
		argsVal = NewMap([]MapKey{{Kind: KKeyword, Str: "$args"}}, []Value{Vector(positional...)})
	}

	v, err := e.Host.ResolveCapability(ctx, id, argsVal)
	if err != nil {
		return Nil, withLoc(asRuntimeError(err), expr.Loc)
	}
	return v, nil
}

func asRuntimeError(err error) error {
	if _, ok := err.(*rtfserrors.RuntimeError); ok {
		return err
	}
	return rtfserrors.Wrap("eval.Call", rtfserrors.KindCapabilityYieldError, err)
}

// evalStep implements `(step label body)` (spec.md §4.2.3, §6's Step type):
// StepStart/StepEnd are recorded around the body's evaluation.
func (e *Evaluator) evalStep(ctx context.Context, expr Expression, env *Env) (Value, error) {
	stepID, err := e.Host.RecordStepStart(ctx, expr.Label)
	if err != nil {
		return Nil, rtfserrors.Wrap("eval.Step", rtfserrors.KindCapabilityYieldError, err).WithLocation(expr.Loc)
	}
	v, bodyErr := e.evalSeq(ctx, expr.StepBody, env.Child())
	outcome := StepOutcome{Success: bodyErr == nil, Result: v, Err: bodyErr}
	if endErr := e.Host.RecordStepEnd(ctx, stepID, outcome); endErr != nil && bodyErr == nil {
		return Nil, rtfserrors.Wrap("eval.Step", rtfserrors.KindCapabilityYieldError, endErr).WithLocation(expr.Loc)
	}
	return v, bodyErr
}

// evalStepParallel implements `(step-parallel branch1 branch2 ...)` (spec.md
// §5.1): each branch runs in its own isolated execution-context frame,
// concurrently, and the results join into a vector in branch order. A
// failure in any branch cancels the remaining ones via errgroup's shared
// context and the first error is returned (spec.md §5's fail-fast policy
// for step-parallel, generalized from the teacher's errgroup-based
// concurrent-dispatch idiom).
func (e *Evaluator) evalStepParallel(ctx context.Context, expr Expression, env *Env) (Value, error) {
	results := make([]Value, len(expr.Branches))
	g, gctx := errgroup.WithContext(ctx)
	for i, branch := range expr.Branches {
		i, branch := i, branch
		g.Go(func() error {
			frame, err := e.Host.EnterParallel(gctx, i)
			if err != nil {
				return rtfserrors.Wrap("eval.StepParallel", rtfserrors.KindCapabilityYieldError, err).WithLocation(expr.Loc)
			}
			branchEnv := env.Child()
			v, bodyErr := e.Eval(gctx, branch, branchEnv)
			outcome := StepOutcome{Success: bodyErr == nil, Result: v, Err: bodyErr}
			if exitErr := e.Host.ExitParallel(gctx, frame, outcome); exitErr != nil && bodyErr == nil {
				return rtfserrors.Wrap("eval.StepParallel", rtfserrors.KindCapabilityYieldError, exitErr).WithLocation(expr.Loc)
			}
			if bodyErr != nil {
				return bodyErr
			}
			results[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Nil, err
	}
	return Vector(results...), nil
}

// evalLogStep implements `(log-step level values...)`.
func (e *Evaluator) evalLogStep(ctx context.Context, expr Expression, env *Env) (Value, error) {
	values := make([]Value, len(expr.LogValues))
	for i, lv := range expr.LogValues {
		v, err := e.Eval(ctx, lv, env)
		if err != nil {
			return Nil, err
		}
		values[i] = v
	}
	e.Host.LogStep(ctx, expr.LogLevel, values)
	return Nil, nil
}

// evalDiscoverAgents implements `(discover-agents criteria-map)`.
func (e *Evaluator) evalDiscoverAgents(ctx context.Context, expr Expression, env *Env) (Value, error) {
	keys := make([]MapKey, 0, len(expr.Criteria))
	vals := make([]Value, 0, len(expr.Criteria))
	for k, ce := range expr.Criteria {
		v, err := e.Eval(ctx, ce, env)
		if err != nil {
			return Nil, err
		}
		keys = append(keys, MapKey{Kind: KKeyword, Str: k})
		vals = append(vals, v)
	}
	criteria := NewMap(keys, vals)
	result, err := e.Host.DiscoverAgents(ctx, criteria)
	if err != nil {
		return Nil, rtfserrors.Wrap("eval.DiscoverAgents", rtfserrors.KindCapabilityYieldError, err).WithLocation(expr.Loc)
	}
	return result, nil
}
