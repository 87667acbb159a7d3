package rtfs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccos-run/ccos/pkg/rtfserrors"
)

func newTestEvaluator() (*Evaluator, *Env) {
	host := &NoOpHost{}
	return New(host), StandardEnv(nil)
}

// TestEvalDeterminism covers the evaluator determinism invariant: the same
// expression evaluated twice in equivalent environments produces equal
// values (spec.md §8.1 invariant 1).
func TestEvalDeterminism(t *testing.T) {
	e, env := newTestEvaluator()
	expr := Call(Sym("+"), Lit(Int(1)), Call(Sym("*"), Lit(Int(2)), Lit(Int(3))))

	v1, err := e.Eval(context.Background(), expr, env.Child())
	require.NoError(t, err)
	v2, err := e.Eval(context.Background(), expr, env.Child())
	require.NoError(t, err)

	assert.True(t, Equal(v1, v2))
	assert.Equal(t, int64(7), v1.Int)
}

// TestLetrecFactorial is Scenario A (spec.md §8.2): a factorial defined via
// letrec-style mutual self-reference inside a single `let` binding group
// must compute correctly (spec.md §8.1 invariant 2). The use-before-init
// half of that invariant is checked by TestRecursiveUseBeforeInit.
func TestLetrecFactorial(t *testing.T) {
	e, env := newTestEvaluator()

	// (let [fact (fn [n] (if (<= n 1) 1 (* n (fact (- n 1)))))] (fact 5))
	factBody := Expression{
		Kind: EKIf,
		Cond: ptr(Call(Sym("<="), Sym("n"), Lit(Int(1)))),
		Then: ptr(Lit(Int(1))),
		Else: ptr(Call(Sym("*"), Sym("n"), Call(Sym("fact"), Call(Sym("-"), Sym("n"), Lit(Int(1)))))),
	}
	fact := Expression{Kind: EKFn, Params: []Pattern{Bind("n")}, Body: []Expression{factBody}}

	letExpr := Expression{
		Kind:     EKLet,
		Bindings: []Binding{{Pattern: Bind("fact"), Value: fact}},
		Body:     []Expression{Call(Sym("fact"), Lit(Int(5)))},
	}

	v, err := e.Eval(context.Background(), letExpr, env)
	require.NoError(t, err)
	assert.Equal(t, int64(120), v.Int)
}

func TestRecursiveUseBeforeInit(t *testing.T) {
	e, env := newTestEvaluator()

	// (let [x (+ x 1)] x) -- x used in its own initializer before the cell
	// is filled.
	letExpr := Expression{
		Kind:     EKLet,
		Bindings: []Binding{{Pattern: Bind("x"), Value: Call(Sym("+"), Sym("x"), Lit(Int(1)))}},
		Body:     []Expression{Sym("x")},
	}

	_, err := e.Eval(context.Background(), letExpr, env)
	require.Error(t, err)
	kind, ok := rtfserrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, rtfserrors.KindRecursiveUseBeforeInit, kind)
}

// TestMatchExhaustiveness covers pattern-match semantics (spec.md §8.1
// invariant 3): first-arm-wins, vector destructuring with rest, and a
// final wildcard catching everything else.
func TestMatchExhaustiveness(t *testing.T) {
	e, env := newTestEvaluator()

	matchExpr := Expression{
		Kind:      EKMatch,
		Scrutinee: ptr(Lit(Vector(Int(1), Int(2), Int(3)))),
		Arms: []MatchArm{
			{
				Pattern: Pattern{Kind: PatVector, Items: []Pattern{Bind("head")}, Rest: strPtr("tail")},
				Body:    []Expression{Sym("head")},
			},
			{Pattern: Wildcard(), Body: []Expression{Lit(Int(-1))}},
		},
	}

	v, err := e.Eval(context.Background(), matchExpr, env)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.Int)
}

func TestMatchNoArmMatches(t *testing.T) {
	e, env := newTestEvaluator()

	matchExpr := Expression{
		Kind:      EKMatch,
		Scrutinee: ptr(Lit(Int(5))),
		Arms: []MatchArm{
			{Pattern: LitPattern(Int(1)), Body: []Expression{Lit(Int(100))}},
		},
	}

	_, err := e.Eval(context.Background(), matchExpr, env)
	require.Error(t, err)
	kind, ok := rtfserrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, rtfserrors.KindPatternMatchFailed, kind)
}

func TestTryCatchBindsThrownValue(t *testing.T) {
	e, env := newTestEvaluator()

	tryExpr := Expression{
		Kind:    EKTryCatch,
		TryBody: []Expression{Call(Sym("throw"), Lit(Keyword("boom")))},
		CatchArms: []CatchArm{
			{Pattern: Bind("err"), Body: []Expression{Sym("err")}},
		},
	}

	v, err := e.Eval(context.Background(), tryExpr, env)
	require.NoError(t, err)
	assert.Equal(t, "boom", v.Str)
	assert.Equal(t, KKeyword, v.Kind)
}

func TestStepParallelJoinsInOrder(t *testing.T) {
	e, env := newTestEvaluator()

	expr := Expression{
		Kind: EKStepParallel,
		Branches: []Expression{
			Lit(Int(1)),
			Lit(Int(2)),
			Lit(Int(3)),
		},
	}

	v, err := e.Eval(context.Background(), expr, env)
	require.NoError(t, err)
	require.Equal(t, KVector, v.Kind)
	require.Len(t, v.Vec, 3)
	assert.Equal(t, int64(1), v.Vec[0].Int)
	assert.Equal(t, int64(2), v.Vec[1].Int)
	assert.Equal(t, int64(3), v.Vec[2].Int)
}

func ptr(e Expression) *Expression { return &e }
func strPtr(s string) *string      { return &s }
