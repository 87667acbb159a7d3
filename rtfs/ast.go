package rtfs

import "github.com/ccos-run/ccos/pkg/rtfserrors"

// ExprKind discriminates the RTFS AST node variants (spec.md §3.1). The
// RTFS parser itself is out of scope (spec.md §1); hosts and tests build
// Expression trees directly, matching the "assume an AST of this shape"
// instruction.
type ExprKind int

const (
	EKLiteral ExprKind = iota
	EKSymbol
	EKVector
	EKMap
	EKSet
	EKCall
	EKIf
	EKDo
	EKLet
	EKFn
	EKDefn
	EKDef
	EKMatch
	EKTryCatch
	EKStep
	EKStepParallel
	EKDiscoverAgents
	EKLogStep
	EKContextAccess
)

// Binding is one `[pattern expr]` pair inside a `let` form.
type Binding struct {
	Pattern Pattern
	Value   Expression
}

// MatchArm is one arm of a `match` expression.
type MatchArm struct {
	Pattern Pattern
	Guard   *Expression
	Body    []Expression
}

// CatchArm is one arm of a `try/catch`'s catch clause; it pattern-matches
// on the thrown error value's shape (spec.md §4.2.4).
type CatchArm struct {
	Pattern Pattern
	Body    []Expression
}

// Expression is the tagged union AST node. Every node carries an optional
// source location (spec.md §3.1 invariant); evaluator errors reference it
// when present.
type Expression struct {
	Kind ExprKind
	Loc  *rtfserrors.SourceLocation

	Literal Value  // EKLiteral
	Symbol  string // EKSymbol

	Items []Expression // EKVector / EKSet

	MapKeys []Expression // EKMap
	MapVals []Expression // EKMap

	FnExpr *Expression  // EKCall: the callee expression
	Args   []Expression // EKCall

	Cond *Expression // EKIf
	Then *Expression // EKIf
	Else *Expression // EKIf

	Exprs []Expression // EKDo

	Bindings []Binding    // EKLet
	Body     []Expression // EKLet body / EKFn body / EKDefn body

	Params         []Pattern // EKFn / EKDefn
	DelegationHint string    // EKFn optional hint

	Name           string      // EKDefn / EKDef
	TypeAnnotation string      // EKDef, e.g. "float"
	Value_         *Expression // EKDef

	Scrutinee *Expression // EKMatch
	Arms      []MatchArm  // EKMatch

	TryBody   []Expression // EKTryCatch
	CatchArms []CatchArm   // EKTryCatch
	Finally   []Expression // EKTryCatch

	Label    string       // EKStep
	StepBody []Expression // EKStep
	Branches []Expression // EKStepParallel: n isolated bodies (single expr each)

	Criteria map[string]Expression // EKDiscoverAgents

	LogLevel  string       // EKLogStep
	LogValues []Expression // EKLogStep

	ContextKey string // EKContextAccess
}

// Lit builds a literal expression.
func Lit(v Value) Expression { return Expression{Kind: EKLiteral, Literal: v} }

// Sym builds a symbol-reference expression.
func Sym(name string) Expression { return Expression{Kind: EKSymbol, Symbol: name} }

// Call builds a function-call expression.
func Call(fn Expression, args ...Expression) Expression {
	return Expression{Kind: EKCall, FnExpr: &fn, Args: args}
}

// PatternKind discriminates pattern variants used in `match`, `let`
// destructuring and `fn` parameters (spec.md §4.2.2).
type PatternKind int

const (
	PatLiteral PatternKind = iota
	PatWildcard
	PatBinding
	PatVector
	PatMap
)

// Pattern is the tagged union of match/destructure patterns.
type Pattern struct {
	Kind PatternKind

	Literal Value  // PatLiteral
	Name    string // PatBinding: bound symbol name

	Items []Pattern // PatVector: p1..pn
	Rest  *string   // PatVector: & rest binding name, nil if absent

	Keys []string  // PatMap
	Vals []Pattern // PatMap
	As   *string   // PatMap: :as binding name, nil if absent

	Guard *Expression // optional guard, evaluated true/false in the binding scope
}

func Wildcard() Pattern             { return Pattern{Kind: PatWildcard} }
func Bind(name string) Pattern      { return Pattern{Kind: PatBinding, Name: name} }
func LitPattern(v Value) Pattern    { return Pattern{Kind: PatLiteral, Literal: v} }
