package governance

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"

	"github.com/ccos-run/ccos/pkg/rtfserrors"
)

// Violation is one constitutional rule breach found for a plan.
type Violation struct {
	PlanID       string
	CapabilityID string
	Reason       string
}

// Constitution compiles a set of declarative Datalog rules ("no capability
// in namespace dangerous.* without explicit approval", spec.md §4.7 step 3)
// and evaluates them against the facts a plan's capability-call sites
// assert. Grounded on theRebelliousNerd-codenerd's internal/mangle.Engine,
// generalized from a code-graph knowledge base (files/symbols/dependencies)
// to a governance fact base (plans/capabilities/namespaces/approvals); the
// predicate-declaration + AnalyzeOneUnit + EvalProgramWithStats pipeline is
// unchanged.
type Constitution struct {
	mu sync.Mutex

	schemaSource string
	programInfo  *analysis.ProgramInfo
	predicates   map[string]ast.PredicateSym

	store     factstore.ConcurrentFactStore
	baseStore factstore.FactStoreWithRemove
}

// baseSchema declares the governance predicates every constitution rule
// builds on: a plan's capability calls, which namespaces are dangerous,
// which capability calls were approved, and the derived violation facts
// rules conclude into.
const baseSchema = `
Decl plan_capability_call(PlanId, CapId, Namespace)
  descr [mode("+", "+", "+")].

Decl dangerous_namespace(Namespace)
  descr [mode("+")].

Decl capability_approved(PlanId, CapId)
  descr [mode("+", "+")].

Decl violation(PlanId, CapId, Reason)
  descr [mode("+", "+", "+")].
`

// DefaultConstitutionRules is the baseline rule spec.md §4.7 names as the
// example ("no capability in namespace dangerous.* without explicit
// approval"): any capability call into a dangerous namespace that was not
// separately approved is a violation.
const DefaultConstitutionRules = `
violation(PlanId, CapId, "dangerous namespace without approval") :-
  plan_capability_call(PlanId, CapId, Namespace),
  dangerous_namespace(Namespace),
  !capability_approved(PlanId, CapId).
`

// LoadConstitution compiles baseSchema plus the caller-supplied rule
// source (additional declarative rules layered on top of
// DefaultConstitutionRules, or a full replacement — callers decide by what
// they pass).
func LoadConstitution(ruleSource string) (*Constitution, error) {
	c := &Constitution{}
	full := baseSchema + "\n" + ruleSource
	if err := c.compile(full); err != nil {
		return nil, err
	}
	c.resetStore()
	return c, nil
}

// DefaultConstitution loads just the baseline dangerous-namespace rule.
func DefaultConstitution() (*Constitution, error) {
	return LoadConstitution(DefaultConstitutionRules)
}

func (c *Constitution) compile(source string) error {
	unit, err := parse.Unit(bytes.NewReader([]byte(source)))
	if err != nil {
		return rtfserrors.Wrap("governance.LoadConstitution", rtfserrors.KindConstitutionalViolation, err)
	}
	info, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return rtfserrors.Wrap("governance.LoadConstitution", rtfserrors.KindConstitutionalViolation, err)
	}
	c.schemaSource = source
	c.programInfo = info
	c.predicates = make(map[string]ast.PredicateSym, len(info.Decls))
	for sym := range info.Decls {
		c.predicates[sym.Symbol] = sym
	}
	return nil
}

func (c *Constitution) resetStore() {
	c.baseStore = factstore.NewSimpleInMemoryStore()
	c.store = factstore.NewConcurrentFactStore(c.baseStore)
}

// SetDangerousNamespaces declares which capability namespace prefixes
// require explicit approval.
func (c *Constitution) SetDangerousNamespaces(namespaces []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ns := range namespaces {
		if err := c.addFactLocked("dangerous_namespace", ns); err != nil {
			return err
		}
	}
	return nil
}

// AssertPlanCalls records, for a single plan evaluation, which capability
// ids it statically calls and with what namespace, plus which of those
// calls were already approved by the marketplace's approval gate.
func (c *Constitution) AssertPlanCalls(planID string, sites []CallSite, approved map[string]bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range sites {
		ns := namespaceOf(s.CapabilityID)
		if err := c.addFactLocked("plan_capability_call", planID, s.CapabilityID, ns); err != nil {
			return err
		}
		if approved[s.CapabilityID] {
			if err := c.addFactLocked("capability_approved", planID, s.CapabilityID); err != nil {
				return err
			}
		}
	}
	if _, err := mengine.EvalProgramWithStats(c.programInfo, c.store); err != nil {
		return rtfserrors.Wrap("governance.AssertPlanCalls", rtfserrors.KindConstitutionalViolation, err)
	}
	return nil
}

// Violations returns every violation fact derived for planID.
func (c *Constitution) Violations(planID string) ([]Violation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sym, ok := c.predicates["violation"]
	if !ok {
		return nil, rtfserrors.New("governance.Violations", rtfserrors.KindConstitutionalViolation, "violation predicate not declared")
	}

	var out []Violation
	err := c.store.GetFacts(ast.NewQuery(sym), func(atom ast.Atom) error {
		if len(atom.Args) != 3 {
			return nil
		}
		pid := constAsString(atom.Args[0])
		if pid != planID {
			return nil
		}
		out = append(out, Violation{
			PlanID:       pid,
			CapabilityID: constAsString(atom.Args[1]),
			Reason:       constAsString(atom.Args[2]),
		})
		return nil
	})
	if err != nil {
		return nil, rtfserrors.Wrap("governance.Violations", rtfserrors.KindConstitutionalViolation, err)
	}
	return out, nil
}

func (c *Constitution) addFactLocked(predicate string, args ...string) error {
	sym, ok := c.predicates[predicate]
	if !ok {
		return rtfserrors.Newf("governance.Constitution", rtfserrors.KindConstitutionalViolation, "predicate %q not declared", predicate)
	}
	if len(args) != sym.Arity {
		return rtfserrors.Newf("governance.Constitution", rtfserrors.KindConstitutionalViolation,
			"predicate %q expects %d args, got %d", predicate, sym.Arity, len(args))
	}
	terms := make([]ast.BaseTerm, len(args))
	for i, a := range args {
		terms[i] = ast.String(a)
	}
	c.store.Add(ast.Atom{Predicate: sym, Args: terms})
	return nil
}

func constAsString(term ast.BaseTerm) string {
	c, ok := term.(ast.Constant)
	if !ok {
		return fmt.Sprintf("%v", term)
	}
	return c.Symbol
}

// namespaceOf returns the dot-separated prefix of a capability id up to
// (not including) its last segment, e.g. "dangerous.fs.delete" -> "dangerous.fs".
func namespaceOf(capabilityID string) string {
	idx := strings.LastIndex(capabilityID, ".")
	if idx < 0 {
		return capabilityID
	}
	return capabilityID[:idx]
}
