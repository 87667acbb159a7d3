package rtfs

import (
	"sync"

	"github.com/ccos-run/ccos/pkg/logger"
	"github.com/ccos-run/ccos/pkg/rtfserrors"
)

// Env is a lexical environment: a map of symbol -> *Cell with a parent
// pointer. Lookup walks the chain. Adapted from the mutex-guarded map
// idiom in the teacher's core.MemoryStore, generalized from a TTL cache
// to a symbol table (DESIGN.md).
type Env struct {
	mu     sync.RWMutex
	vars   map[string]*Cell
	parent *Env
	logger logger.Logger
}

// NewRootEnv creates an empty root environment.
func NewRootEnv(log logger.Logger) *Env {
	if log == nil {
		log = logger.NoOpLogger{}
	}
	return &Env{vars: make(map[string]*Cell), logger: log.WithComponent("ccos/rtfs/env")}
}

// Child creates a new empty frame with this environment as parent.
func (e *Env) Child() *Env {
	return &Env{vars: make(map[string]*Cell), parent: e, logger: e.logger}
}

// Define binds sym to val in the current frame. Shadowing is allowed.
func (e *Env) Define(sym string, val Value) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vars[sym] = &Cell{Filled: true, Value: val}
}

// DefinePlaceholder binds sym to a fresh, unfilled cell and returns it so
// the caller can fill it once the initializer has been evaluated
// (letrec pass 1, spec.md §4.2.1).
func (e *Env) DefinePlaceholder(sym string) *Cell {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := NewCell()
	e.vars[sym] = c
	return c
}

// LookupCell walks the chain and returns the binding cell for sym, or nil
// if unbound.
func (e *Env) LookupCell(sym string) *Cell {
	for env := e; env != nil; env = env.parent {
		env.mu.RLock()
		c, ok := env.vars[sym]
		env.mu.RUnlock()
		if ok {
			return c
		}
	}
	return nil
}

// Lookup resolves sym to a Value, erroring if unbound or if the binding's
// cell has not yet been filled (mutual-recursion initializer ordering).
func (e *Env) Lookup(sym string) (Value, bool, error) {
	c := e.LookupCell(sym)
	if c == nil {
		return Nil, false, nil
	}
	if !c.Filled {
		return Nil, true, rtfserrors.Newf("env.Lookup", rtfserrors.KindRecursiveUseBeforeInit,
			"symbol %q used before its letrec initializer completed", sym).WithDetail("symbol", sym)
	}
	return c.Value, true, nil
}
