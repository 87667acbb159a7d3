// Package rtfserrors provides the shared structured-error vocabulary used
// across the evaluator, marketplace, governance kernel, intent graph and
// causal chain. Every package-local error kind wraps into a *RuntimeError
// so callers can errors.Is/errors.As uniformly regardless of which
// component raised it.
package rtfserrors

import (
	"errors"
	"fmt"
)

// Kind is a stable, user-visible error classification label (§7 of the
// spec's error taxonomy).
type Kind string

const (
	KindParseError              Kind = "ParseError"
	KindTypeError               Kind = "TypeError"
	KindArityMismatch           Kind = "ArityMismatch"
	KindUndefinedSymbol         Kind = "UndefinedSymbol"
	KindPatternMatchFailed      Kind = "PatternMatchFailed"
	KindRecursiveUseBeforeInit  Kind = "RecursiveUseBeforeInit"
	KindDivisionByZero          Kind = "DivisionByZero"
	KindUserError               Kind = "UserError"
	KindCapabilityNotFound      Kind = "CapabilityNotFound"
	KindSchemaMismatch          Kind = "SchemaMismatch"
	KindAttestationFailure      Kind = "AttestationFailure"
	KindPermissionDenied        Kind = "PermissionDenied"
	KindTimeout                 Kind = "Timeout"
	KindTransientProviderError  Kind = "TransientProviderError"
	KindConstitutionalViolation Kind = "ConstitutionalViolation"
	KindInvalidTransition       Kind = "InvalidTransition"
	KindLedgerVerificationError Kind = "LedgerVerificationError"
	KindStorageError            Kind = "StorageError"
	KindCapabilityYieldError    Kind = "CapabilityYieldError"
)

// SourceLocation is attached to evaluator errors when the originating AST
// node carried one (§3.1 invariant).
type SourceLocation struct {
	Line   int
	Column int
	File   string
}

func (l *SourceLocation) String() string {
	if l == nil {
		return ""
	}
	if l.File != "" {
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
	}
	return fmt.Sprintf("%d:%d", l.Line, l.Column)
}

// RuntimeError is the structured error type every CCOS package returns.
// It mirrors the teacher's FrameworkError (Op/Kind/Err) merged with its
// ToolError (machine-readable Details for programmatic handling), adapted
// to carry an optional source location and a UserError payload value for
// RTFS `throw`.
type RuntimeError struct {
	Op       string         // operation that failed, e.g. "evaluator.Eval"
	Kind     Kind
	Message  string
	Details  map[string]string
	Location *SourceLocation
	Value    interface{} // populated for KindUserError: the thrown RTFS value
	Err      error
}

func (e *RuntimeError) Error() string {
	loc := e.Location.String()
	switch {
	case e.Op != "" && loc != "":
		return fmt.Sprintf("%s [%s] %s: %s", e.Op, loc, e.Kind, e.Message)
	case e.Op != "":
		return fmt.Sprintf("%s %s: %s", e.Op, e.Kind, e.Message)
	case loc != "":
		return fmt.Sprintf("[%s] %s: %s", loc, e.Kind, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// Is lets errors.Is match on Kind alone: errors.Is(err, &RuntimeError{Kind: KindTimeout})
func (e *RuntimeError) Is(target error) bool {
	t, ok := target.(*RuntimeError)
	if !ok {
		return false
	}
	if t.Kind == "" {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs a RuntimeError of the given kind.
func New(op string, kind Kind, msg string) *RuntimeError {
	return &RuntimeError{Op: op, Kind: kind, Message: msg}
}

// Newf is New with fmt-style formatting.
func Newf(op string, kind Kind, format string, args ...interface{}) *RuntimeError {
	return &RuntimeError{Op: op, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an underlying error under the given kind.
func Wrap(op string, kind Kind, err error) *RuntimeError {
	return &RuntimeError{Op: op, Kind: kind, Message: err.Error(), Err: err}
}

// WithLocation attaches a source location and returns the same error for
// chaining: `return rtfserrors.New(...).WithLocation(loc)`.
func (e *RuntimeError) WithLocation(loc *SourceLocation) *RuntimeError {
	e.Location = loc
	return e
}

// WithValue attaches the raw thrown value (KindUserError) and returns the
// same error for chaining.
func (e *RuntimeError) WithValue(v interface{}) *RuntimeError {
	e.Value = v
	return e
}

// WithDetail attaches a single detail key/value and returns the same error.
func (e *RuntimeError) WithDetail(key, value string) *RuntimeError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// KindOf extracts the Kind from err if it is (or wraps) a *RuntimeError.
func KindOf(err error) (Kind, bool) {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Kind, true
	}
	return "", false
}

// Retryable classifies marketplace errors per spec.md §4.4: network
// errors, timeouts and 5xx are retryable; schema/attestation/unknown
// capability/permission failures are not.
func Retryable(err error) bool {
	k, ok := KindOf(err)
	if !ok {
		return false
	}
	switch k {
	case KindTimeout, KindTransientProviderError:
		return true
	default:
		return false
	}
}

// NonRetryableNotFound reports whether err is a CapabilityNotFound,
// SchemaMismatch, AttestationFailure or PermissionDenied — all
// fatal-on-first-try per §4.4.
func NonRetryableNotFound(err error) bool {
	k, ok := KindOf(err)
	if !ok {
		return false
	}
	switch k {
	case KindCapabilityNotFound, KindSchemaMismatch, KindAttestationFailure, KindPermissionDenied:
		return true
	default:
		return false
	}
}
