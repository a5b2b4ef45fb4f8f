package sberr

import (
	"fmt"
	"runtime/debug"
	"strings"
)

// enableDebugErrorPrinting makes errors include their stacktrace when printed
const enableDebugErrorPrinting bool = true
const enableDebugFullStacktrace bool = false

type ErrCode int

const (
	None         ErrCode = iota
	TypeMismatch ErrCode = iota
	OccursCheck
	LeakEscape
	NoSolution
	Ambiguous
	Overflow
	EscapingBoundVar
)

// Error is the closed set of failures the engine can surface. Every fallible
// operation returns one of the New* variants below; nothing is ever thrown
// except snapshot-discipline violations, which are programming errors.
type Error interface {
	Error() string
	Code() ErrCode

	withStack([]byte) Error
	getStack() []byte
}

func FormatWithCode(e Error) string {
	if enableDebugErrorPrinting && e.getStack() != nil {
		stack := string(e.getStack())
		if !enableDebugFullStacktrace {
			lines := strings.Split(stack, "\n")
			if len(lines) > 6 {
				stack = lines[6]
			}
		}
		return fmt.Sprintf("%s:(E%03d) %s", strings.TrimSpace(stack), e.Code(), e.Error())
	}
	return fmt.Sprintf("(E%03d) %s", e.Code(), e.Error())
}

func New[E Error](err E) Error {
	return err.withStack(debug.Stack())
}

// NewTypeMismatch reports a failed subtype or equality relation between the
// two offending subterms. Expected/Found orientation follows the caller's
// declared side.
type NewTypeMismatch struct {
	Expected string
	Found    string
	Reason   string
	stack    []byte
}

func (e NewTypeMismatch) Code() ErrCode { return TypeMismatch }
func (e NewTypeMismatch) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("type mismatch: expected '%s', found '%s'", e.Expected, e.Found)
	}
	return fmt.Sprintf("type mismatch: expected '%s', found '%s': %s", e.Expected, e.Found, e.Reason)
}
func (e NewTypeMismatch) getStack() []byte { return e.stack }
func (e NewTypeMismatch) withStack(stack []byte) Error {
	e.stack = stack
	return e
}

// NewOccursCheck reports an assignment that would make a variable's own
// resolution cyclic.
type NewOccursCheck struct {
	Var   string
	In    string
	stack []byte
}

func (e NewOccursCheck) Code() ErrCode { return OccursCheck }
func (e NewOccursCheck) Error() string {
	return fmt.Sprintf("cyclic type: variable '%s' occurs in '%s'", e.Var, e.In)
}
func (e NewOccursCheck) getStack() []byte { return e.stack }
func (e NewOccursCheck) withStack(stack []byte) Error {
	e.stack = stack
	return e
}

// NewLeakEscape reports a placeholder from a higher-ranked probe reaching a
// constraint visible outside the probe.
type NewLeakEscape struct {
	Placeholder       string
	Related           string
	OverlyPolymorphic bool
	stack             []byte
}

func (e NewLeakEscape) Code() ErrCode { return LeakEscape }
func (e NewLeakEscape) Error() string {
	if e.OverlyPolymorphic {
		return fmt.Sprintf("expected type is overly polymorphic: placeholder '%s' cannot be related to '%s'", e.Placeholder, e.Related)
	}
	return fmt.Sprintf("type is not polymorphic enough: placeholder '%s' cannot be related to '%s'", e.Placeholder, e.Related)
}
func (e NewLeakEscape) getStack() []byte { return e.stack }
func (e NewLeakEscape) withStack(stack []byte) Error {
	e.stack = stack
	return e
}

// NewNoSolution reports a projection or opaque node that could not be
// normalized. Cause may be nil.
type NewNoSolution struct {
	Term  string
	Cause error
	stack []byte
}

func (e NewNoSolution) Code() ErrCode { return NoSolution }
func (e NewNoSolution) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("cannot normalize '%s'", e.Term)
	}
	return fmt.Sprintf("cannot normalize '%s': %v", e.Term, e.Cause)
}
func (e NewNoSolution) Unwrap() error    { return e.Cause }
func (e NewNoSolution) getStack() []byte { return e.stack }
func (e NewNoSolution) withStack(stack []byte) Error {
	e.stack = stack
	return e
}

// NewAmbiguous reports a normalization query with several candidate answers.
// Ambiguity always propagates; the engine never picks one side.
type NewAmbiguous struct {
	Term  string
	stack []byte
}

func (e NewAmbiguous) Code() ErrCode { return Ambiguous }
func (e NewAmbiguous) Error() string {
	return fmt.Sprintf("ambiguous normalization for '%s'", e.Term)
}
func (e NewAmbiguous) getStack() []byte { return e.stack }
func (e NewAmbiguous) withStack(stack []byte) Error {
	e.stack = stack
	return e
}

// NewOverflow reports the opaque-expansion recursion limit being exceeded.
type NewOverflow struct {
	Term  string
	Limit int
	stack []byte
}

func (e NewOverflow) Code() ErrCode { return Overflow }
func (e NewOverflow) Error() string {
	return fmt.Sprintf("overflow expanding '%s': recursion limit %d reached", e.Term, e.Limit)
}
func (e NewOverflow) getStack() []byte { return e.stack }
func (e NewOverflow) withStack(stack []byte) Error {
	e.stack = stack
	return e
}

// NewEscapingBoundVar reports a bound variable reaching structural relation
// outside any binder, which means a binder was opened incorrectly upstream.
type NewEscapingBoundVar struct {
	Term  string
	stack []byte
}

func (e NewEscapingBoundVar) Code() ErrCode { return EscapingBoundVar }
func (e NewEscapingBoundVar) Error() string {
	return fmt.Sprintf("bound variable escaped its binder in '%s'", e.Term)
}
func (e NewEscapingBoundVar) getStack() []byte { return e.stack }
func (e NewEscapingBoundVar) withStack(stack []byte) Error {
	e.stack = stack
	return e
}
