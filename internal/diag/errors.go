// Package diag implements the runtime's typed error kinds: syntax,
// memory, runtime and finalizer errors, each carrying enough context
// (source line, wrapped cause) to surface a structured error object
// rather than a bare string.
package diag

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind names an error category.
type Kind uint8

const (
	KindSyntax Kind = iota
	KindMemory
	KindRuntime
	KindGCMM
)

func (k Kind) String() string {
	switch k {
	case KindSyntax:
		return "syntax error"
	case KindMemory:
		return "memory error"
	case KindRuntime:
		return "runtime error"
	case KindGCMM:
		return "error in __gc metamethod"
	default:
		return "error"
	}
}

// Error is the structured error object: every SyntaxError raised by
// internal/code or internal/lexer carries the source line it fired
// on; every GCMMError wraps the finalizer's own error.
type Error struct {
	Kind   Kind
	Line   int // 0 when not applicable (MemoryError, some RuntimeErrors)
	Source string
	cause  error
}

func (e *Error) Error() string {
	if e.Kind == KindGCMM {
		return fmt.Sprintf("%s (%s)", e.Kind, errors.Cause(e.cause))
	}
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s: %s", e.Source, e.Line, e.Kind, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.cause)
}

// Unwrap lets errors.Is/errors.As (both stdlib and pkg/errors) see
// through to the wrapped cause.
func (e *Error) Unwrap() error { return e.cause }

// Syntax builds a SyntaxError at the given source/line: the kind
// raised for an overlong jump, too many registers, or an overlong
// constructor.
func Syntax(source string, line int, cause error) *Error {
	return &Error{Kind: KindSyntax, Line: line, Source: source, cause: cause}
}

// memerrmsg is the pre-allocated, always-live "out of memory"
// message: MemoryError must be able to report even when allocation
// itself is failing, so this string is built once rather than
// allocated fresh per failure.
const memerrmsg = "out of memory"

// Memory builds a MemoryError. The caller is expected to have
// already triggered an emergency GC cycle before reporting this;
// Memory itself only builds the error value.
func Memory() *Error {
	return &Error{Kind: KindMemory, cause: errors.New(memerrmsg)}
}

// Runtime builds a RuntimeError (e.g. calling nil, indexing a
// non-table); it unwinds to the nearest protected-call boundary.
func Runtime(line int, cause error) *Error {
	return &Error{Kind: KindRuntime, Line: line, cause: cause}
}

// GCMM wraps a finalizer's own error as "error in __gc metamethod
// (<original>)". internal/gc/finalize.go does not call this: it logs
// a failing finalizer's error unwrapped and continues.
func GCMM(cause error) *Error {
	return &Error{Kind: KindGCMM, cause: errors.Wrapf(cause, "error in __gc metamethod")}
}

// IsMemory reports whether err is (or wraps) a MemoryError.
func IsMemory(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindMemory
	}
	return false
}
