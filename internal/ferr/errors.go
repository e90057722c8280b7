// Package ferr implements the closed error taxonomy shared by every
// core component: a tagged Kind, a wrapped cause, and an accreting
// set of context fields (file, tag, date, size, type) that callers
// add to as an error is propagated back up through layers.
//
// No layer silently swallows or converts an error: each re-raise goes
// through With*, which returns a copy of the *Error with one more
// context field recorded on it, so outer callers can inspect the field
// without reparsing the message. Wrap keeps an underlying error as
// Cause, the way the teacher's cog/stripper/tiler code chains errors
// with fmt.Errorf("...: %w", ...).
package ferr

import (
	"errors"
	"fmt"
)

// Kind is the closed set of error kinds the core may raise.
type Kind string

const (
	InvalidArgument Kind = "invalid_argument"
	NotFound        Kind = "not_found"
	SizeMismatch    Kind = "size_mismatch"
	TypeMismatch    Kind = "type_mismatch"
	FileFormat      Kind = "file_format"
	IO              Kind = "io"
	NotImplemented  Kind = "not_implemented"
	InternalLogic   Kind = "internal_logic"
)

// Error is the tagged variant every core operation returns on failure.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Context map[string]string
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags an existing error with a Kind, preserving it as Cause so
// errors.Unwrap/errors.Is/errors.As keep working through the chain.
func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

func (e *Error) Error() string {
	msg := string(e.Kind) + ": " + e.Message
	for _, k := range []string{"file", "tag", "date", "size", "type"} {
		if v, ok := e.Context[k]; ok {
			msg += fmt.Sprintf(" [%s=%s]", k, v)
		}
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// With returns a copy of e with an additional context field set,
// matching the spec's context-accretion propagation policy: each
// layer annotates and re-raises rather than converting silently.
func (e *Error) With(field, value string) *Error {
	cp := *e
	cp.Context = make(map[string]string, len(e.Context)+1)
	for k, v := range e.Context {
		cp.Context[k] = v
	}
	cp.Context[field] = value
	return &cp
}

func (e *Error) WithFile(v string) *Error { return e.With("file", v) }
func (e *Error) WithTag(v string) *Error  { return e.With("tag", v) }
func (e *Error) WithDate(v int) *Error    { return e.With("date", fmt.Sprintf("%d", v)) }
func (e *Error) WithSize(v string) *Error { return e.With("size", v) }
func (e *Error) WithType(v string) *Error { return e.With("type", v) }

// Is reports whether the first *Error in err's chain carries the given
// Kind. The chain is searched with errors.As, so an *Error wrapped by
// other errors is found; *Errors nested further inside it (as its
// Cause) are not checked.
func Is(err error, kind Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}
