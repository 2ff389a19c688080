// README: Error taxonomy shared by all modules; transport maps Kind to status codes.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation   Kind = "VALIDATION"
	KindNotFound     Kind = "NOT_FOUND"
	KindForbidden    Kind = "FORBIDDEN"
	KindInvalidState Kind = "INVALID_STATE"
	KindConflict     Kind = "CONFLICT"
	KindExpired      Kind = "EXPIRED"
	KindMismatch     Kind = "MISMATCH"
	KindStaleData    Kind = "STALE_DATA"
	KindSignature    Kind = "SIGNATURE"
	KindUpstream     Kind = "UPSTREAM"
	KindInternal     Kind = "INTERNAL"
)

// Error is a classified domain error. Two errors match under errors.Is when
// their kinds are equal and the target carries no message, so module sentinels
// stay distinct while the bare kind sentinels below match the whole class.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Kind)
	}
	return e.Msg
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Msg == "" || t.Msg == e.Msg)
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

var (
	ErrValidation   = &Error{Kind: KindValidation}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrForbidden    = &Error{Kind: KindForbidden}
	ErrInvalidState = &Error{Kind: KindInvalidState}
	ErrConflict     = &Error{Kind: KindConflict}
	ErrExpired      = &Error{Kind: KindExpired}
	ErrMismatch     = &Error{Kind: KindMismatch}
	ErrStaleData    = &Error{Kind: KindStaleData}
	ErrSignature    = &Error{Kind: KindSignature}
	ErrUpstream     = &Error{Kind: KindUpstream}
)

// KindOf returns the kind of the first classified error in the chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Upstream wraps a collaborator failure.
func Upstream(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", &Error{Kind: KindUpstream, Msg: op + " failed"}, op, err)
}
