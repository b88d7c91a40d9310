// Package apperr defines the error taxonomy shared by every engine.
//
// Errors carry a Kind so callers (HTTP handlers, the transaction retry loop)
// can branch on the category without string matching:
//
//	if errors.Is(err, apperr.ErrConcurrentModification) { ... }
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation             Kind = "validation"
	KindInvalidStateTransition Kind = "invalid_state_transition"
	KindTenantMismatch         Kind = "tenant_mismatch"
	KindConcurrentModification Kind = "concurrent_modification"
	KindNotFound               Kind = "not_found"
	KindPolicyViolation        Kind = "policy_violation"
	KindInternal               Kind = "internal"
)

// Sentinels for errors.Is. An *Error matches the sentinel of its Kind.
var (
	ErrValidation             = &Error{Kind: KindValidation}
	ErrInvalidStateTransition = &Error{Kind: KindInvalidStateTransition}
	ErrTenantMismatch         = &Error{Kind: KindTenantMismatch}
	ErrConcurrentModification = &Error{Kind: KindConcurrentModification}
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrPolicyViolation        = &Error{Kind: KindPolicyViolation}
)

type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so sentinels match any error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

func newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

func Validation(op, format string, args ...any) error {
	return newf(KindValidation, op, format, args...)
}

func InvalidTransition(op, entity, from, to string) error {
	return newf(KindInvalidStateTransition, op, "%s cannot move from %q to %q", entity, from, to)
}

func InvalidState(op, format string, args ...any) error {
	return newf(KindInvalidStateTransition, op, format, args...)
}

func TenantMismatch(op, derived, supplied string) error {
	return newf(KindTenantMismatch, op, "supplied tenant %q does not match parent tenant %q", supplied, derived)
}

func NotFound(op, entity, id string) error {
	return newf(KindNotFound, op, "%s %q not found", entity, id)
}

func Policy(op, format string, args ...any) error {
	return newf(KindPolicyViolation, op, format, args...)
}

func Concurrent(op string, cause error) error {
	return &Error{Kind: KindConcurrentModification, Op: op, Message: "concurrent modification, retry the request", Err: cause}
}

// KindOf returns the Kind of the first *Error in the chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func Retryable(err error) bool {
	return KindOf(err) == KindConcurrentModification
}

// HTTPStatus maps a kind to the status code the API answers with.
func HTTPStatus(k Kind) int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindInvalidStateTransition:
		return http.StatusConflict
	case KindTenantMismatch:
		return http.StatusForbidden
	case KindConcurrentModification:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindPolicyViolation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
