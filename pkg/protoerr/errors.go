// Package protoerr defines the typed failure conditions surfaced by every
// settlement entry point.
//
// Every error aborts the enclosing call. Callers branch on the Kind, never on
// the message text:
//
//	if errors.Is(err, protoerr.ErrFulfillmentRejected) { ... }
//	switch protoerr.KindOf(err) { ... }
package protoerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure.
type Kind string

const (
	KindNotFound            Kind = "NOT_FOUND"
	KindSchemaMismatch      Kind = "SCHEMA_MISMATCH"
	KindExpired             Kind = "EXPIRED"
	KindRevoked             Kind = "REVOKED"
	KindFulfillmentRejected Kind = "FULFILLMENT_REJECTED"
	KindTransferFailed      Kind = "TRANSFER_FAILED"
	KindUnauthorized        Kind = "UNAUTHORIZED"
	KindAlreadyVoted        Kind = "ALREADY_VOTED"
	KindAlreadyResolved     Kind = "ALREADY_RESOLVED"
	KindDecode              Kind = "DECODE"
	KindInvalidArgument     Kind = "INVALID_ARGUMENT"
	KindInternal            Kind = "INTERNAL"
)

// Sentinels for errors.Is. They match any *Error of the same Kind.
var (
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrSchemaMismatch      = &Error{Kind: KindSchemaMismatch}
	ErrExpired             = &Error{Kind: KindExpired}
	ErrRevoked             = &Error{Kind: KindRevoked}
	ErrFulfillmentRejected = &Error{Kind: KindFulfillmentRejected}
	ErrTransferFailed      = &Error{Kind: KindTransferFailed}
	ErrUnauthorized        = &Error{Kind: KindUnauthorized}
	ErrAlreadyVoted        = &Error{Kind: KindAlreadyVoted}
	ErrAlreadyResolved     = &Error{Kind: KindAlreadyResolved}
	ErrDecode              = &Error{Kind: KindDecode}
	ErrInvalidArgument     = &Error{Kind: KindInvalidArgument}
)

// Error is a classified protocol failure.
type Error struct {
	Kind   Kind
	Op     string // e.g. "escrow.Collect"
	Detail string
	Err    error
}

// New creates an error of the given kind.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Detail: fmt.Sprintf(format, args...)}
}

// Wrap classifies cause under kind. A nil cause yields nil.
func Wrap(kind Kind, op string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: cause}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Code returns the canonical error code, e.g. SETTLE/CORE/NOT_FOUND.
func (e *Error) Code() string {
	return "SETTLE/CORE/" + string(e.Kind)
}

// KindOf returns the kind of the outermost classified error in err's chain,
// or KindInternal when err carries none.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

// HTTPStatus maps a kind to the status the read API renders.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusForbidden
	case KindDecode, KindInvalidArgument, KindSchemaMismatch:
		return http.StatusBadRequest
	case KindExpired, KindRevoked, KindAlreadyVoted, KindAlreadyResolved, KindFulfillmentRejected:
		return http.StatusConflict
	case KindTransferFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
