package types

import (
	"context"
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindInvalidInput       ErrorKind = "InvalidInput"
	KindNotFound           ErrorKind = "NotFound"
	KindTransientNetwork   ErrorKind = "TransientNetworkError"
	KindInsufficientSpace  ErrorKind = "InsufficientSpace"
	KindVerificationFailed ErrorKind = "VerificationFailed"
	KindAuth               ErrorKind = "AuthError"
	KindCancelled          ErrorKind = "Cancelled"

	// KindInternal covers local failures outside the taxonomy above, such
	// as an unwritable cache root.
	KindInternal ErrorKind = "InternalError"
)

// Error attaches an ErrorKind to an underlying failure. Op names the
// operation that failed (e.g. "manifest", "fetch").
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Errorf(kind ErrorKind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain. Context
// cancellation maps to KindCancelled and an unclassified error to "".
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}

	return ""
}

// KindOrInternal is KindOf with unclassified errors reported as
// KindInternal.
func KindOrInternal(err error) ErrorKind {
	if kind := KindOf(err); kind != "" {
		return kind
	}
	return KindInternal
}

func IsRetryable(err error) bool {
	return KindOf(err) == KindTransientNetwork
}
