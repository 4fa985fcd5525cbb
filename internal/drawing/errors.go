package drawing

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	KindInvalidArgument     Kind = "invalid_argument"
	KindNotFound            Kind = "not_found"
	KindAlreadyCompleted    Kind = "already_completed"
	KindNotCompleted        Kind = "not_completed"
	KindStorageIO           Kind = "storage_io"
	KindTimeout             Kind = "timeout"
	KindExternalUnavailable Kind = "external_unavailable"
)

// Sentinels for errors.Is. Any *Error of the same kind matches.
var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrNotFound            = errors.New("drawing not found")
	ErrAlreadyCompleted    = errors.New("drawing already completed")
	ErrNotCompleted        = errors.New("drawing not completed")
	ErrStorageIO           = errors.New("storage failure")
	ErrTimeout             = errors.New("external call timed out")
	ErrExternalUnavailable = errors.New("external service unavailable")
)

var kindSentinel = map[Kind]error{
	KindInvalidArgument:     ErrInvalidArgument,
	KindNotFound:            ErrNotFound,
	KindAlreadyCompleted:    ErrAlreadyCompleted,
	KindNotCompleted:        ErrNotCompleted,
	KindStorageIO:           ErrStorageIO,
	KindTimeout:             ErrTimeout,
	KindExternalUnavailable: ErrExternalUnavailable,
}

// Error carries the drawing id, the failure kind and a short reason.
type Error struct {
	Kind   Kind
	ID     string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("drawing")
	if e.ID != "" {
		b.WriteString(" ")
		b.WriteString(e.ID)
	}
	b.WriteString(": ")
	b.WriteString(string(e.Kind))
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return kindSentinel[e.Kind] == target }

// Retryable reports whether trying again later may succeed.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindStorageIO, KindTimeout, KindExternalUnavailable:
		return true
	}
	return false
}

func newError(kind Kind, id, reason string, err error) *Error {
	return &Error{Kind: kind, ID: id, Reason: reason, Err: err}
}

func invalid(reason string, args ...any) *Error {
	return newError(KindInvalidArgument, "", fmt.Sprintf(reason, args...), nil)
}

// KindOf returns the kind of err, or "" when err is not a drawing error.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsRetryable reports whether err is a retryable drawing error.
func IsRetryable(err error) bool {
	var de *Error
	return errors.As(err, &de) && de.Retryable()
}

// storageErr classifies a failed store call. Drawing errors raised inside a
// transaction pass through unchanged.
func storageErr(id, op string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(KindTimeout, id, op, err)
	}
	return newError(KindStorageIO, id, op, err)
}
