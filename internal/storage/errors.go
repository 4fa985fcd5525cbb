package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrIO matches every read, write and decode failure of the backend.
	ErrIO = errors.New("storage i/o error")
	// ErrCorrupt marks content that is on disk but cannot be decoded.
	ErrCorrupt           = errors.New("corrupt collection")
	ErrUnknownCollection = errors.New("unknown collection")
	ErrClosed            = errors.New("store closed")
)

// Error describes a failed backend operation on one collection.
type Error struct {
	Op         string
	Collection string
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Collection, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrIO }

func ioErr(op, collection string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Collection: collection, Err: err}
}
