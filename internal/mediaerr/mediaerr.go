// Package mediaerr is the closed set of failure kinds produced by the
// transcoder and the asset stores. Callers switch on Kind, never on messages.
package mediaerr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	// ProcessingFailed is the catch-all for transform failures.
	ProcessingFailed Kind = iota
	UnsupportedFormat
	InvalidMetadata
	InsufficientStorage
	ResourceExhausted
)

func (k Kind) String() string {
	switch k {
	case UnsupportedFormat:
		return "unsupported_format"
	case InvalidMetadata:
		return "invalid_metadata"
	case InsufficientStorage:
		return "insufficient_storage"
	case ResourceExhausted:
		return "resource_exhausted"
	default:
		return "processing_failed"
	}
}

// Error tags an underlying failure with its Kind and the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with kind and op.
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, and false when there is none.
func KindOf(err error) (Kind, bool) {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind, true
	}
	return ProcessingFailed, false
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
