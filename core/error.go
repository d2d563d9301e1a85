package core

import (
	"errors"

	goerrors "github.com/go-errors/errors"
)

// Kind classifies an Error so that callers can tell an unmapped address apart
// from a broken backend without matching on messages.
type Kind uint8

const (
	// KindUnknown is reported by KindOf for errors that did not originate
	// from this module.
	KindUnknown Kind = iota

	// KindBackend marks a failed physical memory read or write.
	KindBackend

	// KindNotPresent marks a translation failure: a non-present page table
	// entry, an invalid DTB or an address outside the address space.
	KindNotPresent

	// KindUnsupported marks operations that have no safe default for the
	// requested architecture (e.g. pointer widths other than 32/64 bits or
	// a failed DTB scan).
	KindUnsupported
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindBackend:
		return "backend"
	case KindNotPresent:
		return "not present"
	case KindUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Error describes an error raised by one of the memflow packages. Static
// errors are defined as package-level pointers so they can be compared
// directly; errors that carry a cause are built with Wrap.
type Error struct {
	// The module where the error occurred.
	Module string

	// The class of the error.
	Kind Kind

	// The error message
	Message string

	// The underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the cause of this error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a static Error with the same module, kind
// and message. It allows errors.Is(err, ErrSomething) to match an error
// that was derived from ErrSomething via Wrap.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Err != nil {
		return false
	}
	return t.Module == e.Module && t.Kind == e.Kind && t.Message == e.Message
}

// Wrap returns a copy of template that carries cause. The cause is wrapped
// with a stack trace captured at the caller of Wrap.
func Wrap(template *Error, cause error) *Error {
	if cause == nil {
		return template
	}

	return &Error{
		Module:  template.Module,
		Kind:    template.Kind,
		Message: template.Message,
		Err:     goerrors.Wrap(cause, 1),
	}
}

// KindOf returns the Kind of the first Error in err's chain or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind returns true if err was raised with the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Stack returns the stack trace captured when the cause of err was wrapped
// or an empty string if err carries no stack.
func Stack(err error) string {
	var se *goerrors.Error
	if goerrors.As(err, &se) {
		return se.ErrorStack()
	}
	return ""
}
