// Package orcherr defines the error taxonomy shared by every control loop:
// NotFound, Conflict, Validation, Timeout, BackendError, RuntimeError,
// StoreError, and Internal. Control loops wrap the underlying error with
// an Op/Target pair so logs and API responses can point at the failing
// operation without parsing message strings.
package orcherr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind enumerates the error taxonomy surfaced to callers and logs.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindConflict
	KindValidation
	KindTimeout
	KindBackendError
	KindRuntimeError
	KindStoreError
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation"
	case KindTimeout:
		return "timeout"
	case KindBackendError:
		return "backend_error"
	case KindRuntimeError:
		return "runtime_error"
	case KindStoreError:
		return "store_error"
	default:
		return "internal"
	}
}

// Error is the concrete error type returned by every subsystem in this
// module. Op names the failing operation (e.g. "orchestrator.Start"),
// Target names the entity involved (a service, backend, or rule name).
type Error struct {
	Kind   Kind
	Op     string
	Target string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	op := sanitize(e.Op)
	target := sanitize(e.Target)

	var b strings.Builder
	b.WriteString(op)
	if target != "" {
		b.WriteString(" ")
		b.WriteString(e.Kind.String())
		b.WriteString(" for ")
		b.WriteString(target)
	} else {
		b.WriteString(" ")
		b.WriteString(e.Kind.String())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(sanitize(e.Err.Error()))
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target is one of this package's sentinels and
// matches e's Kind, so callers can use errors.Is(err, orcherr.ErrNotFound).
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrConflict:
		return e.Kind == KindConflict
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrBackendError:
		return e.Kind == KindBackendError
	case ErrRuntimeError:
		return e.Kind == KindRuntimeError
	case ErrStoreError:
		return e.Kind == KindStoreError
	case ErrInternal:
		return e.Kind == KindInternal
	}
	return errors.Is(e.Err, target)
}

// sanitize strips control characters (notably CR/LF) so a malicious or
// buggy upstream message can't forge extra log lines or API fields.
func sanitize(s string) string {
	if s == "" {
		return s
	}
	b := strings.Builder{}
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' {
			b.WriteByte(' ')
			continue
		}
		if r < 0x20 {
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// New builds an *Error for op/target wrapping err.
func New(kind Kind, op, target string, err error) *Error {
	return &Error{Kind: kind, Op: sanitize(op), Target: sanitize(target), Err: err}
}

// Sentinels usable with errors.Is against any *Error of the matching Kind.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrValidation   = errors.New("validation")
	ErrTimeout      = errors.New("timeout")
	ErrBackendError = errors.New("backend error")
	ErrRuntimeError = errors.New("runtime error")
	ErrStoreError   = errors.New("store error")
	ErrInternal     = errors.New("internal error")
)

// KindOf extracts the Kind of err if it (or something it wraps) is an
// *Error, defaulting to KindInternal otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// NotFound, Conflict, Validation, Timeout, Backend, Runtime, and Store are
// convenience constructors for the common case of a single op/target pair.
func NotFound(op, target string, err error) *Error { return New(KindNotFound, op, target, err) }
func Conflict(op, target string, err error) *Error { return New(KindConflict, op, target, err) }
func Validation(op, target string, err error) *Error {
	return New(KindValidation, op, target, err)
}
func Timeout(op, target string, err error) *Error { return New(KindTimeout, op, target, err) }
func Backend(op, target string, err error) *Error {
	return New(KindBackendError, op, target, err)
}
func Runtime(op, target string, err error) *Error {
	return New(KindRuntimeError, op, target, err)
}
func Store(op, target string, err error) *Error { return New(KindStoreError, op, target, err) }
func Internal(op, target string, err error) *Error {
	return New(KindInternal, op, target, err)
}

// Validationf is a convenience for formatting a validation message without
// a wrapped error.
func Validationf(op, target, format string, args ...any) *Error {
	return New(KindValidation, op, target, fmt.Errorf(format, args...))
}
