package generator

import (
	"errors"
	"fmt"
	"regexp"
)

// idPattern is the caller-chosen id grammar (SPEC_FULL.md §3.1/§4.2): a
// non-empty string over lowercase letters, digits and hyphens.
var idPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// ValidateID reports whether id is acceptable as a caller-chosen generator
// id. An empty id is not validated here — callers treat "" as "assign a
// random id" before ever reaching ValidateID.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return NewInvalidArgumentError(id, fmt.Sprintf("invalid id %q: must match [a-z0-9-]+", id))
	}
	return nil
}

// ErrorKind categorizes a generator error for REST status-code mapping, per
// SPEC_FULL.md §7 and the spec's not_found/exists/invalid_argument/busy/
// bus_error/custom_error taxonomy. The shape mirrors the teacher's own
// RunManagerError in internal/controlplane/runmanager/errors.go.
type ErrorKind int

const (
	ErrKindNotFound ErrorKind = iota
	ErrKindExists
	ErrKindInvalidArgument
	ErrKindBusy
	ErrKindBusError
	ErrKindCustom
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindNotFound:
		return "not_found"
	case ErrKindExists:
		return "exists"
	case ErrKindInvalidArgument:
		return "invalid_argument"
	case ErrKindBusy:
		return "busy"
	case ErrKindBusError:
		return "bus_error"
	case ErrKindCustom:
		return "custom_error"
	default:
		return "unknown"
	}
}

// Error is the single typed error generator, registry, and module-server
// code return. Callers inspect Kind (via AsError/IsXxx helpers) rather than
// comparing against sentinel values, since the REST façade needs the kind to
// pick a status code.
type Error struct {
	Kind    ErrorKind
	ID      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// NewNotFoundError reports that id does not name a known generator or result.
func NewNotFoundError(id string) *Error {
	return &Error{Kind: ErrKindNotFound, ID: id, Message: fmt.Sprintf("not found: %s", id)}
}

// NewExistsError reports that id is already in use.
func NewExistsError(id string) *Error {
	return &Error{Kind: ErrKindExists, ID: id, Message: fmt.Sprintf("already exists: %s", id)}
}

// NewInvalidArgumentError reports a malformed or out-of-range configuration.
func NewInvalidArgumentError(id, message string) *Error {
	return &Error{Kind: ErrKindInvalidArgument, ID: id, Message: message}
}

// NewBusyError reports that id cannot be modified or erased because it is
// currently running.
func NewBusyError(id, operation string) *Error {
	return &Error{Kind: ErrKindBusy, ID: id, Message: fmt.Sprintf("cannot %s running generator: %s", operation, id)}
}

// NewBusError wraps a transport/codec failure from internal/bus.
func NewBusError(cause error) *Error {
	return &Error{Kind: ErrKindBusError, Message: "bus error", Cause: cause}
}

// NewCustomError wraps an arbitrary module-specific failure (e.g. a target
// resource that a block or network generator could not reach).
func NewCustomError(id, message string, cause error) *Error {
	return &Error{Kind: ErrKindCustom, ID: id, Message: message, Cause: cause}
}

// AsError converts err to a *Error if possible, returning nil otherwise.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

func IsNotFound(err error) bool {
	e := AsError(err)
	return e != nil && e.Kind == ErrKindNotFound
}

func IsExists(err error) bool {
	e := AsError(err)
	return e != nil && e.Kind == ErrKindExists
}

func IsInvalidArgument(err error) bool {
	e := AsError(err)
	return e != nil && e.Kind == ErrKindInvalidArgument
}

func IsBusy(err error) bool {
	e := AsError(err)
	return e != nil && e.Kind == ErrKindBusy
}

func IsBusError(err error) bool {
	e := AsError(err)
	return e != nil && e.Kind == ErrKindBusError
}
