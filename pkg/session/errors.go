package session

import (
	"fmt"

	"github.com/pkg/errors"
)

type Kind int

const (
	// missing binary, flag, namespace, container, port or build file
	PreconditionError Kind = iota + 1
	// pod lookup absent or ambiguous after the poll budget
	ResolutionError
	ProvisionError
	LocatorError
	AttachError
	RelayError
	RebuildError
)

func (k Kind) String() string {
	switch k {
	case PreconditionError:
		return "precondition failed"
	case ResolutionError:
		return "resolution failed"
	case ProvisionError:
		return "provisioning failed"
	case LocatorError:
		return "process lookup failed"
	case AttachError:
		return "attach failed"
	case RelayError:
		return "relay failed"
	case RebuildError:
		return "rebuild failed"
	}
	return "unknown error"
}

// Error carries the failed stage and the identifier it was working on.
type Error struct {
	Kind   Kind
	Target string
	Err    error
}

func (e *Error) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%v (%v): %v", e.Kind, e.Target, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Cause() error {
	return e.Err
}

func NewError(kind Kind, target string, err error) error {
	return &Error{Kind: kind, Target: target, Err: err}
}

func Errorf(kind Kind, target string, format string, args ...interface{}) error {
	return &Error{Kind: kind, Target: target, Err: fmt.Errorf(format, args...)}
}

// IsKind reports whether err, or anything it wraps, is an *Error of kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// KindOf returns the kind of the outermost *Error in err, 0 if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

var (
	// ErrInterrupted is the cancellation cause when the operator interrupts a stage.
	ErrInterrupted = errors.New("interrupted")
	// ErrSourceChanged is the cancellation cause when the build context changed during relay.
	ErrSourceChanged = errors.New("build context changed")
)
