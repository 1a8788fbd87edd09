// Package gameerr defines the error taxonomy shared by the session engine and
// its transports.
package gameerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers deciding how to surface or retry it.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindInvalidState
	KindNotFound
	KindPermission
	KindInvalidRole
	// KindEvaluationAborted is internal only; it is logged and never returned to clients.
	KindEvaluationAborted
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindInvalidState:
		return "invalid_state"
	case KindNotFound:
		return "not_found"
	case KindPermission:
		return "permission"
	case KindInvalidRole:
		return "invalid_role"
	case KindEvaluationAborted:
		return "evaluation_aborted"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is checks against a kind.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrInvalidState      = &Error{Kind: KindInvalidState}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrPermission        = &Error{Kind: KindPermission}
	ErrInvalidRole       = &Error{Kind: KindInvalidRole}
	ErrEvaluationAborted = &Error{Kind: KindEvaluationAborted}
)

// Error is a classified operation error.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound) works
// regardless of Op and Msg.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func Validation(op, format string, args ...any) error {
	return newf(KindValidation, op, format, args...)
}

func InvalidState(op, format string, args ...any) error {
	return newf(KindInvalidState, op, format, args...)
}

func NotFound(op, format string, args ...any) error {
	return newf(KindNotFound, op, format, args...)
}

func Permission(op, format string, args ...any) error {
	return newf(KindPermission, op, format, args...)
}

func InvalidRole(op, format string, args ...any) error {
	return newf(KindInvalidRole, op, format, args...)
}

func EvaluationAborted(op, format string, args ...any) error {
	return newf(KindEvaluationAborted, op, format, args...)
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, op string, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Message returns a human-readable message without the op prefix.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Msg != "" {
			return e.Msg
		}
		return e.Kind.String()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// ParseKind is the inverse of Kind.String. Unknown names map to KindUnknown.
func ParseKind(name string) Kind {
	for k := KindValidation; k <= KindEvaluationAborted; k++ {
		if k.String() == name {
			return k
		}
	}
	return KindUnknown
}

// New builds an error of the given kind with a fixed message.
func New(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}
