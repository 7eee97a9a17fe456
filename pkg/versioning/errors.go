package versioning

import (
	"errors"
	"fmt"
)

// Kind classifies an Error. Callers branch on the kind, never on the text.
type Kind string

const (
	// KindValidation marks caller-fixable input problems. Never retried.
	KindValidation Kind = "VALIDATION"
	// KindNotFound marks a missing or inactive asset, version or branch.
	KindNotFound Kind = "NOT_FOUND"
	// KindPermissionDenied marks a transition the caller's role may not make.
	KindPermissionDenied Kind = "PERMISSION_DENIED"
	// KindConflict marks duplicates and state preconditions that do not hold.
	KindConflict Kind = "CONFLICT"
	// KindIntegrity marks hash, size or decryption failures.
	KindIntegrity Kind = "INTEGRITY"
	// KindStorage marks underlying transaction or I/O failures.
	KindStorage Kind = "STORAGE"
)

// Error is the typed error returned by every engine operation.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, so errors.Is(err, ErrNotFound) works
// for any not-found error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrValidation       = &Error{Kind: KindValidation}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrIntegrity        = &Error{Kind: KindIntegrity}
	ErrStorage          = &Error{Kind: KindStorage}
)

// E builds an Error.
func E(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// Errorf builds an Error with a formatted message and no cause.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// WrapStorage wraps an unexpected store failure as KindStorage, preserving
// typed errors that bubble up from nested calls.
func WrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return E(KindStorage, op, "", err)
}
