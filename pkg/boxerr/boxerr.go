// Package boxerr defines the BoxLite error taxonomy (spec.md §7): a small
// set of sentinel kinds wrapped with context via fmt.Errorf("...: %w", ...),
// the same wrapping discipline the rest of the module uses.
package boxerr

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds named in spec.md §7.
type Kind string

const (
	KindRuntimeBusy           Kind = "RuntimeBusy"
	KindNotFound              Kind = "NotFound"
	KindNameConflict          Kind = "NameConflict"
	KindInvalidTransport      Kind = "InvalidTransport"
	KindInvalidConfig         Kind = "InvalidConfig"
	KindImageUnavailable      Kind = "ImageUnavailable"
	KindEngine                Kind = "Engine"
	KindGuest                 Kind = "Guest"
	KindIsolationUnavailable  Kind = "IsolationUnavailable"
	KindTimeout               Kind = "Timeout"
	KindInternal              Kind = "Internal"
)

// Error pairs a Kind with a wrapped cause, so callers can both
// errors.Is-match a sentinel kind and read a human message.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is(err, boxerr.KindXxx)-style matching by comparing
// kinds, not identity — see the sentinel vars below.
func (e *Error) Is(target error) bool {
	k, ok := target.(kindSentinel)
	return ok && e.Kind == Kind(k)
}

type kindSentinel Kind

func (k kindSentinel) Error() string { return string(k) }

// Sentinels usable with errors.Is(err, boxerr.RuntimeBusy) etc.
var (
	RuntimeBusy          error = kindSentinel(KindRuntimeBusy)
	NotFound             error = kindSentinel(KindNotFound)
	NameConflict         error = kindSentinel(KindNameConflict)
	InvalidTransport     error = kindSentinel(KindInvalidTransport)
	InvalidConfig        error = kindSentinel(KindInvalidConfig)
	ImageUnavailable     error = kindSentinel(KindImageUnavailable)
	Engine               error = kindSentinel(KindEngine)
	Guest                error = kindSentinel(KindGuest)
	IsolationUnavailable error = kindSentinel(KindIsolationUnavailable)
	Timeout              error = kindSentinel(KindTimeout)
	Internal             error = kindSentinel(KindInternal)
)

// New builds an *Error of the given kind wrapping cause (which may be nil).
func New(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// Newf is New with a formatted message.
func Newf(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf extracts the Kind from err, if it (or something it wraps) is a
// *Error; ok is false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
