// Package apperr defines the tagged error type shared by the decision, execution
// and work order services. Callers branch on Kind rather than on message text.
package apperr

import (
	"errors"
	"fmt"
	"log/slog"
)

// Kind discriminates failures that callers are expected to handle.
type Kind string

const (
	KindNotFound           Kind = "NOT_FOUND"
	KindBackendUnavailable Kind = "BACKEND_UNAVAILABLE"
	KindMalformedResponse  Kind = "MALFORMED_RESPONSE"
	KindInvalidDecision    Kind = "INVALID_DECISION"
	KindConflict           Kind = "CONFLICT"
	KindPrecondition       Kind = "PRECONDITION_FAILED"
	KindInvalidTransition  Kind = "INVALID_TRANSITION"
	KindInvalidInput       Kind = "INVALID_REQUEST"
)

// Sentinels for errors.Is. Any *Error with the same Kind matches.
var (
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrBackendUnavailable = &Error{Kind: KindBackendUnavailable}
	ErrMalformedResponse  = &Error{Kind: KindMalformedResponse}
	ErrInvalidDecision    = &Error{Kind: KindInvalidDecision}
	ErrConflict           = &Error{Kind: KindConflict}
	ErrPrecondition       = &Error{Kind: KindPrecondition}
	ErrInvalidTransition  = &Error{Kind: KindInvalidTransition}
	ErrInvalidInput       = &Error{Kind: KindInvalidInput}
)

// Error is a failure tagged with a Kind and a human-readable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message == "" && e.Err == nil:
		return string(e.Kind)
	case e.Err == nil:
		return e.Message
	case e.Message == "":
		return e.Err.Error()
	default:
		return e.Message + ": " + e.Err.Error()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates a tagged error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags err with kind. The message prefixes the wrapped error's text.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind of the outermost *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// MessageOf returns the message of the outermost *Error in err's chain,
// falling back to err.Error().
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// Loggable renders err as a structured slog value.
func Loggable(err error) slog.Value {
	if err == nil {
		return slog.StringValue("")
	}
	attrs := []slog.Attr{slog.String("message", err.Error())}
	if k := KindOf(err); k != "" {
		attrs = append(attrs, slog.String("kind", string(k)))
	}
	if cause := errors.Unwrap(err); cause != nil {
		attrs = append(attrs, slog.String("cause", cause.Error()))
	}
	return slog.GroupValue(attrs...)
}
