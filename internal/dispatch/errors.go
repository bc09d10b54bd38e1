package dispatch

import (
	"context"
	"errors"
	"fmt"
)

// ErrClose is returned by a handler to ask the dispatcher to stop once the
// responses already buffered have been flushed. Wrapped errors match too.
var ErrClose = errors.New("dispatch: close requested")

// ErrorKind identifies where a terminal dispatcher error came from.
type ErrorKind int

const (
	// KindService covers readiness failures and handler errors.
	KindService ErrorKind = iota + 1
	// KindEncoder covers response encoding and flush failures.
	KindEncoder
	// KindDecoder covers malformed input and read failures.
	KindDecoder
)

func (k ErrorKind) String() string {
	switch k {
	case KindService:
		return "service"
	case KindEncoder:
		return "encoder"
	case KindDecoder:
		return "decoder"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is the single terminal error returned by Run.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("dispatch %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of a dispatcher error, or 0 when err is not one.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return 0
}

// IsService reports whether err is a dispatcher error of KindService.
func IsService(err error) bool { return KindOf(err) == KindService }

// IsEncoder reports whether err is a dispatcher error of KindEncoder.
func IsEncoder(err error) bool { return KindOf(err) == KindEncoder }

// IsDecoder reports whether err is a dispatcher error of KindDecoder.
func IsDecoder(err error) bool { return KindOf(err) == KindDecoder }

// PanicError is the service error produced when a handler panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("dispatch: handler panic: %v", e.Value)
}

// Outcome names how a run ended: "ok", the error kind ("service", "encoder",
// "decoder"), "cancelled" for context errors, or "error" for anything else.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case KindOf(err) != 0:
		return KindOf(err).String()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
