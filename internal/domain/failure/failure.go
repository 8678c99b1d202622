// Package failure defines the error taxonomy of an import: fatal errors that
// abort a whole import, and per-record kinds that only skip one record.
package failure

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind names a per-record failure as it appears in an ImportDocument.
type Kind string

// Per-record kinds.
const (
	KindInvalidScore        Kind = "InvalidScore"
	KindSkipScore           Kind = "SkipScore"
	KindSongOrChartNotFound Kind = "SongOrChartNotFound"
	KindInternal            Kind = "Internal"
)

// Error is a kinded error raised at operation Op.
type Error struct {
	Op   string
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

// Unwrap exposes both the kind and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewKind returns an error of kind raised at op.
func NewKind(op string, kind error) error {
	return &Error{Op: op, Kind: kind}
}

// WrapKind tags err with kind at op.
func WrapKind(op string, kind, err error) error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// Newf returns an error of kind with a formatted message.
func Newf(op string, kind error, format string, args ...any) error {
	return &Error{Op: op, Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Invalid is shorthand for an InvalidScore failure.
func Invalid(op, format string, args ...any) error {
	return Newf(op, ErrInvalidScore, format, args...)
}

// Skip is shorthand for a SkipScore failure.
func Skip(op, format string, args ...any) error {
	return Newf(op, ErrSkipScore, format, args...)
}

// Internal is shorthand for an Internal failure.
func Internal(op, format string, args ...any) error {
	return Newf(op, ErrInternal, format, args...)
}

// NotFoundError carries the raw identifying fields of a record whose song
// or chart could not be resolved.
type NotFoundError struct {
	Identifiers map[string]string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no song/chart for %v", e.Identifiers)
}

// NotFound returns a SongOrChartNotFound failure for identifiers.
func NotFound(op, msg string, identifiers map[string]string) error {
	return &Error{Op: op, Kind: ErrSongOrChartNotFound, Msg: msg, Err: &NotFoundError{Identifiers: identifiers}}
}

// IdentifiersOf returns the identifying fields of a not-found failure.
func IdentifiersOf(err error) map[string]string {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return nf.Identifiers
	}
	return nil
}

// KindOf classifies a per-record error. Anything unrecognised is Internal.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrInvalidScore):
		return KindInvalidScore
	case errors.Is(err, ErrSkipScore):
		return KindSkipScore
	case errors.Is(err, ErrSongOrChartNotFound):
		return KindSongOrChartNotFound
	default:
		return KindInternal
	}
}

// Message returns the human part of err without the op prefix.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Msg != "" {
			return e.Msg
		}
		if e.Err != nil {
			return e.Err.Error()
		}
		return e.Kind.Error()
	}
	return err.Error()
}

// FatalError aborts an import. StatusCode and Message are user-facing.
type FatalError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fatal import error (%d): %s: %v", e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("fatal import error (%d): %s", e.StatusCode, e.Message)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Is matches ErrFatal.
func (e *FatalError) Is(target error) bool { return target == ErrFatal }

// Fatal returns a FatalError with status and message.
func Fatal(status int, format string, args ...any) error {
	return &FatalError{StatusCode: status, Message: fmt.Sprintf(format, args...)}
}

// FatalWrap returns a FatalError caused by err.
func FatalWrap(status int, msg string, err error) error {
	return &FatalError{StatusCode: status, Message: msg, Err: err}
}

// AsFatal extracts a FatalError from err's chain.
func AsFatal(err error) (*FatalError, bool) {
	var fe *FatalError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// Unreachable wraps a transport failure talking to a score source.
func Unreachable(source string, err error) error {
	return FatalWrap(http.StatusBadGateway, source+" could not be reached", err)
}
