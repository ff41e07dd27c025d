// Package errors provides error wrapping utilities and the upload error
// taxonomy used to decide whether a failure is retryable.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// Kind classifies an upload failure.
type Kind int

const (
	// KindUnknown is the zero value for errors outside the taxonomy.
	KindUnknown Kind = iota
	// KindValidation covers policy rejections (file too large, wrong type).
	KindValidation
	// KindDecode covers corrupt or undecodable image input.
	KindDecode
	// KindAuthorization covers broker credential rejections.
	KindAuthorization
	// KindRateLimit covers broker rate-limit rejections.
	KindRateLimit
	// KindTransient covers network failures that may be retried.
	KindTransient
	// KindCancelled covers deliberate caller cancellation.
	KindCancelled
	// KindSession covers unusable upload sessions (expired or missing
	// credentials). Not retryable locally; the caller must request a
	// fresh session from the broker.
	KindSession
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindDecode:
		return "decode"
	case KindAuthorization:
		return "authorization"
	case KindRateLimit:
		return "rate_limit"
	case KindTransient:
		return "transient"
	case KindCancelled:
		return "cancelled"
	case KindSession:
		return "session"
	default:
		return "unknown"
	}
}

// Retryable reports whether errors of this kind may be retried locally.
func (k Kind) Retryable() bool {
	return k == KindTransient
}

// Error is a classified upload error.
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

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error with a message.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// E wraps err under the given kind. If err is nil, it returns nil.
func E(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Wrap wraps an error with additional context information.
// If err is nil, it returns nil without wrapping.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}

// KindOf returns the kind of err. Context cancellation and deadline errors
// map to KindCancelled even when raised as plain errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
