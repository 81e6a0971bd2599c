package domain

import (
	"context"
	"errors"
)

// Sentinel errors for the application.
var (
	ErrNotFound        = errors.New("resource not found")
	ErrSelfReference   = errors.New("cannot start a conversation with yourself")
	ErrForbidden       = errors.New("forbidden")
	ErrEmptyMessage    = errors.New("message must have a body or a media reference")
	ErrCreationFailed  = errors.New("conversation creation failed")
	ErrTimeout         = errors.New("operation timed out")
	ErrTransientStore  = errors.New("transient store error")
	ErrConflict        = errors.New("resource already exists")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrInvalidInput    = errors.New("invalid input")
	ErrViewClosed      = errors.New("conversation view is closed")
)

// IsRetryable reports whether err is worth retrying on a read path.
// Validation and authorization failures never are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsTerminal(err) {
		return false
	}
	return errors.Is(err, ErrTransientStore) || errors.Is(err, ErrTimeout)
}

// IsTerminal reports whether err is a validation or authorization failure
// that must be surfaced to the caller as is.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrSelfReference) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrEmptyMessage) ||
		errors.Is(err, ErrUnauthenticated) ||
		errors.Is(err, ErrInvalidInput)
}

// Deadline converts a context deadline into ErrTimeout, leaving other
// errors untouched.
func Deadline(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		return errors.Join(ErrTimeout, err)
	}
	return err
}

var errorCodes = []struct {
	code string
	err  error
}{
	{"unauthenticated", ErrUnauthenticated},
	{"forbidden", ErrForbidden},
	{"self_reference", ErrSelfReference},
	{"empty_message", ErrEmptyMessage},
	{"invalid_input", ErrInvalidInput},
	{"not_found", ErrNotFound},
	{"conflict", ErrConflict},
	// creation_failed wraps its last transient cause and must win over it.
	{"creation_failed", ErrCreationFailed},
	{"timeout", ErrTimeout},
	{"unavailable", ErrTransientStore},
	{"view_closed", ErrViewClosed},
}

// Code returns the stable wire code of err's sentinel, or "internal".
func Code(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}

// FromCode maps a wire code back to its sentinel. Unknown codes are
// treated as transient.
func FromCode(code string) error {
	for _, c := range errorCodes {
		if c.code == code {
			return c.err
		}
	}
	return ErrTransientStore
}
