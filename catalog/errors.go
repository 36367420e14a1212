package catalog

import (
	"context"
	"errors"
	"fmt"
)

// The error taxonomy the whole SDK classifies against. Callers branch on these
// with the Is* helpers instead of string matching:
//
//   - NotFoundError: identifier absent even after a cache refresh.
//   - ValidationError: payload fails prerequisite checks; the event is skipped,
//     never retried.
//   - TransientError: network/timeout/conflict; retried with backoff up to a
//     bounded attempt count.
//   - PermanentError: malformed payload or business-rule violation; fails
//     immediately, bypassing retry.

// NotFoundError reports that an identifier is absent from the catalog for the
// given type, even after the cache refreshed its snapshot.
type NotFoundError struct {
	TypeName string
	Ref      string // GUID or qualified name, whichever was looked up
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("catalog: %s %q not found", e.TypeName, e.Ref)
}

// ValidationError reports a prerequisite-check failure. The dispatcher treats
// it as a signal to skip the event, not as a processing failure.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "catalog: validation failed: " + e.Reason
}

// TransientError wraps a failure that is expected to succeed on retry:
// network errors, timeouts, optimistic-concurrency conflicts.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("catalog: transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps a failure that retrying cannot fix.
type PermanentError struct {
	Op  string
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("catalog: permanent failure in %s: %v", e.Op, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsTransient reports whether err should follow the retry path. Context
// deadline expiry and cancellation classify as transient: the operation was
// cut short, not rejected.
func IsTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err is (or wraps) a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
