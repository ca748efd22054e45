package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that need to branch on it, and for
// the transport layer's status mapping.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindValidation        Kind = "validation"
	KindConflict          Kind = "conflict"
	KindPolicyRejected    Kind = "policy_rejected"
	KindGenerationFailure Kind = "generation_failure"
	KindGenerationTimeout Kind = "generation_timeout"
	KindPersistence       Kind = "persistence"
)

// Error is the domain error type. Field is set for validation failures that
// point at a single input field.
type Error struct {
	Kind    Kind
	Message string
	Field   string
	cause   error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// NotFoundf builds a KindNotFound error.
func NotFoundf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Validationf builds a KindValidation error for the given field.
func Validationf(field, format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: fmt.Sprintf(format, args...)}
}

// Conflictf builds a KindConflict error.
func Conflictf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// PolicyRejectedf builds a KindPolicyRejected error.
func PolicyRejectedf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindPolicyRejected, Message: fmt.Sprintf(format, args...)}
}

// GenerationFailed wraps a gateway error after the retry budget is spent.
// The message tells the caller their input was preserved.
func GenerationFailed(kind Kind, cause error) *Error {
	return &Error{
		Kind:    kind,
		Message: "text generation failed; your message was saved and it is safe to retry",
		cause:   cause,
	}
}

// PersistenceError wraps a storage-layer error. The original error is kept
// for logs; message content never goes in here.
func PersistenceError(op string, cause error) *Error {
	return &Error{Kind: KindPersistence, Message: "storage operation failed: " + op, cause: cause}
}

// KindOf extracts the Kind from err, or KindPersistence if err is not a
// domain error.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindPersistence
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}
