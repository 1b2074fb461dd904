package domain

import "errors"

// Code is a machine-readable error code.
type Code string

const (
	CodeUnknown Code = "UNKNOWN"

	// Lookup
	CodeNotFound Code = "NOT_FOUND"

	// One-way transitions attempted twice
	CodeAlreadyCompleted Code = "ALREADY_COMPLETED"
	CodeAlreadyEnded     Code = "ALREADY_ENDED"
	CodeAlreadySigned    Code = "ALREADY_SIGNED"

	// Ordering
	CodeShiftNotCompleted Code = "SHIFT_NOT_COMPLETED"

	// Mandatory fields
	CodeOdometerRequired  Code = "ODOMETER_REQUIRED"
	CodeSignatureRequired Code = "SIGNATURE_REQUIRED"
	CodeCabinRequired     Code = "CABIN_REQUIRED"
	CodeReadingRequired   Code = "READING_REQUIRED"

	// Configuration
	CodeInvalidZone Code = "INVALID_ZONE"

	// Storage / concurrency
	CodeConflict  Code = "CONFLICT"
	CodeDuplicate Code = "DUPLICATE"

	// Workspace policy
	CodeLimitReached       Code = "LIMIT_REACHED"
	CodeWorkspaceSuspended Code = "WORKSPACE_SUSPENDED"

	// Access
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeForbidden    Code = "FORBIDDEN"

	// Input
	CodeInvalidInput   Code = "INVALID_INPUT"
	CodePasswordReused Code = "PASSWORD_REUSED"
)

// Error is the domain error type with structured metadata.
type Error struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// NewError creates a domain error with a code and message.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithMetadata creates a domain error carrying extra context.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{Code: code, Message: message, Metadata: metadata}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf extracts the code of the first domain error in the chain.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeUnknown
}

// Sentinels for errors.Is comparisons. Matching is by code only.
var (
	ErrNotFound          = NewError(CodeNotFound, "not found")
	ErrAlreadyCompleted  = NewError(CodeAlreadyCompleted, "checklist already completed")
	ErrAlreadyEnded      = NewError(CodeAlreadyEnded, "shift already ended")
	ErrAlreadySigned     = NewError(CodeAlreadySigned, "log already signed off")
	ErrShiftNotCompleted = NewError(CodeShiftNotCompleted, "shift not completed")
	ErrOdometerRequired  = NewError(CodeOdometerRequired, "odometer reading required")
	ErrSignatureRequired = NewError(CodeSignatureRequired, "signature required")
	ErrCabinRequired     = NewError(CodeCabinRequired, "cabin temperature required")
	ErrInvalidZone       = NewError(CodeInvalidZone, "invalid timezone")
	ErrConflict          = NewError(CodeConflict, "concurrent update")
)
