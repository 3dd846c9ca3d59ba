package sentinel

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a class of engine failure
type ErrorCode string

const (
	// CodeInvalidConfiguration marks bad sizing or tuning; fatal at startup
	CodeInvalidConfiguration ErrorCode = "INVALID_CONFIGURATION"
	// CodeVerificationUnavailable marks an unreachable or failing authority
	CodeVerificationUnavailable ErrorCode = "VERIFICATION_UNAVAILABLE"
	// CodeScanSource marks a failure reported by the scan source
	CodeScanSource ErrorCode = "SCAN_SOURCE_ERROR"
)

// Sentinel values for errors.Is checks.
var (
	ErrInvalidConfiguration    = &Error{Code: CodeInvalidConfiguration}
	ErrVerificationUnavailable = &Error{Code: CodeVerificationUnavailable}
	ErrScanSource              = &Error{Code: CodeScanSource}
)

// Error is a coded engine error
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s (caused by: %v)", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// InvalidConfiguration creates a configuration error
func InvalidConfiguration(format string, args ...interface{}) *Error {
	return &Error{Code: CodeInvalidConfiguration, Message: fmt.Sprintf(format, args...)}
}

// VerificationUnavailable wraps an authority failure
func VerificationUnavailable(id string, cause error) *Error {
	return &Error{
		Code:    CodeVerificationUnavailable,
		Message: fmt.Sprintf("verification of %q unavailable", id),
		Cause:   cause,
	}
}

// ScanSourceFailure wraps an error raised by the scan source
func ScanSourceFailure(cause error) *Error {
	return &Error{Code: CodeScanSource, Message: "scan source failed", Cause: cause}
}

// CodeOf extracts the error code from err, or "" when err is not an engine error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
