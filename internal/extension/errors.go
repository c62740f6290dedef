package extension

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Code classifies pipeline failures so callers can react without
// matching on message text.
type Code string

const (
	// Network taxonomy (gallery client).
	ErrCancelled Code = "Cancelled"
	ErrOffline   Code = "Offline"
	ErrTimeout   Code = "Timeout"
	ErrFailed    Code = "Failed"

	// Download / extraction.
	ErrInvalid                       Code = "Invalid"
	ErrSignatureVerificationFailed   Code = "SignatureVerificationFailed"
	ErrSignatureVerificationInternal Code = "SignatureVerificationInternal"

	// Scanner / installer write path.
	ErrScanning                   Code = "Scanning"
	ErrDelete                     Code = "Delete"
	ErrRename                     Code = "Rename"
	ErrUpdateMetadata             Code = "UpdateMetadata"
	ErrAddToProfile               Code = "AddToProfile"
	ErrInstalledExtensionNotFound Code = "InstalledExtensionNotFound"
	ErrUnsetRemoved               Code = "UnsetRemoved"
	ErrReadRemoved                Code = "ReadRemoved"
)

// Error carries a taxonomy code alongside the underlying cause.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a code.
func NewError(code Code, err error) *Error {
	return &Error{Code: code, Err: err}
}

// Errorf builds a coded error from a format string.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Err: fmt.Errorf(format, args...)}
}

// CodeOf extracts the taxonomy code from an error chain. Plain context
// and network errors are classified; anything else is Failed.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return classify(err)
}

func classify(err error) Code {
	switch {
	case errors.Is(err, context.Canceled):
		return ErrCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrTimeout
		}
		return ErrOffline
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrOffline
	}
	return ErrFailed
}
