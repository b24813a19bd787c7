package device

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"syscall"
)

// ErrorType represents the category of error that occurred
type ErrorType int

const (
	// ErrTypeNetwork indicates a network-level error (reset, unreachable)
	ErrTypeNetwork ErrorType = iota
	// ErrTypeAuth indicates the device rejected the credentials
	ErrTypeAuth
	// ErrTypeHTTP indicates an unexpected HTTP status
	ErrTypeHTTP
	// ErrTypeParse indicates a response the client could not interpret
	ErrTypeParse
	// ErrTypeValidation indicates invalid input before any call was made
	ErrTypeValidation
	// ErrTypeTimeout indicates the call did not finish before its deadline
	ErrTypeTimeout
	// ErrTypeConnectionRefused indicates nothing is listening yet
	ErrTypeConnectionRefused
	// ErrTypeAPI indicates the device answered 200 with an error payload
	ErrTypeAPI
)

// NetworkErrorSubtype provides more specific network error classification
type NetworkErrorSubtype int

const (
	NetworkErrorGeneral NetworkErrorSubtype = iota
	NetworkErrorTimeout
	NetworkErrorConnectionRefused
	NetworkErrorHostUnreachable
	NetworkErrorNetworkUnreachable
	NetworkErrorReset
)

// String returns a human-readable name for the error type
func (et ErrorType) String() string {
	switch et {
	case ErrTypeNetwork:
		return "Network Error"
	case ErrTypeAuth:
		return "Authentication Error"
	case ErrTypeHTTP:
		return "HTTP Error"
	case ErrTypeParse:
		return "Parse Error"
	case ErrTypeValidation:
		return "Validation Error"
	case ErrTypeTimeout:
		return "Timeout"
	case ErrTypeConnectionRefused:
		return "Connection Refused"
	case ErrTypeAPI:
		return "API Error"
	default:
		return fmt.Sprintf("ErrorType(%d)", et)
	}
}

// DeviceError represents an error that occurred during device communication
type DeviceError struct {
	Type           ErrorType
	Message        string
	StatusCode     int
	Err            error
	NetworkSubtype NetworkErrorSubtype
	DeviceIP       string
	Retryable      bool
}

// Error implements the error interface
func (e *DeviceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for error chain inspection
func (e *DeviceError) Unwrap() error {
	return e.Err
}

// ClassifyNetworkError analyzes a transport error and decides whether it is
// worth retrying. A camera that is still booting refuses connections or
// times out; both are transient.
func ClassifyNetworkError(err error, deviceIP string) *DeviceError {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return &DeviceError{
			Type:           ErrTypeTimeout,
			Message:        "request timed out",
			Err:            err,
			NetworkSubtype: NetworkErrorTimeout,
			DeviceIP:       deviceIP,
			Retryable:      true,
		}
	}

	if errors.Is(err, context.Canceled) {
		return &DeviceError{
			Type:      ErrTypeNetwork,
			Message:   "request cancelled",
			Err:       err,
			DeviceIP:  deviceIP,
			Retryable: false,
		}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch {
		case errors.Is(opErr.Err, syscall.ECONNREFUSED):
			return &DeviceError{
				Type:           ErrTypeConnectionRefused,
				Message:        "device refused connection",
				Err:            err,
				NetworkSubtype: NetworkErrorConnectionRefused,
				DeviceIP:       deviceIP,
				Retryable:      true,
			}
		case errors.Is(opErr.Err, syscall.EHOSTUNREACH):
			return &DeviceError{
				Type:           ErrTypeNetwork,
				Message:        "host unreachable",
				Err:            err,
				NetworkSubtype: NetworkErrorHostUnreachable,
				DeviceIP:       deviceIP,
				Retryable:      true,
			}
		case errors.Is(opErr.Err, syscall.ENETUNREACH):
			return &DeviceError{
				Type:           ErrTypeNetwork,
				Message:        "network unreachable",
				Err:            err,
				NetworkSubtype: NetworkErrorNetworkUnreachable,
				DeviceIP:       deviceIP,
				Retryable:      true,
			}
		case errors.Is(opErr.Err, syscall.ECONNRESET):
			return &DeviceError{
				Type:           ErrTypeNetwork,
				Message:        "connection reset",
				Err:            err,
				NetworkSubtype: NetworkErrorReset,
				DeviceIP:       deviceIP,
				Retryable:      true,
			}
		}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		return ClassifyNetworkError(urlErr.Err, deviceIP)
	}

	return &DeviceError{
		Type:           ErrTypeNetwork,
		Message:        "network error occurred",
		Err:            err,
		NetworkSubtype: NetworkErrorGeneral,
		DeviceIP:       deviceIP,
		Retryable:      true,
	}
}

// NewNetworkError creates a network-level error with automatic classification
func NewNetworkError(message string, deviceIP string, err error) *DeviceError {
	classified := ClassifyNetworkError(err, deviceIP)
	if classified != nil {
		classified.Message = message + ": " + classified.Message
		return classified
	}
	return &DeviceError{
		Type:      ErrTypeNetwork,
		Message:   message,
		DeviceIP:  deviceIP,
		Retryable: true,
	}
}

// NewAuthError creates an authentication error. Confirmed credential
// rejection is never retried.
func NewAuthError(message string) *DeviceError {
	return &DeviceError{
		Type:       ErrTypeAuth,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
		Retryable:  false,
	}
}

// NewHTTPError creates an HTTP-level error
func NewHTTPError(statusCode int, message string) *DeviceError {
	return &DeviceError{
		Type:       ErrTypeHTTP,
		Message:    message,
		StatusCode: statusCode,
		Retryable:  statusCode >= 500 || statusCode == http.StatusServiceUnavailable,
	}
}

// NewParseError creates a parsing error
func NewParseError(message string, err error) *DeviceError {
	return &DeviceError{
		Type:      ErrTypeParse,
		Message:   message,
		Err:       err,
		Retryable: false,
	}
}

// NewAPIError creates an error for a well-formed error response.
func NewAPIError(message string) *DeviceError {
	return &DeviceError{
		Type:      ErrTypeAPI,
		Message:   message,
		Retryable: false,
	}
}

// NewValidationError creates a validation error
func NewValidationError(message string) *DeviceError {
	return &DeviceError{
		Type:      ErrTypeValidation,
		Message:   message,
		Retryable: false,
	}
}

// IsAuthError checks if an error is an authentication error
func IsAuthError(err error) bool {
	var devErr *DeviceError
	return errors.As(err, &devErr) && devErr.Type == ErrTypeAuth
}

// IsHTTPStatus checks if an error is an HTTP error with the given status.
func IsHTTPStatus(err error, status int) bool {
	var devErr *DeviceError
	return errors.As(err, &devErr) && devErr.Type == ErrTypeHTTP && devErr.StatusCode == status
}

// IsRetryable checks if an error should be retried
func IsRetryable(err error) bool {
	var devErr *DeviceError
	if errors.As(err, &devErr) {
		return devErr.Retryable
	}
	// Unknown errors are not retryable by default
	return false
}

// ShortMessage returns a concise operator-facing description of err.
func ShortMessage(err error) string {
	var devErr *DeviceError
	if !errors.As(err, &devErr) {
		return err.Error()
	}

	switch devErr.Type {
	case ErrTypeTimeout:
		return "device not responding (timeout)"
	case ErrTypeConnectionRefused:
		return "device refused connection, it may still be booting"
	case ErrTypeAuth:
		return "authentication failed, check credentials"
	case ErrTypeNetwork:
		switch devErr.NetworkSubtype {
		case NetworkErrorHostUnreachable:
			return "device unreachable, check cabling and responder interface"
		case NetworkErrorNetworkUnreachable:
			return "network unreachable, check host addressing"
		case NetworkErrorReset:
			return "connection reset by device"
		default:
			return devErr.Message
		}
	case ErrTypeHTTP:
		if devErr.Message != "" {
			return fmt.Sprintf("device error (HTTP %d): %s", devErr.StatusCode, devErr.Message)
		}
		return fmt.Sprintf("device error (HTTP %d)", devErr.StatusCode)
	default:
		return devErr.Message
	}
}

// ResultFromError converts a call error into a Result carrying its
// transient classification. A nil error is a success with message ok.
func ResultFromError(err error, ok string) Result {
	if err == nil {
		return Result{Success: true, Message: ok}
	}
	return Result{
		Message:   ShortMessage(err),
		Transient: IsRetryable(err),
	}
}
