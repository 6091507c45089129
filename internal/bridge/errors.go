package bridge

import (
	"errors"
	"fmt"
	"time"
)

// BridgeError is a failure of one bridge cycle. None of them are fatal to
// the process; the cycle is abandoned and retried later.
type BridgeError struct {
	Type      ErrorType
	Component string
	Operation string
	Message   string
	Cause     error
	Timestamp time.Time
}

// ErrorType 桥接错误分类
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeCaptureUnavailable no source frame this tick
	ErrorTypeCaptureUnavailable
	// ErrorTypeProjectionSkipped a point or segment failed to project
	ErrorTypeProjectionSkipped
	// ErrorTypeEncodeFailure codec produced no output
	ErrorTypeEncodeFailure
	// ErrorTypeConnectFailure connect failed or timed out
	ErrorTypeConnectFailure
	// ErrorTypeIOFailure write or read failed on a live connection
	ErrorTypeIOFailure
	// ErrorTypeDecodeFailure response payload could not be decoded
	ErrorTypeDecodeFailure
)

// String returns the string representation of ErrorType
func (t ErrorType) String() string {
	switch t {
	case ErrorTypeCaptureUnavailable:
		return "CaptureUnavailable"
	case ErrorTypeProjectionSkipped:
		return "ProjectionSkipped"
	case ErrorTypeEncodeFailure:
		return "EncodeFailure"
	case ErrorTypeConnectFailure:
		return "ConnectFailure"
	case ErrorTypeIOFailure:
		return "IOFailure"
	case ErrorTypeDecodeFailure:
		return "DecodeFailure"
	default:
		return "Unknown"
	}
}

// Error implements the error interface
func (e *BridgeError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Type, e.Component)
	if e.Operation != "" {
		msg += "." + e.Operation
	}
	msg += ": " + e.Message
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause error
func (e *BridgeError) Unwrap() error {
	return e.Cause
}

// NewBridgeError creates a bridge error
func NewBridgeError(errorType ErrorType, component, operation, message string, cause error) *BridgeError {
	return &BridgeError{
		Type:      errorType,
		Component: component,
		Operation: operation,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

// NewCaptureUnavailableError creates a capture error
func NewCaptureUnavailableError(component string, cause error) *BridgeError {
	return NewBridgeError(ErrorTypeCaptureUnavailable, component, "capture", "no source frame", cause)
}

// NewEncodeError creates an encode error
func NewEncodeError(component string, cause error) *BridgeError {
	return NewBridgeError(ErrorTypeEncodeFailure, component, "encode", "encode failed", cause)
}

// NewConnectError creates a connect error
func NewConnectError(component, address string, cause error) *BridgeError {
	return NewBridgeError(ErrorTypeConnectFailure, component, "connect",
		fmt.Sprintf("connect to %s failed", address), cause)
}

// NewIOError creates an I/O error for a protocol step
func NewIOError(component, operation string, cause error) *BridgeError {
	return NewBridgeError(ErrorTypeIOFailure, component, operation, "connection I/O failed", cause)
}

// NewDecodeError creates a decode error
func NewDecodeError(component string, size int, cause error) *BridgeError {
	return NewBridgeError(ErrorTypeDecodeFailure, component, "decode",
		fmt.Sprintf("cannot decode %d byte payload", size), cause)
}

// GetBridgeError extracts a bridge error from an error chain
func GetBridgeError(err error) (*BridgeError, bool) {
	var be *BridgeError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// IsErrorType checks if an error is of a specific type
func IsErrorType(err error, errorType ErrorType) bool {
	if be, ok := GetBridgeError(err); ok {
		return be.Type == errorType
	}
	return false
}

// IsRetryable reports whether the error calls for a retry-interval backoff
// before the next cycle.
func IsRetryable(err error) bool {
	be, ok := GetBridgeError(err)
	if !ok {
		return false
	}
	return be.Type == ErrorTypeConnectFailure
}
