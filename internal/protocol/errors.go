package protocol

import (
	"fmt"
)

// Error codes for frame handling
const (
	// Decode errors
	ErrCodeMalformedFrame = "MALFORMED_FRAME"
	ErrCodeUnknownType    = "UNKNOWN_TYPE"

	// Validation errors
	ErrCodeMissingField    = "MISSING_FIELD"
	ErrCodeInvalidField    = "INVALID_FIELD"
	ErrCodePayloadTooLarge = "PAYLOAD_TOO_LARGE"

	// Dispatch errors
	ErrCodeUnavailable   = "CAPABILITY_UNAVAILABLE"
	ErrCodeNotRegistered = "NOT_REGISTERED"
)

// FrameError is surfaced to the originating peer as an error frame. The
// message is short and never carries internals.
type FrameError struct {
	Code    string
	Message string
	Cause   error
}

func (e *FrameError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *FrameError) Unwrap() error {
	return e.Cause
}

// NewFrameError creates a frame error with the given code.
func NewFrameError(code, message string) *FrameError {
	return &FrameError{Code: code, Message: message}
}

// Common constructors

func ErrMalformed(cause error) *FrameError {
	return &FrameError{Code: ErrCodeMalformedFrame, Message: "Invalid message format", Cause: cause}
}

func ErrUnknownType(frameType string) *FrameError {
	return NewFrameError(ErrCodeUnknownType, fmt.Sprintf("Unknown message type: %s", frameType))
}

func ErrMissingField(field string) *FrameError {
	return NewFrameError(ErrCodeMissingField, fmt.Sprintf("Missing required field: %s", field))
}

func ErrInvalidField(field string) *FrameError {
	return NewFrameError(ErrCodeInvalidField, fmt.Sprintf("Invalid field: %s", field))
}

func ErrPayloadTooLarge(got, limit int) *FrameError {
	return NewFrameError(ErrCodePayloadTooLarge,
		fmt.Sprintf("Payload too large: %d bytes exceeds limit of %d bytes", got, limit))
}

func ErrUnavailable(capability string) *FrameError {
	return NewFrameError(ErrCodeUnavailable, fmt.Sprintf("Capability not available: %s", capability))
}

func ErrNotRegistered() *FrameError {
	return NewFrameError(ErrCodeNotRegistered, "Connection has no registered peer")
}
