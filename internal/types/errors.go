package types

import (
	"errors"
	"fmt"
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds a consistent API error payload.
// details can be string, map, struct, etc.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// Sentinel errors for the provisioning pipeline. Components wrap these
// with fmt.Errorf("…: %w", err) so callers can match via errors.Is.
var (
	// ErrConnection means the serial port could not be claimed at all
	// (not found, already in use, permission denied).
	ErrConnection = errors.New("connection error")

	// ErrTransport means the port dropped mid-operation. Fatal to the
	// current session.
	ErrTransport = errors.New("transport error")

	// ErrCommandTimeout means no matching response arrived within the
	// command timeout window.
	ErrCommandTimeout = errors.New("command timeout")

	// ErrChecksum marks a malformed frame. The frame is discarded, the
	// stream keeps going.
	ErrChecksum = errors.New("checksum mismatch")

	// ErrDuplicateEpc is reported by the tag repository on insert when
	// the EPC already exists.
	ErrDuplicateEpc = errors.New("duplicate epc")

	// ErrDeviceBusy means the transport is already claimed by another
	// session. Surfaced immediately, never queued.
	ErrDeviceBusy = errors.New("device busy")

	// ErrSessionNotRunning is returned by stop on an idle session.
	ErrSessionNotRunning = errors.New("session not running")
)

// Module error codes as reported in the first response payload byte.
const (
	ModuleCodeSuccess        byte = 0x10
	ModuleCodeInvalidCommand byte = 0x11
	ModuleCodeInvalidParam   byte = 0x12
	ModuleCodeMemoryOverrun  byte = 0x13
	ModuleCodeMemoryLocked   byte = 0x14
	ModuleCodeTagNotFound    byte = 0x15
	ModuleCodeReadFailed     byte = 0x16
	ModuleCodeWriteFailed    byte = 0x17
	ModuleCodeLockFailed     byte = 0x18
)

// ModuleError is a semantic failure reported by the reader module itself.
type ModuleError struct {
	Code byte
}

func (e *ModuleError) Error() string {
	return fmt.Sprintf("module error 0x%02X: %s", e.Code, moduleErrorMessage(e.Code))
}

// Retryable reports whether the state machine may retry the operation.
// "Tag not found" and transient read/write failures usually mean the tag
// moved out of field; locked memory never recovers by retrying.
func (e *ModuleError) Retryable() bool {
	switch e.Code {
	case ModuleCodeTagNotFound, ModuleCodeReadFailed, ModuleCodeWriteFailed, ModuleCodeLockFailed:
		return true
	default:
		return false
	}
}

func moduleErrorMessage(code byte) string {
	switch code {
	case ModuleCodeInvalidCommand:
		return "invalid command"
	case ModuleCodeInvalidParam:
		return "invalid parameter"
	case ModuleCodeMemoryOverrun:
		return "memory overrun"
	case ModuleCodeMemoryLocked:
		return "memory locked"
	case ModuleCodeTagNotFound:
		return "tag not found"
	case ModuleCodeReadFailed:
		return "read failed"
	case ModuleCodeWriteFailed:
		return "write failed"
	case ModuleCodeLockFailed:
		return "lock failed"
	default:
		return "unknown error"
	}
}
