package interviewrt

import (
	"errors"
	"fmt"

	"github.com/enesunal-m/interviewrt/webrtc"
)

// Common error variables
var (
	// ErrInvalidConfig is returned when required configuration fields are missing.
	ErrInvalidConfig = errors.New("interviewrt: invalid configuration")

	// ErrChannelNotReady is matched by every *ChannelNotReadyError.
	ErrChannelNotReady = errors.New("interviewrt: event channel not ready")

	// ErrMalformedFrame is matched by every *MalformedFrameError.
	ErrMalformedFrame = errors.New("interviewrt: malformed frame")

	// ErrAborted is recorded when Disconnect interrupts a connection attempt.
	ErrAborted = errors.New("interviewrt: connection attempt aborted")

	// Re-exported from package webrtc so callers can match without importing it.
	ErrCredentialRequest = webrtc.ErrCredentialRequest
	ErrCredentialFormat  = webrtc.ErrCredentialFormat
	ErrMicrophoneAccess  = webrtc.ErrMicrophoneAccess
	ErrNegotiation       = webrtc.ErrNegotiation
)

// Errors produced by the token broker and the transport negotiator.
type (
	CredentialRequestError    = webrtc.CredentialRequestError
	CredentialFormatError     = webrtc.CredentialFormatError
	MicrophoneAccessError     = webrtc.MicrophoneAccessError
	TransportNegotiationError = webrtc.TransportNegotiationError
)

// ConfigError represents a configuration validation error.
// It provides detailed information about which configuration field is invalid.
type ConfigError struct {
	Field   string // The configuration field that is invalid
	Value   string // The invalid value (if safe to log)
	Message string // Detailed error message
}

func (e *ConfigError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("interviewrt: invalid config field %q (value: %q): %s", e.Field, e.Value, e.Message)
	}
	return fmt.Sprintf("interviewrt: invalid config field %q: %s", e.Field, e.Message)
}

// Is implements error matching for ConfigError.
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// NewConfigError creates a new configuration error.
func NewConfigError(field, value, message string) *ConfigError {
	return &ConfigError{Field: field, Value: value, Message: message}
}

// ChannelNotReadyError is recorded when a message is sent while the event
// channel is absent or not open. The message is dropped.
type ChannelNotReadyError struct {
	Phase Phase
}

func (e *ChannelNotReadyError) Error() string {
	return fmt.Sprintf("interviewrt: cannot send message, event channel not open (phase %s)", e.Phase)
}

// Is implements error matching for ChannelNotReadyError.
func (e *ChannelNotReadyError) Is(target error) bool { return target == ErrChannelNotReady }

// MalformedFrameError reports an inbound frame that is not valid JSON.
// The session manager swallows it.
type MalformedFrameError struct {
	Frame []byte
	Cause error
}

func (e *MalformedFrameError) Error() string {
	return fmt.Sprintf("interviewrt: malformed frame (%d bytes): %v", len(e.Frame), e.Cause)
}

// Unwrap returns the underlying decoding error.
func (e *MalformedFrameError) Unwrap() error { return e.Cause }

// Is implements error matching for MalformedFrameError.
func (e *MalformedFrameError) Is(target error) bool { return target == ErrMalformedFrame }

// SendError wraps a failure while writing a frame to the event channel.
type SendError struct {
	EventType string
	Cause     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("interviewrt: failed to send %s event: %v", e.EventType, e.Cause)
}

// Unwrap returns the underlying error.
func (e *SendError) Unwrap() error { return e.Cause }

// describe renders err as the human-readable text stored in SessionState.Error.
func describe(err error) string {
	var (
		reqErr    *CredentialRequestError
		formatErr *CredentialFormatError
		micErr    *MicrophoneAccessError
		negErr    *TransportNegotiationError
		notReady  *ChannelNotReadyError
		sendErr   *SendError
	)
	switch {
	case errors.As(err, &reqErr):
		if reqErr.Status != 0 {
			return fmt.Sprintf("Failed to obtain session token: status %d. %s", reqErr.Status, reqErr.Body)
		}
		return fmt.Sprintf("Failed to obtain session token: %v", reqErr.Cause)
	case errors.As(err, &formatErr):
		return "Failed to obtain session token: unexpected response format"
	case errors.As(err, &micErr):
		return fmt.Sprintf("Microphone access error: %v", micErr.Cause)
	case errors.As(err, &negErr):
		if negErr.Stage == "ice" {
			return fmt.Sprintf("ICE connection error: %v", negErr.Cause)
		}
		return fmt.Sprintf("Failed to connect to realtime API: %v", negErr)
	case errors.As(err, &notReady):
		return "Connection not established. Cannot send message."
	case errors.As(err, &sendErr):
		return fmt.Sprintf("Failed to send message: %v", sendErr.Cause)
	case errors.Is(err, ErrAborted):
		return ""
	}
	return fmt.Sprintf("Failed to connect to realtime API: %v", err)
}
