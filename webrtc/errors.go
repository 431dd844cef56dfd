package webrtc

import (
	"errors"
	"fmt"
)

// Sentinels matched by the typed errors below through errors.Is.
var (
	// ErrCredentialRequest is matched by every *CredentialRequestError.
	ErrCredentialRequest = errors.New("webrtc: credential request failed")

	// ErrCredentialFormat is matched by every *CredentialFormatError.
	ErrCredentialFormat = errors.New("webrtc: unrecognized credential format")

	// ErrMicrophoneAccess is matched by every *MicrophoneAccessError.
	ErrMicrophoneAccess = errors.New("webrtc: microphone unavailable")

	// ErrNegotiation is matched by every *TransportNegotiationError.
	ErrNegotiation = errors.New("webrtc: transport negotiation failed")

	// ErrTransportClosed is returned by Send after the transport was torn down.
	ErrTransportClosed = errors.New("webrtc: transport is closed")
)

// CredentialRequestError reports a failed call to the session-minting endpoint.
// Status is zero when the request never produced an HTTP response.
type CredentialRequestError struct {
	URL    string
	Status int
	Body   string
	Cause  error
}

func (e *CredentialRequestError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("webrtc: credential request to %q failed: %v", e.URL, e.Cause)
	}
	if e.Body != "" {
		return fmt.Sprintf("webrtc: credential request to %q failed: status %d: %s", e.URL, e.Status, e.Body)
	}
	return fmt.Sprintf("webrtc: credential request to %q failed: status %d", e.URL, e.Status)
}

func (e *CredentialRequestError) Unwrap() error        { return e.Cause }
func (e *CredentialRequestError) Is(target error) bool { return target == ErrCredentialRequest }

// CredentialFormatError reports a minting response whose client secret matched
// none of the accepted shapes.
type CredentialFormatError struct {
	Reason string
	Cause  error
}

func (e *CredentialFormatError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("webrtc: cannot extract ephemeral token: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("webrtc: cannot extract ephemeral token: %s", e.Reason)
}

func (e *CredentialFormatError) Unwrap() error        { return e.Cause }
func (e *CredentialFormatError) Is(target error) bool { return target == ErrCredentialFormat }

// MicrophoneAccessError reports that the local audio source could not be captured.
type MicrophoneAccessError struct {
	Source string
	Cause  error
}

func (e *MicrophoneAccessError) Error() string {
	return fmt.Sprintf("webrtc: microphone access failed (%s): %v", e.Source, e.Cause)
}

func (e *MicrophoneAccessError) Unwrap() error        { return e.Cause }
func (e *MicrophoneAccessError) Is(target error) bool { return target == ErrMicrophoneAccess }

// TransportNegotiationError reports a failure while building the peer connection,
// during the offer/answer exchange, or an ICE failure reported afterwards.
type TransportNegotiationError struct {
	Stage  string // peer_connection, add_track, data_channel, offer, gathering, signaling, answer, ice
	Status int    // signaling HTTP status, when Stage is "signaling"
	Body   string
	Cause  error
}

func (e *TransportNegotiationError) Error() string {
	switch {
	case e.Status != 0 && e.Body != "":
		return fmt.Sprintf("webrtc: negotiation failed at %s: status %d: %s", e.Stage, e.Status, e.Body)
	case e.Status != 0:
		return fmt.Sprintf("webrtc: negotiation failed at %s: status %d", e.Stage, e.Status)
	case e.Cause != nil:
		return fmt.Sprintf("webrtc: negotiation failed at %s: %v", e.Stage, e.Cause)
	}
	return fmt.Sprintf("webrtc: negotiation failed at %s", e.Stage)
}

func (e *TransportNegotiationError) Unwrap() error        { return e.Cause }
func (e *TransportNegotiationError) Is(target error) bool { return target == ErrNegotiation }

func negotiationError(stage string, cause error) *TransportNegotiationError {
	return &TransportNegotiationError{Stage: stage, Cause: cause}
}
