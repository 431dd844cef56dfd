package interviewrt

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigError(t *testing.T) {
	tests := []struct {
		name          string
		field         string
		value         string
		message       string
		expectedError string
	}{
		{
			name:          "with value",
			field:         "TokenURL",
			value:         "ftp://issuer",
			message:       "URL must use http or https scheme",
			expectedError: `interviewrt: invalid config field "TokenURL" (value: "ftp://issuer"): URL must use http or https scheme`,
		},
		{
			name:          "without value",
			field:         "AudioSource",
			message:       "an audio source is required",
			expectedError: `interviewrt: invalid config field "AudioSource": an audio source is required`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewConfigError(tt.field, tt.value, tt.message)
			assert.EqualError(t, err, tt.expectedError)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}
}

func TestErrorMatching(t *testing.T) {
	cause := errors.New("underlying")
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"channel not ready", &ChannelNotReadyError{Phase: PhaseIdle}, ErrChannelNotReady},
		{"malformed frame", &MalformedFrameError{Frame: []byte("{"), Cause: cause}, ErrMalformedFrame},
		{"credential request", &CredentialRequestError{Status: 500}, ErrCredentialRequest},
		{"credential format", &CredentialFormatError{Reason: "no token"}, ErrCredentialFormat},
		{"microphone", &MicrophoneAccessError{Source: "file", Cause: cause}, ErrMicrophoneAccess},
		{"negotiation", &TransportNegotiationError{Stage: "offer", Cause: cause}, ErrNegotiation},
		{"transcription", &TranscriptionError{Status: 500}, ErrTranscription},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, errors.Is(tt.err, tt.sentinel))
			assert.True(t, errors.Is(fmt.Errorf("wrapped: %w", tt.err), tt.sentinel))
			assert.False(t, errors.Is(tt.err, ErrInvalidConfig))
		})
	}

	assert.True(t, errors.Is(&MalformedFrameError{Cause: cause}, cause))
	assert.True(t, errors.Is(&SendError{EventType: EventMessage, Cause: cause}, cause))
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "credential status",
			err:  &CredentialRequestError{Status: 403, Body: "forbidden"},
			want: "Failed to obtain session token: status 403. forbidden",
		},
		{
			name: "credential network",
			err:  &CredentialRequestError{Cause: errors.New("dial tcp: refused")},
			want: "Failed to obtain session token: dial tcp: refused",
		},
		{
			name: "credential format",
			err:  &CredentialFormatError{Reason: "no client_secret"},
			want: "Failed to obtain session token: unexpected response format",
		},
		{
			name: "microphone",
			err:  &MicrophoneAccessError{Source: "file", Cause: errors.New("no such file")},
			want: "Microphone access error: no such file",
		},
		{
			name: "ice",
			err:  &TransportNegotiationError{Stage: "ice", Cause: errors.New("connection failed")},
			want: "ICE connection error: connection failed",
		},
		{
			name: "channel not ready",
			err:  &ChannelNotReadyError{Phase: PhaseConnected},
			want: "Connection not established. Cannot send message.",
		},
		{
			name: "send",
			err:  &SendError{EventType: EventMessage, Cause: errors.New("closed")},
			want: "Failed to send message: closed",
		},
		{
			name: "aborted",
			err:  ErrAborted,
			want: "",
		},
		{
			name: "other",
			err:  errors.New("strange"),
			want: "Failed to connect to realtime API: strange",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, describe(tt.err))
		})
	}
}
