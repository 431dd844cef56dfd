package interviewrt

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	pion "github.com/pion/webrtc/v3"

	"github.com/enesunal-m/interviewrt/webrtc"
)

// DefaultNegotiationTimeout bounds credential acquisition plus negotiation.
const DefaultNegotiationTimeout = 30 * time.Second

// CredentialSource obtains a single-use credential for one session.
// *webrtc.Broker implements it.
type CredentialSource interface {
	Acquire(ctx context.Context) (webrtc.Credential, error)
}

// TransportFactory negotiates a transport with a credential.
// *webrtc.Negotiator implements it.
type TransportFactory interface {
	Negotiate(ctx context.Context, cred webrtc.Credential, systemPrompt string) (webrtc.Transport, error)
}

// Config holds all configuration options for a session Manager.
type Config struct {
	// TokenURL is the endpoint that mints ephemeral credentials.
	// Required unless Broker is set.
	TokenURL string

	// TokenAuth authorizes the minting request. Browser-facing issuers
	// usually need none; direct upstream calls need webrtc.Bearer.
	TokenAuth webrtc.Authorizer

	// TokenHeaders are added to the minting request.
	TokenHeaders http.Header

	// SignalingURL receives the SDP offer. Default: webrtc.DefaultSignalingURL.
	SignalingURL string

	// Model and Voice select the remote conversational model.
	Model string
	Voice string

	// STUNServer is the single ICE server used. Default: webrtc.DefaultSTUNServer.
	STUNServer string

	// SettleDelay is waited between receiving the answer and applying it.
	// Default: webrtc.DefaultSettleDelay.
	SettleDelay time.Duration

	// NegotiationTimeout bounds one Connect. Default: 30 seconds.
	NegotiationTimeout time.Duration

	// DisconnectOnICEFailure tears the session down when ICE reports
	// failed or disconnected after connect. Otherwise the error is advisory.
	DisconnectOnICEFailure bool

	// AudioSource provides the local microphone. Required unless Negotiator is set.
	AudioSource webrtc.AudioSource

	// AudioSink receives the remote audio track. Optional.
	AudioSink webrtc.AudioSink

	// EventQueueSize bounds the transport's event queue. Default: webrtc.DefaultEventQueueSize.
	EventQueueSize int

	// HTTPClient is used for minting and signaling. Default: a client with a
	// 15s timeout for minting and one with a 20s timeout for signaling.
	HTTPClient *http.Client

	// Logger is called for info and higher events such as connect_start,
	// connected, connect_failed, send_dropped, ice_failure and disconnected.
	// Of the debug events only bad_event_json is forwarded.
	Logger func(event string, fields map[string]any)

	// StructuredLogger takes precedence over Logger when both are set.
	StructuredLogger *Logger

	// OnSessionEnd receives the record of every connected session after it
	// was torn down. It runs outside the manager lock and should not block.
	OnSessionEnd func(SessionRecord)

	// Broker and Negotiator replace the HTTP/WebRTC implementations built
	// from the fields above.
	Broker     CredentialSource
	Negotiator TransportFactory
}

// ValidateConfig performs validation of the configuration.
func ValidateConfig(cfg Config) error {
	if cfg.Broker == nil {
		if cfg.TokenURL == "" {
			return NewConfigError("TokenURL", "", "token endpoint is required")
		}
		if err := validateHTTPURL(cfg.TokenURL); err != nil {
			return NewConfigError("TokenURL", cfg.TokenURL, err.Error())
		}
	}
	if cfg.Negotiator == nil {
		if cfg.AudioSource == nil {
			return NewConfigError("AudioSource", "", "an audio source is required")
		}
		if cfg.SignalingURL != "" {
			if err := validateHTTPURL(cfg.SignalingURL); err != nil {
				return NewConfigError("SignalingURL", cfg.SignalingURL, err.Error())
			}
		}
	}
	if cfg.SettleDelay < 0 {
		return NewConfigError("SettleDelay", cfg.SettleDelay.String(), "must not be negative")
	}
	if cfg.NegotiationTimeout < 0 {
		return NewConfigError("NegotiationTimeout", cfg.NegotiationTimeout.String(), "must not be negative")
	}
	if cfg.EventQueueSize < 0 {
		return NewConfigError("EventQueueSize", "", "must not be negative")
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("URL must use http or https scheme")
	}
	if u.Host == "" {
		return errors.New("URL must include a host")
	}
	return nil
}

func (cfg Config) negotiationTimeout() time.Duration {
	if cfg.NegotiationTimeout > 0 {
		return cfg.NegotiationTimeout
	}
	return DefaultNegotiationTimeout
}

// broker returns the configured credential source or builds one.
func (cfg Config) broker() CredentialSource {
	if cfg.Broker != nil {
		return cfg.Broker
	}
	b := webrtc.NewBroker(cfg.TokenURL, cfg.TokenAuth)
	if cfg.Model != "" {
		b.Model = cfg.Model
	}
	if cfg.Voice != "" {
		b.Voice = cfg.Voice
	}
	b.Header = cfg.TokenHeaders
	b.HTTPClient = cfg.HTTPClient
	return b
}

// negotiator returns the configured transport factory or builds one.
func (cfg Config) negotiator(logf func(string, ...any)) TransportFactory {
	if cfg.Negotiator != nil {
		return cfg.Negotiator
	}
	n := webrtc.NewNegotiator(cfg.AudioSource)
	if cfg.SignalingURL != "" {
		n.SignalingURL = cfg.SignalingURL
	}
	if cfg.Model != "" {
		n.Model = cfg.Model
	}
	if cfg.STUNServer != "" {
		n.ICEServers = []pion.ICEServer{{URLs: []string{cfg.STUNServer}}}
	}
	if cfg.SettleDelay > 0 {
		n.SettleDelay = cfg.SettleDelay
	}
	n.QueueSize = cfg.EventQueueSize
	n.HTTPClient = cfg.HTTPClient
	n.Logf = logf
	return n
}
