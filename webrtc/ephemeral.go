package webrtc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultSessionsURL is the upstream endpoint that mints realtime sessions.
	DefaultSessionsURL = "https://api.openai.com/v1/realtime/sessions"
	// DefaultModel is the realtime model requested when none is configured.
	DefaultModel = "gpt-4o-realtime-preview"
	// DefaultVoice is the voice requested when none is configured.
	DefaultVoice = "alloy"

	// maxErrorBody caps how much of an upstream error body is kept.
	maxErrorBody = 4096
)

// Authorizer applies server-side authentication to an outbound request.
type Authorizer interface{ Apply(h http.Header) }

// APIKey authenticates with an "api-key" header.
type APIKey string

// Apply sets the api-key header.
func (k APIKey) Apply(h http.Header) {
	if k != "" {
		h.Set("api-key", string(k))
	}
}

// Bearer authenticates with an "Authorization: Bearer" header.
type Bearer string

// Apply sets the Authorization header.
func (b Bearer) Apply(h http.Header) {
	if b != "" {
		h.Set("Authorization", "Bearer "+string(b))
	}
}

// Credential is a short-lived client secret scoped to one realtime session.
// It is consumed by exactly one negotiation and must not be logged.
type Credential struct {
	Token     string
	SessionID string
}

// String redacts the token.
func (c Credential) String() string {
	return fmt.Sprintf("Credential{session=%s token=[redacted]}", c.SessionID)
}

// GoString redacts the token for %#v.
func (c Credential) GoString() string { return c.String() }

// ProtocolHeader returns request headers carrying the OpenAI-Beta protocol
// version, with canonical keys so Get and Values find them.
func ProtocolHeader() http.Header {
	h := http.Header{}
	h.Set("OpenAI-Beta", ProtocolVersion)
	return h
}

// Broker exchanges a server-held credential for an ephemeral client credential.
// It performs a single request per Acquire and never retries.
type Broker struct {
	URL        string
	Model      string
	Voice      string
	Auth       Authorizer  // optional
	Header     http.Header // extra request headers, e.g. OpenAI-Beta
	HTTPClient *http.Client
}

// NewBroker returns a broker for url with default model and voice.
func NewBroker(url string, auth Authorizer) *Broker {
	return &Broker{URL: url, Model: DefaultModel, Voice: DefaultVoice, Auth: auth}
}

// Acquire requests a new session and returns its ephemeral credential.
func (b *Broker) Acquire(ctx context.Context) (Credential, error) {
	payload := map[string]any{"model": b.Model}
	if b.Voice != "" {
		payload["voice"] = b.Voice
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Credential{}, &CredentialRequestError{URL: b.URL, Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.URL, bytes.NewReader(body))
	if err != nil {
		return Credential{}, &CredentialRequestError{URL: b.URL, Cause: err}
	}
	for k, vals := range b.Header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	if b.Auth != nil {
		b.Auth.Apply(req.Header)
	}

	resp, err := b.client().Do(req)
	if err != nil {
		return Credential{}, &CredentialRequestError{URL: b.URL, Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Credential{}, &CredentialRequestError{URL: b.URL, Status: resp.StatusCode, Cause: err}
	}
	if resp.StatusCode/100 != 2 {
		return Credential{}, &CredentialRequestError{
			URL:    b.URL,
			Status: resp.StatusCode,
			Body:   truncate(strings.TrimSpace(string(raw)), maxErrorBody),
		}
	}
	return ParseCredential(raw)
}

func (b *Broker) client() *http.Client {
	if b.HTTPClient != nil {
		return b.HTTPClient
	}
	return &http.Client{Timeout: 15 * time.Second}
}

// sessionBody is the minting payload, either bare or under "data".
type sessionBody struct {
	Success      *bool           `json:"success,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	ID           string          `json:"id"`
	SessionID    string          `json:"session_id"`
	ClientSecret json.RawMessage `json:"client_secret"`
}

// ParseCredential extracts the ephemeral token and session id from a minting
// response. The client secret may be a string, {"value": string} or
// {"value": {"value": string}}, and the whole body may be wrapped in
// {"success": true, "data": {...}}.
func ParseCredential(raw []byte) (Credential, error) {
	var body sessionBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return Credential{}, &CredentialFormatError{Reason: "response is not a JSON object", Cause: err}
	}
	if len(body.Data) > 0 && string(body.Data) != "null" {
		var inner sessionBody
		if err := json.Unmarshal(body.Data, &inner); err != nil {
			return Credential{}, &CredentialFormatError{Reason: "data is not a JSON object", Cause: err}
		}
		body = inner
	}

	token, ok := normalizeSecret(body.ClientSecret, 0)
	if !ok || token == "" {
		return Credential{}, &CredentialFormatError{Reason: "client_secret missing or malformed"}
	}

	id := body.ID
	if id == "" {
		id = body.SessionID
	}
	return Credential{Token: token, SessionID: id}, nil
}

// normalizeSecret unwraps up to two levels of {"value": ...}.
func normalizeSecret(raw json.RawMessage, depth int) (string, bool) {
	if len(raw) == 0 || depth > 2 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var obj struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", false
	}
	return normalizeSecret(obj.Value, depth+1)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
