package interviewrt

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enesunal-m/interviewrt/webrtc"
)

func TestValidateConfig(t *testing.T) {
	mic := webrtc.ListenOnly{}
	tests := []struct {
		name      string
		cfg       Config
		wantField string
	}{
		{
			name: "valid",
			cfg:  Config{TokenURL: "http://localhost:8080/api/realtime", AudioSource: mic},
		},
		{
			name: "injected broker and negotiator",
			cfg:  Config{Broker: &fakeBroker{}, Negotiator: &fakeNegotiator{}},
		},
		{
			name:      "missing token url",
			cfg:       Config{AudioSource: mic},
			wantField: "TokenURL",
		},
		{
			name:      "token url wrong scheme",
			cfg:       Config{TokenURL: "ftp://issuer/api", AudioSource: mic},
			wantField: "TokenURL",
		},
		{
			name:      "token url without host",
			cfg:       Config{TokenURL: "http://", AudioSource: mic},
			wantField: "TokenURL",
		},
		{
			name:      "missing audio source",
			cfg:       Config{TokenURL: "https://issuer.example.com/api/realtime"},
			wantField: "AudioSource",
		},
		{
			name:      "bad signaling url",
			cfg:       Config{TokenURL: "https://issuer.example.com", AudioSource: mic, SignalingURL: "ws://api"},
			wantField: "SignalingURL",
		},
		{
			name:      "negative settle delay",
			cfg:       Config{Broker: &fakeBroker{}, Negotiator: &fakeNegotiator{}, SettleDelay: -time.Second},
			wantField: "SettleDelay",
		},
		{
			name:      "negative timeout",
			cfg:       Config{Broker: &fakeBroker{}, Negotiator: &fakeNegotiator{}, NegotiationTimeout: -time.Second},
			wantField: "NegotiationTimeout",
		},
		{
			name:      "negative queue size",
			cfg:       Config{Broker: &fakeBroker{}, Negotiator: &fakeNegotiator{}, EventQueueSize: -1},
			wantField: "EventQueueSize",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfig(tt.cfg)
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var ce *ConfigError
			require.True(t, errors.As(err, &ce), "got %v", err)
			assert.Equal(t, tt.wantField, ce.Field)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}
}

func TestConfigBuildsDefaults(t *testing.T) {
	cfg := Config{
		TokenURL:     "https://issuer.example.com/api/realtime",
		TokenAuth:    webrtc.Bearer("sk"),
		Model:        "gpt-4o-realtime-preview",
		Voice:        "alloy",
		STUNServer:   "stun:stun.example.com:3478",
		SettleDelay:  10 * time.Millisecond,
		AudioSource:  webrtc.ListenOnly{},
		SignalingURL: "https://signal.example.com/v1/realtime",
	}
	assert.Equal(t, DefaultNegotiationTimeout, cfg.negotiationTimeout())

	b, ok := cfg.broker().(*webrtc.Broker)
	require.True(t, ok)
	assert.Equal(t, cfg.TokenURL, b.URL)
	assert.Equal(t, "alloy", b.Voice)

	n, ok := cfg.negotiator(nil).(*webrtc.Negotiator)
	require.True(t, ok)
	assert.Equal(t, cfg.SignalingURL, n.SignalingURL)
	assert.Equal(t, cfg.Model, n.Model)
	assert.Equal(t, 10*time.Millisecond, n.SettleDelay)
	require.Len(t, n.ICEServers, 1)
	assert.Equal(t, []string{cfg.STUNServer}, n.ICEServers[0].URLs)

	injected := &fakeBroker{}
	cfg.Broker = injected
	assert.Same(t, injected, cfg.broker())
}

func writeConfigFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_YAML(t *testing.T) {
	path := writeConfigFile(t, "interviewrt.yaml", `
token_url: https://issuer.example.com/api/realtime
model: gpt-4o-mini-realtime-preview
settle_delay: 250ms
negotiation_timeout: 5s
disconnect_on_ice_failure: true
allowed_origins:
  - https://app.example.com
default_prompt: You are interviewing for a Go role.
`)

	fc, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://issuer.example.com/api/realtime", fc.TokenURL)
	assert.Equal(t, "gpt-4o-mini-realtime-preview", fc.Model)
	assert.Equal(t, 250*time.Millisecond, fc.SettleDelay)
	assert.Equal(t, 5*time.Second, fc.NegotiationTimeout)
	assert.True(t, fc.DisconnectOnICEFailure)
	assert.Equal(t, []string{"https://app.example.com"}, fc.AllowedOrigins)
	assert.Equal(t, "You are interviewing for a Go role.", fc.DefaultPrompt)

	// Unset keys fall back to defaults.
	assert.Equal(t, webrtc.DefaultVoice, fc.Voice)
	assert.Equal(t, webrtc.DefaultSTUNServer, fc.STUNServer)
	assert.Equal(t, ":8090", fc.Listen)
}

func TestLoadConfig_JSON(t *testing.T) {
	path := writeConfigFile(t, "interviewrt.json", `{"voice":"echo","listen":":9000"}`)

	fc, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "echo", fc.Voice)
	assert.Equal(t, ":9000", fc.Listen)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	path := writeConfigFile(t, "interviewrt.yaml", "model: from-file\n")
	t.Setenv("INTERVIEWRT_MODEL", "from-env")
	t.Setenv("INTERVIEWRT_SETTLE_DELAY", "75ms")

	fc, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", fc.Model)
	assert.Equal(t, 75*time.Millisecond, fc.SettleDelay)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := writeConfigFile(t, "interviewrt.yaml", "settle_delay: -1s\n")
	_, err = LoadConfig(path)
	var ce *ConfigError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "settle_delay", ce.Field)
}

func TestLoadConfig_NoFileUsesDefaults(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	fc, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, webrtc.DefaultModel, fc.Model)
	assert.Equal(t, webrtc.DefaultSettleDelay, fc.SettleDelay)
	assert.Equal(t, DefaultNegotiationTimeout, fc.NegotiationTimeout)
}

func TestFileConfig_ManagerConfig(t *testing.T) {
	fc := FileConfig{
		TokenURL:               "https://api.openai.com/v1/realtime/sessions",
		TokenBearer:            "sk-test",
		Model:                  "m",
		SettleDelay:            time.Second,
		DisconnectOnICEFailure: true,
	}
	mic := webrtc.ListenOnly{}
	cfg := fc.ManagerConfig(mic, nil)
	require.NoError(t, ValidateConfig(cfg))
	assert.Equal(t, fc.TokenURL, cfg.TokenURL)
	assert.True(t, cfg.DisconnectOnICEFailure)
	assert.Equal(t, webrtc.ProtocolVersion, cfg.TokenHeaders.Get("OpenAI-Beta"))

	require.NotNil(t, cfg.TokenAuth)
	h := http.Header{}
	cfg.TokenAuth.Apply(h)
	assert.Equal(t, "Bearer sk-test", h.Get("Authorization"))

	fc.TokenBearer = ""
	cfg = fc.ManagerConfig(mic, nil)
	assert.Nil(t, cfg.TokenAuth)
	assert.Nil(t, cfg.TokenHeaders)
}
