package interviewrt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/enesunal-m/interviewrt/webrtc"
)

// EnvPrefix prefixes the environment variables that override file settings,
// e.g. INTERVIEWRT_TOKEN_URL.
const EnvPrefix = "INTERVIEWRT"

// FileConfig is the on-disk configuration shared by the binaries.
type FileConfig struct {
	TokenURL               string        `mapstructure:"token_url"`
	TokenBearer            string        `mapstructure:"token_bearer"`
	SignalingURL           string        `mapstructure:"signaling_url"`
	Model                  string        `mapstructure:"model"`
	Voice                  string        `mapstructure:"voice"`
	STUNServer             string        `mapstructure:"stun_server"`
	SettleDelay            time.Duration `mapstructure:"settle_delay"`
	NegotiationTimeout     time.Duration `mapstructure:"negotiation_timeout"`
	DisconnectOnICEFailure bool          `mapstructure:"disconnect_on_ice_failure"`
	LogLevel               string        `mapstructure:"log_level"`

	Listen         string   `mapstructure:"listen"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	DefaultPrompt  string   `mapstructure:"default_prompt"`
	RecordDir      string   `mapstructure:"record_dir"`
	MicrophoneFile string   `mapstructure:"microphone_file"`
	TranscribeURL  string   `mapstructure:"transcribe_url"`
	DatabaseURL    string   `mapstructure:"database_url"`
	ArchiveDir     string   `mapstructure:"archive_dir"`
}

func setConfigDefaults(v *viper.Viper) {
	v.SetDefault("token_url", "http://localhost:8080/api/realtime")
	v.SetDefault("token_bearer", "")
	v.SetDefault("signaling_url", webrtc.DefaultSignalingURL)
	v.SetDefault("model", webrtc.DefaultModel)
	v.SetDefault("voice", webrtc.DefaultVoice)
	v.SetDefault("stun_server", webrtc.DefaultSTUNServer)
	v.SetDefault("settle_delay", webrtc.DefaultSettleDelay.String())
	v.SetDefault("negotiation_timeout", DefaultNegotiationTimeout.String())
	v.SetDefault("disconnect_on_ice_failure", false)
	v.SetDefault("log_level", "info")

	v.SetDefault("listen", ":8090")
	v.SetDefault("allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("default_prompt", "")
	v.SetDefault("record_dir", "")
	v.SetDefault("microphone_file", "")
	v.SetDefault("transcribe_url", "")
	v.SetDefault("database_url", "")
	v.SetDefault("archive_dir", "")
}

// NewViper returns a viper instance reading path, or interviewrt.{yaml,json,toml}
// from the working directory and ./configs when path is empty. A missing
// default file is not an error; a missing explicit path is.
func NewViper(path string) (*viper.Viper, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("interviewrt")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setConfigDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("interviewrt: read config: %w", err)
		}
	}
	return v, nil
}

// DecodeConfig unmarshals the current settings of v.
func DecodeConfig(v *viper.Viper) (FileConfig, error) {
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return FileConfig{}, fmt.Errorf("interviewrt: decode config: %w", err)
	}
	if fc.SettleDelay < 0 {
		return FileConfig{}, NewConfigError("settle_delay", fc.SettleDelay.String(), "must not be negative")
	}
	if fc.NegotiationTimeout < 0 {
		return FileConfig{}, NewConfigError("negotiation_timeout", fc.NegotiationTimeout.String(), "must not be negative")
	}
	return fc, nil
}

// LoadConfig reads a YAML, JSON or TOML file with INTERVIEWRT_* overrides.
func LoadConfig(path string) (FileConfig, error) {
	v, err := NewViper(path)
	if err != nil {
		return FileConfig{}, err
	}
	return DecodeConfig(v)
}

// ManagerConfig builds a Manager configuration from the file settings.
func (fc FileConfig) ManagerConfig(audio webrtc.AudioSource, sink webrtc.AudioSink) Config {
	cfg := Config{
		TokenURL:               fc.TokenURL,
		SignalingURL:           fc.SignalingURL,
		Model:                  fc.Model,
		Voice:                  fc.Voice,
		STUNServer:             fc.STUNServer,
		SettleDelay:            fc.SettleDelay,
		NegotiationTimeout:     fc.NegotiationTimeout,
		DisconnectOnICEFailure: fc.DisconnectOnICEFailure,
		AudioSource:            audio,
		AudioSink:              sink,
	}
	if fc.TokenBearer != "" {
		cfg.TokenAuth = webrtc.Bearer(fc.TokenBearer)
		cfg.TokenHeaders = webrtc.ProtocolHeader()
	}
	return cfg
}
