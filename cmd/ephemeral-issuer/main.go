// Server that mints ephemeral realtime credentials for browser WebRTC clients.
// Optional OIDC verification of callers, CORS and a circuit breaker around the
// upstream sessions endpoint.
package main

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/enesunal-m/interviewrt"
	"github.com/enesunal-m/interviewrt/webrtc"
)

func loadSettings() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("addr", ":8080")
	v.SetDefault("openai_api_key", "")
	v.SetDefault("openai_sessions_url", webrtc.DefaultSessionsURL)
	v.SetDefault("openai_model", webrtc.DefaultModel)
	v.SetDefault("openai_voice", webrtc.DefaultVoice)
	v.SetDefault("mint_timeout", "10s")
	v.SetDefault("breaker_failures", 5)
	v.SetDefault("breaker_recovery", "30s")
	v.SetDefault("oidc_issuer", "")
	v.SetDefault("oidc_audience", "")
	v.SetDefault("oidc_token_type", "access")
	v.SetDefault("cors_allowed_origins", "")
	return v
}

// newUpstream builds the broker that mints sessions with the server API key.
func newUpstream(v *viper.Viper, apiKey string) *webrtc.Broker {
	upstream := webrtc.NewBroker(v.GetString("openai_sessions_url"), webrtc.Bearer(apiKey))
	upstream.Model = v.GetString("openai_model")
	upstream.Voice = v.GetString("openai_voice")
	upstream.Header = webrtc.ProtocolHeader()
	return upstream
}

func main() {
	v := loadSettings()
	logger := interviewrt.NewLoggerFromEnv()

	apiKey := v.GetString("openai_api_key")
	if apiKey == "" {
		log.Fatal("missing env OPENAI_API_KEY")
	}

	is := &issuer{
		upstream: newUpstream(v, apiKey),
		breaker: interviewrt.NewCircuitBreaker(interviewrt.CircuitBreakerConfig{
			FailureThreshold: v.GetInt("breaker_failures"),
			RecoveryTimeout:  v.GetDuration("breaker_recovery"),
			SuccessThreshold: 1,
		}),
		log:     logger.WithContext(map[string]any{"service": "ephemeral-issuer"}),
		timeout: v.GetDuration("mint_timeout"),
	}

	if iss := v.GetString("oidc_issuer"); iss != "" {
		aud := v.GetString("oidc_audience")
		if aud == "" {
			log.Fatal("missing env OIDC_AUDIENCE")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		a, err := newAuthenticator(ctx, iss, aud, v.GetString("oidc_token_type"))
		cancel()
		if err != nil {
			log.Fatalf("oidc: %v", err)
		}
		is.auth = a
		log.Println("OIDC enabled", iss, "aud", aud, "type", v.GetString("oidc_token_type"))
	} else {
		log.Println("OIDC disabled")
	}

	origins := splitCSV(v.GetString("cors_allowed_origins"))
	if len(origins) > 0 {
		log.Println("CORS allowed origins:", origins)
	}

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(is, origins),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Println("ephemeral-issuer on", addr)
	log.Fatal(srv.ListenAndServe())
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
