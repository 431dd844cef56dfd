package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	oidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/enesunal-m/interviewrt"
)

type clientSecret struct {
	Value string `json:"value"`
}

type sessionData struct {
	ClientSecret clientSecret `json:"client_secret"`
	ID           string       `json:"id"`
}

type sessionResponse struct {
	Success bool        `json:"success"`
	Data    sessionData `json:"data"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// issuer mints ephemeral realtime credentials on behalf of browser clients.
type issuer struct {
	upstream interviewrt.CredentialSource
	breaker  *interviewrt.CircuitBreaker
	auth     *authenticator // nil disables caller authentication
	log      *interviewrt.Logger
	timeout  time.Duration
}

func newRouter(is *issuer, allowedOrigins []string) http.Handler {
	r := mux.NewRouter()
	r.Handle("/api/realtime", is.authorize(http.HandlerFunc(is.handleRealtime))).Methods(http.MethodPost)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})
	return c.Handler(r)
}

func (is *issuer) handleRealtime(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), is.timeout)
	defer cancel()

	var cred struct{ token, id string }
	err := is.breaker.Execute(func() error {
		c, err := is.upstream.Acquire(ctx)
		if err != nil {
			return err
		}
		cred.token, cred.id = c.Token, c.SessionID
		return nil
	})
	switch {
	case errors.Is(err, interviewrt.ErrCircuitOpen):
		is.log.Warn("mint_rejected", map[string]any{"breaker": is.breaker.State().String()})
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "Realtime session service temporarily unavailable"})
		return
	case err != nil:
		is.log.Error("mint_failed", map[string]any{"err": err.Error()})
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: fmt.Sprintf("Failed to create realtime session: %v", err)})
		return
	}

	is.log.Info("mint_ok", map[string]any{"session_id": cred.id})
	writeJSON(w, http.StatusOK, sessionResponse{
		Success: true,
		Data:    sessionData{ClientSecret: clientSecret{Value: cred.token}, ID: cred.id},
	})
}

func (is *issuer) authorize(next http.Handler) http.Handler {
	if is.auth == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing bearer"})
			return
		}
		raw := strings.TrimSpace(header[len("Bearer "):])
		if err := is.auth.verify(r.Context(), raw); err != nil {
			is.log.Warn("auth_rejected", map[string]any{"err": err.Error()})
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authenticator checks caller tokens, either OIDC ID tokens or JWT access
// tokens signed by the issuer's JWKS.
type authenticator struct {
	issuer   string
	audience string
	verifier *oidc.IDTokenVerifier // ID tokens
	keyfunc  jwt.Keyfunc           // access tokens
}

func newAuthenticator(ctx context.Context, issuerURL, audience, tokenType string) (*authenticator, error) {
	prov, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}
	a := &authenticator{issuer: issuerURL, audience: audience}
	if tokenType == "id" {
		a.verifier = prov.Verifier(&oidc.Config{ClientID: audience})
		return a, nil
	}

	var disc struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := prov.Claims(&disc); err != nil || disc.JWKSURI == "" {
		return nil, fmt.Errorf("discover jwks_uri: %v", err)
	}
	jwks, err := keyfunc.Get(disc.JWKSURI, keyfunc.Options{
		RefreshInterval: time.Hour,
		RefreshTimeout:  10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	a.keyfunc = jwks.Keyfunc
	return a, nil
}

func (a *authenticator) verify(ctx context.Context, raw string) error {
	if a.verifier != nil {
		_, err := a.verifier.Verify(ctx, raw)
		return err
	}
	if a.keyfunc == nil {
		return errors.New("no token verifier configured")
	}
	tok, err := jwt.Parse(raw, a.keyfunc, jwt.WithAudience(a.audience), jwt.WithIssuer(a.issuer))
	if err != nil {
		return err
	}
	if !tok.Valid {
		return errors.New("token is not valid")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
