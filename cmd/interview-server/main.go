// Server that runs one realtime interview session per WebSocket client.
// The browser UI connects to /ws and drives the session with connect, send,
// disconnect and transcribe commands; state and conversation are pushed back.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/spf13/viper"

	"github.com/enesunal-m/interviewrt"
	"github.com/enesunal-m/interviewrt/webrtc"
)

// settings holds the values that may change on config reload.
type settings struct {
	mu sync.RWMutex
	fc interviewrt.FileConfig
}

func (s *settings) get() interviewrt.FileConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fc
}

func (s *settings) set(fc interviewrt.FileConfig) {
	s.mu.Lock()
	s.fc = fc
	s.mu.Unlock()
}

func main() {
	configPath := flag.String("config", "", "path to config file (yaml, json or toml)")
	flag.Parse()

	v, err := interviewrt.NewViper(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	fc, err := interviewrt.DecodeConfig(v)
	if err != nil {
		log.Fatal(err)
	}

	logger := interviewrt.NewLogger(interviewrt.ParseLogLevel(fc.LogLevel))
	cur := &settings{fc: fc}
	watch(v, cur, logger)

	if fc.RecordDir != "" {
		if err := os.MkdirAll(fc.RecordDir, 0o755); err != nil {
			log.Fatalf("record dir: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openArchive(ctx, fc)
	if err != nil {
		log.Fatalf("archive: %v", err)
	}
	var arch *archiver
	if store != nil {
		defer store.Close()
		arch = newArchiver(store, logger)
	}

	var transcriber *interviewrt.Transcriber
	if fc.TranscribeURL != "" {
		transcriber = interviewrt.NewTranscriber(fc.TranscribeURL)
	}

	bridge := interviewrt.NewBridge(interviewrt.BridgeOptions{
		NewManager:     func() (*interviewrt.Manager, error) { return newManager(cur.get(), logger, arch) },
		DefaultPrompt:  func() string { return cur.get().DefaultPrompt },
		Transcriber:    transcriber,
		OriginPatterns: originPatterns(fc.AllowedOrigins),
		Logger:         logger,
	})

	r := mux.NewRouter()
	r.Handle("/ws", bridge)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	if store != nil {
		(&sessionsAPI{store: store, log: logger}).register(r)
	}

	c := cors.New(cors.Options{
		AllowedOrigins: fc.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})

	srv := &http.Server{
		Addr:              fc.Listen,
		Handler:           c.Handler(r),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("server_listening", map[string]any{"addr": fc.Listen, "token_url": fc.TokenURL, "archive": store != nil})

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Printf("server: %v", err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown_failed", map[string]any{"err": err.Error()})
		}
		cancel()
	}
	// Shutdown leaves hijacked sockets alone; end live interviews so their
	// records are saved before the archive drains.
	bridge.Close()
	if arch != nil {
		arch.wait()
	}
	logger.Info("server_stopped", nil)
}

// newManager builds the session manager of one UI connection. Finished
// sessions go to arch when it is non-nil.
func newManager(fc interviewrt.FileConfig, logger *interviewrt.Logger, arch *archiver) (*interviewrt.Manager, error) {
	var source webrtc.AudioSource = webrtc.ListenOnly{}
	if fc.MicrophoneFile != "" {
		source = webrtc.OggFileSource{Path: fc.MicrophoneFile, Loop: true}
	}

	var sink webrtc.AudioSink
	if fc.RecordDir != "" {
		sink = &webrtc.OggRecorder{
			Dir:    fc.RecordDir,
			Prefix: "interview_",
			Logf:   recorderLogf(logger),
		}
	}

	cfg := fc.ManagerConfig(source, sink)
	cfg.StructuredLogger = logger
	if arch != nil {
		cfg.OnSessionEnd = arch.save
	}
	return interviewrt.New(cfg)
}

func recorderLogf(logger *interviewrt.Logger) func(string, ...any) {
	return func(format string, args ...any) {
		logger.Warn("recorder", map[string]any{"detail": fmt.Sprintf(format, args...)})
	}
}

// watch reloads the default prompt and log level when the config file changes.
func watch(v *viper.Viper, cur *settings, logger *interviewrt.Logger) {
	if v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		fc, err := interviewrt.DecodeConfig(v)
		if err != nil {
			logger.Error("config_reload_failed", map[string]any{"file": e.Name, "err": err.Error()})
			return
		}
		cur.set(fc)
		logger.SetLevel(interviewrt.ParseLogLevel(fc.LogLevel))
		logger.Info("config_reloaded", map[string]any{"file": e.Name})
	})
	v.WatchConfig()
}

// originPatterns converts allowed origins to websocket.Accept host patterns.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := parseOrigin(o); err == nil {
			out = append(out, u)
		}
	}
	return out
}

func parseOrigin(origin string) (string, error) {
	if origin == "*" {
		return origin, nil
	}
	u, err := url.Parse(origin)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", errors.New("origin has no host")
	}
	return u.Host, nil
}
