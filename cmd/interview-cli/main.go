// Terminal interview client. Answers typed on stdin are sent as user
// messages; interviewer turns and errors are printed as they arrive.
//
//	interview-cli -config interviewrt.yaml -prompt "You are a Go interviewer." -out session.json
//
// Commands: /log prints the conversation so far, /quit ends the session.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/enesunal-m/interviewrt"
	"github.com/enesunal-m/interviewrt/webrtc"
)

func main() {
	configPath := flag.String("config", "", "path to config file (yaml, json or toml)")
	prompt := flag.String("prompt", "", "system prompt; defaults to default_prompt from the config")
	out := flag.String("out", "", "write the conversation as JSON to this file on exit")
	retries := flag.Int("retries", 3, "connect retries")
	flag.Parse()

	fc, err := interviewrt.LoadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	logger := interviewrt.NewLogger(interviewrt.ParseLogLevel(fc.LogLevel))

	var source webrtc.AudioSource = webrtc.ListenOnly{}
	if fc.MicrophoneFile != "" {
		source = webrtc.OggFileSource{Path: fc.MicrophoneFile, Loop: true}
	}
	cfg := fc.ManagerConfig(source, nil)
	cfg.StructuredLogger = logger
	m, err := interviewrt.New(cfg)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	systemPrompt := *prompt
	if systemPrompt == "" {
		systemPrompt = fc.DefaultPrompt
	}
	rc := interviewrt.DefaultRetryConfig()
	rc.MaxRetries = *retries
	rc.OnRetry = func(err error, delay time.Duration) {
		logger.Warn("connect_retry", map[string]any{"err": err.Error(), "delay": delay.String()})
	}
	if _, err := interviewrt.ConnectWithRetry(ctx, m, systemPrompt, rc); err != nil {
		log.Fatalf("connect: %v", err)
	}

	run(ctx, m, os.Stdin, os.Stdout)

	if *out != "" {
		if err := writeConversation(*out, m.Conversation()); err != nil {
			logger.Error("write_conversation_failed", map[string]any{"file": *out, "err": err.Error()})
		}
	}
	m.Disconnect()
}

// run drives the session from in until EOF, /quit or ctx is done.
func run(ctx context.Context, m *interviewrt.Manager, in io.Reader, out io.Writer) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := &printer{m: m, out: out}
	m.OnStateChange(p.update)
	defer m.OnStateChange(nil)
	p.update(m.State())

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			switch line = strings.TrimSpace(line); line {
			case "":
			case "/quit":
				return
			case "/log":
				p.dump()
			default:
				m.SendMessage(line)
			}
		}
	}
}

// printer writes interviewer turns and new errors once each.
type printer struct {
	m   *interviewrt.Manager
	out io.Writer

	mu      sync.Mutex
	seen    int
	lastErr string
}

func (p *printer) update(st interviewrt.SessionState) {
	entries := p.m.Messages()

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(entries) < p.seen {
		p.seen = 0
	}
	for _, e := range entries[p.seen:] {
		if e.Role == interviewrt.RoleAssistant {
			fmt.Fprintf(p.out, "interviewer> %s\n", e.Content)
		}
	}
	p.seen = len(entries)
	if st.Error != "" && st.Error != p.lastErr {
		fmt.Fprintf(p.out, "! %s\n", st.Error)
	}
	p.lastErr = st.Error
}

func (p *printer) dump() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.m.Messages() {
		fmt.Fprintf(p.out, "[%s] %s\n", e.Role, e.Content)
	}
}

func writeConversation(path string, conv *interviewrt.ConversationLog) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := conv.WriteJSON(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
