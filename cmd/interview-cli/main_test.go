package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enesunal-m/interviewrt"
	"github.com/enesunal-m/interviewrt/webrtc"
)

type loopbackTransport struct {
	events chan webrtc.Event
	done   chan struct{}
	once   sync.Once

	mu   sync.Mutex
	sent [][]byte
}

func (l *loopbackTransport) Events() <-chan webrtc.Event { return l.events }
func (l *loopbackTransport) Done() <-chan struct{}       { return l.done }
func (l *loopbackTransport) Ready() bool                 { return true }

func (l *loopbackTransport) Send(frame []byte) error {
	l.mu.Lock()
	l.sent = append(l.sent, frame)
	l.mu.Unlock()
	// The remote side asks the next question for every answer.
	l.events <- webrtc.Event{Kind: webrtc.EventFrame, Frame: []byte(
		`{"type":"conversation.item.created","item":{"role":"assistant","content":"Why?"}}`)}
	return nil
}

func (l *loopbackTransport) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}

type staticBroker struct{}

func (staticBroker) Acquire(context.Context) (webrtc.Credential, error) {
	return webrtc.Credential{Token: "ek_test", SessionID: "sess_cli"}, nil
}

type loopbackNegotiator struct{ tr *loopbackTransport }

func (n loopbackNegotiator) Negotiate(context.Context, webrtc.Credential, string) (webrtc.Transport, error) {
	return n.tr, nil
}

// syncWriter guards the printer output, written from the pump goroutine too.
type syncWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *syncWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func newLoopbackManager(t *testing.T) (*interviewrt.Manager, *loopbackTransport) {
	t.Helper()
	tr := &loopbackTransport{events: make(chan webrtc.Event, 8), done: make(chan struct{})}
	m, err := interviewrt.New(interviewrt.Config{
		Broker:           staticBroker{},
		Negotiator:       loopbackNegotiator{tr: tr},
		StructuredLogger: interviewrt.NewLoggerWithWriter(io.Discard, interviewrt.LogLevelOff),
	})
	require.NoError(t, err)
	t.Cleanup(func() { m.Disconnect() })
	require.Equal(t, interviewrt.PhaseConnected, m.Connect(context.Background(), "Ask about Go.").Phase)
	return m, tr
}

func TestRun(t *testing.T) {
	m, tr := newLoopbackManager(t)
	out := &syncWriter{}

	pr, pw := io.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		run(context.Background(), m, pr, out)
	}()

	_, err := io.WriteString(pw, "Because goroutines are cheap.\n\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "interviewer> Why?") },
		2*time.Second, 5*time.Millisecond)

	_, err = io.WriteString(pw, "/log\n/quit\nignored\n")
	require.NoError(t, err)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after /quit")
	}
	_ = pw.Close()

	text := out.String()
	assert.Contains(t, text, "[system] Ask about Go.")
	assert.Contains(t, text, "[user] Because goroutines are cheap.")
	assert.Contains(t, text, "[assistant] Why?")

	tr.mu.Lock()
	assert.Len(t, tr.sent, 1)
	tr.mu.Unlock()
}

func TestRun_StopsOnEOFAndPrintsErrors(t *testing.T) {
	m, _ := newLoopbackManager(t)
	m.Disconnect()
	out := &syncWriter{}

	run(context.Background(), m, strings.NewReader("too late\n"), out)
	assert.Contains(t, out.String(), "! Connection not established. Cannot send message.")
}

func TestWriteConversation(t *testing.T) {
	conv := interviewrt.NewConversationLog("prompt")
	conv.Append(interviewrt.LogEntry{Role: interviewrt.RoleUser, Content: "answer"})
	path := filepath.Join(t.TempDir(), "session.json")

	require.NoError(t, writeConversation(path, conv))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got []interviewrt.LogEntry
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, conv.Entries(), got)
}
