package interviewrt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/enesunal-m/interviewrt/webrtc"
)

// fakeTransport is an in-memory webrtc.Transport driven by the test.
type fakeTransport struct {
	events    chan webrtc.Event
	done      chan struct{}
	closeOnce sync.Once
	closes    atomic.Int32
	ready     atomic.Bool

	mu      sync.Mutex
	sent    [][]byte
	sendErr error
}

func newFakeTransport() *fakeTransport {
	f := &fakeTransport{events: make(chan webrtc.Event, 64), done: make(chan struct{})}
	f.ready.Store(true)
	return f
}

func (f *fakeTransport) Events() <-chan webrtc.Event { return f.events }
func (f *fakeTransport) Done() <-chan struct{}       { return f.done }
func (f *fakeTransport) Ready() bool                 { return f.ready.Load() && !f.closed() }

func (f *fakeTransport) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, append([]byte(nil), frame...))
	return nil
}

func (f *fakeTransport) Close() error {
	f.closes.Add(1)
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

func (f *fakeTransport) closed() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

func (f *fakeTransport) frames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

// deliver queues inbound data channel frames in order.
func (f *fakeTransport) deliver(frames ...string) {
	for _, fr := range frames {
		f.events <- webrtc.Event{Kind: webrtc.EventFrame, Frame: []byte(fr)}
	}
}

// fakeBroker hands out a fixed credential, or the result of acquire when set.
type fakeBroker struct {
	cred    webrtc.Credential
	err     error
	acquire func(ctx context.Context) (webrtc.Credential, error)
	calls   atomic.Int32
}

func (b *fakeBroker) Acquire(ctx context.Context) (webrtc.Credential, error) {
	b.calls.Add(1)
	if b.acquire != nil {
		return b.acquire(ctx)
	}
	return b.cred, b.err
}

// fakeNegotiator returns a fresh fakeTransport per call unless negotiate is set.
type fakeNegotiator struct {
	negotiate func(ctx context.Context, cred webrtc.Credential, prompt string) (webrtc.Transport, error)

	mu         sync.Mutex
	transports []*fakeTransport
	prompts    []string
	creds      []webrtc.Credential
}

func (n *fakeNegotiator) Negotiate(ctx context.Context, cred webrtc.Credential, prompt string) (webrtc.Transport, error) {
	n.mu.Lock()
	n.prompts = append(n.prompts, prompt)
	n.creds = append(n.creds, cred)
	n.mu.Unlock()
	if n.negotiate != nil {
		return n.negotiate(ctx, cred, prompt)
	}
	return n.track(newFakeTransport()), nil
}

func (n *fakeNegotiator) track(f *fakeTransport) *fakeTransport {
	n.mu.Lock()
	n.transports = append(n.transports, f)
	n.mu.Unlock()
	return f
}

func (n *fakeNegotiator) last(t *testing.T) *fakeTransport {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.transports)
	return n.transports[len(n.transports)-1]
}

func (n *fakeNegotiator) all() []*fakeTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*fakeTransport(nil), n.transports...)
}

// syncBuffer is a goroutine-safe log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type testManager struct {
	*Manager
	broker     *fakeBroker
	negotiator *fakeNegotiator
	logs       *syncBuffer
}

func newTestManager(t *testing.T, tweak func(*Config)) *testManager {
	t.Helper()
	tm := &testManager{
		broker:     &fakeBroker{cred: webrtc.Credential{Token: "ek_secret_token", SessionID: "sess_1"}},
		negotiator: &fakeNegotiator{},
		logs:       &syncBuffer{},
	}
	cfg := Config{
		Broker:           tm.broker,
		Negotiator:       tm.negotiator,
		StructuredLogger: NewLoggerWithWriter(tm.logs, LogLevelDebug),
	}
	if tweak != nil {
		tweak(&cfg)
	}
	m, err := New(cfg)
	require.NoError(t, err)
	tm.Manager = m
	t.Cleanup(func() { m.Disconnect() })
	return tm
}

// newTokenServer serves the credential endpoint with the given body and status.
func newTokenServer(t *testing.T, status int, body any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// newTranscribeServer answers multipart uploads with handler's text.
func newTranscribeServer(t *testing.T, handler func(field, filename string, audio []byte) (int, any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var (
			field, name string
			data        []byte
		)
		for f, headers := range r.MultipartForm.File {
			file, err := headers[0].Open()
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			data, _ = io.ReadAll(file)
			_ = file.Close()
			field, name = f, headers[0].Filename
		}
		if field == "" {
			http.Error(w, errors.New("no file").Error(), http.StatusBadRequest)
			return
		}
		status, body := handler(field, name, data)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}
