package interviewrt

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Commands accepted from a UI client.
const (
	CmdConnect    = "connect"
	CmdSend       = "send"
	CmdDisconnect = "disconnect"
	CmdTranscribe = "transcribe"
)

// Messages pushed to a UI client.
const (
	MsgState        = "state"
	MsgConversation = "conversation"
	MsgError        = "error"
)

// BridgeCommand is one JSON command read from the UI socket.
type BridgeCommand struct {
	Type     string `json:"type"`
	Prompt   string `json:"prompt,omitempty"`
	Text     string `json:"text,omitempty"`
	Audio    []byte `json:"audio,omitempty"` // base64 in JSON
	Filename string `json:"filename,omitempty"`
}

// BridgeMessage is one JSON message written to the UI socket.
type BridgeMessage struct {
	Type     string     `json:"type"`
	State    *StateView `json:"state,omitempty"`
	Messages []LogEntry `json:"messages,omitempty"`
	Stats    *Stats     `json:"stats,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// BridgeOptions configures a Bridge.
type BridgeOptions struct {
	// NewManager creates the session manager of one UI connection. Required.
	NewManager func() (*Manager, error)
	// DefaultPrompt is used by connect commands without a prompt.
	DefaultPrompt func() string
	// Transcriber serves transcribe commands. Optional.
	Transcriber *Transcriber
	// OriginPatterns are passed to websocket.Accept.
	OriginPatterns []string
	Logger         *Logger
	// WriteTimeout bounds each socket write. Default: 10 seconds.
	WriteTimeout time.Duration
}

// Bridge serves one Manager per WebSocket connection and streams its state
// and conversation to the UI.
type Bridge struct {
	opts   BridgeOptions
	active atomic.Int64

	mu       sync.Mutex
	sessions map[*bridgeSession]struct{}
	closed   bool
}

// NewBridge returns a bridge handler.
func NewBridge(opts BridgeOptions) *Bridge {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	return &Bridge{opts: opts, sessions: make(map[*bridgeSession]struct{})}
}

// Active returns the number of open UI connections.
func (b *Bridge) Active() int64 { return b.active.Load() }

// Close ends every open session and refuses new ones. Pending connects are
// cancelled and each manager is disconnected before Close returns, so
// session end hooks have run by then. Hijacked sockets are not covered by
// http.Server.Shutdown; call Close after it.
func (b *Bridge) Close() {
	b.mu.Lock()
	b.closed = true
	sessions := make([]*bridgeSession, 0, len(b.sessions))
	for s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.mu.Unlock()

	for _, s := range sessions {
		s.stop()
	}
}

func (b *Bridge) add(s *bridgeSession) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.sessions[s] = struct{}{}
	return true
}

func (b *Bridge) remove(s *bridgeSession) {
	b.mu.Lock()
	delete(b.sessions, s)
	b.mu.Unlock()
}

func (b *Bridge) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// ServeHTTP upgrades the request and runs the session until the socket closes.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if b.isClosed() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	m, err := b.opts.NewManager()
	if err != nil {
		b.opts.Logger.Error("bridge_manager_failed", map[string]any{"err": err.Error()})
		http.Error(w, "session unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: b.opts.OriginPatterns})
	if err != nil {
		b.opts.Logger.Warn("bridge_accept_failed", map[string]any{"err": err.Error()})
		return
	}
	conn.SetReadLimit(16 << 20)

	b.active.Add(1)
	defer b.active.Add(-1)

	ctx, cancel := context.WithCancel(r.Context())
	s := &bridgeSession{
		bridge: b,
		conn:   conn,
		m:      m,
		cancel: cancel,
		dirty:  make(chan struct{}, 1),
		outbox: make(chan BridgeMessage, 16),
	}
	if !b.add(s) {
		cancel()
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer b.remove(s)
	m.OnStateChange(func(SessionState) { s.markDirty() })

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx)
	}()

	s.markDirty()
	s.readLoop(ctx)

	s.stop()
	<-writerDone
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

type bridgeSession struct {
	bridge *Bridge
	conn   *websocket.Conn
	m      *Manager
	cancel context.CancelFunc
	dirty  chan struct{}
	outbox chan BridgeMessage
}

// stop cancels the session context before disconnecting, so a Connect still
// queued behind the manager's connect lock cannot start a live attempt.
func (s *bridgeSession) stop() {
	s.cancel()
	s.m.Disconnect()
}

func (s *bridgeSession) markDirty() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

func (s *bridgeSession) fail(msg string) {
	select {
	case s.outbox <- BridgeMessage{Type: MsgError, Error: msg}:
	default:
	}
}

func (s *bridgeSession) readLoop(ctx context.Context) {
	log := s.bridge.opts.Logger
	for {
		var cmd BridgeCommand
		if err := wsjson.Read(ctx, s.conn, &cmd); err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				log.Debug("bridge_read_failed", map[string]any{"err": err.Error()})
			}
			return
		}
		switch cmd.Type {
		case CmdConnect:
			prompt := cmd.Prompt
			if prompt == "" && s.bridge.opts.DefaultPrompt != nil {
				prompt = s.bridge.opts.DefaultPrompt()
			}
			go s.m.Connect(ctx, prompt)
		case CmdSend:
			s.m.SendMessage(cmd.Text)
		case CmdDisconnect:
			s.m.Disconnect()
		case CmdTranscribe:
			t := s.bridge.opts.Transcriber
			if t == nil {
				s.fail("transcription is not configured")
				continue
			}
			audio, name := cmd.Audio, cmd.Filename
			go s.m.SendTranscribedAudio(ctx, t, bytes.NewReader(audio), name)
		default:
			log.Debug("bridge_unknown_command", map[string]any{"type": cmd.Type})
			s.fail("unknown command: " + cmd.Type)
		}
	}
}

func (s *bridgeSession) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.dirty:
			view := s.m.State().View()
			stats := s.m.Stats()
			if !s.write(ctx, BridgeMessage{Type: MsgState, State: &view, Stats: &stats}) {
				return
			}
			if !s.write(ctx, BridgeMessage{Type: MsgConversation, Messages: s.m.Messages()}) {
				return
			}
		case msg := <-s.outbox:
			if !s.write(ctx, msg) {
				return
			}
		}
	}
}

func (s *bridgeSession) write(ctx context.Context, msg BridgeMessage) bool {
	wctx, cancel := context.WithTimeout(ctx, s.bridge.opts.WriteTimeout)
	defer cancel()
	if err := wsjson.Write(wctx, s.conn, msg); err != nil {
		s.bridge.opts.Logger.Debug("bridge_write_failed", map[string]any{"err": err.Error()})
		return false
	}
	return true
}
