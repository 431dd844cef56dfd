package interviewrt

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	pion "github.com/pion/webrtc/v3"

	"github.com/enesunal-m/interviewrt/webrtc"
)

// Stats counts session activity over the lifetime of a Manager.
type Stats struct {
	Connects        uint64 `json:"connects"`
	ConnectFailures uint64 `json:"connectFailures"`
	FramesReceived  uint64 `json:"framesReceived"`
	MalformedFrames uint64 `json:"malformedFrames"`
	MessagesSent    uint64 `json:"messagesSent"`
}

// Manager owns one realtime session at a time: it acquires a credential,
// negotiates the transport, interprets inbound events and sends user messages.
// It is safe for concurrent use. Connect, SendMessage and Disconnect never
// return errors; failures are reported through SessionState.Error and the
// typed cause is available from LastError.
type Manager struct {
	cfg        Config
	broker     CredentialSource
	negotiator TransportFactory

	connectMu sync.Mutex // serializes Connect

	mu        sync.Mutex // protects the fields below
	state     SessionState
	conv      *ConversationLog
	transport webrtc.Transport
	gen       uint64 // bumped whenever the live session is replaced or torn down
	cancel    context.CancelFunc
	lastErr   error
	stats     Stats
	session   sessionInfo // valid while connected

	handlerMu     sync.RWMutex
	onStateChange func(SessionState)
}

type sessionInfo struct {
	id      string
	prompt  string
	started time.Time
}

// New validates cfg and returns an idle Manager.
func New(cfg Config) (*Manager, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	m := &Manager{
		cfg:   cfg,
		state: InitialState(),
		conv:  NewConversationLog(""),
	}
	m.broker = cfg.broker()
	m.negotiator = cfg.negotiator(func(format string, args ...any) {
		m.emit(LogLevelDebug, "negotiator", map[string]any{"detail": fmt.Sprintf(format, args...)})
	})
	return m, nil
}

// OnStateChange registers fn to be called after every state transition.
// It runs outside the manager lock, on the goroutine that caused the change.
func (m *Manager) OnStateChange(fn func(SessionState)) {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()
	m.onStateChange = fn
}

// State returns a snapshot of the session state.
func (m *Manager) State() SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Messages returns a copy of the current conversation log.
func (m *Manager) Messages() []LogEntry {
	m.mu.Lock()
	conv := m.conv
	m.mu.Unlock()
	return conv.Entries()
}

// Conversation returns the log of the current session.
func (m *Manager) Conversation() *ConversationLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conv
}

// Stats returns the activity counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// LastError returns the typed cause of the most recent failure, or nil.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Connect starts a new session seeded with systemPrompt. A live session is
// torn down first. Concurrent calls are serialized. The returned state is
// connected on success and idle with Error set on failure.
func (m *Manager) Connect(ctx context.Context, systemPrompt string) SessionState {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	attemptCtx, cancel := context.WithTimeout(ctx, m.cfg.negotiationTimeout())
	defer cancel()

	m.mu.Lock()
	ended := m.endLocked("reconnect", m.state.Error)
	old := m.transport
	m.transport = nil
	if m.cancel != nil {
		m.cancel()
	}
	m.cancel = cancel
	m.gen++
	gen := m.gen
	m.state = SessionState{Phase: PhaseConnecting}
	m.conv = NewConversationLog("")
	m.lastErr = nil
	st := m.state
	m.mu.Unlock()

	if old != nil {
		_ = old.Close()
		m.emit(LogLevelInfo, "disconnected", map[string]any{"reason": "reconnect"})
	}
	m.sessionEnded(ended)
	m.notify(st)
	m.emit(LogLevelInfo, "connect_start", map[string]any{"prompt_len": len(systemPrompt)})

	tr, sessionID, err := m.establish(attemptCtx, systemPrompt)

	m.mu.Lock()
	if m.gen != gen {
		// Disconnect won while the attempt was in flight.
		st = m.state
		m.mu.Unlock()
		if tr != nil {
			_ = tr.Close()
		}
		m.emit(LogLevelInfo, "connect_aborted", nil)
		return st
	}
	m.cancel = nil
	if err != nil {
		m.state = SessionState{Phase: PhaseIdle, Error: describe(err)}
		m.lastErr = err
		m.stats.ConnectFailures++
		st = m.state
		m.mu.Unlock()
		m.emit(LogLevelError, "connect_failed", map[string]any{"err": err.Error()})
		m.notify(st)
		return st
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	m.transport = tr
	m.state = SessionState{Phase: PhaseConnected}
	m.conv = NewConversationLog(systemPrompt)
	m.session = sessionInfo{id: sessionID, prompt: systemPrompt, started: time.Now()}
	m.stats.Connects++
	st = m.state
	m.mu.Unlock()

	go m.pump(gen, tr)
	m.emit(LogLevelInfo, "connected", map[string]any{"session_id": sessionID})
	m.notify(st)
	return st
}

// establish runs the broker and the negotiator in sequence without holding
// the state lock. It returns the remote session id along with the transport.
func (m *Manager) establish(ctx context.Context, systemPrompt string) (webrtc.Transport, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", fmt.Errorf("connect: %w", err)
	}
	cred, err := m.broker.Acquire(ctx)
	if err != nil {
		return nil, "", err
	}
	sessionID := cred.SessionID
	m.emit(LogLevelDebug, "credential_acquired", map[string]any{"session_id": sessionID})
	tr, err := m.negotiator.Negotiate(ctx, cred, systemPrompt)
	cred = webrtc.Credential{}
	if err != nil {
		return nil, "", err
	}
	if ctx.Err() != nil {
		_ = tr.Close()
		return nil, "", fmt.Errorf("negotiation: %w", ctx.Err())
	}
	return tr, sessionID, nil
}

// SendMessage sends text as a user message and records it in the log. If
// the event channel is not open the message is dropped and Error is set.
func (m *Manager) SendMessage(text string) SessionState {
	m.mu.Lock()
	tr := m.transport
	if m.state.Phase != PhaseConnected || tr == nil || !tr.Ready() {
		err := &ChannelNotReadyError{Phase: m.state.Phase}
		m.state.Error = describe(err)
		m.lastErr = err
		st := m.state
		m.mu.Unlock()
		m.emit(LogLevelWarn, "send_dropped", map[string]any{"phase": st.Phase.String()})
		m.notify(st)
		return st
	}
	frame, err := EncodeUserMessage(text)
	if err != nil {
		m.mu.Unlock()
		return m.recordSendError(m.gen, err)
	}
	gen := m.gen
	m.state.Transcript = ""
	m.state.IsListening = false
	m.conv.Append(LogEntry{Role: RoleUser, Content: text})
	st := m.state
	m.mu.Unlock()
	m.notify(st)

	if err := tr.Send(frame); err != nil {
		return m.recordSendError(gen, err)
	}

	m.mu.Lock()
	m.stats.MessagesSent++
	st = m.state
	m.mu.Unlock()
	return st
}

func (m *Manager) recordSendError(gen uint64, cause error) SessionState {
	err := &SendError{EventType: EventMessage, Cause: cause}
	m.mu.Lock()
	if m.gen != gen {
		st := m.state
		m.mu.Unlock()
		return st
	}
	m.state.Error = describe(err)
	m.lastErr = err
	st := m.state
	m.mu.Unlock()
	m.emit(LogLevelError, "send_failed", map[string]any{"err": cause.Error()})
	m.notify(st)
	return st
}

// SendTranscribedAudio transcribes audio and sends the text as a user
// message. Empty transcriptions are not sent.
func (m *Manager) SendTranscribedAudio(ctx context.Context, t *Transcriber, audio io.Reader, filename string) SessionState {
	text, err := t.Transcribe(ctx, audio, filename)
	if err != nil {
		m.mu.Lock()
		m.state.Error = fmt.Sprintf("Failed to transcribe audio: %v", err)
		m.lastErr = err
		st := m.state
		m.mu.Unlock()
		m.emit(LogLevelError, "transcribe_failed", map[string]any{"err": err.Error()})
		m.notify(st)
		return st
	}
	if text == "" {
		return m.State()
	}
	return m.SendMessage(text)
}

// Disconnect tears down the session and resets the state with phase closed.
// It aborts a connection attempt in flight. From a resting phase it is a
// no-op. It is idempotent and never blocks on the remote side.
func (m *Manager) Disconnect() SessionState {
	m.mu.Lock()
	if m.state.Phase.resting() && m.transport == nil {
		st := m.state
		m.mu.Unlock()
		return st
	}
	if m.state.Phase == PhaseConnecting {
		m.lastErr = ErrAborted
	}
	tr, ended := m.resetLocked("requested", "")
	st := m.state
	m.mu.Unlock()

	if tr != nil {
		_ = tr.Close()
	}
	m.emit(LogLevelInfo, "disconnected", map[string]any{"reason": "requested"})
	m.sessionEnded(ended)
	m.notify(st)
	return st
}

// resetLocked detaches the live transport, cancels any attempt in flight and
// moves to the closed resting state with errMsg. The caller holds m.mu, and
// after unlocking closes the returned transport and reports the record.
func (m *Manager) resetLocked(reason, errMsg string) (webrtc.Transport, *SessionRecord) {
	ended := m.endLocked(reason, errMsg)
	tr := m.transport
	m.transport = nil
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.gen++
	m.state = SessionState{Phase: PhaseClosed, Error: errMsg}
	m.conv = NewConversationLog("")
	return tr, ended
}

// endLocked summarizes the connected session about to be replaced. It
// returns nil unless the phase is connected.
func (m *Manager) endLocked(reason, errMsg string) *SessionRecord {
	if m.state.Phase != PhaseConnected {
		return nil
	}
	return &SessionRecord{
		ID:        m.session.id,
		Prompt:    m.session.prompt,
		StartedAt: m.session.started,
		EndedAt:   time.Now(),
		Reason:    reason,
		Error:     errMsg,
		Entries:   m.conv.Entries(),
	}
}

func (m *Manager) sessionEnded(rec *SessionRecord) {
	if rec == nil || m.cfg.OnSessionEnd == nil {
		return
	}
	m.cfg.OnSessionEnd(*rec)
}

// pump consumes the transport's events in order until the transport is torn
// down or the session generation changes.
func (m *Manager) pump(gen uint64, tr webrtc.Transport) {
	for {
		select {
		case <-tr.Done():
			m.transportGone(gen)
			return
		case ev := <-tr.Events():
			if !m.handle(gen, ev) {
				return
			}
		}
	}
}

func (m *Manager) handle(gen uint64, ev webrtc.Event) bool {
	switch ev.Kind {
	case webrtc.EventFrame:
		return m.handleFrame(gen, ev.Frame)
	case webrtc.EventTrack:
		if m.cfg.AudioSink != nil && ev.Track != nil {
			m.cfg.AudioSink.Attach(ev.Track)
		}
		m.emit(LogLevelDebug, "remote_track", nil)
	case webrtc.EventICEState:
		return m.handleICE(gen, ev.ICEState)
	case webrtc.EventChannelOpen:
		m.emit(LogLevelDebug, "channel_open", nil)
	case webrtc.EventChannelClosed:
		m.emit(LogLevelInfo, "channel_closed", nil)
	}
	return m.current(gen)
}

func (m *Manager) handleFrame(gen uint64, frame []byte) bool {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return false
	}
	m.stats.FramesReceived++
	prev := m.state
	next, entry, err := Interpret(frame, prev)
	if err != nil {
		m.stats.MalformedFrames++
		m.mu.Unlock()
		m.emit(LogLevelDebug, "bad_event_json", map[string]any{"err": err.Error(), "raw_data": string(frame)})
		return true
	}
	m.state = next
	if entry != nil {
		m.conv.Append(*entry)
	}
	m.mu.Unlock()

	if next != prev || entry != nil {
		m.notify(next)
	}
	return true
}

func (m *Manager) handleICE(gen uint64, state pion.ICEConnectionState) bool {
	m.emit(LogLevelDebug, "ice_state", map[string]any{"state": state.String()})
	if state != pion.ICEConnectionStateFailed && state != pion.ICEConnectionStateDisconnected {
		return m.current(gen)
	}

	err := &TransportNegotiationError{Stage: "ice", Cause: fmt.Errorf("connection %s", state)}
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return false
	}
	m.lastErr = err
	if m.cfg.DisconnectOnICEFailure {
		reason := "ice_" + state.String()
		tr, ended := m.resetLocked(reason, describe(err))
		st := m.state
		m.mu.Unlock()
		if tr != nil {
			_ = tr.Close()
		}
		m.emit(LogLevelWarn, "disconnected", map[string]any{"reason": reason})
		m.sessionEnded(ended)
		m.notify(st)
		return false
	}
	m.state.Error = describe(err)
	st := m.state
	m.mu.Unlock()
	m.emit(LogLevelWarn, "ice_failure", map[string]any{"state": state.String()})
	m.notify(st)
	return true
}

// transportGone handles a transport that shut down without Disconnect.
func (m *Manager) transportGone(gen uint64) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	_, ended := m.resetLocked("transport_closed", "Connection closed by remote peer.")
	st := m.state
	m.mu.Unlock()
	m.emit(LogLevelWarn, "disconnected", map[string]any{"reason": "transport_closed"})
	m.sessionEnded(ended)
	m.notify(st)
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen == gen
}

func (m *Manager) notify(st SessionState) {
	m.handlerMu.RLock()
	fn := m.onStateChange
	m.handlerMu.RUnlock()
	if fn != nil {
		fn(st)
	}
}

func (m *Manager) emit(level LogLevel, event string, fields map[string]any) {
	if l := m.cfg.StructuredLogger; l != nil {
		switch level {
		case LogLevelDebug:
			l.Debug(event, fields)
		case LogLevelInfo:
			l.Info(event, fields)
		case LogLevelWarn:
			l.Warn(event, fields)
		default:
			l.Error(event, fields)
		}
		return
	}
	if m.cfg.Logger == nil || level == LogLevelDebug && event != "bad_event_json" {
		return
	}
	if level == LogLevelError {
		event = "ERROR: " + event
	}
	m.cfg.Logger(event, fields)
}
