package interviewrt

import "fmt"

// Phase is the coarse lifecycle stage of a session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseConnected
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) {
	if p < PhaseIdle || p > PhaseClosed {
		return nil, fmt.Errorf("interviewrt: invalid phase %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText decodes a phase name.
func (p *Phase) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*p = PhaseIdle
	case "connecting":
		*p = PhaseConnecting
	case "connected":
		*p = PhaseConnected
	case "closed":
		*p = PhaseClosed
	default:
		return fmt.Errorf("interviewrt: unknown phase %q", string(b))
	}
	return nil
}

// resting reports whether a new connection attempt may start from p.
func (p Phase) resting() bool { return p == PhaseIdle || p == PhaseClosed }

// SessionState is the caller-visible state of a session. Values are
// snapshots; the manager replaces its copy on every transition.
type SessionState struct {
	Phase       Phase  `json:"phase"`
	IsListening bool   `json:"isListening"`
	IsSpeaking  bool   `json:"isSpeaking"`
	Transcript  string `json:"transcript"`
	Error       string `json:"error,omitempty"`
}

// InitialState is the state of a manager that never connected.
func InitialState() SessionState { return SessionState{Phase: PhaseIdle} }

func (s SessionState) IsConnecting() bool { return s.Phase == PhaseConnecting }
func (s SessionState) IsConnected() bool  { return s.Phase == PhaseConnected }

// StateView is the presentation shape sent to UI clients, with the phase
// flattened into booleans.
type StateView struct {
	Phase        Phase   `json:"phase"`
	IsConnecting bool    `json:"isConnecting"`
	IsConnected  bool    `json:"isConnected"`
	IsListening  bool    `json:"isListening"`
	IsSpeaking   bool    `json:"isSpeaking"`
	Transcript   string  `json:"transcript"`
	Error        *string `json:"error"`
}

// View derives the presentation shape.
func (s SessionState) View() StateView {
	v := StateView{
		Phase:        s.Phase,
		IsConnecting: s.IsConnecting(),
		IsConnected:  s.IsConnected(),
		IsListening:  s.IsListening,
		IsSpeaking:   s.IsSpeaking,
		Transcript:   s.Transcript,
	}
	if s.Error != "" {
		msg := s.Error
		v.Error = &msg
	}
	return v
}
