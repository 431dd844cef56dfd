package interviewrt

import (
	"bytes"
	"encoding/json"
)

// Interpret applies one inbound frame to st and returns the next state plus
// the conversation entry the frame produced, if any. It has no side effects.
//
// Unknown event types leave st unchanged. A frame that is not valid JSON also
// leaves st unchanged and is reported as *MalformedFrameError so the caller
// can count it; it is never an error condition of the session.
func Interpret(frame []byte, st SessionState) (SessionState, *LogEntry, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return st, nil, &MalformedFrameError{Frame: frame, Cause: err}
	}

	switch env.Type {
	case EventSpeechStarted:
		st.IsListening = true
		st.IsSpeaking = false

	case EventSpeechStopped:
		st.IsListening = false

	case EventOutputAudioStarted:
		st.IsSpeaking = true
		st.IsListening = false

	case EventOutputAudioStopped:
		st.IsSpeaking = false

	case EventTranscript:
		var e TranscriptEvent
		if err := json.Unmarshal(frame, &e); err != nil {
			return st, nil, &MalformedFrameError{Frame: frame, Cause: err}
		}
		st.Transcript = e.Text
		st.IsListening = true

	case EventAudioTranscriptDelta:
		var e AudioTranscriptDelta
		if err := json.Unmarshal(frame, &e); err != nil {
			return st, nil, &MalformedFrameError{Frame: frame, Cause: err}
		}
		st.Transcript += e.Text()

	case EventConversationItemAdded:
		var e ConversationItemCreated
		if err := json.Unmarshal(frame, &e); err != nil {
			return st, nil, &MalformedFrameError{Frame: frame, Cause: err}
		}
		if !hasContent(e.Item.Content) {
			return st, nil, nil
		}
		return applyUtterance(st, e.Item)

	case EventMessage:
		var e MessageEvent
		if err := json.Unmarshal(frame, &e); err != nil {
			return st, nil, &MalformedFrameError{Frame: frame, Cause: err}
		}
		return applyUtterance(st, e.Message)

	case EventError:
		var e ErrorEvent
		if err := json.Unmarshal(frame, &e); err != nil {
			return st, nil, &MalformedFrameError{Frame: frame, Cause: err}
		}
		st.Error = "API error: " + e.Text()
	}
	return st, nil, nil
}

// applyUtterance logs user and assistant items; an assistant item also marks
// the remote side as speaking.
func applyUtterance(st SessionState, item ConversationItem) (SessionState, *LogEntry, error) {
	role := Role(item.Role)
	if role == RoleAssistant {
		st.IsSpeaking = true
		st.IsListening = false
	}
	if role != RoleUser && role != RoleAssistant {
		return st, nil, nil
	}
	return st, &LogEntry{Role: role, Content: item.ContentText()}, nil
}

// hasContent reports whether raw is neither absent, null, "" nor [].
func hasContent(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}
	switch string(raw) {
	case "null", `""`, "[]":
		return false
	}
	return !(raw[0] == '[' && len(bytes.TrimSpace(raw[1:len(raw)-1])) == 0)
}
