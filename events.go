package interviewrt

import (
	"encoding/json"
	"strings"
)

// Inbound event types interpreted by Interpret.
const (
	EventSpeechStarted         = "input_audio_buffer.speech_started"
	EventSpeechStopped         = "input_audio_buffer.speech_stopped"
	EventOutputAudioStarted    = "output_audio_buffer.started"
	EventOutputAudioStopped    = "output_audio_buffer.stopped"
	EventTranscript            = "transcript"
	EventAudioTranscriptDelta  = "response.audio_transcript.delta"
	EventConversationItemAdded = "conversation.item.created"
	EventMessage               = "message"
	EventError                 = "error"
)

// envelope is used for initial JSON parsing to determine the event type
// before unmarshaling into the specific event struct.
type envelope struct {
	Type string `json:"type"`
}

// TranscriptEvent is the legacy whole-transcript event.
type TranscriptEvent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// AudioTranscriptDelta carries an increment of the assistant's spoken transcript.
// Delta is either {"text": "..."} or a bare string.
type AudioTranscriptDelta struct {
	Type       string          `json:"type"`
	ResponseID string          `json:"response_id,omitempty"`
	ItemID     string          `json:"item_id,omitempty"`
	Delta      json.RawMessage `json:"delta"`
}

// Text returns the delta text in either accepted shape.
func (e AudioTranscriptDelta) Text() string {
	if len(e.Delta) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Delta, &s); err == nil {
		return s
	}
	var obj struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(e.Delta, &obj); err == nil {
		return obj.Text
	}
	return ""
}

// ConversationItem is the item of a conversation.item.created event or the
// message of a legacy message event.
type ConversationItem struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type,omitempty"`
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content,omitempty"`
}

// ContentPart is one element of an item's content array.
type ContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// ContentText flattens the item content: a plain string is returned as is,
// an array of parts is joined from their text or transcript fields.
func (i ConversationItem) ContentText() string {
	if len(i.Content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(i.Content, &s); err == nil {
		return s
	}
	var parts []ContentPart
	if err := json.Unmarshal(i.Content, &parts); err == nil {
		var b strings.Builder
		for _, p := range parts {
			if p.Text != "" {
				b.WriteString(p.Text)
			} else {
				b.WriteString(p.Transcript)
			}
		}
		return b.String()
	}
	return ""
}

// ConversationItemCreated announces a new conversation item.
type ConversationItemCreated struct {
	Type string           `json:"type"`
	Item ConversationItem `json:"item"`
}

// MessageEvent is the legacy message shape; outbound user messages use it too.
type MessageEvent struct {
	Type    string           `json:"type"`
	Message ConversationItem `json:"message"`
}

// ErrorEvent is an advisory error reported by the remote endpoint. Older
// endpoints put the text at the top level, newer ones under "error".
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Error   struct {
		Type    string `json:"type,omitempty"`
		Code    string `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

// Text returns the error message from whichever field carries it.
func (e ErrorEvent) Text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error.Message
}

// outboundMessage is the frame written by SendMessage.
type outboundMessage struct {
	Type    string          `json:"type"`
	Message outboundContent `json:"message"`
}

type outboundContent struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// EncodeUserMessage serializes text as an outbound message frame.
func EncodeUserMessage(text string) ([]byte, error) {
	return json.Marshal(outboundMessage{
		Type:    EventMessage,
		Message: outboundContent{Role: RoleUser, Content: text},
	})
}
