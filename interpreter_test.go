package interviewrt

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connected() SessionState { return SessionState{Phase: PhaseConnected} }

func TestInterpret_StateTransitions(t *testing.T) {
	tests := []struct {
		name  string
		start SessionState
		frame string
		want  SessionState
	}{
		{
			name:  "speech started",
			start: SessionState{Phase: PhaseConnected, IsSpeaking: true},
			frame: `{"type":"input_audio_buffer.speech_started"}`,
			want:  SessionState{Phase: PhaseConnected, IsListening: true},
		},
		{
			name:  "speech stopped",
			start: SessionState{Phase: PhaseConnected, IsListening: true},
			frame: `{"type":"input_audio_buffer.speech_stopped"}`,
			want:  connected(),
		},
		{
			name:  "output audio started",
			start: SessionState{Phase: PhaseConnected, IsListening: true},
			frame: `{"type":"output_audio_buffer.started"}`,
			want:  SessionState{Phase: PhaseConnected, IsSpeaking: true},
		},
		{
			name:  "output audio stopped",
			start: SessionState{Phase: PhaseConnected, IsSpeaking: true},
			frame: `{"type":"output_audio_buffer.stopped"}`,
			want:  connected(),
		},
		{
			name:  "transcript replaces text",
			start: SessionState{Phase: PhaseConnected, Transcript: "old"},
			frame: `{"type":"transcript","text":"new text"}`,
			want:  SessionState{Phase: PhaseConnected, Transcript: "new text", IsListening: true},
		},
		{
			name:  "transcript delta object",
			start: SessionState{Phase: PhaseConnected, Transcript: "Hel"},
			frame: `{"type":"response.audio_transcript.delta","delta":{"text":"lo"}}`,
			want:  SessionState{Phase: PhaseConnected, Transcript: "Hello"},
		},
		{
			name:  "transcript delta string",
			start: SessionState{Phase: PhaseConnected, Transcript: "Hel"},
			frame: `{"type":"response.audio_transcript.delta","delta":"lo"}`,
			want:  SessionState{Phase: PhaseConnected, Transcript: "Hello"},
		},
		{
			name:  "error top-level message",
			start: connected(),
			frame: `{"type":"error","message":"rate limited"}`,
			want:  SessionState{Phase: PhaseConnected, Error: "API error: rate limited"},
		},
		{
			name:  "error nested message",
			start: connected(),
			frame: `{"type":"error","error":{"code":"bad_request","message":"invalid event"}}`,
			want:  SessionState{Phase: PhaseConnected, Error: "API error: invalid event"},
		},
		{
			name:  "unknown type ignored",
			start: SessionState{Phase: PhaseConnected, Transcript: "keep", IsListening: true},
			frame: `{"type":"session.created","session":{}}`,
			want:  SessionState{Phase: PhaseConnected, Transcript: "keep", IsListening: true},
		},
		{
			name:  "missing type ignored",
			start: connected(),
			frame: `{"text":"no type"}`,
			want:  connected(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, entry, err := Interpret([]byte(tt.frame), tt.start)
			require.NoError(t, err)
			assert.Nil(t, entry)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInterpret_ConversationEntries(t *testing.T) {
	tests := []struct {
		name      string
		frame     string
		wantEntry *LogEntry
		speaking  bool
	}{
		{
			name:      "user item string content",
			frame:     `{"type":"conversation.item.created","item":{"role":"user","content":"I have five years of Go."}}`,
			wantEntry: &LogEntry{Role: RoleUser, Content: "I have five years of Go."},
		},
		{
			name:      "assistant item content parts",
			frame:     `{"type":"conversation.item.created","item":{"role":"assistant","content":[{"type":"audio","transcript":"Describe "},{"type":"text","text":"a deadlock."}]}}`,
			wantEntry: &LogEntry{Role: RoleAssistant, Content: "Describe a deadlock."},
			speaking:  true,
		},
		{
			name:  "empty content skipped",
			frame: `{"type":"conversation.item.created","item":{"role":"assistant","content":""}}`,
		},
		{
			name:  "empty parts skipped",
			frame: `{"type":"conversation.item.created","item":{"role":"assistant","content":[ ]}}`,
		},
		{
			name:  "absent content skipped",
			frame: `{"type":"conversation.item.created","item":{"role":"user"}}`,
		},
		{
			name:  "system role not logged",
			frame: `{"type":"conversation.item.created","item":{"role":"system","content":"hidden"}}`,
		},
		{
			name:      "legacy message",
			frame:     `{"type":"message","message":{"role":"assistant","content":"Next question."}}`,
			wantEntry: &LogEntry{Role: RoleAssistant, Content: "Next question."},
			speaking:  true,
		},
		{
			name:      "legacy user message",
			frame:     `{"type":"message","message":{"role":"user","content":"Sure."}}`,
			wantEntry: &LogEntry{Role: RoleUser, Content: "Sure."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := SessionState{Phase: PhaseConnected, IsListening: true}
			got, entry, err := Interpret([]byte(tt.frame), start)
			require.NoError(t, err)
			assert.Equal(t, tt.wantEntry, entry)
			if tt.speaking {
				assert.True(t, got.IsSpeaking)
				assert.False(t, got.IsListening)
			} else {
				assert.Equal(t, start, got)
			}
		})
	}
}

func TestInterpret_Sequences(t *testing.T) {
	st := connected()
	for _, f := range []string{
		`{"type":"input_audio_buffer.speech_started"}`,
		`{"type":"input_audio_buffer.speech_stopped"}`,
	} {
		var err error
		st, _, err = Interpret([]byte(f), st)
		require.NoError(t, err)
	}
	assert.False(t, st.IsListening)
	assert.False(t, st.IsSpeaking)

	st = connected()
	for _, d := range []string{"a", "b", "c"} {
		var err error
		st, _, err = Interpret([]byte(`{"type":"response.audio_transcript.delta","delta":{"text":"`+d+`"}}`), st)
		require.NoError(t, err)
	}
	assert.Equal(t, "abc", st.Transcript)
}

func TestInterpret_MalformedFrame(t *testing.T) {
	start := SessionState{Phase: PhaseConnected, Transcript: "keep", IsListening: true}
	for _, frame := range []string{`{"type":`, `not json`, `[1,2]`, `{"type":"transcript","text":5}`} {
		got, entry, err := Interpret([]byte(frame), start)
		assert.Equal(t, start, got, frame)
		assert.Nil(t, entry)

		var mf *MalformedFrameError
		require.True(t, errors.As(err, &mf), frame)
		assert.Equal(t, []byte(frame), mf.Frame)
		assert.True(t, errors.Is(err, ErrMalformedFrame))
	}
}

func TestInterpret_NeverChangesPhase(t *testing.T) {
	for _, p := range []Phase{PhaseIdle, PhaseConnecting, PhaseConnected, PhaseClosed} {
		got, _, err := Interpret([]byte(`{"type":"output_audio_buffer.started"}`), SessionState{Phase: p})
		require.NoError(t, err)
		assert.Equal(t, p, got.Phase)
	}
}

func TestEncodeUserMessage(t *testing.T) {
	b, err := EncodeUserMessage(`say "hi"`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"message","message":{"role":"user","content":"say \"hi\""}}`, string(b))
	assert.NotContains(t, string(b), "\n")
}
