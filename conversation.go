package interviewrt

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Role tags the author of a conversation entry.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// LogEntry is one utterance of the conversation.
type LogEntry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ConversationLog is an append-only, ordered record of utterances.
// Entries are never reordered or modified once appended.
type ConversationLog struct {
	mu      sync.RWMutex
	entries []LogEntry
}

// NewConversationLog starts a log, seeded with systemPrompt when it is non-empty.
func NewConversationLog(systemPrompt string) *ConversationLog {
	l := &ConversationLog{}
	if systemPrompt != "" {
		l.entries = append(l.entries, LogEntry{Role: RoleSystem, Content: systemPrompt})
	}
	return l
}

// Append adds e at the end of the log.
func (l *ConversationLog) Append(e LogEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()
}

// Entries returns a copy of the log.
func (l *ConversationLog) Entries() []LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l *ConversationLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// WriteJSON writes the log as an indented JSON array.
func (l *ConversationLog) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(l.Entries())
}

// SessionRecord summarizes one connected session after it ended.
type SessionRecord struct {
	ID        string     `json:"id"`
	Prompt    string     `json:"prompt,omitempty"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   time.Time  `json:"endedAt"`
	Reason    string     `json:"reason"` // requested, reconnect, transport_closed, ice_failed, ice_disconnected
	Error     string     `json:"error,omitempty"`
	Entries   []LogEntry `json:"entries"`
}
