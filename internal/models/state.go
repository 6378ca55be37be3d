// Package models defines conversation session state for the intake pipeline.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Message is one entry in the append-only session history.
type Message struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Sender    Sender            `json:"sender"`
	Content   string            `json:"content"`
	Stage     StageID           `json:"stage"` // stage active when the message was sent
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ConversationSession is the full persisted state of one intake conversation.
type ConversationSession struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id"`
	Status         SessionStatus     `json:"status"`
	CurrentStage   StageID           `json:"current_stage"`
	StageEnteredAt time.Time         `json:"stage_entered_at"`
	CrisisFlag     bool              `json:"crisis_flag"`
	Profile        CollectedProfile  `json:"profile"`
	History        []Message         `json:"history"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	LastActivityAt time.Time         `json:"last_activity_at"`
}

// UserMessages returns the user-authored messages in history order.
func (s *ConversationSession) UserMessages() []Message {
	var out []Message
	for _, m := range s.History {
		if m.Sender == SenderUser {
			out = append(out, m)
		}
	}
	return out
}

// UserMessagesAt returns the user messages tagged with the given stage.
func (s *ConversationSession) UserMessagesAt(stage StageID) []Message {
	var out []Message
	for _, m := range s.History {
		if m.Sender == SenderUser && m.Stage == stage {
			out = append(out, m)
		}
	}
	return out
}

// IsExpired reports whether a non-terminal session has been idle longer than timeout.
func (s *ConversationSession) IsExpired(now time.Time, timeout time.Duration) bool {
	if s.Status.IsTerminal() || timeout <= 0 {
		return false
	}
	return now.Sub(s.LastActivityAt) > timeout
}

// Clone returns a deep copy of the session.
func (s *ConversationSession) Clone() *ConversationSession {
	out := *s
	out.Profile = s.Profile.Clone()
	out.History = make([]Message, len(s.History))
	for i, m := range s.History {
		if m.Metadata != nil {
			md := make(map[string]string, len(m.Metadata))
			for k, v := range m.Metadata {
				md[k] = v
			}
			m.Metadata = md
		}
		out.History[i] = m
	}
	if s.Metadata != nil {
		out.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// ToJSON serializes the session.
func (s *ConversationSession) ToJSON() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session %s: %w", s.ID, err)
	}
	return data, nil
}

// SessionFromJSON deserializes a session.
func SessionFromJSON(data []byte) (*ConversationSession, error) {
	var s ConversationSession
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	if s.Profile.Fields == nil {
		s.Profile.Fields = make(map[ProfileField]ProfileValue)
	}
	return &s, nil
}

