package models

import "time"

// Character is the domain entity assembled from a completed profile.
type Character struct {
	Name      string   `json:"name"`
	Pronouns  string   `json:"pronouns,omitempty"`
	Archetype string   `json:"archetype"`
	Traits    []string `json:"traits"`
	Quests    []string `json:"quests"`
	Allies    []string `json:"allies,omitempty"`
	Abilities []string `json:"abilities,omitempty"`
	Tone      string   `json:"tone"`
	Readiness float64  `json:"readiness"`
}

// CompletionSummary is returned when a session is finalized.
type CompletionSummary struct {
	SessionID    string           `json:"session_id"`
	UserID       string           `json:"user_id"`
	Completeness float64          `json:"completeness"`
	Profile      CollectedProfile `json:"profile"`
	Character    *Character       `json:"character"`
	CompletedAt  time.Time        `json:"completed_at"`
}

// ConversationState is a read-only snapshot of a session.
type ConversationState struct {
	SessionID      string           `json:"session_id"`
	UserID         string           `json:"user_id"`
	Status         SessionStatus    `json:"status"`
	CurrentStage   StageID          `json:"current_stage"`
	CrisisFlag     bool             `json:"crisis_flag"`
	Completeness   float64          `json:"completeness"`
	Engagement     float64          `json:"engagement"`
	Pacing         PacingLevel      `json:"pacing"`
	MessageCount   int              `json:"message_count"`
	Profile        CollectedProfile `json:"profile"`
	LastActivityAt time.Time        `json:"last_activity_at"`
}
