package models

import "time"

// StageDefinition is one static step of the intake script.
type StageDefinition struct {
	ID             StageID
	Prompt         string
	Context        string // re-prompt text used when progression is denied
	FollowUps      []string
	TargetFields   []ProfileField
	RequiredFields []ProfileField
	CrisisKeywords []string
	MinExchanges   int
	MaxDuration    time.Duration // zero means unbounded
	Rules          []ProgressionRule
	Next           StageID // empty for the final stage
}

// PromptID returns the identifier of the stage's main prompt.
func (d StageDefinition) PromptID() string {
	return string(d.ID) + ".prompt"
}

// Branch maps a classified response at a stage to the next stage and an optional canned reply.
type Branch struct {
	Stage        StageID
	ResponseType ResponseType
	Next         StageID
	Reply        string
}

// Stays reports whether the branch keeps the session on its source stage.
func (b Branch) Stays() bool {
	return b.Next == b.Stage
}
