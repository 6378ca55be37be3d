// Package models defines flow type definitions to avoid circular imports.
package models

// StageID identifies a stage in the intake script.
type StageID string

// ResponseType is the classifier tag assigned to a user reply.
type ResponseType string

// ProgressionRule names a gate evaluated by the flow controller before a stage transition.
type ProgressionRule string

// PacingLevel controls how many exchanges a stage needs before advancing.
type PacingLevel string

// SessionStatus represents the lifecycle status of a conversation session.
type SessionStatus string

// Stage constants for the default intake script.
const (
	StageWelcome     StageID = "welcome"
	StageIdentity    StageID = "identity"
	StageChallenges  StageID = "challenges"
	StageStrengths   StageID = "strengths"
	StageValues      StageID = "values"
	StageGoals       StageID = "goals"
	StageSupport     StageID = "support"
	StagePreferences StageID = "preferences"
	StageReadiness   StageID = "readiness"
	StageCompletion  StageID = "completion"
)

// Response type constants, listed in classifier priority order.
const (
	ResponseCrisis    ResponseType = "crisis"
	ResponseEmotional ResponseType = "emotional"
	ResponseResistant ResponseType = "resistant"
	ResponseUnclear   ResponseType = "unclear"
	ResponseDetailed  ResponseType = "detailed"
	ResponseBrief     ResponseType = "brief"
)

// Progression rule constants.
const (
	RuleSafetyFirst       ProgressionRule = "SAFETY_FIRST"
	RuleReadinessBased    ProgressionRule = "READINESS_BASED"
	RuleEngagementDriven  ProgressionRule = "ENGAGEMENT_DRIVEN"
	RuleTimeBounded       ProgressionRule = "TIME_BOUNDED"
	RuleCompletenessGated ProgressionRule = "COMPLETENESS_GATED"
)

// Pacing constants.
const (
	PacingSlow        PacingLevel = "SLOW"
	PacingNormal      PacingLevel = "NORMAL"
	PacingAccelerated PacingLevel = "ACCELERATED"
)

// Session status constants.
const (
	StatusActive    SessionStatus = "ACTIVE"
	StatusPaused    SessionStatus = "PAUSED"
	StatusCompleted SessionStatus = "COMPLETED"
	StatusAbandoned SessionStatus = "ABANDONED"
	StatusError     SessionStatus = "ERROR"
)

// IsValidResponseType checks if the given response type is known.
func IsValidResponseType(rt ResponseType) bool {
	switch rt {
	case ResponseCrisis, ResponseEmotional, ResponseResistant, ResponseUnclear, ResponseDetailed, ResponseBrief:
		return true
	default:
		return false
	}
}

// IsValidProgressionRule checks if the given rule name is known.
func IsValidProgressionRule(r ProgressionRule) bool {
	switch r {
	case RuleSafetyFirst, RuleReadinessBased, RuleEngagementDriven, RuleTimeBounded, RuleCompletenessGated:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status ends the session lifecycle.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusAbandoned, StatusError:
		return true
	default:
		return false
	}
}

// Multiplier returns the minimum-exchange scale factor for the pacing level.
func (p PacingLevel) Multiplier() float64 {
	switch p {
	case PacingSlow:
		return 1.5
	case PacingAccelerated:
		return 0.8
	default:
		return 1.0
	}
}
