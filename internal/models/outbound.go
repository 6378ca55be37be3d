// Package models defines the outbound message kinds emitted by the orchestrator.
package models

import (
	"encoding/json"
	"fmt"
)

// CrisisLevel grades the severity reported by the safety validator.
type CrisisLevel string

const (
	CrisisNone      CrisisLevel = "none"
	CrisisLow       CrisisLevel = "low"
	CrisisMedium    CrisisLevel = "medium"
	CrisisHigh      CrisisLevel = "high"
	CrisisEmergency CrisisLevel = "emergency"
)

// IsBlocking reports whether the level pre-empts the conversation.
func (l CrisisLevel) IsBlocking() bool {
	return l == CrisisHigh || l == CrisisEmergency
}

// OutboundKind tags the concrete type of an outbound message.
type OutboundKind string

const (
	KindAssistantMessage OutboundKind = "assistant_message"
	KindProgressUpdate   OutboundKind = "progress_update"
	KindValidationError  OutboundKind = "validation_error"
	KindCrisisAlert      OutboundKind = "crisis_alert"
	KindCompleted        OutboundKind = "completed"
)

// OutboundMessage is anything the orchestrator emits back to the user.
type OutboundMessage interface {
	Kind() OutboundKind
}

// AssistantMessage is a prompt or reply from the assistant.
type AssistantMessage struct {
	Stage     StageID  `json:"stage"`
	PromptID  string   `json:"prompt_id"`
	Content   string   `json:"content"`
	FollowUps []string `json:"follow_ups,omitempty"`
}

// ProgressUpdate reports how far through the script the session is.
type ProgressUpdate struct {
	Percent int `json:"percent"`
}

// ValidationErrorMessage reports a field the user should re-answer.
type ValidationErrorMessage struct {
	Field   ProfileField `json:"field"`
	Message string       `json:"message"`
}

// CrisisAlert carries crisis-support resources.
type CrisisAlert struct {
	Level     CrisisLevel `json:"level"`
	Content   string      `json:"content"`
	Resources []string    `json:"resources"`
}

// Completed wraps the finalization summary.
type Completed struct {
	Summary *CompletionSummary `json:"summary"`
}

func (AssistantMessage) Kind() OutboundKind       { return KindAssistantMessage }
func (ProgressUpdate) Kind() OutboundKind         { return KindProgressUpdate }
func (ValidationErrorMessage) Kind() OutboundKind { return KindValidationError }
func (CrisisAlert) Kind() OutboundKind            { return KindCrisisAlert }
func (Completed) Kind() OutboundKind              { return KindCompleted }

// outboundEnvelope is the wire form of an outbound message.
type outboundEnvelope struct {
	Kind    OutboundKind    `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalOutbound encodes messages as kind-tagged envelopes.
func MarshalOutbound(msgs []OutboundMessage) ([]byte, error) {
	envs := make([]outboundEnvelope, 0, len(msgs))
	for _, m := range msgs {
		payload, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s: %w", m.Kind(), err)
		}
		envs = append(envs, outboundEnvelope{Kind: m.Kind(), Payload: payload})
	}
	return json.Marshal(envs)
}

// UnmarshalOutbound decodes kind-tagged envelopes back into concrete messages.
func UnmarshalOutbound(data []byte) ([]OutboundMessage, error) {
	var envs []outboundEnvelope
	if err := json.Unmarshal(data, &envs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal outbound envelopes: %w", err)
	}
	out := make([]OutboundMessage, 0, len(envs))
	for _, env := range envs {
		var (
			msg OutboundMessage
			err error
		)
		switch env.Kind {
		case KindAssistantMessage:
			var m AssistantMessage
			err = json.Unmarshal(env.Payload, &m)
			msg = m
		case KindProgressUpdate:
			var m ProgressUpdate
			err = json.Unmarshal(env.Payload, &m)
			msg = m
		case KindValidationError:
			var m ValidationErrorMessage
			err = json.Unmarshal(env.Payload, &m)
			msg = m
		case KindCrisisAlert:
			var m CrisisAlert
			err = json.Unmarshal(env.Payload, &m)
			msg = m
		case KindCompleted:
			var m Completed
			err = json.Unmarshal(env.Payload, &m)
			msg = m
		default:
			return nil, fmt.Errorf("unknown outbound kind %q", env.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", env.Kind, err)
		}
		out = append(out, msg)
	}
	return out, nil
}
