package models

import (
	"errors"
	"fmt"
	"strings"
)

// Error variables for better error handling and testability
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrInactiveSession  = errors.New("session is not active")
	ErrSafetyBlocked    = errors.New("safety gate blocked the turn")
	ErrInvalidProfile   = errors.New("profile failed validation")
	ErrInvalidScript    = errors.New("invalid intake script")
	ErrEmptyUserID      = errors.New("user id cannot be empty")
	ErrEmptySessionID   = errors.New("session id cannot be empty")
	ErrEmptyResponse    = errors.New("response text cannot be empty")
	ErrResponseTooLong  = errors.New("response text exceeds maximum length")
	ErrAssemblerFailure = errors.New("character assembler failed")
)

// FieldError is a single field-level validation failure.
type FieldError struct {
	Field   ProfileField `json:"field"`
	Message string       `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError carries every field-level violation found in one pass.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fe.Error())
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Is lets errors.Is match ErrInvalidProfile.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidProfile
}

// ConfigurationError reports a malformed static table. It is fatal at load time.
type ConfigurationError struct {
	Source string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Source == "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error in %s: %s", e.Source, e.Reason)
}

// Is lets errors.Is match ErrInvalidScript.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrInvalidScript
}

// SafetyBlockedError reports a turn pre-empted by the safety gate.
type SafetyBlockedError struct {
	SessionID string
	Level     CrisisLevel
}

func (e *SafetyBlockedError) Error() string {
	return fmt.Sprintf("session %s blocked by safety gate (level %s)", e.SessionID, e.Level)
}

// Is lets errors.Is match ErrSafetyBlocked.
func (e *SafetyBlockedError) Is(target error) bool {
	return target == ErrSafetyBlocked
}
