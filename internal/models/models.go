// Package models defines the core data structures for IntakePipe.
//
// It includes the conversation session, the collected profile, the static script
// types, outbound message kinds and the API request/response envelopes shared across modules.
package models

import "strings"

// Validation constants for input validation
const (
	// MaxResponseLength defines the maximum allowed length for a single user reply
	MaxResponseLength = 4096
	// MaxUserIDLength defines the maximum allowed length for a user identifier
	MaxUserIDLength = 128
	// MaxMetadataEntries defines the maximum number of metadata entries on a session
	MaxMetadataEntries = 32
)

// StartSessionRequest is the body of POST /sessions.
type StartSessionRequest struct {
	UserID   string            `json:"user_id"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Validate checks the start request.
func (r *StartSessionRequest) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return ErrEmptyUserID
	}
	if len(r.UserID) > MaxUserIDLength {
		return &ValidationError{Errors: []FieldError{{Field: "user_id", Message: "too long"}}}
	}
	if len(r.Metadata) > MaxMetadataEntries {
		return &ValidationError{Errors: []FieldError{{Field: "metadata", Message: "too many entries"}}}
	}
	return nil
}

// UserResponseRequest is the body of POST /sessions/{id}/responses.
type UserResponseRequest struct {
	Text string `json:"text"`
}

// Validate checks the response request.
func (r *UserResponseRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return ErrEmptyResponse
	}
	if len(r.Text) > MaxResponseLength {
		return ErrResponseTooLong
	}
	return nil
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusPending indicates the session is not ready to be finalized yet.
	APIStatusPending APIStatus = "pending"
)

// API Response types for consistent JSON responses

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// Error creates an error API response with the given message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}

// ErrorWithResult creates an error API response that also carries structured detail.
func ErrorWithResult(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Pending creates a response for a completion attempt that did not meet the threshold.
func Pending(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusPending).
		WithMessage(message).
		WithResult(result).
		Build()
}
