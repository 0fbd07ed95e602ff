// Package models defines the core data structures for FleetPipe.
//
// It includes the conversation state, tool, narrative and UI types shared across modules.
package models

import "errors"

// Error variables for request validation.
var (
	ErrEmptyMessage     = errors.New("message cannot be empty")
	ErrInvalidFlowType  = errors.New("invalid flow type")
	ErrMessageTooLong   = errors.New("message exceeds maximum length")
	ErrInvalidVerbosity = errors.New("invalid verbosity")
)

// MaxMessageLength defines the maximum allowed length of a user message.
const MaxMessageLength = 4096

// TurnRequest is the payload of one conversation turn submitted through the API.
type TurnRequest struct {
	Message     string                `json:"message"`
	Flow        FlowType              `json:"flow,omitempty"`
	Arguments   map[string]any        `json:"arguments,omitempty"`
	Preferences *NarrativePreferences `json:"preferences,omitempty"`
}

// Validate checks a TurnRequest. An empty message is allowed when arguments
// answer a pending selection.
func (r *TurnRequest) Validate() error {
	if r.Message == "" && len(r.Arguments) == 0 && r.Flow == "" {
		return ErrEmptyMessage
	}
	if len(r.Message) > MaxMessageLength {
		return ErrMessageTooLong
	}
	if r.Flow != "" && !IsValidFlowType(r.Flow) {
		return ErrInvalidFlowType
	}
	if r.Preferences != nil && !IsValidVerbosity(r.Preferences.Verbosity) {
		return ErrInvalidVerbosity
	}
	return nil
}

// IsValidVerbosity reports whether v is empty or a known verbosity level.
func IsValidVerbosity(v string) bool {
	switch v {
	case "", VerbosityBrief, VerbosityStandard, VerbosityDetailed:
		return true
	default:
		return false
	}
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusPending indicates the turn paused waiting for user input.
	APIStatusPending APIStatus = "pending"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Result  any    `json:"result,omitempty"`
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{}
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
func (b *APIResponseBuilder) WithResult(result any) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result any) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// Pending creates a response for a turn that is waiting on the user.
func Pending(message string, result any) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusPending).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}
