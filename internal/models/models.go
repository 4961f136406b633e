// Package models defines the core data structures for LeadPipe.
//
// It includes the inbound/outbound message types, delivery receipts, and the
// API response envelope shared across modules.
package models

import (
	"errors"
	"time"
)

// Validation constants for input validation
const (
	// MaxMessageBodyLength defines the maximum accepted length for an inbound message body
	MaxMessageBodyLength = 4096
	// MaxContactIDLength defines the maximum accepted length for a contact identifier
	MaxContactIDLength = 128
)

// Error variables for better error handling and testability
var (
	ErrEmptyContactID     = errors.New("contact_id cannot be empty")
	ErrContactIDTooLong   = errors.New("contact_id exceeds maximum length")
	ErrMessageTooLong     = errors.New("message body exceeds maximum length")
	ErrConversationFrozen = errors.New("conversation is frozen")
	ErrDuplicateMessage   = errors.New("message already processed")

	// Engine control-flow errors. These are recovered internally; the
	// orchestrator always produces a reply.
	ErrNoMatch          = errors.New("no trigger matched")
	ErrDraftUnavailable = errors.New("draft service unavailable")
	ErrPolicyRejected   = errors.New("reply rejected by policy")
	ErrSlotsUnavailable = errors.New("calendar slots unavailable")
	ErrExtractionNoOp   = errors.New("no facts extracted")
)

// LeadMessage represents one inbound message from a lead.
type LeadMessage struct {
	MessageID  string    `json:"message_id"`
	ContactID  string    `json:"contact_id"`
	FirstName  string    `json:"first_name,omitempty"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
}

// Validate performs validation on an inbound LeadMessage. An empty body is
// legal: silence is meaningful input to the engine.
func (m *LeadMessage) Validate() error {
	if m.ContactID == "" {
		return ErrEmptyContactID
	}
	if len(m.ContactID) > MaxContactIDLength {
		return ErrContactIDTooLong
	}
	if len(m.Body) > MaxMessageBodyLength {
		return ErrMessageTooLong
	}
	return nil
}

// ReplySource identifies which engine layer produced a reply.
type ReplySource string

const (
	// ReplySourceTrigger marks replies produced by the trigger map.
	ReplySourceTrigger ReplySource = "trigger"
	// ReplySourceObjection marks replies produced by the objection sub-flow.
	ReplySourceObjection ReplySource = "objection"
	// ReplySourceDraft marks replies produced by the generative draft path.
	ReplySourceDraft ReplySource = "draft"
	// ReplySourcePlaybook marks replies produced by the playbook fallback.
	ReplySourcePlaybook ReplySource = "playbook"
)

// Reply is the engine's outbound decision for one turn.
type Reply struct {
	ContactID string          `json:"contact_id"`
	Text      string          `json:"text"`
	Source    ReplySource     `json:"source"`
	Stage     Stage           `json:"stage"`
	Category  TriggerCategory `json:"category,omitempty"`
	Booked    bool            `json:"booked,omitempty"`
}

// MessageStatus represents the delivery status of a message.
type MessageStatus string

const (
	// MessageStatusSent indicates the message was sent.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusDelivered indicates the message was delivered.
	MessageStatusDelivered MessageStatus = "delivered"
	// MessageStatusRead indicates the message was read.
	MessageStatusRead MessageStatus = "read"
	// MessageStatusFailed indicates the message failed to send.
	MessageStatusFailed MessageStatus = "failed"
	// MessageStatusCancelled indicates the message was cancelled.
	MessageStatusCancelled MessageStatus = "cancelled"
)

// Receipt records a delivery status change for an outbound message.
// Receipts feed analytics only; the engine never retries off a receipt.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// Response represents an incoming message from a messaging transport.
// MessageID carries the transport's message identifier when the channel
// provides one; the engine dedupes on it.
type Response struct {
	From      string `json:"from"`
	Body      string `json:"body"`
	Time      int64  `json:"time"`
	MessageID string `json:"message_id,omitempty"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusRecorded indicates data was successfully recorded via API.
	APIStatusRecorded APIStatus = "recorded"
)

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

// Convenience functions for common response patterns

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
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

// Recorded creates a recorded API response.
func Recorded() APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusRecorded).
		Build()
}

// RecordedWithMessage creates a recorded API response with a message.
func RecordedWithMessage(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusRecorded).
		WithMessage(message).
		Build()
}
