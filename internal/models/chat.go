package models

import (
	"fmt"
	"time"
)

// ErrorCode identifies a failure class in the chat endpoint's public contract.
type ErrorCode string

const (
	CodeInvalidJSON        ErrorCode = "INVALID_JSON"
	CodeInvalidMessage     ErrorCode = "INVALID_MESSAGE"
	CodeInvalidLanguage    ErrorCode = "INVALID_LANGUAGE"
	CodeMessageTooLong     ErrorCode = "MESSAGE_TOO_LONG"
	CodeRateLimitExceeded  ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeMissingWebhookURL  ErrorCode = "MISSING_WEBHOOK_URL"
	CodeN8NServerError     ErrorCode = "N8N_SERVER_ERROR"
	CodeN8NRateLimited     ErrorCode = "N8N_RATE_LIMITED"
	CodeN8NClientError     ErrorCode = "N8N_CLIENT_ERROR"
	CodeInvalidN8NResponse ErrorCode = "INVALID_N8N_RESPONSE"
	CodeTimeout            ErrorCode = "TIMEOUT"
	CodeMethodNotAllowed   ErrorCode = "METHOD_NOT_ALLOWED"
	CodeInternalError      ErrorCode = "INTERNAL_ERROR"
)

// ChatRequest is the inbound body of POST /api/chat.
type ChatRequest struct {
	Message  string `json:"message"`
	Language string `json:"language"`
}

// ChatResponse is the success body of POST /api/chat.
type ChatResponse struct {
	Answer         string `json:"answer"`
	ConversationID string `json:"conversationId"`
	Timestamp      string `json:"timestamp"`
}

// ErrorResponse is the error body of POST /api/chat. Message is safe to show
// to end users; internal detail never travels in it.
type ErrorResponse struct {
	Error   string    `json:"error"`
	Message string    `json:"message"`
	Code    ErrorCode `json:"code"`
}

// ForwardMeta carries request origin info to the automation webhook.
type ForwardMeta struct {
	UserAgent string `json:"userAgent"`
	IP        string `json:"ip"`
}

// ForwardPayload is what the gateway POSTs to the n8n webhook.
type ForwardPayload struct {
	ConversationID string      `json:"conversationId"`
	Message        string      `json:"message"`
	Language       string      `json:"language"`
	Timestamp      string      `json:"timestamp"`
	Meta           ForwardMeta `json:"meta"`
}

// APIError is the explicit failure result flowing through the chat pipeline.
// Title and Public form the client-facing envelope; Err holds the internal
// cause for server-side logs only.
type APIError struct {
	Code   ErrorCode
	Status int
	Title  string
	Public string
	Err    error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Response builds the public error envelope.
func (e *APIError) Response() ErrorResponse {
	return ErrorResponse{
		Error:   e.Title,
		Message: e.Public,
		Code:    e.Code,
	}
}

// NewAPIError constructs an APIError with an optional internal cause.
func NewAPIError(code ErrorCode, status int, title, public string, err error) *APIError {
	return &APIError{
		Code:   code,
		Status: status,
		Title:  title,
		Public: public,
		Err:    err,
	}
}

// ISOTime renders a timestamp the way the chat contract expects it.
func ISOTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
