package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/velstudio/chat-gateway/internal/models"
	"github.com/velstudio/chat-gateway/internal/ratelimit"
	"github.com/velstudio/chat-gateway/internal/session"
	"github.com/velstudio/chat-gateway/internal/webhook"
)

const (
	maxMessageLength = 1000
	maxBodySize      = 64 << 10
)

// ChatHandler mediates between the public chat endpoint and the automation
// webhook: validate, resolve the visitor session, enforce the per-session
// rate limit, forward, shape the reply.
type ChatHandler struct {
	sessions *session.Manager
	limiter  ratelimit.Limiter
	webhook  *webhook.Client
}

func NewChatHandler(sessions *session.Manager, limiter ratelimit.Limiter, webhook *webhook.Client) *ChatHandler {
	return &ChatHandler{
		sessions: sessions,
		limiter:  limiter,
		webhook:  webhook,
	}
}

func (h *ChatHandler) Handle(c *gin.Context) {
	req, apiErr := parseRequest(c)
	if apiErr != nil {
		respondError(c, apiErr)
		return
	}

	sessionID := h.sessions.GetOrCreate(c)

	result, err := h.limiter.Allow(c.Request.Context(), sessionID)
	if err != nil {
		log.Printf("[%s] rate limit check failed: %v", c.GetString("request_id"), err)
		respondError(c, models.NewAPIError(
			models.CodeInternalError, http.StatusInternalServerError,
			"Internal server error", "Something went wrong. Please try again later.",
			err,
		))
		return
	}

	if !result.Allowed {
		respondRateLimited(c, result)
		return
	}

	payload := models.ForwardPayload{
		ConversationID: sessionID,
		Message:        strings.TrimSpace(req.Message),
		Language:       req.Language,
		Timestamp:      models.ISOTime(time.Now()),
		Meta: models.ForwardMeta{
			UserAgent: headerOrUnknown(c, "User-Agent"),
			IP:        clientIP(c),
		},
	}

	answer, apiErr := h.webhook.Send(c.Request.Context(), payload)
	if apiErr != nil {
		log.Printf("[%s] webhook dispatch failed: %v", c.GetString("request_id"), apiErr)
		respondError(c, apiErr)
		return
	}

	h.sessions.SetCookie(c, sessionID)

	c.JSON(http.StatusOK, models.ChatResponse{
		Answer:         answer,
		ConversationID: sessionID,
		Timestamp:      models.ISOTime(time.Now()),
	})
}

// parseRequest decodes and validates the inbound body. Fields are decoded
// loosely first so a wrong-typed message is reported as INVALID_MESSAGE, not
// as unparsable JSON.
func parseRequest(c *gin.Context) (*models.ChatRequest, *models.APIError) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodySize+1))
	if err != nil {
		return nil, validationError(models.CodeInvalidJSON, "Invalid request", "Request body could not be read.")
	}

	// A body past the cap can only mean an oversized message; report it as
	// such rather than unmarshaling a truncated document.
	if len(body) > maxBodySize {
		return nil, validationError(models.CodeMessageTooLong, "Invalid request",
			fmt.Sprintf("Message must be %d characters or fewer.", maxMessageLength))
	}

	var raw struct {
		Message  interface{} `json:"message"`
		Language interface{} `json:"language"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, validationError(models.CodeInvalidJSON, "Invalid request", "Request body must be valid JSON.")
	}

	message, ok := raw.Message.(string)
	if !ok || strings.TrimSpace(message) == "" {
		return nil, validationError(models.CodeInvalidMessage, "Invalid request", "A non-empty message is required.")
	}

	if utf8.RuneCountInString(message) > maxMessageLength {
		return nil, validationError(models.CodeMessageTooLong, "Invalid request",
			fmt.Sprintf("Message must be %d characters or fewer.", maxMessageLength))
	}

	language, ok := raw.Language.(string)
	if !ok || language == "" {
		return nil, validationError(models.CodeInvalidLanguage, "Invalid request", "A language is required.")
	}

	return &models.ChatRequest{Message: message, Language: language}, nil
}

func respondRateLimited(c *gin.Context, result ratelimit.Result) {
	retryAfter := int(time.Until(result.Reset).Seconds())
	if retryAfter < 0 {
		retryAfter = 0
	}

	c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
	c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", result.Limit))
	c.Header("X-RateLimit-Remaining", "0")
	c.Header("X-RateLimit-Reset", models.ISOTime(result.Reset))

	c.JSON(http.StatusTooManyRequests, models.ErrorResponse{
		Error:   "Rate limit exceeded",
		Message: "You are sending messages too quickly. Please wait a moment.",
		Code:    models.CodeRateLimitExceeded,
	})
}

func respondError(c *gin.Context, apiErr *models.APIError) {
	c.JSON(apiErr.Status, apiErr.Response())
}

func validationError(code models.ErrorCode, title, public string) *models.APIError {
	return models.NewAPIError(code, http.StatusBadRequest, title, public, nil)
}

// clientIP reads the forwarded address headers the site's edge sets, falling
// back to "unknown" rather than the socket address.
func clientIP(c *gin.Context) string {
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	if realIP := c.GetHeader("X-Real-Ip"); realIP != "" {
		return realIP
	}
	return "unknown"
}

func headerOrUnknown(c *gin.Context, name string) string {
	if v := c.GetHeader(name); v != "" {
		return v
	}
	return "unknown"
}
