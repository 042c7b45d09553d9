package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/velstudio/chat-gateway/internal/models"
)

const (
	// FallbackAnswer is returned when the webhook replies with JSON that
	// carries no usable text.
	FallbackAnswer = "Thank you for your message! I will get back to you as soon as possible."

	userAgent       = "chat-gateway/1.0"
	maxResponseSize = 1 << 20
)

// Client forwards chat messages to the n8n automation webhook and translates
// every failure mode into the endpoint's error taxonomy. One attempt per
// call; retries are deliberately not performed.
type Client struct {
	webhookURL string
	timeout    time.Duration
	httpClient *http.Client
}

func NewClient(webhookURL string, timeout time.Duration) *Client {
	return &Client{
		webhookURL: webhookURL,
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Send posts the payload to the webhook and returns the reply text.
func (c *Client) Send(ctx context.Context, payload models.ForwardPayload) (string, *models.APIError) {
	if c.webhookURL == "" {
		return "", models.NewAPIError(
			models.CodeMissingWebhookURL, http.StatusInternalServerError,
			"Service unavailable", "Chat is temporarily unavailable. Please try again later.",
			errors.New("N8N_WEBHOOK_URL is not configured"),
		)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", internalError(fmt.Errorf("marshal webhook payload: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return "", internalError(fmt.Errorf("build webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return "", models.NewAPIError(
				models.CodeTimeout, http.StatusRequestTimeout,
				"Request timeout", "The chat service took too long to respond. Please try again.",
				err,
			)
		}
		return "", internalError(fmt.Errorf("webhook request failed: %w", err))
	}
	defer resp.Body.Close()

	if apiErr := classifyStatus(resp.StatusCode); apiErr != nil {
		return "", apiErr
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", invalidResponse(fmt.Errorf("read webhook response: %w", err))
	}

	var reply map[string]interface{}
	if err := json.Unmarshal(raw, &reply); err != nil {
		return "", invalidResponse(fmt.Errorf("decode webhook response: %w", err))
	}

	return extractAnswer(reply), nil
}

// classifyStatus maps a non-2xx webhook status to the taxonomy.
func classifyStatus(status int) *models.APIError {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 500:
		return models.NewAPIError(
			models.CodeN8NServerError, http.StatusBadGateway,
			"Upstream error", "The chat service is having trouble. Please try again later.",
			fmt.Errorf("webhook returned status %d", status),
		)
	case status == http.StatusTooManyRequests:
		return models.NewAPIError(
			models.CodeN8NRateLimited, http.StatusServiceUnavailable,
			"Service busy", "The chat service is busy right now. Please try again in a moment.",
			fmt.Errorf("webhook returned status %d", status),
		)
	default:
		return models.NewAPIError(
			models.CodeN8NClientError, http.StatusBadGateway,
			"Upstream error", "The chat service is having trouble. Please try again later.",
			fmt.Errorf("webhook returned status %d", status),
		)
	}
}

// extractAnswer picks the reply from the first of the field names n8n flows
// commonly respond with.
func extractAnswer(reply map[string]interface{}) string {
	for _, field := range []string{"message", "response", "answer"} {
		if s, ok := reply[field].(string); ok && s != "" {
			return s
		}
	}
	return FallbackAnswer
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr) && urlErr.Timeout()
}

func invalidResponse(err error) *models.APIError {
	return models.NewAPIError(
		models.CodeInvalidN8NResponse, http.StatusBadGateway,
		"Upstream error", "The chat service returned an unexpected response. Please try again.",
		err,
	)
}

func internalError(err error) *models.APIError {
	return models.NewAPIError(
		models.CodeInternalError, http.StatusInternalServerError,
		"Internal server error", "Something went wrong. Please try again later.",
		err,
	)
}
