package handler_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/velstudio/chat-gateway/internal/config"
	"github.com/velstudio/chat-gateway/internal/handler"
	"github.com/velstudio/chat-gateway/internal/models"
	"github.com/velstudio/chat-gateway/internal/ratelimit"
	"github.com/velstudio/chat-gateway/internal/server"
	"github.com/velstudio/chat-gateway/internal/session"
	"github.com/velstudio/chat-gateway/internal/webhook"
)

type testGateway struct {
	router  *gin.Engine
	limiter *ratelimit.MemoryLimiter
}

func newTestGateway(t *testing.T, webhookURL string, limit int, window, timeout time.Duration) *testGateway {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Port:             "8080",
		Environment:      "test",
		N8NWebhookURL:    webhookURL,
		N8NTimeout:       timeout,
		RateLimitMax:     limit,
		RateLimitWindow:  window,
		RateLimitBackend: "memory",
		SessionCookie:    "chat_session",
		SessionTTL:       time.Hour,
		AllowedOrigin:    "*",
	}

	limiter := ratelimit.NewMemory(limit, window)
	t.Cleanup(limiter.Close)

	sessions := session.NewManager(cfg.SessionCookie, cfg.SessionTTL, "", false)
	client := webhook.NewClient(cfg.N8NWebhookURL, cfg.N8NTimeout)
	chat := handler.NewChatHandler(sessions, limiter, client)

	return &testGateway{
		router:  server.New(cfg, chat, nil).GetRouter(),
		limiter: limiter,
	}
}

func echoUpstream(t *testing.T, calls *atomic.Int64, answer string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		json.NewEncoder(w).Encode(map[string]string{"message": answer})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (g *testGateway) post(body string, cookie *http.Cookie, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	g.router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func decodeSuccess(t *testing.T, w *httptest.ResponseRecorder) models.ChatResponse {
	t.Helper()
	var resp models.ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == "chat_session" {
			return c
		}
	}
	return nil
}

func TestChatValidation(t *testing.T) {
	upstream := echoUpstream(t, nil, "ok")
	g := newTestGateway(t, upstream.URL, 100, time.Minute, 5*time.Second)

	longMessage := strings.Repeat("a", 1001)

	cases := []struct {
		name     string
		body     string
		wantCode models.ErrorCode
	}{
		{"malformed json", `{"message": `, models.CodeInvalidJSON},
		{"empty body", ``, models.CodeInvalidJSON},
		{"missing message", `{"language":"en"}`, models.CodeInvalidMessage},
		{"non-string message", `{"message":42,"language":"en"}`, models.CodeInvalidMessage},
		{"blank message", `{"message":"   ","language":"en"}`, models.CodeInvalidMessage},
		{"too long message", fmt.Sprintf(`{"message":%q,"language":"en"}`, longMessage), models.CodeMessageTooLong},
		{"missing language", `{"message":"hi"}`, models.CodeInvalidLanguage},
		{"non-string language", `{"message":"hi","language":7}`, models.CodeInvalidLanguage},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := g.post(tc.body, nil, nil)
			require.Equal(t, http.StatusBadRequest, w.Code)
			require.Equal(t, tc.wantCode, decodeError(t, w).Code)
			require.Nil(t, sessionCookie(t, w), "error responses must not set cookies")
		})
	}
}

func TestChatMessageLengthCountsRunes(t *testing.T) {
	upstream := echoUpstream(t, nil, "ok")
	g := newTestGateway(t, upstream.URL, 100, time.Minute, 5*time.Second)

	// 1000 multibyte characters are within the limit even though the byte
	// count is far larger.
	message := strings.Repeat("ü", 1000)
	body, _ := json.Marshal(models.ChatRequest{Message: message, Language: "de"})

	w := g.post(string(body), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestChatOversizedBodyIsTooLong(t *testing.T) {
	upstream := echoUpstream(t, nil, "ok")
	g := newTestGateway(t, upstream.URL, 100, time.Minute, 5*time.Second)

	// Well past the read cap: truncation must not surface as a JSON error.
	body := fmt.Sprintf(`{"message":%q,"language":"en"}`, strings.Repeat("a", 70000))

	w := g.post(body, nil, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, models.CodeMessageTooLong, decodeError(t, w).Code)
}

func TestChatSuccess(t *testing.T) {
	var calls atomic.Int64
	upstream := echoUpstream(t, &calls, "hello from n8n")
	g := newTestGateway(t, upstream.URL, 100, time.Minute, 5*time.Second)

	w := g.post(`{"message":"hi","language":"en"}`, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeSuccess(t, w)
	require.Equal(t, "hello from n8n", resp.Answer)
	require.NotEmpty(t, resp.ConversationID)

	_, err := time.Parse(time.RFC3339, resp.Timestamp)
	require.NoError(t, err)

	cookie := sessionCookie(t, w)
	require.NotNil(t, cookie)
	require.Equal(t, resp.ConversationID, cookie.Value)
	require.True(t, cookie.HttpOnly)

	require.Equal(t, int64(1), calls.Load())
}

func TestChatSessionReuse(t *testing.T) {
	upstream := echoUpstream(t, nil, "ok")
	g := newTestGateway(t, upstream.URL, 100, time.Minute, 5*time.Second)

	first := g.post(`{"message":"hi","language":"en"}`, nil, nil)
	require.Equal(t, http.StatusOK, first.Code)
	cookie := sessionCookie(t, first)
	require.NotNil(t, cookie)

	second := g.post(`{"message":"again","language":"en"}`, cookie, nil)
	require.Equal(t, http.StatusOK, second.Code)

	require.Equal(t, decodeSuccess(t, first).ConversationID, decodeSuccess(t, second).ConversationID)
}

func TestChatForwardPayload(t *testing.T) {
	var received models.ForwardPayload
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		json.NewEncoder(w).Encode(map[string]string{"message": "ok"})
	}))
	t.Cleanup(upstream.Close)

	g := newTestGateway(t, upstream.URL, 100, time.Minute, 5*time.Second)

	w := g.post(`{"message":"  hello  ","language":"de"}`, nil, map[string]string{
		"X-Forwarded-For": "203.0.113.7, 10.0.0.1",
		"User-Agent":      "site-widget/2.1",
	})
	require.Equal(t, http.StatusOK, w.Code)

	require.Equal(t, "hello", received.Message, "forwarded message is trimmed")
	require.Equal(t, "de", received.Language)
	require.Equal(t, "203.0.113.7", received.Meta.IP)
	require.Equal(t, "site-widget/2.1", received.Meta.UserAgent)
	require.Equal(t, decodeSuccess(t, w).ConversationID, received.ConversationID)

	_, err := time.Parse(time.RFC3339, received.Timestamp)
	require.NoError(t, err)
}

func TestChatMetaFallsBackToUnknown(t *testing.T) {
	var received models.ForwardPayload
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		json.NewEncoder(w).Encode(map[string]string{"message": "ok"})
	}))
	t.Cleanup(upstream.Close)

	g := newTestGateway(t, upstream.URL, 100, time.Minute, 5*time.Second)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hi","language":"en"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Del("User-Agent")
	w := httptest.NewRecorder()
	g.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "unknown", received.Meta.IP)
	require.Equal(t, "unknown", received.Meta.UserAgent)
}

func TestChatRateLimitBoundary(t *testing.T) {
	var calls atomic.Int64
	upstream := echoUpstream(t, &calls, "ok")
	g := newTestGateway(t, upstream.URL, 3, time.Minute, 5*time.Second)

	first := g.post(`{"message":"hi","language":"en"}`, nil, nil)
	require.Equal(t, http.StatusOK, first.Code)
	cookie := sessionCookie(t, first)

	for i := 0; i < 2; i++ {
		w := g.post(`{"message":"hi","language":"en"}`, cookie, nil)
		require.Equal(t, http.StatusOK, w.Code)
	}

	denied := g.post(`{"message":"hi","language":"en"}`, cookie, nil)
	require.Equal(t, http.StatusTooManyRequests, denied.Code)
	require.Equal(t, models.CodeRateLimitExceeded, decodeError(t, denied).Code)

	require.Equal(t, "3", denied.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "0", denied.Header().Get("X-RateLimit-Remaining"))
	require.NotEmpty(t, denied.Header().Get("Retry-After"))

	_, err := time.Parse(time.RFC3339, denied.Header().Get("X-RateLimit-Reset"))
	require.NoError(t, err)

	// Denied request never reached the webhook.
	require.Equal(t, int64(3), calls.Load())
}

func TestChatRateLimitWindowReset(t *testing.T) {
	upstream := echoUpstream(t, nil, "ok")
	g := newTestGateway(t, upstream.URL, 1, 50*time.Millisecond, 5*time.Second)

	first := g.post(`{"message":"hi","language":"en"}`, nil, nil)
	require.Equal(t, http.StatusOK, first.Code)
	cookie := sessionCookie(t, first)

	denied := g.post(`{"message":"hi","language":"en"}`, cookie, nil)
	require.Equal(t, http.StatusTooManyRequests, denied.Code)

	time.Sleep(60 * time.Millisecond)

	retried := g.post(`{"message":"hi","language":"en"}`, cookie, nil)
	require.Equal(t, http.StatusOK, retried.Code)
}

func TestChatConcurrentLastSlot(t *testing.T) {
	upstream := echoUpstream(t, nil, "ok")
	g := newTestGateway(t, upstream.URL, 2, time.Minute, 5*time.Second)

	first := g.post(`{"message":"hi","language":"en"}`, nil, nil)
	require.Equal(t, http.StatusOK, first.Code)
	cookie := sessionCookie(t, first)

	var wg sync.WaitGroup
	codes := make([]int, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = g.post(`{"message":"hi","language":"en"}`, cookie, nil).Code
		}(i)
	}
	wg.Wait()

	ok, limited := 0, 0
	for _, code := range codes {
		switch code {
		case http.StatusOK:
			ok++
		case http.StatusTooManyRequests:
			limited++
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, limited)
}

func TestChatUpstreamFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(upstream.Close)

	g := newTestGateway(t, upstream.URL, 100, time.Minute, 5*time.Second)

	w := g.post(`{"message":"hi","language":"en"}`, nil, nil)
	require.Equal(t, http.StatusBadGateway, w.Code)
	require.Equal(t, models.CodeN8NServerError, decodeError(t, w).Code)
	require.Nil(t, sessionCookie(t, w))
}

func TestChatMissingWebhookURL(t *testing.T) {
	g := newTestGateway(t, "", 100, time.Minute, 5*time.Second)

	w := g.post(`{"message":"hi","language":"en"}`, nil, nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Equal(t, models.CodeMissingWebhookURL, decodeError(t, w).Code)
}

func TestChatUpstreamTimeout(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(func() {
		close(release)
		upstream.Close()
	})

	g := newTestGateway(t, upstream.URL, 100, time.Minute, 50*time.Millisecond)

	w := g.post(`{"message":"hi","language":"en"}`, nil, nil)
	require.Equal(t, http.StatusRequestTimeout, w.Code)
	require.Equal(t, models.CodeTimeout, decodeError(t, w).Code)
}

func TestChatMethodNotAllowed(t *testing.T) {
	var calls atomic.Int64
	upstream := echoUpstream(t, &calls, "ok")
	g := newTestGateway(t, upstream.URL, 1, time.Minute, 5*time.Second)

	req := httptest.NewRequest(http.MethodGet, "/api/chat", nil)
	w := httptest.NewRecorder()
	g.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
	require.Equal(t, models.CodeMethodNotAllowed, decodeError(t, w).Code)
	require.Equal(t, int64(0), calls.Load())

	// The rejected GET consumed no rate-limit slot: a full allowance remains.
	post := g.post(`{"message":"hi","language":"en"}`, nil, nil)
	require.Equal(t, http.StatusOK, post.Code)
}
