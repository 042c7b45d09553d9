package session

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenBytes = 18

// Manager issues and reads the per-visitor session cookie. The session id is
// a rate-limit correlation key, not an authentication credential; by default
// the cookie value is trusted as-is. With a non-empty secret the value is an
// HMAC-signed JWT instead, so forged or tampered cookies fall back to a fresh
// session.
type Manager struct {
	cookieName string
	ttl        time.Duration
	secret     []byte
	secure     bool
}

func NewManager(cookieName string, ttl time.Duration, secret string, secure bool) *Manager {
	m := &Manager{
		cookieName: cookieName,
		ttl:        ttl,
		secure:     secure,
	}
	if secret != "" {
		m.secret = []byte(secret)
	}
	return m
}

// GetOrCreate returns the session id for the current request, minting a new
// one when no usable cookie is present. It never fails.
func (m *Manager) GetOrCreate(c *gin.Context) string {
	value, err := c.Cookie(m.cookieName)
	if err == nil && value != "" {
		if m.secret == nil {
			return value
		}
		if sid, ok := m.verify(value); ok {
			return sid
		}
	}
	return newToken()
}

// SetCookie attaches the session id to the response. Call it once the request
// has succeeded; error paths leave the client's cookies untouched.
func (m *Manager) SetCookie(c *gin.Context, sessionID string) {
	value := sessionID
	if m.secret != nil {
		if signed, err := m.sign(sessionID); err == nil {
			value = signed
		}
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(m.cookieName, value, int(m.ttl.Seconds()), "/", "", m.secure, true)
}

func (m *Manager) sign(sessionID string) (string, error) {
	claims := jwt.MapClaims{
		"sid": sessionID,
		"exp": time.Now().Add(m.ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

func (m *Manager) verify(value string) (string, bool) {
	token, err := jwt.Parse(value, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return "", false
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", false
	}
	sid, ok := claims["sid"].(string)
	if !ok || sid == "" {
		return "", false
	}
	return sid, true
}

func newToken() string {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "sess_" + uuid.NewString()
	}
	return "sess_" + base64.RawURLEncoding.EncodeToString(buf)
}
