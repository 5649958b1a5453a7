package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"crossfade/internal/cache"
)

// CookieName is the cookie carrying the control session
const CookieName = "crossfade_session"

// Session is an authenticated controller session
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// sessionSweepInterval is how often expired sessions are dropped
const sessionSweepInterval = time.Hour

// SessionManager keeps control sessions in a TTL cache. A session expires
// duration after login.
type SessionManager struct {
	sessions      *cache.MemoryCache[*Session]
	duration      time.Duration
	secureCookies bool
}

func NewSessionManager(duration time.Duration, secureCookies bool) *SessionManager {
	return &SessionManager{
		sessions:      cache.NewMemoryCache[*Session](duration, sessionSweepInterval),
		duration:      duration,
		secureCookies: secureCookies,
	}
}

// CreateSession opens a new session
func (sm *SessionManager) CreateSession() (*Session, error) {
	token, err := newToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	now := time.Now()
	session := &Session{ID: token, CreatedAt: now, ExpiresAt: now.Add(sm.duration)}
	sm.sessions.Set(token, session)
	return session, nil
}

// GetSession returns the session for token unless it expired
func (sm *SessionManager) GetSession(token string) (*Session, bool) {
	if token == "" {
		return nil, false
	}
	return sm.sessions.Get(token)
}

func (sm *SessionManager) DeleteSession(token string) {
	sm.sessions.Delete(token)
}

// SetSessionCookie hands the session token to the browser
func (sm *SessionManager) SetSessionCookie(w http.ResponseWriter, session *Session) {
	http.SetCookie(w, sm.cookie(session.ID, session.ExpiresAt))
}

// ClearSessionCookie expires the cookie immediately
func (sm *SessionManager) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, sm.cookie("", time.Unix(0, 0)))
}

func (sm *SessionManager) cookie(value string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   sm.secureCookies,
		SameSite: http.SameSiteStrictMode,
	}
}

// GetSessionFromRequest reads the session from the cookie, or from an
// "Authorization: Bearer" header for controllers that cannot keep cookies.
func (sm *SessionManager) GetSessionFromRequest(r *http.Request) (*Session, bool) {
	if cookie, err := r.Cookie(CookieName); err == nil {
		return sm.GetSession(cookie.Value)
	}
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return sm.GetSession(strings.TrimPrefix(header, "Bearer "))
	}
	return nil, false
}

// Close stops the session sweeper
func (sm *SessionManager) Close() {
	sm.sessions.Close()
}

// newToken returns 32 random bytes, hex encoded
func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
