package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"crossfade/internal/config"
)

func newTestService(t *testing.T, key string) *Service {
	t.Helper()
	s, err := NewService(config.AuthConfig{
		Enabled:         true,
		ControlKey:      key,
		SessionDuration: "1h",
	})
	if err != nil {
		t.Fatalf("NewService() unexpected error: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestDisabledService(t *testing.T) {
	s, err := NewService(config.AuthConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewService() unexpected error: %v", err)
	}
	if s.IsEnabled() {
		t.Error("Expected service to be disabled")
	}
	if _, ok := s.ValidateSession("anything"); !ok {
		t.Error("Expected every session to be valid when disabled")
	}
	if _, err := s.Login("key"); !errors.Is(err, ErrAuthDisabled) {
		t.Errorf("Expected ErrAuthDisabled, got %v", err)
	}
	s.Logout("anything")
	s.Close()
}

func TestLoginWithPlaintextKey(t *testing.T) {
	s := newTestService(t, "decks")

	if _, err := s.Login("wrong"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Expected ErrInvalidKey, got %v", err)
	}

	session, err := s.Login("decks")
	if err != nil {
		t.Fatalf("Login() unexpected error: %v", err)
	}
	if _, ok := s.ValidateSession(session.ID); !ok {
		t.Error("Expected new session to validate")
	}

	s.Logout(session.ID)
	if _, ok := s.ValidateSession(session.ID); ok {
		t.Error("Expected session to be gone after logout")
	}
}

func TestLoginWithHashedKey(t *testing.T) {
	hash, err := HashKey("booth")
	if err != nil {
		t.Fatalf("HashKey() unexpected error: %v", err)
	}
	if !IsHashed(hash) {
		t.Fatalf("Expected %q to look hashed", hash)
	}

	s := newTestService(t, hash)
	if _, err := s.Login("booth"); err != nil {
		t.Errorf("Login() unexpected error: %v", err)
	}
	if _, err := s.Login(hash); err == nil {
		t.Error("The hash itself must not be accepted as key")
	}
}

func TestGeneratedKey(t *testing.T) {
	s := newTestService(t, "")
	if len(s.GeneratedKey) != 8 {
		t.Fatalf("Expected an 8 character generated key, got %q", s.GeneratedKey)
	}
	if _, err := s.Login(s.GeneratedKey); err != nil {
		t.Errorf("Login() with generated key failed: %v", err)
	}
}

func TestInvalidSessionDuration(t *testing.T) {
	_, err := NewService(config.AuthConfig{Enabled: true, ControlKey: "x", SessionDuration: "forever"})
	if err == nil {
		t.Error("Expected error for invalid session duration")
	}
}

func TestIsHashed(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"$2a$12$abcdefghijklmnopqrstuv", true},
		{"$2b$10$xyz", true},
		{"$2y$", true},
		{"$1$abc", false},
		{"plain", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsHashed(tt.key); got != tt.want {
			t.Errorf("IsHashed(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestSessionFromRequest(t *testing.T) {
	sm := NewSessionManager(time.Hour, false)
	defer sm.Close()

	session, err := sm.CreateSession()
	if err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	sm.SetSessionCookie(rec, session)
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != CookieName {
		t.Fatalf("Expected session cookie, got %v", cookies)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	if got, ok := sm.GetSessionFromRequest(req); !ok || got.ID != session.ID {
		t.Error("Expected session from cookie")
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+session.ID)
	if got, ok := sm.GetSessionFromRequest(req); !ok || got.ID != session.ID {
		t.Error("Expected session from bearer token")
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	if _, ok := sm.GetSessionFromRequest(req); ok {
		t.Error("Expected no session without credentials")
	}
}

func TestExpiredSession(t *testing.T) {
	sm := NewSessionManager(-time.Second, false)
	defer sm.Close()

	session, _ := sm.CreateSession()
	if _, ok := sm.GetSession(session.ID); ok {
		t.Error("Expected expired session to be rejected")
	}
}
