package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"crossfade/internal/config"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrAuthDisabled = errors.New("authentication is disabled")
	ErrInvalidKey   = errors.New("invalid control key")
)

// bcryptCost balances login latency against brute force resistance
const bcryptCost = 12

// Service guards the mixer controls with a single shared control key.
// Whoever knows the key may drive the decks; everyone else may only watch.
type Service struct {
	keyHash        []byte
	sessionManager *SessionManager
	enabled        bool

	// GeneratedKey is set when no key was configured and one was made up.
	// It is shown once at startup.
	GeneratedKey string
}

// NewService creates the authentication service. A plaintext key from the
// config is hashed in memory; a bcrypt hash is used as is.
func NewService(cfg config.AuthConfig) (*Service, error) {
	if !cfg.Enabled {
		return &Service{enabled: false}, nil
	}

	duration, err := time.ParseDuration(cfg.SessionDuration)
	if err != nil {
		return nil, fmt.Errorf("invalid session duration: %w", err)
	}

	s := &Service{
		sessionManager: NewSessionManager(duration, cfg.SecureCookies),
		enabled:        true,
	}

	key := cfg.ControlKey
	if key == "" {
		key, err = generateKey(8)
		if err != nil {
			return nil, fmt.Errorf("failed to generate control key: %w", err)
		}
		s.GeneratedKey = key
	}

	if IsHashed(key) {
		s.keyHash = []byte(key)
	} else {
		s.keyHash, err = bcrypt.GenerateFromPassword([]byte(key), bcryptCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash control key: %w", err)
		}
	}

	return s, nil
}

// IsEnabled returns whether authentication is enabled
func (s *Service) IsEnabled() bool {
	return s.enabled
}

// Login checks the control key and opens a session
func (s *Service) Login(key string) (*Session, error) {
	if !s.enabled {
		return nil, ErrAuthDisabled
	}
	if bcrypt.CompareHashAndPassword(s.keyHash, []byte(key)) != nil {
		return nil, ErrInvalidKey
	}

	session, err := s.sessionManager.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// ValidateSession checks if a session ID is valid
func (s *Service) ValidateSession(sessionID string) (*Session, bool) {
	if !s.enabled {
		return nil, true // If auth is disabled, consider all sessions valid
	}
	return s.sessionManager.GetSession(sessionID)
}

// Logout invalidates a session
func (s *Service) Logout(sessionID string) {
	if !s.enabled {
		return
	}
	s.sessionManager.DeleteSession(sessionID)
}

// GetSessionManager returns the session manager (for middleware)
func (s *Service) GetSessionManager() *SessionManager {
	return s.sessionManager
}

// Close stops background session cleanup
func (s *Service) Close() {
	if s.sessionManager != nil {
		s.sessionManager.Close()
	}
}

// HashKey returns the bcrypt hash to put in the config instead of a plaintext key
func HashKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// IsHashed reports whether a key string is already a bcrypt hash
// ($2a$, $2b$, $2x$ or $2y$ prefix).
func IsHashed(key string) bool {
	return len(key) >= 4 &&
		key[0] == '$' &&
		key[1] == '2' &&
		(key[2] == 'a' || key[2] == 'b' || key[2] == 'x' || key[2] == 'y') &&
		key[3] == '$'
}

func generateKey(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes)[:length], nil
}
