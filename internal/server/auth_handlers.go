package server

import (
	"errors"
	"net/http"
	"strings"

	"crossfade/internal/auth"
)

// authMiddleware requires a control session for requests that change the
// mixer. Reading state and following the event stream stay open so anyone
// can watch the set.
func (ms *MixerServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ms.authService.IsEnabled() || isReadOnly(r.Method) || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		sessionManager := ms.authService.GetSessionManager()
		if _, valid := sessionManager.GetSessionFromRequest(r); !valid {
			ms.respondWithError(w, r, http.StatusUnauthorized, "Authentication required", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func isReadOnly(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions
}

// isPublicPath checks if a path should be accessible without authentication
func isPublicPath(path string) bool {
	publicPaths := []string{
		"/api/auth/",
		"/api/clients",
		"/static/",
		"/health",
	}

	for _, publicPath := range publicPaths {
		if strings.HasPrefix(path, publicPath) {
			return true
		}
	}

	return false
}

// handleAuthStatus tells the frontend whether it may use the controls
func (ms *MixerServer) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	authenticated := true
	if ms.authService.IsEnabled() {
		_, authenticated = ms.authService.GetSessionManager().GetSessionFromRequest(r)
	}
	ms.respondJSON(w, http.StatusOK, map[string]bool{
		"enabled":       ms.authService.IsEnabled(),
		"authenticated": authenticated,
	})
}

// handleAuthLogin exchanges the control key for a session cookie
func (ms *MixerServer) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	var credentials struct {
		Key string `json:"key"`
	}
	if verr := decodeJSON(r, &credentials); verr != nil {
		ms.respondWithValidationError(w, r, *verr)
		return
	}
	if credentials.Key == "" {
		ms.respondWithValidationError(w, r, ValidationError{
			Field:   "key",
			Message: "Control key required",
			Code:    "MISSING_KEY",
		})
		return
	}

	session, err := ms.authService.Login(credentials.Key)
	switch {
	case errors.Is(err, auth.ErrAuthDisabled):
		ms.respondWithError(w, r, http.StatusNotFound, "Authentication is disabled", err)
		return
	case errors.Is(err, auth.ErrInvalidKey):
		ms.logger.WithField("remote", r.RemoteAddr).Warn("Failed login attempt")
		ms.respondWithError(w, r, http.StatusUnauthorized, "Invalid control key", nil)
		return
	case err != nil:
		ms.respondWithError(w, r, http.StatusInternalServerError, "Could not create session", err)
		return
	}

	ms.authService.GetSessionManager().SetSessionCookie(w, session)
	ms.logger.WithField("remote", r.RemoteAddr).Info("Controller logged in")

	ms.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "success",
		"token":     session.ID,
		"expiresAt": session.ExpiresAt,
	})
}

// handleAuthLogout ends the caller's session
func (ms *MixerServer) handleAuthLogout(w http.ResponseWriter, r *http.Request) {
	if ms.authService.IsEnabled() {
		sessionManager := ms.authService.GetSessionManager()
		if session, valid := sessionManager.GetSessionFromRequest(r); valid {
			ms.authService.Logout(session.ID)
			ms.logger.Info("Controller logged out")
		}
		sessionManager.ClearSessionCookie(w)
	}

	ms.respondJSON(w, http.StatusOK, map[string]string{"status": "success"})
}
