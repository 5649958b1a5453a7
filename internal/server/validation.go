package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"crossfade/internal/beatgrid"
	"crossfade/internal/beatsync"
	"crossfade/internal/player"
	"crossfade/pkg/models"

	"github.com/sirupsen/logrus"
)

// ValidationError represents a validation error with details
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ValidationResult contains validation results
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// respondJSON writes v as a JSON body with the given status
func (ms *MixerServer) respondJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		ms.logger.WithError(err).Warn("Failed to encode response")
	}
}

// respondWithValidationError sends a structured validation error response
func (ms *MixerServer) respondWithValidationError(w http.ResponseWriter, r *http.Request, errors ...ValidationError) {
	ms.logger.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"errors": errors,
	}).Warn("Validation failed")

	ms.respondJSON(w, http.StatusBadRequest, ValidationResult{
		Valid:  false,
		Errors: errors,
	})
}

// respondWithError sends a structured error response
func (ms *MixerServer) respondWithError(w http.ResponseWriter, r *http.Request, statusCode int, message string, err error) {
	logEntry := ms.logger.WithFields(logrus.Fields{
		"method":      r.Method,
		"path":        r.URL.Path,
		"status_code": statusCode,
		"message":     message,
	})

	if err != nil {
		logEntry = logEntry.WithError(err)
	}

	if statusCode >= 500 {
		logEntry.Error("Server error")
	} else {
		logEntry.Warn("Client error")
	}

	ms.respondJSON(w, statusCode, map[string]interface{}{
		"error":   message,
		"code":    statusCode,
		"success": false,
	})
}

// respondWithMixerError maps mixer and sync errors onto HTTP statuses. The
// error text is meant for the DJ and is passed through.
func (ms *MixerServer) respondWithMixerError(w http.ResponseWriter, r *http.Request, err error) {
	ms.respondWithError(w, r, statusForError(err), err.Error(), err)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, player.ErrUnknownDeck):
		return http.StatusNotFound
	case errors.Is(err, beatsync.ErrMissingGrid),
		errors.Is(err, beatsync.ErrNoMaster),
		errors.Is(err, beatsync.ErrStaleSync),
		errors.Is(err, player.ErrNoTrack),
		errors.Is(err, player.ErrStaleLoad):
		return http.StatusConflict
	case errors.Is(err, beatgrid.ErrInsufficientBeats),
		errors.Is(err, beatgrid.ErrInvalidGrid),
		errors.Is(err, beatgrid.ErrInvalidTempo),
		errors.Is(err, beatgrid.ErrInvalidDuration):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON decodes the request body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v interface{}) *ValidationError {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return &ValidationError{
		Field:   "body",
		Message: "Invalid JSON",
		Code:    "INVALID_JSON",
	}
}

// validateDeckID parses a deck name such as "A" or "deckB"
func validateDeckID(raw string) (models.DeckID, *ValidationError) {
	if raw == "" {
		return "", &ValidationError{
			Field:   "deck",
			Message: "Deck is required",
			Code:    "MISSING_DECK",
		}
	}
	deck, err := models.ParseDeckID(raw)
	if err != nil {
		return "", &ValidationError{
			Field:   "deck",
			Message: "Deck must be A or B",
			Code:    "INVALID_DECK",
		}
	}
	return deck, nil
}

// validateRange checks that v is a finite number within [lo, hi]
func validateRange(field string, v, lo, hi float64) *ValidationError {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < lo || v > hi {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("%s must be between %g and %g", field, lo, hi),
			Code:    "OUT_OF_RANGE",
		}
	}
	return nil
}

// parseFloatParam reads an optional float query parameter
func parseFloatParam(r *http.Request, name string, fallback float64) (float64, *ValidationError) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &ValidationError{
			Field:   name,
			Message: fmt.Sprintf("%s must be a number", name),
			Code:    "INVALID_NUMBER",
		}
	}
	return v, nil
}

// resolveTrackPath turns a library-relative or absolute path into an
// absolute path inside the music directory
func (ms *MixerServer) resolveTrackPath(filePath string) (string, *ValidationError) {
	if strings.TrimSpace(filePath) == "" || strings.Contains(filePath, "\x00") {
		return "", &ValidationError{
			Field:   "path",
			Message: "Track path is required",
			Code:    "MISSING_PATH",
		}
	}
	if !filepath.IsAbs(filePath) {
		filePath = filepath.Join(ms.config.Music.LibraryPath, filePath)
	}
	if verr := ms.validateFilePath(filePath); verr != nil {
		return "", verr
	}
	if verr := ms.validateContentType(filePath); verr != nil {
		return "", verr
	}
	abs, _ := filepath.Abs(filepath.Clean(filePath))
	return abs, nil
}

// validateFilePath ensures file path is within the configured music directory
func (ms *MixerServer) validateFilePath(filePath string) *ValidationError {
	cleanPath := filepath.Clean(filePath)
	absPath, err := filepath.Abs(cleanPath)
	if err != nil {
		return &ValidationError{
			Field:   "path",
			Message: "Invalid file path",
			Code:    "INVALID_FILE_PATH",
		}
	}

	absMusicDir, err := filepath.Abs(ms.config.Music.LibraryPath)
	if err != nil {
		return &ValidationError{
			Field:   "path",
			Message: "Server configuration error",
			Code:    "CONFIG_ERROR",
		}
	}

	relPath, err := filepath.Rel(absMusicDir, absPath)
	if err != nil || relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return &ValidationError{
			Field:   "path",
			Message: "File path outside allowed directory",
			Code:    "PATH_TRAVERSAL_DENIED",
		}
	}

	return nil
}

// validateContentType rejects files the probe cannot read
func (ms *MixerServer) validateContentType(filePath string) *ValidationError {
	if !ms.probe.IsAudioFile(filePath) {
		return &ValidationError{
			Field:   "path",
			Message: fmt.Sprintf("Unsupported file type: %s", strings.ToLower(filepath.Ext(filePath))),
			Code:    "UNSUPPORTED_FILE_TYPE",
		}
	}
	return nil
}

// sanitizeInput removes null bytes and surrounding whitespace
func sanitizeInput(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	return strings.TrimSpace(input)
}
