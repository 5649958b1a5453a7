package server

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"

	"crossfade/internal/beatgrid"
	"crossfade/internal/beatsync"
	"crossfade/internal/player"
	"crossfade/pkg/models"
)

func TestValidateDeckID(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		want      models.DeckID
		wantError bool
	}{
		{name: "upper case", raw: "A", want: models.DeckA},
		{name: "lower case", raw: "b", want: models.DeckB},
		{name: "long form", raw: "deckA", want: models.DeckA},
		{name: "missing deck", raw: "", wantError: true},
		{name: "third deck", raw: "C", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := validateDeckID(tt.raw)

			if tt.wantError && err == nil {
				t.Errorf("validateDeckID() expected error but got none")
			}
			if !tt.wantError && err != nil {
				t.Errorf("validateDeckID() unexpected error: %v", err.Message)
			}
			if got != tt.want {
				t.Errorf("validateDeckID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidateFilePath(t *testing.T) {
	ms := newTestServer(t, nil)
	library := ms.config.Music.LibraryPath

	tests := []struct {
		name     string
		filePath string
		wantCode string
	}{
		{name: "file in library", filePath: filepath.Join(library, "set.mp3")},
		{name: "nested file", filePath: filepath.Join(library, "house", "set.mp3")},
		{name: "dotted name inside library", filePath: filepath.Join(library, "..intro.mp3")},
		{name: "path traversal", filePath: filepath.Join(library, "..", "secret.mp3"), wantCode: "PATH_TRAVERSAL_DENIED"},
		{name: "absolute outside", filePath: "/etc/passwd", wantCode: "PATH_TRAVERSAL_DENIED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ms.validateFilePath(tt.filePath)
			switch {
			case tt.wantCode == "" && err != nil:
				t.Errorf("validateFilePath() unexpected error: %v", err.Message)
			case tt.wantCode != "" && err == nil:
				t.Errorf("validateFilePath() expected %s but got none", tt.wantCode)
			case tt.wantCode != "" && err.Code != tt.wantCode:
				t.Errorf("validateFilePath() code = %s, want %s", err.Code, tt.wantCode)
			}
		})
	}
}

func TestResolveTrackPath(t *testing.T) {
	ms := newTestServer(t, nil)
	library := ms.config.Music.LibraryPath

	path, verr := ms.resolveTrackPath("crates/opener.flac")
	if verr != nil {
		t.Fatalf("resolveTrackPath() unexpected error: %v", verr.Message)
	}
	abs, _ := filepath.Abs(filepath.Join(library, "crates", "opener.flac"))
	if path != abs {
		t.Errorf("resolveTrackPath() = %q, want %q", path, abs)
	}

	for raw, code := range map[string]string{
		"":              "MISSING_PATH",
		"   ":           "MISSING_PATH",
		"notes.txt":     "UNSUPPORTED_FILE_TYPE",
		"../escape.mp3": "PATH_TRAVERSAL_DENIED",
	} {
		if _, verr := ms.resolveTrackPath(raw); verr == nil || verr.Code != code {
			t.Errorf("resolveTrackPath(%q) = %v, want %s", raw, verr, code)
		}
	}
}

func TestValidateRange(t *testing.T) {
	if err := validateRange("volume", 50, 0, 100); err != nil {
		t.Errorf("Expected 50 to be valid, got %v", err.Message)
	}
	if err := validateRange("volume", 100, 0, 100); err != nil {
		t.Errorf("Expected bounds to be inclusive, got %v", err.Message)
	}
	if err := validateRange("volume", 100.5, 0, 100); err == nil || err.Code != "OUT_OF_RANGE" {
		t.Errorf("Expected OUT_OF_RANGE, got %v", err)
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("deck C: %w", player.ErrUnknownDeck), http.StatusNotFound},
		{beatsync.ErrMissingGrid, http.StatusConflict},
		{beatsync.ErrNoMaster, http.StatusConflict},
		{beatsync.ErrStaleSync, http.StatusConflict},
		{fmt.Errorf("play deck A: %w", player.ErrNoTrack), http.StatusConflict},
		{fmt.Errorf("failed to align beat grids: %w", beatgrid.ErrInsufficientBeats), http.StatusUnprocessableEntity},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := statusForError(tt.err); got != tt.want {
			t.Errorf("statusForError(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestSanitizeInput(t *testing.T) {
	if got := sanitizeInput("  Deep\x00 Cuts \n"); got != "Deep Cuts" {
		t.Errorf("sanitizeInput() = %q", got)
	}
}
