package models

import (
	"fmt"
	"strings"
)

// DeckID identifies one of the two playback slots of the mixer
type DeckID string

const (
	DeckA DeckID = "A"
	DeckB DeckID = "B"
)

// Decks lists the mixer's decks in display order
var Decks = []DeckID{DeckA, DeckB}

// ParseDeckID accepts "A", "b", "deckA" and similar spellings
func ParseDeckID(s string) (DeckID, error) {
	s = strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "DECK")
	switch DeckID(s) {
	case DeckA:
		return DeckA, nil
	case DeckB:
		return DeckB, nil
	}
	return "", fmt.Errorf("unknown deck %q", s)
}

// Other returns the opposite deck
func (d DeckID) Other() DeckID {
	if d == DeckA {
		return DeckB
	}
	return DeckA
}

// Track represents a track loaded (or being loaded) onto a deck
type Track struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Artist   string  `json:"artist"`
	Album    string  `json:"album"`
	Duration float64 `json:"duration"` // in seconds
	BPM      float64 `json:"bpm,omitempty"`
	// BPMOverride is a tempo given by the DJ at load time. It wins over
	// tags when the file is probed again.
	BPMOverride float64 `json:"bpmOverride,omitempty"`
	FilePath string  `json:"-"` // don't expose file path to client
	FileSize int64   `json:"fileSize,omitempty"`
}
