package server

import (
	"errors"
	"io/fs"
	"math"
	"net/http"

	"crossfade/internal/analysis"
	"crossfade/internal/player"
	"crossfade/pkg/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// deckFromPath reads the {deck} path segment, answering 400 itself when it is invalid
func (ms *MixerServer) deckFromPath(w http.ResponseWriter, r *http.Request) (models.DeckID, bool) {
	deck, verr := validateDeckID(r.PathValue("deck"))
	if verr != nil {
		ms.respondWithValidationError(w, r, *verr)
		return "", false
	}
	return deck, true
}

// handleGetDeck returns one deck's state
func (ms *MixerServer) handleGetDeck(w http.ResponseWriter, r *http.Request) {
	deck, ok := ms.deckFromPath(w, r)
	if !ok {
		return
	}
	state, err := ms.mixer.Deck(deck)
	if err != nil {
		ms.respondWithMixerError(w, r, err)
		return
	}
	ms.respondJSON(w, http.StatusOK, state)
}

type loadDeckRequest struct {
	// Path loads a file from the music library (absolute or library-relative)
	Path string `json:"path,omitempty"`

	// Without a path the track is described by hand and its grid is built
	// from these fields right away
	Title    string    `json:"title,omitempty"`
	Artist   string    `json:"artist,omitempty"`
	BPM      float64   `json:"bpm,omitempty"`
	Duration float64   `json:"duration,omitempty"`
	Beats    []float64 `json:"beats,omitempty"`
	Phase    *float64  `json:"phase,omitempty"`
}

type loadDeckResponse struct {
	Deck       models.DeckID     `json:"deck"`
	Generation uint64            `json:"generation"`
	State      *player.DeckState `json:"state"`
}

// handleLoadDeck loads a track onto a deck. Library files are analyzed in
// the background (202); the grid arrives as a "grid" event.
func (ms *MixerServer) handleLoadDeck(w http.ResponseWriter, r *http.Request) {
	deck, ok := ms.deckFromPath(w, r)
	if !ok {
		return
	}

	var req loadDeckRequest
	if verr := decodeJSON(r, &req); verr != nil {
		ms.respondWithValidationError(w, r, *verr)
		return
	}

	if req.Path == "" {
		ms.loadManualTrack(w, r, deck, req)
		return
	}

	path, verr := ms.resolveTrackPath(req.Path)
	if verr != nil {
		ms.respondWithValidationError(w, r, *verr)
		return
	}

	track, err := ms.probe.ProbeFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			ms.respondWithError(w, r, http.StatusNotFound, "Track not found", err)
			return
		}
		ms.respondWithError(w, r, http.StatusUnprocessableEntity, "Could not read track", err)
		return
	}
	if req.BPM > 0 {
		track.BPM = req.BPM
		track.BPMOverride = req.BPM
	}

	generation, err := ms.mixer.LoadTrack(deck, track)
	if err != nil {
		ms.respondWithMixerError(w, r, err)
		return
	}
	ms.loader.Start(ms.ctx, deck, generation, track)

	ms.respondWithDeck(w, r, http.StatusAccepted, deck, generation)
}

// loadManualTrack loads a track described in the request together with its grid
func (ms *MixerServer) loadManualTrack(w http.ResponseWriter, r *http.Request, deck models.DeckID, req loadDeckRequest) {
	var errs []ValidationError
	title := sanitizeInput(req.Title)
	if title == "" {
		errs = append(errs, ValidationError{
			Field:   "title",
			Message: "Either path or title is required",
			Code:    "MISSING_TRACK",
		})
	}
	if !(req.BPM > 0) {
		errs = append(errs, ValidationError{
			Field:   "bpm",
			Message: "Tempo must be positive",
			Code:    "INVALID_BPM",
		})
	}
	if len(req.Beats) == 0 && !(req.Duration > 0) {
		errs = append(errs, ValidationError{
			Field:   "duration",
			Message: "Duration or beat timestamps are required",
			Code:    "MISSING_DURATION",
		})
	}
	if len(errs) > 0 {
		ms.respondWithValidationError(w, r, errs...)
		return
	}

	grid, err := analysis.BuildGrid(&analysis.Result{
		BPM:      req.BPM,
		Beats:    req.Beats,
		Phase:    req.Phase,
		Duration: req.Duration,
		Source:   analysis.SourceManual,
	}, req.Duration)
	if err != nil {
		ms.respondWithValidationError(w, r, ValidationError{
			Field:   "beats",
			Message: err.Error(),
			Code:    "INVALID_GRID",
		})
		return
	}

	duration := req.Duration
	if duration <= 0 {
		duration = grid.BeatTimestamps[grid.Len()-1]
	}
	track := &models.Track{
		ID:       uuid.New().String(),
		Title:    title,
		Artist:   sanitizeInput(req.Artist),
		Duration: duration,
		BPM:      req.BPM,
	}

	generation, err := ms.mixer.LoadTrack(deck, track)
	if err != nil {
		ms.respondWithMixerError(w, r, err)
		return
	}
	if err := ms.mixer.SetGrid(deck, generation, grid); err != nil {
		ms.respondWithMixerError(w, r, err)
		return
	}

	ms.logger.WithFields(logrus.Fields{
		"deck":  deck,
		"title": title,
		"tempo": grid.Tempo,
		"beats": grid.Len(),
	}).Info("Loaded track with manual grid")

	ms.respondWithDeck(w, r, http.StatusOK, deck, generation)
}

func (ms *MixerServer) respondWithDeck(w http.ResponseWriter, r *http.Request, status int, deck models.DeckID, generation uint64) {
	state, err := ms.mixer.Deck(deck)
	if err != nil {
		ms.respondWithMixerError(w, r, err)
		return
	}
	ms.respondJSON(w, status, loadDeckResponse{
		Deck:       deck,
		Generation: generation,
		State:      state,
	})
}

// handleReanalyzeDeck drops the cached analysis of the deck's track and runs it again
func (ms *MixerServer) handleReanalyzeDeck(w http.ResponseWriter, r *http.Request) {
	deck, ok := ms.deckFromPath(w, r)
	if !ok {
		return
	}
	state, err := ms.mixer.Deck(deck)
	if err != nil {
		ms.respondWithMixerError(w, r, err)
		return
	}
	if state.Track == nil {
		ms.respondWithMixerError(w, r, player.ErrNoTrack)
		return
	}
	if state.Track.FilePath == "" {
		ms.respondWithError(w, r, http.StatusConflict, "Track has a manual grid and no file to analyze", nil)
		return
	}

	ms.analyzer.Forget(state.Track)
	ms.loader.Start(ms.ctx, deck, state.Generation, state.Track)
	ms.respondWithDeck(w, r, http.StatusAccepted, deck, state.Generation)
}

// handleUpdateDeck applies what the audio host reports for a deck. Only the
// fields present in the request change.
func (ms *MixerServer) handleUpdateDeck(w http.ResponseWriter, r *http.Request) {
	deck, ok := ms.deckFromPath(w, r)
	if !ok {
		return
	}

	var req struct {
		IsPlaying   *bool    `json:"isPlaying,omitempty"`
		CurrentTime *float64 `json:"currentTime,omitempty"`
		Duration    *float64 `json:"duration,omitempty"`
		Volume      *float64 `json:"volume,omitempty"`
		Pitch       *float64 `json:"pitch,omitempty"`
	}
	if verr := decodeJSON(r, &req); verr != nil {
		ms.respondWithValidationError(w, r, *verr)
		return
	}

	var errs []ValidationError
	if req.CurrentTime != nil {
		if verr := validateRange("currentTime", *req.CurrentTime, 0, maxTrackSeconds); verr != nil {
			errs = append(errs, *verr)
		}
	}
	if req.Duration != nil {
		if verr := validateRange("duration", *req.Duration, 0, maxTrackSeconds); verr != nil {
			errs = append(errs, *verr)
		}
	}
	if req.Volume != nil {
		if verr := validateRange("volume", *req.Volume, 0, 100); verr != nil {
			errs = append(errs, *verr)
		}
	}
	// Pitch beyond the fader range is clamped, only non-numbers are rejected
	if req.Pitch != nil {
		if verr := validateRange("pitch", *req.Pitch, -math.MaxFloat64, math.MaxFloat64); verr != nil {
			errs = append(errs, *verr)
		}
	}
	if len(errs) > 0 {
		ms.respondWithValidationError(w, r, errs...)
		return
	}

	state, err := ms.mixer.UpdateDeck(deck, player.DeckUpdate{
		IsPlaying:   req.IsPlaying,
		CurrentTime: req.CurrentTime,
		Duration:    req.Duration,
		Volume:      req.Volume,
		Pitch:       req.Pitch,
	})
	if err != nil {
		ms.respondWithMixerError(w, r, err)
		return
	}
	ms.respondJSON(w, http.StatusOK, state)
}

// maxTrackSeconds bounds reported positions (24 hours)
const maxTrackSeconds = 24 * 60 * 60

// handleClearDeck unloads a deck
func (ms *MixerServer) handleClearDeck(w http.ResponseWriter, r *http.Request) {
	deck, ok := ms.deckFromPath(w, r)
	if !ok {
		return
	}
	if err := ms.mixer.ClearDeck(deck); err != nil {
		ms.respondWithMixerError(w, r, err)
		return
	}
	state, err := ms.mixer.Deck(deck)
	if err != nil {
		ms.respondWithMixerError(w, r, err)
		return
	}
	ms.respondJSON(w, http.StatusOK, state)
}

type gridResponse struct {
	Deck           models.DeckID `json:"deck"`
	Tempo          float64       `json:"tempo"`
	EffectiveTempo float64       `json:"effectiveTempo"`
	PhaseOffset    *float64      `json:"phaseOffset,omitempty"`
	AppliedOffset  *float64      `json:"appliedOffset,omitempty"`
	Beats          []float64     `json:"beats"`
	Downbeats      []float64     `json:"downbeats"`
	TotalBeats     int           `json:"totalBeats"`
}

// handleGetGrid returns the deck's beats, optionally limited to ?from=&to=
// seconds, for drawing the grid over the waveform
func (ms *MixerServer) handleGetGrid(w http.ResponseWriter, r *http.Request) {
	deck, ok := ms.deckFromPath(w, r)
	if !ok {
		return
	}

	from, verr := parseFloatParam(r, "from", 0)
	if verr != nil {
		ms.respondWithValidationError(w, r, *verr)
		return
	}
	to, verr := parseFloatParam(r, "to", maxTrackSeconds)
	if verr != nil {
		ms.respondWithValidationError(w, r, *verr)
		return
	}
	if to < from {
		ms.respondWithValidationError(w, r, ValidationError{
			Field:   "to",
			Message: "to must not be before from",
			Code:    "INVALID_RANGE",
		})
		return
	}

	state, err := ms.mixer.Deck(deck)
	if err != nil {
		ms.respondWithMixerError(w, r, err)
		return
	}
	if state.Grid == nil {
		ms.respondWithError(w, r, http.StatusNotFound, "Deck has no beat grid yet", nil)
		return
	}

	grid := state.Grid
	downbeats := make([]float64, 0)
	for _, t := range grid.Downbeats(ms.currentMixerConfig().BeatsPerBar) {
		if t >= from && t <= to {
			downbeats = append(downbeats, t)
		}
	}

	ms.respondJSON(w, http.StatusOK, gridResponse{
		Deck:           deck,
		Tempo:          grid.Tempo,
		EffectiveTempo: grid.EffectiveTempo(state.PlaybackRate),
		PhaseOffset:    grid.PhaseOffset,
		AppliedOffset:  grid.AppliedOffset,
		Beats:          append(make([]float64, 0), grid.BeatsBetween(from, to)...),
		Downbeats:      downbeats,
		TotalBeats:     grid.Len(),
	})
}

// handleQuantize snaps ?t= to the deck's grid without moving the playhead
func (ms *MixerServer) handleQuantize(w http.ResponseWriter, r *http.Request) {
	deck, ok := ms.deckFromPath(w, r)
	if !ok {
		return
	}
	if r.URL.Query().Get("t") == "" {
		ms.respondWithValidationError(w, r, ValidationError{
			Field:   "t",
			Message: "t is required",
			Code:    "MISSING_TIME",
		})
		return
	}
	t, verr := parseFloatParam(r, "t", 0)
	if verr != nil {
		ms.respondWithValidationError(w, r, *verr)
		return
	}

	quantized := ms.controller.Quantize(ms.mixer.Grid(deck), t)
	ms.respondJSON(w, http.StatusOK, map[string]interface{}{
		"deck":      deck,
		"time":      t,
		"quantized": quantized,
		"snapped":   quantized != t,
	})
}

// handleCueDeck moves the deck's playhead onto the nearest beat
func (ms *MixerServer) handleCueDeck(w http.ResponseWriter, r *http.Request) {
	deck, ok := ms.deckFromPath(w, r)
	if !ok {
		return
	}
	position, err := ms.controller.CueToGrid(deck)
	if err != nil {
		ms.respondWithMixerError(w, r, err)
		return
	}
	ms.respondJSON(w, http.StatusOK, map[string]interface{}{
		"deck":     deck,
		"position": position,
	})
}

// handleDeckAudio streams the file loaded on the deck to the audio host
func (ms *MixerServer) handleDeckAudio(w http.ResponseWriter, r *http.Request) {
	deck, ok := ms.deckFromPath(w, r)
	if !ok {
		return
	}
	state, err := ms.mixer.Deck(deck)
	if err != nil {
		ms.respondWithMixerError(w, r, err)
		return
	}
	if state.Track == nil || state.Track.FilePath == "" {
		ms.respondWithError(w, r, http.StatusNotFound, "No audio loaded on deck", nil)
		return
	}

	if err := ms.streamAudioFile(w, r, state.Track.FilePath); err != nil {
		ms.respondWithError(w, r, http.StatusNotFound, "Audio file unavailable", err)
	}
}
