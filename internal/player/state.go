package player

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"crossfade/internal/beatgrid"
	"crossfade/internal/beatsync"
	"crossfade/pkg/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrUnknownDeck = errors.New("unknown deck")
	ErrNoTrack     = errors.New("no track loaded on deck")
	// ErrStaleLoad is returned when a grid arrives for a track that has
	// since been replaced on its deck.
	ErrStaleLoad = errors.New("grid belongs to a previous load")

	ErrUnknownEffect = errors.New("unknown effect")
)

const (
	MaxPitch      = 50.0
	DefaultVolume = 100.0
)

// SyncStatus tracks a deck through analysis and sync
type SyncStatus string

const (
	StatusUnanalyzed SyncStatus = "unanalyzed"
	StatusAnalyzed   SyncStatus = "analyzed"
	StatusSynced     SyncStatus = "synced"
)

// DeckState is the state of one deck
type DeckState struct {
	ID           models.DeckID      `json:"id"`
	Track        *models.Track      `json:"track,omitempty"`
	LoadID       string             `json:"loadId,omitempty"`
	Generation   uint64             `json:"generation"`
	IsPlaying    bool               `json:"isPlaying"`
	CurrentTime  float64            `json:"currentTime"` // in seconds
	Duration     float64            `json:"duration"`    // in seconds
	Volume       float64            `json:"volume"`      // 0 to 100
	Pitch        float64            `json:"pitch"`       // percent, -50 to 50
	PlaybackRate float64            `json:"playbackRate"`
	Grid         *beatgrid.BeatGrid `json:"grid,omitempty"`
	Status       SyncStatus         `json:"status"`
	Error        string             `json:"error,omitempty"`
}

func (d *DeckState) effectiveTempo() float64 {
	if d.Grid == nil {
		return 0
	}
	return d.Grid.EffectiveTempo(d.PlaybackRate)
}

func (d *DeckState) clone() *DeckState {
	c := *d
	if d.Track != nil {
		track := *d.Track
		c.Track = &track
	}
	c.Grid = d.Grid.Clone()
	return &c
}

// State is the whole mixer: both decks plus the master section
type State struct {
	Decks        map[models.DeckID]*DeckState `json:"decks"`
	Crossfader   float64                      `json:"crossfader"`   // 0 = full A, 100 = full B
	MasterVolume float64                      `json:"masterVolume"` // 0 to 100
	MasterBPM    float64                      `json:"masterBpm,omitempty"`
	Effects      Effects                      `json:"effects"`
	UpdatedAt    time.Time                    `json:"updatedAt"`
}

// Effects are the master effect toggles. Processing happens on the audio
// host; the mixer only records which ones are engaged.
type Effects struct {
	Filter  bool `json:"filter"`
	Echo    bool `json:"echo"`
	Reverb  bool `json:"reverb"`
	Flanger bool `json:"flanger"`
}

// EffectNames lists the toggles accepted by SetEffect
var EffectNames = []string{"filter", "echo", "reverb", "flanger"}

func (e *Effects) toggle(name string) (*bool, bool) {
	switch name {
	case "filter":
		return &e.Filter, true
	case "echo":
		return &e.Echo, true
	case "reverb":
		return &e.Reverb, true
	case "flanger":
		return &e.Flanger, true
	}
	return nil, false
}

// EventType names what changed in a state notification
type EventType string

const (
	EventDeckLoad   EventType = "deck_load"
	EventDeckUpdate EventType = "deck_update"
	EventDeckClear  EventType = "deck_clear"
	EventGrid       EventType = "grid"
	EventRate       EventType = "rate"
	EventSeek       EventType = "seek"
	EventCrossfader EventType = "crossfader"
	EventVolume     EventType = "volume"
	EventSync       EventType = "bpm_sync"
	EventEffects    EventType = "effects"
)

// Event is sent to subscribers after every state change
type Event struct {
	Type  EventType     `json:"type"`
	Deck  models.DeckID `json:"deck,omitempty"`
	State *State        `json:"state"`
}

// StateManager manages the mixer state and notifies listeners. It is the
// playback adapter and grid store of the sync controller: playback commands
// are recorded here and pushed to the browser clients that own the audio.
type StateManager struct {
	state     *State
	mutex     sync.RWMutex
	listeners []chan *Event
	logger    *logrus.Logger
}

// NewStateManager creates a new mixer state manager with two empty decks
func NewStateManager(logger *logrus.Logger) *StateManager {
	if logger == nil {
		logger = logrus.New()
	}
	decks := make(map[models.DeckID]*DeckState, len(models.Decks))
	for _, id := range models.Decks {
		decks[id] = emptyDeck(id, 0)
	}
	return &StateManager{
		state: &State{
			Decks:        decks,
			Crossfader:   50,
			MasterVolume: DefaultVolume,
			UpdatedAt:    time.Now(),
		},
		listeners: make([]chan *Event, 0),
		logger:    logger,
	}
}

func emptyDeck(id models.DeckID, generation uint64) *DeckState {
	return &DeckState{
		ID:           id,
		Generation:   generation,
		Volume:       DefaultVolume,
		PlaybackRate: 1,
		Status:       StatusUnanalyzed,
	}
}

// GetState returns a deep copy of the mixer state (thread-safe)
func (sm *StateManager) GetState() *State {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.snapshot()
}

// Deck returns a copy of one deck's state
func (sm *StateManager) Deck(id models.DeckID) (*DeckState, error) {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	deck, err := sm.deck(id)
	if err != nil {
		return nil, err
	}
	return deck.clone(), nil
}

// LoadTrack puts a track on a deck. Any grid, sync and playback state of the
// previous track is discarded. The returned generation must accompany the
// grid produced for this track.
func (sm *StateManager) LoadTrack(id models.DeckID, track *models.Track) (uint64, error) {
	if track == nil {
		return 0, fmt.Errorf("load deck %s: %w", id, ErrNoTrack)
	}

	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	deck, err := sm.deck(id)
	if err != nil {
		return 0, err
	}

	loaded := emptyDeck(id, deck.Generation+1)
	loaded.Volume = deck.Volume
	t := *track
	loaded.Track = &t
	loaded.LoadID = uuid.New().String()
	loaded.Duration = track.Duration
	sm.state.Decks[id] = loaded

	sm.logger.WithFields(logrus.Fields{
		"deck":       id,
		"track":      track.Title,
		"generation": loaded.Generation,
	}).Info("Loaded track")

	sm.touch(EventDeckLoad, id)
	return loaded.Generation, nil
}

// RefreshTrack replaces the metadata of the track loaded under generation,
// for instance after its file was rewritten. Playback and grid are kept.
func (sm *StateManager) RefreshTrack(id models.DeckID, generation uint64, track *models.Track) error {
	if track == nil {
		return fmt.Errorf("refresh deck %s: %w", id, ErrNoTrack)
	}

	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	deck, err := sm.deck(id)
	if err != nil {
		return err
	}
	if deck.Generation != generation || deck.Track == nil {
		return fmt.Errorf("deck %s generation %d, got %d: %w", id, deck.Generation, generation, ErrStaleLoad)
	}

	t := *track
	deck.Track = &t
	if track.Duration > 0 {
		deck.Duration = track.Duration
		deck.CurrentTime = math.Min(deck.CurrentTime, track.Duration)
	}

	sm.touch(EventDeckUpdate, id)
	return nil
}

// SetGrid installs the beat grid computed for the load identified by generation.
func (sm *StateManager) SetGrid(id models.DeckID, generation uint64, grid *beatgrid.BeatGrid) error {
	if grid == nil {
		return fmt.Errorf("%w: nil grid", beatgrid.ErrInvalidGrid)
	}

	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	deck, err := sm.deck(id)
	if err != nil {
		return err
	}
	if deck.Generation != generation || deck.Track == nil {
		return fmt.Errorf("deck %s generation %d, got %d: %w", id, deck.Generation, generation, ErrStaleLoad)
	}

	deck.Grid = grid.Clone()
	deck.Grid.SourceDeckID = id
	deck.Grid.AppliedOffset = nil
	deck.Status = StatusAnalyzed
	deck.Error = ""
	if deck.Track.BPM == 0 {
		deck.Track.BPM = grid.Tempo
	}

	sm.touch(EventGrid, id)
	return nil
}

// SetAnalysisError records why no grid could be produced for a load
func (sm *StateManager) SetAnalysisError(id models.DeckID, generation uint64, cause error) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	deck, err := sm.deck(id)
	if err != nil {
		return err
	}
	if deck.Generation != generation {
		return ErrStaleLoad
	}
	deck.Error = cause.Error()
	sm.touch(EventDeckUpdate, id)
	return nil
}

// ClearDeck unloads the deck
func (sm *StateManager) ClearDeck(id models.DeckID) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	deck, err := sm.deck(id)
	if err != nil {
		return err
	}
	cleared := emptyDeck(id, deck.Generation+1)
	cleared.Volume = deck.Volume
	sm.state.Decks[id] = cleared

	sm.touch(EventDeckClear, id)
	return nil
}

// UpdatePlaybackState starts or stops a deck
func (sm *StateManager) UpdatePlaybackState(id models.DeckID, isPlaying bool) error {
	_, err := sm.UpdateDeck(id, DeckUpdate{IsPlaying: &isPlaying})
	return err
}

// DeckUpdate carries the fields a controller changes in one request. Nil
// fields are left alone.
type DeckUpdate struct {
	IsPlaying   *bool
	CurrentTime *float64
	Duration    *float64
	Volume      *float64
	Pitch       *float64
}

// UpdateDeck applies update as one change: either every field is applied
// and one event is sent, or the deck is left untouched. Starting an empty
// deck fails with ErrNoTrack.
func (sm *StateManager) UpdateDeck(id models.DeckID, update DeckUpdate) (*DeckState, error) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	deck, err := sm.deck(id)
	if err != nil {
		return nil, err
	}
	if update.IsPlaying != nil && *update.IsPlaying && deck.Track == nil {
		return nil, fmt.Errorf("play deck %s: %w", id, ErrNoTrack)
	}

	if update.Duration != nil && *update.Duration > 0 {
		deck.Duration = *update.Duration
	}
	if update.CurrentTime != nil {
		deck.CurrentTime = math.Max(0, *update.CurrentTime)
	}
	if update.Volume != nil {
		deck.Volume = clamp(*update.Volume, 0, 100)
	}
	if update.Pitch != nil {
		deck.Pitch = clamp(*update.Pitch, -MaxPitch, MaxPitch)
		deck.PlaybackRate = 1 + deck.Pitch/100
	}
	if update.IsPlaying != nil {
		deck.IsPlaying = *update.IsPlaying
	}

	sm.touch(EventDeckUpdate, id)
	return deck.clone(), nil
}

// UpdateVolume sets the deck channel volume, clamped to 0..100
func (sm *StateManager) UpdateVolume(id models.DeckID, volume float64) error {
	_, err := sm.UpdateDeck(id, DeckUpdate{Volume: &volume})
	return err
}

// UpdatePitch moves the pitch fader and the playback rate follows it. The
// sync status and applied offset are kept; only a reload clears them.
func (sm *StateManager) UpdatePitch(id models.DeckID, pitch float64) error {
	_, err := sm.UpdateDeck(id, DeckUpdate{Pitch: &pitch})
	return err
}

// Pause stops a deck. Pausing an empty or stopped deck is a no-op.
func (sm *StateManager) Pause(id models.DeckID) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	deck, err := sm.deck(id)
	if err != nil {
		return err
	}
	if !deck.IsPlaying {
		return nil
	}
	deck.IsPlaying = false

	sm.touch(EventDeckUpdate, id)
	return nil
}

// SetCrossfader moves the crossfader, clamped to 0..100
func (sm *StateManager) SetCrossfader(position float64) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	sm.state.Crossfader = clamp(position, 0, 100)
	sm.touch(EventCrossfader, "")
}

// SetEffect engages or releases a master effect. A nil enabled flips it.
// Returns the new setting.
func (sm *StateManager) SetEffect(name string, enabled *bool) (bool, error) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	flag, ok := sm.state.Effects.toggle(name)
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownEffect, name)
	}
	if enabled == nil {
		*flag = !*flag
	} else {
		*flag = *enabled
	}

	sm.touch(EventEffects, "")
	return *flag, nil
}

// SetMasterVolume sets the master output volume, clamped to 0..100
func (sm *StateManager) SetMasterVolume(volume float64) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	sm.state.MasterVolume = clamp(volume, 0, 100)
	sm.touch(EventVolume, "")
}

// DeckStates returns what the sync controller needs for master selection
func (sm *StateManager) DeckStates() beatsync.DeckStates {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	states := beatsync.DeckStates{
		Playing:    make(map[models.DeckID]bool, len(sm.state.Decks)),
		Rate:       make(map[models.DeckID]float64, len(sm.state.Decks)),
		Crossfader: sm.state.Crossfader,
	}
	for id, deck := range sm.state.Decks {
		states.Playing[id] = deck.IsPlaying
		states.Rate[id] = deck.PlaybackRate
	}
	return states
}

// SetPlaybackRate records a rate change and broadcasts it to the clients
// playing the deck. The pitch display follows the rate.
func (sm *StateManager) SetPlaybackRate(id models.DeckID, rate float64) error {
	if !(rate > 0) || math.IsInf(rate, 0) {
		return fmt.Errorf("invalid playback rate %v", rate)
	}

	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	deck, err := sm.deck(id)
	if err != nil {
		return err
	}
	deck.PlaybackRate = rate
	deck.Pitch = (rate - 1) * 100

	sm.touch(EventRate, id)
	return nil
}

// Seek moves the deck's playhead, clamped to the track
func (sm *StateManager) Seek(id models.DeckID, seconds float64) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	deck, err := sm.deck(id)
	if err != nil {
		return err
	}
	if deck.Track == nil {
		return fmt.Errorf("seek deck %s: %w", id, ErrNoTrack)
	}
	seconds = math.Max(0, seconds)
	if deck.Duration > 0 {
		seconds = math.Min(seconds, deck.Duration)
	}
	deck.CurrentTime = seconds

	sm.touch(EventSeek, id)
	return nil
}

// CurrentTime returns the last position reported for the deck
func (sm *StateManager) CurrentTime(id models.DeckID) (float64, error) {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	deck, err := sm.deck(id)
	if err != nil {
		return 0, err
	}
	return deck.CurrentTime, nil
}

// Grid returns a copy of the deck's grid, nil while unanalyzed
func (sm *StateManager) Grid(id models.DeckID) *beatgrid.BeatGrid {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	deck, err := sm.deck(id)
	if err != nil {
		return nil
	}
	return deck.Grid.Clone()
}

// Generation returns the deck's load counter
func (sm *StateManager) Generation(id models.DeckID) uint64 {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	deck, err := sm.deck(id)
	if err != nil {
		return 0
	}
	return deck.Generation
}

// RecordAppliedOffset stores the offset of a sync applied to the deck and
// marks it synced.
func (sm *StateManager) RecordAppliedOffset(id models.DeckID, offset float64) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	deck, err := sm.deck(id)
	if err != nil {
		return err
	}
	if deck.Grid == nil {
		return beatsync.ErrMissingGrid
	}
	deck.Grid.AppliedOffset = &offset
	deck.Status = StatusSynced

	sm.touch(EventSync, id)
	return nil
}

// Subscribe adds a listener for state changes
func (sm *StateManager) Subscribe() <-chan *Event {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	ch := make(chan *Event, 10) // Buffered channel to prevent blocking
	sm.listeners = append(sm.listeners, ch)
	return ch
}

// Unsubscribe removes a listener (call this when done to prevent memory leaks)
func (sm *StateManager) Unsubscribe(ch <-chan *Event) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	for i, listener := range sm.listeners {
		if listener == ch {
			close(listener)
			sm.listeners = append(sm.listeners[:i], sm.listeners[i+1:]...)
			break
		}
	}
}

// deck must be called with the lock held
func (sm *StateManager) deck(id models.DeckID) (*DeckState, error) {
	deck, ok := sm.state.Decks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDeck, id)
	}
	return deck, nil
}

// touch refreshes derived fields and notifies listeners (must be called with lock held)
func (sm *StateManager) touch(eventType EventType, id models.DeckID) {
	sm.state.MasterBPM = sm.masterBPM()
	sm.state.UpdatedAt = time.Now()
	sm.notifyListeners(eventType, id)
}

// masterBPM averages the effective tempo of the playing decks
func (sm *StateManager) masterBPM() float64 {
	total, playing := 0.0, 0
	for _, deck := range sm.state.Decks {
		if deck.IsPlaying && deck.Grid != nil {
			total += deck.effectiveTempo()
			playing++
		}
	}
	if playing == 0 {
		return 0
	}
	return total / float64(playing)
}

func (sm *StateManager) snapshot() *State {
	stateCopy := *sm.state
	stateCopy.Decks = make(map[models.DeckID]*DeckState, len(sm.state.Decks))
	for id, deck := range sm.state.Decks {
		stateCopy.Decks[id] = deck.clone()
	}
	return &stateCopy
}

// notifyListeners sends state updates to all subscribers (must be called with lock held).
// Listeners that are not keeping up are dropped.
func (sm *StateManager) notifyListeners(eventType EventType, id models.DeckID) {
	if len(sm.listeners) == 0 {
		return
	}
	event := &Event{Type: eventType, Deck: id, State: sm.snapshot()}

	kept := sm.listeners[:0]
	for _, listener := range sm.listeners {
		select {
		case listener <- event:
			kept = append(kept, listener)
		default:
			close(listener)
			sm.logger.Warn("Dropping slow state listener")
		}
	}
	sm.listeners = kept
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
