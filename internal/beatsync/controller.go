package beatsync

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"crossfade/internal/beatgrid"
	"crossfade/pkg/models"

	"github.com/sirupsen/logrus"
)

var (
	// ErrMissingGrid means one or both decks have not been analyzed yet.
	ErrMissingGrid = errors.New("load and analyze both tracks first")
	// ErrNoMaster means no deck is playing, so there is no tempo reference.
	ErrNoMaster = errors.New("no deck is playing, start a deck before syncing")
	// ErrStaleSync means a deck was reloaded while its sync was computed.
	ErrStaleSync = errors.New("deck was reloaded during sync")
)

// DefaultSnapThreshold is how far (seconds) a cue may sit from a beat and
// still snap to it.
const DefaultSnapThreshold = 0.1

// PlaybackAdapter owns actual playback of the decks.
type PlaybackAdapter interface {
	SetPlaybackRate(deck models.DeckID, rate float64) error
	Seek(deck models.DeckID, seconds float64) error
	CurrentTime(deck models.DeckID) (float64, error)
	Pause(deck models.DeckID) error
}

// GridStore is the per-deck grid table of the mixer session. Generation
// changes every time a track is loaded onto the deck.
type GridStore interface {
	Grid(deck models.DeckID) *beatgrid.BeatGrid
	Generation(deck models.DeckID) uint64
	RecordAppliedOffset(deck models.DeckID, offset float64) error
}

// SyncResult is the outcome of one synchronization attempt.
type SyncResult struct {
	RateRatio              float64 `json:"rateRatio"`
	TimeOffsetSeconds      float64 `json:"timeOffsetSeconds"`
	MatchScore             float64 `json:"matchScore"`
	PitchAdjustmentPercent float64 `json:"pitchAdjustmentPercent"`

	ReferenceDeck models.DeckID `json:"referenceDeck,omitempty"`
	TargetDeck    models.DeckID `json:"targetDeck,omitempty"`
	Matches       int           `json:"matches"`
	Sampled       int           `json:"sampled"`
}

// DeckStates is what master selection needs to know about the mixer.
type DeckStates struct {
	Playing    map[models.DeckID]bool
	Rate       map[models.DeckID]float64
	Crossfader float64 // 0 = full A, 100 = full B
}

// Options tunes the controller
type Options struct {
	Align         beatgrid.AlignOptions
	SnapThreshold float64
}

// DefaultOptions returns the stock alignment search and a 100ms snap threshold
func DefaultOptions() Options {
	return Options{
		Align:         beatgrid.DefaultAlignOptions(),
		SnapThreshold: DefaultSnapThreshold,
	}
}

// Controller computes and applies beat sync between decks.
type Controller struct {
	adapter PlaybackAdapter
	grids   GridStore
	logger  *logrus.Logger

	optsMu sync.RWMutex
	opts   Options
}

// NewController creates a sync controller over the given playback adapter and grid table
func NewController(adapter PlaybackAdapter, grids GridStore, opts Options, logger *logrus.Logger) *Controller {
	if logger == nil {
		logger = logrus.New()
	}
	return &Controller{
		adapter: adapter,
		grids:   grids,
		opts:    opts,
		logger:  logger,
	}
}

// Options returns the tuning currently in effect
func (c *Controller) Options() Options {
	c.optsMu.RLock()
	defer c.optsMu.RUnlock()
	return c.opts
}

// SetOptions replaces the tuning used by later calls (config hot reload)
func (c *Controller) SetOptions(opts Options) {
	c.optsMu.Lock()
	defer c.optsMu.Unlock()
	c.opts = opts
}

// ComputeSync works out how target must change to follow reference.
func (c *Controller) ComputeSync(reference, target *beatgrid.BeatGrid) (SyncResult, error) {
	return c.computeSyncAt(reference, target, 1)
}

// computeSyncAt treats reference as playing at referenceRate.
func (c *Controller) computeSyncAt(reference, target *beatgrid.BeatGrid, referenceRate float64) (SyncResult, error) {
	if reference == nil || target == nil {
		return SyncResult{}, ErrMissingGrid
	}
	if !(referenceRate > 0) {
		return SyncResult{}, fmt.Errorf("invalid reference playback rate %v", referenceRate)
	}

	referenceTempo := reference.EffectiveTempo(referenceRate)
	alignment, err := beatgrid.FindBestOffset(reference, target, c.Options().Align)
	if err != nil {
		return SyncResult{}, fmt.Errorf("failed to align beat grids: %w", err)
	}

	return SyncResult{
		RateRatio:              referenceTempo / target.Tempo,
		TimeOffsetSeconds:      alignment.Offset,
		MatchScore:             alignment.Score,
		PitchAdjustmentPercent: (target.Tempo - referenceTempo) / referenceTempo * 100,
		ReferenceDeck:          reference.SourceDeckID,
		TargetDeck:             target.SourceDeckID,
		Matches:                alignment.Matches,
		Sampled:                alignment.Sampled,
	}, nil
}

// ComputeDeckSync computes the sync of target against reference using the
// grids currently stored for both decks.
func (c *Controller) ComputeDeckSync(reference, target models.DeckID) (SyncResult, error) {
	result, err := c.ComputeSync(c.grids.Grid(reference), c.grids.Grid(target))
	if err != nil {
		return SyncResult{}, err
	}
	result.ReferenceDeck = reference
	result.TargetDeck = target
	return result, nil
}

// ApplySync sets the deck's playback rate and records the alignment offset
// on its grid for later cue quantization.
func (c *Controller) ApplySync(deck models.DeckID, result SyncResult) error {
	if err := c.adapter.SetPlaybackRate(deck, result.RateRatio); err != nil {
		return fmt.Errorf("failed to set playback rate on deck %s: %w", deck, err)
	}
	if err := c.grids.RecordAppliedOffset(deck, result.TimeOffsetSeconds); err != nil {
		return fmt.Errorf("failed to record sync offset on deck %s: %w", deck, err)
	}

	c.logger.WithFields(logrus.Fields{
		"deck":        deck,
		"rate":        result.RateRatio,
		"offset":      result.TimeOffsetSeconds,
		"match_score": result.MatchScore,
	}).Info("Applied beat sync")
	return nil
}

// SyncDecks picks the master deck, syncs the other deck to the master's
// effective tempo and applies the result to it.
func (c *Controller) SyncDecks(states DeckStates) (SyncResult, error) {
	master, ok := SelectMaster(states)
	if !ok {
		return SyncResult{}, ErrNoMaster
	}
	slave := master.Other()

	masterGen := c.grids.Generation(master)
	slaveGen := c.grids.Generation(slave)

	rate := states.Rate[master]
	if rate == 0 {
		rate = 1
	}

	result, err := c.computeSyncAt(c.grids.Grid(master), c.grids.Grid(slave), rate)
	if err != nil {
		return SyncResult{}, err
	}
	result.ReferenceDeck = master
	result.TargetDeck = slave

	if c.grids.Generation(master) != masterGen || c.grids.Generation(slave) != slaveGen {
		c.logger.WithFields(logrus.Fields{
			"master": master,
			"slave":  slave,
		}).Warn("Discarding stale sync result")
		return SyncResult{}, ErrStaleSync
	}

	if err := c.ApplySync(slave, result); err != nil {
		return SyncResult{}, err
	}
	return result, nil
}

// Quantize snaps t to the nearest beat using the configured threshold
func (c *Controller) Quantize(grid *beatgrid.BeatGrid, t float64) float64 {
	return QuantizeWithin(grid, t, c.Options().SnapThreshold)
}

// CueToGrid pauses the deck, moves its playhead to the quantized position
// and returns that position.
func (c *Controller) CueToGrid(deck models.DeckID) (float64, error) {
	if err := c.adapter.Pause(deck); err != nil {
		return 0, fmt.Errorf("failed to pause deck %s: %w", deck, err)
	}

	current, err := c.adapter.CurrentTime(deck)
	if err != nil {
		return 0, fmt.Errorf("failed to read position of deck %s: %w", deck, err)
	}

	cue := c.Quantize(c.grids.Grid(deck), current)
	if err := c.adapter.Seek(deck, cue); err != nil {
		return 0, fmt.Errorf("failed to seek deck %s: %w", deck, err)
	}
	return cue, nil
}

// Quantize snaps t to the nearest beat of grid within DefaultSnapThreshold.
func Quantize(grid *beatgrid.BeatGrid, t float64) float64 {
	return QuantizeWithin(grid, t, DefaultSnapThreshold)
}

// QuantizeWithin returns the beat nearest to t when it is at most threshold
// away, and t itself otherwise. A missing or empty grid leaves t unchanged.
func QuantizeWithin(grid *beatgrid.BeatGrid, t, threshold float64) float64 {
	nearest, err := grid.NearestBeat(t)
	if err != nil {
		return t
	}
	if math.Abs(t-nearest) <= threshold {
		return nearest
	}
	return t
}

// SelectMaster chooses the tempo reference. A lone playing deck is master;
// with both playing the crossfader decides, the middle position counting
// for deck A. With neither playing there is no master.
func SelectMaster(states DeckStates) (models.DeckID, bool) {
	aPlaying := states.Playing[models.DeckA]
	bPlaying := states.Playing[models.DeckB]

	switch {
	case aPlaying && bPlaying:
		if states.Crossfader <= 50 {
			return models.DeckA, true
		}
		return models.DeckB, true
	case aPlaying:
		return models.DeckA, true
	case bPlaying:
		return models.DeckB, true
	}
	return "", false
}
