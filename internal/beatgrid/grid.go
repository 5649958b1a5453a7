package beatgrid

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"crossfade/pkg/models"
)

var (
	// ErrInvalidGrid is returned for a non-positive tempo or malformed beat timestamps.
	ErrInvalidGrid = errors.New("invalid beat grid")
	// ErrEmptyGrid is returned when a lookup runs against a grid without beats.
	ErrEmptyGrid = errors.New("beat grid has no beats")
)

// BeatGrid is the estimated beat structure of one loaded track.
type BeatGrid struct {
	Tempo          float64       `json:"tempo"`
	BeatTimestamps []float64     `json:"beats"`
	PhaseOffset    *float64      `json:"phaseOffset,omitempty"`
	SourceDeckID   models.DeckID `json:"deck,omitempty"`

	// AppliedOffset is the time offset of the last sync applied to the deck.
	AppliedOffset *float64 `json:"appliedOffset,omitempty"`
}

// New validates tempo and beat timestamps and builds a grid from them.
// The timestamps are copied.
func New(tempo float64, beatTimestamps []float64, phaseOffset *float64) (*BeatGrid, error) {
	if !(tempo > 0) || math.IsInf(tempo, 0) {
		return nil, fmt.Errorf("%w: tempo must be positive, got %v", ErrInvalidGrid, tempo)
	}
	if len(beatTimestamps) == 0 {
		return nil, fmt.Errorf("%w: no beat timestamps", ErrInvalidGrid)
	}
	for i, ts := range beatTimestamps {
		if math.IsNaN(ts) || math.IsInf(ts, 0) || ts < 0 {
			return nil, fmt.Errorf("%w: beat %d has invalid timestamp %v", ErrInvalidGrid, i, ts)
		}
		if i > 0 && ts <= beatTimestamps[i-1] {
			return nil, fmt.Errorf("%w: beat %d (%v) does not follow %v", ErrInvalidGrid, i, ts, beatTimestamps[i-1])
		}
	}
	if phaseOffset != nil && (math.IsNaN(*phaseOffset) || math.IsInf(*phaseOffset, 0)) {
		return nil, fmt.Errorf("%w: invalid phase offset", ErrInvalidGrid)
	}

	beats := make([]float64, len(beatTimestamps))
	copy(beats, beatTimestamps)

	return &BeatGrid{
		Tempo:          tempo,
		BeatTimestamps: beats,
		PhaseOffset:    copyFloat(phaseOffset),
	}, nil
}

// Len returns the number of beats in the grid
func (g *BeatGrid) Len() int {
	if g == nil {
		return 0
	}
	return len(g.BeatTimestamps)
}

// Interval returns the nominal seconds per beat implied by the tempo
func (g *BeatGrid) Interval() float64 {
	return 60 / g.Tempo
}

// EffectiveTempo returns the tempo heard when the deck plays at rate.
func (g *BeatGrid) EffectiveTempo(rate float64) float64 {
	return g.Tempo * rate
}

// NearestBeat returns the beat timestamp closest to t. When t lies exactly
// between two beats the earlier one wins.
func (g *BeatGrid) NearestBeat(t float64) (float64, error) {
	if g.Len() == 0 {
		return 0, ErrEmptyGrid
	}
	beats := g.BeatTimestamps

	// first beat at or after t
	i := sort.SearchFloat64s(beats, t)
	if i == 0 {
		return beats[0], nil
	}
	if i == len(beats) {
		return beats[len(beats)-1], nil
	}

	before, after := beats[i-1], beats[i]
	if after-t < t-before {
		return after, nil
	}
	return before, nil
}

// BeatsBetween returns the beats in [from, to]. The result shares no memory
// with the grid.
func (g *BeatGrid) BeatsBetween(from, to float64) []float64 {
	if g.Len() == 0 || to < from {
		return []float64{}
	}
	lo := sort.SearchFloat64s(g.BeatTimestamps, from)
	hi := sort.Search(len(g.BeatTimestamps), func(i int) bool {
		return g.BeatTimestamps[i] > to
	})
	out := make([]float64, hi-lo)
	copy(out, g.BeatTimestamps[lo:hi])
	return out
}

// Downbeats returns every beatsPerBar-th beat, counted from the beat nearest
// to the phase offset (or from the first beat when no phase is known).
func (g *BeatGrid) Downbeats(beatsPerBar int) []float64 {
	if g.Len() == 0 || beatsPerBar <= 0 {
		return []float64{}
	}

	anchor := 0
	if g.PhaseOffset != nil {
		nearest, _ := g.NearestBeat(*g.PhaseOffset)
		anchor = sort.SearchFloat64s(g.BeatTimestamps, nearest)
	}

	var bars []float64
	for i := anchor % beatsPerBar; i < len(g.BeatTimestamps); i += beatsPerBar {
		bars = append(bars, g.BeatTimestamps[i])
	}
	return bars
}

// Clone returns a deep copy of the grid
func (g *BeatGrid) Clone() *BeatGrid {
	if g == nil {
		return nil
	}
	beats := make([]float64, len(g.BeatTimestamps))
	copy(beats, g.BeatTimestamps)
	return &BeatGrid{
		Tempo:          g.Tempo,
		BeatTimestamps: beats,
		PhaseOffset:    copyFloat(g.PhaseOffset),
		SourceDeckID:   g.SourceDeckID,
		AppliedOffset:  copyFloat(g.AppliedOffset),
	}
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
