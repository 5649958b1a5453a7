// Package analysis obtains tempo and beat positions for loaded tracks from
// an external analysis service, falling back to tags and a default tempo.
package analysis

import (
	"context"
	"errors"
	"fmt"

	"crossfade/internal/beatgrid"
	"crossfade/pkg/models"
)

// ErrUnavailable means an analyzer has nothing to say about a track and the
// next one should be asked.
var ErrUnavailable = errors.New("analysis unavailable")

// Source tells where a result came from
type Source string

const (
	SourceService Source = "service"
	SourceTag     Source = "tag"
	SourceDefault Source = "default"
	SourceManual  Source = "manual"
)

// Result is a completed track analysis
type Result struct {
	BPM      float64   `json:"bpm"`
	Beats    []float64 `json:"beats,omitempty"`
	Phase    *float64  `json:"phase,omitempty"`
	Duration float64   `json:"duration,omitempty"`
	Source   Source    `json:"source"`
}

// Analyzer produces an analysis for a track
type Analyzer interface {
	Analyze(ctx context.Context, track *models.Track) (*Result, error)
}

// AnalyzerFunc adapts a function to Analyzer
type AnalyzerFunc func(ctx context.Context, track *models.Track) (*Result, error)

func (f AnalyzerFunc) Analyze(ctx context.Context, track *models.Track) (*Result, error) {
	return f(ctx, track)
}

// BuildGrid turns a result into a beat grid. Detected beats are used when
// present; otherwise a fixed-interval grid is laid out over the track.
func BuildGrid(result *Result, trackDuration float64) (*beatgrid.BeatGrid, error) {
	if result == nil {
		return nil, fmt.Errorf("%w: no analysis result", beatgrid.ErrInvalidGrid)
	}
	if len(result.Beats) > 0 {
		return beatgrid.EstimateFromAnalysis(result.BPM, result.Beats, result.Phase)
	}

	duration := trackDuration
	if duration <= 0 {
		duration = result.Duration
	}
	return beatgrid.EstimateFromTempo(result.BPM, duration)
}
