package beatgrid

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrInvalidTempo    = errors.New("tempo must be positive")
	ErrInvalidDuration = errors.New("track duration must be positive")
)

// EstimateFromTempo builds a fixed-interval grid for a track whose only known
// property is its tempo. Beats fall on i*60/tempo seconds, starting at 0 and
// stopping before the end of the track. This assumes a constant tempo with a
// downbeat at 0; it is not onset detection.
func EstimateFromTempo(tempo, trackDurationSeconds float64) (*BeatGrid, error) {
	if !(tempo > 0) || math.IsInf(tempo, 0) {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidTempo, tempo)
	}
	if !(trackDurationSeconds > 0) || math.IsInf(trackDurationSeconds, 0) {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidDuration, trackDurationSeconds)
	}

	interval := 60 / tempo
	count := int(math.Ceil(trackDurationSeconds / interval))
	beats := make([]float64, 0, count)
	for i := 0; ; i++ {
		// multiply instead of accumulating so that beat n has no drift
		ts := float64(i) * interval
		if ts >= trackDurationSeconds {
			break
		}
		beats = append(beats, ts)
	}

	phase := 0.0
	return &BeatGrid{
		Tempo:          tempo,
		BeatTimestamps: beats,
		PhaseOffset:    &phase,
	}, nil
}

// EstimateFromAnalysis wraps beat timestamps produced by an external
// analysis service into a grid.
func EstimateFromAnalysis(tempo float64, detectedBeatTimestamps []float64, phaseOffset *float64) (*BeatGrid, error) {
	return New(tempo, detectedBeatTimestamps, phaseOffset)
}
