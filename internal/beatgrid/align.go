package beatgrid

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrInsufficientBeats = errors.New("not enough beats to sample")
	ErrInvalidOptions    = errors.New("invalid alignment options")
)

// epsilon absorbs float error when comparing distances against the tolerance
// and window bounds against step multiples.
const epsilon = 1e-9

// AlignOptions tunes the brute-force offset search.
type AlignOptions struct {
	WindowStart float64 // seconds, inclusive
	WindowEnd   float64 // seconds, inclusive
	Step        float64 // seconds between candidate offsets
	Tolerance   float64 // max distance for two beats to coincide
	SampleCount int     // leading beats sampled from each grid

	// Strict rejects grids shorter than SampleCount instead of sampling
	// whatever beats they have.
	Strict bool
}

// DefaultAlignOptions returns a ±2s window searched in 10ms steps with a
// 20ms coincidence tolerance over the first 10 beats.
func DefaultAlignOptions() AlignOptions {
	return AlignOptions{
		WindowStart: -2.0,
		WindowEnd:   2.0,
		Step:        0.01,
		Tolerance:   0.02,
		SampleCount: 10,
	}
}

// Validate checks that the options describe a non-empty search
func (o AlignOptions) Validate() error {
	if !(o.Step > 0) {
		return fmt.Errorf("%w: step must be positive", ErrInvalidOptions)
	}
	if !(o.WindowStart <= o.WindowEnd) {
		return fmt.Errorf("%w: window start %v after end %v", ErrInvalidOptions, o.WindowStart, o.WindowEnd)
	}
	if !(o.Tolerance >= 0) {
		return fmt.Errorf("%w: tolerance must not be negative", ErrInvalidOptions)
	}
	if o.SampleCount <= 0 {
		return fmt.Errorf("%w: sample count must be positive", ErrInvalidOptions)
	}
	lo, hi := o.stepRange()
	if lo > hi {
		return fmt.Errorf("%w: window [%v, %v] contains no multiple of step %v", ErrInvalidOptions, o.WindowStart, o.WindowEnd, o.Step)
	}
	return nil
}

// stepRange returns the smallest and largest k with k*Step inside the window.
func (o AlignOptions) stepRange() (int, int) {
	lo := int(math.Ceil(o.WindowStart/o.Step - epsilon))
	hi := int(math.Floor(o.WindowEnd/o.Step + epsilon))
	return lo, hi
}

// Alignment is the outcome of an offset search.
type Alignment struct {
	Offset  float64 `json:"offset"`  // seconds to add to target beats
	Score   float64 `json:"score"`   // Matches / Sampled, in [0,1]
	Matches int     `json:"matches"` // reference beats with a coincident target beat
	Sampled int     `json:"sampled"` // reference beats examined
}

// FindBestOffset searches for the shift of target that makes the most of the
// leading reference beats coincide with a target beat.
//
// Candidates are visited from zero outward (0, -step, +step, -2*step, ...).
// A candidate replaces the current best when it matches more beats, or as many
// beats with a strictly smaller summed distance between matched pairs. This
// goes further than keeping the first candidate to reach the maximum: with a
// tolerance wider than the step, several neighbouring offsets match every
// beat, and the residual picks the one centred on the true lag instead of the
// edge of the tolerance band nearest zero. Exact ties still keep the offset
// closest to zero, preferring the negative side.
//
// Grids shorter than SampleCount are sampled as far as they go unless
// opts.Strict is set.
func FindBestOffset(reference, target *BeatGrid, opts AlignOptions) (Alignment, error) {
	if err := opts.Validate(); err != nil {
		return Alignment{}, err
	}
	if reference.Len() == 0 || target.Len() == 0 {
		return Alignment{}, ErrEmptyGrid
	}
	if opts.Strict && (reference.Len() < opts.SampleCount || target.Len() < opts.SampleCount) {
		return Alignment{}, fmt.Errorf("%w: need %d, have %d reference and %d target",
			ErrInsufficientBeats, opts.SampleCount, reference.Len(), target.Len())
	}

	refBeats := reference.BeatTimestamps[:min(opts.SampleCount, reference.Len())]
	targetBeats := target.BeatTimestamps[:min(opts.SampleCount, target.Len())]

	lo, hi := opts.stepRange()

	best := Alignment{Sampled: len(refBeats)}
	bestResidual := math.Inf(1)
	evaluated := false

	consider := func(k int) {
		if k < lo || k > hi {
			return
		}
		offset := float64(k) * opts.Step
		matches, residual := countMatches(refBeats, targetBeats, offset, opts.Tolerance)
		if !evaluated || matches > best.Matches || (matches == best.Matches && residual < bestResidual-epsilon) {
			best.Offset = offset
			best.Matches = matches
			bestResidual = residual
			evaluated = true
		}
	}

	for d := 0; -d >= lo || d <= hi; d++ {
		consider(-d)
		if d != 0 {
			consider(d)
		}
	}

	best.Score = float64(best.Matches) / float64(best.Sampled)
	return best, nil
}

// countMatches counts reference beats that have a target beat within
// tolerance once the target is shifted by offset, and sums those distances.
func countMatches(refBeats, targetBeats []float64, offset, tolerance float64) (int, float64) {
	matches := 0
	residual := 0.0
	for _, r := range refBeats {
		nearest := math.Inf(1)
		for _, t := range targetBeats {
			if d := math.Abs(t + offset - r); d < nearest {
				nearest = d
			}
		}
		if nearest <= tolerance+epsilon {
			matches++
			residual += nearest
		}
	}
	return matches, residual
}
