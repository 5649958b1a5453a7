package analysis

import (
	"context"
	"errors"
	"fmt"

	"crossfade/pkg/models"

	"github.com/sirupsen/logrus"
)

// TagAnalyzer answers with the BPM found in the track's tags
type TagAnalyzer struct{}

func (TagAnalyzer) Analyze(_ context.Context, track *models.Track) (*Result, error) {
	if !(track.BPM > 0) {
		return nil, fmt.Errorf("%w: no BPM tag", ErrUnavailable)
	}
	return &Result{BPM: track.BPM, Duration: track.Duration, Source: SourceTag}, nil
}

// DefaultTempo always answers with a fixed tempo. It ends a chain so that
// every loaded track gets a grid.
type DefaultTempo float64

func (d DefaultTempo) Analyze(_ context.Context, track *models.Track) (*Result, error) {
	return &Result{BPM: float64(d), Duration: track.Duration, Source: SourceDefault}, nil
}

// Chain asks each analyzer in turn and returns the first answer. Failures
// other than ErrUnavailable are logged before moving on.
type Chain struct {
	analyzers []Analyzer
	logger    *logrus.Logger
}

// NewChain creates a fallback chain
func NewChain(logger *logrus.Logger, analyzers ...Analyzer) *Chain {
	if logger == nil {
		logger = logrus.New()
	}
	return &Chain{analyzers: analyzers, logger: logger}
}

func (c *Chain) Analyze(ctx context.Context, track *models.Track) (*Result, error) {
	var lastErr error
	for _, a := range c.analyzers {
		result, err := a.Analyze(ctx, track)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(err, ErrUnavailable) {
			c.logger.WithError(err).WithField("track", track.Title).Warn("Analyzer failed, trying next")
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrUnavailable
	}
	return nil, lastErr
}
