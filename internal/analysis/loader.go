package analysis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"crossfade/internal/beatgrid"
	"crossfade/pkg/models"

	"github.com/sirupsen/logrus"
)

// GridSink receives the grids produced for deck loads. generation identifies
// the load; a sink rejects grids for loads that have since been replaced.
type GridSink interface {
	SetGrid(deck models.DeckID, generation uint64, grid *beatgrid.BeatGrid) error
	SetAnalysisError(deck models.DeckID, generation uint64, cause error) error
}

// Loader analyzes freshly loaded tracks in the background and installs the
// resulting grid on the deck.
type Loader struct {
	analyzer Analyzer
	sink     GridSink
	timeout  time.Duration
	logger   *logrus.Logger

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// NewLoader creates a loader. timeout bounds each analysis.
func NewLoader(analyzer Analyzer, sink GridSink, timeout time.Duration, logger *logrus.Logger) *Loader {
	if logger == nil {
		logger = logrus.New()
	}
	return &Loader{
		analyzer: analyzer,
		sink:     sink,
		timeout:  timeout,
		logger:   logger,
	}
}

// Start analyzes track in a new goroutine. It reports false, and does
// nothing, once ctx is done or the loader has been stopped.
func (l *Loader) Start(ctx context.Context, deck models.DeckID, generation uint64, track *models.Track) bool {
	l.mu.Lock()
	if l.stopped || ctx.Err() != nil {
		l.mu.Unlock()
		l.logger.WithField("deck", deck).Debug("Loader stopped, skipping analysis")
		return false
	}
	l.wg.Add(1)
	l.mu.Unlock()

	go func() {
		defer l.wg.Done()
		if err := l.Run(ctx, deck, generation, track); err != nil {
			l.logger.WithError(err).WithFields(logrus.Fields{
				"deck":       deck,
				"generation": generation,
			}).Warn("Track analysis did not produce a grid")
		}
	}()
	return true
}

// Run analyzes track and installs its grid, blocking until done
func (l *Loader) Run(ctx context.Context, deck models.DeckID, generation uint64, track *models.Track) error {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	startTime := time.Now()
	grid, source, err := l.analyze(ctx, track)
	if err != nil {
		if sinkErr := l.sink.SetAnalysisError(deck, generation, err); sinkErr != nil {
			return fmt.Errorf("%v (and could not record it: %w)", err, sinkErr)
		}
		return err
	}

	if err := l.sink.SetGrid(deck, generation, grid); err != nil {
		return fmt.Errorf("install grid: %w", err)
	}

	l.logger.WithFields(logrus.Fields{
		"deck":           deck,
		"track":          track.Title,
		"tempo":          grid.Tempo,
		"beats":          grid.Len(),
		"source":         source,
		"processingTime": time.Since(startTime),
	}).Info("Beat grid ready")
	return nil
}

func (l *Loader) analyze(ctx context.Context, track *models.Track) (*beatgrid.BeatGrid, Source, error) {
	result, err := l.analyzer.Analyze(ctx, track)
	if err != nil {
		return nil, "", fmt.Errorf("analyze %q: %w", track.Title, err)
	}
	grid, err := BuildGrid(result, track.Duration)
	if err != nil {
		return nil, "", fmt.Errorf("build grid for %q: %w", track.Title, err)
	}
	return grid, result.Source, nil
}

// Wait blocks until all started analyses have finished
func (l *Loader) Wait() {
	l.wg.Wait()
}

// Stop refuses further Start calls and waits for running analyses
func (l *Loader) Stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
	l.wg.Wait()
}
