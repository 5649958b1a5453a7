package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"crossfade/internal/beatgrid"
	"crossfade/internal/cache"
	"crossfade/pkg/models"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel) // Reduce noise in tests
	return logger
}

func testTrack() *models.Track {
	return &models.Track{
		ID:       "track-1",
		Title:    "Night Drive",
		Artist:   "Someone",
		Duration: 10,
		FilePath: "/music/night.mp3",
		FileSize: 1234,
	}
}

func TestClientAnalyze(t *testing.T) {
	var got analyzeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/analyze" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"bpm": 124.0, "beats": [0.12, 0.6, 1.09], "phase": 0.12, "duration": 180.5}`))
	}))
	defer srv.Close()

	result, err := NewClient(srv.URL+"/", time.Second).Analyze(context.Background(), testTrack())
	if err != nil {
		t.Fatalf("Analyze() unexpected error: %v", err)
	}

	if got.TrackID != "track-1" || got.Path != "/music/night.mp3" || got.Duration != 10 {
		t.Errorf("Unexpected request body %+v", got)
	}
	if result.BPM != 124 || len(result.Beats) != 3 || result.Source != SourceService {
		t.Errorf("Unexpected result %+v", result)
	}
	if result.Phase == nil || *result.Phase != 0.12 {
		t.Errorf("Expected phase 0.12, got %v", result.Phase)
	}
}

func TestClientErrors(t *testing.T) {
	tests := []struct {
		name            string
		status          int
		body            string
		wantUnavailable bool
	}{
		{"not found", http.StatusNotFound, "", true},
		{"unprocessable", http.StatusUnprocessableEntity, "", true},
		{"server error", http.StatusInternalServerError, "boom", false},
		{"bad json", http.StatusOK, "{", false},
		{"error field", http.StatusOK, `{"error": "decoder crashed"}`, false},
		{"zero tempo", http.StatusOK, `{"bpm": 0}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, time.Second).Analyze(context.Background(), testTrack())
			if err == nil {
				t.Fatal("Expected error")
			}
			if errors.Is(err, ErrUnavailable) != tt.wantUnavailable {
				t.Errorf("errors.Is(ErrUnavailable) = %v, want %v (%v)", !tt.wantUnavailable, tt.wantUnavailable, err)
			}
		})
	}
}

func TestClientPing(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping() unexpected error: %v", err)
	}
	healthy.Store(false)
	if err := c.Ping(context.Background()); err == nil {
		t.Error("Expected Ping() to fail")
	}
}

func TestChainFallsBack(t *testing.T) {
	failing := AnalyzerFunc(func(context.Context, *models.Track) (*Result, error) {
		return nil, errors.New("connection refused")
	})
	chain := NewChain(testLogger(), failing, TagAnalyzer{}, DefaultTempo(120))

	track := testTrack()
	result, err := chain.Analyze(context.Background(), track)
	if err != nil {
		t.Fatalf("Analyze() unexpected error: %v", err)
	}
	if result.BPM != 120 || result.Source != SourceDefault {
		t.Errorf("Expected default 120 BPM, got %+v", result)
	}

	track.BPM = 126
	result, _ = chain.Analyze(context.Background(), track)
	if result.BPM != 126 || result.Source != SourceTag {
		t.Errorf("Expected tagged 126 BPM, got %+v", result)
	}
}

func TestChainAllUnavailable(t *testing.T) {
	chain := NewChain(testLogger(), TagAnalyzer{})
	if _, err := chain.Analyze(context.Background(), testTrack()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable, got %v", err)
	}
	if _, err := NewChain(testLogger()).Analyze(context.Background(), testTrack()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable from empty chain, got %v", err)
	}
}

func TestChainStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	failing := AnalyzerFunc(func(ctx context.Context, _ *models.Track) (*Result, error) {
		calls++
		return nil, ctx.Err()
	})
	_, err := NewChain(testLogger(), failing, DefaultTempo(120)).Analyze(ctx, testTrack())
	if !errors.Is(err, context.Canceled) || calls != 1 {
		t.Errorf("Expected cancellation after one call, got %v after %d calls", err, calls)
	}
}

func TestCached(t *testing.T) {
	calls := 0
	source := SourceService
	next := AnalyzerFunc(func(context.Context, *models.Track) (*Result, error) {
		calls++
		return &Result{BPM: 128, Source: source}, nil
	})

	store := cache.NewMemoryCache[*Result](time.Hour, 0)
	defer store.Close()
	c := NewCached(next, store)

	track := testTrack()
	c.Analyze(context.Background(), track)
	c.Analyze(context.Background(), track)
	if calls != 1 {
		t.Errorf("Expected one analysis for a cached track, got %d", calls)
	}

	c.Forget(track)
	c.Analyze(context.Background(), track)
	if calls != 2 {
		t.Errorf("Expected re-analysis after Forget, got %d calls", calls)
	}

	source = SourceDefault
	other := testTrack()
	other.ID = "track-2"
	c.Analyze(context.Background(), other)
	c.Analyze(context.Background(), other)
	if calls != 4 {
		t.Errorf("Expected fallback results not to be cached, got %d calls", calls)
	}
}

func TestBuildGrid(t *testing.T) {
	phase := 0.5
	grid, err := BuildGrid(&Result{BPM: 120, Beats: []float64{0.5, 1.0, 1.5}, Phase: &phase}, 0)
	if err != nil {
		t.Fatalf("BuildGrid() unexpected error: %v", err)
	}
	if grid.Len() != 3 || *grid.PhaseOffset != 0.5 {
		t.Errorf("Expected detected beats to be used, got %+v", grid)
	}

	grid, err = BuildGrid(&Result{BPM: 120}, 2.0)
	if err != nil {
		t.Fatalf("BuildGrid() unexpected error: %v", err)
	}
	if grid.Len() != 4 {
		t.Errorf("Expected 4 fixed-interval beats, got %d", grid.Len())
	}

	grid, err = BuildGrid(&Result{BPM: 60, Duration: 3}, 0)
	if err != nil || grid.Len() != 3 {
		t.Errorf("Expected result duration to be used, got %v, %v", grid, err)
	}

	if _, err := BuildGrid(&Result{BPM: 120}, 0); !errors.Is(err, beatgrid.ErrInvalidDuration) {
		t.Errorf("Expected ErrInvalidDuration, got %v", err)
	}
	if _, err := BuildGrid(nil, 10); !errors.Is(err, beatgrid.ErrInvalidGrid) {
		t.Errorf("Expected ErrInvalidGrid, got %v", err)
	}
}

type recordingSink struct {
	mu     sync.Mutex
	grids  map[models.DeckID]*beatgrid.BeatGrid
	errs   map[models.DeckID]error
	reject error
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		grids: make(map[models.DeckID]*beatgrid.BeatGrid),
		errs:  make(map[models.DeckID]error),
	}
}

func (s *recordingSink) SetGrid(deck models.DeckID, _ uint64, grid *beatgrid.BeatGrid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject != nil {
		return s.reject
	}
	s.grids[deck] = grid
	return nil
}

func (s *recordingSink) SetAnalysisError(deck models.DeckID, _ uint64, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[deck] = cause
	return nil
}

func TestLoader(t *testing.T) {
	sink := newRecordingSink()
	loader := NewLoader(DefaultTempo(120), sink, time.Second, testLogger())

	loader.Start(context.Background(), models.DeckA, 1, testTrack())
	loader.Wait()

	grid := sink.grids[models.DeckA]
	if grid == nil || grid.Tempo != 120 || grid.Len() != 20 {
		t.Errorf("Expected 20-beat 120 BPM grid for a 10s track, got %+v", grid)
	}
}

func TestLoaderRefusesWorkAfterStop(t *testing.T) {
	sink := newRecordingSink()
	loader := NewLoader(DefaultTempo(120), sink, time.Second, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if loader.Start(ctx, models.DeckA, 1, testTrack()) {
		t.Error("Expected Start to refuse a cancelled context")
	}

	loader.Stop()
	if loader.Start(context.Background(), models.DeckB, 1, testTrack()) {
		t.Error("Expected Start to refuse work after Stop")
	}
	loader.Wait()

	if len(sink.grids) != 0 {
		t.Errorf("Expected no grids, got %v", sink.grids)
	}
}

func TestLoaderRecordsFailure(t *testing.T) {
	sink := newRecordingSink()
	loader := NewLoader(TagAnalyzer{}, sink, time.Second, testLogger())

	err := loader.Run(context.Background(), models.DeckB, 3, testTrack())
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable, got %v", err)
	}
	if !errors.Is(sink.errs[models.DeckB], ErrUnavailable) {
		t.Errorf("Expected failure to be recorded on deck B, got %v", sink.errs[models.DeckB])
	}
}

func TestLoaderStaleGrid(t *testing.T) {
	stale := errors.New("grid belongs to a previous load")
	sink := newRecordingSink()
	sink.reject = stale
	loader := NewLoader(DefaultTempo(100), sink, 0, testLogger())

	if err := loader.Run(context.Background(), models.DeckA, 1, testTrack()); !errors.Is(err, stale) {
		t.Errorf("Expected rejection to propagate, got %v", err)
	}
}
