package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"crossfade/internal/analysis"
	"crossfade/internal/auth"
	"crossfade/internal/beatsync"
	"crossfade/internal/cache"
	"crossfade/internal/config"
	"crossfade/internal/metadata"
	"crossfade/internal/ngrok"
	"crossfade/internal/player"
	"crossfade/internal/session"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// MixerServer serves the two-deck mixer to browser clients. The audio host
// client plays the decks; the server keeps the shared mixer state, analyzes
// loaded tracks and computes beat sync.
type MixerServer struct {
	config       *config.Config
	logger       *logrus.Logger
	mixer        *player.StateManager
	controller   *beatsync.Controller
	loader       *analysis.Loader
	analyzer     *analysis.Cached
	service      *analysis.Client // nil without an analysis service
	resultCache  *cache.MemoryCache[*analysis.Result]
	probe        *metadata.Probe
	clients      *session.Manager
	authService  *auth.Service
	ngrokService *ngrok.Service
	watcher      *fsnotify.Watcher

	// mixerConfig follows config hot reloads
	mixerMu     sync.RWMutex
	mixerConfig config.MixerConfig

	// ctx bounds background analyses; cancelled on shutdown
	ctx    context.Context
	cancel context.CancelFunc

	httpServer *http.Server
}

// NewMixerServer creates a new mixer server instance
func NewMixerServer(cfg *config.Config, logger *logrus.Logger) (*MixerServer, error) {
	if logger == nil {
		logger = logrus.New()
	}

	authService, err := auth.NewService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth service: %w", err)
	}

	ngrokSvc, err := ngrok.NewService(&cfg.Ngrok, logger)
	if err != nil {
		logger.WithError(err).Warn("Ngrok service not available")
		ngrokSvc = nil
	}

	mixer := player.NewStateManager(logger)
	controller := beatsync.NewController(mixer, mixer, cfg.Mixer.SyncOptions(), logger)

	var service *analysis.Client
	chain := make([]analysis.Analyzer, 0, 3)
	if cfg.Analysis.ServiceURL != "" {
		service = analysis.NewClient(cfg.Analysis.ServiceURL, time.Duration(cfg.Analysis.TimeoutSeconds)*time.Second)
		chain = append(chain, service)
	}
	if cfg.Analysis.UseTagBPM {
		chain = append(chain, analysis.TagAnalyzer{})
	}
	chain = append(chain, analysis.DefaultTempo(cfg.Analysis.DefaultTempo))

	resultCache := cache.NewMemoryCache[*analysis.Result](
		time.Duration(cfg.Analysis.CacheTTLMinutes)*time.Minute, cache.DefaultCleanupInterval)
	analyzer := analysis.NewCached(analysis.NewChain(logger, chain...), resultCache)

	// The loader's own timeout covers the whole fallback chain
	loaderTimeout := time.Duration(cfg.Analysis.TimeoutSeconds) * time.Second * 2

	ctx, cancel := context.WithCancel(context.Background())

	return &MixerServer{
		config:       cfg,
		logger:       logger,
		mixer:        mixer,
		controller:   controller,
		loader:       analysis.NewLoader(analyzer, mixer, loaderTimeout, logger),
		analyzer:     analyzer,
		service:      service,
		resultCache:  resultCache,
		probe:        metadata.NewProbe(cfg.Music.SupportedFormats, logger),
		clients:      session.NewManager(time.Duration(cfg.Server.ClientTimeoutSeconds) * time.Second),
		authService:  authService,
		ngrokService: ngrokSvc,
		mixerConfig:  cfg.Mixer,
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Mixer returns the shared mixer state
func (ms *MixerServer) Mixer() *player.StateManager {
	return ms.mixer
}

// GeneratedControlKey returns the control key made up at startup, if any
func (ms *MixerServer) GeneratedControlKey() string {
	return ms.authService.GeneratedKey
}

// ApplyMixerConfig switches sync tuning without a restart
func (ms *MixerServer) ApplyMixerConfig(mixerCfg config.MixerConfig) error {
	if err := mixerCfg.Validate(); err != nil {
		return err
	}
	ms.mixerMu.Lock()
	ms.mixerConfig = mixerCfg
	ms.mixerMu.Unlock()

	ms.controller.SetOptions(mixerCfg.SyncOptions())
	ms.logger.WithFields(logrus.Fields{
		"search_step":     mixerCfg.SearchStep,
		"match_tolerance": mixerCfg.MatchTolerance,
		"snap_threshold":  mixerCfg.SnapThreshold,
	}).Info("Mixer settings reloaded")
	return nil
}

func (ms *MixerServer) currentMixerConfig() config.MixerConfig {
	ms.mixerMu.RLock()
	defer ms.mixerMu.RUnlock()
	return ms.mixerConfig
}

// Handler builds the routed and wrapped HTTP handler
func (ms *MixerServer) Handler() http.Handler {
	mux := http.NewServeMux()
	ms.setupRoutes(mux)

	var handler http.Handler = mux
	handler = ms.authMiddleware(handler)
	handler = ms.corsMiddleware(handler)
	handler = ms.requestLoggingMiddleware(handler)
	handler = ms.panicRecoveryMiddleware(handler)
	return handler
}

func (ms *MixerServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", ms.handleHome)
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(ms.config.Server.StaticDir))))
	mux.HandleFunc("GET /health", ms.handleHealthCheck)
	mux.HandleFunc("GET /api/config", ms.handleGetConfig)

	// Mixer
	mux.HandleFunc("GET /api/mixer/state", ms.handleGetMixerState)
	mux.HandleFunc("GET /api/mixer/events", ms.handleMixerEvents)
	mux.HandleFunc("POST /api/mixer/crossfader", ms.handleSetCrossfader)
	mux.HandleFunc("POST /api/mixer/volume", ms.handleSetMasterVolume)
	mux.HandleFunc("POST /api/mixer/effects", ms.handleSetEffect)

	// Decks
	mux.HandleFunc("GET /api/decks/{deck}", ms.handleGetDeck)
	mux.HandleFunc("POST /api/decks/{deck}/load", ms.handleLoadDeck)
	mux.HandleFunc("POST /api/decks/{deck}/update", ms.handleUpdateDeck)
	mux.HandleFunc("POST /api/decks/{deck}/clear", ms.handleClearDeck)
	mux.HandleFunc("POST /api/decks/{deck}/analyze", ms.handleReanalyzeDeck)
	mux.HandleFunc("GET /api/decks/{deck}/grid", ms.handleGetGrid)
	mux.HandleFunc("GET /api/decks/{deck}/quantize", ms.handleQuantize)
	mux.HandleFunc("POST /api/decks/{deck}/cue", ms.handleCueDeck)
	mux.HandleFunc("GET /api/decks/{deck}/audio", ms.handleDeckAudio)

	// Sync
	mux.HandleFunc("POST /api/sync/compute", ms.handleComputeSync)
	mux.HandleFunc("POST /api/sync", ms.handleSync)

	// Connected clients
	mux.HandleFunc("GET /api/clients", ms.handleListClients)
	mux.HandleFunc("POST /api/clients", ms.handleRegisterClient)
	mux.HandleFunc("POST /api/clients/{id}/heartbeat", ms.handleClientHeartbeat)
	mux.HandleFunc("POST /api/clients/{id}/host", ms.handleSetAudioHost)
	mux.HandleFunc("DELETE /api/clients/{id}", ms.handleRemoveClient)

	// Auth
	mux.HandleFunc("GET /api/auth/status", ms.handleAuthStatus)
	mux.HandleFunc("POST /api/auth/login", ms.handleAuthLogin)
	mux.HandleFunc("POST /api/auth/logout", ms.handleAuthLogout)
}

// handleHome serves the mixer page from the configured static dir.
func (ms *MixerServer) handleHome(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, filepath.Join(ms.config.Server.StaticDir, "index.html"))
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully
func (ms *MixerServer) Start(ctx context.Context) error {
	if err := ms.startFileWatcher(); err != nil {
		ms.logger.WithError(err).Warn("Could not start file watcher")
	}

	localAddress := fmt.Sprintf("http://%s", ms.config.GetAddress())
	ms.httpServer = &http.Server{
		Addr:        ms.config.GetAddress(),
		Handler:     ms.Handler(),
		ReadTimeout: time.Duration(ms.config.Server.ReadTimeout) * time.Second,
	}

	ms.logger.WithFields(logrus.Fields{
		"address":          localAddress,
		"library":          ms.config.Music.LibraryPath,
		"analysis_service": ms.config.Analysis.ServiceURL,
		"auth":             ms.authService.IsEnabled(),
	}).Info("Crossfade mixer starting")

	if ms.ngrokService != nil {
		if err := ms.ngrokService.StartTunnel(ctx, localAddress); err != nil {
			ms.logger.WithError(err).Warn("Could not start ngrok tunnel")
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- ms.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		ms.Shutdown(context.Background())
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return ms.Shutdown(shutdownCtx)
}

// Shutdown gracefully shuts down the mixer server
func (ms *MixerServer) Shutdown(ctx context.Context) error {
	ms.logger.Info("Shutting down mixer server...")

	// Ends open event streams and pending analyses first
	ms.cancel()

	var err error
	if ms.httpServer != nil {
		err = ms.httpServer.Shutdown(ctx)
	}

	ms.loader.Stop()
	ms.stopFileWatcher()
	if stopErr := ms.ngrokService.Stop(); stopErr != nil {
		ms.logger.WithError(stopErr).Warn("Could not stop ngrok tunnel")
	}
	ms.authService.Close()
	ms.resultCache.Close()

	ms.logger.Info("Mixer server shutdown complete")
	return err
}
