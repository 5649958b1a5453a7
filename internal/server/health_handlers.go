package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"
)

// healthPingTimeout bounds the analysis service check
const healthPingTimeout = 2 * time.Second

// HealthStatus represents operational status for the /health endpoint.
type HealthStatus struct {
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Analysis    string                 `json:"analysis"`
	Storage     string                 `json:"storage"`
	Clients     int                    `json:"connectedClients"`
	DecksLoaded int                    `json:"decksLoaded"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// handleHealthCheck returns liveness plus dependency checks. An unreachable
// analysis service only degrades the mixer, because loads fall back to
// tagged or default tempos.
func (ms *MixerServer) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	health := &HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Analysis:  "ok",
		Storage:   "ok",
		Clients:   len(ms.clients.List()),
		Details:   make(map[string]interface{}),
	}

	if err := ms.checkAnalysisHealth(r.Context()); err != nil {
		health.Status = "degraded"
		health.Analysis = "error"
		health.Details["analysis_error"] = err.Error()
	} else if ms.service == nil {
		health.Analysis = "disabled"
	}

	if err := ms.checkStorageHealth(); err != nil {
		health.Status = "unhealthy"
		health.Storage = "error"
		health.Details["storage_error"] = err.Error()
	}

	for _, deck := range ms.mixer.GetState().Decks {
		if deck.Track != nil {
			health.DecksLoaded++
		}
	}

	status := http.StatusOK
	if health.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	ms.respondJSON(w, status, health)
}

// checkAnalysisHealth pings the analysis service when one is configured
func (ms *MixerServer) checkAnalysisHealth(ctx context.Context) error {
	if ms.service == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, healthPingTimeout)
	defer cancel()
	return ms.service.Ping(ctx)
}

// checkStorageHealth validates that the music library is readable
func (ms *MixerServer) checkStorageHealth() error {
	info, err := os.Stat(ms.config.Music.LibraryPath)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("music library %s is not a directory", ms.config.Music.LibraryPath)
	}
	return nil
}
