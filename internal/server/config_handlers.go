package server

import (
	"net/http"

	"crossfade/internal/player"
)

// ConfigResponse represents the public configuration sent to the frontend
type ConfigResponse struct {
	Auth  AuthConfigResponse  `json:"auth"`
	Mixer MixerConfigResponse `json:"mixer"`

	PublicURL string `json:"public_url,omitempty"`
}

// AuthConfigResponse represents auth-related configuration for the frontend
type AuthConfigResponse struct {
	Enabled bool `json:"enabled"`
}

// MixerConfigResponse is the sync tuning the frontend needs to draw grids
// and quantize locally
type MixerConfigResponse struct {
	SnapThreshold  float64 `json:"snap_threshold"`
	BeatsPerBar    int     `json:"beats_per_bar"`
	MatchTolerance float64 `json:"match_tolerance"`
	MaxPitch       float64 `json:"max_pitch"`
}

// handleGetConfig returns public configuration settings for the frontend
func (ms *MixerServer) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	mixerCfg := ms.currentMixerConfig()

	ms.respondJSON(w, http.StatusOK, ConfigResponse{
		Auth: AuthConfigResponse{
			Enabled: ms.authService.IsEnabled(),
		},
		Mixer: MixerConfigResponse{
			SnapThreshold:  mixerCfg.SnapThreshold,
			BeatsPerBar:    mixerCfg.BeatsPerBar,
			MatchTolerance: mixerCfg.MatchTolerance,
			MaxPitch:       player.MaxPitch,
		},
		PublicURL: ms.ngrokService.GetPublicURL(),
	})
}
