package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"crossfade/internal/player"
)

// eventKeepAlive is how often an idle event stream sends a comment line
const eventKeepAlive = 15 * time.Second

// handleGetMixerState returns the complete mixer state
func (ms *MixerServer) handleGetMixerState(w http.ResponseWriter, r *http.Request) {
	ms.respondJSON(w, http.StatusOK, ms.mixer.GetState())
}

// handleMixerEvents streams every mixer state change as server-sent events.
// The audio host follows rate and seek events to drive its decks. A client
// ID in the query keeps that client alive while it listens.
func (ms *MixerServer) handleMixerEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Streaming unsupported", nil)
		return
	}

	clientID := r.URL.Query().Get("client")
	events := ms.mixer.Subscribe()
	defer ms.mixer.Unsubscribe(events)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, &player.Event{Type: "state", State: ms.mixer.GetState()}); err != nil {
		return
	}
	flusher.Flush()

	keepAlive := time.NewTicker(eventKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ms.ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				// Dropped for falling behind; the client reconnects and gets a fresh state
				return
			}
			if err := writeEvent(w, event); err != nil {
				ms.logger.WithError(err).Debug("Event stream closed")
				return
			}
		case <-keepAlive.C:
			if clientID != "" {
				ms.clients.Touch(clientID)
			}
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		}
		flusher.Flush()
	}
}

func writeEvent(w http.ResponseWriter, event *player.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
	return err
}

// handleSetCrossfader moves the crossfader (0 = full A, 100 = full B)
func (ms *MixerServer) handleSetCrossfader(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Position *float64 `json:"position"`
	}
	if verr := decodeJSON(r, &req); verr != nil {
		ms.respondWithValidationError(w, r, *verr)
		return
	}
	if req.Position == nil {
		ms.respondWithValidationError(w, r, ValidationError{
			Field:   "position",
			Message: "Crossfader position is required",
			Code:    "MISSING_POSITION",
		})
		return
	}
	if verr := validateRange("position", *req.Position, 0, 100); verr != nil {
		ms.respondWithValidationError(w, r, *verr)
		return
	}

	ms.mixer.SetCrossfader(*req.Position)
	ms.respondJSON(w, http.StatusOK, ms.mixer.GetState())
}

// handleSetMasterVolume sets the master output volume (0 to 100)
func (ms *MixerServer) handleSetMasterVolume(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Volume *float64 `json:"volume"`
	}
	if verr := decodeJSON(r, &req); verr != nil {
		ms.respondWithValidationError(w, r, *verr)
		return
	}
	if req.Volume == nil {
		ms.respondWithValidationError(w, r, ValidationError{
			Field:   "volume",
			Message: "Volume is required",
			Code:    "MISSING_VOLUME",
		})
		return
	}
	if verr := validateRange("volume", *req.Volume, 0, 100); verr != nil {
		ms.respondWithValidationError(w, r, *verr)
		return
	}

	ms.mixer.SetMasterVolume(*req.Volume)
	ms.respondJSON(w, http.StatusOK, ms.mixer.GetState())
}

// handleSetEffect engages, releases or (without "enabled") toggles a master
// effect. The audio host applies the processing when it sees the event.
func (ms *MixerServer) handleSetEffect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Effect  string `json:"effect"`
		Enabled *bool  `json:"enabled"`
	}
	if verr := decodeJSON(r, &req); verr != nil {
		ms.respondWithValidationError(w, r, *verr)
		return
	}

	name := strings.ToLower(strings.TrimSpace(req.Effect))
	enabled, err := ms.mixer.SetEffect(name, req.Enabled)
	if errors.Is(err, player.ErrUnknownEffect) {
		ms.respondWithValidationError(w, r, ValidationError{
			Field:   "effect",
			Message: fmt.Sprintf("Effect must be one of %s", strings.Join(player.EffectNames, ", ")),
			Code:    "INVALID_EFFECT",
		})
		return
	}
	if err != nil {
		ms.respondWithMixerError(w, r, err)
		return
	}

	ms.respondJSON(w, http.StatusOK, map[string]interface{}{
		"effect":  name,
		"enabled": enabled,
		"effects": ms.mixer.GetState().Effects,
	})
}
