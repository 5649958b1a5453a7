package server

import (
	"net/http"

	"crossfade/internal/beatsync"
	"crossfade/pkg/models"
)

type syncRequest struct {
	Reference string `json:"reference,omitempty"`
	Target    string `json:"target,omitempty"`
}

// decks reads the reference/target pair. Either may be omitted and is then
// the other deck; with both omitted ok is false.
func (req syncRequest) decks() (reference, target models.DeckID, ok bool, verr *ValidationError) {
	if req.Reference == "" && req.Target == "" {
		return "", "", false, nil
	}
	if req.Reference != "" {
		if reference, verr = validateDeckID(req.Reference); verr != nil {
			verr.Field = "reference"
			return "", "", false, verr
		}
	}
	if req.Target != "" {
		if target, verr = validateDeckID(req.Target); verr != nil {
			verr.Field = "target"
			return "", "", false, verr
		}
	}
	switch {
	case reference == "":
		reference = target.Other()
	case target == "":
		target = reference.Other()
	}
	if reference == target {
		return "", "", false, &ValidationError{
			Field:   "target",
			Message: "A deck cannot be synced to itself",
			Code:    "SAME_DECK",
		}
	}
	return reference, target, true, nil
}

// handleComputeSync previews the sync of target against reference without
// touching playback. Defaults to B following A.
func (ms *MixerServer) handleComputeSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if verr := decodeJSON(r, &req); verr != nil {
		ms.respondWithValidationError(w, r, *verr)
		return
	}
	reference, target, ok, verr := req.decks()
	if verr != nil {
		ms.respondWithValidationError(w, r, *verr)
		return
	}
	if !ok {
		reference, target = models.DeckA, models.DeckB
	}

	result, err := ms.controller.ComputeDeckSync(reference, target)
	if err != nil {
		ms.respondWithMixerError(w, r, err)
		return
	}
	ms.respondJSON(w, http.StatusOK, result)
}

// handleSync is the sync button. Without a body the master deck is chosen
// from what is playing and the other deck follows it; naming the decks
// forces the direction.
func (ms *MixerServer) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if verr := decodeJSON(r, &req); verr != nil {
		ms.respondWithValidationError(w, r, *verr)
		return
	}
	reference, target, explicit, verr := req.decks()
	if verr != nil {
		ms.respondWithValidationError(w, r, *verr)
		return
	}

	var (
		result beatsync.SyncResult
		err    error
	)
	if explicit {
		result, err = ms.controller.ComputeDeckSync(reference, target)
		if err == nil {
			err = ms.controller.ApplySync(target, result)
		}
	} else {
		result, err = ms.controller.SyncDecks(ms.mixer.DeckStates())
	}
	if err != nil {
		ms.respondWithMixerError(w, r, err)
		return
	}

	ms.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"result":  result,
		"state":   ms.mixer.GetState(),
	})
}
