package server

import (
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// handleRegisterClient registers a browser tab or remote device
func (ms *MixerServer) handleRegisterClient(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceName string `json:"deviceName,omitempty"`
	}
	if verr := decodeJSON(r, &req); verr != nil {
		// A bad body only loses the device name
		req.DeviceName = ""
	}

	userAgent := r.Header.Get("User-Agent")
	ipAddress := r.RemoteAddr
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		ipAddress = forwarded
	}

	deviceName := sanitizeInput(req.DeviceName)
	if deviceName == "" || deviceName == "Unknown Device" {
		deviceName = guessDeviceName(userAgent)
	}

	client := ms.clients.Register(userAgent, ipAddress, deviceName)

	ms.logger.WithFields(logrus.Fields{
		"client":     client.ID,
		"device":     client.DeviceName,
		"audio_host": client.IsAudioHost,
	}).Info("Client connected")

	ms.respondJSON(w, http.StatusCreated, client)
}

// handleListClients returns all connected clients and the audio host
func (ms *MixerServer) handleListClients(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"clients": ms.clients.List(),
	}
	if host, ok := ms.clients.AudioHost(); ok {
		response["audioHostId"] = host.ID
	}
	ms.respondJSON(w, http.StatusOK, response)
}

// handleClientHeartbeat keeps a client from timing out
func (ms *MixerServer) handleClientHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !ms.clients.Touch(id) {
		ms.respondWithError(w, r, http.StatusNotFound, "Client not found", nil)
		return
	}
	client, _ := ms.clients.Get(id)
	ms.respondJSON(w, http.StatusOK, client)
}

// handleSetAudioHost makes a client the one that plays the decks
func (ms *MixerServer) handleSetAudioHost(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !ms.clients.SetAudioHost(id) {
		ms.respondWithError(w, r, http.StatusNotFound, "Client not found", nil)
		return
	}

	ms.logger.WithField("client", id).Info("Audio host changed")

	ms.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"audioHostId": id,
	})
}

// handleRemoveClient forgets a client that is closing
func (ms *MixerServer) handleRemoveClient(w http.ResponseWriter, r *http.Request) {
	ms.clients.Remove(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

// guessDeviceName tries to guess device name from user agent
func guessDeviceName(userAgent string) string {
	ua := strings.ToLower(userAgent)

	if strings.Contains(ua, "mobile") || strings.Contains(ua, "android") {
		if strings.Contains(ua, "android") {
			return "Android Device"
		}
		return "Mobile Device"
	}

	if strings.Contains(ua, "iphone") {
		return "iPhone"
	}

	if strings.Contains(ua, "ipad") {
		return "iPad"
	}

	if strings.Contains(ua, "mac") || strings.Contains(ua, "macintosh") {
		return "Mac"
	}

	if strings.Contains(ua, "windows") {
		return "Windows PC"
	}

	if strings.Contains(ua, "linux") {
		return "Linux PC"
	}

	return "Web Browser"
}
