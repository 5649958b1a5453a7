package server

import (
	"fmt"
	"net/http"
	"os"

	"crossfade/internal/metadata"
)

// streamAudioFile serves a deck's file with caching headers. Range requests
// are answered by http.ServeContent, which browsers need for seeking.
func (ms *MixerServer) streamAudioFile(w http.ResponseWriter, r *http.Request, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("error opening file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("error reading file info: %w", err)
	}

	w.Header().Set("Content-Type", metadata.ContentType(filePath))
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("ETag", fmt.Sprintf(`"%d-%d"`, stat.ModTime().Unix(), stat.Size()))
	w.Header().Set("Accept-Ranges", "bytes")

	http.ServeContent(w, r, stat.Name(), stat.ModTime(), file)
	return nil
}
