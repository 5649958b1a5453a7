package server

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"crossfade/internal/player"
	"crossfade/pkg/models"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// writeSettleDelay lets an editor or tagger finish writing before re-analysis
const writeSettleDelay = 500 * time.Millisecond

// startFileWatcher watches the music library so that a loaded track edited
// on disk (new tags, re-export) gets analyzed again.
func (ms *MixerServer) startFileWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	ms.watcher = watcher

	go ms.watchFiles()

	if err := ms.addDirectoryToWatcher(ms.config.Music.LibraryPath); err != nil {
		return err
	}

	ms.logger.WithField("library_path", ms.config.Music.LibraryPath).Info("File watcher started")
	return nil
}

// addDirectoryToWatcher recursively walks and adds subdirectories to watcher.
func (ms *MixerServer) addDirectoryToWatcher(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return ms.watcher.Add(path)
		}
		return nil
	})
}

// watchFiles selects on watcher channels and dispatches events.
func (ms *MixerServer) watchFiles() {
	defer ms.watcher.Close()

	for {
		select {
		case <-ms.ctx.Done():
			return
		case event, ok := <-ms.watcher.Events:
			if !ok {
				return
			}
			ms.handleFileEvent(event)

		case err, ok := <-ms.watcher.Errors:
			if !ok {
				return
			}
			ms.logger.WithError(err).Error("File watcher error")
		}
	}
}

// handleFileEvent applies filtering & delegates to the decks holding the file.
func (ms *MixerServer) handleFileEvent(event fsnotify.Event) {
	fileName := filepath.Base(event.Name)
	if strings.HasPrefix(fileName, ".") || strings.HasSuffix(fileName, ".tmp") {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			ms.watcher.Add(event.Name)
			ms.logger.WithField("directory", event.Name).Debug("Watching new directory")
			return
		}
	}

	if !ms.probe.IsAudioFile(event.Name) {
		return
	}

	switch {
	case event.Has(fsnotify.Write) || event.Has(fsnotify.Create):
		go func(name string) {
			select {
			case <-time.After(writeSettleDelay):
				ms.handleChangedFile(name)
			case <-ms.ctx.Done():
			}
		}(event.Name)

	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		ms.handleRemovedFile(event.Name)
	}
}

// decksPlaying returns the decks whose loaded track is filePath
func (ms *MixerServer) decksPlaying(filePath string) []*player.DeckState {
	abs, err := filepath.Abs(filePath)
	if err != nil {
		return nil
	}
	var decks []*player.DeckState
	for _, id := range models.Decks {
		deck, err := ms.mixer.Deck(id)
		if err == nil && deck.Track != nil && deck.Track.FilePath == abs {
			decks = append(decks, deck)
		}
	}
	return decks
}

// handleChangedFile refreshes and re-analyzes a loaded track whose file was
// rewritten. A tempo the DJ typed at load time survives the new tags.
func (ms *MixerServer) handleChangedFile(filePath string) {
	if ms.ctx.Err() != nil {
		return
	}

	for _, deck := range ms.decksPlaying(filePath) {
		ms.analyzer.Forget(deck.Track)

		track, err := ms.probe.ProbeFile(deck.Track.FilePath)
		if err != nil {
			ms.logger.WithError(err).WithField("file_path", filePath).Warn("Could not re-read changed track")
			continue
		}
		if override := deck.Track.BPMOverride; override > 0 {
			track.BPM = override
			track.BPMOverride = override
		}

		if err := ms.mixer.RefreshTrack(deck.ID, deck.Generation, track); err != nil {
			// Reloaded while we were probing
			continue
		}

		ms.logger.WithFields(logrus.Fields{
			"deck":      deck.ID,
			"file_path": filePath,
		}).Info("Loaded track changed on disk, analyzing again")
		ms.loader.Start(ms.ctx, deck.ID, deck.Generation, track)
	}
}

// handleRemovedFile flags decks whose file disappeared. Playback keeps
// whatever the audio host has buffered.
func (ms *MixerServer) handleRemovedFile(filePath string) {
	for _, deck := range ms.decksPlaying(filePath) {
		err := ms.mixer.SetAnalysisError(deck.ID, deck.Generation, errors.New("track file was removed from the library"))
		if err != nil {
			continue
		}
		ms.logger.WithFields(logrus.Fields{
			"deck":      deck.ID,
			"file_path": filePath,
		}).Warn("Loaded track removed from library")
	}
}

// stopFileWatcher closes the watcher (idempotent).
func (ms *MixerServer) stopFileWatcher() {
	if ms.watcher != nil {
		ms.watcher.Close()
	}
}
