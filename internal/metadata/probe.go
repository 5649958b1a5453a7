package metadata

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"crossfade/pkg/models"

	"github.com/dhowden/tag"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
	"github.com/mewkiz/flac"
	"github.com/sirupsen/logrus"
	"github.com/tcolgate/mp3"
)

// bpmKeys are the raw tag keys that carry a tempo: ID3v2.3/2.4, ID3v2.2,
// Vorbis comments and MP4.
var bpmKeys = []string{"TBPM", "TBP", "bpm", "BPM", "tmpo"}

// Probe reads tags and container headers of local audio files. It never
// decodes audio samples.
type Probe struct {
	supportedFormats []string
	logger           *logrus.Logger
}

// NewProbe creates a probe accepting the given extensions (".mp3", ...)
func NewProbe(supportedFormats []string, logger *logrus.Logger) *Probe {
	if logger == nil {
		logger = logrus.New()
	}
	formats := make([]string, len(supportedFormats))
	for i, f := range supportedFormats {
		formats[i] = strings.ToLower(f)
	}
	return &Probe{
		supportedFormats: formats,
		logger:           logger,
	}
}

// ProbeFile reads title, artist, album, duration and tagged BPM of a file.
// Missing tags fall back to the file name; a failed duration is left at 0.
func (p *Probe) ProbeFile(filePath string) (*models.Track, error) {
	if !p.IsAudioFile(filePath) {
		return nil, fmt.Errorf("unsupported format: %s", filepath.Ext(filePath))
	}

	startTime := time.Now()

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat audio file: %w", err)
	}

	duration, err := p.calculateDuration(filePath)
	if err != nil {
		p.logger.WithFields(logrus.Fields{
			"filePath": filePath,
			"error":    err.Error(),
		}).Warn("Failed to calculate duration, setting to 0")
		duration = 0
	}

	name := strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
	track := &models.Track{
		ID:       TrackID(filePath),
		Title:    name,
		Artist:   "Unknown Artist",
		Album:    "Unknown Album",
		Duration: duration,
		FilePath: filePath,
		FileSize: stat.Size(),
	}

	metadata, err := tag.ReadFrom(file)
	if err != nil {
		p.logger.WithFields(logrus.Fields{
			"filePath": filePath,
			"error":    err.Error(),
		}).Debug("No readable tags, using filename")
		return track, nil
	}

	if title := metadata.Title(); title != "" {
		track.Title = title
	}
	if artist := metadata.Artist(); artist != "" {
		track.Artist = artist
	}
	if album := metadata.Album(); album != "" {
		track.Album = album
	}
	if bpm, ok := ParseBPM(metadata.Raw()); ok {
		track.BPM = bpm
	}

	p.logger.WithFields(logrus.Fields{
		"filePath":       filePath,
		"title":          track.Title,
		"duration":       duration,
		"bpm":            track.BPM,
		"processingTime": time.Since(startTime),
	}).Debug("Probed audio file")

	return track, nil
}

// TrackID derives a stable ID from the file's absolute path, so reloading a
// file hits the analysis cache.
func TrackID(filePath string) string {
	if abs, err := filepath.Abs(filePath); err == nil {
		filePath = abs
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+filePath)).String()
}

// ParseBPM finds a tempo in raw tag frames. Values may be text ("128",
// "127.5") or numbers depending on the container.
func ParseBPM(raw map[string]interface{}) (float64, bool) {
	for _, key := range bpmKeys {
		value, ok := raw[key]
		if !ok {
			continue
		}

		var bpm float64
		switch v := value.(type) {
		case string:
			parsed, err := strconv.ParseFloat(strings.TrimSpace(strings.Trim(v, "\x00")), 64)
			if err != nil {
				continue
			}
			bpm = parsed
		case int:
			bpm = float64(v)
		case int64:
			bpm = float64(v)
		case float64:
			bpm = v
		default:
			continue
		}

		if bpm > 0 && bpm < 1000 {
			return bpm, true
		}
	}
	return 0, false
}

// calculateDuration returns the duration of an audio file in seconds
func (p *Probe) calculateDuration(filePath string) (float64, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".mp3":
		return p.durationMP3(filePath)
	case ".flac":
		return p.durationFLAC(filePath)
	case ".wav":
		return p.durationWAV(filePath)
	default:
		return 0, fmt.Errorf("unsupported format: %s", ext)
	}
}

// MP3 duration by walking frame headers; falls back to a bitrate estimate
// when no frame decodes.
func (p *Probe) durationMP3(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := mp3.NewDecoder(f)
	var total time.Duration
	var skipped int
	frames := 0
	for {
		var fr mp3.Frame
		if err := dec.Decode(&fr, &skipped); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if frames == 0 {
				return estimateFromFileSize(f, 192000)
			}
			break // partial decode; use what we have
		}
		total += fr.Duration()
		frames++
	}
	return total.Seconds(), nil
}

// FLAC duration via STREAMINFO metadata block
func (p *Probe) durationFLAC(path string) (float64, error) {
	stream, err := flac.ParseFile(path)
	if err != nil {
		return 0, err
	}
	defer stream.Close()

	si := stream.Info
	if si.NSamples > 0 && si.SampleRate > 0 {
		return float64(si.NSamples) / float64(si.SampleRate), nil
	}
	return 0, fmt.Errorf("flac stream missing sample info")
}

// WAV duration from the data chunk size. The RIFF size also covers the
// fmt and LIST chunks, so it overstates the length.
func (p *Probe) durationWAV(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, fmt.Errorf("invalid wav file")
	}
	if err := dec.FwdToPCM(); err != nil {
		return 0, fmt.Errorf("failed to find wav data chunk: %w", err)
	}
	if err := dec.Err(); err != nil {
		return 0, fmt.Errorf("failed to read wav headers: %w", err)
	}

	frameSize := int64(dec.BitDepth/8) * int64(dec.NumChans)
	if frameSize <= 0 || dec.SampleRate == 0 {
		return 0, fmt.Errorf("invalid wav header")
	}
	frames := dec.PCMLen() / frameSize
	return float64(frames) / float64(dec.SampleRate), nil
}

func estimateFromFileSize(f *os.File, bitrate int) (float64, error) {
	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return float64(st.Size()*8) / float64(bitrate), nil
}

// IsAudioFile checks if a file is a supported audio format
func (p *Probe) IsAudioFile(filePath string) bool {
	ext := strings.ToLower(filepath.Ext(filePath))
	for _, format := range p.supportedFormats {
		if ext == format {
			return true
		}
	}
	return false
}

// ContentType returns the MIME type for an audio file
func ContentType(filePath string) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".mp3":
		return "audio/mpeg"
	case ".flac":
		return "audio/flac"
	case ".wav":
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}
