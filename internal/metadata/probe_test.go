package metadata

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/sirupsen/logrus"
)

func newTestProbe() *Probe {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel) // Reduce noise in tests
	return NewProbe([]string{".mp3", ".FLAC", ".wav"}, logger)
}

// writeWAV writes seconds of silence as 16-bit mono PCM
func writeWAV(t *testing.T, path string, sampleRate int, seconds float64) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create wav: %v", err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           make([]int, int(float64(sampleRate)*seconds)),
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("Failed to write samples: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Failed to finish wav: %v", err)
	}
}

func TestProbeWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Warmup Loop.wav")
	writeWAV(t, path, 8000, 2.5)

	track, err := newTestProbe().ProbeFile(path)
	if err != nil {
		t.Fatalf("ProbeFile() unexpected error: %v", err)
	}
	if track.Title != "Warmup Loop" {
		t.Errorf("Expected title from filename, got %q", track.Title)
	}
	if math.Abs(track.Duration-2.5) > 0.01 {
		t.Errorf("Expected duration 2.5s, got %v", track.Duration)
	}
	if track.FileSize == 0 || track.FilePath != path {
		t.Errorf("Unexpected file info: %+v", track)
	}
	if track.ID != TrackID(path) {
		t.Errorf("Expected stable track ID, got %s", track.ID)
	}
}

func TestWAVDurationIsExact(t *testing.T) {
	tests := []struct {
		name       string
		sampleRate int
		channels   int
		frames     int
		metadata   *wav.Metadata
		want       float64
	}{
		{name: "mono", sampleRate: 8000, channels: 1, frames: 16000, want: 2},
		{name: "stereo", sampleRate: 44100, channels: 2, frames: 44100, want: 1},
		{name: "list chunk", sampleRate: 8000, channels: 1, frames: 12000,
			metadata: &wav.Metadata{Artist: "Selector", Title: "Long Tagged Intro"}, want: 1.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "exact.wav")
			f, err := os.Create(path)
			if err != nil {
				t.Fatalf("Failed to create wav: %v", err)
			}
			enc := wav.NewEncoder(f, tt.sampleRate, 16, tt.channels, 1)
			enc.Metadata = tt.metadata
			buf := &audio.IntBuffer{
				Format:         &audio.Format{NumChannels: tt.channels, SampleRate: tt.sampleRate},
				Data:           make([]int, tt.frames*tt.channels),
				SourceBitDepth: 16,
			}
			if err := enc.Write(buf); err != nil {
				t.Fatalf("Failed to write samples: %v", err)
			}
			if err := enc.Close(); err != nil {
				t.Fatalf("Failed to finish wav: %v", err)
			}
			f.Close()

			got, err := newTestProbe().durationWAV(path)
			if err != nil {
				t.Fatalf("durationWAV() unexpected error: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("durationWAV() = %.9f, want %v", got, tt.want)
			}
		})
	}
}

func TestProbeRejectsUnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	os.WriteFile(path, []byte("not audio"), 0644)

	if _, err := newTestProbe().ProbeFile(path); err == nil {
		t.Error("Expected error for unsupported format")
	}
}

func TestProbeMissingFile(t *testing.T) {
	if _, err := newTestProbe().ProbeFile(filepath.Join(t.TempDir(), "gone.mp3")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestParseBPM(t *testing.T) {
	tests := []struct {
		name   string
		raw    map[string]interface{}
		want   float64
		wantOK bool
	}{
		{"id3v2.4 text", map[string]interface{}{"TBPM": "128"}, 128, true},
		{"id3v2.2 text", map[string]interface{}{"TBP": "95"}, 95, true},
		{"fractional", map[string]interface{}{"TBPM": " 127.5 "}, 127.5, true},
		{"null padded", map[string]interface{}{"TBPM": "140\x00"}, 140, true},
		{"vorbis comment", map[string]interface{}{"bpm": "174"}, 174, true},
		{"mp4 integer", map[string]interface{}{"tmpo": 122}, 122, true},
		{"garbage", map[string]interface{}{"TBPM": "fast"}, 0, false},
		{"zero", map[string]interface{}{"TBPM": "0"}, 0, false},
		{"absurd", map[string]interface{}{"TBPM": "12000"}, 0, false},
		{"falls through to next key", map[string]interface{}{"TBPM": "", "bpm": "100"}, 100, true},
		{"missing", map[string]interface{}{"TIT2": "Song"}, 0, false},
		{"nil map", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseBPM(tt.raw)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseBPM() = (%v, %v), want (%v, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestIsAudioFile(t *testing.T) {
	p := newTestProbe()

	tests := []struct {
		path string
		want bool
	}{
		{"a.mp3", true},
		{"b.MP3", true},
		{"c.flac", true},
		{"d.wav", true},
		{"e.ogg", false},
		{"noext", false},
	}

	for _, tt := range tests {
		if got := p.IsAudioFile(tt.path); got != tt.want {
			t.Errorf("IsAudioFile(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestContentType(t *testing.T) {
	if got := ContentType("x.flac"); got != "audio/flac" {
		t.Errorf("Expected audio/flac, got %s", got)
	}
	if got := ContentType("x.bin"); got != "application/octet-stream" {
		t.Errorf("Expected octet-stream, got %s", got)
	}
}
