package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected defaults to validate, got %v", err)
	}

	opts := cfg.Mixer.SyncOptions()
	if opts.Align.WindowStart != -2 || opts.Align.WindowEnd != 2 || opts.Align.Step != 0.01 {
		t.Errorf("Unexpected default search window %+v", opts.Align)
	}
	if opts.Align.Tolerance != 0.02 || opts.Align.SampleCount != 10 {
		t.Errorf("Unexpected default matching %+v", opts.Align)
	}
	if opts.SnapThreshold != 0.1 {
		t.Errorf("Expected snap threshold 0.1, got %v", opts.SnapThreshold)
	}
	if cfg.Analysis.DefaultTempo != 120 {
		t.Errorf("Expected default tempo 120, got %v", cfg.Analysis.DefaultTempo)
	}
}

func TestLoadConfigCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "config.toml")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() unexpected error: %v", err)
	}
	if cfg.Server.Port == "" {
		t.Error("Expected default port")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Expected config file to be created: %v", err)
	}
	if !strings.HasPrefix(string(data), "# Crossfade Mixer Configuration") {
		t.Error("Expected header comment in created config")
	}
	if !strings.Contains(string(data), "[mixer]") {
		t.Error("Expected [mixer] section in created config")
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[server]
port = "9090"
host = "127.0.0.1"

[mixer]
search_window_start = -1.0
search_window_end = 1.0
search_step = 0.005
match_tolerance = 0.03
sample_count = 16
snap_threshold = 0.05
beats_per_bar = 4
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() unexpected error: %v", err)
	}
	if cfg.GetAddress() != "127.0.0.1:9090" {
		t.Errorf("Expected 127.0.0.1:9090, got %s", cfg.GetAddress())
	}
	align := cfg.Mixer.AlignOptions()
	if align.WindowStart != -1 || align.Step != 0.005 || align.SampleCount != 16 {
		t.Errorf("Mixer settings not loaded: %+v", align)
	}
	// untouched sections keep their defaults
	if cfg.Analysis.DefaultTempo != 120 {
		t.Errorf("Expected default tempo to survive, got %v", cfg.Analysis.DefaultTempo)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	os.WriteFile(path, []byte("[mixer]\nsearch_step = 0.0\n"), 0644)

	if _, err := LoadConfig(path); err == nil {
		t.Error("Expected error for zero search step")
	}

	os.WriteFile(path, []byte("[server\nport = "), 0644)
	if _, err := LoadConfig(path); err == nil {
		t.Error("Expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"empty port", func(c *Config) { c.Server.Port = "" }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"inverted window", func(c *Config) { c.Mixer.SearchWindowStart = 3 }, true},
		{"negative tolerance", func(c *Config) { c.Mixer.MatchTolerance = -0.01 }, true},
		{"no samples", func(c *Config) { c.Mixer.SampleCount = 0 }, true},
		{"negative snap", func(c *Config) { c.Mixer.SnapThreshold = -1 }, true},
		{"zero snap", func(c *Config) { c.Mixer.SnapThreshold = 0 }, false},
		{"zero beats per bar", func(c *Config) { c.Mixer.BeatsPerBar = 0 }, true},
		{"zero default tempo", func(c *Config) { c.Analysis.DefaultTempo = 0 }, true},
		{"no formats", func(c *Config) { c.Music.SupportedFormats = nil }, true},
		{"ngrok without token", func(c *Config) { c.Ngrok.Enabled = true }, true},
		{"ngrok with token", func(c *Config) { c.Ngrok.Enabled = true; c.Ngrok.AuthToken = "tok" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"CROSSFADE_PORT":         "7000",
		"CROSSFADE_ANALYSIS_URL": "http://analyzer:5000",
		"CROSSFADE_DEFAULT_BPM":  "128",
		"CROSSFADE_NGROK":        "true",
		"NGROK_AUTHTOKEN":        "secret",
		"CROSSFADE_HOST":         "",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("ApplyEnv() unexpected error: %v", err)
	}
	if cfg.Server.Port != "7000" {
		t.Errorf("Expected port 7000, got %s", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Expected empty variable to be ignored, got host %q", cfg.Server.Host)
	}
	if cfg.Analysis.ServiceURL != "http://analyzer:5000" || cfg.Analysis.DefaultTempo != 128 {
		t.Errorf("Analysis overrides not applied: %+v", cfg.Analysis)
	}
	if !cfg.Ngrok.Enabled || cfg.Ngrok.AuthToken != "secret" {
		t.Errorf("Ngrok overrides not applied: %+v", cfg.Ngrok)
	}

	env["CROSSFADE_DEFAULT_BPM"] = "fast"
	if err := DefaultConfig().ApplyEnv(lookup); err == nil {
		t.Error("Expected error for non-numeric BPM")
	}
}

func TestLoadDotEnvMissingFile(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Errorf("Expected missing .env to be ignored, got %v", err)
	}
}

func TestIsFormatSupported(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.IsFormatSupported(".MP3") {
		t.Error("Expected .MP3 to be supported")
	}
	if cfg.IsFormatSupported(".ogg") {
		t.Error("Expected .ogg to be unsupported")
	}
}

func TestWatchReloadsMixerSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := DefaultConfig().SaveToFile(path); err != nil {
		t.Fatal(err)
	}

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	if err := Watch(ctx, path, logger, func(c *Config) { changes <- c }); err != nil {
		t.Fatalf("Watch() unexpected error: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Mixer.SnapThreshold = 0.25
	if err := cfg.SaveToFile(path); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-changes:
		if got.Mixer.SnapThreshold != 0.25 {
			t.Errorf("Expected reloaded snap threshold 0.25, got %v", got.Mixer.SnapThreshold)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for config reload")
	}
}
