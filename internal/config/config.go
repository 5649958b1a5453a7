package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"crossfade/internal/beatgrid"
	"crossfade/internal/beatsync"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Logging  LoggingConfig  `toml:"logging"`
	Mixer    MixerConfig    `toml:"mixer"`
	Analysis AnalysisConfig `toml:"analysis"`
	Music    MusicConfig    `toml:"music"`
	Ngrok    NgrokConfig    `toml:"ngrok"`
	Auth     AuthConfig     `toml:"auth"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Port                 string `toml:"port"`
	Host                 string `toml:"host"`
	StaticDir            string `toml:"static_dir"`
	EnableCORS           bool   `toml:"enable_cors"`
	ReadTimeout          int    `toml:"read_timeout_seconds"`
	ClientTimeoutSeconds int    `toml:"client_timeout_seconds"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level          string `toml:"level"`
	Format         string `toml:"format"`
	File           string `toml:"file"`
	RequestLogging bool   `toml:"request_logging"`
}

// MixerConfig tunes beat sync. It is reloaded while the server runs.
type MixerConfig struct {
	SearchWindowStart float64 `toml:"search_window_start"`
	SearchWindowEnd   float64 `toml:"search_window_end"`
	SearchStep        float64 `toml:"search_step"`
	MatchTolerance    float64 `toml:"match_tolerance"`
	SampleCount       int     `toml:"sample_count"`
	StrictSampling    bool    `toml:"strict_sampling"`
	SnapThreshold     float64 `toml:"snap_threshold"`
	BeatsPerBar       int     `toml:"beats_per_bar"`
}

// AnalysisConfig points at the external beat analysis service
type AnalysisConfig struct {
	ServiceURL      string  `toml:"service_url"`
	TimeoutSeconds  int     `toml:"timeout_seconds"`
	DefaultTempo    float64 `toml:"default_tempo"`
	UseTagBPM       bool    `toml:"use_tag_bpm"`
	CacheTTLMinutes int     `toml:"cache_ttl_minutes"`
}

// MusicConfig contains local track configuration
type MusicConfig struct {
	LibraryPath      string   `toml:"library_path"`
	SupportedFormats []string `toml:"supported_formats"`
}

// NgrokConfig contains ngrok tunnel configuration
type NgrokConfig struct {
	Enabled      bool   `toml:"enabled"`
	AuthToken    string `toml:"auth_token"`
	Domain       string `toml:"domain"`
	EnableAuth   bool   `toml:"enable_auth"`
	AuthProvider string `toml:"auth_provider"`
}

// AuthConfig protects the mixer controls with a shared key
type AuthConfig struct {
	Enabled         bool   `toml:"enabled"`
	ControlKey      string `toml:"control_key"` // plaintext or bcrypt hash
	SessionDuration string `toml:"session_duration"`
	SecureCookies   bool   `toml:"secure_cookies"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	align := beatgrid.DefaultAlignOptions()
	return &Config{
		Server: ServerConfig{
			Port:                 "8080",
			Host:                 "0.0.0.0",
			StaticDir:            "./static",
			EnableCORS:           true,
			ReadTimeout:          30,
			ClientTimeoutSeconds: 30,
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "text",
			File:           "",
			RequestLogging: true,
		},
		Mixer: MixerConfig{
			SearchWindowStart: align.WindowStart,
			SearchWindowEnd:   align.WindowEnd,
			SearchStep:        align.Step,
			MatchTolerance:    align.Tolerance,
			SampleCount:       align.SampleCount,
			StrictSampling:    false,
			SnapThreshold:     beatsync.DefaultSnapThreshold,
			BeatsPerBar:       4,
		},
		Analysis: AnalysisConfig{
			ServiceURL:      "",
			TimeoutSeconds:  30,
			DefaultTempo:    120,
			UseTagBPM:       true,
			CacheTTLMinutes: 60,
		},
		Music: MusicConfig{
			LibraryPath:      "./music",
			SupportedFormats: []string{".mp3", ".flac", ".wav"},
		},
		Ngrok: NgrokConfig{
			Enabled:      false,
			AuthToken:    "",
			Domain:       "",
			EnableAuth:   false,
			AuthProvider: "google",
		},
		Auth: AuthConfig{
			Enabled:         false,
			ControlKey:      "",
			SessionDuration: "12h",
			SecureCookies:   false,
		},
	}
}

// LoadConfig loads configuration from a TOML file, then applies .env and
// environment overrides.
func LoadConfig(configPath string) (*Config, error) {
	// Start with defaults
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		// Config file doesn't exist, create it with defaults
		if err := cfg.SaveToFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config file: %w", err)
		}
		fmt.Printf("Created default configuration file at: %s\n", configPath)
	} else if err := decodeFile(configPath, cfg); err != nil {
		return nil, err
	}

	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func decodeFile(configPath string, cfg *Config) error {
	if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// LoadDotEnv loads variables from a .env file if there is one. Variables
// already set in the environment win.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides settings from CROSSFADE_* variables and NGROK_AUTHTOKEN
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("CROSSFADE_PORT", &c.Server.Port)
	str("CROSSFADE_HOST", &c.Server.Host)
	str("CROSSFADE_LOG_LEVEL", &c.Logging.Level)
	str("CROSSFADE_LOG_FORMAT", &c.Logging.Format)
	str("CROSSFADE_MUSIC_PATH", &c.Music.LibraryPath)
	str("CROSSFADE_ANALYSIS_URL", &c.Analysis.ServiceURL)
	str("CROSSFADE_CONTROL_KEY", &c.Auth.ControlKey)
	str("NGROK_AUTHTOKEN", &c.Ngrok.AuthToken)

	if v, ok := lookup("CROSSFADE_DEFAULT_BPM"); ok && v != "" {
		bpm, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("CROSSFADE_DEFAULT_BPM: %w", err)
		}
		c.Analysis.DefaultTempo = bpm
	}
	if v, ok := lookup("CROSSFADE_NGROK"); ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CROSSFADE_NGROK: %w", err)
		}
		c.Ngrok.Enabled = enabled
	}
	return nil
}

// SaveToFile saves the configuration to a TOML file
func (c *Config) SaveToFile(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	header := `# Crossfade Mixer Configuration
# Settings under [mixer] are picked up while the server runs.
# Environment variables (CROSSFADE_*) and a .env file override this file.

`
	if _, err := file.WriteString(header); err != nil {
		return fmt.Errorf("failed to write config header: %w", err)
	}

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	if err := c.Mixer.Validate(); err != nil {
		return err
	}

	if !(c.Analysis.DefaultTempo > 0) {
		return fmt.Errorf("analysis default tempo must be positive")
	}
	if c.Analysis.TimeoutSeconds <= 0 {
		return fmt.Errorf("analysis timeout must be positive")
	}
	if c.Analysis.CacheTTLMinutes < 0 {
		return fmt.Errorf("analysis cache ttl cannot be negative")
	}

	if len(c.Music.SupportedFormats) == 0 {
		return fmt.Errorf("at least one supported audio format must be specified")
	}

	if c.Ngrok.Enabled && c.Ngrok.AuthToken == "" {
		return fmt.Errorf("ngrok is enabled but no auth token is set (use NGROK_AUTHTOKEN)")
	}

	return nil
}

// Validate checks the sync tuning
func (m MixerConfig) Validate() error {
	if err := m.AlignOptions().Validate(); err != nil {
		return fmt.Errorf("invalid mixer search settings: %w", err)
	}
	if !(m.SnapThreshold >= 0) {
		return fmt.Errorf("mixer snap threshold cannot be negative")
	}
	if m.BeatsPerBar <= 0 {
		return fmt.Errorf("mixer beats per bar must be positive")
	}
	return nil
}

// AlignOptions converts the tuning into alignment search options
func (m MixerConfig) AlignOptions() beatgrid.AlignOptions {
	return beatgrid.AlignOptions{
		WindowStart: m.SearchWindowStart,
		WindowEnd:   m.SearchWindowEnd,
		Step:        m.SearchStep,
		Tolerance:   m.MatchTolerance,
		SampleCount: m.SampleCount,
		Strict:      m.StrictSampling,
	}
}

// SyncOptions converts the tuning into sync controller options
func (m MixerConfig) SyncOptions() beatsync.Options {
	return beatsync.Options{
		Align:         m.AlignOptions(),
		SnapThreshold: m.SnapThreshold,
	}
}

// GetAddress returns the full server address
func (c *Config) GetAddress() string {
	return c.Server.Host + ":" + c.Server.Port
}

// IsFormatSupported checks if an audio format is supported
func (c *Config) IsFormatSupported(format string) bool {
	for _, supported := range c.Music.SupportedFormats {
		if strings.EqualFold(supported, format) {
			return true
		}
	}
	return false
}
