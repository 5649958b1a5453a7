package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"crossfade/internal/config"
	"crossfade/internal/server"

	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "./config.toml", "path to the TOML configuration file")
	flag.Parse()

	// Initialize basic logger for startup
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("Error loading configuration")
	}

	closeLog, err := configureLogger(logger, cfg.Logging)
	if err != nil {
		logger.WithError(err).Fatal("Error configuring logging")
	}
	defer closeLog()

	if _, err := os.Stat(cfg.Music.LibraryPath); os.IsNotExist(err) {
		logger.WithField("library_path", cfg.Music.LibraryPath).Warn("Music directory does not exist, only manually described tracks can be loaded")
	}

	mixerServer, err := server.NewMixerServer(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Error creating mixer server")
	}

	if key := mixerServer.GeneratedControlKey(); key != "" {
		logger.WithField("control_key", key).Warn("No control key configured, generated one for this run")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		err := config.Watch(ctx, *configPath, logger, func(reloaded *config.Config) {
			if err := mixerServer.ApplyMixerConfig(reloaded.Mixer); err != nil {
				logger.WithError(err).Warn("Ignoring reloaded mixer settings")
			}
		})
		if err != nil {
			logger.WithError(err).Warn("Config hot reload disabled")
		}
	}()

	if err := mixerServer.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Mixer server stopped")
	}
}

// configureLogger applies the [logging] section. The returned func closes
// the log file, if one was opened.
func configureLogger(logger *logrus.Logger, cfg config.LoggingConfig) (func(), error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	if cfg.File == "" {
		return func() {}, nil
	}

	file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logger.SetOutput(io.MultiWriter(os.Stdout, file))
	return func() { file.Close() }, nil
}
