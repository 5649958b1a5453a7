package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// reloadDelay lets editors finish writing before the file is read back
const reloadDelay = 250 * time.Millisecond

// Watch reloads configPath whenever it changes and passes every config that
// parses and validates to onChange. Invalid edits are logged and skipped.
// The watcher stops when ctx is cancelled.
func Watch(ctx context.Context, configPath string, logger *logrus.Logger, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}

	// Watch the directory: editors often replace the file instead of writing it.
	dir := filepath.Dir(configPath)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go watchLoop(ctx, watcher, configPath, logger, onChange)

	logger.WithField("config_path", configPath).Info("Config watcher started")
	return nil
}

func watchLoop(ctx context.Context, watcher *fsnotify.Watcher, configPath string, logger *logrus.Logger, onChange func(*Config)) {
	defer watcher.Close()

	target := filepath.Clean(configPath)
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				pending = time.After(reloadDelay)
			}

		case <-pending:
			pending = nil
			cfg, err := reload(configPath)
			if err != nil {
				logger.WithError(err).Warn("Ignoring config change")
				continue
			}
			logger.WithField("config_path", configPath).Info("Configuration reloaded")
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.WithError(err).Error("Config watcher error")
		}
	}
}

// reload reads an existing config file without creating one
func reload(configPath string) (*Config, error) {
	cfg := DefaultConfig()
	if err := decodeFile(configPath, cfg); err != nil {
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
