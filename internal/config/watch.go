package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Watcher reloads the configuration file when it changes on disk.
type Watcher struct {
	path     string
	viper    *viper.Viper
	logger   *slog.Logger
	onChange func(*Config)
}

// NewWatcher returns a watcher for the file at path. onChange receives every
// successfully reloaded configuration; invalid edits are logged and skipped.
func NewWatcher(path string, v *viper.Viper, logger *slog.Logger, onChange func(*Config)) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{path: path, viper: v, logger: logger, onChange: onChange}
}

// Run watches until ctx is done. The containing directory is watched so
// that editors replacing the file by rename are noticed.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch dir %s: %w", dir, err)
	}
	target := filepath.Clean(w.path)
	w.logger.Info("watching config file", "path", target)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				continue
			}
			w.logger.Info("config change detected", "file", event.Name, "op", event.Op.String())
			cfg, err := Load(w.path, w.viper)
			if err == nil {
				err = cfg.Validate()
			}
			if err != nil {
				w.logger.Error("failed to reload config", "error", err)
				continue
			}
			w.onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}
