package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// reloadOps are the events that can leave new content at the config path:
// in-place writes, and temp-file renames that land as a Create.
const reloadOps = fsnotify.Write | fsnotify.Create

// Watch calls onChange with the reloaded Config whenever the file at path
// changes, until ctx is cancelled. The parent directory is watched so the
// watch survives editors that replace the file. A reload that fails to parse
// is logged and onChange is not called.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	target, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config: resolve %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("config: watch %s: %w", filepath.Dir(target), err)
	}

	logger := slog.Default().With("logger", "Config")
	logger.Info("Watching config for changes", "path", target)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || ev.Op&reloadOps == 0 {
				continue
			}

			cfg, err := LoadFile(target)
			if err != nil {
				logger.Warn("Config reload failed, keeping current settings", "path", target, "error", err)
				continue
			}
			logger.Debug("Config file changed", "path", target, "op", ev.Op.String())
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("Config watcher error", "error", err)
		}
	}
}
