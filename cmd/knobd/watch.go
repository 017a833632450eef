package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ============================================================================
// Config hot reload
// ============================================================================
// Watches the config file and re-reads it on change. Only the log level can
// be applied live; every other change is logged as restart-required so an
// operator editing the file gets immediate feedback either way.
// ============================================================================

// configReloadDebounce lets an editor's burst of events settle before the
// file is re-read.
const configReloadDebounce = 250 * time.Millisecond

// configDiff describes what changed between two validated configs.
type configDiff struct {
	// LogLevel is non-nil when logging.level changed. It can be applied live.
	LogLevel *string

	// RestartRequired lists config sections whose changes only take effect
	// after a daemon restart.
	RestartRequired []string
}

func (d configDiff) empty() bool {
	return d.LogLevel == nil && len(d.RestartRequired) == 0
}

// diffConfigs compares two validated configs. Pure so it can be tested
// without a filesystem.
func diffConfigs(prev, next Config) configDiff {
	var d configDiff

	if prev.Logging.Level != next.Logging.Level {
		level := next.Logging.Level
		d.LogLevel = &level
	}
	if prev.IPC.SocketPath != next.IPC.SocketPath {
		d.RestartRequired = append(d.RestartRequired, "ipc.socket_path")
	}
	if prev.HTTP.Port != next.HTTP.Port {
		d.RestartRequired = append(d.RestartRequired, "http.port")
	}
	if prev.Daemon.UpdateHz != next.Daemon.UpdateHz {
		d.RestartRequired = append(d.RestartRequired, "daemon.update_hz")
	}
	if prev.Sink != next.Sink {
		d.RestartRequired = append(d.RestartRequired, "sink")
	}
	if !encodersEqual(prev.Encoders, next.Encoders) {
		d.RestartRequired = append(d.RestartRequired, "encoders")
	}

	return d
}

func encodersEqual(a, b []EncoderConfig) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// runConfigWatcher watches the config file until ctx is canceled, applying
// live-safe changes and warning about the rest. A config that fails to parse
// or validate is rejected and the previous one stays in effect.
func runConfigWatcher(ctx context.Context, path string, initial Config, levelVar *slog.LevelVar, logger *slog.Logger) error {
	abs, err := filepath.Abs(ExpandPath(path))
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory, not the file: editors and provisioning tools
	// replace config files by rename, which silently drops a watch held on
	// the file itself.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}

	logger.Info("config watcher running", "path", abs)

	current := initial

	var debounce *time.Timer
	var debounceCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}

			if debounce == nil {
				debounce = time.NewTimer(configReloadDebounce)
				debounceCh = debounce.C
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(configReloadDebounce)
			}

		case <-debounceCh:
			debounce = nil
			debounceCh = nil

			next, err := LoadConfigFile(abs)
			if err != nil {
				logger.Warn("config reload failed, keeping previous config", "error", err)
				continue
			}
			if err := next.Validate(); err != nil {
				logger.Warn("config reload rejected, keeping previous config", "error", err)
				continue
			}

			d := diffConfigs(current, next)
			if d.empty() {
				logger.Debug("config file rewritten without effective changes")
				current = next
				continue
			}

			if d.LogLevel != nil {
				// Validate accepted the level, so this parse cannot fail.
				if level, err := parseLogLevel(*d.LogLevel); err == nil {
					levelVar.Set(level.slogLevel())
					logger.Info("log level changed", "level", *d.LogLevel)
				}
			}
			for _, section := range d.RestartRequired {
				logger.Warn("config change requires restart to take effect", "section", section)
			}

			current = next

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", "error", err)
		}
	}
}
