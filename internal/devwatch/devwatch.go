// Package devwatch waits for a device node to appear, for cameras that are
// plugged in or whose driver is loaded after the capture tool starts.
package devwatch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Config controls the polling fallback used when the parent directory
// cannot be watched.
type Config struct {
	PollInterval    time.Duration // first poll delay (default: 100ms)
	MaxPollInterval time.Duration // poll delay cap (default: 2s)
}

// DefaultConfig returns the default polling schedule.
func DefaultConfig() Config {
	return Config{
		PollInterval:    100 * time.Millisecond,
		MaxPollInterval: 2 * time.Second,
	}
}

// WaitForDevice returns once path exists or ctx is done. It watches the
// parent directory for the node's creation and falls back to polling with
// exponential backoff when the watch cannot be set up.
func WaitForDevice(ctx context.Context, path string, cfg Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.MaxPollInterval < cfg.PollInterval {
		cfg.MaxPollInterval = cfg.PollInterval
	}
	path = filepath.Clean(path)

	if exists(path) {
		return nil
	}
	logger.Info("devwatch: waiting for device", "path", path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("devwatch: watcher unavailable, polling", "error", err)
		return poll(ctx, path, cfg, logger)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		logger.Warn("devwatch: cannot watch directory, polling",
			"dir", filepath.Dir(path),
			"error", err,
		)
		return poll(ctx, path, cfg, logger)
	}
	// The node may have appeared between the first check and Add.
	if exists(path) {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return poll(ctx, path, cfg, logger)
			}
			if filepath.Clean(ev.Name) == path && ev.Has(fsnotify.Create) {
				logger.Info("devwatch: device appeared", "path", path)
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return poll(ctx, path, cfg, logger)
			}
			logger.Warn("devwatch: watch error, polling", "error", err)
			return poll(ctx, path, cfg, logger)
		}
	}
}

func poll(ctx context.Context, path string, cfg Config, logger *slog.Logger) error {
	for attempt := 1; ; attempt++ {
		if exists(path) {
			logger.Info("devwatch: device appeared", "path", path, "polls", attempt-1)
			return nil
		}
		delay := calculateBackoff(attempt, cfg)
		logger.Debug("devwatch: device not present", "path", path, "attempt", attempt, "delay", delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// calculateBackoff returns PollInterval * 2^(attempt-1), capped at
// MaxPollInterval.
func calculateBackoff(attempt int, cfg Config) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 31 {
		return cfg.MaxPollInterval
	}
	delay := cfg.PollInterval * time.Duration(1<<uint(attempt-1))
	if delay > cfg.MaxPollInterval || delay <= 0 {
		delay = cfg.MaxPollInterval
	}
	return delay
}

// exists treats any stat result other than not-exist as present; open
// reports the real error.
func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, fs.ErrNotExist)
}
