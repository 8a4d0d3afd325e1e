package devwatch

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastConfig() Config {
	return Config{PollInterval: 5 * time.Millisecond, MaxPollInterval: 20 * time.Millisecond}
}

func TestWaitForDevice_AlreadyPresent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "video0")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, WaitForDevice(ctx, path, fastConfig(), quietLogger()))
}

func TestWaitForDevice_CreatedLater(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "video0")

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = os.WriteFile(path, nil, 0o644)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, WaitForDevice(ctx, path, fastConfig(), quietLogger()))
	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestWaitForDevice_PollsWhenDirMissing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "dev")
	path := filepath.Join(dir, "video0")

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = os.MkdirAll(dir, 0o755)
		_ = os.WriteFile(path, nil, 0o644)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, WaitForDevice(ctx, path, fastConfig(), quietLogger()))
}

func TestWaitForDevice_Timeout(t *testing.T) {
	tests := []struct {
		name string
		path func(dir string) string
	}{
		{"watched", func(dir string) string { return filepath.Join(dir, "video9") }},
		{"polled", func(dir string) string { return filepath.Join(dir, "missing", "video9") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			err := WaitForDevice(ctx, tt.path(t.TempDir()), fastConfig(), quietLogger())
			assert.ErrorIs(t, err, context.DeadlineExceeded)
		})
	}
}

func TestCalculateBackoff(t *testing.T) {
	cfg := Config{PollInterval: 100 * time.Millisecond, MaxPollInterval: 2 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, 1600 * time.Millisecond},
		{6, 2 * time.Second},
		{40, 2 * time.Second},
	}
	for _, tt := range tests {
		got := calculateBackoff(tt.attempt, cfg)
		assert.Equal(t, tt.want, got, "attempt %d", tt.attempt)
	}
}

func TestCalculateBackoff_NeverExceedsCap(t *testing.T) {
	cfg := DefaultConfig()
	for attempt := 1; attempt <= 64; attempt++ {
		d := calculateBackoff(attempt, cfg)
		assert.Positive(t, d)
		assert.LessOrEqual(t, d, cfg.MaxPollInterval)
	}
}
