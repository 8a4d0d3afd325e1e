// Package sink provides triggercapture.FrameSink implementations that
// persist frames.
package sink

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	triggercapture "github.com/e7canasta/trigger-capture"
	"gopkg.in/yaml.v3"
)

// ManifestFile is written next to the raw frames on Close.
const ManifestFile = "manifest.yaml"

// Manifest describes a directory of raw frames.
type Manifest struct {
	SessionID   string          `yaml:"session_id,omitempty"`
	Device      string          `yaml:"device,omitempty"`
	Width       int             `yaml:"width"`
	Height      int             `yaml:"height"`
	PixelFormat string          `yaml:"pixel_format"`
	Frames      []ManifestEntry `yaml:"frames"`
}

// ManifestEntry is one saved frame.
type ManifestEntry struct {
	File           string    `yaml:"file"`
	Seq            uint64    `yaml:"seq"`
	Index          int       `yaml:"buffer_index"`
	Bytes          int       `yaml:"bytes"`
	DeviceSequence uint32    `yaml:"device_sequence"`
	Timestamp      time.Time `yaml:"timestamp"`
	IntervalMS     int64     `yaml:"interval_ms"`
	TraceID        string    `yaml:"trace_id"`
}

// RawFileSink writes every frame's bytes to frameNNNNN.raw in a directory,
// numbered from zero in delivery order.
type RawFileSink struct {
	dir string
	log *slog.Logger

	mu       sync.Mutex
	next     int
	manifest Manifest
}

var _ triggercapture.FrameSink = (*RawFileSink)(nil)

// NewRawFileSink creates dir if needed.
func NewRawFileSink(dir string, logger *slog.Logger) (*RawFileSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("sink: output directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sink: create output directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RawFileSink{dir: dir, log: logger}, nil
}

// Describe records session details for the manifest.
func (s *RawFileSink) Describe(sessionID, device string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manifest.SessionID = sessionID
	s.manifest.Device = device
}

// FrameName returns the file name of the n-th frame.
func FrameName(n int) string {
	return fmt.Sprintf("frame%05d.raw", n)
}

// Consume writes f.Data to the next frame file.
func (s *RawFileSink) Consume(f triggercapture.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := FrameName(s.next)
	if err := os.WriteFile(filepath.Join(s.dir, name), f.Data, 0o644); err != nil {
		return fmt.Errorf("sink: write %s: %w", name, err)
	}
	s.next++

	if s.manifest.Width == 0 {
		s.manifest.Width = f.Width
		s.manifest.Height = f.Height
		s.manifest.PixelFormat = f.PixelFormat.String()
	}
	s.manifest.Frames = append(s.manifest.Frames, ManifestEntry{
		File:           name,
		Seq:            f.Seq,
		Index:          f.Index,
		Bytes:          len(f.Data),
		DeviceSequence: f.DeviceSequence,
		Timestamp:      f.Timestamp,
		IntervalMS:     f.Interval.Milliseconds(),
		TraceID:        f.TraceID,
	})
	s.log.Debug("sink: frame written", "file", name, "bytes", len(f.Data))
	return nil
}

// Written returns the number of frame files written.
func (s *RawFileSink) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Close writes the manifest.
func (s *RawFileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := yaml.Marshal(&s.manifest)
	if err != nil {
		return fmt.Errorf("sink: encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, ManifestFile), data, 0o644); err != nil {
		return fmt.Errorf("sink: write manifest: %w", err)
	}
	s.log.Info("sink: manifest written", "dir", s.dir, "frames", len(s.manifest.Frames))
	return nil
}

// ReadManifest loads the manifest of a frame directory.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("sink: decode manifest: %w", err)
	}
	return &m, nil
}
