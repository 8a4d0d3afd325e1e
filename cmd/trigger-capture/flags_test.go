package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	triggercapture "github.com/e7canasta/trigger-capture"
	"github.com/e7canasta/trigger-capture/internal/config"
)

// resolve runs the root command with args and returns the settings it would
// capture with.
func resolve(t *testing.T, args ...string) (*config.Settings, error) {
	t.Helper()
	var got *config.Settings
	cmd := newRootCmd(func(_ *cobra.Command, s *config.Settings) error {
		got = s
		return nil
	})
	cmd.SetArgs(append([]string{"--config", emptyConfig(t)}, args...))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	return got, err
}

// emptyConfig keeps a stray trigger-capture.yaml in the working directory
// out of the tests.
func emptyConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))
	return path
}

func TestFlags_Defaults(t *testing.T) {
	s, err := resolve(t)
	require.NoError(t, err)

	assert.Equal(t, "/dev/video0", s.Device)
	assert.Equal(t, "software", s.Trigger.Source)
	assert.Equal(t, "rising", s.Trigger.Activation)
	assert.Equal(t, 4, s.Buffers)
	assert.True(t, s.VerifyReopen)
}

func TestFlags_LastWinsWithinGroup(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		source     string
		activation string
	}{
		{"hardware line 0", []string{"--line0"}, "line0", "rising"},
		{"source last wins", []string{"--line0", "--software", "--line1"}, "line1", "rising"},
		{"back to software", []string{"--line1", "--software"}, "software", "rising"},
		{"activation last wins", []string{"--falling", "--high"}, "software", "high"},
		{"groups are independent", []string{"--low", "--line0", "--any"}, "line0", "any"},
		{"explicit false is ignored", []string{"--line0", "--line1=false"}, "line0", "rising"},
		{"device between flags", []string{"--falling", "/dev/video3", "--line1"}, "line1", "falling"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := resolve(t, tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.source, s.Trigger.Source)
			assert.Equal(t, tt.activation, s.Trigger.Activation)
		})
	}
}

func TestFlags_DevicePositional(t *testing.T) {
	s, err := resolve(t, "/dev/video2")
	require.NoError(t, err)
	assert.Equal(t, "/dev/video2", s.Device)

	_, err = resolve(t, "/dev/video2", "/dev/video3")
	assert.Error(t, err)
}

func TestFlags_BoundSettings(t *testing.T) {
	s, err := resolve(t,
		"--buffers", "2",
		"--pre-triggers", "0",
		"--pre-trigger-interval", "250ms",
		"--stream-on-settle", "0s",
		"--max-frames", "7",
		"--sink", "discard",
		"--metrics-addr", ":9464",
		"--mqtt-broker", "localhost:1883",
		"--wait-device", "3s",
		"--no-reopen",
		"--debug",
	)
	require.NoError(t, err)

	assert.Equal(t, 2, s.Buffers)
	assert.Equal(t, 0, s.PreTriggers)
	assert.Equal(t, 250*time.Millisecond, s.PreTriggerInterval)
	assert.Zero(t, s.StreamOnSettle)
	assert.Equal(t, 7, s.MaxFrames)
	assert.Equal(t, config.SinkDiscard, s.Output.Sink)
	assert.Equal(t, ":9464", s.Metrics.Addr)
	assert.Equal(t, "localhost:1883", s.MQTT.Broker)
	assert.Equal(t, 3*time.Second, s.WaitDevice)
	assert.False(t, s.VerifyReopen)
	assert.True(t, s.Log.Debug)

	cfg, err := s.SessionConfig()
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.PreTriggerCount(2))
}

func TestFlags_OverrideConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("trigger:\n  source: line0\n  activation: low\nbuffers: 3\n"), 0o644))

	var got *config.Settings
	cmd := newRootCmd(func(_ *cobra.Command, s *config.Settings) error {
		got = s
		return nil
	})
	cmd.SetArgs([]string{"--config", path, "--software", "--buffers", "5"})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, "software", got.Trigger.Source)
	assert.Equal(t, "low", got.Trigger.Activation, "file value kept without a flag")
	assert.Equal(t, 5, got.Buffers)
}

func TestFlags_InvalidSettings(t *testing.T) {
	_, err := resolve(t, "--sink", "s3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output.sink")

	_, err = resolve(t, "--buffers", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "buffers")
}

func TestFlags_HelpListsGroups(t *testing.T) {
	cmd := newRootCmd(func(*cobra.Command, *config.Settings) error { return nil })
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--help"})
	require.NoError(t, cmd.Execute())

	help := out.String()
	for _, name := range []string{"--software", "--line0", "--line1", "--rising", "--falling", "--any", "--high", "--low"} {
		assert.True(t, strings.Contains(help, name), "help mentions %s", name)
	}
}

func TestPrintReport(t *testing.T) {
	var out bytes.Buffer
	s := config.DefaultSettings()
	r := &triggercapture.Report{
		SessionID: "sess-1",
		Stats: triggercapture.SessionStats{
			Resolution:     "1280x720 BX24",
			FPSReported:    5,
			BuffersGranted: 4,
			PreTriggers:    3,
			FrameCount:     5,
		},
		Reopen: triggercapture.ReopenResult{Attempted: true, Duration: time.Second},
	}
	printReport(&out, r, 5, 3*time.Second, &s)

	text := out.String()
	assert.Contains(t, text, "sess-1")
	assert.Contains(t, text, "1280x720 BX24 5.00 fps")
	assert.Contains(t, text, "Frames Saved:       5 frames")
	assert.Contains(t, text, "Reopen Check:       ok (1s)")
}
