package main

import (
	"fmt"
	"time"

	"github.com/e7canasta/trigger-capture/internal/config"
	"github.com/spf13/cobra"
)

// runFunc executes a capture with resolved settings.
type runFunc func(cmd *cobra.Command, s *config.Settings) error

func newRootCmd(run runFunc) *cobra.Command {
	source := &flagGroup{key: "trigger.source"}
	activation := &flagGroup{key: "trigger.activation"}
	var configFile string

	cmd := &cobra.Command{
		Use:   "trigger-capture [device]",
		Short: "Trigger-gated V4L2 capture with pre-trigger priming and reopen verification",
		Long: `trigger-capture opens a V4L2 camera in trigger mode, streams through
memory-mapped buffers and saves one frame per trigger. After stream-on the
driver pipeline is primed with buffers-1 software triggers (or the operator
is asked to apply them on the trigger line), and after teardown the device is
reopened to verify it was released.

The device defaults to /dev/video0. Within each flag group the last flag
given wins.`,
		Example: `  trigger-capture /dev/video0
  trigger-capture /dev/video2 --line0 --falling --max-frames 10
  trigger-capture --sink msgpack --output ./frames --metrics-addr :9464`,
		Version:       version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := config.NewViper(configFile)
			if err != nil {
				return err
			}
			if err := bindFlags(v, cmd.Flags()); err != nil {
				return err
			}
			source.apply(v)
			activation.apply(v)
			if len(args) == 1 {
				v.Set("device", args[0])
			}

			s, err := config.Load(v)
			if err != nil {
				return err
			}
			return run(cmd, s)
		},
	}

	d := config.DefaultSettings()
	fs := cmd.Flags()
	fs.SortFlags = false

	source.add(fs, "software", "software", "trigger from software (default)")
	source.add(fs, "line0", "line0", "trigger from hardware line 0")
	source.add(fs, "line1", "line1", "trigger from hardware line 1")
	activation.add(fs, "rising", "rising", "activate on the rising edge (default)")
	activation.add(fs, "falling", "falling", "activate on the falling edge")
	activation.add(fs, "any", "any", "activate on any edge")
	activation.add(fs, "high", "high", "activate on level high")
	activation.add(fs, "low", "low", "activate on level low")

	fs.StringVarP(&configFile, "config", "c", "", "config file (default ./trigger-capture.yaml or /etc/trigger-capture/trigger-capture.yaml)")
	fs.StringP("output", "o", d.Output.Dir, "directory for captured frames")
	fs.String("sink", d.Output.Sink, "frame sink: raw, msgpack or discard")
	fs.Int("buffers", d.Buffers, "buffers to request (1-32)")
	fs.Int("pre-triggers", d.PreTriggers, "pre-triggers after stream-on (-1 = buffers granted - 1)")
	fs.Duration("pre-trigger-interval", d.PreTriggerInterval, "pause after each pre-trigger")
	fs.Duration("stream-on-settle", d.StreamOnSettle, "pause between stream-on and pre-triggering")
	fs.Duration("reopen-settle", d.ReopenSettle, "pause between teardown and the reopen check")
	fs.Bool("no-reopen", false, "skip the reopen check after teardown")
	fs.Int("max-frames", d.MaxFrames, "stop after this many frames (0 = until interrupted)")
	fs.String("metrics-addr", d.Metrics.Addr, "serve /metrics and /healthz on this address")
	fs.String("mqtt-broker", d.MQTT.Broker, "publish session events to this MQTT broker")
	fs.String("mqtt-topic", d.MQTT.Topic, "MQTT topic prefix for session events")
	fs.Duration("wait-device", time.Duration(0), "wait up to this long for the device node to appear")
	fs.Bool("debug", false, "enable debug logging")
	fs.Bool("json-logs", false, "log as JSON")

	cmd.SetVersionTemplate(fmt.Sprintf("trigger-capture %s\n", version))
	return cmd
}
