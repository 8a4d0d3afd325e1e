package main

import (
	"fmt"
	"io"
	"time"

	triggercapture "github.com/e7canasta/trigger-capture"
	"github.com/e7canasta/trigger-capture/internal/config"
)

func printBanner(w io.Writer, s *config.Settings) {
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Fprintf(w, "║            Trigger Capture - V4L2 Trigger Test            ║\n")
	fmt.Fprintf(w, "║                      Version %s                       ║\n", version)
	fmt.Fprintf(w, "╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "Configuration:\n")
	fmt.Fprintf(w, "  Device:        %s\n", s.Device)
	fmt.Fprintf(w, "  Trigger:       %s / %s\n", s.Trigger.Source, s.Trigger.Activation)
	fmt.Fprintf(w, "  Buffers:       %d\n", s.Buffers)
	if s.PreTriggers == triggercapture.AutoPreTriggers {
		fmt.Fprintf(w, "  Pre-triggers:  buffers granted - 1\n")
	} else {
		fmt.Fprintf(w, "  Pre-triggers:  %d\n", s.PreTriggers)
	}
	if s.Output.Sink == config.SinkDiscard {
		fmt.Fprintf(w, "  Output:        (none - frames not saved)\n")
	} else {
		fmt.Fprintf(w, "  Output:        %s (%s)\n", s.Output.Dir, s.Output.Sink)
	}
	if s.MaxFrames > 0 {
		fmt.Fprintf(w, "  Max Frames:    %d\n", s.MaxFrames)
	} else {
		fmt.Fprintf(w, "  Max Frames:    unlimited\n")
	}
	if s.Metrics.Addr != "" {
		fmt.Fprintf(w, "  Metrics:       %s\n", s.Metrics.Addr)
	}
	if s.MQTT.Broker != "" {
		fmt.Fprintf(w, "  MQTT:          %s (%s/...)\n", s.MQTT.Broker, s.MQTT.Topic)
	}
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "Press Ctrl+C to stop gracefully\n")
	fmt.Fprintf(w, "═══════════════════════════════════════════════════════════\n\n")
}

func printReport(w io.Writer, r *triggercapture.Report, saved int, uptime time.Duration, s *config.Settings) {
	if r == nil {
		return
	}
	st := r.Stats
	iv := r.Intervals

	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(w, "                     Final Statistics                      \n")
	fmt.Fprintf(w, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(w, "  Session:            %s\n", r.SessionID)
	fmt.Fprintf(w, "  Total Uptime:       %s\n", uptime.Round(time.Second))
	if st.Resolution != "" {
		fmt.Fprintf(w, "  Format:             %s %.2f fps\n", st.Resolution, st.FPSReported)
	}
	fmt.Fprintf(w, "  Buffers Granted:    %d\n", st.BuffersGranted)
	fmt.Fprintf(w, "  Pre-triggers:       %d\n", st.PreTriggers)
	fmt.Fprintf(w, "  Frames Captured:    %d frames\n", st.FrameCount)
	if s.Output.Sink != config.SinkDiscard {
		fmt.Fprintf(w, "  Frames Saved:       %d frames\n", saved)
		fmt.Fprintf(w, "  Sink Errors:        %d\n", st.SinkErrors)
	}
	fmt.Fprintf(w, "  Bytes Delivered:    %.2f MB\n", float64(st.BytesDelivered)/1024/1024)
	fmt.Fprintf(w, "  Software Triggers:  %d\n", st.SoftwareTriggers)
	fmt.Fprintf(w, "  Dequeue Retries:    %d\n", st.DequeueRetries)
	if iv.Frames > 1 {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "  Interval Mean:      %.1f ms\n", st.IntervalMeanMS)
		fmt.Fprintf(w, "  Interval P95:       %.1f ms\n", st.IntervalP95MS)
		fmt.Fprintf(w, "  Interval Max:       %.1f ms\n", st.IntervalMaxMS)
		fmt.Fprintf(w, "  FPS Mean:           %.2f fps\n", iv.FPSMean)
		fmt.Fprintf(w, "  FPS Range:          %.2f - %.2f fps\n", iv.FPSMin, iv.FPSMax)
		fmt.Fprintf(w, "  Jitter Max:         %.3f s\n", iv.JitterMax)
		fmt.Fprintf(w, "  Steady:             %v\n", iv.IsSteady)
	}
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	switch {
	case !r.Reopen.Attempted:
		fmt.Fprintf(w, "  Reopen Check:       skipped\n")
	case r.Reopen.OK():
		fmt.Fprintf(w, "  Reopen Check:       ok (%s)\n", r.Reopen.Duration.Round(time.Millisecond))
	default:
		fmt.Fprintf(w, "  Reopen Check:       FAILED: %v\n", r.Reopen.Err)
	}
	fmt.Fprintf(w, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(w, "\n")
}
