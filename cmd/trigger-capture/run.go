package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	triggercapture "github.com/e7canasta/trigger-capture"
	"github.com/e7canasta/trigger-capture/internal/config"
	"github.com/e7canasta/trigger-capture/internal/devwatch"
	"github.com/e7canasta/trigger-capture/internal/events"
	"github.com/e7canasta/trigger-capture/internal/metrics"
	"github.com/e7canasta/trigger-capture/internal/operator"
	"github.com/e7canasta/trigger-capture/internal/sink"
	"github.com/e7canasta/trigger-capture/internal/v4l2"
)

// msgpackFile is the stream written by the msgpack sink.
const msgpackFile = "frames.msgpack"

func newLogger(w io.Writer, ls config.LogSettings) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if ls.Debug {
		opts.Level = slog.LevelDebug
	}
	if ls.JSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// frameSink is the configured sink and how to finish it.
type frameSink struct {
	triggercapture.FrameSink
	close   func() error
	written func() int
}

func openSink(s *config.Settings, sessionID string, logger *slog.Logger) (*frameSink, error) {
	switch s.Output.Sink {
	case config.SinkRaw:
		raw, err := sink.NewRawFileSink(s.Output.Dir, logger)
		if err != nil {
			return nil, err
		}
		raw.Describe(sessionID, s.Device)
		return &frameSink{FrameSink: raw, close: raw.Close, written: raw.Written}, nil

	case config.SinkMsgpack:
		if err := os.MkdirAll(s.Output.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("sink: create output dir: %w", err)
		}
		f, err := os.Create(filepath.Join(s.Output.Dir, msgpackFile))
		if err != nil {
			return nil, fmt.Errorf("sink: %w", err)
		}
		mp := sink.NewMsgpackSink(f)
		return &frameSink{FrameSink: mp, close: mp.Close, written: mp.Count}, nil

	default:
		return &frameSink{
			FrameSink: triggercapture.DiscardSink{},
			close:     func() error { return nil },
			written:   func() int { return 0 },
		}, nil
	}
}

func run(ctx context.Context, s *config.Settings, stdin io.Reader, stdout io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := newLogger(stdout, s.Log)
	slog.SetDefault(logger)

	cfg, err := s.SessionConfig()
	if err != nil {
		return err
	}
	printBanner(stdout, s)

	if s.WaitDevice > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, s.WaitDevice)
		err := devwatch.WaitForDevice(waitCtx, s.Device, devwatch.DefaultConfig(), logger)
		cancel()
		if err != nil {
			return fmt.Errorf("device %s did not appear within %s: %w", s.Device, s.WaitDevice, err)
		}
	}

	sessionID := uuid.NewString()
	out, err := openSink(s, sessionID, logger)
	if err != nil {
		return err
	}

	observers := []triggercapture.Observer{}

	if s.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		collector := metrics.NewCollector(reg)
		srv, err := metrics.Listen(s.Metrics.Addr, metrics.Handler(collector, reg), logger)
		if err != nil {
			_ = out.close()
			return fmt.Errorf("metrics: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		observers = append(observers, collector)
	}

	if s.MQTT.Broker != "" {
		clientID := s.MQTT.ClientID
		if clientID == "" {
			clientID = "trigger-capture-" + sessionID[:8]
		}
		pub := events.NewMQTTPublisher(events.MQTTConfig{Broker: s.MQTT.Broker, ClientID: clientID}, logger)
		if err := pub.Connect(ctx); err != nil {
			logger.Warn("trigger-capture: session events disabled", "error", err)
		} else {
			notifier := events.NewNotifier(pub, s.MQTT.Topic, sessionID, 256, logger)
			defer pub.Disconnect()
			defer notifier.Close()
			observers = append(observers, notifier)
		}
	}

	token := triggercapture.NewCancelToken()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			fmt.Fprintf(stdout, "\n\nReceived interrupt signal, shutting down...\n")
			token.Cancel()
		case <-token.Done():
		}
	}()
	defer token.Cancel()

	session, err := triggercapture.NewCaptureSession(cfg, v4l2.NewOpener(), out, token,
		triggercapture.WithLogger(logger),
		triggercapture.WithObserver(triggercapture.MultiObserver(observers...)),
		triggercapture.WithOperator(operator.NewTerminal(stdin, stdout)),
		triggercapture.WithSessionID(sessionID),
	)
	if err != nil {
		_ = out.close()
		return err
	}

	started := time.Now()
	report, runErr := session.Run(ctx)
	if err := out.close(); err != nil {
		logger.Error("trigger-capture: closing sink failed", "error", err)
	}
	printReport(stdout, report, out.written(), time.Since(started), s)

	if runErr != nil {
		return runErr
	}
	logger.Info("trigger-capture: capture completed successfully")
	return nil
}
