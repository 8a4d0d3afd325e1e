package triggercapture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/e7canasta/trigger-capture/internal/control"
	"github.com/google/uuid"
)

// errLoopStopped ends a would-block wait when cancellation is observed.
var errLoopStopped = errors.New("frame loop stopped")

// FrameLoop is the steady-state capture loop of a streaming session.
//
// Each iteration fires a software trigger on the operator's cue (software
// source) or simply waits for the hardware, dequeues one frame, hands it to
// the sink and requeues the buffer. Cancellation is sampled at the top of
// each iteration and while no frame is ready; a dequeued frame is always
// delivered and requeued.
type FrameLoop struct {
	pool     *BufferPool
	trigger  *TriggerController
	sink     FrameSink
	operator Operator
	observer Observer
	token    *CancelToken
	clock    Clock
	log      *slog.Logger
	stats    *sessionStats

	format       Format
	pollInterval time.Duration
	maxFrames    int

	seq  uint64
	last time.Time
}

func newFrameLoop(s *CaptureSession) *FrameLoop {
	return &FrameLoop{
		pool:         s.pool,
		trigger:      s.trigger,
		sink:         s.sink,
		operator:     s.operator,
		observer:     s.observer,
		token:        s.token,
		clock:        s.clock,
		log:          s.log,
		stats:        &s.stats,
		format:       s.Format(),
		pollInterval: s.cfg.PollInterval,
		maxFrames:    s.cfg.MaxFrames,
	}
}

// Frames returns the number of frames delivered so far.
func (l *FrameLoop) Frames() uint64 { return l.seq }

func (l *FrameLoop) stopped(ctx context.Context) bool {
	return l.token.Cancelled() || ctx.Err() != nil
}

// Run loops until cancellation, MaxFrames, or a fatal error. Cancellation
// and a closed operator input end the loop with a nil error.
func (l *FrameLoop) Run(ctx context.Context) error {
	software := l.trigger.Config().Source == SourceSoftware
	l.last = l.clock.Now()
	l.log.Info("trigger-capture: capture loop started",
		"source", l.trigger.Config().Source.String(),
		"max_frames", l.maxFrames,
	)

	for {
		if l.stopped(ctx) {
			l.log.Info("trigger-capture: capture loop cancelled", "frames", l.seq)
			return nil
		}
		if l.maxFrames > 0 && l.seq >= uint64(l.maxFrames) {
			l.log.Info("trigger-capture: frame limit reached", "frames", l.seq)
			return nil
		}

		if software {
			if err := l.operator.AwaitCue(ctx); err != nil {
				if l.stopped(ctx) {
					continue
				}
				if errors.Is(err, io.EOF) {
					l.log.Info("trigger-capture: operator input closed", "frames", l.seq)
					return nil
				}
				return fmt.Errorf("trigger-capture: operator cue: %w", err)
			}
			if err := l.trigger.FireSoftware(); err != nil {
				return err
			}
			l.stats.softwareTriggers.Add(1)
			l.observer.TriggerFired(TriggerSteady)
		} else {
			l.log.Info("trigger-capture: waiting for external trigger")
		}

		d, err := l.dequeue(ctx)
		if errors.Is(err, errLoopStopped) {
			continue
		}
		if err != nil {
			return err
		}

		l.deliver(d)
		if err := l.pool.Requeue(d.Index); err != nil {
			return err
		}
	}
}

// dequeue retries while the device would block, suspending in WaitReadable
// between attempts.
func (l *FrameLoop) dequeue(ctx context.Context) (control.Dequeued, error) {
	for {
		d, err := l.pool.Dequeue()
		if err == nil {
			return d, nil
		}
		if !errors.Is(err, ErrWouldBlock) {
			return control.Dequeued{}, err
		}

		l.stats.retries.Add(1)
		l.observer.DequeueRetried()
		if l.stopped(ctx) {
			return control.Dequeued{}, errLoopStopped
		}
		if _, err := l.pool.waitReady(l.pollInterval); err != nil {
			return control.Dequeued{}, bufferError("wait for frame", ErrDequeueFailed, err)
		}
	}
}

func (l *FrameLoop) deliver(d control.Dequeued) {
	now := l.clock.Now()
	interval := now.Sub(l.last)
	l.last = now
	l.seq++

	data := l.pool.Bytes(d.Index)[:d.BytesUsed]
	frame := Frame{
		Seq:             l.seq,
		Index:           d.Index,
		Timestamp:       now,
		Interval:        interval,
		DeviceSequence:  d.Sequence,
		DeviceTimestamp: d.Timestamp,
		Width:           int(l.format.Width),
		Height:          int(l.format.Height),
		PixelFormat:     l.format.PixelFormat,
		Data:            data,
		TraceID:         uuid.NewString(),
	}
	l.stats.recordFrame(now, interval, len(data))

	l.log.Info("trigger-capture: frame received",
		"seq", frame.Seq,
		"index", frame.Index,
		"bytes", len(data),
		"elapsed_ms", interval.Milliseconds(),
		"trace_id", frame.TraceID,
	)

	if err := l.sink.Consume(frame); err != nil {
		l.stats.sinkErrors.Add(1)
		l.log.Warn("trigger-capture: frame sink failed",
			"seq", frame.Seq,
			"trace_id", frame.TraceID,
			"error", err,
		)
	}
	l.observer.FrameCaptured(frame)
}
