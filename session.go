package triggercapture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// State is the lifecycle state of a CaptureSession.
type State int

const (
	StateInit State = iota
	StateConfigured
	StateStreaming
	StateStopped
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateConfigured:
		return "configured"
	case StateStreaming:
		return "streaming"
	case StateStopped:
		return "stopped"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CaptureSession runs one trigger-gated capture against one device:
//
//	Init --Configure--> Configured --StreamOn--> Streaming --StreamOff--> Stopped --Close--> Closed
//
// Close is accepted from any state but Closed and first stops the stream if
// needed. A session is driven from a single goroutine; Stats and State may
// be read concurrently.
type CaptureSession struct {
	cfg      Config
	opener   Opener
	sink     FrameSink
	token    *CancelToken
	operator Operator
	observer Observer
	clock    Clock
	log      *slog.Logger
	id       string

	mu    sync.RWMutex
	state State

	device  *DeviceHandle
	pool    *BufferPool
	trigger *TriggerController
	granted int
	format  Format
	rate    FrameRate

	stats sessionStats
}

// Option customizes a CaptureSession.
type Option func(*CaptureSession)

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(s *CaptureSession) { s.log = l }
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(s *CaptureSession) { s.clock = c }
}

// WithObserver registers lifecycle hooks.
func WithObserver(o Observer) Option {
	return func(s *CaptureSession) { s.observer = o }
}

// WithOperator sets who paces software triggers and confirms hardware
// pre-triggers (default ImmediateOperator).
func WithOperator(op Operator) Option {
	return func(s *CaptureSession) { s.operator = op }
}

// WithSessionID overrides the generated session ID.
func WithSessionID(id string) Option {
	return func(s *CaptureSession) { s.id = id }
}

// NewCaptureSession validates cfg and returns a session in StateInit.
// token may be nil, in which case the session creates its own (see Token).
func NewCaptureSession(cfg Config, opener Opener, sink FrameSink, token *CancelToken, opts ...Option) (*CaptureSession, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opener == nil {
		return nil, fmt.Errorf("trigger-capture: device opener is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("trigger-capture: frame sink is required")
	}
	if token == nil {
		token = NewCancelToken()
	}

	s := &CaptureSession{
		cfg:      cfg,
		opener:   opener,
		sink:     sink,
		token:    token,
		operator: ImmediateOperator{},
		observer: NopObserver{},
		clock:    systemClock{},
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	if s.observer == nil {
		s.observer = NopObserver{}
	}
	if s.operator == nil {
		s.operator = ImmediateOperator{}
	}
	s.log = s.log.With("session_id", s.id)

	s.log.Info("trigger-capture: session created",
		"device", cfg.DevicePath,
		"source", cfg.Trigger.Source.String(),
		"activation", cfg.Trigger.Activation.String(),
		"buffers", cfg.BufferCount,
	)
	return s, nil
}

// ID returns the session ID.
func (s *CaptureSession) ID() string { return s.id }

// Token returns the cancellation token observed by the frame loop.
func (s *CaptureSession) Token() *CancelToken { return s.token }

// State returns the current lifecycle state.
func (s *CaptureSession) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *CaptureSession) setState(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()

	s.log.Debug("trigger-capture: state changed", "from", from.String(), "to", to.String())
	s.observer.StateChanged(from, to)
}

func (s *CaptureSession) expect(op string, want State) error {
	if got := s.State(); got != want {
		return fmt.Errorf("trigger-capture: %s: %w: %s (want %s)", op, ErrInvalidState, got, want)
	}
	return nil
}

// Configure opens the device and prepares it for streaming, in this order:
// capabilities, frame rate, format, buffers (request, map, queue), trigger
// (mode on, source, activation). Any failure aborts and releases what was
// acquired.
func (s *CaptureSession) Configure(ctx context.Context) (err error) {
	if err := s.expect("configure", StateInit); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			s.release()
		}
	}()

	dev, err := OpenDevice(s.opener, s.cfg.DevicePath, s.log)
	if err != nil {
		return err
	}
	s.device = dev

	if _, err := dev.QueryCapabilities(); err != nil {
		return err
	}
	s.log.Info("trigger-capture: device opened", "path", dev.Path(), "device", dev.Info())

	if err := dev.SetFrameRate(s.cfg.FrameRate); err != nil {
		s.log.Warn("trigger-capture: frame rate not applied", "error", err)
	}
	rate, err := dev.GetFrameRate()
	if err != nil {
		s.log.Warn("trigger-capture: frame rate unavailable", "error", err)
		rate = dev.FrameRate()
	}

	format, err := dev.NegotiateFormat(s.cfg.PixelFormat)
	if err != nil {
		return err
	}
	s.log.Info("trigger-capture: format negotiated",
		"format", fmt.Sprintf("%dx%d %s %.2ffps", format.Width, format.Height, format.PixelFormat, rate.FPS()),
		"size_image", format.SizeImage,
	)

	pool := NewBufferPool(dev.Surface(), s.log)
	s.pool = pool
	if err := pool.RequestBuffers(s.cfg.BufferCount); err != nil {
		return err
	}
	if err := pool.MapAll(); err != nil {
		return err
	}
	if err := pool.QueueInitial(); err != nil {
		return err
	}

	s.mu.Lock()
	s.format, s.rate, s.granted = format, rate, pool.Len()
	s.mu.Unlock()

	trig := NewTriggerController(dev.Surface(), s.log)
	if _, err := trig.Configure(s.cfg.Trigger); err != nil {
		return err
	}
	s.trigger = trig

	s.setState(StateConfigured)
	return nil
}

// StreamOn starts streaming. The driver owns every queued buffer from here.
func (s *CaptureSession) StreamOn() error {
	if err := s.expect("stream on", StateConfigured); err != nil {
		return err
	}
	if err := s.device.Surface().StreamOn(); err != nil {
		return deviceError("stream on", ErrDeviceIO, err)
	}
	s.pool.markStreaming(true)
	s.log.Info("trigger-capture: streaming started")
	s.setState(StateStreaming)
	return nil
}

// Prime runs the pre-trigger workaround: the driver only delivers frames
// once its buffer pipeline has been filled. After the stream-on settle it
// fires PreTriggers software triggers, or asks the operator to apply the
// hardware equivalent. Cancellation during priming is not an error.
func (s *CaptureSession) Prime(ctx context.Context) error {
	if err := s.expect("prime", StateStreaming); err != nil {
		return err
	}
	if s.clock.Sleep(ctx, s.cfg.StreamOnSettle) != nil {
		return nil
	}

	if s.trigger.Config().Source != SourceSoftware {
		s.log.Info("trigger-capture: waiting for hardware pre-triggers",
			"source", s.trigger.Config().Source.String(),
			"count", s.granted,
		)
		err := s.operator.ConfirmExternal(ctx, s.granted)
		if err != nil && ctx.Err() == nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("trigger-capture: operator confirmation: %w", err)
		}
		return nil
	}

	n := s.cfg.PreTriggerCount(s.granted)
	s.log.Info("trigger-capture: pre-triggering", "count", n, "interval", s.cfg.PreTriggerInterval)
	for i := 0; i < n; i++ {
		if s.token.Cancelled() {
			return nil
		}
		if err := s.trigger.FireSoftware(); err != nil {
			return err
		}
		s.stats.preTriggers.Add(1)
		s.observer.TriggerFired(TriggerPre)
		s.log.Debug("trigger-capture: pre-trigger fired", "n", i+1, "of", n)
		if s.clock.Sleep(ctx, s.cfg.PreTriggerInterval) != nil {
			return nil
		}
	}
	return nil
}

// FrameLoop returns the loop for a streaming session.
func (s *CaptureSession) FrameLoop() (*FrameLoop, error) {
	if err := s.expect("frame loop", StateStreaming); err != nil {
		return nil, err
	}
	return newFrameLoop(s), nil
}

// StreamOff stops streaming and returns every buffer to the application.
func (s *CaptureSession) StreamOff() error {
	if err := s.expect("stream off", StateStreaming); err != nil {
		return err
	}
	if err := s.device.Surface().StreamOff(); err != nil {
		return deviceError("stream off", ErrDeviceIO, err)
	}
	s.pool.markStreaming(false)
	s.log.Info("trigger-capture: streaming stopped")
	s.setState(StateStopped)
	return nil
}

// Close tears the session down (stream off if needed, unmap and free
// buffers, close the device) and then runs the reopen verification when
// enabled. The reopen outcome is reported separately and never turns a clean
// teardown into an error.
func (s *CaptureSession) Close(ctx context.Context) (ReopenResult, error) {
	if s.State() == StateClosed {
		return ReopenResult{}, fmt.Errorf("trigger-capture: close: %w: already closed", ErrInvalidState)
	}
	opened := s.device != nil
	err := s.teardown()

	var reopen ReopenResult
	if s.cfg.VerifyReopen && opened {
		reopen = s.verifyReopen(ctx)
	}
	return reopen, err
}

func (s *CaptureSession) teardown() error {
	var errs []error
	if s.State() == StateStreaming {
		if err := s.StreamOff(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.release(); err != nil {
		errs = append(errs, err)
	}
	if s.State() != StateClosed {
		s.setState(StateClosed)
	}
	return errors.Join(errs...)
}

// release unmaps buffers and closes the device, whatever was acquired.
func (s *CaptureSession) release() error {
	var errs []error
	if s.pool != nil {
		if err := s.pool.UnmapAndFree(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.device != nil && !s.device.Closed() {
		if err := s.device.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// verifyReopen checks the driver released the device by opening it again
// after a settle delay and holding it briefly.
func (s *CaptureSession) verifyReopen(ctx context.Context) ReopenResult {
	start := s.clock.Now()
	result := ReopenResult{}
	defer func() {
		s.observer.ReopenVerified(result)
	}()

	if err := s.clock.Sleep(ctx, s.cfg.ReopenSettle); err != nil {
		result.Err = err
		return result
	}

	result.Attempted = true
	surface, err := s.opener.Open(s.cfg.DevicePath)
	if err != nil {
		result.Err = deviceError("reopen", ErrCannotOpen, err)
		result.Duration = s.clock.Now().Sub(start)
		s.log.Error("trigger-capture: reopen verification failed", "error", result.Err)
		return result
	}

	holdErr := s.clock.Sleep(ctx, s.cfg.ReopenHold)
	if err := surface.Close(); err != nil {
		result.Err = deviceError("reopen close", ErrDeviceIO, err)
	} else if holdErr != nil {
		result.Err = holdErr
	}
	result.Duration = s.clock.Now().Sub(start)

	if result.Err != nil {
		s.log.Error("trigger-capture: reopen verification failed", "error", result.Err)
	} else {
		s.log.Info("trigger-capture: reopen verification passed", "duration", result.Duration)
	}
	return result
}

// Run drives the whole session: Configure, StreamOn, Prime, the frame loop
// until cancellation or MaxFrames, then Close with reopen verification.
//
// A fatal error tears the session down without the reopen pass and is
// returned. Cancellation (token or ctx) ends the loop normally.
func (s *CaptureSession) Run(ctx context.Context) (*Report, error) {
	runCtx, cancel := s.token.Context(ctx)
	defer cancel()

	if err := s.Configure(runCtx); err != nil {
		s.setState(StateClosed)
		return s.report(ReopenResult{}), err
	}

	if err := s.capture(runCtx); err != nil {
		if terr := s.teardown(); terr != nil {
			s.log.Warn("trigger-capture: teardown after failure", "error", terr)
		}
		return s.report(ReopenResult{}), err
	}

	// The reopen pass uses the caller's ctx: a cancelled token still gets
	// verified.
	reopen, err := s.Close(ctx)
	report := s.report(reopen)
	s.log.Info("trigger-capture: session finished",
		"frames", report.Stats.FrameCount,
		"bytes", report.Stats.BytesDelivered,
		"dequeue_retries", report.Stats.DequeueRetries,
		"reopen_ok", reopen.OK(),
	)
	return report, err
}

func (s *CaptureSession) capture(ctx context.Context) error {
	if err := s.StreamOn(); err != nil {
		return err
	}
	if err := s.Prime(ctx); err != nil {
		return err
	}
	loop, err := s.FrameLoop()
	if err != nil {
		return err
	}
	return loop.Run(ctx)
}

func (s *CaptureSession) report(reopen ReopenResult) *Report {
	return &Report{
		SessionID: s.id,
		Stats:     s.Stats(),
		Intervals: s.stats.summary(),
		Reopen:    reopen,
	}
}

// Stats returns a snapshot of the session counters.
func (s *CaptureSession) Stats() SessionStats {
	s.mu.RLock()
	out := SessionStats{
		SessionID:      s.id,
		State:          s.state,
		BuffersGranted: s.granted,
		FPSReported:    s.rate.FPS(),
	}
	if s.format.Width > 0 {
		out.Resolution = s.format.String()
	}
	s.mu.RUnlock()

	s.stats.fill(&out)
	return out
}

// Format returns the negotiated format (zero before Configure).
func (s *CaptureSession) Format() Format {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.format
}

// Pool exposes the buffer pool for inspection; nil before Configure.
func (s *CaptureSession) Pool() *BufferPool { return s.pool }

// Trigger exposes the trigger controller; nil before Configure succeeds.
func (s *CaptureSession) Trigger() *TriggerController { return s.trigger }
